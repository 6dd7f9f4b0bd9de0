package research

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/open-justice/intervention-graph/internal/resilience"
	"github.com/open-justice/intervention-graph/pkg/anthropic"
)

var testToolNames = []string{"search_interventions", "list_evidence", "score_intervention", "community_context"}

func TestStaticPlannerDepthOne(t *testing.T) {
	steps, err := StaticPlanner{}.Plan(context.Background(),
		&Session{Query: "bail support", Depth: 1}, testToolNames)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "search_interventions", steps[0].Tool)
	assert.Equal(t, "bail support", steps[0].Query)
}

func TestStaticPlannerDeeperSessionsAddContext(t *testing.T) {
	steps, err := StaticPlanner{}.Plan(context.Background(),
		&Session{Query: "bail support", Depth: 3}, testToolNames)
	require.NoError(t, err)
	require.Len(t, steps, 2)
	assert.Equal(t, "community_context", steps[1].Tool)
}

func TestParsePlan(t *testing.T) {
	text := `Here is the plan:
[{"tool": "search_interventions", "query": "healing circles"},
 {"tool": "made_up_tool", "query": "x"},
 {"tool": "community_context", "query": "NT"}]`

	steps, err := parsePlan(text, testToolNames)
	require.NoError(t, err)
	require.Len(t, steps, 2, "unknown tools are dropped")
	assert.Equal(t, "search_interventions", steps[0].Tool)
	assert.Equal(t, "community_context", steps[1].Tool)
}

func TestParsePlanRejectsGarbage(t *testing.T) {
	_, err := parsePlan("no json here", testToolNames)
	assert.Error(t, err)

	_, err = parsePlan(`[{"tool": "made_up", "query": "x"}]`, testToolNames)
	assert.Error(t, err, "a plan with zero usable steps is unusable")
}

type stubAnthropicClient struct {
	resp *anthropic.MessageResponse
	err  error

	calls     int
	failWith  error // returned until failUntil calls have been made
	failUntil int
}

func (c *stubAnthropicClient) CreateMessage(ctx context.Context, req anthropic.MessageRequest) (*anthropic.MessageResponse, error) {
	c.calls++
	if c.failWith != nil && c.calls <= c.failUntil {
		return nil, c.failWith
	}
	return c.resp, c.err
}

func TestClaudePlannerUsesModelOutput(t *testing.T) {
	client := &stubAnthropicClient{resp: &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{
			Type: "text",
			Text: `[{"tool": "search_interventions", "query": "night patrols"}]`,
		}},
	}}
	planner := NewClaudePlanner(client, "claude-haiku-4-5-20251001")

	steps, err := planner.Plan(context.Background(),
		&Session{ID: "s1", Query: "night patrols", Depth: 1}, testToolNames)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, "night patrols", steps[0].Query)
}

func TestClaudePlannerFallsBackOnError(t *testing.T) {
	client := &stubAnthropicClient{err: errors.New("invalid_request_error")}
	planner := NewClaudePlanner(client, "claude-haiku-4-5-20251001")

	steps, err := planner.Plan(context.Background(),
		&Session{ID: "s1", Query: "night patrols", Depth: 1}, testToolNames)
	require.NoError(t, err, "planner failure is not a session failure")
	require.Len(t, steps, 1)
	assert.Equal(t, "search_interventions", steps[0].Tool)
}

func TestClaudePlannerRetriesTransientFailures(t *testing.T) {
	client := &stubAnthropicClient{
		resp: &anthropic.MessageResponse{
			Content: []anthropic.ContentBlock{{
				Type: "text",
				Text: `[{"tool": "search_interventions", "query": "night patrols"}]`,
			}},
		},
		failWith:  resilience.NewTransientError(errors.New("overloaded"), 529),
		failUntil: 1,
	}
	planner := NewClaudePlanner(client, "claude-haiku-4-5-20251001")
	planner.retry.InitialBackoff = time.Millisecond

	steps, err := planner.Plan(context.Background(),
		&Session{ID: "s1", Query: "night patrols", Depth: 1}, testToolNames)
	require.NoError(t, err)
	require.Len(t, steps, 1)
	assert.Equal(t, 2, client.calls, "transient failure retried once")
}

func TestClaudePlannerFallsBackOnUnusableOutput(t *testing.T) {
	client := &stubAnthropicClient{resp: &anthropic.MessageResponse{
		Content: []anthropic.ContentBlock{{Type: "text", Text: "I cannot plan this."}},
	}}
	planner := NewClaudePlanner(client, "claude-haiku-4-5-20251001")

	steps, err := planner.Plan(context.Background(),
		&Session{ID: "s1", Query: "night patrols", Depth: 2}, testToolNames)
	require.NoError(t, err)
	assert.NotEmpty(t, steps)
}
