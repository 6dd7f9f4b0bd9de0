package research

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/open-justice/intervention-graph/internal/resilience"
	"github.com/open-justice/intervention-graph/pkg/anthropic"
)

// Planner turns a session's query and depth into an ordered list of tool
// steps.
type Planner interface {
	Plan(ctx context.Context, sess *Session, toolNames []string) ([]PlanStep, error)
}

// StaticPlanner derives a fixed plan from the session depth without any
// model call. It is the fallback when no API key is configured.
type StaticPlanner struct{}

// Plan emits a search step, then per-depth follow-ups over the other tools.
func (StaticPlanner) Plan(ctx context.Context, sess *Session, toolNames []string) ([]PlanStep, error) {
	steps := []PlanStep{{Tool: "search_interventions", Query: sess.Query}}
	followups := []string{"community_context"}
	for i := 1; i < sess.Depth && i-1 < len(followups); i++ {
		steps = append(steps, PlanStep{Tool: followups[i-1], Query: sess.Query})
	}
	return steps, nil
}

const plannerSystemPrompt = `You plan research over a knowledge base of youth-justice
interventions. Given a research question and a list of available tools, reply with a
JSON array of steps, each {"tool": "<tool name>", "query": "<tool input>"}. Tools that
take an intervention id cannot be planned before a search step has found ids; in that
case keep to search and context tools. Reply with the JSON array only.`

// ClaudePlanner generates plans with a model call, falling back to the
// static planner when the call or its output is unusable. Planner failure is
// never a session failure.
type ClaudePlanner struct {
	client    anthropic.Client
	model     string
	maxTokens int64
	retry     resilience.RetryConfig
	breaker   *resilience.CircuitBreaker
	fallback  StaticPlanner
}

// NewClaudePlanner creates a ClaudePlanner for the given model.
func NewClaudePlanner(client anthropic.Client, model string) *ClaudePlanner {
	retry := resilience.DefaultRetryConfig()
	retry.OnRetry = resilience.RetryLogger("anthropic", "plan")
	return &ClaudePlanner{
		client:    client,
		model:     model,
		maxTokens: 1024,
		retry:     retry,
		breaker: resilience.NewCircuitBreaker(resilience.CircuitBreakerConfig{
			ShouldTrip: resilience.IsTransient,
		}),
	}
}

func (p *ClaudePlanner) Plan(ctx context.Context, sess *Session, toolNames []string) ([]PlanStep, error) {
	resp, err := resilience.DoVal(ctx, p.retry, func(ctx context.Context) (*anthropic.MessageResponse, error) {
		var resp *anthropic.MessageResponse
		err := p.breaker.Execute(ctx, func(ctx context.Context) error {
			var callErr error
			resp, callErr = p.client.CreateMessage(ctx, anthropic.MessageRequest{
				Model:     p.model,
				MaxTokens: p.maxTokens,
				System:    anthropic.BuildCachedSystemBlocks(plannerSystemPrompt),
				Messages: []anthropic.Message{{
					Role: "user",
					Content: fmt.Sprintf("Question: %s\nDepth: %d\nTools: %s",
						sess.Query, sess.Depth, strings.Join(toolNames, ", ")),
				}},
			})
			return callErr
		})
		return resp, err
	})
	if err != nil {
		zap.L().Warn("planner model call failed, using static plan",
			zap.String("session_id", sess.ID), zap.Error(err))
		return p.fallback.Plan(ctx, sess, toolNames)
	}
	resp.Usage.LogCost(p.model, "planning")

	steps, err := parsePlan(resp.Text(), toolNames)
	if err != nil {
		zap.L().Warn("planner output unusable, using static plan",
			zap.String("session_id", sess.ID), zap.Error(err))
		return p.fallback.Plan(ctx, sess, toolNames)
	}
	if len(steps) > sess.Depth*2 {
		steps = steps[:sess.Depth*2]
	}
	return steps, nil
}

// parsePlan extracts the JSON step array from model output and drops steps
// naming unknown tools.
func parsePlan(text string, toolNames []string) ([]PlanStep, error) {
	start := strings.Index(text, "[")
	end := strings.LastIndex(text, "]")
	if start < 0 || end <= start {
		return nil, eris.New("no JSON array in plan output")
	}

	var steps []PlanStep
	if err := json.Unmarshal([]byte(text[start:end+1]), &steps); err != nil {
		return nil, eris.Wrap(err, "parse plan steps")
	}

	known := map[string]bool{}
	for _, n := range toolNames {
		known[n] = true
	}
	kept := steps[:0]
	for _, s := range steps {
		if known[s.Tool] && s.Query != "" {
			kept = append(kept, s)
		}
	}
	if len(kept) == 0 {
		return nil, eris.New("plan contains no usable steps")
	}
	return kept, nil
}
