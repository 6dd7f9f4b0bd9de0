package anthropic

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// MockClient implements Client for testing.
type MockClient struct {
	mock.Mock
}

func (m *MockClient) CreateMessage(ctx context.Context, req MessageRequest) (*MessageResponse, error) {
	args := m.Called(ctx, req)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*MessageResponse), args.Error(1)
}

func TestMessageResponseText(t *testing.T) {
	resp := &MessageResponse{Content: []ContentBlock{
		{Type: "text", Text: "first "},
		{Type: "tool_use", Text: "ignored"},
		{Type: "text", Text: "second"},
	}}
	assert.Equal(t, "first second", resp.Text())
}

func TestEstimateCost(t *testing.T) {
	usage := TokenUsage{
		InputTokens:  1_000_000,
		OutputTokens: 1_000_000,
	}
	assert.InDelta(t, 18.0, usage.EstimateCost("claude-sonnet-4-5-20250929"), 0.001)
	assert.Equal(t, 0.0, usage.EstimateCost("unknown-model"))
}

func TestEstimateCostCacheTokens(t *testing.T) {
	usage := TokenUsage{
		CacheCreationInputTokens: 1_000_000,
		CacheReadInputTokens:     1_000_000,
	}
	// write at 1.25x input rate, read at 0.1x
	assert.InDelta(t, 3.0*1.25+3.0*0.1, usage.EstimateCost("claude-sonnet-4-5-20250929"), 0.001)
}

func TestBuildCachedSystemBlocks(t *testing.T) {
	blocks := BuildCachedSystemBlocks("you are a research planner")
	require.Len(t, blocks, 1)
	assert.Equal(t, "you are a research planner", blocks[0].Text)
	require.NotNil(t, blocks[0].CacheControl)
	assert.Equal(t, "1h", blocks[0].CacheControl.TTL)
}

func TestMockClientRoundTrip(t *testing.T) {
	m := new(MockClient)
	req := MessageRequest{Model: "claude-haiku-4-5-20251001", MaxTokens: 512}
	m.On("CreateMessage", mock.Anything, req).Return(&MessageResponse{
		ID:      "msg-1",
		Content: []ContentBlock{{Type: "text", Text: "plan"}},
	}, nil)

	resp, err := m.CreateMessage(context.Background(), req)
	require.NoError(t, err)
	assert.Equal(t, "plan", resp.Text())
	m.AssertExpectations(t)
}
