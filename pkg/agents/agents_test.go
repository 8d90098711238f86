package agents

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/agentgraph/pkg/adapters/metrics/noop"
	"github.com/aescanero/agentgraph/pkg/adapters/tools/local"
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

type stubLLM struct {
	lastPrompt string
}

func (s *stubLLM) Complete(ctx context.Context, req *ports.CompletionRequest) (*ports.CompletionResponse, error) {
	s.lastPrompt = req.Prompt
	return &ports.CompletionResponse{Model: req.Model, Content: "done"}, nil
}

func TestRegistry(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, RegisterBuiltins(r, nil, "", 0))
	assert.Equal(t, []string{ChartGeneratorType, DataFetcherType, TextProcessorType}, r.Types())

	_, ok := r.Lookup(LLMPromptType)
	assert.False(t, ok)

	assert.Error(t, r.Register(TextProcessorType, NewTextProcessorAgent))
	assert.Error(t, r.Register("", NewTextProcessorAgent))
	assert.Error(t, r.Register("x", nil))

	r2 := NewRegistry()
	require.NoError(t, RegisterBuiltins(r2, &stubLLM{}, "m", 100))
	_, ok = r2.Lookup(LLMPromptType)
	assert.True(t, ok)
}

func execCtx(t *testing.T) *ports.ExecutionContext {
	return &ports.ExecutionContext{
		TaskID:  "t",
		NodeID:  "n",
		Attempt: 1,
		Tools:   local.NewDefaultRegistry(noop.NewCollector(), zaptest.NewLogger(t)),
		Logger:  zaptest.NewLogger(t),
	}
}

func TestTextProcessorAgentUsesUpstreamText(t *testing.T) {
	a := NewTextProcessorAgent()
	require.NoError(t, a.Initialize(context.Background(), map[string]interface{}{"operation": "sentiment"}))

	input := &domain.AgentInput{Upstream: map[string]*domain.AgentResult{
		"fetch": {Output: map[string]interface{}{"data": "what a great day"}},
	}}
	res, err := a.Execute(context.Background(), input, execCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "positive", res.Output["result"].(map[string]interface{})["sentiment"])
}

func TestTextProcessorAgentWithoutTextIsFatal(t *testing.T) {
	a := NewTextProcessorAgent()
	require.NoError(t, a.Initialize(context.Background(), nil))
	_, err := a.Execute(context.Background(), &domain.AgentInput{}, execCtx(t))

	var info *domain.ErrorInfo
	require.True(t, errors.As(err, &info))
	assert.Equal(t, domain.KindFatal, info.Kind)
}

func TestChartAgentProducesArtifact(t *testing.T) {
	a := NewChartGeneratorAgent()
	require.NoError(t, a.Initialize(context.Background(), map[string]interface{}{"chart_type": "line"}))

	input := &domain.AgentInput{Upstream: map[string]*domain.AgentResult{
		"fetch": {Output: map[string]interface{}{"data": map[string]interface{}{"values": []interface{}{1.0, 2.0}}}},
	}}
	res, err := a.Execute(context.Background(), input, execCtx(t))
	require.NoError(t, err)
	require.Len(t, res.Artifacts, 1)
	assert.Contains(t, string(res.Artifacts[0]), "<svg")
}

func TestLLMPromptAgentAppendsUpstream(t *testing.T) {
	llm := &stubLLM{}
	a := NewLLMPromptAgent(llm, "m", 10)
	require.Error(t, a.Initialize(context.Background(), map[string]interface{}{}))
	require.NoError(t, a.Initialize(context.Background(), map[string]interface{}{"prompt": "Summarize"}))

	res, err := a.Execute(context.Background(), &domain.AgentInput{Upstream: map[string]*domain.AgentResult{
		"a": {Output: map[string]interface{}{"summary": "short"}},
	}}, execCtx(t))
	require.NoError(t, err)
	assert.Equal(t, "done", res.Output["text"])
	assert.Contains(t, llm.lastPrompt, "Summarize")
	assert.Contains(t, llm.lastPrompt, `"summary": "short"`)
}
