package agents

import (
	"context"
	"encoding/json"
	"strings"

	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

const LLMPromptType = "llm_prompt"

// LLMPromptAgent sends a prompt, followed by the upstream results as JSON,
// to a language model and returns the reply as "text".
type LLMPromptAgent struct {
	client    ports.LLMClient
	model     string
	maxTokens int

	prompt      string
	system      string
	temperature float64
}

// NewLLMPromptAgent creates the agent with default model settings
func NewLLMPromptAgent(client ports.LLMClient, model string, maxTokens int) *LLMPromptAgent {
	return &LLMPromptAgent{client: client, model: model, maxTokens: maxTokens}
}

func (a *LLMPromptAgent) Initialize(ctx context.Context, config map[string]interface{}) error {
	a.prompt = stringValue(config, "prompt")
	a.system = stringValue(config, "system")
	if m := stringValue(config, "model"); m != "" {
		a.model = m
	}
	if v, ok := config["max_tokens"].(float64); ok && v > 0 {
		a.maxTokens = int(v)
	}
	if v, ok := config["max_tokens"].(int); ok && v > 0 {
		a.maxTokens = v
	}
	if v, ok := config["temperature"].(float64); ok {
		a.temperature = v
	}
	if a.prompt == "" {
		return domain.Fatal("llm_prompt: prompt is required")
	}
	return nil
}

func (a *LLMPromptAgent) Execute(ctx context.Context, input *domain.AgentInput, execCtx *ports.ExecutionContext) (*domain.AgentResult, error) {
	var prompt strings.Builder
	prompt.WriteString(a.prompt)

	if input != nil && len(input.Upstream) > 0 {
		upstream := make(map[string]interface{}, len(input.Upstream))
		for id, res := range input.Upstream {
			if res != nil {
				upstream[id] = res.Output
			}
		}
		raw, err := json.MarshalIndent(upstream, "", "  ")
		if err != nil {
			return nil, domain.Fatal("llm_prompt: encode upstream results: %v", err)
		}
		prompt.WriteString("\n\nUpstream results:\n")
		prompt.Write(raw)
	}

	resp, err := a.client.Complete(ctx, &ports.CompletionRequest{
		Model:       a.model,
		System:      a.system,
		Prompt:      prompt.String(),
		MaxTokens:   a.maxTokens,
		Temperature: a.temperature,
	})
	if err != nil {
		return nil, err
	}

	return &domain.AgentResult{Output: map[string]interface{}{
		"text":          resp.Content,
		"model":         resp.Model,
		"stop_reason":   resp.StopReason,
		"input_tokens":  resp.InputTokens,
		"output_tokens": resp.OutputTokens,
	}}, nil
}

func (a *LLMPromptAgent) Shutdown(ctx context.Context) error { return nil }

func stringValue(config map[string]interface{}, key string) string {
	s, _ := config[key].(string)
	return s
}
