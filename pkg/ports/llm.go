package ports

import "context"

// CompletionRequest is a single-turn prompt to an LLM
type CompletionRequest struct {
	Model       string
	System      string
	Prompt      string
	MaxTokens   int
	Temperature float64
}

// CompletionResponse is the model's text reply
type CompletionResponse struct {
	Model        string
	Content      string
	StopReason   string
	InputTokens  int
	OutputTokens int
}

// LLMClient sends prompts to a language model
type LLMClient interface {
	Complete(ctx context.Context, req *CompletionRequest) (*CompletionResponse, error)
}
