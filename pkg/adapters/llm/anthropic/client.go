// Package anthropic implements ports.LLMClient on the Anthropic Messages API.
package anthropic

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

const defaultMaxTokens = 1024

// Client wraps the Anthropic SDK
type Client struct {
	inner   anthropic.Client
	model   string
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

// NewClient creates a client. apiKey is required.
func NewClient(apiKey, model string, metrics ports.MetricsCollector, logger *zap.Logger, opts ...option.RequestOption) (*Client, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("anthropic API key is required")
	}
	if model == "" {
		return nil, fmt.Errorf("anthropic default model is required")
	}

	opts = append([]option.RequestOption{option.WithAPIKey(apiKey)}, opts...)
	return &Client{
		inner:   anthropic.NewClient(opts...),
		model:   model,
		metrics: metrics,
		logger:  logger,
	}, nil
}

// Complete sends a single user prompt and returns the concatenated text reply.
// Rate limiting and server errors are reported as transient.
func (c *Client) Complete(ctx context.Context, req *ports.CompletionRequest) (*ports.CompletionResponse, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens <= 0 {
		maxTokens = defaultMaxTokens
	}

	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(model),
		MaxTokens: int64(maxTokens),
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(req.Prompt)),
		},
	}
	if req.System != "" {
		params.System = []anthropic.TextBlockParam{{Text: req.System}}
	}
	if req.Temperature > 0 {
		params.Temperature = anthropic.Float(req.Temperature)
	}

	start := time.Now()
	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		c.logger.Warn("anthropic request failed", zap.String("model", model), zap.Error(err))
		return nil, classify(err)
	}

	var text strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			text.WriteString(block.Text)
		}
	}

	out := &ports.CompletionResponse{
		Model:        string(resp.Model),
		Content:      text.String(),
		StopReason:   string(resp.StopReason),
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	if c.metrics != nil {
		c.metrics.RecordLLMCall(model, out.InputTokens, out.OutputTokens, time.Since(start))
	}
	return out, nil
}

func classify(err error) error {
	if errors.Is(err, context.Canceled) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return domain.TimeoutError("anthropic: %v", err)
	}

	var apiErr *anthropic.Error
	if errors.As(err, &apiErr) {
		switch {
		case apiErr.StatusCode == http.StatusTooManyRequests,
			apiErr.StatusCode == http.StatusRequestTimeout,
			apiErr.StatusCode >= 500:
			return domain.Transient("anthropic: HTTP %d: %v", apiErr.StatusCode, err)
		default:
			return domain.Fatal("anthropic: HTTP %d: %v", apiErr.StatusCode, err)
		}
	}
	// transport level failures
	return domain.Transient("anthropic: %v", err)
}
