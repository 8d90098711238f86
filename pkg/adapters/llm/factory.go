package llm

import (
	"fmt"
	"time"

	"github.com/anthropics/anthropic-sdk-go/option"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/adapters/llm/anthropic"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// Config holds LLM client configuration
type Config struct {
	Provider       string
	APIKey         string
	DefaultModel   string
	RequestTimeout time.Duration
	Metrics        ports.MetricsCollector
	Logger         *zap.Logger
}

// NewClient creates a new LLM client based on provider
func NewClient(cfg *Config) (ports.LLMClient, error) {
	switch cfg.Provider {
	case "anthropic":
		var opts []option.RequestOption
		if cfg.RequestTimeout > 0 {
			opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
		}
		return anthropic.NewClient(cfg.APIKey, cfg.DefaultModel, cfg.Metrics, cfg.Logger, opts...)
	default:
		return nil, fmt.Errorf("unsupported LLM provider: %s", cfg.Provider)
	}
}
