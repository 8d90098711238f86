// Package local provides the in-process tool system agents call through the
// ToolInvoker hook.
package local

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// Tool is a single named capability
type Tool interface {
	Name() string
	Description() string
	Execute(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)
}

// Registry implements ports.ToolInvoker over a set of in-process tools
type Registry struct {
	mu      sync.RWMutex
	tools   map[string]Tool
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(metrics ports.MetricsCollector, logger *zap.Logger) *Registry {
	return &Registry{
		tools:   make(map[string]Tool),
		metrics: metrics,
		logger:  logger,
	}
}

// NewDefaultRegistry creates a registry holding the built-in tools
func NewDefaultRegistry(metrics ports.MetricsCollector, logger *zap.Logger) *Registry {
	r := NewRegistry(metrics, logger)
	for _, t := range []Tool{NewTextProcessor(), NewDataFetcher(nil), NewChartGenerator()} {
		_ = r.Register(t)
	}
	return r
}

// Register adds a tool. Names must be unique.
func (r *Registry) Register(t Tool) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if t.Name() == "" {
		return fmt.Errorf("tool name is required")
	}
	if _, exists := r.tools[t.Name()]; exists {
		return fmt.Errorf("tool %q already registered", t.Name())
	}
	r.tools[t.Name()] = t
	return nil
}

// Invoke runs a tool by name
func (r *Registry) Invoke(ctx context.Context, name string, params map[string]interface{}) (map[string]interface{}, error) {
	r.mu.RLock()
	t, ok := r.tools[name]
	r.mu.RUnlock()
	if !ok {
		return nil, domain.Fatal("unknown tool %q", name)
	}

	start := time.Now()
	out, err := t.Execute(ctx, params)
	duration := time.Since(start)
	r.metrics.RecordToolCall(name, err != nil, duration)

	if err != nil {
		r.logger.Warn("tool execution failed",
			zap.String("tool", name),
			zap.Duration("duration", duration),
			zap.Error(err))
		return nil, err
	}

	r.logger.Debug("tool executed",
		zap.String("tool", name),
		zap.Duration("duration", duration))
	return out, nil
}

// Tools lists registered tools sorted by name
func (r *Registry) Tools() []ports.ToolInfo {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]ports.ToolInfo, 0, len(r.tools))
	for _, t := range r.tools {
		out = append(out, ports.ToolInfo{Name: t.Name(), Description: t.Description()})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

func stringParam(params map[string]interface{}, key, def string) string {
	if v, ok := params[key].(string); ok && v != "" {
		return v
	}
	return def
}

func intParam(params map[string]interface{}, key string, def int) int {
	switch v := params[key].(type) {
	case int:
		return v
	case int64:
		return int(v)
	case float64:
		return int(v)
	default:
		return def
	}
}

func boolParam(params map[string]interface{}, key string, def bool) bool {
	if v, ok := params[key].(bool); ok {
		return v
	}
	return def
}
