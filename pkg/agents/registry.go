// Package agents holds the agent-type registry and the built-in agent variants.
package agents

import (
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/agentgraph/pkg/ports"
)

// Registry maps agent type names to factories
type Registry struct {
	mu        sync.RWMutex
	factories map[string]ports.AgentFactory
}

// NewRegistry creates an empty registry
func NewRegistry() *Registry {
	return &Registry{factories: make(map[string]ports.AgentFactory)}
}

// Register adds a factory under name
func (r *Registry) Register(name string, factory ports.AgentFactory) error {
	if name == "" {
		return fmt.Errorf("agent type name is required")
	}
	if factory == nil {
		return fmt.Errorf("agent type %q: factory is nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.factories[name]; exists {
		return fmt.Errorf("agent type %q already registered", name)
	}
	r.factories[name] = factory
	return nil
}

// MustRegister is Register that panics on error
func (r *Registry) MustRegister(name string, factory ports.AgentFactory) {
	if err := r.Register(name, factory); err != nil {
		panic(err)
	}
}

// Lookup returns the factory for name
func (r *Registry) Lookup(name string) (ports.AgentFactory, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	f, ok := r.factories[name]
	return f, ok
}

// Types returns the registered names sorted
func (r *Registry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.factories))
	for name := range r.factories {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// RegisterBuiltins adds the built-in agents. llm may be nil, in which case
// the llm_prompt agent is not registered.
func RegisterBuiltins(r *Registry, llm ports.LLMClient, defaultModel string, defaultMaxTokens int) error {
	builtins := map[string]ports.AgentFactory{
		TextProcessorType:  func() ports.Agent { return NewTextProcessorAgent() },
		DataFetcherType:    func() ports.Agent { return NewDataFetcherAgent() },
		ChartGeneratorType: func() ports.Agent { return NewChartGeneratorAgent() },
	}
	if llm != nil {
		builtins[LLMPromptType] = func() ports.Agent { return NewLLMPromptAgent(llm, defaultModel, defaultMaxTokens) }
	}
	for name, f := range builtins {
		if err := r.Register(name, f); err != nil {
			return err
		}
	}
	return nil
}
