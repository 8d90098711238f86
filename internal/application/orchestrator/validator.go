package orchestrator

import (
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/domain/graph"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// Validator validates graph specs before a run is created
type Validator struct {
	agents ports.AgentCatalog
}

// NewValidator creates a new graph validator that resolves agent types in agents
func NewValidator(agents ports.AgentCatalog) *Validator {
	return &Validator{agents: agents}
}

// Validate checks structure, agent types and run settings, and returns the
// validated graph. Every failure is a *domain.ValidationError.
func (v *Validator) Validate(spec *domain.GraphSpec) (*graph.TaskGraph, error) {
	if spec == nil {
		return nil, domain.Invalidf(domain.ReasonEmptyGraph, "", "graph spec is nil")
	}

	g, err := graph.New(spec.Nodes)
	if err != nil {
		return nil, err
	}

	for _, n := range g.Nodes() {
		if n.AgentType == "" {
			return nil, domain.Invalidf(domain.ReasonUnknownAgentType, n.ID, "agent_type is required")
		}
		if _, ok := v.agents.Lookup(n.AgentType); !ok {
			return nil, domain.Invalidf(domain.ReasonUnknownAgentType, n.ID, "agent type %q is not registered", n.AgentType)
		}
		if n.TimeoutSeconds < 0 {
			return nil, domain.Invalidf(domain.ReasonInvalidSetting, n.ID, "timeout_seconds must not be negative")
		}
		if n.MaxAttempts < 0 {
			return nil, domain.Invalidf(domain.ReasonInvalidSetting, n.ID, "max_attempts must not be negative")
		}
	}

	if spec.FailurePolicy != "" && !spec.FailurePolicy.Valid() {
		return nil, domain.Invalidf(domain.ReasonInvalidPolicy, "", "unknown failure policy %q", spec.FailurePolicy)
	}
	if spec.TimeoutSeconds < 0 {
		return nil, domain.Invalidf(domain.ReasonInvalidSetting, "", "timeout_seconds must not be negative")
	}
	if spec.RetryAttempts < 0 {
		return nil, domain.Invalidf(domain.ReasonInvalidSetting, "", "retry_attempts must not be negative")
	}

	return g, nil
}
