package ports

import (
	"context"

	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/domain"
)

// Agent is the capability contract every agent variant implements.
//
// Execute returns a *domain.ErrorInfo (possibly wrapped) to control retry
// classification; any other error is treated as fatal.
type Agent interface {
	Initialize(ctx context.Context, config map[string]interface{}) error
	Execute(ctx context.Context, input *domain.AgentInput, execCtx *ExecutionContext) (*domain.AgentResult, error)
	Shutdown(ctx context.Context) error
}

// AgentFactory builds a fresh agent instance for one invocation
type AgentFactory func() Agent

// AgentCatalog resolves agent type names
type AgentCatalog interface {
	Lookup(agentType string) (AgentFactory, bool)
	Types() []string
}

// ExecutionContext is handed to an agent for the duration of one attempt
type ExecutionContext struct {
	TaskID  string
	NodeID  string
	Attempt int
	Tools   ToolInvoker
	Logger  *zap.Logger
}
