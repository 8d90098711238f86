package ports

import (
	"context"
	"time"

	"github.com/aescanero/agentgraph/pkg/domain"
)

// Invocation is one agent call handed to a sandbox
type Invocation struct {
	TaskID    string                 `json:"task_id"`
	NodeID    string                 `json:"node_id"`
	AgentType string                 `json:"agent_type"`
	Attempt   int                    `json:"attempt"`
	Config    map[string]interface{} `json:"config,omitempty"`
	Input     *domain.AgentInput     `json:"input"`
	Timeout   time.Duration          `json:"timeout"`
}

// Sandbox isolates exactly one agent invocation and enforces its timeout.
//
// Errors returned are always *domain.ErrorInfo. A timeout yields a retryable
// KindTimeout; cancellation of ctx yields KindCancelled.
type Sandbox interface {
	Invoke(ctx context.Context, inv Invocation) (*domain.AgentResult, error)
}
