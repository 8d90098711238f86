// Package inprocess runs agent invocations on a goroutine bounded by a
// deadline. Invoke returns as soon as the deadline passes. The goroutine
// cannot be killed, so it is given a grace period in the background and
// then abandoned, its eventual result discarded.
package inprocess

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// Sandbox implements ports.Sandbox in the current process
type Sandbox struct {
	agents      ports.AgentCatalog
	tools       ports.ToolInvoker
	gracePeriod time.Duration
	logger      *zap.Logger
}

// New creates an in-process sandbox
func New(agents ports.AgentCatalog, tools ports.ToolInvoker, gracePeriod time.Duration, logger *zap.Logger) *Sandbox {
	return &Sandbox{
		agents:      agents,
		tools:       tools,
		gracePeriod: gracePeriod,
		logger:      logger,
	}
}

type outcome struct {
	result *domain.AgentResult
	err    error
}

// Invoke runs one agent call
func (s *Sandbox) Invoke(ctx context.Context, inv ports.Invocation) (*domain.AgentResult, error) {
	factory, ok := s.agents.Lookup(inv.AgentType)
	if !ok {
		return nil, domain.Fatal("unknown agent type %q", inv.AgentType)
	}

	attemptCtx := ctx
	cancel := func() {}
	if inv.Timeout > 0 {
		attemptCtx, cancel = context.WithTimeout(ctx, inv.Timeout)
	}
	defer cancel()

	logger := s.logger.With(
		zap.String("task_id", inv.TaskID),
		zap.String("node_id", inv.NodeID),
		zap.String("agent_type", inv.AgentType),
		zap.Int("attempt", inv.Attempt))

	done := make(chan outcome, 1)
	go func() {
		res, err := s.run(attemptCtx, factory, inv, logger)
		done <- outcome{result: res, err: err}
	}()

	select {
	case out := <-done:
		if out.err != nil {
			if attemptCtx.Err() != nil {
				return nil, interrupted(ctx, inv.Timeout)
			}
			return nil, domain.AsErrorInfo(out.err)
		}
		if out.result == nil {
			out.result = &domain.AgentResult{}
		}
		return out.result, nil

	case <-attemptCtx.Done():
		go s.reap(done, logger)
		return nil, interrupted(ctx, inv.Timeout)
	}
}

// reap waits out the grace period for an interrupted agent goroutine
// without holding up the caller
func (s *Sandbox) reap(done <-chan outcome, logger *zap.Logger) {
	timer := time.NewTimer(s.gracePeriod)
	defer timer.Stop()
	select {
	case <-done:
	case <-timer.C:
		logger.Warn("agent did not stop within grace period, abandoning it",
			zap.Duration("grace_period", s.gracePeriod))
	}
}

func (s *Sandbox) run(ctx context.Context, factory ports.AgentFactory, inv ports.Invocation, logger *zap.Logger) (res *domain.AgentResult, err error) {
	defer func() {
		if r := recover(); r != nil {
			logger.Error("agent panicked", zap.Any("panic", r), zap.ByteString("stack", debug.Stack()))
			res, err = nil, domain.Fatal("agent panicked: %v", r)
		}
	}()

	agent := factory()
	if err := agent.Initialize(ctx, inv.Config); err != nil {
		return nil, fmt.Errorf("initialize %s: %w", inv.AgentType, err)
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), s.gracePeriod)
		defer cancel()
		if err := agent.Shutdown(shutdownCtx); err != nil {
			logger.Warn("agent shutdown failed", zap.Error(err))
		}
	}()

	input := inv.Input
	if input == nil {
		input = &domain.AgentInput{TaskID: inv.TaskID, NodeID: inv.NodeID}
	}
	return agent.Execute(ctx, input, &ports.ExecutionContext{
		TaskID:  inv.TaskID,
		NodeID:  inv.NodeID,
		Attempt: inv.Attempt,
		Tools:   s.tools,
		Logger:  logger,
	})
}

// interrupted reports why an attempt context ended: the caller cancelled it,
// or the invocation ran past its own timeout.
func interrupted(parent context.Context, timeout time.Duration) *domain.ErrorInfo {
	if parent.Err() != nil {
		return domain.Cancelled("invocation cancelled: %v", context.Cause(parent))
	}
	return domain.TimeoutError("invocation exceeded timeout of %s", timeout)
}
