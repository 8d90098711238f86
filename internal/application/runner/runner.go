// Package runner wraps sandbox invocations of a single node with retry and
// exponential backoff. A permit from the process-wide limiter is held for
// each attempt and returned while waiting to retry.
package runner

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/internal/application/workers"
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// Attempt outcomes recorded in domain.AttemptRecord
const (
	OutcomeSucceeded = "succeeded"
	OutcomeTransient = "transient"
	OutcomeTimeout   = "timeout"
	OutcomeFatal     = "fatal"
	OutcomeCancelled = "cancelled"
)

// BackoffConfig shapes the delay between attempts
type BackoffConfig struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultBackoff is used for zero fields of BackoffConfig
var DefaultBackoff = BackoffConfig{
	InitialInterval: 500 * time.Millisecond,
	MaxInterval:     30 * time.Second,
	Multiplier:      2.0,
}

// Observer is told about attempt transitions. Calls for one Run are made
// sequentially from the goroutine executing it and may block.
// AttemptStarted returns before the sandbox is invoked. AttemptRetrying and
// Finished return before the attempt's permit is released, and Finished is
// called exactly once per Run.
type Observer interface {
	AttemptStarted(nodeID string, attempt int, at time.Time)
	AttemptRetrying(nodeID string, rec domain.AttemptRecord, err *domain.ErrorInfo, delay time.Duration)
	Finished(nodeID string, rec *domain.AttemptRecord, result *domain.AgentResult, err *domain.ErrorInfo)
}

// Request describes one node execution
type Request struct {
	TaskID      string
	Node        domain.NodeSpec
	Input       *domain.AgentInput
	Timeout     time.Duration
	MaxAttempts int
	Observer    Observer
}

// Runner executes nodes through a sandbox
type Runner struct {
	sandbox ports.Sandbox
	limiter *workers.Limiter
	backoff BackoffConfig
	metrics ports.MetricsCollector
	logger  *zap.Logger
}

// New creates a runner
func New(sandbox ports.Sandbox, limiter *workers.Limiter, cfg BackoffConfig, metrics ports.MetricsCollector, logger *zap.Logger) *Runner {
	if cfg.InitialInterval <= 0 {
		cfg.InitialInterval = DefaultBackoff.InitialInterval
	}
	if cfg.MaxInterval <= 0 {
		cfg.MaxInterval = DefaultBackoff.MaxInterval
	}
	if cfg.Multiplier < 1 {
		cfg.Multiplier = DefaultBackoff.Multiplier
	}
	return &Runner{
		sandbox: sandbox,
		limiter: limiter,
		backoff: cfg,
		metrics: metrics,
		logger:  logger,
	}
}

func (r *Runner) newBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = r.backoff.InitialInterval
	b.MaxInterval = r.backoff.MaxInterval
	b.Multiplier = r.backoff.Multiplier
	b.MaxElapsedTime = 0
	b.Reset()
	return b
}

// Run executes req until it succeeds, fails fatally, exhausts its attempts
// or ctx is done. The returned error is always a *domain.ErrorInfo.
func (r *Runner) Run(ctx context.Context, req Request) (*domain.AgentResult, error) {
	maxAttempts := req.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	obs := req.Observer
	if obs == nil {
		obs = nopObserver{}
	}
	logger := r.logger.With(
		zap.String("task_id", req.TaskID),
		zap.String("node_id", req.Node.ID),
		zap.String("agent_type", req.Node.AgentType))

	bo := r.newBackOff()
	attempt := 0

	for {
		if err := r.limiter.Acquire(ctx); err != nil {
			info := domain.Cancelled("waiting for an execution permit: %v", context.Cause(ctx))
			obs.Finished(req.Node.ID, nil, nil, info)
			return nil, info
		}
		// the permit may be granted in the same instant ctx is cancelled
		if ctx.Err() != nil {
			info := domain.Cancelled("cancelled before dispatch: %v", context.Cause(ctx))
			obs.Finished(req.Node.ID, nil, nil, info)
			r.limiter.Release()
			return nil, info
		}

		attempt++
		started := time.Now()
		obs.AttemptStarted(req.Node.ID, attempt, started)

		result, err := r.sandbox.Invoke(ctx, ports.Invocation{
			TaskID:    req.TaskID,
			NodeID:    req.Node.ID,
			AgentType: req.Node.AgentType,
			Attempt:   attempt,
			Config:    req.Node.Config,
			Input:     req.Input,
			Timeout:   req.Timeout,
		})

		info := domain.AsErrorInfo(err)
		rec := domain.AttemptRecord{
			Attempt:   attempt,
			StartedAt: started,
			Duration:  time.Since(started),
			Outcome:   outcomeOf(info),
		}
		if info != nil {
			rec.Error = info.Message
		}
		if r.metrics != nil {
			r.metrics.RecordNodeAttempt(req.Node.AgentType, rec.Outcome, rec.Duration)
		}

		if info == nil {
			logger.Debug("attempt succeeded", zap.Int("attempt", attempt), zap.Duration("duration", rec.Duration))
			obs.Finished(req.Node.ID, &rec, result, nil)
			r.limiter.Release()
			return result, nil
		}

		// a cancelled run may surface as any kind from the sandbox
		if ctx.Err() != nil && info.Kind != domain.KindCancelled {
			info = domain.Cancelled("%s", info.Message)
			rec.Outcome = OutcomeCancelled
		}

		if !info.Retryable {
			logger.Warn("attempt failed",
				zap.Int("attempt", attempt),
				zap.String("kind", string(info.Kind)),
				zap.String("error", info.Message))
			obs.Finished(req.Node.ID, &rec, nil, info)
			r.limiter.Release()
			return nil, info
		}

		if attempt >= maxAttempts {
			final := exhausted(info, attempt)
			logger.Warn("retry budget exhausted",
				zap.Int("attempts", attempt),
				zap.String("kind", string(final.Kind)),
				zap.String("error", info.Message))
			obs.Finished(req.Node.ID, &rec, nil, final)
			r.limiter.Release()
			return nil, final
		}

		delay := bo.NextBackOff()
		logger.Info("attempt failed, retrying",
			zap.Int("attempt", attempt),
			zap.String("kind", string(info.Kind)),
			zap.Duration("backoff", delay),
			zap.String("error", info.Message))
		obs.AttemptRetrying(req.Node.ID, rec, info, delay)
		r.limiter.Release()

		timer := time.NewTimer(delay)
		select {
		case <-ctx.Done():
			timer.Stop()
			cancelled := domain.Cancelled("cancelled while waiting to retry: %v", context.Cause(ctx))
			obs.Finished(req.Node.ID, nil, nil, cancelled)
			return nil, cancelled
		case <-timer.C:
		}
	}
}

func exhausted(last *domain.ErrorInfo, attempts int) *domain.ErrorInfo {
	kind := domain.KindTransientExhausted
	if last.Kind == domain.KindTimeout {
		kind = domain.KindTimedOutExhausted
	}
	return &domain.ErrorInfo{
		Kind:    kind,
		Message: fmt.Sprintf("gave up after %d attempts: %s", attempts, last.Message),
	}
}

func outcomeOf(info *domain.ErrorInfo) string {
	if info == nil {
		return OutcomeSucceeded
	}
	switch info.Kind {
	case domain.KindTransient:
		return OutcomeTransient
	case domain.KindTimeout:
		return OutcomeTimeout
	case domain.KindCancelled:
		return OutcomeCancelled
	default:
		return OutcomeFatal
	}
}

type nopObserver struct{}

func (nopObserver) AttemptStarted(string, int, time.Time) {}

func (nopObserver) AttemptRetrying(string, domain.AttemptRecord, *domain.ErrorInfo, time.Duration) {}

func (nopObserver) Finished(string, *domain.AttemptRecord, *domain.AgentResult, *domain.ErrorInfo) {}
