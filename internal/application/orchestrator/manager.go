package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/internal/application/runner"
	"github.com/aescanero/agentgraph/pkg/adapters/storage"
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

var (
	// ErrExecutionTimeout is the cancellation cause of a run that exceeded its execution timeout
	ErrExecutionTimeout = errors.New("execution timeout")
	// ErrCancelRequested is the cancellation cause of a run cancelled through Cancel
	ErrCancelRequested = errors.New("cancelled by request")
	// ErrShuttingDown is returned by Submit once Shutdown has begun
	ErrShuttingDown = errors.New("orchestrator is shutting down")
)

const waitPollInterval = 100 * time.Millisecond

// Settings are the run defaults applied when a graph spec leaves them unset
type Settings struct {
	AgentTimeout  time.Duration
	RetryAttempts int
	FailurePolicy domain.FailurePolicy
	GraphTimeout  time.Duration
}

// Manager coordinates task runs
type Manager struct {
	store     ports.StateStore
	eventBus  ports.EventBus
	metrics   ports.MetricsCollector
	runner    *runner.Runner
	validator *Validator
	settings  Settings
	logger    *zap.Logger

	// Track active executions
	executions sync.Map // map[string]*execution
	active     atomic.Int64
	closing    atomic.Bool
}

// execution holds the handle of a run coordinated by this process
type execution struct {
	taskID string
	cancel context.CancelCauseFunc
	done   chan struct{}
	final  *domain.TaskRun
}

// NewManager creates a new orchestrator manager
func NewManager(
	store ports.StateStore,
	eventBus ports.EventBus,
	metrics ports.MetricsCollector,
	runner *runner.Runner,
	validator *Validator,
	settings Settings,
	logger *zap.Logger,
) *Manager {
	if settings.RetryAttempts < 1 {
		settings.RetryAttempts = 1
	}
	if settings.FailurePolicy == "" {
		settings.FailurePolicy = domain.FailFast
	}
	return &Manager{
		store:     store,
		eventBus:  eventBus,
		metrics:   metrics,
		runner:    runner,
		validator: validator,
		settings:  settings,
		logger:    logger,
	}
}

// Submit validates spec and starts a run for it. Validation failures are
// returned synchronously as *domain.ValidationError and create no run.
func (m *Manager) Submit(ctx context.Context, spec *domain.GraphSpec) (string, error) {
	if m.closing.Load() {
		return "", ErrShuttingDown
	}

	g, err := m.validator.Validate(spec)
	if err != nil {
		m.logger.Warn("graph validation failed", zap.Error(err))
		m.metrics.RecordTaskSubmitted("rejected")
		return "", err
	}

	policy := spec.FailurePolicy
	if policy == "" {
		policy = m.settings.FailurePolicy
	}
	retryAttempts := m.settings.RetryAttempts
	if spec.RetryAttempts > 0 {
		retryAttempts = spec.RetryAttempts
	}
	graphTimeout := m.settings.GraphTimeout
	if spec.TimeoutSeconds > 0 {
		graphTimeout = time.Duration(spec.TimeoutSeconds) * time.Second
	}

	taskID := uuid.New().String()
	now := time.Now()
	run := &domain.TaskRun{
		TaskID:        taskID,
		Name:          spec.Name,
		Description:   spec.Description,
		Nodes:         g.Nodes(),
		EntryPoints:   g.Roots(),
		ExitPoints:    g.Sinks(),
		Input:         domain.CopyMap(spec.Input),
		NodeStates:    make(map[string]*domain.NodeState, g.Len()),
		Status:        domain.RunStatusRunning,
		FailurePolicy: policy,
		SubmittedAt:   now,
		StartedAt:     &now,
	}
	for _, n := range run.Nodes {
		run.NodeStates[n.ID] = &domain.NodeState{NodeID: n.ID, Status: domain.NodeStatusPending}
	}

	runCtx, cancel := context.WithCancelCause(context.Background())
	stopTimer := context.CancelFunc(func() {})
	if graphTimeout > 0 {
		runCtx, stopTimer = context.WithTimeoutCause(runCtx, graphTimeout, ErrExecutionTimeout)
	}

	// registered before the run is visible so Cancel always finds it
	exec := &execution{taskID: taskID, cancel: cancel, done: make(chan struct{})}
	m.executions.Store(taskID, exec)

	if err := m.store.Create(ctx, run); err != nil {
		m.executions.Delete(taskID)
		stopTimer()
		cancel(err)
		m.logger.Error("failed to save initial state",
			zap.String("task_id", taskID),
			zap.Error(err))
		return "", fmt.Errorf("failed to save state: %w", err)
	}

	m.metrics.RecordTaskSubmitted("accepted")
	m.metrics.SetActiveRuns(int(m.active.Add(1)))
	m.publish(ports.EventTaskSubmitted, taskID, "", map[string]interface{}{
		"name":  spec.Name,
		"nodes": g.Len(),
	})
	m.logger.Info("task submitted",
		zap.String("task_id", taskID),
		zap.String("name", spec.Name),
		zap.Int("nodes", g.Len()),
		zap.String("failure_policy", string(policy)))

	sched := newScheduler(m, g, run, m.settings.AgentTimeout, retryAttempts)
	go func() {
		defer stopTimer()
		exec.final = sched.execute(runCtx)
		cancel(nil)
		m.executions.Delete(taskID)
		m.metrics.SetActiveRuns(int(m.active.Add(-1)))
		close(exec.done)
	}()

	return taskID, nil
}

// GetStatus returns the latest snapshot of a run
func (m *Manager) GetStatus(ctx context.Context, taskID string) (*domain.TaskRun, error) {
	run, err := m.store.Get(ctx, taskID)
	if err != nil {
		return nil, fmt.Errorf("failed to get state: %w", err)
	}
	return run, nil
}

// List returns summaries of every stored run, newest first
func (m *Manager) List(ctx context.Context) ([]domain.RunSummary, error) {
	runs, err := m.store.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	out := make([]domain.RunSummary, 0, len(runs))
	for _, r := range runs {
		out = append(out, r.Summary())
	}
	return out, nil
}

// Cancel requests cancellation of a run. Nodes not yet dispatched are
// cancelled at once; in-flight attempts are asked to terminate.
func (m *Manager) Cancel(ctx context.Context, taskID string) error {
	run, err := m.store.Get(ctx, taskID)
	if err != nil {
		return fmt.Errorf("failed to get state: %w", err)
	}
	if run.Status.IsTerminal() {
		return fmt.Errorf("%w: %s", domain.ErrAlreadyTerminal, run.Status)
	}

	_, err = storage.Mutate(ctx, m.store, taskID, func(r *domain.TaskRun) error {
		if r.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyTerminal, r.Status)
		}
		r.CancelRequested = true
		return nil
	})
	if err != nil {
		return err
	}

	if val, ok := m.executions.Load(taskID); ok {
		val.(*execution).cancel(ErrCancelRequested)
		m.logger.Info("task cancellation requested", zap.String("task_id", taskID))
		return nil
	}

	// no coordinator in this process owns the run, so finish it here
	_, err = storage.Mutate(ctx, m.store, taskID, func(r *domain.TaskRun) error {
		if r.Status.IsTerminal() {
			return fmt.Errorf("%w: %s", domain.ErrAlreadyTerminal, r.Status)
		}
		now := time.Now()
		for _, ns := range r.NodeStates {
			if !ns.Status.IsTerminal() {
				ns.Status = domain.NodeStatusCancelled
				ns.FinishedAt = &now
				ns.Error = domain.Cancelled("%s", ErrCancelRequested)
			}
		}
		r.Status = domain.RunStatusCancelled
		r.Error = ErrCancelRequested.Error()
		r.CompletedAt = &now
		return nil
	})
	if err != nil {
		return err
	}
	m.publish(ports.EventTaskCancelled, taskID, "", map[string]interface{}{
		"status": string(domain.RunStatusCancelled),
		"error":  ErrCancelRequested.Error(),
	})
	m.logger.Info("orphaned task run cancelled", zap.String("task_id", taskID))
	return nil
}

// Wait blocks until the run is terminal or ctx is done
func (m *Manager) Wait(ctx context.Context, taskID string) (*domain.TaskRun, error) {
	if val, ok := m.executions.Load(taskID); ok {
		exec := val.(*execution)
		select {
		case <-exec.done:
			return exec.final.Clone(), nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}

	ticker := time.NewTicker(waitPollInterval)
	defer ticker.Stop()
	for {
		run, err := m.GetStatus(ctx, taskID)
		if err != nil {
			return nil, err
		}
		if run.Status.IsTerminal() {
			return run, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-ticker.C:
		}
	}
}

// ActiveRuns returns the number of runs coordinated by this process
func (m *Manager) ActiveRuns() int {
	return int(m.active.Load())
}

// Accepting reports whether Submit still takes new runs
func (m *Manager) Accepting() bool {
	return !m.closing.Load()
}

// Shutdown stops accepting runs, cancels the active ones and waits for
// their coordinators to finish or for ctx to expire
func (m *Manager) Shutdown(ctx context.Context) error {
	m.logger.Info("shutting down orchestrator manager")
	m.closing.Store(true)

	var pending []*execution
	m.executions.Range(func(key, value interface{}) bool {
		exec := value.(*execution)
		exec.cancel(ErrShuttingDown)
		pending = append(pending, exec)
		return true
	})

	for _, exec := range pending {
		select {
		case <-exec.done:
		case <-ctx.Done():
			m.logger.Warn("shutdown deadline reached with runs still active",
				zap.Int("active_runs", m.ActiveRuns()))
			return ctx.Err()
		}
	}

	m.logger.Info("orchestrator manager shut down complete")
	return nil
}

// publish sends an event on the task topic. Delivery failures are logged
// and never affect the run.
func (m *Manager) publish(eventType ports.EventType, taskID, nodeID string, data map[string]interface{}) {
	if m.eventBus == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	event := ports.Event{
		ID:          uuid.New().String(),
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		ExecutionID: taskID,
		NodeID:      nodeID,
		Data:        data,
	}
	if err := m.eventBus.Publish(ctx, ports.TaskEventsTopic, event); err != nil {
		m.logger.Error("failed to publish event",
			zap.String("task_id", taskID),
			zap.String("type", string(eventType)),
			zap.Error(err))
	}
}
