package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/internal/application/runner"
	"github.com/aescanero/agentgraph/pkg/adapters/storage"
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/domain/graph"
	"github.com/aescanero/agentgraph/pkg/ports"
)

const persistTimeout = 10 * time.Second

type eventKind int

const (
	attemptStarted eventKind = iota
	attemptRetrying
	nodeFinished
)

// nodeEvent is a transition notification sent from a runner goroutine to
// the coordinator of its run. The coordinator closes ack once the
// transition has been persisted.
type nodeEvent struct {
	kind    eventKind
	nodeID  string
	attempt int
	at      time.Time
	record  *domain.AttemptRecord
	result  *domain.AgentResult
	err     *domain.ErrorInfo
	delay   time.Duration
	ack     chan struct{}
}

// eventSink adapts the coordinator channel to runner.Observer. Every call
// blocks until the coordinator has stored the transition, so a node is
// stored as Running only while its runner holds a permit.
type eventSink chan<- nodeEvent

func (c eventSink) send(ev nodeEvent) {
	ev.ack = make(chan struct{})
	c <- ev
	<-ev.ack
}

func (c eventSink) AttemptStarted(nodeID string, attempt int, at time.Time) {
	c.send(nodeEvent{kind: attemptStarted, nodeID: nodeID, attempt: attempt, at: at})
}

func (c eventSink) AttemptRetrying(nodeID string, rec domain.AttemptRecord, err *domain.ErrorInfo, delay time.Duration) {
	c.send(nodeEvent{kind: attemptRetrying, nodeID: nodeID, attempt: rec.Attempt, record: &rec, err: err, delay: delay})
}

func (c eventSink) Finished(nodeID string, rec *domain.AttemptRecord, result *domain.AgentResult, err *domain.ErrorInfo) {
	c.send(nodeEvent{kind: nodeFinished, nodeID: nodeID, record: rec, result: result, err: err})
}

// scheduler drives one TaskRun. All fields are owned by the coordinator
// goroutine running execute; runner goroutines only send on events.
type scheduler struct {
	m             *Manager
	graph         *graph.TaskGraph
	run           *domain.TaskRun
	agentTimeout  time.Duration
	retryAttempts int
	logger        *zap.Logger

	events       chan nodeEvent
	inflight     int
	stopping     bool
	stopDispatch context.CancelCauseFunc
}

func newScheduler(m *Manager, g *graph.TaskGraph, run *domain.TaskRun, agentTimeout time.Duration, retryAttempts int) *scheduler {
	return &scheduler{
		m:             m,
		graph:         g,
		run:           run,
		agentTimeout:  agentTimeout,
		retryAttempts: retryAttempts,
		logger:        m.logger.With(zap.String("task_id", run.TaskID)),
		events:        make(chan nodeEvent, 2*g.Len()),
	}
}

// execute runs the coordinator loop until every node is terminal and
// returns the final snapshot. Cancelling ctx stops new dispatches and
// cancels in-flight attempts; context.Cause(ctx) is recorded on the run.
func (s *scheduler) execute(ctx context.Context) *domain.TaskRun {
	dispatchCtx, stopDispatch := context.WithCancelCause(ctx)
	defer stopDispatch(nil)
	s.stopDispatch = stopDispatch

	s.logger.Info("task run started", zap.Int("nodes", s.graph.Len()))
	s.m.publish(ports.EventTaskStarted, s.run.TaskID, "", map[string]interface{}{
		"failure_policy": string(s.run.FailurePolicy),
	})

	s.dispatchReady(dispatchCtx)
	s.persist()

	done := ctx.Done()
	for s.inflight > 0 {
		select {
		case ev := <-s.events:
			s.apply(ev)
			if ev.kind == nodeFinished {
				s.inflight--
				s.afterFinish(dispatchCtx, ev.nodeID)
			}
			s.persist()
			if ev.ack != nil {
				close(ev.ack)
			}

		case <-done:
			done = nil
			s.stop(context.Cause(ctx))
			s.persist()
		}
	}

	return s.finish(ctx)
}

// dispatchReady hands every ready node to its own runner goroutine. The
// goroutine suspends on the limiter, so a node stays Ready until a permit
// is granted.
func (s *scheduler) dispatchReady(ctx context.Context) {
	if s.stopping || ctx.Err() != nil {
		return
	}

	for _, id := range s.graph.ReadySet(s.statuses()) {
		spec, _ := s.graph.Node(id)
		ns := s.run.NodeStates[id]
		ns.Status = domain.NodeStatusReady
		s.m.publish(ports.EventNodeReady, s.run.TaskID, id, nil)

		req := runner.Request{
			TaskID:      s.run.TaskID,
			Node:        spec,
			Input:       s.inputFor(spec),
			Timeout:     s.agentTimeout,
			MaxAttempts: s.retryAttempts,
			Observer:    eventSink(s.events),
		}
		if spec.TimeoutSeconds > 0 {
			req.Timeout = time.Duration(spec.TimeoutSeconds) * time.Second
		}
		if spec.MaxAttempts > 0 {
			req.MaxAttempts = spec.MaxAttempts
		}

		s.inflight++
		go func() {
			// the outcome arrives through the observer
			_, _ = s.m.runner.Run(ctx, req)
		}()
	}
}

func (s *scheduler) inputFor(spec domain.NodeSpec) *domain.AgentInput {
	input := &domain.AgentInput{
		TaskID:   s.run.TaskID,
		NodeID:   spec.ID,
		Global:   domain.CopyMap(s.run.Input),
		Upstream: make(map[string]*domain.AgentResult),
	}
	for _, dep := range s.graph.Dependencies(spec.ID) {
		input.Upstream[dep] = s.run.NodeStates[dep].Result.Clone()
	}
	return input
}

func (s *scheduler) apply(ev nodeEvent) {
	ns := s.run.NodeStates[ev.nodeID]
	spec, _ := s.graph.Node(ev.nodeID)

	switch ev.kind {
	case attemptStarted:
		ns.Status = domain.NodeStatusRunning
		ns.AttemptCount = ev.attempt
		if ns.StartedAt == nil {
			at := ev.at
			ns.StartedAt = &at
		}
		s.m.publish(ports.EventNodeRunning, s.run.TaskID, ev.nodeID, map[string]interface{}{
			"attempt": ev.attempt,
		})

	case attemptRetrying:
		ns.Status = domain.NodeStatusReady
		ns.Attempts = append(ns.Attempts, *ev.record)
		ns.Error = ev.err
		s.m.publish(ports.EventNodeRetrying, s.run.TaskID, ev.nodeID, map[string]interface{}{
			"attempt": ev.attempt,
			"error":   ev.err.Message,
			"backoff": ev.delay.String(),
		})

	case nodeFinished:
		if ev.record != nil {
			ns.Attempts = append(ns.Attempts, *ev.record)
		}
		now := time.Now()
		ns.FinishedAt = &now

		var eventType ports.EventType
		data := map[string]interface{}{"attempts": ns.AttemptCount}
		switch {
		case ev.err == nil:
			ns.Status = domain.NodeStatusSucceeded
			ns.Result = ev.result
			ns.Error = nil
			eventType = ports.EventNodeSucceeded
		case ev.err.Kind == domain.KindCancelled:
			ns.Status = domain.NodeStatusCancelled
			ns.Error = ev.err
			eventType = ports.EventNodeCancelled
			data["reason"] = ev.err.Message
		default:
			ns.Status = domain.NodeStatusFailed
			ns.Error = ev.err
			eventType = ports.EventNodeFailed
			data["error"] = ev.err.Message
			data["kind"] = string(ev.err.Kind)
			s.logger.Warn("node failed",
				zap.String("node_id", ev.nodeID),
				zap.String("kind", string(ev.err.Kind)),
				zap.String("error", ev.err.Message))
		}
		s.m.metrics.RecordNodeCompleted(spec.AgentType, string(ns.Status))
		s.m.publish(eventType, s.run.TaskID, ev.nodeID, data)
	}
}

func (s *scheduler) afterFinish(ctx context.Context, nodeID string) {
	if s.run.NodeStates[nodeID].Status == domain.NodeStatusFailed {
		for _, d := range s.graph.Descendants(nodeID) {
			s.cancelPending(d, fmt.Sprintf("dependency %q failed", nodeID))
		}
		if s.run.FailurePolicy == domain.FailFast && !s.stopping {
			s.logger.Info("fail_fast: cancelling remaining work", zap.String("failed_node", nodeID))
			s.stop(fmt.Errorf("node %q failed", nodeID))
		}
	}
	s.dispatchReady(ctx)
}

// stop prevents further dispatches, cancels every node that has not been
// handed to a runner and asks in-flight runners to terminate
func (s *scheduler) stop(cause error) {
	if s.stopping {
		return
	}
	s.stopping = true
	reason := "run stopped"
	if cause != nil {
		reason = cause.Error()
	}
	for _, id := range s.graph.TopologicalOrder() {
		s.cancelPending(id, reason)
	}
	s.stopDispatch(cause)
}

func (s *scheduler) cancelPending(nodeID, reason string) {
	ns := s.run.NodeStates[nodeID]
	if ns.Status != domain.NodeStatusPending {
		return
	}
	now := time.Now()
	ns.Status = domain.NodeStatusCancelled
	ns.FinishedAt = &now
	ns.Error = domain.Cancelled("%s", reason)

	spec, _ := s.graph.Node(nodeID)
	s.m.metrics.RecordNodeCompleted(spec.AgentType, string(ns.Status))
	s.m.publish(ports.EventNodeCancelled, s.run.TaskID, nodeID, map[string]interface{}{"reason": reason})
}

func (s *scheduler) finish(ctx context.Context) *domain.TaskRun {
	// nodes left Pending can only be behind a stopped dispatch
	for _, id := range s.graph.TopologicalOrder() {
		s.cancelPending(id, "run stopped")
	}

	counts := s.run.CountByStatus()
	now := time.Now()
	s.run.CompletedAt = &now

	var eventType ports.EventType
	switch {
	case counts[domain.NodeStatusFailed] > 0:
		s.run.Status = domain.RunStatusFailed
		s.run.Error = s.firstFailure()
		eventType = ports.EventTaskFailed
	case ctx.Err() != nil || counts[domain.NodeStatusCancelled] > 0:
		s.run.Status = domain.RunStatusCancelled
		if cause := context.Cause(ctx); cause != nil {
			s.run.Error = cause.Error()
		}
		eventType = ports.EventTaskCancelled
	default:
		s.run.Status = domain.RunStatusCompleted
		eventType = ports.EventTaskCompleted
	}
	if s.run.Status != domain.RunStatusFailed && errors.Is(context.Cause(ctx), ErrExecutionTimeout) {
		s.run.Error = ErrExecutionTimeout.Error()
	}

	final := s.persist()
	if final == nil {
		final = s.run.Clone()
	}

	duration := now.Sub(s.run.SubmittedAt)
	if s.run.StartedAt != nil {
		duration = now.Sub(*s.run.StartedAt)
	}
	s.m.metrics.RecordTaskCompleted(string(s.run.Status), duration)
	s.m.publish(eventType, s.run.TaskID, "", map[string]interface{}{
		"status":      string(s.run.Status),
		"error":       s.run.Error,
		"duration_ms": duration.Milliseconds(),
	})
	s.logger.Info("task run finished",
		zap.String("status", string(s.run.Status)),
		zap.Duration("duration", duration),
		zap.Int("succeeded", counts[domain.NodeStatusSucceeded]),
		zap.Int("failed", counts[domain.NodeStatusFailed]),
		zap.Int("cancelled", counts[domain.NodeStatusCancelled]))

	return final
}

func (s *scheduler) firstFailure() string {
	for _, id := range s.graph.TopologicalOrder() {
		ns := s.run.NodeStates[id]
		if ns.Status == domain.NodeStatusFailed && ns.Error != nil {
			return fmt.Sprintf("node %q failed: %s", id, ns.Error.Message)
		}
	}
	return "one or more nodes failed"
}

func (s *scheduler) statuses() map[string]domain.NodeStatus {
	out := make(map[string]domain.NodeStatus, len(s.run.NodeStates))
	for id, ns := range s.run.NodeStates {
		out[id] = ns.Status
	}
	return out
}

// persist writes the coordinator's view of the run and returns the stored
// result, or nil when the write failed. CancelRequested is owned by
// Manager.Cancel and is left as stored.
func (s *scheduler) persist() *domain.TaskRun {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()

	snap := s.run.Clone()
	stored, err := storage.Mutate(ctx, s.m.store, snap.TaskID, func(stored *domain.TaskRun) error {
		if stored.Status.IsTerminal() {
			return domain.ErrAlreadyTerminal
		}
		stored.NodeStates = snap.NodeStates
		stored.Status = snap.Status
		stored.Error = snap.Error
		stored.StartedAt = snap.StartedAt
		stored.CompletedAt = snap.CompletedAt
		return nil
	})
	if err != nil {
		s.logger.Error("failed to persist task run", zap.Error(err))
		return nil
	}
	return stored
}
