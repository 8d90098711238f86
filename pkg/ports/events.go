package ports

import (
	"context"
	"time"
)

// EventType names a state transition
type EventType string

const (
	EventTaskSubmitted EventType = "task.submitted"
	EventTaskStarted   EventType = "task.started"
	EventTaskCompleted EventType = "task.completed"
	EventTaskFailed    EventType = "task.failed"
	EventTaskCancelled EventType = "task.cancelled"
	EventNodeReady     EventType = "node.ready"
	EventNodeRunning   EventType = "node.running"
	EventNodeRetrying  EventType = "node.retrying"
	EventNodeSucceeded EventType = "node.succeeded"
	EventNodeFailed    EventType = "node.failed"
	EventNodeCancelled EventType = "node.cancelled"
)

// TaskEventsTopic carries every TaskRun and NodeState transition
const TaskEventsTopic = "task.events"

// Event is a change notification
type Event struct {
	ID          string                 `json:"id"`
	Type        EventType              `json:"type"`
	Timestamp   time.Time              `json:"timestamp"`
	ExecutionID string                 `json:"execution_id"`
	NodeID      string                 `json:"node_id,omitempty"`
	Data        map[string]interface{} `json:"data,omitempty"`
}

// EventHandler consumes one event
type EventHandler func(ctx context.Context, event Event) error

// EventBus publishes change notifications
type EventBus interface {
	Publish(ctx context.Context, topic string, event Event) error
	Subscribe(ctx context.Context, topic string, handler EventHandler) error
	Unsubscribe(ctx context.Context, topic string) error
	Close() error
}
