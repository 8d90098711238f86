package memory

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/ports"
)

const subscriptionBuffer = 256

// EventBus implements ports.EventBus with in-process fan-out. Each
// subscription has its own goroutine, so handlers see events in publish
// order and a slow handler only delays itself.
type EventBus struct {
	mu          sync.RWMutex
	subscribers map[string][]*subscription
	logger      *zap.Logger
	closed      bool
}

type subscription struct {
	handler ports.EventHandler
	events  chan ports.Event
	done    chan struct{}
	once    sync.Once
}

func (s *subscription) stop() {
	s.once.Do(func() { close(s.done) })
}

// NewEventBus creates a new in-memory event bus
func NewEventBus(logger *zap.Logger) *EventBus {
	return &EventBus{
		subscribers: make(map[string][]*subscription),
		logger:      logger,
	}
}

// Publish delivers an event to every subscriber of topic. When a
// subscriber's buffer is full the event is dropped for that subscriber.
func (e *EventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	e.mu.RLock()
	defer e.mu.RUnlock()

	for _, sub := range e.subscribers[topic] {
		select {
		case sub.events <- event:
		case <-sub.done:
		default:
			e.logger.Warn("subscriber buffer full, dropping event",
				zap.String("topic", topic),
				zap.String("event_type", string(event.Type)))
		}
	}
	return nil
}

// Subscribe registers handler on topic until ctx is done or the topic is unsubscribed
func (e *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	sub := &subscription{
		handler: handler,
		events:  make(chan ports.Event, subscriptionBuffer),
		done:    make(chan struct{}),
	}

	e.mu.Lock()
	e.subscribers[topic] = append(e.subscribers[topic], sub)
	e.mu.Unlock()

	go func() {
		for {
			select {
			case <-ctx.Done():
				e.remove(topic, sub)
				return
			case <-sub.done:
				return
			case ev := <-sub.events:
				if err := sub.handler(ctx, ev); err != nil {
					e.logger.Warn("event handler failed",
						zap.String("topic", topic),
						zap.String("event_id", ev.ID),
						zap.Error(err))
				}
			}
		}
	}()
	return nil
}

// Unsubscribe removes all subscriptions from a topic
func (e *EventBus) Unsubscribe(ctx context.Context, topic string) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, sub := range e.subscribers[topic] {
		sub.stop()
	}
	delete(e.subscribers, topic)
	return nil
}

// Close stops every subscription
func (e *EventBus) Close() error {
	e.mu.Lock()
	defer e.mu.Unlock()

	for _, subs := range e.subscribers {
		for _, sub := range subs {
			sub.stop()
		}
	}
	e.subscribers = make(map[string][]*subscription)
	e.closed = true
	return nil
}

func (e *EventBus) remove(topic string, target *subscription) {
	e.mu.Lock()
	defer e.mu.Unlock()

	target.stop()
	subs := e.subscribers[topic]
	for i, s := range subs {
		if s == target {
			e.subscribers[topic] = append(subs[:i:i], subs[i+1:]...)
			break
		}
	}
}
