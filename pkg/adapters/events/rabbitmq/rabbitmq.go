// Package rabbitmq publishes task events to a RabbitMQ topic exchange.
// Each subscription binds its own exclusive queue, so every subscriber
// receives every event routed to its topic.
package rabbitmq

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	amqp "github.com/rabbitmq/amqp091-go"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/ports"
)

// DefaultExchange is used when Config.Exchange is empty
const DefaultExchange = "agentgraph.events"

// Config describes the broker connection
type Config struct {
	URL      string
	Exchange string
	Prefetch int
}

// EventBus implements ports.EventBus on a RabbitMQ topic exchange
type EventBus struct {
	conn     *amqp.Connection
	pub      *amqp.Channel
	exchange string
	prefetch int
	logger   *zap.Logger

	pubMu sync.Mutex
	mu    sync.Mutex
	subs  map[string][]*amqp.Channel
	wg    sync.WaitGroup
}

// NewEventBus dials the broker and declares the exchange
func NewEventBus(cfg Config, logger *zap.Logger) (*EventBus, error) {
	if cfg.URL == "" {
		return nil, errors.New("rabbitmq url is required")
	}
	exchange := cfg.Exchange
	if exchange == "" {
		exchange = DefaultExchange
	}

	conn, err := amqp.Dial(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to rabbitmq: %w", err)
	}
	ch, err := conn.Channel()
	if err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if err := ch.ExchangeDeclare(exchange, amqp.ExchangeTopic, true, false, false, false, nil); err != nil {
		ch.Close()
		conn.Close()
		return nil, fmt.Errorf("failed to declare exchange %s: %w", exchange, err)
	}

	logger.Info("connected to rabbitmq", zap.String("exchange", exchange))

	return &EventBus{
		conn:     conn,
		pub:      ch,
		exchange: exchange,
		prefetch: cfg.Prefetch,
		logger:   logger,
		subs:     make(map[string][]*amqp.Channel),
	}, nil
}

// Publish routes event to the exchange with topic as the routing key
func (b *EventBus) Publish(ctx context.Context, topic string, event ports.Event) error {
	msg, err := toPublishing(event)
	if err != nil {
		return err
	}

	b.pubMu.Lock()
	defer b.pubMu.Unlock()
	if err := b.pub.PublishWithContext(ctx, b.exchange, topic, false, false, msg); err != nil {
		return fmt.Errorf("failed to publish event: %w", err)
	}

	b.logger.Debug("event published",
		zap.String("event_id", event.ID),
		zap.String("type", string(event.Type)),
		zap.String("topic", topic))
	return nil
}

// Subscribe binds an exclusive queue to topic and consumes it with manual acks
func (b *EventBus) Subscribe(ctx context.Context, topic string, handler ports.EventHandler) error {
	ch, err := b.conn.Channel()
	if err != nil {
		return fmt.Errorf("failed to open rabbitmq channel: %w", err)
	}
	if b.prefetch > 0 {
		if err := ch.Qos(b.prefetch, 0, false); err != nil {
			ch.Close()
			return fmt.Errorf("failed to set qos: %w", err)
		}
	}
	q, err := ch.QueueDeclare("", false, true, true, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to declare queue: %w", err)
	}
	if err := ch.QueueBind(q.Name, topic, b.exchange, false, nil); err != nil {
		ch.Close()
		return fmt.Errorf("failed to bind queue to %s: %w", topic, err)
	}
	msgs, err := ch.Consume(q.Name, "", false, true, false, false, nil)
	if err != nil {
		ch.Close()
		return fmt.Errorf("failed to consume queue: %w", err)
	}

	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], ch)
	b.mu.Unlock()

	b.logger.Info("subscribed to event exchange",
		zap.String("exchange", b.exchange),
		zap.String("topic", topic),
		zap.String("queue", q.Name))

	b.wg.Add(1)
	go func() {
		defer b.wg.Done()
		for {
			select {
			case <-ctx.Done():
				ch.Close()
				return
			case d, ok := <-msgs:
				if !ok {
					return
				}
				b.handleDelivery(ctx, d, handler)
			}
		}
	}()
	return nil
}

func (b *EventBus) handleDelivery(ctx context.Context, d amqp.Delivery, handler ports.EventHandler) {
	var event ports.Event
	if err := json.Unmarshal(d.Body, &event); err != nil {
		b.logger.Error("failed to unmarshal event",
			zap.String("message_id", d.MessageId),
			zap.Error(err))
		_ = d.Reject(false)
		return
	}

	if err := handler(ctx, event); err != nil {
		b.logger.Error("handler error",
			zap.String("event_id", event.ID),
			zap.Error(err))
		_ = d.Nack(false, false)
		return
	}
	_ = d.Ack(false)
}

// Unsubscribe closes every consumer channel bound to topic
func (b *EventBus) Unsubscribe(ctx context.Context, topic string) error {
	b.mu.Lock()
	chans := b.subs[topic]
	delete(b.subs, topic)
	b.mu.Unlock()

	var errs []error
	for _, ch := range chans {
		if err := ch.Close(); err != nil && !errors.Is(err, amqp.ErrClosed) {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Close closes the connection, which ends every consumer
func (b *EventBus) Close() error {
	b.mu.Lock()
	b.subs = make(map[string][]*amqp.Channel)
	b.mu.Unlock()

	if b.pub != nil {
		_ = b.pub.Close()
	}
	var err error
	if b.conn != nil {
		err = b.conn.Close()
	}
	b.wg.Wait()
	if errors.Is(err, amqp.ErrClosed) {
		return nil
	}
	return err
}

func toPublishing(event ports.Event) (amqp.Publishing, error) {
	body, err := json.Marshal(event)
	if err != nil {
		return amqp.Publishing{}, fmt.Errorf("failed to marshal event: %w", err)
	}
	return amqp.Publishing{
		ContentType:  "application/json",
		DeliveryMode: amqp.Persistent,
		MessageId:    event.ID,
		Type:         string(event.Type),
		Timestamp:    event.Timestamp,
		Body:         body,
	}, nil
}
