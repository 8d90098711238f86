package rabbitmq

import (
	"context"
	"errors"
	"testing"
	"time"

	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/agentgraph/pkg/ports"
)

type fakeAcknowledger struct {
	acked, nacked, rejected bool
	requeue                 bool
}

func (f *fakeAcknowledger) Ack(tag uint64, multiple bool) error {
	f.acked = true
	return nil
}

func (f *fakeAcknowledger) Nack(tag uint64, multiple, requeue bool) error {
	f.nacked = true
	f.requeue = requeue
	return nil
}

func (f *fakeAcknowledger) Reject(tag uint64, requeue bool) error {
	f.rejected = true
	f.requeue = requeue
	return nil
}

func TestNewEventBusRequiresURL(t *testing.T) {
	_, err := NewEventBus(Config{}, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestToPublishing(t *testing.T) {
	ts := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	msg, err := toPublishing(ports.Event{ID: "e1", Type: ports.EventNodeSucceeded, Timestamp: ts, ExecutionID: "t1", NodeID: "a"})
	require.NoError(t, err)

	assert.Equal(t, "application/json", msg.ContentType)
	assert.Equal(t, "e1", msg.MessageId)
	assert.Equal(t, string(ports.EventNodeSucceeded), msg.Type)
	assert.Equal(t, ts, msg.Timestamp)
	assert.JSONEq(t, `{"id":"e1","type":"node.succeeded","timestamp":"2026-01-02T03:04:05Z","execution_id":"t1","node_id":"a"}`, string(msg.Body))
}

func TestHandleDelivery(t *testing.T) {
	bus := &EventBus{logger: zaptest.NewLogger(t)}
	msg, err := toPublishing(ports.Event{ID: "e1", Type: ports.EventTaskStarted})
	require.NoError(t, err)

	t.Run("ack on success", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		var got ports.Event
		bus.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: msg.Body}, func(ctx context.Context, ev ports.Event) error {
			got = ev
			return nil
		})
		assert.True(t, ack.acked)
		assert.Equal(t, "e1", got.ID)
	})

	t.Run("nack without requeue on handler error", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		bus.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: msg.Body}, func(ctx context.Context, ev ports.Event) error {
			return errors.New("boom")
		})
		assert.True(t, ack.nacked)
		assert.False(t, ack.requeue)
	})

	t.Run("reject malformed body", func(t *testing.T) {
		ack := &fakeAcknowledger{}
		called := false
		bus.handleDelivery(context.Background(), amqp.Delivery{Acknowledger: ack, Body: []byte("{")}, func(ctx context.Context, ev ports.Event) error {
			called = true
			return nil
		})
		assert.True(t, ack.rejected)
		assert.False(t, called)
	})
}
