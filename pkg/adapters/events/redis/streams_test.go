package redis

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/aescanero/agentgraph/pkg/ports"
)

func newBus(t *testing.T) (*StreamsEventBus, *redis.Client) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	bus, err := NewStreamsEventBus(client, "agentgraph", "test-1", 0, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { bus.Close() })
	return bus, client
}

func TestNewStreamsEventBusRequiresGroup(t *testing.T) {
	_, err := NewStreamsEventBus(nil, "", "c", 0, zaptest.NewLogger(t))
	assert.Error(t, err)
}

func TestPublishAppendsToStream(t *testing.T) {
	bus, client := newBus(t)
	ctx := context.Background()

	ev := ports.Event{ID: "e1", Type: ports.EventTaskSubmitted, Timestamp: time.Now().UTC(), ExecutionID: "t1"}
	require.NoError(t, bus.Publish(ctx, ports.TaskEventsTopic, ev))

	msgs, err := client.XRange(ctx, "agentgraph:events:"+ports.TaskEventsTopic, "-", "+").Result()
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, string(ports.EventTaskSubmitted), msgs[0].Values["type"])
	assert.Contains(t, msgs[0].Values["data"], `"execution_id":"t1"`)
}

func TestSubscribeDeliversAndAcks(t *testing.T) {
	bus, client := newBus(t)
	ctx := context.Background()

	var mu sync.Mutex
	var got []string
	require.NoError(t, bus.Subscribe(ctx, "t", func(ctx context.Context, ev ports.Event) error {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, ev.ID)
		return nil
	}))
	require.NoError(t, bus.Publish(ctx, "t", ports.Event{ID: "a", Type: ports.EventNodeReady}))
	require.NoError(t, bus.Publish(ctx, "t", ports.Event{ID: "b", Type: ports.EventNodeRunning}))

	require.Eventually(t, func() bool {
		mu.Lock()
		defer mu.Unlock()
		return len(got) == 2
	}, 5*time.Second, 10*time.Millisecond)
	mu.Lock()
	assert.Equal(t, []string{"a", "b"}, got)
	mu.Unlock()

	require.Eventually(t, func() bool {
		pending, err := client.XPending(ctx, "agentgraph:events:t", "agentgraph").Result()
		return err == nil && pending.Count == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestSubscribeReusesExistingGroup(t *testing.T) {
	bus, _ := newBus(t)
	ctx := context.Background()
	noop := func(ctx context.Context, ev ports.Event) error { return nil }

	require.NoError(t, bus.Subscribe(ctx, "t", noop))
	require.NoError(t, bus.Subscribe(ctx, "t", noop))
	require.NoError(t, bus.Unsubscribe(ctx, "t"))
}
