// Package storagetest holds the behaviour every StateStore must share.
package storagetest

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/agentgraph/pkg/adapters/storage"
	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// NewRun builds a Running run with one Pending node per id
func NewRun(taskID string, submitted time.Time, nodeIDs ...string) *domain.TaskRun {
	run := &domain.TaskRun{
		TaskID:        taskID,
		Name:          "run " + taskID,
		Status:        domain.RunStatusRunning,
		FailurePolicy: domain.FailFast,
		SubmittedAt:   submitted.UTC().Truncate(time.Millisecond),
		NodeStates:    make(map[string]*domain.NodeState, len(nodeIDs)),
	}
	for _, id := range nodeIDs {
		run.Nodes = append(run.Nodes, domain.NodeSpec{ID: id, AgentType: "noop"})
		run.NodeStates[id] = &domain.NodeState{NodeID: id, Status: domain.NodeStatusPending}
	}
	return run
}

// Run exercises store against the StateStore contract
func Run(t *testing.T, newStore func(t *testing.T) ports.StateStore) {
	t.Run("create and get", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		run := NewRun("t1", time.Now(), "a", "b")
		require.NoError(t, store.Create(ctx, run))
		assert.Equal(t, int64(1), run.Version)

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), got.Version)
		assert.Equal(t, "run t1", got.Name)
		assert.Len(t, got.NodeStates, 2)
		assert.Equal(t, domain.NodeStatusPending, got.NodeStates["a"].Status)

		assert.Error(t, store.Create(ctx, NewRun("t1", time.Now())))
	})

	t.Run("get unknown", func(t *testing.T) {
		_, err := newStore(t).Get(context.Background(), "missing")
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	})

	t.Run("compare and swap", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		require.NoError(t, store.Create(ctx, NewRun("t1", time.Now(), "a")))

		first, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		stale, err := store.Get(ctx, "t1")
		require.NoError(t, err)

		first.NodeStates["a"].Status = domain.NodeStatusReady
		require.NoError(t, store.CompareAndSwap(ctx, first, 1))
		assert.Equal(t, int64(2), first.Version)

		stale.NodeStates["a"].Status = domain.NodeStatusCancelled
		err = store.CompareAndSwap(ctx, stale, 1)
		assert.True(t, errors.Is(err, domain.ErrVersionConflict), "got %v", err)

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		assert.Equal(t, domain.NodeStatusReady, got.NodeStates["a"].Status)
		assert.Equal(t, int64(2), got.Version)

		err = store.CompareAndSwap(ctx, NewRun("ghost", time.Now()), 1)
		assert.True(t, errors.Is(err, domain.ErrNotFound), "got %v", err)
	})

	t.Run("concurrent mutations do not clobber each other", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()

		const n = 8
		ids := make([]string, n)
		for i := range ids {
			ids[i] = fmt.Sprintf("n%d", i)
		}
		require.NoError(t, store.Create(ctx, NewRun("t1", time.Now(), ids...)))

		var wg sync.WaitGroup
		for _, id := range ids {
			wg.Add(1)
			go func(id string) {
				defer wg.Done()
				_, err := storage.Mutate(ctx, store, "t1", func(run *domain.TaskRun) error {
					run.NodeStates[id].Status = domain.NodeStatusSucceeded
					return nil
				})
				assert.NoError(t, err)
			}(id)
		}
		wg.Wait()

		got, err := store.Get(ctx, "t1")
		require.NoError(t, err)
		for _, id := range ids {
			assert.Equal(t, domain.NodeStatusSucceeded, got.NodeStates[id].Status, id)
		}
		assert.Equal(t, int64(n+1), got.Version)
	})

	t.Run("list and delete", func(t *testing.T) {
		store := newStore(t)
		ctx := context.Background()
		base := time.Now()
		require.NoError(t, store.Create(ctx, NewRun("old", base.Add(-time.Hour))))
		require.NoError(t, store.Create(ctx, NewRun("new", base)))

		runs, err := store.List(ctx)
		require.NoError(t, err)
		require.Len(t, runs, 2)
		assert.Equal(t, "new", runs[0].TaskID)
		assert.Equal(t, "old", runs[1].TaskID)

		require.NoError(t, store.Delete(ctx, "old"))
		_, err = store.Get(ctx, "old")
		assert.True(t, errors.Is(err, domain.ErrNotFound))
		assert.True(t, errors.Is(store.Delete(ctx, "old"), domain.ErrNotFound))
	})
}
