package storage_test

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aescanero/agentgraph/pkg/adapters/storage"
	"github.com/aescanero/agentgraph/pkg/adapters/storage/memory"
	"github.com/aescanero/agentgraph/pkg/adapters/storage/storagetest"
	"github.com/aescanero/agentgraph/pkg/domain"
)

// racingStore lets another writer sneak in before the first few swaps
type racingStore struct {
	*memory.StateStore
	races int
}

func (r *racingStore) CompareAndSwap(ctx context.Context, run *domain.TaskRun, expected int64) error {
	if r.races > 0 {
		r.races--
		other, err := r.StateStore.Get(ctx, run.TaskID)
		if err != nil {
			return err
		}
		other.Error = fmt.Sprintf("interloper %d", r.races)
		if err := r.StateStore.CompareAndSwap(ctx, other, other.Version); err != nil {
			return err
		}
	}
	return r.StateStore.CompareAndSwap(ctx, run, expected)
}

func TestMutateRetriesOnConflict(t *testing.T) {
	store := &racingStore{StateStore: memory.NewStateStore(), races: 3}
	ctx := context.Background()
	require.NoError(t, store.StateStore.Create(ctx, storagetest.NewRun("t1", time.Now(), "a")))

	calls := 0
	run, err := storage.Mutate(ctx, store, "t1", func(run *domain.TaskRun) error {
		calls++
		run.CancelRequested = true
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 4, calls)
	assert.True(t, run.CancelRequested)
	assert.Equal(t, "interloper 0", run.Error)
}

func TestMutateStopsOnCallbackError(t *testing.T) {
	store := memory.NewStateStore()
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, storagetest.NewRun("t1", time.Now())))

	boom := errors.New("boom")
	_, err := storage.Mutate(ctx, store, "t1", func(*domain.TaskRun) error { return boom })
	assert.ErrorIs(t, err, boom)

	_, err = storage.Mutate(ctx, store, "missing", func(*domain.TaskRun) error { return nil })
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestMutateGivesUp(t *testing.T) {
	store := &racingStore{StateStore: memory.NewStateStore(), races: storage.MaxMutateAttempts}
	ctx := context.Background()
	require.NoError(t, store.StateStore.Create(ctx, storagetest.NewRun("t1", time.Now())))

	_, err := storage.Mutate(ctx, store, "t1", func(*domain.TaskRun) error { return nil })
	assert.ErrorIs(t, err, domain.ErrVersionConflict)
}
