package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/aescanero/agentgraph/pkg/domain"
	"github.com/aescanero/agentgraph/pkg/ports"
)

// MaxMutateAttempts bounds how often Mutate retries after losing a race
const MaxMutateAttempts = 16

// Mutate applies fn to the latest stored snapshot of taskID and writes it
// back with compare-and-set, retrying on version conflicts. fn may be called
// several times and must only depend on the run it is given.
func Mutate(ctx context.Context, store ports.StateStore, taskID string, fn func(run *domain.TaskRun) error) (*domain.TaskRun, error) {
	for attempt := 0; attempt < MaxMutateAttempts; attempt++ {
		run, err := store.Get(ctx, taskID)
		if err != nil {
			return nil, err
		}

		expected := run.Version
		if err := fn(run); err != nil {
			return nil, err
		}

		err = store.CompareAndSwap(ctx, run, expected)
		if err == nil {
			return run, nil
		}
		if !errors.Is(err, domain.ErrVersionConflict) {
			return nil, err
		}
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("update %s: %w after %d attempts", taskID, domain.ErrVersionConflict, MaxMutateAttempts)
}
