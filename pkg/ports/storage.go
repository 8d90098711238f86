package ports

import (
	"context"

	"github.com/aescanero/agentgraph/pkg/domain"
)

// StateStore persists TaskRun snapshots with optimistic concurrency.
//
// Create stores a new run at version 1. CompareAndSwap writes run only if the
// stored version equals expectedVersion and returns domain.ErrVersionConflict
// otherwise; on success run.Version is set to the new version.
type StateStore interface {
	Create(ctx context.Context, run *domain.TaskRun) error
	Get(ctx context.Context, taskID string) (*domain.TaskRun, error)
	CompareAndSwap(ctx context.Context, run *domain.TaskRun, expectedVersion int64) error
	List(ctx context.Context) ([]*domain.TaskRun, error)
	Delete(ctx context.Context, taskID string) error
}
