package memory

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/aescanero/agentgraph/pkg/domain"
)

// StateStore implements ports.StateStore using an in-memory map.
// Runs are cloned on the way in and out so callers never share state with the store.
type StateStore struct {
	runs map[string]*domain.TaskRun
	mu   sync.RWMutex
}

// NewStateStore creates a new in-memory state store
func NewStateStore() *StateStore {
	return &StateStore{
		runs: make(map[string]*domain.TaskRun),
	}
}

// Create stores a new run at version 1
func (s *StateStore) Create(ctx context.Context, run *domain.TaskRun) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.runs[run.TaskID]; exists {
		return fmt.Errorf("run %s already exists", run.TaskID)
	}
	run.Version = 1
	s.runs[run.TaskID] = run.Clone()
	return nil
}

// Get returns a snapshot of the run
func (s *StateStore) Get(ctx context.Context, taskID string) (*domain.TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	run, ok := s.runs[taskID]
	if !ok {
		return nil, fmt.Errorf("run %s: %w", taskID, domain.ErrNotFound)
	}
	return run.Clone(), nil
}

// CompareAndSwap replaces the run if its stored version matches
func (s *StateStore) CompareAndSwap(ctx context.Context, run *domain.TaskRun, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	current, ok := s.runs[run.TaskID]
	if !ok {
		return fmt.Errorf("run %s: %w", run.TaskID, domain.ErrNotFound)
	}
	if current.Version != expectedVersion {
		return fmt.Errorf("run %s at version %d, expected %d: %w", run.TaskID, current.Version, expectedVersion, domain.ErrVersionConflict)
	}

	run.Version = expectedVersion + 1
	s.runs[run.TaskID] = run.Clone()
	return nil
}

// List returns every run, newest submission first
func (s *StateStore) List(ctx context.Context) ([]*domain.TaskRun, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]*domain.TaskRun, 0, len(s.runs))
	for _, run := range s.runs {
		out = append(out, run.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SubmittedAt.After(out[j].SubmittedAt) })
	return out, nil
}

// Delete removes a run
func (s *StateStore) Delete(ctx context.Context, taskID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.runs[taskID]; !ok {
		return fmt.Errorf("run %s: %w", taskID, domain.ErrNotFound)
	}
	delete(s.runs, taskID)
	return nil
}
