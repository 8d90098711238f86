package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/domain"
)

const keyPrefix = "agentgraph:run:"

// StateStore implements ports.StateStore using Redis.
// Compare-and-set runs inside WATCH/MULTI so a concurrent writer aborts the transaction.
type StateStore struct {
	client *redis.Client
	logger *zap.Logger
	ttl    time.Duration
}

// NewStateStore creates a new Redis state store
func NewStateStore(client *redis.Client, ttl time.Duration, logger *zap.Logger) *StateStore {
	return &StateStore{
		client: client,
		logger: logger,
		ttl:    ttl,
	}
}

// Create stores a new run at version 1
func (s *StateStore) Create(ctx context.Context, run *domain.TaskRun) error {
	run.Version = 1
	data, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	ok, err := s.client.SetNX(ctx, getRunKey(run.TaskID), data, s.ttl).Result()
	if err != nil {
		return fmt.Errorf("failed to save run: %w", err)
	}
	if !ok {
		return fmt.Errorf("run %s already exists", run.TaskID)
	}

	s.logger.Debug("run created", zap.String("task_id", run.TaskID))
	return nil
}

// Get retrieves a run snapshot
func (s *StateStore) Get(ctx context.Context, taskID string) (*domain.TaskRun, error) {
	data, err := s.client.Get(ctx, getRunKey(taskID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, fmt.Errorf("run %s: %w", taskID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to get run: %w", err)
	}
	return decode(data)
}

// CompareAndSwap writes run if the stored version equals expectedVersion
func (s *StateStore) CompareAndSwap(ctx context.Context, run *domain.TaskRun, expectedVersion int64) error {
	key := getRunKey(run.TaskID)

	txf := func(tx *redis.Tx) error {
		data, err := tx.Get(ctx, key).Bytes()
		if err != nil {
			if errors.Is(err, redis.Nil) {
				return fmt.Errorf("run %s: %w", run.TaskID, domain.ErrNotFound)
			}
			return fmt.Errorf("failed to get run: %w", err)
		}
		current, err := decode(data)
		if err != nil {
			return err
		}
		if current.Version != expectedVersion {
			return fmt.Errorf("run %s at version %d, expected %d: %w", run.TaskID, current.Version, expectedVersion, domain.ErrVersionConflict)
		}

		next := *run
		next.Version = expectedVersion + 1
		payload, err := json.Marshal(&next)
		if err != nil {
			return fmt.Errorf("failed to marshal run: %w", err)
		}

		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, payload, s.ttl)
			return nil
		})
		return err
	}

	err := s.client.Watch(ctx, txf, key)
	if errors.Is(err, redis.TxFailedErr) {
		return fmt.Errorf("run %s modified concurrently: %w", run.TaskID, domain.ErrVersionConflict)
	}
	if err != nil {
		return err
	}

	run.Version = expectedVersion + 1
	s.logger.Debug("run saved",
		zap.String("task_id", run.TaskID),
		zap.String("status", string(run.Status)),
		zap.Int64("version", run.Version))
	return nil
}

// List returns every stored run, newest submission first
func (s *StateStore) List(ctx context.Context) ([]*domain.TaskRun, error) {
	var cursor uint64
	var keys []string

	for {
		var batch []string
		var err error

		batch, cursor, err = s.client.Scan(ctx, cursor, keyPrefix+"*", 100).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to scan keys: %w", err)
		}

		keys = append(keys, batch...)

		if cursor == 0 {
			break
		}
	}

	runs := make([]*domain.TaskRun, 0, len(keys))
	for _, key := range keys {
		data, err := s.client.Get(ctx, key).Bytes()
		if err != nil {
			// expired between SCAN and GET
			continue
		}
		run, err := decode(data)
		if err != nil {
			s.logger.Warn("skipping undecodable run", zap.String("key", key), zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}

	sort.Slice(runs, func(i, j int) bool { return runs[i].SubmittedAt.After(runs[j].SubmittedAt) })
	return runs, nil
}

// Delete removes a run
func (s *StateStore) Delete(ctx context.Context, taskID string) error {
	n, err := s.client.Del(ctx, getRunKey(taskID)).Result()
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("run %s: %w", taskID, domain.ErrNotFound)
	}
	return nil
}

func decode(data []byte) (*domain.TaskRun, error) {
	var run domain.TaskRun
	if err := json.Unmarshal(data, &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	return &run, nil
}

func getRunKey(taskID string) string {
	return keyPrefix + strings.TrimSpace(taskID)
}
