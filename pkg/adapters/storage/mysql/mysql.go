// Package mysql implements ports.StateStore on MySQL. Each run is one row
// holding its JSON snapshot and a version column used for compare-and-set.
package mysql

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"

	"github.com/aescanero/agentgraph/pkg/domain"
)

const schema = `CREATE TABLE IF NOT EXISTS task_runs (
        task_id VARCHAR(64) PRIMARY KEY,
        name VARCHAR(255) NOT NULL DEFAULT '',
        status VARCHAR(32) NOT NULL,
        version BIGINT NOT NULL,
        payload LONGTEXT NOT NULL,
        submitted_at BIGINT NOT NULL,
        updated_at BIGINT NOT NULL,
        INDEX idx_task_runs_status (status),
        INDEX idx_task_runs_submitted (submitted_at)
)`

// duplicate entry for key
const errDuplicateEntry = 1062

// StateStore implements ports.StateStore using MySQL
type StateStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// Open connects to dsn and ensures the schema exists
func Open(ctx context.Context, dsn string, logger *zap.Logger) (*StateStore, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("MySQL DSN is required")
	}

	db, err := sql.Open("mysql", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open MySQL: %w", err)
	}

	db.SetMaxOpenConns(20)
	db.SetMaxIdleConns(10)
	db.SetConnMaxLifetime(10 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to MySQL: %w", err)
	}

	store := NewStateStore(db, logger)
	if err := store.EnsureSchema(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return store, nil
}

// NewStateStore wraps an open database handle
func NewStateStore(db *sql.DB, logger *zap.Logger) *StateStore {
	return &StateStore{db: db, logger: logger}
}

// EnsureSchema creates the task_runs table if needed
func (s *StateStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("failed to initialise task_runs table: %w", err)
	}
	return nil
}

// Close closes the database handle
func (s *StateStore) Close() error {
	return s.db.Close()
}

// Create inserts a new run at version 1
func (s *StateStore) Create(ctx context.Context, run *domain.TaskRun) error {
	run.Version = 1
	payload, err := json.Marshal(run)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	const stmt = `INSERT INTO task_runs (task_id, name, status, version, payload, submitted_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UnixMilli()
	_, err = s.db.ExecContext(ctx, stmt,
		run.TaskID,
		run.Name,
		string(run.Status),
		run.Version,
		string(payload),
		run.SubmittedAt.UnixMilli(),
		now,
	)
	if err != nil {
		var mysqlErr *mysql.MySQLError
		if errors.As(err, &mysqlErr) && mysqlErr.Number == errDuplicateEntry {
			return fmt.Errorf("run %s already exists", run.TaskID)
		}
		return fmt.Errorf("failed to insert run: %w", err)
	}
	return nil
}

// Get loads a run snapshot
func (s *StateStore) Get(ctx context.Context, taskID string) (*domain.TaskRun, error) {
	const stmt = `SELECT payload, version FROM task_runs WHERE task_id = ?`

	var payload string
	var version int64
	err := s.db.QueryRowContext(ctx, stmt, taskID).Scan(&payload, &version)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, fmt.Errorf("run %s: %w", taskID, domain.ErrNotFound)
		}
		return nil, fmt.Errorf("failed to query run: %w", err)
	}
	return decode(payload, version)
}

// CompareAndSwap updates the row only if its version column still equals expectedVersion
func (s *StateStore) CompareAndSwap(ctx context.Context, run *domain.TaskRun, expectedVersion int64) error {
	next := *run
	next.Version = expectedVersion + 1
	payload, err := json.Marshal(&next)
	if err != nil {
		return fmt.Errorf("failed to marshal run: %w", err)
	}

	const stmt = `UPDATE task_runs SET status = ?, version = ?, payload = ?, updated_at = ?
        WHERE task_id = ? AND version = ?`

	res, err := s.db.ExecContext(ctx, stmt,
		string(run.Status),
		next.Version,
		string(payload),
		time.Now().UnixMilli(),
		run.TaskID,
		expectedVersion,
	)
	if err != nil {
		return fmt.Errorf("failed to update run: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if affected == 0 {
		var exists int
		err := s.db.QueryRowContext(ctx, `SELECT 1 FROM task_runs WHERE task_id = ?`, run.TaskID).Scan(&exists)
		if errors.Is(err, sql.ErrNoRows) {
			return fmt.Errorf("run %s: %w", run.TaskID, domain.ErrNotFound)
		}
		return fmt.Errorf("run %s not at version %d: %w", run.TaskID, expectedVersion, domain.ErrVersionConflict)
	}

	run.Version = next.Version
	return nil
}

// List returns every run, newest submission first
func (s *StateStore) List(ctx context.Context) ([]*domain.TaskRun, error) {
	const stmt = `SELECT payload, version FROM task_runs ORDER BY submitted_at DESC`

	rows, err := s.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	defer rows.Close()

	var runs []*domain.TaskRun
	for rows.Next() {
		var payload string
		var version int64
		if err := rows.Scan(&payload, &version); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		run, err := decode(payload, version)
		if err != nil {
			s.logger.Warn("skipping undecodable run", zap.Error(err))
			continue
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate runs: %w", err)
	}
	return runs, nil
}

// Delete removes a run
func (s *StateStore) Delete(ctx context.Context, taskID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM task_runs WHERE task_id = ?`, taskID)
	if err != nil {
		return fmt.Errorf("failed to delete run: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s: %w", taskID, domain.ErrNotFound)
	}
	return nil
}

func decode(payload string, version int64) (*domain.TaskRun, error) {
	var run domain.TaskRun
	if err := json.Unmarshal([]byte(payload), &run); err != nil {
		return nil, fmt.Errorf("failed to unmarshal run: %w", err)
	}
	// the column is authoritative
	run.Version = version
	return &run, nil
}
