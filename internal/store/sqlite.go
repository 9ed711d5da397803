// Package store keeps an append-only audit log of session transitions and
// queue operations in SQLite.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/ihiteshgupta/whatsapp-mcp/whatsapp-session/internal/state"
)

// SQLiteStore implements all repositories using SQLite.
type SQLiteStore struct {
	db         *sql.DB
	State      *SQLiteStateRepo
	Operations *SQLiteOperationRepo
}

// NewSQLiteStore creates a new SQLite-backed store. dsn is a file path or
// ":memory:".
func NewSQLiteStore(dsn string) (*SQLiteStore, error) {
	if dsn != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(dsn), 0o700); err != nil {
			return nil, fmt.Errorf("failed to create database dir: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dsn+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection keeps :memory: databases shared and serializes writes.
	db.SetMaxOpenConns(1)

	if err := runMigrations(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	return &SQLiteStore{
		db:         db,
		State:      &SQLiteStateRepo{db: db},
		Operations: &SQLiteOperationRepo{db: db},
	}, nil
}

// Close closes the database connection.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func runMigrations(db *sql.DB) error {
	migration := `
	-- Transitions history table
	CREATE TABLE IF NOT EXISTS transitions (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		from_state TEXT NOT NULL,
		to_state TEXT NOT NULL,
		trigger TEXT NOT NULL,
		unstable BOOLEAN NOT NULL DEFAULT FALSE,
		timestamp TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	-- Queue operations table
	CREATE TABLE IF NOT EXISTS operations (
		seq INTEGER PRIMARY KEY AUTOINCREMENT,
		id TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL,
		queued_at TIMESTAMP NOT NULL,
		started_at TIMESTAMP NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0,
		timed_out BOOLEAN NOT NULL DEFAULT FALSE,
		error TEXT NOT NULL DEFAULT '',
		recorded_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
	);

	CREATE INDEX IF NOT EXISTS idx_operations_name ON operations(name);
	`
	_, err := db.Exec(migration)
	return err
}

// SQLiteStateRepo implements TransitionRepository.
type SQLiteStateRepo struct {
	db *sql.DB
}

func (r *SQLiteStateRepo) LogTransition(ctx context.Context, from, to state.State, trigger string, unstable bool) error {
	_, err := r.db.ExecContext(ctx,
		"INSERT INTO transitions (from_state, to_state, trigger, unstable, timestamp) VALUES (?, ?, ?, ?, ?)",
		string(from), string(to), trigger, unstable, time.Now(),
	)
	return err
}

func (r *SQLiteStateRepo) GetTransitionHistory(ctx context.Context, limit int) ([]Transition, error) {
	rows, err := r.db.QueryContext(ctx,
		"SELECT id, from_state, to_state, trigger, unstable, timestamp FROM transitions ORDER BY id DESC LIMIT ?",
		limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var transitions []Transition
	for rows.Next() {
		var t Transition
		var from, to string
		if err := rows.Scan(&t.ID, &from, &to, &t.Trigger, &t.Unstable, &t.Timestamp); err != nil {
			return nil, err
		}
		t.FromState = state.State(from)
		t.ToState = state.State(to)
		transitions = append(transitions, t)
	}
	return transitions, rows.Err()
}

// SQLiteOperationRepo implements OperationRepository.
type SQLiteOperationRepo struct {
	db *sql.DB
}

func (r *SQLiteOperationRepo) Record(ctx context.Context, op *Operation) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT OR REPLACE INTO operations
		(id, name, queued_at, started_at, duration_ms, timed_out, error, recorded_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
	`,
		op.ID, op.Name, op.QueuedAt, op.StartedAt, op.Duration.Milliseconds(),
		op.TimedOut, op.Error, time.Now(),
	)
	return err
}

func (r *SQLiteOperationRepo) Recent(ctx context.Context, limit int) ([]Operation, error) {
	rows, err := r.db.QueryContext(ctx, `
		SELECT id, name, queued_at, started_at, duration_ms, timed_out, error, recorded_at
		FROM operations ORDER BY seq DESC LIMIT ?
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ops []Operation
	for rows.Next() {
		var op Operation
		var ms int64
		if err := rows.Scan(&op.ID, &op.Name, &op.QueuedAt, &op.StartedAt, &ms, &op.TimedOut, &op.Error, &op.RecordedAt); err != nil {
			return nil, err
		}
		op.Duration = time.Duration(ms) * time.Millisecond
		ops = append(ops, op)
	}
	return ops, rows.Err()
}

// Prune keeps only the newest keep operations.
func (r *SQLiteOperationRepo) Prune(ctx context.Context, keep int) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM operations WHERE seq NOT IN (
			SELECT seq FROM operations ORDER BY seq DESC LIMIT ?
		)
	`, keep)
	return err
}
