// Package store keeps a sqlite index of runs so past and in-progress
// runs can be listed and inspected without walking the runs directory.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"
)

// ErrNotFound is returned when a run is not in the index.
var ErrNotFound = errors.New("store: run not found")

// RunRecord is one indexed run.
type RunRecord struct {
	RunID     string    `db:"run_id"`
	Topic     string    `db:"topic"`
	Status    string    `db:"status"`
	Stage     string    `db:"stage"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	run_id     TEXT PRIMARY KEY,
	topic      TEXT NOT NULL,
	status     TEXT NOT NULL,
	stage      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
`

// Store wraps the sqlite connection.
type Store struct {
	db     *sqlx.DB
	logger *zap.Logger
}

// Open opens (creating if necessary) the index at path. Use ":memory:"
// for an ephemeral index.
func Open(path string, logger *zap.Logger) (*Store, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	db, err := sqlx.Connect("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open run index: %w", err)
	}
	// sqlite tolerates exactly one writer.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("init run index schema: %w", err)
	}
	return &Store{db: db, logger: logger}, nil
}

// Upsert inserts or updates a run record.
func (s *Store) Upsert(ctx context.Context, rec RunRecord) error {
	const q = `
INSERT INTO runs (run_id, topic, status, stage, created_at, updated_at)
VALUES (:run_id, :topic, :status, :stage, :created_at, :updated_at)
ON CONFLICT(run_id) DO UPDATE SET
	topic = excluded.topic,
	status = excluded.status,
	stage = excluded.stage,
	updated_at = excluded.updated_at`
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	rec.UpdatedAt = time.Now().UTC()

	if _, err := s.db.NamedExecContext(ctx, q, rec); err != nil {
		return fmt.Errorf("upsert run %s: %w", rec.RunID, err)
	}
	return nil
}

// Get returns the record for runID.
func (s *Store) Get(ctx context.Context, runID string) (*RunRecord, error) {
	var rec RunRecord
	err := s.db.GetContext(ctx, &rec, `SELECT * FROM runs WHERE run_id = ?`, runID)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("get run %s: %w", runID, err)
	}
	return &rec, nil
}

// List returns all runs, most recently updated first.
func (s *Store) List(ctx context.Context) ([]RunRecord, error) {
	var recs []RunRecord
	err := s.db.SelectContext(ctx, &recs, `SELECT * FROM runs ORDER BY updated_at DESC`)
	if err != nil {
		return nil, fmt.Errorf("list runs: %w", err)
	}
	return recs, nil
}

// Close releases the connection.
func (s *Store) Close() error {
	return s.db.Close()
}
