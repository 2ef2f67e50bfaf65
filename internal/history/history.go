// Package history persists finished invocations to an embedded sqlite
// database so duration statistics survive restarts and operators can
// audit past runs.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/havij13/Hexstrike-AI-sub001/internal/errstats"
	"github.com/havij13/Hexstrike-AI-sub001/internal/fingerprint"
	"github.com/havij13/Hexstrike-AI-sub001/internal/progress"
	"github.com/havij13/Hexstrike-AI-sub001/internal/registry"
)

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	run_id      TEXT    NOT NULL,
	tool        TEXT    NOT NULL,
	fingerprint TEXT    NOT NULL,
	status      TEXT    NOT NULL,
	error_kind  TEXT    NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL,
	created_at  INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_runs_tool_created ON runs(tool, created_at);
CREATE INDEX IF NOT EXISTS idx_runs_created ON runs(created_at);
`

// Run is one persisted invocation outcome.
type Run struct {
	RunID       string                  `json:"run_id"`
	Tool        string                  `json:"tool"`
	Fingerprint fingerprint.Fingerprint `json:"fingerprint"`
	Status      registry.Status         `json:"status"`
	ErrorKind   errstats.Kind           `json:"error_kind,omitempty"`
	Duration    time.Duration           `json:"duration"`
	CreatedAt   time.Time               `json:"created_at"`
}

// Store is the sqlite-backed run history.
type Store struct {
	db      *sql.DB
	logger  *slog.Logger
	maxRuns int
}

// Open opens (creating if needed) the history database at path and
// applies the schema. maxRuns bounds the table size at prune time.
func Open(path string, maxRuns int, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if maxRuns <= 0 {
		maxRuns = 500
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// sqlite handles one writer; more connections just contend.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("apply history schema: %w", err)
	}

	return &Store{
		db:      db,
		logger:  logger.WithGroup("history"),
		maxRuns: maxRuns,
	}, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// RecordRun persists one finished invocation.
func (s *Store) RecordRun(ctx context.Context, run Run) error {
	createdAt := run.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO runs (run_id, tool, fingerprint, status, error_kind, duration_ms, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		run.RunID, run.Tool, string(run.Fingerprint), string(run.Status),
		string(run.ErrorKind), run.Duration.Milliseconds(), createdAt.UnixMilli())
	if err != nil {
		return fmt.Errorf("record run %s: %w", run.RunID, err)
	}
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *Store) RecentRuns(ctx context.Context, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, tool, fingerprint, status, error_kind, duration_ms, created_at
		 FROM runs ORDER BY created_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query recent runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var fp, status, kind string
		var durationMS, createdMS int64
		if err := rows.Scan(&r.RunID, &r.Tool, &fp, &status, &kind, &durationMS, &createdMS); err != nil {
			return nil, fmt.Errorf("scan run row: %w", err)
		}
		r.Fingerprint = fingerprint.Fingerprint(fp)
		r.Status = registry.Status(status)
		r.ErrorKind = errstats.Kind(kind)
		r.Duration = time.Duration(durationMS) * time.Millisecond
		r.CreatedAt = time.UnixMilli(createdMS)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// LoadDurations replays completed-run durations into stats, oldest
// first so the per-tool windows end up holding the most recent samples.
func (s *Store) LoadDurations(ctx context.Context, stats *progress.DurationStats) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT tool, duration_ms FROM runs
		 WHERE status = ? ORDER BY created_at ASC, id ASC`,
		string(registry.StatusCompleted))
	if err != nil {
		return fmt.Errorf("query completed durations: %w", err)
	}
	defer rows.Close()

	loaded := 0
	for rows.Next() {
		var tool string
		var durationMS int64
		if err := rows.Scan(&tool, &durationMS); err != nil {
			return fmt.Errorf("scan duration row: %w", err)
		}
		stats.Observe(tool, time.Duration(durationMS)*time.Millisecond)
		loaded++
	}
	if err := rows.Err(); err != nil {
		return err
	}

	s.logger.Info("Loaded duration history", "samples", loaded)
	return nil
}

// Prune deletes the oldest rows past the configured retention count and
// returns how many were removed.
func (s *Store) Prune(ctx context.Context) (int64, error) {
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM runs WHERE id NOT IN (
			SELECT id FROM runs ORDER BY created_at DESC, id DESC LIMIT ?
		)`, s.maxRuns)
	if err != nil {
		return 0, fmt.Errorf("prune history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	if n > 0 {
		s.logger.Info("Pruned run history", "removed", n, "retained", s.maxRuns)
	}
	return n, nil
}

// Count returns the number of stored runs.
func (s *Store) Count(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM runs`).Scan(&n)
	return n, err
}
