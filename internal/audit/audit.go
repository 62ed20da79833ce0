// File: internal/audit/audit.go
// Brief: Local sqlite audit trail for runs and rollback snapshots.

// Package audit persists a small local trail: one row per orchestrator run
// and one row per pre-rollback snapshot. The control plane remains the
// source of truth for stack and version state; this store only answers
// "what did we do and when", and holds the side location that makes every
// rollback itself recoverable.
package audit

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

const defaultRelPath = ".opsctl/audit.sqlite"

// Store is the sqlite-backed audit trail.
type Store struct {
	db   *sql.DB
	path string
}

// DefaultPath returns the conventional store location under root.
func DefaultPath(root string) string {
	if strings.TrimSpace(root) == "" {
		root = "."
	}
	return filepath.Join(root, defaultRelPath)
}

// Open opens (creating if needed) the audit store at path.
func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, err
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}
	s := &Store{db: db, path: path}
	if err := s.initSchema(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

func (s *Store) initSchema(ctx context.Context) error {
	stmts := []string{
		`PRAGMA journal_mode=WAL;`,
		`PRAGMA synchronous=NORMAL;`,
		`PRAGMA busy_timeout=5000;`,
		`
CREATE TABLE IF NOT EXISTS opsctl_runs (
  run_id TEXT PRIMARY KEY,
  environment TEXT NOT NULL,
  command TEXT NOT NULL,
  outcome TEXT NOT NULL,
  detail TEXT NOT NULL,
  started_at_ns INTEGER NOT NULL,
  finished_at_ns INTEGER NOT NULL
);`,
		`
CREATE TABLE IF NOT EXISTS opsctl_snapshots (
  snapshot_id TEXT PRIMARY KEY,
  kind TEXT NOT NULL,
  version TEXT NOT NULL,
  location TEXT NOT NULL,
  note TEXT NOT NULL,
  taken_at_ns INTEGER NOT NULL
);`,
		`CREATE INDEX IF NOT EXISTS idx_opsctl_runs_env ON opsctl_runs(environment, started_at_ns);`,
		`CREATE INDEX IF NOT EXISTS idx_opsctl_snapshots_kind ON opsctl_snapshots(kind, taken_at_ns);`,
	}
	for _, stmt := range stmts {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("init audit schema: %w", err)
		}
	}
	return nil
}

// RunRecord is one orchestrator invocation.
type RunRecord struct {
	ID          string
	Environment string
	Command     string
	Outcome     string
	Detail      string
	StartedAt   time.Time
	FinishedAt  time.Time
}

// RecordRun inserts a run row. A missing ID is generated.
func (s *Store) RecordRun(ctx context.Context, rec RunRecord) (string, error) {
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.FinishedAt.IsZero() {
		rec.FinishedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO opsctl_runs (run_id, environment, command, outcome, detail, started_at_ns, finished_at_ns)
VALUES (?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.Environment, rec.Command, rec.Outcome, rec.Detail,
		rec.StartedAt.UnixNano(), rec.FinishedAt.UnixNano())
	if err != nil {
		return "", fmt.Errorf("record run: %w", err)
	}
	return rec.ID, nil
}

// SnapshotRecord is one pre-rollback snapshot pointer.
type SnapshotRecord struct {
	ID       string
	Kind     string
	Version  string
	Location string
	Note     string
	TakenAt  time.Time
}

// RecordSnapshot inserts a snapshot row and returns its id. Satisfies the
// rollback coordinator's SnapshotRecorder.
func (s *Store) RecordSnapshot(ctx context.Context, kind, version, location, note string) (string, error) {
	id := uuid.NewString()
	_, err := s.db.ExecContext(ctx, `
INSERT INTO opsctl_snapshots (snapshot_id, kind, version, location, note, taken_at_ns)
VALUES (?, ?, ?, ?, ?, ?)`,
		id, kind, version, location, note, time.Now().UnixNano())
	if err != nil {
		return "", fmt.Errorf("record snapshot: %w", err)
	}
	return id, nil
}

// Snapshots returns the most recent snapshots for a kind, newest first.
func (s *Store) Snapshots(ctx context.Context, kind string, limit int) ([]SnapshotRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT snapshot_id, kind, version, location, note, taken_at_ns
FROM opsctl_snapshots WHERE kind = ? ORDER BY taken_at_ns DESC LIMIT ?`, kind, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []SnapshotRecord
	for rows.Next() {
		var rec SnapshotRecord
		var takenNs int64
		if err := rows.Scan(&rec.ID, &rec.Kind, &rec.Version, &rec.Location, &rec.Note, &takenNs); err != nil {
			return nil, err
		}
		rec.TakenAt = time.Unix(0, takenNs)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// RecentRuns returns the most recent runs for an environment, newest first.
func (s *Store) RecentRuns(ctx context.Context, environment string, limit int) ([]RunRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx, `
SELECT run_id, environment, command, outcome, detail, started_at_ns, finished_at_ns
FROM opsctl_runs WHERE environment = ? ORDER BY started_at_ns DESC LIMIT ?`, environment, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []RunRecord
	for rows.Next() {
		var rec RunRecord
		var startNs, finishNs int64
		if err := rows.Scan(&rec.ID, &rec.Environment, &rec.Command, &rec.Outcome, &rec.Detail, &startNs, &finishNs); err != nil {
			return nil, err
		}
		rec.StartedAt = time.Unix(0, startNs)
		rec.FinishedAt = time.Unix(0, finishNs)
		out = append(out, rec)
	}
	return out, rows.Err()
}
