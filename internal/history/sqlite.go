package history

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	_ "modernc.org/sqlite"
)

// ErrNotFound indicates no run exists with the requested id.
var ErrNotFound = errors.New("history: run not found")

// SQLiteStore persists run records in SQLite.
type SQLiteStore struct {
	db *sql.DB
	mu sync.RWMutex
}

// NewSQLiteStore opens (or creates) the database at dbPath.
// Use ":memory:" for an in-memory database.
func NewSQLiteStore(dbPath string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	store := &SQLiteStore{db: db}
	if err := store.initialize(); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize schema: %w", err)
	}
	return store, nil
}

func (s *SQLiteStore) initialize() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		workflow TEXT NOT NULL,
		event_kind TEXT NOT NULL,
		branch TEXT NOT NULL,
		commit_sha TEXT,
		status TEXT NOT NULL,
		error TEXT,
		steps BLOB NOT NULL,
		started INTEGER NOT NULL,
		finished INTEGER NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started);
	CREATE INDEX IF NOT EXISTS idx_runs_status ON runs(status);
	`
	_, err := s.db.Exec(schema)
	return err
}

// Save inserts or replaces the record for the run.
func (s *SQLiteStore) Save(ctx context.Context, rec RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	steps, err := json.Marshal(rec.Steps)
	if err != nil {
		return fmt.Errorf("marshal steps: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO runs
		 (run_id, workflow, event_kind, branch, commit_sha, status, error, steps, started, finished)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.RunID, rec.Workflow, rec.EventKind, rec.Branch, rec.Commit,
		rec.Status, rec.Error, steps, rec.Started.UnixNano(), rec.Finished.UnixNano(),
	)
	if err != nil {
		return fmt.Errorf("insert run: %w", err)
	}
	return nil
}

// Get returns the record for a single run.
func (s *SQLiteStore) Get(ctx context.Context, runID string) (RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	row := s.db.QueryRowContext(ctx,
		`SELECT run_id, workflow, event_kind, branch, commit_sha, status, error, steps, started, finished
		 FROM runs WHERE run_id = ?`, runID)
	rec, err := scanRun(row)
	if errors.Is(err, sql.ErrNoRows) {
		return RunRecord{}, fmt.Errorf("%w: %s", ErrNotFound, runID)
	}
	return rec, err
}

// Recent returns up to limit runs, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]RunRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT run_id, workflow, event_kind, branch, commit_sha, status, error, steps, started, finished
		 FROM runs ORDER BY started DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var records []RunRecord
	for rows.Next() {
		rec, err := scanRun(rows)
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Close releases the database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRun(row rowScanner) (RunRecord, error) {
	var (
		rec               RunRecord
		stepsJSON         []byte
		started, finished int64
	)
	err := row.Scan(&rec.RunID, &rec.Workflow, &rec.EventKind, &rec.Branch, &rec.Commit,
		&rec.Status, &rec.Error, &stepsJSON, &started, &finished)
	if err != nil {
		return RunRecord{}, err
	}
	rec.Started = time.Unix(0, started).UTC()
	rec.Finished = time.Unix(0, finished).UTC()
	if len(stepsJSON) > 0 {
		if err := json.Unmarshal(stepsJSON, &rec.Steps); err != nil {
			return RunRecord{}, fmt.Errorf("unmarshal steps: %w", err)
		}
	}
	return rec, nil
}
