package store

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"dailyrun/internal/logging"

	_ "modernc.org/sqlite"
)

// HistorySchemaVersion is stored in PRAGMA user_version.
const HistorySchemaVersion = 1

// ErrClosed is returned by every operation on a closed store.
var ErrClosed = errors.New("history store is closed")

// RunRecord is one driver run.
type RunRecord struct {
	RunID       string
	ContainerID string
	StartedAt   time.Time
	FinishedAt  time.Time // zero while the run is in progress
	Iterations  int
	Failures    int
}

// Finished reports whether FinishRun was recorded for the run.
func (r RunRecord) Finished() bool {
	return !r.FinishedAt.IsZero()
}

// IterationRecord is the outcome of one per-day invocation.
// The credential is never part of a record.
type IterationRecord struct {
	RunID     string
	Index     int
	Date      string
	ExitCode  int
	Success   bool
	Error     string
	Duration  time.Duration
	StartedAt time.Time
}

// Failed reports whether the routine could not be run or exited non-zero.
func (r IterationRecord) Failed() bool {
	return !r.Success || r.ExitCode != 0
}

// HistoryStore persists run history in SQLite.
type HistoryStore struct {
	db     *sql.DB
	mu     sync.RWMutex
	dbPath string
	closed bool
}

// NewHistoryStore opens (creating if needed) the history database at path.
func NewHistoryStore(path string) (*HistoryStore, error) {
	timer := logging.StartTimer(logging.CategoryStore, "NewHistoryStore")
	defer timer.StopWithThreshold(time.Second)

	if path != ":memory:" {
		dir := filepath.Dir(path)
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	// One connection: SQLite has a single writer and :memory: is per connection.
	db.SetMaxOpenConns(1)

	store := &HistoryStore{db: db, dbPath: path}
	if err := store.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	logging.StoreDebug("History store ready at %s", path)
	return store, nil
}

// initialize creates the required tables.
func (s *HistoryStore) initialize() error {
	var version int
	if err := s.db.QueryRow("PRAGMA user_version").Scan(&version); err != nil {
		return fmt.Errorf("failed to read schema version: %w", err)
	}
	if version > HistorySchemaVersion {
		return fmt.Errorf("history database schema v%d is newer than supported v%d", version, HistorySchemaVersion)
	}

	runsTable := `
	CREATE TABLE IF NOT EXISTS runs (
		run_id TEXT PRIMARY KEY,
		container_id TEXT NOT NULL,
		started_at TEXT NOT NULL,
		finished_at TEXT,
		iterations INTEGER NOT NULL DEFAULT 0,
		failures INTEGER NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	`

	iterationsTable := `
	CREATE TABLE IF NOT EXISTS iterations (
		run_id TEXT NOT NULL REFERENCES runs(run_id),
		idx INTEGER NOT NULL,
		date TEXT NOT NULL,
		exit_code INTEGER NOT NULL,
		success INTEGER NOT NULL,
		error TEXT,
		duration_ms INTEGER NOT NULL,
		started_at TEXT NOT NULL,
		PRIMARY KEY (run_id, idx)
	);
	`

	for _, table := range []string{runsTable, iterationsTable} {
		if _, err := s.db.Exec(table); err != nil {
			return fmt.Errorf("failed to create table: %w", err)
		}
	}

	if _, err := s.db.Exec(fmt.Sprintf("PRAGMA user_version = %d", HistorySchemaVersion)); err != nil {
		return fmt.Errorf("failed to set schema version: %w", err)
	}
	return nil
}

// Path returns the database path.
func (s *HistoryStore) Path() string {
	return s.dbPath
}

// Close closes the database connection. Closing twice is a no-op.
func (s *HistoryStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.db.Close()
}

// BeginRun records the start of a run.
func (s *HistoryStore) BeginRun(run RunRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	logging.StoreDebug("Begin run %s (container=%q)", run.RunID, run.ContainerID)

	_, err := s.db.Exec(
		"INSERT INTO runs (run_id, container_id, started_at) VALUES (?, ?, ?)",
		run.RunID, run.ContainerID, formatTime(run.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to insert run %s: %w", run.RunID, err)
	}
	return nil
}

// RecordIteration stores one iteration outcome. Re-recording an index
// replaces the earlier row.
func (s *HistoryStore) RecordIteration(it IterationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	_, err := s.db.Exec(
		`INSERT OR REPLACE INTO iterations
		 (run_id, idx, date, exit_code, success, error, duration_ms, started_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		it.RunID, it.Index, it.Date, it.ExitCode, it.Success, it.Error,
		it.Duration.Milliseconds(), formatTime(it.StartedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to record iteration %d of run %s: %w", it.Index, it.RunID, err)
	}
	return nil
}

// FinishRun stamps the run as finished and stores its iteration totals.
func (s *HistoryStore) FinishRun(runID string, finishedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrClosed
	}

	res, err := s.db.Exec(
		`UPDATE runs SET
			finished_at = ?,
			iterations = (SELECT COUNT(*) FROM iterations WHERE run_id = ?),
			failures = (SELECT COUNT(*) FROM iterations WHERE run_id = ? AND (success = 0 OR exit_code <> 0))
		 WHERE run_id = ?`,
		formatTime(finishedAt), runID, runID, runID,
	)
	if err != nil {
		return fmt.Errorf("failed to finish run %s: %w", runID, err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("run %s not found", runID)
	}

	logging.StoreDebug("Finished run %s", runID)
	return nil
}

// RecentRuns returns up to limit runs, newest first.
func (s *HistoryStore) RecentRuns(limit int) ([]RunRecord, error) {
	timer := logging.StartTimer(logging.CategoryStore, "RecentRuns")
	defer timer.Stop()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	if limit <= 0 {
		limit = 10
	}

	rows, err := s.db.Query(
		`SELECT run_id, container_id, started_at, COALESCE(finished_at, ''), iterations, failures
		 FROM runs ORDER BY started_at DESC, rowid DESC LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query runs: %w", err)
	}
	defer rows.Close()

	var runs []RunRecord
	for rows.Next() {
		var r RunRecord
		var started, finished string
		if err := rows.Scan(&r.RunID, &r.ContainerID, &started, &finished, &r.Iterations, &r.Failures); err != nil {
			return nil, fmt.Errorf("failed to scan run: %w", err)
		}
		r.StartedAt = parseTime(started)
		r.FinishedAt = parseTime(finished)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	logging.StoreDebug("Retrieved %d runs", len(runs))
	return runs, nil
}

// RunIterations returns the iterations of a run in index order.
func (s *HistoryStore) RunIterations(runID string) ([]IterationRecord, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return nil, ErrClosed
	}

	rows, err := s.db.Query(
		`SELECT run_id, idx, date, exit_code, success, COALESCE(error, ''), duration_ms, started_at
		 FROM iterations WHERE run_id = ? ORDER BY idx`,
		runID,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query iterations: %w", err)
	}
	defer rows.Close()

	var out []IterationRecord
	for rows.Next() {
		var it IterationRecord
		var durationMs int64
		var started string
		if err := rows.Scan(&it.RunID, &it.Index, &it.Date, &it.ExitCode, &it.Success, &it.Error, &durationMs, &started); err != nil {
			return nil, fmt.Errorf("failed to scan iteration: %w", err)
		}
		it.Duration = time.Duration(durationMs) * time.Millisecond
		it.StartedAt = parseTime(started)
		out = append(out, it)
	}
	return out, rows.Err()
}

// timeLayout is fixed width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		logging.StoreWarn("Unparseable timestamp %q: %v", s, err)
		return time.Time{}
	}
	return t
}
