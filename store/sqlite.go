// Package store persists containerization run history using
// modernc.org/sqlite (pure Go).
package store

import (
	"database/sql"
	"time"

	_ "modernc.org/sqlite"
)

// Run is one recorded pipeline run.
type Run struct {
	RunID      string
	Source     string
	Model      string
	Tag        string
	Status     string // "succeeded" or "failed"
	Stage      string // failing stage, empty on success
	ImageID    string
	Workspace  string
	Attempts   int
	StartedAt  time.Time
	DurationMs int64
}

// AttemptRow is one build or runtime attempt within a run.
type AttemptRow struct {
	RunID      string
	N          int
	Stage      string
	OK         bool
	Dockerfile string
	Log        string
}

// Store wraps the history database.
type Store struct {
	db *sql.DB
}

// Open opens or creates the database at path and ensures the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	// Enable WAL mode for concurrent reads.
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, err
	}

	s := &Store{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) init() error {
	schema := `
	CREATE TABLE IF NOT EXISTS runs (
		id          INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id      TEXT NOT NULL UNIQUE,
		source      TEXT NOT NULL,
		model       TEXT NOT NULL DEFAULT '',
		tag         TEXT NOT NULL DEFAULT '',
		status      TEXT NOT NULL DEFAULT '',
		stage       TEXT NOT NULL DEFAULT '',
		image_id    TEXT NOT NULL DEFAULT '',
		workspace   TEXT NOT NULL DEFAULT '',
		attempts    INTEGER NOT NULL DEFAULT 0,
		started_at  DATETIME NOT NULL,
		duration_ms INTEGER NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS attempts (
		id         INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id     TEXT NOT NULL,
		n          INTEGER NOT NULL,
		stage      TEXT NOT NULL,
		ok         INTEGER NOT NULL DEFAULT 0,
		dockerfile TEXT NOT NULL DEFAULT '',
		log        TEXT NOT NULL DEFAULT ''
	);

	CREATE INDEX IF NOT EXISTS idx_runs_started ON runs(started_at);
	CREATE INDEX IF NOT EXISTS idx_attempts_run ON attempts(run_id);
	`
	_, err := s.db.Exec(schema)
	return err
}

// InsertRun records a completed pipeline run.
func (s *Store) InsertRun(r Run) error {
	_, err := s.db.Exec(
		`INSERT INTO runs (run_id, source, model, tag, status, stage, image_id, workspace, attempts, started_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.RunID, r.Source, r.Model, r.Tag, r.Status, r.Stage,
		r.ImageID, r.Workspace, r.Attempts, r.StartedAt, r.DurationMs,
	)
	return err
}

// InsertAttempt records one attempt of a run.
func (s *Store) InsertAttempt(a AttemptRow) error {
	_, err := s.db.Exec(
		`INSERT INTO attempts (run_id, n, stage, ok, dockerfile, log)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		a.RunID, a.N, a.Stage, boolInt(a.OK), a.Dockerfile, a.Log,
	)
	return err
}

// RecentRuns returns the most recent runs, newest first.
func (s *Store) RecentRuns(limit int) ([]Run, error) {
	rows, err := s.db.Query(
		`SELECT run_id, source, model, tag, status, stage, image_id, workspace, attempts, started_at, duration_ms
		 FROM runs ORDER BY started_at DESC, id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		if err := rows.Scan(&r.RunID, &r.Source, &r.Model, &r.Tag, &r.Status, &r.Stage,
			&r.ImageID, &r.Workspace, &r.Attempts, &r.StartedAt, &r.DurationMs); err != nil {
			return nil, err
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// RunAttempts returns the attempts of one run in order.
func (s *Store) RunAttempts(runID string) ([]AttemptRow, error) {
	rows, err := s.db.Query(
		`SELECT run_id, n, stage, ok, dockerfile, log FROM attempts WHERE run_id = ? ORDER BY n`, runID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var attempts []AttemptRow
	for rows.Next() {
		var a AttemptRow
		var ok int
		if err := rows.Scan(&a.RunID, &a.N, &a.Stage, &ok, &a.Dockerfile, &a.Log); err != nil {
			return nil, err
		}
		a.OK = ok != 0
		attempts = append(attempts, a)
	}
	return attempts, rows.Err()
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
