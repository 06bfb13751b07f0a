// Package journal persists bootstrap run reports in a local SQLite
// database so `townboot runs` can show what happened on this host and
// when. One row per run, one row per step.
package journal

import (
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite"

	"townboot/internal/orchestrate"
)

// DefaultPath places the journal under the user state directory.
func DefaultPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return filepath.Join(".local", "state", "townboot", "journal.db")
	}
	return filepath.Join(home, ".local", "state", "townboot", "journal.db")
}

type Store struct {
	db *sql.DB
}

func Open(path string) (*Store, error) {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, fmt.Errorf("create journal directory: %w", err)
	}

	db, err := openDB(path)
	if err != nil {
		return nil, fmt.Errorf("open journal db: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS runs (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	plan TEXT NOT NULL,
	started_at TEXT NOT NULL,
	finished_at TEXT NOT NULL,
	outcome TEXT NOT NULL
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize runs schema: %w", err)
	}
	if _, err := db.Exec(`
CREATE TABLE IF NOT EXISTS run_steps (
	run_id INTEGER NOT NULL REFERENCES runs(id),
	position INTEGER NOT NULL,
	step_id TEXT NOT NULL,
	title TEXT NOT NULL,
	policy TEXT NOT NULL,
	status TEXT NOT NULL,
	detail TEXT NOT NULL DEFAULT '',
	duration_ms INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (run_id, position)
)`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("initialize run steps schema: %w", err)
	}

	return &Store{db: db}, nil
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Run is one journaled bootstrap run.
type Run struct {
	ID       int64
	Plan     string
	Started  time.Time
	Finished time.Time
	Outcome  string
	Steps    []orchestrate.StepResult
}

func outcome(report *orchestrate.Report) string {
	switch {
	case report.Failed():
		return "failed"
	case report.Warned():
		return "warned"
	default:
		return "ok"
	}
}

// Record writes a completed report as a new run.
func (s *Store) Record(report *orchestrate.Report) (int64, error) {
	tx, err := s.db.Begin()
	if err != nil {
		return 0, fmt.Errorf("begin journal transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.Exec(
		`INSERT INTO runs (plan, started_at, finished_at, outcome) VALUES (?, ?, ?, ?)`,
		report.Name,
		report.Started.UTC().Format(time.RFC3339),
		report.Finished.UTC().Format(time.RFC3339),
		outcome(report),
	)
	if err != nil {
		return 0, fmt.Errorf("insert run: %w", err)
	}
	runID, err := res.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("run id: %w", err)
	}

	for i, step := range report.Results {
		if _, err := tx.Exec(
			`INSERT INTO run_steps (run_id, position, step_id, title, policy, status, detail, duration_ms)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			runID, i, step.ID, step.Title, string(step.Policy), string(step.Status), step.Detail, step.Duration.Milliseconds(),
		); err != nil {
			return 0, fmt.Errorf("insert step %s: %w", step.ID, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit journal transaction: %w", err)
	}
	return runID, nil
}

// Recent returns the newest runs, newest first, without step detail.
func (s *Store) Recent(limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.db.Query(
		`SELECT id, plan, started_at, finished_at, outcome FROM runs ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Plan, &started, &finished, &r.Outcome); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		r.Started, _ = time.Parse(time.RFC3339, started)
		r.Finished, _ = time.Parse(time.RFC3339, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Get loads one run with its step rows.
func (s *Store) Get(id int64) (Run, error) {
	var r Run
	var started, finished string
	err := s.db.QueryRow(
		`SELECT id, plan, started_at, finished_at, outcome FROM runs WHERE id = ?`, id).
		Scan(&r.ID, &r.Plan, &started, &finished, &r.Outcome)
	if err != nil {
		return Run{}, fmt.Errorf("query run %d: %w", id, err)
	}
	r.Started, _ = time.Parse(time.RFC3339, started)
	r.Finished, _ = time.Parse(time.RFC3339, finished)

	rows, err := s.db.Query(
		`SELECT step_id, title, policy, status, detail, duration_ms FROM run_steps
		 WHERE run_id = ? ORDER BY position`, id)
	if err != nil {
		return Run{}, fmt.Errorf("query steps for run %d: %w", id, err)
	}
	defer rows.Close()

	for rows.Next() {
		var step orchestrate.StepResult
		var policy, status string
		var durationMS int64
		if err := rows.Scan(&step.ID, &step.Title, &policy, &status, &step.Detail, &durationMS); err != nil {
			return Run{}, fmt.Errorf("scan step: %w", err)
		}
		step.Policy = orchestrate.Policy(policy)
		step.Status = orchestrate.Status(status)
		step.Duration = time.Duration(durationMS) * time.Millisecond
		r.Steps = append(r.Steps, step)
	}
	return r, rows.Err()
}

// openDB opens SQLite with WAL and a busy timeout.
func openDB(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, err
	}
	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set journal mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA busy_timeout = 5000`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("set busy timeout: %w", err)
	}
	return db, nil
}
