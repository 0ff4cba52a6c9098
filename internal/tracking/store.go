// Copyright Mesh Intelligence Inc., 2026. All rights reserved.

// Package tracking records runs (parameters, metrics, tags and artifacts)
// and registered model versions with aliases in a SQLite database under
// the tracking directory. Artifacts are copied next to the database.
package tracking

import (
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/pdiddy/trip-trainer/pkg/types"
)

const (
	dbFile       = "tracking.db"
	artifactsDir = "artifacts"
)

var (
	// ErrRunNotFound is returned when a run ID is unknown.
	ErrRunNotFound = errors.New("run not found")

	// ErrRunClosed is returned when writing to a run that has ended.
	ErrRunClosed = errors.New("run already ended")
)

// Store manages the tracking SQLite database and artifact tree.
type Store struct {
	db         *sql.DB
	root       string
	experiment string
	now        func() time.Time
}

// NewStore opens or creates the tracking database at cfg.Dir/tracking.db.
// Every run started through the store is attributed to cfg.Experiment.
func NewStore(cfg types.TrackingConfig) (*Store, error) {
	if cfg.Dir == "" {
		return nil, errors.New("tracking directory is required")
	}
	if err := os.MkdirAll(cfg.Dir, 0o755); err != nil {
		return nil, fmt.Errorf("creating tracking directory: %w", err)
	}

	dbPath := filepath.Join(cfg.Dir, dbFile)
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	s := &Store{
		db:         db,
		root:       cfg.Dir,
		experiment: cfg.Experiment,
		now:        func() time.Time { return time.Now().UTC() },
	}

	if err := s.createSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return s, nil
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// ArtifactPath returns the local path of an artifact recorded by run runID
// under the relative path rel.
func (s *Store) ArtifactPath(runID, rel string) string {
	return filepath.Join(s.root, artifactsDir, runID, filepath.FromSlash(rel))
}

// Experiment returns the experiment new runs are attributed to.
func (s *Store) Experiment() string {
	return s.experiment
}

func (s *Store) createSchema() error {
	statements := []string{
		`CREATE TABLE IF NOT EXISTS runs (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			id TEXT NOT NULL UNIQUE,
			name TEXT NOT NULL,
			experiment TEXT NOT NULL,
			parent_id TEXT,
			status TEXT NOT NULL,
			start_time TEXT NOT NULL,
			end_time TEXT
		)`,
		`CREATE INDEX IF NOT EXISTS idx_runs_parent ON runs(parent_id)`,
		`CREATE TABLE IF NOT EXISTS params (
			run_id TEXT NOT NULL REFERENCES runs(id),
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (run_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS metrics (
			run_id TEXT NOT NULL REFERENCES runs(id),
			key TEXT NOT NULL,
			value REAL NOT NULL,
			timestamp TEXT NOT NULL,
			PRIMARY KEY (run_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS tags (
			run_id TEXT NOT NULL REFERENCES runs(id),
			key TEXT NOT NULL,
			value TEXT NOT NULL,
			PRIMARY KEY (run_id, key)
		)`,
		`CREATE TABLE IF NOT EXISTS artifacts (
			run_id TEXT NOT NULL REFERENCES runs(id),
			path TEXT NOT NULL,
			PRIMARY KEY (run_id, path)
		)`,
		`CREATE TABLE IF NOT EXISTS model_versions (
			name TEXT NOT NULL,
			version INTEGER NOT NULL,
			run_id TEXT NOT NULL REFERENCES runs(id),
			source TEXT NOT NULL,
			created_at TEXT NOT NULL,
			PRIMARY KEY (name, version)
		)`,
		`CREATE TABLE IF NOT EXISTS aliases (
			name TEXT NOT NULL,
			alias TEXT NOT NULL,
			version INTEGER NOT NULL,
			updated_at TEXT NOT NULL,
			PRIMARY KEY (name, alias)
		)`,
		`CREATE TABLE IF NOT EXISTS alias_history (
			seq INTEGER PRIMARY KEY AUTOINCREMENT,
			name TEXT NOT NULL,
			alias TEXT NOT NULL,
			version INTEGER NOT NULL,
			set_at TEXT NOT NULL
		)`,
	}

	for _, stmt := range statements {
		if _, err := s.db.Exec(stmt); err != nil {
			return fmt.Errorf("executing schema statement: %w", err)
		}
	}
	return nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s sql.NullString) time.Time {
	if !s.Valid || s.String == "" {
		return time.Time{}
	}
	t, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return time.Time{}
	}
	return t
}
