// Package history records the outcome of every backup pass in a small
// SQLite database, one row per host per run.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"sbak/internal/config"
	"sbak/internal/engine"
	"sbak/internal/history/migrations"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// Run is one recorded host pass.
type Run struct {
	RunID      string
	Host       string
	Status     engine.HostStatus
	StartedAt  time.Time
	FinishedAt time.Time
	New        int
	Modified   int
	Unchanged  int
	Deleted    int
	Failed     int
	Bytes      int64
	Snapshot   string
	Error      string
}

// Store persists run history in SQLite.
type Store struct {
	db   *sql.DB
	path string
}

// Open opens the history database at path, migrating the schema to the
// latest version. path can be a file path or ":memory:" for an
// ephemeral store.
func Open(path string) (*Store, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}

	if err := migrations.MigrateUp(db); err != nil {
		db.Close()
		return nil, err
	}

	return &Store{db: db, path: path}, nil
}

// NewStoreFromConfig creates a Store based on the history config type.
func NewStoreFromConfig(cfg config.HistoryConfig) (*Store, error) {
	switch cfg.Type {
	case "sqlite":
		if cfg.DataDir == "" {
			return nil, fmt.Errorf("data_dir required for sqlite history")
		}
		if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
			return nil, fmt.Errorf("creating data dir: %w", err)
		}
		return Open(filepath.Join(cfg.DataDir, "history.db"))
	case "memory":
		return Open(":memory:")
	default:
		return nil, fmt.Errorf("unknown history type: %s", cfg.Type)
	}
}

// OpenConnection opens and configures a SQLite connection without
// migrating it. Exported for tools and tests that inspect the schema.
func OpenConnection(path string) (*sql.DB, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open history database: %w", err)
	}

	if path == ":memory:" {
		// Each new pool connection to :memory: would get its own
		// empty database.
		db.SetMaxOpenConns(1)
	}

	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
	}

	return db, nil
}

const insertRunSQL = `
INSERT INTO backup_runs (
	run_id, host, status, started_at, finished_at,
	new_files, modified_files, unchanged_files, deleted_files,
	failed_files, bytes_transferred, snapshot, error
) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

// RecordReport stores every host pass of a run in one transaction.
func (s *Store) RecordReport(ctx context.Context, report *engine.RunReport) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	for _, hr := range report.Hosts {
		_, err := tx.ExecContext(ctx, insertRunSQL,
			report.ID, hr.Host, string(hr.Status), hr.StartedAt, hr.FinishedAt,
			hr.New, hr.Modified, hr.Unchanged, hr.Deleted,
			hr.Failed, hr.Bytes, hr.Snapshot, errorText(hr))
		if err != nil {
			return fmt.Errorf("recording run for %s: %w", hr.Host, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// ListRuns returns recorded passes, newest first. A non-empty host
// narrows the result to that host; limit <= 0 returns everything.
func (s *Store) ListRuns(ctx context.Context, host string, limit int) ([]Run, error) {
	query := `
		SELECT run_id, host, status, started_at, finished_at,
			new_files, modified_files, unchanged_files, deleted_files,
			failed_files, bytes_transferred, snapshot, error
		FROM backup_runs`
	var args []any
	if host != "" {
		query += " WHERE host = ?"
		args = append(args, host)
	}
	query += " ORDER BY started_at DESC, id DESC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var status string
		err := rows.Scan(&r.RunID, &r.Host, &status, &r.StartedAt, &r.FinishedAt,
			&r.New, &r.Modified, &r.Unchanged, &r.Deleted,
			&r.Failed, &r.Bytes, &r.Snapshot, &r.Error)
		if err != nil {
			return nil, fmt.Errorf("scanning run: %w", err)
		}
		r.Status = engine.HostStatus(status)
		runs = append(runs, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("reading runs: %w", err)
	}
	return runs, nil
}

// Close closes the underlying database.
func (s *Store) Close() error {
	return s.db.Close()
}

// errorText flattens a host report's failure into one column. The
// top-level error wins; otherwise the first listing error stands in
// for the pass.
func errorText(hr *engine.HostReport) string {
	if hr.Err != nil {
		return hr.Err.Error()
	}
	if len(hr.ListErrors) > 0 {
		return hr.ListErrors[0].Error()
	}
	return ""
}
