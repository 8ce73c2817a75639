// Package uplink implements the agent side of the monitor protocol: a
// persistent session to the aggregator that answers sample pulls and runs
// remediation scripts, journaling every run to local SQLite.
package uplink

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver with database/sql
)

// Journal is a WAL-mode SQLite record of remediation script runs. Scripts
// fire rarely but their outcome matters during incident review, so every run
// is persisted locally even when the aggregator connection is gone by the
// time the script finishes.
type Journal struct {
	db *sql.DB
}

// Run is one journaled script execution.
type Run struct {
	ID         int64
	Daemon     string
	Command    string
	ExitCode   int
	Output     string
	StartedAt  time.Time
	FinishedAt time.Time
}

// journalDDL is the schema, applied idempotently on open.
const journalDDL = `
CREATE TABLE IF NOT EXISTS script_runs (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    daemon      TEXT    NOT NULL,
    command     TEXT    NOT NULL,
    exit_code   INTEGER NOT NULL,
    output      TEXT    NOT NULL DEFAULT '',
    started_at  TEXT    NOT NULL,
    finished_at TEXT    NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_script_runs_daemon ON script_runs (daemon, id);
`

// OpenJournal opens (or creates) the SQLite journal at path and applies the
// schema. ":memory:" is accepted for tests.
func OpenJournal(path string) (*Journal, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("journal: open %q: %w", path, err)
	}

	// Single writer; serialising through one connection avoids "database is
	// locked" errors when scripts overlap.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`PRAGMA journal_mode = WAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set WAL mode: %w", err)
	}
	if _, err := db.Exec(`PRAGMA synchronous = NORMAL`); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: set synchronous = NORMAL: %w", err)
	}
	if _, err := db.Exec(journalDDL); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("journal: apply schema: %w", err)
	}
	return &Journal{db: db}, nil
}

// Record persists one script run.
func (j *Journal) Record(ctx context.Context, run Run) error {
	_, err := j.db.ExecContext(ctx,
		`INSERT INTO script_runs (daemon, command, exit_code, output, started_at, finished_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		run.Daemon,
		run.Command,
		run.ExitCode,
		run.Output,
		run.StartedAt.UTC().Format(time.RFC3339Nano),
		run.FinishedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("journal: record run: %w", err)
	}
	return nil
}

// Recent returns up to n runs, newest first.
func (j *Journal) Recent(ctx context.Context, n int) ([]Run, error) {
	if n <= 0 {
		return nil, nil
	}
	rows, err := j.db.QueryContext(ctx,
		`SELECT id, daemon, command, exit_code, output, started_at, finished_at
		 FROM   script_runs
		 ORDER  BY id DESC
		 LIMIT  ?`, n)
	if err != nil {
		return nil, fmt.Errorf("journal: query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var r Run
		var started, finished string
		if err := rows.Scan(&r.ID, &r.Daemon, &r.Command, &r.ExitCode, &r.Output, &started, &finished); err != nil {
			return nil, fmt.Errorf("journal: scan run: %w", err)
		}
		r.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
		r.FinishedAt, _ = time.Parse(time.RFC3339Nano, finished)
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Close closes the underlying database.
func (j *Journal) Close() error {
	return j.db.Close()
}
