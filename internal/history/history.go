// Package history provides a SQLite-backed log of answered queries. Every
// answer — single-shot or workflow summary — is recorded so operators can
// audit what the assistant told farmers. Records persist across restarts.
package history

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Record is one answered query.
type Record struct {
	// Query is the user's question.
	Query string
	// Intent is the resolved routing label.
	Intent string
	// Response is the generated answer or workflow summary.
	Response string
	// WorkflowID links workflow answers to their workflow; empty for
	// single-shot answers.
	WorkflowID string
	// Degraded marks answers produced through a fallback path.
	Degraded bool
	// CreatedAt is when the record was persisted.
	CreatedAt time.Time
}

// Store persists and retrieves answer records.
// Implementations must be safe for concurrent use.
type Store interface {
	// Record persists a single answer.
	Record(ctx context.Context, rec Record) error
	// Recent returns the most recent n records, newest first.
	Recent(ctx context.Context, n int) ([]Record, error)
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a Store backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

// DefaultDBPath returns the default path for the answer history database.
// It resolves to ~/.agriquery/history.db, creating the directory if needed.
func DefaultDBPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("history: could not determine home directory: %w", err)
	}
	dir := filepath.Join(home, ".agriquery")
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return "", fmt.Errorf("history: could not create %s: %w", dir, err)
	}
	return filepath.Join(dir, "history.db"), nil
}

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. Use ":memory:" for an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	// WAL mode improves concurrent read performance and is safe for single-host use.
	dsn := path + "?_journal_mode=WAL&_busy_timeout=5000"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("history: open %s: %w", path, err)
	}
	// Limit to a single writer connection to avoid SQLITE_BUSY under concurrent writes.
	db.SetMaxOpenConns(1)

	s := &SQLiteStore{db: db}
	if err := s.migrate(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// migrate creates the schema if it does not already exist.
func (s *SQLiteStore) migrate() error {
	const ddl = `
CREATE TABLE IF NOT EXISTS answers (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    query        TEXT    NOT NULL,
    intent       TEXT    NOT NULL,
    response     TEXT    NOT NULL,
    workflow_id  TEXT    NOT NULL DEFAULT '',
    degraded     INTEGER NOT NULL DEFAULT 0,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_answers_created
    ON answers (created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("history: migrate: %w", err)
	}
	return nil
}

// Record persists a single answer.
func (s *SQLiteStore) Record(ctx context.Context, rec Record) error {
	const q = `INSERT INTO answers (query, intent, response, workflow_id, degraded, created_at)
VALUES (?, ?, ?, ?, ?, ?)`
	degraded := 0
	if rec.Degraded {
		degraded = 1
	}
	createdAt := rec.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now()
	}
	if _, err := s.db.ExecContext(ctx, q,
		rec.Query, rec.Intent, rec.Response, rec.WorkflowID, degraded, createdAt.Unix()); err != nil {
		return fmt.Errorf("history: record: %w", err)
	}
	return nil
}

// Recent returns the most recent n records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, n int) ([]Record, error) {
	const q = `
SELECT query, intent, response, workflow_id, degraded, created_at
FROM   answers
ORDER  BY created_at DESC, id DESC
LIMIT  ?`
	rows, err := s.db.QueryContext(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("history: recent: %w", err)
	}
	defer rows.Close()

	var out []Record
	for rows.Next() {
		var rec Record
		var degraded int
		var createdAt int64
		if err := rows.Scan(&rec.Query, &rec.Intent, &rec.Response, &rec.WorkflowID, &degraded, &createdAt); err != nil {
			return nil, fmt.Errorf("history: scan: %w", err)
		}
		rec.Degraded = degraded != 0
		rec.CreatedAt = time.Unix(createdAt, 0)
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("history: rows: %w", err)
	}
	return out, nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}
