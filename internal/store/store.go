// Package store provides a SQLite-backed log of the questions asked in each
// session and the answers given. History is keyed by namespace and is
// deleted together with the rest of the session's state on cleanup.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register "sqlite" driver
)

// Role identifies the author of a history message.
type Role string

const (
	// RoleUser is a question asked by the user.
	RoleUser Role = "user"
	// RoleAssistant is an answer produced by the pipeline.
	RoleAssistant Role = "assistant"
)

// Disabled is the path value that turns history off.
const Disabled = "disabled"

// Message is a single history entry.
type Message struct {
	// Role is the author of the message.
	Role Role
	// Content is the text of the message.
	Content string
	// CreatedAt is when the message was persisted.
	CreatedAt time.Time
}

// HistoryStore persists and retrieves Q&A history keyed by namespace.
// Implementations must be safe for concurrent use.
type HistoryStore interface {
	// Append persists a single message for the namespace.
	Append(ctx context.Context, namespace string, role Role, content string) error
	// Recent returns the most recent n messages for the namespace, ordered
	// oldest-first. If fewer than n messages exist, all are returned.
	Recent(ctx context.Context, namespace string, n int) ([]Message, error)
	// Clear deletes every message of the namespace.
	Clear(ctx context.Context, namespace string) error
	// ClearAll deletes every message.
	ClearAll(ctx context.Context) error
	// Close releases any resources held by the store.
	Close() error
}

// SQLiteStore is a HistoryStore backed by a local SQLite database.
type SQLiteStore struct {
	// db is the underlying database connection pool.
	db *sql.DB
}

var _ HistoryStore = (*SQLiteStore)(nil)

// DefaultDBPath is the history database used when none is configured.
const DefaultDBPath = ".docqa/history.db"

// Open opens (or creates) a SQLiteStore at the given path and runs the schema
// migration. The parent directory is created if needed. Use ":memory:" for
// an in-memory database in tests.
func Open(path string) (*SQLiteStore, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
			return nil, fmt.Errorf("store: could not create %s: %w", filepath.Dir(path), err)
		}
	}

	dsn := path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open %s: %w", path, err)
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
CREATE TABLE IF NOT EXISTS history (
    id           INTEGER PRIMARY KEY AUTOINCREMENT,
    namespace    TEXT    NOT NULL,
    role         TEXT    NOT NULL CHECK(role IN ('user','assistant')),
    content      TEXT    NOT NULL,
    created_at   INTEGER NOT NULL  -- Unix timestamp (seconds)
);
CREATE INDEX IF NOT EXISTS idx_history_namespace_created
    ON history (namespace, created_at);
`
	if _, err := s.db.Exec(ddl); err != nil {
		return fmt.Errorf("store: migrate: %w", err)
	}
	return nil
}

// Ping verifies the database is reachable.
func (s *SQLiteStore) Ping(ctx context.Context) error {
	if err := s.db.PingContext(ctx); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Append persists a single message for the namespace.
func (s *SQLiteStore) Append(ctx context.Context, namespace string, role Role, content string) error {
	const q = `INSERT INTO history (namespace, role, content, created_at) VALUES (?, ?, ?, ?)`
	if _, err := s.db.ExecContext(ctx, q, namespace, string(role), content, time.Now().Unix()); err != nil {
		return fmt.Errorf("store: append: %w", err)
	}
	return nil
}

// Recent returns the most recent n messages for the namespace, ordered
// oldest-first.
func (s *SQLiteStore) Recent(ctx context.Context, namespace string, n int) ([]Message, error) {
	const q = `
SELECT role, content, created_at FROM (
    SELECT id, role, content, created_at
    FROM   history
    WHERE  namespace = ?
    ORDER  BY created_at DESC, id DESC
    LIMIT  ?
) ORDER BY created_at ASC, id ASC`

	rows, err := s.db.QueryContext(ctx, q, namespace, n)
	if err != nil {
		return nil, fmt.Errorf("store: recent: %w", err)
	}
	defer rows.Close()

	var msgs []Message
	for rows.Next() {
		var m Message
		var ts int64
		var role string
		if err := rows.Scan(&role, &m.Content, &ts); err != nil {
			return nil, fmt.Errorf("store: recent scan: %w", err)
		}
		m.Role = Role(role)
		m.CreatedAt = time.Unix(ts, 0)
		msgs = append(msgs, m)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("store: recent rows: %w", err)
	}
	return msgs, nil
}

// Clear deletes the namespace's history.
func (s *SQLiteStore) Clear(ctx context.Context, namespace string) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history WHERE namespace = ?`, namespace); err != nil {
		return fmt.Errorf("store: clear: %w", err)
	}
	return nil
}

// ClearAll deletes the history of every namespace.
func (s *SQLiteStore) ClearAll(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, `DELETE FROM history`); err != nil {
		return fmt.Errorf("store: clear all: %w", err)
	}
	return nil
}

// Close releases the database connection pool.
func (s *SQLiteStore) Close() error {
	if err := s.db.Close(); err != nil {
		return fmt.Errorf("store: close: %w", err)
	}
	return nil
}
