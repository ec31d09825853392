// Package sqlite implements the record store ports on top of an embedded
// SQLite database (modernc.org/sqlite, no cgo).
//
// Money is stored as decimal TEXT and dates as "YYYY-MM-DD" TEXT, so range
// predicates compare lexically and amounts never pass through float64.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	_ "modernc.org/sqlite" // register sqlite driver
)

const timestampLayout = time.RFC3339Nano

const schemaSQL = `
CREATE TABLE IF NOT EXISTS users (
	id         TEXT PRIMARY KEY,
	username   TEXT NOT NULL UNIQUE,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS expenses (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	amount       TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	category     TEXT NOT NULL DEFAULT '',
	pay_method   TEXT NOT NULL DEFAULT '',
	expense_date TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	updated_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_expenses_user_date ON expenses(user_id, expense_date);

CREATE TABLE IF NOT EXISTS insights (
	id           TEXT PRIMARY KEY,
	user_id      TEXT NOT NULL REFERENCES users(id),
	label        TEXT NOT NULL DEFAULT '',
	trend        TEXT NOT NULL DEFAULT '',
	top_category TEXT NOT NULL DEFAULT '',
	suggestions  TEXT NOT NULL DEFAULT '',
	anomalies    TEXT NOT NULL DEFAULT '',
	created_at   TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_insights_user ON insights(user_id, created_at);

CREATE TRIGGER IF NOT EXISTS insights_append_only
BEFORE UPDATE ON insights
BEGIN
	SELECT RAISE(ABORT, 'insights are append-only');
END;
`

// DB wraps a sql.DB connection.
type DB struct {
	conn *sql.DB
}

// Open opens or creates the database at path and runs migrations.
// ":memory:" gives a private in-memory database.
func Open(path string) (*DB, error) {
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o750); err != nil {
			return nil, fmt.Errorf("creating database dir: %w", err)
		}
	}

	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	// One connection: every statement sees the same in-memory database and
	// writers never contend. Callers must not nest store calls.
	conn.SetMaxOpenConns(1)
	conn.SetConnMaxLifetime(0)

	db := &DB{conn: conn}
	if err := db.migrate(); err != nil {
		_ = conn.Close()
		return nil, err
	}
	return db, nil
}

func (db *DB) migrate() error {
	if _, err := db.conn.Exec(`PRAGMA foreign_keys = ON`); err != nil {
		return fmt.Errorf("enabling foreign keys: %w", err)
	}
	if _, err := db.conn.Exec(schemaSQL); err != nil {
		return fmt.Errorf("creating schema: %w", err)
	}
	return nil
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// Close closes the database connection.
func (db *DB) Close() error {
	return db.conn.Close()
}

func formatTime(t time.Time) string {
	return t.UTC().Format(timestampLayout)
}

func parseTime(s string) (time.Time, error) {
	return time.Parse(timestampLayout, s)
}
