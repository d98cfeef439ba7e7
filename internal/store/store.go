// Package store provides SQLite persistence for Gatekeep's supporting
// records: users, organizations and projects, todos, knowledge-base
// documents and chunks, and operational counters.
//
// The audit ledger and the approval workflow own their tables in the same
// database file but live in their own packages (internal/ledger,
// internal/approval); they share this package's *sql.DB handle.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

// Store wraps the shared SQLite handle.
type Store struct {
	db *sql.DB
}

// Open opens (creating if needed) the Gatekeep database and applies the
// schema. WAL mode keeps readers unblocked during the ledger's serialized
// appends.
func Open(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if _, err := db.Exec(`PRAGMA journal_mode=WAL;`); err != nil {
		return nil, fmt.Errorf("enabling WAL: %w", err)
	}

	schema := `
	CREATE TABLE IF NOT EXISTS users (
		username TEXT PRIMARY KEY,
		password_hash TEXT NOT NULL,
		salt TEXT NOT NULL,
		role TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS orgs (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		name TEXT NOT NULL UNIQUE,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS projects (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		org_id INTEGER NOT NULL,
		name TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(org_id, name)
	);

	CREATE TABLE IF NOT EXISTS memberships (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		username TEXT NOT NULL,
		org_id INTEGER NOT NULL,
		role_in_org TEXT NOT NULL,
		created_at INTEGER NOT NULL,
		UNIQUE(username, org_id)
	);

	CREATE TABLE IF NOT EXISTS kb_docs (
		doc_id TEXT PRIMARY KEY,
		project_id INTEGER NOT NULL,
		title TEXT NOT NULL,
		tags TEXT NOT NULL,
		trust_level TEXT NOT NULL,
		source TEXT NOT NULL,
		owner TEXT NOT NULL,
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS kb_chunks (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		doc_id TEXT NOT NULL,
		chunk_index INTEGER NOT NULL,
		text TEXT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_kb_chunks_doc ON kb_chunks(doc_id);

	CREATE TABLE IF NOT EXISTS todos (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		project_id INTEGER NOT NULL,
		username TEXT NOT NULL,
		title TEXT NOT NULL,
		due_date TEXT,
		status TEXT NOT NULL DEFAULT 'open',
		created_at INTEGER NOT NULL
	);

	CREATE TABLE IF NOT EXISTS counters (
		key TEXT PRIMARY KEY,
		value INTEGER NOT NULL
	);
	`
	if _, err := db.ExecContext(context.Background(), schema); err != nil {
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &Store{db: db}, nil
}

// DB exposes the shared handle for packages that own their own tables
// (ledger, approval).
func (s *Store) DB() *sql.DB {
	return s.db
}

// Close releases the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

func now() int64 {
	return time.Now().Unix()
}

// IncrCounter adds delta to the named operational counter, creating it at
// delta if absent.
func (s *Store) IncrCounter(ctx context.Context, key string, delta int64) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO counters(key, value) VALUES(?, ?)
		 ON CONFLICT(key) DO UPDATE SET value = value + ?`,
		key, delta, delta)
	if err != nil {
		return fmt.Errorf("incrementing counter %s: %w", key, err)
	}
	return nil
}

// Counters returns all operational counters.
func (s *Store) Counters(ctx context.Context) (map[string]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT key, value FROM counters`)
	if err != nil {
		return nil, fmt.Errorf("querying counters: %w", err)
	}
	defer rows.Close()

	out := make(map[string]int64)
	for rows.Next() {
		var key string
		var value int64
		if err := rows.Scan(&key, &value); err != nil {
			return nil, fmt.Errorf("scanning counter: %w", err)
		}
		out[key] = value
	}
	return out, rows.Err()
}
