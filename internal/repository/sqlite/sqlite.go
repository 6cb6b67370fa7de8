// Package sqlite implements the repository interfaces on SQLite.
//
// It uses modernc.org/sqlite, a pure Go port of SQLite, so the binary builds
// without cgo. A path of ":memory:" gives a private in-memory database, which
// is what the tests use.
package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	sqlitedriver "modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// MemoryPath opens a throwaway in-memory database.
const MemoryPath = ":memory:"

// DB wraps a sql.DB connection pool and provides repository methods.
// It implements both repository.UserRepository and repository.SessionRepository.
type DB struct {
	conn *sql.DB
}

// New opens the database at dbPath and runs migrations.
//
// Per-connection pragmas (foreign keys, busy timeout) are passed in the DSN
// so every connection in the pool gets them, not just the first one.
func New(dbPath string) (*DB, error) {
	dsn := dbPath + "?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)&_time_format=sqlite"

	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("sqlite: opening database: %w", err)
	}

	// Each connection to ":memory:" is a separate database, so the pool
	// must never open a second one.
	if dbPath == MemoryPath {
		conn.SetMaxOpenConns(1)
	}

	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: pinging database: %w", err)
	}

	if dbPath != MemoryPath {
		if _, err := conn.Exec("PRAGMA journal_mode=WAL"); err != nil {
			conn.Close()
			return nil, fmt.Errorf("sqlite: setting WAL mode: %w", err)
		}
	}

	db := &DB{conn: conn}

	if err := db.migrate(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("sqlite: running migrations: %w", err)
	}

	return db, nil
}

// Close closes the database connection pool.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// migrate creates the schema. CREATE ... IF NOT EXISTS makes it safe to run
// on every start.
func (db *DB) migrate() error {
	// email is UNIQUE: the storage engine, not the application, rejects a
	// second account with the same address.
	_, err := db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS users (
			id            INTEGER PRIMARY KEY AUTOINCREMENT,
			name          TEXT NOT NULL,
			email         TEXT NOT NULL UNIQUE,
			password_hash TEXT NOT NULL,
			created_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
		);
	`)
	if err != nil {
		return fmt.Errorf("creating users table: %w", err)
	}

	_, err = db.conn.Exec(`
		CREATE TABLE IF NOT EXISTS sessions (
			id         TEXT PRIMARY KEY,
			user_id    INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
			user_name  TEXT NOT NULL,
			created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
			expires_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_sessions_expires_at ON sessions(expires_at);
	`)
	if err != nil {
		return fmt.Errorf("creating sessions table: %w", err)
	}

	return nil
}

// isUniqueViolation reports whether err is a UNIQUE constraint failure.
func isUniqueViolation(err error) bool {
	var se *sqlitedriver.Error
	if errors.As(err, &se) {
		return se.Code() == sqlite3.SQLITE_CONSTRAINT_UNIQUE
	}
	// Some driver paths only surface the message text.
	return strings.Contains(err.Error(), "UNIQUE constraint failed")
}
