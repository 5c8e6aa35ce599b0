// Package sqlite is the concrete Storage implementation, backed by
// modernc.org/sqlite (pure Go, cgo-free). It is the only package in the
// engine that knows about SQL.
package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps a *sql.DB configured for the engine's single-writer access
// pattern: WAL journaling for concurrent readers, a busy timeout so a
// writer waits instead of failing under contention, and foreign keys on.
type DB struct {
	*sql.DB
}

// Open opens (creating if necessary) the SQLite database at path. Pass
// ":memory:" for an in-memory database: it is opened as
// "file::memory:?cache=shared" without the WAL and synchronous pragmas, so
// every connection in the pool, and every other DB opened with ":memory:"
// in this process while one is still open, sees the same data. Any other
// path is treated as a file name.
func Open(ctx context.Context, path string) (*DB, error) {
	dsn := fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)", path)
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&_pragma=foreign_keys(ON)&_pragma=busy_timeout(5000)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	// SQLite allows only one writer at a time regardless of connection
	// count; capping the pool avoids SQLITE_BUSY storms under the
	// single-worker access pattern this engine assumes.
	db.SetMaxOpenConns(4)
	db.SetConnMaxLifetime(1 * time.Hour)

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping sqlite: %w", err)
	}

	return &DB{DB: db}, nil
}

// Ping satisfies health.Pinger; the embedded *sql.DB's own Ping takes no
// context.
func (db *DB) Ping(ctx context.Context) error {
	return db.DB.PingContext(ctx)
}
