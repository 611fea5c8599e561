package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	_ "modernc.org/sqlite"
)

// DB wraps the shared SQLite handle used by all persistent stores.
type DB struct {
	sql  *sql.DB
	path string
}

// Open initializes or connects to the database at path and applies
// migrations. The parent directory must already exist.
//
// Pragmas ride in the DSN so that every connection database/sql opens for
// the pool gets them; a plain Exec would configure only the one connection
// it happens to run on, leaving the rest with busy_timeout 0.
func Open(path string) (*DB, error) {
	dsn := "file:" + path +
		"?_pragma=journal_mode(WAL)" +
		"&_pragma=busy_timeout(5000)" +
		"&_pragma=foreign_keys(1)"
	handle, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}

	db := &DB{sql: handle, path: path}
	if err := db.applyMigrations(context.Background()); err != nil {
		_ = handle.Close()
		return nil, err
	}
	return db, nil
}

// Close closes the underlying database connection.
func (d *DB) Close() error {
	if d == nil || d.sql == nil {
		return nil
	}
	return d.sql.Close()
}

// Path returns the database file location.
func (d *DB) Path() string { return d.path }

// Handle exposes the raw sql.DB for the table-specific stores.
func (d *DB) Handle() *sql.DB { return d.sql }

// Ping verifies the connection is usable.
func (d *DB) Ping(ctx context.Context) error {
	if d == nil || d.sql == nil {
		return errors.New("database connection unavailable")
	}
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return d.sql.PingContext(pingCtx)
}

// InTx runs fn inside a transaction, committing on nil error.
func (d *DB) InTx(ctx context.Context, fn func(*sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}
