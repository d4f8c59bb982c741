// Package db is the persistence gateway for realtime snapshots and records.
package db

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/subway-rt/poller/internal/config"
)

// DB wraps a single store connection with write serialization
type DB struct {
	conn    *sql.DB
	dialect Dialect
	logger  *zap.Logger
	writeMu sync.Mutex // Serializes all write operations
}

// StorageError reports one failed statement or row. Index is the position in
// the batch (or schema) being written.
type StorageError struct {
	Op    string
	Table string
	Index int
	Err   error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("%s %s[%d]: %v", e.Op, e.Table, e.Index, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// Connect opens the configured store and verifies it with a ping
func Connect(ctx context.Context, cfg config.Database, logger *zap.Logger) (*DB, error) {
	dialect := Dialect(cfg.Driver)
	driver, err := dialect.driverName()
	if err != nil {
		return nil, err
	}

	if dialect == SQLite {
		if dir := filepath.Dir(cfg.SQLitePath); dir != "." {
			if err := os.MkdirAll(dir, 0o755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	}

	conn, err := sql.Open(driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection for every operation; writes additionally go through writeMu
	conn.SetMaxOpenConns(1)
	conn.SetMaxIdleConns(1)
	conn.SetConnMaxLifetime(time.Hour)

	if err := conn.PingContext(ctx); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	db := New(conn, dialect, logger)

	if dialect == SQLite {
		if _, err := conn.ExecContext(ctx, "PRAGMA synchronous = NORMAL"); err != nil {
			db.logger.Warn("failed to set pragma", zap.Error(err))
		}
	}

	db.logger.Info("connected to database", zap.String("driver", driver))
	return db, nil
}

// New wraps an open connection
func New(conn *sql.DB, dialect Dialect, logger *zap.Logger) *DB {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DB{
		conn:    conn,
		dialect: dialect,
		logger:  logger.With(zap.String("component", "db")),
	}
}

// Close closes the database connection
func (db *DB) Close() error {
	return db.conn.Close()
}

// Dialect returns the store's SQL dialect
func (db *DB) Dialect() Dialect {
	return db.dialect
}

// LockWrite acquires the write mutex. Must be paired with UnlockWrite.
func (db *DB) LockWrite() {
	db.writeMu.Lock()
}

// UnlockWrite releases the write mutex.
func (db *DB) UnlockWrite() {
	db.writeMu.Unlock()
}

// CheckReadiness pings the store
func (db *DB) CheckReadiness(ctx context.Context) error {
	if err := db.conn.PingContext(ctx); err != nil {
		return fmt.Errorf("database unreachable: %w", err)
	}
	return nil
}

// EnsureSchema creates the realtime tables if they don't exist. Each statement
// runs on its own; a failing statement is logged and the rest still run.
func (db *DB) EnsureSchema(ctx context.Context) error {
	stmts, err := db.dialect.SchemaStatements()
	if err != nil {
		return err
	}

	db.LockWrite()
	defer db.UnlockWrite()

	var errs error
	for i, stmt := range stmts {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			table := statementTable(stmt)
			db.logger.Error("failed to ensure table",
				zap.String("table", table),
				zap.Int("statement_index", i),
				zap.Error(err),
			)
			errs = multierr.Append(errs, &StorageError{Op: "ensure", Table: table, Index: i, Err: err})
		}
	}

	if errs == nil {
		db.logger.Debug("database schema ensured", zap.Int("statements", len(stmts)))
	}
	return errs
}
