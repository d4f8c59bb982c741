package db

import (
	"context"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/stdlib"
)

// RowSource streams rows into CopyTable. It has the shape of pgx.CopyFromSource.
type RowSource interface {
	Next() bool
	Values() ([]any, error)
	Err() error
}

// CreateTextTable creates table with every column typed TEXT, if absent
func (db *DB) CreateTextTable(ctx context.Context, table string, columns []string) error {
	if len(columns) == 0 {
		return fmt.Errorf("table %s: no columns", table)
	}

	quotedTable, err := db.dialect.QuoteIdentifier(table)
	if err != nil {
		return err
	}

	defs := make([]string, 0, len(columns))
	for _, col := range columns {
		quoted, err := db.dialect.QuoteIdentifier(col)
		if err != nil {
			return fmt.Errorf("table %s: %w", table, err)
		}
		defs = append(defs, quoted+" TEXT")
	}

	db.LockWrite()
	defer db.UnlockWrite()

	query := fmt.Sprintf("CREATE TABLE IF NOT EXISTS %s (%s)", quotedTable, strings.Join(defs, ", "))
	if _, err := db.conn.ExecContext(ctx, query); err != nil {
		return &StorageError{Op: "create", Table: table, Index: 0, Err: err}
	}
	return nil
}

// CopyTable bulk-loads src into table in a single transaction and returns the
// number of rows copied. Postgres uses COPY; other dialects a prepared INSERT.
func (db *DB) CopyTable(ctx context.Context, table string, columns []string, src RowSource) (int64, error) {
	db.LockWrite()
	defer db.UnlockWrite()

	var (
		n   int64
		err error
	)
	if db.dialect == Postgres {
		n, err = db.copyFrom(ctx, table, columns, src)
	} else {
		n, err = db.copyInsert(ctx, table, columns, src)
	}
	if err != nil {
		return 0, &StorageError{Op: "copy", Table: table, Index: int(n), Err: err}
	}
	return n, nil
}

func (db *DB) copyFrom(ctx context.Context, table string, columns []string, src RowSource) (int64, error) {
	conn, err := db.conn.Conn(ctx)
	if err != nil {
		return 0, fmt.Errorf("failed to acquire connection: %w", err)
	}
	defer conn.Close()

	var n int64
	err = conn.Raw(func(driverConn any) error {
		pgxConn, ok := driverConn.(*stdlib.Conn)
		if !ok {
			return fmt.Errorf("unexpected driver connection %T", driverConn)
		}
		copied, copyErr := pgxConn.Conn().CopyFrom(ctx, pgx.Identifier{table}, columns, src)
		n = copied
		return copyErr
	})
	return n, err
}

func (db *DB) copyInsert(ctx context.Context, table string, columns []string, src RowSource) (int64, error) {
	quotedTable, err := db.dialect.QuoteIdentifier(table)
	if err != nil {
		return 0, err
	}
	quotedCols := make([]string, len(columns))
	for i, col := range columns {
		if quotedCols[i], err = db.dialect.QuoteIdentifier(col); err != nil {
			return 0, err
		}
	}

	query := fmt.Sprintf("INSERT INTO %s (%s) VALUES (%s)",
		quotedTable,
		strings.Join(quotedCols, ", "),
		strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", "),
	)

	tx, err := db.conn.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, db.dialect.Rebind(query))
	if err != nil {
		return 0, fmt.Errorf("failed to prepare insert: %w", err)
	}
	defer stmt.Close()

	var n int64
	for src.Next() {
		values, err := src.Values()
		if err != nil {
			return n, err
		}
		if _, err := stmt.ExecContext(ctx, values...); err != nil {
			return n, fmt.Errorf("row %d: %w", n+1, err)
		}
		n++
	}
	if err := src.Err(); err != nil {
		return n, err
	}

	if err := tx.Commit(); err != nil {
		return n, fmt.Errorf("failed to commit: %w", err)
	}
	return n, nil
}

var _ pgx.CopyFromSource = RowSource(nil)
