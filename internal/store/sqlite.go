package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/pressly/goose/v3"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// sqliteTimeLayout is fixed width so TEXT ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// SQLiteDB implements the DB interface using SQLite
type SQLiteDB struct {
	*sqlStore
	db *sql.DB
}

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(path string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serialises writers inside the process and keeps
	// :memory: databases alive for the lifetime of the pool.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	db.SetConnMaxLifetime(0)

	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	}
	for _, pragma := range pragmas {
		if _, err := db.Exec(pragma); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("failed to apply %q: %w", pragma, err)
		}
	}

	c := stdConn{c: db}
	return &SQLiteDB{
		db: db,
		sqlStore: &sqlStore{
			q:          newQueries(sq.Question, ""),
			encodeTime: encodeSQLiteTime,
			retryable:  isSQLiteBusy,
			conn:       c,
			begin: func(ctx context.Context) (txConn, error) {
				tx, err := db.BeginTx(ctx, nil)
				if err != nil {
					return nil, err
				}
				return stdTx{stdConn: stdConn{c: tx}, tx: tx}, nil
			},
			now: time.Now,
		},
	}, nil
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// Ping checks the database is reachable.
func (s *SQLiteDB) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Migrate runs database migrations
func (s *SQLiteDB) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db, goose.DialectSQLite3, "sqlite")
}

func encodeSQLiteTime(t time.Time) any {
	return t.UTC().Format(sqliteTimeLayout)
}

// isSQLiteBusy reports lock contention from another connection or process.
func isSQLiteBusy(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() & 0xff {
	case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
		return true
	}
	return false
}

// sqlExecutor is satisfied by *sql.DB and *sql.Tx.
type sqlExecutor interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

type stdConn struct {
	c sqlExecutor
}

func (c stdConn) exec(ctx context.Context, b sq.Sqlizer) (int64, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return 0, fmt.Errorf("build statement: %w", err)
	}
	res, err := c.c.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (c stdConn) queryRow(ctx context.Context, b sq.Sqlizer) rowScanner {
	query, args, err := b.ToSql()
	if err != nil {
		return errRow{err: fmt.Errorf("build query: %w", err)}
	}
	return c.c.QueryRowContext(ctx, query, args...)
}

func (c stdConn) query(ctx context.Context, b sq.Sqlizer) (rows, error) {
	query, args, err := b.ToSql()
	if err != nil {
		return nil, fmt.Errorf("build query: %w", err)
	}
	r, err := c.c.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	return stdRows{Rows: r}, nil
}

type stdRows struct {
	*sql.Rows
}

func (r stdRows) Close() { _ = r.Rows.Close() }

type stdTx struct {
	stdConn
	tx *sql.Tx
}

func (t stdTx) commit(context.Context) error   { return t.tx.Commit() }
func (t stdTx) rollback(context.Context) error { return t.tx.Rollback() }
