// Package db is the SQL storage edge: schema migrations, typed queries and
// the (de)serialization of machine labels. It runs on SQLite (default) or
// PostgreSQL through database/sql.
package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	_ "modernc.org/sqlite"
)

// Dialect selects placeholder style and driver.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

func (d Dialect) String() string {
	if d == Postgres {
		return "postgres"
	}
	return "sqlite"
}

// ParseDialect maps a config driver name to a Dialect.
func ParseDialect(s string) (Dialect, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "sqlite", "sqlite3":
		return SQLite, nil
	case "postgres", "postgresql", "pgx":
		return Postgres, nil
	default:
		return SQLite, fmt.Errorf("unknown db driver %q", s)
	}
}

type DB struct {
	sql     *sql.DB
	dialect Dialect
	now     func() time.Time
}

// Open opens (creating if needed) a SQLite database file and migrates it.
func Open(ctx context.Context, path string) (*DB, error) {
	if path == "" {
		return nil, errors.New("db path is required")
	}

	// modernc SQLite uses a URI-like DSN; plain file paths are ok.
	dsn := fmt.Sprintf("file:%s?_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	s, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	s.SetMaxOpenConns(1)
	s.SetMaxIdleConns(1)
	s.SetConnMaxLifetime(0)

	db := &DB{sql: s, dialect: SQLite, now: time.Now}
	if err := db.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return db, nil
}

// OpenPostgres connects to PostgreSQL through the pgx stdlib driver and
// migrates the schema.
func OpenPostgres(ctx context.Context, dsn string) (*DB, error) {
	if dsn == "" {
		return nil, errors.New("db dsn is required")
	}
	s, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, err
	}
	s.SetMaxOpenConns(8)
	s.SetMaxIdleConns(4)
	s.SetConnMaxLifetime(30 * time.Minute)

	db := &DB{sql: s, dialect: Postgres, now: time.Now}
	if err := db.init(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	return db, nil
}

// Connect opens the backend named by dialect. target is a file path for
// SQLite and a DSN for PostgreSQL.
func Connect(ctx context.Context, dialect Dialect, target string) (*DB, error) {
	if dialect == Postgres {
		return OpenPostgres(ctx, target)
	}
	return Open(ctx, target)
}

func (d *DB) init(ctx context.Context) error {
	if err := d.ping(ctx); err != nil {
		return err
	}
	if d.dialect == SQLite {
		if err := d.setPragmas(ctx); err != nil {
			return err
		}
	}
	return Migrate(ctx, d)
}

func (d *DB) Close() error {
	return d.sql.Close()
}

// Dialect reports which backend the handle talks to.
func (d *DB) Dialect() Dialect { return d.dialect }

// Ping checks connectivity; used by the health endpoint.
func (d *DB) Ping(ctx context.Context) error { return d.ping(ctx) }

func (d *DB) ping(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()
	return d.sql.PingContext(ctx)
}

func (d *DB) setPragmas(ctx context.Context) error {
	_, err := d.sql.ExecContext(ctx, "PRAGMA journal_mode = WAL;")
	if err != nil {
		return err
	}
	_, err = d.sql.ExecContext(ctx, "PRAGMA foreign_keys = ON;")
	return err
}

// nowMillis is the storage timestamp: Unix milliseconds.
func (d *DB) nowMillis() int64 { return d.now().UnixMilli() }

// rebind rewrites ? placeholders to $n for PostgreSQL. Queries in this
// package never contain a literal question mark.
func (d *DB) rebind(q string) string {
	if d.dialect != Postgres {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// querier is satisfied by *sql.DB and *sql.Tx.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (d *DB) exec(ctx context.Context, q querier, query string, args ...any) (sql.Result, error) {
	return q.ExecContext(ctx, d.rebind(query), args...)
}

func (d *DB) query(ctx context.Context, q querier, query string, args ...any) (*sql.Rows, error) {
	return q.QueryContext(ctx, d.rebind(query), args...)
}

func (d *DB) queryRow(ctx context.Context, q querier, query string, args ...any) *sql.Row {
	return q.QueryRowContext(ctx, d.rebind(query), args...)
}

// inTx runs fn in a transaction, committing when fn returns nil.
func (d *DB) inTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := d.sql.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit()
}
