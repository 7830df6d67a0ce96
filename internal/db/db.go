// Package db persists digest runs and per-file records in SQLite or PostgreSQL.
package db

import (
	"context"
	"database/sql"
	"path/filepath"
	"strconv"
	"strings"

	_ "modernc.org/sqlite"
)

const (
	// busyTimeoutMS is how long a writer waits on a locked database before
	// SQLITE_BUSY surfaces and RetryOnBusy takes over.
	busyTimeoutMS = 30000
	// readOnlyBusyTimeoutMS bounds API reads. WAL readers rarely wait.
	readOnlyBusyTimeoutMS = 5000
)

// pragmas builds the DSN query applied to every pooled connection.
func pragmas(busyMS int, extra ...string) string {
	q := "_pragma=busy_timeout(" + strconv.Itoa(busyMS) + ")"
	for _, p := range extra {
		q += "&_pragma=" + p
	}
	return q
}

// Dialect selects SQL differences between the two backends.
type Dialect int

const (
	SQLite Dialect = iota
	Postgres
)

// Store is a history database. Queries are written with '?' placeholders and
// rebound for PostgreSQL.
type Store struct {
	db      *sql.DB
	dialect Dialect
}

// Open opens a SQLite database at path and enables WAL mode for better
// write throughput. The caller must call Close when done.
// For in-memory DB use path ":memory:". With ":memory:", the URI form
// file::memory:?cache=shared is used so all connections in the pool share
// the same database (otherwise each connection gets its own empty DB).
func Open(path string) (*Store, error) {
	// foreign_keys is per connection, so it goes in the DSN with the timeout.
	params := pragmas(busyTimeoutMS, "foreign_keys(1)")
	dsn := path
	if path == ":memory:" {
		dsn = "file::memory:?cache=shared&" + params
	} else {
		sep := "?"
		if strings.Contains(path, "?") {
			sep = "&"
		}
		dsn = path + sep + params
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, err
	}

	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}

	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		_ = db.Close()
		return nil, err
	}

	return &Store{db: db, dialect: SQLite}, nil
}

// OpenReadOnly opens a read-only SQLite connection to the same database file.
// In WAL mode, readers don't block on writers, so API handlers stay
// responsive while a batch run is writing. Returns (nil, nil) for ":memory:".
func OpenReadOnly(path string) (*Store, error) {
	if path == ":memory:" {
		return nil, nil
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	// URI with mode=ro; forward slashes for SQLite URI
	uri := "file:" + filepath.ToSlash(abs) + "?mode=ro&" + pragmas(readOnlyBusyTimeoutMS)
	db, err := sql.Open("sqlite", uri)
	if err != nil {
		return nil, err
	}
	if err := db.Ping(); err != nil {
		_ = db.Close()
		return nil, err
	}
	return &Store{db: db, dialect: SQLite}, nil
}

// Dialect reports which backend the store talks to.
func (s *Store) Dialect() Dialect { return s.dialect }

// DB exposes the underlying pool.
func (s *Store) DB() *sql.DB { return s.db }

// Ping checks the connection.
func (s *Store) Ping(ctx context.Context) error { return s.db.PingContext(ctx) }

// Close closes the pool.
func (s *Store) Close() error { return s.db.Close() }

// rebind rewrites '?' placeholders to $1, $2, ... for PostgreSQL.
// Queries never contain literal question marks.
func (s *Store) rebind(query string) string {
	if s.dialect != Postgres {
		return query
	}
	var b strings.Builder
	b.Grow(len(query) + 8)
	n := 0
	for i := 0; i < len(query); i++ {
		if query[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(query[i])
	}
	return b.String()
}

func (s *Store) exec(ctx context.Context, query string, args ...any) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.rebind(query), args...)
}

func (s *Store) query(ctx context.Context, query string, args ...any) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.rebind(query), args...)
}

func (s *Store) queryRow(ctx context.Context, query string, args ...any) *sql.Row {
	return s.db.QueryRowContext(ctx, s.rebind(query), args...)
}
