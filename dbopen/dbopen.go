// Package dbopen opens the SQLite databases of the recorder (segment store,
// observability) with the same pragmas everywhere:
//
//	foreign_keys = ON
//	journal_mode = WAL
//	busy_timeout = 10000
//	synchronous  = NORMAL
//
// File databases carry them as _pragma DSN parameters of modernc.org/sqlite,
// so every pooled connection gets them. In-memory databases run them once
// through EXEC. The caller blank-imports modernc.org/sqlite. Tests use
// OpenMemory.
package dbopen

import (
	"database/sql"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"testing"
)

type config struct {
	mkdirAll bool
	schemas  []string
}

// Option customises Open.
type Option func(*config)

// WithMkdirAll creates the parent directories of the database file.
func WithMkdirAll() Option { return func(c *config) { c.mkdirAll = true } }

// WithSchema queues DDL executed, in order, after the pragmas.
func WithSchema(s string) Option { return func(c *config) { c.schemas = append(c.schemas, s) } }

var pragmas = [][2]string{
	{"foreign_keys", "1"},
	{"journal_mode", "WAL"},
	{"busy_timeout", "10000"},
	{"synchronous", "NORMAL"},
}

const memory = ":memory:"

// dsn builds the data source name of path.
func dsn(path string) string {
	if path == memory {
		return path
	}
	q := url.Values{}
	for _, p := range pragmas {
		q.Add("_pragma", p[0]+"("+p[1]+")")
	}
	return "file:" + path + "?" + q.Encode()
}

// Open opens the SQLite database at path, applies the pragmas and the
// queued schemas, and pings it.
func Open(path string, opts ...Option) (*sql.DB, error) {
	var cfg config
	for _, o := range opts {
		o(&cfg)
	}
	if cfg.mkdirAll && path != memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("dbopen: mkdir: %w", err)
		}
	}

	db, err := sql.Open("sqlite", dsn(path))
	if err != nil {
		return nil, fmt.Errorf("dbopen: open: %w", err)
	}
	if path == memory {
		for _, p := range pragmas {
			if _, err := db.Exec("PRAGMA " + p[0] + " = " + p[1]); err != nil {
				db.Close()
				return nil, fmt.Errorf("dbopen: pragma %s: %w", p[0], err)
			}
		}
	}
	for _, s := range cfg.schemas {
		if _, err := db.Exec(s); err != nil {
			db.Close()
			return nil, fmt.Errorf("dbopen: exec schema: %w", err)
		}
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("dbopen: ping: %w", err)
	}
	return db, nil
}

// OpenMemory opens an in-memory database closed by t.Cleanup. It is pinned
// to one connection: every connection to ":memory:" is a new database.
func OpenMemory(t testing.TB, opts ...Option) *sql.DB {
	t.Helper()
	db, err := Open(memory, opts...)
	if err != nil {
		t.Fatalf("dbopen.OpenMemory: %v", err)
	}
	db.SetMaxOpenConns(1)
	t.Cleanup(func() { db.Close() })
	return db
}
