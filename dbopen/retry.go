package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"
)

// Retries is the number of attempts of RunTx and Exec. Attempt n waits
// n*RetryBackoff before running.
var (
	Retries      = 3
	RetryBackoff = 100 * time.Millisecond
)

// IsBusy reports whether err is SQLITE_BUSY or SQLITE_LOCKED: another
// connection holds the lock and the statement may succeed later.
func IsBusy(err error) bool {
	if err == nil {
		return false
	}
	var se *sqlite.Error
	if errors.As(err, &se) {
		switch se.Code() & 0xff {
		case sqlite3.SQLITE_BUSY, sqlite3.SQLITE_LOCKED:
			return true
		}
		return false
	}
	msg := err.Error()
	return strings.Contains(msg, "database is locked") || strings.Contains(msg, "database table is locked")
}

// RunTx runs fn in a transaction, retrying the whole transaction while the
// database is busy. fn may run more than once.
func RunTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	_, err := retry(ctx, "tx", func() (struct{}, error) {
		return struct{}{}, runOnce(ctx, db, fn)
	})
	return err
}

func runOnce(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("dbopen: begin: %w", err)
	}
	if err := fn(tx); err != nil {
		tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("dbopen: commit: %w", err)
	}
	return nil
}

// Exec runs one statement, retrying while the database is busy.
func Exec(ctx context.Context, db *sql.DB, query string, args ...any) (sql.Result, error) {
	return retry(ctx, "exec", func() (sql.Result, error) {
		return db.ExecContext(ctx, query, args...)
	})
}

func retry[T any](ctx context.Context, op string, fn func() (T, error)) (T, error) {
	var (
		v   T
		err error
	)
	for attempt := 1; attempt <= Retries; attempt++ {
		if attempt > 1 {
			t := time.NewTimer(time.Duration(attempt-1) * RetryBackoff)
			select {
			case <-ctx.Done():
				t.Stop()
				return v, fmt.Errorf("dbopen: %s: %w (last error: %v)", op, ctx.Err(), err)
			case <-t.C:
			}
		}
		v, err = fn()
		if err == nil || !IsBusy(err) {
			return v, err
		}
	}
	return v, fmt.Errorf("dbopen: %s: still busy after %d attempts: %w", op, Retries, err)
}
