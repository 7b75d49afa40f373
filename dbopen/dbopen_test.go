package dbopen

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	_ "modernc.org/sqlite"
)

const segmentsDDL = `CREATE TABLE IF NOT EXISTS segments (id TEXT PRIMARY KEY, body BLOB NOT NULL)`

func TestOpen_Pragmas(t *testing.T) {
	db := OpenMemory(t)
	checks := map[string]int{
		"foreign_keys": 1,
		"synchronous":  1, // NORMAL
		"busy_timeout": 10_000,
	}
	for pragma, want := range checks {
		var got int
		if err := db.QueryRow("PRAGMA " + pragma).Scan(&got); err != nil {
			t.Fatalf("%s: %v", pragma, err)
		}
		if got != want {
			t.Errorf("%s: got %d, want %d", pragma, got, want)
		}
	}
}

func TestOpen_FileWithSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "data", "replay", "segments.db")
	db, err := Open(path, WithMkdirAll(), WithSchema(segmentsDDL))
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	defer db.Close()
	if _, err := os.Stat(path); err != nil {
		t.Fatalf("database file: %v", err)
	}

	var mode string
	if err := db.QueryRow("PRAGMA journal_mode").Scan(&mode); err != nil {
		t.Fatal(err)
	}
	if mode != "wal" {
		t.Errorf("journal_mode: got %q, want wal", mode)
	}
	if _, err := db.Exec(`INSERT INTO segments (id, body) VALUES ('seg-1', '{}')`); err != nil {
		t.Fatalf("insert: %v", err)
	}
}

func TestDSN(t *testing.T) {
	if got := dsn(":memory:"); got != ":memory:" {
		t.Errorf("memory dsn: got %q", got)
	}
	got := dsn("data/segments.db")
	if !strings.HasPrefix(got, "file:data/segments.db?") {
		t.Fatalf("file dsn: got %q", got)
	}
	if n := strings.Count(got, "_pragma="); n != len(pragmas) {
		t.Errorf("pragma params: got %d, want %d in %q", n, len(pragmas), got)
	}
}

func TestOpen_PragmasOnEveryConnection(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "pool.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()
	ctx := context.Background()

	// Hold one connection so the query below needs a second one.
	held, err := db.Conn(ctx)
	if err != nil {
		t.Fatal(err)
	}
	defer held.Close()

	var timeout int
	if err := db.QueryRowContext(ctx, "PRAGMA busy_timeout").Scan(&timeout); err != nil {
		t.Fatal(err)
	}
	if timeout != 10_000 {
		t.Errorf("busy_timeout on second connection: got %d", timeout)
	}
}

func TestOpen_BadSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.db")
	if _, err := Open(path, WithSchema("CREATE NONSENSE")); err == nil {
		t.Fatal("invalid schema should fail")
	}
}

func TestIsBusy(t *testing.T) {
	cases := []struct {
		err  error
		want bool
	}{
		{nil, false},
		{errors.New("no such table: segments"), false},
		{errors.New("database is locked"), true},
		{errors.New("exec: database table is locked"), true},
		{sql.ErrNoRows, false},
	}
	for _, c := range cases {
		if got := IsBusy(c.err); got != c.want {
			t.Errorf("IsBusy(%v): got %v, want %v", c.err, got, c.want)
		}
	}
}

func TestRetry_BusyThenSuccess(t *testing.T) {
	defer func(d time.Duration) { RetryBackoff = d }(RetryBackoff)
	RetryBackoff = time.Millisecond

	calls := 0
	v, err := retry(context.Background(), "test", func() (int, error) {
		calls++
		if calls < 3 {
			return 0, errors.New("database is locked")
		}
		return 42, nil
	})
	if err != nil || v != 42 {
		t.Fatalf("retry: got %d, %v", v, err)
	}
	if calls != 3 {
		t.Errorf("calls: got %d, want 3", calls)
	}
}

func TestRetry_GivesUp(t *testing.T) {
	defer func(d time.Duration) { RetryBackoff = d }(RetryBackoff)
	RetryBackoff = time.Millisecond

	busy := errors.New("database is locked")
	calls := 0
	_, err := retry(context.Background(), "test", func() (int, error) {
		calls++
		return 0, busy
	})
	if !errors.Is(err, busy) || calls != Retries {
		t.Fatalf("got %v after %d calls", err, calls)
	}

	calls = 0
	other := errors.New("constraint failed")
	if _, err := retry(context.Background(), "test", func() (int, error) {
		calls++
		return 0, other
	}); !errors.Is(err, other) || calls != 1 {
		t.Errorf("non-busy error should not be retried: %v after %d calls", err, calls)
	}
}

func TestRetry_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := retry(ctx, "test", func() (int, error) {
		return 0, errors.New("database is locked")
	})
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("got %v, want context.Canceled", err)
	}
}

func TestRunTx_CommitAndRollback(t *testing.T) {
	db := OpenMemory(t, WithSchema(segmentsDDL))
	ctx := context.Background()

	err := RunTx(ctx, db, func(tx *sql.Tx) error {
		_, err := tx.Exec(`INSERT INTO segments (id, body) VALUES ('seg-1', '{}')`)
		return err
	})
	if err != nil {
		t.Fatalf("commit: %v", err)
	}

	sentinel := errors.New("abort")
	err = RunTx(ctx, db, func(tx *sql.Tx) error {
		tx.Exec(`INSERT INTO segments (id, body) VALUES ('seg-2', '{}')`)
		return sentinel
	})
	if !errors.Is(err, sentinel) {
		t.Fatalf("rollback: got %v, want sentinel", err)
	}

	var n int
	db.QueryRow(`SELECT COUNT(*) FROM segments`).Scan(&n)
	if n != 1 {
		t.Fatalf("rows: got %d, want 1", n)
	}
}

func TestExec(t *testing.T) {
	db := OpenMemory(t, WithSchema(segmentsDDL))
	res, err := Exec(context.Background(), db, `INSERT INTO segments (id, body) VALUES (?, ?)`, "seg-1", []byte("{}"))
	if err != nil {
		t.Fatalf("exec: %v", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		t.Errorf("rows affected: got %d, want 1", n)
	}
}
