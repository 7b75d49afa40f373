package observability

import (
	"database/sql"
	"fmt"
	"testing"
	"time"

	_ "modernc.org/sqlite"

	"github.com/hazyhaar/horosreplay/dbopen"
)

func setupObsDB(t *testing.T) *sql.DB {
	t.Helper()
	return dbopen.OpenMemory(t, dbopen.WithSchema(Schema))
}

func TestInit_CreatesTables(t *testing.T) {
	db := setupObsDB(t)
	for _, table := range []string{"replay_metrics", "recording_events"} {
		var count int
		db.QueryRow("SELECT COUNT(*) FROM sqlite_master WHERE type='table' AND name=?", table).Scan(&count)
		if count != 1 {
			t.Fatalf("table %s not found", table)
		}
	}
	if err := Init(db); err != nil {
		t.Fatalf("Init should be idempotent: %v", err)
	}
}

func TestMetricsManager_RecordAndQuery(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)

	mm.Count(MetricSegments, 3, map[string]string{"session": "ses_1"})
	mm.Record(&Metric{Name: MetricSegmentBytes, Value: 2048, Unit: "bytes"})
	mm.Close()

	got, err := mm.Query(t.Context(), MetricSegments, time.Time{}, time.Time{}, 10)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 1 {
		t.Fatalf("metrics: got %d, want 1", len(got))
	}
	if got[0].Value != 3 || got[0].Labels["session"] != "ses_1" || got[0].Unit != "count" {
		t.Errorf("metric: got %+v", got[0])
	}

	all, _ := mm.Query(t.Context(), "", time.Time{}, time.Time{}, 0)
	if len(all) != 2 {
		t.Errorf("all metrics: got %d, want 2", len(all))
	}
}

func TestMetricsManager_FlushOnFullBuffer(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 2, time.Hour, nil)
	defer mm.Close()

	mm.Count(MetricRecords, 1, nil)
	mm.Count(MetricRecords, 2, nil)

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		var n int
		db.QueryRow("SELECT COUNT(*) FROM replay_metrics").Scan(&n)
		if n == 2 {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatal("full buffer was not written")
}

func TestMetricsManager_Cleanup(t *testing.T) {
	db := setupObsDB(t)
	mm := NewMetricsManager(db, 100, time.Hour, nil)
	mm.Record(&Metric{Name: "old", Timestamp: time.Now().Add(-48 * time.Hour), Value: 1})
	mm.Record(&Metric{Name: "new", Value: 1})
	mm.Close()

	n, err := mm.Cleanup(t.Context(), time.Now().Add(-24*time.Hour))
	if err != nil {
		t.Fatal(err)
	}
	if n != 1 {
		t.Errorf("deleted: got %d, want 1", n)
	}
}

func TestEventLog_Session(t *testing.T) {
	db := setupObsDB(t)
	seq := 0
	log := NewEventLog(db, WithEventIDGenerator(func() string {
		seq++
		return fmt.Sprintf("evt_%d", seq)
	}))
	base := time.UnixMilli(1_700_000_000_000)
	log.Log(t.Context(), Event{SessionID: "s1", ViewID: "v1", Action: "started", At: base})
	log.Log(t.Context(), Event{SessionID: "s1", ViewID: "v2", Action: "view-change", Details: `{"url":"/b"}`, At: base.Add(time.Second)})
	log.Log(t.Context(), Event{SessionID: "s2", Action: "started", At: base})

	evs, err := log.Session(t.Context(), "s1")
	if err != nil {
		t.Fatal(err)
	}
	if len(evs) != 2 {
		t.Fatalf("events: got %d, want 2", len(evs))
	}
	if evs[1].Action != "view-change" || evs[1].ViewID != "v2" || evs[1].Details != `{"url":"/b"}` {
		t.Errorf("second event: got %+v", evs[1])
	}
	if !evs[0].At.Equal(base) {
		t.Errorf("time: got %v, want %v", evs[0].At, base)
	}

	n, err := log.Cleanup(t.Context(), base.Add(time.Millisecond))
	if err != nil || n != 2 {
		t.Errorf("cleanup: got %d, %v; want 2", n, err)
	}
}
