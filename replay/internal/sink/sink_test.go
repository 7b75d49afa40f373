package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/hazyhaar/horosreplay/dbopen"
	"github.com/hazyhaar/horosreplay/replay/record"
)

func testSegment(id, view string, index int) *record.Segment {
	fs := record.NewFullSnapshot(1000, record.FullSnapshotData{
		Node: record.Tree{Root: 1, Nodes: []record.SerializedNode{{ID: 1, Type: record.DocumentNode}}},
	})
	return &record.Segment{
		Metadata: record.Metadata{
			ID: id, SessionID: "s1", ViewID: view, CreationReason: record.CreationInit,
			FlushReason: record.FlushStop, Start: 1000 + int64(index), End: 1500, RecordsCount: 1,
			HasFullSnapshot: true, IndexInView: index, Bytes: 42,
		},
		Records: []record.Record{fs},
	}
}

func TestStdout_JSONLines(t *testing.T) {
	var buf bytes.Buffer
	s := NewStdout(&buf)
	ctx := context.Background()
	_ = s.Send(ctx, testSegment("a", "v", 0))
	_ = s.Send(ctx, testSegment("b", "v", 1))

	dec := json.NewDecoder(&buf)
	for _, want := range []string{"a", "b"} {
		var got struct {
			ID      string            `json:"id"`
			Records []json.RawMessage `json:"records"`
		}
		if err := dec.Decode(&got); err != nil {
			t.Fatal(err)
		}
		if got.ID != want || len(got.Records) != 1 {
			t.Errorf("line: got id %q with %d records", got.ID, len(got.Records))
		}
	}
}

func TestWebhook_RetriesThenSucceeds(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		if !bytes.Contains(body, []byte(`"id":"seg"`)) || r.Header.Get("X-Replay-Segment") != "seg" {
			t.Errorf("unexpected request: %s", body)
		}
		if calls.Add(1) < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusNoContent)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), testSegment("seg", "v", 0)); err != nil {
		t.Fatal(err)
	}
	if calls.Load() != 3 {
		t.Errorf("calls: got %d, want 3", calls.Load())
	}
}

func TestWebhook_ClientErrorNotRetried(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookBackoff(time.Millisecond))
	if err := w.Send(context.Background(), testSegment("seg", "v", 0)); err == nil {
		t.Fatal("expected error")
	}
	if calls.Load() != 1 {
		t.Errorf("calls: got %d, want 1", calls.Load())
	}
}

func TestWebhook_GzipAndHeaders(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Content-Encoding") != "gzip" {
			t.Errorf("content encoding: %q", r.Header.Get("Content-Encoding"))
		}
		if r.Header.Get("X-Replay-Session") != "s1" || r.Header.Get("X-Replay-View") != "v" {
			t.Errorf("headers: %v", r.Header)
		}
		zr, err := gzip.NewReader(r.Body)
		if err != nil {
			t.Errorf("gzip: %v", err)
			return
		}
		body, _ := io.ReadAll(zr)
		if !bytes.Contains(body, []byte(`"id":"seg"`)) {
			t.Errorf("body: %s", body)
		}
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	w := NewWebhook(srv.URL, WithWebhookGzip())
	defer w.Close()
	if err := w.Send(context.Background(), testSegment("seg", "v", 0)); err != nil {
		t.Fatal(err)
	}
}

func TestRouter_FanOutJoinsErrors(t *testing.T) {
	boom := errors.New("boom")
	var got []string
	r := NewRouter(nil,
		NewCallback(func(_ context.Context, seg *record.Segment) error { return boom }),
		NewCallback(func(_ context.Context, seg *record.Segment) error {
			got = append(got, seg.ID)
			return nil
		}),
	)
	if err := r.Send(context.Background(), testSegment("x", "v", 0)); !errors.Is(err, boom) {
		t.Errorf("got %v, want boom", err)
	}
	if len(got) != 1 || got[0] != "x" {
		t.Errorf("second sink: got %v", got)
	}
}

func TestStore_SendListGet(t *testing.T) {
	db := dbopen.OpenMemory(t)
	s, err := NewStore(db)
	if err != nil {
		t.Fatal(err)
	}
	ctx := context.Background()
	for i, id := range []string{"a", "b", "c"} {
		view := "v1"
		if id == "c" {
			view = "v2"
		}
		if err := s.Send(ctx, testSegment(id, view, i)); err != nil {
			t.Fatal(err)
		}
	}

	metas, err := s.List(ctx, Filter{ViewID: "v1"})
	if err != nil {
		t.Fatal(err)
	}
	if len(metas) != 2 || metas[0].ID != "a" || metas[1].ID != "b" {
		t.Fatalf("list: got %+v", metas)
	}
	if !metas[0].HasFullSnapshot || metas[0].CreationReason != record.CreationInit || metas[0].Bytes != 42 {
		t.Errorf("metadata: got %+v", metas[0])
	}

	body, err := s.Get(ctx, "c")
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Contains(body, []byte(`"view_id":"v2"`)) {
		t.Errorf("body: got %s", body)
	}
	if _, err := s.Get(ctx, "zzz"); !errors.Is(err, ErrSegmentNotFound) {
		t.Errorf("missing: got %v", err)
	}

	n, err := s.Prune(ctx, time.Now().Add(time.Hour))
	if err != nil || n != 3 {
		t.Errorf("prune: got %d, %v", n, err)
	}
}
