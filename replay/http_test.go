package replay

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/horosreplay/replay/record"
)

func httpServer(t *testing.T) (*Recorder, *collector, *httptest.Server) {
	t.Helper()
	store, err := OpenStore(filepath.Join(t.TempDir(), "segments.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	c := &collector{}
	rec := testRecorder(t, c, WithSinks(store))
	r := chi.NewRouter()
	rec.RegisterHTTP(r, store)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	return rec, c, srv
}

func do(t *testing.T, method, url, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(method, url, strings.NewReader(body))
	if err != nil {
		t.Fatal(err)
	}
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, url, err)
	}
	defer resp.Body.Close()
	var out map[string]any
	json.NewDecoder(resp.Body).Decode(&out)
	return resp.StatusCode, out
}

func TestHTTP_Control(t *testing.T) {
	rec, c, srv := httpServer(t)
	base := srv.URL + "/api/v1/replay"

	if code, _ := do(t, "POST", base+"/flush", ""); code != http.StatusConflict {
		t.Errorf("flush before start: got %d, want 409", code)
	}
	if err := rec.Start(t.Context()); err != nil {
		t.Fatal(err)
	}

	code, st := do(t, "GET", base+"/status", "")
	if code != http.StatusOK || st["state"] != "recording" || st["session_id"] != "ses-test" {
		t.Fatalf("status: got %d %v", code, st)
	}
	if code, _ := do(t, "POST", base+"/snapshot", ""); code != http.StatusOK {
		t.Errorf("snapshot: got %d", code)
	}
	if code, _ := do(t, "POST", base+"/error", `{"stack":"TypeError: x is undefined"}`); code != http.StatusOK {
		t.Errorf("error: got %d", code)
	}
	code, vc := do(t, "POST", base+"/view-change", "")
	if code != http.StatusOK || vc["view_id"] != "view-2" {
		t.Errorf("view change: got %d %v", code, vc)
	}
	if code, _ := do(t, "POST", base+"/view-change", `{not json`); code != http.StatusBadRequest {
		t.Errorf("bad body: got %d, want 400", code)
	}

	rec.Stop(context.Background())
	segs := c.all()
	if len(segs) != 2 {
		t.Fatalf("segments: got %d, want 2", len(segs))
	}
	var fs int
	for _, r := range segs[0].Records {
		if r.Type == record.TypeFullSnapshot {
			fs++
		}
	}
	if fs != 2 {
		t.Errorf("full snapshots in first view: got %d, want 2", fs)
	}
	if code, _ := do(t, "POST", base+"/flush", ""); code != http.StatusGone {
		t.Errorf("flush after stop: got %d, want 410", code)
	}
}

func TestHTTP_Segments(t *testing.T) {
	rec, _, srv := httpServer(t)
	base := srv.URL + "/api/v1/replay"
	if err := rec.Start(t.Context()); err != nil {
		t.Fatal(err)
	}
	if err := rec.Flush(); err != nil {
		t.Fatal(err)
	}

	var list []record.Metadata
	for range 200 {
		resp, err := http.Get(base + "/segments?session_id=ses-test&limit=10")
		if err != nil {
			t.Fatal(err)
		}
		list = nil
		json.NewDecoder(resp.Body).Decode(&list)
		resp.Body.Close()
		if len(list) > 0 {
			break
		}
		time.Sleep(10 * time.Millisecond)
	}
	if len(list) != 1 || list[0].FlushReason != record.FlushExplicit {
		t.Fatalf("segments: got %+v", list)
	}

	code, body := do(t, "GET", base+"/segments/"+list[0].ID, "")
	if code != http.StatusOK || body["id"] != list[0].ID {
		t.Errorf("get segment: got %d %v", code, body["id"])
	}
	if code, _ := do(t, "GET", base+"/segments/nope", ""); code != http.StatusNotFound {
		t.Errorf("unknown segment: got %d, want 404", code)
	}
}
