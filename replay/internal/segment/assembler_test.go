package segment

import (
	"errors"
	"testing"
	"time"

	"github.com/hazyhaar/horosreplay/idgen"
	"github.com/hazyhaar/horosreplay/replay/record"
)

func full(ts int64) record.Record {
	return record.NewFullSnapshot(ts, record.FullSnapshotData{Node: record.Tree{Root: 1, Nodes: []record.SerializedNode{{ID: 1}}}})
}

func scroll(ts int64) record.Record {
	return record.NewIncremental(ts, record.ScrollData{ID: 1, X: 0, Y: int(ts)})
}

func TestPush_RequiresFullSnapshotFirst(t *testing.T) {
	a := New(Limits{}, idgen.Sequence("seg-"))
	if _, err := a.Push(scroll(1)); !errors.Is(err, ErrFullSnapshotRequired) {
		t.Fatalf("got %v, want ErrFullSnapshotRequired", err)
	}
	if a.State() != Empty {
		t.Errorf("state: got %s, want empty", a.State())
	}
	if _, err := a.Push(full(1)); err != nil {
		t.Fatal(err)
	}
	if a.State() != Open {
		t.Errorf("state: got %s, want open", a.State())
	}
}

func TestSealAndTake_HandsOffAndEmpties(t *testing.T) {
	a := New(Limits{}, idgen.Sequence("seg-"))
	if _, err := a.Push(full(1)); err != nil {
		t.Fatal(err)
	}
	sealed := a.SealAndTake(record.FlushExplicit)
	if a.State() != Empty || a.Len() != 0 {
		t.Fatalf("after seal: state %s, %d records", a.State(), a.Len())
	}
	if _, err := a.Push(scroll(2)); err != nil {
		t.Fatal(err)
	}
	if len(sealed.Records) != 1 || sealed.RecordsCount != 1 {
		t.Errorf("sealed segment changed after a later push: %+v", sealed.Metadata)
	}
}

func TestSealAndTake_Metadata(t *testing.T) {
	a := New(Limits{}, idgen.Sequence("seg-"))
	a.SetView("sess", "view-1")
	for _, r := range []record.Record{full(100), scroll(150), scroll(120)} {
		if _, err := a.Push(r); err != nil {
			t.Fatal(err)
		}
	}
	s := a.SealAndTake(record.FlushExplicit)
	if s.ID != "seg-1" || s.SessionID != "sess" || s.ViewID != "view-1" {
		t.Errorf("ids: got %+v", s.Metadata)
	}
	if s.Start != 100 || s.End != 150 || s.RecordsCount != 3 || !s.HasFullSnapshot {
		t.Errorf("metadata: got %+v", s.Metadata)
	}
	if s.Records[2].Timestamp != 150 {
		t.Errorf("timestamps must not decrease: got %d", s.Records[2].Timestamp)
	}
	if s.CreationReason != record.CreationInit || s.FlushReason != record.FlushExplicit {
		t.Errorf("reasons: got %s/%s", s.CreationReason, s.FlushReason)
	}
	if a.SealAndTake(record.FlushExplicit) != nil {
		t.Error("sealing an empty assembler returns nil")
	}
}

func TestPush_ExplicitFlushAllowsIncrementalStart(t *testing.T) {
	a := New(Limits{}, idgen.Sequence("seg-"))
	_, _ = a.Push(full(1))
	a.SealAndTake(record.FlushExplicit)
	if a.NeedsFullSnapshot() {
		t.Fatal("explicit-flush segments may start with incrementals")
	}
	if _, err := a.Push(scroll(2)); err != nil {
		t.Fatal(err)
	}
	s := a.SealAndTake(record.FlushViewChange)
	if s.CreationReason != record.CreationExplicitFlush || s.HasFullSnapshot || s.IndexInView != 1 {
		t.Errorf("metadata: got %+v", s.Metadata)
	}
	if !a.NeedsFullSnapshot() {
		t.Error("after a view change the next segment needs a full snapshot")
	}
}

func TestPush_SealsAtMaxDuration(t *testing.T) {
	a := New(Limits{MaxDuration: time.Second}, idgen.Sequence("seg-"))
	pushes := 0
	var sealed *record.Segment
	for ts := int64(0); sealed == nil; ts += 100 {
		r := scroll(ts)
		if ts == 0 {
			r = full(0)
		}
		var err error
		sealed, err = a.Push(r)
		if err != nil {
			t.Fatal(err)
		}
		pushes++
	}
	if sealed.RecordsCount != pushes || sealed.End-sealed.Start != 1000 {
		t.Errorf("sealed %d records over %dms after %d pushes", sealed.RecordsCount, sealed.End-sealed.Start, pushes)
	}
	if sealed.FlushReason != record.FlushMaxDuration || a.State() != Empty {
		t.Errorf("flush reason %s, state %s", sealed.FlushReason, a.State())
	}
	if a.NextCreation() != record.CreationMaxDuration {
		t.Errorf("next creation: got %s", a.NextCreation())
	}
}

func TestPush_SealsAtMaxSize(t *testing.T) {
	a := New(Limits{MaxBytes: 300}, idgen.Sequence("seg-"))
	pushes := 0
	var sealed *record.Segment
	for ts := int64(0); sealed == nil; ts++ {
		r := scroll(ts)
		if ts == 0 {
			r = full(0)
		}
		sealed, _ = a.Push(r)
		pushes++
	}
	if sealed.RecordsCount != pushes || sealed.Bytes < 300 {
		t.Errorf("sealed %d records (%d bytes) after %d pushes", sealed.RecordsCount, sealed.Bytes, pushes)
	}
	if sealed.FlushReason != record.FlushMaxSize {
		t.Errorf("flush reason: got %s", sealed.FlushReason)
	}
}

func TestExpired(t *testing.T) {
	a := New(Limits{MaxDuration: time.Second}, idgen.Sequence("seg-"))
	if a.Expired(5000) {
		t.Error("empty assembler cannot expire")
	}
	_, _ = a.Push(full(1000))
	if a.Expired(1999) || !a.Expired(2000) {
		t.Error("expiry boundary wrong")
	}
}
