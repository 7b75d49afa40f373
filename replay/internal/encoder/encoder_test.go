package encoder

import (
	"testing"
	"time"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/nodeid"
	"github.com/hazyhaar/horosreplay/replay/internal/privacy"
	"github.com/hazyhaar/horosreplay/replay/internal/serialize"
	"github.com/hazyhaar/horosreplay/replay/record"
)

var t0 = time.UnixMilli(1_700_000_000_000)

type harness struct {
	doc     *dom.Document
	ser     *serialize.Serializer
	set     *Set
	records []record.Record
}

func newHarness(t *testing.T, html string, def privacy.Level) *harness {
	t.Helper()
	d, err := dom.ParseString(html, "https://example.com/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	h := &harness{doc: d}
	h.ser = serialize.New(nodeid.New(), serialize.Options{DefaultLevel: def})
	h.ser.Document(d)
	env := &Env{
		Doc:        d,
		Serializer: h.ser,
		Emit:       func(r record.Record) { h.records = append(h.records, r) },
		Now:        func() time.Time { return t0 },
	}
	h.set = NewSet(env, Options{})
	h.set.Start()
	return h
}

func (h *harness) dispatch(typ dom.EventType, target *dom.Node, at time.Duration, x, y float64) {
	h.doc.Dispatch(&dom.Event{Type: typ, Target: target, Time: t0.Add(at), ClientX: x, ClientY: y})
}

func (h *harness) click(target *dom.Node, at time.Duration) {
	h.dispatch(dom.EventMouseDown, target, at, 10, 10)
	h.dispatch(dom.EventMouseUp, target, at, 10, 10)
	h.dispatch(dom.EventClick, target, at, 10, 10)
}

func (h *harness) bySource(s record.IncrementalSource) []record.Record {
	var out []record.Record
	for _, r := range h.records {
		if r.IsSource(s) {
			out = append(out, r)
		}
	}
	return out
}

func (h *harness) mouseUpIDs() []int64 {
	var ids []int64
	for _, r := range h.bySource(record.SourceMouseInteraction) {
		if d, _ := r.Incremental(); d.(record.MouseInteractionData).Type == record.MouseUp {
			ids = append(ids, r.ID)
		}
	}
	return ids
}

func TestMouse_InteractionsGetRecordIDs(t *testing.T) {
	h := newHarness(t, `<button id="b">go</button>`, privacy.Allow)
	b := h.doc.GetElementByID("b")
	h.click(b, 0)
	h.dispatch(dom.EventFocus, b, 0, 0, 0)

	recs := h.bySource(record.SourceMouseInteraction)
	if len(recs) != 4 {
		t.Fatalf("interactions: got %d, want 4", len(recs))
	}
	for i, r := range recs {
		if r.ID != int64(i+1) {
			t.Errorf("record %d: id %d", i, r.ID)
		}
	}
	focus, _ := recs[3].Incremental()
	if fd := focus.(record.MouseInteractionData); fd.X != nil || fd.Type != record.Focus {
		t.Errorf("focus should carry no coordinates: %+v", fd)
	}
}

func TestFrustration_RageClick(t *testing.T) {
	h := newHarness(t, `<button id="b">go</button>`, privacy.Allow)
	b := h.doc.GetElementByID("b")
	for i := range 4 {
		h.click(b, time.Duration(i)*100*time.Millisecond)
		h.set.Frustration.Activity(t0.Add(time.Duration(i)*100*time.Millisecond + 10*time.Millisecond))
	}
	h.set.Tick(t0.Add(2 * time.Second))

	fr := h.bySource(record.SourceFrustration)
	if len(fr) != 1 {
		t.Fatalf("frustration records: got %d, want 1", len(fr))
	}
	d, _ := fr[0].Incremental()
	data := d.(record.FrustrationData)
	if !data.Has(record.FrustrationRage) || data.Has(record.FrustrationDead) {
		t.Errorf("types: got %v, want rage only", data.Types)
	}
	want := h.mouseUpIDs()
	if len(data.RecordIDs) != 4 {
		t.Fatalf("record ids: got %v, want %v", data.RecordIDs, want)
	}
	for i := range want {
		if data.RecordIDs[i] != want[i] {
			t.Errorf("record id %d: got %d, want %d", i, data.RecordIDs[i], want[i])
		}
	}
}

func TestFrustration_ThreeClicksAreNotRage(t *testing.T) {
	h := newHarness(t, `<button id="b">go</button>`, privacy.Allow)
	b := h.doc.GetElementByID("b")
	for i := range 3 {
		h.click(b, time.Duration(i)*100*time.Millisecond)
		h.set.Frustration.Activity(t0.Add(time.Duration(i)*100*time.Millisecond + 10*time.Millisecond))
	}
	h.set.Tick(t0.Add(2 * time.Second))
	if fr := h.bySource(record.SourceFrustration); len(fr) != 0 {
		t.Errorf("got %d frustration records, want 0", len(fr))
	}
}

func TestFrustration_DeadClick(t *testing.T) {
	h := newHarness(t, `<div id="d">static</div><input id="i">`, privacy.Allow)
	h.click(h.doc.GetElementByID("d"), 0)
	h.set.Tick(t0.Add(50 * time.Millisecond))
	if len(h.bySource(record.SourceFrustration)) != 0 {
		t.Fatal("click resolved before its delay")
	}
	h.set.Tick(t0.Add(2 * time.Second))
	fr := h.bySource(record.SourceFrustration)
	if len(fr) != 1 {
		t.Fatalf("frustration records: got %d, want 1", len(fr))
	}
	d, _ := fr[0].Incremental()
	if data := d.(record.FrustrationData); !data.Has(record.FrustrationDead) || len(data.RecordIDs) != 1 {
		t.Errorf("dead click: got %+v", data)
	}

	h.records = nil
	h.click(h.doc.GetElementByID("i"), 3*time.Second)
	h.set.Tick(t0.Add(5 * time.Second))
	if len(h.bySource(record.SourceFrustration)) != 0 {
		t.Error("clicks on text inputs are never dead")
	}
}

func TestFrustration_ErrorClick(t *testing.T) {
	h := newHarness(t, `<button id="b">go</button>`, privacy.Allow)
	h.click(h.doc.GetElementByID("b"), 0)
	h.set.Frustration.HandledError()
	h.set.Frustration.Activity(t0.Add(20 * time.Millisecond))
	h.set.Tick(t0.Add(2 * time.Second))

	fr := h.bySource(record.SourceFrustration)
	if len(fr) != 1 {
		t.Fatalf("frustration records: got %d, want 1", len(fr))
	}
	d, _ := fr[0].Incremental()
	if data := d.(record.FrustrationData); !data.Has(record.FrustrationError) || data.Has(record.FrustrationDead) {
		t.Errorf("error click: got %v", data.Types)
	}
}

func TestScroll_KeepsFinalPositionPerWindow(t *testing.T) {
	h := newHarness(t, `<div id="box"></div>`, privacy.Allow)
	box := h.doc.GetElementByID("box")
	for i := 1; i <= 5; i++ {
		box.ScrollTop = float64(i * 10)
		h.dispatch(dom.EventScroll, box, time.Duration(i)*10*time.Millisecond, 0, 0)
	}
	h.set.Tick(t0.Add(60 * time.Millisecond))
	if n := len(h.bySource(record.SourceScroll)); n != 0 {
		t.Fatalf("scroll emitted before window closed: %d", n)
	}
	h.set.Tick(t0.Add(200 * time.Millisecond))
	recs := h.bySource(record.SourceScroll)
	if len(recs) != 1 {
		t.Fatalf("scroll records: got %d, want 1", len(recs))
	}
	d, _ := recs[0].Incremental()
	if sd := d.(record.ScrollData); sd.Y != 50 {
		t.Errorf("scroll y: got %d, want 50", sd.Y)
	}
	if pos, ok := h.ser.Scroll().Get(box); !ok || pos.Top != 50 {
		t.Errorf("scroll cache: got %+v", pos)
	}
}

func TestScroll_DocumentUsesWindowOffsets(t *testing.T) {
	h := newHarness(t, `<p>x</p>`, privacy.Allow)
	h.doc.Window.ScrollY = 300
	h.dispatch(dom.EventScroll, nil, 0, 0, 0)
	h.set.Flush(t0)
	recs := h.bySource(record.SourceScroll)
	if len(recs) != 1 {
		t.Fatalf("scroll records: got %d", len(recs))
	}
	d, _ := recs[0].Incremental()
	docID, _ := h.ser.Registry().ID(h.doc.Node())
	if sd := d.(record.ScrollData); sd.ID != docID || sd.Y != 300 {
		t.Errorf("document scroll: got %+v", sd)
	}
}

func TestInput_MaskedAndDeduplicated(t *testing.T) {
	h := newHarness(t, `<input id="i">`, privacy.MaskUserInput)
	in := h.doc.GetElementByID("i")
	in.SetValue("hunter2")
	h.dispatch(dom.EventInput, in, 0, 0, 0)
	h.dispatch(dom.EventChange, in, 0, 0, 0)

	recs := h.bySource(record.SourceInput)
	if len(recs) != 1 {
		t.Fatalf("input records: got %d, want 1", len(recs))
	}
	d, _ := recs[0].Incremental()
	if got := *d.(record.InputData).Text; got != "xxxxxxx" {
		t.Errorf("text: got %q", got)
	}
}

func TestInput_RadioGroup(t *testing.T) {
	h := newHarness(t, `<input id="a" type="radio" name="g" checked><input id="b" type="radio" name="g"><input id="c" type="radio" name="other">`, privacy.Allow)
	a, b := h.doc.GetElementByID("a"), h.doc.GetElementByID("b")
	a.Checked, b.Checked = false, true
	h.dispatch(dom.EventInput, b, 0, 0, 0)

	recs := h.bySource(record.SourceInput)
	if len(recs) != 2 {
		t.Fatalf("input records: got %d, want 2", len(recs))
	}
	aid, _ := h.ser.Registry().ID(a)
	d, _ := recs[1].Incremental()
	if in := d.(record.InputData); in.ID != aid || *in.IsChecked {
		t.Errorf("sibling radio: got %+v", in)
	}
}

func TestInput_RadioGroupSkipsMaskedAndIgnored(t *testing.T) {
	h := newHarness(t, `<input id="a" type="radio" name="g" checked data-dd-privacy="mask">`+
		`<input id="b" type="radio" name="g">`+
		`<input id="c" type="radio" name="g" data-dd-privacy="input-ignored">`, privacy.Allow)
	a, b := h.doc.GetElementByID("a"), h.doc.GetElementByID("b")
	a.Checked, b.Checked = false, true
	h.dispatch(dom.EventInput, b, 0, 0, 0)

	recs := h.bySource(record.SourceInput)
	if len(recs) != 1 {
		t.Fatalf("input records: got %d, want only the target's", len(recs))
	}
	bid, _ := h.ser.Registry().ID(b)
	d, _ := recs[0].Incremental()
	if in := d.(record.InputData); in.ID != bid || !*in.IsChecked {
		t.Errorf("target radio: got %+v", in)
	}
}

func TestInput_IgnoredControl(t *testing.T) {
	h := newHarness(t, `<input id="i" data-dd-privacy="input-ignored">`, privacy.Allow)
	h.dispatch(dom.EventInput, h.doc.GetElementByID("i"), 0, 0, 0)
	if n := len(h.bySource(record.SourceInput)); n != 0 {
		t.Errorf("got %d input records, want 0", n)
	}
}

func TestStyleSheet_NestedInsert(t *testing.T) {
	h := newHarness(t, `<style id="s">@media print { p { color: red } }</style>`, privacy.Allow)
	sheet := h.doc.GetElementByID("s").Sheet
	if _, err := sheet.Rules()[0].InsertRule("b { margin: 0 }", 0); err != nil {
		t.Fatal(err)
	}
	if err := sheet.DeleteRule(0); err != nil {
		t.Fatal(err)
	}
	recs := h.bySource(record.SourceStyleSheetRule)
	if len(recs) != 2 {
		t.Fatalf("stylesheet records: got %d, want 2", len(recs))
	}
	d, _ := recs[0].Incremental()
	add := d.(record.StyleSheetRuleData).Adds[0]
	if add.Rule != "b { margin: 0 }" || len(add.Index) != 2 || add.Index[0] != 0 || add.Index[1] != 0 {
		t.Errorf("add: got %+v", add)
	}
}

func TestViewport_ResizeDeduplicated(t *testing.T) {
	h := newHarness(t, `<p>x</p>`, privacy.Allow)
	h.set.Viewport.Reset(h.doc.Window)
	h.dispatch(dom.EventResize, nil, 0, 0, 0)
	h.set.Flush(t0)
	if n := len(h.bySource(record.SourceViewportResize)); n != 0 {
		t.Fatalf("unchanged viewport emitted %d records", n)
	}
	h.doc.Window.InnerWidth = 800
	h.dispatch(dom.EventResize, nil, 0, 0, 0)
	h.set.Tick(t0.Add(time.Second))
	recs := h.bySource(record.SourceViewportResize)
	if len(recs) != 1 {
		t.Fatalf("resize records: got %d, want 1", len(recs))
	}
}

func TestMouse_MoveThrottled(t *testing.T) {
	h := newHarness(t, `<div id="d"></div>`, privacy.Allow)
	d := h.doc.GetElementByID("d")
	for i := range 5 {
		h.dispatch(dom.EventMouseMove, d, time.Duration(i)*5*time.Millisecond, float64(i), 0)
	}
	h.set.Tick(t0.Add(100 * time.Millisecond))
	recs := h.bySource(record.SourceMouseMove)
	if len(recs) != 1 {
		t.Fatalf("move records: got %d, want 1", len(recs))
	}
	data, _ := recs[0].Incremental()
	if pos := data.(record.MousePositionData).Positions[0]; pos.X != 4 {
		t.Errorf("position: got %+v, want last", pos)
	}
}

func TestHiddenTargetsProduceNothing(t *testing.T) {
	h := newHarness(t, `<div id="d" data-dd-privacy="hidden"><button id="b">x</button></div>`, privacy.Allow)
	h.click(h.doc.GetElementByID("d"), 0)
	if len(h.records) != 0 {
		t.Errorf("got %d records for a hidden target", len(h.records))
	}
}
