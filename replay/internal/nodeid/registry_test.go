package nodeid

import (
	"errors"
	"testing"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

func TestGetOrAssign_Idempotent(t *testing.T) {
	d, err := dom.ParseString(`<p id="a">x</p><p id="b"></p>`, "")
	if err != nil {
		t.Fatal(err)
	}
	r := New()
	a, b := d.GetElementByID("a"), d.GetElementByID("b")
	ida := r.GetOrAssign(a)
	idb := r.GetOrAssign(b)
	if ida == idb {
		t.Fatalf("distinct nodes share id %d", ida)
	}
	if again := r.GetOrAssign(a); again != ida {
		t.Errorf("second GetOrAssign: got %d, want %d", again, ida)
	}
	n, err := r.Resolve(ida)
	if err != nil || n != a {
		t.Errorf("Resolve(%d): got %v, %v", ida, n, err)
	}
}

func TestResolve_DetachedNodeKeepsID(t *testing.T) {
	d, _ := dom.ParseString(`<p id="a"></p>`, "")
	r := New()
	a := d.GetElementByID("a")
	id := r.GetOrAssign(a)
	a.Remove()
	if n, err := r.Resolve(id); err != nil || n != a {
		t.Errorf("detached node should still resolve: %v", err)
	}
}

func TestForget_SubtreeAndNoReuse(t *testing.T) {
	d, _ := dom.ParseString(`<div id="a"><span id="s"></span></div>`, "")
	r := New()
	div, span := d.GetElementByID("a"), d.GetElementByID("s")
	idDiv := r.GetOrAssign(div)
	idSpan := r.GetOrAssign(span)

	r.Forget(idDiv)
	if _, err := r.Resolve(idSpan); !errors.Is(err, ErrNotFound) {
		t.Errorf("descendant should be forgotten, got %v", err)
	}
	if r.Len() != 0 {
		t.Errorf("len: got %d, want 0", r.Len())
	}
	if fresh := r.GetOrAssign(div); fresh <= idSpan {
		t.Errorf("ids must not be reused: got %d after %d", fresh, idSpan)
	}
}

func TestResolve_Unknown(t *testing.T) {
	if _, err := New().Resolve(42); !errors.Is(err, ErrNotFound) {
		t.Errorf("got %v, want ErrNotFound", err)
	}
}
