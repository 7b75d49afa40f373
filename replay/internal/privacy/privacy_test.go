package privacy

import (
	"testing"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

func parse(t *testing.T, s string) *dom.Document {
	t.Helper()
	d, err := dom.ParseString(s, "https://example.com/")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	return d
}

func TestMarkers_ConflictResolvesToStrictest(t *testing.T) {
	d := parse(t, `
		<p id="a" data-dd-privacy="allow" class="dd-privacy-hidden"></p>
		<p id="b" data-dd-privacy="mask" class="dd-privacy-mask-user-input"></p>
		<p id="c" class="dd-privacy-allow dd-privacy-mask"></p>`)
	cases := map[string]Level{"a": Hidden, "b": MaskUserInput, "c": Mask}
	for id, want := range cases {
		got, ok := Markers(d.GetElementByID(id)).Level()
		if !ok || got != want {
			t.Errorf("%s: got %s, want %s", id, got, want)
		}
	}
}

func TestEffective_HiddenDominates(t *testing.T) {
	d := parse(t, `<div data-dd-privacy="hidden"><p id="p" data-dd-privacy="allow">x</p></div>`)
	if got := Effective(d.GetElementByID("p"), Allow, Cache{}); got != Hidden {
		t.Errorf("got %s, want hidden", got)
	}
}

func TestEffective_InheritsAndOverrides(t *testing.T) {
	d := parse(t, `<div data-dd-privacy="mask"><p id="in">x</p><p id="ok" data-dd-privacy="allow">y</p></div><p id="out">z</p>`)
	c := Cache{}
	if got := Effective(d.GetElementByID("in"), Allow, c); got != Mask {
		t.Errorf("inherited: got %s, want mask", got)
	}
	if got := Effective(d.GetElementByID("ok"), Allow, c); got != Allow {
		t.Errorf("override: got %s, want allow", got)
	}
	if got := Effective(d.GetElementByID("out"), MaskUserInput, c); got != MaskUserInput {
		t.Errorf("default: got %s, want mask-user-input", got)
	}
}

func TestEffective_ShadowRootInheritsHost(t *testing.T) {
	d := parse(t, `<div id="host" data-dd-privacy="mask"><template shadowrootmode="open"><span id="s">x</span></template></div>`)
	if got := Effective(d.GetElementByID("s"), Allow, nil); got != Mask {
		t.Errorf("shadow content: got %s, want mask", got)
	}
}

func TestSelfLevel_ForcedElements(t *testing.T) {
	d := parse(t, `<head><base href="/" data-dd-privacy="hidden"></head>
		<input id="pw" type="password" data-dd-privacy="allow">
		<input id="cc" autocomplete="cc-number">
		<input id="txt">`)
	if l, _ := SelfLevel(d.Find(func(n *dom.Node) bool { return n.Name == "base" })[0]); l != Allow {
		t.Errorf("base: got %s, want allow", l)
	}
	if l, _ := SelfLevel(d.GetElementByID("pw")); l != Mask {
		t.Errorf("password: got %s, want mask", l)
	}
	if l, _ := SelfLevel(d.GetElementByID("cc")); l != Mask {
		t.Errorf("cc input: got %s, want mask", l)
	}
	if _, ok := SelfLevel(d.GetElementByID("txt")); ok {
		t.Error("plain input should carry no self level")
	}
}

func TestInputIgnored(t *testing.T) {
	d := parse(t, `<form data-dd-privacy="input-ignored"><input id="i"></form><input id="j">`)
	if !InputIgnored(d.GetElementByID("i")) {
		t.Error("input inside ignored form should be ignored")
	}
	if InputIgnored(d.GetElementByID("j")) {
		t.Error("plain input should not be ignored")
	}
	if l := Effective(d.GetElementByID("i"), Allow, nil); l != MaskUserInput {
		t.Errorf("input-ignored level: got %s, want mask-user-input", l)
	}
}

func TestShouldMask_MaskUserInput(t *testing.T) {
	d := parse(t, `<p id="p">text</p><textarea id="t">secret</textarea><input id="i">`)
	p := d.GetElementByID("p")
	if !ShouldMask(p.FirstChild(), MaskUserInput) {
		t.Error("text must be masked under mask-user-input")
	}
	if !ShouldMask(d.GetElementByID("t").FirstChild(), MaskUserInput) {
		t.Error("textarea text must be masked under mask-user-input")
	}
	if !ShouldMask(d.GetElementByID("i"), MaskUserInput) {
		t.Error("input value must be masked under mask-user-input")
	}
	if ShouldMask(p, MaskUserInput) {
		t.Error("a non-form element is not masked under mask-user-input")
	}
	if ShouldMask(p.FirstChild(), Allow) {
		t.Error("nothing is masked under allow")
	}
}

func TestMaskText_SameLength(t *testing.T) {
	for _, s := range []string{"", "hello world", "héllo ✓"} {
		got := MaskText(s)
		if len([]rune(got)) != len([]rune(s)) {
			t.Errorf("%q: length %d, want %d", s, len([]rune(got)), len([]rune(s)))
		}
		for _, r := range got {
			if r != MaskChar {
				t.Errorf("%q: unexpected rune %q", s, r)
			}
		}
	}
}
