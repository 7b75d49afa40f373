package browser

import (
	"errors"
	"testing"
	"time"
)

func TestParseMode(t *testing.T) {
	for in, want := range map[string]Mode{"": ModeHeadless, "headless": ModeHeadless, "headful": ModeHeadful} {
		got, err := ParseMode(in)
		if err != nil || got != want {
			t.Errorf("ParseMode(%q): got %v, %v", in, got, err)
		}
	}
	if _, err := ParseMode("kiosk"); err == nil {
		t.Error("unknown mode should fail")
	}
}

func TestBlockSet(t *testing.T) {
	set := blockSet([]string{"Images", " fonts", "media", "xhr"})
	for _, typ := range []string{"image", "font", "media", "xhr"} {
		if !set[typ] {
			t.Errorf("%s should be blocked", typ)
		}
	}
	if set["stylesheet"] || set["document"] {
		t.Errorf("unexpected entries: %v", set)
	}
}

func TestManager_Defaults(t *testing.T) {
	m := NewManager(Config{})
	if m.cfg.MemoryLimit != 1<<30 || m.cfg.RecycleInterval != 4*time.Hour || m.cfg.CheckInterval != 30*time.Second {
		t.Errorf("defaults: got %+v", m.cfg)
	}
	if m.Browser() != nil {
		t.Error("no browser before Start")
	}
}

func TestManager_Closed(t *testing.T) {
	m := NewManager(Config{})
	if err := m.Close(); err != nil {
		t.Fatal(err)
	}
	if _, err := m.Start(t.Context()); !errors.Is(err, ErrClosed) {
		t.Errorf("Start: got %v, want ErrClosed", err)
	}
	if err := m.Recycle(); !errors.Is(err, ErrClosed) {
		t.Errorf("Recycle: got %v, want ErrClosed", err)
	}
}

func TestXvfbSocket(t *testing.T) {
	for display, want := range map[string]string{
		":99":  "/tmp/.X11-unix/X99",
		":1.0": "/tmp/.X11-unix/X1",
		"42":   "/tmp/.X11-unix/X42",
	} {
		if got := xvfbSocket(display); got != want {
			t.Errorf("xvfbSocket(%q): got %q, want %q", display, got, want)
		}
	}
}
