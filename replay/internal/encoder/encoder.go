// Package encoder turns UI events, CSSOM edits and errors into incremental
// snapshot records. Encoders are driven by one goroutine: Handle for each
// event, Tick on the recorder heartbeat, Flush before a segment is sealed.
package encoder

import (
	"log/slog"
	"math"
	"time"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/privacy"
	"github.com/hazyhaar/horosreplay/replay/internal/serialize"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// Env is what every encoder shares.
type Env struct {
	Doc        *dom.Document
	Serializer *serialize.Serializer
	Emit       func(record.Record)
	Now        func() time.Time
	Logger     *slog.Logger

	dropped int
}

func (e *Env) now() time.Time {
	if e.Now != nil {
		return e.Now()
	}
	return time.Now()
}

func (e *Env) logger() *slog.Logger {
	if e.Logger != nil {
		return e.Logger
	}
	return slog.Default()
}

func (e *Env) eventTime(ev *dom.Event) time.Time {
	if ev.Time.IsZero() {
		return e.now()
	}
	return ev.Time
}

func (e *Env) level(n *dom.Node) privacy.Level {
	return privacy.Effective(n, e.Serializer.Options().DefaultLevel, nil)
}

// target resolves the id of a visible event target. Hidden or unknown
// targets produce no record.
func (e *Env) target(n *dom.Node) (record.NodeID, bool) {
	if n == nil {
		return 0, false
	}
	id, ok := e.Serializer.Registry().ID(n)
	if !ok {
		e.dropped++
		return 0, false
	}
	if e.level(n) == privacy.Hidden {
		return 0, false
	}
	return id, true
}

func round(f float64) int { return int(math.Round(f)) }

// Throttle configures the trailing windows of the sampled sources.
type Throttle struct {
	Scroll         time.Duration
	MouseMove      time.Duration
	ViewportResize time.Duration
}

// DefaultThrottle matches the browser recorder windows.
var DefaultThrottle = Throttle{
	Scroll:         100 * time.Millisecond,
	MouseMove:      50 * time.Millisecond,
	ViewportResize: 200 * time.Millisecond,
}

// trailing keeps the last value put during a window and releases it when
// the window closes.
type trailing[T any] struct {
	window   time.Duration
	deadline time.Time
	value    T
	pending  bool
}

func (t *trailing[T]) put(now time.Time, v T) {
	t.value = v
	if !t.pending {
		t.pending = true
		t.deadline = now.Add(t.window)
	}
}

func (t *trailing[T]) due(now time.Time) (T, bool) {
	if !t.pending || now.Before(t.deadline) {
		var zero T
		return zero, false
	}
	return t.take()
}

func (t *trailing[T]) take() (T, bool) {
	v, ok := t.value, t.pending
	var zero T
	t.value, t.pending = zero, false
	return v, ok
}

// Options configure a Set.
type Options struct {
	Throttle    Throttle
	Frustration FrustrationOptions
}

// Set bundles every encoder of a recorder.
type Set struct {
	env *Env

	Mouse       *Mouse
	Scroll      *Scroll
	Viewport    *Viewport
	Input       *Input
	StyleSheet  *StyleSheet
	Media       *Media
	Frustration *Frustration

	unsubscribe []func()
}

// NewSet builds the encoders over env.
func NewSet(env *Env, opts Options) *Set {
	th := opts.Throttle
	if th == (Throttle{}) {
		th = DefaultThrottle
	}
	s := &Set{env: env}
	s.Frustration = NewFrustration(env, opts.Frustration)
	s.Mouse = NewMouse(env, th.MouseMove, s.Frustration)
	s.Scroll = NewScroll(env, th.Scroll)
	s.Viewport = NewViewport(env, th.ViewportResize)
	s.Input = NewInput(env)
	s.StyleSheet = NewStyleSheet(env)
	s.Media = NewMedia(env)
	return s
}

// Start subscribes to the document events and CSSOM edits.
func (s *Set) Start() {
	s.unsubscribe = append(s.unsubscribe,
		s.env.Doc.AddEventListener(s.Handle),
		s.env.Doc.OnStyleSheetChange(s.StyleSheet.Handle),
	)
}

// Stop unsubscribes. Pending throttled values are dropped; call Flush
// first to keep them.
func (s *Set) Stop() {
	for _, fn := range s.unsubscribe {
		fn()
	}
	s.unsubscribe = nil
}

// Handle routes one event.
func (s *Set) Handle(ev *dom.Event) {
	switch ev.Type {
	case dom.EventMouseDown, dom.EventMouseUp, dom.EventClick, dom.EventContextMenu,
		dom.EventDblClick, dom.EventFocus, dom.EventBlur, dom.EventTouchStart, dom.EventTouchEnd,
		dom.EventMouseMove, dom.EventTouchMove:
		s.Mouse.Handle(ev)
	case dom.EventScroll:
		s.Scroll.Handle(ev)
		s.Frustration.UserActivity(s.env.eventTime(ev))
	case dom.EventResize, dom.EventViewportChange:
		s.Viewport.Handle(ev)
	case dom.EventInput, dom.EventChange:
		s.Input.Handle(ev)
		s.Frustration.UserActivity(s.env.eventTime(ev))
	case dom.EventPlay, dom.EventPause, dom.EventSeeked, dom.EventVolumeChange, dom.EventRateChange:
		s.Media.Handle(ev)
	}
}

// Tick releases throttled values whose window closed and resolves clicks.
func (s *Set) Tick(now time.Time) {
	s.Mouse.Tick(now)
	s.Scroll.Tick(now)
	s.Viewport.Tick(now)
	s.Frustration.Tick(now)
}

// Flush releases everything pending regardless of windows.
func (s *Set) Flush(now time.Time) {
	s.Mouse.Flush(now)
	s.Scroll.Flush(now)
	s.Viewport.Flush(now)
	s.Frustration.Flush(now)
}

// Dropped returns the number of events whose target had no id.
func (s *Set) Dropped() int { return s.env.dropped }
