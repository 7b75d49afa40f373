package encoder

import (
	"time"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// Viewport records layout viewport resizes and, separately, visual
// viewport (pinch zoom) changes. Unchanged states are not re-emitted.
type Viewport struct {
	env        *Env
	layout     trailing[record.ViewportResizeData]
	visual     trailing[record.VisualViewportData]
	lastLayout record.ViewportResizeData
	lastVisual record.VisualViewportData
}

// NewViewport creates the encoder.
func NewViewport(env *Env, window time.Duration) *Viewport {
	return &Viewport{
		env:    env,
		layout: trailing[record.ViewportResizeData]{window: window},
		visual: trailing[record.VisualViewportData]{window: window},
	}
}

// Reset sets the reference states, typically from a full snapshot.
func (v *Viewport) Reset(w dom.Window) {
	v.lastLayout = record.ViewportResizeData{Width: w.InnerWidth, Height: w.InnerHeight}
	v.lastVisual = VisualViewportData(w.VisualViewport)
}

// VisualViewportData converts the window state.
func VisualViewportData(vv dom.VisualViewport) record.VisualViewportData {
	return record.VisualViewportData{
		Scale:      vv.Scale,
		OffsetLeft: vv.OffsetLeft,
		OffsetTop:  vv.OffsetTop,
		PageLeft:   vv.PageLeft,
		PageTop:    vv.PageTop,
		Width:      vv.Width,
		Height:     vv.Height,
	}
}

// Handle samples the window on resize and visual viewport events.
func (v *Viewport) Handle(ev *dom.Event) {
	w := v.env.Doc.Window
	at := v.env.eventTime(ev)
	switch ev.Type {
	case dom.EventResize:
		v.layout.put(at, record.ViewportResizeData{Width: w.InnerWidth, Height: w.InnerHeight})
	case dom.EventViewportChange:
		v.visual.put(at, VisualViewportData(w.VisualViewport))
	}
}

// Tick emits states whose window closed.
func (v *Viewport) Tick(now time.Time) {
	if d, ok := v.layout.due(now); ok {
		v.emitLayout(now, d)
	}
	if d, ok := v.visual.due(now); ok {
		v.emitVisual(now, d)
	}
}

// Flush emits pending states.
func (v *Viewport) Flush(now time.Time) {
	if d, ok := v.layout.take(); ok {
		v.emitLayout(now, d)
	}
	if d, ok := v.visual.take(); ok {
		v.emitVisual(now, d)
	}
}

func (v *Viewport) emitLayout(now time.Time, d record.ViewportResizeData) {
	if d == v.lastLayout {
		return
	}
	v.lastLayout = d
	v.env.Emit(record.NewIncremental(now.UnixMilli(), d))
}

func (v *Viewport) emitVisual(now time.Time, d record.VisualViewportData) {
	if d == v.lastVisual {
		return
	}
	v.lastVisual = d
	v.env.Emit(record.NewVisualViewport(now.UnixMilli(), d))
}
