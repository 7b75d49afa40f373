// Package recorder drives a recording of one document: it owns the node
// registry, the serializer, the mutation adapter, the encoders and the
// segment assembler, and hands sealed segments to a callback.
//
// A Controller is not safe for concurrent use. The host calls it from the
// goroutine that mutates the document and dispatches its events.
package recorder

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"time"

	"github.com/hazyhaar/horosreplay/idgen"
	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/encoder"
	"github.com/hazyhaar/horosreplay/replay/internal/mutations"
	"github.com/hazyhaar/horosreplay/replay/internal/nodeid"
	"github.com/hazyhaar/horosreplay/replay/internal/privacy"
	"github.com/hazyhaar/horosreplay/replay/internal/segment"
	"github.com/hazyhaar/horosreplay/replay/internal/serialize"
	"github.com/hazyhaar/horosreplay/replay/record"
)

var (
	// ErrUnavailable is returned by Start when the document cannot be
	// recorded. The controller stays Stopped.
	ErrUnavailable = errors.New("recorder: recording unavailable")
	// ErrNotRecording is returned by operations that need a running
	// recording.
	ErrNotRecording = errors.New("recorder: not recording")
)

// State is the controller lifecycle state.
type State int

const (
	Stopped State = iota
	Starting
	Recording
	Stopping
)

func (s State) String() string {
	switch s {
	case Starting:
		return "starting"
	case Recording:
		return "recording"
	case Stopping:
		return "stopping"
	default:
		return "stopped"
	}
}

// Config is the recording configuration.
type Config struct {
	DefaultLevel        privacy.Level
	ActionNameAttribute string
	MaxMutationBatch    int
	Segment             segment.Limits
	Encoders            encoder.Options
	SessionID           string
	ViewID              string
}

// Counters are the read-only diagnostics of a controller. They accumulate
// across restarts.
type Counters struct {
	Mutations       mutations.Counters `json:"mutations"`
	SerializePanics int                `json:"serialize_panics"`
	DroppedEvents   int                `json:"dropped_events"`   // events whose target had no id
	RejectedRecords int                `json:"rejected_records"` // records refused by the assembler
	FullSnapshots   int                `json:"full_snapshots"`
	Records         int                `json:"records"`
	Segments        int                `json:"segments"`
}

// Option configures a Controller.
type Option func(*Controller)

// WithClock sets the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Controller) { c.now = now }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Controller) { c.logger = l }
}

// WithIDGenerator sets the segment id generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(c *Controller) { c.newID = g }
}

// Controller is the recording state machine.
type Controller struct {
	doc       *dom.Document
	cfg       Config
	onSegment func(*record.Segment)
	now       func() time.Time
	logger    *slog.Logger
	newID     idgen.Generator

	state   State
	asm     *segment.Assembler
	ser     *serialize.Serializer
	adapter *mutations.Adapter
	enc     *encoder.Set

	pendingSince time.Time
	counters     Counters
	// totals of the components of previous runs
	past Counters
}

// New creates a stopped controller for doc. onSegment receives every
// sealed segment, synchronously.
func New(doc *dom.Document, cfg Config, onSegment func(*record.Segment), opts ...Option) *Controller {
	c := &Controller{doc: doc, cfg: cfg, onSegment: onSegment, now: time.Now, logger: slog.Default()}
	for _, o := range opts {
		o(c)
	}
	if c.newID == nil {
		c.newID = idgen.Segment
	}
	if cfg.Segment == (segment.Limits{}) {
		c.cfg.Segment = segment.DefaultLimits
	}
	c.asm = segment.New(c.cfg.Segment, c.newID)
	c.asm.SetView(cfg.SessionID, cfg.ViewID)
	return c
}

// State returns the lifecycle state.
func (c *Controller) State() State { return c.state }

// ViewID returns the current view.
func (c *Controller) ViewID() string { return c.cfg.ViewID }

// Start begins recording: it subscribes to the document and emits a full
// snapshot. A document that cannot be observed yields ErrUnavailable and
// leaves the controller Stopped.
func (c *Controller) Start() error {
	if c.state != Stopped {
		return nil
	}
	c.state = Starting

	reg := nodeid.New()
	ser := serialize.New(reg, serialize.Options{
		DefaultLevel:        c.cfg.DefaultLevel,
		ActionNameAttribute: c.cfg.ActionNameAttribute,
		Logger:              c.logger,
	})
	adapter, err := mutations.New(c.doc, ser, mutations.Options{
		MaxBatch:  c.cfg.MaxMutationBatch,
		OnPending: c.markPending,
		Logger:    c.logger,
	})
	if err != nil {
		c.state = Stopped
		c.logger.Warn("recorder: start failed", "error", err)
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	c.ser, c.adapter = ser, adapter
	c.enc = encoder.NewSet(&encoder.Env{
		Doc:        c.doc,
		Serializer: ser,
		Emit:       c.push,
		Now:        c.now,
		Logger:     c.logger,
	}, c.cfg.Encoders)
	c.enc.Start()
	c.state = Recording
	c.logger.Info("recorder: started", "view", c.asm.ViewID(), "reason", c.asm.NextCreation())

	c.fullSnapshot(c.now())
	return nil
}

// Stop flushes pending records, disconnects and seals the open segment
// with reason stop. Nothing is appended after Stop returns.
func (c *Controller) Stop() error {
	return c.stop(record.FlushStop)
}

// Restart stops and starts again. The sealed segment carries reason
// recorder-restart and the next one opens with a full snapshot.
func (c *Controller) Restart() error {
	if c.state == Recording {
		if err := c.stop(record.FlushRecorderRestart); err != nil {
			return err
		}
	}
	return c.Start()
}

func (c *Controller) stop(reason record.FlushReason) error {
	if c.state != Recording {
		return ErrNotRecording
	}
	c.state = Stopping
	now := c.now()
	c.flushMutations(now)
	c.enc.Flush(now)
	c.enc.Stop()
	c.adapter.Stop()
	c.seal(reason)
	c.past = c.Counters()
	c.ser, c.adapter, c.enc = nil, nil, nil
	c.pendingSince = time.Time{}
	c.state = Stopped
	c.logger.Info("recorder: stopped", "reason", reason)
	return nil
}

// OnViewChange closes the current view with a ViewEnd record, seals the
// segment and starts the new view with a full snapshot. While stopped it
// only records the new view id.
func (c *Controller) OnViewChange(viewID string) error {
	if c.state != Recording {
		c.asm.SetView(c.cfg.SessionID, viewID)
		c.cfg.ViewID = viewID
		return nil
	}
	now := c.now()
	c.flushMutations(now)
	c.enc.Flush(now)
	c.push(record.NewViewEnd(millis(now)))
	c.seal(record.FlushViewChange)
	c.cfg.ViewID = viewID
	c.asm.SetView(c.cfg.SessionID, viewID)
	c.fullSnapshot(now)
	return nil
}

// OnHandledError reports an error raised while handling user input. It is
// correlated with the clicks still open for errors.
func (c *Controller) OnHandledError(stack string) {
	if c.state != Recording {
		return
	}
	c.logger.Debug("recorder: handled error", "stack", stack)
	c.enc.Frustration.HandledError()
}

// Flush emits every pending record and seals the open segment with reason
// explicit-flush.
func (c *Controller) Flush() error {
	if c.state != Recording {
		return ErrNotRecording
	}
	now := c.now()
	c.flushMutations(now)
	c.enc.Flush(now)
	c.seal(record.FlushExplicit)
	return nil
}

// TakeFullSnapshot appends a full snapshot of the current document to the
// open segment.
func (c *Controller) TakeFullSnapshot() error {
	if c.state != Recording {
		return ErrNotRecording
	}
	now := c.now()
	c.flushMutations(now)
	c.fullSnapshot(now)
	return nil
}

// Tick is the recorder heartbeat: it processes buffered mutations, releases
// throttled records, resolves frustration and seals a segment that has
// reached its maximum duration.
func (c *Controller) Tick(now time.Time) {
	if c.state != Recording {
		return
	}
	c.flushMutations(now)
	c.enc.Tick(now)
	if c.asm.Expired(millis(now)) {
		c.seal(record.FlushMaxDuration)
	}
}

// Pending reports whether mutations are waiting for the next Tick.
func (c *Controller) Pending() bool {
	return c.state == Recording && c.adapter.Pending() > 0
}

// Counters returns the diagnostics.
func (c *Controller) Counters() Counters {
	out := c.counters
	out.Mutations = c.past.Mutations
	out.SerializePanics = c.past.SerializePanics
	out.DroppedEvents = c.past.DroppedEvents
	if c.adapter != nil {
		m := c.adapter.Counters()
		out.Mutations.Unresolved += m.Unresolved
		out.Mutations.HiddenSuppressed += m.HiddenSuppressed
		out.Mutations.Detached += m.Detached
		out.Mutations.Overflows += m.Overflows
		out.Mutations.Emitted += m.Emitted
		out.SerializePanics += c.ser.Panics()
		out.DroppedEvents += c.enc.Dropped()
	}
	return out
}

func (c *Controller) markPending() {
	if c.pendingSince.IsZero() {
		c.pendingSince = c.now()
	}
}

func (c *Controller) flushMutations(now time.Time) {
	since := c.pendingSince
	c.pendingSince = time.Time{}
	if c.adapter.Pending() == 0 {
		return
	}
	data, overflow := c.adapter.Flush()
	if overflow {
		c.seal(record.FlushMaxSize)
		c.fullSnapshot(now)
		return
	}
	if data.Len() == 0 {
		return
	}
	c.push(record.NewIncremental(millis(now), data))
	if since.IsZero() {
		since = now
	}
	c.enc.Frustration.Activity(since)
}

func (c *Controller) fullSnapshot(now time.Time) {
	c.ser.Reset()
	tree := c.ser.Document(c.doc)
	c.adapter.Discard()
	c.pendingSince = time.Time{}

	w := c.doc.Window
	ts := millis(now)
	c.push(record.NewFullSnapshot(ts, record.FullSnapshotData{
		Node:          tree,
		InitialOffset: record.Offset{Top: round(w.ScrollY), Left: round(w.ScrollX)},
		Href:          c.doc.URL,
		Width:         w.InnerWidth,
		Height:        w.InnerHeight,
		HasFocus:      w.HasFocus,
	}))
	c.push(record.NewVisualViewport(ts, encoder.VisualViewportData(w.VisualViewport)))
	c.enc.Viewport.Reset(w)
	c.enc.Input.Reset()
	c.counters.FullSnapshots++
}

// push appends r to the open segment. Records produced outside a recording
// are dropped.
func (c *Controller) push(r record.Record) {
	if c.state != Recording && c.state != Stopping {
		return
	}
	seg, err := c.asm.Push(r)
	if err != nil {
		c.counters.RejectedRecords++
		c.logger.Warn("recorder: record rejected", "type", r.Type, "error", err)
		return
	}
	c.counters.Records++
	if seg != nil {
		c.deliver(seg)
	}
}

func (c *Controller) seal(reason record.FlushReason) {
	if seg := c.asm.SealAndTake(reason); seg != nil {
		c.deliver(seg)
	}
}

func (c *Controller) deliver(seg *record.Segment) {
	c.counters.Segments++
	c.logger.Debug("recorder: segment sealed",
		"id", seg.ID, "view", seg.ViewID, "creation", seg.CreationReason,
		"flush", seg.FlushReason, "records", seg.RecordsCount, "bytes", seg.Bytes)
	if c.onSegment != nil {
		c.onSegment(seg)
	}
}

func millis(t time.Time) int64 { return t.UnixMilli() }

func round(f float64) int { return int(math.Round(f)) }
