// Package replay records a DOM document as a stream of replay segments.
//
// A Recorder owns one dom.Document and runs the recording on a goroutine
// of its own: every change to the document and every call into the
// recording happens there, through Do. Sealed segments are handed to the
// configured sinks from a second goroutine, in order.
//
//	doc, _ := dom.ParseString(html, "https://example.com/")
//	rec := replay.New(doc, nil, replay.WithSinks(replay.NewStdoutSink(os.Stdout)))
//	if err := rec.Start(ctx); err != nil { ... }
//	defer rec.Stop(ctx)
package replay

import (
	"context"
	"errors"
	"log/slog"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/hazyhaar/horosreplay/idgen"
	"github.com/hazyhaar/horosreplay/observability"
	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/recorder"
	"github.com/hazyhaar/horosreplay/replay/internal/sink"
	"github.com/hazyhaar/horosreplay/replay/record"
)

var (
	// ErrClosed is returned once the recorder was stopped for good.
	ErrClosed = errors.New("replay: recorder closed")
	// ErrNotRecording is returned by operations that need a running
	// recording.
	ErrNotRecording = recorder.ErrNotRecording
	// ErrUnavailable is returned by Start when the document cannot be
	// observed.
	ErrUnavailable = recorder.ErrUnavailable
)

// Counters are the diagnostics of a recording.
type Counters = recorder.Counters

// Status is a point-in-time view of a recorder.
type Status struct {
	State     string   `json:"state"`
	SessionID string   `json:"session_id"`
	ViewID    string   `json:"view_id"`
	URL       string   `json:"url"`
	Pending   bool     `json:"pending"`
	Counters  Counters `json:"counters"`
}

// Option configures a Recorder.
type Option func(*Recorder)

// WithLogger sets the logger of the recorder and its controller.
func WithLogger(l *slog.Logger) Option {
	return func(r *Recorder) { r.logger = l }
}

// WithSinks adds segment consumers.
func WithSinks(sinks ...Sink) Option {
	return func(r *Recorder) { r.sinks = append(r.sinks, sinks...) }
}

// WithMetrics persists per-segment sizes and the final counters.
func WithMetrics(mm *observability.MetricsManager) Option {
	return func(r *Recorder) { r.metrics = mm }
}

// WithEventLog records lifecycle events (started, stopped, view-change...).
func WithEventLog(l *observability.EventLog) Option {
	return func(r *Recorder) { r.events = l }
}

// WithSessionID sets the session id instead of generating one.
func WithSessionID(id string) Option {
	return func(r *Recorder) { r.sessionID = id }
}

// WithClock sets the time source of the recording and its heartbeat.
func WithClock(now func() time.Time) Option {
	return func(r *Recorder) { r.now = now }
}

// WithIDGenerator sets the segment id generator.
func WithIDGenerator(g idgen.Generator) Option {
	return func(r *Recorder) { r.newID = g }
}

// WithViewIDGenerator sets the generator used for new views.
func WithViewIDGenerator(g idgen.Generator) Option {
	return func(r *Recorder) { r.newView = g }
}

// Recorder is the public recorder. Its methods are safe for concurrent
// use.
type Recorder struct {
	cfg       *Config
	doc       *dom.Document
	ctrl      *recorder.Controller
	out       *sink.Router
	sinks     []Sink
	logger    *slog.Logger
	metrics   *observability.MetricsManager
	events    *observability.EventLog
	now       func() time.Time
	newID     idgen.Generator
	newView   idgen.Generator
	sessionID string

	ops      chan func()
	segments chan *record.Segment
	quit     chan struct{}
	loopDone chan struct{}
	sendDone chan struct{}
	started  atomic.Bool
	quitOnce sync.Once
	ctx      context.Context
	closers  []func()

	closeOnce sync.Once
	closeErr  error

	// last status, published by the loop when it exits
	final atomic.Pointer[Status]
}

// New creates a stopped recorder of doc. A nil cfg means DefaultConfig.
// From now on doc belongs to the recorder: change it through Update.
func New(doc *dom.Document, cfg *Config, opts ...Option) *Recorder {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	r := &Recorder{
		cfg:      cfg,
		doc:      doc,
		logger:   slog.Default(),
		now:      time.Now,
		newID:    idgen.Segment,
		newView:  idgen.View,
		ops:      make(chan func()),
		segments: make(chan *record.Segment, 16),
		quit:     make(chan struct{}),
		loopDone: make(chan struct{}),
		sendDone: make(chan struct{}),
		ctx:      context.Background(),
	}
	for _, o := range opts {
		o(r)
	}
	if r.sessionID == "" {
		r.sessionID = idgen.Session()
	}
	r.out = sink.NewRouter(r.logger, r.sinks...)
	r.ctrl = recorder.New(doc, controllerConfig(cfg, r.sessionID, r.newView()), r.enqueue,
		recorder.WithLogger(r.logger),
		recorder.WithClock(r.now),
		recorder.WithIDGenerator(r.newID),
	)
	return r
}

// SessionID returns the session of the recording.
func (r *Recorder) SessionID() string { return r.sessionID }

// Document returns the recorded document. Read or change it only inside
// Update or Do.
func (r *Recorder) Document() *dom.Document { return r.doc }

// run starts the loop and the delivery goroutines once. ctx bounds the
// loop: when it is done the recording stops as with Stop.
func (r *Recorder) run(ctx context.Context) error {
	select {
	case <-r.quit:
		return ErrClosed
	default:
	}
	if !r.started.CompareAndSwap(false, true) {
		return nil
	}
	r.ctx = context.WithoutCancel(ctx)
	go r.loop(ctx)
	go r.deliver(r.ctx)
	return nil
}

func (r *Recorder) loop(ctx context.Context) {
	defer close(r.loopDone)
	defer close(r.segments)

	tick := time.NewTicker(r.cfg.Recorder.TickInterval)
	defer tick.Stop()
	for {
		select {
		case fn := <-r.ops:
			fn()
		case <-tick.C:
			r.ctrl.Tick(r.now())
		case <-r.quit:
			r.shutdown()
			return
		case <-ctx.Done():
			r.logger.Info("replay: context done, stopping", "session", r.sessionID)
			r.shutdown()
			return
		}
	}
}

func (r *Recorder) shutdown() {
	if r.ctrl.State() == recorder.Recording {
		if err := r.ctrl.Stop(); err != nil {
			r.logger.Warn("replay: stop", "error", err)
		}
		r.event("stopped", "")
	}
	st := r.status()
	r.final.Store(&st)
}

func (r *Recorder) deliver(ctx context.Context) {
	defer close(r.sendDone)
	for seg := range r.segments {
		if err := r.out.Send(ctx, seg); err != nil {
			r.logger.Warn("replay: deliver segment", "segment", seg.ID, "error", err)
		}
	}
}

// enqueue runs on the loop for every sealed segment.
func (r *Recorder) enqueue(seg *record.Segment) {
	if r.metrics != nil {
		labels := map[string]string{
			"session": seg.SessionID,
			"view":    seg.ViewID,
			"reason":  string(seg.FlushReason),
		}
		r.metrics.Count(observability.MetricSegmentRecords, float64(seg.RecordsCount), labels)
		r.metrics.Count(observability.MetricSegmentBytes, float64(seg.Bytes), labels)
	}
	r.segments <- seg
}

// Do runs fn on the recording goroutine and returns its error. It returns
// ErrClosed once the recorder has stopped. fn must not call Do.
func (r *Recorder) Do(fn func() error) error {
	if !r.started.Load() {
		return ErrNotRecording
	}
	res := make(chan error, 1)
	op := func() { res <- fn() }
	select {
	case r.ops <- op:
	case <-r.loopDone:
		return ErrClosed
	}
	return <-res
}

// exec adapts Do for hosts that push changes into the document.
func (r *Recorder) exec(fn func()) {
	if err := r.Do(func() error { fn(); return nil }); err != nil {
		r.logger.Debug("replay: exec dropped", "error", err)
	}
}

// Start starts the loop and the recording, which opens with a full
// snapshot. It returns ErrUnavailable when the document cannot be
// observed; the recorder may then be started again later.
func (r *Recorder) Start(ctx context.Context) error {
	if err := r.run(ctx); err != nil {
		return err
	}
	return r.Do(func() error {
		if r.ctrl.State() == recorder.Recording {
			return nil
		}
		if err := r.ctrl.Start(); err != nil {
			return err
		}
		r.event("started", `{"url":`+strconv.Quote(r.doc.URL)+`}`)
		return nil
	})
}

// Stop seals the open segment with reason stop, waits for the sinks to
// receive every segment, then closes them. It returns ctx.Err() when ctx
// ends first. The recorder cannot be used after Stop.
func (r *Recorder) Stop(ctx context.Context) error {
	r.quitOnce.Do(func() { close(r.quit) })
	if r.started.Load() {
		select {
		case <-r.sendDone:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	r.closeOnce.Do(func() {
		for i := len(r.closers) - 1; i >= 0; i-- {
			r.closers[i]()
		}
		r.publishTotals()
		r.closeErr = r.out.Close()
	})
	return r.closeErr
}

// Restart stops and starts the recording again. The sealed segment
// carries reason recorder-restart.
func (r *Recorder) Restart() error {
	return r.Do(func() error {
		if err := r.ctrl.Restart(); err != nil {
			return err
		}
		r.event("restart", "")
		return nil
	})
}

// Flush emits every pending record and seals the open segment.
func (r *Recorder) Flush() error {
	return r.Do(r.ctrl.Flush)
}

// TakeFullSnapshot appends a full snapshot to the open segment.
func (r *Recorder) TakeFullSnapshot() error {
	return r.Do(r.ctrl.TakeFullSnapshot)
}

// ViewChange ends the current view and starts viewID. An empty viewID
// gets a generated one, which is returned.
func (r *Recorder) ViewChange(viewID string) (string, error) {
	if viewID == "" {
		viewID = r.newView()
	}
	err := r.Do(func() error { return r.changeView(viewID, "view-change") })
	return viewID, err
}

// changeView runs on the loop.
func (r *Recorder) changeView(viewID, action string) error {
	if err := r.ctrl.OnViewChange(viewID); err != nil {
		return err
	}
	r.event(action, `{"url":`+strconv.Quote(r.doc.URL)+`}`)
	return nil
}

// HandledError reports an error raised while handling user input.
func (r *Recorder) HandledError(stack string) error {
	return r.Do(func() error {
		r.ctrl.OnHandledError(stack)
		return nil
	})
}

// Update runs fn on the recording goroutine with the document. Changes
// made by fn are recorded.
func (r *Recorder) Update(fn func(*dom.Document)) error {
	return r.Do(func() error {
		fn(r.doc)
		return nil
	})
}

// Dispatch delivers a UI event to the document on the recording goroutine.
func (r *Recorder) Dispatch(ev *dom.Event) error {
	return r.Update(func(d *dom.Document) { d.Dispatch(ev) })
}

// Status reports the state of the recording.
func (r *Recorder) Status() Status {
	var st Status
	err := r.Do(func() error {
		st = r.status()
		return nil
	})
	switch {
	case err == nil:
		return st
	case errors.Is(err, ErrClosed):
		if f := r.final.Load(); f != nil {
			return *f
		}
	}
	return Status{
		State:     recorder.Stopped.String(),
		SessionID: r.sessionID,
		ViewID:    r.ctrl.ViewID(),
		URL:       r.doc.URL,
	}
}

func (r *Recorder) status() Status {
	return Status{
		State:     r.ctrl.State().String(),
		SessionID: r.sessionID,
		ViewID:    r.ctrl.ViewID(),
		URL:       r.doc.URL,
		Pending:   r.ctrl.Pending(),
		Counters:  r.ctrl.Counters(),
	}
}

func (r *Recorder) event(action, details string) {
	if r.events == nil {
		return
	}
	r.events.Log(r.ctx, observability.Event{
		SessionID: r.sessionID,
		ViewID:    r.ctrl.ViewID(),
		Action:    action,
		Details:   details,
		At:        r.now(),
	})
}

func (r *Recorder) publishTotals() {
	if r.metrics == nil {
		return
	}
	f := r.final.Load()
	if f == nil {
		return
	}
	c := f.Counters
	labels := map[string]string{"session": r.sessionID}
	for name, v := range map[string]int{
		observability.MetricRecords:             c.Records,
		observability.MetricSegments:            c.Segments,
		observability.MetricFullSnapshots:       c.FullSnapshots,
		observability.MetricMutationsEmitted:    c.Mutations.Emitted,
		observability.MetricMutationsUnresolved: c.Mutations.Unresolved,
		observability.MetricMutationsHidden:     c.Mutations.HiddenSuppressed,
		observability.MetricMutationOverflows:   c.Mutations.Overflows,
		observability.MetricSerializePanics:     c.SerializePanics,
		observability.MetricDroppedEvents:       c.DroppedEvents,
	} {
		r.metrics.Count(name, float64(v), labels)
	}
}
