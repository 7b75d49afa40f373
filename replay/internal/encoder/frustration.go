package encoder

import (
	"math"
	"time"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// FrustrationOptions are the click heuristics policy.
type FrustrationOptions struct {
	RageClickCount    int           // clicks needed for a rage click
	RageClickWindow   time.Duration // max span of RageClickCount clicks, and max gap inside a chain
	RageClickDistance float64       // max distance in CSS pixels between chained clicks
	DeadClickTimeout  time.Duration // page activity must follow a click within this delay
}

// DefaultFrustration is the default policy.
var DefaultFrustration = FrustrationOptions{
	RageClickCount:    4,
	RageClickWindow:   time.Second,
	RageClickDistance: 100,
	DeadClickTimeout:  100 * time.Millisecond,
}

type click struct {
	target    *dom.Node
	x, y      float64
	at        time.Time
	mouseUpID int64
	activity  bool
	resolved  bool
	dead      bool
	errored   bool
	errorOpen bool
}

// Frustration correlates clicks with page activity and reported errors.
// Similar clicks (same target, close in time and space) form a chain; once
// a chain is closed and every click in it is resolved, it yields a single
// rage record when it holds enough rapid clicks, or one record per dead or
// error click otherwise.
type Frustration struct {
	env         *Env
	opts        FrustrationOptions
	chain       []*click
	closed      [][]*click
	lastMouseUp int64
}

// NewFrustration creates the encoder. Zero fields of opts take the
// defaults.
func NewFrustration(env *Env, opts FrustrationOptions) *Frustration {
	if opts.RageClickCount <= 0 {
		opts.RageClickCount = DefaultFrustration.RageClickCount
	}
	if opts.RageClickWindow <= 0 {
		opts.RageClickWindow = DefaultFrustration.RageClickWindow
	}
	if opts.RageClickDistance <= 0 {
		opts.RageClickDistance = DefaultFrustration.RageClickDistance
	}
	if opts.DeadClickTimeout <= 0 {
		opts.DeadClickTimeout = DefaultFrustration.DeadClickTimeout
	}
	return &Frustration{env: env, opts: opts}
}

// Interaction consumes the mouse interaction stream.
func (f *Frustration) Interaction(in Interaction) {
	switch in.Type {
	case record.MouseUp:
		f.lastMouseUp = in.RecordID
	case record.Click:
		c := &click{target: in.Target, x: in.X, y: in.Y, at: in.At, mouseUpID: f.lastMouseUp, errorOpen: true}
		f.lastMouseUp = 0
		if n := len(f.chain); n > 0 && !f.similar(f.chain[n-1], c) {
			f.closeChain()
		}
		f.chain = append(f.chain, c)
	}
}

func (f *Frustration) similar(a, b *click) bool {
	return a.target == b.target &&
		b.at.Sub(a.at) <= f.opts.RageClickWindow &&
		math.Hypot(a.x-b.x, a.y-b.y) <= f.opts.RageClickDistance
}

func (f *Frustration) closeChain() {
	if len(f.chain) > 0 {
		f.closed = append(f.closed, f.chain)
		f.chain = nil
	}
}

func (f *Frustration) each(fn func(*click)) {
	for _, ch := range f.closed {
		for _, c := range ch {
			fn(c)
		}
	}
	for _, c := range f.chain {
		fn(c)
	}
}

// Activity reports a visible page change (DOM mutation, navigation) at.
func (f *Frustration) Activity(at time.Time) {
	f.each(func(c *click) {
		if !c.resolved && !at.Before(c.at) && at.Sub(c.at) <= f.opts.DeadClickTimeout {
			c.activity = true
			c.resolved = true
		}
	})
}

// UserActivity reports a scroll or an input following clicks.
func (f *Frustration) UserActivity(at time.Time) {
	f.each(func(c *click) {
		if !c.resolved && !at.Before(c.at) {
			c.activity = true
			c.resolved = true
		}
	})
}

// HandledError reports an error raised while the last clicks were being
// handled, that is before the next Tick.
func (f *Frustration) HandledError() {
	f.each(func(c *click) {
		if c.errorOpen {
			c.errored = true
		}
	})
}

// Tick resolves clicks whose dead-click delay elapsed and emits the
// chains that are complete.
func (f *Frustration) Tick(now time.Time) {
	f.each(func(c *click) {
		c.errorOpen = false
		if !c.resolved && now.Sub(c.at) >= f.opts.DeadClickTimeout {
			c.resolved = true
			c.dead = deadClickCandidate(c.target)
		}
	})
	if n := len(f.chain); n > 0 && now.Sub(f.chain[n-1].at) > f.opts.RageClickWindow {
		f.closeChain()
	}
	f.emitResolved(now)
}

// Flush resolves everything pending and emits it. Clicks whose delay has
// not elapsed yet are not considered dead.
func (f *Frustration) Flush(now time.Time) {
	f.each(func(c *click) {
		c.errorOpen = false
		if !c.resolved {
			c.resolved = true
			c.dead = now.Sub(c.at) >= f.opts.DeadClickTimeout && deadClickCandidate(c.target)
		}
	})
	f.closeChain()
	f.emitResolved(now)
}

func (f *Frustration) emitResolved(now time.Time) {
	for len(f.closed) > 0 {
		ch := f.closed[0]
		for _, c := range ch {
			if !c.resolved {
				return
			}
		}
		f.closed = f.closed[1:]
		f.emitChain(now, ch)
	}
}

func (f *Frustration) emitChain(now time.Time, ch []*click) {
	if f.isRage(ch) {
		d := record.FrustrationData{Types: []record.FrustrationType{record.FrustrationRage}}
		var dead, errored bool
		for _, c := range ch {
			dead = dead || c.dead
			errored = errored || c.errored
			if c.mouseUpID != 0 {
				d.RecordIDs = append(d.RecordIDs, c.mouseUpID)
			}
		}
		if dead {
			d.Types = append(d.Types, record.FrustrationDead)
		}
		if errored {
			d.Types = append(d.Types, record.FrustrationError)
		}
		f.emit(now, d)
		return
	}
	for _, c := range ch {
		var d record.FrustrationData
		if c.dead {
			d.Types = append(d.Types, record.FrustrationDead)
		}
		if c.errored {
			d.Types = append(d.Types, record.FrustrationError)
		}
		if len(d.Types) == 0 {
			continue
		}
		if c.mouseUpID != 0 {
			d.RecordIDs = []int64{c.mouseUpID}
		}
		f.emit(now, d)
	}
}

func (f *Frustration) emit(now time.Time, d record.FrustrationData) {
	if d.RecordIDs == nil {
		d.RecordIDs = []int64{}
	}
	f.env.Emit(record.NewIncremental(now.UnixMilli(), d))
}

// isRage reports whether RageClickCount consecutive clicks of the chain
// fit in RageClickWindow.
func (f *Frustration) isRage(ch []*click) bool {
	k := f.opts.RageClickCount
	for i := 0; i+k-1 < len(ch); i++ {
		if ch[i+k-1].at.Sub(ch[i].at) <= f.opts.RageClickWindow {
			return true
		}
	}
	return false
}

// deadClickCandidate reports whether a click on n may be dead. Clicks on
// text fields, selects, canvases, editable content and links never are.
func deadClickCandidate(n *dom.Node) bool {
	for cur := n; cur != nil; cur = cur.ComposedParent() {
		if cur.Type != dom.ElementNode {
			continue
		}
		if _, ok := cur.Attr("contenteditable"); ok {
			return false
		}
		if cur.Name == "a" {
			if _, ok := cur.Attr("href"); ok {
				return false
			}
		}
		if cur != n {
			continue
		}
		switch cur.Name {
		case "textarea", "select", "canvas":
			return false
		case "input":
			switch cur.InputType() {
			case "checkbox", "radio", "button", "submit", "reset", "range":
			default:
				return false
			}
		}
	}
	return true
}
