package encoder

import (
	"time"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/serialize"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// Scroll coalesces scrolls per target: within a window only the final
// position is recorded, when the window closes.
type Scroll struct {
	env     *Env
	window  time.Duration
	pending map[*dom.Node]*trailing[record.ScrollData]
	order   []*dom.Node
}

// NewScroll creates the encoder.
func NewScroll(env *Env, window time.Duration) *Scroll {
	return &Scroll{env: env, window: window, pending: make(map[*dom.Node]*trailing[record.ScrollData])}
}

// Handle records the current offset of the scrolled node.
func (s *Scroll) Handle(ev *dom.Event) {
	n := ev.Target
	id, ok := s.env.target(n)
	if !ok {
		return
	}
	x, y := s.env.Doc.ScrollPosition(n)
	if n.Type == dom.ElementNode && n != s.env.Doc.DocumentElement() {
		s.env.Serializer.Scroll().Set(n, serialize.ScrollPosition{Left: x, Top: y})
	}
	t, ok := s.pending[n]
	if !ok {
		t = &trailing[record.ScrollData]{window: s.window}
		s.pending[n] = t
	}
	if !t.pending {
		s.order = append(s.order, n)
	}
	t.put(s.env.eventTime(ev), record.ScrollData{ID: id, X: round(x), Y: round(y)})
}

// Tick emits the targets whose window closed, in first-scroll order.
func (s *Scroll) Tick(now time.Time) { s.release(now, false) }

// Flush emits every pending position.
func (s *Scroll) Flush(now time.Time) { s.release(now, true) }

func (s *Scroll) release(now time.Time, all bool) {
	keep := s.order[:0]
	for _, n := range s.order {
		t := s.pending[n]
		var d record.ScrollData
		var ok bool
		if all {
			d, ok = t.take()
		} else {
			d, ok = t.due(now)
		}
		if !ok {
			keep = append(keep, n)
			continue
		}
		delete(s.pending, n)
		s.env.Emit(record.NewIncremental(now.UnixMilli(), d))
	}
	s.order = keep
}
