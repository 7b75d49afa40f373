package encoder

import (
	"time"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/record"
)

var interactionTypes = map[dom.EventType]record.MouseInteractionType{
	dom.EventMouseUp:     record.MouseUp,
	dom.EventMouseDown:   record.MouseDown,
	dom.EventClick:       record.Click,
	dom.EventContextMenu: record.ContextMenu,
	dom.EventDblClick:    record.DblClick,
	dom.EventFocus:       record.Focus,
	dom.EventBlur:        record.Blur,
	dom.EventTouchStart:  record.TouchStart,
	dom.EventTouchEnd:    record.TouchEnd,
}

// Interaction is an emitted pointer interaction, as seen by correlating
// encoders.
type Interaction struct {
	Type     record.MouseInteractionType
	Target   *dom.Node
	X, Y     float64
	At       time.Time
	RecordID int64
}

// Mouse encodes pointer interactions and throttled pointer moves. Each
// interaction record gets a record id for correlation.
type Mouse struct {
	env          *Env
	lastRecordID int64
	move         trailing[record.MousePosition]
	touch        trailing[record.MousePosition]
	frustration  *Frustration
}

// NewMouse creates the encoder. f may be nil.
func NewMouse(env *Env, moveWindow time.Duration, f *Frustration) *Mouse {
	return &Mouse{
		env:         env,
		move:        trailing[record.MousePosition]{window: moveWindow},
		touch:       trailing[record.MousePosition]{window: moveWindow},
		frustration: f,
	}
}

// Handle encodes one pointer event.
func (m *Mouse) Handle(ev *dom.Event) {
	at := m.env.eventTime(ev)
	switch ev.Type {
	case dom.EventMouseMove, dom.EventTouchMove:
		id, ok := m.env.target(ev.Target)
		if !ok {
			return
		}
		pos := record.MousePosition{X: round(ev.ClientX), Y: round(ev.ClientY), ID: id}
		if ev.Type == dom.EventTouchMove {
			m.touch.put(at, pos)
		} else {
			m.move.put(at, pos)
		}
		return
	}
	typ, ok := interactionTypes[ev.Type]
	if !ok {
		return
	}
	id, ok := m.env.target(ev.Target)
	if !ok {
		return
	}
	data := record.MouseInteractionData{Type: typ, ID: id}
	if typ != record.Focus && typ != record.Blur {
		x, y := round(ev.ClientX), round(ev.ClientY)
		data.X, data.Y = &x, &y
	}
	m.lastRecordID++
	rec := record.NewIncremental(at.UnixMilli(), data)
	rec.ID = m.lastRecordID
	m.env.Emit(rec)
	if m.frustration != nil {
		m.frustration.Interaction(Interaction{
			Type: typ, Target: ev.Target, X: ev.ClientX, Y: ev.ClientY, At: at, RecordID: rec.ID,
		})
	}
}

// Tick emits pointer positions whose window closed.
func (m *Mouse) Tick(now time.Time) {
	if pos, ok := m.move.due(now); ok {
		m.emitMove(now, pos, false)
	}
	if pos, ok := m.touch.due(now); ok {
		m.emitMove(now, pos, true)
	}
}

// Flush emits pending pointer positions.
func (m *Mouse) Flush(now time.Time) {
	if pos, ok := m.move.take(); ok {
		m.emitMove(now, pos, false)
	}
	if pos, ok := m.touch.take(); ok {
		m.emitMove(now, pos, true)
	}
}

func (m *Mouse) emitMove(now time.Time, pos record.MousePosition, touch bool) {
	m.env.Emit(record.NewIncremental(now.UnixMilli(), record.MousePositionData{
		Positions: []record.MousePosition{pos},
		Touch:     touch,
	}))
}
