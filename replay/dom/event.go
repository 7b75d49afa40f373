package dom

import "time"

// EventType names a UI event delivered to document listeners.
type EventType string

const (
	EventMouseDown      EventType = "mousedown"
	EventMouseUp        EventType = "mouseup"
	EventClick          EventType = "click"
	EventContextMenu    EventType = "contextmenu"
	EventDblClick       EventType = "dblclick"
	EventFocus          EventType = "focus"
	EventBlur           EventType = "blur"
	EventTouchStart     EventType = "touchstart"
	EventTouchEnd       EventType = "touchend"
	EventMouseMove      EventType = "mousemove"
	EventTouchMove      EventType = "touchmove"
	EventScroll         EventType = "scroll"
	EventResize         EventType = "resize"
	EventViewportChange EventType = "visualviewport"
	EventInput          EventType = "input"
	EventChange         EventType = "change"
	EventPlay           EventType = "play"
	EventPause          EventType = "pause"
	EventSeeked         EventType = "seeked"
	EventVolumeChange   EventType = "volumechange"
	EventRateChange     EventType = "ratechange"
)

// Event is a dispatched UI event. Target is the innermost node, inside
// shadow trees when the event originated there.
type Event struct {
	Type    EventType
	Target  *Node
	ClientX float64
	ClientY float64
	Time    time.Time
}

// AddEventListener registers fn for every event dispatched on the document.
// The returned func unregisters it.
func (d *Document) AddEventListener(fn func(*Event)) func() {
	id := d.listenerID()
	d.eventListeners[id] = fn
	return func() { delete(d.eventListeners, id) }
}

// Dispatch delivers ev to the document listeners in registration order. A
// nil target means the document itself.
func (d *Document) Dispatch(ev *Event) {
	if ev.Target == nil {
		ev.Target = d.node
	}
	for _, id := range sortedKeys(d.eventListeners) {
		if fn, ok := d.eventListeners[id]; ok {
			fn(ev)
		}
	}
}

// ScrollPosition returns the scroll offsets of n. The document (and its
// scrolling element) report the window scroll.
func (d *Document) ScrollPosition(n *Node) (x, y float64) {
	if n == d.node || n == d.DocumentElement() {
		return d.Window.ScrollX, d.Window.ScrollY
	}
	return n.ScrollLeft, n.ScrollTop
}
