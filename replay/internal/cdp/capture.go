package cdp

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

// message is one report of the capture script.
type message struct {
	Kind string `json:"kind"`
	T    int64  `json:"t"` // epoch milliseconds
	Path []int  `json:"path"`

	// event
	Type string  `json:"type"`
	X    float64 `json:"x"`
	Y    float64 `json:"y"`

	// input, value
	Value    *string `json:"value"`
	Checked  *bool   `json:"checked"`
	Selected *bool   `json:"selected"`

	// resize, viewport
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
	Scale  float64 `json:"scale"`
	Left   float64 `json:"offsetLeft"`
	Top    float64 `json:"offsetTop"`
	PageX  float64 `json:"pageLeft"`
	PageY  float64 `json:"pageTop"`

	// media
	Paused       *bool    `json:"paused"`
	CurrentTime  *float64 `json:"currentTime"`
	Volume       *float64 `json:"volume"`
	Muted        *bool    `json:"muted"`
	PlaybackRate *float64 `json:"playbackRate"`

	// css, sheet
	Op    string `json:"op"`
	Index []int  `json:"index"`
	Rule  string `json:"rule"`
	Href  string `json:"href"`
	CSS   string `json:"css"`

	// error
	Stack string `json:"stack"`

	// focus
	Focus *bool `json:"focus"`
}

func parseMessages(payload string) ([]message, error) {
	var msgs []message
	if err := json.Unmarshal([]byte(payload), &msgs); err != nil {
		return nil, fmt.Errorf("cdp: capture payload: %w", err)
	}
	return msgs, nil
}

// handlers are the collaborators a capture message may reach besides the
// document.
type handlers struct {
	onError func(stack string)
	onReady func()
}

// apply plays one capture message against the mirrored document.
func (m *mirror) apply(msg message, h handlers) error {
	at := time.UnixMilli(msg.T)
	d := m.doc
	switch msg.Kind {
	case "ready":
		if h.onReady != nil {
			h.onReady()
		}
		return nil
	case "error":
		if h.onError != nil {
			h.onError(msg.Stack)
		}
		return nil
	case "focus":
		if msg.Focus != nil {
			d.Window.HasFocus = *msg.Focus
		}
		return nil
	case "resize":
		d.Window.InnerWidth, d.Window.InnerHeight = int(msg.Width), int(msg.Height)
		d.Dispatch(&dom.Event{Type: dom.EventResize, Time: at})
		return nil
	case "viewport":
		d.Window.VisualViewport = dom.VisualViewport{
			Scale: msg.Scale, OffsetLeft: msg.Left, OffsetTop: msg.Top,
			PageLeft: msg.PageX, PageTop: msg.PageY, Width: msg.Width, Height: msg.Height,
		}
		d.Dispatch(&dom.Event{Type: dom.EventViewportChange, Time: at})
		return nil
	}

	target, err := m.resolve(msg.Path)
	if err != nil {
		return err
	}
	switch msg.Kind {
	case "event":
		d.Dispatch(&dom.Event{Type: dom.EventType(msg.Type), Target: target, ClientX: msg.X, ClientY: msg.Y, Time: at})
	case "scroll":
		if target == d.Node() || target == d.DocumentElement() {
			d.Window.ScrollX, d.Window.ScrollY = msg.X, msg.Y
		} else {
			target.ScrollLeft, target.ScrollTop = msg.X, msg.Y
		}
		d.Dispatch(&dom.Event{Type: dom.EventScroll, Target: target, Time: at})
	case "value", "input":
		setFormState(target, msg)
		if msg.Kind == "input" {
			d.Dispatch(&dom.Event{Type: dom.EventType(msg.Type), Target: target, Time: at})
		}
	case "media":
		setMediaState(target, msg)
		d.Dispatch(&dom.Event{Type: dom.EventType(msg.Type), Target: target, Time: at})
	case "sheet":
		target.Sheet = dom.NewStyleSheet(target, msg.Href, msg.CSS)
	case "css":
		return applyRule(target, msg)
	default:
		return fmt.Errorf("cdp: unknown capture message %q", msg.Kind)
	}
	return nil
}

func setFormState(n *dom.Node, msg message) {
	if msg.Value != nil {
		n.SetValue(*msg.Value)
	}
	if msg.Checked != nil {
		n.Checked = *msg.Checked
	}
	if msg.Selected != nil {
		n.Selected = *msg.Selected
	}
}

func setMediaState(n *dom.Node, msg message) {
	if msg.Paused != nil {
		n.Paused = *msg.Paused
	}
	if msg.CurrentTime != nil {
		n.CurrentTime = *msg.CurrentTime
	}
	if msg.Volume != nil {
		n.Volume = *msg.Volume
	}
	if msg.Muted != nil {
		n.Muted = *msg.Muted
	}
	if msg.PlaybackRate != nil {
		n.PlaybackRate = *msg.PlaybackRate
	}
}

// applyRule replays an insertRule/deleteRule call on the sheet owned by
// owner. Index is the rule path; its last element is the index inside the
// parent rule list.
func applyRule(owner *dom.Node, msg message) error {
	s := owner.Sheet
	if s == nil {
		return fmt.Errorf("cdp: css %s: %s owns no style sheet", msg.Op, owner)
	}
	if len(msg.Index) == 0 {
		return fmt.Errorf("cdp: css %s: empty rule path", msg.Op)
	}
	last := msg.Index[len(msg.Index)-1]
	var group *dom.CSSRule
	if len(msg.Index) > 1 {
		g, ok := s.RuleAt(msg.Index[:len(msg.Index)-1])
		if !ok || !g.IsGroup() {
			return fmt.Errorf("cdp: css %s: no grouping rule at %v", msg.Op, msg.Index)
		}
		group = g
	}
	switch msg.Op {
	case "insert":
		var err error
		if group != nil {
			_, err = group.InsertRule(msg.Rule, last)
		} else {
			_, err = s.InsertRule(msg.Rule, last)
		}
		return err
	case "delete":
		if group != nil {
			return group.DeleteRule(last)
		}
		return s.DeleteRule(last)
	}
	return fmt.Errorf("cdp: css: unknown op %q", msg.Op)
}
