package encoder

import (
	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/privacy"
	"github.com/hazyhaar/horosreplay/replay/internal/serialize"
	"github.com/hazyhaar/horosreplay/replay/record"
)

type inputState struct {
	text      string
	hasText   bool
	checked   bool
	checkable bool
}

// Input records form control states. Values are redacted like in
// snapshots, controls marked input-ignored are skipped, and a state equal
// to the last one recorded for the same control is not repeated.
type Input struct {
	env  *Env
	last map[*dom.Node]inputState
}

// NewInput creates the encoder.
func NewInput(env *Env) *Input {
	return &Input{env: env, last: make(map[*dom.Node]inputState)}
}

// Handle records the state of the event target.
func (in *Input) Handle(ev *dom.Event) {
	n := ev.Target
	if n == nil || n.Type != dom.ElementNode || !isInputControl(n) {
		return
	}
	if privacy.InputIgnored(n) {
		return
	}
	lvl := in.env.level(n)
	if lvl == privacy.Hidden {
		return
	}
	at := in.env.eventTime(ev).UnixMilli()
	if isCheckbox(n) || isRadio(n) {
		if privacy.ShouldMask(n, lvl) {
			return
		}
		in.emit(at, n, inputState{checked: n.Checked, checkable: true})
		if name := n.AttrOr("name", ""); isRadio(n) && name != "" && n.Checked {
			for _, other := range in.env.Doc.Find(func(x *dom.Node) bool {
				return x != n && x.Type == dom.ElementNode && isRadio(x) && x.AttrOr("name", "") == name
			}) {
				if privacy.InputIgnored(other) || privacy.ShouldMask(other, in.env.level(other)) {
					continue
				}
				in.emit(at, other, inputState{checkable: true})
			}
		}
		return
	}
	v, ok := serialize.FormValue(n, lvl)
	if !ok {
		return
	}
	in.emit(at, n, inputState{text: v, hasText: true})
}

func (in *Input) emit(at int64, n *dom.Node, st inputState) {
	if last, ok := in.last[n]; ok && last == st {
		return
	}
	id, ok := in.env.target(n)
	if !ok {
		return
	}
	in.last[n] = st
	d := record.InputData{ID: id}
	if st.checkable {
		c := st.checked
		d.IsChecked = &c
	} else {
		t := st.text
		d.Text = &t
	}
	in.env.Emit(record.NewIncremental(at, d))
}

// Reset forgets the recorded states.
func (in *Input) Reset() { clear(in.last) }

func isInputControl(n *dom.Node) bool {
	if n.Namespace != "" {
		return false
	}
	switch n.Name {
	case "input", "textarea", "select":
		return true
	}
	return false
}

func isCheckbox(n *dom.Node) bool { return n.Name == "input" && n.InputType() == "checkbox" }
func isRadio(n *dom.Node) bool    { return n.Name == "input" && n.InputType() == "radio" }
