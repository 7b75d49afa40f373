package serialize

import (
	"math"
	"strconv"
	"strings"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/privacy"
)

// TransparentGIF replaces masked image sources.
const TransparentGIF = "data:image/gif;base64,R0lGODlhAQABAIAAAAAAAP///yH5BAEAAAAALAAAAAABAAEAAAIBRAA7"

// MaxDataURLLength bounds data: URLs kept in attribute values.
const MaxDataURLLength = 100_000

// stableAttributes are test hooks kept verbatim under mask.
var stableAttributes = map[string]bool{
	"data-testid":  true,
	"data-test":    true,
	"data-qa":      true,
	"data-cy":      true,
	"data-test-id": true,
	"data-qa-id":   true,
	"data-testing": true,
}

// Synthetic attributes understood by replay.
const (
	AttrScrollLeft = "rr_scrollLeft"
	AttrScrollTop  = "rr_scrollTop"
	AttrMediaState = "rr_mediaState"
)

func (w *walker) attributes(n *dom.Node, lvl privacy.Level) map[string]string {
	attrs := make(map[string]string, len(n.Attributes())+2)
	for _, a := range n.Attributes() {
		attrs[a.Name] = AttributeValue(n, a.Name, a.Value, lvl, w.s.opts.ActionNameAttribute)
	}
	formState(n, lvl, attrs)
	w.scrollState(n, attrs)
	return attrs
}

// AttributeValue returns the redacted value of attribute name on element n.
func AttributeValue(n *dom.Node, name, value string, lvl privacy.Level, actionName string) string {
	if lvl == privacy.Mask && !keepUnderMask(name, actionName) {
		switch name {
		case "title", "alt", "placeholder":
			return privacy.CensoredMark
		}
		switch {
		case n.Name == "a" && name == "href":
			return privacy.CensoredMark
		case n.Name == "iframe" && name == "srcdoc":
			return privacy.CensoredMark
		case (n.Name == "img" || n.Name == "source") && (name == "src" || name == "srcset"):
			return TransparentGIF
		case strings.HasPrefix(name, "data-"):
			return privacy.CensoredMark
		}
	}
	if name == "value" && privacy.IsFormElement(n) && privacy.ShouldMask(n, lvl) && !isButtonInput(n) {
		return privacy.MaskText(value)
	}
	return SanitizeDataURL(value)
}

func keepUnderMask(name, actionName string) bool {
	return name == privacy.AttrName || (actionName != "" && name == actionName) || stableAttributes[name]
}

// SanitizeDataURL truncates data: URLs longer than MaxDataURLLength to
// "data:<mime>;truncated".
func SanitizeDataURL(v string) string {
	if len(v) <= MaxDataURLLength || !strings.HasPrefix(v, "data:") {
		return v
	}
	mime := v[len("data:"):]
	if i := strings.IndexAny(mime, ";,"); i >= 0 {
		mime = mime[:i]
	}
	return "data:" + mime + ";truncated"
}

func isButtonInput(n *dom.Node) bool {
	if n.Name != "input" {
		return false
	}
	switch n.InputType() {
	case "button", "submit", "reset":
		return true
	}
	return false
}

func isCheckable(n *dom.Node) bool {
	if n.Name != "input" {
		return false
	}
	t := n.InputType()
	return t == "checkbox" || t == "radio"
}

// FormValue returns the value to record for a form control, and false
// when the control has no value to record at this level.
func FormValue(n *dom.Node, lvl privacy.Level) (string, bool) {
	if isCheckable(n) {
		if privacy.ShouldMask(n, lvl) {
			return "", false
		}
		v, ok := n.Attr("value")
		return v, ok
	}
	v := n.Value()
	if privacy.ShouldMask(n, lvl) && !isButtonInput(n) {
		return privacy.MaskText(v), true
	}
	return v, true
}

func formState(n *dom.Node, lvl privacy.Level, attrs map[string]string) {
	if n.Namespace != "" {
		return
	}
	switch n.Name {
	case "input", "textarea", "select":
		if v, ok := FormValue(n, lvl); ok {
			attrs["value"] = v
		} else {
			delete(attrs, "value")
		}
		if isCheckable(n) {
			delete(attrs, "checked")
			if lvl == privacy.Allow && n.Checked {
				attrs["checked"] = "true"
			}
		}
	case "option":
		delete(attrs, "selected")
		if lvl == privacy.Allow && n.Selected {
			attrs["selected"] = "true"
		}
	case "audio", "video":
		if n.Paused {
			attrs[AttrMediaState] = "paused"
		} else {
			attrs[AttrMediaState] = "played"
		}
	}
}

// scrollState records the element scroll offsets. The document element is
// excluded: its offset is the snapshot's initial offset.
func (w *walker) scrollState(n *dom.Node, attrs map[string]string) {
	if d := n.OwnerDocument(); d != nil && n == d.DocumentElement() {
		return
	}
	var pos ScrollPosition
	var ok bool
	if w.ctx.Status == FullSnapshot {
		pos = ScrollPosition{Left: n.ScrollLeft, Top: n.ScrollTop}
		ok = pos.Left != 0 || pos.Top != 0
		if ok {
			w.s.scroll.Set(n, pos)
		}
	} else {
		pos, ok = w.s.scroll.Get(n)
	}
	if !ok {
		return
	}
	if pos.Left != 0 {
		attrs[AttrScrollLeft] = strconv.Itoa(int(math.Round(pos.Left)))
	}
	if pos.Top != 0 {
		attrs[AttrScrollTop] = strconv.Itoa(int(math.Round(pos.Top)))
	}
}
