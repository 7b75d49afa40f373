// Package privacy classifies DOM nodes into redaction levels.
//
// Markers are read from the data-dd-privacy attribute and the dd-privacy-*
// class names. A node's own markers win over what it inherits, except below
// a hidden ancestor: hidden subtrees stay hidden unconditionally.
package privacy

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

// Level is a redaction level. Levels are ordered by strictness.
type Level int

const (
	Allow Level = iota
	Mask
	MaskUserInput
	Hidden
)

// Attribute and class vocabulary.
const (
	AttrName    = "data-dd-privacy"
	ClassPrefix = "dd-privacy-"

	inputIgnoredValue = "input-ignored"
)

// CensoredMark replaces censored attribute values.
const CensoredMark = "***"

// MaskChar replaces every character of masked text.
const MaskChar = 'x'

func (l Level) String() string {
	switch l {
	case Allow:
		return "allow"
	case Mask:
		return "mask"
	case MaskUserInput:
		return "mask-user-input"
	case Hidden:
		return "hidden"
	default:
		return fmt.Sprintf("level(%d)", int(l))
	}
}

// ParseLevel parses a level name.
func ParseLevel(s string) (Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "allow":
		return Allow, nil
	case "mask":
		return Mask, nil
	case "mask-user-input":
		return MaskUserInput, nil
	case "hidden":
		return Hidden, nil
	}
	return Allow, fmt.Errorf("privacy: unknown level %q", s)
}

// MarshalText implements encoding.TextMarshaler.
func (l Level) MarshalText() ([]byte, error) { return []byte(l.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler.
func (l *Level) UnmarshalText(b []byte) error {
	v, err := ParseLevel(string(b))
	if err != nil {
		return err
	}
	*l = v
	return nil
}

// Marker is the set of privacy markers found on one node.
type Marker uint8

const (
	MarkAllow Marker = 1 << iota
	MarkMask
	MarkMaskUserInput
	MarkHidden
	MarkInputIgnored
)

// Markers decodes the marker set of an element. Other node types carry
// none.
func Markers(n *dom.Node) Marker {
	if n == nil || n.Type != dom.ElementNode {
		return 0
	}
	var m Marker
	if v, ok := n.Attr(AttrName); ok {
		m |= markerFor(strings.ToLower(strings.TrimSpace(v)))
	}
	for _, c := range n.ClassList() {
		if rest, ok := strings.CutPrefix(c, ClassPrefix); ok {
			m |= markerFor(rest)
		}
	}
	return m
}

func markerFor(s string) Marker {
	switch s {
	case "allow":
		return MarkAllow
	case "mask":
		return MarkMask
	case "mask-user-input":
		return MarkMaskUserInput
	case "hidden":
		return MarkHidden
	case inputIgnoredValue:
		return MarkInputIgnored
	}
	return 0
}

// Level returns the strictest level among the markers.
func (m Marker) Level() (Level, bool) {
	switch {
	case m&MarkHidden != 0:
		return Hidden, true
	case m&(MarkMaskUserInput|MarkInputIgnored) != 0:
		return MaskUserInput, true
	case m&MarkMask != 0:
		return Mask, true
	case m&MarkAllow != 0:
		return Allow, true
	}
	return Allow, false
}

// InputIgnored reports whether the input-ignored marker is present.
func (m Marker) InputIgnored() bool { return m&MarkInputIgnored != 0 }

// SelfLevel returns the level a node asks for on its own, if any. Some
// elements are forced: <base> is always allowed so relative URLs resolve,
// and credential-like inputs are at least masked.
func SelfLevel(n *dom.Node) (Level, bool) {
	if n == nil || n.Type != dom.ElementNode {
		return Allow, false
	}
	if n.Name == "base" && n.Namespace == "" {
		return Allow, true
	}
	lvl, ok := Markers(n).Level()
	if n.Name == "input" && n.Namespace == "" && alwaysMaskedInput(n) {
		if !ok || lvl < Mask {
			return Mask, true
		}
	}
	return lvl, ok
}

func alwaysMaskedInput(n *dom.Node) bool {
	switch n.InputType() {
	case "password", "email", "tel", "hidden":
		return true
	}
	ac := strings.ToLower(n.AttrOr("autocomplete", ""))
	return strings.HasPrefix(ac, "cc-")
}

// Classify returns the effective level of n given the effective level of
// its composed parent.
func Classify(n *dom.Node, parent Level) Level {
	if parent == Hidden {
		return Hidden
	}
	if self, ok := SelfLevel(n); ok {
		return self
	}
	return parent
}

// Cache memoises effective levels during one flush.
type Cache map[*dom.Node]Level

// Effective computes the level of n from the document default down through
// its composed ancestors. Detached roots inherit the default.
func Effective(n *dom.Node, def Level, cache Cache) Level {
	if n == nil {
		return def
	}
	if cache != nil {
		if l, ok := cache[n]; ok {
			return l
		}
	}
	parent := def
	if p := n.ComposedParent(); p != nil {
		parent = Effective(p, def, cache)
	}
	l := Classify(n, parent)
	if n.Type == dom.DocumentNode {
		l = def
	}
	if cache != nil {
		cache[n] = l
	}
	return l
}

// InputIgnored reports whether input events on n, or on any composed
// ancestor, must not be recorded.
func InputIgnored(n *dom.Node) bool {
	for cur := n; cur != nil; cur = cur.ComposedParent() {
		if Markers(cur).InputIgnored() {
			return true
		}
	}
	return false
}

// IsFormElement reports whether n is a form control whose content is user
// input.
func IsFormElement(n *dom.Node) bool {
	if n == nil || n.Type != dom.ElementNode || n.Namespace != "" {
		return false
	}
	switch n.Name {
	case "input", "select", "textarea", "option":
		return true
	}
	return false
}

// ShouldMask reports whether content of n (a text node or a form control)
// must be masked at level l. Text is masked under mask-user-input too; of
// the elements, only form controls are.
func ShouldMask(n *dom.Node, l Level) bool {
	switch l {
	case Mask, Hidden:
		return true
	case MaskUserInput:
		return n.Type == dom.TextNode || IsFormElement(n)
	}
	return false
}

// MaskText replaces every character of s with MaskChar, keeping its length
// in characters.
func MaskText(s string) string {
	return strings.Repeat(string(MaskChar), utf8.RuneCountInString(s))
}
