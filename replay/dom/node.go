// Package dom is the live document model the recorder observes. It is owned
// and mutated by the host (a CDP mirror of a Chrome page, a parsed static
// page, or a test); the recorder only reads it and subscribes to its change
// notifications.
//
// A Document and its nodes are not safe for concurrent use: all access must
// happen on the goroutine that runs the recorder loop.
package dom

import (
	"errors"
	"fmt"
	"strings"
)

// NodeType follows the W3C nodeType numbering.
type NodeType int

const (
	ElementNode          NodeType = 1
	TextNode             NodeType = 3
	CDATASectionNode     NodeType = 4
	CommentNode          NodeType = 8
	DocumentNode         NodeType = 9
	DocumentTypeNode     NodeType = 10
	DocumentFragmentNode NodeType = 11
)

// ErrHierarchy is returned for an invalid tree operation.
var ErrHierarchy = errors.New("dom: hierarchy request error")

// Attribute is a name/value pair in source order.
type Attribute struct {
	Name  string
	Value string
}

// Node is a node of the live tree. Exported fields are live properties the
// host keeps current (they are not attributes and produce no notification).
type Node struct {
	Type      NodeType
	Name      string // lower-case tag name for elements, doctype name
	Namespace string // "svg", "math" or empty for HTML
	Data      string // character data
	PublicID  string
	SystemID  string

	// Live element state.
	ScrollLeft   float64
	ScrollTop    float64
	Checked      bool
	Selected     bool
	Paused       bool
	CurrentTime  float64
	Volume       float64
	Muted        bool
	PlaybackRate float64
	Width        float64 // layout box, 0 when unknown
	Height       float64
	Sheet        *StyleSheet // CSSOM of <style> and loaded <link rel=stylesheet>

	// ValueFunc, when set, supplies the live value of a form control.
	// Hosts reading values lazily (e.g. over CDP) install it.
	ValueFunc func() string

	doc      *Document
	parent   *Node
	children []*Node
	attrs    []Attribute
	value    *string
	shadow   *Node
	host     *Node
}

func (n *Node) String() string {
	switch n.Type {
	case ElementNode:
		return "<" + n.Name + ">"
	case TextNode:
		return fmt.Sprintf("#text(%q)", n.Data)
	case DocumentNode:
		return "#document"
	case DocumentFragmentNode:
		return "#fragment"
	case CommentNode:
		return "#comment"
	case DocumentTypeNode:
		return "<!DOCTYPE " + n.Name + ">"
	default:
		return "#node"
	}
}

// OwnerDocument returns the document the node belongs to.
func (n *Node) OwnerDocument() *Document { return n.doc }

// Parent returns the parent node, nil for detached nodes, documents and
// shadow roots.
func (n *Node) Parent() *Node { return n.parent }

// Children returns the child list. The slice must not be modified.
func (n *Node) Children() []*Node { return n.children }

// FirstChild returns the first child or nil.
func (n *Node) FirstChild() *Node {
	if len(n.children) == 0 {
		return nil
	}
	return n.children[0]
}

// NextSibling returns the following sibling or nil.
func (n *Node) NextSibling() *Node {
	if n.parent == nil {
		return nil
	}
	i := n.parent.indexOf(n)
	if i < 0 || i+1 >= len(n.parent.children) {
		return nil
	}
	return n.parent.children[i+1]
}

// PreviousSibling returns the preceding sibling or nil.
func (n *Node) PreviousSibling() *Node {
	if n.parent == nil {
		return nil
	}
	i := n.parent.indexOf(n)
	if i <= 0 {
		return nil
	}
	return n.parent.children[i-1]
}

func (n *Node) indexOf(c *Node) int {
	for i, x := range n.children {
		if x == c {
			return i
		}
	}
	return -1
}

// IsShadowRoot reports whether n is a shadow root attached to a host.
func (n *Node) IsShadowRoot() bool {
	return n.Type == DocumentFragmentNode && n.host != nil
}

// ShadowRoot returns the attached shadow root of an element.
func (n *Node) ShadowRoot() *Node { return n.shadow }

// Host returns the host element of a shadow root.
func (n *Node) Host() *Node { return n.host }

// ComposedParent returns the parent, crossing from a shadow root to its host.
func (n *Node) ComposedParent() *Node {
	if n.parent != nil {
		return n.parent
	}
	return n.host
}

// IsConnected reports whether the node is attached to its document,
// through shadow hosts if needed.
func (n *Node) IsConnected() bool {
	for cur := n; cur != nil; cur = cur.ComposedParent() {
		if cur.Type == DocumentNode {
			return n.doc != nil && cur == n.doc.node
		}
	}
	return false
}

// Contains reports whether other is n or a composed descendant of n.
func (n *Node) Contains(other *Node) bool {
	for cur := other; cur != nil; cur = cur.ComposedParent() {
		if cur == n {
			return true
		}
	}
	return false
}

// AttachShadow attaches an open shadow root to an element.
func (n *Node) AttachShadow() (*Node, error) {
	if n.Type != ElementNode {
		return nil, fmt.Errorf("%w: shadow root on %s", ErrHierarchy, n)
	}
	if n.shadow != nil {
		return nil, fmt.Errorf("%w: %s already hosts a shadow root", ErrHierarchy, n)
	}
	root := &Node{Type: DocumentFragmentNode, Name: "#shadow-root", doc: n.doc, host: n}
	n.shadow = root
	if n.doc != nil {
		n.doc.shadowAttached(root)
	}
	return root, nil
}

// DetachShadow drops the shadow root of an element (used by hosts mirroring
// a browser that popped a shadow root).
func (n *Node) DetachShadow() {
	if n.shadow != nil {
		n.shadow.host = nil
		n.shadow = nil
	}
}

// --- attributes ---

// Attr returns the value of an attribute.
func (n *Node) Attr(name string) (string, bool) {
	for _, a := range n.attrs {
		if a.Name == name {
			return a.Value, true
		}
	}
	return "", false
}

// AttrOr returns the attribute value, or def when absent.
func (n *Node) AttrOr(name, def string) string {
	if v, ok := n.Attr(name); ok {
		return v
	}
	return def
}

// Attributes returns the attributes in source order. The slice must not be
// modified.
func (n *Node) Attributes() []Attribute { return n.attrs }

// SetAttribute sets an attribute and queues an attributes notification.
func (n *Node) SetAttribute(name, value string) {
	name = strings.ToLower(name)
	var old *string
	for i := range n.attrs {
		if n.attrs[i].Name == name {
			v := n.attrs[i].Value
			old = &v
			n.attrs[i].Value = value
			break
		}
	}
	if old == nil {
		n.attrs = append(n.attrs, Attribute{Name: name, Value: value})
	}
	if n.doc != nil {
		n.doc.queue(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: name, OldValue: old})
	}
}

// RemoveAttribute removes an attribute if present.
func (n *Node) RemoveAttribute(name string) {
	name = strings.ToLower(name)
	for i := range n.attrs {
		if n.attrs[i].Name == name {
			v := n.attrs[i].Value
			n.attrs = append(n.attrs[:i], n.attrs[i+1:]...)
			if n.doc != nil {
				n.doc.queue(MutationRecord{Type: MutationAttributes, Target: n, AttributeName: name, OldValue: &v})
			}
			return
		}
	}
}

// ClassList returns the whitespace-separated classes of the element.
func (n *Node) ClassList() []string {
	v, _ := n.Attr("class")
	return strings.Fields(v)
}

// HasClass reports whether the element carries class c.
func (n *Node) HasClass(c string) bool {
	for _, x := range n.ClassList() {
		if x == c {
			return true
		}
	}
	return false
}

// --- character data ---

// SetData replaces the character data of a text, comment or CDATA node.
func (n *Node) SetData(s string) {
	old := n.Data
	n.Data = s
	if n.doc != nil {
		n.doc.queue(MutationRecord{Type: MutationCharacterData, Target: n, OldValue: &old})
	}
}

// TextContent concatenates the character data of all descendant text nodes.
func (n *Node) TextContent() string {
	switch n.Type {
	case TextNode, CDATASectionNode, CommentNode:
		return n.Data
	}
	var b strings.Builder
	var walk func(*Node)
	walk = func(x *Node) {
		for _, c := range x.children {
			if c.Type == TextNode || c.Type == CDATASectionNode {
				b.WriteString(c.Data)
			} else if c.Type == ElementNode {
				walk(c)
			}
		}
	}
	walk(n)
	return b.String()
}

// --- form values ---

// Value returns the live value of a form control.
func (n *Node) Value() string {
	if n.ValueFunc != nil {
		return n.ValueFunc()
	}
	if n.value != nil {
		return *n.value
	}
	switch n.Name {
	case "textarea":
		return n.TextContent()
	case "select":
		var first *Node
		var found *Node
		n.walkElements(func(o *Node) bool {
			if o.Name != "option" {
				return true
			}
			if first == nil {
				first = o
			}
			if o.Selected {
				found = o
				return false
			}
			return true
		})
		if found == nil {
			found = first
		}
		if found == nil {
			return ""
		}
		return found.Value()
	case "option":
		if v, ok := n.Attr("value"); ok {
			return v
		}
		return strings.TrimSpace(n.TextContent())
	}
	v, _ := n.Attr("value")
	return v
}

// SetValue sets the value property. Like in browsers, this is not an
// attribute change and produces no mutation notification.
func (n *Node) SetValue(v string) {
	n.value = &v
}

// InputType returns the lower-cased type of an <input>, "text" by default.
func (n *Node) InputType() string {
	t := strings.ToLower(strings.TrimSpace(n.AttrOr("type", "text")))
	if t == "" {
		return "text"
	}
	return t
}

func (n *Node) walkElements(fn func(*Node) bool) bool {
	for _, c := range n.children {
		if c.Type != ElementNode {
			continue
		}
		if !fn(c) {
			return false
		}
		if !c.walkElements(fn) {
			return false
		}
	}
	return true
}

// --- tree mutation ---

// AppendChild appends c to n, moving it from its current parent if any.
func (n *Node) AppendChild(c *Node) error {
	return n.InsertBefore(c, nil)
}

// InsertBefore inserts c before ref (appends when ref is nil). A node that
// already has a parent is first removed from it, producing two
// notifications, exactly like a browser move.
func (n *Node) InsertBefore(c, ref *Node) error {
	if err := n.checkInsert(c, ref); err != nil {
		return err
	}
	if c.Type == DocumentFragmentNode && !c.IsShadowRoot() {
		kids := append([]*Node(nil), c.children...)
		for _, k := range kids {
			if err := n.InsertBefore(k, ref); err != nil {
				return err
			}
		}
		return nil
	}
	if c.parent != nil {
		if err := c.parent.RemoveChild(c); err != nil {
			return err
		}
	}
	idx := len(n.children)
	if ref != nil {
		idx = n.indexOf(ref)
	}
	var prev *Node
	if idx > 0 {
		prev = n.children[idx-1]
	}
	n.children = append(n.children, nil)
	copy(n.children[idx+1:], n.children[idx:])
	n.children[idx] = c
	c.parent = n
	c.adopt(n.doc)
	if n.doc != nil {
		n.doc.queue(MutationRecord{
			Type:            MutationChildList,
			Target:          n,
			AddedNodes:      []*Node{c},
			PreviousSibling: prev,
			NextSibling:     ref,
		})
	}
	return nil
}

func (n *Node) checkInsert(c, ref *Node) error {
	switch n.Type {
	case ElementNode, DocumentNode, DocumentFragmentNode:
	default:
		return fmt.Errorf("%w: %s cannot have children", ErrHierarchy, n)
	}
	if c == nil || c.IsShadowRoot() || c.Type == DocumentNode {
		return fmt.Errorf("%w: cannot insert %v", ErrHierarchy, c)
	}
	if c.Contains(n) {
		return fmt.Errorf("%w: %s is an ancestor of %s", ErrHierarchy, c, n)
	}
	if ref != nil && ref.parent != n {
		return fmt.Errorf("%w: reference node is not a child of %s", ErrHierarchy, n)
	}
	return nil
}

// RemoveChild detaches c from n.
func (n *Node) RemoveChild(c *Node) error {
	idx := n.indexOf(c)
	if idx < 0 {
		return fmt.Errorf("%w: %s is not a child of %s", ErrHierarchy, c, n)
	}
	var prev, next *Node
	if idx > 0 {
		prev = n.children[idx-1]
	}
	if idx+1 < len(n.children) {
		next = n.children[idx+1]
	}
	if n.doc != nil {
		n.doc.beforeRemove(n, c)
	}
	n.children = append(n.children[:idx], n.children[idx+1:]...)
	c.parent = nil
	if n.doc != nil {
		n.doc.queue(MutationRecord{
			Type:            MutationChildList,
			Target:          n,
			RemovedNodes:    []*Node{c},
			PreviousSibling: prev,
			NextSibling:     next,
		})
	}
	return nil
}

// Remove detaches n from its parent, if any.
func (n *Node) Remove() {
	if n.parent != nil {
		_ = n.parent.RemoveChild(n)
	}
}

func (n *Node) adopt(d *Document) {
	if n.doc == d {
		return
	}
	n.doc = d
	for _, c := range n.children {
		c.adopt(d)
	}
	if n.shadow != nil {
		n.shadow.adopt(d)
	}
}
