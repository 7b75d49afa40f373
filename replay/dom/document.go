package dom

import (
	"errors"
	"maps"
	"slices"
	"strings"
)

// ErrUnsupported is returned when the host cannot provide change
// notifications (the equivalent of a page without MutationObserver).
var ErrUnsupported = errors.New("dom: mutation observation unsupported")

// Window is the browsing context state the recorder samples.
type Window struct {
	InnerWidth     int
	InnerHeight    int
	ScrollX        float64
	ScrollY        float64
	HasFocus       bool
	VisualViewport VisualViewport
}

// VisualViewport is the pinch-zoom viewport.
type VisualViewport struct {
	Scale      float64
	OffsetLeft float64
	OffsetTop  float64
	PageLeft   float64
	PageTop    float64
	Width      float64
	Height     float64
}

// Document is the root of a live tree.
type Document struct {
	URL    string
	Window Window

	node            *Node
	noObserver      bool
	observers       []*MutationObserver
	shadowListeners map[int]func(root *Node)
	sheetListeners  map[int]func(StyleSheetChange)
	eventListeners  map[int]func(*Event)
	nextListener    int
}

// Option configures a Document.
type Option func(*Document)

// WithoutMutationObserver makes NewMutationObserver fail with
// ErrUnsupported.
func WithoutMutationObserver() Option {
	return func(d *Document) { d.noObserver = true }
}

// NewDocument creates an empty document.
func NewDocument(url string, opts ...Option) *Document {
	d := &Document{
		URL: url,
		Window: Window{
			InnerWidth:     1280,
			InnerHeight:    720,
			HasFocus:       true,
			VisualViewport: VisualViewport{Scale: 1, Width: 1280, Height: 720},
		},
		shadowListeners: make(map[int]func(*Node)),
		sheetListeners:  make(map[int]func(StyleSheetChange)),
		eventListeners:  make(map[int]func(*Event)),
	}
	d.node = &Node{Type: DocumentNode, Name: "#document", doc: d}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Node returns the document node.
func (d *Document) Node() *Node { return d.node }

// DocumentElement returns the root <html> element.
func (d *Document) DocumentElement() *Node {
	for _, c := range d.node.children {
		if c.Type == ElementNode {
			return c
		}
	}
	return nil
}

// Head returns the <head> element.
func (d *Document) Head() *Node { return d.rootChild("head") }

// Body returns the <body> element.
func (d *Document) Body() *Node { return d.rootChild("body") }

func (d *Document) rootChild(name string) *Node {
	root := d.DocumentElement()
	if root == nil {
		return nil
	}
	for _, c := range root.children {
		if c.Type == ElementNode && c.Name == name {
			return c
		}
	}
	return nil
}

// CreateElement creates a detached HTML element.
func (d *Document) CreateElement(tag string) *Node {
	n := &Node{Type: ElementNode, Name: strings.ToLower(tag), doc: d}
	initElement(n)
	return n
}

// CreateElementNS creates a detached element in namespace ns ("svg").
func (d *Document) CreateElementNS(ns, tag string) *Node {
	return &Node{Type: ElementNode, Name: tag, Namespace: ns, doc: d}
}

// CreateTextNode creates a detached text node.
func (d *Document) CreateTextNode(s string) *Node {
	return &Node{Type: TextNode, Name: "#text", Data: s, doc: d}
}

// CreateComment creates a detached comment.
func (d *Document) CreateComment(s string) *Node {
	return &Node{Type: CommentNode, Name: "#comment", Data: s, doc: d}
}

// CreateCDATASection creates a detached CDATA section.
func (d *Document) CreateCDATASection(s string) *Node {
	return &Node{Type: CDATASectionNode, Name: "#cdata-section", Data: s, doc: d}
}

// CreateDocumentType creates a doctype node.
func (d *Document) CreateDocumentType(name, publicID, systemID string) *Node {
	return &Node{Type: DocumentTypeNode, Name: name, PublicID: publicID, SystemID: systemID, doc: d}
}

// CreateDocumentFragment creates an empty fragment. Inserting a fragment
// inserts its children.
func (d *Document) CreateDocumentFragment() *Node {
	return &Node{Type: DocumentFragmentNode, Name: "#document-fragment", doc: d}
}

// Walk visits n and its composed descendants (shadow roots after the host's
// light children) in document order until fn returns false.
func Walk(n *Node, fn func(*Node) bool) bool {
	if !fn(n) {
		return false
	}
	for _, c := range n.children {
		if !Walk(c, fn) {
			return false
		}
	}
	if n.shadow != nil {
		return Walk(n.shadow, fn)
	}
	return true
}

// Find returns every connected node matching fn, in composed document order.
func (d *Document) Find(fn func(*Node) bool) []*Node {
	var out []*Node
	Walk(d.node, func(n *Node) bool {
		if fn(n) {
			out = append(out, n)
		}
		return true
	})
	return out
}

// GetElementByID returns the first element with the given id, searching
// shadow trees too.
func (d *Document) GetElementByID(id string) *Node {
	var found *Node
	Walk(d.node, func(n *Node) bool {
		if n.Type == ElementNode && n.AttrOr("id", "\x00") == id {
			found = n
			return false
		}
		return true
	})
	return found
}

// OnShadowAttached registers fn to run whenever a shadow root is attached
// to an element of this document. The returned func unregisters it.
func (d *Document) OnShadowAttached(fn func(root *Node)) func() {
	id := d.listenerID()
	d.shadowListeners[id] = fn
	return func() { delete(d.shadowListeners, id) }
}

func (d *Document) shadowAttached(root *Node) {
	for _, id := range sortedKeys(d.shadowListeners) {
		if fn, ok := d.shadowListeners[id]; ok {
			fn(root)
		}
	}
}

func (d *Document) listenerID() int {
	d.nextListener++
	return d.nextListener
}

func sortedKeys[V any](m map[int]V) []int {
	return slices.Sorted(maps.Keys(m))
}

// initElement sets the live defaults of a freshly created element.
func initElement(n *Node) {
	switch n.Name {
	case "audio", "video":
		n.Paused = true
		n.Volume = 1
		n.PlaybackRate = 1
	}
}
