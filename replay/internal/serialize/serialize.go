// Package serialize turns live DOM subtrees into privacy-redacted
// record.Tree arenas.
package serialize

import (
	"fmt"
	"log/slog"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/nodeid"
	"github.com/hazyhaar/horosreplay/replay/internal/privacy"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// Status tells the serializer which pass it runs in.
type Status int

const (
	// FullSnapshot reads live layout state (scroll offsets) and refreshes
	// the scroll cache.
	FullSnapshot Status = iota
	// Mutation only uses cached layout state.
	Mutation
)

// Options configure a Serializer.
type Options struct {
	DefaultLevel        privacy.Level
	ActionNameAttribute string
	Logger              *slog.Logger
}

// Context is the per-call state of one serialization.
type Context struct {
	Status      Status
	ParentLevel privacy.Level
	// Serialized, when non-nil, receives every node written to the tree.
	Serialized map[*dom.Node]struct{}
}

// Serializer walks live subtrees. It assigns ids through the registry and
// remembers the level each node was last serialized at.
type Serializer struct {
	reg    *nodeid.Registry
	opts   Options
	logger *slog.Logger
	scroll *ScrollCache
	levels map[record.NodeID]privacy.Level
	panics int
}

// New creates a serializer bound to reg.
func New(reg *nodeid.Registry, opts Options) *Serializer {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Serializer{
		reg:    reg,
		opts:   opts,
		logger: logger,
		scroll: NewScrollCache(),
		levels: make(map[record.NodeID]privacy.Level),
	}
}

// Registry returns the node registry.
func (s *Serializer) Registry() *nodeid.Registry { return s.reg }

// Options returns the configured options.
func (s *Serializer) Options() Options { return s.opts }

// Scroll returns the scroll position cache.
func (s *Serializer) Scroll() *ScrollCache { return s.scroll }

// Panics returns the number of subtrees replaced by placeholders.
func (s *Serializer) Panics() int { return s.panics }

// LastLevel returns the level id was last serialized at.
func (s *Serializer) LastLevel(id record.NodeID) (privacy.Level, bool) {
	l, ok := s.levels[id]
	return l, ok
}

// Reset forgets cached scroll positions and levels.
func (s *Serializer) Reset() {
	s.scroll.Reset()
	clear(s.levels)
}

// Document serializes the whole document.
func (s *Serializer) Document(d *dom.Document) record.Tree {
	t, _ := s.Serialize(d.Node(), Context{Status: FullSnapshot, ParentLevel: s.opts.DefaultLevel})
	return t
}

// Serialize serializes the composed subtree rooted at n. It reports false
// when n itself is not serializable (ignored elements, or text inside a
// style sheet owner).
func (s *Serializer) Serialize(n *dom.Node, ctx Context) (record.Tree, bool) {
	w := &walker{s: s, ctx: ctx, base: baseURL(n.OwnerDocument())}
	id, ok := w.node(n, ctx.ParentLevel)
	if !ok {
		return record.Tree{}, false
	}
	return record.Tree{Root: id, Nodes: w.nodes}, true
}

type walker struct {
	s     *Serializer
	ctx   Context
	base  string
	nodes []record.SerializedNode
}

// node appends n and its subtree to the arena, recovering from a panic in
// any live getter by emitting a childless placeholder for n.
func (w *walker) node(n *dom.Node, parent privacy.Level) (id record.NodeID, ok bool) {
	if Ignored(n) {
		return 0, false
	}
	if p := n.Parent(); p != nil && n.Type == dom.TextNode && skipsChildren(p) {
		return 0, false
	}
	mark := len(w.nodes)
	id = w.s.reg.GetOrAssign(n)
	w.nodes = append(w.nodes, record.SerializedNode{ID: id})

	defer func() {
		if r := recover(); r != nil {
			w.s.panics++
			w.s.logger.Warn("serialize: subtree replaced by placeholder",
				"node", n.String(), "id", id, "panic", fmt.Sprint(r))
			for _, c := range n.Children() {
				if cid, known := w.s.reg.ID(c); known {
					w.s.reg.Forget(cid)
				}
			}
			w.nodes = w.nodes[:mark+1]
			w.nodes[mark] = placeholder(n, id)
			ok = true
		}
	}()

	sn := w.fill(n, id, parent)
	w.nodes[mark] = sn
	return id, true
}

func placeholder(n *dom.Node, id record.NodeID) record.SerializedNode {
	sn := record.SerializedNode{ID: id, Type: recordType(n)}
	if n.Type == dom.ElementNode {
		sn.TagName = n.Name
	}
	return sn
}

func (w *walker) fill(n *dom.Node, id record.NodeID, parent privacy.Level) record.SerializedNode {
	sn := record.SerializedNode{ID: id, Type: recordType(n)}
	if w.ctx.Serialized != nil {
		w.ctx.Serialized[n] = struct{}{}
	}
	switch n.Type {
	case dom.DocumentNode:
		sn.ChildNodes = w.children(n, parent)
	case dom.DocumentTypeNode:
		sn.Name, sn.PublicID, sn.SystemID = n.Name, n.PublicID, n.SystemID
	case dom.DocumentFragmentNode:
		sn.IsShadowRoot = n.IsShadowRoot()
		sn.ChildNodes = w.children(n, parent)
	case dom.ElementNode:
		lvl := privacy.Classify(n, parent)
		w.s.levels[id] = lvl
		w.element(n, lvl, &sn)
	case dom.TextNode, dom.CDATASectionNode, dom.CommentNode:
		lvl := privacy.Classify(n, parent)
		w.s.levels[id] = lvl
		sn.TextContent = TextContent(n, lvl)
	}
	return sn
}

func (w *walker) element(n *dom.Node, lvl privacy.Level, sn *record.SerializedNode) {
	sn.TagName = n.Name
	sn.IsSVG = n.Namespace == "svg" || n.Name == "svg"
	if lvl == privacy.Hidden {
		sn.Attributes = map[string]string{privacy.AttrName: privacy.Hidden.String()}
		return
	}
	sn.Attributes = w.attributes(n, lvl)
	if n.Sheet != nil && (n.Name == "style" || n.Name == "link") {
		sn.CSSText = AbsoluteCSS(n.Sheet.CSSText(), w.sheetBase(n))
	}
	if skipsChildren(n) {
		return
	}
	sn.ChildNodes = w.children(n, lvl)
}

// children serializes the light children, then the shadow root.
func (w *walker) children(n *dom.Node, lvl privacy.Level) []record.NodeID {
	var ids []record.NodeID
	for _, c := range n.Children() {
		if cid, ok := w.node(c, lvl); ok {
			ids = append(ids, cid)
		}
	}
	if root := n.ShadowRoot(); root != nil {
		if cid, ok := w.node(root, lvl); ok {
			ids = append(ids, cid)
		}
	}
	return ids
}

func (w *walker) sheetBase(n *dom.Node) string {
	if n.Sheet != nil && n.Sheet.Href != "" {
		return resolveURL(n.Sheet.Href, w.base)
	}
	return w.base
}

func recordType(n *dom.Node) record.NodeType {
	switch n.Type {
	case dom.DocumentNode:
		return record.DocumentNode
	case dom.DocumentTypeNode:
		return record.DocumentTypeNode
	case dom.TextNode:
		return record.TextNode
	case dom.CDATASectionNode:
		return record.CDATANode
	case dom.CommentNode:
		return record.CommentNode
	case dom.DocumentFragmentNode:
		return record.DocumentFragmentNode
	default:
		return record.ElementNode
	}
}

// TextContent returns the redacted character data of n at level lvl.
func TextContent(n *dom.Node, lvl privacy.Level) string {
	if lvl == privacy.Hidden || privacy.ShouldMask(n, lvl) {
		return privacy.MaskText(n.Data)
	}
	return n.Data
}

// skipsChildren reports whether the children of n are replaced by its
// captured style sheet.
func skipsChildren(n *dom.Node) bool {
	return n.Type == dom.ElementNode && n.Name == "style" && n.Namespace == ""
}

// Ignored reports whether n is never serialized.
func Ignored(n *dom.Node) bool {
	if n.Type != dom.ElementNode || n.Namespace != "" {
		return false
	}
	switch n.Name {
	case "script", "noscript":
		return true
	case "link":
		rel := n.AttrOr("rel", "")
		switch rel {
		case "preload":
			return n.AttrOr("as", "") == "script"
		case "modulepreload", "prefetch":
			return true
		}
	}
	return false
}
