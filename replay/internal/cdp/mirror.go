package cdp

import (
	"fmt"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

// mirror keeps a dom.Document in step with the DOM domain of a Chrome
// page. Nodes are keyed by their CDP node id. Every method must run on the
// recording goroutine.
type mirror struct {
	doc   *dom.Document
	nodes map[proto.DOMNodeID]*dom.Node
	ids   map[*dom.Node]proto.DOMNodeID
}

func newMirror(doc *dom.Document) *mirror {
	return &mirror{
		doc:   doc,
		nodes: make(map[proto.DOMNodeID]*dom.Node),
		ids:   make(map[*dom.Node]proto.DOMNodeID),
	}
}

// load replaces the document content with the tree of root, the result of
// DOM.getDocument.
func (m *mirror) load(root *proto.DOMNode) {
	clear(m.nodes)
	clear(m.ids)
	m.bind(root.NodeID, m.doc.Node())
	var kids []*dom.Node
	for _, c := range root.Children {
		if n := m.build(c); n != nil {
			kids = append(kids, n)
		}
	}
	url := root.DocumentURL
	if url == "" {
		url = m.doc.URL
	}
	m.doc.Load(url, kids...)
}

func (m *mirror) bind(id proto.DOMNodeID, n *dom.Node) {
	m.nodes[id] = n
	m.ids[n] = id
}

func (m *mirror) unbind(n *dom.Node) {
	dom.Walk(n, func(x *dom.Node) bool {
		if id, ok := m.ids[x]; ok {
			delete(m.ids, x)
			delete(m.nodes, id)
		}
		return true
	})
}

// build creates the detached subtree described by pn.
func (m *mirror) build(pn *proto.DOMNode) *dom.Node {
	var n *dom.Node
	switch pn.NodeType {
	case 1:
		n = m.element(pn)
	case 3:
		n = m.doc.CreateTextNode(pn.NodeValue)
	case 4:
		n = m.doc.CreateCDATASection(pn.NodeValue)
	case 8:
		n = m.doc.CreateComment(pn.NodeValue)
	case 10:
		n = m.doc.CreateDocumentType(pn.NodeName, pn.PublicID, pn.SystemID)
	default:
		return nil
	}
	m.bind(pn.NodeID, n)
	return n
}

func (m *mirror) element(pn *proto.DOMNode) *dom.Node {
	name := pn.LocalName
	if name == "" {
		name = pn.NodeName
	}
	var n *dom.Node
	if pn.IsSVG {
		n = m.doc.CreateElementNS("svg", name)
	} else {
		n = m.doc.CreateElement(name)
	}
	for i := 0; i+1 < len(pn.Attributes); i += 2 {
		n.SetAttribute(pn.Attributes[i], pn.Attributes[i+1])
	}
	m.appendChildren(n, pn.Children)
	for _, sr := range pn.ShadowRoots {
		m.shadow(n, sr)
	}
	n.LoadState()
	return n
}

func (m *mirror) appendChildren(parent *dom.Node, children []*proto.DOMNode) {
	for _, c := range children {
		if k := m.build(c); k != nil {
			_ = parent.AppendChild(k)
		}
	}
}

// shadow attaches the shadow root sr to host. User-agent roots (form
// controls, media elements) are not part of the page.
func (m *mirror) shadow(host *dom.Node, sr *proto.DOMNode) {
	if string(sr.ShadowRootType) == "user-agent" || host.ShadowRoot() != nil {
		return
	}
	root, err := host.AttachShadow()
	if err != nil {
		return
	}
	m.bind(sr.NodeID, root)
	m.appendChildren(root, sr.Children)
}

func (m *mirror) node(id proto.DOMNodeID) (*dom.Node, error) {
	n, ok := m.nodes[id]
	if !ok {
		return nil, fmt.Errorf("cdp: unknown node %d", id)
	}
	return n, nil
}

func (m *mirror) inserted(e *proto.DOMChildNodeInserted) error {
	parent, err := m.node(e.ParentNodeID)
	if err != nil {
		return err
	}
	if old, ok := m.nodes[e.Node.NodeID]; ok {
		m.unbind(old)
	}
	n := m.build(e.Node)
	if n == nil {
		return nil
	}
	// PreviousNodeID 0 means first child.
	var ref *dom.Node
	if e.PreviousNodeID == 0 {
		ref = parent.FirstChild()
	} else {
		prev, err := m.node(e.PreviousNodeID)
		if err != nil {
			return err
		}
		ref = prev.NextSibling()
	}
	return parent.InsertBefore(n, ref)
}

func (m *mirror) removed(e *proto.DOMChildNodeRemoved) error {
	parent, err := m.node(e.ParentNodeID)
	if err != nil {
		return err
	}
	n, err := m.node(e.NodeID)
	if err != nil {
		return err
	}
	if err := parent.RemoveChild(n); err != nil {
		return err
	}
	m.unbind(n)
	return nil
}

// setChildren answers DOM.requestChildNodes: the children of a node that
// was reported without them.
func (m *mirror) setChildren(e *proto.DOMSetChildNodes) error {
	parent, err := m.node(e.ParentID)
	if err != nil {
		return err
	}
	for _, c := range parent.Children() {
		if err := parent.RemoveChild(c); err != nil {
			return err
		}
		m.unbind(c)
	}
	m.appendChildren(parent, e.Nodes)
	return nil
}

func (m *mirror) attribute(id proto.DOMNodeID, name string, value *string) error {
	n, err := m.node(id)
	if err != nil {
		return err
	}
	if value == nil {
		n.RemoveAttribute(name)
	} else {
		n.SetAttribute(name, *value)
	}
	return nil
}

func (m *mirror) characterData(e *proto.DOMCharacterDataModified) error {
	n, err := m.node(e.NodeID)
	if err != nil {
		return err
	}
	n.SetData(e.CharacterData)
	if p := n.Parent(); p != nil && p.Name == "style" && p.Sheet != nil {
		p.LoadState()
	}
	return nil
}

func (m *mirror) shadowPushed(e *proto.DOMShadowRootPushed) error {
	host, err := m.node(e.HostID)
	if err != nil {
		return err
	}
	m.shadow(host, e.Root)
	return nil
}

func (m *mirror) shadowPopped(e *proto.DOMShadowRootPopped) error {
	host, err := m.node(e.HostID)
	if err != nil {
		return err
	}
	root := host.ShadowRoot()
	if root == nil {
		return nil
	}
	for _, c := range root.Children() {
		_ = root.RemoveChild(c)
	}
	m.unbind(root)
	host.DetachShadow()
	return nil
}

// resolve follows an element path reported by the capture script: each
// step is an index among element children, -1 enters the shadow root. An
// empty path is the document.
func (m *mirror) resolve(path []int) (*dom.Node, error) {
	cur := m.doc.Node()
	for _, step := range path {
		if step < 0 {
			if cur.ShadowRoot() == nil {
				return nil, fmt.Errorf("cdp: path %v: %s has no shadow root", path, cur)
			}
			cur = cur.ShadowRoot()
			continue
		}
		next := elementChild(cur, step)
		if next == nil {
			return nil, fmt.Errorf("cdp: path %v: %s has no element child %d", path, cur, step)
		}
		cur = next
	}
	return cur, nil
}

func elementChild(n *dom.Node, i int) *dom.Node {
	for _, c := range n.Children() {
		if c.Type != dom.ElementNode {
			continue
		}
		if i == 0 {
			return c
		}
		i--
	}
	return nil
}
