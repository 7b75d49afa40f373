// Package record defines the in-memory shapes produced by the replay recorder.
// These are the contract with the transport layer: a consumer receives sealed
// Segments and serialises them however it likes (MarshalSegment gives JSON).
package record

// NodeID is the stable integer handle of a DOM node. It is assigned once per
// node on first observation and never reused while the recorder runs.
type NodeID int64

// NodeType tags the SerializedNode variant.
type NodeType int

const (
	DocumentNode         NodeType = 0
	DocumentTypeNode     NodeType = 1
	ElementNode          NodeType = 2
	TextNode             NodeType = 3
	CDATANode            NodeType = 4
	CommentNode          NodeType = 5
	DocumentFragmentNode NodeType = 11
)

func (t NodeType) String() string {
	switch t {
	case DocumentNode:
		return "document"
	case DocumentTypeNode:
		return "doctype"
	case ElementNode:
		return "element"
	case TextNode:
		return "text"
	case CDATANode:
		return "cdata"
	case CommentNode:
		return "comment"
	case DocumentFragmentNode:
		return "fragment"
	default:
		return "unknown"
	}
}

// SerializedNode is one node of a serialized tree. Only the fields relevant
// to Type are populated; children are referenced by id (see Tree).
type SerializedNode struct {
	ID   NodeID   `json:"id"`
	Type NodeType `json:"type"`

	// Document, DocumentFragment and Element.
	ChildNodes   []NodeID `json:"childNodes,omitempty"`
	IsShadowRoot bool     `json:"isShadowRoot,omitempty"`

	// DocumentType.
	Name     string `json:"name,omitempty"`
	PublicID string `json:"publicId,omitempty"`
	SystemID string `json:"systemId,omitempty"`

	// Element.
	TagName    string            `json:"tagName,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`
	IsSVG      bool              `json:"isSVG,omitempty"`
	CSSText    string            `json:"cssText,omitempty"` // captured style sheet of <style>/<link>

	// Text, CDATA and Comment.
	TextContent string `json:"textContent,omitempty"`
}

// Tree is a serialized subtree stored as an arena: nodes are kept in
// depth-first pre-order and reference their children by id, so the shape
// carries no pointers back into the live DOM.
type Tree struct {
	Root  NodeID           `json:"root"`
	Nodes []SerializedNode `json:"nodes"`
}

// Node returns the serialized node with the given id.
func (t *Tree) Node(id NodeID) (*SerializedNode, bool) {
	if t == nil {
		return nil, false
	}
	for i := range t.Nodes {
		if t.Nodes[i].ID == id {
			return &t.Nodes[i], true
		}
	}
	return nil, false
}

// RootNode returns the subtree root, or nil for an empty tree.
func (t *Tree) RootNode() *SerializedNode {
	n, _ := t.Node(t.Root)
	return n
}

// Children returns the serialized children of id in DOM order.
func (t *Tree) Children(id NodeID) []*SerializedNode {
	n, ok := t.Node(id)
	if !ok {
		return nil
	}
	out := make([]*SerializedNode, 0, len(n.ChildNodes))
	for _, cid := range n.ChildNodes {
		if c, ok := t.Node(cid); ok {
			out = append(out, c)
		}
	}
	return out
}

// Len returns the number of nodes in the tree.
func (t *Tree) Len() int {
	if t == nil {
		return 0
	}
	return len(t.Nodes)
}
