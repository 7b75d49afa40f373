package cdp

import (
	"testing"

	"github.com/go-rod/rod/lib/proto"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

func el(id proto.DOMNodeID, name string, attrs []string, children ...*proto.DOMNode) *proto.DOMNode {
	return &proto.DOMNode{NodeID: id, NodeType: 1, NodeName: name, LocalName: name, Attributes: attrs, Children: children}
}

func text(id proto.DOMNodeID, s string) *proto.DOMNode {
	return &proto.DOMNode{NodeID: id, NodeType: 3, NodeName: "#text", NodeValue: s}
}

// page builds <html><head></head><body><div id=a>hi</div><input id=i></body></html>.
func page() *proto.DOMNode {
	return &proto.DOMNode{
		NodeID: 1, NodeType: 9, NodeName: "#document", DocumentURL: "https://example.com/",
		Children: []*proto.DOMNode{
			{NodeID: 2, NodeType: 10, NodeName: "html"},
			el(3, "html", nil,
				el(4, "head", nil),
				el(5, "body", nil,
					el(6, "div", []string{"id", "a"}, text(7, "hi")),
					el(8, "input", []string{"id", "i", "type", "checkbox"}),
				),
			),
		},
	}
}

func loaded(t *testing.T) (*mirror, *dom.MutationObserver) {
	t.Helper()
	m := newMirror(dom.NewDocument("about:blank"))
	m.load(page())
	obs, err := m.doc.NewMutationObserver(nil)
	if err != nil {
		t.Fatal(err)
	}
	obs.Observe(m.doc.Node())
	return m, obs
}

func TestMirror_Load(t *testing.T) {
	m, _ := loaded(t)
	if m.doc.URL != "https://example.com/" {
		t.Errorf("url: got %q", m.doc.URL)
	}
	div := m.doc.GetElementByID("a")
	if div == nil || div.TextContent() != "hi" || !div.IsConnected() {
		t.Fatalf("div: got %v", div)
	}
	if n, _ := m.node(6); n != div {
		t.Error("node id 6 should map to the div")
	}
	if len(m.doc.Node().Children()) != 2 {
		t.Errorf("document children: got %d, want 2", len(m.doc.Node().Children()))
	}
}

func TestMirror_InsertAfterPrevious(t *testing.T) {
	m, obs := loaded(t)
	err := m.inserted(&proto.DOMChildNodeInserted{ParentNodeID: 5, PreviousNodeID: 6, Node: el(9, "p", nil, text(10, "new"))})
	if err != nil {
		t.Fatal(err)
	}
	body := m.doc.Body()
	if got := body.Children()[1].Name; got != "p" {
		t.Errorf("inserted at index 1: got %q", got)
	}
	recs := obs.TakeRecords()
	if len(recs) != 1 || recs[0].Type != dom.MutationChildList || recs[0].AddedNodes[0].Name != "p" {
		t.Errorf("records: got %+v", recs)
	}

	if err := m.inserted(&proto.DOMChildNodeInserted{ParentNodeID: 5, Node: el(11, "h1", nil)}); err != nil {
		t.Fatal(err)
	}
	if got := body.FirstChild().Name; got != "h1" {
		t.Errorf("no previous node means first child: got %q", got)
	}
}

func TestMirror_RemoveAttributeText(t *testing.T) {
	m, obs := loaded(t)
	v := "x"
	if err := m.attribute(6, "class", &v); err != nil {
		t.Fatal(err)
	}
	if err := m.characterData(&proto.DOMCharacterDataModified{NodeID: 7, CharacterData: "bye"}); err != nil {
		t.Fatal(err)
	}
	if err := m.removed(&proto.DOMChildNodeRemoved{ParentNodeID: 5, NodeID: 6}); err != nil {
		t.Fatal(err)
	}
	recs := obs.TakeRecords()
	if len(recs) != 3 {
		t.Fatalf("records: got %d, want 3", len(recs))
	}
	if recs[0].Type != dom.MutationAttributes || recs[1].Type != dom.MutationCharacterData || recs[2].RemovedNodes[0].Name != "div" {
		t.Errorf("records: got %+v", recs)
	}
	if _, err := m.node(7); err == nil {
		t.Error("removed subtree should be unbound")
	}
}

func TestMirror_ShadowRoots(t *testing.T) {
	m, _ := loaded(t)
	root := &proto.DOMNode{NodeID: 20, NodeType: 11, NodeName: "#document-fragment", ShadowRootType: "open",
		Children: []*proto.DOMNode{el(21, "span", nil)}}
	if err := m.shadowPushed(&proto.DOMShadowRootPushed{HostID: 6, Root: root}); err != nil {
		t.Fatal(err)
	}
	div := m.doc.GetElementByID("a")
	if div.ShadowRoot() == nil || div.ShadowRoot().FirstChild().Name != "span" {
		t.Fatal("shadow root not attached")
	}
	got, err := m.resolve([]int{0, 1, 0, -1, 0})
	if err != nil || got.Name != "span" {
		t.Errorf("resolve through shadow root: got %v, %v", got, err)
	}
	if err := m.shadowPopped(&proto.DOMShadowRootPopped{HostID: 6, RootID: 20}); err != nil {
		t.Fatal(err)
	}
	if div.ShadowRoot() != nil {
		t.Error("shadow root should be detached")
	}

	ua := &proto.DOMNode{NodeID: 30, NodeType: 11, ShadowRootType: "user-agent"}
	_ = m.shadowPushed(&proto.DOMShadowRootPushed{HostID: 8, Root: ua})
	if m.doc.GetElementByID("i").ShadowRoot() != nil {
		t.Error("user-agent shadow roots are not mirrored")
	}
}

func TestMirror_SetChildNodes(t *testing.T) {
	m, _ := loaded(t)
	_ = m.inserted(&proto.DOMChildNodeInserted{ParentNodeID: 5, PreviousNodeID: 8, Node: el(40, "ul", nil)})
	err := m.setChildren(&proto.DOMSetChildNodes{ParentID: 40, Nodes: []*proto.DOMNode{el(41, "li", nil), el(42, "li", nil)}})
	if err != nil {
		t.Fatal(err)
	}
	ul, _ := m.node(40)
	if len(ul.Children()) != 2 {
		t.Errorf("ul children: got %d, want 2", len(ul.Children()))
	}
}

func TestCapture_EventsAndState(t *testing.T) {
	m, _ := loaded(t)
	var events []*dom.Event
	m.doc.AddEventListener(func(ev *dom.Event) { events = append(events, ev) })

	msgs, err := parseMessages(`[
		{"kind":"value","path":[0,1,1],"checked":true},
		{"kind":"event","type":"click","path":[0,1,0],"x":3,"y":4,"t":1700000000000},
		{"kind":"scroll","path":[],"x":0,"y":250},
		{"kind":"resize","width":800,"height":600},
		{"kind":"error","stack":"boom"},
		{"kind":"ready"}
	]`)
	if err != nil {
		t.Fatal(err)
	}
	var stack string
	ready := false
	h := handlers{onError: func(s string) { stack = s }, onReady: func() { ready = true }}
	for _, msg := range msgs {
		if err := m.apply(msg, h); err != nil {
			t.Fatalf("%s: %v", msg.Kind, err)
		}
	}

	if !m.doc.GetElementByID("i").Checked {
		t.Error("checkbox state not applied")
	}
	if len(events) != 3 {
		t.Fatalf("events: got %d, want 3", len(events))
	}
	if events[0].Type != dom.EventClick || events[0].Target != m.doc.GetElementByID("a") || events[0].ClientX != 3 {
		t.Errorf("click: got %+v", events[0])
	}
	if m.doc.Window.ScrollY != 250 || m.doc.Window.InnerWidth != 800 {
		t.Errorf("window: got %+v", m.doc.Window)
	}
	if stack != "boom" || !ready {
		t.Errorf("handlers: stack %q ready %v", stack, ready)
	}
}

func TestCapture_CSSRules(t *testing.T) {
	m := newMirror(dom.NewDocument("about:blank"))
	m.load(&proto.DOMNode{NodeID: 1, NodeType: 9, Children: []*proto.DOMNode{
		el(2, "html", nil, el(3, "head", nil,
			el(4, "style", nil, text(5, "a { color: red } @media print { b { margin: 0 } }")))),
	}})
	var changes []dom.StyleSheetChange
	m.doc.OnStyleSheetChange(func(c dom.StyleSheetChange) { changes = append(changes, c) })

	for _, msg := range []message{
		{Kind: "css", Op: "insert", Path: []int{0, 0, 0}, Index: []int{1, 1}, Rule: "i { padding: 0 }"},
		{Kind: "css", Op: "delete", Path: []int{0, 0, 0}, Index: []int{0}},
	} {
		if err := m.apply(msg, handlers{}); err != nil {
			t.Fatal(err)
		}
	}
	if len(changes) != 2 {
		t.Fatalf("changes: got %d, want 2", len(changes))
	}
	if p := changes[0].Path; len(p) != 2 || p[0] != 1 || p[1] != 1 {
		t.Errorf("insert path: got %v", p)
	}
	style, _ := m.node(4)
	if len(style.Sheet.Rules()) != 1 || !style.Sheet.Rules()[0].IsGroup() {
		t.Errorf("sheet after edits: %q", style.Sheet.CSSText())
	}
}
