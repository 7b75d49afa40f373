package dom

import (
	"fmt"
	"io"
	"strings"

	"golang.org/x/net/html"
	"golang.org/x/net/html/atom"
)

// Parse reads an HTML document into a new Document. Declarative shadow
// roots (<template shadowrootmode>) are attached to their host, form
// controls get their live state from the initial attributes, and <style>
// elements get a parsed style sheet.
func Parse(r io.Reader, url string, opts ...Option) (*Document, error) {
	root, err := html.Parse(r)
	if err != nil {
		return nil, fmt.Errorf("dom: parse: %w", err)
	}
	d := NewDocument(url, opts...)
	for c := root.FirstChild; c != nil; c = c.NextSibling {
		if n := d.convert(c); n != nil {
			d.node.appendRaw(n)
		}
	}
	return d, nil
}

// ParseString is Parse over a string.
func ParseString(s, url string, opts ...Option) (*Document, error) {
	return Parse(strings.NewReader(s), url, opts...)
}

// ParseFragment parses markup in the context of a <body> element and
// returns the detached top-level nodes, ready to be inserted.
func (d *Document) ParseFragment(markup string) ([]*Node, error) {
	ctx := &html.Node{Type: html.ElementNode, Data: "body", DataAtom: atom.Body}
	nodes, err := html.ParseFragment(strings.NewReader(markup), ctx)
	if err != nil {
		return nil, fmt.Errorf("dom: parse fragment: %w", err)
	}
	out := make([]*Node, 0, len(nodes))
	for _, hn := range nodes {
		if n := d.convert(hn); n != nil {
			out = append(out, n)
		}
	}
	return out, nil
}

func (d *Document) convert(hn *html.Node) *Node {
	switch hn.Type {
	case html.DoctypeNode:
		n := d.CreateDocumentType(hn.Data, "", "")
		for _, a := range hn.Attr {
			switch a.Key {
			case "public":
				n.PublicID = a.Val
			case "system":
				n.SystemID = a.Val
			}
		}
		return n
	case html.TextNode:
		return d.CreateTextNode(hn.Data)
	case html.CommentNode:
		return d.CreateComment(hn.Data)
	case html.ElementNode:
		return d.convertElement(hn)
	}
	return nil
}

func (d *Document) convertElement(hn *html.Node) *Node {
	var n *Node
	if hn.Namespace != "" {
		n = d.CreateElementNS(hn.Namespace, hn.Data)
	} else {
		n = d.CreateElement(hn.Data)
	}
	for _, a := range hn.Attr {
		name := a.Key
		if a.Namespace != "" {
			name = a.Namespace + ":" + a.Key
		}
		n.attrs = append(n.attrs, Attribute{Name: name, Value: a.Val})
	}
	for c := hn.FirstChild; c != nil; c = c.NextSibling {
		if c.Type == html.ElementNode && c.DataAtom == atom.Template && n.shadow == nil {
			if mode := attrVal(c, "shadowrootmode"); mode == "open" || mode == "closed" {
				root := &Node{Type: DocumentFragmentNode, Name: "#shadow-root", doc: d, host: n}
				n.shadow = root
				for gc := c.FirstChild; gc != nil; gc = gc.NextSibling {
					if k := d.convert(gc); k != nil {
						root.appendRaw(k)
					}
				}
				continue
			}
		}
		if k := d.convert(c); k != nil {
			n.appendRaw(k)
		}
	}
	n.LoadState()
	return n
}

// LoadState sets the live state of an element from its attributes and
// content, as the parser does: checkedness, selectedness, mutedness, the
// style sheet of a <style>, and the intrinsic size.
func (n *Node) LoadState() {
	if n.Namespace != "" {
		return
	}
	switch n.Name {
	case "input":
		_, n.Checked = n.Attr("checked")
	case "option":
		_, n.Selected = n.Attr("selected")
	case "audio", "video":
		_, n.Muted = n.Attr("muted")
	case "style":
		n.Sheet = NewStyleSheet(n, "", n.TextContent())
	}
	if v, ok := n.Attr("width"); ok {
		fmt.Sscanf(v, "%g", &n.Width)
	}
	if v, ok := n.Attr("height"); ok {
		fmt.Sscanf(v, "%g", &n.Height)
	}
}

func attrVal(hn *html.Node, key string) string {
	for _, a := range hn.Attr {
		if a.Key == key {
			return strings.ToLower(a.Val)
		}
	}
	return ""
}

// Load replaces the content of the document without notifying observers,
// as a navigation does. Observers must resynchronise with a full snapshot.
func (d *Document) Load(url string, children ...*Node) {
	for _, c := range d.node.children {
		c.parent = nil
	}
	d.node.children = nil
	d.URL = url
	for _, c := range children {
		if c.parent != nil {
			c.parent.RemoveChild(c)
		}
		c.adopt(d)
		d.node.appendRaw(c)
	}
}

// appendRaw links c as the last child without notifying observers. Used
// while building trees that nobody observes yet.
func (n *Node) appendRaw(c *Node) {
	c.parent = n
	n.children = append(n.children, c)
}
