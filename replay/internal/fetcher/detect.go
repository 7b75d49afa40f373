package fetcher

import (
	"unicode"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

// shellRoots are the mount points script frameworks render into.
var shellRoots = []string{"root", "app", "__next", "__nuxt", "svelte"}

// IsStatic reports whether doc carries its content in markup: at least
// 200 visible characters and no empty framework mount point.
func IsStatic(doc *dom.Document) bool {
	for _, id := range shellRoots {
		if n := doc.GetElementByID(id); n != nil && visibleText(n) == 0 {
			return false
		}
	}
	body := doc.Body()
	if body == nil {
		return false
	}
	return visibleText(body) >= 200
}

// visibleText counts the non-space characters of text outside script,
// style, template and noscript elements.
func visibleText(n *dom.Node) int {
	switch n.Type {
	case dom.ElementNode:
		switch n.Name {
		case "script", "style", "template", "noscript":
			return 0
		}
	case dom.TextNode:
		count := 0
		for _, r := range n.Data {
			if !unicode.IsSpace(r) {
				count++
			}
		}
		return count
	}
	count := 0
	for _, c := range n.Children() {
		count += visibleText(c)
	}
	if root := n.ShadowRoot(); root != nil {
		count += visibleText(root)
	}
	return count
}
