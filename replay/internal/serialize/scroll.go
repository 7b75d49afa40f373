package serialize

import "github.com/hazyhaar/horosreplay/replay/dom"

// ScrollPosition is an element scroll offset in CSS pixels.
type ScrollPosition struct {
	Left float64
	Top  float64
}

// ScrollCache keeps the last known scroll offset of elements, so mutation
// serialization does not read layout.
type ScrollCache struct {
	m map[*dom.Node]ScrollPosition
}

// NewScrollCache returns an empty cache.
func NewScrollCache() *ScrollCache {
	return &ScrollCache{m: make(map[*dom.Node]ScrollPosition)}
}

// Set stores the position of n.
func (c *ScrollCache) Set(n *dom.Node, p ScrollPosition) { c.m[n] = p }

// Get returns the cached position of n.
func (c *ScrollCache) Get(n *dom.Node) (ScrollPosition, bool) {
	p, ok := c.m[n]
	return p, ok
}

// Reset empties the cache.
func (c *ScrollCache) Reset() { clear(c.m) }
