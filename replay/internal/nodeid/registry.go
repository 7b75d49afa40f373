// Package nodeid assigns the stable integer identity of observed DOM nodes.
package nodeid

import (
	"errors"
	"fmt"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// ErrNotFound is returned by Resolve for an id the registry does not hold.
// Callers treat it as "nothing to do".
var ErrNotFound = errors.New("nodeid: not found")

// Registry is the bijection between live nodes and their ids. Ids start at
// 1, grow monotonically and are never reused, even after Forget or Reset.
// Detached nodes keep their ids so late notifications still resolve.
//
// A Registry is owned by one recorder and is not safe for concurrent use.
type Registry struct {
	ids   map[*dom.Node]record.NodeID
	nodes map[record.NodeID]*dom.Node
	next  record.NodeID
}

// New returns an empty registry.
func New() *Registry {
	return &Registry{
		ids:   make(map[*dom.Node]record.NodeID),
		nodes: make(map[record.NodeID]*dom.Node),
		next:  1,
	}
}

// GetOrAssign returns the id of n, assigning the next one on first sight.
func (r *Registry) GetOrAssign(n *dom.Node) record.NodeID {
	if id, ok := r.ids[n]; ok {
		return id
	}
	id := r.next
	r.next++
	r.ids[n] = id
	r.nodes[id] = n
	return id
}

// ID returns the id of n without assigning one.
func (r *Registry) ID(n *dom.Node) (record.NodeID, bool) {
	id, ok := r.ids[n]
	return id, ok
}

// Has reports whether n has an id.
func (r *Registry) Has(n *dom.Node) bool {
	_, ok := r.ids[n]
	return ok
}

// Resolve returns the node holding id.
func (r *Registry) Resolve(id record.NodeID) (*dom.Node, error) {
	n, ok := r.nodes[id]
	if !ok {
		return nil, fmt.Errorf("%w: id %d", ErrNotFound, id)
	}
	return n, nil
}

// Forget drops the subtree rooted at id (composed, shadow roots included).
func (r *Registry) Forget(id record.NodeID) {
	n, ok := r.nodes[id]
	if !ok {
		return
	}
	dom.Walk(n, func(x *dom.Node) bool {
		if xid, ok := r.ids[x]; ok {
			delete(r.ids, x)
			delete(r.nodes, xid)
		}
		return true
	})
}

// Reset drops every mapping. The id counter keeps running.
func (r *Registry) Reset() {
	clear(r.ids)
	clear(r.nodes)
}

// Len returns the number of tracked nodes.
func (r *Registry) Len() int { return len(r.ids) }
