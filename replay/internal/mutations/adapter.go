// Package mutations converts raw DOM change notifications into id-resolved
// mutation payloads.
//
// Notifications are buffered by a dom.MutationObserver and consumed once per
// tick by Flush. Processing a batch resolves node moves (a node removed and
// re-added within the batch yields a single add), drops changes inside
// removed or hidden subtrees, serializes newly inserted subtrees, and orders
// adds so that replaying them in sequence rebuilds the final child order.
package mutations

import (
	"log/slog"
	"slices"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/nodeid"
	"github.com/hazyhaar/horosreplay/replay/internal/privacy"
	"github.com/hazyhaar/horosreplay/replay/internal/serialize"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// DefaultMaxBatch bounds the number of raw records processed in one flush.
const DefaultMaxBatch = 10_000

// Counters are the adapter diagnostics.
type Counters struct {
	Unresolved       int `json:"unresolved"`        // records referencing nodes without an id
	HiddenSuppressed int `json:"hidden_suppressed"` // records inside hidden subtrees
	Detached         int `json:"detached"`          // records on nodes no longer in the document
	Overflows        int `json:"overflows"`         // batches dropped for exceeding MaxBatch
	Emitted          int `json:"emitted"`           // mutations emitted
}

// Options configure an Adapter.
type Options struct {
	MaxBatch int
	// OnPending runs when the first notification of a batch arrives.
	OnPending func()
	Logger    *slog.Logger
}

// Adapter observes a document and turns its notifications into
// record.MutationData.
type Adapter struct {
	doc       *dom.Document
	ser       *serialize.Serializer
	reg       *nodeid.Registry
	obs       *dom.MutationObserver
	opts      Options
	logger    *slog.Logger
	synthetic []dom.MutationRecord
	counters  Counters
	unshadow  func()
}

// New subscribes to doc, its existing shadow roots and future shadow root
// attachments. It fails with dom.ErrUnsupported when the document cannot
// be observed.
func New(doc *dom.Document, ser *serialize.Serializer, opts Options) (*Adapter, error) {
	if opts.MaxBatch == 0 {
		opts.MaxBatch = DefaultMaxBatch
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{doc: doc, ser: ser, reg: ser.Registry(), opts: opts, logger: logger}
	obs, err := doc.NewMutationObserver(opts.OnPending)
	if err != nil {
		return nil, err
	}
	a.obs = obs
	obs.Observe(doc.Node())
	a.observeShadowRoots(doc.Node())
	a.unshadow = doc.OnShadowAttached(a.shadowAttached)
	return a, nil
}

// Stop disconnects from the document and drops pending notifications.
func (a *Adapter) Stop() {
	a.obs.Disconnect()
	if a.unshadow != nil {
		a.unshadow()
	}
	a.synthetic = nil
}

// Counters returns a copy of the diagnostics.
func (a *Adapter) Counters() Counters { return a.counters }

// Pending returns the number of buffered notifications.
func (a *Adapter) Pending() int { return a.obs.Pending() + len(a.synthetic) }

// Discard drops buffered notifications. Used right after a full snapshot,
// which already reflects them.
func (a *Adapter) Discard() { a.take() }

// Flush processes every buffered notification. It reports overflow, and
// emits nothing, when the batch exceeds MaxBatch: the caller must then take
// a full snapshot.
func (a *Adapter) Flush() (record.MutationData, bool) {
	recs := a.take()
	if len(recs) > a.opts.MaxBatch {
		a.counters.Overflows++
		a.logger.Warn("mutations: batch overflow, full snapshot required",
			"records", len(recs), "max", a.opts.MaxBatch)
		return record.GroupMutations(nil), true
	}
	return a.Process(recs), false
}

func (a *Adapter) take() []dom.MutationRecord {
	recs := a.obs.TakeRecords()
	if len(a.synthetic) > 0 {
		recs = append(recs, a.synthetic...)
		a.synthetic = nil
	}
	return recs
}

// shadowAttached turns a shadow root attachment into an insertion of the
// root under its host.
func (a *Adapter) shadowAttached(root *dom.Node) {
	a.obs.Observe(root)
	if !root.Host().IsConnected() {
		return
	}
	a.synthetic = append(a.synthetic, dom.MutationRecord{
		Type:       dom.MutationChildList,
		Target:     root.Host(),
		AddedNodes: []*dom.Node{root},
	})
	if a.Pending() == 1 && a.opts.OnPending != nil {
		a.opts.OnPending()
	}
}

func (a *Adapter) observeShadowRoots(n *dom.Node) {
	dom.Walk(n, func(x *dom.Node) bool {
		if x.IsShadowRoot() {
			a.obs.Observe(x)
		}
		return true
	})
}

// batch is the state of one Process call.
type batch struct {
	a          *Adapter
	def        privacy.Level
	cache      privacy.Cache
	serialized map[*dom.Node]struct{}
	added      map[*dom.Node]struct{} // nodes with their own add
}

func (b *batch) level(n *dom.Node) privacy.Level {
	return privacy.Effective(n, b.def, b.cache)
}

// Process converts one batch of raw notifications.
func (a *Adapter) Process(recs []dom.MutationRecord) record.MutationData {
	b := &batch{
		a:          a,
		def:        a.ser.Options().DefaultLevel,
		cache:      privacy.Cache{},
		serialized: make(map[*dom.Node]struct{}),
		added:      make(map[*dom.Node]struct{}),
	}
	var childList, texts, attrs, transitions []dom.MutationRecord
	for _, r := range recs {
		switch b.accept(r) {
		case acceptOK:
		case acceptTransition:
			transitions = append(transitions, r)
			continue
		default:
			continue
		}
		switch r.Type {
		case dom.MutationChildList:
			childList = append(childList, r)
		case dom.MutationCharacterData:
			texts = append(texts, r)
		case dom.MutationAttributes:
			attrs = append(attrs, r)
			if isPrivacyAttribute(r.AttributeName) {
				transitions = append(transitions, r)
			}
		}
	}

	adds, removes := b.childList(childList)
	tAdds, tRemoves := b.transitions(transitions)
	adds = append(adds, tAdds...)
	removes = append(removes, tRemoves...)

	out := record.GroupMutations(nil)
	out.Adds = append(out.Adds, adds...)
	out.Removes = append(out.Removes, removes...)
	out.Texts = append(out.Texts, b.texts(texts)...)
	out.Attributes = append(out.Attributes, b.attributes(attrs)...)
	a.counters.Emitted += out.Len()
	return out
}

type verdict int

const (
	acceptOK verdict = iota
	acceptTransition
	acceptDrop
)

// accept filters records: the target must still be connected, it and its
// composed ancestors must have ids, and it must not be hidden. Attribute
// changes that make a node hidden are kept as privacy transitions.
func (b *batch) accept(r dom.MutationRecord) verdict {
	a := b.a
	t := r.Target
	if t == nil {
		a.counters.Unresolved++
		return acceptDrop
	}
	if !t.IsConnected() {
		a.counters.Detached++
		return acceptDrop
	}
	for cur := t; cur != nil; cur = cur.ComposedParent() {
		if a.reg.Has(cur) {
			continue
		}
		if !silentlyUnknown(cur) {
			a.counters.Unresolved++
		}
		return acceptDrop
	}
	if b.level(t) == privacy.Hidden {
		if r.Type == dom.MutationAttributes && isPrivacyAttribute(r.AttributeName) && b.becameHidden(t) {
			return acceptTransition
		}
		a.counters.HiddenSuppressed++
		return acceptDrop
	}
	return acceptOK
}

func (b *batch) becameHidden(n *dom.Node) bool {
	id, _ := b.a.reg.ID(n)
	last, ok := b.a.ser.LastLevel(id)
	return ok && last != privacy.Hidden
}

// silentlyUnknown reports nodes that have no id by design: ignored
// elements, the text of captured style sheets, and shadow roots whose
// attachment is processed in the same batch.
func silentlyUnknown(n *dom.Node) bool {
	if serialize.Ignored(n) || n.IsShadowRoot() {
		return true
	}
	p := n.Parent()
	return n.Type == dom.TextNode && p != nil && p.Type == dom.ElementNode && p.Name == "style"
}

func isPrivacyAttribute(name string) bool {
	return name == privacy.AttrName || name == "class"
}

func (b *batch) childList(recs []dom.MutationRecord) ([]record.AddMutation, []record.RemoveMutation) {
	a := b.a
	var addedOrder []*dom.Node
	added := make(map[*dom.Node]bool)
	var removedOrder []*dom.Node
	removed := make(map[*dom.Node]*dom.Node)

	for _, r := range recs {
		for _, n := range r.AddedNodes {
			if !added[n] {
				addedOrder = append(addedOrder, n)
			}
			added[n] = true
		}
		for _, n := range r.RemovedNodes {
			if !added[n] {
				if _, ok := removed[n]; !ok {
					removedOrder = append(removedOrder, n)
				}
				removed[n] = r.Target
			}
			added[n] = false
		}
	}

	nodes := make([]*dom.Node, 0, len(addedOrder))
	for _, n := range addedOrder {
		if added[n] {
			nodes = append(nodes, n)
		}
	}
	sortAdded(nodes)

	var adds []record.AddMutation
	for _, n := range nodes {
		if _, done := b.serialized[n]; done || !n.IsConnected() {
			continue
		}
		parent := n.ComposedParent()
		pid, ok := a.reg.ID(parent)
		if !ok {
			if !silentlyUnknown(parent) {
				a.counters.Unresolved++
			}
			continue
		}
		plevel := b.level(parent)
		if plevel == privacy.Hidden {
			a.counters.HiddenSuppressed++
			continue
		}
		next := b.nextID(n)
		if _, moved := removed[n]; moved {
			if id, known := a.reg.ID(n); known {
				if last, ok := a.ser.LastLevel(id); ok && last == privacy.Classify(n, plevel) {
					adds = append(adds, record.AddMutation{ParentID: pid, NextID: next, ID: id})
					b.added[n] = struct{}{}
					continue
				}
			}
		}
		tree, ok := a.ser.Serialize(n, serialize.Context{
			Status:      serialize.Mutation,
			ParentLevel: plevel,
			Serialized:  b.serialized,
		})
		if !ok {
			continue
		}
		a.observeShadowRoots(n)
		adds = append(adds, record.AddMutation{ParentID: pid, NextID: next, ID: tree.Root, Node: &tree})
		b.added[n] = struct{}{}
	}

	var removes []record.RemoveMutation
	for _, n := range removedOrder {
		if _, movedHere := b.added[n]; movedHere {
			continue
		}
		// Moved into a subtree added by this batch: that Add carries it.
		if _, inAdd := b.serialized[n]; inAdd && n.IsConnected() {
			continue
		}
		id, ok := a.reg.ID(n)
		if !ok {
			if !silentlyUnknown(n) {
				a.counters.Unresolved++
			}
			continue
		}
		pid, _ := a.reg.ID(removed[n])
		removes = append(removes, record.RemoveMutation{ParentID: pid, ID: id})
	}
	return adds, removes
}

// transitions re-serializes nodes whose privacy level changed through an
// attribute edit, replacing the replayed node so no stale content stays
// visible.
func (b *batch) transitions(recs []dom.MutationRecord) ([]record.AddMutation, []record.RemoveMutation) {
	a := b.a
	var adds []record.AddMutation
	var removes []record.RemoveMutation
	seen := make(map[*dom.Node]bool)
	for _, r := range recs {
		n := r.Target
		if seen[n] {
			continue
		}
		seen[n] = true
		if _, done := b.serialized[n]; done {
			continue
		}
		id, _ := a.reg.ID(n)
		last, ok := a.ser.LastLevel(id)
		if !ok || last == b.level(n) {
			continue
		}
		parent := n.ComposedParent()
		pid, ok := a.reg.ID(parent)
		if !ok {
			continue
		}
		plevel := b.level(parent)
		if plevel == privacy.Hidden {
			continue
		}
		tree, ok := a.ser.Serialize(n, serialize.Context{
			Status:      serialize.Mutation,
			ParentLevel: plevel,
			Serialized:  b.serialized,
		})
		if !ok {
			continue
		}
		removes = append(removes, record.RemoveMutation{ParentID: pid, ID: id})
		adds = append(adds, record.AddMutation{ParentID: pid, NextID: b.nextID(n), ID: id, Node: &tree})
	}
	return adds, removes
}

// nextID returns the id of the nearest following sibling that has one.
func (b *batch) nextID(n *dom.Node) *record.NodeID {
	for s := n.NextSibling(); s != nil; s = s.NextSibling() {
		if id, ok := b.a.reg.ID(s); ok {
			return &id
		}
	}
	return nil
}

func (b *batch) texts(recs []dom.MutationRecord) []record.TextMutation {
	var out []record.TextMutation
	seen := make(map[*dom.Node]bool)
	for _, r := range recs {
		t := r.Target
		if seen[t] {
			continue
		}
		seen[t] = true
		if _, done := b.serialized[t]; done {
			continue
		}
		if r.OldValue != nil && *r.OldValue == t.Data {
			continue
		}
		id, _ := b.a.reg.ID(t)
		out = append(out, record.TextMutation{ID: id, Value: serialize.TextContent(t, b.level(t))})
	}
	return out
}

func (b *batch) attributes(recs []dom.MutationRecord) []record.AttributeMutation {
	a := b.a
	var out []record.AttributeMutation
	index := make(map[*dom.Node]int)
	handled := make(map[*dom.Node]map[string]bool)
	action := a.ser.Options().ActionNameAttribute
	for _, r := range recs {
		t := r.Target
		if _, done := b.serialized[t]; done {
			continue
		}
		if handled[t] == nil {
			handled[t] = make(map[string]bool)
		}
		if handled[t][r.AttributeName] {
			continue
		}
		handled[t][r.AttributeName] = true

		cur, present := t.Attr(r.AttributeName)
		if present && r.OldValue != nil && *r.OldValue == cur {
			continue
		}
		if !present && r.OldValue == nil {
			continue
		}
		var value *string
		if present {
			lvl := b.level(t)
			v := serialize.AttributeValue(t, r.AttributeName, cur, lvl, action)
			if r.AttributeName == "value" && privacy.IsFormElement(t) {
				fv, ok := serialize.FormValue(t, lvl)
				if !ok {
					continue
				}
				v = fv
			}
			value = &v
		}
		i, ok := index[t]
		if !ok {
			id, _ := a.reg.ID(t)
			out = append(out, record.AttributeMutation{ID: id, Attributes: make(map[string]*string)})
			i = len(out) - 1
			index[t] = i
		}
		out[i].Attributes[r.AttributeName] = value
	}
	return out
}

// sortAdded orders nodes ancestors first, then in reverse document order,
// so each add can anchor on an already inserted next sibling.
func sortAdded(nodes []*dom.Node) {
	paths := make(map[*dom.Node][]int, len(nodes))
	for _, n := range nodes {
		paths[n] = composedPath(n)
	}
	slices.SortStableFunc(nodes, func(x, y *dom.Node) int {
		px, py := paths[x], paths[y]
		switch {
		case isPrefix(px, py):
			return -1
		case isPrefix(py, px):
			return 1
		}
		return -slices.Compare(px, py)
	})
}

// composedPath returns the child indexes from the document down to n. A
// shadow root sits after its host's light children.
func composedPath(n *dom.Node) []int {
	var rev []int
	for cur := n; ; {
		if p := cur.Parent(); p != nil {
			rev = append(rev, slices.Index(p.Children(), cur))
			cur = p
			continue
		}
		if h := cur.Host(); h != nil {
			rev = append(rev, len(h.Children()))
			cur = h
			continue
		}
		break
	}
	slices.Reverse(rev)
	return rev
}

func isPrefix(a, b []int) bool {
	return len(a) < len(b) && slices.Equal(a, b[:len(a)])
}
