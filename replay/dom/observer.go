package dom

// MutationType tags a raw MutationRecord.
type MutationType string

const (
	MutationChildList     MutationType = "childList"
	MutationAttributes    MutationType = "attributes"
	MutationCharacterData MutationType = "characterData"
)

// MutationRecord is one raw change notification, shaped like the browser's:
// childList records carry the added/removed nodes and the siblings around
// them, attribute and characterData records carry the old value.
type MutationRecord struct {
	Type            MutationType
	Target          *Node
	AddedNodes      []*Node
	RemovedNodes    []*Node
	PreviousSibling *Node
	NextSibling     *Node
	AttributeName   string
	OldValue        *string
}

// MutationObserver buffers the notifications for the subtrees it observes.
// Every observation covers the whole subtree (but not shadow trees, which
// must be observed separately) and records old values.
type MutationObserver struct {
	doc       *Document
	notify    func()
	roots     []*Node
	transient []*Node
	records   []MutationRecord
}

// NewMutationObserver creates an observer. notify runs, synchronously on the
// mutating goroutine, each time a record lands in an empty queue; the
// consumer is expected to schedule a TakeRecords call.
func (d *Document) NewMutationObserver(notify func()) (*MutationObserver, error) {
	if d.noObserver {
		return nil, ErrUnsupported
	}
	return &MutationObserver{doc: d, notify: notify}, nil
}

// Observe starts watching the subtree rooted at root.
func (o *MutationObserver) Observe(root *Node) {
	for _, r := range o.roots {
		if r == root {
			return
		}
	}
	o.roots = append(o.roots, root)
	if len(o.roots) == 1 {
		o.doc.observers = append(o.doc.observers, o)
	}
}

// TakeRecords returns and clears the queued records. Transient
// observations of removed subtrees end here.
func (o *MutationObserver) TakeRecords() []MutationRecord {
	out := o.records
	o.records = nil
	o.transient = nil
	return out
}

// Pending returns the number of queued records.
func (o *MutationObserver) Pending() int { return len(o.records) }

// Disconnect stops all observation and drops queued records.
func (o *MutationObserver) Disconnect() {
	o.roots = nil
	o.transient = nil
	o.records = nil
	obs := o.doc.observers[:0]
	for _, x := range o.doc.observers {
		if x != o {
			obs = append(obs, x)
		}
	}
	o.doc.observers = obs
}

func (o *MutationObserver) watches(target *Node) bool {
	for cur := target; cur != nil; cur = cur.parent {
		for _, r := range o.roots {
			if r == cur {
				return true
			}
		}
		for _, r := range o.transient {
			if r == cur {
				return true
			}
		}
	}
	return false
}

func (d *Document) queue(rec MutationRecord) {
	for _, o := range d.observers {
		if !o.watches(rec.Target) {
			continue
		}
		o.records = append(o.records, rec)
		if len(o.records) == 1 && o.notify != nil {
			o.notify()
		}
	}
}

// beforeRemove keeps a removed subtree observed until the next delivery, so
// changes made to it right after removal are still reported.
func (d *Document) beforeRemove(parent, child *Node) {
	for _, o := range d.observers {
		if o.watches(parent) {
			o.transient = append(o.transient, child)
		}
	}
}
