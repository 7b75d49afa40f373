package record

// MutationKind tags a Mutation variant.
type MutationKind string

const (
	MutationAdd       MutationKind = "add"
	MutationRemove    MutationKind = "remove"
	MutationAttribute MutationKind = "attribute"
	MutationText      MutationKind = "text"
)

// Mutation is one id-resolved DOM change. The concrete types are
// AddMutation, RemoveMutation, AttributeMutation and TextMutation.
type Mutation interface {
	Kind() MutationKind
}

// AddMutation inserts a node under ParentID, before NextID (appended last
// when NextID is nil). Node holds the serialized subtree of a node new to the
// replay; it is nil when the node is already known and only moves.
type AddMutation struct {
	ParentID NodeID  `json:"parentId"`
	NextID   *NodeID `json:"nextId"`
	ID       NodeID  `json:"id"`
	Node     *Tree   `json:"node,omitempty"`
}

// RemoveMutation detaches ID from ParentID.
type RemoveMutation struct {
	ParentID NodeID `json:"parentId"`
	ID       NodeID `json:"id"`
}

// AttributeMutation carries the new value of every changed attribute of ID.
// A nil value means the attribute was removed.
type AttributeMutation struct {
	ID         NodeID             `json:"id"`
	Attributes map[string]*string `json:"attributes"`
}

// TextMutation carries the new (privacy-redacted) character data of ID.
type TextMutation struct {
	ID    NodeID `json:"id"`
	Value string `json:"value"`
}

func (AddMutation) Kind() MutationKind       { return MutationAdd }
func (RemoveMutation) Kind() MutationKind    { return MutationRemove }
func (AttributeMutation) Kind() MutationKind { return MutationAttribute }
func (TextMutation) Kind() MutationKind      { return MutationText }

// MutationData is the payload of a Mutation incremental record. Replay
// applies removes, then adds in order, then texts, then attributes.
type MutationData struct {
	Adds       []AddMutation       `json:"adds"`
	Removes    []RemoveMutation    `json:"removes"`
	Texts      []TextMutation      `json:"texts"`
	Attributes []AttributeMutation `json:"attributes"`
}

// GroupMutations packs an ordered mutation list into a MutationData,
// preserving the relative order within each kind.
func GroupMutations(ms []Mutation) MutationData {
	d := MutationData{
		Adds:       []AddMutation{},
		Removes:    []RemoveMutation{},
		Texts:      []TextMutation{},
		Attributes: []AttributeMutation{},
	}
	for _, m := range ms {
		switch v := m.(type) {
		case AddMutation:
			d.Adds = append(d.Adds, v)
		case RemoveMutation:
			d.Removes = append(d.Removes, v)
		case TextMutation:
			d.Texts = append(d.Texts, v)
		case AttributeMutation:
			d.Attributes = append(d.Attributes, v)
		}
	}
	return d
}

// Mutations flattens d back to its replay order.
func (d MutationData) Mutations() []Mutation {
	out := make([]Mutation, 0, d.Len())
	for _, m := range d.Removes {
		out = append(out, m)
	}
	for _, m := range d.Adds {
		out = append(out, m)
	}
	for _, m := range d.Texts {
		out = append(out, m)
	}
	for _, m := range d.Attributes {
		out = append(out, m)
	}
	return out
}

// Len returns the total number of mutations.
func (d MutationData) Len() int {
	return len(d.Adds) + len(d.Removes) + len(d.Texts) + len(d.Attributes)
}

// Source implements IncrementalData.
func (MutationData) Source() IncrementalSource { return SourceMutation }
