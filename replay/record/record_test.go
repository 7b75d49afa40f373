package record

import (
	"encoding/json"
	"strings"
	"testing"
)

func TestRecordMarshal_IncrementalSourceTag(t *testing.T) {
	rec := NewIncremental(1000, ScrollData{ID: 7, X: 10, Y: 20})
	data, err := json.Marshal(rec)
	if err != nil {
		t.Fatal(err)
	}
	got := string(data)
	want := `{"type":3,"timestamp":1000,"data":{"source":3,"id":7,"x":10,"y":20}}`
	if got != want {
		t.Errorf("marshal:\n got %s\nwant %s", got, want)
	}
}

func TestRecordMarshal_ViewEndHasNoData(t *testing.T) {
	data, err := json.Marshal(NewViewEnd(5))
	if err != nil {
		t.Fatal(err)
	}
	if strings.Contains(string(data), `"data"`) {
		t.Errorf("view end should not carry data: %s", data)
	}
}

func TestRuleIndex_SingleIsNumber(t *testing.T) {
	one, _ := json.Marshal(RuleIndex{3})
	if string(one) != "3" {
		t.Errorf("RuleIndex{3}: got %s, want 3", one)
	}
	path, _ := json.Marshal(RuleIndex{1, 0})
	if string(path) != "[1,0]" {
		t.Errorf("RuleIndex{1,0}: got %s, want [1,0]", path)
	}
}

func TestGroupMutations_RoundTripOrder(t *testing.T) {
	ms := []Mutation{
		AddMutation{ParentID: 1, ID: 5},
		RemoveMutation{ParentID: 1, ID: 2},
		TextMutation{ID: 3, Value: "x"},
		AddMutation{ParentID: 1, ID: 6},
	}
	d := GroupMutations(ms)
	if len(d.Adds) != 2 || d.Adds[0].ID != 5 || d.Adds[1].ID != 6 {
		t.Fatalf("adds: got %+v", d.Adds)
	}
	flat := d.Mutations()
	if len(flat) != 4 {
		t.Fatalf("flatten: got %d, want 4", len(flat))
	}
	if flat[0].Kind() != MutationRemove {
		t.Errorf("first replayed mutation: got %s, want remove", flat[0].Kind())
	}
}

func TestFlushReason_NextCreation(t *testing.T) {
	cases := map[FlushReason]CreationReason{
		FlushViewChange:      CreationViewChange,
		FlushRecorderRestart: CreationRecorderRestart,
		FlushMaxSize:         CreationMaxSize,
		FlushMaxDuration:     CreationMaxDuration,
		FlushExplicit:        CreationExplicitFlush,
	}
	for flush, want := range cases {
		if got := flush.NextCreation(); got != want {
			t.Errorf("%s: got %s, want %s", flush, got, want)
		}
	}
	if CreationMaxSize.RequiresFullSnapshot() {
		t.Error("max-size segments may start with incrementals")
	}
	if !CreationViewChange.RequiresFullSnapshot() {
		t.Error("view-change segments must start with a full snapshot")
	}
}

func TestTreeChildren(t *testing.T) {
	tree := Tree{Root: 1, Nodes: []SerializedNode{
		{ID: 1, Type: ElementNode, TagName: "p", ChildNodes: []NodeID{2}},
		{ID: 2, Type: TextNode, TextContent: "foo"},
	}}
	kids := tree.Children(1)
	if len(kids) != 1 || kids[0].TextContent != "foo" {
		t.Fatalf("children: got %+v", kids)
	}
	if tree.RootNode().TagName != "p" {
		t.Errorf("root tag: got %q", tree.RootNode().TagName)
	}
}
