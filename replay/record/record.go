package record

import (
	"encoding/json"
	"fmt"
	"strconv"
)

// RecordType tags a Record.
type RecordType int

const (
	TypeFullSnapshot        RecordType = 2
	TypeIncrementalSnapshot RecordType = 3
	TypeViewEnd             RecordType = 7
	TypeVisualViewport      RecordType = 8
)

func (t RecordType) String() string {
	switch t {
	case TypeFullSnapshot:
		return "full_snapshot"
	case TypeIncrementalSnapshot:
		return "incremental_snapshot"
	case TypeViewEnd:
		return "view_end"
	case TypeVisualViewport:
		return "visual_viewport"
	default:
		return "unknown"
	}
}

// Offset is a scroll offset in CSS pixels.
type Offset struct {
	Top  int `json:"top"`
	Left int `json:"left"`
}

// FullSnapshotData is a complete serialization of the document together
// with the page context replay needs before the first incremental record.
type FullSnapshotData struct {
	Node          Tree   `json:"node"`
	InitialOffset Offset `json:"initialOffset"`
	Href          string `json:"href"`
	Width         int    `json:"width"`
	Height        int    `json:"height"`
	HasFocus      bool   `json:"hasFocus"`
}

// VisualViewportData is the pinch-zoom viewport state.
type VisualViewportData struct {
	Scale      float64 `json:"scale"`
	OffsetLeft float64 `json:"offsetLeft"`
	OffsetTop  float64 `json:"offsetTop"`
	PageLeft   float64 `json:"pageLeft"`
	PageTop    float64 `json:"pageTop"`
	Width      float64 `json:"width"`
	Height     float64 `json:"height"`
}

// Record is one timestamped entry of a Segment. Data is *FullSnapshotData,
// *VisualViewportData, nil (view end) or an IncrementalData.
type Record struct {
	Type      RecordType
	Timestamp int64 // epoch milliseconds
	ID        int64 // record id, set on mouse interactions for correlation
	Data      any
}

// NewFullSnapshot builds a full snapshot record.
func NewFullSnapshot(ts int64, d FullSnapshotData) Record {
	return Record{Type: TypeFullSnapshot, Timestamp: ts, Data: &d}
}

// NewIncremental builds an incremental snapshot record.
func NewIncremental(ts int64, d IncrementalData) Record {
	return Record{Type: TypeIncrementalSnapshot, Timestamp: ts, Data: d}
}

// NewViewEnd builds the record closing a view.
func NewViewEnd(ts int64) Record {
	return Record{Type: TypeViewEnd, Timestamp: ts}
}

// NewVisualViewport builds a visual viewport record.
func NewVisualViewport(ts int64, d VisualViewportData) Record {
	return Record{Type: TypeVisualViewport, Timestamp: ts, Data: &d}
}

// Incremental returns the incremental payload, if any.
func (r Record) Incremental() (IncrementalData, bool) {
	if r.Type != TypeIncrementalSnapshot {
		return nil, false
	}
	d, ok := r.Data.(IncrementalData)
	return d, ok
}

// FullSnapshot returns the full snapshot payload, if any.
func (r Record) FullSnapshot() (*FullSnapshotData, bool) {
	d, ok := r.Data.(*FullSnapshotData)
	return d, ok && r.Type == TypeFullSnapshot
}

// IsSource reports whether r is an incremental record of source s.
func (r Record) IsSource(s IncrementalSource) bool {
	d, ok := r.Incremental()
	return ok && d.Source() == s
}

// MarshalJSON encodes the record as {"type","timestamp","id","data"}.
// Incremental payloads get their "source" tag spliced into the data object.
func (r Record) MarshalJSON() ([]byte, error) {
	var data json.RawMessage
	if r.Data != nil {
		b, err := json.Marshal(r.Data)
		if err != nil {
			return nil, fmt.Errorf("record: marshal %s data: %w", r.Type, err)
		}
		if inc, ok := r.Incremental(); ok && len(b) >= 2 && b[0] == '{' {
			tag := `{"source":` + strconv.Itoa(int(inc.Source()))
			if len(b) == 2 {
				b = []byte(tag + "}")
			} else {
				b = append([]byte(tag+","), b[1:]...)
			}
		}
		data = b
	}
	return json.Marshal(struct {
		Type      RecordType      `json:"type"`
		Timestamp int64           `json:"timestamp"`
		ID        int64           `json:"id,omitempty"`
		Data      json.RawMessage `json:"data,omitempty"`
	}{r.Type, r.Timestamp, r.ID, data})
}
