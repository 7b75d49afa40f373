package record

import "encoding/json"

// CreationReason explains why a segment was opened.
type CreationReason string

const (
	CreationInit            CreationReason = "init"
	CreationViewChange      CreationReason = "view-change"
	CreationRecorderRestart CreationReason = "recorder-restart"
	CreationMaxSize         CreationReason = "max-size"
	CreationMaxDuration     CreationReason = "max-duration"
	CreationExplicitFlush   CreationReason = "explicit-flush"
)

// FlushReason explains why a segment was sealed.
type FlushReason string

const (
	FlushViewChange      FlushReason = "view-change"
	FlushRecorderRestart FlushReason = "recorder-restart"
	FlushMaxSize         FlushReason = "max-size"
	FlushMaxDuration     FlushReason = "max-duration"
	FlushExplicit        FlushReason = "explicit-flush"
	FlushStop            FlushReason = "stop"
)

// NextCreation maps the reason a segment was sealed to the creation reason
// of the segment that follows it.
func (f FlushReason) NextCreation() CreationReason {
	switch f {
	case FlushViewChange:
		return CreationViewChange
	case FlushRecorderRestart, FlushStop:
		return CreationRecorderRestart
	case FlushMaxSize:
		return CreationMaxSize
	case FlushMaxDuration:
		return CreationMaxDuration
	default:
		return CreationExplicitFlush
	}
}

// RequiresFullSnapshot reports whether a segment created for this reason
// must begin with a FullSnapshot record.
func (c CreationReason) RequiresFullSnapshot() bool {
	switch c {
	case CreationInit, CreationViewChange, CreationRecorderRestart:
		return true
	}
	return false
}

// Metadata describes a Segment.
type Metadata struct {
	ID              string         `json:"id"`
	SessionID       string         `json:"session_id"`
	ViewID          string         `json:"view_id"`
	CreationReason  CreationReason `json:"creation_reason"`
	FlushReason     FlushReason    `json:"flush_reason"`
	Start           int64          `json:"start"`
	End             int64          `json:"end"`
	RecordsCount    int            `json:"records_count"`
	HasFullSnapshot bool           `json:"has_full_snapshot"`
	IndexInView     int            `json:"index_in_view"`
	Bytes           int            `json:"raw_size"`
}

// Segment is a sealed, ordered bundle of records. It is never mutated after
// it has been handed to a consumer.
type Segment struct {
	Metadata
	Records []Record `json:"records"`
}

// MarshalSegment encodes a Segment as JSON.
func MarshalSegment(s *Segment) ([]byte, error) {
	return json.Marshal(s)
}
