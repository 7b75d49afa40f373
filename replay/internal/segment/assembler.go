// Package segment batches records into size and duration bounded
// segments.
package segment

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/hazyhaar/horosreplay/idgen"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// ErrFullSnapshotRequired is returned when a segment that must open with a
// full snapshot receives another record first.
var ErrFullSnapshotRequired = errors.New("segment: full snapshot required")

// Limits bound an open segment. Zero disables a limit.
type Limits struct {
	MaxDuration time.Duration
	MaxBytes    int
}

// DefaultLimits are the limits used when none are configured.
var DefaultLimits = Limits{MaxDuration: 5 * time.Second, MaxBytes: 256 << 10}

// State is the assembler state. There is no sealed state: a sealed
// segment is the one SealAndTake hands off, and the assembler is Empty
// again once it returns.
type State int

const (
	Empty State = iota
	Open
)

func (s State) String() string {
	if s == Open {
		return "open"
	}
	return "empty"
}

// Assembler accumulates records into the open segment. A segment is sealed
// by SealAndTake, or by Push when a limit is reached; sealed segments are
// never touched again.
type Assembler struct {
	limits    Limits
	newID     idgen.Generator
	sessionID string
	viewID    string

	open     *record.Segment
	creation record.CreationReason
	index    int
	lastTS   int64
}

// New creates an assembler. The first segment is created for reason init.
func New(limits Limits, newID idgen.Generator) *Assembler {
	if newID == nil {
		newID = idgen.Default
	}
	return &Assembler{limits: limits, newID: newID, creation: record.CreationInit}
}

// SetView sets the ids stamped on the next segments and restarts the
// per-view segment index. It must be called while Empty.
func (a *Assembler) SetView(sessionID, viewID string) {
	a.sessionID, a.viewID = sessionID, viewID
	a.index = 0
}

// ViewID returns the current view id.
func (a *Assembler) ViewID() string { return a.viewID }

// State returns Empty or Open.
func (a *Assembler) State() State {
	if a.open == nil {
		return Empty
	}
	return Open
}

// NextCreation returns the creation reason of the next segment.
func (a *Assembler) NextCreation() record.CreationReason { return a.creation }

// SetNextCreation overrides the creation reason of the next segment.
func (a *Assembler) SetNextCreation(r record.CreationReason) { a.creation = r }

// NeedsFullSnapshot reports whether the next record must be a full
// snapshot.
func (a *Assembler) NeedsFullSnapshot() bool {
	return a.open == nil && a.creation.RequiresFullSnapshot()
}

// Push appends r to the open segment, opening one if needed. When r brings
// the segment to a limit, the segment is sealed and returned.
func (a *Assembler) Push(r record.Record) (*record.Segment, error) {
	if a.open == nil {
		if a.creation.RequiresFullSnapshot() && r.Type != record.TypeFullSnapshot {
			return nil, fmt.Errorf("%w: %s segment got %s first", ErrFullSnapshotRequired, a.creation, r.Type)
		}
		a.open = &record.Segment{Metadata: record.Metadata{
			ID:             a.newID(),
			SessionID:      a.sessionID,
			ViewID:         a.viewID,
			CreationReason: a.creation,
			IndexInView:    a.index,
			Start:          max(r.Timestamp, a.lastTS),
		}}
	}
	if r.Timestamp < a.lastTS {
		r.Timestamp = a.lastTS
	}
	a.lastTS = r.Timestamp

	raw, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("segment: push: %w", err)
	}
	s := a.open
	if len(s.Records) > 0 {
		s.Bytes++ // separator
	}
	s.Bytes += len(raw)
	s.Records = append(s.Records, r)
	s.RecordsCount++
	s.End = r.Timestamp
	if r.Type == record.TypeFullSnapshot {
		s.HasFullSnapshot = true
	}

	switch {
	case a.limits.MaxBytes > 0 && s.Bytes >= a.limits.MaxBytes:
		return a.SealAndTake(record.FlushMaxSize), nil
	case a.limits.MaxDuration > 0 && s.End-s.Start >= a.limits.MaxDuration.Milliseconds():
		return a.SealAndTake(record.FlushMaxDuration), nil
	}
	return nil, nil
}

// Expired reports whether the open segment has been open for at least
// MaxDuration at now (epoch milliseconds).
func (a *Assembler) Expired(now int64) bool {
	return a.open != nil && a.limits.MaxDuration > 0 && now-a.open.Start >= a.limits.MaxDuration.Milliseconds()
}

// SealAndTake seals the open segment and returns it, or nil when Empty.
// The next segment is created for the reason mapped from reason.
func (a *Assembler) SealAndTake(reason record.FlushReason) *record.Segment {
	a.creation = reason.NextCreation()
	s := a.open
	if s == nil {
		return nil
	}
	a.open = nil
	a.index++
	s.FlushReason = reason
	return s
}

// Len returns the number of records in the open segment.
func (a *Assembler) Len() int {
	if a.open == nil {
		return 0
	}
	return len(a.open.Records)
}
