package sink

import (
	"context"

	"github.com/hazyhaar/horosreplay/replay/record"
)

// SegmentFunc is called for each sealed segment.
type SegmentFunc func(ctx context.Context, seg *record.Segment) error

// Callback delivers segments via a Go function call, without
// serialisation. Used when the consumer lives in the same binary.
type Callback struct {
	fn SegmentFunc
}

// NewCallback creates a Callback sink. fn may be nil.
func NewCallback(fn SegmentFunc) *Callback {
	return &Callback{fn: fn}
}

func (c *Callback) Send(ctx context.Context, seg *record.Segment) error {
	if c.fn != nil {
		return c.fn(ctx, seg)
	}
	return nil
}

func (c *Callback) Close() error { return nil }
