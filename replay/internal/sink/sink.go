// Package sink defines the consumers of sealed segments.
package sink

import (
	"context"

	"github.com/hazyhaar/horosreplay/replay/record"
)

// Sink receives sealed segments. Implementations deliver them to
// different backends (stdout, webhook, SQLite, in-process callback).
// Segments are immutable: a sink must not modify them.
type Sink interface {
	Send(ctx context.Context, seg *record.Segment) error
	Close() error
}
