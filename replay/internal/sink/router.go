package sink

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/hazyhaar/horosreplay/replay/record"
)

// Router delivers each segment to every sink in order. A failing sink
// does not stop delivery to the next; all failures are joined.
type Router struct {
	sinks  []Sink
	logger *slog.Logger
}

// NewRouter creates a Router. Nil sinks are skipped.
func NewRouter(logger *slog.Logger, sinks ...Sink) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	r := &Router{logger: logger}
	for _, s := range sinks {
		if s != nil {
			r.sinks = append(r.sinks, s)
		}
	}
	return r
}

// Len reports the number of sinks.
func (r *Router) Len() int { return len(r.sinks) }

func (r *Router) Send(ctx context.Context, seg *record.Segment) error {
	var errs []error
	for i, s := range r.sinks {
		if err := s.Send(ctx, seg); err != nil {
			r.logger.Warn("sink: delivery failed", "segment", seg.ID, "view", seg.ViewID, "sink", fmt.Sprintf("%T", s), "error", err)
			errs = append(errs, fmt.Errorf("sink %d: %w", i, err))
		}
	}
	return errors.Join(errs...)
}

func (r *Router) Close() error {
	var errs []error
	for _, s := range r.sinks {
		errs = append(errs, s.Close())
	}
	return errors.Join(errs...)
}
