package sink

import (
	"context"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/hazyhaar/horosreplay/replay/record"
)

// Stdout writes segments as JSON lines.
type Stdout struct {
	mu sync.Mutex
	w  io.Writer
}

// NewStdout creates a Stdout sink writing to w, or os.Stdout when w is nil.
func NewStdout(w io.Writer) *Stdout {
	if w == nil {
		w = os.Stdout
	}
	return &Stdout{w: w}
}

func (s *Stdout) Send(_ context.Context, seg *record.Segment) error {
	line, err := record.MarshalSegment(seg)
	if err != nil {
		return fmt.Errorf("stdout: %w", err)
	}
	line = append(line, '\n')

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, err := s.w.Write(line); err != nil {
		return fmt.Errorf("stdout: write: %w", err)
	}
	return nil
}

func (s *Stdout) Close() error { return nil }
