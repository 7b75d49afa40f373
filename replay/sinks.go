package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/hazyhaar/horosreplay/replay/internal/sink"
	"github.com/hazyhaar/horosreplay/replay/record"
)

// Sink receives sealed segments.
type Sink = sink.Sink

// Store is the SQLite segment store. It is also a Sink.
type Store = sink.Store

// StoreFilter selects stored segments.
type StoreFilter = sink.Filter

// ErrSegmentNotFound is returned by Store.Get for an unknown id.
var ErrSegmentNotFound = sink.ErrSegmentNotFound

// NewStdoutSink writes one JSON segment per line to w.
func NewStdoutSink(w io.Writer) Sink {
	return sink.NewStdout(w)
}

// NewWebhookSink POSTs every segment to url, retrying with back-off.
func NewWebhookSink(url string, logger *slog.Logger) Sink {
	return sink.NewWebhook(url, sink.WithWebhookLogger(logger))
}

// NewCallbackSink hands segments to fn in process, without serialisation.
func NewCallbackSink(fn func(ctx context.Context, seg *record.Segment) error) Sink {
	return sink.NewCallback(fn)
}

// OpenStore opens the SQLite segment store at path.
func OpenStore(path string) (*Store, error) {
	return sink.OpenStore(path)
}

// SinksFromConfig builds the sinks listed in cfg. The SQLite store, when
// configured, is returned too so it can be queried.
func SinksFromConfig(cfg *Config, logger *slog.Logger) ([]Sink, *Store, error) {
	var (
		out   []Sink
		store *Store
	)
	for _, sc := range cfg.Sinks {
		switch sc.Type {
		case "stdout":
			out = append(out, NewStdoutSink(os.Stdout))
		case "webhook":
			opts := []sink.WebhookOption{sink.WithWebhookLogger(logger)}
			if sc.Gzip {
				opts = append(opts, sink.WithWebhookGzip())
			}
			if sc.Retries > 0 {
				opts = append(opts, sink.WithWebhookRetries(sc.Retries))
			}
			out = append(out, sink.NewWebhook(sc.URL, opts...))
		case "sqlite":
			s, err := OpenStore(sc.Path)
			if err != nil {
				for _, o := range out {
					o.Close()
				}
				return nil, nil, err
			}
			store = s
			out = append(out, s)
		default:
			return nil, nil, fmt.Errorf("replay: unknown sink type %q", sc.Type)
		}
	}
	return out, store, nil
}
