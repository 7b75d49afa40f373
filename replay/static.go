package replay

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/fetcher"
)

// Snapshot records doc once: the recording starts, takes its full
// snapshot and stops, so the sinks receive a single init segment. It
// returns the final status.
func Snapshot(ctx context.Context, doc *dom.Document, cfg *Config, opts ...Option) (Status, error) {
	rec := New(doc, cfg, opts...)
	if err := rec.Start(ctx); err != nil {
		rec.Stop(context.WithoutCancel(ctx))
		return Status{}, err
	}
	if err := rec.Stop(ctx); err != nil {
		return rec.Status(), err
	}
	return rec.Status(), nil
}

// SnapshotHTML parses markup served at url and snapshots it.
func SnapshotHTML(ctx context.Context, r io.Reader, url string, cfg *Config, opts ...Option) (Status, error) {
	doc, err := dom.Parse(r, url)
	if err != nil {
		return Status{}, fmt.Errorf("replay: %w", err)
	}
	return Snapshot(ctx, doc, cfg, opts...)
}

// FetchOptions tune SnapshotURL.
type FetchOptions struct {
	Client      *http.Client
	UserAgent   string
	StyleSheets bool
	Logger      *slog.Logger
}

// SnapshotURL fetches url over HTTP, without a browser, and snapshots the
// served document. Pages that look rendered by scripts are recorded as
// served, with a warning: use Browser.Record for those.
func SnapshotURL(ctx context.Context, url string, cfg *Config, fo FetchOptions, opts ...Option) (Status, error) {
	logger := fo.Logger
	if logger == nil {
		logger = slog.Default()
	}
	fopts := []fetcher.Option{fetcher.WithLogger(logger)}
	if fo.Client != nil {
		fopts = append(fopts, fetcher.WithClient(fo.Client))
	}
	if fo.UserAgent != "" {
		fopts = append(fopts, fetcher.WithUserAgent(fo.UserAgent))
	}
	if !fo.StyleSheets {
		fopts = append(fopts, fetcher.WithoutStyleSheets())
	}
	res, err := fetcher.New(fopts...).Fetch(ctx, url)
	if err != nil {
		return Status{}, err
	}
	if !res.Static {
		logger.Warn("replay: page looks script-rendered, snapshot may be incomplete", "url", res.Doc.URL)
	}
	return Snapshot(ctx, res.Doc, cfg, opts...)
}
