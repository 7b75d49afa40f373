// Package fetcher is the browserless host: one HTTP GET parsed into a
// static document, with its linked style sheets loaded so a snapshot can
// inline them.
package fetcher

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/hazyhaar/horosreplay/replay/dom"
)

const maxBody = 10 << 20

// Result is a fetched page.
type Result struct {
	Doc        *dom.Document
	StatusCode int
	ETag       string
	LastMod    string
	// Static is false when the page looks like a script-rendered shell
	// that only a browser can record faithfully.
	Static bool
	// Sheets is the number of linked style sheets loaded.
	Sheets int
}

// Fetcher performs HTTP GETs and parses the responses.
type Fetcher struct {
	client *http.Client
	ua     string
	sheets bool
	logger *slog.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithClient sets the HTTP client.
func WithClient(c *http.Client) Option {
	return func(f *Fetcher) { f.client = c }
}

// WithUserAgent sets the User-Agent header.
func WithUserAgent(ua string) Option {
	return func(f *Fetcher) { f.ua = ua }
}

// WithoutStyleSheets skips loading <link rel="stylesheet"> targets.
func WithoutStyleSheets() Option {
	return func(f *Fetcher) { f.sheets = false }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(f *Fetcher) { f.logger = l }
}

// New creates a Fetcher.
func New(opts ...Option) *Fetcher {
	f := &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		ua:     "Mozilla/5.0 (compatible; HorosReplay/1.0)",
		sheets: true,
		logger: slog.Default(),
	}
	for _, o := range opts {
		o(f)
	}
	return f
}

// Fetch GETs pageURL and parses it. Linked sheets that fail to load are
// logged and left empty.
func (f *Fetcher) Fetch(ctx context.Context, pageURL string, opts ...dom.Option) (*Result, error) {
	resp, body, err := f.get(ctx, pageURL, "text/html,application/xhtml+xml;q=0.9,*/*;q=0.8")
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("fetcher: %s: status %d", pageURL, resp.StatusCode)
	}
	final := pageURL
	if resp.Request != nil && resp.Request.URL != nil {
		final = resp.Request.URL.String()
	}
	doc, err := dom.ParseString(string(body), final, opts...)
	if err != nil {
		return nil, fmt.Errorf("fetcher: %w", err)
	}

	res := &Result{
		Doc:        doc,
		StatusCode: resp.StatusCode,
		ETag:       resp.Header.Get("ETag"),
		LastMod:    resp.Header.Get("Last-Modified"),
		Static:     IsStatic(doc),
	}
	if f.sheets {
		res.Sheets = f.loadSheets(ctx, doc)
	}
	f.logger.Debug("fetcher: fetched",
		"url", final, "status", resp.StatusCode, "size", len(body),
		"static", res.Static, "sheets", res.Sheets)
	return res, nil
}

// Head checks the validators of pageURL without downloading it.
func (f *Fetcher) Head(ctx context.Context, pageURL string) (etag, lastMod string, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, pageURL, nil)
	if err != nil {
		return "", "", fmt.Errorf("fetcher: head request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	resp, err := f.client.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetcher: head: %w", err)
	}
	resp.Body.Close()
	return resp.Header.Get("ETag"), resp.Header.Get("Last-Modified"), nil
}

func (f *Fetcher) get(ctx context.Context, u, accept string) (*http.Response, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("fetcher: new request: %w", err)
	}
	req.Header.Set("User-Agent", f.ua)
	req.Header.Set("Accept", accept)
	resp, err := f.client.Do(req)
	if err != nil {
		return nil, nil, fmt.Errorf("fetcher: get %s: %w", u, err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBody))
	if err != nil {
		return nil, nil, fmt.Errorf("fetcher: read %s: %w", u, err)
	}
	return resp, body, nil
}

func (f *Fetcher) loadSheets(ctx context.Context, doc *dom.Document) int {
	base, err := url.Parse(doc.URL)
	if err != nil {
		return 0
	}
	links := doc.Find(func(n *dom.Node) bool {
		if n.Type != dom.ElementNode || n.Name != "link" {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(n.AttrOr("rel", "")), "stylesheet") && n.AttrOr("href", "") != ""
	})
	loaded := 0
	for _, link := range links {
		ref, err := base.Parse(link.AttrOr("href", ""))
		if err != nil || (ref.Scheme != "http" && ref.Scheme != "https") {
			continue
		}
		resp, body, err := f.get(ctx, ref.String(), "text/css,*/*;q=0.1")
		if err != nil {
			f.logger.Warn("fetcher: style sheet", "href", ref.String(), "error", err)
			continue
		}
		if resp.StatusCode >= 400 {
			f.logger.Warn("fetcher: style sheet", "href", ref.String(), "status", resp.StatusCode)
			continue
		}
		link.Sheet = dom.NewStyleSheet(link, ref.String(), string(body))
		loaded++
	}
	return loaded
}
