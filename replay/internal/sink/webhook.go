package sink

import (
	"bytes"
	"compress/gzip"
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/hazyhaar/horosreplay/replay/record"
)

// Webhook POSTs every segment to an intake URL. Transport errors, 5xx and
// 429 answers are retried with exponential back-off (a Retry-After header
// overrides the delay); other 4xx answers fail at once.
type Webhook struct {
	url      string
	client   *http.Client
	attempts int
	backoff  time.Duration
	gzip     bool
	logger   *slog.Logger
}

// WebhookOption configures a Webhook sink.
type WebhookOption func(*Webhook)

// WithWebhookRetries sets how many times a failed POST is retried.
// Default 3.
func WithWebhookRetries(n int) WebhookOption {
	return func(w *Webhook) { w.attempts = n + 1 }
}

// WithWebhookBackoff sets the first retry delay. Default 1s.
func WithWebhookBackoff(d time.Duration) WebhookOption {
	return func(w *Webhook) { w.backoff = d }
}

// WithWebhookClient sets the HTTP client.
func WithWebhookClient(c *http.Client) WebhookOption {
	return func(w *Webhook) { w.client = c }
}

// WithWebhookGzip compresses request bodies.
func WithWebhookGzip() WebhookOption {
	return func(w *Webhook) { w.gzip = true }
}

// WithWebhookLogger sets the logger.
func WithWebhookLogger(l *slog.Logger) WebhookOption {
	return func(w *Webhook) { w.logger = l }
}

// NewWebhook creates a Webhook sink targeting url.
func NewWebhook(url string, opts ...WebhookOption) *Webhook {
	w := &Webhook{
		url:      url,
		client:   &http.Client{Timeout: 10 * time.Second},
		attempts: 4,
		backoff:  time.Second,
		logger:   slog.Default(),
	}
	for _, o := range opts {
		o(w)
	}
	if w.logger == nil {
		w.logger = slog.Default()
	}
	return w
}

func (w *Webhook) Send(ctx context.Context, seg *record.Segment) error {
	body, err := w.encode(seg)
	if err != nil {
		return err
	}

	delay := w.backoff
	var lastErr error
	for n := 1; n <= w.attempts; n++ {
		wait, err := w.post(ctx, seg, body)
		if err == nil {
			return nil
		}
		lastErr = err
		if wait < 0 || n == w.attempts {
			break
		}
		if wait == 0 {
			wait = delay
			delay *= 2
		}
		w.logger.Warn("webhook: segment not delivered, retrying",
			"segment", seg.ID, "attempt", n, "in", wait, "error", err)
		t := time.NewTimer(wait)
		select {
		case <-t.C:
		case <-ctx.Done():
			t.Stop()
			return ctx.Err()
		}
	}
	return fmt.Errorf("webhook: segment %s: %w", seg.ID, lastErr)
}

func (w *Webhook) encode(seg *record.Segment) ([]byte, error) {
	raw, err := record.MarshalSegment(seg)
	if err != nil {
		return nil, fmt.Errorf("webhook: marshal: %w", err)
	}
	if !w.gzip {
		return raw, nil
	}
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if _, err := zw.Write(raw); err != nil {
		return nil, fmt.Errorf("webhook: gzip: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("webhook: gzip: %w", err)
	}
	return buf.Bytes(), nil
}

// post makes one attempt. On failure wait is negative when the error is
// final, positive when the server asked for a delay, zero otherwise.
func (w *Webhook) post(ctx context.Context, seg *record.Segment, body []byte) (wait time.Duration, err error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return -1, fmt.Errorf("new request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if w.gzip {
		req.Header.Set("Content-Encoding", "gzip")
	}
	req.Header.Set("X-Replay-Segment", seg.ID)
	req.Header.Set("X-Replay-Session", seg.SessionID)
	req.Header.Set("X-Replay-View", seg.ViewID)

	resp, err := w.client.Do(req)
	if err != nil {
		return 0, err
	}
	resp.Body.Close()

	switch code := resp.StatusCode; {
	case code >= 200 && code < 300:
		return 0, nil
	case code == http.StatusTooManyRequests || code >= 500:
		return retryAfter(resp.Header.Get("Retry-After")), fmt.Errorf("status %d", code)
	default:
		return -1, fmt.Errorf("rejected with status %d", code)
	}
}

// retryAfter reads a Retry-After header given in seconds.
func retryAfter(v string) time.Duration {
	secs, err := strconv.Atoi(v)
	if err != nil || secs <= 0 {
		return 0
	}
	return time.Duration(secs) * time.Second
}

// Close releases idle connections of the client.
func (w *Webhook) Close() error {
	w.client.CloseIdleConnections()
	return nil
}
