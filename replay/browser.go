package replay

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"

	"github.com/hazyhaar/horosreplay/replay/dom"
	"github.com/hazyhaar/horosreplay/replay/internal/browser"
	"github.com/hazyhaar/horosreplay/replay/internal/cdp"
)

// Default viewport of recorded tabs.
const (
	DefaultViewportWidth  = 1280
	DefaultViewportHeight = 800
)

// ReadyTimeout bounds the wait for the capture script to report the
// initial page state. Recording starts anyway when it expires.
var ReadyTimeout = 10 * time.Second

// Browser records live pages in Chrome.
type Browser struct {
	cfg    *Config
	mgr    *browser.Manager
	logger *slog.Logger
}

// NewBrowser creates a Browser from cfg.Browser. Call Start to launch
// Chrome.
func NewBrowser(cfg *Config, logger *slog.Logger) (*Browser, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if logger == nil {
		logger = slog.Default()
	}
	mode, err := browser.ParseMode(cfg.Browser.Stealth)
	if err != nil {
		return nil, fmt.Errorf("replay: %w", err)
	}
	mgr := browser.NewManager(browser.Config{
		RemoteURL:        cfg.Browser.Remote,
		MemoryLimit:      cfg.Browser.MemoryLimit,
		RecycleInterval:  cfg.Browser.RecycleInterval,
		ResourceBlocking: cfg.Browser.ResourceBlocking,
		Mode:             mode,
		XvfbDisplay:      cfg.Browser.XvfbDisplay,
		Logger:           logger,
	})
	return &Browser{cfg: cfg, mgr: mgr, logger: logger}, nil
}

// Start launches or connects to Chrome.
func (b *Browser) Start(ctx context.Context) error {
	_, err := b.mgr.Start(ctx)
	return err
}

// Close shuts Chrome down. Stop the recorders first.
func (b *Browser) Close() error {
	return b.mgr.Close()
}

// Record opens url in a new tab and records it until the returned
// recorder is stopped or ctx is done. Later navigations of the tab start
// new views; a Chrome recycle reopens the page and restarts the
// recording.
func (b *Browser) Record(ctx context.Context, url string, opts ...Option) (*Recorder, error) {
	tab, err := browser.OpenTab(ctx, b.mgr, DefaultViewportWidth, DefaultViewportHeight)
	if err != nil {
		return nil, err
	}
	if err := tab.Navigate(ctx, url); err != nil {
		tab.Close()
		return nil, err
	}

	opts = append([]Option{WithLogger(b.logger)}, opts...)
	rec := New(dom.NewDocument("about:blank"), b.cfg, opts...)
	if err := rec.run(ctx); err != nil {
		tab.Close()
		return nil, err
	}
	p := &pageRecording{rec: rec, tab: tab, logger: rec.logger}
	if err := p.attach(ctx); err != nil {
		rec.Stop(context.WithoutCancel(ctx))
		tab.Close()
		return nil, err
	}
	p.wait(ctx)
	if err := rec.Start(ctx); err != nil {
		p.close()
		rec.Stop(context.WithoutCancel(ctx))
		return nil, err
	}
	rec.closers = append(rec.closers, p.close)

	b.mgr.OnRecycle(browser.RecycleCallback{
		Before: p.detach,
		After:  func(*rod.Browser) { p.reopen(ctx, b.mgr) },
	})
	return rec, nil
}

// pageRecording ties a recorder to the tab it mirrors.
type pageRecording struct {
	rec    *Recorder
	logger *slog.Logger

	mu     sync.Mutex
	tab    *browser.Tab
	bridge *cdp.Bridge
	closed bool
}

func (p *pageRecording) attach(ctx context.Context) error {
	r := p.rec
	bridge, err := cdp.Attach(ctx, p.tab.Page, r.doc, r.exec, cdp.Options{
		// Both run on the loop, so they call the controller directly.
		OnError: func(stack string) { r.ctrl.OnHandledError(stack) },
		OnNavigate: func(url string) {
			if err := r.changeView(r.newView(), "navigate"); err != nil {
				p.logger.Debug("replay: navigate", "url", url, "error", err)
			}
		},
		Logger: p.logger,
	})
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.bridge = bridge
	p.mu.Unlock()
	return nil
}

func (p *pageRecording) wait(ctx context.Context) {
	p.mu.Lock()
	bridge := p.bridge
	p.mu.Unlock()
	select {
	case <-bridge.Ready():
	case <-time.After(ReadyTimeout):
		p.logger.Warn("replay: capture script not ready, recording anyway", "timeout", ReadyTimeout)
	case <-ctx.Done():
	}
}

// detach stops mirroring before Chrome goes away.
func (p *pageRecording) detach() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.bridge != nil {
		p.bridge.Close()
		p.bridge = nil
	}
	p.tab = nil
}

// reopen loads the page again in the new browser and restarts the
// recording on it.
func (p *pageRecording) reopen(ctx context.Context, mgr *browser.Manager) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed || ctx.Err() != nil {
		return
	}
	var url string
	if err := p.rec.Do(func() error { url = p.rec.doc.URL; return nil }); err != nil {
		return
	}
	tab, err := browser.OpenTab(ctx, mgr, DefaultViewportWidth, DefaultViewportHeight)
	if err != nil {
		p.logger.Error("replay: reopen tab after recycle", "error", err)
		return
	}
	if err := tab.Navigate(ctx, url); err != nil {
		p.logger.Error("replay: navigate after recycle", "url", url, "error", err)
		tab.Close()
		return
	}
	p.mu.Lock()
	p.tab = tab
	p.mu.Unlock()
	if err := p.attach(ctx); err != nil {
		p.logger.Error("replay: attach after recycle", "url", url, "error", err)
		return
	}
	p.wait(ctx)
	if err := p.rec.Restart(); err != nil {
		p.logger.Warn("replay: restart after recycle", "error", err)
	}
}

func (p *pageRecording) close() {
	p.mu.Lock()
	p.closed = true
	bridge, tab := p.bridge, p.tab
	p.bridge, p.tab = nil, nil
	p.mu.Unlock()
	if bridge != nil {
		bridge.Close()
	}
	if tab != nil {
		if err := tab.Close(); err != nil {
			p.logger.Debug("replay: close tab", "error", err)
		}
	}
}
