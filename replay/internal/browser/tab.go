package browser

import (
	"context"
	"fmt"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
)

// DefaultNavigateTimeout bounds Navigate when the caller sets none.
const DefaultNavigateTimeout = 30 * time.Second

// Tab is a stealth page opened on about:blank so a recorder can attach
// before the first navigation.
type Tab struct {
	Page *rod.Page
	mgr  *Manager
}

// OpenTab creates a blank stealth tab with the manager's resource blocking
// and, when width and height are positive, a fixed viewport.
func OpenTab(ctx context.Context, mgr *Manager, width, height int) (*Tab, error) {
	b := mgr.Browser()
	if b == nil {
		return nil, fmt.Errorf("browser: no active browser")
	}
	page, err := stealth.Page(b)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}
	page = page.Context(ctx)

	if len(mgr.cfg.ResourceBlocking) > 0 {
		if err := blockResources(page, mgr.cfg.ResourceBlocking); err != nil {
			mgr.cfg.Logger.Warn("browser: resource blocking", "error", err)
		}
	}
	if width > 0 && height > 0 {
		err := proto.EmulationSetDeviceMetricsOverride{
			Width: width, Height: height, DeviceScaleFactor: 1,
		}.Call(page)
		if err != nil {
			_ = page.Close()
			return nil, fmt.Errorf("browser: viewport: %w", err)
		}
	}
	return &Tab{Page: page, mgr: mgr}, nil
}

// Navigate loads url and waits for the load event. A load timeout is
// logged, not returned: the page is recorded as it is.
func (t *Tab) Navigate(ctx context.Context, url string) error {
	navCtx, cancel := context.WithTimeout(ctx, DefaultNavigateTimeout)
	defer cancel()
	p := t.Page.Context(navCtx)
	if err := p.Navigate(url); err != nil {
		return fmt.Errorf("browser: navigate %s: %w", url, err)
	}
	if err := p.WaitLoad(); err != nil {
		t.mgr.cfg.Logger.Warn("browser: wait load", "url", url, "error", err)
	}
	return nil
}

// Close closes the tab.
func (t *Tab) Close() error {
	if t.Page == nil {
		return nil
	}
	return t.Page.Close()
}
