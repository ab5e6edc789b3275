package fetch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/stealth"
)

// Loader returns the rendered markup of a page.
type Loader interface {
	Load(ctx context.Context, pageURL string) ([]byte, error)
}

// BrowserLoader renders pages in a remote Chrome over the DevTools protocol,
// with stealth patches applied to every tab. It connects lazily on first use
// and reconnects after Close.
type BrowserLoader struct {
	ControlURL string        // DevTools websocket URL, e.g. ws://chrome:9222/devtools/browser/...
	Timeout    time.Duration // per page, default 30s

	mu      sync.Mutex
	browser *rod.Browser
}

func (b *BrowserLoader) connect() (*rod.Browser, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser != nil {
		return b.browser, nil
	}
	br := rod.New().ControlURL(b.ControlURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("fetch/browser: connect: %w", err)
	}
	b.browser = br
	return br, nil
}

// Load opens a stealth tab, waits for the load event and returns the
// document's outer HTML.
func (b *BrowserLoader) Load(ctx context.Context, pageURL string) ([]byte, error) {
	br, err := b.connect()
	if err != nil {
		return nil, err
	}
	timeout := b.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	page, err := stealth.Page(br)
	if err != nil {
		b.reset()
		return nil, fmt.Errorf("fetch/browser: open tab: %w", err)
	}
	defer page.Close()

	p := page.Context(ctx)
	if err := p.Navigate(pageURL); err != nil {
		return nil, fmt.Errorf("fetch/browser: navigate: %w", err)
	}
	if err := p.WaitLoad(); err != nil {
		return nil, fmt.Errorf("fetch/browser: wait load: %w", err)
	}
	res, err := p.Eval(`() => document.documentElement.outerHTML`)
	if err != nil {
		return nil, fmt.Errorf("fetch/browser: read DOM: %w", err)
	}
	return []byte(res.Value.Str()), nil
}

// Close shuts the connected browser down.
func (b *BrowserLoader) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.browser == nil {
		return nil
	}
	err := b.browser.Close()
	b.browser = nil
	return err
}

// reset drops a connection that failed so the next Load reconnects.
func (b *BrowserLoader) reset() {
	b.mu.Lock()
	b.browser = nil
	b.mu.Unlock()
}
