// Package browser connects the snapshot core to a real Chrome instance over
// CDP. Browser manages the Chrome lifecycle (local launch or remote attach);
// Page adapts a Rod tab to the page.Page interface the core consumes.
package browser

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/stealth"
)

// Config configures the browser connection.
type Config struct {
	// RemoteURL is the WebSocket URL of an external Chrome instance.
	// Empty = launch a local Chrome via launcher.
	RemoteURL string

	// Headful runs Chrome with a visible window. Default is headless.
	Headful bool

	// NavigateTimeout bounds page navigation. Default: 30s.
	NavigateTimeout time.Duration

	Logger *slog.Logger
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
}

// Browser owns a Chrome connection.
type Browser struct {
	cfg     Config
	mu      sync.Mutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	closed  bool
}

// New creates a Browser. Call Connect to launch or attach.
func New(cfg Config) *Browser {
	cfg.defaults()
	return &Browser{cfg: cfg}
}

// Connect launches a local Chrome (or attaches to RemoteURL) and connects.
func (b *Browser) Connect(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("browser: closed")
	}
	if b.browser != nil {
		return nil
	}

	log := b.cfg.Logger

	var wsURL string
	if b.cfg.RemoteURL != "" {
		wsURL = b.cfg.RemoteURL
		log.Info("browser: connecting to remote", "url", wsURL)
	} else {
		l := launcher.New().Headless(!b.cfg.Headful)
		l = l.Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return fmt.Errorf("browser: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		log.Info("browser: launched local chrome", "url", wsURL, "headful", b.cfg.Headful)
	}

	rb := rod.New().ControlURL(wsURL).Context(ctx)
	if err := rb.Connect(); err != nil {
		return fmt.Errorf("browser: connect: %w", err)
	}
	if err := rb.IgnoreCertErrors(true); err != nil {
		log.Warn("browser: ignore cert errors failed", "error", err)
	}

	b.browser = rb
	return nil
}

// OpenPage creates a stealth tab, navigates to the URL, and waits for load.
// The returned Page implements page.Page over the live tab.
func (b *Browser) OpenPage(ctx context.Context, pageURL string) (*Page, error) {
	b.mu.Lock()
	rb := b.browser
	b.mu.Unlock()
	if rb == nil {
		return nil, fmt.Errorf("browser: not connected")
	}

	tab, err := stealth.Page(rb)
	if err != nil {
		return nil, fmt.Errorf("browser: create tab: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, b.cfg.NavigateTimeout)
	defer cancel()

	if err := tab.Context(navCtx).Navigate(pageURL); err != nil {
		tab.Close()
		return nil, fmt.Errorf("browser: navigate %s: %w", pageURL, err)
	}
	if err := tab.Context(navCtx).WaitLoad(); err != nil {
		b.cfg.Logger.Warn("browser: wait load timeout", "url", pageURL, "error", err)
	}

	p := &Page{tab: tab, logger: b.cfg.Logger}
	p.recordBaseline()
	return p, nil
}

// Close shuts down Chrome.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
	return nil
}
