// Package rodscan implements a Scanner over live Chrome via Rod. It
// manages the browser lifecycle (launch, recycle on memory or age),
// opens stealth pages, and runs an injected walker script in each frame
// to produce the flat node map.
package rodscan

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
)

// BrowserConfig configures the managed Chrome instance.
type BrowserConfig struct {
	// RemoteURL is the WebSocket URL of an external Chrome. Empty means
	// launch a local one.
	RemoteURL string `yaml:"remote_url"`

	// MemoryLimit in bytes. The browser is recycled when its JS heap
	// exceeds it. Default 1GB.
	MemoryLimit int64 `yaml:"memory_limit"`

	// RecycleInterval is the maximum browser process lifetime. Default 4h.
	RecycleInterval time.Duration `yaml:"recycle_interval"`

	// Stealth disables automation fingerprints on new pages. Default on.
	Stealth *bool `yaml:"stealth"`
}

func (c *BrowserConfig) defaults() {
	if c.MemoryLimit <= 0 {
		c.MemoryLimit = 1 << 30
	}
	if c.RecycleInterval <= 0 {
		c.RecycleInterval = 4 * time.Hour
	}
	if c.Stealth == nil {
		on := true
		c.Stealth = &on
	}
}

// Browser manages one Chrome process and hands out Rod handles.
type Browser struct {
	cfg    BrowserConfig
	logger *slog.Logger

	mu      sync.RWMutex
	browser *rod.Browser
	lnch    *launcher.Launcher
	startAt time.Time
	closed  bool
}

// NewBrowser creates the manager. Call Start to launch Chrome.
func NewBrowser(cfg BrowserConfig, logger *slog.Logger) *Browser {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Browser{cfg: cfg, logger: logger}
}

// Start launches Chrome (or connects to RemoteURL) and begins the
// recycle monitor. The monitor stops when ctx is cancelled.
func (b *Browser) Start(ctx context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return fmt.Errorf("rodscan: browser manager is closed")
	}

	br, err := b.launch()
	if err != nil {
		return err
	}
	b.browser = br
	b.startAt = time.Now()

	go b.monitorLoop(ctx)
	return nil
}

// Handle returns the current Rod browser handle.
func (b *Browser) Handle() *rod.Browser {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.browser
}

// Recycle kills Chrome and restarts it. Open pages are lost.
func (b *Browser) Recycle() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return fmt.Errorf("rodscan: browser manager is closed")
	}

	b.logger.Info("rodscan: recycling browser", "uptime", time.Since(b.startAt))
	b.cleanupLocked()

	br, err := b.launch()
	if err != nil {
		return fmt.Errorf("rodscan: relaunch: %w", err)
	}
	b.browser = br
	b.startAt = time.Now()
	return nil
}

// Close shuts Chrome down.
func (b *Browser) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	b.cleanupLocked()
	return nil
}

func (b *Browser) launch() (*rod.Browser, error) {
	var wsURL string
	if b.cfg.RemoteURL != "" {
		wsURL = b.cfg.RemoteURL
		b.logger.Info("rodscan: connecting to remote browser", "url", wsURL)
	} else {
		l := launcher.New().
			Headless(true).
			Set("disable-blink-features", "AutomationControlled")
		u, err := l.Launch()
		if err != nil {
			return nil, fmt.Errorf("rodscan: launch: %w", err)
		}
		wsURL = u
		b.lnch = l
		b.logger.Info("rodscan: launched local chrome", "url", wsURL)
	}

	br := rod.New().ControlURL(wsURL)
	if err := br.Connect(); err != nil {
		return nil, fmt.Errorf("rodscan: connect: %w", err)
	}
	if err := br.IgnoreCertErrors(true); err != nil {
		b.logger.Warn("rodscan: ignore cert errors failed", "error", err)
	}
	return br, nil
}

func (b *Browser) cleanupLocked() {
	if b.browser != nil {
		b.browser.Close()
		b.browser = nil
	}
	if b.lnch != nil {
		b.lnch.Cleanup()
		b.lnch = nil
	}
}

func (b *Browser) monitorLoop(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			b.mu.RLock()
			if b.closed || b.browser == nil {
				b.mu.RUnlock()
				return
			}
			startAt := b.startAt
			br := b.browser
			b.mu.RUnlock()

			if time.Since(startAt) > b.cfg.RecycleInterval {
				b.logger.Info("rodscan: recycle interval reached")
				if err := b.Recycle(); err != nil {
					b.logger.Error("rodscan: recycle failed", "error", err)
				}
				continue
			}

			used, err := jsHeapUsage(br)
			if err != nil {
				b.logger.Debug("rodscan: heap check failed", "error", err)
				continue
			}
			if used > b.cfg.MemoryLimit {
				b.logger.Info("rodscan: memory limit exceeded",
					"used", used, "limit", b.cfg.MemoryLimit)
				if err := b.Recycle(); err != nil {
					b.logger.Error("rodscan: recycle failed", "error", err)
				}
			}
		}
	}
}

// jsHeapUsage reads the JS heap size of the first open page as a proxy
// for the whole process.
func jsHeapUsage(br *rod.Browser) (int64, error) {
	pages, err := br.Pages()
	if err != nil || len(pages) == 0 {
		return 0, fmt.Errorf("no pages for heap check")
	}
	res, err := pages[0].Eval(`() => performance.memory ? performance.memory.usedJSHeapSize : 0`)
	if err != nil {
		return 0, err
	}
	return int64(res.Value.Int()), nil
}
