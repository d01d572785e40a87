package rodscan

import (
	"context"
	_ "embed"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"

	"github.com/hazyhaar/domatlas/scan"
)

//go:embed walk.js
var walkScript string

// Config controls per-scan behaviour.
type Config struct {
	// NavigateTimeout bounds navigation plus the load event. Default 30s.
	NavigateTimeout time.Duration `yaml:"navigate_timeout"`

	// ViewportExpansion widens the in-viewport test by this many pixels
	// on every side.
	ViewportExpansion int `yaml:"viewport_expansion"`
}

func (c *Config) defaults() {
	if c.NavigateTimeout <= 0 {
		c.NavigateTimeout = 30 * time.Second
	}
}

// Scanner walks live documents through an open page. Open must be
// called before Scan or Frames.
type Scanner struct {
	cfg     Config
	browser *Browser
	logger  *slog.Logger

	mu      sync.Mutex
	page    *rod.Page
	pageURL string
}

// NewScanner builds a live Scanner on top of a started Browser.
func NewScanner(cfg Config, browser *Browser, logger *slog.Logger) *Scanner {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Scanner{cfg: cfg, browser: browser, logger: logger}
}

// Open navigates a fresh stealth page to the URL, replacing any page
// opened earlier.
func (s *Scanner) Open(ctx context.Context, url string) error {
	b := s.browser.Handle()
	if b == nil {
		return fmt.Errorf("rodscan: browser not started")
	}

	var page *rod.Page
	var err error
	if *s.browser.cfg.Stealth {
		page, err = stealth.Page(b)
	} else {
		page, err = b.Page(proto.TargetCreateTarget{})
	}
	if err != nil {
		return fmt.Errorf("rodscan: create page: %w", err)
	}

	navCtx, cancel := context.WithTimeout(ctx, s.cfg.NavigateTimeout)
	defer cancel()

	if err := page.Context(navCtx).Navigate(url); err != nil {
		page.Close()
		return fmt.Errorf("rodscan: navigate %s: %w", url, err)
	}
	if err := page.Context(navCtx).WaitLoad(); err != nil {
		s.logger.Warn("rodscan: wait load timeout", "url", url, "error", err)
	}

	s.mu.Lock()
	if s.page != nil {
		s.page.Close()
	}
	s.page = page
	s.pageURL = url
	s.mu.Unlock()

	s.logger.Debug("rodscan: page opened", "url", url)
	return nil
}

// Close closes the current page.
func (s *Scanner) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.page == nil {
		return nil
	}
	err := s.page.Close()
	s.page = nil
	s.pageURL = ""
	return err
}

// URL returns the URL the current page was opened on.
func (s *Scanner) URL() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pageURL
}

// Title reads the current document title.
func (s *Scanner) Title(ctx context.Context) (string, error) {
	s.mu.Lock()
	page := s.page
	s.mu.Unlock()
	if page == nil {
		return "", fmt.Errorf("rodscan: no open page")
	}
	res, err := page.Context(ctx).Eval(`() => document.title`)
	if err != nil {
		return "", fmt.Errorf("rodscan: read title: %w", err)
	}
	return res.Value.Str(), nil
}

// Frames lists the frame hierarchy of the open page, main frame first.
func (s *Scanner) Frames(ctx context.Context) ([]scan.Frame, error) {
	s.mu.Lock()
	page := s.page
	pageURL := s.pageURL
	s.mu.Unlock()
	if page == nil {
		return nil, fmt.Errorf("rodscan: no open page")
	}

	res, err := page.Context(ctx).Eval(`() => JSON.stringify(
		Array.from(document.querySelectorAll('iframe, frame')).map((f, i) => {
			const rect = f.getBoundingClientRect();
			const style = getComputedStyle(f);
			return {
				url: f.src || '',
				name: f.name || '',
				frameId: f.id || ('frame-' + i),
				visible: rect.width > 0 && rect.height > 0 &&
					style.display !== 'none' && style.visibility !== 'hidden',
			};
		}))`)
	if err != nil {
		return nil, fmt.Errorf("rodscan: list frames: %w", err)
	}

	var children []scan.Frame
	if err := json.Unmarshal([]byte(res.Value.Str()), &children); err != nil {
		return nil, fmt.Errorf("rodscan: decode frame list: %w", err)
	}

	frames := make([]scan.Frame, 0, len(children)+1)
	frames = append(frames, scan.Frame{URL: pageURL, Visible: true})
	frames = append(frames, children...)
	return frames, nil
}

// Scan runs the walker script inside the given frame's document.
func (s *Scanner) Scan(ctx context.Context, frame scan.Frame, initialIndex int) (*scan.Result, error) {
	s.mu.Lock()
	page := s.page
	pageURL := s.pageURL
	s.mu.Unlock()
	if page == nil {
		return nil, fmt.Errorf("rodscan: no open page")
	}

	target := page
	if frame.URL != pageURL {
		el, err := s.findFrameElement(ctx, page, frame)
		if err != nil {
			return nil, err
		}
		target, err = el.Frame()
		if err != nil {
			return nil, fmt.Errorf("rodscan: enter frame %s: %w", frame.URL, err)
		}
	}

	res, err := target.Context(ctx).Eval(walkScript, map[string]any{
		"initialIndex":      initialIndex,
		"viewportExpansion": s.cfg.ViewportExpansion,
	})
	if err != nil {
		return nil, fmt.Errorf("rodscan: walk %s: %w", frame.URL, err)
	}

	out, err := decodeWalkResult([]byte(res.Value.Str()))
	if err != nil {
		return nil, fmt.Errorf("rodscan: %s: %w", frame.URL, err)
	}
	s.logger.Debug("rodscan: frame walked",
		"url", frame.URL, "nodes", len(out.Map), "indexed", out.IndexedCount())
	return out, nil
}

// findFrameElement locates the iframe element hosting the given frame,
// matching by src, then name, then id.
func (s *Scanner) findFrameElement(ctx context.Context, page *rod.Page, frame scan.Frame) (*rod.Element, error) {
	selectors := []string{}
	if frame.URL != "" {
		selectors = append(selectors, fmt.Sprintf(`iframe[src=%q], frame[src=%q]`, frame.URL, frame.URL))
	}
	if frame.Name != "" {
		selectors = append(selectors, fmt.Sprintf(`iframe[name=%q], frame[name=%q]`, frame.Name, frame.Name))
	}
	if frame.FrameID != "" {
		selectors = append(selectors, fmt.Sprintf(`iframe#%s, frame#%s`, frame.FrameID, frame.FrameID))
	}
	for _, sel := range selectors {
		el, err := page.Context(ctx).Element(sel)
		if err == nil && el != nil {
			return el, nil
		}
	}
	return nil, fmt.Errorf("rodscan: frame element not found: url=%q name=%q id=%q",
		frame.URL, frame.Name, frame.FrameID)
}

// decodeWalkResult parses the walker's JSON payload and checks its
// basic shape.
func decodeWalkResult(data []byte) (*scan.Result, error) {
	var out scan.Result
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, fmt.Errorf("decode walk result: %w", err)
	}
	if out.RootID == "" {
		return nil, fmt.Errorf("walk result missing root id")
	}
	if _, ok := out.Map[out.RootID]; !ok {
		return nil, fmt.Errorf("walk result root %q not in map", out.RootID)
	}
	return &out, nil
}
