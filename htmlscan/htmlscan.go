// Package htmlscan implements a Scanner over static HTML. It fetches a
// frame's document over HTTP, parses it, and flattens the body into the
// raw node map the aggregator expects. Layout-dependent signals
// (viewport membership, coordinates, topmost-element checks) degrade to
// visibility heuristics since no rendering happens.
package htmlscan

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"golang.org/x/net/html"

	"github.com/hazyhaar/domatlas/scan"
)

// FetchFunc retrieves the document for a URL. The caller closes the
// returned reader.
type FetchFunc func(ctx context.Context, url string) (io.ReadCloser, error)

// Config controls the static scanner.
type Config struct {
	// HTTPTimeout bounds the default fetcher. Ignored when Fetch is set.
	HTTPTimeout time.Duration `yaml:"http_timeout"`
	// UserAgent is sent by the default fetcher.
	UserAgent string `yaml:"user_agent"`
	// Fetch replaces the HTTP fetcher entirely.
	Fetch FetchFunc `yaml:"-"`
}

func (c *Config) defaults() {
	if c.HTTPTimeout <= 0 {
		c.HTTPTimeout = 15 * time.Second
	}
	if c.UserAgent == "" {
		c.UserAgent = "Mozilla/5.0 (X11; Linux x86_64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/126.0.0.0 Safari/537.36"
	}
}

// Scanner walks static HTML documents.
type Scanner struct {
	cfg    Config
	fetch  FetchFunc
	logger *slog.Logger
}

// New builds a static Scanner. A nil logger falls back to slog.Default.
func New(cfg Config, logger *slog.Logger) *Scanner {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scanner{cfg: cfg, logger: logger}
	if cfg.Fetch != nil {
		s.fetch = cfg.Fetch
	} else {
		client := &http.Client{Timeout: cfg.HTTPTimeout}
		s.fetch = func(ctx context.Context, url string) (io.ReadCloser, error) {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
			if err != nil {
				return nil, err
			}
			req.Header.Set("User-Agent", cfg.UserAgent)
			resp, err := client.Do(req)
			if err != nil {
				return nil, err
			}
			if resp.StatusCode != http.StatusOK {
				resp.Body.Close()
				return nil, fmt.Errorf("status %s", resp.Status)
			}
			return resp.Body, nil
		}
	}
	return s
}

// Scan fetches and flattens one frame. Interactive visible elements are
// numbered densely from initialIndex.
func (s *Scanner) Scan(ctx context.Context, frame scan.Frame, initialIndex int) (*scan.Result, error) {
	start := time.Now()

	body, err := s.fetch(ctx, frame.URL)
	if err != nil {
		return nil, fmt.Errorf("htmlscan: fetch %s: %w", frame.URL, err)
	}
	defer body.Close()

	doc, err := html.Parse(body)
	if err != nil {
		return nil, fmt.Errorf("htmlscan: parse %s: %w", frame.URL, err)
	}

	root := findBody(doc)
	if root == nil {
		return nil, fmt.Errorf("htmlscan: %s: no body element", frame.URL)
	}

	w := &walker{out: make(map[string]scan.RawNode), nextIndex: initialIndex}
	rootID := w.walk(root, "/body", true)

	res := &scan.Result{
		Map:    w.out,
		RootID: rootID,
		PerfMetrics: map[string]any{
			"parseMs":   time.Since(start).Milliseconds(),
			"nodeCount": len(w.out),
		},
	}
	s.logger.Debug("htmlscan: frame scanned",
		"url", frame.URL, "nodes", len(w.out), "indexed", res.IndexedCount())
	return res, nil
}

// skippedTags never appear in the flat map.
var skippedTags = map[string]bool{
	"script": true, "style": true, "noscript": true, "template": true,
	"head": true, "meta": true, "link": true, "title": true, "base": true,
}

// interactiveTags are interactive regardless of attributes.
var interactiveTags = map[string]bool{
	"button": true, "select": true, "textarea": true, "summary": true,
}

var interactiveRoles = map[string]bool{
	"button": true, "link": true, "checkbox": true, "radio": true,
	"menuitem": true, "tab": true, "combobox": true, "textbox": true,
	"switch": true, "option": true, "searchbox": true, "slider": true,
}

type walker struct {
	out       map[string]scan.RawNode
	counter   int
	nextIndex int
}

func (w *walker) id() string {
	id := fmt.Sprintf("n-%d", w.counter)
	w.counter++
	return id
}

// walk flattens the subtree rooted at n into the output map and returns
// the node id assigned to n. xpath is n's own path.
func (w *walker) walk(n *html.Node, xpath string, parentVisible bool) string {
	id := w.id()
	attrs := attrMap(n)
	visible := parentVisible && visibleElement(n, attrs)

	node := scan.RawNode{
		Type:         scan.NodeElement,
		TagName:      strings.ToLower(n.Data),
		XPath:        xpath,
		Attributes:   attrs,
		IsVisible:    visible,
		IsInViewport: visible,
		IsTopElement: visible,
	}
	if visible && interactiveElement(n, attrs) {
		idx := w.nextIndex
		w.nextIndex++
		node.IsInteractive = true
		node.HighlightIndex = &idx
	}

	// Same-tag sibling positions, 1-based, for child xpath segments.
	tagSeen := make(map[string]int)
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		switch c.Type {
		case html.TextNode:
			text := strings.TrimSpace(c.Data)
			if text == "" {
				continue
			}
			tid := w.id()
			w.out[tid] = scan.RawNode{Type: scan.NodeText, Text: text, IsVisible: visible}
			node.Children = append(node.Children, tid)
		case html.ElementNode:
			tag := strings.ToLower(c.Data)
			if skippedTags[tag] {
				continue
			}
			tagSeen[tag]++
			childPath := fmt.Sprintf("%s/%s[%d]", xpath, tag, tagSeen[tag])
			node.Children = append(node.Children, w.walk(c, childPath, visible))
		}
	}

	w.out[id] = node
	return id
}

func attrMap(n *html.Node) map[string]string {
	if len(n.Attr) == 0 {
		return nil
	}
	m := make(map[string]string, len(n.Attr))
	for _, a := range n.Attr {
		m[strings.ToLower(a.Key)] = a.Val
	}
	return m
}

func visibleElement(n *html.Node, attrs map[string]string) bool {
	if _, hidden := attrs["hidden"]; hidden {
		return false
	}
	if attrs["aria-hidden"] == "true" {
		return false
	}
	if strings.EqualFold(n.Data, "input") && strings.EqualFold(attrs["type"], "hidden") {
		return false
	}
	style := strings.ReplaceAll(attrs["style"], " ", "")
	if strings.Contains(style, "display:none") || strings.Contains(style, "visibility:hidden") {
		return false
	}
	return true
}

func interactiveElement(n *html.Node, attrs map[string]string) bool {
	tag := strings.ToLower(n.Data)
	if interactiveTags[tag] {
		return true
	}
	if tag == "a" || tag == "area" {
		_, ok := attrs["href"]
		return ok
	}
	if tag == "input" {
		return !strings.EqualFold(attrs["type"], "hidden")
	}
	if interactiveRoles[strings.ToLower(attrs["role"])] {
		return true
	}
	if _, ok := attrs["onclick"]; ok {
		return true
	}
	if attrs["contenteditable"] == "true" || attrs["contenteditable"] == "" && hasAttr(n, "contenteditable") {
		return true
	}
	if v, ok := attrs["tabindex"]; ok {
		if idx, err := strconv.Atoi(v); err == nil && idx >= 0 {
			return true
		}
	}
	return false
}

func hasAttr(n *html.Node, key string) bool {
	for _, a := range n.Attr {
		if strings.EqualFold(a.Key, key) {
			return true
		}
	}
	return false
}

// findBody locates the body element of a parsed document.
func findBody(n *html.Node) *html.Node {
	if n.Type == html.ElementNode && strings.EqualFold(n.Data, "body") {
		return n
	}
	for c := n.FirstChild; c != nil; c = c.NextSibling {
		if found := findBody(c); found != nil {
			return found
		}
	}
	return nil
}
