// Package session ties the pieces together for one page under
// observation: frame aggregation, tree building, new-element marking,
// the built-tree cache, and the snapshot history. It also exposes the
// HTTP and MCP surfaces.
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/hazyhaar/domatlas/dom"
	"github.com/hazyhaar/domatlas/history"
	"github.com/hazyhaar/domatlas/scan"
)

// FrameLister enumerates the frame hierarchy of the current page, main
// frame first.
type FrameLister interface {
	Frames(ctx context.Context) ([]scan.Frame, error)
}

// StaticFrames is a FrameLister for sources without subframes.
type StaticFrames struct {
	URL string
}

func (s StaticFrames) Frames(ctx context.Context) ([]scan.Frame, error) {
	return []scan.Frame{{URL: s.URL, Visible: true}}, nil
}

// titler is implemented by scanners that can read the document title.
type titler interface {
	Title(ctx context.Context) (string, error)
}

// Session drives scans of one page and keeps their derived state.
type Session struct {
	cfg     Config
	scanner scan.Scanner
	frames  FrameLister
	agg     *scan.Aggregator
	cache   *dom.Cache
	hist    *history.Processor
	logger  *slog.Logger

	mu      sync.Mutex
	prevFPs map[dom.Fingerprint]struct{}
}

// New wires a Session. applier may be nil; rollback then only verifies
// and repoints history.
func New(cfg Config, scanner scan.Scanner, frames FrameLister, applier history.Applier, logger *slog.Logger) *Session {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	s := &Session{
		cfg:     cfg,
		scanner: scanner,
		frames:  frames,
		agg:     scan.NewAggregator(scanner, logger),
		cache:   dom.NewCache(cfg.CacheTTL),
		logger:  logger,
	}
	s.hist = history.NewProcessor(cfg.History, s.historySource, applier, logger)
	return s
}

// History exposes the snapshot processor.
func (s *Session) History() *history.Processor { return s.hist }

// ScanPage returns the current built tree, reusing the cache when valid.
// A fresh build marks elements new relative to the previous build.
func (s *Session) ScanPage(ctx context.Context) (*dom.BuiltTree, error) {
	if t := s.cache.Get(); t != nil {
		return t, nil
	}

	root, selectors, err := s.build(ctx)
	if err != nil {
		return nil, err
	}

	s.mu.Lock()
	dom.MarkNew(root, s.prevFPs)
	s.prevFPs = dom.FingerprintSet(root)
	s.mu.Unlock()

	tree := dom.NewBuiltTree(root, selectors)
	s.cache.Put(tree)
	return tree, nil
}

// Render returns the indexed text rendering of the current page.
func (s *Session) Render(ctx context.Context) (string, error) {
	tree, err := s.ScanPage(ctx)
	if err != nil {
		return "", err
	}
	return dom.RenderInteractive(tree.Root), nil
}

// Element resolves a highlight index against the current built tree.
func (s *Session) Element(ctx context.Context, index int) (*dom.ElementNode, error) {
	tree, err := s.ScanPage(ctx)
	if err != nil {
		return nil, err
	}
	el, ok := tree.Selectors[index]
	if !ok {
		return nil, fmt.Errorf("session: no element at index %d", index)
	}
	return el, nil
}

// Invalidate drops the cached tree; the next ScanPage rebuilds.
func (s *Session) Invalidate() {
	s.cache.Invalidate()
}

// build runs frame collection and tree construction without touching
// the cache or the new-element state.
func (s *Session) build(ctx context.Context) (*dom.ElementNode, dom.SelectorMap, error) {
	frames, err := s.frames.Frames(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("session: list frames: %w", err)
	}
	results, err := s.agg.Collect(ctx, frames)
	if err != nil {
		return nil, nil, err
	}
	return dom.BuildTree(results, s.logger)
}

// historySource feeds the snapshot processor. It bypasses the cache so
// snapshots always see the live document.
func (s *Session) historySource(ctx context.Context) (*dom.ElementNode, history.PageInfo, error) {
	root, _, err := s.build(ctx)
	if err != nil {
		return nil, history.PageInfo{}, err
	}

	info := history.PageInfo{}
	if frames, err := s.frames.Frames(ctx); err == nil && len(frames) > 0 {
		info.URL = frames[0].URL
	}
	if t, ok := s.scanner.(titler); ok {
		if title, err := t.Title(ctx); err == nil {
			info.Title = title
		}
	}
	return root, info, nil
}
