// Package scan defines the contract between the in-page walker (the
// Scanner) and the rest of domatlas, and implements the frame aggregator
// that collects one flat node map per frame with globally unique
// highlight indexes.
//
// The Scanner itself is an external collaborator: it walks a live
// document and returns a flat map of node id → raw node data, not yet
// linked into a tree. domatlas ships two adapters (rodscan for live
// Chrome, htmlscan for static HTML), but any implementation of the
// Scanner interface works.
package scan

import "context"

// NodeType discriminates RawNode entries.
type NodeType string

const (
	NodeText    NodeType = "TEXT_NODE"
	NodeElement NodeType = "ELEMENT_NODE"
)

// Rect is an element's coordinate set, in CSS pixels.
type Rect struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Width  float64 `json:"width"`
	Height float64 `json:"height"`
}

// Viewport describes the visible area of a frame at scan time.
type Viewport struct {
	Width   int `json:"width"`
	Height  int `json:"height"`
	ScrollX int `json:"scrollX"`
	ScrollY int `json:"scrollY"`
}

// RawNode is one entry of the flat map a Scanner returns. Immutable once
// returned. Text entries carry Text/IsVisible only; element entries carry
// the rest.
type RawNode struct {
	Type NodeType `json:"type"`

	// Text nodes.
	Text string `json:"text,omitempty"`

	// Element nodes.
	TagName        string            `json:"tagName,omitempty"`
	XPath          string            `json:"xpath,omitempty"`
	Attributes     map[string]string `json:"attributes,omitempty"`
	IsInteractive  bool              `json:"isInteractive,omitempty"`
	IsInViewport   bool              `json:"isInViewport,omitempty"`
	IsTopElement   bool              `json:"isTopElement,omitempty"`
	ShadowRoot     bool              `json:"shadowRoot,omitempty"`
	HighlightIndex *int              `json:"highlightIndex,omitempty"`
	Children       []string          `json:"children,omitempty"`
	Viewport       *Rect             `json:"viewport,omitempty"`

	// Shared.
	IsVisible bool `json:"isVisible"`
}

// Result is the full output of one frame scan.
type Result struct {
	Map         map[string]RawNode `json:"map"`
	RootID      string             `json:"rootId"`
	Viewport    Viewport           `json:"viewport"`
	PerfMetrics map[string]any     `json:"perfMetrics,omitempty"`

	// EmbeddedFrames lists URLs of frames whose content the scanner
	// already walked inline (same-origin iframes pierced during the
	// walk). The aggregator uses this to avoid re-scanning them as
	// separate frames.
	EmbeddedFrames []string `json:"embeddedFrames,omitempty"`
}

// Frame identifies one frame in the hierarchy handed to the Aggregator.
// The main frame comes first; child frames follow in document order.
type Frame struct {
	URL     string `json:"url"`
	Name    string `json:"name,omitempty"`
	FrameID string `json:"frameId,omitempty"`
	Visible bool   `json:"visible"`
}

// Scanner walks one frame's live document and returns its flat map.
// initialIndex is the first highlight index the scanner may assign;
// implementations number interactive visible elements densely from it.
type Scanner interface {
	Scan(ctx context.Context, frame Frame, initialIndex int) (*Result, error)
}

// FrameScanResult pairs a frame with its scan output and the global
// index offset it was scanned at.
type FrameScanResult struct {
	Frame       Frame
	Result      *Result
	IndexOffset int
}

// IndexedCount returns the number of nodes in r carrying a highlight index.
func (r *Result) IndexedCount() int {
	n := 0
	for _, node := range r.Map {
		if node.HighlightIndex != nil {
			n++
		}
	}
	return n
}
