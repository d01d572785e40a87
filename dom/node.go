// Package dom reconstructs a nested element/text tree from the flat
// per-frame node maps produced by a scanner, stitches subframe trees into
// their owning iframe elements, and computes content-derived identity
// fingerprints so elements can be recognised across scans.
//
// dom represents, it does not act. The SelectorMap it produces is the
// addressable surface an agent uses to target actions; resolving an index
// back to a live element is the controller's job.
package dom

import (
	"strings"

	"github.com/hazyhaar/domatlas/scan"
)

// Node is one node of the reconstructed tree: either a *TextNode or an
// *ElementNode. The variant set is closed; consumers switch exhaustively.
type Node interface {
	isNode()
}

// TextNode is a text run inside an element.
type TextNode struct {
	Text      string
	IsVisible bool

	// Parent is a non-owning back-reference to the owning element.
	Parent *ElementNode
}

func (*TextNode) isNode() {}

// ElementNode is one element of the reconstructed tree. Content fields
// are immutable after the build pass; only IsNew and the memoized
// fingerprint are set later.
type ElementNode struct {
	TagName    string
	XPath      string // frame-relative, as reported by the scanner
	Attributes map[string]string
	Children   []Node

	IsVisible     bool
	IsInteractive bool
	IsTopElement  bool
	IsInViewport  bool
	HasShadowRoot bool

	// HighlightIndex is the dense scan-local index assigned to
	// interactive visible elements; nil for everything else. It is the
	// action-target key for one scan and is never part of identity.
	HighlightIndex *int

	// ViewportCoords/PageCoords are the element's coordinates relative
	// to the viewport and to the page origin. Nil when the scanner had
	// no layout information.
	ViewportCoords *scan.Rect
	PageCoords     *scan.Rect

	// IsNew is set only when the tree was compared against a prior
	// scan: true for elements absent from the prior scan, false for
	// persisting ones, nil when no comparison happened.
	IsNew *bool

	// Parent is a non-owning back-reference; nil at the tree root.
	Parent *ElementNode

	fp *Fingerprint // memoized identity fingerprint
}

func (*ElementNode) isNode() {}

// SelectorMap maps highlightIndex → element for one built tree. Every
// element carrying a non-nil HighlightIndex appears exactly once.
type SelectorMap map[int]*ElementNode

// WalkElements visits every element of the subtree rooted at e in
// pre-order. Returning false from fn stops descent into that element's
// children (siblings are still visited).
func (e *ElementNode) WalkElements(fn func(*ElementNode) bool) {
	if e == nil {
		return
	}
	if !fn(e) {
		return
	}
	for _, child := range e.Children {
		if el, ok := child.(*ElementNode); ok {
			el.WalkElements(fn)
		}
	}
}

// BranchPath returns the tag-name chain from the tree root down to e,
// root first.
func (e *ElementNode) BranchPath() []string {
	var rev []string
	for cur := e; cur != nil; cur = cur.Parent {
		rev = append(rev, cur.TagName)
	}
	path := make([]string, len(rev))
	for i, tag := range rev {
		path[len(rev)-1-i] = tag
	}
	return path
}

// VisibleText returns the concatenated visible text of e's direct and
// nested text runs, stopping at nested elements that carry their own
// highlight index (their text belongs to them).
func (e *ElementNode) VisibleText() string {
	var parts []string
	var collect func(el *ElementNode)
	collect = func(el *ElementNode) {
		for _, child := range el.Children {
			switch n := child.(type) {
			case *TextNode:
				if n.IsVisible {
					if t := strings.TrimSpace(n.Text); t != "" {
						parts = append(parts, t)
					}
				}
			case *ElementNode:
				if n.HighlightIndex == nil {
					collect(n)
				}
			}
		}
	}
	collect(e)
	return strings.Join(parts, " ")
}
