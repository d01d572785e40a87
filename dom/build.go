package dom

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/hazyhaar/domatlas/scan"
)

// ErrNoRoot is returned when the main frame's declared root id is absent
// from its flat map or is not an element.
var ErrNoRoot = errors.New("dom: main frame root not found")

// BuildTree converts the ordered frame scan results into a single nested
// tree. The first result is the main frame; every later result is an
// iframe subtree stitched into the host tree at its owning <iframe>
// element. Returns the main frame's root and the merged SelectorMap.
//
// Subframes whose owning iframe cannot be located (or whose iframe
// already has children) contribute nothing to the final tree or map;
// that is a logged warning, never an error.
func BuildTree(results []scan.FrameScanResult, logger *slog.Logger) (*ElementNode, SelectorMap, error) {
	if logger == nil {
		logger = slog.Default()
	}
	if len(results) == 0 {
		return nil, nil, ErrNoRoot
	}

	root, selectors, err := buildFrame(results[0], logger)
	if err != nil {
		return nil, nil, err
	}

	for _, fr := range results[1:] {
		subRoot, subSelectors, err := buildFrame(fr, logger)
		if err != nil {
			logger.Warn("dom: subframe build failed, discarding",
				"url", fr.Frame.URL, "error", err)
			continue
		}

		host := findIframeHost(root, fr.Frame)
		if host == nil {
			logger.Warn("dom: no matching iframe element, discarding subframe",
				"url", fr.Frame.URL, "nodes", len(fr.Result.Map))
			continue
		}
		if len(host.Children) > 0 {
			logger.Warn("dom: iframe element already has children, leaving unstitched",
				"url", fr.Frame.URL, "xpath", host.XPath)
			continue
		}

		host.Children = []Node{subRoot}
		subRoot.Parent = host
		for idx, el := range subSelectors {
			selectors[idx] = el
		}
	}

	return root, selectors, nil
}

// buildFrame constructs one frame's tree from its flat map: one Node per
// entry, parents linked to children in declared order, and the frame-local
// selector entries collected.
func buildFrame(fr scan.FrameScanResult, logger *slog.Logger) (*ElementNode, SelectorMap, error) {
	flat := fr.Result.Map
	nodes := make(map[string]Node, len(flat))

	for id, raw := range flat {
		switch raw.Type {
		case scan.NodeText:
			nodes[id] = &TextNode{Text: raw.Text, IsVisible: raw.IsVisible}
		case scan.NodeElement:
			nodes[id] = newElement(raw, fr.Result.Viewport)
		default:
			logger.Debug("dom: unknown node type, skipping",
				"id", id, "type", string(raw.Type))
		}
	}

	for id, raw := range flat {
		if raw.Type != scan.NodeElement {
			continue
		}
		parent := nodes[id].(*ElementNode)
		for _, childID := range raw.Children {
			child, ok := nodes[childID]
			if !ok {
				// Declared child absent from the map: a node the
				// scanner dropped mid-walk. Omitted, not an error.
				continue
			}
			switch n := child.(type) {
			case *TextNode:
				n.Parent = parent
			case *ElementNode:
				n.Parent = parent
			}
			parent.Children = append(parent.Children, child)
		}
	}

	rootNode, ok := nodes[fr.Result.RootID]
	if !ok {
		return nil, nil, fmt.Errorf("%w: id %q", ErrNoRoot, fr.Result.RootID)
	}
	root, ok := rootNode.(*ElementNode)
	if !ok {
		return nil, nil, fmt.Errorf("%w: id %q is a text node", ErrNoRoot, fr.Result.RootID)
	}

	selectors := make(SelectorMap)
	root.WalkElements(func(el *ElementNode) bool {
		if el.HighlightIndex != nil {
			selectors[*el.HighlightIndex] = el
		}
		return true
	})

	return root, selectors, nil
}

func newElement(raw scan.RawNode, vp scan.Viewport) *ElementNode {
	el := &ElementNode{
		TagName:        strings.ToLower(raw.TagName),
		XPath:          raw.XPath,
		Attributes:     raw.Attributes,
		IsVisible:      raw.IsVisible,
		IsInteractive:  raw.IsInteractive,
		IsTopElement:   raw.IsTopElement,
		IsInViewport:   raw.IsInViewport,
		HasShadowRoot:  raw.ShadowRoot,
		HighlightIndex: raw.HighlightIndex,
	}
	if el.Attributes == nil {
		el.Attributes = map[string]string{}
	}
	if raw.Viewport != nil {
		el.ViewportCoords = raw.Viewport
		el.PageCoords = &scan.Rect{
			X:      raw.Viewport.X + float64(vp.ScrollX),
			Y:      raw.Viewport.Y + float64(vp.ScrollY),
			Width:  raw.Viewport.Width,
			Height: raw.Viewport.Height,
		}
	}
	return el
}

// findIframeHost locates the iframe element owning the given frame
// anywhere in the already-built tree: tag must be iframe and src, name or
// id must match the frame's URL, name or frame id. First pre-order match
// wins; stitching never reorders existing siblings.
func findIframeHost(root *ElementNode, frame scan.Frame) *ElementNode {
	var found *ElementNode
	root.WalkElements(func(el *ElementNode) bool {
		if found != nil {
			return false
		}
		if el.TagName != "iframe" {
			return true
		}
		if src := el.Attributes["src"]; src != "" && frame.URL != "" {
			if src == frame.URL || stripFragment(src) == stripFragment(frame.URL) {
				found = el
				return false
			}
		}
		if name := el.Attributes["name"]; name != "" && name == frame.Name {
			found = el
			return false
		}
		if id := el.Attributes["id"]; id != "" && id == frame.FrameID {
			found = el
			return false
		}
		return true
	})
	return found
}

func stripFragment(u string) string {
	if i := strings.IndexByte(u, '#'); i >= 0 {
		return u[:i]
	}
	return u
}
