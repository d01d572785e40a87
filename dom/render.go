package dom

import (
	"fmt"
	"sort"
	"strings"
)

// renderedAttrs are the attributes worth showing an agent, in output order.
var renderedAttrs = []string{
	"id", "name", "type", "role", "aria-label", "placeholder",
	"title", "alt", "value", "href",
}

// RenderInteractive formats the tree as text keyed by highlight index,
// one line per interactive element plus bare lines for visible text that
// belongs to no interactive element. Elements marked new since the prior
// scan render as *[idx]* instead of [idx].
func RenderInteractive(root *ElementNode) string {
	var lines []string
	var walk func(n Node)
	walk = func(n Node) {
		switch node := n.(type) {
		case *ElementNode:
			if node.HighlightIndex != nil {
				lines = append(lines, renderElement(node))
			}
			for _, child := range node.Children {
				walk(child)
			}
		case *TextNode:
			if node.IsVisible && !hasIndexedAncestor(node.Parent) {
				if t := strings.TrimSpace(node.Text); t != "" {
					lines = append(lines, t)
				}
			}
		}
	}
	walk(root)
	return strings.Join(lines, "\n")
}

func renderElement(e *ElementNode) string {
	marker := fmt.Sprintf("[%d]", *e.HighlightIndex)
	if e.IsNew != nil && *e.IsNew {
		marker = fmt.Sprintf("*[%d]*", *e.HighlightIndex)
	}

	var attrs []string
	for _, k := range renderedAttrs {
		if v, ok := e.Attributes[k]; ok && v != "" {
			attrs = append(attrs, fmt.Sprintf("%s=%q", k, v))
		}
	}

	open := e.TagName
	if len(attrs) > 0 {
		open += " " + strings.Join(attrs, " ")
	}
	return fmt.Sprintf("%s<%s>%s</%s>", marker, open, e.VisibleText(), e.TagName)
}

func hasIndexedAncestor(e *ElementNode) bool {
	for cur := e; cur != nil; cur = cur.Parent {
		if cur.HighlightIndex != nil {
			return true
		}
	}
	return false
}

// Indexes returns the sorted highlight indexes of a SelectorMap. Handy
// for logging and tests.
func (m SelectorMap) Indexes() []int {
	idx := make([]int, 0, len(m))
	for i := range m {
		idx = append(idx, i)
	}
	sort.Ints(idx)
	return idx
}
