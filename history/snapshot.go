// Package history stores a branching tree of document snapshots, records
// the change deltas between consecutive snapshots, and supports
// bounded-memory retention and verified rollback to a prior observed
// state.
package history

import (
	"sort"
	"strings"
	"time"

	"github.com/hazyhaar/domatlas/dom"
)

// ChangeKind is the type of change recorded between two snapshots.
type ChangeKind string

const (
	ChangeNodeAdded   ChangeKind = "node_added"
	ChangeNodeRemoved ChangeKind = "node_removed"
	ChangeAttribute   ChangeKind = "attribute_changed"
	ChangeText        ChangeKind = "text_changed"
	ChangeStyle       ChangeKind = "style_changed"
)

// ChangeRecord is a single observed change. Selector is the target's
// frame-relative xpath.
type ChangeRecord struct {
	Kind      ChangeKind `json:"kind"`
	Selector  string     `json:"selector"`
	OldValue  string     `json:"old_value,omitempty"`
	NewValue  string     `json:"new_value,omitempty"`
	Timestamp int64      `json:"timestamp"` // epoch milliseconds
}

// Invert returns the change that undoes c.
func (c ChangeRecord) Invert() ChangeRecord {
	inv := ChangeRecord{
		Selector:  c.Selector,
		OldValue:  c.NewValue,
		NewValue:  c.OldValue,
		Timestamp: c.Timestamp,
	}
	switch c.Kind {
	case ChangeNodeAdded:
		inv.Kind = ChangeNodeRemoved
	case ChangeNodeRemoved:
		inv.Kind = ChangeNodeAdded
	default:
		inv.Kind = c.Kind
	}
	return inv
}

// KeyElement is the bounded summary of one significant element kept
// inside a Snapshot: interactive elements and structural landmarks.
type KeyElement struct {
	Tag         string            `json:"tag"`
	XPath       string            `json:"xpath"`
	Attributes  map[string]string `json:"attributes,omitempty"`
	Text        string            `json:"text,omitempty"`
	Visible     bool              `json:"visible"`
	Interactive bool              `json:"interactive"`
	Fingerprint dom.Fingerprint   `json:"fingerprint"`
}

// Snapshot is an immutable record of one observed document state.
type Snapshot struct {
	ID            string       `json:"id"`
	Timestamp     int64        `json:"timestamp"` // epoch milliseconds
	URL           string       `json:"url"`
	Title         string       `json:"title,omitempty"`
	Description   string       `json:"description,omitempty"`
	StructureHash string       `json:"structure_hash"`
	KeyElements   []KeyElement `json:"key_elements"`
}

// maxKeyElements bounds the per-snapshot summary list.
const maxKeyElements = 256

// landmarkTags are non-interactive tags still considered significant.
var landmarkTags = map[string]bool{
	"main": true, "nav": true, "header": true, "footer": true,
	"article": true, "aside": true, "section": true, "form": true,
	"h1": true, "h2": true,
}

// buildSnapshot captures the current tree into an immutable Snapshot.
func buildSnapshot(id string, root *dom.ElementNode, url, title, description string) *Snapshot {
	snap := &Snapshot{
		ID:            id,
		Timestamp:     time.Now().UnixMilli(),
		URL:           url,
		Title:         title,
		Description:   description,
		StructureHash: dom.StructureHash(root),
	}

	root.WalkElements(func(el *dom.ElementNode) bool {
		if len(snap.KeyElements) >= maxKeyElements {
			return false
		}
		if !el.IsInteractive && !landmarkTags[el.TagName] {
			return true
		}
		attrs := make(map[string]string, len(el.Attributes))
		for k, v := range el.Attributes {
			attrs[k] = v
		}
		snap.KeyElements = append(snap.KeyElements, KeyElement{
			Tag:         el.TagName,
			XPath:       el.XPath,
			Attributes:  attrs,
			Text:        el.VisibleText(),
			Visible:     el.IsVisible,
			Interactive: el.IsInteractive,
			Fingerprint: dom.ComputeFingerprint(el),
		})
		return true
	})

	return snap
}

// diffSnapshots computes the ChangeRecord list for the transition
// prev → next over their key element summaries. Elements are matched by
// structural position (branch path hash + xpath hash); a matched pair
// with differing attributes or text yields a change record, unmatched
// elements yield added/removed records.
func diffSnapshots(prev, next *Snapshot, observeStyle bool, ignore []string) []ChangeRecord {
	if prev == nil {
		return nil
	}

	now := time.Now().UnixMilli()
	var changes []ChangeRecord

	type posKey struct{ branch, xpath string }
	prevByPos := make(map[posKey]KeyElement, len(prev.KeyElements))
	for _, ke := range prev.KeyElements {
		prevByPos[posKey{ke.Fingerprint.BranchPathHash, ke.Fingerprint.XPathHash}] = ke
	}

	matchedPrev := make(map[posKey]bool, len(prev.KeyElements))
	for _, ke := range next.KeyElements {
		key := posKey{ke.Fingerprint.BranchPathHash, ke.Fingerprint.XPathHash}
		old, ok := prevByPos[key]
		if !ok {
			changes = append(changes, ChangeRecord{
				Kind: ChangeNodeAdded, Selector: ke.XPath,
				NewValue: ke.Tag, Timestamp: now,
			})
			continue
		}
		matchedPrev[key] = true

		if old.Fingerprint.AttributesHash != ke.Fingerprint.AttributesHash {
			changes = append(changes, ChangeRecord{
				Kind: ChangeAttribute, Selector: ke.XPath,
				OldValue:  flattenAttrs(old.Attributes),
				NewValue:  flattenAttrs(ke.Attributes),
				Timestamp: now,
			})
		} else if observeStyle && old.Attributes["style"] != ke.Attributes["style"] {
			changes = append(changes, ChangeRecord{
				Kind: ChangeStyle, Selector: ke.XPath,
				OldValue:  old.Attributes["style"],
				NewValue:  ke.Attributes["style"],
				Timestamp: now,
			})
		}
		if old.Text != ke.Text {
			changes = append(changes, ChangeRecord{
				Kind: ChangeText, Selector: ke.XPath,
				OldValue: old.Text, NewValue: ke.Text, Timestamp: now,
			})
		}
	}

	for _, ke := range prev.KeyElements {
		key := posKey{ke.Fingerprint.BranchPathHash, ke.Fingerprint.XPathHash}
		if !matchedPrev[key] {
			changes = append(changes, ChangeRecord{
				Kind: ChangeNodeRemoved, Selector: ke.XPath,
				OldValue: ke.Tag, Timestamp: now,
			})
		}
	}

	if len(ignore) > 0 {
		kept := changes[:0]
		for _, c := range changes {
			if !ignoredSelector(c.Selector, ignore) {
				kept = append(kept, c)
			}
		}
		changes = kept
	}

	return changes
}

// ignoredSelector reports whether an xpath matches any configured ignore
// selector. Matching is plain substring over the xpath.
func ignoredSelector(xpath string, ignore []string) bool {
	for _, ig := range ignore {
		if ig != "" && strings.Contains(xpath, ig) {
			return true
		}
	}
	return false
}

func flattenAttrs(attrs map[string]string) string {
	if len(attrs) == 0 {
		return ""
	}
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.WriteString(attrs[k])
	}
	return b.String()
}
