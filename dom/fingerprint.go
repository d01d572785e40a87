package dom

import (
	"crypto/sha256"
	"fmt"
	"hash/fnv"
	"sort"
	"strings"
)

// Fingerprint is the content-derived identity of an element: three
// independent hashes over its structural position, its filtered
// attributes, and its frame-relative xpath. An element in a later scan is
// "the same" as an earlier one only when all three match. The xpath hash
// is the weakest of the three — sibling reordering shifts xpath indexes
// even when the element itself persists — so it is never used alone.
//
// Hashes are FNV-64a rendered as 16-char lowercase hex: deterministic
// across processes, scan order, and highlight index assignment.
type Fingerprint struct {
	BranchPathHash string `json:"branch_path_hash"`
	AttributesHash string `json:"attributes_hash"`
	XPathHash      string `json:"xpath_hash"`
}

// volatileAttr reports whether an attribute key is excluded from
// identity hashing. The filter is fixed: presentation state (style,
// tabindex), inline event handlers (on*), and the scanner's own marker
// attributes (data-domatlas-*) all change without the element changing.
func volatileAttr(key string) bool {
	switch key {
	case "style", "tabindex":
		return true
	}
	return strings.HasPrefix(key, "on") || strings.HasPrefix(key, "data-domatlas-")
}

// ComputeFingerprint returns e's identity fingerprint, computing and
// caching it on first call. Content is immutable post-build, so the
// cached value is never recomputed.
func ComputeFingerprint(e *ElementNode) Fingerprint {
	if e.fp != nil {
		return *e.fp
	}

	fp := Fingerprint{
		BranchPathHash: fnvHex(strings.Join(e.BranchPath(), "/")),
		AttributesHash: fnvHex(filteredAttrString(e.Attributes)),
		XPathHash:      fnvHex(e.XPath),
	}
	e.fp = &fp
	return fp
}

// filteredAttrString flattens the non-volatile attributes into a
// deterministic string: keys sorted, joined with unit separators so that
// source map ordering never affects the hash.
func filteredAttrString(attrs map[string]string) string {
	keys := make([]string, 0, len(attrs))
	for k := range attrs {
		if !volatileAttr(k) {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)

	var b strings.Builder
	for i, k := range keys {
		if i > 0 {
			b.WriteByte(0x1f)
		}
		b.WriteString(k)
		b.WriteByte(0x1e)
		b.WriteString(attrs[k])
	}
	return b.String()
}

func fnvHex(s string) string {
	h := fnv.New64a()
	h.Write([]byte(s))
	return fmt.Sprintf("%016x", h.Sum64())
}

// StructureHash returns the whole-page signature: SHA-256 hex over the
// pre-order concatenation of every element's fingerprint triple. Any
// structural or attribute change anywhere in the tree changes it.
func StructureHash(root *ElementNode) string {
	h := sha256.New()
	root.WalkElements(func(el *ElementNode) bool {
		fp := ComputeFingerprint(el)
		h.Write([]byte(fp.BranchPathHash))
		h.Write([]byte(fp.AttributesHash))
		h.Write([]byte(fp.XPathHash))
		return true
	})
	return fmt.Sprintf("%x", h.Sum(nil))
}

// FingerprintSet collects the fingerprints of every element in the tree.
func FingerprintSet(root *ElementNode) map[Fingerprint]struct{} {
	set := make(map[Fingerprint]struct{})
	root.WalkElements(func(el *ElementNode) bool {
		set[ComputeFingerprint(el)] = struct{}{}
		return true
	})
	return set
}

// MarkNew sets the IsNew tri-state on every element of the tree by
// comparing against the prior scan's fingerprint set. A nil prev leaves
// every IsNew nil: no comparison happened.
func MarkNew(root *ElementNode, prev map[Fingerprint]struct{}) {
	if prev == nil {
		return
	}
	root.WalkElements(func(el *ElementNode) bool {
		_, known := prev[ComputeFingerprint(el)]
		isNew := !known
		el.IsNew = &isNew
		return true
	})
}
