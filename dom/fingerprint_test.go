package dom

import "testing"

func element(tag, xpath string, attrs map[string]string, parent *ElementNode) *ElementNode {
	el := &ElementNode{TagName: tag, XPath: xpath, Attributes: attrs, Parent: parent}
	if parent != nil {
		parent.Children = append(parent.Children, el)
	}
	return el
}

func TestFingerprintDeterministic(t *testing.T) {
	mk := func() *ElementNode {
		body := element("body", "/body", nil, nil)
		div := element("div", "/body/div[1]", map[string]string{"class": "nav"}, body)
		return element("a", "/body/div[1]/a[1]", map[string]string{"href": "/x", "id": "link"}, div)
	}

	fp1 := ComputeFingerprint(mk())
	fp2 := ComputeFingerprint(mk())
	if fp1 != fp2 {
		t.Errorf("identical trees produced different fingerprints:\n%+v\n%+v", fp1, fp2)
	}
	if len(fp1.BranchPathHash) != 16 || len(fp1.AttributesHash) != 16 || len(fp1.XPathHash) != 16 {
		t.Errorf("hash lengths = %d/%d/%d, want 16 hex chars each",
			len(fp1.BranchPathHash), len(fp1.AttributesHash), len(fp1.XPathHash))
	}
}

func TestFingerprintIgnoresHighlightIndex(t *testing.T) {
	body := element("body", "/body", nil, nil)
	a := element("a", "/body/a[1]", map[string]string{"href": "/x"}, body)
	fpBefore := ComputeFingerprint(a)

	body2 := element("body", "/body", nil, nil)
	b := element("a", "/body/a[1]", map[string]string{"href": "/x"}, body2)
	idx := 7
	b.HighlightIndex = &idx
	if fpBefore != ComputeFingerprint(b) {
		t.Error("highlight index leaked into identity")
	}
}

func TestFingerprintFiltersVolatileAttributes(t *testing.T) {
	body := element("body", "/body", nil, nil)
	plain := ComputeFingerprint(element("a", "/body/a[1]",
		map[string]string{"href": "/x"}, body))

	body2 := element("body", "/body", nil, nil)
	noisy := ComputeFingerprint(element("a", "/body/a[1]", map[string]string{
		"href":               "/x",
		"style":              "color: red",
		"tabindex":           "3",
		"onclick":            "track()",
		"data-domatlas-mark": "1",
	}, body2))

	if plain.AttributesHash != noisy.AttributesHash {
		t.Error("volatile attributes changed the attributes hash")
	}
}

func TestFingerprintDistinguishesPositionAndContent(t *testing.T) {
	body := element("body", "/body", nil, nil)
	a1 := element("a", "/body/a[1]", map[string]string{"href": "/x"}, body)
	a2 := element("a", "/body/a[2]", map[string]string{"href": "/x"}, body)
	if ComputeFingerprint(a1).XPathHash == ComputeFingerprint(a2).XPathHash {
		t.Error("different xpaths share an xpath hash")
	}

	body2 := element("body", "/body", nil, nil)
	b := element("a", "/body/a[1]", map[string]string{"href": "/y"}, body2)
	if ComputeFingerprint(a1).AttributesHash == ComputeFingerprint(b).AttributesHash {
		t.Error("different hrefs share an attributes hash")
	}

	body3 := element("body", "/body", nil, nil)
	form := element("form", "/body/form[1]", nil, body3)
	c := element("a", "/body/a[1]", map[string]string{"href": "/x"}, form)
	if ComputeFingerprint(a1).BranchPathHash == ComputeFingerprint(c).BranchPathHash {
		t.Error("different ancestor chains share a branch path hash")
	}
}

func TestStructureHashChangesWithStructure(t *testing.T) {
	mk := func(extra bool) *ElementNode {
		body := element("body", "/body", nil, nil)
		element("div", "/body/div[1]", map[string]string{"id": "main"}, body)
		if extra {
			element("div", "/body/div[2]", nil, body)
		}
		return body
	}

	if StructureHash(mk(false)) != StructureHash(mk(false)) {
		t.Error("structure hash not deterministic")
	}
	if StructureHash(mk(false)) == StructureHash(mk(true)) {
		t.Error("added element did not change the structure hash")
	}
	if len(StructureHash(mk(false))) != 64 {
		t.Errorf("structure hash length = %d, want 64 hex chars", len(StructureHash(mk(false))))
	}
}

func TestMarkNew(t *testing.T) {
	mk := func(withLink bool) *ElementNode {
		body := element("body", "/body", nil, nil)
		element("button", "/body/button[1]", map[string]string{"id": "go"}, body)
		if withLink {
			element("a", "/body/a[1]", map[string]string{"href": "/n"}, body)
		}
		return body
	}

	prevRoot := mk(false)
	prev := FingerprintSet(prevRoot)

	next := mk(true)
	MarkNew(next, prev)

	btn := next.Children[0].(*ElementNode)
	link := next.Children[1].(*ElementNode)
	if btn.IsNew == nil || *btn.IsNew {
		t.Errorf("persisting button IsNew = %v, want false", btn.IsNew)
	}
	if link.IsNew == nil || !*link.IsNew {
		t.Errorf("added link IsNew = %v, want true", link.IsNew)
	}

	// Without a prior scan there is nothing to compare against.
	fresh := mk(true)
	MarkNew(fresh, nil)
	if fresh.Children[0].(*ElementNode).IsNew != nil {
		t.Error("IsNew set without a prior fingerprint set")
	}
}
