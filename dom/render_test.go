package dom

import (
	"strings"
	"testing"
)

func renderFixture() (*ElementNode, *ElementNode, *ElementNode) {
	body := element("body", "/body", nil, nil)

	heading := element("h1", "/body/h1[1]", nil, body)
	txt := &TextNode{Text: "Welcome", IsVisible: true, Parent: heading}
	heading.Children = append(heading.Children, txt)

	btn := element("button", "/body/button[1]", map[string]string{
		"id": "go", "class": "btn-primary", "aria-label": "Submit form",
	}, body)
	btn.IsVisible = true
	idx0 := 0
	btn.HighlightIndex = &idx0
	label := &TextNode{Text: "Submit", IsVisible: true, Parent: btn}
	btn.Children = append(btn.Children, label)

	link := element("a", "/body/a[1]", map[string]string{"href": "/about"}, body)
	link.IsVisible = true
	idx1 := 1
	link.HighlightIndex = &idx1
	ltext := &TextNode{Text: "About", IsVisible: true, Parent: link}
	link.Children = append(link.Children, ltext)

	return body, btn, link
}

func TestRenderInteractive(t *testing.T) {
	body, _, _ := renderFixture()
	out := RenderInteractive(body)
	lines := strings.Split(out, "\n")

	if len(lines) != 3 {
		t.Fatalf("lines = %d, want 3:\n%s", len(lines), out)
	}
	if lines[0] != "Welcome" {
		t.Errorf("line 0 = %q, want bare heading text", lines[0])
	}
	if lines[1] != `[0]<button id="go" aria-label="Submit form">Submit</button>` {
		t.Errorf("line 1 = %q", lines[1])
	}
	if lines[2] != `[1]<a href="/about">About</a>` {
		t.Errorf("line 2 = %q", lines[2])
	}
	if strings.Contains(out, "btn-primary") {
		t.Error("class attribute leaked into the rendering")
	}
}

func TestRenderMarksNewElements(t *testing.T) {
	body, btn, link := renderFixture()
	persisting := false
	fresh := true
	btn.IsNew = &persisting
	link.IsNew = &fresh

	out := RenderInteractive(body)
	if !strings.Contains(out, "[0]<button") || strings.Contains(out, "*[0]*") {
		t.Errorf("persisting element rendered as new:\n%s", out)
	}
	if !strings.Contains(out, "*[1]*<a") {
		t.Errorf("new element missing *[idx]* marker:\n%s", out)
	}
}

func TestRenderSkipsTextInsideIndexedElements(t *testing.T) {
	body, _, _ := renderFixture()
	out := RenderInteractive(body)

	// "Submit" appears once, inside the button line, never as a bare line.
	if strings.Count(out, "Submit</button>") != 1 {
		t.Errorf("button text missing:\n%s", out)
	}
	for _, line := range strings.Split(out, "\n") {
		if line == "Submit" {
			t.Errorf("indexed element's text rendered as a bare line:\n%s", out)
		}
	}
}

func TestRenderSkipsInvisibleText(t *testing.T) {
	body := element("body", "/body", nil, nil)
	div := element("div", "/body/div[1]", nil, body)
	div.Children = append(div.Children, &TextNode{Text: "hidden", IsVisible: false, Parent: div})

	if out := RenderInteractive(body); out != "" {
		t.Errorf("render = %q, want empty", out)
	}
}

func TestSelectorMapIndexes(t *testing.T) {
	m := SelectorMap{4: nil, 0: nil, 2: nil}
	got := m.Indexes()
	want := []int{0, 2, 4}
	if len(got) != len(want) {
		t.Fatalf("indexes = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("indexes = %v, want %v", got, want)
		}
	}
}
