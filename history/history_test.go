package history

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/hazyhaar/domatlas/dom"
)

// page builds a minimal body > button tree whose button carries the
// given label and attributes.
func page(label string, attrs map[string]string) *dom.ElementNode {
	body := &dom.ElementNode{TagName: "body", XPath: "/body", IsVisible: true}
	idx := 0
	btn := &dom.ElementNode{
		TagName:        "button",
		XPath:          "/body/button[1]",
		Attributes:     attrs,
		IsVisible:      true,
		IsInteractive:  true,
		HighlightIndex: &idx,
		Parent:         body,
	}
	btn.Children = []dom.Node{&dom.TextNode{Text: label, IsVisible: true, Parent: btn}}
	body.Children = []dom.Node{btn}
	return body
}

// fixedSource serves whatever tree was last stored in current.
type fixedSource struct {
	current *dom.ElementNode
}

func (f *fixedSource) fn() Source {
	return func(ctx context.Context) (*dom.ElementNode, PageInfo, error) {
		return f.current, PageInfo{URL: "https://example.com", Title: "Example"}, nil
	}
}

// restoringApplier swaps the source tree to restored and records how
// many changes were applied.
type restoringApplier struct {
	src      *fixedSource
	restored *dom.ElementNode
	applied  int
}

func (a *restoringApplier) Apply(ctx context.Context, changes []ChangeRecord) error {
	a.applied += len(changes)
	a.src.current = a.restored
	return nil
}

func TestCreateSnapshotRequiresObserving(t *testing.T) {
	src := &fixedSource{current: page("Click me", nil)}
	p := NewProcessor(Config{}, src.fn(), nil, nil)

	if _, err := p.CreateSnapshot(context.Background(), ""); !errors.Is(err, ErrNotObserving) {
		t.Fatalf("CreateSnapshot while idle: got %v, want ErrNotObserving", err)
	}
}

func TestSnapshotIDsArePrefixed(t *testing.T) {
	src := &fixedSource{current: page("Click me", nil)}
	p := NewProcessor(Config{}, src.fn(), nil, nil)
	p.StartObserving()

	node, err := p.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if !strings.HasPrefix(node.ID, "snap_") {
		t.Errorf("snapshot id = %q, want snap_ prefix", node.ID)
	}
}

func TestFirstSnapshotHasNoChanges(t *testing.T) {
	src := &fixedSource{current: page("Click me", nil)}
	p := NewProcessor(Config{}, src.fn(), nil, nil)
	p.StartObserving()

	node, err := p.CreateSnapshot(context.Background(), "initial")
	if err != nil {
		t.Fatalf("CreateSnapshot: %v", err)
	}
	if node.ParentID != "" {
		t.Errorf("first node parent = %q, want empty", node.ParentID)
	}
	if len(node.Changes) != 0 {
		t.Errorf("first node changes = %d, want 0", len(node.Changes))
	}
	if node.Depth != 0 {
		t.Errorf("first node depth = %d, want 0", node.Depth)
	}
	if head := p.Head(); head == nil || head.ID != node.ID {
		t.Errorf("head not advanced to first snapshot")
	}
	if node.Snapshot.StructureHash == "" {
		t.Error("snapshot missing structure hash")
	}
	if node.Snapshot.URL != "https://example.com" {
		t.Errorf("snapshot url = %q", node.Snapshot.URL)
	}
}

func TestSnapshotRecordsTextChange(t *testing.T) {
	src := &fixedSource{current: page("Click me", map[string]string{"id": "go"})}
	p := NewProcessor(Config{}, src.fn(), nil, nil)
	p.StartObserving()

	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}

	src.current = page("Submit", map[string]string{"id": "go"})
	node, err := p.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	if len(node.Changes) != 1 {
		t.Fatalf("changes = %d, want 1: %+v", len(node.Changes), node.Changes)
	}
	c := node.Changes[0]
	if c.Kind != ChangeText {
		t.Errorf("kind = %q, want %q", c.Kind, ChangeText)
	}
	if c.OldValue != "Click me" || c.NewValue != "Submit" {
		t.Errorf("old/new = %q/%q, want Click me/Submit", c.OldValue, c.NewValue)
	}
	if c.Selector != "/body/button[1]" {
		t.Errorf("selector = %q", c.Selector)
	}
}

func TestSnapshotRecordsAttributeChange(t *testing.T) {
	src := &fixedSource{current: page("Go", map[string]string{"id": "a"})}
	p := NewProcessor(Config{}, src.fn(), nil, nil)
	p.StartObserving()

	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	src.current = page("Go", map[string]string{"id": "b"})
	node, err := p.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	if len(node.Changes) != 1 || node.Changes[0].Kind != ChangeAttribute {
		t.Fatalf("changes = %+v, want one attribute_changed", node.Changes)
	}
}

func TestIgnoreSelectorsFiltersChanges(t *testing.T) {
	src := &fixedSource{current: page("Go", nil)}
	p := NewProcessor(Config{IgnoreSelectors: []string{"/button["}}, src.fn(), nil, nil)
	p.StartObserving()

	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	src.current = page("Stop", nil)
	node, err := p.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}
	if len(node.Changes) != 0 {
		t.Errorf("changes = %+v, want none after filtering", node.Changes)
	}
}

func TestMaxSnapshotsPerSession(t *testing.T) {
	src := &fixedSource{current: page("Go", nil)}
	p := NewProcessor(Config{MaxSnapshots: 1}, src.fn(), nil, nil)
	p.StartObserving()

	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	if _, err := p.CreateSnapshot(context.Background(), ""); err == nil {
		t.Fatal("second snapshot exceeded session limit but succeeded")
	}

	// A new session resets the counter.
	p.StartObserving()
	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("snapshot after restart: %v", err)
	}
}

func TestRollbackBySnapshotID(t *testing.T) {
	first := page("Click me", nil)
	src := &fixedSource{current: first}
	app := &restoringApplier{src: src, restored: first}
	p := NewProcessor(Config{}, src.fn(), app, nil)
	p.StartObserving()

	n1, err := p.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	src.current = page("Submit", nil)
	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	res, err := p.Rollback(context.Background(), RollbackOptions{SnapshotID: n1.ID})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if !res.Success {
		t.Fatalf("rollback failed: %s", res.Error)
	}
	if res.SnapshotID != n1.ID {
		t.Errorf("result snapshot = %q, want %q", res.SnapshotID, n1.ID)
	}
	if app.applied == 0 {
		t.Error("no changes were applied")
	}
	if head := p.Head(); head.ID != n1.ID {
		t.Errorf("head = %q, want target %q", head.ID, n1.ID)
	}
	// Inverted text change restores the old value.
	found := false
	for _, c := range res.AppliedChanges {
		if c.Kind == ChangeText && c.NewValue == "Click me" {
			found = true
		}
	}
	if !found {
		t.Errorf("applied changes missing inverted text change: %+v", res.AppliedChanges)
	}
}

func TestRollbackVerificationFailureKeepsHead(t *testing.T) {
	first := page("Click me", nil)
	src := &fixedSource{current: first}
	// Applier restores the wrong tree, so the hash check must fail.
	app := &restoringApplier{src: src, restored: page("Something else entirely", map[string]string{"id": "x"})}
	p := NewProcessor(Config{}, src.fn(), app, nil)
	p.StartObserving()

	n1, err := p.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	src.current = page("Submit", nil)
	n2, err := p.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	res, err := p.Rollback(context.Background(), RollbackOptions{SnapshotID: n1.ID})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if res.Success {
		t.Fatal("rollback succeeded despite structure mismatch")
	}
	if res.Error == "" {
		t.Error("failed result missing error message")
	}
	if head := p.Head(); head.ID != n2.ID {
		t.Errorf("head moved on failed rollback: %q", head.ID)
	}
}

func TestRollbackUnknownTarget(t *testing.T) {
	src := &fixedSource{current: page("Go", nil)}
	p := NewProcessor(Config{}, src.fn(), nil, nil)
	p.StartObserving()
	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("snapshot: %v", err)
	}

	_, err := p.Rollback(context.Background(), RollbackOptions{SnapshotID: "nope"})
	if !errors.Is(err, ErrSnapshotNotFound) {
		t.Fatalf("got %v, want ErrSnapshotNotFound", err)
	}
}

func TestRollbackByTimestamp(t *testing.T) {
	first := page("Click me", nil)
	src := &fixedSource{current: first}
	app := &restoringApplier{src: src, restored: first}
	p := NewProcessor(Config{}, src.fn(), app, nil)
	p.StartObserving()

	n1, err := p.CreateSnapshot(context.Background(), "")
	if err != nil {
		t.Fatalf("first snapshot: %v", err)
	}
	time.Sleep(2 * time.Millisecond) // distinct millisecond timestamps
	src.current = page("Submit", nil)
	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("second snapshot: %v", err)
	}

	res, err := p.Rollback(context.Background(), RollbackOptions{Timestamp: n1.Snapshot.Timestamp})
	if err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	if res.SnapshotID != n1.ID {
		t.Errorf("timestamp resolved to %q, want %q", res.SnapshotID, n1.ID)
	}
}

func TestCleanupProtectsHeadPath(t *testing.T) {
	src := &fixedSource{current: page("a", nil)}
	p := NewProcessor(Config{}, src.fn(), nil, nil)
	p.StartObserving()

	labels := []string{"a", "b", "c", "d", "e"}
	ids := make([]string, 0, len(labels))
	for _, l := range labels {
		src.current = page(l, nil)
		n, err := p.CreateSnapshot(context.Background(), "")
		if err != nil {
			t.Fatalf("snapshot %q: %v", l, err)
		}
		ids = append(ids, n.ID)
	}

	// The whole chain is root→head, so nothing is evictable.
	if n := p.Cleanup(2); n != 0 {
		t.Fatalf("evicted %d nodes from the head path", n)
	}
	if p.Len() != len(labels) {
		t.Fatalf("len = %d, want %d", p.Len(), len(labels))
	}

	// Branch off an earlier node, making the old tail a dead branch.
	app := &restoringApplier{src: src, restored: page("b", nil)}
	p.applier = app
	src.current = page("e", nil)
	if _, err := p.Rollback(context.Background(), RollbackOptions{SnapshotID: ids[1]}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	src.current = page("f", nil)
	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("branch snapshot: %v", err)
	}

	evicted := p.Cleanup(3)
	if evicted != 3 {
		t.Fatalf("evicted = %d, want 3", evicted)
	}
	for _, id := range []string{ids[2], ids[3], ids[4]} {
		if p.Node(id) != nil {
			t.Errorf("dead-branch node %q survived eviction", id)
		}
	}
	if p.Node(ids[0]) == nil || p.Node(ids[1]) == nil {
		t.Error("head-path node was evicted")
	}
}

func TestCleanupBefore(t *testing.T) {
	src := &fixedSource{current: page("a", nil)}
	p := NewProcessor(Config{}, src.fn(), nil, nil)
	p.StartObserving()

	var ids []string
	for _, l := range []string{"a", "b", "c"} {
		src.current = page(l, nil)
		n, err := p.CreateSnapshot(context.Background(), "")
		if err != nil {
			t.Fatalf("snapshot %q: %v", l, err)
		}
		ids = append(ids, n.ID)
	}

	// Everything is on the head path, so a future cutoff evicts nothing.
	if n := p.CleanupBefore(time.Now().Add(time.Hour)); n != 0 {
		t.Fatalf("evicted %d head-path nodes", n)
	}

	// Branch off the root, leaving b and c as a dead branch; both predate
	// the cutoff.
	app := &restoringApplier{src: src, restored: page("a", nil)}
	p.applier = app
	if _, err := p.Rollback(context.Background(), RollbackOptions{SnapshotID: ids[0]}); err != nil {
		t.Fatalf("Rollback: %v", err)
	}
	src.current = page("d", nil)
	if _, err := p.CreateSnapshot(context.Background(), ""); err != nil {
		t.Fatalf("branch snapshot: %v", err)
	}

	if n := p.CleanupBefore(time.Now().Add(time.Hour)); n != 2 {
		t.Fatalf("evicted = %d, want the dead branch (2 nodes)", n)
	}
	if p.Node(ids[1]) != nil || p.Node(ids[2]) != nil {
		t.Error("dead-branch nodes survived")
	}
	if p.Node(ids[0]) == nil {
		t.Error("root was evicted")
	}
}
