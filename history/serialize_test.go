package history

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
)

func buildTree(t *testing.T) *Processor {
	t.Helper()
	src := &fixedSource{current: page("Click me", nil)}
	p := NewProcessor(Config{}, src.fn(), nil, nil)
	p.StartObserving()
	if _, err := p.CreateSnapshot(context.Background(), "one"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	src.current = page("Submit", nil)
	if _, err := p.CreateSnapshot(context.Background(), "two"); err != nil {
		t.Fatalf("snapshot: %v", err)
	}
	return p
}

func TestExportImportRoundTrip(t *testing.T) {
	p := buildTree(t)
	head := p.Head()

	data, err := p.Export()
	if err != nil {
		t.Fatalf("Export: %v", err)
	}

	var doc struct {
		Version int `json:"version"`
	}
	if err := json.Unmarshal(data, &doc); err != nil {
		t.Fatalf("unmarshal export: %v", err)
	}
	if doc.Version != exportVersion {
		t.Errorf("version = %d, want %d", doc.Version, exportVersion)
	}

	fresh := NewProcessor(Config{}, nil, nil, nil)
	if err := fresh.Import(data); err != nil {
		t.Fatalf("Import: %v", err)
	}
	if fresh.Len() != p.Len() {
		t.Errorf("imported %d nodes, want %d", fresh.Len(), p.Len())
	}
	got := fresh.Head()
	if got == nil || got.ID != head.ID {
		t.Errorf("imported head does not match original")
	}
	if got.Snapshot.StructureHash != head.Snapshot.StructureHash {
		t.Errorf("imported head hash = %q, want %q",
			got.Snapshot.StructureHash, head.Snapshot.StructureHash)
	}
}

func TestImportRejectsUnknownVersion(t *testing.T) {
	p := NewProcessor(Config{}, nil, nil, nil)
	err := p.Import([]byte(`{"version": 99, "nodes": []}`))
	if !errors.Is(err, ErrUnknownVersion) {
		t.Fatalf("got %v, want ErrUnknownVersion", err)
	}
}

func TestImportRejectsDanglingParent(t *testing.T) {
	p := NewProcessor(Config{}, nil, nil, nil)
	doc := `{"version":1,"head":"a","root":"a","nodes":[
		{"id":"a","parent_id":"ghost","snapshot":{"id":"a","timestamp":1,"url":"u","structure_hash":"h","key_elements":[]}}
	]}`
	if err := p.Import([]byte(doc)); err == nil {
		t.Fatal("import accepted node with missing parent")
	}
}

func TestImportLeavesTreeOnError(t *testing.T) {
	p := buildTree(t)
	before := p.Len()

	if err := p.Import([]byte(`{"version": 2, "nodes": []}`)); err == nil {
		t.Fatal("import of bad version succeeded")
	}
	if p.Len() != before {
		t.Errorf("tree mutated by failed import: len %d, want %d", p.Len(), before)
	}
}
