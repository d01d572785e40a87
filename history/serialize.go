package history

import (
	"encoding/json"
	"errors"
	"fmt"
)

// exportVersion is the current export document version. Import rejects
// any other value.
const exportVersion = 1

// ErrUnknownVersion is returned by Import for unsupported export
// documents.
var ErrUnknownVersion = errors.New("history: unknown export version")

type exportDoc struct {
	Version int            `json:"version"`
	Root    string         `json:"root,omitempty"`
	Head    string         `json:"head,omitempty"`
	Nodes   []*HistoryNode `json:"nodes"`
}

// Export serializes the full snapshot tree to a versioned JSON
// document.
func (p *Processor) Export() ([]byte, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	doc := exportDoc{
		Version: exportVersion,
		Root:    p.rootID,
		Head:    p.headID,
		Nodes:   make([]*HistoryNode, 0, len(p.nodes)),
	}
	for _, n := range p.nodes {
		doc.Nodes = append(doc.Nodes, n)
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return nil, fmt.Errorf("history: export: %w", err)
	}
	return data, nil
}

// Import replaces the snapshot tree with a previously exported
// document. The existing tree is left untouched when the document is
// invalid.
func (p *Processor) Import(data []byte) error {
	var doc exportDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("history: import: %w", err)
	}
	if doc.Version != exportVersion {
		return fmt.Errorf("%w: %d", ErrUnknownVersion, doc.Version)
	}

	nodes := make(map[string]*HistoryNode, len(doc.Nodes))
	for _, n := range doc.Nodes {
		if n == nil || n.ID == "" || n.Snapshot == nil {
			return errors.New("history: import: node missing id or snapshot")
		}
		if _, dup := nodes[n.ID]; dup {
			return fmt.Errorf("history: import: duplicate node %s", n.ID)
		}
		nodes[n.ID] = n
	}
	for _, n := range nodes {
		if n.ParentID != "" {
			if _, ok := nodes[n.ParentID]; !ok {
				return fmt.Errorf("history: import: node %s references missing parent %s", n.ID, n.ParentID)
			}
		}
		for _, child := range n.ChildIDs {
			if _, ok := nodes[child]; !ok {
				return fmt.Errorf("history: import: node %s references missing child %s", n.ID, child)
			}
		}
	}
	if doc.Head != "" {
		if _, ok := nodes[doc.Head]; !ok {
			return fmt.Errorf("history: import: missing head node %s", doc.Head)
		}
	}
	if doc.Root != "" {
		if _, ok := nodes[doc.Root]; !ok {
			return fmt.Errorf("history: import: missing root node %s", doc.Root)
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.nodes = nodes
	p.rootID = doc.Root
	p.headID = doc.Head
	return nil
}
