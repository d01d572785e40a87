package history

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/hazyhaar/domatlas/dom"
	"github.com/hazyhaar/domatlas/idgen"
)

var (
	// ErrNotObserving is returned by snapshot operations while no
	// observation session is active.
	ErrNotObserving = errors.New("history: not observing")

	// ErrSnapshotNotFound is returned when a rollback or lookup target
	// does not exist in the tree.
	ErrSnapshotNotFound = errors.New("history: snapshot not found")
)

// Config controls snapshot retention and change observation.
// Zero values mean unbounded / disabled.
type Config struct {
	// MaxHistorySize bounds the number of nodes kept in the tree.
	MaxHistorySize int `yaml:"max_history_size"`
	// MaxSnapshots bounds snapshots taken per observation session.
	MaxSnapshots int `yaml:"max_snapshots"`
	// AutoCleanupThreshold triggers eviction once the tree reaches this
	// many nodes. Defaults to MaxHistorySize when unset.
	AutoCleanupThreshold int `yaml:"auto_cleanup_threshold"`
	// SnapshotInterval is the minimum delay between automatic snapshots.
	SnapshotInterval time.Duration `yaml:"snapshot_interval"`
	// ObserveAllChanges includes style-only changes in diffs.
	ObserveAllChanges bool `yaml:"observe_all_changes"`
	// IgnoreSelectors drops changes whose xpath contains any entry.
	IgnoreSelectors []string `yaml:"ignore_selectors"`
}

func (c *Config) defaults() {
	if c.AutoCleanupThreshold <= 0 {
		c.AutoCleanupThreshold = c.MaxHistorySize
	}
}

// HistoryNode is one vertex of the snapshot tree. Changes holds the
// delta from the parent's snapshot to this one.
type HistoryNode struct {
	ID       string         `json:"id"`
	ParentID string         `json:"parent_id,omitempty"`
	ChildIDs []string       `json:"child_ids,omitempty"`
	Snapshot *Snapshot      `json:"snapshot"`
	Changes  []ChangeRecord `json:"changes,omitempty"`
	Depth    int            `json:"depth"`
}

// PageInfo carries the page metadata captured alongside a tree.
type PageInfo struct {
	URL   string
	Title string
}

// Source produces the current document tree on demand.
type Source func(ctx context.Context) (*dom.ElementNode, PageInfo, error)

// Applier applies change records to the live document. Rollback uses it
// to replay inverse changes.
type Applier interface {
	Apply(ctx context.Context, changes []ChangeRecord) error
}

// RollbackOptions selects the rollback target. Exactly one of
// SnapshotID or Timestamp must be set; when Timestamp is set the
// closest snapshot at or before it is chosen. CreateSnapshot takes a
// fresh snapshot of the pre-rollback state first.
type RollbackOptions struct {
	SnapshotID     string
	Timestamp      int64
	CreateSnapshot bool
}

// RollbackResult reports the outcome of a rollback attempt. A failed
// verification is reported here, not as an error.
type RollbackResult struct {
	Success        bool           `json:"success"`
	SnapshotID     string         `json:"snapshot_id,omitempty"`
	AppliedChanges []ChangeRecord `json:"applied_changes,omitempty"`
	Error          string         `json:"error,omitempty"`
}

// Processor maintains the snapshot tree for one document. All methods
// are safe for concurrent use.
type Processor struct {
	cfg     Config
	source  Source
	applier Applier
	logger  *slog.Logger
	newID   idgen.Generator

	mu           sync.Mutex
	nodes        map[string]*HistoryNode
	rootID       string
	headID       string
	observing    bool
	sessionCount int
	lastSnapshot time.Time
}

// NewProcessor builds a Processor reading trees from source and applying
// rollback changes through applier. applier may be nil, in which case
// rollback only verifies and repoints head.
func NewProcessor(cfg Config, source Source, applier Applier, logger *slog.Logger) *Processor {
	cfg.defaults()
	if logger == nil {
		logger = slog.Default()
	}
	return &Processor{
		cfg:     cfg,
		source:  source,
		applier: applier,
		logger:  logger,
		newID:   idgen.Prefixed("snap_", idgen.UUIDv7()),
		nodes:   make(map[string]*HistoryNode),
	}
}

// Observing reports whether an observation session is active.
func (p *Processor) Observing() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.observing
}

// Head returns the current head node, or nil when the tree is empty.
func (p *Processor) Head() *HistoryNode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodes[p.headID]
}

// Node returns the node with the given id, or nil.
func (p *Processor) Node(id string) *HistoryNode {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nodes[id]
}

// Len returns the number of nodes in the tree.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.nodes)
}

// StartObserving begins an observation session. Starting while already
// observing resets the per-session snapshot counter only.
func (p *Processor) StartObserving() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observing = true
	p.sessionCount = 0
	p.lastSnapshot = time.Time{}
}

// StopObserving ends the observation session. The tree is retained.
func (p *Processor) StopObserving() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.observing = false
}

// CreateSnapshot captures the current document state as a child of the
// head node and advances head to it. The first snapshot of a tree has
// no parent and no changes. Returns ErrNotObserving when no session is
// active.
func (p *Processor) CreateSnapshot(ctx context.Context, description string) (*HistoryNode, error) {
	p.mu.Lock()
	if !p.observing {
		p.mu.Unlock()
		return nil, ErrNotObserving
	}
	if p.cfg.MaxSnapshots > 0 && p.sessionCount >= p.cfg.MaxSnapshots {
		p.mu.Unlock()
		return nil, fmt.Errorf("history: session snapshot limit %d reached", p.cfg.MaxSnapshots)
	}
	if p.cfg.SnapshotInterval > 0 && !p.lastSnapshot.IsZero() &&
		time.Since(p.lastSnapshot) < p.cfg.SnapshotInterval {
		p.mu.Unlock()
		return nil, fmt.Errorf("history: snapshot interval %s not elapsed", p.cfg.SnapshotInterval)
	}
	p.mu.Unlock()

	root, info, err := p.source(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: read document: %w", err)
	}

	snap := buildSnapshot(p.newID(), root, info.URL, info.Title, description)

	p.mu.Lock()
	defer p.mu.Unlock()

	node := &HistoryNode{ID: snap.ID, Snapshot: snap}
	if head := p.nodes[p.headID]; head != nil {
		node.ParentID = head.ID
		node.Depth = head.Depth + 1
		node.Changes = diffSnapshots(head.Snapshot, snap,
			p.cfg.ObserveAllChanges, p.cfg.IgnoreSelectors)
		head.ChildIDs = append(head.ChildIDs, node.ID)
	} else {
		p.rootID = node.ID
	}
	p.nodes[node.ID] = node
	p.headID = node.ID
	p.sessionCount++
	p.lastSnapshot = time.Now()

	p.logger.Debug("history: snapshot created",
		"id", node.ID, "depth", node.Depth, "changes", len(node.Changes))

	if p.cfg.AutoCleanupThreshold > 0 && len(p.nodes) > p.cfg.AutoCleanupThreshold {
		p.evictLocked(p.cfg.AutoCleanupThreshold)
	}
	return node, nil
}

// Rollback restores the document to a prior snapshot. It walks from the
// head to the common ancestor applying inverted changes in reverse
// chronological order, then from the ancestor down to the target
// applying recorded changes forward. The restored state is verified
// against the target's structure hash; on mismatch the result carries
// Success false and head does not move.
func (p *Processor) Rollback(ctx context.Context, opts RollbackOptions) (*RollbackResult, error) {
	p.mu.Lock()
	target, err := p.resolveTargetLocked(opts)
	if err != nil {
		p.mu.Unlock()
		return nil, err
	}
	head := p.nodes[p.headID]
	p.mu.Unlock()

	if opts.CreateSnapshot {
		if _, err := p.CreateSnapshot(ctx, "pre-rollback"); err != nil && !errors.Is(err, ErrNotObserving) {
			return nil, err
		}
		p.mu.Lock()
		head = p.nodes[p.headID]
		p.mu.Unlock()
	}

	if head == nil {
		return nil, ErrSnapshotNotFound
	}
	if head.ID == target.ID {
		return &RollbackResult{Success: true, SnapshotID: target.ID}, nil
	}

	p.mu.Lock()
	upward, downward := p.pathsViaAncestorLocked(head, target)
	p.mu.Unlock()

	var applied []ChangeRecord
	// Undo the head-ward branch newest first.
	for i := len(upward) - 1; i >= 0; i-- {
		n := upward[i]
		for j := len(n.Changes) - 1; j >= 0; j-- {
			applied = append(applied, n.Changes[j].Invert())
		}
	}
	// Replay the target-ward branch oldest first.
	for _, n := range downward {
		applied = append(applied, n.Changes...)
	}

	if p.applier != nil && len(applied) > 0 {
		if err := p.applier.Apply(ctx, applied); err != nil {
			return &RollbackResult{
				SnapshotID: target.ID,
				Error:      fmt.Sprintf("apply changes: %v", err),
			}, nil
		}
	}

	root, _, err := p.source(ctx)
	if err != nil {
		return nil, fmt.Errorf("history: read document: %w", err)
	}
	if got := dom.StructureHash(root); got != target.Snapshot.StructureHash {
		p.logger.Warn("history: rollback verification failed",
			"target", target.ID, "want", target.Snapshot.StructureHash, "got", got)
		return &RollbackResult{
			SnapshotID:     target.ID,
			AppliedChanges: applied,
			Error:          "structure hash mismatch after rollback",
		}, nil
	}

	p.mu.Lock()
	p.headID = target.ID
	p.mu.Unlock()

	p.logger.Info("history: rollback complete", "target", target.ID, "applied", len(applied))
	return &RollbackResult{Success: true, SnapshotID: target.ID, AppliedChanges: applied}, nil
}

// resolveTargetLocked picks the rollback target node for opts.
func (p *Processor) resolveTargetLocked(opts RollbackOptions) (*HistoryNode, error) {
	if opts.SnapshotID != "" {
		n := p.nodes[opts.SnapshotID]
		if n == nil {
			return nil, fmt.Errorf("%w: %s", ErrSnapshotNotFound, opts.SnapshotID)
		}
		return n, nil
	}
	if opts.Timestamp > 0 {
		var best *HistoryNode
		for _, n := range p.nodes {
			if n.Snapshot.Timestamp > opts.Timestamp {
				continue
			}
			if best == nil || n.Snapshot.Timestamp > best.Snapshot.Timestamp {
				best = n
			}
		}
		if best == nil {
			return nil, fmt.Errorf("%w: no snapshot at or before %d", ErrSnapshotNotFound, opts.Timestamp)
		}
		return best, nil
	}
	return nil, errors.New("history: rollback target not specified")
}

// pathsViaAncestorLocked splits the head→target route at their lowest
// common ancestor. upward lists the nodes from the ancestor (exclusive)
// down to head, downward from the ancestor (exclusive) down to target.
func (p *Processor) pathsViaAncestorLocked(head, target *HistoryNode) (upward, downward []*HistoryNode) {
	onHeadPath := make(map[string]bool)
	for n := head; n != nil; n = p.nodes[n.ParentID] {
		onHeadPath[n.ID] = true
	}

	var ancestor *HistoryNode
	for n := target; n != nil; n = p.nodes[n.ParentID] {
		if onHeadPath[n.ID] {
			ancestor = n
			break
		}
	}

	for n := head; n != nil && (ancestor == nil || n.ID != ancestor.ID); n = p.nodes[n.ParentID] {
		upward = append(upward, n)
	}
	// upward was collected head-first; callers want ancestor-first.
	for i, j := 0, len(upward)-1; i < j; i, j = i+1, j-1 {
		upward[i], upward[j] = upward[j], upward[i]
	}

	for n := target; n != nil && (ancestor == nil || n.ID != ancestor.ID); n = p.nodes[n.ParentID] {
		downward = append(downward, n)
	}
	for i, j := 0, len(downward)-1; i < j; i, j = i+1, j-1 {
		downward[i], downward[j] = downward[j], downward[i]
	}
	return upward, downward
}

// Cleanup evicts nodes until the tree holds at most max nodes. Eviction
// is leaf-first by oldest timestamp and never removes a node on the
// path from the root to the current head.
func (p *Processor) Cleanup(max int) int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.evictLocked(max)
}

// CleanupBefore evicts leaf nodes whose snapshot predates the cutoff,
// repeatedly, with the same head-path protection as Cleanup.
func (p *Processor) CleanupBefore(cutoff time.Time) int {
	p.mu.Lock()
	defer p.mu.Unlock()

	protected := make(map[string]bool)
	for n := p.nodes[p.headID]; n != nil; n = p.nodes[n.ParentID] {
		protected[n.ID] = true
	}

	ms := cutoff.UnixMilli()
	evicted := 0
	for {
		removed := false
		for _, n := range p.nodes {
			if len(n.ChildIDs) != 0 || protected[n.ID] || n.Snapshot.Timestamp >= ms {
				continue
			}
			if parent := p.nodes[n.ParentID]; parent != nil {
				kept := parent.ChildIDs[:0]
				for _, id := range parent.ChildIDs {
					if id != n.ID {
						kept = append(kept, id)
					}
				}
				parent.ChildIDs = kept
			}
			delete(p.nodes, n.ID)
			evicted++
			removed = true
		}
		if !removed {
			break
		}
	}

	if evicted > 0 {
		p.logger.Debug("history: evicted nodes before cutoff",
			"count", evicted, "remaining", len(p.nodes))
	}
	return evicted
}

func (p *Processor) evictLocked(max int) int {
	if max <= 0 || len(p.nodes) <= max {
		return 0
	}

	protected := make(map[string]bool)
	for n := p.nodes[p.headID]; n != nil; n = p.nodes[n.ParentID] {
		protected[n.ID] = true
	}

	evicted := 0
	for len(p.nodes) > max {
		var leaves []*HistoryNode
		for _, n := range p.nodes {
			if len(n.ChildIDs) == 0 && !protected[n.ID] {
				leaves = append(leaves, n)
			}
		}
		if len(leaves) == 0 {
			break
		}
		sort.Slice(leaves, func(i, j int) bool {
			return leaves[i].Snapshot.Timestamp < leaves[j].Snapshot.Timestamp
		})
		victim := leaves[0]
		if parent := p.nodes[victim.ParentID]; parent != nil {
			kept := parent.ChildIDs[:0]
			for _, id := range parent.ChildIDs {
				if id != victim.ID {
					kept = append(kept, id)
				}
			}
			parent.ChildIDs = kept
		}
		delete(p.nodes, victim.ID)
		evicted++
	}

	if evicted > 0 {
		p.logger.Debug("history: evicted nodes", "count", evicted, "remaining", len(p.nodes))
	}
	return evicted
}
