package dom

import (
	"sync"
	"time"
)

// BuiltTree bundles one build pass's outputs: the tree, its selector
// map, the element fingerprint set and the whole-page structure hash.
// Lifetime is one scan; a fresh pass replaces it wholesale.
type BuiltTree struct {
	Root          *ElementNode
	Selectors     SelectorMap
	Fingerprints  map[Fingerprint]struct{}
	StructureHash string
	BuiltAt       time.Time
}

// NewBuiltTree derives the fingerprint set and structure hash from a
// freshly built (root, selectors) pair.
func NewBuiltTree(root *ElementNode, selectors SelectorMap) *BuiltTree {
	return &BuiltTree{
		Root:          root,
		Selectors:     selectors,
		Fingerprints:  FingerprintSet(root),
		StructureHash: StructureHash(root),
		BuiltAt:       time.Now(),
	}
}

// Cache holds the last built tree for a short time-to-live so an
// unchanged page is not rescanned. The TTL is a backstop only: callers
// must Invalidate on any action that can mutate the page (navigation,
// click, scroll) rather than rely on the timeout.
type Cache struct {
	mu    sync.Mutex
	entry *BuiltTree
	ttl   time.Duration
}

// NewCache creates a Cache. A non-positive ttl disables caching: Get
// always misses.
func NewCache(ttl time.Duration) *Cache {
	return &Cache{ttl: ttl}
}

// Get returns the cached tree, or nil when empty or expired.
func (c *Cache) Get() *BuiltTree {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.entry == nil || c.ttl <= 0 {
		return nil
	}
	if time.Since(c.entry.BuiltAt) > c.ttl {
		c.entry = nil
		return nil
	}
	return c.entry
}

// Put stores a freshly built tree.
func (c *Cache) Put(t *BuiltTree) {
	c.mu.Lock()
	c.entry = t
	c.mu.Unlock()
}

// Invalidate drops the cached tree. Call after any page-mutating action.
func (c *Cache) Invalidate() {
	c.mu.Lock()
	c.entry = nil
	c.mu.Unlock()
}
