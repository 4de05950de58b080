package filter

import (
	"container/list"
	"sync"
)

// CompiledFilter pairs a filter AST with its pre-flattened zone-map
// predicates and projected-column set, so a hot query path pays the
// AST-walk cost once per distinct filter shape rather than per scan.
type CompiledFilter struct {
	Filter       Filter
	ZonePreds    []ColumnPredicate
	Columns      []string
}

type cacheEntry struct {
	key string
	cf  *CompiledFilter
}

// Cache is an LRU cache of CompiledFilter values keyed by an
// opaque caller-supplied key (typically a canonical JSON encoding of
// the filter). Mirrors the structure of a compiled-query cache: a
// map for O(1) lookup plus a doubly linked list for O(1) LRU eviction.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*list.Element
	order   *list.List
	maxSize int
}

// NewCache creates a Cache holding at most maxSize compiled filters.
func NewCache(maxSize int) *Cache {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &Cache{
		entries: make(map[string]*list.Element, maxSize),
		order:   list.New(),
		maxSize: maxSize,
	}
}

// Compile returns the cached CompiledFilter for key if present
// (promoting it to most-recently-used), otherwise compiles one from f and
// projection, caches it, and returns it.
func (c *Cache) Compile(key string, f Filter, projection []string) *CompiledFilter {
	c.mu.RLock()
	if elem, ok := c.entries[key]; ok {
		c.mu.RUnlock()
		c.mu.Lock()
		c.order.MoveToFront(elem)
		c.mu.Unlock()
		return elem.Value.(*cacheEntry).cf
	}
	c.mu.RUnlock()

	cf := &CompiledFilter{
		Filter:    f,
		ZonePreds: ZonePredicates(f),
		Columns:   ProjectedColumns(f, projection),
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if elem, ok := c.entries[key]; ok {
		c.order.MoveToFront(elem)
		return elem.Value.(*cacheEntry).cf
	}
	if c.order.Len() >= c.maxSize {
		if tail := c.order.Back(); tail != nil {
			c.order.Remove(tail)
			delete(c.entries, tail.Value.(*cacheEntry).key)
		}
	}
	entry := &cacheEntry{key: key, cf: cf}
	elem := c.order.PushFront(entry)
	c.entries[key] = elem
	return cf
}

// Clear removes all cached entries.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*list.Element, c.maxSize)
	c.order.Init()
}

// Size returns the number of cached filters.
func (c *Cache) Size() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.entries)
}
