// Package lru provides a scoped, size-bounded LRU map.
package lru

import (
	"container/list"
	"sync"
)

type entry[V any] struct {
	scope string
	key   string
	value V
}

// Cache is a per-scope LRU: each scope keeps at most maxPerScope entries and
// evicts its least recently used entry independently of the others.
// It is safe for concurrent use.
type Cache[V any] struct {
	mu          sync.Mutex
	maxPerScope int
	// scopeLists maps scope -> LRU list of *entry (front = most recent)
	scopeLists map[string]*list.List
	// elements maps entryKey -> *list.Element for O(1) lookup
	elements map[string]*list.Element
}

// New returns a Cache retaining at most maxPerScope entries per scope.
// Values below 1 are treated as 1.
func New[V any](maxPerScope int) *Cache[V] {
	if maxPerScope < 1 {
		maxPerScope = 1
	}
	return &Cache[V]{
		maxPerScope: maxPerScope,
		scopeLists:  make(map[string]*list.List),
		elements:    make(map[string]*list.Element),
	}
}

func entryKey(scope, key string) string {
	return scope + "\x00" + key
}

// Add stores value only if key is absent from scope. It reports whether the
// value was stored; an existing entry is left untouched but marked recent.
func (c *Cache[V]) Add(scope, key string, value V) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.elements[entryKey(scope, key)]; ok {
		c.scopeLists[scope].MoveToFront(elem)
		return false
	}
	c.insert(scope, key, value)
	return true
}

func (c *Cache[V]) insert(scope, key string, value V) {
	l, ok := c.scopeLists[scope]
	if !ok {
		l = list.New()
		c.scopeLists[scope] = l
	}

	// Evict from back when at capacity.
	if l.Len() >= c.maxPerScope {
		if back := l.Back(); back != nil {
			evicted := l.Remove(back).(*entry[V])
			delete(c.elements, entryKey(evicted.scope, evicted.key))
		}
	}

	c.elements[entryKey(scope, key)] = l.PushFront(&entry[V]{scope: scope, key: key, value: value})
}

// Delete removes key from scope and reports whether it was present.
func (c *Cache[V]) Delete(scope, key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	ek := entryKey(scope, key)
	elem, ok := c.elements[ek]
	if !ok {
		return false
	}

	l := c.scopeLists[scope]
	l.Remove(elem)
	delete(c.elements, ek)
	if l.Len() == 0 {
		delete(c.scopeLists, scope)
	}
	return true
}
