// Package lru provides a capacity-bounded least-recently-used cache guarded
// by a single mutex.
package lru

import (
	"errors"
	"sync"

	"github.com/hashicorp/golang-lru/v2/simplelru"
)

// DefaultCapacity is the capacity used when a non-positive one is requested.
const DefaultCapacity = 100

// ErrInvalidCapacity is returned when the underlying list cannot be built.
var ErrInvalidCapacity = errors.New("lru: capacity must be positive")

// EvictFunc is called with the entry removed to make room for a new one.
type EvictFunc[K comparable, V any] func(key K, value V)

// Cache is a thread-safe LRU cache. Every operation takes the same lock.
type Cache[K comparable, V any] struct {
	mu       sync.Mutex
	list     *simplelru.LRU[K, V]
	capacity int
	onEvict  EvictFunc[K, V]
	clearing bool
}

// New creates a cache holding at most capacity entries. onEvict may be nil.
func New[K comparable, V any](capacity int, onEvict EvictFunc[K, V]) (*Cache[K, V], error) {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	c := &Cache[K, V]{capacity: capacity, onEvict: onEvict}

	list, err := simplelru.NewLRU[K, V](capacity, c.evicted)
	if err != nil {
		return nil, errors.Join(ErrInvalidCapacity, err)
	}
	c.list = list
	return c, nil
}

// evicted runs under c.mu, from inside simplelru.
func (c *Cache[K, V]) evicted(key K, value V) {
	if c.clearing || c.onEvict == nil {
		return
	}
	c.onEvict(key, value)
}

// Get returns the value for key and marks it most recently used.
func (c *Cache[K, V]) Get(key K) (V, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Get(key)
}

// Put inserts or replaces key. Replacing refreshes recency without growing the
// cache; inserting at capacity evicts the least recently used entry first.
func (c *Cache[K, V]) Put(key K, value V) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.list.Add(key, value)
}

// Contains reports whether key is present without touching its recency.
func (c *Cache[K, V]) Contains(key K) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Contains(key)
}

// Clear removes every entry. The eviction callback is not invoked.
func (c *Cache[K, V]) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.clearing = true
	c.list.Purge()
	c.clearing = false
}

// Len returns the number of entries.
func (c *Cache[K, V]) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Len()
}

// Capacity returns the configured bound.
func (c *Cache[K, V]) Capacity() int {
	return c.capacity
}

// Keys returns the keys from least to most recently used.
func (c *Cache[K, V]) Keys() []K {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.list.Keys()
}
