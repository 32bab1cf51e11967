package audio

import (
	"fmt"
	"path/filepath"

	"github.com/maauso/audiosplicer/internal/lru"
	"github.com/maauso/audiosplicer/internal/metrics"
)

// DefaultCacheCapacity bounds the number of decoded tracks kept in memory.
const DefaultCacheCapacity = 100

// Cache maps absolute file paths to decoded, fade-applied buffers. It is
// shared by every worker of a run and owns the buffers it holds: callers must
// not modify a buffer obtained from it. Entries live until evicted, cleared or
// the process exits.
type Cache struct {
	entries *lru.Cache[string, *Buffer]
	metrics *metrics.Metrics
}

// NewCache creates a cache holding at most capacity buffers. m may be nil.
func NewCache(capacity int, m *metrics.Metrics) (*Cache, error) {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	entries, err := lru.New[string, *Buffer](capacity, func(string, *Buffer) {
		m.AudioEviction()
	})
	if err != nil {
		return nil, fmt.Errorf("create audio cache: %w", err)
	}
	return &Cache{entries: entries, metrics: m}, nil
}

// CacheKey normalises path to the absolute form used as cache key.
func CacheKey(path string) string {
	abs, err := filepath.Abs(path)
	if err != nil {
		return filepath.Clean(path)
	}
	return abs
}

// Get returns the buffer cached for path and refreshes its recency.
func (c *Cache) Get(path string) (*Buffer, bool) {
	buf, ok := c.entries.Get(CacheKey(path))
	c.metrics.AudioLookup(ok)
	return buf, ok
}

// Put stores buf for path, evicting the least recently used entry when full.
func (c *Cache) Put(path string, buf *Buffer) {
	c.entries.Put(CacheKey(path), buf)
}

// Contains reports whether path is cached without refreshing its recency.
func (c *Cache) Contains(path string) bool {
	return c.entries.Contains(CacheKey(path))
}

// Clear drops every cached buffer.
func (c *Cache) Clear() {
	c.entries.Clear()
}

// Len returns the number of cached buffers.
func (c *Cache) Len() int {
	return c.entries.Len()
}
