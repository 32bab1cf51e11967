// Package durationcache keeps known track durations keyed by file name, with a
// time-to-live, and persists them to a JSON snapshot between runs.
package durationcache

import (
	"log/slog"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/unicode/norm"

	"github.com/maauso/audiosplicer/internal/metrics"
)

// DefaultTTL is how long a measured duration stays valid.
const DefaultTTL = 30 * 24 * time.Hour

// Entry is a cached duration and the moment it was recorded.
type Entry struct {
	Duration float64
	CachedAt time.Time
}

// Valid reports whether the entry is still within ttl at now.
func (e Entry) Valid(now time.Time, ttl time.Duration) bool {
	return now.Sub(e.CachedAt) <= ttl
}

// Key returns the cache key for a path: its base name in Unicode NFC form.
// Two files with the same name in different directories share a key.
func Key(path string) string {
	p := strings.ReplaceAll(path, "\\", "/")
	return norm.NFC.String(filepath.Base(p))
}

// Cache is a concurrency-safe duration cache. All methods take one lock.
type Cache struct {
	mu      sync.Mutex
	entries map[string]Entry
	ttl     time.Duration
	path    string
	now     func() time.Time
	logger  *slog.Logger
	metrics *metrics.Metrics
}

// Option configures a Cache.
type Option func(*Cache)

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(c *Cache) {
		c.now = now
	}
}

// WithLogger sets the logger used for snapshot warnings.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Cache) {
		c.logger = logger
	}
}

// WithMetrics records lookups on m.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) {
		c.metrics = m
	}
}

// WithPath sets the snapshot path used by Save.
func WithPath(path string) Option {
	return func(c *Cache) {
		c.path = path
	}
}

// New creates an empty cache. A non-positive ttl means DefaultTTL.
func New(ttl time.Duration, opts ...Option) *Cache {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	c := &Cache{
		entries: make(map[string]Entry),
		ttl:     ttl,
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	return c
}

// Open creates a cache bound to path and fills it from the snapshot there.
// A missing or unreadable snapshot yields an empty cache.
func Open(path string, ttl time.Duration, opts ...Option) *Cache {
	c := New(ttl, append(opts, WithPath(path))...)
	loaded := LoadSnapshot(path, c.ttl, c.now(), c.logger)

	c.mu.Lock()
	c.entries = loaded
	c.mu.Unlock()

	c.logger.Info("duration cache loaded",
		slog.String("path", path),
		slog.Int("entries", len(loaded)),
	)
	return c
}

// TTL returns the configured time-to-live.
func (c *Cache) TTL() time.Duration {
	return c.ttl
}

// Path returns the snapshot path, empty when the cache is not file backed.
func (c *Cache) Path() string {
	return c.path
}

// Get returns the duration stored under key if it has not expired.
func (c *Cache) Get(key string) (float64, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.entries[key]
	if !ok {
		c.metrics.DurationLookup(metrics.ResultMiss)
		return 0, false
	}
	if !entry.Valid(c.now(), c.ttl) {
		c.metrics.DurationLookup(metrics.ResultExpired)
		return 0, false
	}
	c.metrics.DurationLookup(metrics.ResultHit)
	return entry.Duration, true
}

// Put records seconds under key, stamped with the current time.
func (c *Cache) Put(key string, seconds float64) {
	if seconds < 0 {
		seconds = 0
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries[key] = Entry{Duration: seconds, CachedAt: c.now()}
}

// Contains reports whether a valid entry exists for key.
func (c *Cache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	entry, ok := c.entries[key]
	return ok && entry.Valid(c.now(), c.ttl)
}

// Clear removes every entry.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]Entry)
}

// Len returns the number of stored entries, expired ones included.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Entries returns a copy of the stored entries.
func (c *Cache) Entries() map[string]Entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Entry, len(c.entries))
	for k, v := range c.entries {
		out[k] = v
	}
	return out
}

// Keys returns the stored keys in sorted order.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.entries))
	for k := range c.entries {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// Prune drops expired entries and returns how many were removed.
func (c *Cache) Prune() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	removed := 0
	for k, e := range c.entries {
		if !e.Valid(now, c.ttl) {
			delete(c.entries, k)
			removed++
		}
	}
	return removed
}

// Save writes the cache to its snapshot path. It is a no-op for caches that
// were not opened from a file.
func (c *Cache) Save() error {
	if c.path == "" {
		return nil
	}
	return SaveSnapshot(c.path, c.Entries(), c.logger)
}
