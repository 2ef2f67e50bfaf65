// Package cache implements the bounded result cache keyed by invocation
// fingerprint. Eviction is least-recently-accessed within a total byte
// budget, with a secondary TTL that expires entries even when they are
// hot, so stale scan results are never served indefinitely.
package cache

import (
	"container/list"
	"log/slog"
	"sync"
	"time"

	"github.com/havij13/Hexstrike-AI-sub001/internal/fingerprint"
)

// Entry is one cached result payload.
type Entry struct {
	Fingerprint fingerprint.Fingerprint
	Payload     []byte
	CreatedAt   time.Time
	LastAccess  time.Time
	Size        int64
}

// Stats is the cache administration view.
type Stats struct {
	MaxBytes  int64   `json:"cache_size"`
	Usage     int64   `json:"cache_usage"`
	Entries   int     `json:"entries"`
	Hits      int64   `json:"hits"`
	Misses    int64   `json:"misses"`
	HitRate   float64 `json:"hit_rate"`
	MissRate  float64 `json:"miss_rate"`
	Evictions int64   `json:"evictions"`
}

// Cache is the process-wide result cache.
type Cache struct {
	mu       sync.Mutex
	entries  map[fingerprint.Fingerprint]*list.Element
	lru      *list.List // front = most recently accessed
	usage    int64
	maxBytes int64
	ttl      time.Duration
	logger   *slog.Logger

	hits      int64
	misses    int64
	evictions int64
}

// Config holds cache construction parameters.
type Config struct {
	MaxBytes int64
	TTL      time.Duration
	Logger   *slog.Logger
}

// New creates a result cache.
func New(cfg Config) *Cache {
	maxBytes := cfg.MaxBytes
	if maxBytes <= 0 {
		maxBytes = 64 << 20
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &Cache{
		entries:  make(map[fingerprint.Fingerprint]*list.Element),
		lru:      list.New(),
		maxBytes: maxBytes,
		ttl:      cfg.TTL,
		logger:   logger.WithGroup("cache"),
	}
}

// Get returns the payload cached under fp. Expired entries count as
// misses and are removed on access. The returned slice must not be
// mutated by callers.
func (c *Cache) Get(fp fingerprint.Fingerprint) ([]byte, bool) {
	if !fp.Cacheable() {
		c.mu.Lock()
		c.misses++
		c.mu.Unlock()
		return nil, false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fp]
	if !ok {
		c.misses++
		return nil, false
	}

	entry := el.Value.(*Entry)
	if c.expired(entry, time.Now()) {
		c.removeLocked(el)
		c.evictions++
		c.misses++
		return nil, false
	}

	entry.LastAccess = time.Now()
	c.lru.MoveToFront(el)
	c.hits++
	return entry.Payload, true
}

// Put stores payload under fp, overwriting any previous entry for the
// same fingerprint (last writer wins). Uncacheable fingerprints and
// payloads larger than the whole budget are dropped silently.
func (c *Cache) Put(fp fingerprint.Fingerprint, payload []byte) {
	if !fp.Cacheable() {
		return
	}

	size := int64(len(payload))
	if size > c.maxBytes {
		c.logger.Warn("Result larger than cache budget, not caching",
			"fingerprint", fp.String(), "size", size)
		return
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[fp]; ok {
		c.removeLocked(el)
	}

	for c.usage+size > c.maxBytes {
		oldest := c.lru.Back()
		if oldest == nil {
			break
		}
		c.removeLocked(oldest)
		c.evictions++
	}

	entry := &Entry{
		Fingerprint: fp,
		Payload:     payload,
		CreatedAt:   now,
		LastAccess:  now,
		Size:        size,
	}
	c.entries[fp] = c.lru.PushFront(entry)
	c.usage += size
}

// Invalidate removes the entry for fp, reporting whether one existed.
func (c *Cache) Invalidate(fp fingerprint.Fingerprint) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[fp]
	if !ok {
		return false
	}
	c.removeLocked(el)
	return true
}

// Clear drops every entry and returns how many were removed.
// Hit/miss/eviction counters are preserved.
func (c *Cache) Clear() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	cleared := len(c.entries)
	c.entries = make(map[fingerprint.Fingerprint]*list.Element)
	c.lru.Init()
	c.usage = 0

	c.logger.Info("Cache cleared", "entries", cleared)
	return cleared
}

// SweepExpired removes all TTL-expired entries. Called periodically by
// the sweeper so cold expired entries don't linger until touched.
func (c *Cache) SweepExpired() int {
	if c.ttl <= 0 {
		return 0
	}

	now := time.Now()

	c.mu.Lock()
	defer c.mu.Unlock()

	removed := 0
	for el := c.lru.Back(); el != nil; {
		prev := el.Prev()
		if c.expired(el.Value.(*Entry), now) {
			c.removeLocked(el)
			c.evictions++
			removed++
		}
		el = prev
	}

	if removed > 0 {
		c.logger.Debug("Swept expired cache entries", "removed", removed)
	}
	return removed
}

// Stats returns a snapshot of the cache counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()

	s := Stats{
		MaxBytes:  c.maxBytes,
		Usage:     c.usage,
		Entries:   len(c.entries),
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
	}
	if total := s.Hits + s.Misses; total > 0 {
		s.HitRate = float64(s.Hits) / float64(total)
		s.MissRate = float64(s.Misses) / float64(total)
	}
	return s
}

func (c *Cache) expired(e *Entry, now time.Time) bool {
	return c.ttl > 0 && now.Sub(e.CreatedAt) > c.ttl
}

func (c *Cache) removeLocked(el *list.Element) {
	entry := el.Value.(*Entry)
	c.lru.Remove(el)
	delete(c.entries, entry.Fingerprint)
	c.usage -= entry.Size
}
