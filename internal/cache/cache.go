// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package cache provides general-purpose memoization with automatic
// resource bounding, plus the purpose-built caches used by the agent
// (file contents, LLM responses, repo context, dependency trees).
//
// The base Cache combines three independent bounds: TTL expiration,
// LRU entry-count eviction, and a total-size budget. Entries are
// expired lazily on access plus an amortized sweep every 100th insert.
package cache

import (
	"container/list"
	"log/slog"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

// Default resource bounds.
const (
	DefaultMaxEntries   = 1000
	DefaultMaxSizeBytes = 100 * 1024 * 1024

	// sweepInterval is the insert count between amortized TTL sweeps.
	sweepInterval = 100
)

// Options configures a Cache.
type Options struct {
	// Name identifies the cache in stats and logs.
	Name string

	// TTL is the entry lifetime. Non-positive means entries never expire
	// by time (only by LRU/size pressure).
	TTL time.Duration

	// MaxEntries bounds the entry count.
	MaxEntries int

	// MaxSizeBytes bounds the sum of estimated entry sizes.
	MaxSizeBytes int64

	// PersistPath, when non-empty, enables best-effort disk snapshots.
	// The snapshot is loaded on construction and written by Save.
	PersistPath string

	// Logger for diagnostics. Uses slog.Default() if nil.
	Logger *slog.Logger
}

// Option mutates Options.
type Option func(*Options)

// WithTTL sets the entry TTL.
func WithTTL(ttl time.Duration) Option {
	return func(o *Options) { o.TTL = ttl }
}

// WithMaxEntries sets the entry-count bound.
func WithMaxEntries(n int) Option {
	return func(o *Options) { o.MaxEntries = n }
}

// WithMaxSizeBytes sets the total-size bound.
func WithMaxSizeBytes(n int64) Option {
	return func(o *Options) { o.MaxSizeBytes = n }
}

// WithPersistPath enables disk snapshots at the given path.
func WithPersistPath(path string) Option {
	return func(o *Options) { o.PersistPath = path }
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(o *Options) { o.Logger = logger }
}

// counters tracks cache effectiveness. TotalSize is an invariant: it
// always equals the sum of Size over all live entries.
type counters struct {
	Hits        int64
	Misses      int64
	Evictions   int64
	Expirations int64
	TotalSize   int64
}

// record pairs a key with its entry inside the LRU list.
type record struct {
	key   string
	entry *Entry
}

// Cache is a TTL + LRU + size-bounded key/value store.
//
// # Thread Safety
//
// All operations hold a single mutex for their full duration, including
// eviction loops, so callers never observe partial states. Lock scope is
// intentionally coarse; operations are in-memory and fast.
type Cache struct {
	mu     sync.Mutex
	opts   Options
	elems  map[string]*list.Element
	order  *list.List // front = least recently used, back = most recent
	stats  counters
	sets   int64 // insert counter for the amortized sweep
	flight singleflight.Group
	logger *slog.Logger
}

// New creates a cache with the given name and options.
//
// If a persist path is configured and a snapshot exists there, it is
// loaded and immediately purged of expired entries. Load failures leave
// the cache empty rather than failing construction.
func New(name string, opts ...Option) *Cache {
	options := Options{
		Name:         name,
		MaxEntries:   DefaultMaxEntries,
		MaxSizeBytes: DefaultMaxSizeBytes,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.Logger == nil {
		options.Logger = slog.Default()
	}

	c := &Cache{
		opts:   options,
		elems:  make(map[string]*list.Element),
		order:  list.New(),
		logger: options.Logger.With("component", "cache", "cache", name),
	}

	if options.PersistPath != "" {
		c.loadFromDisk()
	}
	return c
}

// Name returns the cache name.
func (c *Cache) Name() string {
	return c.opts.Name
}

// Get returns the value for key.
//
// # Description
//
// A hit bumps the entry's access count and recency and counts toward the
// hit rate. An absent key is a miss. An expired entry is evicted lazily,
// counting both a miss and an expiration.
func (c *Cache) Get(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.elems[key]
	if !ok {
		c.stats.Misses++
		recordMiss(c.opts.Name)
		return nil, false
	}

	rec := elem.Value.(*record)
	now := time.Now()
	if rec.entry.expired(now, c.opts.TTL) {
		c.removeLocked(key)
		c.stats.Expirations++
		c.stats.Misses++
		recordExpiration(c.opts.Name)
		recordMiss(c.opts.Name)
		return nil, false
	}

	rec.entry.AccessCount++
	rec.entry.LastAccess = now
	c.order.MoveToBack(elem)
	c.stats.Hits++
	recordHit(c.opts.Name)
	return rec.entry.Value, true
}

// Peek returns the value for key without touching stats or recency.
func (c *Cache) Peek(key string) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.elems[key]
	if !ok {
		return nil, false
	}
	rec := elem.Value.(*record)
	if rec.entry.expired(time.Now(), c.opts.TTL) {
		return nil, false
	}
	return rec.entry.Value, true
}

// Metadata returns a copy of the metadata for key, without touching
// stats or recency.
func (c *Cache) Metadata(key string) (map[string]any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.elems[key]
	if !ok {
		return nil, false
	}
	rec := elem.Value.(*record)
	if rec.entry.expired(time.Now(), c.opts.TTL) {
		return nil, false
	}
	md := make(map[string]any, len(rec.entry.Metadata))
	for k, v := range rec.entry.Metadata {
		md[k] = v
	}
	return md, true
}

// Set stores a value under key.
//
// # Description
//
// Any pre-existing entry for the key is replaced (its size subtracted
// first). Least-recently-used entries are evicted one at a time until
// both the entry-count and total-size bounds hold, or the cache is
// empty. Every 100th insertion also sweeps out all expired entries.
func (c *Cache) Set(key string, value any, metadata map[string]any) {
	size := estimateSize(value)

	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.elems[key]; ok {
		c.removeLocked(key)
	}

	// Evict oldest entries until the new entry fits.
	for c.order.Len() > 0 &&
		(c.order.Len() >= c.opts.MaxEntries ||
			c.stats.TotalSize+size > c.opts.MaxSizeBytes) {
		oldest := c.order.Front()
		c.removeLocked(oldest.Value.(*record).key)
		c.stats.Evictions++
		recordEviction(c.opts.Name)
	}

	now := time.Now()
	entry := &Entry{
		Value:      value,
		Timestamp:  now,
		Size:       size,
		LastAccess: now,
		Metadata:   metadata,
	}
	c.elems[key] = c.order.PushBack(&record{key: key, entry: entry})
	c.stats.TotalSize += size

	c.sets++
	if c.sets%sweepInterval == 0 {
		c.purgeExpiredLocked()
	}
}

// GetOrCompute returns the cached value for key, computing and caching
// it on a miss.
//
// # Description
//
// Concurrent callers for the same key are deduplicated with
// singleflight: exactly one runs compute, the rest share its result.
// Compute errors are returned and nothing is cached.
func (c *Cache) GetOrCompute(key string, compute func() (any, error)) (any, error) {
	if v, ok := c.Get(key); ok {
		return v, nil
	}

	v, err, _ := c.flight.Do(key, func() (any, error) {
		// Re-check: another flight may have filled the key already.
		if v, ok := c.Get(key); ok {
			return v, nil
		}
		v, err := compute()
		if err != nil {
			return nil, err
		}
		c.Set(key, v, nil)
		return v, nil
	})
	return v, err
}

// Invalidate removes one entry if present and reports whether anything
// was removed. Idempotent.
func (c *Cache) Invalidate(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if _, ok := c.elems[key]; !ok {
		return false
	}
	c.removeLocked(key)
	return true
}

// KeysWithPrefix returns all live keys starting with prefix.
func (c *Cache) KeysWithPrefix(prefix string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()

	var keys []string
	for key := range c.elems {
		if strings.HasPrefix(key, prefix) {
			keys = append(keys, key)
		}
	}
	return keys
}

// Clear removes all entries and resets the running size. Hit and miss
// counters are preserved.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.elems = make(map[string]*list.Element)
	c.order.Init()
	c.stats.TotalSize = 0
}

// Len returns the current entry count.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// StatsSnapshot is a point-in-time view of cache effectiveness.
type StatsSnapshot struct {
	Name           string  `json:"name"`
	Entries        int     `json:"entries"`
	TotalSizeBytes int64   `json:"total_size_bytes"`
	TotalSizeMB    float64 `json:"total_size_mb"`
	Hits           int64   `json:"hits"`
	Misses         int64   `json:"misses"`
	HitRate        float64 `json:"hit_rate"`
	Evictions      int64   `json:"evictions"`
	Expirations    int64   `json:"expirations"`
	TTLSeconds     float64 `json:"ttl_seconds"`
	MaxEntries     int     `json:"max_entries"`
	MaxSizeMB      float64 `json:"max_size_mb"`
}

// Stats returns a snapshot of the cache counters. HitRate is a
// percentage; it is 0 when no requests have been made.
func (c *Cache) Stats() StatsSnapshot {
	c.mu.Lock()
	defer c.mu.Unlock()

	snap := StatsSnapshot{
		Name:           c.opts.Name,
		Entries:        c.order.Len(),
		TotalSizeBytes: c.stats.TotalSize,
		TotalSizeMB:    float64(c.stats.TotalSize) / (1024 * 1024),
		Hits:           c.stats.Hits,
		Misses:         c.stats.Misses,
		Evictions:      c.stats.Evictions,
		Expirations:    c.stats.Expirations,
		TTLSeconds:     c.opts.TTL.Seconds(),
		MaxEntries:     c.opts.MaxEntries,
		MaxSizeMB:      float64(c.opts.MaxSizeBytes) / (1024 * 1024),
	}
	if total := c.stats.Hits + c.stats.Misses; total > 0 {
		snap.HitRate = float64(c.stats.Hits) / float64(total) * 100
	}
	return snap
}

// removeLocked drops one entry and adjusts the running size.
// Caller must hold c.mu.
func (c *Cache) removeLocked(key string) {
	elem, ok := c.elems[key]
	if !ok {
		return
	}
	rec := elem.Value.(*record)
	c.stats.TotalSize -= rec.entry.Size
	c.order.Remove(elem)
	delete(c.elems, key)
}

// purgeExpiredLocked sweeps out all currently-expired entries.
// Caller must hold c.mu.
func (c *Cache) purgeExpiredLocked() {
	if c.opts.TTL <= 0 {
		return
	}
	now := time.Now()
	var stale []string
	for key, elem := range c.elems {
		if elem.Value.(*record).entry.expired(now, c.opts.TTL) {
			stale = append(stale, key)
		}
	}
	for _, key := range stale {
		c.removeLocked(key)
		c.stats.Expirations++
		recordExpiration(c.opts.Name)
	}
}
