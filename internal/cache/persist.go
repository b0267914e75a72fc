// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"encoding/gob"
	"os"
	"path/filepath"
	"time"
)

func init() {
	// Concrete types that may appear inside Entry.Value or Entry.Metadata.
	gob.Register(map[string]any{})
	gob.Register([]any{})
	gob.Register(time.Time{})
}

// snapshotEntry is one persisted entry, ordered LRU-first so recency
// survives a save/load round trip.
type snapshotEntry struct {
	Key   string
	Entry Entry
}

// snapshot is the on-disk representation of a cache.
type snapshot struct {
	Name    string
	Entries []snapshotEntry
	Stats   counters
	SavedAt time.Time
}

// Save writes a best-effort snapshot of the cache to its persist path.
//
// # Description
//
// The snapshot holds the full entry map and counters in gob encoding,
// written to a temp file and renamed into place. A cache without a
// persist path is a no-op. Failures are logged and returned but leave
// the in-memory cache untouched; callers treat them as advisory.
func (c *Cache) Save() error {
	if c.opts.PersistPath == "" {
		return nil
	}

	c.mu.Lock()
	snap := snapshot{
		Name:    c.opts.Name,
		Entries: make([]snapshotEntry, 0, c.order.Len()),
		Stats:   c.stats,
		SavedAt: time.Now(),
	}
	for elem := c.order.Front(); elem != nil; elem = elem.Next() {
		rec := elem.Value.(*record)
		snap.Entries = append(snap.Entries, snapshotEntry{Key: rec.key, Entry: *rec.entry})
	}
	c.mu.Unlock()

	if err := os.MkdirAll(filepath.Dir(c.opts.PersistPath), 0755); err != nil {
		c.logger.Warn("cache snapshot skipped, cannot create directory", "error", err)
		return err
	}

	tmp := c.opts.PersistPath + ".tmp"
	f, err := os.Create(tmp)
	if err != nil {
		c.logger.Warn("cache snapshot skipped, cannot create file", "error", err)
		return err
	}

	if err := gob.NewEncoder(f).Encode(&snap); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		c.logger.Warn("cache snapshot encode failed", "error", err)
		return err
	}
	if err := f.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	if err := os.Rename(tmp, c.opts.PersistPath); err != nil {
		_ = os.Remove(tmp)
		c.logger.Warn("cache snapshot rename failed", "error", err)
		return err
	}

	c.logger.Debug("cache snapshot written",
		"path", c.opts.PersistPath,
		"entries", len(snap.Entries))
	return nil
}

// loadFromDisk restores a snapshot if one exists at the persist path.
//
// Corrupt or unreadable snapshots leave the cache empty. Entries that
// expired while on disk are purged immediately so they never resurrect.
func (c *Cache) loadFromDisk() {
	f, err := os.Open(c.opts.PersistPath)
	if err != nil {
		if !os.IsNotExist(err) {
			c.logger.Warn("cache snapshot unreadable, starting empty", "error", err)
		}
		return
	}
	defer f.Close()

	var snap snapshot
	if err := gob.NewDecoder(f).Decode(&snap); err != nil {
		c.logger.Warn("cache snapshot corrupt, starting empty",
			"path", c.opts.PersistPath,
			"error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	for i := range snap.Entries {
		se := &snap.Entries[i]
		entry := se.Entry
		c.elems[se.Key] = c.order.PushBack(&record{key: se.Key, entry: &entry})
		c.stats.TotalSize += entry.Size
	}
	c.stats.Hits = snap.Stats.Hits
	c.stats.Misses = snap.Stats.Misses
	c.stats.Evictions = snap.Stats.Evictions
	c.stats.Expirations = snap.Stats.Expirations

	c.purgeExpiredLocked()

	c.logger.Debug("cache snapshot loaded",
		"path", c.opts.PersistPath,
		"entries", c.order.Len())
}
