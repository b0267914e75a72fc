// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
)

// FileContentTTL is the lifetime of cached file contents.
const FileContentTTL = 60 * time.Second

// watchIgnoreDirs are directory names never watched for invalidation.
var watchIgnoreDirs = map[string]struct{}{
	".git":         {},
	".rev":         {},
	"node_modules": {},
	"vendor":       {},
}

// FileContentCache caches file contents keyed by path and mtime.
//
// # Description
//
// The primary key is "{abs_path}:{mtime}", so a file edit naturally
// misses. A touch that changes mtime without changing content is
// detected by content hash: the stale entry is re-keyed under the new
// mtime and served as a hit. Stale entries for a path are dropped on a
// true miss.
//
// # Thread Safety
//
// Safe for concurrent use.
type FileContentCache struct {
	cache  *Cache
	logger *slog.Logger
}

// NewFileContentCache creates a file-content cache.
func NewFileContentCache(opts ...Option) *FileContentCache {
	base := []Option{
		WithTTL(FileContentTTL),
		WithMaxEntries(500),
		WithMaxSizeBytes(50 * 1024 * 1024),
	}
	c := New("file_content", append(base, opts...)...)
	return &FileContentCache{
		cache:  c,
		logger: c.logger,
	}
}

// Cache exposes the underlying cache (stats, clear, save).
func (c *FileContentCache) Cache() *Cache {
	return c.cache
}

// GetFile returns the cached content of path.
//
// # Description
//
// Returns ("", false) if the file does not exist or is not cached at
// its current mtime. Before giving up on an mtime miss, the file is
// read and hashed; if an entry for the same path holds identical
// content under an older mtime, that entry is re-keyed and served
// (protects against mtime-only touches). Otherwise all stale entries
// for the path are invalidated and the caller must read and SetFile.
func (c *FileContentCache) GetFile(path string) (string, bool) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", false
	}

	key := fileKey(abs, info.ModTime())
	if v, ok := c.cache.Get(key); ok {
		return v.(string), true
	}

	// Miss at this mtime. Hash the current content and look for an
	// entry that matches under an older mtime.
	data, err := os.ReadFile(abs)
	if err != nil {
		return "", false
	}
	hash := hashContent(data)

	stale := c.cache.KeysWithPrefix(abs + ":")
	for _, k := range stale {
		md, ok := c.cache.Metadata(k)
		if !ok {
			continue
		}
		if md["content_hash"] == hash {
			// Same bytes, new mtime: re-key and treat as a hit.
			c.cache.Invalidate(k)
			md["mtime"] = info.ModTime().UnixNano()
			content := string(data)
			c.cache.Set(key, content, md)
			return content, true
		}
	}

	// Content actually changed: drop every stale entry for this path.
	for _, k := range stale {
		c.cache.Invalidate(k)
	}
	return "", false
}

// SetFile caches content for path under its current mtime.
func (c *FileContentCache) SetFile(path, content string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return err
	}
	info, err := os.Stat(abs)
	if err != nil {
		return err
	}

	c.cache.Set(fileKey(abs, info.ModTime()), content, map[string]any{
		"file_path":    abs,
		"mtime":        info.ModTime().UnixNano(),
		"content_hash": hashContent([]byte(content)),
	})
	return nil
}

// InvalidateFile removes all cached entries for any mtime of path.
// Returns the number of entries removed.
func (c *FileContentCache) InvalidateFile(path string) int {
	abs, err := filepath.Abs(path)
	if err != nil {
		return 0
	}

	removed := 0
	for _, k := range c.cache.KeysWithPrefix(abs + ":") {
		if c.cache.Invalidate(k) {
			removed++
		}
	}
	return removed
}

// Watch invalidates cached entries as files under root change.
//
// # Description
//
// Starts an fsnotify watcher over root and its subdirectories (skipping
// .git, .rev, node_modules, vendor). Write, remove, and rename events
// invalidate the affected path; newly created directories are added to
// the watch set. Watcher errors are logged and the watcher keeps
// running.
//
// # Outputs
//
//   - func(): Stop function. Must be called to release the watcher.
//   - error: Non-nil if the watcher cannot be created or root walked.
func (c *FileContentCache) Watch(root string) (func(), error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("creating watcher: %w", err)
	}

	err = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if !d.IsDir() {
			return nil
		}
		if _, skip := watchIgnoreDirs[d.Name()]; skip && path != root {
			return filepath.SkipDir
		}
		return watcher.Add(path)
	})
	if err != nil {
		watcher.Close()
		return nil, fmt.Errorf("watching %s: %w", root, err)
	}

	done := make(chan struct{})
	go func() {
		for {
			select {
			case <-done:
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				c.handleEvent(watcher, event)
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				c.logger.Warn("file watcher error", "error", err)
			}
		}
	}()

	var stopOnce sync.Once
	stop := func() {
		stopOnce.Do(func() {
			close(done)
			watcher.Close()
		})
	}
	return stop, nil
}

func (c *FileContentCache) handleEvent(watcher *fsnotify.Watcher, event fsnotify.Event) {
	if event.Op&(fsnotify.Write|fsnotify.Remove|fsnotify.Rename) != 0 {
		if n := c.InvalidateFile(event.Name); n > 0 {
			c.logger.Debug("invalidated on file change",
				"path", event.Name,
				"entries", n)
		}
	}
	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			base := filepath.Base(event.Name)
			if _, skip := watchIgnoreDirs[base]; !skip {
				_ = watcher.Add(event.Name)
			}
		}
	}
}

// fileKey builds the "{abs_path}:{mtime}" primary key.
func fileKey(abs string, mtime time.Time) string {
	return fmt.Sprintf("%s:%d", abs, mtime.UnixNano())
}

// hashContent returns the hex SHA-256 of content.
func hashContent(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}
