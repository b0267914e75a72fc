// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// DependencyTreeTTL is the lifetime of cached dependency analyses.
const DependencyTreeTTL = 10 * time.Minute

// manifestFiles maps a language to its candidate manifest filenames,
// in lookup order. The first file that exists under the project root
// wins.
var manifestFiles = map[string][]string{
	"python":     {"requirements.txt", "pyproject.toml"},
	"javascript": {"package.json"},
	"rust":       {"Cargo.toml"},
	"go":         {"go.mod"},
}

// DependencyTreeCache caches serialized dependency analyses keyed by
// language, manifest path, and manifest mtime.
//
// # Description
//
// The manifest mtime is part of the key, so editing the manifest
// naturally invalidates the analysis. A language with no manifest file
// under the project root always misses and never stores.
//
// # Thread Safety
//
// Safe for concurrent use.
type DependencyTreeCache struct {
	cache  *Cache
	root   string
	logger *slog.Logger
}

// NewDependencyTreeCache creates a dependency-tree cache for the given
// project root.
func NewDependencyTreeCache(root string, opts ...Option) *DependencyTreeCache {
	base := []Option{
		WithTTL(DependencyTreeTTL),
		WithMaxEntries(20),
		WithMaxSizeBytes(10 * 1024 * 1024),
	}
	inner := New("dependency_tree", append(base, opts...)...)

	return &DependencyTreeCache{
		cache:  inner,
		root:   root,
		logger: inner.logger,
	}
}

// Cache exposes the underlying cache (stats, clear, save).
func (c *DependencyTreeCache) Cache() *Cache {
	return c.cache
}

// GetDependencies returns the cached analysis for language, if any.
func (c *DependencyTreeCache) GetDependencies(language string) (string, bool) {
	key, ok := c.dependencyKey(language)
	if !ok {
		return "", false
	}
	v, ok := c.cache.Get(key)
	if !ok {
		return "", false
	}
	return v.(string), true
}

// SetDependencies caches a serialized dependency analysis for language.
// Reports whether the value was stored; a language with no manifest
// file is never stored.
func (c *DependencyTreeCache) SetDependencies(language, analysis string) bool {
	key, ok := c.dependencyKey(language)
	if !ok {
		return false
	}
	c.cache.Set(key, analysis, map[string]any{
		"language": language,
	})
	return true
}

// ManifestPath returns the manifest file used for language, if one
// exists under the project root.
func (c *DependencyTreeCache) ManifestPath(language string) (string, bool) {
	candidates, ok := manifestFiles[language]
	if !ok {
		return "", false
	}
	for _, name := range candidates {
		path := filepath.Join(c.root, name)
		if _, err := os.Stat(path); err == nil {
			return path, true
		}
	}
	return "", false
}

// dependencyKey builds "{language}:{manifest_path}:{mtime}" for the
// first existing manifest, or ok=false when none exists (always-miss).
func (c *DependencyTreeCache) dependencyKey(language string) (string, bool) {
	path, ok := c.ManifestPath(language)
	if !ok {
		return "", false
	}
	abs, err := filepath.Abs(path)
	if err != nil {
		return "", false
	}
	info, err := os.Stat(abs)
	if err != nil {
		return "", false
	}
	return fmt.Sprintf("%s:%s:%d", language, abs, info.ModTime().UnixNano()), true
}
