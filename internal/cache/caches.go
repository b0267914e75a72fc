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

	"github.com/revlabs/rev/internal/storage/badgerstore"
)

// Caches bundles the per-concern caches for one workspace.
//
// # Description
//
// Construct one bundle per process with Initialize and pass it to the
// components that need it. Each cache snapshots to its own file under
// the cache directory; the LLM cache additionally gets a badger warm
// tier when enabled.
//
// # Thread Safety
//
// The bundle is immutable after Initialize; the individual caches are
// safe for concurrent use.
type Caches struct {
	File *FileContentCache
	LLM  *LLMResponseCache
	Repo *RepoContextCache
	Deps *DependencyTreeCache

	warm   *badgerstore.Store
	logger *slog.Logger
}

// CachesConfig configures Initialize.
type CachesConfig struct {
	// Root is the workspace root the caches serve.
	Root string

	// CacheDir is where snapshots and the warm tier live.
	// Default: "<Root>/.rev/cache".
	CacheDir string

	// WarmTier enables the badger-backed warm tier for LLM responses.
	WarmTier bool

	// Logger for cache operations. Default: slog.Default().
	Logger *slog.Logger
}

// Initialize builds the cache bundle for a workspace.
func Initialize(cfg CachesConfig) (*Caches, error) {
	if cfg.Root == "" {
		return nil, fmt.Errorf("cache: Root is required")
	}
	if cfg.CacheDir == "" {
		cfg.CacheDir = filepath.Join(cfg.Root, ".rev", "cache")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating cache dir: %w", err)
	}

	snap := func(name string) Option {
		return WithPersistPath(filepath.Join(cfg.CacheDir, name+".cache"))
	}

	b := &Caches{
		File:   NewFileContentCache(snap("file_content"), WithLogger(logger)),
		Repo:   NewRepoContextCache(cfg.Root, snap("repo_context"), WithLogger(logger)),
		Deps:   NewDependencyTreeCache(cfg.Root, snap("dependency_tree"), WithLogger(logger)),
		logger: logger,
	}

	llmOpts := []Option{snap("llm_response"), WithLogger(logger)}
	if cfg.WarmTier {
		storeCfg := badgerstore.DefaultConfig(filepath.Join(cfg.CacheDir, "llm_warm"))
		storeCfg.Logger = logger
		warm, err := badgerstore.Open(storeCfg)
		if err != nil {
			return nil, fmt.Errorf("opening warm tier: %w", err)
		}
		b.warm = warm
		b.LLM = NewLLMResponseCache(llmOpts, WithWarmStore(warm))
	} else {
		b.LLM = NewLLMResponseCache(llmOpts)
	}

	return b, nil
}

// all returns the underlying caches in stable order.
func (b *Caches) all() []*Cache {
	return []*Cache{
		b.File.Cache(),
		b.LLM.Cache(),
		b.Repo.Cache(),
		b.Deps.Cache(),
	}
}

// Stats returns a snapshot for every cache in the bundle.
func (b *Caches) Stats() []StatsSnapshot {
	stats := make([]StatsSnapshot, 0, 4)
	for _, c := range b.all() {
		stats = append(stats, c.Stats())
	}
	return stats
}

// ClearAll empties every cache. Hit and miss counters are preserved.
func (b *Caches) ClearAll() {
	for _, c := range b.all() {
		c.Clear()
	}
}

// SaveAll snapshots every cache to disk. Failures are collected; the
// remaining caches are still saved.
func (b *Caches) SaveAll() error {
	var firstErr error
	for _, c := range b.all() {
		if err := c.Save(); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// Close saves all snapshots and releases the warm tier.
func (b *Caches) Close() error {
	err := b.SaveAll()
	if b.warm != nil {
		if cerr := b.warm.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}
