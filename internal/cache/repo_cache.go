// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"context"
	"log/slog"
	"os/exec"
	"strings"
	"time"
)

// RepoContextTTL is the lifetime of the cached repo context.
const RepoContextTTL = 30 * time.Second

// headResolveTimeout bounds the git subprocess used for key derivation.
const headResolveTimeout = 5 * time.Second

// HeadResolver resolves the current git HEAD commit, returning "no-git"
// on any failure. Injected for testing.
type HeadResolver func(ctx context.Context) string

// RepoContextCache caches the serialized repository context keyed by
// the current git HEAD commit.
//
// # Description
//
// HEAD is resolved fresh on every get and set, so the cache key itself
// carries the invalidation signal: a new commit produces a new key and
// the stale context simply ages out. When the workspace is not a git
// repository (or git is missing or slow), the literal key segment
// "no-git" is used instead.
//
// # Thread Safety
//
// Safe for concurrent use.
type RepoContextCache struct {
	cache       *Cache
	resolveHead HeadResolver
	logger      *slog.Logger
}

// NewRepoContextCache creates a repo-context cache for the given
// workspace root.
func NewRepoContextCache(root string, opts ...Option) *RepoContextCache {
	base := []Option{
		WithTTL(RepoContextTTL),
		WithMaxEntries(10),
		WithMaxSizeBytes(10 * 1024 * 1024),
	}
	inner := New("repo_context", append(base, opts...)...)

	c := &RepoContextCache{
		cache:  inner,
		logger: inner.logger,
	}
	c.resolveHead = func(ctx context.Context) string {
		return resolveGitHead(ctx, root, c.logger)
	}
	return c
}

// Cache exposes the underlying cache (stats, clear, save).
func (c *RepoContextCache) Cache() *Cache {
	return c.cache
}

// SetHeadResolver overrides HEAD resolution (testing).
func (c *RepoContextCache) SetHeadResolver(resolve HeadResolver) {
	c.resolveHead = resolve
}

// GetContext returns the cached repo context for the current HEAD.
func (c *RepoContextCache) GetContext(ctx context.Context) (string, bool) {
	v, ok := c.cache.Get(c.contextKey(ctx))
	if !ok {
		return "", false
	}
	return v.(string), true
}

// SetContext caches the serialized repo context under the current HEAD.
func (c *RepoContextCache) SetContext(ctx context.Context, serialized string) {
	c.cache.Set(c.contextKey(ctx), serialized, map[string]any{
		"size": len(serialized),
	})
}

func (c *RepoContextCache) contextKey(ctx context.Context) string {
	return "context:" + c.resolveHead(ctx)
}

// resolveGitHead runs `git rev-parse HEAD` with a bounded timeout.
// Any failure (not a repo, git missing, timeout) degrades to "no-git".
func resolveGitHead(ctx context.Context, root string, logger *slog.Logger) string {
	ctx, cancel := context.WithTimeout(ctx, headResolveTimeout)
	defer cancel()

	cmd := exec.CommandContext(ctx, "git", "rev-parse", "HEAD")
	cmd.Dir = root

	out, err := cmd.Output()
	if err != nil {
		logger.Debug("HEAD resolution failed, using no-git key", "error", err)
		return "no-git"
	}

	head := strings.TrimSpace(string(out))
	if head == "" {
		return "no-git"
	}
	return head
}
