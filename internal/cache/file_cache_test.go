// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeTestFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestFileCache_SetGet(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.go", "package a\n")

	c := NewFileContentCache()
	require.NoError(t, c.SetFile(path, "package a\n"))

	content, ok := c.GetFile(path)
	require.True(t, ok)
	assert.Equal(t, "package a\n", content)
}

func TestFileCache_MissingFile(t *testing.T) {
	c := NewFileContentCache()
	_, ok := c.GetFile(filepath.Join(t.TempDir(), "nope.go"))
	assert.False(t, ok)
}

func TestFileCache_ContentChangeMisses(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.go", "v1")

	c := NewFileContentCache()
	require.NoError(t, c.SetFile(path, "v1"))

	// Rewrite with different content and a guaranteed-new mtime.
	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Second)))

	_, ok := c.GetFile(path)
	assert.False(t, ok, "changed content must miss")
	assert.Equal(t, 0, c.Cache().Len(), "stale entries for the path are dropped")

	require.NoError(t, c.SetFile(path, "v2"))
	content, ok := c.GetFile(path)
	require.True(t, ok)
	assert.Equal(t, "v2", content)
}

func TestFileCache_MtimeTouchStillHits(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.go", "same content")

	c := NewFileContentCache()
	require.NoError(t, c.SetFile(path, "same content"))

	// Touch: mtime changes, bytes do not.
	require.NoError(t, os.Chtimes(path, time.Now(), time.Now().Add(time.Second)))

	content, ok := c.GetFile(path)
	require.True(t, ok, "identical content under a new mtime should hit")
	assert.Equal(t, "same content", content)
	assert.Equal(t, 1, c.Cache().Len(), "entry is re-keyed, not duplicated")

	// The re-keyed entry now serves the fast path.
	content, ok = c.GetFile(path)
	require.True(t, ok)
	assert.Equal(t, "same content", content)
}

func TestFileCache_InvalidateFile(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.go", "v1")

	c := NewFileContentCache()
	require.NoError(t, c.SetFile(path, "v1"))

	assert.Equal(t, 1, c.InvalidateFile(path))
	assert.Equal(t, 0, c.InvalidateFile(path))

	_, ok := c.GetFile(path)
	assert.False(t, ok)
}

func TestFileCache_WatchInvalidatesOnWrite(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.go", "v1")

	c := NewFileContentCache()
	require.NoError(t, c.SetFile(path, "v1"))

	stop, err := c.Watch(dir)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.WriteFile(path, []byte("v2"), 0o644))

	require.Eventually(t, func() bool {
		return len(c.Cache().KeysWithPrefix(path+":")) == 0
	}, 2*time.Second, 10*time.Millisecond, "write event should invalidate the cached entry")
}

func TestFileCache_WatchRemove(t *testing.T) {
	dir := t.TempDir()
	path := writeTestFile(t, dir, "a.go", "v1")

	c := NewFileContentCache()
	require.NoError(t, c.SetFile(path, "v1"))

	stop, err := c.Watch(dir)
	require.NoError(t, err)
	defer stop()

	require.NoError(t, os.Remove(path))

	require.Eventually(t, func() bool {
		return len(c.Cache().KeysWithPrefix(path+":")) == 0
	}, 2*time.Second, 10*time.Millisecond)
}

func TestFileCache_WatchStopIdempotent(t *testing.T) {
	dir := t.TempDir()
	c := NewFileContentCache()

	stop, err := c.Watch(dir)
	require.NoError(t, err)
	stop()
	stop()
}
