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

func TestSave_NoPathIsNoop(t *testing.T) {
	c := New("test")
	c.Set("k", "v", nil)
	require.NoError(t, c.Save())
}

func TestSaveLoad_Roundtrip(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cache")

	c := New("test", WithPersistPath(path), WithTTL(time.Hour))
	c.Set("k1", "v1", map[string]any{"source": "unit"})
	c.Set("k2", "v2", nil)
	c.Get("k1")
	c.Get("absent")
	require.NoError(t, c.Save())

	restored := New("test", WithPersistPath(path), WithTTL(time.Hour))
	assert.Equal(t, 2, restored.Len())

	v, ok := restored.Get("k1")
	require.True(t, ok)
	assert.Equal(t, "v1", v)

	md, ok := restored.Metadata("k2")
	require.True(t, ok)
	assert.Empty(t, md)

	stats := restored.Stats()
	assert.Equal(t, int64(2), stats.Hits, "counters survive the round trip plus the re-read")
	assert.Equal(t, int64(1), stats.Misses)
}

func TestLoad_PurgesExpired(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cache")

	c := New("test", WithPersistPath(path), WithTTL(10*time.Millisecond))
	c.Set("k", "v", nil)
	require.NoError(t, c.Save())

	time.Sleep(20 * time.Millisecond)

	restored := New("test", WithPersistPath(path), WithTTL(10*time.Millisecond))
	assert.Equal(t, 0, restored.Len(), "entries expired on disk must not resurrect")
}

func TestLoad_CorruptSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cache")
	require.NoError(t, os.WriteFile(path, []byte("not a gob stream"), 0o644))

	c := New("test", WithPersistPath(path))
	assert.Equal(t, 0, c.Len())

	// The cache stays usable.
	c.Set("k", "v", nil)
	_, ok := c.Get("k")
	assert.True(t, ok)
}

func TestLoad_MissingSnapshotStartsEmpty(t *testing.T) {
	path := filepath.Join(t.TempDir(), "never-written.cache")
	c := New("test", WithPersistPath(path))
	assert.Equal(t, 0, c.Len())
}

func TestSaveLoad_PreservesRecency(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.cache")

	c := New("test", WithPersistPath(path), WithMaxEntries(2))
	c.Set("old", 1, nil)
	c.Set("new", 2, nil)
	c.Get("old") // "new" is now least recently used
	require.NoError(t, c.Save())

	restored := New("test", WithPersistPath(path), WithMaxEntries(2))
	restored.Set("extra", 3, nil)

	_, ok := restored.Peek("new")
	assert.False(t, ok, "LRU order should survive the round trip")
	_, ok = restored.Peek("old")
	assert.True(t, ok)
}
