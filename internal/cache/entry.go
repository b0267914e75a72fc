// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"encoding/json"
	"time"
)

// Entry is a single cached value with bookkeeping metadata.
//
// An Entry is owned exclusively by one Cache instance: it is created on
// Set, mutated (AccessCount, LastAccess) on Get hits, and destroyed on
// eviction, expiration, invalidation, or Clear.
type Entry struct {
	// Value is the cached payload.
	Value any

	// Timestamp is when the entry was created. TTL is measured from here.
	Timestamp time.Time

	// Size is the estimated payload size in bytes.
	Size int64

	// AccessCount is the number of Get hits on this entry.
	AccessCount int64

	// LastAccess is when the entry was last read.
	LastAccess time.Time

	// Metadata carries caller-supplied context (file path, model name, ...).
	Metadata map[string]any
}

// expired reports whether the entry is past its TTL at the given time.
// A non-positive TTL means entries never expire by time.
func (e *Entry) expired(now time.Time, ttl time.Duration) bool {
	if ttl <= 0 {
		return false
	}
	return now.Sub(e.Timestamp) > ttl
}

// estimateSize returns a best-effort byte-size estimate for a value.
//
// # Description
//
// Strings and byte slices cost their length; numeric and boolean scalars
// cost a fixed 8 bytes; everything else costs its JSON-serialized length.
// Estimation never fails: unserializable values are counted as 0 bytes.
func estimateSize(v any) int64 {
	switch x := v.(type) {
	case nil:
		return 0
	case string:
		return int64(len(x))
	case []byte:
		return int64(len(x))
	case bool,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64,
		time.Duration:
		return 8
	default:
		return serializedSize(v)
	}
}

// serializedSize is the fallback estimator for compound values.
func serializedSize(v any) int64 {
	data, err := json.Marshal(v)
	if err != nil {
		return 0
	}
	return int64(len(data))
}
