// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"crypto/sha256"
	"encoding/gob"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	openai "github.com/sashabaranov/go-openai"

	"github.com/revlabs/rev/internal/storage/badgerstore"
)

// LLMResponseTTL is the lifetime of cached LLM responses.
const LLMResponseTTL = time.Hour

// toolsHashCap bounds the tools-hash side map. On overflow the map is
// cleared wholesale rather than evicted piecemeal.
const toolsHashCap = 1000

func init() {
	gob.Register(openai.ChatCompletionResponse{})
}

// LLMResponseCache caches chat completions keyed by a hash of the
// request (messages, tools, model).
//
// # Description
//
// Hashing the messages is unavoidable per call, but the tools list is
// usually the same slice for the lifetime of a session, so its hash is
// memoized by slice identity in a bounded side map. An optional
// badger-backed warm tier makes responses survive process restarts.
//
// # Thread Safety
//
// Safe for concurrent use.
type LLMResponseCache struct {
	cache  *Cache
	warm   *badgerstore.Store
	logger *slog.Logger

	toolsMu     sync.Mutex
	toolsHashes map[string]string
}

// LLMOption configures an LLMResponseCache.
type LLMOption func(*LLMResponseCache)

// WithWarmStore attaches a badger warm tier. The store is consulted on
// in-memory misses and written through on SetResponse. The cache does
// not take ownership; the caller closes the store.
func WithWarmStore(store *badgerstore.Store) LLMOption {
	return func(c *LLMResponseCache) { c.warm = store }
}

// NewLLMResponseCache creates an LLM response cache.
func NewLLMResponseCache(opts []Option, llmOpts ...LLMOption) *LLMResponseCache {
	base := []Option{
		WithTTL(LLMResponseTTL),
		WithMaxEntries(200),
		WithMaxSizeBytes(20 * 1024 * 1024),
	}
	inner := New("llm_response", append(base, opts...)...)

	c := &LLMResponseCache{
		cache:       inner,
		logger:      inner.logger,
		toolsHashes: make(map[string]string),
	}
	for _, opt := range llmOpts {
		opt(c)
	}
	return c
}

// Cache exposes the underlying cache (stats, clear, save).
func (c *LLMResponseCache) Cache() *Cache {
	return c.cache
}

// HashMessages derives the cache key for a chat completion request.
//
// # Description
//
// The key is sha256 over "{messages_hash}:{tools_hash}:{model}", where
// messages_hash is the first 32 hex chars of sha256(json(messages)),
// tools_hash is "no-tools" or the first 16 hex chars of
// sha256(json(tools)), and an empty model is "default". Deterministic:
// identical inputs always produce identical keys.
func (c *LLMResponseCache) HashMessages(messages []openai.ChatCompletionMessage, tools []openai.Tool, model string) string {
	msgJSON, err := json.Marshal(messages)
	if err != nil {
		// Marshal of these types cannot realistically fail; fall back
		// to the formatted value so key derivation never errors.
		msgJSON = []byte(fmt.Sprintf("%+v", messages))
	}
	msgSum := sha256.Sum256(msgJSON)
	msgHash := hex.EncodeToString(msgSum[:])[:32]

	if model == "" {
		model = "default"
	}

	combined := sha256.Sum256([]byte(msgHash + ":" + c.hashTools(tools) + ":" + model))
	return hex.EncodeToString(combined[:])
}

// hashTools returns the memoized hash for a tools slice.
//
// The side map is keyed by slice identity (backing-array pointer and
// length), so an unchanged tools list is never re-serialized. The map
// is capped; on overflow it is cleared wholesale.
func (c *LLMResponseCache) hashTools(tools []openai.Tool) string {
	if tools == nil {
		return "no-tools"
	}

	id := fmt.Sprintf("%p:%d", tools, len(tools))

	c.toolsMu.Lock()
	defer c.toolsMu.Unlock()

	if h, ok := c.toolsHashes[id]; ok {
		return h
	}

	toolsJSON, err := json.Marshal(tools)
	if err != nil {
		toolsJSON = []byte(fmt.Sprintf("%+v", tools))
	}
	sum := sha256.Sum256(toolsJSON)
	h := hex.EncodeToString(sum[:])[:16]

	if len(c.toolsHashes) >= toolsHashCap {
		c.toolsHashes = make(map[string]string)
	}
	c.toolsHashes[id] = h
	return h
}

// GetResponse returns the cached response for a request, if any.
//
// On an in-memory miss the warm tier (when configured) is consulted;
// a warm hit is promoted back into memory.
func (c *LLMResponseCache) GetResponse(messages []openai.ChatCompletionMessage, tools []openai.Tool, model string) (openai.ChatCompletionResponse, bool) {
	key := c.HashMessages(messages, tools, model)

	if v, ok := c.cache.Get(key); ok {
		return v.(openai.ChatCompletionResponse), true
	}

	if c.warm != nil {
		data, ok, err := c.warm.Get(key)
		if err != nil {
			c.logger.Warn("warm tier read failed", "error", err)
		} else if ok {
			var resp openai.ChatCompletionResponse
			if err := json.Unmarshal(data, &resp); err == nil {
				c.cache.Set(key, resp, map[string]any{
					"messages_count": len(messages),
					"model":          model,
				})
				return resp, true
			}
			c.logger.Warn("warm tier entry corrupt, dropping", "key", key)
			_ = c.warm.Delete(key)
		}
	}

	return openai.ChatCompletionResponse{}, false
}

// SetResponse caches a response for a request, writing through to the
// warm tier when configured.
func (c *LLMResponseCache) SetResponse(messages []openai.ChatCompletionMessage, tools []openai.Tool, model string, resp openai.ChatCompletionResponse) {
	key := c.HashMessages(messages, tools, model)

	c.cache.Set(key, resp, map[string]any{
		"messages_count": len(messages),
		"model":          model,
	})

	if c.warm != nil {
		data, err := json.Marshal(resp)
		if err != nil {
			c.logger.Warn("warm tier encode failed", "error", err)
			return
		}
		if err := c.warm.SetWithTTL(key, data, LLMResponseTTL); err != nil {
			c.logger.Warn("warm tier write failed", "error", err)
		}
	}
}
