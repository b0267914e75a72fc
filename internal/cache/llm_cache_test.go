// Copyright (C) 2026 Rev Labs (oss@revlabs.dev)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

package cache

import (
	"testing"

	openai "github.com/sashabaranov/go-openai"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/revlabs/rev/internal/storage/badgerstore"
)

func testMessages(content string) []openai.ChatCompletionMessage {
	return []openai.ChatCompletionMessage{
		{Role: openai.ChatMessageRoleSystem, Content: "you are a coding agent"},
		{Role: openai.ChatMessageRoleUser, Content: content},
	}
}

func testTools() []openai.Tool {
	return []openai.Tool{
		{
			Type: openai.ToolTypeFunction,
			Function: &openai.FunctionDefinition{
				Name:        "read_file",
				Description: "Read a file from the workspace",
			},
		},
	}
}

func TestLLMCache_HashDeterministic(t *testing.T) {
	c := NewLLMResponseCache(nil)
	tools := testTools()

	h1 := c.HashMessages(testMessages("fix the bug"), tools, "gpt-4")
	h2 := c.HashMessages(testMessages("fix the bug"), tools, "gpt-4")
	assert.Equal(t, h1, h2)
	assert.Len(t, h1, 64)
}

func TestLLMCache_HashSensitivity(t *testing.T) {
	c := NewLLMResponseCache(nil)
	tools := testTools()
	base := c.HashMessages(testMessages("fix the bug"), tools, "gpt-4")

	assert.NotEqual(t, base, c.HashMessages(testMessages("add a test"), tools, "gpt-4"),
		"different messages must produce different keys")
	assert.NotEqual(t, base, c.HashMessages(testMessages("fix the bug"), tools, "gpt-3.5"),
		"different models must produce different keys")
	assert.NotEqual(t, base, c.HashMessages(testMessages("fix the bug"), nil, "gpt-4"),
		"tools presence must produce different keys")
}

func TestLLMCache_EmptyModelIsDefault(t *testing.T) {
	c := NewLLMResponseCache(nil)
	msgs := testMessages("hello")

	assert.Equal(t,
		c.HashMessages(msgs, nil, ""),
		c.HashMessages(msgs, nil, "default"))
}

func TestLLMCache_SetGetResponse(t *testing.T) {
	c := NewLLMResponseCache(nil)
	msgs := testMessages("hello")
	resp := openai.ChatCompletionResponse{
		ID:    "resp-1",
		Model: "gpt-4",
		Choices: []openai.ChatCompletionChoice{
			{Message: openai.ChatCompletionMessage{Role: "assistant", Content: "hi"}},
		},
	}

	_, ok := c.GetResponse(msgs, nil, "gpt-4")
	require.False(t, ok)

	c.SetResponse(msgs, nil, "gpt-4", resp)

	got, ok := c.GetResponse(msgs, nil, "gpt-4")
	require.True(t, ok)
	assert.Equal(t, "resp-1", got.ID)
	assert.Equal(t, "hi", got.Choices[0].Message.Content)
}

func TestLLMCache_ToolsHashMemoized(t *testing.T) {
	c := NewLLMResponseCache(nil)
	tools := testTools()

	h1 := c.hashTools(tools)
	h2 := c.hashTools(tools)
	assert.Equal(t, h1, h2)
	assert.Len(t, c.toolsHashes, 1, "same slice should not add a second map entry")

	assert.Equal(t, "no-tools", c.hashTools(nil))
}

func TestLLMCache_ToolsHashMapCapped(t *testing.T) {
	c := NewLLMResponseCache(nil)

	for i := 0; i <= toolsHashCap; i++ {
		tools := make([]openai.Tool, 1, 1+i%7)
		tools[0].Type = openai.ToolTypeFunction
		c.hashTools(tools)
	}

	assert.LessOrEqual(t, len(c.toolsHashes), toolsHashCap,
		"side map must never exceed its cap")
}

func TestLLMCache_WarmTierSurvivesMemoryLoss(t *testing.T) {
	warm, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	defer warm.Close()

	msgs := testMessages("hello")
	resp := openai.ChatCompletionResponse{ID: "resp-warm", Model: "gpt-4"}

	writer := NewLLMResponseCache(nil, WithWarmStore(warm))
	writer.SetResponse(msgs, nil, "gpt-4", resp)

	// A fresh cache shares the warm tier but has empty memory.
	reader := NewLLMResponseCache(nil, WithWarmStore(warm))
	got, ok := reader.GetResponse(msgs, nil, "gpt-4")
	require.True(t, ok, "warm tier should serve the in-memory miss")
	assert.Equal(t, "resp-warm", got.ID)

	// The warm hit is promoted into memory.
	assert.Equal(t, 1, reader.Cache().Len())
}

func TestLLMCache_CorruptWarmEntryDropped(t *testing.T) {
	warm, err := badgerstore.Open(badgerstore.InMemoryConfig())
	require.NoError(t, err)
	defer warm.Close()

	c := NewLLMResponseCache(nil, WithWarmStore(warm))
	msgs := testMessages("hello")
	key := c.HashMessages(msgs, nil, "gpt-4")

	require.NoError(t, warm.SetWithTTL(key, []byte("{corrupt"), 0))

	_, ok := c.GetResponse(msgs, nil, "gpt-4")
	assert.False(t, ok)

	_, exists, err := warm.Get(key)
	require.NoError(t, err)
	assert.False(t, exists, "corrupt warm entry should be deleted")
}
