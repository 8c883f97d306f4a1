// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package chunker

import (
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
)

// TestChunk_StableIDs verifies that chunk IDs are zero-padded ordinals
// assigned in document order.
func TestChunk_StableIDs(t *testing.T) {
	c := New(Config{ChunkSize: 60, ChunkOverlap: 10, MinChunkSize: 0})
	doc := datatypes.NewDocument("guide.md", strings.Repeat("alpha beta gamma delta epsilon. ", 20))

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Greater(t, len(chunks), 1)

	for i, ch := range chunks {
		assert.Equal(t, fmt.Sprintf("chunk-%02d", i), ch.ChunkID)
		assert.Equal(t, "guide.md", ch.Source)
	}
}

// TestChunk_Deterministic verifies identical input and config always yield
// identical boundaries and IDs.
func TestChunk_Deterministic(t *testing.T) {
	c := New(DefaultConfig())
	doc := datatypes.NewDocument("doc.txt",
		"# Intro\n\nSome introduction text here.\n\n# Usage\n\nUsage instructions follow in detail.")

	first, err := c.Chunk(doc)
	require.NoError(t, err)
	second, err := c.Chunk(doc)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

// TestChunk_PerSourceScoping verifies two documents each start at chunk-00.
func TestChunk_PerSourceScoping(t *testing.T) {
	c := New(DefaultConfig())

	a, err := c.Chunk(datatypes.NewDocument("a.txt", "Content of document A."))
	require.NoError(t, err)
	b, err := c.Chunk(datatypes.NewDocument("b.txt", "Content of document B."))
	require.NoError(t, err)

	require.Len(t, a, 1)
	require.Len(t, b, 1)
	assert.Equal(t, "chunk-00", a[0].ChunkID)
	assert.Equal(t, "chunk-00", b[0].ChunkID)
	assert.NotEqual(t, a[0].CitationKey(), b[0].CitationKey())
}

// TestChunk_ATXSections verifies markdown headings produce titled sections
// with the title prefixed into the chunk text.
func TestChunk_ATXSections(t *testing.T) {
	c := New(DefaultConfig())
	doc := datatypes.NewDocument("readme.md",
		"# Install\n\nRun the installer.\n\n## Configure\n\nEdit the config file.")

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)

	assert.Equal(t, "Install", chunks[0].Section)
	assert.True(t, strings.HasPrefix(chunks[0].Text, "Install"))
	assert.Contains(t, chunks[0].Text, "Run the installer.")

	assert.Equal(t, "Configure", chunks[1].Section)
	assert.Contains(t, chunks[1].Text, "Edit the config file.")
}

// TestChunk_SetextSections verifies underlined headings are recognized.
func TestChunk_SetextSections(t *testing.T) {
	c := New(DefaultConfig())
	doc := datatypes.NewDocument("notes.txt",
		"Overview\n========\n\nThe overview body.\n\nDetails\n-------\n\nThe details body.")

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 2)
	assert.Equal(t, "Overview", chunks[0].Section)
	assert.Equal(t, "Details", chunks[1].Section)
}

// TestChunk_NoHeadings verifies a heading-free document becomes a single
// untitled section.
func TestChunk_NoHeadings(t *testing.T) {
	c := New(DefaultConfig())
	doc := datatypes.NewDocument("plain.txt", "Just a short paragraph with no headings at all.")

	chunks, err := c.Chunk(doc)
	require.NoError(t, err)
	require.Len(t, chunks, 1)
	assert.Equal(t, "", chunks[0].Section)
}

// TestChunk_EmptyDocument verifies empty input yields no chunks.
func TestChunk_EmptyDocument(t *testing.T) {
	c := New(DefaultConfig())

	chunks, err := c.Chunk(datatypes.NewDocument("empty.txt", "   \n\n  "))
	require.NoError(t, err)
	assert.Empty(t, chunks)
}

// TestChunk_MicroChunkMerge verifies trailing fragments below the minimum
// size are folded into their predecessor instead of standing alone.
func TestChunk_MicroChunkMerge(t *testing.T) {
	c := New(Config{ChunkSize: 50, ChunkOverlap: 0, MinChunkSize: 20})
	text := strings.Repeat("longer sentence fragment here. ", 4) + "tail"

	chunks, err := c.Chunk(datatypes.NewDocument("doc.txt", text))
	require.NoError(t, err)
	require.NotEmpty(t, chunks)

	// The 4-byte tail must not be its own chunk.
	last := chunks[len(chunks)-1]
	assert.NotEqual(t, "tail", last.Text)
	assert.Contains(t, last.Text, "tail")
}

// TestIsSetextUnderline covers the underline edge cases.
func TestIsSetextUnderline(t *testing.T) {
	assert.True(t, isSetextUnderline("==="))
	assert.True(t, isSetextUnderline("-----"))
	assert.False(t, isSetextUnderline("--"))
	assert.False(t, isSetextUnderline("=-= x"))
	assert.False(t, isSetextUnderline(""))
}
