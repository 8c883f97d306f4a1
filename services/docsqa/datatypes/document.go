// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"strings"
)

// Document is one ingested source file. Identity is the Source filename
// (or the final URL path segment for URL ingestion).
type Document struct {
	Source string
	Text   string
	// Hash is the sha256 of the raw bytes. Re-chunking happens only when
	// this changes.
	Hash string
}

// NewDocument computes the content hash over the raw bytes so encoding
// normalization can never mask a change.
func NewDocument(source, text string) Document {
	sum := sha256.Sum256([]byte(text))
	return Document{
		Source: source,
		Text:   text,
		Hash:   hex.EncodeToString(sum[:]),
	}
}

// Chunk is an immutable, addressable span of a document. ChunkID is a
// zero-padded ordinal ("chunk-00", "chunk-01", ...) scoped per Source, so
// two documents each have their own chunk-00.
type Chunk struct {
	Source  string
	ChunkID string
	Section string
	Text    string
}

// CitationKey returns the canonical "<source>#chunk-XX" key used in
// citation tokens and deduplication.
func (c Chunk) CitationKey() string {
	return fmt.Sprintf("%s#%s", c.Source, c.ChunkID)
}

// RetrievedItem is a chunk reference plus its relevance score for one
// retrieval call. Vector is populated by index adapters that can return it,
// and is only used by the diversity re-ranking pass.
type RetrievedItem struct {
	Chunk  Chunk
	Score  float64
	Rank   int
	Vector []float32
}

// snippetMaxLen bounds citation snippets; matches the wire contract.
const snippetMaxLen = 240

// Snippet renders a chunk's text as a single-line display snippet.
func (c Chunk) Snippet() string {
	s := strings.ReplaceAll(strings.TrimSpace(c.Text), "\n", " ")
	if len(s) > snippetMaxLen {
		s = s[:snippetMaxLen] + "..."
	}
	return s
}

// CitationFor builds the wire citation for a retrieved chunk.
func (c Chunk) CitationFor() Citation {
	return Citation{
		Source:  c.Source,
		ChunkID: c.ChunkID,
		Snippet: c.Snippet(),
	}
}
