// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package index wraps the embedding backend and the nearest-neighbor store
// behind a uniform upsert/query interface, and tracks per-document content
// fingerprints to decide re-indexing.
package index

import (
	"context"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
)

// Adapter is the contract every vector index backend implements.
//
// # Thread Safety
//
// Implementations must be safe for concurrent use. Upsert is per-document
// atomic: a concurrent Query observes either the old or the new complete
// chunk set for a source, never a mix.
type Adapter interface {
	// Upsert replaces the indexed chunk set for doc.Source with chunks.
	// It is idempotent: re-upserting identical chunks must not create
	// duplicate vector entries.
	Upsert(ctx context.Context, doc datatypes.Document, chunks []datatypes.Chunk) error

	// Query returns up to topK items in descending similarity order.
	// Score ties break by ascending chunk_id for determinism.
	Query(ctx context.Context, text string, topK int) ([]datatypes.RetrievedItem, error)

	// NeedsReindex reports whether doc's content (or the indexing
	// configuration) changed since it was last upserted. A document never
	// seen before needs indexing.
	NeedsReindex(ctx context.Context, doc datatypes.Document) (bool, error)
}

// SortItems orders retrieved items descending by score, ties broken by
// ascending (source, chunk_id), and assigns ranks. Shared by both adapter
// implementations and the retriever so their ordering guarantees match.
func SortItems(items []datatypes.RetrievedItem) {
	// Insertion sort keeps this dependency-free and stable; result sets
	// are topK-sized.
	for i := 1; i < len(items); i++ {
		for j := i; j > 0 && lessItem(items[j], items[j-1]); j-- {
			items[j], items[j-1] = items[j-1], items[j]
		}
	}
	for i := range items {
		items[i].Rank = i + 1
	}
}

func lessItem(a, b datatypes.RetrievedItem) bool {
	if a.Score != b.Score {
		return a.Score > b.Score
	}
	if a.Chunk.Source != b.Chunk.Source {
		return a.Chunk.Source < b.Chunk.Source
	}
	return a.Chunk.ChunkID < b.Chunk.ChunkID
}
