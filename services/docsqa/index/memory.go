// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package index

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"sync"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
	"github.com/AleutianAI/AleutianDocsQA/services/embedding"
)

// MemoryIndex is the in-process Adapter used in tests and in lightweight
// mode when no Weaviate URL is configured. Vectors are held in RAM and
// searched with exact cosine similarity.
type MemoryIndex struct {
	embedder embedding.Embedder
	fps      FingerprintStore
	cfg      ChunkingConfig

	mu   sync.RWMutex
	docs map[string][]storedChunk
}

// ChunkingConfig is the slice of chunker configuration that participates
// in the index fingerprint.
type ChunkingConfig struct {
	ChunkSize    int
	ChunkOverlap int
}

type storedChunk struct {
	chunk  datatypes.Chunk
	vector []float32
}

// NewMemoryIndex creates an in-memory index.
func NewMemoryIndex(embedder embedding.Embedder, fps FingerprintStore, cfg ChunkingConfig) *MemoryIndex {
	return &MemoryIndex{
		embedder: embedder,
		fps:      fps,
		cfg:      cfg,
		docs:     make(map[string][]storedChunk),
	}
}

// Upsert implements the Adapter interface. The chunk set for doc.Source is
// replaced under one lock acquisition, so readers never observe a partial
// document.
func (m *MemoryIndex) Upsert(ctx context.Context, doc datatypes.Document, chunks []datatypes.Chunk) error {
	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}

	var vectors [][]float32
	err := withRetry(ctx, "embed.batch", func() error {
		var embedErr error
		vectors, embedErr = m.embedder.EmbedBatch(ctx, texts)
		return embedErr
	})
	if err != nil {
		return err
	}

	stored := make([]storedChunk, len(chunks))
	for i, c := range chunks {
		stored[i] = storedChunk{chunk: c, vector: vectors[i]}
	}

	m.mu.Lock()
	m.docs[doc.Source] = stored
	m.mu.Unlock()

	if err := m.fps.Put(ctx, doc.Source, m.fingerprintFor(doc)); err != nil {
		return fmt.Errorf("failed to record index fingerprint: %w", err)
	}
	slog.Info("Upserted document into memory index", "source", doc.Source, "chunks", len(chunks))
	return nil
}

// Query implements the Adapter interface.
func (m *MemoryIndex) Query(ctx context.Context, text string, topK int) ([]datatypes.RetrievedItem, error) {
	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	var queryVec []float32
	err := withRetry(ctx, "embed.query", func() error {
		var embedErr error
		queryVec, embedErr = m.embedder.Embed(ctx, text)
		return embedErr
	})
	if err != nil {
		return nil, err
	}

	m.mu.RLock()
	var items []datatypes.RetrievedItem
	for _, stored := range m.docs {
		for _, sc := range stored {
			items = append(items, datatypes.RetrievedItem{
				Chunk:  sc.chunk,
				Score:  Cosine(queryVec, sc.vector),
				Vector: sc.vector,
			})
		}
	}
	m.mu.RUnlock()

	SortItems(items)
	if len(items) > topK {
		items = items[:topK]
	}
	return items, nil
}

// NeedsReindex implements the Adapter interface.
func (m *MemoryIndex) NeedsReindex(ctx context.Context, doc datatypes.Document) (bool, error) {
	stored, err := m.fps.Get(ctx, doc.Source)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return true, nil
	}
	return *stored != m.fingerprintFor(doc), nil
}

func (m *MemoryIndex) fingerprintFor(doc datatypes.Document) Fingerprint {
	return Fingerprint{
		Hash:           doc.Hash,
		ChunkSize:      m.cfg.ChunkSize,
		ChunkOverlap:   m.cfg.ChunkOverlap,
		EmbeddingModel: m.embedder.Model(),
	}
}

// Cosine returns the cosine similarity of two vectors, zero when either is
// empty or all-zero.
func Cosine(a, b []float32) float64 {
	if len(a) == 0 || len(a) != len(b) {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
