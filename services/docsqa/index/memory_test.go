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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
)

// stubEmbedder returns canned vectors keyed by text. Unknown texts get a
// fixed unit vector so batch sizes always line up.
type stubEmbedder struct {
	vectors    map[string][]float32
	model      string
	embedCalls int
	batchCalls int
}

func newStubEmbedder(vectors map[string][]float32) *stubEmbedder {
	return &stubEmbedder{vectors: vectors, model: "stub-embed-v1"}
}

func (s *stubEmbedder) Embed(_ context.Context, text string) ([]float32, error) {
	s.embedCalls++
	if v, ok := s.vectors[text]; ok {
		return v, nil
	}
	return []float32{1, 0, 0}, nil
}

func (s *stubEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	s.batchCalls++
	out := make([][]float32, len(texts))
	for i, text := range texts {
		v, err := s.Embed(ctx, text)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	s.embedCalls -= len(texts)
	return out, nil
}

func (s *stubEmbedder) Model() string { return s.model }

func testChunk(source, id, text string) datatypes.Chunk {
	return datatypes.Chunk{Source: source, ChunkID: id, Text: text}
}

// ============================================================
// Upsert
// ============================================================

// TestMemoryIndex_UpsertReplacesDocument verifies re-upserting a source
// replaces its chunk set instead of accumulating stale entries.
func TestMemoryIndex_UpsertReplacesDocument(t *testing.T) {
	ctx := context.Background()
	emb := newStubEmbedder(nil)
	idx := NewMemoryIndex(emb, NewMemoryFingerprintStore(), ChunkingConfig{ChunkSize: 800, ChunkOverlap: 100})

	docV1 := datatypes.NewDocument("guide.md", "first revision")
	err := idx.Upsert(ctx, docV1, []datatypes.Chunk{
		testChunk("guide.md", "chunk-00", "install steps"),
		testChunk("guide.md", "chunk-01", "configure steps"),
		testChunk("guide.md", "chunk-02", "uninstall steps"),
	})
	require.NoError(t, err)

	docV2 := datatypes.NewDocument("guide.md", "second revision")
	err = idx.Upsert(ctx, docV2, []datatypes.Chunk{
		testChunk("guide.md", "chunk-00", "new install steps"),
		testChunk("guide.md", "chunk-01", "new configure steps"),
	})
	require.NoError(t, err)

	items, err := idx.Query(ctx, "anything", 10)
	require.NoError(t, err)
	require.Len(t, items, 2)
	for _, it := range items {
		assert.Contains(t, it.Chunk.Text, "new")
	}
}

// TestMemoryIndex_UpsertIdempotent verifies re-upserting identical chunks
// does not create duplicates.
func TestMemoryIndex_UpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(newStubEmbedder(nil), NewMemoryFingerprintStore(), ChunkingConfig{})

	doc := datatypes.NewDocument("a.txt", "content")
	chunks := []datatypes.Chunk{testChunk("a.txt", "chunk-00", "content")}
	require.NoError(t, idx.Upsert(ctx, doc, chunks))
	require.NoError(t, idx.Upsert(ctx, doc, chunks))

	items, err := idx.Query(ctx, "content", 10)
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

// TestMemoryIndex_UpsertEmbedFailure verifies an embedding failure aborts
// the upsert and leaves the index empty.
func TestMemoryIndex_UpsertEmbedFailure(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	idx := NewMemoryIndex(&failingEmbedder{err: errors.New("backend down")}, NewMemoryFingerprintStore(), ChunkingConfig{})

	doc := datatypes.NewDocument("a.txt", "content")
	err := idx.Upsert(ctx, doc, []datatypes.Chunk{testChunk("a.txt", "chunk-00", "content")})
	require.Error(t, err)

	healthy := NewMemoryIndex(newStubEmbedder(nil), NewMemoryFingerprintStore(), ChunkingConfig{})
	healthy.docs = idx.docs
	items, qerr := healthy.Query(context.Background(), "content", 4)
	require.NoError(t, qerr)
	assert.Empty(t, items)
}

type failingEmbedder struct{ err error }

func (f *failingEmbedder) Embed(context.Context, string) ([]float32, error) { return nil, f.err }
func (f *failingEmbedder) EmbedBatch(context.Context, []string) ([][]float32, error) {
	return nil, f.err
}
func (f *failingEmbedder) Model() string { return "failing" }

// ============================================================
// Query
// ============================================================

// TestMemoryIndex_QueryOrdering verifies results come back in descending
// similarity order with ranks assigned from 1.
func TestMemoryIndex_QueryOrdering(t *testing.T) {
	ctx := context.Background()
	emb := newStubEmbedder(map[string][]float32{
		"query":      {1, 0, 0},
		"exact":      {1, 0, 0},
		"close":      {0.9, 0.1, 0},
		"orthogonal": {0, 1, 0},
	})
	idx := NewMemoryIndex(emb, NewMemoryFingerprintStore(), ChunkingConfig{})

	doc := datatypes.NewDocument("a.txt", "content")
	err := idx.Upsert(ctx, doc, []datatypes.Chunk{
		testChunk("a.txt", "chunk-00", "orthogonal"),
		testChunk("a.txt", "chunk-01", "exact"),
		testChunk("a.txt", "chunk-02", "close"),
	})
	require.NoError(t, err)

	items, err := idx.Query(ctx, "query", 3)
	require.NoError(t, err)
	require.Len(t, items, 3)

	assert.Equal(t, "chunk-01", items[0].Chunk.ChunkID)
	assert.Equal(t, "chunk-02", items[1].Chunk.ChunkID)
	assert.Equal(t, "chunk-00", items[2].Chunk.ChunkID)
	for i, it := range items {
		assert.Equal(t, i+1, it.Rank)
		if i > 0 {
			assert.LessOrEqual(t, it.Score, items[i-1].Score)
		}
	}
}

// TestMemoryIndex_QueryTieBreak verifies equal scores order by ascending
// (source, chunk_id) so retrieval is deterministic.
func TestMemoryIndex_QueryTieBreak(t *testing.T) {
	ctx := context.Background()
	emb := newStubEmbedder(map[string][]float32{
		"query": {1, 0, 0},
		"same":  {1, 0, 0},
	})
	idx := NewMemoryIndex(emb, NewMemoryFingerprintStore(), ChunkingConfig{})

	require.NoError(t, idx.Upsert(ctx, datatypes.NewDocument("b.txt", "x"), []datatypes.Chunk{
		testChunk("b.txt", "chunk-01", "same"),
		testChunk("b.txt", "chunk-00", "same"),
	}))
	require.NoError(t, idx.Upsert(ctx, datatypes.NewDocument("a.txt", "x"), []datatypes.Chunk{
		testChunk("a.txt", "chunk-00", "same"),
	}))

	items, err := idx.Query(ctx, "query", 10)
	require.NoError(t, err)
	require.Len(t, items, 3)
	assert.Equal(t, "a.txt#chunk-00", items[0].Chunk.CitationKey())
	assert.Equal(t, "b.txt#chunk-00", items[1].Chunk.CitationKey())
	assert.Equal(t, "b.txt#chunk-01", items[2].Chunk.CitationKey())
}

// TestMemoryIndex_QueryTopKCap verifies the result set never exceeds topK
// and that a non-positive topK is rejected.
func TestMemoryIndex_QueryTopKCap(t *testing.T) {
	ctx := context.Background()
	idx := NewMemoryIndex(newStubEmbedder(nil), NewMemoryFingerprintStore(), ChunkingConfig{})

	doc := datatypes.NewDocument("a.txt", "x")
	chunks := []datatypes.Chunk{
		testChunk("a.txt", "chunk-00", "one"),
		testChunk("a.txt", "chunk-01", "two"),
		testChunk("a.txt", "chunk-02", "three"),
	}
	require.NoError(t, idx.Upsert(ctx, doc, chunks))

	items, err := idx.Query(ctx, "query", 2)
	require.NoError(t, err)
	assert.Len(t, items, 2)

	_, err = idx.Query(ctx, "query", 0)
	assert.Error(t, err)
}

// TestMemoryIndex_QueryEmptyIndex verifies an empty index returns no items
// and no error.
func TestMemoryIndex_QueryEmptyIndex(t *testing.T) {
	idx := NewMemoryIndex(newStubEmbedder(nil), NewMemoryFingerprintStore(), ChunkingConfig{})
	items, err := idx.Query(context.Background(), "query", 4)
	require.NoError(t, err)
	assert.Empty(t, items)
}

// ============================================================
// NeedsReindex
// ============================================================

// TestMemoryIndex_NeedsReindex verifies the fingerprint covers content
// hash, chunking config, and embedding model.
func TestMemoryIndex_NeedsReindex(t *testing.T) {
	ctx := context.Background()
	fps := NewMemoryFingerprintStore()
	cfg := ChunkingConfig{ChunkSize: 800, ChunkOverlap: 100}
	idx := NewMemoryIndex(newStubEmbedder(nil), fps, cfg)

	doc := datatypes.NewDocument("a.txt", "original content")

	needs, err := idx.NeedsReindex(ctx, doc)
	require.NoError(t, err)
	assert.True(t, needs, "never-seen document must need indexing")

	require.NoError(t, idx.Upsert(ctx, doc, []datatypes.Chunk{testChunk("a.txt", "chunk-00", "original content")}))

	needs, err = idx.NeedsReindex(ctx, doc)
	require.NoError(t, err)
	assert.False(t, needs, "unchanged document must not re-index")

	changed := datatypes.NewDocument("a.txt", "edited content")
	needs, err = idx.NeedsReindex(ctx, changed)
	require.NoError(t, err)
	assert.True(t, needs, "content change must force re-index")

	reconfigured := NewMemoryIndex(newStubEmbedder(nil), fps, ChunkingConfig{ChunkSize: 400, ChunkOverlap: 100})
	needs, err = reconfigured.NeedsReindex(ctx, doc)
	require.NoError(t, err)
	assert.True(t, needs, "chunking config change must force re-index")

	otherModel := newStubEmbedder(nil)
	otherModel.model = "stub-embed-v2"
	remodeled := NewMemoryIndex(otherModel, fps, cfg)
	needs, err = remodeled.NeedsReindex(ctx, doc)
	require.NoError(t, err)
	assert.True(t, needs, "embedding model change must force re-index")
}

// ============================================================
// Cosine and ordering helpers
// ============================================================

// TestCosine covers the degenerate vector cases.
func TestCosine(t *testing.T) {
	assert.InDelta(t, 1.0, Cosine([]float32{1, 0}, []float32{1, 0}), 1e-9)
	assert.InDelta(t, 0.0, Cosine([]float32{1, 0}, []float32{0, 1}), 1e-9)
	assert.InDelta(t, -1.0, Cosine([]float32{1, 0}, []float32{-1, 0}), 1e-9)

	assert.Zero(t, Cosine(nil, nil))
	assert.Zero(t, Cosine([]float32{1}, []float32{1, 0}))
	assert.Zero(t, Cosine([]float32{0, 0}, []float32{1, 0}))
}

// TestSortItems verifies descending score with (source, chunk_id)
// tie-break and rank assignment.
func TestSortItems(t *testing.T) {
	items := []datatypes.RetrievedItem{
		{Chunk: testChunk("b.txt", "chunk-00", ""), Score: 0.5},
		{Chunk: testChunk("a.txt", "chunk-01", ""), Score: 0.9},
		{Chunk: testChunk("a.txt", "chunk-00", ""), Score: 0.9},
		{Chunk: testChunk("c.txt", "chunk-00", ""), Score: 0.7},
	}
	SortItems(items)

	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Chunk.CitationKey()
		assert.Equal(t, i+1, it.Rank)
	}
	assert.Equal(t, []string{"a.txt#chunk-00", "a.txt#chunk-01", "c.txt#chunk-00", "b.txt#chunk-00"}, keys)
}

// ============================================================
// Retry policy
// ============================================================

// TestWithRetry_SuccessFirstTry verifies no backoff happens on success.
func TestWithRetry_SuccessFirstTry(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test.op", func() error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
}

// TestWithRetry_FatalErrorsStopImmediately verifies store corruption and
// context errors are not retried.
func TestWithRetry_FatalErrorsStopImmediately(t *testing.T) {
	calls := 0
	err := withRetry(context.Background(), "test.op", func() error {
		calls++
		return ErrStoreCorrupt
	})
	require.ErrorIs(t, err, ErrStoreCorrupt)
	assert.Equal(t, 1, calls)
	assert.False(t, IsInfraError(err))

	calls = 0
	err = withRetry(context.Background(), "test.op", func() error {
		calls++
		return context.DeadlineExceeded
	})
	require.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, 1, calls)
}

// TestWithRetry_CanceledContextStopsBackoff verifies cancellation during
// the backoff wait aborts the loop with the context error.
func TestWithRetry_CanceledContextStopsBackoff(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := withRetry(ctx, "test.op", func() error {
		calls++
		return errors.New("transient")
	})
	require.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

// TestInfraError_Unwrap verifies errors.As works through wrapping.
func TestInfraError_Unwrap(t *testing.T) {
	inner := errors.New("connection refused")
	err := &InfraError{Op: "weaviate.query", Retryable: true, Err: inner}

	assert.True(t, IsInfraError(err))
	assert.True(t, IsInfraError(errors.Join(errors.New("outer"), err)))
	assert.ErrorIs(t, err, inner)
	assert.Contains(t, err.Error(), "weaviate.query")
}
