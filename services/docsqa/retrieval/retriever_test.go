// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package retrieval

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
)

// fakeAdapter serves canned per-query results. Queries without an entry
// come back empty.
type fakeAdapter struct {
	mu      sync.Mutex
	results map[string][]datatypes.RetrievedItem
	errs    map[string]error
	queried []string
}

func (f *fakeAdapter) Query(_ context.Context, text string, topK int) ([]datatypes.RetrievedItem, error) {
	f.mu.Lock()
	f.queried = append(f.queried, text)
	f.mu.Unlock()
	if err := f.errs[text]; err != nil {
		return nil, err
	}
	items := f.results[text]
	if len(items) > topK {
		items = items[:topK]
	}
	return items, nil
}

func (f *fakeAdapter) Upsert(context.Context, datatypes.Document, []datatypes.Chunk) error {
	return errors.New("not implemented")
}

func (f *fakeAdapter) NeedsReindex(context.Context, datatypes.Document) (bool, error) {
	return false, errors.New("not implemented")
}

func item(source, chunkID string, score float64, vector ...float32) datatypes.RetrievedItem {
	return datatypes.RetrievedItem{
		Chunk:  datatypes.Chunk{Source: source, ChunkID: chunkID, Text: source + " " + chunkID},
		Score:  score,
		Vector: vector,
	}
}

func keysOf(items []datatypes.RetrievedItem) []string {
	keys := make([]string, len(items))
	for i, it := range items {
		keys[i] = it.Chunk.CitationKey()
	}
	return keys
}

// ============================================================
// Validation
// ============================================================

// TestRetrieve_Validation verifies bad arguments are rejected before any
// index query runs.
func TestRetrieve_Validation(t *testing.T) {
	f := &fakeAdapter{}
	r := NewRetriever(f, Config{})

	_, err := r.Retrieve(context.Background(), []string{"q"}, 0)
	assert.Error(t, err)

	_, err = r.Retrieve(context.Background(), nil, 4)
	assert.Error(t, err)

	assert.Empty(t, f.queried)
}

// ============================================================
// Merge and dedupe
// ============================================================

// TestRetrieve_DedupesKeepingBestScore verifies the same chunk returned by
// two queries appears once with its higher score.
func TestRetrieve_DedupesKeepingBestScore(t *testing.T) {
	f := &fakeAdapter{results: map[string][]datatypes.RetrievedItem{
		"q1": {item("a.txt", "chunk-00", 0.6), item("a.txt", "chunk-01", 0.5)},
		"q2": {item("a.txt", "chunk-00", 0.9)},
	}}
	r := NewRetriever(f, Config{})

	items, err := r.Retrieve(context.Background(), []string{"q1", "q2"}, 4)
	require.NoError(t, err)
	require.Len(t, items, 2)

	assert.Equal(t, "a.txt#chunk-00", items[0].Chunk.CitationKey())
	assert.InDelta(t, 0.9, items[0].Score, 1e-9)
	assert.Equal(t, "a.txt#chunk-01", items[1].Chunk.CitationKey())
}

// TestRetrieve_DeterministicAcrossGoroutines verifies the merged ordering
// does not depend on which query finishes first.
func TestRetrieve_DeterministicAcrossGoroutines(t *testing.T) {
	f := &fakeAdapter{results: map[string][]datatypes.RetrievedItem{
		"q1": {item("a.txt", "chunk-00", 0.8)},
		"q2": {item("b.txt", "chunk-00", 0.8)},
		"q3": {item("c.txt", "chunk-00", 0.5)},
	}}
	r := NewRetriever(f, Config{})

	var first []string
	for i := 0; i < 20; i++ {
		items, err := r.Retrieve(context.Background(), []string{"q1", "q2", "q3"}, 4)
		require.NoError(t, err)
		keys := keysOf(items)
		if first == nil {
			first = keys
			continue
		}
		require.Equal(t, first, keys, "ordering must be stable run to run")
	}
	assert.Equal(t, []string{"a.txt#chunk-00", "b.txt#chunk-00", "c.txt#chunk-00"}, first)
}

// TestRetrieve_TopKCap verifies the merged result never exceeds topK.
func TestRetrieve_TopKCap(t *testing.T) {
	f := &fakeAdapter{results: map[string][]datatypes.RetrievedItem{
		"q": {
			item("a.txt", "chunk-00", 0.9),
			item("a.txt", "chunk-01", 0.8),
			item("a.txt", "chunk-02", 0.7),
			item("a.txt", "chunk-03", 0.6),
			item("a.txt", "chunk-04", 0.5),
		},
	}}
	r := NewRetriever(f, Config{})

	items, err := r.Retrieve(context.Background(), []string{"q"}, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"a.txt#chunk-00", "a.txt#chunk-01"}, keysOf(items))
	assert.Equal(t, 1, items[0].Rank)
	assert.Equal(t, 2, items[1].Rank)
}

// TestRetrieve_SkipsEmptyQueries verifies empty query strings never reach
// the index.
func TestRetrieve_SkipsEmptyQueries(t *testing.T) {
	f := &fakeAdapter{results: map[string][]datatypes.RetrievedItem{
		"q": {item("a.txt", "chunk-00", 0.9)},
	}}
	r := NewRetriever(f, Config{})

	items, err := r.Retrieve(context.Background(), []string{"", "q", ""}, 4)
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, []string{"q"}, f.queried)
}

// TestRetrieve_QueryErrorPropagates verifies a per-query failure fails the
// whole retrieval.
func TestRetrieve_QueryErrorPropagates(t *testing.T) {
	backendErr := errors.New("index unavailable")
	f := &fakeAdapter{
		results: map[string][]datatypes.RetrievedItem{"ok": {item("a.txt", "chunk-00", 0.9)}},
		errs:    map[string]error{"bad": backendErr},
	}
	r := NewRetriever(f, Config{})

	_, err := r.Retrieve(context.Background(), []string{"ok", "bad"}, 4)
	require.Error(t, err)
	assert.ErrorIs(t, err, backendErr)
}

// ============================================================
// Diversity pass
// ============================================================

// TestRetrieve_DiversityDemotesNearDuplicates verifies a near-identical
// vector is demoted in favor of more diverse evidence.
func TestRetrieve_DiversityDemotesNearDuplicates(t *testing.T) {
	f := &fakeAdapter{results: map[string][]datatypes.RetrievedItem{
		"q": {
			item("a.txt", "chunk-00", 0.95, 1, 0, 0),
			item("a.txt", "chunk-01", 0.94, 1, 0.01, 0),
			item("b.txt", "chunk-00", 0.60, 0, 1, 0),
		},
	}}
	r := NewRetriever(f, Config{SimilarityCeiling: 0.92})

	items, err := r.Retrieve(context.Background(), []string{"q"}, 2)
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, []string{"a.txt#chunk-00", "b.txt#chunk-00"}, keysOf(items))
}

// TestRetrieve_DiversityBackfillsSkipped verifies demoted candidates are
// restored when the corpus has nothing more diverse to offer.
func TestRetrieve_DiversityBackfillsSkipped(t *testing.T) {
	f := &fakeAdapter{results: map[string][]datatypes.RetrievedItem{
		"q": {
			item("a.txt", "chunk-00", 0.95, 1, 0, 0),
			item("a.txt", "chunk-01", 0.94, 1, 0.001, 0),
			item("a.txt", "chunk-02", 0.93, 1, 0.002, 0),
		},
	}}
	r := NewRetriever(f, Config{SimilarityCeiling: 0.92})

	items, err := r.Retrieve(context.Background(), []string{"q"}, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3, "result only drops below topK when the index has fewer chunks")
	assert.Equal(t, "a.txt#chunk-00", items[0].Chunk.CitationKey())
}

// TestRetrieve_VectorlessCandidatesNeverSkipped verifies chunks without
// vectors pass the diversity filter untouched.
func TestRetrieve_VectorlessCandidatesNeverSkipped(t *testing.T) {
	f := &fakeAdapter{results: map[string][]datatypes.RetrievedItem{
		"q": {
			item("a.txt", "chunk-00", 0.95),
			item("a.txt", "chunk-01", 0.94),
			item("b.txt", "chunk-00", 0.60),
		},
	}}
	r := NewRetriever(f, Config{SimilarityCeiling: 0.92})

	items, err := r.Retrieve(context.Background(), []string{"q"}, 3)
	require.NoError(t, err)
	assert.Len(t, items, 3)
}

// TestRetrieve_CeilingOneDisablesDiversity verifies a ceiling of 1.0 keeps
// even identical vectors.
func TestRetrieve_CeilingOneDisablesDiversity(t *testing.T) {
	f := &fakeAdapter{results: map[string][]datatypes.RetrievedItem{
		"q": {
			item("a.txt", "chunk-00", 0.95, 1, 0, 0),
			item("a.txt", "chunk-01", 0.94, 1, 0, 0),
		},
	}}
	r := NewRetriever(f, Config{SimilarityCeiling: 1.0})

	items, err := r.Retrieve(context.Background(), []string{"q"}, 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"a.txt#chunk-00", "a.txt#chunk-01"}, keysOf(items))
}

// TestRetrieve_EmptyIndex verifies zero evidence is a valid, non-error
// outcome.
func TestRetrieve_EmptyIndex(t *testing.T) {
	r := NewRetriever(&fakeAdapter{}, Config{})

	items, err := r.Retrieve(context.Background(), []string{"anything"}, 4)
	require.NoError(t, err)
	assert.Empty(t, items)
}
