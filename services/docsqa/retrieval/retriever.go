// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package retrieval turns one or more search queries into a single ranked,
// deduplicated evidence set. It sits between the index adapter and answer
// synthesis: the adapter speaks vectors, the answerer speaks chunks.
package retrieval

import (
	"context"
	"fmt"
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/sync/errgroup"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/index"
)

var tracer = otel.Tracer("docsqa.retrieval")

const (
	// DefaultTopK is the result count used when the caller does not ask
	// for a specific one.
	DefaultTopK = 4

	// defaultSimilarityCeiling is the pairwise cosine similarity above
	// which two candidates are considered near-duplicates.
	defaultSimilarityCeiling = 0.92

	// perQueryOverfetch widens each individual query so that dedupe and
	// the diversity pass still have enough candidates to fill topK.
	perQueryOverfetch = 2
)

// Config tunes the retriever.
type Config struct {
	// SimilarityCeiling is the cosine similarity above which a candidate
	// is skipped in favor of more diverse evidence. Zero means the
	// default. Set to 1.0 to disable the diversity pass.
	SimilarityCeiling float64
}

// Retriever fans queries out to the index and merges the results.
type Retriever struct {
	idx index.Adapter
	cfg Config
}

// NewRetriever creates a Retriever over the given index adapter.
func NewRetriever(idx index.Adapter, cfg Config) *Retriever {
	if cfg.SimilarityCeiling == 0 {
		cfg.SimilarityCeiling = defaultSimilarityCeiling
	}
	return &Retriever{idx: idx, cfg: cfg}
}

// Retrieve runs every query against the index concurrently and returns at
// most topK merged results.
//
// # Description
//
//	The merge is deterministic: per-query results are collected in query
//	order regardless of goroutine completion order, duplicates (same
//	source and chunk id) keep their best score, and the final ordering is
//	score-descending with a stable (source, chunk_id) tie-break. A
//	diversity pass then demotes near-duplicate chunks so a single
//	repetitive document cannot crowd out the rest of the corpus; demoted
//	candidates are backfilled if needed so the count only drops below
//	topK when the index itself has fewer chunks.
//
// # Inputs
//
//   - ctx: Context for cancellation; a canceled context aborts all
//     in-flight queries.
//   - queries: One or more query strings. Empty strings are skipped.
//   - topK: Maximum number of results. Must be positive.
//
// # Outputs
//
//   - []datatypes.RetrievedItem: Ranked evidence, Rank starting at 1.
//   - error: The first per-query failure, or a validation error.
func (r *Retriever) Retrieve(ctx context.Context, queries []string, topK int) ([]datatypes.RetrievedItem, error) {
	ctx, span := tracer.Start(ctx, "Retriever.Retrieve")
	defer span.End()
	span.SetAttributes(
		attribute.Int("retrieve.queries", len(queries)),
		attribute.Int("retrieve.top_k", topK),
	)

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}
	if len(queries) == 0 {
		return nil, fmt.Errorf("at least one query is required")
	}

	perQuery := make([][]datatypes.RetrievedItem, len(queries))
	g, gctx := errgroup.WithContext(ctx)
	for i, q := range queries {
		if q == "" {
			continue
		}
		g.Go(func() error {
			items, err := r.idx.Query(gctx, q, topK*perQueryOverfetch)
			if err != nil {
				return fmt.Errorf("query %d failed: %w", i, err)
			}
			perQuery[i] = items
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		return nil, err
	}

	merged := mergeResults(perQuery)
	diverse := diversify(merged, topK, r.cfg.SimilarityCeiling)
	for i := range diverse {
		diverse[i].Rank = i + 1
	}

	span.SetAttributes(attribute.Int("retrieve.results", len(diverse)))
	if len(diverse) == 0 {
		slog.Info("Retrieval produced no evidence", "queries", len(queries))
	}
	return diverse, nil
}

// mergeResults flattens per-query result slices into one score-ordered
// slice with duplicates collapsed. When the same chunk appears for several
// queries, the best score wins.
func mergeResults(perQuery [][]datatypes.RetrievedItem) []datatypes.RetrievedItem {
	seen := make(map[string]int)
	var merged []datatypes.RetrievedItem
	for _, items := range perQuery {
		for _, item := range items {
			key := item.Chunk.CitationKey()
			if at, ok := seen[key]; ok {
				if item.Score > merged[at].Score {
					merged[at].Score = item.Score
				}
				continue
			}
			seen[key] = len(merged)
			merged = append(merged, item)
		}
	}
	index.SortItems(merged)
	return merged
}

// diversify walks the score-ordered candidates and skips any chunk whose
// vector is nearly identical to an already-selected one. Skipped
// candidates are appended back, in order, if fewer than topK survive.
// Candidates without vectors are never skipped; similarity to them cannot
// be measured.
func diversify(candidates []datatypes.RetrievedItem, topK int, ceiling float64) []datatypes.RetrievedItem {
	if len(candidates) <= 1 || ceiling >= 1.0 {
		if len(candidates) > topK {
			return candidates[:topK]
		}
		return candidates
	}

	selected := make([]datatypes.RetrievedItem, 0, topK)
	var skipped []datatypes.RetrievedItem
	for _, cand := range candidates {
		if len(selected) == topK {
			break
		}
		if isRedundant(cand, selected, ceiling) {
			skipped = append(skipped, cand)
			continue
		}
		selected = append(selected, cand)
	}
	for _, cand := range skipped {
		if len(selected) == topK {
			break
		}
		selected = append(selected, cand)
	}
	return selected
}

func isRedundant(cand datatypes.RetrievedItem, selected []datatypes.RetrievedItem, ceiling float64) bool {
	if len(cand.Vector) == 0 {
		return false
	}
	for _, s := range selected {
		if len(s.Vector) == 0 {
			continue
		}
		if index.Cosine(cand.Vector, s.Vector) >= ceiling {
			return true
		}
	}
	return false
}
