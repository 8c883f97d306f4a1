// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package agent runs the bounded plan/retrieve/draft/verify loop behind
// the agent-mode ask endpoint. All loop state lives in a per-request
// EvidencePack and is discarded when the request ends.
package agent

import (
	"fmt"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
)

// evidenceQuoteMaxLen bounds the verbatim excerpt each pack line carries.
const evidenceQuoteMaxLen = 160

// RetrievalCall records one retrieval round for debug logging.
type RetrievalCall struct {
	Queries []string
	Added   int
}

// EvidencePack accumulates retrieved chunks across retrieval rounds.
// Evidence is only ever added, never dropped, so each round's pack is a
// superset of the previous round's. Not safe for concurrent use; a pack
// belongs to exactly one request.
type EvidencePack struct {
	chunks map[string]datatypes.RetrievedItem
	calls  []RetrievalCall
}

// NewEvidencePack returns an empty pack.
func NewEvidencePack() *EvidencePack {
	return &EvidencePack{chunks: make(map[string]datatypes.RetrievedItem)}
}

// Add merges a retrieval round into the pack. A chunk seen again keeps its
// best score.
func (p *EvidencePack) Add(queries []string, items []datatypes.RetrievedItem) {
	added := 0
	for _, item := range items {
		key := item.Chunk.CitationKey()
		if prev, ok := p.chunks[key]; ok {
			if item.Score > prev.Score {
				p.chunks[key] = item
			}
			continue
		}
		p.chunks[key] = item
		added++
	}
	p.calls = append(p.calls, RetrievalCall{Queries: queries, Added: added})
}

// Len returns the number of distinct chunks in the pack.
func (p *EvidencePack) Len() int {
	return len(p.chunks)
}

// Calls returns the retrieval rounds recorded so far.
func (p *EvidencePack) Calls() []RetrievalCall {
	return p.calls
}

var chunkOrdinalRe = regexp.MustCompile(`^chunk-(\d+)$`)

// Items returns the pack contents in deterministic order: by source, then
// numeric chunk ordinal.
func (p *EvidencePack) Items() []datatypes.RetrievedItem {
	items := make([]datatypes.RetrievedItem, 0, len(p.chunks))
	for _, item := range p.chunks {
		items = append(items, item)
	}
	sort.Slice(items, func(i, j int) bool {
		a, b := items[i].Chunk, items[j].Chunk
		if a.Source != b.Source {
			return strings.ToLower(a.Source) < strings.ToLower(b.Source)
		}
		return chunkOrdinal(a.ChunkID) < chunkOrdinal(b.ChunkID)
	})
	return items
}

func chunkOrdinal(chunkID string) int {
	m := chunkOrdinalRe.FindStringSubmatch(chunkID)
	if m == nil {
		return 1 << 30
	}
	n, err := strconv.Atoi(m[1])
	if err != nil {
		return 1 << 30
	}
	return n
}

// AllowedKeys returns the citation-key membership set for grounding checks.
func (p *EvidencePack) AllowedKeys() map[string]bool {
	allowed := make(map[string]bool, len(p.chunks))
	for key := range p.chunks {
		allowed[key] = true
	}
	return allowed
}

// Format renders the pack for verifier prompts, one line per chunk:
//
//	- [<filename>#chunk-XX] "<verbatim excerpt>"
//
// Excerpts are quoted verbatim from the chunk text, truncated, never
// paraphrased.
func (p *EvidencePack) Format() string {
	items := p.Items()
	lines := make([]string, 0, len(items))
	for _, item := range items {
		quote := strings.ReplaceAll(strings.TrimSpace(item.Chunk.Text), "\n", " ")
		if len(quote) > evidenceQuoteMaxLen {
			quote = quote[:evidenceQuoteMaxLen] + "..."
		}
		lines = append(lines, fmt.Sprintf("- [%s] %q", item.Chunk.CitationKey(), quote))
	}
	return strings.Join(lines, "\n")
}

// Citations builds wire citations for the given keys, in key order,
// skipping keys not present in the pack.
func (p *EvidencePack) Citations(keys []string) []datatypes.Citation {
	citations := make([]datatypes.Citation, 0, len(keys))
	for _, key := range keys {
		item, ok := p.chunks[key]
		if !ok {
			continue
		}
		citations = append(citations, item.Chunk.CitationFor())
	}
	return citations
}
