// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package agent

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/AleutianAI/AleutianDocsQA/services/llm"
)

const (
	minPlannedQueries = 2
	maxPlannedQueries = 4
)

const plannerPrompt = `Decompose the user question below into %d to %d short, targeted search queries against a documentation corpus. Cover distinct aspects of the question; do not repeat the question verbatim more than once.

Output ONLY the queries, one per line, each line starting with "- ".

User question:
%s`

// Planner derives the first retrieval round's queries from the question.
type Planner struct {
	llm llm.LLMClient
}

// NewPlanner creates a Planner backed by the given generation client.
func NewPlanner(client llm.LLMClient) *Planner {
	return &Planner{llm: client}
}

// Plan returns 2 to 4 retrieval queries for the question. A failed or
// unparsable decomposition call falls back to a deterministic heuristic;
// planning never fails the request.
func (p *Planner) Plan(ctx context.Context, question string) []string {
	text, err := p.llm.Generate(ctx,
		fmt.Sprintf(plannerPrompt, minPlannedQueries, maxPlannedQueries, question),
		llm.DeterministicParams())
	if err != nil {
		slog.Warn("Query decomposition failed; using heuristic queries", "error", err)
		return heuristicQueries(question)
	}

	queries := parseBulleted(text, maxPlannedQueries)
	if len(queries) < minPlannedQueries {
		slog.Info("Query decomposition under-produced; using heuristic queries",
			"parsed", len(queries))
		return heuristicQueries(question)
	}
	return queries
}

// parseBulleted collects "- " lines, trimmed, up to max.
func parseBulleted(text string, max int) []string {
	var out []string
	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimSpace(line)
		rest, ok := strings.CutPrefix(line, "- ")
		if !ok {
			continue
		}
		rest = strings.TrimSpace(rest)
		if rest == "" {
			continue
		}
		out = append(out, rest)
		if len(out) == max {
			break
		}
	}
	return out
}

// interrogativePrefixes are stripped to produce a keyword-flavored variant
// of the question for the heuristic fallback.
var interrogativePrefixes = []string{
	"what is ", "what are ", "what does ", "how do i ", "how do ",
	"how does ", "how can i ", "how to ", "why does ", "why is ",
	"where is ", "where are ", "when does ", "can i ", "does ", "is ",
}

// heuristicQueries is the deterministic fallback: the question itself,
// plus a variant with the leading interrogative phrase and trailing
// punctuation stripped when that produces something different.
func heuristicQueries(question string) []string {
	question = strings.TrimSpace(question)
	queries := []string{question}

	variant := strings.TrimRight(question, "?!. ")
	lower := strings.ToLower(variant)
	for _, prefix := range interrogativePrefixes {
		if strings.HasPrefix(lower, prefix) {
			variant = strings.TrimSpace(variant[len(prefix):])
			break
		}
	}
	if variant != "" && !strings.EqualFold(variant, question) {
		queries = append(queries, variant)
	}
	return queries
}
