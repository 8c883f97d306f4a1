// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package answer turns retrieved evidence into a cited answer, or refuses.
//
// The generation call is treated as opaque and untrusted: every grounding
// guarantee is enforced on the output. A draft that cites evidence it was
// never given, or that carries no citations at all, is discarded and
// replaced with the fixed refusal sentence. Callers can never observe a
// fabricated citation.
package answer

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
	"github.com/AleutianAI/AleutianDocsQA/services/llm"
)

var tracer = otel.Tracer("docsqa.answer")

// RefusalText is the exact sentence returned whenever evidence is
// insufficient or a draft fails a grounding check. The apostrophe is
// U+2019; byte-for-byte equality is part of the wire contract.
const RefusalText = "I can’t find that in the provided documentation."

// Result is the outcome of answer synthesis.
//
// Grounded distinguishes an accepted answer from the refusal path for
// internal callers (the agent verifier, metrics); externally both shapes
// are ordinary 200 responses.
type Result struct {
	Answer    string
	Grounded  bool
	CitedKeys []string
}

// Answerer synthesizes grounded answers over retrieved evidence.
type Answerer struct {
	llm llm.LLMClient
}

// NewAnswerer creates an Answerer backed by the given generation client.
func NewAnswerer(client llm.LLMClient) *Answerer {
	return &Answerer{llm: client}
}

// Refusal returns the fail-closed result.
func Refusal() Result {
	return Result{Answer: RefusalText}
}

// BuildContext renders evidence as prompt context, one block per chunk,
// each headed by its citation token so the model can copy tokens verbatim.
func BuildContext(items []datatypes.RetrievedItem) string {
	parts := make([]string, 0, len(items))
	for _, item := range items {
		parts = append(parts, strings.TrimSpace(
			fmt.Sprintf("[%s]\n%s", item.Chunk.CitationKey(), item.Chunk.Text)))
	}
	return strings.TrimSpace(strings.Join(parts, "\n\n"))
}

// AllowedKeys builds the citation-key membership set for a batch of
// evidence. Only keys in this set survive Finalize.
func AllowedKeys(items []datatypes.RetrievedItem) map[string]bool {
	allowed := make(map[string]bool, len(items))
	for _, item := range items {
		allowed[item.Chunk.CitationKey()] = true
	}
	return allowed
}

// Draft produces the raw model answer for the question over the given
// evidence. It performs no grounding checks; callers must pass the result
// through Finalize before anything reaches a user.
func (a *Answerer) Draft(ctx context.Context, question string, items []datatypes.RetrievedItem) (string, error) {
	ctx, span := tracer.Start(ctx, "Answerer.Draft")
	defer span.End()
	span.SetAttributes(attribute.Int("draft.evidence_chunks", len(items)))

	prompt := systemPrompt + "\n\n" +
		fmt.Sprintf(answerPromptTemplate, BuildContext(items), question)

	text, err := a.llm.Generate(ctx, prompt, llm.DeterministicParams())
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", fmt.Errorf("answer generation failed: %w", err)
	}
	return strings.TrimSpace(text), nil
}

// Finalize applies the fail-closed grounding checks to a draft.
//
// # Description
//
//	The draft first gets a deterministic citation repair pass (bare
//	doc.txt#chunk-3 becomes [doc.txt#chunk-03] when it maps to supplied
//	evidence). It is then accepted only if it carries at least one strict
//	citation token and every cited key, after leading-zero normalization,
//	is a member of allowed. Any failure substitutes RefusalText. A draft
//	that IS the refusal sentence passes through as an ungrounded result
//	rather than being treated as a violation.
//
// # Inputs
//
//   - draft: Raw model output from Draft.
//   - allowed: Citation keys of the evidence supplied for this call.
//
// # Outputs
//
//   - Result: The accepted draft with its cited keys, or the refusal.
func (a *Answerer) Finalize(draft string, allowed map[string]bool) Result {
	draft = strings.TrimSpace(draft)
	if draft == RefusalText {
		return Refusal()
	}

	draft = RepairCitations(draft, allowed)
	if draft == "" || !HasCitationToken(draft) {
		slog.Info("Draft rejected: no citation token")
		return Refusal()
	}

	cited := ExtractCitedKeys(draft)
	if len(cited) == 0 {
		slog.Info("Draft rejected: no strict citation parsed")
		return Refusal()
	}
	normalized := make([]string, 0, len(cited))
	for _, key := range cited {
		norm := NormalizeCitationKey(key, allowed)
		if !allowed[norm] {
			slog.Info("Draft rejected: citation outside supplied evidence", "cited_key", key)
			return Refusal()
		}
		normalized = append(normalized, norm)
	}

	return Result{Answer: draft, Grounded: true, CitedKeys: normalized}
}

// Answer is the direct-mode entrypoint: one draft, one finalize.
// Empty evidence short-circuits to the refusal without a generation call.
func (a *Answerer) Answer(ctx context.Context, question string, items []datatypes.RetrievedItem) (Result, error) {
	ctx, span := tracer.Start(ctx, "Answerer.Answer")
	defer span.End()

	if len(items) == 0 {
		span.SetAttributes(attribute.Bool("answer.refused", true))
		return Refusal(), nil
	}

	draft, err := a.Draft(ctx, question, items)
	if err != nil {
		return Result{}, err
	}
	result := a.Finalize(draft, AllowedKeys(items))
	span.SetAttributes(attribute.Bool("answer.refused", !result.Grounded))
	return result, nil
}
