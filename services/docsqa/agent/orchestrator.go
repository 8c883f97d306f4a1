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
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/answer"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/retrieval"
)

var tracer = otel.Tracer("docsqa.agent")

// DefaultMaxExtraRounds is the retrieval rounds allowed beyond the first.
const DefaultMaxExtraRounds = 2

// Outcome is the result of one agent-mode run. Retrieved lists the full
// evidence pack in deterministic order for debug responses; Citations
// covers only the keys the accepted answer actually cites, and is empty
// on refusal.
type Outcome struct {
	Answer    string
	Grounded  bool
	Citations []datatypes.Citation
	Retrieved []datatypes.RetrievedItem
	Rounds    int
}

// Orchestrator drives the plan, retrieve, draft, verify loop.
//
// The loop is hard-bounded: one planned round plus at most MaxExtraRounds
// follow-up rounds, after which it resolves to the refusal regardless of
// draft content. Evidence accumulates across rounds; a later round always
// verifies against a superset of the evidence an earlier round saw.
type Orchestrator struct {
	planner   *Planner
	retriever *retrieval.Retriever
	answerer  *answer.Answerer
	verifier  *Verifier

	// MaxExtraRounds caps follow-up retrieval rounds. Zero means the
	// default; negative disables follow-ups entirely.
	MaxExtraRounds int
}

// NewOrchestrator wires the loop participants together.
func NewOrchestrator(planner *Planner, retriever *retrieval.Retriever, answerer *answer.Answerer, verifier *Verifier) *Orchestrator {
	return &Orchestrator{
		planner:        planner,
		retriever:      retriever,
		answerer:       answerer,
		verifier:       verifier,
		MaxExtraRounds: DefaultMaxExtraRounds,
	}
}

func (o *Orchestrator) maxExtra() int {
	if o.MaxExtraRounds == 0 {
		return DefaultMaxExtraRounds
	}
	if o.MaxExtraRounds < 0 {
		return 0
	}
	return o.MaxExtraRounds
}

// Run answers the question through the bounded agent loop.
//
// # Description
//
//	The planner derives the first round's queries; each round retrieves,
//	merges into the evidence pack, drafts over the full pack, and
//	verifies. A grounded verdict finalizes the draft through the same
//	fail-closed checks direct mode uses. An ungrounded verdict with
//	follow-up queries starts another round while the cap allows; an
//	exhausted cap or an empty follow-up set resolves to the refusal.
//	Infrastructure errors from retrieval or drafting abort the run; they
//	are request errors, not refusals.
//
// # Inputs
//
//   - ctx: Context carrying the request deadline; cancellation aborts
//     in-flight retrieval and generation calls.
//   - question: The user question.
//   - topK: Per-retrieval result cap.
//
// # Outputs
//
//   - Outcome: The grounded answer or the refusal, plus the evidence seen.
//   - error: Infrastructure failure; the Outcome is not meaningful.
func (o *Orchestrator) Run(ctx context.Context, question string, topK int) (Outcome, error) {
	ctx, span := tracer.Start(ctx, "Orchestrator.Run")
	defer span.End()
	span.SetAttributes(attribute.Int("agent.top_k", topK))

	if topK <= 0 {
		topK = retrieval.DefaultTopK
	}

	pack := NewEvidencePack()
	queries := o.planner.Plan(ctx, question)
	maxRounds := 1 + o.maxExtra()
	roundsRun := 0

	for round := 1; round <= maxRounds; round++ {
		roundsRun = round
		items, err := o.retriever.Retrieve(ctx, queries, topK)
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "retrieval failed")
			return Outcome{}, err
		}
		pack.Add(queries, items)
		slog.Info("Agent retrieval round complete",
			"round", round, "queries", len(queries), "evidence_chunks", pack.Len())

		if pack.Len() == 0 {
			// Evidence gap. More rounds would rerun the same queries.
			span.SetAttributes(attribute.Bool("agent.refused", true))
			return o.refusal(pack, round), nil
		}

		draft, err := o.answerer.Draft(ctx, question, pack.Items())
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, "drafting failed")
			return Outcome{}, err
		}

		verdict := o.verifier.Verify(ctx, question, draft, pack)
		if verdict.Grounded {
			result := o.answerer.Finalize(draft, pack.AllowedKeys())
			if result.Grounded {
				span.SetAttributes(attribute.Int("agent.rounds", round))
				return Outcome{
					Answer:    result.Answer,
					Grounded:  true,
					Citations: pack.Citations(result.CitedKeys),
					Retrieved: pack.Items(),
					Rounds:    round,
				}, nil
			}
			// The verifier accepted what the fail-closed check would
			// not. The stricter check wins.
			slog.Info("Verifier accepted a draft that failed finalization; refusing",
				"round", round)
			span.SetAttributes(attribute.Bool("agent.refused", true))
			return o.refusal(pack, round), nil
		}

		if len(verdict.FollowUps) == 0 || round == maxRounds {
			break
		}
		slog.Info("Verifier requested follow-up retrieval",
			"round", round, "followups", len(verdict.FollowUps))
		queries = verdict.FollowUps
	}

	span.SetAttributes(attribute.Bool("agent.refused", true))
	return o.refusal(pack, roundsRun), nil
}

func (o *Orchestrator) refusal(pack *EvidencePack, rounds int) Outcome {
	return Outcome{
		Answer:    answer.RefusalText,
		Citations: []datatypes.Citation{},
		Retrieved: pack.Items(),
		Rounds:    rounds,
	}
}
