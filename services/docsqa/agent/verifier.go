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

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/answer"
	"github.com/AleutianAI/AleutianDocsQA/services/llm"
)

// maxFollowUps caps the follow-up queries a single verdict may carry.
const maxFollowUps = 3

const followUpHeader = "FOLLOWUP_QUERIES"

const verifierPrompt = `You are verifying a draft answer against an evidence pack.

Evidence Pack:
%s

User question:
%s

Draft answer:
%s

Check whether every claim in the draft is supported by the evidence pack and carries a citation. If the draft is fully supported, output exactly:
OK

Otherwise output the header FOLLOWUP_QUERIES followed by one to three short search queries, one per line, each starting with "- ", that would retrieve the missing evidence. Output nothing else.`

// Verdict is the outcome of one verification pass. An ungrounded verdict
// may carry follow-up queries for another retrieval round.
type Verdict struct {
	Grounded  bool
	FollowUps []string
}

// Verifier checks drafts against the evidence pack. Deterministic checks
// (citation density and evidence membership) are authoritative: a draft
// that fails them is ungrounded no matter what the model says. The
// generation call only contributes the unsupported-claim judgment and the
// follow-up queries.
type Verifier struct {
	llm llm.LLMClient
}

// NewVerifier creates a Verifier backed by the given generation client.
func NewVerifier(client llm.LLMClient) *Verifier {
	return &Verifier{llm: client}
}

// Verify checks the draft against the pack and returns the verdict.
func (v *Verifier) Verify(ctx context.Context, question, draft string, pack *EvidencePack) Verdict {
	allowed := pack.AllowedKeys()
	detOK := deterministicChecks(draft, allowed)

	text, err := v.llm.Generate(ctx,
		fmt.Sprintf(verifierPrompt, pack.Format(), question, draft),
		llm.DeterministicParams())
	if err != nil {
		// The deterministic result stands on its own for safety; the
		// model pass only refines it, so its failure is not fatal.
		slog.Warn("Verification call failed; keeping deterministic verdict",
			"deterministic_ok", detOK, "error", err)
		return Verdict{Grounded: detOK}
	}

	followUps := parseFollowUps(text)
	if !detOK {
		return Verdict{FollowUps: followUps}
	}
	if len(followUps) > 0 {
		return Verdict{FollowUps: followUps}
	}
	return Verdict{Grounded: true}
}

// deterministicChecks applies the machine-checkable grounding rules:
// every block cites, and every citation maps to supplied evidence.
func deterministicChecks(draft string, allowed map[string]bool) bool {
	draft = answer.RepairCitations(draft, allowed)
	if !answer.PassesCitationDensity(draft) {
		return false
	}
	cited := answer.ExtractCitedKeys(draft)
	if len(cited) == 0 {
		return false
	}
	for _, key := range cited {
		if !allowed[answer.NormalizeCitationKey(key, allowed)] {
			return false
		}
	}
	return true
}

// parseFollowUps reads the verifier's strict output format. Anything
// without the FOLLOWUP_QUERIES header (including "OK") yields none; the
// header line itself is not a bullet, so the shared bullet parser skips it.
func parseFollowUps(text string) []string {
	text = strings.TrimSpace(text)
	if text == "" || !strings.Contains(text, followUpHeader) {
		return nil
	}
	return parseBulleted(text, maxFollowUps)
}
