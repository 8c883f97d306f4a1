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
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
)

func verifierPack() *EvidencePack {
	p := NewEvidencePack()
	p.Add([]string{"q"}, []datatypes.RetrievedItem{
		packItem("guide.md", "chunk-00", "Run make install.", 0.9),
		packItem("guide.md", "chunk-01", "Edit config.yaml.", 0.8),
	})
	return p
}

// TestVerify_GroundedDraft verifies a cited draft plus a model OK yields a
// grounded verdict.
func TestVerify_GroundedDraft(t *testing.T) {
	mock := &MockLLMClient{Response: "OK"}
	v := NewVerifier(mock)

	verdict := v.Verify(context.Background(), "how to install?",
		"Run make install [guide.md#chunk-00].", verifierPack())

	assert.True(t, verdict.Grounded)
	assert.Empty(t, verdict.FollowUps)
}

// TestVerify_ModelFollowUpsOverrideOK verifies a deterministically sound
// draft still loops when the model reports unsupported claims.
func TestVerify_ModelFollowUpsOverrideOK(t *testing.T) {
	mock := &MockLLMClient{Response: "FOLLOWUP_QUERIES\n- upgrade procedure"}
	v := NewVerifier(mock)

	verdict := v.Verify(context.Background(), "how to upgrade?",
		"Run make install [guide.md#chunk-00].", verifierPack())

	assert.False(t, verdict.Grounded)
	assert.Equal(t, []string{"upgrade procedure"}, verdict.FollowUps)
}

// TestVerify_DeterministicFailureIsAuthoritative verifies the model
// cannot approve a draft that fails the machine checks.
func TestVerify_DeterministicFailureIsAuthoritative(t *testing.T) {
	mock := &MockLLMClient{Response: "OK"}
	v := NewVerifier(mock)

	verdict := v.Verify(context.Background(), "q",
		"This draft cites nothing at all.", verifierPack())

	assert.False(t, verdict.Grounded)
}

// TestVerify_ModelErrorKeepsDeterministicVerdict verifies a failed
// verification call falls back to the machine checks alone.
func TestVerify_ModelErrorKeepsDeterministicVerdict(t *testing.T) {
	mock := &MockLLMClient{Err: errors.New("model unavailable")}
	v := NewVerifier(mock)

	verdict := v.Verify(context.Background(), "q",
		"Run make install [guide.md#chunk-00].", verifierPack())
	assert.True(t, verdict.Grounded)

	verdict = v.Verify(context.Background(), "q",
		"No citation here.", verifierPack())
	assert.False(t, verdict.Grounded)
	assert.Empty(t, verdict.FollowUps)
}

// TestVerify_PromptCarriesPackAndDraft verifies the evidence pack lines
// reach the model.
func TestVerify_PromptCarriesPackAndDraft(t *testing.T) {
	mock := &MockLLMClient{Response: "OK"}
	v := NewVerifier(mock)

	v.Verify(context.Background(), "how to install?",
		"Run make install [guide.md#chunk-00].", verifierPack())

	require.Len(t, mock.Prompts, 1)
	assert.Contains(t, mock.Prompts[0], `- [guide.md#chunk-00] "Run make install."`)
	assert.Contains(t, mock.Prompts[0], "how to install?")
}

// TestParseFollowUps covers the strict output grammar.
func TestParseFollowUps(t *testing.T) {
	assert.Nil(t, parseFollowUps("OK"))
	assert.Nil(t, parseFollowUps(""))
	assert.Nil(t, parseFollowUps("- bullets without header"))

	assert.Equal(t, []string{"a", "b"},
		parseFollowUps("FOLLOWUP_QUERIES\n- a\n- b"))

	// The cap holds even when the model over-produces.
	assert.Equal(t, []string{"a", "b", "c"},
		parseFollowUps("FOLLOWUP_QUERIES\n- a\n- b\n- c\n- d"))
}

// TestDeterministicChecks covers density, membership, and repair in one
// place.
func TestDeterministicChecks(t *testing.T) {
	allowed := map[string]bool{"guide.md#chunk-00": true}

	assert.True(t, deterministicChecks("Cited [guide.md#chunk-00].", allowed))
	assert.True(t, deterministicChecks("Loose guide.md#chunk-0 gets repaired.", allowed))
	assert.False(t, deterministicChecks("Nothing cited.", allowed))
	assert.False(t, deterministicChecks("Foreign [other.md#chunk-00].", allowed))
	assert.False(t, deterministicChecks(
		"Cited [guide.md#chunk-00].\n\nUncited paragraph.", allowed))
}
