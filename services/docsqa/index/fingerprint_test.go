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
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/storage/badgerstore"
)

func sampleFingerprint() Fingerprint {
	return Fingerprint{
		Hash:           "abc123",
		ChunkSize:      800,
		ChunkOverlap:   100,
		EmbeddingModel: "stub-embed-v1",
	}
}

// TestMemoryFingerprintStore_RoundTrip verifies put/get/delete semantics
// and the nil-on-missing contract.
func TestMemoryFingerprintStore_RoundTrip(t *testing.T) {
	ctx := context.Background()
	s := NewMemoryFingerprintStore()

	got, err := s.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Nil(t, got, "missing fingerprint must return nil, not an error")

	fp := sampleFingerprint()
	require.NoError(t, s.Put(ctx, "a.txt", fp))

	got, err = s.Get(ctx, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fp, *got)

	require.NoError(t, s.Delete(ctx, "a.txt"))
	got, err = s.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestBadgerFingerprintStore_RoundTrip verifies the persistent store
// matches the in-memory store's contract.
func TestBadgerFingerprintStore_RoundTrip(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	s := NewBadgerFingerprintStore(db)

	got, err := s.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Nil(t, got)

	fp := sampleFingerprint()
	require.NoError(t, s.Put(ctx, "a.txt", fp))

	got, err = s.Get(ctx, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, fp, *got)

	updated := fp
	updated.Hash = "def456"
	require.NoError(t, s.Put(ctx, "a.txt", updated))

	got, err = s.Get(ctx, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "def456", got.Hash)

	require.NoError(t, s.Delete(ctx, "a.txt"))
	got, err = s.Get(ctx, "a.txt")
	require.NoError(t, err)
	assert.Nil(t, got)
}

// TestBadgerFingerprintStore_SourceIsolation verifies fingerprints are
// keyed per source.
func TestBadgerFingerprintStore_SourceIsolation(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	s := NewBadgerFingerprintStore(db)

	fpA := sampleFingerprint()
	fpB := sampleFingerprint()
	fpB.Hash = "other"

	require.NoError(t, s.Put(ctx, "a.txt", fpA))
	require.NoError(t, s.Put(ctx, "b.txt", fpB))

	gotA, err := s.Get(ctx, "a.txt")
	require.NoError(t, err)
	require.NotNil(t, gotA)
	assert.Equal(t, "abc123", gotA.Hash)

	gotB, err := s.Get(ctx, "b.txt")
	require.NoError(t, err)
	require.NotNil(t, gotB)
	assert.Equal(t, "other", gotB.Hash)
}

// TestBadgerFingerprintStore_CanceledContext verifies context errors are
// surfaced before touching the database.
func TestBadgerFingerprintStore_CanceledContext(t *testing.T) {
	db, err := badgerstore.OpenInMemory()
	require.NoError(t, err)
	defer db.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := NewBadgerFingerprintStore(db)
	_, err = s.Get(ctx, "a.txt")
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorIs(t, s.Put(ctx, "a.txt", sampleFingerprint()), context.Canceled)
	assert.ErrorIs(t, s.Delete(ctx, "a.txt"), context.Canceled)
}
