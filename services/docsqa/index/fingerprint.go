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
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/dgraph-io/badger/v4"
)

// Fingerprint captures everything that, when changed, forces a re-index of
// a document: its content hash plus the indexing-relevant configuration.
type Fingerprint struct {
	Hash           string `json:"hash"`
	ChunkSize      int    `json:"chunk_size"`
	ChunkOverlap   int    `json:"chunk_overlap"`
	EmbeddingModel string `json:"embedding_model"`
}

// FingerprintStore persists the last-indexed fingerprint per source.
type FingerprintStore interface {
	// Get returns nil (no error) when no fingerprint is stored.
	Get(ctx context.Context, source string) (*Fingerprint, error)
	Put(ctx context.Context, source string, fp Fingerprint) error
	Delete(ctx context.Context, source string) error
}

// MemoryFingerprintStore is the in-memory FingerprintStore used in tests
// and lightweight mode.
type MemoryFingerprintStore struct {
	mu  sync.RWMutex
	fps map[string]Fingerprint
}

func NewMemoryFingerprintStore() *MemoryFingerprintStore {
	return &MemoryFingerprintStore{fps: make(map[string]Fingerprint)}
}

func (s *MemoryFingerprintStore) Get(_ context.Context, source string) (*Fingerprint, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	fp, ok := s.fps[source]
	if !ok {
		return nil, nil
	}
	return &fp, nil
}

func (s *MemoryFingerprintStore) Put(_ context.Context, source string, fp Fingerprint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fps[source] = fp
	return nil
}

func (s *MemoryFingerprintStore) Delete(_ context.Context, source string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.fps, source)
	return nil
}

// BadgerFingerprintStore persists fingerprints in the service's embedded
// BadgerDB so unchanged documents are not re-embedded across restarts.
type BadgerFingerprintStore struct {
	db *badger.DB
}

const fingerprintKeyPrefix = "fp:"

func NewBadgerFingerprintStore(db *badger.DB) *BadgerFingerprintStore {
	return &BadgerFingerprintStore{db: db}
}

func (s *BadgerFingerprintStore) key(source string) []byte {
	return []byte(fingerprintKeyPrefix + source)
}

// Get implements the FingerprintStore interface.
func (s *BadgerFingerprintStore) Get(ctx context.Context, source string) (*Fingerprint, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var fp *Fingerprint
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(s.key(source))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			var parsed Fingerprint
			if err := json.Unmarshal(val, &parsed); err != nil {
				return fmt.Errorf("corrupt fingerprint for %s: %w", source, err)
			}
			fp = &parsed
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read fingerprint for %s: %w", source, err)
	}
	return fp, nil
}

// Put implements the FingerprintStore interface.
func (s *BadgerFingerprintStore) Put(ctx context.Context, source string, fp Fingerprint) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(fp)
	if err != nil {
		return fmt.Errorf("failed to marshal fingerprint: %w", err)
	}
	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(s.key(source), data)
	})
	if err != nil {
		return fmt.Errorf("failed to store fingerprint for %s: %w", source, err)
	}
	return nil
}

// Delete implements the FingerprintStore interface.
func (s *BadgerFingerprintStore) Delete(ctx context.Context, source string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(s.key(source))
	})
	if err != nil {
		return fmt.Errorf("failed to delete fingerprint for %s: %w", source, err)
	}
	return nil
}
