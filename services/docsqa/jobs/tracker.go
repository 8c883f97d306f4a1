// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package jobs tracks asynchronous index jobs. A single worker drains the
// queue, so re-indexing runs for the same document (or any document) never
// overlap; the index adapter's per-document atomicity covers readers.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/observability"
)

// JobState is the lifecycle state of an index job.
type JobState string

const (
	StateQueued    JobState = "queued"
	StateRunning   JobState = "running"
	StateSucceeded JobState = "succeeded"
	StateFailed    JobState = "failed"
)

// Terminal reports whether the state is final.
func (s JobState) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// IndexJob is one tracked re-indexing run.
type IndexJob struct {
	ID      string   `json:"job_id"`
	State   JobState `json:"state"`
	Sources []string `json:"sources"`
	// Error carries failure detail; empty unless State is failed.
	Error      string     `json:"error,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
	StartedAt  *time.Time `json:"started_at,omitempty"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

// JobFunc performs the actual indexing work for a job.
type JobFunc func(ctx context.Context) error

type queuedJob struct {
	id  string
	run JobFunc
}

const jobKeyPrefix = "job:"

// ErrQueueFull is returned by Enqueue when the job queue has no room.
var ErrQueueFull = errors.New("index job queue is full")

// Tracker owns job records and runs queued jobs one at a time.
//
// Terminal job records are additionally written to BadgerDB when a db is
// supplied, so job status survives a restart. In-flight state lives only
// in memory.
type Tracker struct {
	mu   sync.RWMutex
	jobs map[string]*IndexJob

	queue chan queuedJob
	db    *badger.DB

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
}

// NewTracker creates a Tracker and starts its worker. db may be nil for
// memory-only tracking. Close must be called to stop the worker.
func NewTracker(db *badger.DB, queueDepth int) *Tracker {
	if queueDepth <= 0 {
		queueDepth = 16
	}
	ctx, cancel := context.WithCancel(context.Background())
	t := &Tracker{
		jobs:   make(map[string]*IndexJob),
		queue:  make(chan queuedJob, queueDepth),
		db:     db,
		ctx:    ctx,
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go t.worker()
	return t
}

// Close stops the worker. Queued jobs that have not started are left in
// state queued; a restart re-enqueues by re-scanning the document set.
func (t *Tracker) Close() {
	t.cancel()
	<-t.done
}

// Enqueue registers a job over the given sources and queues it for the
// worker. It returns immediately with the queued job snapshot.
func (t *Tracker) Enqueue(sources []string, run JobFunc) (IndexJob, error) {
	job := &IndexJob{
		ID:        uuid.NewString(),
		State:     StateQueued,
		Sources:   append([]string(nil), sources...),
		CreatedAt: time.Now().UTC(),
	}

	t.mu.Lock()
	t.jobs[job.ID] = job
	t.mu.Unlock()

	select {
	case t.queue <- queuedJob{id: job.ID, run: run}:
	default:
		t.mu.Lock()
		delete(t.jobs, job.ID)
		t.mu.Unlock()
		return IndexJob{}, ErrQueueFull
	}

	slog.Info("Enqueued index job", "job_id", job.ID, "sources", len(sources))
	return *job, nil
}

// Get returns the job snapshot for id. Terminal jobs evicted from memory
// are read back from BadgerDB.
func (t *Tracker) Get(id string) (IndexJob, bool) {
	t.mu.RLock()
	job, ok := t.jobs[id]
	t.mu.RUnlock()
	if ok {
		return *job, true
	}
	if t.db == nil {
		return IndexJob{}, false
	}

	var stored IndexJob
	err := t.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(jobKeyPrefix + id))
		if err != nil {
			return err
		}
		return item.Value(func(val []byte) error {
			return json.Unmarshal(val, &stored)
		})
	})
	if err != nil {
		if !errors.Is(err, badger.ErrKeyNotFound) {
			slog.Error("Failed to read job record", "job_id", id, "error", err)
		}
		return IndexJob{}, false
	}
	return stored, true
}

func (t *Tracker) worker() {
	defer close(t.done)
	for {
		select {
		case <-t.ctx.Done():
			return
		case qj := <-t.queue:
			t.runJob(qj)
		}
	}
}

func (t *Tracker) runJob(qj queuedJob) {
	now := time.Now().UTC()
	t.update(qj.id, func(job *IndexJob) {
		job.State = StateRunning
		job.StartedAt = &now
	})

	err := qj.run(t.ctx)

	finished := time.Now().UTC()
	t.update(qj.id, func(job *IndexJob) {
		job.FinishedAt = &finished
		if err != nil {
			job.State = StateFailed
			job.Error = err.Error()
		} else {
			job.State = StateSucceeded
		}
	})

	if err != nil {
		observability.RecordIndexJob(string(StateFailed))
		slog.Error("Index job failed", "job_id", qj.id, "error", err)
	} else {
		observability.RecordIndexJob(string(StateSucceeded))
		slog.Info("Index job succeeded", "job_id", qj.id,
			"duration", finished.Sub(now).String())
	}
}

func (t *Tracker) update(id string, apply func(*IndexJob)) {
	t.mu.Lock()
	job, ok := t.jobs[id]
	if !ok {
		t.mu.Unlock()
		return
	}
	apply(job)
	snapshot := *job
	t.mu.Unlock()

	if snapshot.State.Terminal() {
		t.persist(snapshot)
	}
}

func (t *Tracker) persist(job IndexJob) {
	if t.db == nil {
		return
	}
	payload, err := json.Marshal(job)
	if err != nil {
		slog.Error("Failed to marshal job record", "job_id", job.ID, "error", err)
		return
	}
	err = t.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(jobKeyPrefix+job.ID), payload)
	})
	if err != nil {
		slog.Error("Failed to persist job record", "job_id", job.ID, "error", err)
	}
}

// String implements fmt.Stringer for log lines.
func (j IndexJob) String() string {
	return fmt.Sprintf("%s(%s)", j.ID, j.State)
}
