// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package services holds the business logic behind the docsqa handlers.
//
// Services separate orchestration (retrieve, answer, verify, index) from
// HTTP concerns. Dependencies are injected via constructors so every
// service is testable with the in-memory index and mock clients.
package services

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/agent"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/answer"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/chunker"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/docstore"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/index"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/jobs"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/observability"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/retrieval"
)

var qaTracer = otel.Tracer("docsqa.services.qa")

// QAService answers questions over the indexed document set and manages
// re-indexing.
type QAService struct {
	store        *docstore.Store
	chunker      *chunker.Chunker
	idx          index.Adapter
	retriever    *retrieval.Retriever
	answerer     *answer.Answerer
	orchestrator *agent.Orchestrator
	tracker      *jobs.Tracker
}

// NewQAService wires the pipeline together.
func NewQAService(
	store *docstore.Store,
	ch *chunker.Chunker,
	idx index.Adapter,
	retriever *retrieval.Retriever,
	answerer *answer.Answerer,
	orchestrator *agent.Orchestrator,
	tracker *jobs.Tracker,
) *QAService {
	return &QAService{
		store:        store,
		chunker:      ch,
		idx:          idx,
		retriever:    retriever,
		answerer:     answerer,
		orchestrator: orchestrator,
		tracker:      tracker,
	}
}

// Ask answers a question in direct mode: one retrieval over the question
// itself, one grounded synthesis pass.
//
// Citations list everything retrieved for the call (the evidence shown to
// the model), whether or not the final text cites each chunk; the answer's
// inline tokens identify what it actually used.
func (s *QAService) Ask(ctx context.Context, req datatypes.AskRequest) (datatypes.AskResponse, error) {
	ctx, span := qaTracer.Start(ctx, "QAService.Ask")
	defer span.End()
	req.EnsureDefaults()
	span.SetAttributes(attribute.Int("ask.top_k", req.TopK))

	start := time.Now()
	items, err := s.retriever.Retrieve(ctx, []string{req.Question}, req.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "retrieval failed")
		observability.RecordAsk(observability.ModeDirect, observability.OutcomeError)
		return datatypes.AskResponse{}, err
	}
	if m := observability.DefaultMetrics; m != nil {
		m.RetrievalDurationSeconds.Observe(time.Since(start).Seconds())
	}

	result, err := s.answerer.Answer(ctx, req.Question, items)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "answer failed")
		observability.RecordAsk(observability.ModeDirect, observability.OutcomeError)
		return datatypes.AskResponse{}, err
	}
	if result.Grounded {
		observability.RecordAsk(observability.ModeDirect, observability.OutcomeAnswered)
	} else {
		observability.RecordAsk(observability.ModeDirect, observability.OutcomeRefused)
		if len(items) > 0 {
			// Evidence existed but the draft was not acceptable.
			observability.RecordGroundingViolation()
		}
	}

	resp := datatypes.AskResponse{
		Answer:    result.Answer,
		Citations: citationsFor(items),
	}
	if req.Debug {
		resp.Debug = &datatypes.DebugInfo{Retrieved: debugChunks(items)}
	}
	return resp, nil
}

// AskAgent answers a question through the bounded agent loop.
func (s *QAService) AskAgent(ctx context.Context, req datatypes.AskRequest) (datatypes.AskResponse, error) {
	ctx, span := qaTracer.Start(ctx, "QAService.AskAgent")
	defer span.End()
	req.EnsureDefaults()
	span.SetAttributes(attribute.Int("ask.top_k", req.TopK))

	outcome, err := s.orchestrator.Run(ctx, req.Question, req.TopK)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "agent run failed")
		observability.RecordAsk(observability.ModeAgent, observability.OutcomeError)
		return datatypes.AskResponse{}, err
	}
	if m := observability.DefaultMetrics; m != nil {
		m.AgentRounds.Observe(float64(outcome.Rounds))
	}
	if outcome.Grounded {
		observability.RecordAsk(observability.ModeAgent, observability.OutcomeAnswered)
	} else {
		observability.RecordAsk(observability.ModeAgent, observability.OutcomeRefused)
	}

	resp := datatypes.AskResponse{
		Answer:    outcome.Answer,
		Citations: outcome.Citations,
	}
	if resp.Citations == nil {
		resp.Citations = []datatypes.Citation{}
	}
	if req.Debug {
		resp.Debug = &datatypes.DebugInfo{Retrieved: debugChunks(outcome.Retrieved)}
	}
	return resp, nil
}

// ListDocs returns the current document set.
func (s *QAService) ListDocs() ([]datatypes.DocumentInfo, error) {
	docs, err := s.store.List()
	if err != nil {
		return nil, err
	}
	infos := make([]datatypes.DocumentInfo, 0, len(docs))
	for _, doc := range docs {
		infos = append(infos, datatypes.DocumentInfo{
			Source: doc.Source,
			Hash:   doc.Hash,
			Chars:  len(doc.Text),
		})
	}
	return infos, nil
}

// Upload stores an uploaded document and queues a re-index.
func (s *QAService) Upload(name string, r io.Reader) (datatypes.Document, jobs.IndexJob, error) {
	doc, err := s.store.Save(name, r)
	if err != nil {
		return datatypes.Document{}, jobs.IndexJob{}, err
	}
	job, err := s.EnqueueReindex()
	if err != nil {
		return doc, jobs.IndexJob{}, err
	}
	return doc, job, nil
}

// IngestURL fetches a document by URL and queues a re-index.
func (s *QAService) IngestURL(ctx context.Context, url string) (datatypes.Document, jobs.IndexJob, error) {
	doc, err := s.store.FetchURL(ctx, url)
	if err != nil {
		return datatypes.Document{}, jobs.IndexJob{}, err
	}
	job, err := s.EnqueueReindex()
	if err != nil {
		return doc, jobs.IndexJob{}, err
	}
	return doc, job, nil
}

// EnqueueReindex queues a re-index of the whole document set and returns
// the job snapshot immediately.
func (s *QAService) EnqueueReindex() (jobs.IndexJob, error) {
	docs, err := s.store.List()
	if err != nil {
		return jobs.IndexJob{}, err
	}
	sources := make([]string, 0, len(docs))
	for _, doc := range docs {
		sources = append(sources, doc.Source)
	}
	return s.tracker.Enqueue(sources, s.Reindex)
}

// Job returns a tracked job by id.
func (s *QAService) Job(id string) (jobs.IndexJob, bool) {
	return s.tracker.Get(id)
}

// Reindex chunks and upserts every document whose fingerprint changed.
// Safe to run repeatedly; unchanged documents are skipped.
func (s *QAService) Reindex(ctx context.Context) error {
	ctx, span := qaTracer.Start(ctx, "QAService.Reindex")
	defer span.End()

	docs, err := s.store.List()
	if err != nil {
		return fmt.Errorf("list documents: %w", err)
	}

	indexed := 0
	for _, doc := range docs {
		needs, err := s.idx.NeedsReindex(ctx, doc)
		if err != nil {
			return fmt.Errorf("check %s: %w", doc.Source, err)
		}
		if !needs {
			continue
		}
		chunks, err := s.chunker.Chunk(doc)
		if err != nil {
			return fmt.Errorf("chunk %s: %w", doc.Source, err)
		}
		if err := s.idx.Upsert(ctx, doc, chunks); err != nil {
			return fmt.Errorf("index %s: %w", doc.Source, err)
		}
		indexed++
		slog.Info("Re-indexed document", "source", doc.Source, "chunks", len(chunks))
	}

	if m := observability.DefaultMetrics; m != nil {
		m.DocumentsIndexed.Set(float64(len(docs)))
	}
	span.SetAttributes(
		attribute.Int("reindex.documents", len(docs)),
		attribute.Int("reindex.changed", indexed),
	)
	slog.Info("Re-index complete", "documents", len(docs), "changed", indexed)
	return nil
}

func citationsFor(items []datatypes.RetrievedItem) []datatypes.Citation {
	citations := make([]datatypes.Citation, 0, len(items))
	for _, item := range items {
		citations = append(citations, item.Chunk.CitationFor())
	}
	return citations
}

func debugChunks(items []datatypes.RetrievedItem) []datatypes.RetrievedChunk {
	out := make([]datatypes.RetrievedChunk, 0, len(items))
	for _, item := range items {
		out = append(out, datatypes.RetrievedChunk{
			ChunkID: item.Chunk.ChunkID,
			Text:    item.Chunk.Text,
			Score:   item.Score,
		})
	}
	return out
}
