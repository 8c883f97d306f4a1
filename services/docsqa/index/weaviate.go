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
	"crypto/sha256"
	"fmt"
	"log/slog"
	"sync"

	"github.com/go-openapi/strfmt"
	"github.com/google/uuid"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/filters"
	"github.com/weaviate/weaviate-go-client/v5/weaviate/graphql"
	"github.com/weaviate/weaviate/entities/models"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
	"github.com/AleutianAI/AleutianDocsQA/services/embedding"
)

var tracer = otel.Tracer("docsqa.index.weaviate")

// WeaviateIndex is the production Adapter backed by a Weaviate instance.
// Embeddings are computed client-side, so the DocChunk class runs with
// vectorizer "none".
type WeaviateIndex struct {
	client   *weaviate.Client
	embedder embedding.Embedder
	fps      FingerprintStore
	cfg      ChunkingConfig

	// docLocks serializes upserts per source so a re-index never races a
	// concurrent re-index of the same document. Reads are served by
	// Weaviate and see either the old or new complete chunk set.
	docLocks sync.Map
}

// NewWeaviateIndex creates the Weaviate-backed index adapter.
func NewWeaviateIndex(client *weaviate.Client, embedder embedding.Embedder, fps FingerprintStore, cfg ChunkingConfig) *WeaviateIndex {
	return &WeaviateIndex{
		client:   client,
		embedder: embedder,
		fps:      fps,
		cfg:      cfg,
	}
}

// EnsureSchema creates the DocChunk class if it does not exist yet.
func EnsureSchema(ctx context.Context, client *weaviate.Client) error {
	exists, err := client.Schema().ClassExistenceChecker().
		WithClassName(datatypes.ChunkClassName).
		Do(ctx)
	if err != nil {
		return fmt.Errorf("failed to check the DocChunk schema: %w", err)
	}
	if exists {
		slog.Info("Verified existing Weaviate schema", "class", datatypes.ChunkClassName)
		return nil
	}

	class := &models.Class{
		Class:       datatypes.ChunkClassName,
		Description: "An addressable chunk of an ingested documentation file",
		Vectorizer:  "none",
		Properties: []*models.Property{
			{Name: "content", DataType: []string{"text"}, Description: "The chunk text"},
			{Name: "source", DataType: []string{"text"}, Description: "Owning document filename"},
			{Name: "chunk_id", DataType: []string{"text"}, Description: "Stable per-source ordinal id"},
			{Name: "section", DataType: []string{"text"}, Description: "Section heading, if any"},
		},
	}
	if err := client.Schema().ClassCreator().WithClass(class).Do(ctx); err != nil {
		return fmt.Errorf("failed to create the DocChunk schema: %w", err)
	}
	slog.Info("Created Weaviate schema", "class", datatypes.ChunkClassName)
	return nil
}

func (w *WeaviateIndex) lockFor(source string) *sync.Mutex {
	mu, _ := w.docLocks.LoadOrStore(source, &sync.Mutex{})
	return mu.(*sync.Mutex)
}

// chunkObjectID derives a deterministic Weaviate object UUID from the
// chunk's identity. Re-upserting the same chunk overwrites the same object
// instead of duplicating it.
func chunkObjectID(c datatypes.Chunk) strfmt.UUID {
	hash := sha256.Sum256([]byte(c.CitationKey()))
	objUUID, _ := uuid.FromBytes(hash[:16])
	return strfmt.UUID(objUUID.String())
}

// Upsert implements the Adapter interface with replace-by-source
// semantics: stale chunk objects for the document are deleted in the same
// logical operation that writes the new set.
func (w *WeaviateIndex) Upsert(ctx context.Context, doc datatypes.Document, chunks []datatypes.Chunk) error {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Upsert")
	defer span.End()
	span.SetAttributes(
		attribute.String("doc.source", doc.Source),
		attribute.Int("doc.chunks", len(chunks)),
	)

	mu := w.lockFor(doc.Source)
	mu.Lock()
	defer mu.Unlock()

	texts := make([]string, len(chunks))
	for i, c := range chunks {
		texts[i] = c.Text
	}
	var vectors [][]float32
	err := withRetry(ctx, "embed.batch", func() error {
		var embedErr error
		vectors, embedErr = w.embedder.EmbedBatch(ctx, texts)
		return embedErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return err
	}

	// Deterministic object ids make the insert below overwrite surviving
	// chunks in place; the delete clears chunks that no longer exist
	// (shrinking documents).
	sourceFilter := filters.Where().
		WithPath([]string{"source"}).
		WithOperator(filters.Equal).
		WithValueString(doc.Source)

	_, err = w.client.Batch().ObjectsBatchDeleter().
		WithClassName(datatypes.ChunkClassName).
		WithWhere(sourceFilter).
		WithOutput("minimal").
		Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch delete failed")
		return &InfraError{Op: "weaviate.delete", Retryable: false, Err: err}
	}

	objects := make([]*models.Object, len(chunks))
	for i, c := range chunks {
		objects[i] = &models.Object{
			Class:  datatypes.ChunkClassName,
			ID:     chunkObjectID(c),
			Vector: vectors[i],
			Properties: map[string]interface{}{
				"content":  c.Text,
				"source":   c.Source,
				"chunk_id": c.ChunkID,
				"section":  c.Section,
			},
		}
	}

	resp, err := w.client.Batch().ObjectsBatcher().WithObjects(objects...).Do(ctx)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "batch import failed")
		return &InfraError{Op: "weaviate.upsert", Retryable: false, Err: err}
	}
	for _, item := range resp {
		if item.Result != nil && item.Result.Errors != nil && len(item.Result.Errors.Error) > 0 {
			for _, errItem := range item.Result.Errors.Error {
				slog.Warn("Error in Weaviate batch item", "source", doc.Source, "error", errItem.Message)
			}
			return &InfraError{Op: "weaviate.upsert", Retryable: false,
				Err: fmt.Errorf("batch import rejected objects for %s", doc.Source)}
		}
	}

	if err := w.fps.Put(ctx, doc.Source, w.fingerprintFor(doc)); err != nil {
		return fmt.Errorf("failed to record index fingerprint: %w", err)
	}
	slog.Info("Upserted document into Weaviate", "source", doc.Source, "chunks", len(chunks))
	return nil
}

// Query implements the Adapter interface.
func (w *WeaviateIndex) Query(ctx context.Context, text string, topK int) ([]datatypes.RetrievedItem, error) {
	ctx, span := tracer.Start(ctx, "WeaviateIndex.Query")
	defer span.End()
	span.SetAttributes(attribute.Int("query.top_k", topK))

	if topK <= 0 {
		return nil, fmt.Errorf("topK must be positive, got %d", topK)
	}

	var queryVec []float32
	err := withRetry(ctx, "embed.query", func() error {
		var embedErr error
		queryVec, embedErr = w.embedder.Embed(ctx, text)
		return embedErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "embedding failed")
		return nil, err
	}

	nearVector := w.client.GraphQL().NearVectorArgBuilder().WithVector(queryVec)

	// The vector is requested alongside certainty so the diversity
	// re-ranking pass downstream can compare candidates to each other.
	fields := []graphql.Field{
		{Name: "content"},
		{Name: "source"},
		{Name: "chunk_id"},
		{Name: "section"},
		{Name: "_additional", Fields: []graphql.Field{
			{Name: "certainty"},
			{Name: "vector"},
		}},
	}

	var result *models.GraphQLResponse
	err = withRetry(ctx, "weaviate.query", func() error {
		var queryErr error
		result, queryErr = w.client.GraphQL().Get().
			WithClassName(datatypes.ChunkClassName).
			WithFields(fields...).
			WithNearVector(nearVector).
			WithLimit(topK).
			Do(ctx)
		return queryErr
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "weaviate query failed")
		return nil, err
	}

	parsed, err := datatypes.ParseGraphQLResponse[datatypes.ChunkQueryResponse](result)
	if err != nil {
		span.RecordError(err)
		return nil, fmt.Errorf("%w: %v", ErrStoreCorrupt, err)
	}

	items := make([]datatypes.RetrievedItem, 0, len(parsed.Get.DocChunk))
	for _, hit := range parsed.Get.DocChunk {
		items = append(items, datatypes.RetrievedItem{
			Chunk: datatypes.Chunk{
				Source:  hit.Source,
				ChunkID: hit.ChunkID,
				Section: hit.Section,
				Text:    hit.Content,
			},
			Score:  hit.Additional.Certainty,
			Vector: hit.Additional.Vector,
		})
	}
	SortItems(items)
	if len(items) > topK {
		items = items[:topK]
	}
	span.SetAttributes(attribute.Int("query.results", len(items)))
	return items, nil
}

// NeedsReindex implements the Adapter interface.
func (w *WeaviateIndex) NeedsReindex(ctx context.Context, doc datatypes.Document) (bool, error) {
	stored, err := w.fps.Get(ctx, doc.Source)
	if err != nil {
		return false, err
	}
	if stored == nil {
		return true, nil
	}
	return *stored != w.fingerprintFor(doc), nil
}

func (w *WeaviateIndex) fingerprintFor(doc datatypes.Document) Fingerprint {
	return Fingerprint{
		Hash:           doc.Hash,
		ChunkSize:      w.cfg.ChunkSize,
		ChunkOverlap:   w.cfg.ChunkOverlap,
		EmbeddingModel: w.embedder.Model(),
	}
}
