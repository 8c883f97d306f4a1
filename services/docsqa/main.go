// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package main

import (
	"context"
	"log"
	"log/slog"
	"os"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/weaviate/weaviate-go-client/v5/weaviate"
	"google.golang.org/grpc/credentials/insecure"

	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.21.0"
	"google.golang.org/grpc"

	"github.com/AleutianAI/AleutianDocsQA/pkg/logging"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/agent"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/answer"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/chunker"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/config"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/docstore"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/index"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/jobs"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/observability"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/retrieval"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/routes"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/services"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/storage/badgerstore"
	"github.com/AleutianAI/AleutianDocsQA/services/embedding"
	"github.com/AleutianAI/AleutianDocsQA/services/llm"
)

func initTracer(endpoint string) (func(context.Context), error) {
	ctx := context.Background()

	conn, err := grpc.NewClient(endpoint,
		grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		return nil, err
	}
	traceExporter, err := otlptracegrpc.New(ctx, otlptracegrpc.WithGRPCConn(conn))
	if err != nil {
		return nil, err
	}
	res, err := resource.New(ctx,
		resource.WithAttributes(semconv.ServiceNameKey.String("docsqa-service")))
	if err != nil {
		return nil, err
	}
	bsp := sdktrace.NewBatchSpanProcessor(traceExporter)
	traceProvider := sdktrace.NewTracerProvider(
		sdktrace.WithSampler(sdktrace.AlwaysSample()),
		sdktrace.WithResource(res),
		sdktrace.WithSpanProcessor(bsp))
	otel.SetTracerProvider(traceProvider)
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(propagation.
		TraceContext{}, propagation.Baggage{}))

	return func(ctx context.Context) {
		ctx, cancel := context.WithTimeout(ctx, time.Second*5)
		defer cancel()
		if err := traceExporter.Shutdown(ctx); err != nil {
			slog.Error("failed to shutdown OTLP exporter", "error", err)
		}
	}, nil
}

// seedEnv lets the env-driven backend constructors pick up config.yaml
// values without the caller exporting everything twice. Real environment
// variables still win.
func seedEnv(cfg config.Config) {
	seed := func(key, value string) {
		if value != "" && os.Getenv(key) == "" {
			os.Setenv(key, value)
		}
	}
	seed("OPENAI_MODEL", cfg.LLM.Model)
	seed("OLLAMA_BASE_URL", cfg.LLM.OllamaURL)
	seed("OLLAMA_MODEL", cfg.LLM.Model)
	seed("OPENAI_EMBEDDING_MODEL", cfg.Embedding.Model)
	seed("EMBEDDING_MODEL_NAME", cfg.Embedding.Model)
	seed("EMBEDDING_SERVICE_URL", cfg.Embedding.SidecarURL)
}

func buildLLMClient(cfg config.Config) (llm.LLMClient, error) {
	switch cfg.LLM.Backend {
	case "ollama":
		slog.Info("Using Ollama LLM backend")
		return llm.NewOllamaClient()
	default:
		slog.Info("Using OpenAI LLM backend")
		return llm.NewOpenAIClient()
	}
}

func buildEmbedder(cfg config.Config) (embedding.Embedder, error) {
	switch cfg.Embedding.Backend {
	case "sidecar":
		slog.Info("Using sidecar embedding backend")
		return embedding.NewSidecarEmbedder()
	default:
		slog.Info("Using OpenAI embedding backend")
		return embedding.NewOpenAIEmbedder()
	}
}

func main() {
	logger := logging.New(logging.Config{
		Level:   logging.ParseLevel(os.Getenv("DOCSQA_LOG_LEVEL")),
		LogDir:  os.Getenv("DOCSQA_LOG_DIR"),
		Service: "docsqa-service",
		JSON:    true,
	})
	defer logger.Close()
	slog.SetDefault(logger.Slog())

	configPath := os.Getenv("DOCSQA_CONFIG")
	if configPath == "" {
		configPath = "config.yaml"
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		log.Fatalf("failed to load configuration: %v", err)
	}
	seedEnv(cfg)

	observability.InitMetrics()

	if cfg.Otel.Enabled {
		cleanup, err := initTracer(cfg.Otel.Endpoint)
		if err != nil {
			log.Fatalf("failed to setup the OTLP tracer: %v", err)
		}
		defer cleanup(context.Background())
	}

	db, err := badgerstore.Open(badgerstore.DefaultConfig(cfg.Badger.Path))
	if err != nil {
		log.Fatalf("failed to open the local store: %v", err)
	}
	defer db.Close()

	embedder, err := buildEmbedder(cfg)
	if err != nil {
		log.Fatalf("failed to initialize the embedder: %v", err)
	}
	llmClient, err := buildLLMClient(cfg)
	if err != nil {
		log.Fatalf("failed to initialize the LLM client: %v", err)
	}

	fps := index.NewBadgerFingerprintStore(db)
	indexCfg := index.ChunkingConfig{
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
	}

	var idx index.Adapter
	if cfg.Weaviate.Host != "" {
		client, err := weaviate.NewClient(weaviate.Config{
			Host:   cfg.Weaviate.Host,
			Scheme: cfg.Weaviate.Scheme,
		})
		if err != nil {
			log.Fatalf("failed to create the Weaviate client: %v", err)
		}
		if err := index.EnsureSchema(context.Background(), client); err != nil {
			log.Fatalf("failed to verify the Weaviate schema: %v", err)
		}
		idx = index.NewWeaviateIndex(client, embedder, fps, indexCfg)
	} else {
		slog.Info("Weaviate host not configured. Running in lightweight mode with the in-memory index.")
		idx = index.NewMemoryIndex(embedder, fps, indexCfg)
	}

	store, err := docstore.NewStore(cfg.Data.Dir)
	if err != nil {
		log.Fatalf("failed to open the document store: %v", err)
	}

	ch := chunker.New(chunker.Config{
		ChunkSize:    cfg.Chunking.Size,
		ChunkOverlap: cfg.Chunking.Overlap,
		MinChunkSize: cfg.Chunking.MinSize,
	})
	retriever := retrieval.NewRetriever(idx, retrieval.Config{
		SimilarityCeiling: cfg.Retrieval.SimilarityCeiling,
	})
	answerer := answer.NewAnswerer(llmClient)
	orchestrator := agent.NewOrchestrator(
		agent.NewPlanner(llmClient), retriever, answerer, agent.NewVerifier(llmClient))
	orchestrator.MaxExtraRounds = cfg.Agent.MaxExtraRounds

	tracker := jobs.NewTracker(db, 32)
	defer tracker.Close()

	svc := services.NewQAService(store, ch, idx, retriever, answerer, orchestrator, tracker)

	// Index whatever is already on disk, then keep the index current as
	// documents change.
	if _, err := svc.EnqueueReindex(); err != nil {
		slog.Error("Failed to enqueue the initial index job", "error", err)
	}
	watcher, err := docstore.NewWatcher(store.RawDir(), func() {
		if _, err := svc.EnqueueReindex(); err != nil {
			slog.Error("Failed to enqueue a re-index after a document change", "error", err)
		}
	})
	if err != nil {
		log.Fatalf("failed to watch the document directory: %v", err)
	}
	defer watcher.Close()

	router := gin.Default()
	router.Use(otelgin.Middleware("docsqa-service"))
	routes.SetupRoutes(router, svc, cfg.Server.RequestTimeout())

	slog.Info("Starting the docsqa server", "addr", cfg.Server.Addr)
	if err := router.Run(cfg.Server.Addr); err != nil {
		log.Fatalf("Failed to start server: %v", err)
	}
}
