// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package config loads the docsqa service configuration: defaults, then an
// optional config.yaml, then environment overrides, in that order.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the full service configuration.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Data      DataConfig      `yaml:"data"`
	Chunking  ChunkingConfig  `yaml:"chunking"`
	Retrieval RetrievalConfig `yaml:"retrieval"`
	Agent     AgentConfig     `yaml:"agent"`
	Weaviate  WeaviateConfig  `yaml:"weaviate"`
	Embedding EmbeddingConfig `yaml:"embedding"`
	LLM       LLMConfig       `yaml:"llm"`
	Badger    BadgerConfig    `yaml:"badger"`
	Otel      OtelConfig      `yaml:"otel"`
}

type ServerConfig struct {
	Addr string `yaml:"addr"`
	// RequestTimeoutSeconds bounds one ask request end to end, including
	// every embedding, search, and generation sub-call.
	RequestTimeoutSeconds int `yaml:"request_timeout_seconds"`
}

func (s ServerConfig) RequestTimeout() time.Duration {
	return time.Duration(s.RequestTimeoutSeconds) * time.Second
}

type DataConfig struct {
	Dir string `yaml:"dir"`
}

type ChunkingConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
	MinSize int `yaml:"min_size"`
}

type RetrievalConfig struct {
	TopKDefault       int     `yaml:"top_k_default"`
	SimilarityCeiling float64 `yaml:"similarity_ceiling"`
}

type AgentConfig struct {
	MaxExtraRounds int `yaml:"max_extra_rounds"`
}

type WeaviateConfig struct {
	// Host is host:port; empty selects lightweight mode with the
	// in-memory index.
	Host   string `yaml:"host"`
	Scheme string `yaml:"scheme"`
}

type EmbeddingConfig struct {
	// Backend is "openai" or "sidecar".
	Backend    string `yaml:"backend"`
	Model      string `yaml:"model"`
	SidecarURL string `yaml:"sidecar_url"`
}

type LLMConfig struct {
	// Backend is "openai" or "ollama".
	Backend   string `yaml:"backend"`
	Model     string `yaml:"model"`
	OllamaURL string `yaml:"ollama_url"`
}

type BadgerConfig struct {
	Path string `yaml:"path"`
}

type OtelConfig struct {
	Enabled  bool   `yaml:"enabled"`
	Endpoint string `yaml:"endpoint"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr:                  ":8000",
			RequestTimeoutSeconds: 90,
		},
		Data: DataConfig{Dir: "data"},
		Chunking: ChunkingConfig{
			Size:    800,
			Overlap: 100,
			MinSize: 80,
		},
		Retrieval: RetrievalConfig{
			TopKDefault:       4,
			SimilarityCeiling: 0.92,
		},
		Agent:    AgentConfig{MaxExtraRounds: 2},
		Weaviate: WeaviateConfig{Scheme: "http"},
		Embedding: EmbeddingConfig{
			Backend: "openai",
			Model:   "text-embedding-3-small",
		},
		LLM: LLMConfig{
			Backend:   "openai",
			Model:     "gpt-4o-mini",
			OllamaURL: "http://localhost:11434",
		},
		Badger: BadgerConfig{Path: "data/index"},
		Otel:   OtelConfig{Endpoint: "localhost:4317"},
	}
}

// Load reads path (when it exists) over the defaults, then applies
// environment overrides. A missing file is not an error; a malformed one
// is.
func Load(path string) (Config, error) {
	cfg := Default()

	raw, err := os.ReadFile(path)
	if err != nil && !errors.Is(err, os.ErrNotExist) {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err == nil {
		if err := yaml.Unmarshal(raw, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	applyEnv(&cfg)
	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	envString("DOCSQA_ADDR", &cfg.Server.Addr)
	envInt("DOCSQA_REQUEST_TIMEOUT_SECONDS", &cfg.Server.RequestTimeoutSeconds)
	envString("DOCSQA_DATA_DIR", &cfg.Data.Dir)
	envInt("DOCSQA_CHUNK_SIZE", &cfg.Chunking.Size)
	envInt("DOCSQA_CHUNK_OVERLAP", &cfg.Chunking.Overlap)
	envString("WEAVIATE_HOST", &cfg.Weaviate.Host)
	envString("WEAVIATE_SCHEME", &cfg.Weaviate.Scheme)
	envString("EMBEDDING_BACKEND", &cfg.Embedding.Backend)
	envString("EMBEDDING_MODEL_NAME", &cfg.Embedding.Model)
	envString("EMBEDDING_SERVICE_URL", &cfg.Embedding.SidecarURL)
	envString("LLM_BACKEND", &cfg.LLM.Backend)
	envString("LLM_MODEL_NAME", &cfg.LLM.Model)
	envString("OLLAMA_URL", &cfg.LLM.OllamaURL)
	envString("DOCSQA_BADGER_PATH", &cfg.Badger.Path)
	envString("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.Otel.Endpoint)
	if v := os.Getenv("OTEL_ENABLED"); v != "" {
		cfg.Otel.Enabled = v == "true" || v == "1"
	}
}

func envString(key string, dst *string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func envInt(key string, dst *int) {
	v := os.Getenv(key)
	if v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return
	}
	*dst = n
}

func (c Config) validate() error {
	if c.Chunking.Size <= 0 {
		return fmt.Errorf("chunking.size must be positive, got %d", c.Chunking.Size)
	}
	if c.Chunking.Overlap < 0 || c.Chunking.Overlap >= c.Chunking.Size {
		return fmt.Errorf("chunking.overlap must be in [0, size), got %d", c.Chunking.Overlap)
	}
	if c.Retrieval.TopKDefault <= 0 {
		return fmt.Errorf("retrieval.top_k_default must be positive, got %d", c.Retrieval.TopKDefault)
	}
	if c.Retrieval.SimilarityCeiling <= 0 || c.Retrieval.SimilarityCeiling > 1 {
		return fmt.Errorf("retrieval.similarity_ceiling must be in (0, 1], got %g", c.Retrieval.SimilarityCeiling)
	}
	if c.Agent.MaxExtraRounds < 0 {
		return fmt.Errorf("agent.max_extra_rounds must not be negative, got %d", c.Agent.MaxExtraRounds)
	}
	switch c.LLM.Backend {
	case "openai", "ollama":
	default:
		return fmt.Errorf("llm.backend must be openai or ollama, got %q", c.LLM.Backend)
	}
	switch c.Embedding.Backend {
	case "openai", "sidecar":
	default:
		return fmt.Errorf("embedding.backend must be openai or sidecar, got %q", c.Embedding.Backend)
	}
	return nil
}
