// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package embedding

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"golang.org/x/time/rate"
)

// SidecarEmbedder talks to a local embedding service over HTTP. The
// service exposes POST /embed for single texts and POST /batch_embed for
// bulk indexing.
type SidecarEmbedder struct {
	httpClient *http.Client
	baseURL    string
	model      string
	limiter    *rate.Limiter
}

type embedRequest struct {
	Text string `json:"text"`
}

type embedResponse struct {
	Id        string    `json:"id"`
	Timestamp int64     `json:"timestamp"`
	Text      string    `json:"text"`
	Vector    []float32 `json:"vector"`
	Dim       int       `json:"dim"`
}

type batchEmbedRequest struct {
	Texts []string `json:"texts"`
}

type batchEmbedResponse struct {
	Id        string      `json:"id"`
	Timestamp int64       `json:"timestamp"`
	Vectors   [][]float32 `json:"vectors"`
	Model     string      `json:"model"`
	Dim       int         `json:"dim"`
}

// NewSidecarEmbedder reads EMBEDDING_SERVICE_URL and EMBEDDING_MODEL_NAME
// from the environment.
func NewSidecarEmbedder() (*SidecarEmbedder, error) {
	baseURL := os.Getenv("EMBEDDING_SERVICE_URL")
	if baseURL == "" {
		return nil, fmt.Errorf("EMBEDDING_SERVICE_URL environment variable not set")
	}
	baseURL = strings.TrimSuffix(strings.TrimSuffix(baseURL, "/"), "/embed")
	model := os.Getenv("EMBEDDING_MODEL_NAME")
	if model == "" {
		model = "google/embeddinggemma-300m"
		slog.Warn("EMBEDDING_MODEL_NAME is not set, defaulting to 'google/embeddinggemma-300m'")
	}
	slog.Info("Initializing sidecar embedder", "base_url", baseURL, "model", model)
	return &SidecarEmbedder{
		// Batch embedding of a large document can take a while.
		httpClient: &http.Client{Timeout: 5 * time.Minute},
		baseURL:    baseURL,
		model:      model,
		limiter:    rate.NewLimiter(rate.Limit(20), 40),
	}, nil
}

// Model implements the Embedder interface.
func (e *SidecarEmbedder) Model() string { return e.model }

// Embed implements the Embedder interface.
func (e *SidecarEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out embedResponse
	if err := e.post(ctx, e.baseURL+"/embed", embedRequest{Text: text}, &out); err != nil {
		return nil, err
	}
	if len(out.Vector) == 0 {
		return nil, fmt.Errorf("embedding service returned an empty vector")
	}
	return out.Vector, nil
}

// EmbedBatch implements the Embedder interface.
func (e *SidecarEmbedder) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	var out batchEmbedResponse
	if err := e.post(ctx, e.baseURL+"/batch_embed", batchEmbedRequest{Texts: texts}, &out); err != nil {
		return nil, err
	}
	if len(out.Vectors) != len(texts) {
		return nil, fmt.Errorf("embedding service returned %d vectors for %d texts", len(out.Vectors), len(texts))
	}
	return out.Vectors, nil
}

func (e *SidecarEmbedder) post(ctx context.Context, url string, payload any, out any) error {
	reqBody, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal embedding request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(reqBody))
	if err != nil {
		return fmt.Errorf("failed to create embedding request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to call the embedding service: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("embedding service returned status %d: %s", resp.StatusCode, string(bodyBytes))
	}
	if err := json.Unmarshal(bodyBytes, out); err != nil {
		return fmt.Errorf("failed to parse the embedding service response: %w", err)
	}
	return nil
}
