// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package datatypes holds the wire types and core data model shared by the
// docsqa handlers and services.
package datatypes

// DefaultTopK is applied when an AskRequest omits top_k.
const DefaultTopK = 4

// AskRequest is the request body for POST /ask and POST /ask_agent.
//
// TopK of zero means "use the default"; negative or oversized values are
// rejected by binding validation before any retrieval happens.
type AskRequest struct {
	Question string `json:"question" binding:"required,min=1"`
	TopK     int    `json:"top_k" binding:"omitempty,gte=1,lte=20"`
	Debug    bool   `json:"debug"`
}

// EnsureDefaults fills in unset optional fields.
func (r *AskRequest) EnsureDefaults() {
	if r.TopK == 0 {
		r.TopK = DefaultTopK
	}
}

// Citation points a claim in the answer back at a retrieved chunk.
// The (Source, ChunkID) pair is authoritative; Snippet is display-only.
type Citation struct {
	Source  string `json:"source"`
	ChunkID string `json:"chunk_id"`
	Snippet string `json:"snippet"`
}

// RetrievedChunk is the debug view of one retrieved chunk.
type RetrievedChunk struct {
	ChunkID string  `json:"chunk_id"`
	Text    string  `json:"text"`
	Score   float64 `json:"score"`
}

// DebugInfo is attached to an AskResponse when the caller set debug=true.
type DebugInfo struct {
	Retrieved []RetrievedChunk `json:"retrieved"`
}

// AskResponse is the response body for POST /ask and POST /ask_agent.
type AskResponse struct {
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
	Debug     *DebugInfo `json:"debug,omitempty"`
}

// IngestURLRequest is the request body for POST /ingest/url.
type IngestURLRequest struct {
	URL string `json:"url" binding:"required,url"`
}

// IndexJobResponse is returned by POST /index.
type IndexJobResponse struct {
	JobID string `json:"job_id"`
}

// DocumentInfo is the GET /docs view of one document.
type DocumentInfo struct {
	Source string `json:"source"`
	Hash   string `json:"hash"`
	Chars  int    `json:"chars"`
}
