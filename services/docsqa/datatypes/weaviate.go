// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package datatypes

import (
	"encoding/json"
	"fmt"

	"github.com/weaviate/weaviate/entities/models"
)

// ChunkClassName is the Weaviate class holding indexed document chunks.
const ChunkClassName = "DocChunk"

// ParseGraphQLResponse parses a Weaviate GraphQL response into the target
// type T. It encapsulates the marshal/unmarshal round trip needed to turn
// Weaviate's dynamic response shape into a strongly-typed struct; T must
// carry json tags matching the response.
//
// Type mismatches produce zero values rather than errors, so callers should
// validate the fields they depend on.
func ParseGraphQLResponse[T any](resp *models.GraphQLResponse) (*T, error) {
	if resp == nil {
		return nil, fmt.Errorf("nil GraphQL response")
	}
	if len(resp.Errors) > 0 {
		return nil, fmt.Errorf("GraphQL error: %s", resp.Errors[0].Message)
	}

	respBytes, err := json.Marshal(resp.Data)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal GraphQL response data: %w", err)
	}

	var result T
	if err := json.Unmarshal(respBytes, &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal into target type: %w", err)
	}
	return &result, nil
}

// ChunkQueryResponse is the typed shape of a nearVector query against the
// DocChunk class.
type ChunkQueryResponse struct {
	Get struct {
		DocChunk []ChunkQueryHit `json:"DocChunk"`
	} `json:"Get"`
}

// ChunkQueryHit is a single retrieved DocChunk object.
//
// Certainty is requested instead of distance because it is always in [0,1]
// regardless of the configured distance metric.
type ChunkQueryHit struct {
	Content    string `json:"content"`
	Source     string `json:"source"`
	ChunkID    string `json:"chunk_id"`
	Section    string `json:"section"`
	Additional struct {
		Certainty float64   `json:"certainty"`
		Vector    []float32 `json:"vector"`
	} `json:"_additional"`
}
