// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package handlers provides the gin HTTP handlers for the docsqa service.
//
// Handlers validate and translate; all pipeline logic lives in the
// services package. Error mapping: validation failures are 400 before any
// retrieval, infrastructure failures are 502, request timeouts are 504.
// A refusal is not an error and always ships as 200.
package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/index"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/services"
)

// AskFunc is the service call shared by the two ask endpoints.
type AskFunc func(ctx context.Context, req datatypes.AskRequest) (datatypes.AskResponse, error)

// AskHandler serves POST /ask and POST /ask_agent; the ask function
// selects direct or agent mode. requestTimeout bounds the whole pipeline;
// zero means no timeout.
func AskHandler(ask AskFunc, requestTimeout time.Duration) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.AskRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		ctx := c.Request.Context()
		if requestTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, requestTimeout)
			defer cancel()
		}

		resp, err := ask(ctx, req)
		if err != nil {
			writeAskError(c, err)
			return
		}
		c.JSON(http.StatusOK, resp)
	}
}

// writeAskError maps pipeline failures onto status codes. Timeouts are
// deliberately distinct from refusals: a 504 means the service could not
// finish, not that evidence was missing.
func writeAskError(c *gin.Context, err error) {
	slog.Error("Ask request failed", "error", err)

	if errors.Is(err, context.DeadlineExceeded) {
		c.JSON(http.StatusGatewayTimeout, gin.H{"error": "Request timed out"})
		return
	}
	var infraErr *index.InfraError
	if errors.As(err, &infraErr) {
		c.JSON(http.StatusBadGateway, gin.H{"error": "Upstream service unavailable"})
		return
	}
	if errors.Is(err, index.ErrStoreCorrupt) {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Index store error"})
		return
	}
	c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to answer question"})
}

// HealthHandler serves GET /health.
func HealthHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "ok"})
	}
}

// DocsHandler serves GET /docs.
func DocsHandler(svc *services.QAService) gin.HandlerFunc {
	return func(c *gin.Context) {
		docs, err := svc.ListDocs()
		if err != nil {
			slog.Error("Failed to list documents", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to list documents"})
			return
		}
		if docs == nil {
			docs = []datatypes.DocumentInfo{}
		}
		c.JSON(http.StatusOK, gin.H{"documents": docs})
	}
}
