// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package handlers

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/datatypes"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/docstore"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/jobs"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/services"
)

// UploadHandler serves POST /ingest/upload (multipart field "file").
func UploadHandler(svc *services.QAService) gin.HandlerFunc {
	return func(c *gin.Context) {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Missing multipart field 'file'"})
			return
		}
		f, err := fileHeader.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Unreadable upload"})
			return
		}
		defer f.Close()

		doc, job, err := svc.Upload(fileHeader.Filename, f)
		if err != nil {
			writeIngestError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"source": doc.Source,
			"hash":   doc.Hash,
			"job_id": job.ID,
		})
	}
}

// IngestURLHandler serves POST /ingest/url.
func IngestURLHandler(svc *services.QAService) gin.HandlerFunc {
	return func(c *gin.Context) {
		var req datatypes.IngestURLRequest
		if err := c.ShouldBindJSON(&req); err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
			return
		}

		doc, job, err := svc.IngestURL(c.Request.Context(), req.URL)
		if err != nil {
			writeIngestError(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"source": doc.Source,
			"hash":   doc.Hash,
			"job_id": job.ID,
		})
	}
}

func writeIngestError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, docstore.ErrUnsupportedType):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, jobs.ErrQueueFull):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Indexing queue is full, retry later"})
	default:
		slog.Error("Ingest failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Ingest failed"})
	}
}

// IndexHandler serves POST /index: queue a re-index of the document set.
func IndexHandler(svc *services.QAService) gin.HandlerFunc {
	return func(c *gin.Context) {
		job, err := svc.EnqueueReindex()
		if err != nil {
			if errors.Is(err, jobs.ErrQueueFull) {
				c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Indexing queue is full, retry later"})
				return
			}
			slog.Error("Failed to enqueue index job", "error", err)
			c.JSON(http.StatusInternalServerError, gin.H{"error": "Failed to start indexing"})
			return
		}
		c.JSON(http.StatusOK, datatypes.IndexJobResponse{JobID: job.ID})
	}
}

// JobHandler serves GET /jobs/:job_id.
func JobHandler(svc *services.QAService) gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.Param("job_id")
		job, ok := svc.Job(id)
		if !ok {
			c.JSON(http.StatusNotFound, gin.H{"error": "Unknown job id"})
			return
		}
		c.JSON(http.StatusOK, job)
	}
}
