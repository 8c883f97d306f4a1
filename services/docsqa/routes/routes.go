// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

package routes

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/handlers"
	"github.com/AleutianAI/AleutianDocsQA/services/docsqa/services"
)

// SetupRoutes registers the docsqa HTTP surface on the router.
func SetupRoutes(router *gin.Engine, svc *services.QAService, requestTimeout time.Duration) {
	router.GET("/health", handlers.HealthHandler())
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))

	router.POST("/ask", handlers.AskHandler(svc.Ask, requestTimeout))
	router.POST("/ask_agent", handlers.AskHandler(svc.AskAgent, requestTimeout))

	router.GET("/docs", handlers.DocsHandler(svc))
	router.POST("/index", handlers.IndexHandler(svc))
	router.GET("/jobs/:job_id", handlers.JobHandler(svc))

	ingest := router.Group("/ingest")
	{
		ingest.POST("/upload", handlers.UploadHandler(svc))
		ingest.POST("/url", handlers.IngestURLHandler(svc))
	}
}
