// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the docsqa service.
//
// # Description
//
// Metrics cover the ask pipeline (requests by mode and outcome, refusals,
// drafts discarded by the grounding check), retrieval and generation
// latency, agent loop depth, and index jobs. Exposed via /metrics; all
// operations are thread-safe through Prometheus's internal locking.
package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const metricsNamespace = "docsqa"

// Outcome label values for AskRequestsTotal.
const (
	OutcomeAnswered = "answered"
	OutcomeRefused  = "refused"
	OutcomeError    = "error"
)

// Mode label values for AskRequestsTotal.
const (
	ModeDirect = "direct"
	ModeAgent  = "agent"
)

// Metrics holds all Prometheus metrics for the docsqa service.
type Metrics struct {
	// AskRequestsTotal counts ask requests.
	// Labels: mode (direct, agent), outcome (answered, refused, error)
	AskRequestsTotal *prometheus.CounterVec

	// GroundingViolationsTotal counts drafts discarded by the fail-closed
	// citation check. These surface to callers as ordinary refusals.
	GroundingViolationsTotal prometheus.Counter

	// RetrievalDurationSeconds measures one retrieval round end to end,
	// embedding included.
	RetrievalDurationSeconds prometheus.Histogram

	// GenerationDurationSeconds measures generation calls.
	// Labels: purpose (draft, plan, verify)
	GenerationDurationSeconds *prometheus.HistogramVec

	// AgentRounds measures retrieval rounds used per agent request.
	AgentRounds prometheus.Histogram

	// IndexJobsTotal counts finished index jobs.
	// Labels: state (succeeded, failed)
	IndexJobsTotal *prometheus.CounterVec

	// DocumentsIndexed tracks the size of the indexed document set.
	DocumentsIndexed prometheus.Gauge
}

// DefaultMetrics is the singleton instance, set by InitMetrics.
var DefaultMetrics *Metrics

// InitMetrics creates and registers all metrics on the default registry.
// Call once at startup; a second call panics on duplicate registration.
func InitMetrics() *Metrics {
	DefaultMetrics = &Metrics{
		AskRequestsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "ask_requests_total",
				Help:      "Total ask requests by mode and outcome",
			},
			[]string{"mode", "outcome"},
		),

		GroundingViolationsTotal: promauto.NewCounter(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "grounding_violations_total",
				Help:      "Drafts discarded because a citation failed validation",
			},
		),

		RetrievalDurationSeconds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "retrieval_duration_seconds",
				Help:      "Duration of one retrieval round in seconds",
				Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
		),

		GenerationDurationSeconds: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "generation_duration_seconds",
				Help:      "Duration of generation calls in seconds",
				Buckets:   []float64{0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0},
			},
			[]string{"purpose"},
		),

		AgentRounds: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Name:      "agent_rounds",
				Help:      "Retrieval rounds used per agent-mode request",
				Buckets:   []float64{1, 2, 3, 4},
			},
		),

		IndexJobsTotal: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Name:      "index_jobs_total",
				Help:      "Finished index jobs by terminal state",
			},
			[]string{"state"},
		),

		DocumentsIndexed: promauto.NewGauge(
			prometheus.GaugeOpts{
				Namespace: metricsNamespace,
				Name:      "documents_indexed",
				Help:      "Documents currently in the indexed set",
			},
		),
	}
	return DefaultMetrics
}

// RecordAsk increments the ask counter, tolerating an uninitialized
// singleton so library tests need no metrics setup.
func RecordAsk(mode, outcome string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.AskRequestsTotal.WithLabelValues(mode, outcome).Inc()
}

// RecordGroundingViolation increments the discarded-draft counter.
func RecordGroundingViolation() {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.GroundingViolationsTotal.Inc()
}

// RecordIndexJob increments the finished-job counter.
func RecordIndexJob(state string) {
	if DefaultMetrics == nil {
		return
	}
	DefaultMetrics.IndexJobsTotal.WithLabelValues(state).Inc()
}
