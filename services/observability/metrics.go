// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package observability provides Prometheus metrics for the engine.
//
// # Description
//
// Metrics cover the whole request path:
//   - Scans (by status and risk level, latency, cache hits)
//   - Decisions (by action and reason)
//   - Audit entries and review transitions
//   - Retention deletions and failed passes
//   - API errors by category
//
// Metrics are registered on the Registerer passed to NewMetrics, so tests
// and embedded hosts can use an isolated registry.
//
// # Thread Safety
//
// All metric operations are thread-safe via Prometheus's internal locking.
package observability

import (
	"time"

	"github.com/AleutianAI/DataGuard/services/audit"
	pe "github.com/AleutianAI/DataGuard/services/policy_engine"
	"github.com/AleutianAI/DataGuard/services/policy_engine/decision"
	"github.com/AleutianAI/DataGuard/services/retention"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Namespace for all metrics
const metricsNamespace = "dataguard"

// Metrics holds every Prometheus collector of the engine.
//
// # Fields
//
//   - ScansTotal: scans by status and risk level
//   - ScanDurationSeconds: scan latency by cache outcome
//   - DecisionsTotal: decisions by action and reason
//   - AuditEntriesTotal: recorded entries by operation type
//   - ReviewTransitionsTotal: review transitions by resulting status
//   - RetentionDeletedTotal: purged entries by tier
//   - RetentionErrorsTotal: failed purge passes by tier
//   - ErrorsTotal: API errors by endpoint and category
type Metrics struct {
	// Labels: status (clean, detected, failed), risk_level
	ScansTotal *prometheus.CounterVec

	// Labels: cache (hit, miss)
	ScanDurationSeconds *prometheus.HistogramVec

	// Labels: action (allow, warn, block), reason
	DecisionsTotal *prometheus.CounterVec

	// Labels: operation_type
	AuditEntriesTotal *prometheus.CounterVec

	// Labels: status (approved, rejected, pending)
	ReviewTransitionsTotal *prometheus.CounterVec

	// Labels: tier (high, medium, low, override)
	RetentionDeletedTotal *prometheus.CounterVec
	RetentionErrorsTotal  *prometheus.CounterVec

	// Labels: endpoint, category
	ErrorsTotal *prometheus.CounterVec
}

// NewMetrics creates and registers all collectors on reg.
//
// # Limitations
//
//   - Panics if called twice with the same registry (duplicate registration).
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		ScansTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "scanner",
				Name:      "scans_total",
				Help:      "Total content scans by status and risk level",
			},
			[]string{"status", "risk_level"},
		),

		ScanDurationSeconds: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Namespace: metricsNamespace,
				Subsystem: "scanner",
				Name:      "scan_duration_seconds",
				Help:      "Scan latency in seconds",
				Buckets:   []float64{0.0005, 0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5},
			},
			[]string{"cache"},
		),

		DecisionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "policy",
				Name:      "decisions_total",
				Help:      "Total decisions by action and reason",
			},
			[]string{"action", "reason"},
		),

		AuditEntriesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "audit",
				Name:      "entries_total",
				Help:      "Total audit entries recorded by operation type",
			},
			[]string{"operation_type"},
		),

		ReviewTransitionsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "audit",
				Name:      "review_transitions_total",
				Help:      "Total review transitions by resulting status",
			},
			[]string{"status"},
		),

		RetentionDeletedTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "retention",
				Name:      "deleted_total",
				Help:      "Total audit entries purged by tier",
			},
			[]string{"tier"},
		),

		RetentionErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "retention",
				Name:      "errors_total",
				Help:      "Total failed purge passes by tier",
			},
			[]string{"tier"},
		),

		ErrorsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: metricsNamespace,
				Subsystem: "api",
				Name:      "errors_total",
				Help:      "Total API errors by endpoint and category",
			},
			[]string{"endpoint", "category"},
		),
	}
}

// ObserveScan implements policy_engine.ScanObserver.
func (m *Metrics) ObserveScan(res pe.Result, cacheHit bool, d time.Duration) {
	m.ScansTotal.WithLabelValues(string(res.Status), string(res.Level)).Inc()
	outcome := "miss"
	if cacheHit {
		outcome = "hit"
	}
	m.ScanDurationSeconds.WithLabelValues(outcome).Observe(d.Seconds())
}

// RecordDecision counts one decision.
func (m *Metrics) RecordDecision(d decision.Decision) {
	m.DecisionsTotal.WithLabelValues(string(d.Action), d.Reason).Inc()
}

// RecordEntry counts one recorded audit entry. A nil entry is ignored.
func (m *Metrics) RecordEntry(e *audit.Entry) {
	if e == nil {
		return
	}
	m.AuditEntriesTotal.WithLabelValues(string(e.OperationType)).Inc()
}

// RecordReview counts review transitions to status.
func (m *Metrics) RecordReview(status audit.ReviewStatus, n int) {
	if n <= 0 {
		return
	}
	m.ReviewTransitionsTotal.WithLabelValues(string(status)).Add(float64(n))
}

// RecordCleanup counts deletions and failed passes of one cleanup run.
func (m *Metrics) RecordCleanup(r retention.CleanupReport) {
	for tier, n := range r.DeletedByTier {
		m.RetentionDeletedTotal.WithLabelValues(tier).Add(float64(n))
	}
	for _, e := range r.Errors {
		m.RetentionErrorsTotal.WithLabelValues(e.Tier).Inc()
	}
}

// RecordError counts one API error.
func (m *Metrics) RecordError(endpoint, category string) {
	m.ErrorsTotal.WithLabelValues(endpoint, category).Inc()
}

var _ pe.ScanObserver = (*Metrics)(nil)
