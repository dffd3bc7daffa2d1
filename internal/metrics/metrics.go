// Gwmirror - Fantasy League Stats Mirror
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/gwmirror

// Package metrics provides Prometheus instrumentation for Gwmirror:
// upstream request outcomes, circuit breaker state, sync and retry
// results, harvest pass coverage, and entry state counts.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Upstream client metrics
	UpstreamRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "upstream_requests_total",
			Help: "Total upstream API requests by endpoint and outcome",
		},
		[]string{"endpoint", "outcome"}, // outcome: success, not_found, transient, rejected
	)

	UpstreamRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "upstream_request_duration_seconds",
			Help:    "Upstream API request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"endpoint"},
	)

	// Circuit breaker metrics
	CircuitBreakerOpen = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_open",
			Help: "1 when the upstream circuit breaker is open, 0 when closed",
		},
	)

	CircuitBreakerFailures = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_failures",
			Help: "Current circuit breaker failure count",
		},
	)

	// Sync engine metrics
	SyncResultsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_results_total",
			Help: "Entry sync outcomes by result reason",
		},
		[]string{"outcome"}, // complete, not_queued, empty_history, no_target_gw, fetch_failed, store_failed
	)

	SyncDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_entry_duration_seconds",
			Help:    "Duration of a single entry sync in seconds",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
	)

	PicksFetchesTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_picks_fetches_total",
			Help: "Total picks endpoint fetches issued by incremental backfill",
		},
	)

	// Retry / dead-letter metrics
	RetryScanEligible = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "retry_scan_eligible",
			Help: "Entries eligible for retry at the last scan (before the batch cap)",
		},
	)

	RetryScanRetried = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "retry_scan_retried_total",
			Help: "Total entries requeued by the retry scanner",
		},
	)

	DeadLetteredTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "dead_lettered_total",
			Help: "Total entries marked dead after exhausting retry attempts",
		},
	)

	// Harvest metrics
	HarvestDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "harvest_pass_duration_seconds",
			Help:    "Duration of a harvest pass in seconds",
			Buckets: []float64{1, 5, 10, 15, 20, 25, 30, 60},
		},
	)

	HarvestEntriesUpdated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_entries_updated_total",
			Help: "Total per-entry updates completed by harvest passes",
		},
	)

	HarvestBudgetExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "harvest_budget_exhausted_total",
			Help: "Harvest passes that stopped launching work at the time budget",
		},
	)

	// Health aggregator metrics
	EntryStateCount = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "entry_state_count",
			Help: "Entry count per sync status at the last health aggregation",
		},
		[]string{"status"},
	)
)
