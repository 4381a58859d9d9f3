// StageSense - Live Show Proximity Matching Engine
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/stagesense

// Package metrics provides Prometheus instrumentation for the detection
// flow: acquisition outcomes, matching performance, decision mix, live
// subscription churn, and catalog resilience.
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Detection Metrics
	DetectionOutcomes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagesense_detection_outcomes_total",
			Help: "Detection attempts by terminal status",
		},
		[]string{"status"}, // found, permission_denied, timeout, error
	)

	DetectionRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stagesense_detection_retries_total",
			Help: "User-initiated detection retries",
		},
	)

	// Matching Metrics
	MatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stagesense_match_duration_seconds",
			Help:    "Duration of a full matching pass",
			Buckets: prometheus.DefBuckets,
		},
	)

	MatchCandidates = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "stagesense_match_candidates",
			Help:    "Candidates returned per matching pass",
			Buckets: []float64{0, 1, 2, 3, 5, 10, 20},
		},
	)

	// Decision Metrics
	Decisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagesense_decisions_total",
			Help: "Decision policy outcomes",
		},
		[]string{"kind"}, // auto_navigate, present, empty
	)

	// Realtime Subscription Metrics
	OpenSubscriptions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "stagesense_open_subscriptions",
			Help: "Currently open live-show subscriptions",
		},
	)

	SubscriptionFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stagesense_subscription_failures_total",
			Help: "Failed attempts to open a live-show subscription",
		},
	)

	// Catalog Metrics
	CatalogQueryFailures = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "stagesense_catalog_query_failures_total",
			Help: "Catalog queries that failed or were short-circuited",
		},
	)

	CatalogBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stagesense_catalog_breaker_transitions_total",
			Help: "Catalog circuit breaker state transitions by target state",
		},
		[]string{"state"},
	)

	// API Metrics
	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stagesense_api_request_duration_seconds",
			Help:    "HTTP request duration by route and status",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"route", "status"},
	)
)

// ObserveMatch records one matching pass.
func ObserveMatch(start time.Time, candidates int) {
	MatchDuration.Observe(time.Since(start).Seconds())
	MatchCandidates.Observe(float64(candidates))
}
