/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

package telemetry

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "sxnics"

var (
	// TracksStartedTotal counts tracks that began streaming, by kind (rotation, appointment).
	TracksStartedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "tracks_started_total",
		Help:      "Tracks that started streaming.",
	}, []string{"kind"})

	// TrackFailuresTotal counts tracks skipped because a stage failed (fetch, encode).
	TrackFailuresTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "track_failures_total",
		Help:      "Tracks skipped after a fetch or encode failure.",
	}, []string{"stage"})

	// SchedulerDecisionsTotal counts scheduler outcomes by action.
	SchedulerDecisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "scheduler_decisions_total",
		Help:      "Scheduler decisions by action.",
	}, []string{"action"})

	// PreemptionsTotal counts rotation tracks faded out for an appointment.
	PreemptionsTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "preemptions_total",
		Help:      "Rotation tracks faded out early for an appointment.",
	})

	// PrefetchResultsTotal counts prefetch lookups by result (hit, miss, stale, waited).
	PrefetchResultsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "prefetch_results_total",
		Help:      "Prefetch cache lookups by result.",
	}, []string{"result"})

	// FetchDuration observes media retrieval latency by backend.
	FetchDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "fetch_duration_seconds",
		Help:      "Media fetch latency.",
		Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	}, []string{"backend"})

	// CatalogTracks reports catalog size by kind.
	CatalogTracks = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "catalog_tracks",
		Help:      "Tracks in the current catalog view.",
	}, []string{"kind"})

	// CatalogRefreshTotal counts catalog loads by result (ok, error, unchanged).
	CatalogRefreshTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "catalog_refresh_total",
		Help:      "Catalog refresh attempts by result.",
	}, []string{"result"})

	// ListenersActive reports connected listeners.
	ListenersActive = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "listeners_active",
		Help:      "Currently connected stream listeners.",
	})

	// ListenersDroppedTotal counts listeners removed because their queue overflowed or their write failed.
	ListenersDroppedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "listeners_dropped_total",
		Help:      "Listeners removed by the hub.",
	}, []string{"reason"})

	// BroadcastBytesTotal counts encoded bytes published to the hub.
	BroadcastBytesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "broadcast_bytes_total",
		Help:      "Encoded audio bytes published to listeners.",
	})

	// APIRequestDuration tracks HTTP request latency.
	APIRequestDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "api_request_duration_seconds",
		Help:      "HTTP request latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"method", "endpoint", "status"})

	// APIRequestsTotal counts HTTP requests.
	APIRequestsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "api_requests_total",
		Help:      "HTTP requests served.",
	}, []string{"method", "endpoint", "status"})

	// APIActiveConnections tracks in-flight HTTP requests, including open streams.
	APIActiveConnections = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "api_active_connections",
		Help:      "In-flight HTTP requests.",
	})

	// WebsocketClients tracks open now-playing websocket connections.
	WebsocketClients = promauto.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "websocket_clients",
		Help:      "Open now-playing websocket connections.",
	})

	// DatabaseQueryDuration tracks catalog query latency.
	DatabaseQueryDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: namespace,
		Name:      "database_query_duration_seconds",
		Help:      "Database query latency.",
		Buckets:   []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1},
	}, []string{"operation", "table"})

	// DatabaseErrorsTotal counts failed database operations.
	DatabaseErrorsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "database_errors_total",
		Help:      "Failed database operations.",
	}, []string{"operation"})
)

// Handler exposes the Prometheus metrics endpoint.
func Handler() http.Handler {
	return promhttp.Handler()
}
