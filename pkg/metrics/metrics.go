// Package metrics provides Prometheus instrumentation for the proxy.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// RequestLatency tracks end-to-end request latency in seconds, from the
	// dispatcher receiving the request to the response being written.
	RequestLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "request_latency_seconds",
			Help:    "End-to-end request latency in seconds.",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
		},
		[]string{"provider", "flavor", "result"},
	)

	// RequestsTotal tracks total requests by provider and terminal result.
	RequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "requests_total",
			Help: "Total number of requests by provider and result.",
		},
		[]string{"provider", "flavor", "result"}, // result: "success" or a proxy.Kind string (InvalidRoute, AccessDenied, ProviderNotConfigured, TransportFailure, InternalError)
	)

	// RotationAttemptsTotal tracks how many upstream attempts a request made
	// before returning, bucketed by attempt count.
	RotationAttemptsTotal = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "rotation_attempts",
			Help:    "Number of upstream attempts made per request before a terminal outcome.",
			Buckets: []float64{1, 2, 3, 4, 5, 8, 16},
		},
		[]string{"provider"},
	)

	// ActiveRequests tracks the number of currently in-flight requests.
	ActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "active_requests",
			Help: "Number of currently in-flight requests.",
		},
	)

	// ActivityLogCircuitState tracks the activity log's Redis circuit breaker
	// state: 0=closed, 1=open, 2=half-open.
	ActivityLogCircuitState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activitylog_circuit_state",
			Help: "Current state of the activity log's Redis circuit breaker: 0=closed, 1=open, 2=half-open.",
		},
	)

	// ActivityLogPendingEntries tracks how many entries are queued for retry
	// because the last push to Redis failed.
	ActivityLogPendingEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "activitylog_pending_entries",
			Help: "Number of activity log entries queued for retry against Redis.",
		},
	)

	// AdminLoginAttemptsTotal tracks admin login attempts by outcome.
	AdminLoginAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "admin_login_attempts_total",
			Help: "Total admin login attempts by outcome.",
		},
		[]string{"outcome"}, // "success", "rejected", "rate_limited"
	)
)
