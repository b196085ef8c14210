// Package observability provides Prometheus metrics and HTTP middleware
// for monitoring the sandpit gateway.
package observability

import "github.com/prometheus/client_golang/prometheus"

// SandboxBuckets defines histogram buckets suited for remote sandbox
// operations, ranging from 50ms to 120s (code execution dominates the
// upper end).
var SandboxBuckets = []float64{0.05, 0.1, 0.5, 1, 2, 5, 10, 30, 60, 120}

func counterVec(name, help string, labels ...string) *prometheus.CounterVec {
	return prometheus.NewCounterVec(prometheus.CounterOpts{Name: name, Help: help}, labels)
}

func histogramVec(name, help string, labels ...string) *prometheus.HistogramVec {
	return prometheus.NewHistogramVec(
		prometheus.HistogramOpts{Name: name, Help: help, Buckets: SandboxBuckets}, labels)
}

var (
	// RequestsTotal counts all HTTP requests by method and status class.
	RequestsTotal = counterVec("sandpit_requests_total",
		"HTTP requests handled by the gateway", "method", "status")

	// RequestDuration records HTTP request duration in seconds by method.
	RequestDuration = histogramVec("sandpit_request_duration_seconds",
		"Wall-clock seconds per HTTP request", "method")

	// SessionOpensTotal counts remote session open attempts by outcome.
	SessionOpensTotal = counterVec("sandpit_session_opens_total",
		"Attempts to open a remote sandbox session", "status")

	// SessionClosesTotal counts session teardowns.
	SessionClosesTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "sandpit_session_closes_total",
		Help: "Sandbox session teardowns",
	})

	// SessionsActive tracks the number of currently open sessions.
	SessionsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "sandpit_sessions_active",
		Help: "Sandbox sessions currently open",
	})

	// BatchesTotal counts operation batches by outcome
	// (ok, partial_error, open_error).
	BatchesTotal = counterVec("sandpit_batches_total",
		"Statement batches by outcome", "status")

	// BatchDuration records end-to-end batch duration in seconds.
	BatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "sandpit_batch_duration_seconds",
		Help:    "Wall-clock seconds per statement batch",
		Buckets: SandboxBuckets,
	})

	// OperationsTotal counts sandbox sub-operations by kind
	// (write, execute, read, list) and outcome.
	OperationsTotal = counterVec("sandpit_operations_total",
		"Sandbox sub-operations by kind and outcome", "op", "status")

	// TimeoutUpdatesTotal counts idle-timeout updates by status.
	TimeoutUpdatesTotal = counterVec("sandpit_timeout_updates_total",
		"Idle-timeout updates by status", "status")

	// RateLimitRejectedTotal counts requests rejected by the rate limiter.
	RateLimitRejectedTotal = counterVec("sandpit_ratelimit_rejected_total",
		"Requests turned away by the per-tier rate limiter", "tier")

	// AuthDeniedTotal counts requests turned away by the auth middleware,
	// by reason ("unauthenticated" or "forbidden").
	AuthDeniedTotal = counterVec("sandpit_auth_denied_total",
		"Requests denied by authentication or authorization", "reason")
)

func init() {
	for _, c := range []prometheus.Collector{
		RequestsTotal, RequestDuration,
		SessionOpensTotal, SessionClosesTotal, SessionsActive,
		BatchesTotal, BatchDuration, OperationsTotal, TimeoutUpdatesTotal,
		RateLimitRejectedTotal, AuthDeniedTotal,
	} {
		prometheus.MustRegister(c)
	}
}
