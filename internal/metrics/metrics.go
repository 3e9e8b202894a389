// Copyright (c) 2025 ManuGH
// Licensed under the PolyForm Noncommercial License 1.0.0
// Since v2.0.0, this software is restricted to non-commercial use only.

// Package metrics provides Prometheus metrics for the download gateway.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Naming follows flat, namespace-prefixed convention; label sets are kept
// small and bounded to avoid cardinality explosion (no job_id, no URL).
var (
	// Scheduler / queue

	QueueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytdlp_queue_depth",
		Help: "Current number of jobs waiting in the scheduler queue, by priority.",
	}, []string{"priority"})

	WorkersBusy = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytdlp_workers_busy",
		Help: "Current number of worker goroutines actively processing a job.",
	})

	JobsEnqueuedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_jobs_enqueued_total",
		Help: "Total number of jobs accepted into the queue, by priority.",
	}, []string{"priority"})

	JobsRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_jobs_rejected_total",
		Help: "Total number of jobs rejected at admission time, by reason.",
	}, []string{"reason"})

	// Job state transitions

	JobStateTransitionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_job_state_transitions_total",
		Help: "Total number of job state transitions, by from/to state.",
	}, []string{"from", "to"})

	JobDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytdlp_job_duration_seconds",
		Help:    "Wall-clock duration of a job from dispatch to terminal state.",
		Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s .. ~34min
	}, []string{"outcome"})

	// Rate limiting

	RateLimitRejectedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_rate_limit_rejected_total",
		Help: "Total number of requests rejected by the token bucket limiter, by category.",
	}, []string{"category"})

	// Extractor invocation

	ExtractorInvocationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_extractor_invocations_total",
		Help: "Total number of extractor process invocations, by operation and exit class.",
	}, []string{"operation", "exit_class"})

	ExtractorDurationSeconds = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "ytdlp_extractor_duration_seconds",
		Help:    "Duration of extractor process invocations, by operation.",
		Buckets: prometheus.DefBuckets,
	}, []string{"operation"})

	// Retry / circuit breaker

	RetryAttemptsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_retry_attempts_total",
		Help: "Total number of retry attempts, by operation and classification.",
	}, []string{"operation", "classification"})

	CircuitBreakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytdlp_circuit_breaker_state",
		Help: "Current circuit breaker state (0=closed, 1=open, 2=half-open), by name.",
	}, []string{"name"})

	CircuitBreakerTripsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_circuit_breaker_trips_total",
		Help: "Total number of circuit breaker trips, by name and reason.",
	}, []string{"name", "reason"})

	// Process lifecycle

	ProcTerminateTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_proc_terminate_total",
		Help: "Total number of subprocess termination signals sent, by signal and outcome.",
	}, []string{"signal", "outcome"})

	ProcWaitTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_proc_wait_total",
		Help: "Total number of subprocess wait outcomes.",
	}, []string{"outcome"})

	// Cookies

	CookieValidationsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_cookie_validations_total",
		Help: "Total number of cookie validation attempts, by provider and result.",
	}, []string{"provider", "result"})

	CookieAgeSeconds = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "ytdlp_cookie_age_seconds",
		Help: "Age of the currently loaded cookie jar, by provider.",
	}, []string{"provider"})

	// Storage reaper

	ReaperReclaimedBytesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_reaper_reclaimed_bytes_total",
		Help: "Total number of bytes reclaimed by the storage reaper, by reason.",
	}, []string{"reason"})

	ReaperRunsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "ytdlp_reaper_runs_total",
		Help: "Total number of storage reaper sweeps, by outcome.",
	}, []string{"outcome"})

	DiskFreeBytes = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "ytdlp_disk_free_bytes",
		Help: "Free bytes on the configured output filesystem as of the last sweep.",
	})
)

// SetCircuitBreakerState records the active circuit breaker state by name.
func SetCircuitBreakerState(name, state string) {
	CircuitBreakerState.WithLabelValues(name).Set(stateToFloat(state))
}

// SetCircuitBreakerStatus records the active circuit breaker state as an
// explicit integer code, matching the State enum ordinal.
func SetCircuitBreakerStatus(name string, status int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(status))
}

// RecordCircuitBreakerTrip increments the trip counter for a breaker.
func RecordCircuitBreakerTrip(name, reason string) {
	CircuitBreakerTripsTotal.WithLabelValues(name, reason).Inc()
}

func stateToFloat(state string) float64 {
	switch state {
	case "closed":
		return 0
	case "open":
		return 1
	case "half-open":
		return 2
	default:
		return -1
	}
}

// IncProcTerminate records a termination signal delivery attempt.
func IncProcTerminate(signal, outcome string) {
	ProcTerminateTotal.WithLabelValues(signal, outcome).Inc()
}

// IncProcWait records a subprocess wait outcome.
func IncProcWait(outcome string) {
	ProcWaitTotal.WithLabelValues(outcome).Inc()
}
