package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Server lifecycle metrics
var (
	// ServerStartups counts inference server launches by result
	ServerStartups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferbench_server_startups_total",
			Help: "Total number of inference server launches by result (ready, timeout, exited)",
		},
		[]string{"result"},
	)

	// ServerStartupDuration tracks how long the server takes to report ready
	ServerStartupDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inferbench_server_startup_duration_seconds",
			Help:    "Time from process launch until the health endpoint reports ready",
			Buckets: prometheus.ExponentialBuckets(0.25, 2, 10), // 250ms to ~2min
		},
	)
)

// Trial metrics
var (
	// TrialsTotal counts load-generation trials by outcome
	TrialsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "inferbench_trials_total",
			Help: "Total number of load-generation trials by outcome (passed, failed, timeout)",
		},
		[]string{"outcome"},
	)

	// TrialDuration tracks wall-clock duration of each trial by request rate
	TrialDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "inferbench_trial_duration_seconds",
			Help:    "Wall-clock duration of load-generation trials by request rate",
			Buckets: prometheus.ExponentialBuckets(1, 2, 12), // 1s to ~68min
		},
		[]string{"request_rate"},
	)

	// RequestLatency tracks end-to-end completion request latency
	RequestLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "inferbench_request_latency_seconds",
			Help:    "End-to-end latency of completion requests issued by the load generator",
			Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0, 30.0, 60.0, 120.0},
		},
	)

	// RequestErrors counts failed completion requests
	RequestErrors = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "inferbench_request_errors_total",
			Help: "Total number of failed completion requests",
		},
	)
)

// Helper functions for common metric operations

// RecordServerStartup records a server launch result
func RecordServerStartup(result string) {
	ServerStartups.WithLabelValues(result).Inc()
}

// RecordServerStartupDuration records the time until the server reported ready
func RecordServerStartupDuration(d time.Duration) {
	ServerStartupDuration.Observe(d.Seconds())
}

// RecordTrial records a trial outcome
func RecordTrial(outcome string) {
	TrialsTotal.WithLabelValues(outcome).Inc()
}

// RecordTrialDuration records the duration of a trial at a given rate label
func RecordTrialDuration(rateLabel string, d time.Duration) {
	TrialDuration.WithLabelValues(rateLabel).Observe(d.Seconds())
}

// RecordRequestLatency records the latency of a single completion request
func RecordRequestLatency(d time.Duration) {
	RequestLatency.Observe(d.Seconds())
}

// RecordRequestError increments the request error counter
func RecordRequestError() {
	RequestErrors.Inc()
}
