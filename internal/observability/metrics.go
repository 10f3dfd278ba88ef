package observability

import (
	"github.com/prometheus/client_golang/prometheus"
)

// MetricsCollector holds all Prometheus metrics for fluentgate.
// Uses a custom registry — no global state.
type MetricsCollector struct {
	Registry *prometheus.Registry

	// Job pipeline metrics.
	JobsTotal            *prometheus.CounterVec
	JobDuration          *prometheus.HistogramVec
	ValidationFailures   *prometheus.CounterVec
	RateLimitedTotal     prometheus.Counter

	// Engine execution metrics.
	ExecutionsTotal   *prometheus.CounterVec
	ExecutionDuration *prometheus.HistogramVec

	// Staged file metrics.
	StagedFiles      prometheus.Gauge
	StagedFilesSwept prometheus.Counter

	// HTTP gateway metrics.
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec

	// System metrics.
	ActiveRequests prometheus.Gauge
}

// NewMetricsCollector creates a MetricsCollector with all metrics registered
// on a custom prometheus.Registry.
func NewMetricsCollector() *MetricsCollector {
	reg := prometheus.NewRegistry()

	m := &MetricsCollector{
		Registry: reg,

		JobsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluentgate",
			Subsystem: "jobs",
			Name:      "total",
			Help:      "Total job requests by engine and outcome.",
		}, []string{"engine", "status"}),

		JobDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluentgate",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "End-to-end job processing duration in seconds.",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}, []string{"engine"}),

		ValidationFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluentgate",
			Subsystem: "jobs",
			Name:      "validation_failures_total",
			Help:      "Total rejected job requests by offending field.",
		}, []string{"field"}),

		RateLimitedTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fluentgate",
			Subsystem: "jobs",
			Name:      "rate_limited_total",
			Help:      "Total requests rejected by the rate limiter.",
		}),

		ExecutionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluentgate",
			Subsystem: "engine",
			Name:      "executions_total",
			Help:      "Total engine process executions.",
		}, []string{"engine", "status"}),

		ExecutionDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluentgate",
			Subsystem: "engine",
			Name:      "execution_duration_seconds",
			Help:      "Engine process wall-clock duration in seconds.",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.5, 1, 5, 10, 30, 60},
		}, []string{"engine"}),

		StagedFiles: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fluentgate",
			Subsystem: "staging",
			Name:      "files",
			Help:      "Number of staged files currently tracked.",
		}),

		StagedFilesSwept: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "fluentgate",
			Subsystem: "staging",
			Name:      "files_swept_total",
			Help:      "Total staged files removed by sweeps.",
		}),

		HTTPRequestsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "fluentgate",
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total HTTP requests.",
		}, []string{"method", "path", "status_code"}),

		HTTPRequestDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "fluentgate",
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request duration in seconds.",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "path"}),

		ActiveRequests: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "fluentgate",
			Name:      "active_requests",
			Help:      "Number of currently active requests.",
		}),
	}

	// Register all collectors.
	reg.MustRegister(
		m.JobsTotal,
		m.JobDuration,
		m.ValidationFailures,
		m.RateLimitedTotal,
		m.ExecutionsTotal,
		m.ExecutionDuration,
		m.StagedFiles,
		m.StagedFilesSwept,
		m.HTTPRequestsTotal,
		m.HTTPRequestDuration,
		m.ActiveRequests,
	)

	return m
}
