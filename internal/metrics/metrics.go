// Package metrics provides Prometheus metrics for hostdeck.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

const (
	namespace = "hostdeck"
)

// HTTP metrics
var (
	// HTTPRequestsTotal counts HTTP requests by method, path, and status.
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_total",
			Help:      "Total number of HTTP requests",
		},
		[]string{"method", "path", "status"},
	)

	// HTTPRequestDuration tracks HTTP request latency.
	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "request_duration_seconds",
			Help:      "HTTP request latency in seconds",
			Buckets:   []float64{.001, .005, .01, .025, .05, .1, .25, .5, 1, 2.5, 5, 10},
		},
		[]string{"method", "path"},
	)

	// HTTPRequestsInFlight tracks concurrent HTTP requests.
	HTTPRequestsInFlight = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "http",
			Name:      "requests_in_flight",
			Help:      "Number of HTTP requests currently being processed",
		},
	)
)

// Queue metrics
var (
	// QueueJobsTotal counts job outcomes by queue and result.
	QueueJobsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "jobs_total",
			Help:      "Total processed jobs",
		},
		[]string{"queue", "result"}, // acked, released, failed
	)

	// QueueJobDuration tracks handler run time.
	QueueJobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "job_duration_seconds",
			Help:      "Job handler run time in seconds",
			Buckets:   []float64{.01, .05, .1, .5, 1, 5, 15, 30, 60, 120, 300, 600},
		},
		[]string{"job"},
	)

	// QueueRetriedTotal counts failed jobs pushed back onto a queue.
	QueueRetriedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "queue",
			Name:      "retried_total",
			Help:      "Total failed jobs retried",
		},
	)
)

// Deploy metrics
var (
	// DeploymentsTotal counts finished deployment runs by status.
	DeploymentsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "runs_total",
			Help:      "Total deployment runs",
		},
		[]string{"status"},
	)

	// DeploymentDuration tracks deployment wall time.
	DeploymentDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "duration_seconds",
			Help:      "Deployment run time in seconds",
			Buckets:   []float64{1, 5, 10, 30, 60, 120, 300, 600},
		},
	)

	// WebhooksTotal counts webhook deliveries by outcome.
	WebhooksTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "deploy",
			Name:      "webhooks_total",
			Help:      "Total webhook deliveries",
		},
		[]string{"provider", "result"}, // queued, ignored, rejected
	)
)

// Alert metrics
var (
	// AlertsFiredTotal counts alerts raised.
	AlertsFiredTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "fired_total",
			Help:      "Total alerts fired",
		},
		[]string{"severity"},
	)

	// AlertsSuppressedTotal counts alerts suppressed by deduplication.
	AlertsSuppressedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "suppressed_total",
			Help:      "Total alerts suppressed by deduplication",
		},
	)

	// NotificationErrorsTotal counts failed notification sends.
	NotificationErrorsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "alerts",
			Name:      "notification_errors_total",
			Help:      "Total notification delivery errors",
		},
		[]string{"channel"},
	)
)

// Monitor metrics
var (
	// SamplesRecordedTotal counts stored metric samples.
	SamplesRecordedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "samples_recorded_total",
			Help:      "Total metric samples stored",
		},
	)

	// SamplesPrunedTotal counts samples removed by retention.
	SamplesPrunedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "samples_pruned_total",
			Help:      "Total metric samples removed by retention",
		},
	)

	// HostCPUUsage mirrors the latest sampled CPU percentage.
	HostCPUUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "cpu_usage_percent",
			Help:      "Latest sampled CPU usage",
		},
	)

	// HostMemoryUsage mirrors the latest sampled memory percentage.
	HostMemoryUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "memory_usage_percent",
			Help:      "Latest sampled memory usage",
		},
	)

	// HostDiskUsage mirrors the latest sampled disk percentage.
	HostDiskUsage = promauto.NewGauge(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "monitor",
			Name:      "disk_usage_percent",
			Help:      "Latest sampled disk usage",
		},
	)
)

// Auth metrics
var (
	// AuthAttemptsTotal counts admin API authentication attempts.
	AuthAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "auth",
			Name:      "attempts_total",
			Help:      "Total authentication attempts",
		},
		[]string{"result"}, // success, failure, expired, missing
	)
)

// Info metric
var (
	// BuildInfo exposes build information.
	BuildInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "build_info",
			Help:      "Build information",
		},
		[]string{"version", "commit", "build_time"},
	)
)

// SetBuildInfo sets the build info metric.
func SetBuildInfo(version, commit, buildTime string) {
	BuildInfo.WithLabelValues(version, commit, buildTime).Set(1)
}
