package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// API Metrics
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poseflow_http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	// Job Metrics
	JobsCreatedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_jobs_created_total",
			Help: "Total number of jobs submitted",
		},
		[]string{"type"},
	)

	JobAttemptsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_job_attempts_total",
			Help: "Total number of executor invocations by outcome",
		},
		[]string{"type", "outcome"},
	)

	JobsCompletedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_jobs_completed_total",
			Help: "Total number of jobs that reached a terminal state",
		},
		[]string{"type", "status"},
	)

	JobsInProgress = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poseflow_jobs_in_progress",
			Help: "Number of jobs currently being processed",
		},
	)

	JobsQueueDepth = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poseflow_jobs_queue_depth",
			Help: "Number of jobs waiting for a worker",
		},
	)

	JobDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poseflow_job_duration_seconds",
			Help:    "Time from submission to terminal state in seconds",
			Buckets: prometheus.ExponentialBuckets(0.5, 2, 12), // 0.5s to ~17 min
		},
		[]string{"type"},
	)

	// External tool metrics
	ToolInvocationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_tool_invocations_total",
			Help: "Total number of external tool invocations",
		},
		[]string{"tool", "operation", "status"},
	)

	ToolDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poseflow_tool_duration_seconds",
			Help:    "External tool run time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.05, 2, 14),
		},
		[]string{"tool", "operation"},
	)

	// Streaming Metrics
	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "poseflow_active_sessions",
			Help: "Number of open streaming connections",
		},
	)

	FramesAnalyzedTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_frames_analyzed_total",
			Help: "Total number of frames run through pose inference",
		},
		[]string{"status"},
	)

	InferenceLatency = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "poseflow_inference_latency_seconds",
			Help:    "Per-frame decode plus inference latency in seconds",
			Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
		},
	)

	ModelReloadsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_model_reloads_total",
			Help: "Total number of model reload attempts",
		},
		[]string{"status"},
	)

	// Side channel metrics
	ActivityEventsDropped = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_activity_events_dropped_total",
			Help: "Activity events dropped because a backend was saturated or failing",
		},
		[]string{"backend"},
	)

	WebhookDeliveriesTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_webhook_deliveries_total",
			Help: "Completion callback delivery attempts",
		},
		[]string{"status"},
	)

	StorageOperationsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "poseflow_storage_operations_total",
			Help: "Total number of storage operations",
		},
		[]string{"operation", "status"},
	)

	StorageOperationDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "poseflow_storage_operation_duration_seconds",
			Help:    "Storage operation duration in seconds",
			Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
		},
		[]string{"operation"},
	)
)

func status(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// RecordHTTPRequest records an HTTP request
func RecordHTTPRequest(method, endpoint, status string, duration float64) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, status).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordJobCreated records a job submission
func RecordJobCreated(jobType string) {
	JobsCreatedTotal.WithLabelValues(jobType).Inc()
}

// RecordJobAttempt records one executor invocation; outcome is success, retry or failed
func RecordJobAttempt(jobType, outcome string) {
	JobAttemptsTotal.WithLabelValues(jobType, outcome).Inc()
}

// RecordJobCompleted records a job reaching a terminal state
func RecordJobCompleted(jobType, status string, duration float64) {
	JobsCompletedTotal.WithLabelValues(jobType, status).Inc()
	JobDuration.WithLabelValues(jobType).Observe(duration)
}

// UpdateJobMetrics updates current job metrics
func UpdateJobMetrics(inProgress, queueDepth int) {
	JobsInProgress.Set(float64(inProgress))
	JobsQueueDepth.Set(float64(queueDepth))
}

// RecordToolInvocation records an external process run
func RecordToolInvocation(tool, operation string, err error, duration float64) {
	ToolInvocationsTotal.WithLabelValues(tool, operation, status(err)).Inc()
	ToolDuration.WithLabelValues(tool, operation).Observe(duration)
}

// SetActiveSessions sets the open connection gauge
func SetActiveSessions(n int) {
	ActiveSessions.Set(float64(n))
}

// RecordFrameAnalyzed records one analyzed frame
func RecordFrameAnalyzed(err error, latency float64) {
	FramesAnalyzedTotal.WithLabelValues(status(err)).Inc()
	if err == nil {
		InferenceLatency.Observe(latency)
	}
}

// RecordModelReload records a model reload attempt
func RecordModelReload(err error) {
	ModelReloadsTotal.WithLabelValues(status(err)).Inc()
}

// RecordActivityDropped records an activity event that was not delivered
func RecordActivityDropped(backend string) {
	ActivityEventsDropped.WithLabelValues(backend).Inc()
}

// RecordWebhookDelivery records a callback delivery attempt
func RecordWebhookDelivery(status string) {
	WebhookDeliveriesTotal.WithLabelValues(status).Inc()
}

// RecordStorageOperation records a storage operation
func RecordStorageOperation(operation string, err error, duration float64) {
	StorageOperationsTotal.WithLabelValues(operation, status(err)).Inc()
	StorageOperationDuration.WithLabelValues(operation).Observe(duration)
}
