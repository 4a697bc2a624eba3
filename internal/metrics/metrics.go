
package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics for the orchestrator control plane.
// Covers the claim scheduler (C7), quota gate (C8), worker pipeline (C9/C10),
// planning-DB sync and webhook receiver (C11), and the supporting HTTP/DB/cache
// layers underneath them.

var (
	// Database Metrics
	DBQueryDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "db_query_duration_seconds",
			Help:    "Duration of Postgres queries in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"operation", "table"},
	)

	DBQueryErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "db_query_errors_total",
			Help: "Total number of Postgres query errors",
		},
		[]string{"operation", "table", "error_type"},
	)

	DBConnectionPoolSize = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "db_connections_active",
			Help: "Current number of database connections in use",
		},
	)

	// HTTP Metrics (webhook receiver, health/metrics endpoints)
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status_code"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	HTTPActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	HTTPRateLimitHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_rate_limit_hits_total",
			Help: "Total number of rate limit rejections",
		},
		[]string{"endpoint"},
	)

	// Claim Scheduler Metrics (C7)
	SchedulerClaimDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "scheduler_claim_duration_seconds",
			Help:    "Duration of a single claim transaction, from SELECT FOR UPDATE SKIP LOCKED to commit",
			Buckets: []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1, 2.5},
		},
	)

	SchedulerClaimsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "scheduler_claims_total",
			Help: "Total number of tasks claimed by a worker",
		},
		[]string{"channel"},
	)

	SchedulerClaimEmptyTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_claim_empty_total",
			Help: "Total number of claim attempts that found no eligible task",
		},
	)

	SchedulerSkipLockedTotal = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "scheduler_skip_locked_contention_total",
			Help: "Total number of claim attempts that skipped at least one locked row",
		},
	)

	// Quota Gate Metrics (C8)
	GateDecisionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "gate_decisions_total",
			Help: "Total number of quota gate admission decisions",
		},
		[]string{"decision", "reason"}, // decision: admit, defer, reject
	)

	GateQuotaRemaining = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "gate_quota_remaining",
			Help: "Remaining YouTube upload quota units for the current day",
		},
	)

	GateQuotaThresholdBreached = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "gate_quota_threshold_breached_total",
			Help: "Total number of times the daily quota threshold was crossed",
		},
	)

	// Worker Pipeline Metrics (C9/C10)
	WorkerStageDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "worker_stage_duration_seconds",
			Help:    "Duration of a pipeline stage execution in seconds",
			Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600, 1800},
		},
		[]string{"stage", "tool"},
	)

	WorkerStageTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_stage_transitions_total",
			Help: "Total number of task status transitions",
		},
		[]string{"from_status", "to_status"},
	)

	WorkerToolFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_tool_failures_total",
			Help: "Total number of external tool invocation failures",
		},
		[]string{"tool", "error_type"},
	)

	WorkerRetryAttempts = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "worker_retry_attempts_total",
			Help: "Total number of retry attempts per pipeline stage",
		},
		[]string{"stage"},
	)

	// Sync Metrics (C11)
	SyncPushDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "sync_push_duration_seconds",
			Help:    "Duration of a planning-DB push cycle in seconds",
			Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
		},
	)

	SyncRecordsPushed = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "sync_records_pushed_total",
			Help: "Total number of task status updates pushed to the planning DB",
		},
	)

	SyncPushErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "sync_push_errors_total",
			Help: "Total number of failed push cycles",
		},
		[]string{"error_type"},
	)

	SyncLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "sync_last_success_timestamp",
			Help: "Unix timestamp of last successful push cycle",
		},
	)

	WebhookEventsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "webhook_events_total",
			Help: "Total number of webhook events received",
		},
		[]string{"event_type", "outcome"}, // outcome: e.g. accepted, duplicate, bad_signature, applied, conflict
	)

	// Cache Metrics (channel/quota registry)
	CacheHits = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_hits_total",
			Help: "Total number of cache hits",
		},
		[]string{"cache_type"},
	)

	CacheMisses = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_misses_total",
			Help: "Total number of cache misses",
		},
		[]string{"cache_type"},
	)

	CacheSize = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "cache_entries",
			Help: "Current number of cached entries",
		},
		[]string{"cache_type"},
	)

	CacheEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cache_evictions_total",
			Help: "Total number of cache evictions (TTL expiry)",
		},
		[]string{"cache_type"},
	)

	// Circuit Breaker Metrics (planning API client, C5)
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_requests_total",
			Help: "Total number of requests through circuit breaker",
		},
		[]string{"name", "result"}, // result: "success", "failure", "rejected"
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "from_state", "to_state"},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)

	AppUptime = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "app_uptime_seconds",
			Help: "Application uptime in seconds",
		},
	)

	WorkerHeartbeat = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "worker_heartbeat_timestamp",
			Help: "Unix timestamp of the last completed claim→gate→dispatch iteration per worker",
		},
		[]string{"worker"},
	)
)

// RecordDBQuery records a database query metric.
func RecordDBQuery(operation, table string, duration time.Duration, err error) {
	DBQueryDuration.WithLabelValues(operation, table).Observe(duration.Seconds())
	if err != nil {
		errorType := err.Error()
		if len(errorType) > 50 {
			errorType = errorType[:50]
		}
		DBQueryErrors.WithLabelValues(operation, table, errorType).Inc()
	}
}

// RecordHTTPRequest records an HTTP request metric.
func RecordHTTPRequest(method, endpoint, statusCode string, duration time.Duration) {
	HTTPRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	HTTPRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks in-flight HTTP requests.
func TrackActiveRequest(inc bool) {
	if inc {
		HTTPActiveRequests.Inc()
	} else {
		HTTPActiveRequests.Dec()
	}
}

// RecordClaim records a successful task claim by the scheduler.
func RecordClaim(channel string, duration time.Duration) {
	SchedulerClaimDuration.Observe(duration.Seconds())
	SchedulerClaimsTotal.WithLabelValues(channel).Inc()
}

// RecordClaimEmpty records a claim attempt that found no eligible task.
func RecordClaimEmpty(duration time.Duration) {
	SchedulerClaimDuration.Observe(duration.Seconds())
	SchedulerClaimEmptyTotal.Inc()
}

// RecordSkipLockedContention records a claim attempt that had to skip a locked row.
func RecordSkipLockedContention() {
	SchedulerSkipLockedTotal.Inc()
}

// RecordGateDecision records a quota gate admission decision.
func RecordGateDecision(decision, reason string) {
	GateDecisionsTotal.WithLabelValues(decision, reason).Inc()
}

// UpdateGateQuotaRemaining sets the current remaining quota gauge, recording a
// threshold-breach event when the caller reports thresholdBreached.
func UpdateGateQuotaRemaining(remaining int64, thresholdBreached bool) {
	GateQuotaRemaining.Set(float64(remaining))
	if thresholdBreached {
		GateQuotaThresholdBreached.Inc()
	}
}

// RecordWorkerStage records the duration and outcome of a pipeline stage execution.
func RecordWorkerStage(stage, tool string, duration time.Duration, err error) {
	WorkerStageDuration.WithLabelValues(stage, tool).Observe(duration.Seconds())
	if err != nil {
		WorkerToolFailures.WithLabelValues(tool, classifyToolError(err)).Inc()
	}
}

// RecordStageTransition records a task status transition.
func RecordStageTransition(fromStatus, toStatus string) {
	WorkerStageTransitions.WithLabelValues(fromStatus, toStatus).Inc()
}

// RecordRetryAttempt records a retry attempt for a pipeline stage.
func RecordRetryAttempt(stage string) {
	WorkerRetryAttempts.WithLabelValues(stage).Inc()
}

// RecordWorkerHeartbeat records the timestamp of a worker's last completed
// claim→gate→dispatch iteration.
func RecordWorkerHeartbeat(worker string) {
	WorkerHeartbeat.WithLabelValues(worker).Set(float64(time.Now().Unix()))
}

// classifyToolError buckets a tool-invocation error into a small, bounded set
// of cardinality-safe categories.
func classifyToolError(err error) string {
	msg := err.Error()
	switch {
	case contains(msg, "timeout"), contains(msg, "deadline"):
		return "timeout"
	case contains(msg, "exit status"):
		return "nonzero_exit"
	case contains(msg, "rate limit"), contains(msg, "quota"):
		return "rate_limited"
	case contains(msg, "context canceled"):
		return "canceled"
	default:
		return "other"
	}
}

func contains(s, substr string) bool {
	return indexOf(s, substr) >= 0
}

func indexOf(s, substr string) int {
	n, m := len(s), len(substr)
	if m == 0 {
		return 0
	}
	for i := 0; i+m <= n; i++ {
		if s[i:i+m] == substr {
			return i
		}
	}
	return -1
}

// RecordSyncPush records a planning-DB push cycle.
func RecordSyncPush(duration time.Duration, recordsPushed int, err error) {
	SyncPushDuration.Observe(duration.Seconds())
	SyncRecordsPushed.Add(float64(recordsPushed))
	if err != nil {
		errorType := "unknown"
		msg := err.Error()
		switch {
		case contains(msg, "timeout"):
			errorType = "timeout"
		case contains(msg, "database"), contains(msg, "pgx"):
			errorType = "database"
		case contains(msg, "planning"), contains(msg, "notion"):
			errorType = "planning_api"
		default:
			errorType = "other"
		}
		SyncPushErrors.WithLabelValues(errorType).Inc()
	} else {
		SyncLastSuccess.Set(float64(time.Now().Unix()))
	}
}

// RecordWebhookEvent records an inbound webhook event and its ingestion outcome.
func RecordWebhookEvent(eventType, outcome string) {
	WebhookEventsTotal.WithLabelValues(eventType, outcome).Inc()
}
