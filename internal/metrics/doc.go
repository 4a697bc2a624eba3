
/*
Package metrics provides Prometheus metrics collection and export for observability.

This package implements application instrumentation using the Prometheus client
library, exposing metrics for the claim scheduler, the quota gate, worker
pipelines, the planning-DB sync loop, and the webhook receiver.

# Overview

The package provides metrics for:
  - HTTP request latency and throughput (webhook receiver, §4.11b)
  - Claim scheduler throughput and contention (C7)
  - Quota gate admission/rejection decisions (C8)
  - Worker pipeline stage durations and outcomes (C9/C10)
  - Planning-DB sync push loop statistics (C11a)
  - Circuit breaker state transitions (planning API client, C5)
  - Cache hit/miss rates (channel/quota registry caches)

# Metrics Endpoint

Metrics are exposed at the /metrics endpoint in Prometheus text format. The
endpoint is mounted on the webhook server's router (internal/sync), which
listens on WEBHOOK_PORT (default 8081):

	curl http://localhost:8081/metrics

# Available Metrics

HTTP Metrics:
  - http_requests_total: Total HTTP requests (counter)
    Labels: method, endpoint, status_code
  - http_request_duration_seconds: Request latency (histogram)
    Labels: method, endpoint
  - http_requests_in_flight: Active requests (gauge)

Database Metrics:
  - db_query_duration_seconds: Query execution time (histogram)
    Labels: operation, table
  - db_connections_active: Active database connections (gauge)
  - db_query_errors_total: Failed queries (counter)
    Labels: operation, table, error_type

Claim Scheduler Metrics (C7):
  - scheduler_claim_duration_seconds: Time to claim one task, start to commit (histogram)
  - scheduler_claims_total: Tasks claimed (counter)
    Labels: channel
  - scheduler_claim_empty_total: Claim attempts that found no eligible task (counter)
  - scheduler_skip_locked_contention_total: Claims that had to skip a locked row (counter)

Quota Gate Metrics (C8):
  - gate_decisions_total: Gate admission decisions (counter)
    Labels: decision (admit, defer, reject), reason
  - gate_quota_remaining: Remaining YouTube upload quota units for the day (gauge)
  - gate_quota_threshold_breached_total: Times the quota threshold was crossed (counter)

Worker Pipeline Metrics (C9/C10):
  - worker_stage_duration_seconds: Duration of a pipeline stage execution (histogram)
    Labels: stage, tool
  - worker_stage_transitions_total: Task status transitions (counter)
    Labels: from_status, to_status
  - worker_tool_failures_total: External tool invocation failures (counter)
    Labels: tool, error_type
  - worker_retry_attempts_total: Retry attempts per stage (counter)
    Labels: stage

Sync Metrics (C11a):
  - sync_push_duration_seconds: Duration of a planning-DB push cycle (histogram)
  - sync_records_pushed_total: Task status updates pushed per cycle (counter)
  - sync_push_errors_total: Failed push cycles (counter)
    Labels: error_type
  - sync_last_success_timestamp: Unix timestamp of last successful push (gauge)
  - webhook_events_total: Webhook events received (counter)
    Labels: event_type, outcome (e.g. accepted, duplicate, bad_signature,
    bad_payload, store_error, applied, conflict)

Circuit Breaker Metrics:
  - circuit_breaker_state: Current state (gauge)
    Labels: name
    Values: 0=closed, 1=half-open, 2=open
  - circuit_breaker_requests_total: Requests through the breaker (counter)
    Labels: name, result

Cache Metrics:
  - cache_hits_total: Cache hits (counter)
    Labels: cache_type
  - cache_misses_total: Cache misses (counter)
    Labels: cache_type
  - cache_entries: Current number of cached entries (gauge)
    Labels: cache_type

# Usage Example

Minimal standalone setup (in this repository the handler is mounted by the
webhook server instead):

	import (
	    "github.com/vidforge/orchestrator/internal/metrics"
	    "github.com/prometheus/client_golang/prometheus/promhttp"
	)

	func main() {
	    http.Handle("/metrics", promhttp.Handler())

	    metrics.RecordHTTPRequest("GET", "/healthz", "200", time.Millisecond)
	    metrics.RecordClaim("channel-a", claimDuration)
	    metrics.RecordGateDecision("admit", "")
	}

Recording a worker pipeline stage transition:

	start := time.Now()
	err := runner.Run(ctx, task)
	metrics.RecordWorkerStage("generate_script", "gemini", time.Since(start), err)
	metrics.RecordStageTransition(string(prevStatus), string(task.Status))

# Prometheus Configuration

Example prometheus.yml configuration:

	scrape_configs:
	  - job_name: 'orchestrator'
	    static_configs:
	      - targets: ['localhost:8081']
	    metrics_path: '/metrics'
	    scrape_interval: 15s

# Grafana Dashboards

The metrics support Grafana dashboards with panels for:

  - Claim throughput and scheduler contention
  - Gate admission/rejection breakdown and quota headroom
  - Pipeline stage latency (p50, p95, p99) and tool failure rate
  - Planning-DB sync lag and webhook ingestion rate
  - Circuit breaker state visualization

Example PromQL queries:

	# Claim rate per channel
	rate(scheduler_claims_total[5m])

	# Pipeline stage p95 latency
	histogram_quantile(0.95, rate(worker_stage_duration_seconds_bucket[5m]))

	# Gate rejection rate
	sum(rate(gate_decisions_total{decision="reject"}[5m])) / sum(rate(gate_decisions_total[5m]))

	# Webhook events per minute by outcome
	rate(webhook_events_total[1m]) * 60

# Performance Impact

Metrics collection overhead:
  - Counter increment: ~100ns per operation
  - Histogram observation: ~500ns per operation
  - Memory overhead: ~5KB per metric time series
  - Total overhead: <1% CPU, <10MB RAM for typical workloads

# Thread Safety

All metric recording functions are thread-safe and designed for concurrent use
from multiple goroutines. The Prometheus client library handles synchronization
internally.

# Cardinality Management

To prevent high cardinality issues:

  - Channel labels are bounded by the number of configured channels
  - Stage labels are limited to the fixed set of pipeline stages
  - Error types are limited to predefined constants

# Alerting Rules

Example Prometheus alerting rules:

	groups:
	  - name: orchestrator
	    rules:
	      - alert: QuotaNearExhaustion
	        expr: gate_quota_remaining < 2000
	        for: 5m
	        annotations:
	          summary: "YouTube upload quota nearly exhausted: {{ $value }} units left"

	      - alert: SlowClaims
	        expr: |
	          histogram_quantile(0.95,
	            rate(scheduler_claim_duration_seconds_bucket[5m]))
	          > 1
	        for: 5m
	        annotations:
	          summary: "p95 claim latency: {{ $value }}s"

	      - alert: CircuitBreakerOpen
	        expr: circuit_breaker_state > 0
	        for: 2m
	        annotations:
	          summary: "Circuit breaker open for {{ $labels.name }}"

# See Also

  - internal/scheduler: claim scheduler (C7)
  - internal/gate: quota gate (C8)
  - internal/worker: pipeline workers (C9/C10)
  - internal/sync: planning-DB push loop and webhook receiver (C11)
  - https://prometheus.io/docs/practices/naming/: Metric naming conventions
*/
package metrics
