
package metrics

import (
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

func TestRecordDBQuery(t *testing.T) {
	tests := []struct {
		name      string
		operation string
		table     string
		duration  time.Duration
		err       error
	}{
		{"successful select", "select", "tasks", 10 * time.Millisecond, nil},
		{"successful insert", "insert", "webhook_events", 5 * time.Millisecond, nil},
		{"failed query short error", "update", "channels", 100 * time.Millisecond, errors.New("connection refused")},
		{
			"failed query long error truncates to 50 chars", "delete", "youtube_quota_usage", 50 * time.Millisecond,
			errors.New("this is a very long error message that exceeds fifty characters and should be truncated properly"),
		},
		{"fast query under 1ms", "select", "tasks", 500 * time.Microsecond, nil},
		{"slow query over 5 seconds", "select", "tasks", 5500 * time.Millisecond, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordDBQuery(tt.operation, tt.table, tt.duration, tt.err)
		})
	}
}

func TestRecordDBQuery_ErrorTruncation(t *testing.T) {
	RecordDBQuery("select", "tasks", time.Millisecond, errors.New(strings.Repeat("a", 50)))
	RecordDBQuery("select", "tasks", time.Millisecond, errors.New(strings.Repeat("b", 51)))
	RecordDBQuery("select", "tasks", time.Millisecond, errors.New(strings.Repeat("c", 100)))
	RecordDBQuery("select", "tasks", time.Millisecond, errors.New("err"))
}

func TestRecordHTTPRequest(t *testing.T) {
	tests := []struct {
		name       string
		method     string
		endpoint   string
		statusCode string
		duration   time.Duration
	}{
		{"healthz", "GET", "/healthz", "200", 1 * time.Millisecond},
		{"metrics endpoint", "GET", "/metrics", "200", 5 * time.Millisecond},
		{"webhook accepted", "POST", "/webhooks/planning", "200", 25 * time.Millisecond},
		{"webhook rejected signature", "POST", "/webhooks/planning", "401", 2 * time.Millisecond},
		{"not found", "GET", "/unknown", "404", 1 * time.Millisecond},
		{"internal error", "POST", "/webhooks/planning", "500", 500 * time.Millisecond},
		{"rate limited", "POST", "/webhooks/planning", "429", 1 * time.Millisecond},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordHTTPRequest(tt.method, tt.endpoint, tt.statusCode, tt.duration)
		})
	}
}

func TestTrackActiveRequest(t *testing.T) {
	TrackActiveRequest(true)
	TrackActiveRequest(false)
}

func TestTrackActiveRequest_RequestLifecycle(t *testing.T) {
	for i := 0; i < 10; i++ {
		TrackActiveRequest(true)
	}
	for i := 0; i < 5; i++ {
		TrackActiveRequest(false)
	}
	for i := 0; i < 3; i++ {
		TrackActiveRequest(true)
	}
	for i := 0; i < 8; i++ {
		TrackActiveRequest(false)
	}
}

func TestRecordClaim(t *testing.T) {
	RecordClaim("channel-a", 10*time.Millisecond)
	RecordClaim("channel-b", 25*time.Millisecond)
}

func TestRecordClaimEmpty(t *testing.T) {
	RecordClaimEmpty(2 * time.Millisecond)
}

func TestRecordSkipLockedContention(t *testing.T) {
	RecordSkipLockedContention()
}

func TestRecordGateDecision(t *testing.T) {
	tests := []struct {
		decision string
		reason   string
	}{
		{"admit", ""},
		{"defer", "daily_quota_reserve"},
		{"reject", "channel_concurrency_limit"},
	}
	for _, tt := range tests {
		RecordGateDecision(tt.decision, tt.reason)
	}
}

func TestUpdateGateQuotaRemaining(t *testing.T) {
	UpdateGateQuotaRemaining(9000, false)
	UpdateGateQuotaRemaining(1500, true)
}

func TestRecordWorkerStage(t *testing.T) {
	tests := []struct {
		name     string
		stage    string
		tool     string
		duration time.Duration
		err      error
	}{
		{"script generation succeeds", "generate_script", "gemini", 5 * time.Second, nil},
		{"render times out", "render_video", "kling", 2 * time.Minute, errors.New("context deadline exceeded")},
		{"upload rate limited", "upload_youtube", "youtube_api", 1 * time.Second, errors.New("rate limit exceeded")},
		{"tool exits nonzero", "mux_audio", "ffmpeg", 3 * time.Second, errors.New("exit status 1")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordWorkerStage(tt.stage, tt.tool, tt.duration, tt.err)
		})
	}
}

func TestRecordStageTransition(t *testing.T) {
	RecordStageTransition("queued", "script_generating")
	RecordStageTransition("script_generating", "script_ready")
}

func TestRecordRetryAttempt(t *testing.T) {
	RecordRetryAttempt("render_video")
}

func TestRecordWorkerHeartbeat(t *testing.T) {
	RecordWorkerHeartbeat("worker-0")
}

func TestContains(t *testing.T) {
	tests := []struct {
		name     string
		s        string
		substr   string
		expected bool
	}{
		{"substring at start", "timeout exceeded", "timeout", true},
		{"substring not at start", "error: timeout", "timeout", true},
		{"empty substring always true", "any string", "", true},
		{"empty string with empty substr", "", "", true},
		{"substring longer than string", "hi", "hello", false},
		{"exact match", "database", "database", true},
		{"case sensitive no match", "Database error", "database", false},
		{"quota prefix match", "quota exceeded", "quota", true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if result := contains(tt.s, tt.substr); result != tt.expected {
				t.Errorf("contains(%q, %q) = %v, want %v", tt.s, tt.substr, result, tt.expected)
			}
		})
	}
}

func TestClassifyToolError(t *testing.T) {
	tests := []struct {
		name     string
		errMsg   string
		expected string
	}{
		{"timeout", "operation timeout", "timeout"},
		{"deadline", "context deadline exceeded", "timeout"},
		{"nonzero exit", "exit status 1", "nonzero_exit"},
		{"rate limited", "rate limit exceeded", "rate_limited"},
		{"quota", "quota exceeded for today", "rate_limited"},
		{"canceled", "context canceled", "canceled"},
		{"other", "unexpected disk error", "other"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classifyToolError(errors.New(tt.errMsg)); got != tt.expected {
				t.Errorf("classifyToolError(%q) = %q, want %q", tt.errMsg, got, tt.expected)
			}
		})
	}
}

func TestRecordSyncPush(t *testing.T) {
	tests := []struct {
		name     string
		duration time.Duration
		records  int
		err      error
	}{
		{"successful push small batch", 1 * time.Second, 10, nil},
		{"successful push large batch", 5 * time.Second, 500, nil},
		{"successful push zero records", 500 * time.Millisecond, 0, nil},
		{"planning api error", 2 * time.Second, 5, errors.New("planning API unreachable")},
		{"database error", 1 * time.Second, 3, errors.New("database write failed")},
		{"timeout error", 10 * time.Second, 0, errors.New("push timeout")},
		{"unknown error type", 1 * time.Second, 0, errors.New("something unexpected")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			RecordSyncPush(tt.duration, tt.records, tt.err)
		})
	}
}

func TestRecordWebhookEvent(t *testing.T) {
	RecordWebhookEvent("task.updated", "accepted")
	RecordWebhookEvent("task.updated", "duplicate")
	RecordWebhookEvent("task.created", "rejected")
}

func TestCacheMetrics(t *testing.T) {
	cacheTypes := []string{"channel_registry", "quota_registry"}
	for _, cacheType := range cacheTypes {
		CacheHits.WithLabelValues(cacheType).Add(100)
		CacheMisses.WithLabelValues(cacheType).Add(20)
		CacheSize.WithLabelValues(cacheType).Set(50)
		CacheEvictions.WithLabelValues(cacheType).Add(5)
	}
}

func TestCircuitBreakerMetrics(t *testing.T) {
	cbName := "planning_api"

	CircuitBreakerState.WithLabelValues(cbName).Set(0)
	CircuitBreakerState.WithLabelValues(cbName).Set(2)
	CircuitBreakerState.WithLabelValues(cbName).Set(1)

	CircuitBreakerRequests.WithLabelValues(cbName, "success").Inc()
	CircuitBreakerRequests.WithLabelValues(cbName, "failure").Inc()
	CircuitBreakerRequests.WithLabelValues(cbName, "rejected").Inc()

	CircuitBreakerTransitions.WithLabelValues(cbName, "closed", "open").Inc()
	CircuitBreakerTransitions.WithLabelValues(cbName, "open", "half-open").Inc()
	CircuitBreakerTransitions.WithLabelValues(cbName, "half-open", "closed").Inc()
}

func TestAppMetrics(t *testing.T) {
	AppInfo.WithLabelValues("1.0.0", "go1.25.5").Set(1)
	AppUptime.Set(3600)
	AppUptime.Add(60)
}

func TestHTTPRateLimitHits(t *testing.T) {
	endpoints := []string{"/webhooks/planning", "/healthz"}
	for _, endpoint := range endpoints {
		HTTPRateLimitHits.WithLabelValues(endpoint).Inc()
	}
}

func TestDBConnectionPoolSize(t *testing.T) {
	DBConnectionPoolSize.Set(1)
	DBConnectionPoolSize.Inc()
	DBConnectionPoolSize.Set(5)
	DBConnectionPoolSize.Dec()
}

func TestSchedulerAndGateMetricsLabels(t *testing.T) {
	SchedulerClaimsTotal.WithLabelValues("channel-a").Inc()
	GateDecisionsTotal.WithLabelValues("admit", "").Inc()
	WorkerStageTransitions.WithLabelValues("queued", "script_generating").Inc()
	WorkerToolFailures.WithLabelValues("kling", "timeout").Inc()
	WorkerRetryAttempts.WithLabelValues("render_video").Inc()
}

func TestConcurrentMetricRecording(t *testing.T) {
	var wg sync.WaitGroup
	numGoroutines := 100
	opsPerGoroutine := 50

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				RecordDBQuery("select", "tasks", time.Duration(j)*time.Millisecond, nil)
			}
		}()
	}

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				RecordHTTPRequest("GET", "/healthz", "200", time.Duration(j)*time.Millisecond)
			}
		}()
	}

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				TrackActiveRequest(true)
				TrackActiveRequest(false)
			}
		}()
	}

	wg.Add(numGoroutines)
	for i := 0; i < numGoroutines; i++ {
		go func() {
			defer wg.Done()
			for j := 0; j < opsPerGoroutine; j++ {
				RecordClaim("channel-a", time.Duration(j)*time.Millisecond)
				RecordGateDecision("admit", "")
			}
		}()
	}

	wg.Wait()
}

func TestMetricsRegistration(t *testing.T) {
	collectors := []prometheus.Collector{
		DBQueryDuration,
		DBQueryErrors,
		DBConnectionPoolSize,
		HTTPRequestsTotal,
		HTTPRequestDuration,
		HTTPActiveRequests,
		HTTPRateLimitHits,
		SchedulerClaimDuration,
		SchedulerClaimsTotal,
		SchedulerClaimEmptyTotal,
		SchedulerSkipLockedTotal,
		GateDecisionsTotal,
		GateQuotaRemaining,
		GateQuotaThresholdBreached,
		WorkerStageDuration,
		WorkerStageTransitions,
		WorkerToolFailures,
		WorkerRetryAttempts,
		SyncPushDuration,
		SyncRecordsPushed,
		SyncPushErrors,
		SyncLastSuccess,
		WebhookEventsTotal,
		CacheHits,
		CacheMisses,
		CacheSize,
		CacheEvictions,
		CircuitBreakerState,
		CircuitBreakerRequests,
		CircuitBreakerTransitions,
		AppInfo,
		AppUptime,
		WorkerHeartbeat,
	}

	for _, m := range collectors {
		ch := make(chan *prometheus.Desc, 10)
		m.Describe(ch)
		close(ch)

		count := 0
		for range ch {
			count++
		}
		if count == 0 {
			t.Errorf("metric has no descriptors")
		}
	}
}

func TestMetricGathering(t *testing.T) {
	RecordDBQuery("select", "tasks", time.Millisecond, nil)
	RecordHTTPRequest("GET", "/healthz", "200", time.Millisecond)

	problems, err := testutil.GatherAndLint(prometheus.DefaultGatherer)
	if err != nil {
		t.Logf("lint errors (may be expected): %v", err)
	}
	for _, p := range problems {
		t.Logf("metric lint problem: %s", p.Text)
	}
}

func BenchmarkRecordDBQuery(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordDBQuery("select", "tasks", 10*time.Millisecond, nil)
	}
}

func BenchmarkRecordDBQueryWithError(b *testing.B) {
	err := errors.New("connection refused")
	for i := 0; i < b.N; i++ {
		RecordDBQuery("select", "tasks", 10*time.Millisecond, err)
	}
}

func BenchmarkRecordHTTPRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordHTTPRequest("GET", "/healthz", "200", 25*time.Millisecond)
	}
}

func BenchmarkRecordClaim(b *testing.B) {
	for i := 0; i < b.N; i++ {
		RecordClaim("channel-a", 5*time.Millisecond)
	}
}

func BenchmarkTrackActiveRequest(b *testing.B) {
	for i := 0; i < b.N; i++ {
		TrackActiveRequest(true)
		TrackActiveRequest(false)
	}
}

func BenchmarkContains(b *testing.B) {
	s := "operation timeout exceeded"
	substr := "timeout"
	for i := 0; i < b.N; i++ {
		contains(s, substr)
	}
}
