
// Package gate is the quota and concurrency admission control sitting
// between the claim scheduler and the worker loop (§4.8, C8). It has
// three admissions: YouTube daily upload quota (shared, backed by the task
// store), Gemini-exhaustion (worker-local, cleared at a configurable UTC
// offset midnight), and Kling render concurrency (worker-local, capped per
// worker or per channel). Alert throttling for quota-threshold crossings
// is built on the same sliding-window primitive the codebase already uses
// for rate-sensitive counters (internal/cache's SlidingWindowStore).
package gate

import (
	"context"
	"sync"
	"time"

	"github.com/vidforge/orchestrator/internal/cache"
	"github.com/vidforge/orchestrator/internal/metrics"
	"github.com/vidforge/orchestrator/internal/store"
)

// YouTubeUploadCost is the fixed quota cost of one upload operation,
// per §4.8.
const YouTubeUploadCost = 1600

// Decision is the outcome of an admission check.
type Decision struct {
	Admitted bool
	Reason   string
}

func admit() Decision { return Decision{Admitted: true} }
func deny(reason string) Decision { return Decision{Admitted: false, Reason: reason} }

// quotaStore is the subset of store.Store the gate needs for quota checks.
type quotaStore interface {
	QuotaGet(ctx context.Context, channelID string, day time.Time) (*store.QuotaUsage, error)
	QuotaAdd(ctx context.Context, channelID string, day time.Time, delta int64) (*store.QuotaUsage, error)
}

// Gate admits or rejects tasks at the upload/render boundary. A single
// Gate instance is worker-local: the Gemini-exhaustion flag and Kling
// concurrency counter are NOT shared across workers by design (§9 — no
// in-memory leader, no cross-process coordination for these two checks).
type Gate struct {
	store quotaStore

	tzOffsetHours int // QUOTA_TIMEZONE_OFFSET, e.g. -8 for PST

	mu                sync.Mutex
	geminiExhausted   bool
	geminiClearedDate string // YYYY-MM-DD in the configured timezone, last date the flag was cleared for

	klingActive        int
	klingCeiling        int // default ceiling (MAX_CONCURRENT_VIDEO)
	klingChannelCeiling map[string]int // optional per-channel override (Channel.MaxConcurrentVideo)

	alerts *cache.SlidingWindowStore // throttles (channel,threshold) alerts to 1 per 5 minutes
}

// New builds a Gate. tzOffsetHours sets the quota day boundary (§4.4);
// klingCeiling is the default per-worker concurrency cap.
func New(s quotaStore, tzOffsetHours, klingCeiling int) *Gate {
	return &Gate{
		store:               s,
		tzOffsetHours:       tzOffsetHours,
		klingCeiling:        klingCeiling,
		klingChannelCeiling: make(map[string]int),
		alerts:              cache.NewSlidingWindowStore(5*time.Minute, 5, 10_000),
	}
}

// SetChannelKlingCeiling overrides the Kling concurrency ceiling for a
// specific channel (Channel.MaxConcurrentVideo in the registry).
func (g *Gate) SetChannelKlingCeiling(channelID string, ceiling int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.klingChannelCeiling[channelID] = ceiling
}

// quotaDay returns the current date in the configured quota timezone, as
// used to key YouTubeQuota rows (invariant I6).
func (g *Gate) quotaDay(now time.Time) time.Time {
	loc := time.FixedZone("quota", g.tzOffsetHours*3600)
	local := now.In(loc)
	return time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, time.UTC)
}

func (g *Gate) quotaDayString(now time.Time) string {
	loc := time.FixedZone("quota", g.tzOffsetHours*3600)
	return now.In(loc).Format("2006-01-02")
}

// AdmitUpload checks the channel's remaining daily YouTube quota against
// the fixed upload cost, emitting a throttled alert if the 80% or 100%
// thresholds are crossed.
func (g *Gate) AdmitUpload(ctx context.Context, channelID string) (Decision, error) {
	now := time.Now()
	usage, err := g.store.QuotaGet(ctx, channelID, g.quotaDay(now))
	if err != nil {
		return Decision{}, err
	}

	projected := usage.UnitsUsed + YouTubeUploadCost
	g.checkThresholdAlert(channelID, usage.UnitsUsed, usage.DailyLimit)

	if projected > usage.DailyLimit {
		metrics.RecordGateDecision("reject", "quota_exhausted")
		return deny("quota_exhausted"), nil
	}

	metrics.RecordGateDecision("admit", "quota_ok")
	return admit(), nil
}

// RecordUpload records the quota cost of a completed upload.
func (g *Gate) RecordUpload(ctx context.Context, channelID string) error {
	_, err := g.store.QuotaAdd(ctx, channelID, g.quotaDay(time.Now()), YouTubeUploadCost)
	return err
}

// checkThresholdAlert emits a structured alert when usedRatio crosses 0.8
// or 1.0, throttled to at most one alert per (channel,threshold) per
// 5 minutes (§4.8).
func (g *Gate) checkThresholdAlert(channelID string, unitsUsed, dailyLimit int64) {
	if dailyLimit <= 0 {
		return
	}
	ratio := float64(unitsUsed) / float64(dailyLimit)

	for _, threshold := range []float64{1.0, 0.8} {
		if ratio < threshold {
			continue
		}
		key := alertKey(channelID, threshold)
		if g.alerts.Count(key) > 0 {
			return // already alerted within the window for the highest threshold crossed
		}
		g.alerts.Increment(key)
		metrics.UpdateGateQuotaRemaining(dailyLimit-unitsUsed, true)
		return
	}
}

func alertKey(channelID string, threshold float64) string {
	if threshold >= 1.0 {
		return channelID + ":100"
	}
	return channelID + ":80"
}

// AdmitGeminiTask checks whether Gemini-backed image/script generation is
// available for this worker. The exhaustion flag is cleared automatically
// once the quota day (in the configured timezone) rolls over.
func (g *Gate) AdmitGeminiTask() Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	today := g.quotaDayString(time.Now())
	if g.geminiClearedDate != today {
		g.geminiExhausted = false
		g.geminiClearedDate = today
	}

	if g.geminiExhausted {
		metrics.RecordGateDecision("reject", "gemini_exhausted")
		return deny("gemini_exhausted")
	}
	metrics.RecordGateDecision("admit", "gemini_ok")
	return admit()
}

// MarkGeminiExhausted flips the worker-local exhaustion flag, set by the
// worker loop when a tool invocation reports a quota-exhaustion marker.
func (g *Gate) MarkGeminiExhausted() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.geminiExhausted = true
	g.geminiClearedDate = g.quotaDayString(time.Now())
}

// AdmitKlingRender checks the worker-local Kling concurrency counter
// against the channel's ceiling (or the process default if unset).
func (g *Gate) AdmitKlingRender(channelID string) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	ceiling := g.klingCeiling
	if override, ok := g.klingChannelCeiling[channelID]; ok && override > 0 {
		ceiling = override
	}

	if g.klingActive >= ceiling {
		metrics.RecordGateDecision("reject", "kling_concurrency")
		return deny("kling_concurrency")
	}

	g.klingActive++
	metrics.RecordGateDecision("admit", "kling_ok")
	return admit()
}

// ReleaseKlingRender decrements the Kling concurrency counter once a
// render completes or fails.
func (g *Gate) ReleaseKlingRender() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.klingActive > 0 {
		g.klingActive--
	}
}

// DrainState reports the worker-local admission state at the moment of
// shutdown: how many Kling renders this worker still holds a slot for,
// and whether the Gemini-exhaustion flag is set.
func (g *Gate) DrainState() (klingActive int, geminiExhausted bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.klingActive, g.geminiExhausted
}
