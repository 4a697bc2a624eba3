// Package sync implements the two independently scheduled reconciliation
// activities between the task store and the external planning database
// (§4.11, C11): a polling push loop that writes authoritative task state
// outward, and a webhook receiver that ingests planning-side edits inward.
// The task store always wins conflicts between the two (§4.11).
package sync

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vidforge/orchestrator/internal/metrics"
	"github.com/vidforge/orchestrator/internal/store"
)

// taskLister is the subset of *store.Store the push loop needs.
type taskLister interface {
	ListTasksWithPlanningPage(ctx context.Context) ([]*store.Task, error)
}

// pagePatcher is the subset of *planning.Client the push loop needs.
type pagePatcher interface {
	UpdatePage(ctx context.Context, pageID string, patch map[string]any) error
}

// PushLoopConfig holds the tunables for one push loop instance.
type PushLoopConfig struct {
	// Interval is how often the loop reconciles (default 60s, §4.11a).
	Interval time.Duration
}

// DefaultPushLoopConfig returns the production default: a 60-second tick.
func DefaultPushLoopConfig() PushLoopConfig {
	return PushLoopConfig{Interval: 60 * time.Second}
}

// PushLoop is a suture.Service that ticks every Interval and patches each
// task's authoritative {Status, Priority} onto its planning page (§4.11a).
// Title, Topic, StoryDirection, and Channel are never written back — those
// fields belong to the planning side and the push loop must preserve
// whatever edits a user has made to them.
type PushLoop struct {
	cfg    PushLoopConfig
	store  taskLister
	client pagePatcher
	logger zerolog.Logger
}

// NewPushLoop builds a PushLoop.
func NewPushLoop(cfg PushLoopConfig, s taskLister, client pagePatcher, logger zerolog.Logger) *PushLoop {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	return &PushLoop{cfg: cfg, store: s, client: client, logger: logger.With().Str("component", "push-loop").Logger()}
}

// Serve implements suture.Service: it ticks immediately, then every
// cfg.Interval, until ctx is canceled.
func (p *PushLoop) Serve(ctx context.Context) error {
	p.logger.Info().Dur("interval", p.cfg.Interval).Msg("push loop starting")
	defer p.logger.Info().Msg("push loop stopped")

	ticker := time.NewTicker(p.cfg.Interval)
	defer ticker.Stop()

	p.runCycle(ctx)

	for {
		select {
		case <-ticker.C:
			p.runCycle(ctx)
		case <-ctx.Done():
			return nil
		}
	}
}

// String implements fmt.Stringer for suture's logging.
func (p *PushLoop) String() string {
	return "sync-push-loop"
}

// runCycle performs one read-all/patch-each reconciliation pass. A failed
// patch for one task is logged and left for the next cycle (§4.11a step 4);
// it never aborts the remaining tasks in this cycle.
func (p *PushLoop) runCycle(ctx context.Context) {
	start := time.Now()

	tasks, err := p.store.ListTasksWithPlanningPage(ctx)
	if err != nil {
		p.logger.Error().Err(err).Msg("failed to list tasks for push")
		metrics.RecordSyncPush(time.Since(start), 0, err)
		return
	}

	pushed := 0
	for _, t := range tasks {
		patch := map[string]any{
			"status":   string(t.Status),
			"priority": string(t.Priority),
		}
		if err := p.client.UpdatePage(ctx, t.PlanningPageID, patch); err != nil {
			p.logger.Warn().Err(err).Str("task_id", t.ID).Str("planning_page_id", t.PlanningPageID).
				Msg("push failed, will retry next cycle")
			continue
		}
		pushed++
	}

	p.logger.Info().Int("pushed", pushed).Int("total", len(tasks)).Dur("elapsed", time.Since(start)).Msg("push cycle complete")
	metrics.RecordSyncPush(time.Since(start), pushed, nil)
}
