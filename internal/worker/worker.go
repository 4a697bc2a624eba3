
// Package worker implements the long-running claim-gate-dispatch loop
// (§4.9, C9). A Worker is a suture.Service: Serve(ctx) blocks until ctx is
// canceled, at which point the current iteration finishes, any in-flight
// worker-local concurrency counters are released, and Serve returns nil.
package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"

	"github.com/vidforge/orchestrator/internal/gate"
	"github.com/vidforge/orchestrator/internal/metrics"
	"github.com/vidforge/orchestrator/internal/pipeline"
	"github.com/vidforge/orchestrator/internal/store"
)

// claimer is the subset of *scheduler.Scheduler a worker needs.
type claimer interface {
	Claim(ctx context.Context) (*store.Task, error)
}

// statusUpdater is the subset of *store.Store a worker needs for
// releasing a gate-rejected task back to queued.
type statusUpdater interface {
	UpdateStatus(ctx context.Context, id string, from, to store.Status, patch store.UpdateStatusPatch) (*store.Task, error)
}

// Config holds the tunables for one worker instance.
type Config struct {
	// Name identifies this worker in logs and the heartbeat metric. It
	// carries no other meaning — workers are interchangeable (§4.9).
	Name string
	// PollInterval is how long the worker sleeps after finding no
	// claimable task.
	PollInterval time.Duration
}

// DefaultConfig returns production defaults.
func DefaultConfig(name string) Config {
	return Config{Name: name, PollInterval: 5 * time.Second}
}

// Worker runs the claim -> gate -> dispatch -> persist -> heartbeat loop
// for one logical worker slot. It owns its own Gate instance so the
// Gemini-exhaustion flag and Kling concurrency counter stay worker-local
// (§4.8, §5).
type Worker struct {
	cfg        Config
	scheduler  claimer
	store      statusUpdater
	dispatcher *pipeline.Dispatcher
	gate       *gate.Gate
	deps       *pipeline.Deps
	logger     zerolog.Logger
}

// New builds a Worker. deps.Gate is overwritten with the worker's own
// gate instance so admission state is never shared across workers.
func New(cfg Config, scheduler claimer, s statusUpdater, dispatcher *pipeline.Dispatcher, g *gate.Gate, deps *pipeline.Deps, logger zerolog.Logger) *Worker {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 5 * time.Second
	}
	deps.Gate = g
	deps.WorkerName = cfg.Name
	return &Worker{
		cfg:        cfg,
		scheduler:  scheduler,
		store:      s,
		dispatcher: dispatcher,
		gate:       g,
		deps:       deps,
		logger:     logger.With().Str("worker", cfg.Name).Logger(),
	}
}

// Serve implements suture.Service.
func (w *Worker) Serve(ctx context.Context) error {
	w.logger.Info().Msg("worker starting")
	defer w.logDrainState()
	defer w.logger.Info().Msg("worker stopped")

	for {
		select {
		case <-ctx.Done():
			return nil
		default:
		}

		if w.runIteration(ctx) {
			metrics.RecordWorkerHeartbeat(w.cfg.Name)
		}

		select {
		case <-ctx.Done():
			return nil
		default:
		}
	}
}

// String implements fmt.Stringer for suture's logging.
func (w *Worker) String() string {
	return "worker-" + w.cfg.Name
}

// runIteration performs one claim->gate->dispatch cycle. It returns
// whether a heartbeat should be recorded (i.e. the loop made forward
// progress rather than idling).
func (w *Worker) runIteration(ctx context.Context) bool {
	task, err := w.scheduler.Claim(ctx)
	if err != nil {
		w.logger.Error().Err(err).Msg("claim failed")
		w.sleep(ctx)
		return false
	}
	if task == nil {
		w.sleep(ctx)
		return false
	}

	logger := w.logger.With().Str("task_id", task.ID).Str("channel", task.ChannelID).Str("status", string(task.Status)).Logger()

	if admitted, reason := w.admit(task); !admitted {
		logger.Info().Str("reason", reason).Msg("gate released task")
		if _, err := w.store.UpdateStatus(ctx, task.ID, store.StatusClaimed, store.StatusQueued,
			store.UpdateStatusPatch{ErrorLog: stringPtr("gate release: " + reason)}); err != nil {
			logger.Error().Err(err).Msg("failed to release gate-rejected task")
		}
		return true
	}
	defer w.release(task)

	outcome, err := w.dispatcher.Dispatch(ctx, w.deps, task)
	switch outcome {
	case pipeline.Advance:
		logger.Info().Msg("stage advanced")
	case pipeline.Retry:
		logger.Warn().Err(err).Msg("stage failed, retriable")
	case pipeline.Fatal:
		logger.Error().Err(err).Msg("stage failed, terminal")
	}

	return true
}

// admit runs the gate checks relevant to the task's current status. Only
// asset-generation and video-generation stages consult the worker-local
// flags; the upload stage's quota check happens inside the pipeline
// dispatcher itself since it needs to run immediately before the upload
// call, not at claim time.
func (w *Worker) admit(task *store.Task) (bool, string) {
	switch task.Status {
	case store.StatusClaimed:
		if d := w.gate.AdmitGeminiTask(); !d.Admitted {
			return false, d.Reason
		}
	case store.StatusCompositesReady:
		if d := w.gate.AdmitKlingRender(task.ChannelID); !d.Admitted {
			return false, d.Reason
		}
	}
	return true, ""
}

// release returns the worker-local Kling concurrency slot claimed in
// admit, if this task's status held one.
func (w *Worker) release(task *store.Task) {
	if task.Status == store.StatusCompositesReady {
		w.gate.ReleaseKlingRender()
	}
}

func (w *Worker) sleep(ctx context.Context) {
	t := time.NewTimer(w.cfg.PollInterval)
	defer t.Stop()
	select {
	case <-t.C:
	case <-ctx.Done():
	}
}

// logDrainState reports this worker's in-flight Kling/Gemini admission
// state once, on exit, so an operator can see what a shutdown interrupted.
func (w *Worker) logDrainState() {
	klingActive, geminiExhausted := w.gate.DrainState()
	w.logger.Info().
		Int("kling_active", klingActive).
		Bool("gemini_exhausted", geminiExhausted).
		Msg("worker drain state")
}

func stringPtr(s string) *string { return &s }
