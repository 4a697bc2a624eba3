
// Package pipeline dispatches a claimed task to the stage procedure for its
// current status (§4.10, C10). Each stage is an idempotent
// claim-external work-persist-advance routine: it invokes the tool runner,
// never holds a database transaction across that call, and finishes by
// compare-and-setting the task's status along the transition graph.
package pipeline

import (
	"context"
	"errors"
	"time"

	"github.com/vidforge/orchestrator/internal/gate"
	"github.com/vidforge/orchestrator/internal/metrics"
	"github.com/vidforge/orchestrator/internal/orcherr"
	"github.com/vidforge/orchestrator/internal/store"
	"github.com/vidforge/orchestrator/internal/toolrunner"
	"github.com/vidforge/orchestrator/internal/workspace"
)

// taskStore is the subset of *store.Store a stage needs, letting tests
// substitute a lightweight fake instead of a live Postgres instance.
type taskStore interface {
	UpdateStatus(ctx context.Context, id string, from, to store.Status, patch store.UpdateStatusPatch) (*store.Task, error)
}

// taskGate is the subset of *gate.Gate stages need: the upload leg
// consults the YouTube quota, and any stage that hits a quota-marked tool
// failure flips the Gemini-exhaustion flag rather than terminating (§4.8,
// §7).
type taskGate interface {
	AdmitUpload(ctx context.Context, channelID string) (gate.Decision, error)
	RecordUpload(ctx context.Context, channelID string) error
	MarkGeminiExhausted()
}

// toolInvoker is the subset of *toolrunner.Runner a stage needs.
type toolInvoker interface {
	Run(ctx context.Context, program string, args []string, timeout time.Duration) (*toolrunner.Result, error)
}

// Outcome is the result of dispatching one stage.
type Outcome int

const (
	// Advance means the stage completed and the task moved forward.
	Advance Outcome = iota
	// Retry means a retriable failure sent the task back to a prior
	// queued-equivalent status.
	Retry
	// Fatal means a non-retriable failure moved the task to its
	// terminal error status.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Advance:
		return "advance"
	case Retry:
		return "retry"
	case Fatal:
		return "fatal"
	default:
		return "unknown"
	}
}

// Deps bundles the collaborators every stage needs. Each worker gets its
// own copy of Deps; worker.New sets Gate (the worker's own Gate instance
// for worker-local admission state, §4.8) and WorkerName on that copy.
type Deps struct {
	Store      taskStore
	Tools      toolInvoker
	Paths      *workspace.Pather
	Gate       taskGate
	WorkerName string
}

// StageFunc runs the work for a task currently at a given status and
// returns how it moved.
type StageFunc func(ctx context.Context, deps *Deps, task *store.Task) (Outcome, error)

// stageDef declares one step of the pipeline graph: the tool to invoke,
// the transient "generating" status to CAS into while the tool runs, and
// where the task goes on success, retriable failure, and fatal failure.
type stageDef struct {
	tool        string
	generating  store.Status
	onSuccess   store.Status
	onRetry     store.Status
	onFatal     store.Status
	timeout     time.Duration
	argsForTask func(task *store.Task) []string
}

// Dispatcher holds the static status-to-stage map (§4.10).
type Dispatcher struct {
	stages map[store.Status]StageFunc
}

// New builds the dispatcher with the fixed pipeline graph (§4.10).
func New() *Dispatcher {
	d := &Dispatcher{stages: make(map[store.Status]StageFunc)}

	d.register(store.StatusClaimed, stageDef{
		tool:       "generate_assets",
		generating: store.StatusGeneratingAssets,
		onSuccess:  store.StatusAssetsReady,
		onRetry:    store.StatusQueued,
		onFatal:    store.StatusAssetError,
		timeout:    10 * time.Minute,
	})
	d.register(store.StatusAssetsApproved, stageDef{
		tool:       "generate_composites",
		generating: store.StatusGeneratingComposites,
		onSuccess:  store.StatusCompositesReady,
		onRetry:    store.StatusAssetsApproved,
		onFatal:    store.StatusAssetError,
		timeout:    10 * time.Minute,
	})
	d.register(store.StatusCompositesReady, stageDef{
		tool:       "generate_video",
		generating: store.StatusGeneratingVideo,
		onSuccess:  store.StatusVideoReady,
		onRetry:    store.StatusCompositesReady,
		onFatal:    store.StatusVideoError,
		timeout:    30 * time.Minute,
	})
	d.register(store.StatusVideoApproved, stageDef{
		tool:       "generate_audio",
		generating: store.StatusGeneratingAudio,
		onSuccess:  store.StatusAudioReady,
		onRetry:    store.StatusVideoApproved,
		onFatal:    store.StatusAudioError,
		timeout:    10 * time.Minute,
	})
	d.register(store.StatusAudioApproved, stageDef{
		tool:       "generate_sfx",
		generating: store.StatusGeneratingSFX,
		onSuccess:  store.StatusSFXReady,
		onRetry:    store.StatusAudioApproved,
		onFatal:    store.StatusAudioError,
		timeout:    10 * time.Minute,
	})
	d.registerAssembly()
	d.registerUpload()

	return d
}

func (d *Dispatcher) register(from store.Status, def stageDef) {
	d.stages[from] = buildStage(def)
}

// Lookup returns the stage for a task's current status, if any. Not
// every status has a stage: the gate states wait on a human decision and
// the terminal states have none.
func (d *Dispatcher) Lookup(status store.Status) (StageFunc, bool) {
	fn, ok := d.stages[status]
	return fn, ok
}

// Dispatch runs the stage registered for the task's current status.
// Statuses with no registered stage (gates, terminals) are a no-op
// Advance — the worker loop should not have claimed them in the first
// place, but dispatch is defensive.
func (d *Dispatcher) Dispatch(ctx context.Context, deps *Deps, task *store.Task) (Outcome, error) {
	fn, ok := d.Lookup(task.Status)
	if !ok {
		return Advance, nil
	}
	return fn(ctx, deps, task)
}

// buildStage generalizes the claim-generate-persist pattern shared by
// every "generating_*" step of the graph. Stage-specific argument
// construction is left to the tool runner call site via argsForTask.
func buildStage(def stageDef) StageFunc {
	return func(ctx context.Context, deps *Deps, task *store.Task) (Outcome, error) {
		from := task.Status

		if _, err := deps.Store.UpdateStatus(ctx, task.ID, from, def.generating, store.UpdateStatusPatch{}); err != nil {
			return Fatal, err
		}
		metrics.RecordStageTransition(string(from), string(def.generating))

		var args []string
		if def.argsForTask != nil {
			args = def.argsForTask(task)
		} else {
			args = []string{"--channel", task.ChannelID, "--project", task.ID}
		}

		start := time.Now()
		_, runErr := deps.Tools.Run(ctx, def.tool, args, def.timeout)
		metrics.RecordWorkerStage(string(def.generating), def.tool, time.Since(start), runErr)

		if runErr != nil {
			return classifyAndTransition(ctx, deps, task.ID, def.generating, def, runErr)
		}

		if _, err := deps.Store.UpdateStatus(ctx, task.ID, def.generating, def.onSuccess, store.UpdateStatusPatch{}); err != nil {
			return Fatal, err
		}
		metrics.RecordStageTransition(string(def.generating), string(def.onSuccess))
		return Advance, nil
	}
}

// classifyAndTransition moves a failed stage to its retry or fatal target,
// logging the failure reason onto error_log. A quota-marked tool failure is
// a third outcome distinct from both: it flips the Gemini-exhaustion gate
// and sends the task back to its retry target without ever reaching a
// terminal *_error status (§4.8.2, §7) — the gate, not the pipeline, decides
// when the channel is admissible again.
func classifyAndTransition(ctx context.Context, deps *Deps, taskID string, from store.Status, def stageDef, runErr error) (Outcome, error) {
	reason := runErr.Error()
	patch := store.UpdateStatusPatch{ErrorLog: &reason}

	var toolErr *orcherr.ToolFailureError
	if errors.As(runErr, &toolErr) && toolErr.QuotaMark {
		deps.Gate.MarkGeminiExhausted()
		metrics.RecordRetryAttempt(string(from))
		if _, err := deps.Store.UpdateStatus(ctx, taskID, from, def.onRetry, patch); err != nil {
			return Fatal, err
		}
		metrics.RecordStageTransition(string(from), string(def.onRetry))
		return Retry, runErr
	}

	if orcherr.Retriable(runErr) {
		metrics.RecordRetryAttempt(string(from))
		if _, err := deps.Store.UpdateStatus(ctx, taskID, from, def.onRetry, patch); err != nil {
			return Fatal, err
		}
		metrics.RecordStageTransition(string(from), string(def.onRetry))
		return Retry, runErr
	}

	if _, err := deps.Store.UpdateStatus(ctx, taskID, from, def.onFatal, patch); err != nil {
		return Fatal, err
	}
	metrics.RecordStageTransition(string(from), string(def.onFatal))
	return Fatal, runErr
}

// registerAssembly wires sfx_ready -> assembling -> assembly_ready, then
// immediately advances assembly_ready -> final_review: the latter edge is
// automatic bookkeeping (no tool runs, no human input yet), but assembly_ready
// is still a real, observable status in between (§4.10).
func (d *Dispatcher) registerAssembly() {
	assemblyDef := stageDef{
		tool:       "assemble",
		generating: store.StatusAssembling,
		onSuccess:  store.StatusAssemblyReady,
		onRetry:    store.StatusSFXReady,
		onFatal:    store.StatusVideoError,
		timeout:    15 * time.Minute,
	}

	d.stages[store.StatusSFXReady] = func(ctx context.Context, deps *Deps, task *store.Task) (Outcome, error) {
		outcome, err := buildStage(assemblyDef)(ctx, deps, task)
		if outcome != Advance {
			return outcome, err
		}

		if _, err := deps.Store.UpdateStatus(ctx, task.ID, store.StatusAssemblyReady, store.StatusFinalReview, store.UpdateStatusPatch{}); err != nil {
			return Fatal, err
		}
		metrics.RecordStageTransition(string(store.StatusAssemblyReady), string(store.StatusFinalReview))
		return Advance, nil
	}
}

// registerUpload wires the final approved -> uploading -> published leg,
// which additionally consults the quota gate and records quota cost on
// success (§4.8).
func (d *Dispatcher) registerUpload() {
	d.stages[store.StatusApproved] = func(ctx context.Context, deps *Deps, task *store.Task) (Outcome, error) {
		decision, err := deps.Gate.AdmitUpload(ctx, task.ChannelID)
		if err != nil {
			return Fatal, err
		}
		if !decision.Admitted {
			reason := "release: " + decision.Reason
			_, err := deps.Store.UpdateStatus(ctx, task.ID, store.StatusApproved, store.StatusApproved,
				store.UpdateStatusPatch{ErrorLog: &reason})
			return Retry, err
		}

		if _, err := deps.Store.UpdateStatus(ctx, task.ID, store.StatusApproved, store.StatusUploading, store.UpdateStatusPatch{}); err != nil {
			return Fatal, err
		}
		metrics.RecordStageTransition(string(store.StatusApproved), string(store.StatusUploading))

		start := time.Now()
		_, runErr := deps.Tools.Run(ctx, "upload", []string{"--channel", task.ChannelID, "--project", task.ID}, 10*time.Minute)
		metrics.RecordWorkerStage(string(store.StatusUploading), "upload", time.Since(start), runErr)

		if runErr != nil {
			return classifyAndTransition(ctx, deps, task.ID, store.StatusUploading, stageDef{
				onRetry: store.StatusApproved,
				onFatal: store.StatusUploadError,
			}, runErr)
		}

		if err := deps.Gate.RecordUpload(ctx, task.ChannelID); err != nil {
			return Fatal, err
		}

		if _, err := deps.Store.UpdateStatus(ctx, task.ID, store.StatusUploading, store.StatusPublished, store.UpdateStatusPatch{}); err != nil {
			return Fatal, err
		}
		metrics.RecordStageTransition(string(store.StatusUploading), string(store.StatusPublished))
		return Advance, nil
	}
}
