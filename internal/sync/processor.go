package sync

import (
	"context"
	"errors"

	"github.com/rs/zerolog"

	"github.com/vidforge/orchestrator/internal/metrics"
	"github.com/vidforge/orchestrator/internal/orcherr"
	"github.com/vidforge/orchestrator/internal/planning"
	"github.com/vidforge/orchestrator/internal/store"
	"github.com/vidforge/orchestrator/internal/validation"
)

// pageFetcher is the subset of *planning.Client the processor needs.
type pageFetcher interface {
	GetPage(ctx context.Context, pageID string) (*planning.PendingItem, error)
}

// taskReconciler is the subset of *store.Store the processor needs to
// create or advance a task from planning-side state.
type taskReconciler interface {
	GetTaskByPlanningPageID(ctx context.Context, planningPageID string) (*store.Task, error)
	CreateTask(ctx context.Context, in store.NewTaskInput) (*store.Task, error)
	UpdateStatus(ctx context.Context, id string, from, to store.Status, patch store.UpdateStatusPatch) (*store.Task, error)
	MarkWebhookProcessed(ctx context.Context, eventID string) error
}

// incomingPage is validated before a task is created or patched (§7:
// ValidationError for a missing required field keeps the page in draft).
type incomingPage struct {
	Channel        string `validate:"required"`
	Title          string `validate:"required"`
	Topic          string `validate:"required"`
	StoryDirection string `validate:"required"`
}

// processor handles one accepted (newly recorded) webhook event: it fetches
// the planning page, validates it, and either creates a task or advances an
// existing one (§4.11b step 4).
type processor struct {
	pages  pageFetcher
	tasks  taskReconciler
	logger zerolog.Logger
}

func newProcessor(pages pageFetcher, tasks taskReconciler, logger zerolog.Logger) *processor {
	return &processor{pages: pages, tasks: tasks, logger: logger.With().Str("component", "webhook-processor").Logger()}
}

// process runs the deferred work for one webhook event. It never returns an
// error to the caller — failures are terminal for this event and are
// logged, matching the fire-and-forget asynchronous contract of §4.11b.
func (p *processor) process(ctx context.Context, eventID, pageID string) {
	logger := p.logger.With().Str("event_id", eventID).Str("page_id", pageID).Logger()

	page, err := p.pages.GetPage(ctx, pageID)
	if err != nil {
		if _, ok := asNotFound(err); ok {
			logger.Info().Msg("planning page deleted before processing, dropping event")
		} else {
			logger.Error().Err(err).Msg("failed to fetch planning page")
		}
		metrics.RecordWebhookEvent("page_update", "fetch_failed")
		return
	}

	if verrs := validation.ValidateStruct(&incomingPage{
		Channel:        page.Channel,
		Title:          page.Title,
		Topic:          page.Topic,
		StoryDirection: page.StoryDirection,
	}); verrs != nil {
		logger.Warn().Str("reason", verrs.Error()).Msg("planning page failed validation, left in draft")
		metrics.RecordWebhookEvent("page_update", "validation_failed")
		return
	}

	existing, err := p.tasks.GetTaskByPlanningPageID(ctx, pageID)
	if err != nil && !isNotFound(err) {
		logger.Error().Err(err).Msg("failed to look up existing task")
		metrics.RecordWebhookEvent("page_update", "lookup_failed")
		return
	}

	if existing == nil {
		if err := p.createTask(ctx, page); err != nil {
			logger.Error().Err(err).Msg("failed to create task from planning page")
			metrics.RecordWebhookEvent("page_create", "store_failed")
			return
		}
		metrics.RecordWebhookEvent("page_create", "applied")
	} else {
		if err := p.advanceTask(ctx, existing, page); err != nil {
			logger.Warn().Err(err).Msg("status compare-and-set lost race, leaving for next event")
			metrics.RecordWebhookEvent("page_update", "conflict")
		} else {
			metrics.RecordWebhookEvent("page_update", "applied")
		}
	}

	if err := p.tasks.MarkWebhookProcessed(ctx, eventID); err != nil {
		logger.Error().Err(err).Msg("failed to mark webhook processed")
	}
}

func (p *processor) createTask(ctx context.Context, page *planning.PendingItem) error {
	priority := store.Priority(page.Priority)
	switch priority {
	case store.PriorityHigh, store.PriorityNormal, store.PriorityLow:
	default:
		priority = store.PriorityNormal
	}

	_, err := p.tasks.CreateTask(ctx, store.NewTaskInput{
		ChannelID:      page.Channel,
		PlanningPageID: planning.NormalizePageID(page.ID),
		Title:          page.Title,
		Topic:          page.Topic,
		StoryDirection: page.StoryDirection,
		Priority:       priority,
	})
	return err
}

// advanceTask applies a compare-and-set from the task's current status to
// the planning-side status, if they differ. If the resulting status is
// queued, the task becomes immediately claimable — no separate enqueue step
// is needed since the scheduler polls status='queued' directly.
func (p *processor) advanceTask(ctx context.Context, task *store.Task, page *planning.PendingItem) error {
	target := store.Status(page.Status)
	if target == "" || target == task.Status {
		return nil
	}
	_, err := p.tasks.UpdateStatus(ctx, task.ID, task.Status, target, store.UpdateStatusPatch{})
	return err
}

func isNotFound(err error) bool {
	_, ok := asNotFound(err)
	return ok
}

func asNotFound(err error) (*orcherr.NotFoundError, bool) {
	var nf *orcherr.NotFoundError
	ok := errors.As(err, &nf)
	return nf, ok
}
