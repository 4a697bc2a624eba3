
// Package store is the durable persistence layer over a relational
// database (§4.6): task, channel, webhook-event, and quota-usage rows.
// Every operation runs in a short transaction; none is ever held across a
// tool-runner or planning-client call (§4.6, §9). The package is a single
// struct wrapping the driver's connection pool, a New constructor that
// opens the pool and pings the database, and one method per operation
// taking ctx as its first argument.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/vidforge/orchestrator/internal/orcherr"
)

// Store wraps a pgx connection pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a connection pool against connString and verifies
// connectivity with a ping.
func New(ctx context.Context, connString string) (*Store, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("create connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close releases all pooled connections.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool exposes the underlying pool for goose migrations and diagnostics.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// Priority enumerates task priority tiers (§3.1). Rank order is
// high(1) < normal(2) < low(3), ascending, matching the claim scheduler's
// ordering key (§4.7).
type Priority string

const (
	PriorityHigh   Priority = "high"
	PriorityNormal Priority = "normal"
	PriorityLow    Priority = "low"
)

func (p Priority) rank() int {
	switch p {
	case PriorityHigh:
		return 1
	case PriorityLow:
		return 3
	default:
		return 2
	}
}

// Status is one of the 27 task lifecycle states (§3.2).
type Status string

const (
	StatusDraft     Status = "draft"
	StatusQueued    Status = "queued"
	StatusClaimed   Status = "claimed"
	StatusCancelled Status = "cancelled"

	StatusGeneratingAssets Status = "generating_assets"
	StatusAssetsReady      Status = "assets_ready" // gate
	StatusAssetsApproved   Status = "assets_approved"

	StatusGeneratingComposites Status = "generating_composites"
	StatusCompositesReady      Status = "composites_ready"

	StatusGeneratingVideo Status = "generating_video"
	StatusVideoReady      Status = "video_ready" // gate
	StatusVideoApproved   Status = "video_approved"

	StatusGeneratingAudio Status = "generating_audio"
	StatusAudioReady      Status = "audio_ready" // gate
	StatusAudioApproved   Status = "audio_approved"

	StatusGeneratingSFX Status = "generating_sfx"
	StatusSFXReady      Status = "sfx_ready"

	StatusAssembling    Status = "assembling"
	StatusAssemblyReady Status = "assembly_ready"

	StatusFinalReview Status = "final_review" // gate
	StatusApproved    Status = "approved"

	StatusUploading Status = "uploading"
	StatusPublished Status = "published" // terminal success

	StatusAssetError  Status = "asset_error"  // terminal
	StatusVideoError  Status = "video_error"  // terminal
	StatusAudioError  Status = "audio_error"  // terminal
	StatusUploadError Status = "upload_error" // terminal
)

// GateStatuses are mandatory human-review gates: workers never claim a
// task sitting in one of these states.
var GateStatuses = map[Status]bool{
	StatusAssetsReady: true,
	StatusVideoReady:  true,
	StatusAudioReady:  true,
	StatusFinalReview: true,
}

// Task is one unit of end-to-end video production (§3.1).
type Task struct {
	ID              string
	ChannelID       string
	PlanningPageID  string
	Title           string
	Topic           string
	StoryDirection  string
	Priority        Priority
	Status          Status
	ErrorLog        string
	FinalVideoPath  string
	CostUSD         float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// NewTaskInput carries the fields a caller supplies when creating a task;
// everything else (id, status, timestamps) is assigned by the store.
type NewTaskInput struct {
	ChannelID      string
	PlanningPageID string
	Title          string
	Topic          string
	StoryDirection string
	Priority       Priority
}

// CreateTask inserts a task atomically. A duplicate planning_page_id
// returns a non-retriable ConflictError instead of propagating the
// underlying unique-violation (§4.6).
func (s *Store) CreateTask(ctx context.Context, in NewTaskInput) (*Task, error) {
	priority := in.Priority
	if priority == "" {
		priority = PriorityNormal
	}

	const q = `
		INSERT INTO tasks (channel_id, planning_page_id, title, topic, story_direction, priority, status, cost_usd, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, 0, now(), now())
		ON CONFLICT (planning_page_id) DO NOTHING
		RETURNING id, channel_id, planning_page_id, title, topic, story_direction, priority, status, error_log, final_video_path, cost_usd, created_at, updated_at`

	row := s.pool.QueryRow(ctx, q, in.ChannelID, in.PlanningPageID, in.Title, in.Topic, in.StoryDirection, priority, StatusQueued)

	task, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &orcherr.ConflictError{Resource: "task", Expected: "new planning_page_id", Actual: in.PlanningPageID}
		}
		return nil, fmt.Errorf("create task: %w", err)
	}
	return task, nil
}

// GetTask reads a single task row.
func (s *Store) GetTask(ctx context.Context, id string) (*Task, error) {
	const q = `
		SELECT id, channel_id, planning_page_id, title, topic, story_direction, priority, status, error_log, final_video_path, cost_usd, created_at, updated_at
		FROM tasks WHERE id = $1`

	row := s.pool.QueryRow(ctx, q, id)
	task, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &orcherr.NotFoundError{Resource: "task", ID: id}
		}
		return nil, fmt.Errorf("get task: %w", err)
	}
	return task, nil
}

// GetTaskByPlanningPageID looks up a task by its linked planning page,
// normalized the same way CreateTask stores it. Used by the webhook
// processor to decide between creating a task and compare-and-setting an
// existing one (§4.11b step 4).
func (s *Store) GetTaskByPlanningPageID(ctx context.Context, planningPageID string) (*Task, error) {
	const q = `
		SELECT id, channel_id, planning_page_id, title, topic, story_direction, priority, status, error_log, final_video_path, cost_usd, created_at, updated_at
		FROM tasks WHERE planning_page_id = $1`

	row := s.pool.QueryRow(ctx, q, planningPageID)
	task, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &orcherr.NotFoundError{Resource: "task", ID: planningPageID}
		}
		return nil, fmt.Errorf("get task by planning page: %w", err)
	}
	return task, nil
}

// UpdateStatusPatch carries the optional field updates applied alongside a
// status transition.
type UpdateStatusPatch struct {
	ErrorLog       *string
	FinalVideoPath *string
}

// UpdateStatus performs a compare-and-set status transition: it only
// succeeds if the row's current status equals from. A mismatch returns a
// retriable ConflictError so the worker loop can re-read and retry. Any
// (from, to) pair outside the pipeline DAG is rejected before touching the
// database, with a non-retriable error (§4.6, invariant I3).
func (s *Store) UpdateStatus(ctx context.Context, id string, from, to Status, patch UpdateStatusPatch) (*Task, error) {
	if !legalTransition(from, to) {
		return nil, illegalTransitionError(from, to)
	}

	const q = `
		UPDATE tasks
		SET status = $1,
		    error_log = COALESCE($2, error_log),
		    final_video_path = COALESCE($3, final_video_path),
		    updated_at = now()
		WHERE id = $4 AND status = $5
		RETURNING id, channel_id, planning_page_id, title, topic, story_direction, priority, status, error_log, final_video_path, cost_usd, created_at, updated_at`

	row := s.pool.QueryRow(ctx, q, to, patch.ErrorLog, patch.FinalVideoPath, id, from)
	task, err := scanTask(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, &orcherr.ConflictError{Resource: "task", Expected: string(from), Actual: "status changed concurrently"}
		}
		return nil, fmt.Errorf("update task status: %w", err)
	}
	return task, nil
}

// RecordCost adds delta to a task's running cost. delta must be
// non-negative (invariant I4: cost_usd never decreases).
func (s *Store) RecordCost(ctx context.Context, id string, delta float64) error {
	if delta < 0 {
		return &orcherr.ValidationError{Field: "delta", Reason: "must be >= 0"}
	}
	const q = `UPDATE tasks SET cost_usd = cost_usd + $1, updated_at = now() WHERE id = $2`
	tag, err := s.pool.Exec(ctx, q, delta, id)
	if err != nil {
		return fmt.Errorf("record cost: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return &orcherr.NotFoundError{Resource: "task", ID: id}
	}
	return nil
}

// RecordWebhook inserts a webhook event row. A duplicate event_id is a
// no-op, giving idempotent replay protection (§4.6).
func (s *Store) RecordWebhook(ctx context.Context, eventID string, payload []byte) (bool, error) {
	const q = `
		INSERT INTO webhook_events (event_id, payload, processed, received_at)
		VALUES ($1, $2, false, now())
		ON CONFLICT (event_id) DO NOTHING`

	tag, err := s.pool.Exec(ctx, q, eventID, payload)
	if err != nil {
		return false, fmt.Errorf("record webhook: %w", err)
	}
	return tag.RowsAffected() > 0, nil
}

// MarkWebhookProcessed flags a webhook event as handled.
func (s *Store) MarkWebhookProcessed(ctx context.Context, eventID string) error {
	const q = `UPDATE webhook_events SET processed = true WHERE event_id = $1`
	_, err := s.pool.Exec(ctx, q, eventID)
	if err != nil {
		return fmt.Errorf("mark webhook processed: %w", err)
	}
	return nil
}

// QuotaUsage is a per-channel, per-day upload budget (§3.1).
type QuotaUsage struct {
	ChannelID  string
	Date       time.Time
	UnitsUsed  int64
	DailyLimit int64
}

const defaultDailyLimit = 10000

// QuotaGet reads the current usage row for channelID/day, returning a
// zero-usage row (not an error) if none exists yet.
func (s *Store) QuotaGet(ctx context.Context, channelID string, day time.Time) (*QuotaUsage, error) {
	const q = `SELECT channel_id, date, units_used, daily_limit FROM youtube_quota_usage WHERE channel_id = $1 AND date = $2`
	row := s.pool.QueryRow(ctx, q, channelID, day)

	var q2 QuotaUsage
	err := row.Scan(&q2.ChannelID, &q2.Date, &q2.UnitsUsed, &q2.DailyLimit)
	if err != nil {
		if err == pgx.ErrNoRows {
			return &QuotaUsage{ChannelID: channelID, Date: day, UnitsUsed: 0, DailyLimit: defaultDailyLimit}, nil
		}
		return nil, fmt.Errorf("get quota: %w", err)
	}
	return &q2, nil
}

// QuotaAdd upserts a non-negative delta onto a channel's daily usage
// counter (§4.6).
func (s *Store) QuotaAdd(ctx context.Context, channelID string, day time.Time, delta int64) (*QuotaUsage, error) {
	if delta < 0 {
		return nil, &orcherr.ValidationError{Field: "delta", Reason: "must be >= 0"}
	}

	const q = `
		INSERT INTO youtube_quota_usage (channel_id, date, units_used, daily_limit)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (channel_id, date)
		DO UPDATE SET units_used = youtube_quota_usage.units_used + EXCLUDED.units_used
		RETURNING channel_id, date, units_used, daily_limit`

	row := s.pool.QueryRow(ctx, q, channelID, day, delta, defaultDailyLimit)
	var out QuotaUsage
	if err := row.Scan(&out.ChannelID, &out.Date, &out.UnitsUsed, &out.DailyLimit); err != nil {
		return nil, fmt.Errorf("add quota: %w", err)
	}
	return &out, nil
}

// ListTasksWithPlanningPage returns every task that carries a planning
// page to reconcile against (§4.11a step 1). Tasks created ahead of any
// planning-side link (none in the current data model, but defensive
// against future intake paths) are excluded by the non-null filter.
func (s *Store) ListTasksWithPlanningPage(ctx context.Context) ([]*Task, error) {
	const q = `
		SELECT id, channel_id, planning_page_id, title, topic, story_direction, priority, status, error_log, final_video_path, cost_usd, created_at, updated_at
		FROM tasks
		WHERE planning_page_id IS NOT NULL AND planning_page_id != ''`

	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list tasks with planning page: %w", err)
	}
	defer rows.Close()

	var tasks []*Task
	for rows.Next() {
		t, err := scanTask(rows)
		if err != nil {
			return nil, fmt.Errorf("scan task: %w", err)
		}
		tasks = append(tasks, t)
	}
	return tasks, rows.Err()
}

// QuotaPurge deletes quota rows older than olderThanDays.
func (s *Store) QuotaPurge(ctx context.Context, olderThanDays int) (int64, error) {
	const q = `DELETE FROM youtube_quota_usage WHERE date < now() - make_interval(days => $1)`
	tag, err := s.pool.Exec(ctx, q, olderThanDays)
	if err != nil {
		return 0, fmt.Errorf("purge quota: %w", err)
	}
	return tag.RowsAffected(), nil
}

func scanTask(row pgx.Row) (*Task, error) {
	var t Task
	err := row.Scan(&t.ID, &t.ChannelID, &t.PlanningPageID, &t.Title, &t.Topic, &t.StoryDirection,
		&t.Priority, &t.Status, &t.ErrorLog, &t.FinalVideoPath, &t.CostUSD, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
