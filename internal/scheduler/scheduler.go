
// Package scheduler selects the single next task to run (§4.7). The claim
// query locks and updates in one statement using SELECT ... FOR UPDATE
// SKIP LOCKED, so concurrent workers claim distinct rows without
// contending on the same lock. It also enforces the two channel-level
// filter predicates the worker loop itself has no way to check: the
// channel's active flag and its max_concurrent ceiling, both read straight
// off the channels table rather than the separate YAML-backed registry
// snapshot, since the claim query is the only place those two values need
// to be joined against a candidate row.
package scheduler

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/vidforge/orchestrator/internal/metrics"
	"github.com/vidforge/orchestrator/internal/store"
)

// Scheduler claims the next eligible task from a task store.
type Scheduler struct {
	pool poolQuerier
}

// poolQuerier is the subset of pgxpool.Pool the scheduler needs, letting
// tests substitute a lightweight fake without standing up Postgres.
type poolQuerier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// New builds a Scheduler over a store's pool.
func New(s *store.Store) *Scheduler {
	return &Scheduler{pool: s.Pool()}
}

// claimableStatuses are every status a worker may pick up: queued (a fresh
// task) plus every status that sits just past a human-review gate, waiting
// for its next automated stage (§4.7, §4.10). The four gate statuses
// themselves (assets_ready, video_ready, audio_ready, final_review) are
// deliberately excluded — only approve_gate/reject_gate move a task out of
// those.
const claimableStatuses = `'queued','assets_approved','composites_ready','video_approved','audio_approved','sfx_ready','approved'`

// runningStatuses are every status that counts against a channel's
// max_concurrent ceiling: everything between claim and a terminal or
// queued-equivalent status (§4.7).
const runningStatuses = `'claimed','generating_assets','assets_ready','assets_approved','generating_composites',
	'composites_ready','generating_video','video_ready','video_approved','generating_audio','audio_ready',
	'audio_approved','generating_sfx','sfx_ready','assembling','assembly_ready','final_review','approved','uploading'`

// claimQuery implements the ordering key from §4.7: priority rank
// (high=1, normal=2, low=3) ascending, then channel_id lexicographically,
// then created_at. It additionally enforces the two filter predicates not
// encoded in the ordering: the task's channel must be active, and the
// channel's currently-running task count must be under its max_concurrent
// ceiling (enforced here by a correlated subquery, per §4.7). Everything
// happens within a single SKIP LOCKED claim so the lock is never held
// beyond this one statement; only a status of 'queued' actually changes
// (to 'claimed') — a re-admitted post-gate status is returned as-is, since
// the pipeline dispatcher's own per-stage compare-and-set is the real claim
// for those (internal/pipeline).
const claimQuery = `
	WITH candidate AS (
		SELECT t.id
		FROM tasks t
		JOIN channels c ON c.id = t.channel_id
		WHERE t.status IN (` + claimableStatuses + `)
		  AND c.active
		  AND (
			SELECT count(*) FROM tasks running
			WHERE running.channel_id = t.channel_id
			  AND running.id != t.id
			  AND running.status IN (` + runningStatuses + `)
		  ) < c.max_concurrent
		ORDER BY
			CASE t.priority WHEN 'high' THEN 1 WHEN 'normal' THEN 2 WHEN 'low' THEN 3 ELSE 2 END,
			t.channel_id,
			t.created_at
		LIMIT 1
		FOR UPDATE OF t SKIP LOCKED
	)
	UPDATE tasks
	SET status = CASE WHEN tasks.status = 'queued' THEN 'claimed' ELSE tasks.status END,
	    updated_at = now()
	FROM candidate
	WHERE tasks.id = candidate.id
	RETURNING tasks.id, tasks.channel_id, tasks.planning_page_id, tasks.title, tasks.topic,
	          tasks.story_direction, tasks.priority, tasks.status, tasks.error_log,
	          tasks.final_video_path, tasks.cost_usd, tasks.created_at, tasks.updated_at`

// Claim atomically selects and marks the next eligible task as claimed.
// Returns (nil, nil) when no task is currently eligible — an empty claim
// is not an error.
func (s *Scheduler) Claim(ctx context.Context) (*store.Task, error) {
	start := time.Now()
	row := s.pool.QueryRow(ctx, claimQuery)

	var t store.Task
	err := row.Scan(&t.ID, &t.ChannelID, &t.PlanningPageID, &t.Title, &t.Topic, &t.StoryDirection,
		&t.Priority, &t.Status, &t.ErrorLog, &t.FinalVideoPath, &t.CostUSD, &t.CreatedAt, &t.UpdatedAt)

	duration := time.Since(start)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			metrics.RecordClaimEmpty(duration)
			return nil, nil
		}
		return nil, err
	}

	metrics.RecordClaim(t.ChannelID, duration)
	return &t, nil
}
