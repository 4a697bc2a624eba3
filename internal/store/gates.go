package store

import (
	"context"
	"fmt"

	"github.com/vidforge/orchestrator/internal/orcherr"
)

// Gate identifies one of the four mandatory human-review checkpoints a task
// passes through (§3.2, §6). It is supplied by the caller of ApproveGate/
// RejectGate as a safety check against a stale read: the operation only
// succeeds if it also matches the task's actual current status.
type Gate string

const (
	GateAssets Gate = "assets"
	GateVideo  Gate = "video"
	GateAudio  Gate = "audio"
	GateFinal  Gate = "final"
)

// gateEdge names the review status a gate sits at, its `_approved`
// successor, and the terminal error status a rejection lands on.
type gateEdge struct {
	reviewing Status
	approved  Status
	rejected  Status
}

// gateEdges maps every Gate to its three statuses. final has no dedicated
// review-rejection terminal in the 27-state enum, so a rejected final
// review reuses video_error, the same terminal the assembly stage itself
// uses for a fatal failure (§3.2, open question).
var gateEdges = map[Gate]gateEdge{
	GateAssets: {reviewing: StatusAssetsReady, approved: StatusAssetsApproved, rejected: StatusAssetError},
	GateVideo:  {reviewing: StatusVideoReady, approved: StatusVideoApproved, rejected: StatusVideoError},
	GateAudio:  {reviewing: StatusAudioReady, approved: StatusAudioApproved, rejected: StatusAudioError},
	GateFinal:  {reviewing: StatusFinalReview, approved: StatusApproved, rejected: StatusVideoError},
}

// ApproveGate moves a task from its review-gate status to the gate's
// `_approved` successor (§6). It is a thin wrapper over one UpdateStatus
// call; the core does no other I/O.
func (s *Store) ApproveGate(ctx context.Context, id string, gate Gate) (*Task, error) {
	edge, ok := gateEdges[gate]
	if !ok {
		return nil, &orcherr.ValidationError{Field: "gate", Reason: fmt.Sprintf("unknown gate %q", gate)}
	}
	return s.UpdateStatus(ctx, id, edge.reviewing, edge.approved, UpdateStatusPatch{})
}

// RejectGate moves a task from its review-gate status to the gate's
// matching terminal error state, appending reason to error_log (§6).
func (s *Store) RejectGate(ctx context.Context, id string, gate Gate, reason string) (*Task, error) {
	edge, ok := gateEdges[gate]
	if !ok {
		return nil, &orcherr.ValidationError{Field: "gate", Reason: fmt.Sprintf("unknown gate %q", gate)}
	}
	return s.UpdateStatus(ctx, id, edge.reviewing, edge.rejected, UpdateStatusPatch{ErrorLog: &reason})
}

// Cancel moves a task from its current status to cancelled, so long as
// that status isn't already terminal (§6). The read-then-CAS has a narrow
// race window, but UpdateStatus's own compare-and-set re-verifies the
// status at write time, so a concurrent transition simply surfaces as the
// usual retriable ConflictError rather than corrupting state.
func (s *Store) Cancel(ctx context.Context, id string) (*Task, error) {
	task, err := s.GetTask(ctx, id)
	if err != nil {
		return nil, err
	}
	if terminalStatuses[task.Status] {
		return nil, &orcherr.ConflictError{Resource: "task", Expected: "non-terminal status", Actual: string(task.Status)}
	}
	return s.UpdateStatus(ctx, id, task.Status, StatusCancelled, UpdateStatusPatch{})
}

// TaskFilter narrows ListTasks. A zero-value field means "don't filter on
// this dimension."
type TaskFilter struct {
	ChannelID string
	Status    Status
}

// ListTasks returns tasks matching filter, read-only, newest first (§6).
func (s *Store) ListTasks(ctx context.Context, filter TaskFilter) ([]*Task, error) {
	const q = `
		SELECT id, channel_id, planning_page_id, title, topic, story_direction, priority, status, error_log, final_video_path, cost_usd, created_at, updated_at
		FROM tasks
		WHERE ($1 = '' OR channel_id = $1)
		  AND ($2 = '' OR status = $2)
		ORDER BY created_at DESC`

	rows, err := s.pool.Query(ctx, q, filter.ChannelID, string(filter.Status))
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
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
