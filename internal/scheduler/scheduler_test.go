package scheduler

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidforge/orchestrator/internal/store"
)

// fakeRow implements pgx.Row by scanning fixed values, or returning
// pgx.ErrNoRows when empty is set.
type fakeRow struct {
	empty  bool
	values []any
}

func (r fakeRow) Scan(dest ...any) error {
	if r.empty {
		return pgx.ErrNoRows
	}
	for i, d := range dest {
		switch v := d.(type) {
		case *string:
			*v = r.values[i].(string)
		case *store.Priority:
			*v = store.Priority(r.values[i].(string))
		case *store.Status:
			*v = store.Status(r.values[i].(string))
		case *time.Time:
			*v = r.values[i].(time.Time)
		case *float64:
			*v = r.values[i].(float64)
		}
	}
	return nil
}

type fakePool struct {
	row         fakeRow
	capturedSQL string
}

func (f *fakePool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.capturedSQL = sql
	return f.row
}

func taskValues() []any {
	now := time.Now()
	return []any{"task-1", "chA", "page-1", "Title", "Topic", "Direction", "normal", "queued", "", "", 0.0, now, now}
}

func TestClaim_ReturnsNilWhenNoRows(t *testing.T) {
	pool := &fakePool{row: fakeRow{empty: true}}
	s := &Scheduler{pool: pool}

	task, err := s.Claim(context.Background())
	require.NoError(t, err)
	assert.Nil(t, task)
}

func TestClaim_ReturnsTaskOnSuccess(t *testing.T) {
	pool := &fakePool{row: fakeRow{values: taskValues()}}
	s := &Scheduler{pool: pool}

	task, err := s.Claim(context.Background())
	require.NoError(t, err)
	require.NotNil(t, task)
	assert.Equal(t, "task-1", task.ID)
	assert.Equal(t, "chA", task.ChannelID)
}

func TestClaimQuery_OrdersByPriorityThenChannelThenCreatedAt(t *testing.T) {
	assert.Contains(t, claimQuery, "ORDER BY")
	orderClause := claimQuery[strings.Index(claimQuery, "ORDER BY"):]
	priorityIdx := strings.Index(orderClause, "CASE t.priority")
	channelIdx := strings.Index(orderClause, "channel_id")
	createdIdx := strings.Index(orderClause, "created_at")
	require.True(t, priorityIdx >= 0 && channelIdx > priorityIdx && createdIdx > channelIdx,
		"ordering key must be priority, then channel_id, then created_at")
}

func TestClaimQuery_OnlyFlipsQueuedToClaimed(t *testing.T) {
	assert.Contains(t, claimQuery, "WHEN tasks.status = 'queued' THEN 'claimed'")
}

func TestClaimQuery_AdmitsQueuedAndEveryPostGateStatus(t *testing.T) {
	for _, status := range []string{"queued", "assets_approved", "composites_ready", "video_approved", "audio_approved", "sfx_ready", "approved"} {
		assert.Contains(t, claimableStatuses, "'"+status+"'")
	}
}

func TestClaimQuery_ExcludesGateStatuses(t *testing.T) {
	for _, gate := range []string{"assets_ready", "video_ready", "audio_ready", "final_review"} {
		assert.NotContains(t, claimableStatuses, "'"+gate+"'")
	}
}

func TestClaimQuery_FiltersOnChannelActive(t *testing.T) {
	assert.Contains(t, claimQuery, "c.active")
}

func TestClaimQuery_EnforcesMaxConcurrentViaCorrelatedSubquery(t *testing.T) {
	assert.Contains(t, claimQuery, "c.max_concurrent")
	assert.Contains(t, claimQuery, "running.channel_id = t.channel_id")
	assert.Contains(t, claimQuery, "running.id != t.id")
}

func TestClaimQuery_UsesSkipLocked(t *testing.T) {
	assert.Contains(t, claimQuery, "FOR UPDATE OF t SKIP LOCKED")
}
