//go:build integration

package scheduler

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidforge/orchestrator/internal/store"
	"github.com/vidforge/orchestrator/internal/testinfra"
)

func newTestStore(t *testing.T) (*store.Store, func()) {
	t.Helper()
	ctx := context.Background()

	pg, err := testinfra.NewPostgresContainer(ctx)
	require.NoError(t, err)

	require.NoError(t, store.Migrate(pg.ConnString))

	s, err := store.New(ctx, pg.ConnString)
	require.NoError(t, err)

	return s, func() {
		s.Close()
		_ = pg.Terminate(ctx)
	}
}

func TestClaim_SkipsInactiveChannel(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	pool := s.Pool()

	_, err := pool.Exec(ctx, `INSERT INTO channels (id, name, active, max_concurrent) VALUES ('chInactive', 'Inactive', false, 5)`)
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, store.NewTaskInput{ChannelID: "chInactive", PlanningPageID: "p-1", Title: "T"})
	require.NoError(t, err)

	sched := New(s)
	task, err := sched.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, task, "a deactivated channel's tasks must never be claimed")
}

func TestClaim_EnforcesMaxConcurrent(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	pool := s.Pool()

	_, err := pool.Exec(ctx, `INSERT INTO channels (id, name, active, max_concurrent) VALUES ('chCap', 'Capped', true, 1)`)
	require.NoError(t, err)

	first, err := s.CreateTask(ctx, store.NewTaskInput{ChannelID: "chCap", PlanningPageID: "p-2", Title: "T"})
	require.NoError(t, err)
	_, err = s.CreateTask(ctx, store.NewTaskInput{ChannelID: "chCap", PlanningPageID: "p-3", Title: "T"})
	require.NoError(t, err)

	sched := New(s)
	claimed, err := sched.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed)
	assert.Equal(t, first.ID, claimed.ID)

	second, err := sched.Claim(ctx)
	require.NoError(t, err)
	assert.Nil(t, second, "max_concurrent=1 must block a second claim while the first is in flight")
}

func TestClaim_ReAdmitsPostGateStatusWithoutDoubleCountingItself(t *testing.T) {
	s, cleanup := newTestStore(t)
	defer cleanup()
	ctx := context.Background()
	pool := s.Pool()

	_, err := pool.Exec(ctx, `INSERT INTO channels (id, name, active, max_concurrent) VALUES ('chGate', 'Gated', true, 1)`)
	require.NoError(t, err)

	task, err := s.CreateTask(ctx, store.NewTaskInput{ChannelID: "chGate", PlanningPageID: "p-4", Title: "T"})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, task.ID, store.StatusQueued, store.StatusClaimed, store.UpdateStatusPatch{})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, task.ID, store.StatusClaimed, store.StatusGeneratingAssets, store.UpdateStatusPatch{})
	require.NoError(t, err)
	_, err = s.UpdateStatus(ctx, task.ID, store.StatusGeneratingAssets, store.StatusAssetsReady, store.UpdateStatusPatch{})
	require.NoError(t, err)
	_, err = s.ApproveGate(ctx, task.ID, store.GateAssets)
	require.NoError(t, err)

	sched := New(s)
	claimed, err := sched.Claim(ctx)
	require.NoError(t, err)
	require.NotNil(t, claimed, "a re-admitted task must not be blocked by counting itself against max_concurrent")
	assert.Equal(t, task.ID, claimed.ID)
	assert.Equal(t, store.StatusAssetsApproved, claimed.Status, "re-admission must not force a status change")
}
