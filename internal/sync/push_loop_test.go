package sync

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidforge/orchestrator/internal/store"
)

type fakeTaskLister struct {
	tasks []*store.Task
	err   error
}

func (f *fakeTaskLister) ListTasksWithPlanningPage(ctx context.Context) ([]*store.Task, error) {
	return f.tasks, f.err
}

type patchCall struct {
	pageID string
	patch  map[string]any
}

type fakePagePatcher struct {
	calls  []patchCall
	failOn string // planning_page_id that returns an error
}

func (f *fakePagePatcher) UpdatePage(ctx context.Context, pageID string, patch map[string]any) error {
	f.calls = append(f.calls, patchCall{pageID, patch})
	if pageID == f.failOn {
		return errors.New("boom")
	}
	return nil
}

func TestRunCycle_PatchesOnlyStatusAndPriority(t *testing.T) {
	lister := &fakeTaskLister{tasks: []*store.Task{
		{ID: "t1", PlanningPageID: "p1", Status: store.StatusVideoApproved, Priority: store.PriorityHigh,
			Title: "keep me", Topic: "keep me too", StoryDirection: "also kept", ChannelID: "chA"},
	}}
	patcher := &fakePagePatcher{}
	loop := NewPushLoop(PushLoopConfig{Interval: time.Hour}, lister, patcher, zerolog.Nop())

	loop.runCycle(context.Background())

	require.Len(t, patcher.calls, 1)
	assert.Equal(t, "p1", patcher.calls[0].pageID)
	assert.Equal(t, map[string]any{"status": "video_approved", "priority": "high"}, patcher.calls[0].patch)
}

func TestRunCycle_OneFailurePatchDoesNotBlockOthers(t *testing.T) {
	lister := &fakeTaskLister{tasks: []*store.Task{
		{ID: "t1", PlanningPageID: "bad", Status: store.StatusQueued, Priority: store.PriorityNormal},
		{ID: "t2", PlanningPageID: "good", Status: store.StatusQueued, Priority: store.PriorityNormal},
	}}
	patcher := &fakePagePatcher{failOn: "bad"}
	loop := NewPushLoop(PushLoopConfig{Interval: time.Hour}, lister, patcher, zerolog.Nop())

	loop.runCycle(context.Background())

	require.Len(t, patcher.calls, 2)
}

func TestRunCycle_ListErrorIsLoggedAndSwallowed(t *testing.T) {
	lister := &fakeTaskLister{err: errors.New("db down")}
	patcher := &fakePagePatcher{}
	loop := NewPushLoop(PushLoopConfig{Interval: time.Hour}, lister, patcher, zerolog.Nop())

	assert.NotPanics(t, func() { loop.runCycle(context.Background()) })
	assert.Empty(t, patcher.calls)
}

func TestServe_RunsImmediatelyThenReturnsOnCancel(t *testing.T) {
	lister := &fakeTaskLister{tasks: []*store.Task{{ID: "t1", PlanningPageID: "p1", Status: store.StatusQueued, Priority: store.PriorityNormal}}}
	patcher := &fakePagePatcher{}
	loop := NewPushLoop(PushLoopConfig{Interval: time.Hour}, lister, patcher, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- loop.Serve(ctx) }()

	require.Eventually(t, func() bool { return len(patcher.calls) >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}
}

func TestString_IdentifiesPushLoop(t *testing.T) {
	loop := NewPushLoop(PushLoopConfig{}, &fakeTaskLister{}, &fakePagePatcher{}, zerolog.Nop())
	assert.Equal(t, "sync-push-loop", loop.String())
}
