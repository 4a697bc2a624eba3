package worker

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/vidforge/orchestrator/internal/gate"
	"github.com/vidforge/orchestrator/internal/pipeline"
	"github.com/vidforge/orchestrator/internal/store"
	"github.com/vidforge/orchestrator/internal/toolrunner"
)

type fakeScheduler struct {
	tasks []*store.Task
	calls int
}

func (f *fakeScheduler) Claim(ctx context.Context) (*store.Task, error) {
	f.calls++
	if len(f.tasks) == 0 {
		return nil, nil
	}
	t := f.tasks[0]
	f.tasks = f.tasks[1:]
	return t, nil
}

type statusCall struct {
	from, to store.Status
}

type fakeStore struct {
	calls []statusCall
}

func (f *fakeStore) UpdateStatus(ctx context.Context, id string, from, to store.Status, patch store.UpdateStatusPatch) (*store.Task, error) {
	f.calls = append(f.calls, statusCall{from, to})
	return &store.Task{ID: id, Status: to}, nil
}

type fakeQuotaStore struct{}

func (f *fakeQuotaStore) QuotaGet(ctx context.Context, channelID string, day time.Time) (*store.QuotaUsage, error) {
	return &store.QuotaUsage{ChannelID: channelID, DailyLimit: 10000}, nil
}

func (f *fakeQuotaStore) QuotaAdd(ctx context.Context, channelID string, day time.Time, delta int64) (*store.QuotaUsage, error) {
	return &store.QuotaUsage{ChannelID: channelID, UnitsUsed: delta, DailyLimit: 10000}, nil
}

type fakeTools struct{}

func (f *fakeTools) Run(ctx context.Context, program string, args []string, timeout time.Duration) (*toolrunner.Result, error) {
	return &toolrunner.Result{Stdout: "ok"}, nil
}

func testWorker(sched claimer, s *fakeStore, tasks ...*store.Task) *Worker {
	g := gate.New(&fakeQuotaStore{}, 0, 3)
	deps := &pipeline.Deps{Store: s, Tools: &fakeTools{}, Gate: g}
	cfg := Config{Name: "w1", PollInterval: 10 * time.Millisecond}
	return New(cfg, sched, s, pipeline.New(), g, deps, zerolog.Nop())
}

func TestRunIteration_NoTaskSleepsWithoutHeartbeat(t *testing.T) {
	sched := &fakeScheduler{}
	s := &fakeStore{}
	w := testWorker(sched, s)

	progressed := w.runIteration(context.Background())
	assert.False(t, progressed)
	assert.Empty(t, s.calls)
}

func TestRunIteration_GeminiExhaustedReleasesTaskToQueued(t *testing.T) {
	sched := &fakeScheduler{tasks: []*store.Task{{ID: "t1", ChannelID: "chA", Status: store.StatusClaimed}}}
	s := &fakeStore{}
	w := testWorker(sched, s)
	w.gate.MarkGeminiExhausted()

	w.runIteration(context.Background())
	require.Len(t, s.calls, 1)
	assert.Equal(t, store.StatusClaimed, s.calls[0].from)
	assert.Equal(t, store.StatusQueued, s.calls[0].to)
}

func TestRunIteration_KlingConcurrencyCeilingReleasesTask(t *testing.T) {
	sched := &fakeScheduler{tasks: []*store.Task{{ID: "t1", ChannelID: "chA", Status: store.StatusCompositesReady}}}
	s := &fakeStore{}
	w := testWorker(sched, s)
	for i := 0; i < 3; i++ {
		w.gate.AdmitKlingRender("chA")
	}

	w.runIteration(context.Background())
	require.Len(t, s.calls, 1)
	assert.Equal(t, store.StatusQueued, s.calls[0].to)
}

func TestRunIteration_ReleasesKlingSlotAfterDispatch(t *testing.T) {
	sched := &fakeScheduler{tasks: []*store.Task{{ID: "t1", ChannelID: "chA", Status: store.StatusCompositesReady}}}
	s := &fakeStore{}
	w := testWorker(sched, s)

	w.runIteration(context.Background())
	assert.Equal(t, 0, countKlingActive(w))
}

func countKlingActive(w *Worker) int {
	d := w.gate.AdmitKlingRender("probe-only")
	if d.Admitted {
		w.gate.ReleaseKlingRender()
		return 0
	}
	return 1
}

func TestServe_ReturnsPromptlyOnContextCancellation(t *testing.T) {
	sched := &fakeScheduler{}
	s := &fakeStore{}
	w := testWorker(sched, s)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan error, 1)
	go func() { done <- w.Serve(ctx) }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after context cancellation")
	}
}

func TestString_IncludesWorkerName(t *testing.T) {
	w := testWorker(&fakeScheduler{}, &fakeStore{})
	assert.Equal(t, "worker-w1", w.String())
}
