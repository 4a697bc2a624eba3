package housekeeping

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQuotaPurger struct {
	calls         []int
	deleted       int64
	err           error
}

func (f *fakeQuotaPurger) QuotaPurge(ctx context.Context, olderThanDays int) (int64, error) {
	f.calls = append(f.calls, olderThanDays)
	return f.deleted, f.err
}

func TestServe_TicksAndPurgesWithConfiguredRetention(t *testing.T) {
	purger := &fakeQuotaPurger{deleted: 5}
	q := NewQuotaPurge(QuotaPurgeConfig{Interval: 10 * time.Millisecond, RetentionDays: 45}, purger, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Serve(ctx) }()

	require.Eventually(t, func() bool { return len(purger.calls) >= 1 }, time.Second, 5*time.Millisecond)
	cancel()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	assert.Equal(t, 45, purger.calls[0])
}

func TestServe_DoesNotRunImmediately(t *testing.T) {
	purger := &fakeQuotaPurger{}
	q := NewQuotaPurge(QuotaPurgeConfig{Interval: time.Hour, RetentionDays: 30}, purger, zerolog.Nop())

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- q.Serve(ctx) }()

	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Serve did not return after cancellation")
	}

	assert.Empty(t, purger.calls)
}

func TestRunOnce_ErrorIsLoggedAndSwallowed(t *testing.T) {
	purger := &fakeQuotaPurger{err: errors.New("db down")}
	q := NewQuotaPurge(QuotaPurgeConfig{}, purger, zerolog.Nop())

	assert.NotPanics(t, func() { q.runOnce(context.Background()) })
}

func TestString_IdentifiesQuotaPurge(t *testing.T) {
	q := NewQuotaPurge(QuotaPurgeConfig{}, &fakeQuotaPurger{}, zerolog.Nop())
	assert.Equal(t, "housekeeping-quota-purge", q.String())
}
