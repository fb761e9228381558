package worker_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careviah/caregiver/internal/schedule"
	"github.com/careviah/caregiver/internal/worker"
)

var shift = time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)

func newStore() *schedule.Store {
	return schedule.NewStore(schedule.StoreConfig{
		Clock:    schedule.ClockFunc(func() time.Time { return shift }),
		Location: time.UTC,
		Logger:   zerolog.Nop(),
	})
}

func visit(id string) schedule.Visit {
	return schedule.Visit{ID: id, ScheduledAt: shift, ServerStatus: schedule.ServerScheduled}
}

// countingFetcher returns one visit and counts calls.
type countingFetcher struct {
	calls atomic.Int32
	err   error
}

func (f *countingFetcher) FetchVisits(ctx context.Context) ([]schedule.Visit, error) {
	f.calls.Add(1)
	if f.err != nil {
		return nil, f.err
	}
	return []schedule.Visit{visit("1")}, nil
}

func newPoller(store *schedule.Store, fetcher schedule.Fetcher, interval time.Duration) *worker.Poller {
	return worker.NewPoller(worker.PollerConfig{
		Interval: interval,
		Timeout:  time.Second,
		Store:    store,
		Fetcher:  fetcher,
		Logger:   zerolog.Nop(),
	})
}

func TestPoller_PollAppliesToStore(t *testing.T) {
	store := newStore()
	fetcher := &countingFetcher{}
	p := newPoller(store, fetcher, time.Hour)

	assert.False(t, p.Ready())

	result := p.Poll(context.Background())

	require.NoError(t, result.Err)
	assert.True(t, result.Applied)
	assert.Equal(t, 1, store.Len())
	assert.True(t, p.Ready())

	m := p.GetMetrics()
	assert.Equal(t, int64(1), m.TotalPolls)
	assert.Equal(t, int64(1), m.SuccessfulPolls)
	assert.False(t, m.LastPollAt.IsZero())
}

func TestPoller_PollFailure(t *testing.T) {
	store := newStore()
	p := newPoller(store, &countingFetcher{err: errors.New("connection refused")}, time.Hour)

	result := p.Poll(context.Background())

	require.Error(t, result.Err)
	assert.False(t, result.Applied)
	assert.False(t, p.Ready())

	m := p.GetMetrics()
	assert.Equal(t, int64(1), m.FailedPolls)
	assert.Equal(t, "connection refused", m.LastError)
}

func TestPoller_StaleResultIsDiscarded(t *testing.T) {
	store := newStore()
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	fetcher := schedule.FetcherFunc(func(ctx context.Context) ([]schedule.Visit, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
			return []schedule.Visit{visit("old")}, nil
		}
		return []schedule.Visit{visit("new")}, nil
	})
	p := newPoller(store, fetcher, time.Hour)

	slow := make(chan worker.PollResult, 1)
	go func() { slow <- p.Poll(context.Background()) }()
	<-entered

	fast := p.Poll(context.Background())
	require.True(t, fast.Applied)

	close(release)
	late := <-slow

	require.NoError(t, late.Err)
	assert.False(t, late.Applied)
	_, ok := store.Get("new")
	assert.True(t, ok)
	assert.Equal(t, int64(1), p.GetMetrics().StalePolls)
}

func TestPoller_StartPollsImmediately(t *testing.T) {
	fetcher := &countingFetcher{}
	p := newPoller(newStore(), fetcher, time.Hour)

	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	assert.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
	assert.ErrorIs(t, p.Start(context.Background()), worker.ErrAlreadyRunning)
}

func TestPoller_PollsOnInterval(t *testing.T) {
	fetcher := &countingFetcher{}
	p := newPoller(newStore(), fetcher, 10*time.Millisecond)

	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	assert.Eventually(t, func() bool { return fetcher.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
}

func TestPoller_PauseAndResume(t *testing.T) {
	fetcher := &countingFetcher{}
	p := newPoller(newStore(), fetcher, 10*time.Millisecond)

	p.Pause()
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, int32(0), fetcher.calls.Load())
	assert.True(t, p.Paused())

	p.Resume()
	assert.False(t, p.Paused())
	assert.Eventually(t, func() bool { return fetcher.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)
}

func TestPoller_ResumeRefreshesImmediately(t *testing.T) {
	fetcher := &countingFetcher{}
	p := newPoller(newStore(), fetcher, time.Hour)

	p.Pause()
	require.NoError(t, p.Start(context.Background()))
	t.Cleanup(p.Stop)

	p.Resume()
	assert.Eventually(t, func() bool { return fetcher.calls.Load() == 1 }, time.Second, 5*time.Millisecond)
}

func TestPoller_SkipsWhilePollInFlight(t *testing.T) {
	entered := make(chan struct{})
	release := make(chan struct{})
	var calls atomic.Int32

	fetcher := schedule.FetcherFunc(func(ctx context.Context) ([]schedule.Visit, error) {
		if calls.Add(1) == 1 {
			close(entered)
			<-release
		}
		return nil, nil
	})
	p := newPoller(newStore(), fetcher, time.Hour)

	require.NoError(t, p.Start(context.Background()))
	<-entered

	p.Trigger()
	assert.Eventually(t, func() bool { return p.GetMetrics().SkippedPolls == 1 }, time.Second, 5*time.Millisecond)
	assert.Equal(t, int32(1), calls.Load())

	close(release)
	p.Stop()
	assert.Equal(t, int64(1), p.GetMetrics().TotalPolls)
}

func TestPoller_NeverOverlapsScheduledPolls(t *testing.T) {
	release := make(chan struct{})
	var running, maxRunning, calls atomic.Int32

	fetcher := schedule.FetcherFunc(func(ctx context.Context) ([]schedule.Visit, error) {
		calls.Add(1)
		n := running.Add(1)
		defer running.Add(-1)
		for {
			m := maxRunning.Load()
			if n <= m || maxRunning.CompareAndSwap(m, n) {
				break
			}
		}
		<-release
		return nil, nil
	})
	// A ticker firing every millisecond races the immediate first poll.
	p := newPoller(newStore(), fetcher, time.Millisecond)

	require.NoError(t, p.Start(context.Background()))
	for i := 0; i < 20; i++ {
		p.Trigger()
		time.Sleep(time.Millisecond)
	}
	assert.Eventually(t, func() bool { return p.GetMetrics().SkippedPolls > 0 }, time.Second, time.Millisecond)
	assert.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	assert.Equal(t, int32(1), calls.Load())
	assert.Equal(t, int32(1), maxRunning.Load())

	close(release)
	p.Stop()
}

func TestPoller_StopIsIdempotent(t *testing.T) {
	p := newPoller(newStore(), &countingFetcher{}, time.Hour)

	p.Stop()
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
	p.Stop()

	// A stopped poller can be started again.
	require.NoError(t, p.Start(context.Background()))
	p.Stop()
}

func TestPoller_ContextCancelEndsLoop(t *testing.T) {
	fetcher := &countingFetcher{}
	p := newPoller(newStore(), fetcher, 10*time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, p.Start(ctx))
	assert.Eventually(t, func() bool { return fetcher.calls.Load() >= 1 }, time.Second, 5*time.Millisecond)

	cancel()
	p.Stop()

	calls := fetcher.calls.Load()
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, calls, fetcher.calls.Load())
}

func TestPoller_MetricsSnapshot(t *testing.T) {
	p := newPoller(newStore(), &countingFetcher{err: errors.New("timeout")}, time.Hour)

	snapshot := p.MetricsSnapshot()
	assert.Equal(t, int64(0), snapshot["total_polls"])
	assert.NotContains(t, snapshot, "last_poll_at")

	p.Poll(context.Background())

	snapshot = p.MetricsSnapshot()
	assert.Equal(t, int64(1), snapshot["total_polls"])
	assert.Equal(t, int64(1), snapshot["failed_polls"])
	assert.Equal(t, "timeout", snapshot["last_error"])
	assert.Equal(t, false, snapshot["paused"])
	assert.Contains(t, snapshot, "last_poll_at")
	assert.Contains(t, snapshot, "avg_poll_duration")
}
