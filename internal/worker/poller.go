package worker

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/careviah/caregiver/internal/schedule"
)

const meterName = "github.com/careviah/caregiver/internal/worker"

// Default polling settings.
const (
	DefaultPollInterval = 10 * time.Second
	DefaultPollTimeout  = 30 * time.Second
)

// ErrAlreadyRunning is returned by Start on a running poller.
var ErrAlreadyRunning = errors.New("poller already running")

// PollerConfig holds configuration for the schedule poller.
type PollerConfig struct {
	// Interval between scheduled polls (default: 10s).
	Interval time.Duration

	// Timeout bounds a single poll (default: 30s).
	Timeout time.Duration

	Store   *schedule.Store
	Fetcher schedule.Fetcher
	Logger  zerolog.Logger
}

// Poller refreshes the schedule store on a timer. It pauses while the
// presentation layer is in the background and refreshes immediately when
// it comes back.
type Poller struct {
	store    *schedule.Store
	fetcher  schedule.Fetcher
	interval time.Duration
	timeout  time.Duration
	logger   zerolog.Logger

	mu      sync.Mutex
	running bool
	paused  bool
	stop    chan struct{}
	done    chan struct{}

	wake     chan struct{}
	inFlight atomic.Int32
	wg       sync.WaitGroup

	metrics     *PollMetrics
	pollCounter metric.Int64Counter
}

// PollMetrics tracks poller statistics.
type PollMetrics struct {
	mu sync.RWMutex

	// Counters
	TotalPolls      int64
	SuccessfulPolls int64
	FailedPolls     int64
	SkippedPolls    int64
	StalePolls      int64

	// Timings
	LastPollAt       time.Time
	LastPollDuration time.Duration
	TotalDuration    time.Duration

	LastError string
}

// PollResult describes one poll.
type PollResult struct {
	StartTime time.Time
	Duration  time.Duration
	// Applied is false when a later-started poll had already landed.
	Applied bool
	Err     error
}

// NewPoller creates a poller. It does not start polling until Start.
func NewPoller(cfg PollerConfig) *Poller {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultPollInterval
	}
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = DefaultPollTimeout
	}

	counter, err := otel.Meter(meterName).Int64Counter(
		"caregiver.schedule.polls",
		metric.WithDescription("Schedule polls by outcome"),
		metric.WithUnit("{poll}"),
	)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("failed to create poll counter")
	}

	return &Poller{
		store:       cfg.Store,
		fetcher:     cfg.Fetcher,
		interval:    interval,
		timeout:     timeout,
		logger:      cfg.Logger,
		wake:        make(chan struct{}, 1),
		metrics:     &PollMetrics{},
		pollCounter: counter,
	}
}

// Start begins polling with an immediate first poll. The loop ends when
// ctx is done or Stop is called.
func (p *Poller) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return ErrAlreadyRunning
	}
	p.running = true
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	p.logger.Info().
		Dur("interval", p.interval).
		Bool("paused", p.paused).
		Msg("starting schedule poller")

	go p.loop(ctx, p.stop, p.done)
	if !p.paused {
		p.Trigger()
	}
	return nil
}

// Stop ends the loop and waits for in-flight polls to finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	p.running = false
	close(p.stop)
	done := p.done
	p.mu.Unlock()

	<-done
	p.wg.Wait()
	p.logger.Info().Msg("schedule poller stopped")
}

// Pause suspends scheduled polls. Explicit Poll calls still run.
func (p *Poller) Pause() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.paused {
		return
	}
	p.paused = true
	p.logger.Debug().Msg("schedule poller paused")
}

// Resume re-enables scheduled polls and refreshes immediately.
func (p *Poller) Resume() {
	p.mu.Lock()
	wasPaused := p.paused
	p.paused = false
	p.mu.Unlock()

	if wasPaused {
		p.logger.Debug().Msg("schedule poller resumed")
		p.Trigger()
	}
}

// Paused reports whether scheduled polls are suspended.
func (p *Poller) Paused() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.paused
}

// Trigger asks the loop for a poll as soon as possible. Repeated triggers
// before the loop wakes collapse into one.
func (p *Poller) Trigger() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

// Ready reports whether at least one poll has succeeded.
func (p *Poller) Ready() bool {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()
	return p.metrics.SuccessfulPolls > 0
}

func (p *Poller) loop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if p.Paused() {
				continue
			}
			p.scheduled(ctx)
		case <-p.wake:
			p.scheduled(ctx)
		}
	}
}

// scheduled starts a background poll unless one is already running.
func (p *Poller) scheduled(ctx context.Context) {
	if p.inFlight.Load() > 0 {
		p.metrics.mu.Lock()
		p.metrics.SkippedPolls++
		p.metrics.mu.Unlock()
		p.record(ctx, "skipped")
		p.logger.Debug().Msg("skipping poll, previous poll still running")
		return
	}

	// Counted before the goroutine starts so the next tick or wake already
	// sees this poll.
	p.inFlight.Add(1)
	p.wg.Add(1)
	go func() {
		defer p.wg.Done()
		defer p.inFlight.Add(-1)
		p.poll(ctx)
	}()
}

// Poll runs one refresh now, regardless of pause state or other polls in
// flight. A result that loses to a later-started poll is discarded by the
// store.
func (p *Poller) Poll(ctx context.Context) PollResult {
	p.inFlight.Add(1)
	defer p.inFlight.Add(-1)
	return p.poll(ctx)
}

func (p *Poller) poll(ctx context.Context) PollResult {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	result := PollResult{StartTime: time.Now()}
	result.Applied, result.Err = p.store.Refresh(ctx, p.fetcher)
	result.Duration = time.Since(result.StartTime)

	p.metrics.mu.Lock()
	p.metrics.TotalPolls++
	p.metrics.LastPollAt = result.StartTime
	p.metrics.LastPollDuration = result.Duration
	p.metrics.TotalDuration += result.Duration
	switch {
	case result.Err != nil:
		p.metrics.FailedPolls++
		p.metrics.LastError = result.Err.Error()
	case !result.Applied:
		p.metrics.SuccessfulPolls++
		p.metrics.StalePolls++
		p.metrics.LastError = ""
	default:
		p.metrics.SuccessfulPolls++
		p.metrics.LastError = ""
	}
	p.metrics.mu.Unlock()

	switch {
	case result.Err != nil:
		p.record(ctx, "failed")
		p.logger.Warn().
			Err(result.Err).
			Dur("duration", result.Duration).
			Msg("schedule poll failed")
	case !result.Applied:
		p.record(ctx, "stale")
		p.logger.Debug().
			Dur("duration", result.Duration).
			Msg("schedule poll superseded by a newer poll")
	default:
		p.record(ctx, "applied")
		p.logger.Debug().
			Int("visits", p.store.Len()).
			Dur("duration", result.Duration).
			Msg("schedule poll applied")
	}

	return result
}

func (p *Poller) record(ctx context.Context, outcome string) {
	if p.pollCounter == nil {
		return
	}
	p.pollCounter.Add(context.WithoutCancel(ctx), 1,
		metric.WithAttributes(attribute.String("outcome", outcome)))
}

// GetMetrics returns a copy of the current metrics.
func (p *Poller) GetMetrics() PollMetrics {
	p.metrics.mu.RLock()
	defer p.metrics.mu.RUnlock()

	return PollMetrics{
		TotalPolls:       p.metrics.TotalPolls,
		SuccessfulPolls:  p.metrics.SuccessfulPolls,
		FailedPolls:      p.metrics.FailedPolls,
		SkippedPolls:     p.metrics.SkippedPolls,
		StalePolls:       p.metrics.StalePolls,
		LastPollAt:       p.metrics.LastPollAt,
		LastPollDuration: p.metrics.LastPollDuration,
		TotalDuration:    p.metrics.TotalDuration,
		LastError:        p.metrics.LastError,
	}
}

// MetricsSnapshot returns metrics as a map for logging or status output.
func (p *Poller) MetricsSnapshot() map[string]interface{} {
	m := p.GetMetrics()

	var avgDuration time.Duration
	if m.TotalPolls > 0 {
		avgDuration = m.TotalDuration / time.Duration(m.TotalPolls)
	}

	snapshot := map[string]interface{}{
		"total_polls":        m.TotalPolls,
		"successful_polls":   m.SuccessfulPolls,
		"failed_polls":       m.FailedPolls,
		"skipped_polls":      m.SkippedPolls,
		"stale_polls":        m.StalePolls,
		"last_poll_duration": m.LastPollDuration.String(),
		"avg_poll_duration":  avgDuration.String(),
		"paused":             p.Paused(),
	}
	if !m.LastPollAt.IsZero() {
		snapshot["last_poll_at"] = m.LastPollAt.Format(time.RFC3339)
	}
	if m.LastError != "" {
		snapshot["last_error"] = m.LastError
	}
	return snapshot
}
