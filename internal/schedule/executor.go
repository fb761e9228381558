package schedule

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"

	"github.com/careviah/caregiver/internal/geolocation"
)

const (
	tracerName = "github.com/careviah/caregiver/internal/schedule"
	meterName  = tracerName
)

// DefaultProximityRadius is how far from the clock-in position a clock-out
// may happen before it is flagged, in meters.
const DefaultProximityRadius = 500.0

// Remote task statuses.
const (
	TaskStatusCompleted    = "completed"
	TaskStatusNotCompleted = "not_completed"
)

// TaskUpdate is the payload flushed for one task at clock-out.
type TaskUpdate struct {
	Status string `json:"status"`
	Reason string `json:"reason,omitempty"`
}

// TaskUpdateFor converts a ledger task into its remote update.
func TaskUpdateFor(t Task) TaskUpdate {
	if t.State == CompletionDone {
		return TaskUpdate{Status: TaskStatusCompleted}
	}
	return TaskUpdate{Status: TaskStatusNotCompleted, Reason: t.Reason}
}

// API is the remote side of visit transitions.
type API interface {
	StartVisit(ctx context.Context, visitID string, pos geolocation.Position) error
	EndVisit(ctx context.Context, visitID string, pos geolocation.Position) error
	UpdateTaskStatus(ctx context.Context, taskID string, update TaskUpdate) error
	UpdateVisitStatus(ctx context.Context, visitID string, status ServerStatus) error
}

// Outcome classifies how a clock-out went.
type Outcome string

const (
	// OutcomeFull means every remote call succeeded.
	OutcomeFull Outcome = "full"
	// OutcomeDegraded means the visit was completed but something failed
	// along the way.
	OutcomeDegraded Outcome = "degraded"
	// OutcomeFailed means the visit could not be completed remotely.
	OutcomeFailed Outcome = "failed"
)

// TaskFailure is a task whose update could not be flushed.
type TaskFailure struct {
	TaskID string
	Err    error
}

// ClockInResult is a confirmed clock-in.
type ClockInResult struct {
	Visit            Visit
	Position         geolocation.Position
	LocationDegraded bool
}

// ClockOutResult is the outcome of a clock-out. Visit is nil unless the
// backend confirmed completion through either path.
type ClockOutResult struct {
	Outcome Outcome
	Visit   *Visit

	TaskFailures     []TaskFailure
	EndVisitErr      error
	ForceCompleteErr error

	Position          geolocation.Position
	LocationDegraded  bool
	DistanceFromStart *float64

	Warnings []string
}

// ExecutorConfig holds configuration for the transition executor.
type ExecutorConfig struct {
	// API performs the remote calls.
	API API

	// Locator supplies the device position (optional).
	Locator geolocation.Provider

	// LocateTimeout bounds the single position lookup per transition
	// (default: geolocation.DefaultTimeout).
	LocateTimeout time.Duration

	// Store receives confirmed visits (optional).
	Store *Store

	// Clock is the time source (default: SystemClock).
	Clock Clock

	// ProximityRadius flags clock-outs this far from the clock-in position,
	// in meters (default: DefaultProximityRadius).
	ProximityRadius float64

	// Logger for transitions.
	Logger zerolog.Logger
}

// Executor performs clock-in and clock-out against the backend.
type Executor struct {
	api           API
	locator       geolocation.Provider
	locateTimeout time.Duration
	store         *Store
	clock         Clock
	radius        float64
	logger        zerolog.Logger
	transitions   metric.Int64Counter
}

// NewExecutor creates a transition executor.
func NewExecutor(cfg ExecutorConfig) *Executor {
	if cfg.LocateTimeout <= 0 {
		cfg.LocateTimeout = geolocation.DefaultTimeout
	}
	if cfg.Clock == nil {
		cfg.Clock = SystemClock{}
	}
	if cfg.ProximityRadius <= 0 {
		cfg.ProximityRadius = DefaultProximityRadius
	}

	transitions, err := otel.Meter(meterName).Int64Counter(
		"caregiver.visit.transitions",
		metric.WithDescription("Clock-in and clock-out attempts by outcome"),
		metric.WithUnit("{transition}"),
	)
	if err != nil {
		cfg.Logger.Warn().Err(err).Msg("failed to create transition counter")
	}

	return &Executor{
		transitions:   transitions,
		api:           cfg.API,
		locator:       cfg.Locator,
		locateTimeout: cfg.LocateTimeout,
		store:         cfg.Store,
		clock:         cfg.Clock,
		radius:        cfg.ProximityRadius,
		logger:        cfg.Logger,
	}
}

// ClockIn starts v. The caller must have checked CanClockIn.
// A transport error is returned as is and v is left unchanged.
func (e *Executor) ClockIn(ctx context.Context, v Visit) (ClockInResult, error) {
	// A submitted transition runs to completion even if the caller goes away.
	ctx = context.WithoutCancel(ctx)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "schedule.ClockIn")
	defer span.End()
	span.SetAttributes(attribute.String("visit.id", v.ID))

	pos, degraded := e.locate(ctx, v.ID, "clock-in")
	span.SetAttributes(attribute.Bool("location.degraded", degraded))

	if err := e.api.StartVisit(ctx, v.ID, pos); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "start visit failed")
		e.logger.Error().Err(err).Str("visit_id", v.ID).Msg("clock-in failed")
		e.count(ctx, "clock_in", "failed")
		return ClockInResult{}, err
	}

	now := e.clock.Now()
	updated := v.Clone()
	updated.ServerStatus = ServerInProgress
	updated.StartedAt = &now
	updated.EndedAt = nil
	if !degraded {
		p := pos
		updated.StartPosition = &p
	}

	if e.store != nil {
		e.store.Put(updated)
	}

	e.logger.Info().
		Str("visit_id", v.ID).
		Bool("location_degraded", degraded).
		Msg("visit clocked in")
	e.count(ctx, "clock_in", "ok")

	return ClockInResult{Visit: updated, Position: pos, LocationDegraded: degraded}, nil
}

// ClockOut ends v with the given task states. The caller must have checked
// CanClockOut. Failures never escape as errors: the result carries the
// outcome and any warnings.
func (e *Executor) ClockOut(ctx context.Context, v Visit, tasks []Task) ClockOutResult {
	ctx = context.WithoutCancel(ctx)

	ctx, span := otel.Tracer(tracerName).Start(ctx, "schedule.ClockOut")
	defer span.End()
	span.SetAttributes(
		attribute.String("visit.id", v.ID),
		attribute.Int("tasks.count", len(tasks)),
	)

	var result ClockOutResult

	result.TaskFailures = e.flushTasks(ctx, v.ID, tasks)
	for _, f := range result.TaskFailures {
		result.Warnings = append(result.Warnings, fmt.Sprintf("Task %s could not be synced.", f.TaskID))
	}

	pos, degraded := e.locate(ctx, v.ID, "clock-out")
	result.Position = pos
	result.LocationDegraded = degraded
	if degraded {
		result.Warnings = append(result.Warnings, "Location unavailable. Clock-out recorded without a position.")
	} else if v.StartPosition != nil && !v.StartPosition.IsSentinel() {
		d := geolocation.Distance(*v.StartPosition, pos)
		result.DistanceFromStart = &d
		if !geolocation.WithinRadius(*v.StartPosition, pos, e.radius) {
			result.Warnings = append(result.Warnings,
				fmt.Sprintf("Clock-out location is %.0f m from where the visit started.", d))
		}
	}

	result.EndVisitErr = e.api.EndVisit(ctx, v.ID, pos)
	if result.EndVisitErr != nil {
		span.RecordError(result.EndVisitErr)
		e.logger.Warn().
			Err(result.EndVisitErr).
			Str("visit_id", v.ID).
			Msg("end visit failed, forcing completion")

		result.ForceCompleteErr = e.api.UpdateVisitStatus(ctx, v.ID, ServerCompleted)
		if result.ForceCompleteErr != nil {
			span.RecordError(result.ForceCompleteErr)
			span.SetStatus(codes.Error, "clock-out failed")
			e.logger.Error().
				Err(result.ForceCompleteErr).
				Str("visit_id", v.ID).
				Msg("force complete failed")

			result.Outcome = OutcomeFailed
			e.count(ctx, "clock_out", string(OutcomeFailed))
			result.Warnings = append(result.Warnings,
				"Could not complete the visit on the server. It will be reconciled on the next refresh.")
			return result
		}
		result.Warnings = append(result.Warnings, "Visit completed with a fallback status update.")
	}

	now := e.clock.Now()
	updated := v.Clone()
	updated.ServerStatus = ServerCompleted
	updated.EndedAt = &now
	if len(tasks) > 0 {
		updated.Tasks = make([]Task, len(tasks))
		copy(updated.Tasks, tasks)
	}
	result.Visit = &updated

	if result.EndVisitErr != nil || len(result.TaskFailures) > 0 {
		result.Outcome = OutcomeDegraded
	} else {
		result.Outcome = OutcomeFull
	}
	span.SetAttributes(attribute.String("clockout.outcome", string(result.Outcome)))

	if e.store != nil {
		e.store.Put(updated)
	}

	e.logger.Info().
		Str("visit_id", v.ID).
		Str("outcome", string(result.Outcome)).
		Int("task_failures", len(result.TaskFailures)).
		Msg("visit clocked out")
	e.count(ctx, "clock_out", string(result.Outcome))

	return result
}

func (e *Executor) count(ctx context.Context, action, outcome string) {
	if e.transitions == nil {
		return
	}
	e.transitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("action", action),
		attribute.String("outcome", outcome),
	))
}

// flushTasks sends every task update concurrently and waits for all of them.
func (e *Executor) flushTasks(ctx context.Context, visitID string, tasks []Task) []TaskFailure {
	errs := make([]error, len(tasks))

	var wg sync.WaitGroup
	for i, t := range tasks {
		wg.Add(1)
		go func(i int, t Task) {
			defer wg.Done()
			errs[i] = e.api.UpdateTaskStatus(ctx, t.ID, TaskUpdateFor(t))
		}(i, t)
	}
	wg.Wait()

	var failures []TaskFailure
	for i, err := range errs {
		if err == nil {
			continue
		}
		e.logger.Warn().
			Err(err).
			Str("visit_id", visitID).
			Str("task_id", tasks[i].ID).
			Msg("task update failed")
		failures = append(failures, TaskFailure{TaskID: tasks[i].ID, Err: err})
	}
	return failures
}

func (e *Executor) locate(ctx context.Context, visitID, action string) (geolocation.Position, bool) {
	pos, err := geolocation.Locate(ctx, e.locator, e.locateTimeout)
	if err != nil {
		e.logger.Warn().
			Err(err).
			Str("visit_id", visitID).
			Str("action", action).
			Msg("location unavailable, using sentinel")
		return geolocation.Sentinel, true
	}
	return pos, false
}
