package schedule

import "time"

// Phase is where "now" sits relative to a visit's scheduled start.
type Phase string

const (
	// PhaseUpcoming is more than the ready window before the start.
	PhaseUpcoming Phase = "upcoming"
	// PhaseReady is within the ready window, up to and including the start.
	PhaseReady Phase = "ready"
	// PhaseGrace is past the start but still inside the grace period.
	PhaseGrace Phase = "grace"
	// PhaseExpired is past the grace period. Clock-in is closed.
	PhaseExpired Phase = "expired"
)

// Phase defaults.
const (
	DefaultGraceMinutes = 5
	DefaultReadyWindow  = 5 * time.Minute

	// DefaultStartingSoon is the display-only "starting soon" threshold.
	// It does not take part in gating.
	DefaultStartingSoon = 30 * time.Minute
)

// PhaseConfig holds the timing windows of the visit state machine.
type PhaseConfig struct {
	// ReadyWindow is how long before the start a visit becomes ready.
	ReadyWindow time.Duration

	// GraceMinutes is how long after the start clock-in stays open.
	GraceMinutes int

	// StartingSoon flags visits starting within this window for display.
	StartingSoon time.Duration
}

// DefaultPhaseConfig returns the canonical 5-minute ready window and
// 5-minute grace period.
func DefaultPhaseConfig() PhaseConfig {
	return PhaseConfig{
		ReadyWindow:  DefaultReadyWindow,
		GraceMinutes: DefaultGraceMinutes,
		StartingSoon: DefaultStartingSoon,
	}
}

// EvaluatePhase computes the phase with the default ready window.
func EvaluatePhase(scheduledAt, now time.Time, graceMinutes int) Phase {
	return evaluatePhase(scheduledAt, now, DefaultReadyWindow, graceMinutes)
}

// Evaluate computes the phase of a visit scheduled at scheduledAt.
func (c PhaseConfig) Evaluate(scheduledAt, now time.Time) Phase {
	return evaluatePhase(scheduledAt, now, c.ReadyWindow, c.GraceMinutes)
}

// Grace returns the grace period as a duration.
func (c PhaseConfig) Grace() time.Duration {
	if c.GraceMinutes < 0 {
		return 0
	}
	return time.Duration(c.GraceMinutes) * time.Minute
}

func evaluatePhase(scheduledAt, now time.Time, readyWindow time.Duration, graceMinutes int) Phase {
	if readyWindow < 0 {
		readyWindow = 0
	}
	if graceMinutes < 0 {
		graceMinutes = 0
	}
	grace := time.Duration(graceMinutes) * time.Minute

	// delta == 0 is ready, delta == -grace is still grace.
	delta := scheduledAt.Sub(now)
	switch {
	case delta > readyWindow:
		return PhaseUpcoming
	case delta >= 0:
		return PhaseReady
	case delta >= -grace:
		return PhaseGrace
	default:
		return PhaseExpired
	}
}

// Countdown returns the signed time left until scheduledAt.
// Negative once the start has passed.
func Countdown(scheduledAt, now time.Time) time.Duration {
	return scheduledAt.Sub(now)
}

// IsStartingSoon reports whether the visit starts within the display
// threshold and has not started yet.
func (c PhaseConfig) IsStartingSoon(scheduledAt, now time.Time) bool {
	delta := scheduledAt.Sub(now)
	return delta > 0 && delta <= c.StartingSoon
}
