package schedule

import "time"

// Reconcile derives the display status with the default phase windows.
func Reconcile(status ServerStatus, scheduledAt, now time.Time) DisplayStatus {
	return DefaultPhaseConfig().Reconcile(status, scheduledAt, now)
}

// Reconcile derives the display status of a visit.
//
// Server-reported active and terminal states always win. Only a visit the
// server still reports as scheduled is subject to temporal inference, and an
// expired one is shown as missed before the server's own missed-marking
// arrives. The server status itself is never rewritten.
func (c PhaseConfig) Reconcile(status ServerStatus, scheduledAt, now time.Time) DisplayStatus {
	switch status {
	case ServerInProgress:
		return DisplayInProgress
	case ServerCompleted:
		return DisplayCompleted
	case ServerCancelled:
		return DisplayCancelled
	case ServerMissed:
		return DisplayMissed
	}

	switch c.Evaluate(scheduledAt, now) {
	case PhaseGrace:
		return DisplayGracePeriod
	case PhaseExpired:
		return DisplayMissed
	default:
		return DisplayScheduled
	}
}

// View is a visit plus everything derived from it at one instant.
type View struct {
	Visit

	DisplayStatus DisplayStatus
	Phase         Phase
	Countdown     time.Duration
	StartingSoon  bool
	Elapsed       time.Duration
}

// View evaluates a visit at now.
func (c PhaseConfig) View(v Visit, now time.Time) View {
	return View{
		Visit:         v.Clone(),
		DisplayStatus: c.Reconcile(v.ServerStatus, v.ScheduledAt, now),
		Phase:         c.Evaluate(v.ScheduledAt, now),
		Countdown:     Countdown(v.ScheduledAt, now),
		StartingSoon:  v.ServerStatus == ServerScheduled && c.IsStartingSoon(v.ScheduledAt, now),
		Elapsed:       v.Duration(now),
	}
}
