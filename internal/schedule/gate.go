package schedule

import "time"

// DenialReason identifies why a clock-in or clock-out is not allowed.
type DenialReason string

const (
	DenialAlreadyMissed      DenialReason = "already_missed"
	DenialGracePeriodExpired DenialReason = "grace_period_expired"
	DenialNoTasksAssigned    DenialReason = "no_tasks_assigned"
	DenialWrongStatus        DenialReason = "wrong_status"
	DenialNotInProgress      DenialReason = "not_in_progress"
	DenialTasksUnaddressed   DenialReason = "tasks_unaddressed"
)

// Denial is the outcome of a gate check that refused an action.
// A nil *Denial means the action is permitted.
type Denial struct {
	Reason DenialReason

	// Status is the offending server status for DenialWrongStatus and
	// DenialNotInProgress.
	Status ServerStatus

	// TaskIDs lists the unaddressed tasks for DenialTasksUnaddressed.
	TaskIDs []string

	// Message is the caregiver-facing explanation.
	Message string
}

// String returns the caregiver-facing message.
func (d *Denial) String() string {
	if d == nil {
		return ""
	}
	return d.Message
}

// CanClockIn checks clock-in with the default phase windows.
func CanClockIn(v Visit, now time.Time) *Denial {
	return DefaultPhaseConfig().CanClockIn(v, now)
}

// CanClockIn reports whether v may be clocked in at now.
// Checks run in a fixed order and stop at the first failure.
func (c PhaseConfig) CanClockIn(v Visit, now time.Time) *Denial {
	if v.ServerStatus == ServerMissed {
		return &Denial{
			Reason:  DenialAlreadyMissed,
			Status:  v.ServerStatus,
			Message: "This schedule has been marked as missed and cannot be started.",
		}
	}

	if c.Reconcile(v.ServerStatus, v.ScheduledAt, now) == DisplayMissed {
		return &Denial{
			Reason:  DenialGracePeriodExpired,
			Status:  v.ServerStatus,
			Message: "This schedule time has passed the grace period. It should be automatically marked as missed.",
		}
	}

	if len(v.Tasks) == 0 {
		return &Denial{
			Reason:  DenialNoTasksAssigned,
			Status:  v.ServerStatus,
			Message: "No tasks available for this schedule. Cannot clock in.",
		}
	}

	if v.ServerStatus != ServerScheduled {
		return &Denial{
			Reason:  DenialWrongStatus,
			Status:  v.ServerStatus,
			Message: wrongStatusMessage(v.ServerStatus),
		}
	}

	return nil
}

func wrongStatusMessage(status ServerStatus) string {
	switch status {
	case ServerCompleted:
		return "This schedule has already been completed."
	case ServerInProgress:
		return "This schedule is already in progress."
	case ServerCancelled:
		return "This schedule has been cancelled."
	default:
		return "This schedule is not available for clock-in."
	}
}

// CanClockOut reports whether v may be clocked out with the given task
// states. tasks are usually the clock-out session's ledger, not v.Tasks.
func CanClockOut(v Visit, tasks []Task) *Denial {
	if v.ServerStatus != ServerInProgress {
		return &Denial{
			Reason:  DenialNotInProgress,
			Status:  v.ServerStatus,
			Message: "This schedule is not in progress and cannot be clocked out.",
		}
	}

	if ids := UnaddressedTaskIDs(tasks); len(ids) > 0 {
		return &Denial{
			Reason:  DenialTasksUnaddressed,
			Status:  v.ServerStatus,
			TaskIDs: ids,
			Message: "Please complete all tasks or provide reasons for incomplete tasks before clocking out.",
		}
	}

	return nil
}
