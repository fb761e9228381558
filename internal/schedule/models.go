// Package schedule holds the caregiver visit model and the rules that decide
// what a visit's status is right now and whether it may be clocked in or out.
package schedule

import (
	"errors"
	"strings"
	"time"

	"github.com/careviah/caregiver/internal/geolocation"
)

// Schedule errors.
var (
	ErrVisitNotFound = errors.New("visit not found")
	ErrTaskNotFound  = errors.New("task not found")
)

// Clock is the time source used for every temporal decision.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

// Now returns the current time.
func (SystemClock) Now() time.Time { return time.Now() }

// ClockFunc adapts a function to the Clock interface.
type ClockFunc func() time.Time

// Now calls f.
func (f ClockFunc) Now() time.Time { return f() }

// ServerStatus is the last status the backend confirmed for a visit.
type ServerStatus string

const (
	ServerScheduled  ServerStatus = "scheduled"
	ServerInProgress ServerStatus = "in_progress"
	ServerCompleted  ServerStatus = "completed"
	ServerCancelled  ServerStatus = "cancelled"
	ServerMissed     ServerStatus = "missed"
)

// Valid reports whether s is a status the backend is known to send.
func (s ServerStatus) Valid() bool {
	switch s {
	case ServerScheduled, ServerInProgress, ServerCompleted, ServerCancelled, ServerMissed:
		return true
	}
	return false
}

// DisplayStatus is the client-derived status shown to the caregiver.
// It is never sent to the backend.
type DisplayStatus string

const (
	DisplayScheduled   DisplayStatus = "scheduled"
	DisplayGracePeriod DisplayStatus = "grace_period"
	DisplayMissed      DisplayStatus = "missed"
	DisplayInProgress  DisplayStatus = "in_progress"
	DisplayCompleted   DisplayStatus = "completed"
	DisplayCancelled   DisplayStatus = "cancelled"
)

// CompletionState is the tri-state completion of a task.
type CompletionState string

const (
	CompletionUnset   CompletionState = "unset"
	CompletionDone    CompletionState = "done"
	CompletionNotDone CompletionState = "not_done"
)

// Task is one item of work within a visit.
type Task struct {
	ID          string
	Description string
	State       CompletionState
	// Reason explains a not_done task. Ignored for any other state.
	Reason string
}

// Addressed reports whether the task is done, or not done with a reason.
func (t Task) Addressed() bool {
	switch t.State {
	case CompletionDone:
		return true
	case CompletionNotDone:
		return strings.TrimSpace(t.Reason) != ""
	default:
		return false
	}
}

// UnaddressedTaskIDs returns the ids of tasks that block clock-out, in order.
func UnaddressedTaskIDs(tasks []Task) []string {
	var ids []string
	for _, t := range tasks {
		if !t.Addressed() {
			ids = append(ids, t.ID)
		}
	}
	return ids
}

// TasksAddressed reports whether every task is addressed.
func TasksAddressed(tasks []Task) bool {
	return len(UnaddressedTaskIDs(tasks)) == 0
}

// Visit is one scheduled caregiver-client appointment.
type Visit struct {
	ID          string
	UserID      string
	ClientName  string
	Location    string
	ScheduledAt time.Time

	// StartedAt and EndedAt are set only after a confirmed clock-in/out.
	StartedAt *time.Time
	EndedAt   *time.Time

	// StartPosition is where the visit was clocked in, when known.
	StartPosition *geolocation.Position

	ServerStatus ServerStatus

	// Tasks are kept in display order.
	Tasks []Task
}

// Clone returns a deep copy of the visit.
func (v Visit) Clone() Visit {
	c := v
	if v.StartedAt != nil {
		t := *v.StartedAt
		c.StartedAt = &t
	}
	if v.EndedAt != nil {
		t := *v.EndedAt
		c.EndedAt = &t
	}
	if v.StartPosition != nil {
		p := *v.StartPosition
		c.StartPosition = &p
	}
	if v.Tasks != nil {
		c.Tasks = make([]Task, len(v.Tasks))
		copy(c.Tasks, v.Tasks)
	}
	return c
}

// Duration returns how long the visit has run, or ran, as of now.
// Zero if the visit has not started.
func (v Visit) Duration(now time.Time) time.Duration {
	if v.StartedAt == nil {
		return 0
	}
	end := now
	if v.EndedAt != nil {
		end = *v.EndedAt
	}
	if end.Before(*v.StartedAt) {
		return 0
	}
	return end.Sub(*v.StartedAt)
}
