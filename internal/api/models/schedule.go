package models

import (
	"time"

	"github.com/careviah/caregiver/internal/geolocation"
	"github.com/careviah/caregiver/internal/schedule"
)

// Position is a device location.
type Position struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// Task is a care task within a visit.
type Task struct {
	ID          string `json:"id"`
	Description string `json:"description"`
	State       string `json:"state"`
	Reason      string `json:"reason,omitempty"`
	Addressed   bool   `json:"addressed"`
}

// Visit is a visit with its derived status at the time of the response.
type Visit struct {
	ID            string     `json:"id"`
	ClientName    string     `json:"clientName"`
	Location      string     `json:"location"`
	ScheduledAt   Timestamp  `json:"scheduledAt"`
	StartedAt     *Timestamp `json:"startedAt,omitempty"`
	EndedAt       *Timestamp `json:"endedAt,omitempty"`
	ServerStatus  string     `json:"serverStatus"`
	DisplayStatus string     `json:"displayStatus"`
	Phase         string     `json:"phase"`

	// CountdownSeconds is negative once the scheduled time has passed.
	CountdownSeconds int64     `json:"countdownSeconds"`
	StartingSoon     bool      `json:"startingSoon"`
	ElapsedSeconds   int64     `json:"elapsedSeconds,omitempty"`
	StartPosition    *Position `json:"startPosition,omitempty"`
	Tasks            []Task    `json:"tasks"`
}

// Verdict is a gate decision.
type Verdict struct {
	Allowed bool     `json:"allowed"`
	Reason  string   `json:"reason,omitempty"`
	Message string   `json:"message,omitempty"`
	TaskIDs []string `json:"taskIds,omitempty"`
}

// VisitDetail is a visit plus whether it can be clocked in or out now.
type VisitDetail struct {
	Visit
	ClockIn  Verdict `json:"clockIn"`
	ClockOut Verdict `json:"clockOut"`
}

// Stats are today's dashboard counters.
type Stats struct {
	Missed    int `json:"missed"`
	Upcoming  int `json:"upcoming"`
	Completed int `json:"completed"`
}

// Anomaly is an inconsistency in the backend data.
type Anomaly struct {
	Kind     string   `json:"kind"`
	VisitIDs []string `json:"visitIds"`
	Message  string   `json:"message"`
}

// Day is the categorized view of the caregiver's day.
type Day struct {
	Date        string     `json:"date"`
	Active      *Visit     `json:"active"`
	Upcoming    []Visit    `json:"upcoming"`
	Missed      []Visit    `json:"missed"`
	Completed   []Visit    `json:"completed"`
	Stats       Stats      `json:"stats"`
	Anomalies   []Anomaly  `json:"anomalies,omitempty"`
	RefreshedAt *Timestamp `json:"refreshedAt,omitempty"`
}

// RefreshResponse is returned by a manual refresh.
type RefreshResponse struct {
	Applied bool `json:"applied"`
	Day     Day  `json:"day"`
}

// TaskUpdateRequest sets a task's completion in the clock-out session.
// Done is required; Reason applies only when Done is false.
type TaskUpdateRequest struct {
	Done   *bool   `json:"done"`
	Reason *string `json:"reason,omitempty"`
}

// TaskSession is the clock-out session after an update.
type TaskSession struct {
	VisitID            string   `json:"visitId"`
	Tasks              []Task   `json:"tasks"`
	FullyAddressed     bool     `json:"fullyAddressed"`
	UnaddressedTaskIDs []string `json:"unaddressedTaskIds,omitempty"`
}

// ClockInResponse is a confirmed clock-in.
type ClockInResponse struct {
	Visit            Visit    `json:"visit"`
	LocationDegraded bool     `json:"locationDegraded"`
	Warnings         []string `json:"warnings,omitempty"`
}

// TaskFailure is a task update that did not reach the server.
type TaskFailure struct {
	TaskID string `json:"taskId"`
	Error  string `json:"error"`
}

// ClockOutResponse is the outcome of a clock-out. Visit is omitted when
// the server could not be updated at all.
type ClockOutResponse struct {
	Outcome                 string        `json:"outcome"`
	Visit                   *Visit        `json:"visit,omitempty"`
	Warnings                []string      `json:"warnings,omitempty"`
	TaskFailures            []TaskFailure `json:"taskFailures,omitempty"`
	LocationDegraded        bool          `json:"locationDegraded"`
	DistanceFromStartMeters *float64      `json:"distanceFromStartMeters,omitempty"`
}

// VisibilityRequest reports whether the presentation layer is in the
// foreground.
type VisibilityRequest struct {
	Visible *bool `json:"visible"`
}

// VisibilityResponse reports the poller state after a visibility change.
type VisibilityResponse struct {
	Polling bool `json:"polling"`
}

// LocationRequest reports the device's latest position fix.
type LocationRequest struct {
	Latitude  *float64 `json:"latitude"`
	Longitude *float64 `json:"longitude"`
}

// FromTask converts a schedule task.
func FromTask(t schedule.Task) Task {
	return Task{
		ID:          t.ID,
		Description: t.Description,
		State:       string(t.State),
		Reason:      t.Reason,
		Addressed:   t.Addressed(),
	}
}

// FromTasks converts schedule tasks, never returning nil.
func FromTasks(tasks []schedule.Task) []Task {
	out := make([]Task, 0, len(tasks))
	for _, t := range tasks {
		out = append(out, FromTask(t))
	}
	return out
}

// FromView converts an evaluated visit.
func FromView(v schedule.View) Visit {
	out := Visit{
		ID:               v.ID,
		ClientName:       v.ClientName,
		Location:         v.Location,
		ScheduledAt:      Timestamp(v.ScheduledAt),
		StartedAt:        NewTimestamp(v.StartedAt),
		EndedAt:          NewTimestamp(v.EndedAt),
		ServerStatus:     string(v.ServerStatus),
		DisplayStatus:    string(v.DisplayStatus),
		Phase:            string(v.Phase),
		CountdownSeconds: int64(v.Countdown / time.Second),
		StartingSoon:     v.StartingSoon,
		ElapsedSeconds:   int64(v.Elapsed / time.Second),
		Tasks:            FromTasks(v.Tasks),
	}
	if v.StartPosition != nil {
		out.StartPosition = FromPosition(*v.StartPosition)
	}
	return out
}

// FromViews converts evaluated visits, never returning nil.
func FromViews(views []schedule.View) []Visit {
	out := make([]Visit, 0, len(views))
	for _, v := range views {
		out = append(out, FromView(v))
	}
	return out
}

// FromPosition converts a position; the unknown-location sentinel maps to nil.
func FromPosition(p geolocation.Position) *Position {
	if p.IsSentinel() {
		return nil
	}
	return &Position{Latitude: p.Latitude, Longitude: p.Longitude}
}

// FromDenial converts a gate decision. A nil denial is allowed.
func FromDenial(d *schedule.Denial) Verdict {
	if d == nil {
		return Verdict{Allowed: true}
	}
	return Verdict{
		Reason:  string(d.Reason),
		Message: d.Message,
		TaskIDs: d.TaskIDs,
	}
}

// FromAnomalies converts store anomalies.
func FromAnomalies(anomalies []schedule.Anomaly) []Anomaly {
	if len(anomalies) == 0 {
		return nil
	}
	out := make([]Anomaly, 0, len(anomalies))
	for _, a := range anomalies {
		out = append(out, Anomaly{Kind: string(a.Kind), VisitIDs: a.VisitIDs, Message: a.Message})
	}
	return out
}

// FromDay converts the categorized day.
func FromDay(d schedule.Day) Day {
	out := Day{
		Date:      d.Date.Format(time.DateOnly),
		Upcoming:  FromViews(d.Upcoming),
		Missed:    FromViews(d.Missed),
		Completed: FromViews(d.Completed),
		Stats: Stats{
			Missed:    d.Stats.Missed,
			Upcoming:  d.Stats.Upcoming,
			Completed: d.Stats.Completed,
		},
		Anomalies:   FromAnomalies(d.Anomalies),
		RefreshedAt: NewTimestamp(&d.RefreshedAt),
	}
	if d.Active != nil {
		active := FromView(*d.Active)
		out.Active = &active
	}
	return out
}
