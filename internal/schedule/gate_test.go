package schedule_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careviah/caregiver/internal/schedule"
)

func visitWithTasks(status schedule.ServerStatus, at time.Time, tasks ...schedule.Task) schedule.Visit {
	return schedule.Visit{
		ID:           "v1",
		ClientName:   "Melisa Adam",
		ScheduledAt:  at,
		ServerStatus: status,
		Tasks:        tasks,
	}
}

func task(id string, state schedule.CompletionState, reason string) schedule.Task {
	return schedule.Task{ID: id, Description: "task " + id, State: state, Reason: reason}
}

func TestCanClockIn_Upcoming(t *testing.T) {
	v := visitWithTasks(schedule.ServerScheduled, now.Add(10*time.Minute), task("t1", schedule.CompletionUnset, ""))

	assert.Equal(t, schedule.PhaseUpcoming, schedule.EvaluatePhase(v.ScheduledAt, now, 5))
	assert.Nil(t, schedule.CanClockIn(v, now))
}

func TestCanClockIn_UpcomingWithoutTasks(t *testing.T) {
	v := visitWithTasks(schedule.ServerScheduled, now.Add(10*time.Minute))

	d := schedule.CanClockIn(v, now)
	require.NotNil(t, d)
	assert.Equal(t, schedule.DenialNoTasksAssigned, d.Reason)
}

func TestCanClockIn_GracePeriod(t *testing.T) {
	v := visitWithTasks(schedule.ServerScheduled, now.Add(-3*time.Minute), task("t1", schedule.CompletionUnset, ""))

	assert.Equal(t, schedule.PhaseGrace, schedule.EvaluatePhase(v.ScheduledAt, now, 5))
	assert.Equal(t, schedule.DisplayGracePeriod, schedule.Reconcile(v.ServerStatus, v.ScheduledAt, now))
	assert.Nil(t, schedule.CanClockIn(v, now))
}

func TestCanClockIn_GraceExpired(t *testing.T) {
	v := visitWithTasks(schedule.ServerScheduled, now.Add(-6*time.Minute), task("t1", schedule.CompletionUnset, ""))

	assert.Equal(t, schedule.PhaseExpired, schedule.EvaluatePhase(v.ScheduledAt, now, 5))
	assert.Equal(t, schedule.DisplayMissed, schedule.Reconcile(v.ServerStatus, v.ScheduledAt, now))

	d := schedule.CanClockIn(v, now)
	require.NotNil(t, d)
	assert.Equal(t, schedule.DenialGracePeriodExpired, d.Reason)
	assert.Contains(t, d.String(), "grace period")
}

func TestCanClockIn_RuleOrder(t *testing.T) {
	tests := []struct {
		name  string
		visit schedule.Visit
		want  schedule.DenialReason
	}{
		{
			name:  "missed beats everything",
			visit: visitWithTasks(schedule.ServerMissed, now.Add(time.Hour)),
			want:  schedule.DenialAlreadyMissed,
		},
		{
			name:  "expired beats missing tasks",
			visit: visitWithTasks(schedule.ServerScheduled, now.Add(-time.Hour)),
			want:  schedule.DenialGracePeriodExpired,
		},
		{
			name:  "missing tasks beats wrong status",
			visit: visitWithTasks(schedule.ServerCompleted, now.Add(time.Hour)),
			want:  schedule.DenialNoTasksAssigned,
		},
		{
			name:  "in progress",
			visit: visitWithTasks(schedule.ServerInProgress, now, task("t1", schedule.CompletionUnset, "")),
			want:  schedule.DenialWrongStatus,
		},
		{
			name:  "cancelled",
			visit: visitWithTasks(schedule.ServerCancelled, now.Add(time.Hour), task("t1", schedule.CompletionUnset, "")),
			want:  schedule.DenialWrongStatus,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d := schedule.CanClockIn(tt.visit, now)
			require.NotNil(t, d)
			assert.Equal(t, tt.want, d.Reason)
			assert.NotEmpty(t, d.Message)
		})
	}
}

func TestCanClockIn_WrongStatusMessages(t *testing.T) {
	v := visitWithTasks(schedule.ServerCompleted, now.Add(time.Hour), task("t1", schedule.CompletionDone, ""))

	d := schedule.CanClockIn(v, now)
	require.NotNil(t, d)
	assert.Equal(t, schedule.ServerCompleted, d.Status)
	assert.Equal(t, "This schedule has already been completed.", d.Message)
}

func TestCanClockOut(t *testing.T) {
	tests := []struct {
		name    string
		status  schedule.ServerStatus
		tasks   []schedule.Task
		want    schedule.DenialReason
		wantIDs []string
	}{
		{
			name:   "all done",
			status: schedule.ServerInProgress,
			tasks:  []schedule.Task{task("a", schedule.CompletionDone, ""), task("b", schedule.CompletionDone, "")},
		},
		{
			name:   "not done with reason",
			status: schedule.ServerInProgress,
			tasks:  []schedule.Task{task("a", schedule.CompletionDone, ""), task("b", schedule.CompletionNotDone, "client asleep")},
		},
		{
			name:    "unset task",
			status:  schedule.ServerInProgress,
			tasks:   []schedule.Task{task("a", schedule.CompletionUnset, ""), task("b", schedule.CompletionDone, "")},
			want:    schedule.DenialTasksUnaddressed,
			wantIDs: []string{"a"},
		},
		{
			name:    "not done with blank reason",
			status:  schedule.ServerInProgress,
			tasks:   []schedule.Task{task("a", schedule.CompletionNotDone, "   "), task("b", schedule.CompletionNotDone, "")},
			want:    schedule.DenialTasksUnaddressed,
			wantIDs: []string{"a", "b"},
		},
		{
			name:   "not in progress",
			status: schedule.ServerScheduled,
			tasks:  []schedule.Task{task("a", schedule.CompletionDone, "")},
			want:   schedule.DenialNotInProgress,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := visitWithTasks(tt.status, now, tt.tasks...)
			d := schedule.CanClockOut(v, tt.tasks)
			if tt.want == "" {
				assert.Nil(t, d)
				return
			}
			require.NotNil(t, d)
			assert.Equal(t, tt.want, d.Reason)
			assert.Equal(t, tt.wantIDs, d.TaskIDs)
		})
	}
}

func TestDenial_NilString(t *testing.T) {
	var d *schedule.Denial
	assert.Empty(t, d.String())
}
