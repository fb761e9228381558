package careapi

import (
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/careviah/caregiver/internal/schedule"
)

func TestDecodeList_Shapes(t *testing.T) {
	record := `{"id":"1","client_name":"Melisa Adam","shift_time":"2025-03-10T09:00:00Z","status":"scheduled","tasks":[]}`

	tests := []struct {
		name string
		body string
		want int
	}{
		{"nested under message", `{"message":{"schedules":[` + record + `]}}`, 1},
		{"top-level schedules", `{"schedules":[` + record + `,` + record + `]}`, 2},
		{"bare array", `[` + record + `]`, 1},
		{"null", `null`, 0},
		{"empty body", ``, 0},
		{"null schedules", `{"schedules":null}`, 0},
		{"message string only", `{"message":"No schedules found"}`, 0},
		{"nested null", `{"message":{"schedules":null}}`, 0},
		{"empty array", `[]`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := decodeList([]byte(tt.body))
			require.NoError(t, err)
			assert.Len(t, records, tt.want)
		})
	}
}

func TestDecodeList_Invalid(t *testing.T) {
	_, err := decodeList([]byte(`{"schedules":"nope"}`))
	assert.Error(t, err)

	_, err = decodeList([]byte(`"text"`))
	assert.Error(t, err)
}

func TestDecodeList_UnknownObjectShapes(t *testing.T) {
	record := `{"id":"1","client_name":"Melisa Adam","shift_time":"2025-03-10T09:00:00Z","status":"scheduled","tasks":[]}`

	tests := []struct {
		name string
		body string
	}{
		{"data key", `{"data":[` + record + `]}`},
		{"error body", `{"error":"database unavailable"}`},
		{"empty object", `{}`},
		{"message object without schedules", `{"message":{"items":[` + record + `]}}`},
		{"message null", `{"message":null}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			records, err := decodeList([]byte(tt.body))
			assert.ErrorIs(t, err, ErrUnknownShape)
			assert.Nil(t, records)
		})
	}
}

func TestFlexString(t *testing.T) {
	records, err := decodeList([]byte(`[{"id":42,"user_id":"u1","shift_time":"2025-03-10T09:00:00Z","status":"scheduled","tasks":[{"id":7}]}]`))
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, flexString("42"), records[0].ID)
	assert.Equal(t, flexString("7"), records[0].Tasks[0].ID)
}

func TestParseTime(t *testing.T) {
	nairobi := time.FixedZone("EAT", 3*60*60)

	tests := []struct {
		in   string
		want time.Time
	}{
		{"2025-03-10T09:00:00Z", time.Date(2025, 3, 10, 9, 0, 0, 0, time.UTC)},
		{"2025-03-10T09:00:00+03:00", time.Date(2025, 3, 10, 6, 0, 0, 0, time.UTC)},
		{"2025-03-10T09:00:00", time.Date(2025, 3, 10, 9, 0, 0, 0, nairobi)},
		{"2025-03-10 09:00:00", time.Date(2025, 3, 10, 9, 0, 0, 0, nairobi)},
		{"2025-03-10T09:00", time.Date(2025, 3, 10, 9, 0, 0, 0, nairobi)},
		{"2025-03-10T09:00:00.123456", time.Date(2025, 3, 10, 9, 0, 0, 123456000, nairobi)},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := parseTime(tt.in, nairobi)
			require.NoError(t, err)
			assert.True(t, tt.want.Equal(got), "got %s", got)
		})
	}

	_, err := parseTime("tomorrow", nairobi)
	assert.Error(t, err)
	_, err = parseTime("", nairobi)
	assert.Error(t, err)
}

func TestToVisit(t *testing.T) {
	start := "2025-03-10T09:02:00Z"
	lat, lon := -1.29, 36.82
	reason := " client asleep "

	v, err := toVisit(visitRecord{
		ID:         "s1",
		UserID:     "u1",
		ClientName: "Melisa Adam",
		Location:   "Casa Grande Apartment",
		ShiftTime:  "2025-03-10T09:00:00Z",
		Status:     "IN_PROGRESS",
		StartTime:  &start,
		StartLat:   &lat,
		StartLon:   &lon,
		Tasks: []taskRecord{
			{ID: "t1", Description: "Give medication", Status: "completed"},
			{ID: "t2", Description: "Prepare lunch", Status: "not_completed", Reason: &reason},
			{ID: "t3", Description: "Walk", Status: "not_completed"},
			{ID: "t4", Description: "Laundry"},
		},
	}, time.UTC, zerolog.Nop())

	require.NoError(t, err)
	assert.Equal(t, schedule.ServerInProgress, v.ServerStatus)
	require.NotNil(t, v.StartedAt)
	assert.Equal(t, 2*time.Minute, v.StartedAt.Sub(v.ScheduledAt))
	require.NotNil(t, v.StartPosition)
	assert.Equal(t, lat, v.StartPosition.Latitude)

	require.Len(t, v.Tasks, 4)
	assert.Equal(t, schedule.CompletionDone, v.Tasks[0].State)
	assert.Equal(t, schedule.CompletionNotDone, v.Tasks[1].State)
	assert.Equal(t, "client asleep", v.Tasks[1].Reason)
	assert.Equal(t, schedule.CompletionUnset, v.Tasks[2].State)
	assert.Equal(t, schedule.CompletionUnset, v.Tasks[3].State)
}

func TestToVisit_Rejects(t *testing.T) {
	tests := []struct {
		name   string
		record visitRecord
	}{
		{"missing id", visitRecord{ShiftTime: "2025-03-10T09:00:00Z", Status: "scheduled"}},
		{"unknown status", visitRecord{ID: "1", ShiftTime: "2025-03-10T09:00:00Z", Status: "paused"}},
		{"bad shift time", visitRecord{ID: "1", ShiftTime: "soon", Status: "scheduled"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := toVisit(tt.record, time.UTC, zerolog.Nop())
			assert.Error(t, err)
		})
	}
}

func TestToVisits_SkipsMalformed(t *testing.T) {
	visits := toVisits([]visitRecord{
		{ID: "1", ShiftTime: "2025-03-10T09:00:00Z", Status: "scheduled"},
		{ID: "2", ShiftTime: "garbage", Status: "scheduled"},
		{ID: "3", ShiftTime: "2025-03-10T11:00:00Z", Status: "completed"},
	}, time.UTC, zerolog.Nop())

	require.Len(t, visits, 2)
	assert.Equal(t, "1", visits[0].ID)
	assert.Equal(t, "3", visits[1].ID)
}

func TestMergeVisits_FirstSeenWins(t *testing.T) {
	today := []schedule.Visit{{ID: "1", ServerStatus: schedule.ServerInProgress}, {ID: "2"}}
	upcoming := []schedule.Visit{{ID: "2", ServerStatus: schedule.ServerScheduled}, {ID: "3"}}
	completed := []schedule.Visit{{ID: "1", ServerStatus: schedule.ServerCompleted}}

	merged := mergeVisits(today, upcoming, nil, completed)

	require.Len(t, merged, 3)
	assert.Equal(t, schedule.ServerInProgress, merged[0].ServerStatus)
	assert.Equal(t, []string{"1", "2", "3"}, []string{merged[0].ID, merged[1].ID, merged[2].ID})
}
