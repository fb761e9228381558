package careapi

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/careviah/caregiver/internal/geolocation"
	"github.com/careviah/caregiver/internal/schedule"
)

// Remote task statuses as stored by the backend.
const (
	remoteTaskCompleted    = "completed"
	remoteTaskNotCompleted = "not_completed"
)

// visitRecord is a schedule as the backend sends it.
type visitRecord struct {
	ID         flexString   `json:"id"`
	UserID     flexString   `json:"user_id"`
	ClientName string       `json:"client_name"`
	Location   string       `json:"location"`
	ShiftTime  string       `json:"shift_time"`
	Status     string       `json:"status"`
	StartTime  *string      `json:"start_time,omitempty"`
	EndTime    *string      `json:"end_time,omitempty"`
	StartLat   *float64     `json:"start_lat,omitempty"`
	StartLon   *float64     `json:"start_lon,omitempty"`
	Tasks      []taskRecord `json:"tasks"`
}

type taskRecord struct {
	ID          flexString `json:"id"`
	Description string     `json:"description"`
	Status      string     `json:"status"`
	Reason      *string    `json:"reason,omitempty"`
}

// flexString accepts both JSON strings and numbers; the backend is not
// consistent about id types.
type flexString string

func (f *flexString) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*f = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*f = flexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("id must be a string or number: %w", err)
	}
	*f = flexString(n.String())
	return nil
}

// messageResponse is the body of a successful mutation.
type messageResponse struct {
	Message string `json:"message"`
}

// errorResponse is the body of a failed request.
type errorResponse struct {
	Error   string `json:"error"`
	Message string `json:"message"`
}

type locationRequest struct {
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

type statusRequest struct {
	Status string `json:"status"`
}

// decodeList normalizes every list shape the backend uses into one slice:
// {"message":{"schedules":[...]}}, {"schedules":[...]}, a bare array, or
// null. Anything else is an error.
func decodeList(body []byte) ([]visitRecord, error) {
	body = bytes.TrimSpace(body)
	if len(body) == 0 || bytes.Equal(body, []byte("null")) {
		return nil, nil
	}

	if body[0] == '[' {
		var records []visitRecord
		if err := json.Unmarshal(body, &records); err != nil {
			return nil, fmt.Errorf("decoding schedule list: %w", err)
		}
		return records, nil
	}

	var envelope struct {
		Message   json.RawMessage `json:"message"`
		Schedules json.RawMessage `json:"schedules"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("decoding schedule list: %w", err)
	}

	if envelope.Schedules != nil {
		return decodeArray(envelope.Schedules)
	}

	msg := bytes.TrimSpace(envelope.Message)
	switch {
	case len(msg) > 0 && msg[0] == '{':
		var nested struct {
			Schedules json.RawMessage `json:"schedules"`
		}
		if err := json.Unmarshal(msg, &nested); err != nil {
			return nil, fmt.Errorf("decoding schedule list: %w", err)
		}
		if nested.Schedules == nil {
			return nil, fmt.Errorf("%w: message object without schedules", ErrUnknownShape)
		}
		return decodeArray(nested.Schedules)
	case len(msg) > 0 && msg[0] == '"':
		// {"message":"No schedules found"}
		return nil, nil
	default:
		return nil, fmt.Errorf("%w: object without schedules or message", ErrUnknownShape)
	}
}

func decodeArray(raw json.RawMessage) ([]visitRecord, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, nil
	}
	var records []visitRecord
	if err := json.Unmarshal(raw, &records); err != nil {
		return nil, fmt.Errorf("decoding schedules: %w", err)
	}
	return records, nil
}

// timeLayouts are tried in order. Layouts without an offset are read in the
// caregiver's location.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02T15:04",
	"2006-01-02 15:04",
}

func parseTime(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, fmt.Errorf("empty timestamp")
	}
	for _, layout := range timeLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	if secs, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(secs, 0), nil
	}
	return time.Time{}, fmt.Errorf("unrecognized timestamp %q", s)
}

// toVisit converts a record into a Visit. Records that cannot be
// interpreted are rejected with an error.
func toVisit(r visitRecord, loc *time.Location, logger zerolog.Logger) (schedule.Visit, error) {
	if r.ID == "" {
		return schedule.Visit{}, fmt.Errorf("schedule without id")
	}

	status := schedule.ServerStatus(strings.ToLower(strings.TrimSpace(r.Status)))
	if !status.Valid() {
		return schedule.Visit{}, fmt.Errorf("schedule %s: unknown status %q", r.ID, r.Status)
	}

	scheduledAt, err := parseTime(r.ShiftTime, loc)
	if err != nil {
		return schedule.Visit{}, fmt.Errorf("schedule %s: shift_time: %w", r.ID, err)
	}

	v := schedule.Visit{
		ID:           string(r.ID),
		UserID:       string(r.UserID),
		ClientName:   r.ClientName,
		Location:     r.Location,
		ScheduledAt:  scheduledAt,
		ServerStatus: status,
		Tasks:        make([]schedule.Task, 0, len(r.Tasks)),
	}

	if r.StartTime != nil && *r.StartTime != "" {
		if t, err := parseTime(*r.StartTime, loc); err == nil {
			v.StartedAt = &t
		} else {
			logger.Debug().Err(err).Str("visit_id", v.ID).Msg("ignoring start_time")
		}
	}
	if r.EndTime != nil && *r.EndTime != "" {
		if t, err := parseTime(*r.EndTime, loc); err == nil {
			v.EndedAt = &t
		} else {
			logger.Debug().Err(err).Str("visit_id", v.ID).Msg("ignoring end_time")
		}
	}

	if r.StartLat != nil && r.StartLon != nil {
		p := geolocation.Position{Latitude: *r.StartLat, Longitude: *r.StartLon}
		if p.Validate() == nil && !p.IsSentinel() {
			v.StartPosition = &p
		}
	}

	for _, t := range r.Tasks {
		v.Tasks = append(v.Tasks, toTask(t))
	}

	return v, nil
}

// toTask maps the backend's two-valued task status onto the tri-state
// completion. A not_completed task without a reason has not been addressed.
func toTask(t taskRecord) schedule.Task {
	task := schedule.Task{
		ID:          string(t.ID),
		Description: t.Description,
		State:       schedule.CompletionUnset,
	}
	reason := ""
	if t.Reason != nil {
		reason = strings.TrimSpace(*t.Reason)
	}
	switch strings.ToLower(t.Status) {
	case remoteTaskCompleted:
		task.State = schedule.CompletionDone
	case remoteTaskNotCompleted:
		if reason != "" {
			task.State = schedule.CompletionNotDone
			task.Reason = reason
		}
	}
	return task
}

// toVisits converts records, skipping and logging the ones that are invalid.
func toVisits(records []visitRecord, loc *time.Location, logger zerolog.Logger) []schedule.Visit {
	visits := make([]schedule.Visit, 0, len(records))
	for _, r := range records {
		v, err := toVisit(r, loc, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("skipping malformed schedule record")
			continue
		}
		visits = append(visits, v)
	}
	return visits
}

// mergeVisits concatenates lists in order, keeping the first copy of each id.
func mergeVisits(lists ...[]schedule.Visit) []schedule.Visit {
	seen := make(map[string]struct{})
	var out []schedule.Visit
	for _, list := range lists {
		for _, v := range list {
			if _, ok := seen[v.ID]; ok {
				continue
			}
			seen[v.ID] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}
