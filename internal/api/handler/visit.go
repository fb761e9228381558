package handler

import (
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"github.com/careviah/caregiver/internal/api/models"
	"github.com/careviah/caregiver/internal/api/response"
	"github.com/careviah/caregiver/internal/schedule"
)

// VisitHandler handles visit detail, the clock-out task session, and
// clock-in/clock-out transitions.
type VisitHandler struct {
	store    *schedule.Store
	sessions *schedule.Sessions
	executor *schedule.Executor
	logger   zerolog.Logger
}

// NewVisitHandler creates a new VisitHandler.
func NewVisitHandler(store *schedule.Store, sessions *schedule.Sessions, executor *schedule.Executor, logger zerolog.Logger) *VisitHandler {
	return &VisitHandler{
		store:    store,
		sessions: sessions,
		executor: executor,
		logger:   logger,
	}
}

// GetVisit handles GET /v1/visits/{visitId} - the visit with both gate
// verdicts. While a clock-out session is open its task states are shown.
func (h *VisitHandler) GetVisit(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookup(w, r)
	if !ok {
		return
	}

	tasks := view.Tasks
	if h.sessions.Open(view.ID) {
		tasks = h.sessions.Tasks(view.Visit)
	}

	detail := models.VisitDetail{
		Visit:    models.FromView(view),
		ClockIn:  models.FromDenial(h.store.Phase().CanClockIn(view.Visit, h.store.Now())),
		ClockOut: models.FromDenial(schedule.CanClockOut(view.Visit, tasks)),
	}
	detail.Tasks = models.FromTasks(tasks)

	response.JSON(w, r, http.StatusOK, detail)
}

// ClockIn handles POST /v1/visits/{visitId}/clock-in.
func (h *VisitHandler) ClockIn(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookup(w, r)
	if !ok {
		return
	}

	if denial := h.store.Phase().CanClockIn(view.Visit, h.store.Now()); denial != nil {
		h.logger.Info().
			Str("visit_id", view.ID).
			Str("reason", string(denial.Reason)).
			Msg("clock-in denied")
		response.Denied(w, r, denial)
		return
	}

	result, err := h.executor.ClockIn(r.Context(), view.Visit)
	if err != nil {
		response.BadGateway(w, r, "Could not start the visit: "+err.Error())
		return
	}

	resp := models.ClockInResponse{
		Visit:            models.FromView(h.store.Phase().View(result.Visit, h.store.Now())),
		LocationDegraded: result.LocationDegraded,
	}
	if result.LocationDegraded {
		resp.Warnings = append(resp.Warnings, "Location unavailable. Clock-in recorded without a position.")
	}
	response.JSON(w, r, http.StatusOK, resp)
}

// UpdateTask handles PUT /v1/visits/{visitId}/tasks/{taskId} - records a
// task's completion in the clock-out session. Nothing is sent to the
// server until clock-out.
func (h *VisitHandler) UpdateTask(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookup(w, r)
	if !ok {
		return
	}
	taskID := chi.URLParam(r, "taskId")

	if view.ServerStatus != schedule.ServerInProgress {
		response.Conflict(w, r, "Tasks can only be updated while the visit is in progress.")
		return
	}

	var input models.TaskUpdateRequest
	if err := response.Decode(w, r, &input); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if input.Done == nil {
		response.BadRequest(w, r, "done is required", []models.FieldError{
			{Field: "done", Message: "is required", Code: "REQUIRED"},
		})
		return
	}

	tasks, err := h.sessions.Update(view.Visit, func(l *schedule.Ledger) error {
		if err := l.SetCompletion(taskID, *input.Done); err != nil {
			return err
		}
		if !*input.Done && input.Reason != nil {
			return l.SetReason(taskID, strings.TrimSpace(*input.Reason))
		}
		return nil
	})
	if errors.Is(err, schedule.ErrTaskNotFound) {
		response.NotFound(w, r, "task not found")
		return
	}
	if err != nil {
		response.InternalError(w, r, "could not update task")
		return
	}

	response.JSON(w, r, http.StatusOK, models.TaskSession{
		VisitID:            view.ID,
		Tasks:              models.FromTasks(tasks),
		FullyAddressed:     schedule.TasksAddressed(tasks),
		UnaddressedTaskIDs: schedule.UnaddressedTaskIDs(tasks),
	})
}

// ClockOut handles POST /v1/visits/{visitId}/clock-out. Once the gate
// passes the response is always 200: partial and total remote failures
// are reported through the outcome and warnings.
func (h *VisitHandler) ClockOut(w http.ResponseWriter, r *http.Request) {
	view, ok := h.lookup(w, r)
	if !ok {
		return
	}

	tasks := h.sessions.Tasks(view.Visit)
	if denial := schedule.CanClockOut(view.Visit, tasks); denial != nil {
		h.logger.Info().
			Str("visit_id", view.ID).
			Str("reason", string(denial.Reason)).
			Strs("task_ids", denial.TaskIDs).
			Msg("clock-out denied")
		response.Denied(w, r, denial)
		return
	}

	result := h.executor.ClockOut(r.Context(), view.Visit, tasks)

	// Keep the ledger when nothing reached the server so a retry has it.
	if result.Outcome != schedule.OutcomeFailed {
		h.sessions.Close(view.ID)
	}

	resp := models.ClockOutResponse{
		Outcome:                 string(result.Outcome),
		Warnings:                result.Warnings,
		LocationDegraded:        result.LocationDegraded,
		DistanceFromStartMeters: result.DistanceFromStart,
	}
	for _, f := range result.TaskFailures {
		resp.TaskFailures = append(resp.TaskFailures, models.TaskFailure{TaskID: f.TaskID, Error: f.Err.Error()})
	}
	if result.Visit != nil {
		v := models.FromView(h.store.Phase().View(*result.Visit, h.store.Now()))
		resp.Visit = &v
	}
	response.JSON(w, r, http.StatusOK, resp)
}

// lookup resolves {visitId} against the store, writing a 404 if absent.
func (h *VisitHandler) lookup(w http.ResponseWriter, r *http.Request) (schedule.View, bool) {
	visitID := chi.URLParam(r, "visitId")
	view, ok := h.store.View(visitID)
	if !ok {
		response.NotFound(w, r, "visit not found")
		return schedule.View{}, false
	}
	return view, true
}
