package handler

import (
	"net/http"
	"strconv"

	"github.com/careviah/caregiver/internal/api/models"
	"github.com/careviah/caregiver/internal/api/response"
	"github.com/careviah/caregiver/internal/schedule"
	"github.com/careviah/caregiver/internal/worker"
)

// ScheduleHandler serves the categorized day view.
type ScheduleHandler struct {
	store  *schedule.Store
	poller *worker.Poller
}

// NewScheduleHandler creates a new ScheduleHandler.
func NewScheduleHandler(store *schedule.Store, poller *worker.Poller) *ScheduleHandler {
	return &ScheduleHandler{store: store, poller: poller}
}

// Today handles GET /v1/schedule/today - active, upcoming, missed and
// completed visits for the caregiver's local day, with counters.
func (h *ScheduleHandler) Today(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, models.FromDay(h.store.Today()))
}

// Refresh handles POST /v1/schedule/refresh. By default it asks the poller
// for an immediate poll and returns 202. With ?wait=true it polls inline
// and returns the refreshed day.
func (h *ScheduleHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	wait := false
	if v := r.URL.Query().Get("wait"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			response.BadRequest(w, r, "wait must be a boolean", []models.FieldError{
				{Field: "wait", Message: "must be true or false", Code: "INVALID"},
			})
			return
		}
		wait = parsed
	}

	if !wait {
		h.poller.Trigger()
		response.Accepted(w, r, nil)
		return
	}

	result := h.poller.Poll(r.Context())
	if result.Err != nil {
		response.BadGateway(w, r, "schedule refresh failed: "+result.Err.Error())
		return
	}

	response.JSON(w, r, http.StatusOK, models.RefreshResponse{
		Applied: result.Applied,
		Day:     models.FromDay(h.store.Today()),
	})
}
