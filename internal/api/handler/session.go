package handler

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/careviah/caregiver/internal/api/models"
	"github.com/careviah/caregiver/internal/api/response"
	"github.com/careviah/caregiver/internal/geolocation"
	"github.com/careviah/caregiver/internal/worker"
)

// SessionHandler receives device state from the presentation layer:
// foreground/background changes and position fixes.
type SessionHandler struct {
	poller   *worker.Poller
	reported *geolocation.Reported
	logger   zerolog.Logger
}

// NewSessionHandler creates a new SessionHandler. reported may be nil when
// positions come from another provider.
func NewSessionHandler(poller *worker.Poller, reported *geolocation.Reported, logger zerolog.Logger) *SessionHandler {
	return &SessionHandler{poller: poller, reported: reported, logger: logger}
}

// Visibility handles POST /v1/session/visibility. Polling pauses while the
// presentation layer is hidden and resumes with an immediate refresh.
func (h *SessionHandler) Visibility(w http.ResponseWriter, r *http.Request) {
	var input models.VisibilityRequest
	if err := response.Decode(w, r, &input); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}
	if input.Visible == nil {
		response.BadRequest(w, r, "visible is required", []models.FieldError{
			{Field: "visible", Message: "is required", Code: "REQUIRED"},
		})
		return
	}

	if *input.Visible {
		h.poller.Resume()
	} else {
		h.poller.Pause()
	}

	response.JSON(w, r, http.StatusOK, models.VisibilityResponse{Polling: !h.poller.Paused()})
}

// ReportLocation handles POST /v1/location - the device's latest fix.
func (h *SessionHandler) ReportLocation(w http.ResponseWriter, r *http.Request) {
	if h.reported == nil {
		response.Conflict(w, r, "location reporting is not enabled")
		return
	}

	var input models.LocationRequest
	if err := response.Decode(w, r, &input); err != nil {
		response.BadRequest(w, r, err.Error(), nil)
		return
	}

	var fieldErrors []models.FieldError
	if input.Latitude == nil {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "latitude", Message: "is required", Code: "REQUIRED"})
	}
	if input.Longitude == nil {
		fieldErrors = append(fieldErrors, models.FieldError{Field: "longitude", Message: "is required", Code: "REQUIRED"})
	}
	if len(fieldErrors) > 0 {
		response.BadRequest(w, r, "latitude and longitude are required", fieldErrors)
		return
	}

	pos := geolocation.Position{Latitude: *input.Latitude, Longitude: *input.Longitude}
	if err := h.reported.Report(pos); err != nil {
		if errors.Is(err, geolocation.ErrInvalidCoordinates) {
			response.BadRequest(w, r, err.Error(), nil)
			return
		}
		response.InternalError(w, r, "could not record location")
		return
	}

	h.logger.Debug().Msg("device location reported")
	response.JSON(w, r, http.StatusOK, models.Position{Latitude: pos.Latitude, Longitude: pos.Longitude})
}
