// Package handler provides HTTP handlers for the caregiver agent's local API.
package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/careviah/caregiver/internal/api/models"
	"github.com/careviah/caregiver/internal/api/response"
	"github.com/careviah/caregiver/internal/resilience"
	"github.com/careviah/caregiver/internal/schedule"
	"github.com/careviah/caregiver/internal/worker"
)

// pingTimeout bounds the remote health check behind readiness.
const pingTimeout = 3 * time.Second

// Pinger checks that the remote schedule API is reachable.
type Pinger interface {
	Ping(ctx context.Context) error
}

// OpsConfig holds the dependencies of the ops endpoints. Nil fields are
// skipped.
type OpsConfig struct {
	Version   string
	BuildTime string
	Poller    *worker.Poller
	Store     *schedule.Store
	Upstream  Pinger
	Registry  *resilience.Registry
}

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	cfg OpsConfig
}

// NewOpsHandler creates a new OpsHandler.
func NewOpsHandler(cfg OpsConfig) *OpsHandler {
	return &OpsHandler{cfg: cfg}
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	health := models.Health{
		Status: models.HealthStatusOK,
		Time:   models.Timestamp(time.Now()),
		Details: map[string]interface{}{
			"version":   h.cfg.Version,
			"buildTime": h.cfg.BuildTime,
		},
	}
	response.JSON(w, r, http.StatusOK, health)
}

// ReadinessCheck handles GET /v1/ops/ready. The agent is ready once a poll
// has succeeded and the remote API answers its health ping.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	details := map[string]interface{}{}
	ready := true

	if h.cfg.Poller != nil {
		polled := h.cfg.Poller.Ready()
		details["schedulePolled"] = polled
		ready = ready && polled
	}

	if h.cfg.Upstream != nil {
		ctx, cancel := context.WithTimeout(r.Context(), pingTimeout)
		err := h.cfg.Upstream.Ping(ctx)
		cancel()
		if err != nil {
			details["upstream"] = err.Error()
			ready = false
		} else {
			details["upstream"] = "ok"
		}
	}

	health := models.Health{
		Status:  models.HealthStatusOK,
		Time:    models.Timestamp(time.Now()),
		Details: details,
	}
	status := http.StatusOK
	if !ready {
		health.Status = models.HealthStatusFail
		status = http.StatusServiceUnavailable
	}
	response.JSON(w, r, status, health)
}

// SystemStatus handles GET /v1/ops/status - upstream circuits, poller
// metrics and schedule store state.
func (h *OpsHandler) SystemStatus(w http.ResponseWriter, r *http.Request) {
	status := models.SystemStatus{
		Status:    models.HealthStatusOK,
		Time:      models.Timestamp(time.Now()),
		Upstreams: []models.UpstreamStatus{},
	}

	if h.cfg.Registry != nil {
		for _, u := range h.cfg.Registry.AllHealth() {
			us := models.UpstreamStatus{
				Name:          u.Name,
				Status:        healthStatus(u.Status()),
				CircuitState:  u.CircuitState.String(),
				LastSuccessAt: models.NewTimestamp(u.LastSuccessAt),
				LastFailureAt: models.NewTimestamp(u.LastFailureAt),
			}
			if u.LastError != "" {
				msg := u.LastError
				us.Message = &msg
			}
			status.Status = worst(status.Status, us.Status)
			status.Upstreams = append(status.Upstreams, us)
		}
	}

	if h.cfg.Poller != nil {
		status.Poller = h.cfg.Poller.MetricsSnapshot()
		if !h.cfg.Poller.Ready() {
			status.Status = worst(status.Status, models.HealthStatusDegraded)
		}
	}

	if h.cfg.Store != nil {
		refreshed := h.cfg.Store.RefreshedAt()
		status.Schedule = models.ScheduleStatus{
			Visits:      h.cfg.Store.Len(),
			RefreshedAt: models.NewTimestamp(&refreshed),
		}
		status.Anomalies = models.FromAnomalies(h.cfg.Store.Anomalies())
	}

	response.JSON(w, r, http.StatusOK, status)
}

func healthStatus(s string) models.HealthStatus {
	switch s {
	case resilience.HealthUnhealthy:
		return models.HealthStatusFail
	case resilience.HealthDegraded:
		return models.HealthStatusDegraded
	default:
		return models.HealthStatusOK
	}
}

func worst(a, b models.HealthStatus) models.HealthStatus {
	rank := map[models.HealthStatus]int{
		models.HealthStatusOK:       0,
		models.HealthStatusDegraded: 1,
		models.HealthStatusFail:     2,
	}
	if rank[b] > rank[a] {
		return b
	}
	return a
}
