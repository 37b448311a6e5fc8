package handler

import (
	"net/http"
	"time"

	"github.com/fleetpulse/fleetpulse/internal/api/response"
)

// ReadinessCheck reports whether the service can serve traffic.
type ReadinessCheck func() error

// OpsHandler handles operational endpoints.
type OpsHandler struct {
	version   string
	buildTime string
	ready     ReadinessCheck
}

// NewOpsHandler creates an OpsHandler. ready may be nil when there is no
// dependency to verify.
func NewOpsHandler(version, buildTime string, ready ReadinessCheck) *OpsHandler {
	return &OpsHandler{version: version, buildTime: buildTime, ready: ready}
}

type opsStatus struct {
	Status  string                 `json:"status"`
	Time    string                 `json:"time"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// HealthCheck handles GET /v1/ops/health - liveness check.
func (h *OpsHandler) HealthCheck(w http.ResponseWriter, r *http.Request) {
	response.JSON(w, r, http.StatusOK, opsStatus{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
		Details: map[string]interface{}{
			"version":   h.version,
			"buildTime": h.buildTime,
		},
	})
}

// ReadinessCheck handles GET /v1/ops/ready - readiness check.
func (h *OpsHandler) ReadinessCheck(w http.ResponseWriter, r *http.Request) {
	if h.ready != nil {
		if err := h.ready(); err != nil {
			response.JSON(w, r, http.StatusServiceUnavailable, opsStatus{
				Status: "not_ready",
				Time:   time.Now().UTC().Format(time.RFC3339),
				Details: map[string]interface{}{
					"error": err.Error(),
				},
			})
			return
		}
	}
	response.JSON(w, r, http.StatusOK, opsStatus{
		Status: "ok",
		Time:   time.Now().UTC().Format(time.RFC3339),
	})
}
