// Package handler provides HTTP handlers for the FleetPulse API.
package handler

import (
	"context"
	"net/http"

	"github.com/fleetpulse/fleetpulse/internal/api/response"
	"github.com/fleetpulse/fleetpulse/internal/health"
)

// HealthSource serves the current ecosystem health, typically the most
// recent poll result.
type HealthSource interface {
	EcosystemHealth(ctx context.Context) health.EcosystemHealth
}

// HealthHandler serves the aggregated ecosystem health endpoint.
type HealthHandler struct {
	source HealthSource
}

// NewHealthHandler creates a HealthHandler.
func NewHealthHandler(source HealthSource) *HealthHandler {
	return &HealthHandler{source: source}
}

// Ecosystem handles GET /v1/health.
func (h *HealthHandler) Ecosystem(w http.ResponseWriter, r *http.Request) {
	eco := h.source.EcosystemHealth(r.Context())
	response.JSON(w, r, http.StatusOK, eco)
}
