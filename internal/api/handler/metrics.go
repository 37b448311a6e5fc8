package handler

import (
	"context"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/fleetpulse/fleetpulse/internal/api/models"
	"github.com/fleetpulse/fleetpulse/internal/api/response"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
)

const (
	defaultUptimeDays    = 7
	maxUptimeDays        = 365
	defaultIncidentDays  = 7
	defaultIncidentLimit = 50
	maxIncidentLimit     = 500
	defaultHistoryHours  = 24
	maxHistoryHours      = 24 * 30
)

// MetricsSource is the slice of the metrics engine the API consumes.
type MetricsSource interface {
	Uptime(ctx context.Context, component string, period time.Duration) (*metrics.UptimeMetrics, error)
	Incidents(ctx context.Context, filter metrics.IncidentFilter) ([]metrics.Incident, error)
	History(ctx context.Context, period, resolution time.Duration) ([]metrics.HistoryPoint, error)
	Stats(ctx context.Context) (*metrics.StoreStats, error)
}

// MetricsHandler serves the historical metrics endpoints. A nil source
// means metrics are disabled; every endpoint then answers 503.
type MetricsHandler struct {
	source     MetricsSource
	components []string
}

// NewMetricsHandler creates a MetricsHandler. components lists the
// monitored component keys, used for the all-components uptime view.
func NewMetricsHandler(source MetricsSource, components []string) *MetricsHandler {
	return &MetricsHandler{source: source, components: components}
}

func (h *MetricsHandler) available(w http.ResponseWriter, r *http.Request) bool {
	if h.source == nil {
		response.ServiceUnavailable(w, r, "metrics collection is disabled")
		return false
	}
	return true
}

// Uptime handles GET /v1/metrics/uptime. Without a component query
// parameter it reports every monitored component.
func (h *MetricsHandler) Uptime(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	days, ok := queryInt(w, r, "days", defaultUptimeDays, 1, maxUptimeDays)
	if !ok {
		return
	}

	if component := r.URL.Query().Get("component"); component != "" {
		h.writeComponentUptime(w, r, component, days)
		return
	}

	period := time.Duration(days) * 24 * time.Hour
	list := models.UptimeList{PeriodDays: days, Components: make([]models.Uptime, 0, len(h.components))}
	for _, component := range h.components {
		uptime, err := h.source.Uptime(r.Context(), component, period)
		if err != nil {
			response.InternalError(w, r, "failed to compute uptime")
			return
		}
		list.Components = append(list.Components, models.NewUptime(uptime))
	}
	response.JSON(w, r, http.StatusOK, list)
}

// ComponentUptime handles GET /v1/metrics/uptime/{component}.
func (h *MetricsHandler) ComponentUptime(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	days, ok := queryInt(w, r, "days", defaultUptimeDays, 1, maxUptimeDays)
	if !ok {
		return
	}
	h.writeComponentUptime(w, r, chi.URLParam(r, "component"), days)
}

func (h *MetricsHandler) writeComponentUptime(w http.ResponseWriter, r *http.Request, component string, days int) {
	if !h.knownComponent(component) {
		response.NotFound(w, r, "unknown component: "+component)
		return
	}

	uptime, err := h.source.Uptime(r.Context(), component, time.Duration(days)*24*time.Hour)
	if err != nil {
		response.InternalError(w, r, "failed to compute uptime")
		return
	}
	response.JSON(w, r, http.StatusOK, models.NewUptime(uptime))
}

func (h *MetricsHandler) knownComponent(component string) bool {
	for _, c := range h.components {
		if c == component {
			return true
		}
	}
	return false
}

// Incidents handles GET /v1/metrics/incidents.
func (h *MetricsHandler) Incidents(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	days, ok := queryInt(w, r, "days", defaultIncidentDays, 1, maxUptimeDays)
	if !ok {
		return
	}
	limit, ok := queryInt(w, r, "limit", defaultIncidentLimit, 1, maxIncidentLimit)
	if !ok {
		return
	}

	start := time.Now().UTC().Add(-time.Duration(days) * 24 * time.Hour)
	filter := metrics.IncidentFilter{
		EntityName: r.URL.Query().Get("component"),
		Start:      &start,
		Limit:      limit,
	}

	incidents, err := h.source.Incidents(r.Context(), filter)
	if err != nil {
		response.InternalError(w, r, "failed to load incidents")
		return
	}

	list := models.IncidentList{Incidents: make([]models.Incident, 0, len(incidents)), Count: len(incidents)}
	for _, inc := range incidents {
		list.Incidents = append(list.Incidents, models.NewIncident(inc))
	}
	response.JSON(w, r, http.StatusOK, list)
}

// History handles GET /v1/metrics/history.
func (h *MetricsHandler) History(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	hours, ok := queryInt(w, r, "hours", defaultHistoryHours, 1, maxHistoryHours)
	if !ok {
		return
	}

	resolution := r.URL.Query().Get("resolution")
	if resolution == "" {
		resolution = "5m"
	}

	points, err := h.source.History(r.Context(),
		time.Duration(hours)*time.Hour, metrics.ParseResolution(resolution))
	if err != nil {
		response.InternalError(w, r, "failed to load history")
		return
	}

	response.JSON(w, r, http.StatusOK, models.History{
		Hours:      hours,
		Resolution: resolution,
		Points:     points,
	})
}

// Stats handles GET /v1/metrics/stats.
func (h *MetricsHandler) Stats(w http.ResponseWriter, r *http.Request) {
	if !h.available(w, r) {
		return
	}

	stats, err := h.source.Stats(r.Context())
	if err != nil {
		response.InternalError(w, r, "failed to load store stats")
		return
	}
	response.JSON(w, r, http.StatusOK, stats)
}

// queryInt parses an optional positive integer query parameter, writing a
// 400 problem and returning ok=false when it is malformed or out of range.
func queryInt(w http.ResponseWriter, r *http.Request, name string, def, min, max int) (int, bool) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return def, true
	}
	value, err := strconv.Atoi(raw)
	if err != nil || value < min || value > max {
		response.BadRequest(w, r, "invalid query parameter", []models.FieldError{
			{Field: name, Message: "must be an integer between " + strconv.Itoa(min) + " and " + strconv.Itoa(max)},
		})
		return 0, false
	}
	return value, true
}
