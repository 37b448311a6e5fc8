package models

import (
	"time"

	"github.com/fleetpulse/fleetpulse/internal/health"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
)

// Uptime is the API representation of one component's uptime report.
type Uptime struct {
	Component          string   `json:"component"`
	PeriodStart        string   `json:"period_start"`
	PeriodEnd          string   `json:"period_end"`
	UptimePercentage   float64  `json:"uptime_percentage"`
	HealthyPercentage  float64  `json:"healthy_percentage"`
	DegradedPercentage float64  `json:"degraded_percentage"`
	TotalSeconds       int64    `json:"total_seconds"`
	HealthySeconds     int64    `json:"healthy_seconds"`
	DegradedSeconds    int64    `json:"degraded_seconds"`
	UnhealthySeconds   int64    `json:"unhealthy_seconds"`
	UnreachableSeconds int64    `json:"unreachable_seconds"`
	IncidentCount      int      `json:"incident_count"`
	MTTRSeconds        *int64   `json:"mttr_seconds,omitempty"`
}

// NewUptime converts engine uptime metrics into the API shape.
func NewUptime(m *metrics.UptimeMetrics) Uptime {
	return Uptime{
		Component:          m.Component,
		PeriodStart:        m.PeriodStart.UTC().Format(time.RFC3339),
		PeriodEnd:          m.PeriodEnd.UTC().Format(time.RFC3339),
		UptimePercentage:   m.UptimePercentage(),
		HealthyPercentage:  m.HealthyPercentage(),
		DegradedPercentage: m.DegradedPercentage(),
		TotalSeconds:       m.TotalSeconds,
		HealthySeconds:     m.HealthySeconds,
		DegradedSeconds:    m.DegradedSeconds,
		UnhealthySeconds:   m.UnhealthySeconds,
		UnreachableSeconds: m.UnreachableSeconds,
		IncidentCount:      m.IncidentCount,
		MTTRSeconds:        m.MTTRSeconds,
	}
}

// UptimeList wraps per-component uptime reports.
type UptimeList struct {
	PeriodDays int      `json:"period_days"`
	Components []Uptime `json:"components"`
}

// Incident is the API representation of one incident row.
type Incident struct {
	ID              int64         `json:"id"`
	Timestamp       string        `json:"timestamp"`
	EntityType      string        `json:"entity_type"`
	EntityName      string        `json:"entity_name"`
	FromStatus      health.Status `json:"from_status"`
	ToStatus        health.Status `json:"to_status"`
	ErrorMessage    string        `json:"error_message,omitempty"`
	DurationSeconds *int64        `json:"duration_seconds,omitempty"`
	ResolvedAt      *string       `json:"resolved_at,omitempty"`
	Resolved        bool          `json:"resolved"`
}

// NewIncident converts an engine incident into the API shape.
func NewIncident(inc metrics.Incident) Incident {
	out := Incident{
		ID:              inc.ID,
		Timestamp:       inc.Timestamp.UTC().Format(time.RFC3339),
		EntityType:      inc.EntityType,
		EntityName:      inc.EntityName,
		FromStatus:      inc.FromStatus,
		ToStatus:        inc.ToStatus,
		ErrorMessage:    inc.ErrorMessage,
		DurationSeconds: inc.DurationSeconds,
		Resolved:        inc.Resolved(),
	}
	if inc.ResolvedAt != nil {
		s := inc.ResolvedAt.UTC().Format(time.RFC3339)
		out.ResolvedAt = &s
	}
	return out
}

// IncidentList wraps incident history.
type IncidentList struct {
	Incidents []Incident `json:"incidents"`
	Count     int        `json:"count"`
}

// History wraps a downsampled ecosystem timeline.
type History struct {
	Hours      int                    `json:"hours"`
	Resolution string                 `json:"resolution"`
	Points     []metrics.HistoryPoint `json:"points"`
}
