// Package metrics persists the historical health time series: per-cycle
// snapshots, an incident ledger, and pre-computed daily aggregates used
// for uptime and MTTR reporting.
package metrics

import (
	"encoding/json"
	"time"

	"github.com/fleetpulse/fleetpulse/internal/health"
)

// Snapshot is one persisted point-in-time ecosystem health record, written
// once per poll cycle.
type Snapshot struct {
	ID              int64
	Timestamp       time.Time
	EcosystemStatus health.Status
	CheckDurationMS float64
	ComponentsJSON  string
	ConnectionsJSON string
	CreatedAt       time.Time
}

// Components parses the stored component map.
func (s *Snapshot) Components() map[string]health.ComponentHealth {
	if s.ComponentsJSON == "" {
		return nil
	}
	var components map[string]health.ComponentHealth
	if err := json.Unmarshal([]byte(s.ComponentsJSON), &components); err != nil {
		return nil
	}
	return components
}

// Connections parses the stored connection map.
func (s *Snapshot) Connections() map[string]health.ConnectionHealth {
	if s.ConnectionsJSON == "" {
		return nil
	}
	var connections map[string]health.ConnectionHealth
	if err := json.Unmarshal([]byte(s.ConnectionsJSON), &connections); err != nil {
		return nil
	}
	return connections
}

// Incident is one persisted continuous non-healthy period for an entity.
// Recorded for every non-healthy transition regardless of alerting
// configuration; open (ResolvedAt nil) until the entity returns to healthy.
type Incident struct {
	ID              int64
	Timestamp       time.Time
	EntityType      string
	EntityName      string
	FromStatus      health.Status
	ToStatus        health.Status
	ErrorMessage    string
	DurationSeconds *int64
	ResolvedAt      *time.Time
	CreatedAt       time.Time
}

// Resolved reports whether the incident has been closed.
func (i *Incident) Resolved() bool {
	return i.ResolvedAt != nil
}

// DailyAggregate is a pre-computed per-day, per-component summary of
// seconds spent in each status. Unique on (Date, Component).
type DailyAggregate struct {
	ID                 int64
	Date               string // YYYY-MM-DD
	Component          string
	HealthySeconds     int64
	DegradedSeconds    int64
	UnhealthySeconds   int64
	UnreachableSeconds int64
	IncidentCount      int
	CreatedAt          time.Time
}

// TotalSeconds is the number of seconds tracked for the day.
func (a *DailyAggregate) TotalSeconds() int64 {
	return a.HealthySeconds + a.DegradedSeconds + a.UnhealthySeconds + a.UnreachableSeconds
}

// UptimeMetrics is a computed uptime report for one component over a
// period. Degraded time counts as "up" for the headline percentage but is
// reported separately as well.
type UptimeMetrics struct {
	Component          string
	PeriodStart        time.Time
	PeriodEnd          time.Time
	TotalSeconds       int64
	HealthySeconds     int64
	DegradedSeconds    int64
	UnhealthySeconds   int64
	UnreachableSeconds int64
	IncidentCount      int
	MTTRSeconds        *int64
}

// UptimePercentage is (healthy+degraded)/total. A period with nothing
// tracked reports 100.0 rather than dividing by zero.
func (m *UptimeMetrics) UptimePercentage() float64 {
	if m.TotalSeconds == 0 {
		return 100.0
	}
	return float64(m.HealthySeconds+m.DegradedSeconds) / float64(m.TotalSeconds) * 100.0
}

// HealthyPercentage is the share of time spent fully healthy.
func (m *UptimeMetrics) HealthyPercentage() float64 {
	if m.TotalSeconds == 0 {
		return 100.0
	}
	return float64(m.HealthySeconds) / float64(m.TotalSeconds) * 100.0
}

// DegradedPercentage is the share of time spent degraded.
func (m *UptimeMetrics) DegradedPercentage() float64 {
	if m.TotalSeconds == 0 {
		return 0.0
	}
	return float64(m.DegradedSeconds) / float64(m.TotalSeconds) * 100.0
}

// HistoryPoint is one downsampled history bucket: the LAST snapshot whose
// timestamp floors into the bucket, not an average.
type HistoryPoint struct {
	Timestamp       time.Time                `json:"timestamp"`
	EcosystemStatus health.Status            `json:"ecosystem_status"`
	Components      map[string]health.Status `json:"components"`
}

// StoreStats summarizes the state of the metrics store for the stats
// endpoint.
type StoreStats struct {
	TotalSnapshots     int `json:"total_snapshots"`
	SnapshotsLast24h   int `json:"snapshots_last_24h"`
	RetentionSnapshots int `json:"retention_snapshots_days"`
	RetentionIncidents int `json:"retention_incidents_days"`
	RetentionDaily     int `json:"retention_aggregates_days"`
}
