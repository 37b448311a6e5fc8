package metrics

import (
	"context"
	"time"
)

// SchemaVersion is the current persisted schema revision.
const SchemaVersion = 1

// IncidentFilter narrows incident queries. Zero values mean "no filter";
// Limit defaults to 100.
type IncidentFilter struct {
	EntityName string
	EntityType string
	Start      *time.Time
	End        *time.Time
	Limit      int
}

// Store is the persistence contract for the metrics subsystem. All
// timestamps are stored as UTC ISO-8601 text for portability across
// backends; all queries are parameterized; pruning is strictly
// oldest-first by timestamp.
type Store interface {
	// Initialize creates the schema if needed and records the schema
	// version.
	Initialize(ctx context.Context) error

	// StoreSnapshot inserts one snapshot and returns its id. Insert-only;
	// snapshots are never updated.
	StoreSnapshot(ctx context.Context, snapshot *Snapshot) (int64, error)

	// LatestSnapshot returns the most recent snapshot, or nil when none
	// exist.
	LatestSnapshot(ctx context.Context) (*Snapshot, error)

	// Snapshots returns snapshots in [start, end], newest first, capped
	// at limit.
	Snapshots(ctx context.Context, start, end time.Time, limit int) ([]Snapshot, error)

	// SnapshotCount counts snapshots, optionally only those at or after
	// since.
	SnapshotCount(ctx context.Context, since *time.Time) (int, error)

	// RecordIncident inserts one incident row and returns its id.
	RecordIncident(ctx context.Context, incident *Incident) (int64, error)

	// ResolveIncident closes the most recent open incident for an entity,
	// setting resolved_at and duration_seconds. Returns the number of
	// rows updated (0 or 1).
	ResolveIncident(ctx context.Context, entityType, entityName string, resolvedAt time.Time, durationSeconds int64) (int64, error)

	// Incidents returns incident history matching the filter, newest
	// first.
	Incidents(ctx context.Context, filter IncidentFilter) ([]Incident, error)

	// OpenIncidents returns all incidents with no resolved_at, newest
	// first.
	OpenIncidents(ctx context.Context) ([]Incident, error)

	// UpsertDailyAggregate inserts or replaces the aggregate for
	// (date, component).
	UpsertDailyAggregate(ctx context.Context, aggregate *DailyAggregate) error

	// DailyAggregates returns aggregates, optionally filtered by
	// component and date range (dates in YYYY-MM-DD form, inclusive).
	DailyAggregates(ctx context.Context, component, startDate, endDate string) ([]DailyAggregate, error)

	// CleanupOldData deletes rows strictly older than each table's
	// retention window (in days) and reports deleted counts per table.
	CleanupOldData(ctx context.Context, snapshotsDays, incidentsDays, aggregatesDays int) (map[string]int64, error)

	// Close releases the underlying database handle.
	Close() error
}

// timeLayout is the ISO-8601 layout used for all persisted timestamps.
const timeLayout = "2006-01-02T15:04:05Z"

func formatTime(t time.Time) string {
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	for _, layout := range []string{timeLayout, time.RFC3339, "2006-01-02 15:04:05"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
