package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"github.com/rs/zerolog"

	"github.com/fleetpulse/fleetpulse/internal/health"
)

// Compile-time interface check.
var _ Store = (*SQLiteStore)(nil)

// SQLiteStore implements Store backed by an embedded SQLite database.
// SQLite is a single-writer engine, so the connection pool is capped at
// one open connection; WAL mode keeps concurrent reads cheap.
type SQLiteStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewSQLiteStore opens (or creates) the database file at dbPath.
func NewSQLiteStore(dbPath string, logger zerolog.Logger) (*SQLiteStore, error) {
	if dir := filepath.Dir(dbPath); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating database directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("opening sqlite db: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging sqlite db: %w", err)
	}

	return &SQLiteStore{
		db:     db,
		logger: logger.With().Str("component", "metrics_store").Logger(),
	}, nil
}

const schemaSQL = `
CREATE TABLE IF NOT EXISTS health_snapshots (
	id INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL,
	ecosystem_status TEXT NOT NULL,
	check_duration_ms REAL,
	components_json TEXT NOT NULL,
	connections_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON health_snapshots(timestamp);
CREATE INDEX IF NOT EXISTS idx_snapshots_status ON health_snapshots(ecosystem_status);

CREATE TABLE IF NOT EXISTS incidents (
	id INTEGER PRIMARY KEY,
	timestamp TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_name TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	error_message TEXT,
	duration_seconds INTEGER,
	resolved_at TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_timestamp ON incidents(timestamp);
CREATE INDEX IF NOT EXISTS idx_incidents_entity ON incidents(entity_name);
CREATE INDEX IF NOT EXISTS idx_incidents_resolved ON incidents(resolved_at);

CREATE TABLE IF NOT EXISTS daily_aggregates (
	id INTEGER PRIMARY KEY,
	date TEXT NOT NULL,
	component TEXT NOT NULL,
	healthy_seconds INTEGER DEFAULT 0,
	degraded_seconds INTEGER DEFAULT 0,
	unhealthy_seconds INTEGER DEFAULT 0,
	unreachable_seconds INTEGER DEFAULT 0,
	incident_count INTEGER DEFAULT 0,
	created_at TEXT NOT NULL,
	UNIQUE(date, component)
);

CREATE INDEX IF NOT EXISTS idx_aggregates_date ON daily_aggregates(date);

CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER PRIMARY KEY,
	applied_at TEXT NOT NULL,
	description TEXT
);
`

// Initialize creates the schema and records the schema version.
func (s *SQLiteStore) Initialize(ctx context.Context) error {
	var current int
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`,
	).Scan(&current)
	if err != nil && !strings.Contains(err.Error(), "no such table") && err != sql.ErrNoRows {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if current >= SchemaVersion {
		s.logger.Debug().Int("version", current).Msg("metrics schema up to date")
		return nil
	}

	if _, err := s.db.ExecContext(ctx, schemaSQL); err != nil {
		return fmt.Errorf("creating metrics schema: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO schema_version (version, applied_at, description) VALUES (?, ?, ?)`,
		SchemaVersion, formatTime(time.Now()),
		"initial schema with snapshots, incidents, and daily_aggregates",
	)
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	s.logger.Info().Int("version", SchemaVersion).Msg("metrics schema initialized")
	return nil
}

func (s *SQLiteStore) StoreSnapshot(ctx context.Context, snapshot *Snapshot) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`INSERT INTO health_snapshots
			(timestamp, ecosystem_status, check_duration_ms, components_json, connections_json, created_at)
		VALUES (?, ?, ?, ?, ?, ?)`,
		formatTime(snapshot.Timestamp),
		string(snapshot.EcosystemStatus),
		snapshot.CheckDurationMS,
		snapshot.ComponentsJSON,
		snapshot.ConnectionsJSON,
		formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("storing snapshot: %w", err)
	}
	return result.LastInsertId()
}

const snapshotColumns = `id, timestamp, ecosystem_status, check_duration_ms, components_json, connections_json, created_at`

func scanSnapshot(row interface{ Scan(...interface{}) error }) (*Snapshot, error) {
	var snap Snapshot
	var status, timestamp, createdAt string
	var duration sql.NullFloat64

	err := row.Scan(&snap.ID, &timestamp, &status, &duration, &snap.ComponentsJSON, &snap.ConnectionsJSON, &createdAt)
	if err != nil {
		return nil, err
	}

	snap.Timestamp = parseTime(timestamp)
	snap.EcosystemStatus = statusFromString(status)
	snap.CheckDurationMS = duration.Float64
	snap.CreatedAt = parseTime(createdAt)
	return &snap, nil
}

func (s *SQLiteStore) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT `+snapshotColumns+` FROM health_snapshots ORDER BY timestamp DESC LIMIT 1`)
	snap, err := scanSnapshot(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading latest snapshot: %w", err)
	}
	return snap, nil
}

func (s *SQLiteStore) Snapshots(ctx context.Context, start, end time.Time, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM health_snapshots
		WHERE timestamp >= ? AND timestamp <= ?
		ORDER BY timestamp DESC
		LIMIT ?`,
		formatTime(start), formatTime(end), limit)
	if err != nil {
		return nil, fmt.Errorf("querying snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snapshots = append(snapshots, *snap)
	}
	return snapshots, rows.Err()
}

func (s *SQLiteStore) SnapshotCount(ctx context.Context, since *time.Time) (int, error) {
	var count int
	var err error
	if since != nil {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM health_snapshots WHERE timestamp >= ?`,
			formatTime(*since)).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM health_snapshots`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return count, nil
}

func (s *SQLiteStore) RecordIncident(ctx context.Context, incident *Incident) (int64, error) {
	var resolvedAt interface{}
	if incident.ResolvedAt != nil {
		resolvedAt = formatTime(*incident.ResolvedAt)
	}

	result, err := s.db.ExecContext(ctx,
		`INSERT INTO incidents
			(timestamp, entity_type, entity_name, from_status, to_status, error_message, duration_seconds, resolved_at, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		formatTime(incident.Timestamp),
		incident.EntityType,
		incident.EntityName,
		string(incident.FromStatus),
		string(incident.ToStatus),
		nullableString(incident.ErrorMessage),
		nullableInt(incident.DurationSeconds),
		resolvedAt,
		formatTime(time.Now()),
	)
	if err != nil {
		return 0, fmt.Errorf("recording incident: %w", err)
	}
	return result.LastInsertId()
}

func (s *SQLiteStore) ResolveIncident(ctx context.Context, entityType, entityName string, resolvedAt time.Time, durationSeconds int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE incidents
		SET resolved_at = ?, duration_seconds = ?
		WHERE id = (
			SELECT id FROM incidents
			WHERE entity_type = ? AND entity_name = ? AND resolved_at IS NULL
			ORDER BY timestamp DESC
			LIMIT 1
		)`,
		formatTime(resolvedAt), durationSeconds, entityType, entityName)
	if err != nil {
		return 0, fmt.Errorf("resolving incident: %w", err)
	}
	return result.RowsAffected()
}

const incidentColumns = `id, timestamp, entity_type, entity_name, from_status, to_status, error_message, duration_seconds, resolved_at, created_at`

func scanIncident(row interface{ Scan(...interface{}) error }) (*Incident, error) {
	var inc Incident
	var timestamp, fromStatus, toStatus, createdAt string
	var errMsg, resolvedAt sql.NullString
	var duration sql.NullInt64

	err := row.Scan(&inc.ID, &timestamp, &inc.EntityType, &inc.EntityName, &fromStatus, &toStatus, &errMsg, &duration, &resolvedAt, &createdAt)
	if err != nil {
		return nil, err
	}

	inc.Timestamp = parseTime(timestamp)
	inc.FromStatus = statusFromString(fromStatus)
	inc.ToStatus = statusFromString(toStatus)
	inc.ErrorMessage = errMsg.String
	if duration.Valid {
		d := duration.Int64
		inc.DurationSeconds = &d
	}
	if resolvedAt.Valid {
		t := parseTime(resolvedAt.String)
		inc.ResolvedAt = &t
	}
	inc.CreatedAt = parseTime(createdAt)
	return &inc, nil
}

func (s *SQLiteStore) Incidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	conditions := []string{"1=1"}
	var params []interface{}

	if filter.EntityName != "" {
		conditions = append(conditions, "entity_name = ?")
		params = append(params, filter.EntityName)
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = ?")
		params = append(params, filter.EntityType)
	}
	if filter.Start != nil {
		conditions = append(conditions, "timestamp >= ?")
		params = append(params, formatTime(*filter.Start))
	}
	if filter.End != nil {
		conditions = append(conditions, "timestamp <= ?")
		params = append(params, formatTime(*filter.End))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}
	params = append(params, limit)

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY timestamp DESC
		LIMIT ?`, params...)
	if err != nil {
		return nil, fmt.Errorf("querying incidents: %w", err)
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

func (s *SQLiteStore) OpenIncidents(ctx context.Context) ([]Incident, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		WHERE resolved_at IS NULL
		ORDER BY timestamp DESC`)
	if err != nil {
		return nil, fmt.Errorf("querying open incidents: %w", err)
	}
	defer rows.Close()

	var incidents []Incident
	for rows.Next() {
		inc, err := scanIncident(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning incident: %w", err)
		}
		incidents = append(incidents, *inc)
	}
	return incidents, rows.Err()
}

func (s *SQLiteStore) UpsertDailyAggregate(ctx context.Context, aggregate *DailyAggregate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_aggregates
			(date, component, healthy_seconds, degraded_seconds, unhealthy_seconds, unreachable_seconds, incident_count, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(date, component) DO UPDATE SET
			healthy_seconds = excluded.healthy_seconds,
			degraded_seconds = excluded.degraded_seconds,
			unhealthy_seconds = excluded.unhealthy_seconds,
			unreachable_seconds = excluded.unreachable_seconds,
			incident_count = excluded.incident_count`,
		aggregate.Date,
		aggregate.Component,
		aggregate.HealthySeconds,
		aggregate.DegradedSeconds,
		aggregate.UnhealthySeconds,
		aggregate.UnreachableSeconds,
		aggregate.IncidentCount,
		formatTime(time.Now()),
	)
	if err != nil {
		return fmt.Errorf("upserting daily aggregate: %w", err)
	}
	return nil
}

func (s *SQLiteStore) DailyAggregates(ctx context.Context, component, startDate, endDate string) ([]DailyAggregate, error) {
	conditions := []string{"1=1"}
	var params []interface{}

	if component != "" {
		conditions = append(conditions, "component = ?")
		params = append(params, component)
	}
	if startDate != "" {
		conditions = append(conditions, "date >= ?")
		params = append(params, startDate)
	}
	if endDate != "" {
		conditions = append(conditions, "date <= ?")
		params = append(params, endDate)
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, component, healthy_seconds, degraded_seconds, unhealthy_seconds, unreachable_seconds, incident_count, created_at
		FROM daily_aggregates
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY date DESC, component ASC`, params...)
	if err != nil {
		return nil, fmt.Errorf("querying daily aggregates: %w", err)
	}
	defer rows.Close()

	var aggregates []DailyAggregate
	for rows.Next() {
		var agg DailyAggregate
		var createdAt string
		if err := rows.Scan(&agg.ID, &agg.Date, &agg.Component, &agg.HealthySeconds, &agg.DegradedSeconds, &agg.UnhealthySeconds, &agg.UnreachableSeconds, &agg.IncidentCount, &createdAt); err != nil {
			return nil, fmt.Errorf("scanning daily aggregate: %w", err)
		}
		agg.CreatedAt = parseTime(createdAt)
		aggregates = append(aggregates, agg)
	}
	return aggregates, rows.Err()
}

func (s *SQLiteStore) CleanupOldData(ctx context.Context, snapshotsDays, incidentsDays, aggregatesDays int) (map[string]int64, error) {
	now := time.Now().UTC()
	deleted := make(map[string]int64, 3)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM health_snapshots WHERE timestamp < ?`,
		formatTime(now.AddDate(0, 0, -snapshotsDays)))
	if err != nil {
		return nil, fmt.Errorf("pruning snapshots: %w", err)
	}
	deleted["health_snapshots"], _ = result.RowsAffected()

	result, err = s.db.ExecContext(ctx,
		`DELETE FROM incidents WHERE timestamp < ?`,
		formatTime(now.AddDate(0, 0, -incidentsDays)))
	if err != nil {
		return nil, fmt.Errorf("pruning incidents: %w", err)
	}
	deleted["incidents"], _ = result.RowsAffected()

	result, err = s.db.ExecContext(ctx,
		`DELETE FROM daily_aggregates WHERE date < ?`,
		now.AddDate(0, 0, -aggregatesDays).Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("pruning daily aggregates: %w", err)
	}
	deleted["daily_aggregates"], _ = result.RowsAffected()

	return deleted, nil
}

// Close closes the underlying database handle.
func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func nullableString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullableInt(v *int64) interface{} {
	if v == nil {
		return nil
	}
	return *v
}

func statusFromString(s string) health.Status {
	status := health.Status(s)
	if !status.Known() {
		return health.StatusUnhealthy
	}
	return status
}
