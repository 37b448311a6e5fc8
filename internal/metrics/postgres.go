package metrics

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/rs/zerolog"
)

// Compile-time interface check.
var _ Store = (*PostgresStore)(nil)

// PostgresStore implements Store on PostgreSQL via the pgx stdlib driver.
// Same schema shape as the SQLite backend; timestamps are still stored as
// ISO-8601 text so the two backends stay interchangeable.
type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

// NewPostgresStore opens a connection pool against the given DSN.
func NewPostgresStore(dsn string, logger zerolog.Logger) (*PostgresStore, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening postgres pool: %w", err)
	}
	db.SetMaxOpenConns(10)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pinging postgres: %w", err)
	}

	return &PostgresStore{
		db:     db,
		logger: logger.With().Str("component", "metrics_store").Logger(),
	}, nil
}

const postgresSchemaSQL = `
CREATE TABLE IF NOT EXISTS health_snapshots (
	id BIGSERIAL PRIMARY KEY,
	timestamp TEXT NOT NULL,
	ecosystem_status TEXT NOT NULL,
	check_duration_ms DOUBLE PRECISION,
	components_json TEXT NOT NULL,
	connections_json TEXT NOT NULL,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_snapshots_timestamp ON health_snapshots(timestamp);
CREATE INDEX IF NOT EXISTS idx_snapshots_status ON health_snapshots(ecosystem_status);

CREATE TABLE IF NOT EXISTS incidents (
	id BIGSERIAL PRIMARY KEY,
	timestamp TEXT NOT NULL,
	entity_type TEXT NOT NULL,
	entity_name TEXT NOT NULL,
	from_status TEXT NOT NULL,
	to_status TEXT NOT NULL,
	error_message TEXT,
	duration_seconds BIGINT,
	resolved_at TEXT,
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_incidents_timestamp ON incidents(timestamp);
CREATE INDEX IF NOT EXISTS idx_incidents_entity ON incidents(entity_name);
CREATE INDEX IF NOT EXISTS idx_incidents_resolved ON incidents(resolved_at);

CREATE TABLE IF NOT EXISTS daily_aggregates (
	id BIGSERIAL PRIMARY KEY,
	date TEXT NOT NULL,
	component TEXT NOT NULL,
	healthy_seconds BIGINT DEFAULT 0,
	degraded_seconds BIGINT DEFAULT 0,
	unhealthy_seconds BIGINT DEFAULT 0,
	unreachable_seconds BIGINT DEFAULT 0,
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

func (s *PostgresStore) Initialize(ctx context.Context) error {
	var current int
	err := s.db.QueryRowContext(ctx,
		`SELECT version FROM schema_version ORDER BY version DESC LIMIT 1`,
	).Scan(&current)
	if err != nil && err != sql.ErrNoRows && !strings.Contains(err.Error(), "does not exist") {
		return fmt.Errorf("reading schema version: %w", err)
	}

	if current >= SchemaVersion {
		s.logger.Debug().Int("version", current).Msg("metrics schema up to date")
		return nil
	}

	if _, err := s.db.ExecContext(ctx, postgresSchemaSQL); err != nil {
		return fmt.Errorf("creating metrics schema: %w", err)
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO schema_version (version, applied_at, description) VALUES ($1, $2, $3)
		ON CONFLICT (version) DO NOTHING`,
		SchemaVersion, formatTime(time.Now()),
		"initial schema with snapshots, incidents, and daily_aggregates",
	)
	if err != nil {
		return fmt.Errorf("recording schema version: %w", err)
	}

	s.logger.Info().Int("version", SchemaVersion).Msg("metrics schema initialized")
	return nil
}

func (s *PostgresStore) StoreSnapshot(ctx context.Context, snapshot *Snapshot) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO health_snapshots
			(timestamp, ecosystem_status, check_duration_ms, components_json, connections_json, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id`,
		formatTime(snapshot.Timestamp),
		string(snapshot.EcosystemStatus),
		snapshot.CheckDurationMS,
		snapshot.ComponentsJSON,
		snapshot.ConnectionsJSON,
		formatTime(time.Now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("storing snapshot: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) LatestSnapshot(ctx context.Context) (*Snapshot, error) {
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

func (s *PostgresStore) Snapshots(ctx context.Context, start, end time.Time, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 1000
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+snapshotColumns+` FROM health_snapshots
		WHERE timestamp >= $1 AND timestamp <= $2
		ORDER BY timestamp DESC
		LIMIT $3`,
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

func (s *PostgresStore) SnapshotCount(ctx context.Context, since *time.Time) (int, error) {
	var count int
	var err error
	if since != nil {
		err = s.db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM health_snapshots WHERE timestamp >= $1`,
			formatTime(*since)).Scan(&count)
	} else {
		err = s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM health_snapshots`).Scan(&count)
	}
	if err != nil {
		return 0, fmt.Errorf("counting snapshots: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) RecordIncident(ctx context.Context, incident *Incident) (int64, error) {
	var resolvedAt interface{}
	if incident.ResolvedAt != nil {
		resolvedAt = formatTime(*incident.ResolvedAt)
	}

	var id int64
	err := s.db.QueryRowContext(ctx,
		`INSERT INTO incidents
			(timestamp, entity_type, entity_name, from_status, to_status, error_message, duration_seconds, resolved_at, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id`,
		formatTime(incident.Timestamp),
		incident.EntityType,
		incident.EntityName,
		string(incident.FromStatus),
		string(incident.ToStatus),
		nullableString(incident.ErrorMessage),
		nullableInt(incident.DurationSeconds),
		resolvedAt,
		formatTime(time.Now()),
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("recording incident: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) ResolveIncident(ctx context.Context, entityType, entityName string, resolvedAt time.Time, durationSeconds int64) (int64, error) {
	result, err := s.db.ExecContext(ctx,
		`UPDATE incidents
		SET resolved_at = $1, duration_seconds = $2
		WHERE id = (
			SELECT id FROM incidents
			WHERE entity_type = $3 AND entity_name = $4 AND resolved_at IS NULL
			ORDER BY timestamp DESC
			LIMIT 1
		)`,
		formatTime(resolvedAt), durationSeconds, entityType, entityName)
	if err != nil {
		return 0, fmt.Errorf("resolving incident: %w", err)
	}
	return result.RowsAffected()
}

func (s *PostgresStore) Incidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	conditions := []string{"1=1"}
	var params []interface{}
	arg := func(v interface{}) string {
		params = append(params, v)
		return fmt.Sprintf("$%d", len(params))
	}

	if filter.EntityName != "" {
		conditions = append(conditions, "entity_name = "+arg(filter.EntityName))
	}
	if filter.EntityType != "" {
		conditions = append(conditions, "entity_type = "+arg(filter.EntityType))
	}
	if filter.Start != nil {
		conditions = append(conditions, "timestamp >= "+arg(formatTime(*filter.Start)))
	}
	if filter.End != nil {
		conditions = append(conditions, "timestamp <= "+arg(formatTime(*filter.End)))
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = 100
	}

	rows, err := s.db.QueryContext(ctx,
		`SELECT `+incidentColumns+` FROM incidents
		WHERE `+strings.Join(conditions, " AND ")+`
		ORDER BY timestamp DESC
		LIMIT `+arg(limit), params...)
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

func (s *PostgresStore) OpenIncidents(ctx context.Context) ([]Incident, error) {
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

func (s *PostgresStore) UpsertDailyAggregate(ctx context.Context, aggregate *DailyAggregate) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO daily_aggregates
			(date, component, healthy_seconds, degraded_seconds, unhealthy_seconds, unreachable_seconds, incident_count, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (date, component) DO UPDATE SET
			healthy_seconds = EXCLUDED.healthy_seconds,
			degraded_seconds = EXCLUDED.degraded_seconds,
			unhealthy_seconds = EXCLUDED.unhealthy_seconds,
			unreachable_seconds = EXCLUDED.unreachable_seconds,
			incident_count = EXCLUDED.incident_count`,
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

func (s *PostgresStore) DailyAggregates(ctx context.Context, component, startDate, endDate string) ([]DailyAggregate, error) {
	conditions := []string{"1=1"}
	var params []interface{}
	arg := func(v interface{}) string {
		params = append(params, v)
		return fmt.Sprintf("$%d", len(params))
	}

	if component != "" {
		conditions = append(conditions, "component = "+arg(component))
	}
	if startDate != "" {
		conditions = append(conditions, "date >= "+arg(startDate))
	}
	if endDate != "" {
		conditions = append(conditions, "date <= "+arg(endDate))
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

func (s *PostgresStore) CleanupOldData(ctx context.Context, snapshotsDays, incidentsDays, aggregatesDays int) (map[string]int64, error) {
	now := time.Now().UTC()
	deleted := make(map[string]int64, 3)

	result, err := s.db.ExecContext(ctx,
		`DELETE FROM health_snapshots WHERE timestamp < $1`,
		formatTime(now.AddDate(0, 0, -snapshotsDays)))
	if err != nil {
		return nil, fmt.Errorf("pruning snapshots: %w", err)
	}
	deleted["health_snapshots"], _ = result.RowsAffected()

	result, err = s.db.ExecContext(ctx,
		`DELETE FROM incidents WHERE timestamp < $1`,
		formatTime(now.AddDate(0, 0, -incidentsDays)))
	if err != nil {
		return nil, fmt.Errorf("pruning incidents: %w", err)
	}
	deleted["incidents"], _ = result.RowsAffected()

	result, err = s.db.ExecContext(ctx,
		`DELETE FROM daily_aggregates WHERE date < $1`,
		now.AddDate(0, 0, -aggregatesDays).Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("pruning daily aggregates: %w", err)
	}
	deleted["daily_aggregates"], _ = result.RowsAffected()

	return deleted, nil
}

func (s *PostgresStore) Close() error {
	return s.db.Close()
}
