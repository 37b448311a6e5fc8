package metrics

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/fleetpulse/internal/health"
)

// Entity type labels used in the incident ledger.
const (
	EntityComponent  = "component"
	EntityConnection = "connection"
	EntityEcosystem  = "ecosystem"
)

// Resolutions accepted by History.
var historyResolutions = map[string]time.Duration{
	"1m":  time.Minute,
	"5m":  5 * time.Minute,
	"15m": 15 * time.Minute,
	"1h":  time.Hour,
}

// ParseResolution maps a resolution label to a bucket width. Unknown
// labels fall back to 5m.
func ParseResolution(label string) time.Duration {
	if d, ok := historyResolutions[label]; ok {
		return d
	}
	return 5 * time.Minute
}

// EngineConfig tunes the metrics engine.
type EngineConfig struct {
	// EcosystemName keys the ecosystem-level entity in the incident
	// ledger and in rehydrated state.
	EcosystemName string

	// PollInterval is the expected gap between snapshots. Each snapshot
	// is assumed to represent this many seconds of wall time when
	// aggregating and when computing uptime from raw snapshots.
	PollInterval time.Duration

	// Retention windows, in days.
	RetentionSnapshotsDays  int
	RetentionIncidentsDays  int
	RetentionAggregatesDays int
}

func (c *EngineConfig) withDefaults() EngineConfig {
	cfg := *c
	if cfg.EcosystemName == "" {
		cfg.EcosystemName = "fleet"
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	if cfg.RetentionSnapshotsDays <= 0 {
		cfg.RetentionSnapshotsDays = 30
	}
	if cfg.RetentionIncidentsDays <= 0 {
		cfg.RetentionIncidentsDays = 90
	}
	if cfg.RetentionAggregatesDays <= 0 {
		cfg.RetentionAggregatesDays = 365
	}
	return cfg
}

// Engine sits between the poll loop and the Store: it persists snapshots,
// maintains the incident ledger, computes uptime and history views, and
// runs the daily roll-up and retention pass.
//
// The engine keeps its own per-entity status cache, independent of the
// alerting detector, so incidents are recorded even for entities whose
// alerts are suppressed by configuration.
type Engine struct {
	store  Store
	cfg    EngineConfig
	logger zerolog.Logger

	mu             sync.Mutex
	entityStates   map[string]health.Status
	lastTransition map[string]time.Time
}

// NewEngine wires an engine over the given store.
func NewEngine(store Store, cfg EngineConfig, logger zerolog.Logger) *Engine {
	return &Engine{
		store:          store,
		cfg:            cfg.withDefaults(),
		logger:         logger.With().Str("component", "metrics_engine").Logger(),
		entityStates:   make(map[string]health.Status),
		lastTransition: make(map[string]time.Time),
	}
}

// Initialize creates the schema and rehydrates the entity state cache
// from the most recent snapshot, so a restart does not re-open incidents
// for entities that were already down.
func (e *Engine) Initialize(ctx context.Context) error {
	if err := e.store.Initialize(ctx); err != nil {
		return fmt.Errorf("initializing metrics store: %w", err)
	}

	snap, err := e.store.LatestSnapshot(ctx)
	if err != nil {
		return fmt.Errorf("rehydrating entity state: %w", err)
	}
	if snap == nil {
		e.logger.Info().Msg("no prior snapshots, starting with empty entity state")
		return nil
	}

	e.mu.Lock()
	for name, comp := range snap.Components() {
		e.entityStates[EntityComponent+":"+name] = comp.Status
	}
	for name, conn := range snap.Connections() {
		e.entityStates[EntityConnection+":"+name] = conn.Status
	}
	e.entityStates[EntityEcosystem+":"+e.cfg.EcosystemName] = snap.EcosystemStatus
	restored := len(e.entityStates)
	e.mu.Unlock()

	// Open incidents carry the start time of any ongoing outage; use it
	// so a resolution after restart still reports the full duration.
	open, err := e.store.OpenIncidents(ctx)
	if err != nil {
		return fmt.Errorf("loading open incidents: %w", err)
	}
	e.mu.Lock()
	for _, inc := range open {
		key := inc.EntityType + ":" + inc.EntityName
		if existing, ok := e.lastTransition[key]; !ok || inc.Timestamp.After(existing) {
			e.lastTransition[key] = inc.Timestamp
		}
	}
	e.mu.Unlock()

	e.logger.Info().
		Int("entities", restored).
		Int("open_incidents", len(open)).
		Str("as_of", formatTime(snap.Timestamp)).
		Msg("entity state rehydrated from latest snapshot")
	return nil
}

// EntityStates returns a copy of the cached per-entity statuses, keyed
// "type:name". Used to seed the alert detector's baseline after restart.
func (e *Engine) EntityStates() map[string]health.Status {
	e.mu.Lock()
	defer e.mu.Unlock()
	states := make(map[string]health.Status, len(e.entityStates))
	for k, v := range e.entityStates {
		states[k] = v
	}
	return states
}

// StoreSnapshot persists one ecosystem health result as a snapshot row.
func (e *Engine) StoreSnapshot(ctx context.Context, eco *health.EcosystemHealth) (int64, error) {
	componentsJSON, err := json.Marshal(eco.Components)
	if err != nil {
		return 0, fmt.Errorf("encoding components: %w", err)
	}
	connectionsJSON, err := json.Marshal(eco.Connections)
	if err != nil {
		return 0, fmt.Errorf("encoding connections: %w", err)
	}

	id, err := e.store.StoreSnapshot(ctx, &Snapshot{
		Timestamp:       parseTime(eco.Timestamp),
		EcosystemStatus: eco.Status,
		CheckDurationMS: eco.Meta.CheckDurationMS,
		ComponentsJSON:  string(componentsJSON),
		ConnectionsJSON: string(connectionsJSON),
	})
	if err != nil {
		return 0, err
	}

	e.logger.Debug().Int64("snapshot_id", id).Str("status", eco.Status.String()).Msg("snapshot stored")
	return id, nil
}

// DetectAndRecordIncidents compares the new result against the cached
// entity states and updates the incident ledger: a transition to a
// non-healthy status opens an incident (closing any prior open one first,
// so an entity never has more than one open incident), and a return to
// healthy resolves the open incident with its measured duration.
func (e *Engine) DetectAndRecordIncidents(ctx context.Context, eco *health.EcosystemHealth) error {
	now := parseTime(eco.Timestamp)
	if now.IsZero() {
		now = time.Now().UTC()
	}

	type observation struct {
		entityType string
		name       string
		status     health.Status
		errMsg     string
	}

	observations := make([]observation, 0, len(eco.Components)+len(eco.Connections)+1)
	for name, comp := range eco.Components {
		observations = append(observations, observation{EntityComponent, name, comp.Status, comp.Error})
	}
	for name, conn := range eco.Connections {
		observations = append(observations, observation{EntityConnection, name, conn.Status, conn.Error})
	}
	observations = append(observations, observation{EntityEcosystem, e.cfg.EcosystemName, eco.Status, ""})

	for _, obs := range observations {
		key := obs.entityType + ":" + obs.name

		e.mu.Lock()
		previous, seen := e.entityStates[key]
		e.entityStates[key] = obs.status
		since := e.lastTransition[key]
		e.mu.Unlock()

		if !seen {
			previous = health.StatusHealthy
		}
		if obs.status == previous {
			continue
		}

		e.mu.Lock()
		e.lastTransition[key] = now
		e.mu.Unlock()

		switch {
		case obs.status.IsDown() && previous.IsDown():
			// Still down, different severity: close the prior incident at
			// its old status and open a fresh one.
			duration := int64(now.Sub(since).Seconds())
			if since.IsZero() {
				duration = 0
			}
			if _, err := e.store.ResolveIncident(ctx, obs.entityType, obs.name, now, duration); err != nil {
				return fmt.Errorf("resolving incident for %s: %w", key, err)
			}
			if err := e.openIncident(ctx, obs.entityType, obs.name, previous, obs.status, obs.errMsg, now); err != nil {
				return err
			}

		case obs.status.IsDown():
			if err := e.openIncident(ctx, obs.entityType, obs.name, previous, obs.status, obs.errMsg, now); err != nil {
				return err
			}

		case previous.IsDown():
			duration := int64(now.Sub(since).Seconds())
			if since.IsZero() {
				duration = 0
			}
			rows, err := e.store.ResolveIncident(ctx, obs.entityType, obs.name, now, duration)
			if err != nil {
				return fmt.Errorf("resolving incident for %s: %w", key, err)
			}
			if rows > 0 {
				e.logger.Info().
					Str("entity", key).
					Int64("duration_seconds", duration).
					Msg("incident resolved")
			}
		}
	}

	return nil
}

func (e *Engine) openIncident(ctx context.Context, entityType, name string, from, to health.Status, errMsg string, at time.Time) error {
	_, err := e.store.RecordIncident(ctx, &Incident{
		Timestamp:    at,
		EntityType:   entityType,
		EntityName:   name,
		FromStatus:   from,
		ToStatus:     to,
		ErrorMessage: errMsg,
	})
	if err != nil {
		return fmt.Errorf("recording incident for %s:%s: %w", entityType, name, err)
	}
	e.logger.Warn().
		Str("entity", entityType+":"+name).
		Str("from", from.String()).
		Str("to", to.String()).
		Msg("incident opened")
	return nil
}

// Uptime computes uptime for one component over the trailing period.
// Pre-computed daily aggregates are preferred; when none cover the period
// (short windows, or before the first roll-up has run) it falls back to
// counting raw snapshots, each worth one poll interval of wall time.
func (e *Engine) Uptime(ctx context.Context, component string, period time.Duration) (*UptimeMetrics, error) {
	end := time.Now().UTC()
	start := end.Add(-period)

	metrics := &UptimeMetrics{
		Component:   component,
		PeriodStart: start,
		PeriodEnd:   end,
	}

	aggregates, err := e.store.DailyAggregates(ctx, component,
		start.Format("2006-01-02"), end.Format("2006-01-02"))
	if err != nil {
		return nil, fmt.Errorf("loading daily aggregates: %w", err)
	}

	if len(aggregates) > 0 {
		for _, agg := range aggregates {
			metrics.HealthySeconds += agg.HealthySeconds
			metrics.DegradedSeconds += agg.DegradedSeconds
			metrics.UnhealthySeconds += agg.UnhealthySeconds
			metrics.UnreachableSeconds += agg.UnreachableSeconds
		}
		metrics.TotalSeconds = metrics.HealthySeconds + metrics.DegradedSeconds +
			metrics.UnhealthySeconds + metrics.UnreachableSeconds
	} else {
		if err := e.uptimeFromSnapshots(ctx, component, start, end, metrics); err != nil {
			return nil, err
		}
	}

	incidents, err := e.store.Incidents(ctx, IncidentFilter{
		EntityName: component,
		EntityType: EntityComponent,
		Start:      &start,
		End:        &end,
		Limit:      1000,
	})
	if err != nil {
		return nil, fmt.Errorf("loading incidents: %w", err)
	}
	metrics.IncidentCount = len(incidents)

	var resolvedTotal, resolvedCount int64
	for _, inc := range incidents {
		if inc.Resolved() && inc.DurationSeconds != nil {
			resolvedTotal += *inc.DurationSeconds
			resolvedCount++
		}
	}
	if resolvedCount > 0 {
		mttr := resolvedTotal / resolvedCount
		metrics.MTTRSeconds = &mttr
	}

	return metrics, nil
}

func (e *Engine) uptimeFromSnapshots(ctx context.Context, component string, start, end time.Time, metrics *UptimeMetrics) error {
	snapshots, err := e.store.Snapshots(ctx, start, end, 100000)
	if err != nil {
		return fmt.Errorf("loading snapshots for uptime: %w", err)
	}

	interval := int64(e.cfg.PollInterval.Seconds())
	for _, snap := range snapshots {
		comp, ok := snap.Components()[component]
		if !ok {
			continue
		}
		switch comp.Status {
		case health.StatusHealthy:
			metrics.HealthySeconds += interval
		case health.StatusDegraded:
			metrics.DegradedSeconds += interval
		case health.StatusUnhealthy:
			metrics.UnhealthySeconds += interval
		case health.StatusUnreachable:
			metrics.UnreachableSeconds += interval
		case health.StatusDisabled:
			// Disabled time is not tracked.
		}
	}
	metrics.TotalSeconds = metrics.HealthySeconds + metrics.DegradedSeconds +
		metrics.UnhealthySeconds + metrics.UnreachableSeconds
	return nil
}

// AggregateDaily rolls up one UTC day of snapshots into per-component
// daily aggregates. Re-running for the same day replaces the previous
// roll-up, so a partial day can be re-aggregated safely.
func (e *Engine) AggregateDaily(ctx context.Context, date string) (int, error) {
	day, err := time.Parse("2006-01-02", date)
	if err != nil {
		return 0, fmt.Errorf("invalid date %q: %w", date, err)
	}
	start := day.UTC()
	end := start.Add(24*time.Hour - time.Second)

	snapshots, err := e.store.Snapshots(ctx, start, end, 100000)
	if err != nil {
		return 0, fmt.Errorf("loading snapshots for %s: %w", date, err)
	}
	if len(snapshots) == 0 {
		e.logger.Debug().Str("date", date).Msg("no snapshots to aggregate")
		return 0, nil
	}

	interval := int64(e.cfg.PollInterval.Seconds())
	type bucket struct {
		healthy, degraded, unhealthy, unreachable int64
	}
	buckets := make(map[string]*bucket)

	for _, snap := range snapshots {
		for name, comp := range snap.Components() {
			b := buckets[name]
			if b == nil {
				b = &bucket{}
				buckets[name] = b
			}
			switch comp.Status {
			case health.StatusHealthy:
				b.healthy += interval
			case health.StatusDegraded:
				b.degraded += interval
			case health.StatusUnhealthy:
				b.unhealthy += interval
			case health.StatusUnreachable:
				b.unreachable += interval
			case health.StatusDisabled:
			}
		}
	}

	incidents, err := e.store.Incidents(ctx, IncidentFilter{
		EntityType: EntityComponent,
		Start:      &start,
		End:        &end,
		Limit:      10000,
	})
	if err != nil {
		return 0, fmt.Errorf("loading incidents for %s: %w", date, err)
	}
	incidentCounts := make(map[string]int)
	for _, inc := range incidents {
		incidentCounts[inc.EntityName]++
	}

	for name, b := range buckets {
		err := e.store.UpsertDailyAggregate(ctx, &DailyAggregate{
			Date:               date,
			Component:          name,
			HealthySeconds:     b.healthy,
			DegradedSeconds:    b.degraded,
			UnhealthySeconds:   b.unhealthy,
			UnreachableSeconds: b.unreachable,
			IncidentCount:      incidentCounts[name],
		})
		if err != nil {
			return 0, fmt.Errorf("upserting aggregate for %s: %w", name, err)
		}
	}

	e.logger.Info().
		Str("date", date).
		Int("components", len(buckets)).
		Int("snapshots", len(snapshots)).
		Msg("daily aggregation complete")
	return len(buckets), nil
}

// History returns a downsampled ecosystem timeline for the trailing
// period: one point per resolution bucket, where the newest snapshot in
// each bucket wins.
func (e *Engine) History(ctx context.Context, period, resolution time.Duration) ([]HistoryPoint, error) {
	if resolution <= 0 {
		resolution = 5 * time.Minute
	}
	end := time.Now().UTC()
	start := end.Add(-period)

	snapshots, err := e.store.Snapshots(ctx, start, end, 100000)
	if err != nil {
		return nil, fmt.Errorf("loading snapshots for history: %w", err)
	}

	// Snapshots arrive newest first, so the first snapshot seen per
	// bucket is the latest one in it.
	points := make(map[int64]HistoryPoint)
	for _, snap := range snapshots {
		key := snap.Timestamp.Unix() - snap.Timestamp.Unix()%int64(resolution.Seconds())
		if _, ok := points[key]; ok {
			continue
		}
		componentStatuses := make(map[string]health.Status)
		for name, comp := range snap.Components() {
			componentStatuses[name] = comp.Status
		}
		points[key] = HistoryPoint{
			Timestamp:       time.Unix(key, 0).UTC(),
			EcosystemStatus: snap.EcosystemStatus,
			Components:      componentStatuses,
		}
	}

	result := make([]HistoryPoint, 0, len(points))
	for _, p := range points {
		result = append(result, p)
	}
	sort.Slice(result, func(i, j int) bool {
		return result[i].Timestamp.Before(result[j].Timestamp)
	})
	return result, nil
}

// Incidents exposes filtered incident history.
func (e *Engine) Incidents(ctx context.Context, filter IncidentFilter) ([]Incident, error) {
	return e.store.Incidents(ctx, filter)
}

// CleanupOldData prunes rows past the configured retention windows.
func (e *Engine) CleanupOldData(ctx context.Context) (map[string]int64, error) {
	return e.store.CleanupOldData(ctx,
		e.cfg.RetentionSnapshotsDays,
		e.cfg.RetentionIncidentsDays,
		e.cfg.RetentionAggregatesDays)
}

// DailyMaintenance rolls up yesterday's snapshots and prunes expired
// data. Run once per day; safe to re-run.
func (e *Engine) DailyMaintenance(ctx context.Context) error {
	yesterday := time.Now().UTC().AddDate(0, 0, -1).Format("2006-01-02")
	if _, err := e.AggregateDaily(ctx, yesterday); err != nil {
		return fmt.Errorf("aggregating %s: %w", yesterday, err)
	}

	deleted, err := e.CleanupOldData(ctx)
	if err != nil {
		return fmt.Errorf("cleaning up old data: %w", err)
	}

	e.logger.Info().
		Str("date", yesterday).
		Int64("snapshots_deleted", deleted["health_snapshots"]).
		Int64("incidents_deleted", deleted["incidents"]).
		Int64("aggregates_deleted", deleted["daily_aggregates"]).
		Msg("daily maintenance complete")
	return nil
}

// Stats summarizes the store for the stats endpoint.
func (e *Engine) Stats(ctx context.Context) (*StoreStats, error) {
	total, err := e.store.SnapshotCount(ctx, nil)
	if err != nil {
		return nil, err
	}
	since := time.Now().UTC().Add(-24 * time.Hour)
	last24h, err := e.store.SnapshotCount(ctx, &since)
	if err != nil {
		return nil, err
	}
	return &StoreStats{
		TotalSnapshots:     total,
		SnapshotsLast24h:   last24h,
		RetentionSnapshots: e.cfg.RetentionSnapshotsDays,
		RetentionIncidents: e.cfg.RetentionIncidentsDays,
		RetentionDaily:     e.cfg.RetentionAggregatesDays,
	}, nil
}

// Close closes the underlying store.
func (e *Engine) Close() error {
	return e.store.Close()
}
