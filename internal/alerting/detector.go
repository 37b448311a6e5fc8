// Package alerting implements transition detection, the alert cooldown
// gate, and webhook notification for ecosystem health changes.
package alerting

import (
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/fleetpulse/internal/health"
)

// AlertType classifies a status transition for notification purposes.
type AlertType string

const (
	AlertCritical AlertType = "critical"
	AlertWarning  AlertType = "warning"
	AlertRecovery AlertType = "recovery"
	AlertInfo     AlertType = "info"
)

// Entity types used in transition keys.
const (
	EntityComponent  = "component"
	EntityConnection = "connection"
	EntityEcosystem  = "ecosystem"
)

// StatusTransition is one detected status change for one entity. Produced
// by the Detector, consumed by the Notifier; never persisted directly.
type StatusTransition struct {
	EntityType string
	EntityName string
	FromStatus health.Status
	ToStatus   health.Status
	Timestamp  time.Time
	AlertType  AlertType
	Error      string
	Details    map[string]interface{}
}

// Key returns the "type:name" entity key used for cooldown and state
// tracking.
func (t StatusTransition) Key() string {
	return t.EntityType + ":" + t.EntityName
}

// IsRecovery reports whether this transition announces a return to healthy.
func (t StatusTransition) IsRecovery() bool {
	return t.AlertType == AlertRecovery
}

// IsCritical reports whether this transition is a critical alert.
func (t StatusTransition) IsCritical() bool {
	return t.AlertType == AlertCritical
}

// alertState tracks last-known statuses, cooldowns, and downtime clocks.
// Process-lifetime only; owned exclusively by the Detector.
type alertState struct {
	componentStatuses  map[string]health.Status
	connectionStatuses map[string]health.Status
	ecosystemStatus    health.Status
	lastAlertTimes     map[string]time.Time
	downtimeStart      map[string]time.Time
	lastCheckTime      time.Time
	initialized        bool
}

func newAlertState() *alertState {
	return &alertState{
		componentStatuses:  make(map[string]health.Status),
		connectionStatuses: make(map[string]health.Status),
		ecosystemStatus:    health.StatusHealthy,
		lastAlertTimes:     make(map[string]time.Time),
		downtimeStart:      make(map[string]time.Time),
	}
}

// DetectorConfig holds alert generation policy.
type DetectorConfig struct {
	// Cooldown is the minimum interval between two non-recovery alerts
	// for the same entity.
	Cooldown time.Duration

	// OnDegraded enables warning alerts for degraded transitions.
	OnDegraded bool

	// OnRecovery enables recovery alerts.
	OnRecovery bool

	// OnConnectionIssues enables transition detection for connections.
	OnConnectionIssues bool

	// EcosystemName is the display name for the ecosystem-level entity.
	EcosystemName string
}

// Detector diffs consecutive EcosystemHealth aggregations and turns
// changes into StatusTransitions, applying the suppression and cooldown
// policy. Single-writer: only the poll loop may call its methods.
type Detector struct {
	cfg    DetectorConfig
	state  *alertState
	clock  func() time.Time
	logger zerolog.Logger
}

// NewDetector creates a Detector with empty state. SetInitialState must be
// called once before DetectTransitions produces results.
func NewDetector(cfg DetectorConfig, logger zerolog.Logger) *Detector {
	if cfg.EcosystemName == "" {
		cfg.EcosystemName = "Fleet Ecosystem"
	}
	return &Detector{
		cfg:    cfg,
		state:  newAlertState(),
		clock:  time.Now,
		logger: logger.With().Str("component", "alert_detector").Logger(),
	}
}

// Initialized reports whether a baseline has been established.
func (d *Detector) Initialized() bool {
	return d.state.initialized
}

// SetInitialState records the baseline from the first health check without
// emitting any transitions.
func (d *Detector) SetInitialState(current health.EcosystemHealth) {
	for key, comp := range current.Components {
		d.state.componentStatuses[key] = comp.Status
	}
	for name, conn := range current.Connections {
		d.state.connectionStatuses[name] = conn.Status
	}
	d.state.ecosystemStatus = current.Status
	d.state.lastCheckTime = d.clock()
	d.state.initialized = true

	d.logger.Info().
		Int("components", len(d.state.componentStatuses)).
		Int("connections", len(d.state.connectionStatuses)).
		Str("ecosystem", string(current.Status)).
		Msg("initial alert state established")
}

// SeedBaseline establishes the initial state from persisted entity
// statuses (keys in "type:name" form), so a restart does not turn the
// first post-restart poll into a false recovery storm. A no-op when the
// map is empty; SetInitialState from the first live poll still applies.
func (d *Detector) SeedBaseline(states map[string]health.Status) {
	if len(states) == 0 {
		return
	}
	for key, status := range states {
		entityType, name, ok := splitEntityKey(key)
		if !ok {
			continue
		}
		switch entityType {
		case EntityComponent:
			d.state.componentStatuses[name] = status
		case EntityConnection:
			d.state.connectionStatuses[name] = status
		case EntityEcosystem:
			d.state.ecosystemStatus = status
		}
	}
	d.state.initialized = true
	d.logger.Info().Int("entities", len(states)).Msg("alert baseline seeded from persisted state")
}

func splitEntityKey(key string) (entityType, name string, ok bool) {
	for i := 0; i < len(key); i++ {
		if key[i] == ':' {
			return key[:i], key[i+1:], true
		}
	}
	return "", "", false
}

// DetectTransitions compares current health against the stored baseline
// and returns every transition that passes the suppression policy. State
// is updated for every change regardless of suppression.
func (d *Detector) DetectTransitions(current health.EcosystemHealth) []StatusTransition {
	if !d.state.initialized {
		d.logger.Warn().Msg("alert state not initialized, skipping transition detection")
		return nil
	}

	now := d.clock()
	var transitions []StatusTransition

	for key, comp := range current.Components {
		previous, ok := d.state.componentStatuses[key]
		if !ok {
			previous = health.StatusHealthy
		}
		if comp.Status == previous {
			continue
		}

		if t, emit := d.buildTransition(EntityComponent, key, previous, comp.Status, now, comp.Error, componentDetails(comp)); emit {
			transitions = append(transitions, t)
		}
		d.state.componentStatuses[key] = comp.Status
		d.trackDowntime(key, previous, comp.Status, now)
	}

	if d.cfg.OnConnectionIssues {
		for name, conn := range current.Connections {
			previous, ok := d.state.connectionStatuses[name]
			if !ok {
				previous = health.StatusHealthy
			}
			if conn.Status == previous {
				continue
			}

			if t, emit := d.buildTransition(EntityConnection, name, previous, conn.Status, now, conn.Error, connectionDetails(conn)); emit {
				transitions = append(transitions, t)
			}
			d.state.connectionStatuses[name] = conn.Status
		}
	}

	if current.Status != d.state.ecosystemStatus {
		details := map[string]interface{}{"summary": current.Summary}
		if t, emit := d.buildTransition(EntityEcosystem, d.cfg.EcosystemName, d.state.ecosystemStatus, current.Status, now, "", details); emit {
			transitions = append(transitions, t)
		}
		d.state.ecosystemStatus = current.Status
	}

	d.state.lastCheckTime = now

	if len(transitions) > 0 {
		d.logger.Info().Int("count", len(transitions)).Msg("status transitions detected")
	}
	return transitions
}

// buildTransition classifies the change and applies the degraded/recovery
// suppression (which happens before the cooldown gate). The boolean is
// false when the alert is suppressed by configuration.
func (d *Detector) buildTransition(entityType, entityName string, from, to health.Status, now time.Time, errMsg string, details map[string]interface{}) (StatusTransition, bool) {
	alertType := classifyTransition(to)

	if alertType == AlertWarning && !d.cfg.OnDegraded {
		d.logger.Debug().Str("entity", entityName).Msg("degraded alert suppressed by configuration")
		return StatusTransition{}, false
	}
	if alertType == AlertRecovery && !d.cfg.OnRecovery {
		d.logger.Debug().Str("entity", entityName).Msg("recovery alert suppressed by configuration")
		return StatusTransition{}, false
	}

	if details == nil {
		details = make(map[string]interface{})
	}

	if alertType == AlertRecovery {
		if start, ok := d.state.downtimeStart[entityName]; ok {
			downtime := now.Sub(start)
			details["downtime_seconds"] = int(downtime.Seconds())
			details["downtime_formatted"] = FormatDuration(downtime)
		}
	}

	return StatusTransition{
		EntityType: entityType,
		EntityName: entityName,
		FromStatus: from,
		ToStatus:   to,
		Timestamp:  now,
		AlertType:  alertType,
		Error:      errMsg,
		Details:    details,
	}, true
}

// classifyTransition maps the destination status onto an alert type.
func classifyTransition(to health.Status) AlertType {
	switch to {
	case health.StatusHealthy:
		return AlertRecovery
	case health.StatusUnreachable, health.StatusUnhealthy:
		return AlertCritical
	case health.StatusDegraded:
		return AlertWarning
	default:
		return AlertInfo
	}
}

// trackDowntime starts the downtime clock on entry into a down state and
// clears it when the entity comes back up.
func (d *Detector) trackDowntime(entityName string, from, to health.Status, now time.Time) {
	switch {
	case from.IsUp() && to.IsDown():
		d.state.downtimeStart[entityName] = now
		d.logger.Debug().Str("entity", entityName).Msg("downtime tracking started")
	case from.IsDown() && to.IsUp():
		if _, ok := d.state.downtimeStart[entityName]; ok {
			delete(d.state.downtimeStart, entityName)
			d.logger.Debug().Str("entity", entityName).Msg("downtime tracking cleared")
		}
	}
}

// ShouldAlert applies the cooldown gate. Recovery transitions always pass:
// a recovered service is announced immediately no matter when the previous
// alert went out.
func (d *Detector) ShouldAlert(transition StatusTransition) bool {
	if transition.IsRecovery() {
		return true
	}

	last, ok := d.state.lastAlertTimes[transition.Key()]
	if !ok {
		return true
	}

	elapsed := transition.Timestamp.Sub(last)
	if elapsed < d.cfg.Cooldown {
		d.logger.Debug().
			Str("entity", transition.Key()).
			Dur("elapsed", elapsed).
			Dur("cooldown", d.cfg.Cooldown).
			Msg("alert in cooldown")
		return false
	}
	return true
}

// RecordAlertSent stores the cooldown timestamp for an entity. Call only
// after a send actually succeeded.
func (d *Detector) RecordAlertSent(transition StatusTransition) {
	d.state.lastAlertTimes[transition.Key()] = transition.Timestamp
}

// FormatDuration renders a downtime duration the way operators read it:
// "45 secs", "3 mins", "2 hours 15 mins".
func FormatDuration(dur time.Duration) string {
	seconds := int(dur.Seconds())
	switch {
	case seconds < 60:
		return fmt.Sprintf("%d secs", seconds)
	case seconds < 3600:
		return fmt.Sprintf("%d %s", seconds/60, pluralize("min", seconds/60))
	default:
		hours := seconds / 3600
		mins := (seconds % 3600) / 60
		result := fmt.Sprintf("%d %s", hours, pluralize("hour", hours))
		if mins > 0 {
			result += fmt.Sprintf(" %d %s", mins, pluralize("min", mins))
		}
		return result
	}
}

func pluralize(unit string, n int) string {
	if n == 1 {
		return unit
	}
	return unit + "s"
}

func componentDetails(comp health.ComponentHealth) map[string]interface{} {
	details := make(map[string]interface{})
	if comp.ResponseTimeMS > 0 {
		details["response_time_ms"] = comp.ResponseTimeMS
	}
	if comp.Endpoint != "" {
		details["endpoint"] = comp.Endpoint
	}
	return details
}

func connectionDetails(conn health.ConnectionHealth) map[string]interface{} {
	details := make(map[string]interface{})
	if conn.LatencyMS > 0 {
		details["latency_ms"] = conn.LatencyMS
	}
	return details
}
