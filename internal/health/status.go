// Package health implements health probing and aggregation for the
// FleetPulse ecosystem: per-component HTTP probes, inferred connection
// health, and the ecosystem-wide verdict derived from both.
package health

// Status is the health state of a component, connection, or the ecosystem.
type Status string

// Status values, ordered by severity (healthy < degraded < unhealthy,
// with unreachable treated as severe as unhealthy). Disabled is orthogonal
// and never contributes to unhealthiness.
const (
	StatusHealthy     Status = "healthy"
	StatusDegraded    Status = "degraded"
	StatusUnhealthy   Status = "unhealthy"
	StatusUnreachable Status = "unreachable"
	StatusDisabled    Status = "disabled"
)

// AllStatuses lists every status value, in severity order. Summary maps
// are zero-filled from this list.
var AllStatuses = []Status{
	StatusHealthy,
	StatusDegraded,
	StatusUnhealthy,
	StatusUnreachable,
	StatusDisabled,
}

// Known reports whether s is one of the five enumerated values.
func (s Status) Known() bool {
	switch s {
	case StatusHealthy, StatusDegraded, StatusUnhealthy, StatusUnreachable, StatusDisabled:
		return true
	}
	return false
}

// IsDown reports whether s counts as a non-healthy state for downtime
// tracking purposes. Disabled is not "down".
func (s Status) IsDown() bool {
	switch s {
	case StatusDegraded, StatusUnhealthy, StatusUnreachable:
		return true
	}
	return false
}

// IsUp reports whether s counts as an "up" state (healthy or disabled).
func (s Status) IsUp() bool {
	return s == StatusHealthy || s == StatusDisabled
}

func (s Status) String() string {
	return string(s)
}
