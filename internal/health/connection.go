package health

import "fmt"

// ConnectionCheck describes one configured inter-component link.
type ConnectionCheck struct {
	// Source and Target are component keys.
	Source string
	Target string
	// Name defaults to "source -> target" when empty.
	Name string
	// Critical escalates the ecosystem status when this connection fails.
	Critical bool
}

// DisplayName returns the configured name or the "source -> target"
// convention.
func (c ConnectionCheck) DisplayName() string {
	if c.Name != "" {
		return c.Name
	}
	return fmt.Sprintf("%s -> %s", c.Source, c.Target)
}

// InferConnection derives the health of one link from the already-probed
// endpoint components. No network I/O happens here: the combined response
// latency of both sides stands in for link health.
func InferConnection(check ConnectionCheck, components map[string]ComponentHealth) ConnectionHealth {
	name := check.DisplayName()

	source, ok := components[check.Source]
	if !ok || source.Status == StatusDisabled || source.Status == StatusUnreachable {
		return ConnectionHealth{
			Name:     name,
			Status:   StatusDisabled,
			Critical: check.Critical,
			Error:    fmt.Sprintf("Source (%s) unavailable", check.Source),
		}
	}

	target, ok := components[check.Target]
	if !ok || target.Status == StatusDisabled || target.Status == StatusUnreachable {
		return ConnectionHealth{
			Name:     name,
			Status:   StatusDisabled,
			Critical: check.Critical,
			Error:    fmt.Sprintf("Target (%s) unavailable", check.Target),
		}
	}

	// Missing response times contribute zero.
	combined := source.ResponseTimeMS + target.ResponseTimeMS

	status := StatusHealthy
	switch {
	case combined > LatencyCriticalMS:
		status = StatusUnhealthy
	case combined > LatencyWarningMS:
		status = StatusDegraded
	}

	return ConnectionHealth{
		Name:      name,
		Status:    status,
		LatencyMS: round2(combined),
		Critical:  check.Critical,
	}
}
