package health

// ComponentHealth is the result of one probe against one component.
// Created fresh every poll cycle and never mutated afterwards.
type ComponentHealth struct {
	Name           string                 `json:"-"`
	Status         Status                 `json:"status"`
	Endpoint       string                 `json:"endpoint"`
	ResponseTimeMS float64                `json:"response_time_ms,omitempty"`
	Version        string                 `json:"version,omitempty"`
	UptimeSeconds  int64                  `json:"uptime_seconds,omitempty"`
	Error          string                 `json:"error,omitempty"`
	Details        map[string]interface{} `json:"details,omitempty"`
}

// ConnectionHealth is the inferred health of one inter-component link.
// Connection health is derived from the combined latency of the two
// endpoints; no separate network call is made.
type ConnectionHealth struct {
	Name      string  `json:"-"`
	Status    Status  `json:"status"`
	LatencyMS float64 `json:"latency_ms,omitempty"`
	Error     string  `json:"error,omitempty"`
	Critical  bool    `json:"critical"`
}

// Meta carries timing and version metadata for one aggregation pass.
type Meta struct {
	CheckDurationMS   float64 `json:"check_duration_ms"`
	TimeoutMS         int     `json:"timeout_ms"`
	AggregatorVersion string  `json:"aggregator_version"`
}

// EcosystemHealth is the aggregate of one poll cycle: the unit exchanged
// between the aggregator, the transition detector, and the metrics engine.
// Immutable once built.
type EcosystemHealth struct {
	Ecosystem   string                      `json:"ecosystem"`
	Status      Status                      `json:"status"`
	Timestamp   string                      `json:"timestamp"`
	Summary     map[string]int              `json:"summary"`
	Components  map[string]ComponentHealth  `json:"components"`
	Connections map[string]ConnectionHealth `json:"connections"`
	Meta        Meta                        `json:"meta"`
}

// NewSummary returns a zero-filled summary map with all five status buckets
// always present.
func NewSummary() map[string]int {
	summary := make(map[string]int, len(AllStatuses))
	for _, s := range AllStatuses {
		summary[string(s)] = 0
	}
	return summary
}
