package health

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// AggregatorVersion is reported in EcosystemHealth.Meta.
const AggregatorVersion = "1.0.0"

// AggregatorConfig holds configuration for the ecosystem aggregator.
type AggregatorConfig struct {
	// Ecosystem is the id reported on every EcosystemHealth.
	Ecosystem string

	// Components to probe each cycle.
	Components []Component

	// Connections to infer from probe results.
	Connections []ConnectionCheck

	// Timeout bounds each individual probe.
	Timeout time.Duration
}

// Aggregator runs all component probes concurrently and folds the results
// into one ecosystem-wide verdict.
type Aggregator struct {
	cfg    AggregatorConfig
	prober *Prober
	logger zerolog.Logger
}

// NewAggregator creates an Aggregator with its own Prober.
func NewAggregator(cfg AggregatorConfig, logger zerolog.Logger) *Aggregator {
	if cfg.Ecosystem == "" {
		cfg.Ecosystem = "fleet"
	}
	return &Aggregator{
		cfg:    cfg,
		prober: NewProber(cfg.Timeout, logger),
		logger: logger.With().Str("component", "aggregator").Logger(),
	}
}

// CheckEcosystemHealth performs one complete aggregation pass: concurrent
// probes, connection inference, summary counts, and the overall verdict.
// Wall clock is bounded by the probe timeout, not multiplied by fan-out.
func (a *Aggregator) CheckEcosystemHealth(ctx context.Context) EcosystemHealth {
	start := time.Now()
	a.logger.Debug().Int("components", len(a.cfg.Components)).Msg("starting ecosystem health check")

	components := a.probeAll(ctx)

	connections := make(map[string]ConnectionHealth, len(a.cfg.Connections))
	for _, check := range a.cfg.Connections {
		conn := InferConnection(check, components)
		connections[conn.Name] = conn
	}

	summary := NewSummary()
	for _, comp := range components {
		summary[string(comp.Status)]++
	}

	result := EcosystemHealth{
		Ecosystem:   a.cfg.Ecosystem,
		Status:      overallStatus(components, connections),
		Timestamp:   time.Now().UTC().Format(time.RFC3339),
		Summary:     summary,
		Components:  components,
		Connections: connections,
		Meta: Meta{
			CheckDurationMS:   round2(float64(time.Since(start)) / float64(time.Millisecond)),
			TimeoutMS:         int(a.cfg.Timeout / time.Millisecond),
			AggregatorVersion: AggregatorVersion,
		},
	}

	a.logger.Info().
		Str("status", string(result.Status)).
		Float64("duration_ms", result.Meta.CheckDurationMS).
		Msg("ecosystem health check complete")

	return result
}

// probeAll fans out one goroutine per component; a slow or failing component
// never delays or fails the others.
func (a *Aggregator) probeAll(ctx context.Context) map[string]ComponentHealth {
	results := make([]ComponentHealth, len(a.cfg.Components))

	var wg sync.WaitGroup
	for i, comp := range a.cfg.Components {
		wg.Add(1)
		go func(i int, comp Component) {
			defer wg.Done()
			results[i] = a.prober.Probe(ctx, comp)
		}(i, comp)
	}
	wg.Wait()

	byKey := make(map[string]ComponentHealth, len(results))
	for i, comp := range a.cfg.Components {
		byKey[comp.Key] = results[i]
	}
	return byKey
}

// overallStatus applies the precedence rules: any unreachable or unhealthy
// component, or any failed critical connection, makes the ecosystem
// unhealthy; otherwise any degraded component makes it degraded. Disabled
// entities never contribute.
func overallStatus(components map[string]ComponentHealth, connections map[string]ConnectionHealth) Status {
	hasDegraded := false
	for _, comp := range components {
		switch comp.Status {
		case StatusUnreachable, StatusUnhealthy:
			return StatusUnhealthy
		case StatusDegraded:
			hasDegraded = true
		}
	}

	for _, conn := range connections {
		if conn.Critical && (conn.Status == StatusUnhealthy || conn.Status == StatusUnreachable) {
			return StatusUnhealthy
		}
	}

	if hasDegraded {
		return StatusDegraded
	}
	return StatusHealthy
}
