package health

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog"
)

// Latency thresholds for status classification, in milliseconds.
const (
	LatencyWarningMS  = 1000
	LatencyCriticalMS = 5000
)

// Component describes one monitored service.
type Component struct {
	// Key is the stable identifier (e.g. "ash_nlp").
	Key string
	// Name is the human-readable name; defaults to Key when empty.
	Name string
	// HealthURL is the component's health endpoint.
	HealthURL string
	// Enabled gates probing; disabled components report StatusDisabled
	// without a network call.
	Enabled bool
}

// Prober issues health checks against individual components and classifies
// the outcome. A probe never returns an error; every failure mode degrades
// to a status value plus an error string on the ComponentHealth.
type Prober struct {
	client  *http.Client
	timeout time.Duration
	logger  zerolog.Logger
}

// NewProber creates a Prober. timeout bounds each individual probe.
func NewProber(timeout time.Duration, logger zerolog.Logger) *Prober {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Prober{
		client:  &http.Client{Timeout: timeout},
		timeout: timeout,
		logger:  logger.With().Str("component", "prober").Logger(),
	}
}

// probeBody is the subset of a health endpoint response we understand.
type probeBody struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	UptimeSeconds int64  `json:"uptime_seconds"`
}

// Probe checks one component and returns exactly one ComponentHealth.
func (p *Prober) Probe(ctx context.Context, comp Component) ComponentHealth {
	name := comp.Name
	if name == "" {
		name = comp.Key
	}

	if !comp.Enabled {
		return ComponentHealth{
			Name:     name,
			Status:   StatusDisabled,
			Endpoint: comp.HealthURL,
		}
	}

	p.logger.Debug().Str("name", name).Str("url", comp.HealthURL).Msg("probing component")

	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, comp.HealthURL, nil)
	if err != nil {
		return ComponentHealth{
			Name:     name,
			Status:   StatusUnreachable,
			Endpoint: comp.HealthURL,
			Error:    err.Error(),
		}
	}

	start := time.Now()
	resp, err := p.client.Do(req)
	responseTime := float64(time.Since(start)) / float64(time.Millisecond)

	if err != nil {
		return ComponentHealth{
			Name:     name,
			Status:   StatusUnreachable,
			Endpoint: comp.HealthURL,
			Error:    classifyProbeError(err),
		}
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		p.logger.Warn().Str("name", name).Int("status_code", resp.StatusCode).Msg("component returned non-200")
		return ComponentHealth{
			Name:           name,
			Status:         StatusUnhealthy,
			Endpoint:       comp.HealthURL,
			ResponseTimeMS: round2(responseTime),
			Error:          fmt.Sprintf("HTTP %d", resp.StatusCode),
		}
	}

	// Best-effort body parse: a malformed body still counts as a 200.
	var body probeBody
	var details map[string]interface{}
	raw, readErr := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if readErr == nil {
		_ = json.Unmarshal(raw, &body)
		_ = json.Unmarshal(raw, &details)
	}

	return ComponentHealth{
		Name:           name,
		Status:         classifyComponentStatus(responseTime, body.Status),
		Endpoint:       comp.HealthURL,
		ResponseTimeMS: round2(responseTime),
		Version:        body.Version,
		UptimeSeconds:  body.UptimeSeconds,
		Details:        details,
	}
}

// classifyComponentStatus derives a status from latency and the component's
// self-reported status. A self-reported unhealthy/degraded overrides the
// latency-only classification.
func classifyComponentStatus(responseTimeMS float64, reported string) Status {
	switch strings.ToLower(reported) {
	case string(StatusUnhealthy):
		return StatusUnhealthy
	case string(StatusDegraded):
		return StatusDegraded
	}

	if responseTimeMS > LatencyCriticalMS {
		return StatusUnhealthy
	}
	if responseTimeMS > LatencyWarningMS {
		return StatusDegraded
	}
	return StatusHealthy
}

// classifyProbeError maps transport failures onto the fixed error strings
// surfaced in ComponentHealth.
func classifyProbeError(err error) string {
	if errors.Is(err, context.DeadlineExceeded) {
		return "Connection timeout"
	}
	var netErr interface{ Timeout() bool }
	if errors.As(err, &netErr) && netErr.Timeout() {
		return "Connection timeout"
	}
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.EHOSTUNREACH) {
		return "Connection refused"
	}
	return err.Error()
}

func round2(v float64) float64 {
	return float64(int64(v*100+0.5)) / 100
}
