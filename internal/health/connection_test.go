package health_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/fleetpulse/fleetpulse/internal/health"
)

func TestInferConnectionCombinedLatency(t *testing.T) {
	components := map[string]health.ComponentHealth{
		"bot": {Name: "bot", Status: health.StatusHealthy, ResponseTimeMS: 300},
		"nlp": {Name: "nlp", Status: health.StatusHealthy, ResponseTimeMS: 400},
	}

	conn := health.InferConnection(health.ConnectionCheck{Source: "bot", Target: "nlp"}, components)

	assert.Equal(t, "bot -> nlp", conn.Name)
	assert.Equal(t, health.StatusHealthy, conn.Status)
	assert.InDelta(t, 700, conn.LatencyMS, 0.01)
}

func TestInferConnectionThresholds(t *testing.T) {
	tests := []struct {
		name     string
		sourceMS float64
		targetMS float64
		expected health.Status
	}{
		{"fast link", 200, 300, health.StatusHealthy},
		{"degraded link", 600, 600, health.StatusDegraded},
		{"unhealthy link", 3000, 2500, health.StatusUnhealthy},
		{"missing response times", 0, 0, health.StatusHealthy},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			components := map[string]health.ComponentHealth{
				"a": {Status: health.StatusHealthy, ResponseTimeMS: tt.sourceMS},
				"b": {Status: health.StatusHealthy, ResponseTimeMS: tt.targetMS},
			}
			conn := health.InferConnection(health.ConnectionCheck{Source: "a", Target: "b"}, components)
			assert.Equal(t, tt.expected, conn.Status)
		})
	}
}

func TestInferConnectionUnavailableEndpoints(t *testing.T) {
	components := map[string]health.ComponentHealth{
		"up":       {Status: health.StatusHealthy, ResponseTimeMS: 100},
		"down":     {Status: health.StatusUnreachable},
		"disabled": {Status: health.StatusDisabled},
	}

	conn := health.InferConnection(health.ConnectionCheck{Source: "down", Target: "up", Critical: true}, components)
	assert.Equal(t, health.StatusDisabled, conn.Status)
	assert.Equal(t, "Source (down) unavailable", conn.Error)
	assert.True(t, conn.Critical)

	conn = health.InferConnection(health.ConnectionCheck{Source: "up", Target: "disabled"}, components)
	assert.Equal(t, health.StatusDisabled, conn.Status)
	assert.Equal(t, "Target (disabled) unavailable", conn.Error)

	conn = health.InferConnection(health.ConnectionCheck{Source: "up", Target: "missing"}, components)
	assert.Equal(t, health.StatusDisabled, conn.Status)
}

func TestConnectionCheckDisplayName(t *testing.T) {
	assert.Equal(t, "custom", health.ConnectionCheck{Source: "a", Target: "b", Name: "custom"}.DisplayName())
	assert.Equal(t, "a -> b", health.ConnectionCheck{Source: "a", Target: "b"}.DisplayName())
}
