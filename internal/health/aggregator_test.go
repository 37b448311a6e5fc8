package health_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/internal/health"
)

func healthyServer(t *testing.T) *httptest.Server {
	t.Helper()
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"healthy"}`))
	}))
	t.Cleanup(server.Close)
	return server
}

func TestCheckEcosystemHealthAllHealthy(t *testing.T) {
	server := healthyServer(t)

	agg := health.NewAggregator(health.AggregatorConfig{
		Ecosystem: "fleet",
		Components: []health.Component{
			{Key: "bot", HealthURL: server.URL, Enabled: true},
			{Key: "nlp", HealthURL: server.URL, Enabled: true},
		},
		Connections: []health.ConnectionCheck{
			{Source: "bot", Target: "nlp", Critical: true},
		},
		Timeout: time.Second,
	}, zerolog.Nop())

	result := agg.CheckEcosystemHealth(context.Background())

	assert.Equal(t, health.StatusHealthy, result.Status)
	assert.Equal(t, "fleet", result.Ecosystem)
	assert.Equal(t, 2, result.Summary["healthy"])
	assert.Equal(t, 0, result.Summary["unreachable"])
	assert.Len(t, result.Summary, 5)
	assert.Contains(t, result.Connections, "bot -> nlp")
	assert.GreaterOrEqual(t, result.Meta.CheckDurationMS, 0.0)
	assert.Equal(t, health.AggregatorVersion, result.Meta.AggregatorVersion)

	_, err := time.Parse(time.RFC3339, result.Timestamp)
	require.NoError(t, err)
}

func TestCheckEcosystemHealthUnreachableWins(t *testing.T) {
	server := healthyServer(t)

	agg := health.NewAggregator(health.AggregatorConfig{
		Components: []health.Component{
			{Key: "good", HealthURL: server.URL, Enabled: true},
			{Key: "gone", HealthURL: "http://127.0.0.1:1/health", Enabled: true},
		},
		Timeout: 200 * time.Millisecond,
	}, zerolog.Nop())

	result := agg.CheckEcosystemHealth(context.Background())

	assert.Equal(t, health.StatusUnhealthy, result.Status)
	assert.Equal(t, 1, result.Summary["healthy"])
	assert.Equal(t, 1, result.Summary["unreachable"])
}

func TestCheckEcosystemHealthDisabledNeverContributes(t *testing.T) {
	agg := health.NewAggregator(health.AggregatorConfig{
		Components: []health.Component{
			{Key: "off", HealthURL: "http://127.0.0.1:1/health", Enabled: false},
		},
		Timeout: time.Second,
	}, zerolog.Nop())

	result := agg.CheckEcosystemHealth(context.Background())

	assert.Equal(t, health.StatusHealthy, result.Status)
	assert.Equal(t, 1, result.Summary["disabled"])
}

func TestCheckEcosystemHealthDegraded(t *testing.T) {
	degraded := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"status":"degraded"}`))
	}))
	defer degraded.Close()

	agg := health.NewAggregator(health.AggregatorConfig{
		Components: []health.Component{
			{Key: "meh", HealthURL: degraded.URL, Enabled: true},
		},
		Timeout: time.Second,
	}, zerolog.Nop())

	result := agg.CheckEcosystemHealth(context.Background())
	assert.Equal(t, health.StatusDegraded, result.Status)
}

func TestCheckEcosystemHealthCriticalConnectionEscalates(t *testing.T) {
	// Combined latency over the critical threshold on a critical link,
	// with both endpoints individually healthy.
	components := map[string]health.ComponentHealth{
		"a": {Status: health.StatusHealthy, ResponseTimeMS: 3000},
		"b": {Status: health.StatusHealthy, ResponseTimeMS: 2800},
	}
	conn := health.InferConnection(health.ConnectionCheck{Source: "a", Target: "b", Critical: true}, components)
	require.Equal(t, health.StatusUnhealthy, conn.Status)
	assert.True(t, conn.Critical)
}
