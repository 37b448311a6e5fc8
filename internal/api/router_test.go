package api_test

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/internal/api"
	"github.com/fleetpulse/fleetpulse/internal/api/handler"
	"github.com/fleetpulse/fleetpulse/internal/health"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
)

type stubHealthSource struct {
	eco health.EcosystemHealth
}

func (s *stubHealthSource) EcosystemHealth(ctx context.Context) health.EcosystemHealth {
	return s.eco
}

type stubMetricsSource struct {
	uptime    *metrics.UptimeMetrics
	incidents []metrics.Incident
	history   []metrics.HistoryPoint
	stats     *metrics.StoreStats
	err       error

	lastUptimeComponent string
	lastUptimePeriod    time.Duration
	lastFilter          metrics.IncidentFilter
}

func (s *stubMetricsSource) Uptime(ctx context.Context, component string, period time.Duration) (*metrics.UptimeMetrics, error) {
	s.lastUptimeComponent = component
	s.lastUptimePeriod = period
	if s.err != nil {
		return nil, s.err
	}
	u := *s.uptime
	u.Component = component
	return &u, nil
}

func (s *stubMetricsSource) Incidents(ctx context.Context, filter metrics.IncidentFilter) ([]metrics.Incident, error) {
	s.lastFilter = filter
	return s.incidents, s.err
}

func (s *stubMetricsSource) History(ctx context.Context, period, resolution time.Duration) ([]metrics.HistoryPoint, error) {
	return s.history, s.err
}

func (s *stubMetricsSource) Stats(ctx context.Context) (*metrics.StoreStats, error) {
	return s.stats, s.err
}

func testEcosystem() health.EcosystemHealth {
	return health.EcosystemHealth{
		Ecosystem: "fleet",
		Status:    health.StatusHealthy,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Summary:   health.NewSummary(),
		Components: map[string]health.ComponentHealth{
			"bot": {Status: health.StatusHealthy, ResponseTimeMS: 42},
		},
		Connections: map[string]health.ConnectionHealth{},
	}
}

func testMetricsSource() *stubMetricsSource {
	return &stubMetricsSource{
		uptime: &metrics.UptimeMetrics{
			PeriodStart:    time.Now().UTC().Add(-7 * 24 * time.Hour),
			PeriodEnd:      time.Now().UTC(),
			TotalSeconds:   1000,
			HealthySeconds: 990,
		},
		stats: &metrics.StoreStats{TotalSnapshots: 10},
	}
}

func newTestRouter(source *stubMetricsSource) http.Handler {
	return api.NewRouter(api.RouterConfig{
		Version:       "1.0.0-test",
		Logger:        zerolog.Nop(),
		HealthSource:  &stubHealthSource{eco: testEcosystem()},
		MetricsSource: metricsOrNil(source),
		Components:    []string{"bot", "nlp"},
	})
}

// metricsOrNil keeps a typed nil from masquerading as a non-nil interface.
func metricsOrNil(source *stubMetricsSource) handler.MetricsSource {
	if source == nil {
		return nil
	}
	return source
}

func get(t *testing.T, router http.Handler, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)
	return rec
}

func TestEcosystemHealthEndpoint(t *testing.T) {
	rec := get(t, newTestRouter(testMetricsSource()), "/v1/health")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.NotEmpty(t, rec.Header().Get("X-Request-Id"))

	var eco health.EcosystemHealth
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &eco))
	assert.Equal(t, health.StatusHealthy, eco.Status)
	assert.Contains(t, eco.Components, "bot")
}

func TestUptimeAllComponents(t *testing.T) {
	source := testMetricsSource()
	rec := get(t, newTestRouter(source), "/v1/metrics/uptime")

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		PeriodDays int `json:"period_days"`
		Components []struct {
			Component        string  `json:"component"`
			UptimePercentage float64 `json:"uptime_percentage"`
		} `json:"components"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 7, body.PeriodDays)
	require.Len(t, body.Components, 2)
	assert.InDelta(t, 99.0, body.Components[0].UptimePercentage, 0.001)
}

func TestUptimeSingleComponent(t *testing.T) {
	source := testMetricsSource()
	rec := get(t, newTestRouter(source), "/v1/metrics/uptime/bot?days=30")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bot", source.lastUptimeComponent)
	assert.Equal(t, 30*24*time.Hour, source.lastUptimePeriod)
}

func TestUptimeUnknownComponent(t *testing.T) {
	rec := get(t, newTestRouter(testMetricsSource()), "/v1/metrics/uptime/ghost")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestUptimeInvalidDays(t *testing.T) {
	for _, query := range []string{"days=0", "days=-1", "days=abc", "days=9999"} {
		rec := get(t, newTestRouter(testMetricsSource()), "/v1/metrics/uptime?"+query)
		assert.Equal(t, http.StatusBadRequest, rec.Code, query)
	}
}

func TestIncidentsEndpoint(t *testing.T) {
	source := testMetricsSource()
	resolved := int64(300)
	source.incidents = []metrics.Incident{
		{
			ID:              1,
			Timestamp:       time.Now().UTC().Add(-time.Hour),
			EntityType:      metrics.EntityComponent,
			EntityName:      "bot",
			FromStatus:      health.StatusHealthy,
			ToStatus:        health.StatusUnreachable,
			DurationSeconds: &resolved,
		},
	}

	rec := get(t, newTestRouter(source), "/v1/metrics/incidents?component=bot&days=3&limit=10")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "bot", source.lastFilter.EntityName)
	assert.Equal(t, 10, source.lastFilter.Limit)
	require.NotNil(t, source.lastFilter.Start)

	var body struct {
		Count int `json:"count"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 1, body.Count)
}

func TestHistoryEndpoint(t *testing.T) {
	source := testMetricsSource()
	source.history = []metrics.HistoryPoint{
		{Timestamp: time.Now().UTC(), EcosystemStatus: health.StatusHealthy},
	}

	rec := get(t, newTestRouter(source), "/v1/metrics/history?hours=6&resolution=15m")

	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Hours      int    `json:"hours"`
		Resolution string `json:"resolution"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, 6, body.Hours)
	assert.Equal(t, "15m", body.Resolution)
}

func TestStatsEndpoint(t *testing.T) {
	rec := get(t, newTestRouter(testMetricsSource()), "/v1/metrics/stats")
	require.Equal(t, http.StatusOK, rec.Code)

	var stats metrics.StoreStats
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stats))
	assert.Equal(t, 10, stats.TotalSnapshots)
}

func TestMetricsDisabledReturns503(t *testing.T) {
	router := newTestRouter(nil)
	for _, path := range []string{
		"/v1/metrics/uptime",
		"/v1/metrics/uptime/bot",
		"/v1/metrics/incidents",
		"/v1/metrics/history",
		"/v1/metrics/stats",
	} {
		rec := get(t, router, path)
		assert.Equal(t, http.StatusServiceUnavailable, rec.Code, path)
	}
}

func TestMetricsSourceErrorReturns500(t *testing.T) {
	source := testMetricsSource()
	source.err = errors.New("store offline")

	rec := get(t, newTestRouter(source), "/v1/metrics/stats")
	assert.Equal(t, http.StatusInternalServerError, rec.Code)
}

func TestOpsEndpoints(t *testing.T) {
	rec := get(t, newTestRouter(testMetricsSource()), "/v1/ops/health")
	require.Equal(t, http.StatusOK, rec.Code)

	var body struct {
		Status  string                 `json:"status"`
		Details map[string]interface{} `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "1.0.0-test", body.Details["version"])

	rec = get(t, newTestRouter(testMetricsSource()), "/v1/ops/ready")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestReadinessFailure(t *testing.T) {
	router := api.NewRouter(api.RouterConfig{
		Logger:       zerolog.Nop(),
		HealthSource: &stubHealthSource{eco: testEcosystem()},
		Ready:        func() error { return errors.New("store unreachable") },
	})

	rec := get(t, router, "/v1/ops/ready")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestSecurityHeadersPresent(t *testing.T) {
	rec := get(t, newTestRouter(testMetricsSource()), "/v1/health")
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
}
