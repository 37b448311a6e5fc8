package main

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/internal/config"
)

func metricsSettings(t *testing.T) config.Settings {
	t.Helper()
	return config.Settings{
		Metrics: config.MetricsSettings{
			Enabled:    true,
			Backend:    "sqlite",
			SQLitePath: filepath.Join(t.TempDir(), "fleetpulse.db"),
		},
	}
}

func TestInitMetrics_OpensEngine(t *testing.T) {
	settings := metricsSettings(t)

	engine := initMetrics(context.Background(), settings, zerolog.Nop())
	require.NotNil(t, engine)
	defer engine.Close()

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalSnapshots)
}

func TestInitMetrics_DisabledReturnsNil(t *testing.T) {
	settings := metricsSettings(t)
	settings.Metrics.Enabled = false

	assert.Nil(t, initMetrics(context.Background(), settings, zerolog.Nop()))
}

func TestInitMetrics_StoreFailureDegradesNotFatal(t *testing.T) {
	// Point the database path under a regular file so the store's
	// directory creation fails.
	blocker := filepath.Join(t.TempDir(), "blocker")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o600))

	settings := metricsSettings(t)
	settings.Metrics.SQLitePath = filepath.Join(blocker, "sub", "fleetpulse.db")

	assert.Nil(t, initMetrics(context.Background(), settings, zerolog.Nop()))
}
