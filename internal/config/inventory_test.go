package config_test

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fleetpulse/fleetpulse/internal/config"
)

func writeInventory(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "components.json")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadInventory(t *testing.T) {
	path := writeInventory(t, `{
		"components": [
			{"key": "bot", "name": "Fleet Bot", "health_url": "http://bot:8080/health", "display_name": "Fleet Bot"},
			{"key": "nlp", "health_url": "http://nlp:8081/health"},
			{"key": "legacy", "enabled": false}
		],
		"connections": [
			{"source": "bot", "target": "nlp", "critical": true}
		]
	}`)

	inv, warnings, err := config.LoadInventory(path)
	require.NoError(t, err)
	assert.Empty(t, warnings)

	components := inv.HealthComponents()
	require.Len(t, components, 3)
	assert.Equal(t, "bot", components[0].Key)
	assert.Equal(t, "Fleet Bot", components[0].Name)
	assert.True(t, components[0].Enabled)
	// Name defaults to key.
	assert.Equal(t, "nlp", components[1].Name)
	assert.False(t, components[2].Enabled)

	checks := inv.ConnectionChecks()
	require.Len(t, checks, 1)
	assert.Equal(t, "bot", checks[0].Source)
	assert.True(t, checks[0].Critical)

	names := inv.DisplayNames()
	assert.Equal(t, map[string]string{"bot": "Fleet Bot"}, names)
}

func TestLoadInventoryEnvSubstitution(t *testing.T) {
	t.Setenv("BOT_HOST", "bot.internal:9000")
	path := writeInventory(t, `{
		"components": [
			{"key": "bot", "health_url": "http://${BOT_HOST}/health"},
			{"key": "nlp", "health_url": "http://${MISSING_HOST}/health"}
		]
	}`)

	inv, warnings, err := config.LoadInventory(path)
	require.NoError(t, err)

	components := inv.HealthComponents()
	assert.Equal(t, "http://bot.internal:9000/health", components[0].HealthURL)
	// Unset variables substitute empty and warn.
	assert.Equal(t, "http:///health", components[1].HealthURL)
	require.Len(t, warnings, 1)
	assert.Contains(t, warnings[0], "MISSING_HOST")
}

func TestLoadInventoryValidation(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name:    "no components",
			content: `{"components": []}`,
			wantErr: "no components",
		},
		{
			name:    "duplicate key",
			content: `{"components": [{"key": "a", "health_url": "http://a"}, {"key": "a", "health_url": "http://a"}]}`,
			wantErr: "duplicate component key",
		},
		{
			name:    "enabled without url",
			content: `{"components": [{"key": "a"}]}`,
			wantErr: "no health_url",
		},
		{
			name:    "unknown connection source",
			content: `{"components": [{"key": "a", "health_url": "http://a"}], "connections": [{"source": "x", "target": "a"}]}`,
			wantErr: "unknown source",
		},
		{
			name:    "invalid json",
			content: `{`,
			wantErr: "parsing inventory",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			path := writeInventory(t, tc.content)
			_, _, err := config.LoadInventory(path)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tc.wantErr)
		})
	}
}

func TestLoadInventoryMissingFile(t *testing.T) {
	_, _, err := config.LoadInventory(filepath.Join(t.TempDir(), "nope.json"))
	assert.Error(t, err)
}
