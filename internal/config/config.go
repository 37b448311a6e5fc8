// Package config loads runtime settings from the environment and the
// fleet inventory from a JSON file. Environment variables are processed
// with envconfig under the FLEETPULSE_ prefix; a .env file, when present,
// is loaded first.
package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
)

// Settings holds all environment-driven configuration.
type Settings struct {
	Ecosystem EcosystemSettings
	Alerts    AlertSettings
	Metrics   MetricsSettings
	API       APISettings
	Telemetry TelemetrySettings

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

type EcosystemSettings struct {
	Name           string        `envconfig:"ECOSYSTEM_NAME" default:"fleet"`
	ComponentsFile string        `envconfig:"COMPONENTS_FILE" default:"components.json"`
	PollInterval   time.Duration `envconfig:"POLL_INTERVAL" default:"60s"`
	ProbeTimeout   time.Duration `envconfig:"PROBE_TIMEOUT" default:"10s"`
}

type AlertSettings struct {
	WebhookURL         string        `envconfig:"ALERT_WEBHOOK_URL"`
	Cooldown           time.Duration `envconfig:"ALERT_COOLDOWN" default:"5m"`
	OnDegraded         bool          `envconfig:"ALERT_ON_DEGRADED" default:"true"`
	OnRecovery         bool          `envconfig:"ALERT_ON_RECOVERY" default:"true"`
	OnConnectionIssues bool          `envconfig:"ALERT_ON_CONNECTION_ISSUES" default:"true"`
	EcosystemName      string        `envconfig:"ALERT_ECOSYSTEM_NAME" default:"Fleet Ecosystem"`
}

type MetricsSettings struct {
	Enabled     bool   `envconfig:"METRICS_ENABLED" default:"true"`
	Backend     string `envconfig:"METRICS_BACKEND" default:"sqlite"`
	SQLitePath  string `envconfig:"METRICS_SQLITE_PATH" default:"data/fleetpulse.db"`
	PostgresDSN string `envconfig:"METRICS_POSTGRES_DSN"`

	RetentionSnapshotsDays  int `envconfig:"METRICS_RETENTION_SNAPSHOTS_DAYS" default:"30"`
	RetentionIncidentsDays  int `envconfig:"METRICS_RETENTION_INCIDENTS_DAYS" default:"90"`
	RetentionAggregatesDays int `envconfig:"METRICS_RETENTION_AGGREGATES_DAYS" default:"365"`

	MaintenanceHourUTC int `envconfig:"METRICS_MAINTENANCE_HOUR_UTC" default:"3"`
}

type APISettings struct {
	Host            string        `envconfig:"API_HOST" default:"0.0.0.0"`
	Port            int           `envconfig:"API_PORT" default:"8080"`
	RateLimit       int           `envconfig:"API_RATE_LIMIT" default:"60"`
	RateLimitWindow time.Duration `envconfig:"API_RATE_LIMIT_WINDOW" default:"1m"`
	ShutdownTimeout time.Duration `envconfig:"API_SHUTDOWN_TIMEOUT" default:"10s"`
}

type TelemetrySettings struct {
	Enabled      bool   `envconfig:"OTEL_ENABLED" default:"false"`
	OTLPEndpoint string `envconfig:"OTEL_EXPORTER_OTLP_ENDPOINT" default:"localhost:4317"`
	ServiceName  string `envconfig:"OTEL_SERVICE_NAME" default:"fleetpulse"`
}

// Load reads a .env file (if one exists at envPath) and processes the
// environment into Settings. envPath may be empty to skip the file.
func Load(envPath string) (Settings, error) {
	if envPath != "" {
		_ = godotenv.Load(envPath)
	}

	var cfg Settings
	if err := envconfig.Process("fleetpulse", &cfg); err != nil {
		return Settings{}, fmt.Errorf("processing environment: %w", err)
	}
	return cfg, nil
}

// Validate clamps out-of-range values back to safe defaults, logging each
// correction. Invalid configuration degrades, it does not abort.
func (s *Settings) Validate(logger zerolog.Logger) {
	if s.Ecosystem.PollInterval < 5*time.Second {
		logger.Warn().
			Dur("poll_interval", s.Ecosystem.PollInterval).
			Msg("poll interval below 5s, using 60s")
		s.Ecosystem.PollInterval = 60 * time.Second
	}
	if s.Ecosystem.ProbeTimeout <= 0 {
		logger.Warn().Msg("probe timeout not positive, using 10s")
		s.Ecosystem.ProbeTimeout = 10 * time.Second
	}
	if s.Ecosystem.ProbeTimeout >= s.Ecosystem.PollInterval {
		logger.Warn().
			Dur("probe_timeout", s.Ecosystem.ProbeTimeout).
			Dur("poll_interval", s.Ecosystem.PollInterval).
			Msg("probe timeout exceeds poll interval, capping to half the interval")
		s.Ecosystem.ProbeTimeout = s.Ecosystem.PollInterval / 2
	}
	if s.Alerts.Cooldown < 0 {
		logger.Warn().Msg("negative alert cooldown, using 5m")
		s.Alerts.Cooldown = 5 * time.Minute
	}
	if s.Metrics.Backend != "sqlite" && s.Metrics.Backend != "postgres" {
		logger.Warn().Str("backend", s.Metrics.Backend).Msg("unknown metrics backend, using sqlite")
		s.Metrics.Backend = "sqlite"
	}
	if s.Metrics.Backend == "postgres" && s.Metrics.PostgresDSN == "" {
		logger.Warn().Msg("postgres backend selected without a DSN, falling back to sqlite")
		s.Metrics.Backend = "sqlite"
	}
	if s.Metrics.MaintenanceHourUTC < 0 || s.Metrics.MaintenanceHourUTC > 23 {
		logger.Warn().Int("hour", s.Metrics.MaintenanceHourUTC).Msg("maintenance hour out of range, using 3")
		s.Metrics.MaintenanceHourUTC = 3
	}
	if s.API.Port <= 0 || s.API.Port > 65535 {
		logger.Warn().Int("port", s.API.Port).Msg("api port out of range, using 8080")
		s.API.Port = 8080
	}
}

// ParseLogLevel maps the configured level string to a zerolog level,
// defaulting to info.
func (s *Settings) ParseLogLevel() zerolog.Level {
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil || level == zerolog.NoLevel {
		return zerolog.InfoLevel
	}
	return level
}
