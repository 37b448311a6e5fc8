// Package main provides the entrypoint for the FleetPulse service.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/fleetpulse/fleetpulse/internal/alerting"
	"github.com/fleetpulse/fleetpulse/internal/api"
	"github.com/fleetpulse/fleetpulse/internal/api/handler"
	"github.com/fleetpulse/fleetpulse/internal/config"
	"github.com/fleetpulse/fleetpulse/internal/health"
	"github.com/fleetpulse/fleetpulse/internal/metrics"
	"github.com/fleetpulse/fleetpulse/internal/monitor"
	"github.com/fleetpulse/fleetpulse/internal/telemetry"
)

// Version and BuildTime are set at compile time via ldflags.
var (
	Version   = "dev"
	BuildTime = "unknown"
)

func main() {
	// Setup structured logging
	settings, err := config.Load(".env")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := zerolog.New(os.Stdout).
		Level(settings.ParseLogLevel()).
		With().
		Timestamp().
		Str("service", settings.Telemetry.ServiceName).
		Str("version", Version).
		Logger()

	log.Info().
		Str("build_time", BuildTime).
		Msg("starting FleetPulse")

	settings.Validate(log)

	// Load the fleet inventory
	inventory, warnings, err := config.LoadInventory(settings.Ecosystem.ComponentsFile)
	if err != nil {
		log.Fatal().Err(err).
			Str("file", settings.Ecosystem.ComponentsFile).
			Msg("failed to load component inventory")
	}
	for _, w := range warnings {
		log.Warn().Str("file", settings.Ecosystem.ComponentsFile).Msg(w)
	}
	log.Info().
		Int("components", len(inventory.Components)).
		Int("connections", len(inventory.Connections)).
		Msg("inventory loaded")

	// Initialize OpenTelemetry
	ctx := context.Background()

	tp, err := telemetry.Init(ctx, telemetry.Config{
		ServiceName:    settings.Telemetry.ServiceName,
		ServiceVersion: Version,
		Environment:    "production",
		OTLPEndpoint:   settings.Telemetry.OTLPEndpoint,
		Enabled:        settings.Telemetry.Enabled,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if shutdownErr := tp.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Error().Err(shutdownErr).Msg("failed to shutdown telemetry")
		}
	}()

	if settings.Telemetry.Enabled {
		log.Info().
			Str("otlp_endpoint", settings.Telemetry.OTLPEndpoint).
			Msg("OpenTelemetry initialized")
	}

	// Open the metrics store and build the engine. A store that cannot
	// be opened degrades the process to monitoring-only rather than
	// aborting it.
	engine := initMetrics(ctx, settings, log)
	if engine != nil {
		defer func() {
			if closeErr := engine.Close(); closeErr != nil {
				log.Error().Err(closeErr).Msg("failed to close metrics store")
			}
		}()
	}

	// Alerting: transition detector plus webhook notifier
	detector := alerting.NewDetector(alerting.DetectorConfig{
		Cooldown:           settings.Alerts.Cooldown,
		OnDegraded:         settings.Alerts.OnDegraded,
		OnRecovery:         settings.Alerts.OnRecovery,
		OnConnectionIssues: settings.Alerts.OnConnectionIssues,
		EcosystemName:      settings.Alerts.EcosystemName,
	}, log)

	if engine != nil {
		if states := engine.EntityStates(); len(states) > 0 {
			detector.SeedBaseline(states)
			log.Info().Int("entities", len(states)).Msg("alert baseline rehydrated from store")
		}
	}

	notifier := alerting.NewNotifier(alerting.NotifierConfig{
		WebhookURL:   settings.Alerts.WebhookURL,
		DisplayNames: inventory.DisplayNames(),
	}, log)
	if !notifier.Configured() {
		log.Warn().Msg("alert webhook not configured, transitions will be logged only")
	}

	// Health aggregation
	aggregator := health.NewAggregator(health.AggregatorConfig{
		Ecosystem:   settings.Ecosystem.Name,
		Components:  inventory.HealthComponents(),
		Connections: inventory.ConnectionChecks(),
		Timeout:     settings.Ecosystem.ProbeTimeout,
	}, log)

	// Monitor loop. The engine satisfies the recorder interface; a nil
	// recorder means the loop polls and alerts without persisting.
	var recorder monitor.Recorder
	if engine != nil {
		recorder = engine
	}

	runner := monitor.NewRunner(monitor.RunnerConfig{
		PollInterval:       settings.Ecosystem.PollInterval,
		MaintenanceHourUTC: settings.Metrics.MaintenanceHourUTC,
		CatchUpMaintenance: true,
	}, aggregator, detector, notifier, recorder, log)

	// HTTP API
	var metricsSource handler.MetricsSource
	var ready handler.ReadinessCheck
	if engine != nil {
		metricsSource = engine
		ready = func() error {
			statsCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_, statsErr := engine.Stats(statsCtx)
			return statsErr
		}
	}

	componentKeys := make([]string, 0, len(inventory.Components))
	for _, c := range inventory.Components {
		componentKeys = append(componentKeys, c.Key)
	}

	router := api.NewRouter(api.RouterConfig{
		Version:         Version,
		BuildTime:       BuildTime,
		Logger:          log,
		ServiceName:     settings.Telemetry.ServiceName,
		HealthSource:    runner,
		MetricsSource:   metricsSource,
		Components:      componentKeys,
		Ready:           ready,
		RateLimit:       settings.API.RateLimit,
		RateLimitWindow: settings.API.RateLimitWindow,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", settings.API.Host, settings.API.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Run the monitor loop until shutdown
	runCtx, cancelRun := context.WithCancel(ctx)
	defer cancelRun()

	runnerDone := make(chan error, 1)
	go func() {
		runnerDone <- runner.Run(runCtx)
	}()

	go func() {
		log.Info().
			Str("addr", server.Addr).
			Msg("server listening")

		if serveErr := server.ListenAndServe(); serveErr != nil && serveErr != http.ErrServerClosed {
			log.Fatal().Err(serveErr).Msg("server error")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("shutting down")
	cancelRun()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), settings.API.ShutdownTimeout)
	defer cancel()

	if shutdownErr := server.Shutdown(shutdownCtx); shutdownErr != nil {
		log.Error().Err(shutdownErr).Msg("server forced to shutdown")
	}

	if runErr := <-runnerDone; runErr != nil && !errors.Is(runErr, context.Canceled) {
		log.Error().Err(runErr).Msg("monitor loop exited with error")
	}

	log.Info().Msg("stopped")
}

// initMetrics opens the configured store and builds the metrics engine.
// Returns nil when metrics are disabled, or when the store cannot be
// opened or initialized: health monitoring and alerting then run for the
// process lifetime without historical storage, and the metrics endpoints
// answer 503. The failure is logged once here.
func initMetrics(ctx context.Context, settings config.Settings, log zerolog.Logger) *metrics.Engine {
	if !settings.Metrics.Enabled {
		log.Info().Msg("metrics disabled")
		return nil
	}

	store, err := openStore(settings.Metrics, log)
	if err != nil {
		log.Error().Err(err).
			Str("backend", settings.Metrics.Backend).
			Msg("failed to open metrics store, continuing without historical storage")
		return nil
	}

	engine := metrics.NewEngine(store, metrics.EngineConfig{
		EcosystemName:           settings.Ecosystem.Name,
		PollInterval:            settings.Ecosystem.PollInterval,
		RetentionSnapshotsDays:  settings.Metrics.RetentionSnapshotsDays,
		RetentionIncidentsDays:  settings.Metrics.RetentionIncidentsDays,
		RetentionAggregatesDays: settings.Metrics.RetentionAggregatesDays,
	}, log)

	if err := engine.Initialize(ctx); err != nil {
		log.Error().Err(err).
			Str("backend", settings.Metrics.Backend).
			Msg("failed to initialize metrics engine, continuing without historical storage")
		if closeErr := engine.Close(); closeErr != nil {
			log.Error().Err(closeErr).Msg("failed to close metrics store")
		}
		return nil
	}

	log.Info().Str("backend", settings.Metrics.Backend).Msg("metrics engine initialized")
	return engine
}

// openStore builds the configured metrics backend. Settings validation
// already guarantees Backend is one of sqlite or postgres.
func openStore(cfg config.MetricsSettings, log zerolog.Logger) (metrics.Store, error) {
	switch cfg.Backend {
	case "postgres":
		return metrics.NewPostgresStore(cfg.PostgresDSN, log)
	default:
		return metrics.NewSQLiteStore(cfg.SQLitePath, log)
	}
}
