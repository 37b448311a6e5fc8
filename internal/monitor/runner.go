// Package monitor drives the polling loop: it runs the ecosystem check on
// a fixed interval, hands each result to alerting and metrics on
// independent error domains, and schedules the daily maintenance pass.
package monitor

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"

	"github.com/fleetpulse/fleetpulse/internal/alerting"
	"github.com/fleetpulse/fleetpulse/internal/health"
)

// errorPause is how long the loop sits out after a cycle panics or the
// checker misbehaves, so a persistent fault cannot spin the loop hot.
const errorPause = 5 * time.Second

// Checker produces one ecosystem health result per cycle.
type Checker interface {
	CheckEcosystemHealth(ctx context.Context) health.EcosystemHealth
}

// Recorder receives each result for persistence. Nil-able: when metrics
// are disabled the runner skips recording entirely.
type Recorder interface {
	StoreSnapshot(ctx context.Context, eco *health.EcosystemHealth) (int64, error)
	DetectAndRecordIncidents(ctx context.Context, eco *health.EcosystemHealth) error
	DailyMaintenance(ctx context.Context) error
}

// RunnerConfig tunes the monitor loop.
type RunnerConfig struct {
	PollInterval time.Duration

	// MaintenanceHourUTC is the UTC hour when daily maintenance runs.
	MaintenanceHourUTC int

	// CatchUpMaintenance runs one maintenance pass at startup, covering
	// the case where the process was down at the scheduled hour.
	CatchUpMaintenance bool
}

// Runner owns the poll loop and the maintenance schedule.
type Runner struct {
	cfg      RunnerConfig
	checker  Checker
	detector *alerting.Detector
	notifier *alerting.Notifier
	recorder Recorder
	logger   zerolog.Logger

	cron *cron.Cron

	mu     sync.RWMutex
	latest *health.EcosystemHealth
}

// NewRunner wires a runner. recorder may be nil when metrics are
// disabled.
func NewRunner(cfg RunnerConfig, checker Checker, detector *alerting.Detector, notifier *alerting.Notifier, recorder Recorder, logger zerolog.Logger) *Runner {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 60 * time.Second
	}
	return &Runner{
		cfg:      cfg,
		checker:  checker,
		detector: detector,
		notifier: notifier,
		recorder: recorder,
		logger:   logger.With().Str("component", "monitor").Logger(),
	}
}

// Run blocks until ctx is cancelled, executing one check cycle per poll
// interval. The first cycle runs immediately.
func (r *Runner) Run(ctx context.Context) error {
	if err := r.startMaintenance(ctx); err != nil {
		return err
	}
	defer r.stopMaintenance()

	r.logger.Info().
		Dur("poll_interval", r.cfg.PollInterval).
		Msg("monitor loop starting")

	ticker := time.NewTicker(r.cfg.PollInterval)
	defer ticker.Stop()

	r.runCycle(ctx)
	for {
		select {
		case <-ctx.Done():
			r.logger.Info().Msg("monitor loop stopping")
			return ctx.Err()
		case <-ticker.C:
			r.runCycle(ctx)
		}
	}
}

// runCycle executes one probe-detect-record pass. A panic anywhere in the
// cycle is contained: the loop logs it, pauses briefly, and carries on.
func (r *Runner) runCycle(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("check cycle panicked")
			r.pause(ctx, errorPause)
		}
	}()

	eco := r.checker.CheckEcosystemHealth(ctx)
	if ctx.Err() != nil {
		return
	}

	r.mu.Lock()
	r.latest = &eco
	r.mu.Unlock()

	r.processAlerts(ctx, eco)
	r.recordMetrics(ctx, eco)
}

// EcosystemHealth serves the most recent poll result; before the first
// cycle completes it runs an on-demand check instead.
func (r *Runner) EcosystemHealth(ctx context.Context) health.EcosystemHealth {
	r.mu.RLock()
	latest := r.latest
	r.mu.RUnlock()
	if latest != nil {
		return *latest
	}
	return r.checker.CheckEcosystemHealth(ctx)
}

// processAlerts detects transitions and delivers alerts. The cooldown is
// recorded only after the webhook delivery attempt completes, so a push
// that is still in flight cannot suppress itself.
func (r *Runner) processAlerts(ctx context.Context, eco health.EcosystemHealth) {
	if !r.detector.Initialized() {
		r.detector.SetInitialState(eco)
		r.logger.Info().Msg("alert baseline captured")
		return
	}

	transitions := r.detector.DetectTransitions(eco)
	if len(transitions) == 0 {
		return
	}

	r.logger.Info().Int("transitions", len(transitions)).Msg("status transitions detected")

	var deliverable []alerting.StatusTransition
	for _, t := range transitions {
		if r.detector.ShouldAlert(t) {
			deliverable = append(deliverable, t)
		}
	}
	if len(deliverable) == 0 || !r.notifier.Configured() {
		return
	}

	var sent bool
	if len(deliverable) == 1 {
		sent = r.notifier.SendAlert(ctx, deliverable[0])
	} else {
		sent = r.notifier.SendSummary(ctx, deliverable, eco.Status)
	}
	if !sent {
		r.logger.Warn().Int("count", len(deliverable)).Msg("alert delivery failed")
		return
	}
	for _, t := range deliverable {
		r.detector.RecordAlertSent(t)
	}
}

// recordMetrics persists the snapshot and updates the incident ledger.
// Failures here never affect alerting; they are logged and the cycle
// continues.
func (r *Runner) recordMetrics(ctx context.Context, eco health.EcosystemHealth) {
	if r.recorder == nil {
		return
	}
	if _, err := r.recorder.StoreSnapshot(ctx, &eco); err != nil {
		r.logger.Error().Err(err).Msg("failed to store snapshot")
	}
	if err := r.recorder.DetectAndRecordIncidents(ctx, &eco); err != nil {
		r.logger.Error().Err(err).Msg("failed to record incidents")
	}
}

func (r *Runner) startMaintenance(ctx context.Context) error {
	if r.recorder == nil {
		return nil
	}

	r.cron = cron.New(cron.WithLocation(time.UTC))
	spec := fmt.Sprintf("0 %d * * *", r.cfg.MaintenanceHourUTC)
	_, err := r.cron.AddFunc(spec, func() {
		r.runMaintenance(ctx)
	})
	if err != nil {
		return fmt.Errorf("scheduling daily maintenance: %w", err)
	}
	r.cron.Start()

	r.logger.Info().Str("schedule", spec).Msg("daily maintenance scheduled")

	if r.cfg.CatchUpMaintenance {
		// Covers a restart that slept through the scheduled hour.
		go r.runMaintenance(ctx)
	}
	return nil
}

func (r *Runner) runMaintenance(ctx context.Context) {
	defer func() {
		if rec := recover(); rec != nil {
			r.logger.Error().Interface("panic", rec).Msg("daily maintenance panicked")
		}
	}()

	mctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	if err := r.recorder.DailyMaintenance(mctx); err != nil {
		r.logger.Error().Err(err).Msg("daily maintenance failed")
		return
	}
}

func (r *Runner) stopMaintenance() {
	if r.cron != nil {
		<-r.cron.Stop().Done()
	}
}

func (r *Runner) pause(ctx context.Context, d time.Duration) {
	select {
	case <-ctx.Done():
	case <-time.After(d):
	}
}
