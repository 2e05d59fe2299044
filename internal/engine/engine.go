// Package engine runs the reconciliation control loop. A pass moves through
// Planning, Executing and Reporting, then returns to idle. Passes run on one
// goroutine, so they are strictly serialized by construction; triggers that
// arrive mid-pass coalesce in the target store's change channel and produce
// exactly one follow-up pass. Shutdown is cooperative: an in-flight pass
// finishes before the loop exits, so containers are never left mid-transition
// by the agent itself.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelkov/edge-agent/internal/current"
	"github.com/avelkov/edge-agent/internal/exec"
	"github.com/avelkov/edge-agent/internal/health"
	"github.com/avelkov/edge-agent/internal/healthcheck"
	"github.com/avelkov/edge-agent/internal/metrics"
	"github.com/avelkov/edge-agent/internal/notify"
	"github.com/avelkov/edge-agent/internal/plan"
	"github.com/avelkov/edge-agent/internal/report"
	"github.com/avelkov/edge-agent/internal/store"
	"github.com/avelkov/edge-agent/internal/target"
	"github.com/avelkov/edge-agent/internal/transition"
)

// Ticker is the minimal interface needed for driving the reconcile loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type timeTicker struct {
	ticker *time.Ticker
}

func (t timeTicker) C() <-chan time.Time {
	return t.ticker.C
}

func (t timeTicker) Stop() {
	t.ticker.Stop()
}

// Engine owns the agent's mutable reconciliation state and drives passes
// from two triggers: the fixed-cadence drift timer and target state changes.
type Engine struct {
	logger        zerolog.Logger
	targets       *target.Store
	reader        *current.Reader
	executor      *exec.Executor
	interval      time.Duration
	tickerFactory func(time.Duration) Ticker

	snapshots  *store.SnapshotStore
	reporter   *report.Reporter
	notifier   notify.Notifier
	metrics    *metrics.Metrics
	tracker    *healthcheck.Tracker
	deviceName string

	prevHealth map[string]health.ServiceHealth
}

// Option customizes engine behavior.
type Option func(*Engine)

// WithTickerFactory overrides how the drift timer is created.
func WithTickerFactory(factory func(time.Duration) Ticker) Option {
	return func(e *Engine) {
		e.tickerFactory = factory
	}
}

// WithSnapshotStore enables persistence of target and current snapshots.
func WithSnapshotStore(snapshots *store.SnapshotStore) Option {
	return func(e *Engine) {
		e.snapshots = snapshots
	}
}

// WithReporter enables upstream state reporting.
func WithReporter(reporter *report.Reporter) Option {
	return func(e *Engine) {
		e.reporter = reporter
	}
}

// WithNotifier enables transition notifications.
func WithNotifier(notifier notify.Notifier) Option {
	return func(e *Engine) {
		e.notifier = notifier
	}
}

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// WithTracker attaches a health endpoint tracker.
func WithTracker(tracker *healthcheck.Tracker) Option {
	return func(e *Engine) {
		e.tracker = tracker
	}
}

// WithDeviceName labels notifications with a device identity.
func WithDeviceName(name string) Option {
	return func(e *Engine) {
		e.deviceName = name
	}
}

// New constructs an Engine.
func New(logger zerolog.Logger, targets *target.Store, reader *current.Reader, executor *exec.Executor, interval time.Duration, opts ...Option) *Engine {
	e := &Engine{
		logger:   logger,
		targets:  targets,
		reader:   reader,
		executor: executor,
		interval: interval,
		tickerFactory: func(d time.Duration) Ticker {
			return timeTicker{ticker: time.NewTicker(d)}
		},
		deviceName: "default",
		prevHealth: map[string]health.ServiceHealth{},
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run drives reconciliation until the context is canceled. The first pass
// runs immediately so a restarted agent converges without waiting a full
// interval.
func (e *Engine) Run(ctx context.Context) error {
	if e.interval <= 0 {
		return errors.New("reconcile interval must be greater than zero")
	}

	if err := e.RunPass(ctx); err != nil {
		e.logger.Error().Err(err).Msg("initial reconciliation pass failed")
	}

	ticker := e.tickerFactory(e.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info().Msg("engine stopped")
			return nil
		case <-ticker.C():
			if err := e.RunPass(ctx); err != nil {
				e.logger.Error().Err(err).Msg("reconciliation pass failed")
			}
		case <-e.targets.Changed():
			e.logger.Info().Msg("target state changed")
			if err := e.RunPass(ctx); err != nil {
				e.logger.Error().Err(err).Msg("reconciliation pass failed")
			}
		}
	}
}

// RunPass executes a single reconciliation pass. Only a failure to observe
// the runtime aborts the pass; step, persistence, report and notification
// failures degrade it and the next pass retries by re-planning.
func (e *Engine) RunPass(ctx context.Context) error {
	started := time.Now()

	desired, haveTarget := e.targets.Get()
	if !haveTarget {
		e.logger.Warn().Msg("no target state yet, observing only")
		observed, err := e.reader.Snapshot(ctx)
		if err != nil {
			return err
		}
		e.persistCurrent(ctx, observed)
		return nil
	}

	observed, err := e.reader.Snapshot(ctx)
	if err != nil {
		return err
	}

	steps := plan.Plan(desired, observed)
	e.logger.Info().
		Int64("target_version", desired.Version).
		Int("services", len(desired.Services)).
		Int("steps", len(steps)).
		Msg("plan computed")

	var results []exec.StepResult
	if len(steps) > 0 {
		results = e.executor.Execute(ctx, steps)
	}
	stepFailures := e.recordStepResults(results)

	// Execution outcomes are only trusted as observed, never as assumed:
	// re-sample before persisting or reporting anything.
	converged, err := e.reader.Snapshot(ctx)
	if err != nil {
		return err
	}

	e.persistTarget(ctx, desired)
	e.persistCurrent(ctx, converged)

	summary := health.Evaluate(desired, converged, stepFailures)
	e.publishHealth(ctx, summary)

	if e.reporter != nil {
		if err := e.reporter.Report(ctx, desired.Version, converged); err != nil {
			e.logger.Warn().Err(err).Msg("state report failed")
		}
	}

	duration := time.Since(started)
	e.tracker.RecordPass(duration, len(summary.Services))
	e.metrics.ObservePassDuration(duration)
	e.metrics.SetLastSuccessfulPassTimestamp(time.Now().UTC())

	e.logger.Info().
		Dur("duration", duration).
		Str("status", string(summary.Status)).
		Msg("reconciliation pass complete")

	return nil
}

func (e *Engine) recordStepResults(results []exec.StepResult) map[string]string {
	failures := make(map[string]string)
	for _, result := range results {
		outcome := "applied"
		switch {
		case result.Skipped:
			outcome = "skipped"
		case result.Err != nil:
			outcome = "failed"
			if _, seen := failures[result.Step.Service]; !seen {
				failures[result.Step.Service] = result.Err.Error()
			}
		}
		e.metrics.IncStep(string(result.Step.Action), outcome)
	}
	return failures
}

func (e *Engine) publishHealth(ctx context.Context, summary health.Summary) {
	counts := map[health.ServiceStatus]int{}
	for _, svc := range summary.Services {
		counts[svc.Status]++
	}
	for _, status := range []health.ServiceStatus{health.StatusOK, health.StatusDegraded, health.StatusFailed} {
		e.metrics.SetServices(string(status), counts[status])
	}

	transitions := transition.Detect(e.prevHealth, summary)
	e.prevHealth = summary.Services

	for _, change := range transitions {
		event := e.logger.Info()
		switch change.CurrentStatus {
		case health.StatusFailed:
			event = e.logger.Error()
		case health.StatusDegraded:
			event = e.logger.Warn()
		}
		event.
			Str("service", change.Name).
			Str("previous_status", string(change.PreviousStatus)).
			Str("current_status", string(change.CurrentStatus)).
			Strs("reasons", change.Reasons).
			Msg("service transition detected")
	}

	if e.notifier != nil && len(transitions) > 0 {
		if err := e.notifier.Notify(ctx, e.deviceName, transitions); err != nil {
			e.logger.Warn().Err(err).Msg("transition notification failed")
		}
	}
}

// persistTarget caches the adopted target state. Failures are logged and
// swallowed; reconciliation keeps working from memory.
func (e *Engine) persistTarget(ctx context.Context, desired target.TargetState) {
	if e.snapshots == nil {
		return
	}
	payload, err := json.Marshal(desired)
	if err != nil {
		e.logger.Warn().Err(err).Msg("encode target snapshot failed")
		return
	}
	written, err := e.snapshots.Save(ctx, store.KindTarget, payload)
	if err != nil {
		e.logger.Warn().Err(err).Msg("persist target snapshot failed")
		return
	}
	if written {
		e.metrics.IncSnapshotWrites()
	}
}

func (e *Engine) persistCurrent(ctx context.Context, observed current.State) {
	if e.snapshots == nil {
		return
	}
	// ObservedAt changes every sample; persist only the service map so
	// identical states stay write-free.
	payload, err := json.Marshal(observed.Services)
	if err != nil {
		e.logger.Warn().Err(err).Msg("encode current snapshot failed")
		return
	}
	written, err := e.snapshots.Save(ctx, store.KindCurrent, payload)
	if err != nil {
		e.logger.Warn().Err(err).Msg("persist current snapshot failed")
		return
	}
	if written {
		e.metrics.IncSnapshotWrites()
	}
}
