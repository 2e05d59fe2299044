// Package agent wires the poller, reconciliation engine, persistence and
// observability surfaces into one runnable unit.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/avelkov/edge-agent/internal/config"
	"github.com/avelkov/edge-agent/internal/current"
	"github.com/avelkov/edge-agent/internal/engine"
	"github.com/avelkov/edge-agent/internal/exec"
	"github.com/avelkov/edge-agent/internal/healthcheck"
	"github.com/avelkov/edge-agent/internal/metrics"
	"github.com/avelkov/edge-agent/internal/notify"
	"github.com/avelkov/edge-agent/internal/poller"
	"github.com/avelkov/edge-agent/internal/report"
	"github.com/avelkov/edge-agent/internal/runtime"
	"github.com/avelkov/edge-agent/internal/server"
	"github.com/avelkov/edge-agent/internal/store"
	"github.com/avelkov/edge-agent/internal/target"
)

const fetchTimeout = 30 * time.Second

// Agent owns the long-running components of the edge agent.
type Agent struct {
	logger    zerolog.Logger
	cfg       config.Config
	rt        runtime.Runtime
	snapshots *store.SnapshotStore
	targets   *target.Store
}

// New constructs an Agent. The runtime must already be connected; snapshots
// may be nil to run without persistence.
func New(logger zerolog.Logger, cfg config.Config, rt runtime.Runtime, snapshots *store.SnapshotStore) *Agent {
	return &Agent{
		logger:    logger,
		cfg:       cfg,
		rt:        rt,
		snapshots: snapshots,
		targets:   target.NewStore(),
	}
}

// Run seeds the target store, starts the poller and reconciliation engine,
// and blocks until the context is canceled and both loops have exited.
func (a *Agent) Run(ctx context.Context) error {
	a.seedTargetState(ctx)

	collector := metrics.New()
	tracker := healthcheck.NewTracker()

	server.Start(ctx, a.logger, a.cfg.ReconcileInterval, tracker, collector, a.cfg.HealthPort, a.cfg.MetricsPort)

	reader := current.NewReader(a.rt)
	executor := exec.New(a.logger, a.rt)

	reporter, err := a.buildReporter()
	if err != nil {
		return err
	}
	notifier, err := a.buildNotifier()
	if err != nil {
		return err
	}

	eng := engine.New(
		a.logger,
		a.targets,
		reader,
		executor,
		a.cfg.ReconcileInterval,
		engine.WithSnapshotStore(a.snapshots),
		engine.WithReporter(reporter),
		engine.WithNotifier(notifier),
		engine.WithMetrics(collector),
		engine.WithTracker(tracker),
		engine.WithDeviceName(a.cfg.DeviceName),
	)

	var wg sync.WaitGroup

	if a.cfg.StateURL != "" {
		fetcher, err := poller.NewHTTPFetcher(a.cfg.StateURL, fetchTimeout, 0)
		if err != nil {
			return fmt.Errorf("initialize target state fetcher: %w", err)
		}
		p := poller.New(
			a.logger,
			fetcher,
			a.targets,
			a.cfg.PollInterval,
			poller.WithMaxInterval(a.cfg.MaxPollInterval),
			poller.WithMetrics(collector),
		)
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := p.Run(ctx); err != nil {
				a.logger.Error().Err(err).Msg("poller exited with error")
			}
		}()
	} else {
		a.logger.Info().Msg("no state URL configured, running from local target state only")
	}

	wg.Add(1)
	go func() {
		defer wg.Done()
		if err := eng.Run(ctx); err != nil {
			a.logger.Error().Err(err).Msg("engine exited with error")
		}
	}()

	wg.Wait()
	a.logger.Info().Msg("agent stopped")
	return nil
}

// seedTargetState recovers the last adopted target from disk, falling back
// to the bootstrap compose file for a first boot. Failures here are logged
// and tolerated; the poller can still deliver a target later.
func (a *Agent) seedTargetState(ctx context.Context) {
	if a.snapshots != nil {
		snapshot, ok, err := a.snapshots.Load(ctx, store.KindTarget)
		if err != nil {
			a.logger.Warn().Err(err).Msg("load persisted target state failed")
		} else if ok {
			var persisted target.TargetState
			if err := json.Unmarshal(snapshot.StateJSON, &persisted); err != nil {
				a.logger.Warn().Err(err).Msg("decode persisted target state failed")
			} else {
				a.targets.Set(persisted)
				a.logger.Info().
					Int64("version", persisted.Version).
					Time("saved_at", snapshot.UpdatedAt).
					Msg("target state recovered from disk")
				return
			}
		}
	}

	if a.cfg.BootstrapCompose == "" {
		return
	}

	bootstrapped, err := target.LoadComposeFile(ctx, a.cfg.BootstrapCompose)
	if err != nil {
		a.logger.Warn().
			Err(err).
			Str("path", a.cfg.BootstrapCompose).
			Msg("load bootstrap compose failed")
		return
	}
	a.targets.Set(bootstrapped)
	a.logger.Info().
		Str("path", a.cfg.BootstrapCompose).
		Int("services", len(bootstrapped.Services)).
		Msg("target state bootstrapped from compose file")
}

func (a *Agent) buildReporter() (*report.Reporter, error) {
	if a.cfg.ReportURL == "" {
		return nil, nil
	}
	return report.New(a.logger, a.cfg.ReportURL), nil
}

func (a *Agent) buildNotifier() (notify.Notifier, error) {
	notifiers := make([]notify.Notifier, 0, 2)

	if a.cfg.SlackWebhookURL != "" {
		notifiers = append(notifiers, notify.NewSlackNotifier(a.logger, a.cfg.SlackWebhookURL))
	}

	webhook, err := notify.NewWebhookNotifier(a.logger, a.cfg.WebhookURL, "")
	if err != nil {
		return nil, fmt.Errorf("initialize webhook notifier: %w", err)
	}
	if webhook != nil {
		notifiers = append(notifiers, webhook)
	}

	if len(notifiers) == 0 {
		return nil, nil
	}

	var notifier notify.Notifier = notify.NewMultiNotifier(notifiers...)
	if a.cfg.DryRunNotifications {
		notifier = notify.NewDryRunNotifier(a.logger, notifier)
	}
	return notifier, nil
}
