// Package poller drives the conditional fetch loop for target state.
// Transport failures switch the schedule to capped exponential backoff with
// jitter so a fleet of agents does not hammer a recovering endpoint in
// lockstep; the first success snaps back to the nominal interval.
package poller

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog"

	"github.com/avelkov/edge-agent/internal/metrics"
	"github.com/avelkov/edge-agent/internal/target"
)

const jitterFactor = 0.3

// Poller periodically fetches target state and publishes adopted states to
// the store. It never plans or executes anything itself; the store's change
// channel is what wakes the reconciliation engine.
type Poller struct {
	logger      zerolog.Logger
	fetcher     Fetcher
	store       *target.Store
	interval    time.Duration
	maxInterval time.Duration
	metrics     *metrics.Metrics

	etag        string
	fingerprint string
	failures    int
	schedule    *backoff.ExponentialBackOff
}

// Option customizes poller behavior.
type Option func(*Poller)

// WithMetrics attaches a metrics collector.
func WithMetrics(m *metrics.Metrics) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithMaxInterval caps the backoff schedule. Values at or below the poll
// interval are ignored.
func WithMaxInterval(maxInterval time.Duration) Option {
	return func(p *Poller) {
		if maxInterval > p.interval {
			p.maxInterval = maxInterval
		}
	}
}

// New constructs a Poller publishing into the given store.
func New(logger zerolog.Logger, fetcher Fetcher, store *target.Store, interval time.Duration, opts ...Option) *Poller {
	p := &Poller{
		logger:      logger,
		fetcher:     fetcher,
		store:       store,
		interval:    interval,
		maxInterval: 5 * time.Minute,
	}
	for _, opt := range opts {
		opt(p)
	}

	schedule := backoff.NewExponentialBackOff()
	schedule.InitialInterval = p.interval
	schedule.Multiplier = 2
	schedule.RandomizationFactor = jitterFactor
	schedule.MaxInterval = p.maxInterval
	schedule.MaxElapsedTime = 0
	schedule.Reset()
	p.schedule = schedule

	return p
}

// Run polls until the context is canceled. The first poll happens
// immediately so a booting agent does not wait a full interval for its
// target state.
func (p *Poller) Run(ctx context.Context) error {
	if p.interval <= 0 {
		return errors.New("poll interval must be greater than zero")
	}

	wait := p.nextWait(p.PollOnce(ctx))
	timer := time.NewTimer(wait)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			p.logger.Info().Msg("poller stopped")
			return nil
		case <-timer.C:
			wait = p.nextWait(p.PollOnce(ctx))
			timer.Reset(wait)
		}
	}
}

// PollOnce performs a single conditional fetch. Only transport failures
// return an error; malformed payloads are rejected at the boundary and the
// previous state stays adopted.
func (p *Poller) PollOnce(ctx context.Context) error {
	result, err := p.fetcher.Fetch(ctx, p.etag)
	if err != nil {
		p.failures++
		p.metrics.IncPollFailures()
		p.logger.Warn().Err(err).Int("consecutive_failures", p.failures).Msg("target state fetch failed")
		return err
	}

	if p.failures > 0 {
		p.logger.Info().Int("recovered_after", p.failures).Msg("target state fetch recovered")
	}
	p.failures = 0
	p.schedule.Reset()

	// The ETag is adopted even when the payload later fails validation.
	// Re-fetching byte-identical garbage cannot yield a different parse, so
	// 304s against a rejected document are the desired behavior until the
	// server publishes new bytes.
	if result.ETag != "" {
		p.etag = result.ETag
	}

	if result.NotModified {
		p.logger.Debug().Msg("target state unchanged")
		return nil
	}

	fingerprint := target.Fingerprint(result.Body)
	if fingerprint == p.fingerprint {
		p.logger.Debug().Msg("target state fingerprint unchanged")
		return nil
	}

	state, err := target.ParseTargetState(result.Body)
	if err != nil {
		// Fail safe: a malformed document must never replace a valid state.
		p.metrics.IncParseFailures()
		p.logger.Warn().Err(err).Msg("rejected malformed target state")
		return nil
	}

	p.fingerprint = fingerprint
	p.store.Set(state)
	p.metrics.SetTargetVersion(state.Version)

	p.logger.Info().
		Int64("version", state.Version).
		Int("services", len(state.Services)).
		Str("etag", result.ETag).
		Msg("adopted new target state")

	return nil
}

// nextWait picks the nominal interval after a success and the backoff
// schedule's next value after a transport failure.
func (p *Poller) nextWait(err error) time.Duration {
	if err == nil {
		return p.interval
	}
	wait := p.schedule.NextBackOff()
	if wait == backoff.Stop || wait <= 0 {
		wait = p.maxInterval
	}
	p.logger.Debug().Dur("retry_in", wait).Msg("backing off target state polls")
	return wait
}
