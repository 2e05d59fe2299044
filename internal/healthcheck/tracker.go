package healthcheck

import (
	"sync"
	"time"
)

// Snapshot describes the latest reconciliation pass timing details.
type Snapshot struct {
	LastPassTime    *time.Time `json:"last_pass_time"`
	PassDurationMS  int64      `json:"pass_duration_ms"`
	ServicesManaged int        `json:"services_managed"`
}

// Tracker records pass timing for health endpoints.
type Tracker struct {
	mu              sync.RWMutex
	lastPass        time.Time
	passDuration    time.Duration
	servicesManaged int
	ready           bool
}

// NewTracker constructs a new Tracker.
func NewTracker() *Tracker {
	return &Tracker{}
}

// RecordPass updates pass timing and readiness.
func (t *Tracker) RecordPass(duration time.Duration, servicesManaged int) {
	if t == nil {
		return
	}
	now := time.Now().UTC()
	t.mu.Lock()
	t.lastPass = now
	t.passDuration = duration
	t.servicesManaged = servicesManaged
	t.ready = true
	t.mu.Unlock()
}

// Snapshot returns the current tracker snapshot.
func (t *Tracker) Snapshot() Snapshot {
	if t == nil {
		return Snapshot{}
	}
	t.mu.RLock()
	defer t.mu.RUnlock()

	var last *time.Time
	if !t.lastPass.IsZero() {
		value := t.lastPass
		last = &value
	}
	return Snapshot{
		LastPassTime:    last,
		PassDurationMS:  int64(t.passDuration / time.Millisecond),
		ServicesManaged: t.servicesManaged,
	}
}

// Ready reports whether at least one reconciliation pass has completed.
func (t *Tracker) Ready() bool {
	if t == nil {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.ready
}

// Healthy reports whether the last pass completed within 2x the reconcile
// interval.
func (t *Tracker) Healthy(now time.Time, reconcileInterval time.Duration) bool {
	if t == nil {
		return false
	}
	if reconcileInterval <= 0 {
		return false
	}
	t.mu.RLock()
	defer t.mu.RUnlock()
	if t.lastPass.IsZero() {
		return false
	}
	return now.Sub(t.lastPass) <= 2*reconcileInterval
}
