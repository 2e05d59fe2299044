package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics wraps Prometheus collectors for edge-agent. All methods are
// nil-safe so components can run without a collector wired in.
type Metrics struct {
	registry                *prometheus.Registry
	passDurationSeconds     prometheus.Histogram
	stepsTotal              *prometheus.CounterVec
	pollFailuresTotal       prometheus.Counter
	parseFailuresTotal      prometheus.Counter
	snapshotWritesTotal     prometheus.Counter
	targetVersionGauge      prometheus.Gauge
	servicesGauge           *prometheus.GaugeVec
	lastSuccessfulPassGauge prometheus.Gauge
}

// New initializes a Metrics registry with all collectors registered.
func New() *Metrics {
	registry := prometheus.NewRegistry()
	m := &Metrics{
		registry: registry,
		passDurationSeconds: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "edge_agent_pass_duration_seconds",
			Help:    "Duration of reconciliation passes in seconds.",
			Buckets: prometheus.DefBuckets,
		}),
		stepsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "edge_agent_steps_total",
			Help: "Total reconciliation steps by action and outcome.",
		}, []string{"action", "outcome"}),
		pollFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_poll_failures_total",
			Help: "Total target state fetch transport failures.",
		}),
		parseFailuresTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_target_parse_failures_total",
			Help: "Total rejected malformed target state documents.",
		}),
		snapshotWritesTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "edge_agent_snapshot_writes_total",
			Help: "Total snapshot records written to local storage.",
		}),
		targetVersionGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_agent_target_state_version",
			Help: "Version of the currently adopted target state.",
		}),
		servicesGauge: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Name: "edge_agent_services",
			Help: "Managed services by convergence status.",
		}, []string{"status"}),
		lastSuccessfulPassGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "edge_agent_last_successful_pass_timestamp",
			Help: "Unix timestamp of the last completed reconciliation pass.",
		}),
	}

	registry.MustRegister(
		m.passDurationSeconds,
		m.stepsTotal,
		m.pollFailuresTotal,
		m.parseFailuresTotal,
		m.snapshotWritesTotal,
		m.targetVersionGauge,
		m.servicesGauge,
		m.lastSuccessfulPassGauge,
	)

	return m
}

// Handler returns a Prometheus HTTP handler for this registry.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePassDuration records the duration of a completed pass.
func (m *Metrics) ObservePassDuration(duration time.Duration) {
	if m == nil {
		return
	}
	m.passDurationSeconds.Observe(duration.Seconds())
}

// IncStep counts one executed step.
func (m *Metrics) IncStep(action, outcome string) {
	if m == nil {
		return
	}
	m.stepsTotal.WithLabelValues(action, outcome).Inc()
}

// IncPollFailures counts one target state transport failure.
func (m *Metrics) IncPollFailures() {
	if m == nil {
		return
	}
	m.pollFailuresTotal.Inc()
}

// IncParseFailures counts one rejected target state document.
func (m *Metrics) IncParseFailures() {
	if m == nil {
		return
	}
	m.parseFailuresTotal.Inc()
}

// IncSnapshotWrites counts one snapshot write.
func (m *Metrics) IncSnapshotWrites() {
	if m == nil {
		return
	}
	m.snapshotWritesTotal.Inc()
}

// SetTargetVersion records the adopted target state version.
func (m *Metrics) SetTargetVersion(version int64) {
	if m == nil {
		return
	}
	m.targetVersionGauge.Set(float64(version))
}

// SetServices sets the services gauge for the given status.
func (m *Metrics) SetServices(status string, value int) {
	if m == nil {
		return
	}
	m.servicesGauge.WithLabelValues(status).Set(float64(value))
}

// SetLastSuccessfulPassTimestamp records the last completed pass time.
func (m *Metrics) SetLastSuccessfulPassTimestamp(t time.Time) {
	if m == nil {
		return
	}
	m.lastSuccessfulPassGauge.Set(float64(t.Unix()))
}
