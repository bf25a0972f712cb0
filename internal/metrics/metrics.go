package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
)

const namespace = "sensordash"

// Metrics groups the collectors shared by the stream core. A nil *Metrics is
// valid and records nothing, so components can be built without it in tests.
type Metrics struct {
	EventsApplied   *prometheus.CounterVec
	EventsDiscarded *prometheus.CounterVec
	FeedErrors      *prometheus.CounterVec
	Subscriptions   *prometheus.GaugeVec
	ControllerState prometheus.Gauge
	SnapshotVersion prometheus.Gauge
}

// New creates the collectors and registers them (plus the Go/process
// collectors) on reg.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		EventsApplied: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_applied_total",
			Help:      "Feed events merged into the dashboard state.",
		}, []string{"feed"}),
		EventsDiscarded: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "events_discarded_total",
			Help:      "Feed notifications dropped before merge.",
		}, []string{"feed", "reason"}),
		FeedErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_errors_total",
			Help:      "Transport errors reported per feed.",
		}, []string{"feed"}),
		Subscriptions: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "subscription_open",
			Help:      "1 while the feed subscription is open.",
		}, []string{"feed"}),
		ControllerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "controller_state",
			Help:      "Error/retry controller state (0 idle, 1 loading, 2 ready, 3 failed).",
		}),
		SnapshotVersion: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "snapshot_version",
			Help:      "Version of the latest published dashboard snapshot.",
		}),
	}
	if reg != nil {
		reg.MustRegister(
			m.EventsApplied, m.EventsDiscarded, m.FeedErrors,
			m.Subscriptions, m.ControllerState, m.SnapshotVersion,
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
	}
	return m
}

func (m *Metrics) Applied(feed string) {
	if m == nil {
		return
	}
	m.EventsApplied.WithLabelValues(feed).Inc()
}

func (m *Metrics) Discarded(feed, reason string) {
	if m == nil {
		return
	}
	m.EventsDiscarded.WithLabelValues(feed, reason).Inc()
}

func (m *Metrics) FeedError(feed string) {
	if m == nil {
		return
	}
	m.FeedErrors.WithLabelValues(feed).Inc()
}

func (m *Metrics) SubscriptionOpen(feed string, open bool) {
	if m == nil {
		return
	}
	v := 0.0
	if open {
		v = 1
	}
	m.Subscriptions.WithLabelValues(feed).Set(v)
}

func (m *Metrics) SetControllerState(state int) {
	if m == nil {
		return
	}
	m.ControllerState.Set(float64(state))
}

func (m *Metrics) SetSnapshotVersion(v uint64) {
	if m == nil {
		return
	}
	m.SnapshotVersion.Set(float64(v))
}
