// Package metrics exports try-on lifecycle metrics to Prometheus.
package metrics

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/teslashibe/go-tryon/pkg/camera"
	"github.com/teslashibe/go-tryon/pkg/vto"
)

// Metrics holds all Prometheus metrics for the server.
type Metrics struct {
	registry *prometheus.Registry

	// Try-on sessions
	SessionsActive prometheus.Gauge
	SessionsTotal  *prometheus.CounterVec
	Transitions    *prometheus.CounterVec
	Failures       *prometheus.CounterVec
	Retries        prometheus.Counter
	RetryBackoff   prometheus.Histogram

	// Flow
	FlowSteps *prometheus.CounterVec
	CartTotal prometheus.Counter

	// Chat
	ChatRequests *prometheus.CounterVec
	ChatDuration prometheus.Histogram
}

// New creates a Metrics instance with its own registry. namespace
// defaults to "tryon".
func New(namespace string) *Metrics {
	if namespace == "" {
		namespace = "tryon"
	}

	m := &Metrics{
		registry: prometheus.NewRegistry(),
		SessionsActive: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "sessions_active",
			Help:      "Number of live try-on sessions",
		}),
		SessionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "sessions_total",
			Help:      "Try-on sessions by how they ended",
		}, []string{"outcome"}),
		Transitions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "state_transitions_total",
			Help:      "Widget state transitions",
		}, []string{"from", "to"}),
		Failures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "failures_total",
			Help:      "Widget failures by kind",
		}, []string{"kind", "reason"}),
		Retries: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "retries_total",
			Help:      "Accepted retry requests",
		}),
		RetryBackoff: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "retry_backoff_seconds",
			Help:      "Backoff applied before a retried boot",
			Buckets:   []float64{0.5, 1, 2, 4, 5, 10},
		}),
		FlowSteps: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "flow_steps_total",
			Help:      "Flow step entries",
		}, []string{"step"}),
		CartTotal: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "cart_value_rm_total",
			Help:      "Value of items added to carts, in RM",
		}),
		ChatRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_requests_total",
			Help:      "Consultant chat requests",
		}, []string{"status"}),
		ChatDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "chat_duration_seconds",
			Help:      "Time to stream a full consultant reply",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30},
		}),
	}

	m.registry.MustRegister(
		m.SessionsActive,
		m.SessionsTotal,
		m.Transitions,
		m.Failures,
		m.Retries,
		m.RetryBackoff,
		m.FlowSteps,
		m.CartTotal,
		m.ChatRequests,
		m.ChatDuration,
		collectors.NewGoCollector(),
	)
	return m
}

// Registry returns the registry, for tests and extra collectors.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}

// Handler returns an HTTP handler for the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// WatchGuard exports a guard's counters as gauges.
func (m *Metrics) WatchGuard(namespace, name string, stats func() camera.GuardStats) {
	if namespace == "" {
		namespace = "tryon"
	}
	labels := prometheus.Labels{"guard": name}
	m.registry.MustRegister(
		prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Namespace:   namespace,
			Name:        "camera_active_tracks",
			Help:        "Live camera tracks held by the guard",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().ActiveTracks) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "camera_acquisitions_total",
			Help:        "Successful camera acquisitions",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Acquired) }),
		prometheus.NewCounterFunc(prometheus.CounterOpts{
			Namespace:   namespace,
			Name:        "camera_failures_total",
			Help:        "Failed camera acquisitions",
			ConstLabels: labels,
		}, func() float64 { return float64(stats().Failed) }),
	)
}

// SessionOpened records a new try-on session.
func (m *Metrics) SessionOpened() {
	m.SessionsActive.Inc()
}

// SessionClosed records a torn-down session and the state it ended in.
func (m *Metrics) SessionClosed(last vto.State) {
	m.SessionsActive.Dec()
	m.SessionsTotal.WithLabelValues(last.String()).Inc()
}

// StateChanged implements vto.Observer.
func (m *Metrics) StateChanged(_ string, from, to vto.State) {
	m.Transitions.WithLabelValues(from.String(), to.String()).Inc()
}

// Failed implements vto.Observer.
func (m *Metrics) Failed(_ string, err *vto.Failure) {
	reason := ""
	if err.Kind == vto.EngineStartError {
		reason = err.Reason.String()
	}
	m.Failures.WithLabelValues(err.Kind.String(), reason).Inc()
}

// Retried implements vto.Observer.
func (m *Metrics) Retried(_ string, _ int, delay time.Duration) {
	m.Retries.Inc()
	m.RetryBackoff.Observe(delay.Seconds())
}

// RecordStep records a flow step entry.
func (m *Metrics) RecordStep(step string) {
	m.FlowSteps.WithLabelValues(step).Inc()
}

// RecordCart records an item added to a cart.
func (m *Metrics) RecordCart(priceRM int) {
	m.CartTotal.Add(float64(priceRM))
}

// RecordChat records a finished chat request.
func (m *Metrics) RecordChat(status string, d time.Duration) {
	m.ChatRequests.WithLabelValues(status).Inc()
	m.ChatDuration.Observe(d.Seconds())
}

var _ vto.Observer = (*Metrics)(nil)
