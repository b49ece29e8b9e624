package metrics

import (
	"net/http"
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all application metrics
type Metrics struct {
	// Frame processing counters
	FramesReceived  atomic.Uint64
	FramesSampled   atomic.Uint64
	DetectionErrors atomic.Uint64

	// Alerting counters
	AlertsEmitted    atomic.Uint64
	AlertsSuppressed atomic.Uint64
	DeliveryFailures atomic.Uint64

	ActiveSessions atomic.Int64

	registry *prometheus.Registry
}

// New creates a new Metrics instance with Prometheus collectors
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),
	}

	m.registerPrometheusMetrics()

	return m
}

func (m *Metrics) registerPrometheusMetrics() {
	counters := []struct {
		name string
		help string
		v    *atomic.Uint64
	}{
		{"sentry_frames_received_total", "Total frames handed to the pipeline", &m.FramesReceived},
		{"sentry_frames_sampled_total", "Total frames evaluated by the alerting policy", &m.FramesSampled},
		{"sentry_detection_errors_total", "Total frames skipped because inference failed", &m.DetectionErrors},
		{"sentry_alerts_emitted_total", "Total intrusion alerts emitted", &m.AlertsEmitted},
		{"sentry_alerts_suppressed_total", "Total qualifying frames suppressed by the cooldown", &m.AlertsSuppressed},
		{"sentry_alert_delivery_failures_total", "Total alerts whose delivery failed", &m.DeliveryFailures},
	}

	for _, c := range counters {
		v := c.v
		m.registry.MustRegister(prometheus.NewCounterFunc(
			prometheus.CounterOpts{Name: c.name, Help: c.help},
			func() float64 { return float64(v.Load()) },
		))
	}

	m.registry.MustRegister(prometheus.NewGaugeFunc(
		prometheus.GaugeOpts{
			Name: "sentry_active_sessions",
			Help: "Number of calls currently monitored",
		},
		func() float64 { return float64(m.ActiveSessions.Load()) },
	))
}

// Handler returns the HTTP handler for /metrics
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Registry exposes the underlying registry for tests and extra collectors
func (m *Metrics) Registry() *prometheus.Registry {
	return m.registry
}
