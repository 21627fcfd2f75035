package metrics

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shpitdev/lapcoach/pkg/analysis"
	"github.com/shpitdev/lapcoach/pkg/telemetry/channels"
)

// Metrics holds the Prometheus collectors for a lapcoach process.
// A nil *Metrics is valid and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	detections      *prometheus.CounterVec // Detections by outcome (ok, missing)
	missingChannels *prometheus.CounterVec // Missing required channels by name
	capabilities    *prometheus.CounterVec // Unlocked capabilities by label
	webhookRequests *prometheus.CounterVec // Webhook calls by op and status
	webhookDuration *prometheus.HistogramVec
}

// New creates and registers all collectors on a private registry.
func New() *Metrics {
	m := &Metrics{
		registry: prometheus.NewRegistry(),

		detections: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapcoach",
			Subsystem: "channels",
			Name:      "detections_total",
			Help:      "Channel detections by outcome",
		}, []string{"outcome"}),

		missingChannels: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapcoach",
			Subsystem: "channels",
			Name:      "missing_required_total",
			Help:      "Required channels reported missing",
		}, []string{"channel"}),

		capabilities: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapcoach",
			Subsystem: "channels",
			Name:      "capabilities_total",
			Help:      "Analysis capabilities unlocked by detections",
		}, []string{"capability"}),

		webhookRequests: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "lapcoach",
			Subsystem: "webhook",
			Name:      "requests_total",
			Help:      "Analysis webhook requests by operation and status",
		}, []string{"op", "status"}),

		webhookDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "lapcoach",
			Subsystem: "webhook",
			Name:      "request_duration_seconds",
			Help:      "Analysis webhook request latency",
			Buckets:   []float64{0.1, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"op"}),
	}

	m.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.detections,
		m.missingChannels,
		m.capabilities,
		m.webhookRequests,
		m.webhookDuration,
	)
	return m
}

// Registry exposes the underlying registry (tests, extra collectors).
func (m *Metrics) Registry() *prometheus.Registry {
	if m == nil {
		return nil
	}
	return m.registry
}

// Handler serves the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObserveDetection records one channel resolution.
func (m *Metrics) ObserveDetection(res channels.DetectionResult) {
	if m == nil {
		return
	}
	if res.OK() {
		m.detections.WithLabelValues("ok").Inc()
	} else {
		m.detections.WithLabelValues("missing").Inc()
	}
	for _, name := range res.MissingRequired {
		m.missingChannels.WithLabelValues(name).Inc()
	}
	for _, c := range res.Capabilities {
		m.capabilities.WithLabelValues(c).Inc()
	}
}

// ObserveWebhook records one webhook attempt.
func (m *Metrics) ObserveWebhook(op string, elapsed time.Duration, err error) {
	if m == nil {
		return
	}
	m.webhookDuration.WithLabelValues(op).Observe(elapsed.Seconds())
	m.webhookRequests.WithLabelValues(op, statusLabel(err)).Inc()
}

func statusLabel(err error) string {
	if err == nil {
		return "ok"
	}
	var he *analysis.HTTPError
	if errors.As(err, &he) && he.StatusCode != 0 {
		return strconv.Itoa(he.StatusCode)
	}
	return "error"
}
