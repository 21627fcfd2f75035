package metrics_test

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/shpitdev/lapcoach/internal/metrics"
	"github.com/shpitdev/lapcoach/pkg/analysis"
	"github.com/shpitdev/lapcoach/pkg/telemetry/channels"
)

func TestObserveDetection(t *testing.T) {
	m := metrics.New()
	catalog := channels.DefaultCatalog()

	m.ObserveDetection(channels.Resolve([]string{"Time", "Distance", "Speed", "Throttle", "Brake"}, catalog))
	m.ObserveDetection(channels.Resolve([]string{"Distance"}, catalog))

	expected := `
# HELP lapcoach_channels_detections_total Channel detections by outcome
# TYPE lapcoach_channels_detections_total counter
lapcoach_channels_detections_total{outcome="missing"} 1
lapcoach_channels_detections_total{outcome="ok"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "lapcoach_channels_detections_total"))

	expected = `
# HELP lapcoach_channels_missing_required_total Required channels reported missing
# TYPE lapcoach_channels_missing_required_total counter
lapcoach_channels_missing_required_total{channel="speed"} 1
lapcoach_channels_missing_required_total{channel="time"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "lapcoach_channels_missing_required_total"))
}

func TestObserveWebhook(t *testing.T) {
	m := metrics.New()
	m.ObserveWebhook("analyze", 10*time.Millisecond, nil)
	m.ObserveWebhook("analyze", 10*time.Millisecond, &analysis.HTTPError{StatusCode: 502})
	m.ObserveWebhook("chat", 10*time.Millisecond, errors.New("dial tcp: refused"))

	expected := `
# HELP lapcoach_webhook_requests_total Analysis webhook requests by operation and status
# TYPE lapcoach_webhook_requests_total counter
lapcoach_webhook_requests_total{op="analyze",status="502"} 1
lapcoach_webhook_requests_total{op="analyze",status="ok"} 1
lapcoach_webhook_requests_total{op="chat",status="error"} 1
`
	require.NoError(t, testutil.GatherAndCompare(m.Registry(), strings.NewReader(expected), "lapcoach_webhook_requests_total"))
}

func TestHandlerServesExposition(t *testing.T) {
	m := metrics.New()
	m.ObserveWebhook("analyze", time.Second, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "lapcoach_webhook_request_duration_seconds")
}

func TestNilMetricsIsNoop(t *testing.T) {
	var m *metrics.Metrics
	m.ObserveDetection(channels.DetectionResult{})
	m.ObserveWebhook("analyze", time.Second, nil)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	assert.Equal(t, http.StatusNotFound, rec.Code)
}
