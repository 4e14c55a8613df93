package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// HTTPMetrics tracks API request handling. A nil *HTTPMetrics is a valid
// no-op instance.
type HTTPMetrics struct {
	requestsTotal   *prometheus.CounterVec
	requestDuration *prometheus.HistogramVec
	authFailures    prometheus.Counter
}

// NewHTTPMetrics creates Prometheus-backed HTTP metrics, or nil when
// metrics are disabled.
func NewHTTPMetrics() *HTTPMetrics {
	if !IsEnabled() {
		return nil
	}

	reg := GetRegistry()

	return &HTTPMetrics{
		requestsTotal: promauto.With(reg).NewCounterVec(
			prometheus.CounterOpts{
				Name: "arkived_http_requests_total",
				Help: "Total HTTP requests by method, route and status code",
			},
			[]string{"method", "route", "status"},
		),
		requestDuration: promauto.With(reg).NewHistogramVec(
			prometheus.HistogramOpts{
				Name: "arkived_http_request_duration_seconds",
				Help: "HTTP request handling duration in seconds",
				Buckets: []float64{
					0.001, // 1ms
					0.01,  // 10ms
					0.05,  // 50ms
					0.1,   // 100ms
					0.5,   // 500ms
					1.0,   // 1s
					5.0,   // 5s
				},
			},
			[]string{"method", "route"},
		),
		authFailures: promauto.With(reg).NewCounter(
			prometheus.CounterOpts{
				Name: "arkived_http_auth_failures_total",
				Help: "Total requests rejected by token verification",
			},
		),
	}
}

// ObserveRequest records one handled request.
func (m *HTTPMetrics) ObserveRequest(method, route string, status int, duration time.Duration) {
	if m == nil {
		return
	}
	m.requestsTotal.WithLabelValues(method, route, strconv.Itoa(status)).Inc()
	m.requestDuration.WithLabelValues(method, route).Observe(duration.Seconds())
}

// RecordAuthFailure counts a request rejected by token verification.
func (m *HTTPMetrics) RecordAuthFailure() {
	if m == nil {
		return
	}
	m.authFailures.Inc()
}
