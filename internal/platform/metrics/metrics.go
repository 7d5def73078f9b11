package metrics

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds the HTTP-level Prometheus metrics for the application
type Metrics struct {
	RequestLatency *prometheus.HistogramVec
}

// New creates and registers the HTTP metrics on reg
func New(reg prometheus.Registerer) *Metrics {
	return &Metrics{
		RequestLatency: promauto.With(reg).NewHistogramVec(prometheus.HistogramOpts{
			Name:    "reconcile_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by method, route and status",
			Buckets: prometheus.DefBuckets,
		}, []string{"method", "route", "status"}),
	}
}

// ObserveHTTPLatency records one request. A nil Metrics records nothing.
func (m *Metrics) ObserveHTTPLatency(method, route string, status int, d time.Duration) {
	if m == nil {
		return
	}
	m.RequestLatency.WithLabelValues(method, route, strconv.Itoa(status)).Observe(d.Seconds())
}
