package request

import (
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	Duration *prometheus.HistogramVec
	InFlight prometheus.Gauge
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Duration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "folio_http_request_duration_seconds",
			Help:    "Latency of HTTP requests by route pattern, method and status code",
			Buckets: prometheus.DefBuckets,
		}, []string{"route", "method", "status"}),
		InFlight: factory.NewGauge(prometheus.GaugeOpts{
			Name: "folio_http_requests_in_flight",
			Help: "Requests currently being served",
		}),
	}
}

func (m *Metrics) observe(route, method string, status int, took time.Duration) {
	m.Duration.WithLabelValues(route, method, strconv.Itoa(status)).Observe(took.Seconds())
}
