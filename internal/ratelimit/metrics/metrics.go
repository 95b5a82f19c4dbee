package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"folio/internal/ratelimit/models"
)

type Metrics struct {
	RateLimitHitsTotal          *prometheus.CounterVec
	RateLimitProviderErrorTotal *prometheus.CounterVec
	RateLimitBackoffSeconds     *prometheus.HistogramVec
	RateLimitAcquireTotal       *prometheus.CounterVec
	RateLimitConcurrent         *prometheus.GaugeVec
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		RateLimitHitsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_ratelimit_hits_total",
			Help: "Total number of local rate limit hits by model and limit kind",
		}, []string{"model", "limit_type"}),
		RateLimitProviderErrorTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_ratelimit_provider_errors_total",
			Help: "Total number of provider-reported rate limit errors",
		}, []string{"model", "limit_type"}),
		RateLimitBackoffSeconds: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "folio_ratelimit_backoff_seconds",
			Help:    "Computed backoff waits in seconds",
			Buckets: []float64{0.5, 1, 2, 4, 8, 16, 32, 64, 128, 300},
		}, []string{"model"}),
		RateLimitAcquireTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_ratelimit_acquire_total",
			Help: "Total number of acquire attempts by outcome",
		}, []string{"model", "outcome"}),
		RateLimitConcurrent: factory.NewGaugeVec(prometheus.GaugeOpts{
			Name: "folio_ratelimit_concurrent_requests",
			Help: "Current in-flight requests per model",
		}, []string{"model"}),
	}
}

func (m *Metrics) RateLimitHit(model string, kind models.LimitKind) {
	m.RateLimitHitsTotal.WithLabelValues(model, string(kind)).Inc()
}

func (m *Metrics) ProviderRateLimited(model string, kind models.LimitKind) {
	m.RateLimitProviderErrorTotal.WithLabelValues(model, string(kind)).Inc()
}

func (m *Metrics) ObserveBackoff(model string, wait time.Duration) {
	m.RateLimitBackoffSeconds.WithLabelValues(model).Observe(wait.Seconds())
}

func (m *Metrics) IncrementAcquire(model, outcome string) {
	m.RateLimitAcquireTotal.WithLabelValues(model, outcome).Inc()
}

func (m *Metrics) SetConcurrent(model string, n int) {
	m.RateLimitConcurrent.WithLabelValues(model).Set(float64(n))
}
