package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type Metrics struct {
	SummarizationsTotal   *prometheus.CounterVec
	SummarizationDuration prometheus.Histogram
	MessagesSummarized    prometheus.Histogram
	TokensReclaimed       prometheus.Histogram
	SessionsActive        prometheus.Gauge
	SessionsExpiredTotal  prometheus.Counter
	MessagesAddedTotal    *prometheus.CounterVec
	SweepRunsTotal        *prometheus.CounterVec
	SweepDurationSeconds  prometheus.Histogram
}

func New(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		SummarizationsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_memory_summarizations_total",
			Help: "Total number of summarization attempts by outcome",
		}, []string{"outcome"}),
		SummarizationDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "folio_memory_summarization_duration_seconds",
			Help:    "Time spent producing a conversation summary",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
		}),
		MessagesSummarized: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "folio_memory_messages_summarized",
			Help:    "Messages folded into the summary per summarization",
			Buckets: prometheus.ExponentialBuckets(1, 2, 8),
		}),
		TokensReclaimed: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "folio_memory_tokens_reclaimed",
			Help:    "Token reduction achieved per summarization",
			Buckets: prometheus.ExponentialBuckets(64, 2, 10),
		}),
		SessionsActive: factory.NewGauge(prometheus.GaugeOpts{
			Name: "folio_memory_sessions_active",
			Help: "Sessions currently held in memory",
		}),
		SessionsExpiredTotal: factory.NewCounter(prometheus.CounterOpts{
			Name: "folio_memory_sessions_expired_total",
			Help: "Sessions removed by the idle sweep",
		}),
		MessagesAddedTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_memory_messages_added_total",
			Help: "Messages appended to sessions by role",
		}, []string{"role"}),
		SweepRunsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "folio_memory_sweep_runs_total",
			Help: "Idle session sweep runs by result",
		}, []string{"result"}),
		SweepDurationSeconds: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "folio_memory_sweep_duration_seconds",
			Help:    "Duration of idle session sweep runs",
			Buckets: prometheus.DefBuckets,
		}),
	}
}

func (m *Metrics) ObserveSummarization(messages, tokensBefore, tokensAfter int, took time.Duration) {
	m.SummarizationsTotal.WithLabelValues("success").Inc()
	m.SummarizationDuration.Observe(took.Seconds())
	m.MessagesSummarized.Observe(float64(messages))
	m.TokensReclaimed.Observe(float64(max(tokensBefore-tokensAfter, 0)))
}

func (m *Metrics) IncrementSummarizationFailure() {
	m.SummarizationsTotal.WithLabelValues("failure").Inc()
}

func (m *Metrics) SetActiveSessions(n int) {
	m.SessionsActive.Set(float64(n))
}

func (m *Metrics) AddExpiredSessions(n int) {
	m.SessionsExpiredTotal.Add(float64(n))
}

func (m *Metrics) IncrementMessages(role string) {
	m.MessagesAddedTotal.WithLabelValues(role).Inc()
}

func (m *Metrics) ObserveSweep(result string, took time.Duration) {
	m.SweepRunsTotal.WithLabelValues(result).Inc()
	m.SweepDurationSeconds.Observe(took.Seconds())
}
