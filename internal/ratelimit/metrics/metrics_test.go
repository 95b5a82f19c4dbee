package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"folio/internal/ratelimit/models"
)

func TestMetricsRecordByLabel(t *testing.T) {
	m := New(prometheus.NewRegistry())

	m.RateLimitHit("openai/gpt-4o", models.KindRequestsPerMinute)
	m.RateLimitHit("openai/gpt-4o", models.KindRequestsPerMinute)
	m.ProviderRateLimited("openai/gpt-4o", models.KindTokensPerMinute)
	m.IncrementAcquire("openai/gpt-4o", "acquired")
	m.SetConcurrent("openai/gpt-4o", 3)
	m.ObserveBackoff("openai/gpt-4o", 2*time.Second)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.RateLimitHitsTotal.WithLabelValues("openai/gpt-4o", "requests_per_minute")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitProviderErrorTotal.WithLabelValues("openai/gpt-4o", "tokens_per_minute")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.RateLimitAcquireTotal.WithLabelValues("openai/gpt-4o", "acquired")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.RateLimitConcurrent.WithLabelValues("openai/gpt-4o")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.RateLimitBackoffSeconds))
}

func TestNewRegistersOnGivenRegistry(t *testing.T) {
	// Two instances on separate registries must not collide.
	assert.NotPanics(t, func() {
		New(prometheus.NewRegistry())
		New(prometheus.NewRegistry())
	})
}
