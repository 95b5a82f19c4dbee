package service

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	promtestutil "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stretchr/testify/suite"

	"folio/internal/ratelimit/config"
	"folio/internal/ratelimit/metrics"
	"folio/internal/ratelimit/models"
	"folio/internal/ratelimit/store/usage"
	dErrors "folio/pkg/domain-errors"
	"folio/pkg/testutil"
)

type ManagerSuite struct {
	suite.Suite
	clock   *testutil.FakeClock
	metrics *metrics.Metrics
	mgr     *Manager

	sleepMu sync.Mutex
	sleeps  []time.Duration
}

func TestManagerSuite(t *testing.T) {
	suite.Run(t, new(ManagerSuite))
}

func (s *ManagerSuite) SetupTest() {
	s.clock = testutil.NewFakeClock()
	s.metrics = metrics.New(prometheus.NewRegistry())
	s.sleeps = nil

	mgr, err := New(usage.NewInMemoryStore(),
		WithClock(s.clock.Now),
		WithRand(func() float64 { return 0 }),
		WithSleeper(s.fakeSleep),
		WithMetrics(s.metrics),
	)
	s.Require().NoError(err)
	s.mgr = mgr
}

// fakeSleep advances the clock instead of blocking.
func (s *ManagerSuite) fakeSleep(ctx context.Context, d time.Duration) error {
	s.sleepMu.Lock()
	s.sleeps = append(s.sleeps, d)
	s.sleepMu.Unlock()
	s.clock.Advance(d)
	return ctx.Err()
}

func (s *ManagerSuite) statusOf(statuses []models.Status, kind models.LimitKind) models.Status {
	for _, st := range statuses {
		if st.Kind == kind {
			return st
		}
	}
	s.FailNow("status not found", "kind %s", kind)
	return models.Status{}
}

func (s *ManagerSuite) TestNew() {
	s.Run("nil store is rejected", func() {
		_, err := New(nil)
		s.Require().Error(err)
	})

	s.Run("malformed config is rejected", func() {
		cfg := config.DefaultConfig()
		cfg.Models["bad"] = models.Limits{models.KindRequestsPerMinute: 0}
		_, err := New(usage.NewInMemoryStore(), WithConfig(cfg))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
	})
}

func (s *ManagerSuite) TestAcquireWithoutWaitStopsAtRequestLimit() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("A", models.Limits{models.KindRequestsPerMinute: 2}))

	first, err := s.mgr.Acquire(ctx, "A", 0, WithWait(false))
	s.Require().NoError(err)
	second, err := s.mgr.Acquire(ctx, "A", 0, WithWait(false))
	s.Require().NoError(err)
	third, err := s.mgr.Acquire(ctx, "A", 0, WithWait(false))
	s.Require().NoError(err)

	s.True(first)
	s.True(second)
	s.False(third)

	statuses, err := s.mgr.Check(ctx, "A", 0)
	s.Require().NoError(err)
	rpm := s.statusOf(statuses, models.KindRequestsPerMinute)
	s.True(rpm.Exceeded)
	s.Equal(2, rpm.Used)
	s.Equal(0, rpm.Remaining)
	s.Positive(rpm.RetryAfter)
	s.Equal(time.Minute, rpm.RetryAfter)

	s.Equal(2.0, promtestutil.ToFloat64(s.metrics.RateLimitAcquireTotal.WithLabelValues("A", outcomeAcquired)))
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.RateLimitAcquireTotal.WithLabelValues("A", outcomeRejected)))
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.RateLimitHitsTotal.WithLabelValues("A", string(models.KindRequestsPerMinute))))
	s.Empty(s.sleeps, "non-waiting acquire never sleeps")
}

func (s *ManagerSuite) TestWindowSlides() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("A", models.Limits{models.KindRequestsPerMinute: 1}))

	ok, err := s.mgr.Acquire(ctx, "A", 0, WithWait(false))
	s.Require().NoError(err)
	s.True(ok)

	s.clock.Advance(30 * time.Second)
	ok, err = s.mgr.Acquire(ctx, "A", 0, WithWait(false))
	s.Require().NoError(err)
	s.False(ok)

	statuses, err := s.mgr.Check(ctx, "A", 0)
	s.Require().NoError(err)
	s.Equal(30*time.Second, s.statusOf(statuses, models.KindRequestsPerMinute).RetryAfter)

	s.clock.Advance(31 * time.Second)
	ok, err = s.mgr.Acquire(ctx, "A", 0, WithWait(false))
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ManagerSuite) TestLargeLimitsAreEnforcedExactly() {
	ctx := context.Background()
	const limit = 70000
	s.Require().NoError(s.mgr.SetLimits("big", models.Limits{models.KindRequestsPerHour: limit}))

	admitted := 0
	for range limit + 500 {
		ok, err := s.mgr.Acquire(ctx, "big", 0, WithWait(false))
		s.Require().NoError(err)
		if ok {
			admitted++
		}
		s.clock.Advance(time.Millisecond)
	}

	s.Equal(limit, admitted)
	statuses, err := s.mgr.Check(ctx, "big", 0)
	s.Require().NoError(err)
	rph := s.statusOf(statuses, models.KindRequestsPerHour)
	s.Equal(limit, rph.Used)
	s.True(rph.Exceeded)
}

func (s *ManagerSuite) TestTokenLimits() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("T", models.Limits{
		models.KindRequestsPerMinute: 10,
		models.KindTokensPerMinute:   1000,
	}))

	s.Run("token status is reported but not exceeded without a token count", func() {
		statuses, err := s.mgr.Check(ctx, "T", 0)
		s.Require().NoError(err)
		tpm := s.statusOf(statuses, models.KindTokensPerMinute)
		s.False(tpm.Exceeded)
		s.Equal(1000, tpm.Limit)
	})

	s.Run("request that would cross the ceiling is exceeded", func() {
		ok, err := s.mgr.Acquire(ctx, "T", 800, WithWait(false))
		s.Require().NoError(err)
		s.True(ok)

		statuses, err := s.mgr.Check(ctx, "T", 201)
		s.Require().NoError(err)
		tpm := s.statusOf(statuses, models.KindTokensPerMinute)
		s.True(tpm.Exceeded)
		s.Equal(800, tpm.Used)

		statuses, err = s.mgr.Check(ctx, "T", 200)
		s.Require().NoError(err)
		s.False(s.statusOf(statuses, models.KindTokensPerMinute).Exceeded, "exactly at the limit is allowed")

		ok, err = s.mgr.Acquire(ctx, "T", 201, WithWait(false))
		s.Require().NoError(err)
		s.False(ok)
	})
}

func (s *ManagerSuite) TestConcurrencyReleaseRestoresCount() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("C", models.Limits{models.KindConcurrentRequests: 3}))

	for range 3 {
		ok, err := s.mgr.Acquire(ctx, "C", 0, WithWait(false))
		s.Require().NoError(err)
		s.Require().True(ok)
	}

	ok, err := s.mgr.Acquire(ctx, "C", 0, WithWait(false))
	s.Require().NoError(err)
	s.False(ok, "fourth in-flight request exceeds concurrency")

	statuses, err := s.mgr.Check(ctx, "C", 0)
	s.Require().NoError(err)
	s.Equal(time.Second, s.statusOf(statuses, models.KindConcurrentRequests).RetryAfter)

	for range 3 {
		s.mgr.Release("C")
	}
	report, err := s.mgr.Status(ctx, "C")
	s.Require().NoError(err)
	s.Equal(0, report.Concurrent)

	s.mgr.Release("C")
	s.mgr.Release("unknown-model")
	report, err = s.mgr.Status(ctx, "C")
	s.Require().NoError(err)
	s.Equal(0, report.Concurrent, "release never drives concurrency negative")
	s.Equal(0.0, promtestutil.ToFloat64(s.metrics.RateLimitConcurrent.WithLabelValues("C")))
}

func (s *ManagerSuite) TestAcquireWaitsForWindowThenSucceeds() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("A", models.Limits{models.KindRequestsPerMinute: 2}))

	for range 2 {
		ok, err := s.mgr.Acquire(ctx, "A", 0)
		s.Require().NoError(err)
		s.Require().True(ok)
	}

	ok, err := s.mgr.Acquire(ctx, "A", 0, WithMaxWait(10*time.Minute))
	s.Require().NoError(err)
	s.True(ok)
	s.Equal([]time.Duration{time.Minute}, s.sleeps)

	report, err := s.mgr.Status(ctx, "A")
	s.Require().NoError(err)
	s.Equal(0, report.ConsecutiveFailures, "successful acquire resets failures")
}

func (s *ManagerSuite) TestAcquireReturnsFalseWhenMaxWaitExceeded() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("A", models.Limits{models.KindRequestsPerMinute: 1}))

	ok, err := s.mgr.Acquire(ctx, "A", 0)
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = s.mgr.Acquire(ctx, "A", 0, WithMaxWait(5*time.Second))
	s.Require().NoError(err)
	s.False(ok)
	s.Empty(s.sleeps, "a wait beyond max_wait is never started")
	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.RateLimitAcquireTotal.WithLabelValues("A", outcomeTimeout)))
}

func (s *ManagerSuite) TestBackoffGrowsAndResetsAfterSuccess() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("C", models.Limits{models.KindConcurrentRequests: 1}))

	ok, err := s.mgr.Acquire(ctx, "C", 0)
	s.Require().NoError(err)
	s.Require().True(ok)

	ok, err = s.mgr.Acquire(ctx, "C", 0, WithMaxWait(200*time.Second))
	s.Require().NoError(err)
	s.False(ok)

	s.Equal([]time.Duration{
		1 * time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
		16 * time.Second,
		32 * time.Second,
		64 * time.Second,
		64 * time.Second,
	}, s.sleeps)

	report, err := s.mgr.Status(ctx, "C")
	s.Require().NoError(err)
	s.Equal(9, report.ConsecutiveFailures)

	s.mgr.Release("C")
	ok, err = s.mgr.Acquire(ctx, "C", 0)
	s.Require().NoError(err)
	s.True(ok)

	report, err = s.mgr.Status(ctx, "C")
	s.Require().NoError(err)
	s.Equal(0, report.ConsecutiveFailures)

	s.sleeps = nil
	ok, err = s.mgr.Acquire(ctx, "C", 0, WithMaxWait(1500*time.Millisecond))
	s.Require().NoError(err)
	s.False(ok)
	s.Equal([]time.Duration{time.Second}, s.sleeps, "wait restarts from the base after a success")
}

func (s *ManagerSuite) TestAcquireHonorsContextCancellation() {
	s.Require().NoError(s.mgr.SetLimits("C", models.Limits{models.KindConcurrentRequests: 1}))
	ok, err := s.mgr.Acquire(context.Background(), "C", 0)
	s.Require().NoError(err)
	s.Require().True(ok)

	s.Run("already cancelled", func() {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		ok, err := s.mgr.Acquire(ctx, "C", 0)
		s.ErrorIs(err, context.Canceled)
		s.False(ok)
	})

	s.Run("cancelled while sleeping", func() {
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		mgr, err := New(usage.NewInMemoryStore(),
			WithClock(s.clock.Now),
			WithSleeper(func(context.Context, time.Duration) error {
				cancel()
				return context.Canceled
			}),
		)
		s.Require().NoError(err)
		s.Require().NoError(mgr.SetLimits("C", models.Limits{models.KindConcurrentRequests: 1}))
		ok, err := mgr.Acquire(ctx, "C", 0)
		s.Require().NoError(err)
		s.Require().True(ok)

		ok, err = mgr.Acquire(ctx, "C", 0)
		s.ErrorIs(err, context.Canceled)
		s.False(ok)
	})
}

func (s *ManagerSuite) TestReportErrorOpensBackoffWindow() {
	ctx := context.Background()

	s.Require().NoError(s.mgr.ReportError(ctx, "B", 30*time.Second, models.KindRequestsPerMinute))

	statuses, err := s.mgr.Check(ctx, "B", 0)
	s.Require().NoError(err)
	s.Require().NotEmpty(statuses)
	previous := 31 * time.Second
	for range 3 {
		statuses, err := s.mgr.Check(ctx, "B", 0)
		s.Require().NoError(err)
		for _, st := range statuses {
			s.True(st.Exceeded, "every status is exceeded during backoff: %s", st.Kind)
			s.Less(st.RetryAfter, previous+time.Nanosecond)
		}
		retry := statuses[0].RetryAfter
		s.Less(retry, previous)
		previous = retry
		s.clock.Advance(5 * time.Second)
	}
	s.Equal(20*time.Second, previous)

	ok, err := s.mgr.Acquire(ctx, "B", 0, WithWait(false))
	s.Require().NoError(err)
	s.False(ok)

	report, err := s.mgr.Status(ctx, "B")
	s.Require().NoError(err)
	s.True(report.InBackoff)
	s.Equal(testutil.Epoch.Add(30*time.Second), report.BackoffUntil)
	s.Equal(1, report.ConsecutiveFailures)

	s.clock.Advance(16 * time.Second)
	ok, err = s.mgr.Acquire(ctx, "B", 0, WithWait(false))
	s.Require().NoError(err)
	s.True(ok, "backoff window has closed")

	s.Equal(1.0, promtestutil.ToFloat64(s.metrics.RateLimitProviderErrorTotal.WithLabelValues("B", string(models.KindRequestsPerMinute))))
}

func (s *ManagerSuite) TestReportErrorDefaultsAndValidation() {
	ctx := context.Background()

	s.Require().NoError(s.mgr.ReportError(ctx, "B", 0, ""))
	report, err := s.mgr.Status(ctx, "B")
	s.Require().NoError(err)
	s.Equal(testutil.Epoch.Add(60*time.Second), report.BackoffUntil)

	err = s.mgr.ReportError(ctx, "B", time.Second, models.LimitKind("per_fortnight"))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	err = s.mgr.ReportError(ctx, "  ", time.Second, models.KindRequestsPerMinute)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ManagerSuite) TestStatusDoesNotMutateCounters() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.ReportError(ctx, "B", 10*time.Second, models.KindRequestsPerMinute))

	before, err := s.mgr.Status(ctx, "B")
	s.Require().NoError(err)
	for range 5 {
		_, err := s.mgr.Status(ctx, "B")
		s.Require().NoError(err)
		_, err = s.mgr.StatusAll(ctx)
		s.Require().NoError(err)
	}
	after, err := s.mgr.Status(ctx, "B")
	s.Require().NoError(err)

	s.Equal(before.ConsecutiveFailures, after.ConsecutiveFailures)
	s.Equal(before.BackoffUntil, after.BackoffUntil)
}

func (s *ManagerSuite) TestStatusUsesConfigForUnseenModels() {
	ctx := context.Background()

	report, err := s.mgr.Status(ctx, config.ModelGPT4o)
	s.Require().NoError(err)
	s.Equal(config.ModelGPT4o, report.Model)
	s.Equal(500, s.statusOf(report.Statuses, models.KindRequestsPerMinute).Limit)
	s.False(report.InBackoff)

	report, err = s.mgr.Status(ctx, "vendor/unknown")
	s.Require().NoError(err)
	s.Equal(60, s.statusOf(report.Statuses, models.KindRequestsPerMinute).Limit, "fallback limits")
}

func (s *ManagerSuite) TestStatusAllIsSortedUnion() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("zeta/model", models.Limits{models.KindRequestsPerMinute: 5}))

	reports, err := s.mgr.StatusAll(ctx)
	s.Require().NoError(err)

	names := make([]string, 0, len(reports))
	for _, r := range reports {
		names = append(names, r.Model)
	}
	s.Equal([]string{
		config.ModelClaudeSonnet,
		config.ModelGeminiFlash,
		config.ModelGPT4o,
		"zeta/model",
	}, names)
}

func (s *ManagerSuite) TestResetClearsState() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("R", models.Limits{
		models.KindRequestsPerMinute:  1,
		models.KindConcurrentRequests: 5,
	}))
	ok, err := s.mgr.Acquire(ctx, "R", 0, WithWait(false))
	s.Require().NoError(err)
	s.Require().True(ok)
	s.Require().NoError(s.mgr.ReportError(ctx, "R", time.Minute, models.KindRequestsPerMinute))

	s.Require().NoError(s.mgr.Reset("R"))

	report, err := s.mgr.Status(ctx, "R")
	s.Require().NoError(err)
	s.Equal(0, report.Concurrent)
	s.Equal(0, report.ConsecutiveFailures)
	s.False(report.InBackoff)
	s.Equal(0, s.statusOf(report.Statuses, models.KindRequestsPerMinute).Used)
	s.Equal(1, s.statusOf(report.Statuses, models.KindRequestsPerMinute).Limit, "overridden limits survive reset")

	ok, err = s.mgr.Acquire(ctx, "R", 0, WithWait(false))
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ManagerSuite) TestSetLimitsRejectsMalformedLimits() {
	for name, limits := range map[string]models.Limits{
		"empty":        {},
		"zero":         {models.KindRequestsPerMinute: 0},
		"negative":     {models.KindTokensPerMinute: -5},
		"unknown kind": {models.LimitKind("requests_per_decade"): 5},
	} {
		s.Run(name, func() {
			err := s.mgr.SetLimits("M", limits)
			s.Require().Error(err)
			s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
		})
	}

	err := s.mgr.SetLimits("", models.Limits{models.KindRequestsPerMinute: 1})
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ManagerSuite) TestConfiguredModelKeysAreTrimmed() {
	cfg := config.DefaultConfig()
	cfg.Models[" acme/tiny "] = models.Limits{models.KindRequestsPerMinute: 1}
	mgr, err := New(usage.NewInMemoryStore(), WithConfig(cfg), WithClock(s.clock.Now))
	s.Require().NoError(err)
	ctx := context.Background()

	ok, err := mgr.Acquire(ctx, "acme/tiny", 0, WithWait(false))
	s.Require().NoError(err)
	s.True(ok)
	ok, err = mgr.Acquire(ctx, "acme/tiny", 0, WithWait(false))
	s.Require().NoError(err)
	s.False(ok, "the trimmed key's limit applies, not the fallback")
}

func (s *ManagerSuite) TestSetLimitsWithoutFallback() {
	cfg := config.DefaultConfig()
	cfg.Fallback = nil
	mgr, err := New(usage.NewInMemoryStore(), WithConfig(cfg), WithClock(s.clock.Now))
	s.Require().NoError(err)
	ctx := context.Background()

	_, err = mgr.Acquire(ctx, "custom/model", 0, WithWait(false))
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput), "unknown model without fallback is a configuration error")

	s.Require().NoError(mgr.SetLimits("custom/model", models.Limits{models.KindRequestsPerMinute: 1}))
	ok, err := mgr.Acquire(ctx, "custom/model", 0, WithWait(false))
	s.Require().NoError(err)
	s.True(ok)
}

func (s *ManagerSuite) TestInvalidArguments() {
	ctx := context.Background()

	_, err := s.mgr.Acquire(ctx, "", 0)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.mgr.Check(ctx, "A", -1)
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))

	_, err = s.mgr.Status(ctx, " ")
	s.True(dErrors.HasCode(err, dErrors.CodeInvalidInput))
}

func (s *ManagerSuite) TestDo() {
	ctx := context.Background()
	s.Require().NoError(s.mgr.SetLimits("D", models.Limits{
		models.KindRequestsPerMinute:  1,
		models.KindConcurrentRequests: 1,
	}))

	s.Run("runs fn inside the acquired slot and releases", func() {
		called := false
		err := s.mgr.Do(ctx, "D", 0, func(ctx context.Context) error {
			called = true
			report, err := s.mgr.Status(ctx, "D")
			s.Require().NoError(err)
			s.Equal(1, report.Concurrent)
			return nil
		}, WithWait(false))
		s.Require().NoError(err)
		s.True(called)

		report, err := s.mgr.Status(ctx, "D")
		s.Require().NoError(err)
		s.Equal(0, report.Concurrent)
	})

	s.Run("exhausted capacity surfaces a rate limited error", func() {
		err := s.mgr.Do(ctx, "D", 0, func(context.Context) error {
			s.Fail("fn must not run without capacity")
			return nil
		}, WithWait(false))
		s.Require().Error(err)
		s.True(dErrors.HasCode(err, dErrors.CodeRateLimited))
		s.Equal(time.Minute, dErrors.RetryAfterOf(err))
	})
}

type panickingSink struct{}

func (panickingSink) RateLimitHit(string, models.LimitKind)        { panic("sink down") }
func (panickingSink) ProviderRateLimited(string, models.LimitKind) { panic("sink down") }
func (panickingSink) ObserveBackoff(string, time.Duration)         { panic("sink down") }
func (panickingSink) IncrementAcquire(string, string)              { panic("sink down") }
func (panickingSink) SetConcurrent(string, int)                    { panic("sink down") }

func TestMetricsSinkFailuresNeverAbortControlFlow(t *testing.T) {
	mgr, err := New(usage.NewInMemoryStore(), WithMetrics(panickingSink{}))
	require.NoError(t, err)
	ctx := context.Background()

	ok, err := mgr.Acquire(ctx, config.ModelGPT4o, 10, WithWait(false))
	require.NoError(t, err)
	assert.True(t, ok)
	mgr.Release(config.ModelGPT4o)
	require.NoError(t, mgr.ReportError(ctx, config.ModelGPT4o, time.Second, models.KindRequestsPerMinute))
}

func TestConcurrentAcquireNeverOverAdmits(t *testing.T) {
	clock := testutil.NewFakeClock()
	mgr, err := New(usage.NewInMemoryStore(), WithClock(clock.Now))
	require.NoError(t, err)
	require.NoError(t, mgr.SetLimits("race", models.Limits{
		models.KindRequestsPerMinute:  25,
		models.KindConcurrentRequests: 100,
	}))

	result := testutil.RunConcurrent(100, func(int) error {
		return mgr.Do(context.Background(), "race", 1, func(context.Context) error { return nil }, WithWait(false))
	})

	assert.Equal(t, int32(25), result.Successes)
	assert.Equal(t, int32(75), result.RateLimited)
	assert.Equal(t, int32(0), result.Errors)

	report, err := mgr.Status(context.Background(), "race")
	require.NoError(t, err)
	assert.Equal(t, 0, report.Concurrent)
}

func TestSleepContext(t *testing.T) {
	require.NoError(t, sleepContext(context.Background(), time.Millisecond))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	assert.ErrorIs(t, sleepContext(ctx, time.Hour), context.Canceled)
}
