// Package service provides the adaptive rate limit manager that gates every
// outbound model call.
//
// The manager tracks sliding-window usage per (model, limit kind), in-flight
// concurrency, and a cooperative backoff window that opens when a provider
// reports a rate limit error. Callers either probe with Check, or bracket a
// call with Acquire/Release (or Do, which does both).
//
// Usage:
//
//	mgr, _ := service.New(usage.NewInMemoryStore(), service.WithLogger(logger))
//	err := mgr.Do(ctx, "openai/gpt-4o", promptTokens, func(ctx context.Context) error {
//	    return callProvider(ctx)
//	})
//	if dErrors.HasCode(err, dErrors.CodeRateLimited) {
//	    // please retry shortly
//	}
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"slices"
	"sync"
	"time"

	"folio/internal/ratelimit/config"
	"folio/internal/ratelimit/models"
	dErrors "folio/pkg/domain-errors"
	"folio/pkg/platform/middleware/request"
	platformsync "folio/pkg/platform/sync"
)

// Acquire outcomes reported to the metrics sink.
const (
	outcomeAcquired  = "acquired"
	outcomeRejected  = "rejected"
	outcomeTimeout   = "max_wait_exceeded"
	outcomeCancelled = "cancelled"
)

// concurrencyRetryHint is the retry hint for an exceeded concurrency status.
const concurrencyRetryHint = time.Second

// UsageStore records per-window usage. Implementations must be safe for
// concurrent use.
type UsageStore interface {
	Configure(key models.WindowKey, capacity int)
	Record(key models.WindowKey, now time.Time, amount int)
	Usage(key models.WindowKey, now time.Time) (used int, oldest time.Time)
	ResetModel(model string)
}

// MetricsSink receives fire-and-forget rate limit telemetry.
type MetricsSink interface {
	RateLimitHit(model string, kind models.LimitKind)
	ProviderRateLimited(model string, kind models.LimitKind)
	ObserveBackoff(model string, wait time.Duration)
	IncrementAcquire(model, outcome string)
	SetConcurrent(model string, n int)
}

// modelState is guarded by the manager's shard lock for its model.
type modelState struct {
	limits       models.Limits
	concurrent   int
	failures     int
	backoffUntil time.Time
}

// Manager enforces per-model limits with exponential backoff.
// Safe for concurrent use.
type Manager struct {
	usage   UsageStore
	config  *config.Config
	logger  *slog.Logger
	metrics MetricsSink

	now   func() time.Time
	rand  func() float64
	sleep func(ctx context.Context, d time.Duration) error

	mu     sync.RWMutex
	states map[string]*modelState
	locks  *platformsync.ShardedMutex
}

// Option configures a Manager instance.
type Option func(*Manager)

// WithLogger sets the structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(m *Manager) {
		if logger != nil {
			m.logger = logger
		}
	}
}

// WithConfig overrides the default limits and backoff policy.
func WithConfig(cfg *config.Config) Option {
	return func(m *Manager) {
		if cfg != nil {
			m.config = cfg
		}
	}
}

// WithMetrics sets the metrics sink.
func WithMetrics(sink MetricsSink) Option {
	return func(m *Manager) {
		m.metrics = sink
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(m *Manager) {
		if now != nil {
			m.now = now
		}
	}
}

// WithRand overrides the jitter source. fn must return values in [0, 1).
func WithRand(fn func() float64) Option {
	return func(m *Manager) {
		if fn != nil {
			m.rand = fn
		}
	}
}

// WithSleeper overrides how Acquire waits between attempts.
func WithSleeper(fn func(ctx context.Context, d time.Duration) error) Option {
	return func(m *Manager) {
		if fn != nil {
			m.sleep = fn
		}
	}
}

// New creates a manager backed by usage. Returns an error if usage is nil or
// the configuration is malformed.
func New(usage UsageStore, opts ...Option) (*Manager, error) {
	if usage == nil {
		return nil, errors.New("usage store is required")
	}
	m := &Manager{
		usage:  usage,
		config: config.DefaultConfig(),
		logger: slog.Default(),
		now:    time.Now,
		rand:   rand.Float64,
		sleep:  sleepContext,
		states: make(map[string]*modelState),
		locks:  platformsync.NewShardedMutex(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if err := m.config.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

type acquireOptions struct {
	wait    bool
	maxWait time.Duration
}

// AcquireOption tunes a single Acquire call.
type AcquireOption func(*acquireOptions)

// WithWait controls whether Acquire sleeps and retries when limited. Defaults to true.
func WithWait(wait bool) AcquireOption {
	return func(o *acquireOptions) {
		o.wait = wait
	}
}

// WithMaxWait bounds the cumulative time Acquire may spend waiting.
func WithMaxWait(d time.Duration) AcquireOption {
	return func(o *acquireOptions) {
		if d >= 0 {
			o.maxWait = d
		}
	}
}

// Check reports the status of every configured limit for model as if a
// request of the given size were made now. It does not consume capacity.
func (m *Manager) Check(ctx context.Context, model string, tokens int) ([]models.Status, error) {
	model, err := validateRequest(model, tokens)
	if err != nil {
		return nil, err
	}
	st, err := m.state(model, nil)
	if err != nil {
		return nil, err
	}

	m.locks.Lock(model)
	defer m.locks.Unlock(model)
	return m.evaluate(st, model, tokens, m.now()), nil
}

// Acquire reserves capacity for one request of the given token size.
// It returns false when capacity could not be obtained, either immediately
// (WithWait(false)) or within the max wait. A cancelled context returns its error.
func (m *Manager) Acquire(ctx context.Context, model string, tokens int, opts ...AcquireOption) (bool, error) {
	model, err := validateRequest(model, tokens)
	if err != nil {
		return false, err
	}
	o := acquireOptions{wait: true, maxWait: m.config.DefaultMaxWait}
	for _, opt := range opts {
		opt(&o)
	}
	st, err := m.state(model, nil)
	if err != nil {
		return false, err
	}

	start := m.now()
	for {
		if err := ctx.Err(); err != nil {
			m.emit(func(s MetricsSink) { s.IncrementAcquire(model, outcomeCancelled) })
			return false, err
		}

		var (
			exceeded   []models.Status
			wait       time.Duration
			concurrent int
		)
		m.locks.Lock(model)
		now := m.now()
		exceeded = models.Exceeded(m.evaluate(st, model, tokens, now))
		if len(exceeded) == 0 {
			m.record(st, model, tokens, now)
			st.concurrent++
			st.failures = 0
			concurrent = st.concurrent
		} else if o.wait {
			wait = backoffWait(m.config.Backoff, backoffBase(m.config.Backoff, exceeded), st.failures, m.rand())
			st.failures++
		}
		m.locks.Unlock(model)

		if len(exceeded) == 0 {
			m.emit(func(s MetricsSink) {
				s.IncrementAcquire(model, outcomeAcquired)
				s.SetConcurrent(model, concurrent)
			})
			return true, nil
		}

		m.emit(func(s MetricsSink) {
			for _, status := range exceeded {
				s.RateLimitHit(model, status.Kind)
			}
		})
		if !o.wait {
			m.emit(func(s MetricsSink) { s.IncrementAcquire(model, outcomeRejected) })
			return false, nil
		}
		m.emit(func(s MetricsSink) { s.ObserveBackoff(model, wait) })

		elapsed := m.now().Sub(start)
		if elapsed+wait > o.maxWait {
			m.logger.WarnContext(ctx, "rate_limit_wait_exceeded",
				"model", model,
				"max_wait_ms", o.maxWait.Milliseconds(),
				"wait_ms", wait.Milliseconds(),
				"request_id", request.GetRequestID(ctx),
			)
			m.emit(func(s MetricsSink) { s.IncrementAcquire(model, outcomeTimeout) })
			return false, nil
		}

		m.logger.InfoContext(ctx, "rate_limit_backoff_started",
			"model", model,
			"wait_ms", wait.Milliseconds(),
			"exceeded", exceededKinds(exceeded),
			"request_id", request.GetRequestID(ctx),
		)
		if err := m.sleep(ctx, wait); err != nil {
			m.emit(func(s MetricsSink) { s.IncrementAcquire(model, outcomeCancelled) })
			return false, err
		}
	}
}

// Release returns one unit of concurrency for model. Extra releases are ignored.
func (m *Manager) Release(model string) {
	model = models.NormalizeModel(model)
	m.mu.RLock()
	st, ok := m.states[model]
	m.mu.RUnlock()
	if !ok {
		return
	}

	m.locks.Lock(model)
	if st.concurrent > 0 {
		st.concurrent--
	}
	concurrent := st.concurrent
	m.locks.Unlock(model)

	m.emit(func(s MetricsSink) { s.SetConcurrent(model, concurrent) })
}

// Do acquires capacity, runs fn and always releases. When capacity cannot be
// acquired it returns a CodeRateLimited error carrying a retry hint.
func (m *Manager) Do(ctx context.Context, model string, tokens int, fn func(ctx context.Context) error, opts ...AcquireOption) error {
	ok, err := m.Acquire(ctx, model, tokens, opts...)
	if err != nil {
		return err
	}
	if !ok {
		return dErrors.NewRateLimited(
			fmt.Sprintf("rate limit exceeded for model %s, please retry shortly", models.NormalizeModel(model)),
			m.RetryHint(ctx, model, tokens),
		)
	}
	defer m.Release(model)
	return fn(ctx)
}

// ReportError opens a cooperative backoff window for model after the provider
// rejected a call. A non-positive retryAfter uses the configured provider backoff.
func (m *Manager) ReportError(ctx context.Context, model string, retryAfter time.Duration, kind models.LimitKind) error {
	model, err := validateRequest(model, 0)
	if err != nil {
		return err
	}
	if kind == "" {
		kind = models.KindRequestsPerMinute
	}
	if !kind.IsValid() {
		return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown limit kind %q", kind))
	}
	if retryAfter <= 0 {
		retryAfter = m.config.ProviderBackoff
	}
	st, err := m.state(model, nil)
	if err != nil {
		return err
	}

	m.locks.Lock(model)
	st.backoffUntil = m.now().Add(retryAfter)
	st.failures++
	failures := st.failures
	m.locks.Unlock(model)

	m.emit(func(s MetricsSink) { s.ProviderRateLimited(model, kind) })
	m.logger.WarnContext(ctx, "rate_limit_provider_error",
		"model", model,
		"limit_type", kind,
		"retry_after_ms", retryAfter.Milliseconds(),
		"consecutive_failures", failures,
		"request_id", request.GetRequestID(ctx),
	)
	return nil
}

// SetLimits replaces the ceilings for model. Works for models without a
// configured entry, even when no fallback exists.
func (m *Manager) SetLimits(model string, limits models.Limits) error {
	model, err := validateRequest(model, 0)
	if err != nil {
		return err
	}
	if err := limits.Validate(); err != nil {
		return err
	}
	limits = limits.Clone()
	st, err := m.state(model, limits)
	if err != nil {
		return err
	}

	m.locks.Lock(model)
	st.limits = limits
	m.configureWindows(model, limits)
	m.locks.Unlock(model)

	m.logger.Info("rate_limit_limits_updated", "model", model, "limits", limits)
	return nil
}

// Status returns the monitoring snapshot for model. Models never used are
// reported from configuration without creating state.
func (m *Manager) Status(ctx context.Context, model string) (*models.ModelReport, error) {
	model, err := validateRequest(model, 0)
	if err != nil {
		return nil, err
	}
	m.mu.RLock()
	st, ok := m.states[model]
	m.mu.RUnlock()
	if !ok {
		limits, err := m.config.LimitsFor(model)
		if err != nil {
			return nil, err
		}
		st = &modelState{limits: limits}
		return m.report(st, model, m.now()), nil
	}

	m.locks.Lock(model)
	defer m.locks.Unlock(model)
	return m.report(st, model, m.now()), nil
}

// StatusAll reports every model that has state or configured limits, sorted by name.
func (m *Manager) StatusAll(ctx context.Context) ([]*models.ModelReport, error) {
	names := make(map[string]struct{})
	m.mu.RLock()
	for name := range m.states {
		names[name] = struct{}{}
	}
	m.mu.RUnlock()
	for name := range m.config.Models {
		names[models.NormalizeModel(name)] = struct{}{}
	}

	sorted := make([]string, 0, len(names))
	for name := range names {
		sorted = append(sorted, name)
	}
	slices.Sort(sorted)

	reports := make([]*models.ModelReport, 0, len(sorted))
	for _, name := range sorted {
		report, err := m.Status(ctx, name)
		if err != nil {
			return nil, err
		}
		reports = append(reports, report)
	}
	return reports, nil
}

// Reset clears usage windows, concurrency, backoff and failures for model.
// Limits set through SetLimits are kept.
func (m *Manager) Reset(model string) error {
	model, err := validateRequest(model, 0)
	if err != nil {
		return err
	}
	m.mu.RLock()
	st, ok := m.states[model]
	m.mu.RUnlock()

	m.locks.Lock(model)
	if ok {
		st.concurrent = 0
		st.failures = 0
		st.backoffUntil = time.Time{}
	}
	m.usage.ResetModel(model)
	if ok {
		m.configureWindows(model, st.limits)
	}
	m.locks.Unlock(model)

	m.emit(func(s MetricsSink) { s.SetConcurrent(model, 0) })
	m.logger.Info("rate_limit_reset", "model", model)
	return nil
}

// state returns the state for model, creating it with seed (or the
// configured limits when seed is nil) on first use.
func (m *Manager) state(model string, seed models.Limits) (*modelState, error) {
	m.mu.RLock()
	st, ok := m.states[model]
	m.mu.RUnlock()
	if ok {
		return st, nil
	}

	limits := seed
	if limits == nil {
		var err error
		limits, err = m.config.LimitsFor(model)
		if err != nil {
			return nil, err
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if st, ok := m.states[model]; ok {
		return st, nil
	}
	st = &modelState{limits: limits}
	m.states[model] = st
	m.configureWindows(model, limits)
	return st, nil
}

// configureWindows preallocates each configured ring. Request windows hold one
// slot per admitted request; token windows record once per admission too, so
// they share the request limit of the same window length. Rings without a hint
// start small and grow on demand.
func (m *Manager) configureWindows(model string, limits models.Limits) {
	for _, kind := range limits.Kinds() {
		if kind.Window() == 0 {
			continue
		}
		capacity := limits[kind]
		if kind.CountsTokens() {
			capacity = requestLimitFor(limits, kind.Window())
		}
		if capacity > 0 {
			m.usage.Configure(models.NewWindowKey(model, kind), capacity)
		}
	}
}

func requestLimitFor(limits models.Limits, window time.Duration) int {
	for _, kind := range limits.Kinds() {
		if kind.CountsRequests() && kind.Window() == window {
			return limits[kind]
		}
	}
	return 0
}

// evaluate must be called with the model's shard lock held.
func (m *Manager) evaluate(st *modelState, model string, tokens int, now time.Time) []models.Status {
	inBackoff := st.backoffUntil.After(now)
	statuses := make([]models.Status, 0, len(st.limits))
	for _, kind := range st.limits.Kinds() {
		limit := st.limits[kind]
		status := models.Status{Kind: kind, Limit: limit}

		switch {
		case kind == models.KindConcurrentRequests:
			status.Used = st.concurrent
			status.ResetAt = now
			status.Exceeded = st.concurrent >= limit
			if status.Exceeded {
				status.RetryAfter = concurrencyRetryHint
			}
		default:
			used, oldest := m.usage.Usage(models.NewWindowKey(model, kind), now)
			status.Used = used
			status.ResetAt = now.Add(kind.Window())
			if !oldest.IsZero() {
				status.ResetAt = oldest.Add(kind.Window())
			}
			if kind.CountsTokens() {
				status.Exceeded = tokens > 0 && used+tokens > limit
			} else {
				status.Exceeded = used >= limit
			}
			if status.Exceeded {
				status.RetryAfter = status.ResetAt.Sub(now)
			}
		}

		if inBackoff {
			status.Exceeded = true
			status.ResetAt = st.backoffUntil
			status.RetryAfter = st.backoffUntil.Sub(now)
		}
		status.Remaining = max(limit-status.Used, 0)
		status.UsagePercent = float64(status.Used) / float64(limit) * 100
		statuses = append(statuses, status)
	}
	return statuses
}

// record must be called with the model's shard lock held.
func (m *Manager) record(st *modelState, model string, tokens int, now time.Time) {
	for _, kind := range st.limits.Kinds() {
		switch {
		case kind.CountsRequests():
			m.usage.Record(models.NewWindowKey(model, kind), now, 1)
		case kind.CountsTokens() && tokens > 0:
			m.usage.Record(models.NewWindowKey(model, kind), now, tokens)
		}
	}
}

// report must be called with the model's shard lock held when st is shared.
func (m *Manager) report(st *modelState, model string, now time.Time) *models.ModelReport {
	report := &models.ModelReport{
		Model:               model,
		Statuses:            m.evaluate(st, model, 0, now),
		Concurrent:          st.concurrent,
		ConsecutiveFailures: st.failures,
		InBackoff:           st.backoffUntil.After(now),
	}
	if report.InBackoff {
		report.BackoffUntil = st.backoffUntil
	}
	return report
}

// RetryHint is how long a caller denied capacity for model should wait
// before trying again.
func (m *Manager) RetryHint(ctx context.Context, model string, tokens int) time.Duration {
	statuses, err := m.Check(ctx, model, tokens)
	if err != nil {
		return 0
	}
	return backoffBase(m.config.Backoff, models.Exceeded(statuses))
}

// emit calls the sink, swallowing panics so telemetry never breaks admission.
func (m *Manager) emit(fn func(MetricsSink)) {
	if m.metrics == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			m.logger.Warn("rate_limit_metrics_failed", "panic", r)
		}
	}()
	fn(m.metrics)
}

func validateRequest(model string, tokens int) (string, error) {
	model = models.NormalizeModel(model)
	if model == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "model is required")
	}
	if tokens < 0 {
		return "", dErrors.New(dErrors.CodeInvalidInput, "tokens must not be negative")
	}
	return model, nil
}

func exceededKinds(statuses []models.Status) []string {
	kinds := make([]string, 0, len(statuses))
	for _, s := range statuses {
		kinds = append(kinds, s.Kind.String())
	}
	return kinds
}

func sleepContext(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
