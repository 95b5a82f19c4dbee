package cleanup

import (
	"context"
	"log/slog"
	"time"
)

// Result describes one sweep run.
type Result struct {
	SessionsExpired int
	Duration        time.Duration
}

// Expirer removes idle sessions and reports how many were removed.
type Expirer interface {
	ExpireIdle(ctx context.Context) (int, error)
}

type MetricsSink interface {
	ObserveSweep(result string, took time.Duration)
}

type Option func(*Sweeper)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Sweeper) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithInterval(interval time.Duration) Option {
	return func(s *Sweeper) {
		if interval > 0 {
			s.interval = interval
		}
	}
}

func WithMetrics(m MetricsSink) Option {
	return func(s *Sweeper) {
		s.metrics = m
	}
}

// Sweeper periodically expires idle conversation sessions.
type Sweeper struct {
	expirer  Expirer
	logger   *slog.Logger
	interval time.Duration
	metrics  MetricsSink
	now      func() time.Time
}

func New(expirer Expirer, opts ...Option) *Sweeper {
	s := &Sweeper{
		expirer:  expirer,
		logger:   slog.Default(),
		interval: 5 * time.Minute,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Start sweeps every interval until ctx is cancelled. A failed run is logged
// and the loop continues.
func (s *Sweeper) Start(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	s.logger.Info("memory sweep worker started", "interval", s.interval)
	for {
		select {
		case <-ticker.C:
			s.tick(ctx)
		case <-ctx.Done():
			s.logger.Info("memory sweep worker stopping", "reason", ctx.Err())
			return ctx.Err()
		}
	}
}

func (s *Sweeper) tick(ctx context.Context) {
	res, err := s.RunOnce(ctx)
	if err != nil {
		s.logger.Error("memory_sweep_failed",
			"error", err,
			"duration_ms", res.Duration.Milliseconds(),
		)
		s.observe("error", res.Duration)
		return
	}
	s.logger.Info("memory_sweep_completed",
		"sessions_expired", res.SessionsExpired,
		"duration_ms", res.Duration.Milliseconds(),
	)
	s.observe("success", res.Duration)
}

func (s *Sweeper) observe(outcome string, took time.Duration) {
	if s.metrics == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("memory_sweep_metrics_failed", "panic", r)
		}
	}()
	s.metrics.ObserveSweep(outcome, took)
}

// RunOnce executes a single sweep. Logging is handled by the caller (Start).
// The returned result is never nil.
func (s *Sweeper) RunOnce(ctx context.Context) (*Result, error) {
	start := s.now()
	n, err := s.expirer.ExpireIdle(ctx)
	res := &Result{Duration: s.now().Sub(start)}
	if err != nil {
		return res, err
	}
	res.SessionsExpired = n
	return res, nil
}
