// Package gated wraps a Completer with rate limit admission.
//
// Every call acquires capacity on the limiter before reaching the provider
// and always releases it afterwards. Provider 429s are reported back so that
// every caller of the same model backs off together.
package gated

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"folio/internal/llm"
	"folio/internal/platform/tracer"
	"folio/internal/ratelimit/models"
	"folio/internal/ratelimit/service"
	"folio/internal/tokens"
	dErrors "folio/pkg/domain-errors"
	"folio/pkg/platform/middleware/request"
)

// Limiter is the subset of the rate limit manager the completer needs.
type Limiter interface {
	Acquire(ctx context.Context, model string, tokens int, opts ...service.AcquireOption) (bool, error)
	Release(model string)
	ReportError(ctx context.Context, model string, retryAfter time.Duration, kind models.LimitKind) error
	RetryHint(ctx context.Context, model string, tokens int) time.Duration
}

type Completer struct {
	inner   llm.Completer
	limiter Limiter
	counter tokens.Counter
	logger  *slog.Logger
	tracer  tracer.Tracer
	maxWait time.Duration
}

type Option func(*Completer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Completer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(c *Completer) {
		if t != nil {
			c.tracer = t
		}
	}
}

// WithMaxWait bounds how long a call waits for capacity. Zero keeps the
// limiter's default.
func WithMaxWait(d time.Duration) Option {
	return func(c *Completer) {
		c.maxWait = d
	}
}

func New(inner llm.Completer, limiter Limiter, counter tokens.Counter, opts ...Option) (*Completer, error) {
	if inner == nil {
		return nil, errors.New("inner completer is required")
	}
	if limiter == nil {
		return nil, errors.New("limiter is required")
	}
	if counter == nil {
		counter = tokens.NewEstimator()
	}
	c := &Completer{
		inner:   inner,
		limiter: limiter,
		counter: counter,
		logger:  slog.Default(),
		tracer:  tracer.Noop,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// Complete returns a CodeRateLimited domain error when capacity could not be
// acquired. Provider errors are returned unchanged.
func (c *Completer) Complete(ctx context.Context, req *llm.Request) (resp *llm.Response, err error) {
	promptTokens := c.promptTokens(req)
	ctx, span := c.tracer.Start(ctx, tracer.SpanLLMComplete,
		tracer.String(tracer.AttrModel, req.Model),
		tracer.Int(tracer.AttrPromptTokens, promptTokens),
	)
	defer func() { span.End(err) }()

	var opts []service.AcquireOption
	if c.maxWait > 0 {
		opts = append(opts, service.WithMaxWait(c.maxWait))
	}
	ok, err := c.limiter.Acquire(ctx, req.Model, promptTokens, opts...)
	if err != nil {
		return nil, err
	}
	if !ok {
		span.AddEvent(tracer.EventCapacityUnavailable)
		return nil, dErrors.NewRateLimited(
			fmt.Sprintf("rate limit exceeded for model %s, please retry shortly", req.Model),
			c.limiter.RetryHint(ctx, req.Model, promptTokens))
	}
	defer c.limiter.Release(req.Model)

	resp, err = c.inner.Complete(ctx, req)
	if err != nil {
		kind := llm.KindOf(err)
		span.SetAttributes(tracer.String(tracer.AttrErrorKind, string(kind)))
		if kind == llm.KindRateLimited {
			retryAfter := llm.RetryAfterOf(err)
			if reportErr := c.limiter.ReportError(ctx, req.Model, retryAfter, models.KindRequestsPerMinute); reportErr != nil {
				c.logger.WarnContext(ctx, "rate_limit_report_failed",
					"model", req.Model,
					"error", reportErr,
					"request_id", request.GetRequestID(ctx),
				)
			}
		}
		return nil, err
	}

	span.SetAttributes(tracer.Int(tracer.AttrCompletionTokens, resp.Usage.CompletionTokens))
	return resp, nil
}

func (c *Completer) promptTokens(req *llm.Request) int {
	total := 0
	for _, m := range req.Conversation() {
		total += c.counter.Count(m.Content)
	}
	return total
}
