// Package failover routes completions to a secondary provider while the
// primary is failing.
package failover

import (
	"context"
	"errors"
	"log/slog"

	"folio/internal/llm"
	"folio/pkg/platform/circuit"
	"folio/pkg/platform/middleware/request"
)

type Completer struct {
	primary   llm.Completer
	secondary llm.Completer
	breaker   *circuit.Breaker
	logger    *slog.Logger
}

type Option func(*Completer)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Completer) {
		if logger != nil {
			c.logger = logger
		}
	}
}

func WithBreaker(b *circuit.Breaker) Option {
	return func(c *Completer) {
		if b != nil {
			c.breaker = b
		}
	}
}

// New requires a primary. A nil secondary makes the completer a pass-through
// that still tracks primary health.
func New(primary, secondary llm.Completer, opts ...Option) (*Completer, error) {
	if primary == nil {
		return nil, errors.New("primary completer is required")
	}
	c := &Completer{
		primary:   primary,
		secondary: secondary,
		breaker:   circuit.New("llm-primary"),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// State reports the primary circuit state.
func (c *Completer) State() circuit.State {
	return c.breaker.State()
}

func (c *Completer) Complete(ctx context.Context, req *llm.Request) (*llm.Response, error) {
	if c.secondary != nil && !c.breaker.Allow() {
		return c.secondary.Complete(ctx, req)
	}

	resp, err := c.primary.Complete(ctx, req)
	if err == nil {
		if c.breaker.Success() == circuit.Closed {
			c.logger.InfoContext(ctx, "llm_circuit_closed",
				"breaker", c.breaker.Name(),
				"request_id", request.GetRequestID(ctx),
			)
		}
		return resp, nil
	}
	if !countsAsFailure(err) {
		return nil, err
	}

	if c.breaker.Failure() == circuit.Opened {
		c.logger.WarnContext(ctx, "llm_circuit_opened",
			"breaker", c.breaker.Name(),
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
	}
	if c.secondary == nil || ctx.Err() != nil {
		return nil, err
	}
	c.logger.WarnContext(ctx, "llm_failover",
		"model", req.Model,
		"error_kind", llm.KindOf(err),
		"request_id", request.GetRequestID(ctx),
	)
	return c.secondary.Complete(ctx, req)
}

func countsAsFailure(err error) bool {
	switch llm.KindOf(err) {
	case llm.KindUnavailable, llm.KindTimeout:
		return true
	}
	return false
}
