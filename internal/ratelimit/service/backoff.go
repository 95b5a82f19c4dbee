package service

import (
	"time"

	"folio/internal/ratelimit/config"
	"folio/internal/ratelimit/models"
)

// backoffBase is the longest retry hint among exceeded statuses, or the
// configured base when none carries one.
func backoffBase(cfg config.BackoffConfig, exceeded []models.Status) time.Duration {
	var base time.Duration
	for _, s := range exceeded {
		if s.RetryAfter > base {
			base = s.RetryAfter
		}
	}
	if base <= 0 {
		return cfg.Base
	}
	return base
}

// backoffWait computes base * 2^min(failures, cap) plus uniform jitter, capped at cfg.Max.
// r is a sample in [0, 1).
func backoffWait(cfg config.BackoffConfig, base time.Duration, failures int, r float64) time.Duration {
	exp := min(max(failures, 0), cfg.ExponentCap)
	raw := base * time.Duration(1<<exp)
	if raw <= 0 || raw > cfg.Max {
		// overflow or already past the cap
		return cfg.Max
	}
	jitter := time.Duration(r * cfg.Jitter * float64(raw))
	return min(raw+jitter, cfg.Max)
}
