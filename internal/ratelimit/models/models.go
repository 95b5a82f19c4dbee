package models

import (
	"fmt"
	"slices"
	"time"

	dErrors "folio/pkg/domain-errors"
)

// LimitKind names one ceiling enforced per model.
type LimitKind string

const (
	KindRequestsPerMinute  LimitKind = "requests_per_minute"
	KindRequestsPerHour    LimitKind = "requests_per_hour"
	KindTokensPerMinute    LimitKind = "tokens_per_minute"
	KindTokensPerHour      LimitKind = "tokens_per_hour"
	KindConcurrentRequests LimitKind = "concurrent_requests"
)

// AllKinds lists every kind in reporting order.
var AllKinds = []LimitKind{
	KindRequestsPerMinute,
	KindRequestsPerHour,
	KindTokensPerMinute,
	KindTokensPerHour,
	KindConcurrentRequests,
}

func (k LimitKind) IsValid() bool {
	return slices.Contains(AllKinds, k)
}

func (k LimitKind) String() string {
	return string(k)
}

// Window returns the sliding window length for windowed kinds, zero for concurrency.
func (k LimitKind) Window() time.Duration {
	switch k {
	case KindRequestsPerMinute, KindTokensPerMinute:
		return time.Minute
	case KindRequestsPerHour, KindTokensPerHour:
		return time.Hour
	}
	return 0
}

// CountsRequests reports whether the kind is satisfied by request counts.
func (k LimitKind) CountsRequests() bool {
	return k == KindRequestsPerMinute || k == KindRequestsPerHour
}

// CountsTokens reports whether the kind is satisfied by token amounts.
func (k LimitKind) CountsTokens() bool {
	return k == KindTokensPerMinute || k == KindTokensPerHour
}

// ParseLimitKind validates s as a LimitKind.
func ParseLimitKind(s string) (LimitKind, error) {
	k := LimitKind(s)
	if !k.IsValid() {
		return "", dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown limit kind %q", s))
	}
	return k, nil
}

// Limits maps each configured kind to its positive ceiling.
type Limits map[LimitKind]int

// Validate rejects empty limit sets, unknown kinds and non-positive values.
func (l Limits) Validate() error {
	if len(l) == 0 {
		return dErrors.New(dErrors.CodeInvalidInput, "limits must configure at least one kind")
	}
	for kind, value := range l {
		if !kind.IsValid() {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("unknown limit kind %q", kind))
		}
		if value <= 0 {
			return dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("limit %s must be positive, got %d", kind, value))
		}
	}
	return nil
}

// Clone returns an independent copy.
func (l Limits) Clone() Limits {
	out := make(Limits, len(l))
	for k, v := range l {
		out[k] = v
	}
	return out
}

// Kinds returns the configured kinds in reporting order.
func (l Limits) Kinds() []LimitKind {
	kinds := make([]LimitKind, 0, len(l))
	for _, k := range AllKinds {
		if _, ok := l[k]; ok {
			kinds = append(kinds, k)
		}
	}
	return kinds
}

// Status is a point-in-time view of one limit for one model.
type Status struct {
	Kind         LimitKind
	Limit        int
	Used         int
	Remaining    int
	UsagePercent float64
	ResetAt      time.Time
	Exceeded     bool
	// RetryAfter is set when Exceeded.
	RetryAfter time.Duration
}

// ModelReport is the monitoring snapshot for one model.
type ModelReport struct {
	Model               string
	Statuses            []Status
	Concurrent          int
	ConsecutiveFailures int
	BackoffUntil        time.Time
	InBackoff           bool
}

// Exceeded returns the statuses that are over their limit.
func Exceeded(statuses []Status) []Status {
	var out []Status
	for _, s := range statuses {
		if s.Exceeded {
			out = append(out, s)
		}
	}
	return out
}
