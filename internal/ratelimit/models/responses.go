package models

import "time"

type StatusResponse struct {
	Kind              LimitKind `json:"kind"`
	Limit             int       `json:"limit"`
	Used              int       `json:"used"`
	Remaining         int       `json:"remaining"`
	UsagePercent      float64   `json:"usage_percent"`
	ResetAt           time.Time `json:"reset_at"`
	Exceeded          bool      `json:"exceeded"`
	RetryAfterSeconds float64   `json:"retry_after_seconds,omitempty"`
}

type ModelReportResponse struct {
	Model               string           `json:"model"`
	Limits              []StatusResponse `json:"limits"`
	Concurrent          int              `json:"concurrent"`
	ConsecutiveFailures int              `json:"consecutive_failures"`
	InBackoff           bool             `json:"in_backoff"`
	BackoffUntil        *time.Time       `json:"backoff_until,omitempty"`
}

type CheckResponse struct {
	Model    string           `json:"model"`
	Allowed  bool             `json:"allowed"`
	Statuses []StatusResponse `json:"statuses"`
}

func NewStatusResponses(statuses []Status) []StatusResponse {
	out := make([]StatusResponse, 0, len(statuses))
	for _, s := range statuses {
		out = append(out, StatusResponse{
			Kind:              s.Kind,
			Limit:             s.Limit,
			Used:              s.Used,
			Remaining:         s.Remaining,
			UsagePercent:      s.UsagePercent,
			ResetAt:           s.ResetAt,
			Exceeded:          s.Exceeded,
			RetryAfterSeconds: s.RetryAfter.Seconds(),
		})
	}
	return out
}

func NewModelReportResponse(r *ModelReport) ModelReportResponse {
	resp := ModelReportResponse{
		Model:               r.Model,
		Limits:              NewStatusResponses(r.Statuses),
		Concurrent:          r.Concurrent,
		ConsecutiveFailures: r.ConsecutiveFailures,
		InBackoff:           r.InBackoff,
	}
	if !r.BackoffUntil.IsZero() {
		until := r.BackoffUntil
		resp.BackoffUntil = &until
	}
	return resp
}
