package models

import (
	"strings"

	dErrors "folio/pkg/domain-errors"
	"folio/pkg/validation"
)

// MaxModelLength bounds model identifiers accepted by the admin API.
const MaxModelLength = 128

// SetLimitsRequest replaces a model's ceilings. Keys are limit kind names.
type SetLimitsRequest struct {
	Model  string         `json:"model" validate:"required,notblank,max=128"`
	Limits map[string]int `json:"limits" validate:"required,min=1"`
}

func (r *SetLimitsRequest) Normalize() {
	if r != nil {
		r.Model = NormalizeModel(r.Model)
	}
}

func (r *SetLimitsRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	_, err := r.ToLimits()
	return err
}

// ToLimits parses kind names and validates values.
func (r *SetLimitsRequest) ToLimits() (Limits, error) {
	limits := make(Limits, len(r.Limits))
	for name, value := range r.Limits {
		kind, err := ParseLimitKind(strings.TrimSpace(name))
		if err != nil {
			return nil, err
		}
		limits[kind] = value
	}
	if err := limits.Validate(); err != nil {
		return nil, err
	}
	return limits, nil
}

// CheckRequest asks for a read-only capacity check.
type CheckRequest struct {
	Model  string `json:"model" validate:"required,notblank,max=128"`
	Tokens int    `json:"tokens" validate:"gte=0"`
}

func (r *CheckRequest) Normalize() {
	if r != nil {
		r.Model = NormalizeModel(r.Model)
	}
}

func (r *CheckRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}

// ReportErrorRequest records a provider-side rate limit by hand.
type ReportErrorRequest struct {
	Model             string `json:"model" validate:"required,notblank,max=128"`
	RetryAfterSeconds int    `json:"retry_after_seconds" validate:"gte=0,lte=3600"`
	LimitKind         string `json:"limit_kind,omitempty"`
}

func (r *ReportErrorRequest) Normalize() {
	if r != nil {
		r.Model = NormalizeModel(r.Model)
		r.LimitKind = strings.TrimSpace(r.LimitKind)
	}
}

func (r *ReportErrorRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	if err := validation.Validate(r); err != nil {
		return err
	}
	if r.LimitKind != "" {
		if _, err := ParseLimitKind(r.LimitKind); err != nil {
			return err
		}
	}
	return nil
}

// ResetRequest clears all tracked state for a model.
type ResetRequest struct {
	Model string `json:"model" validate:"required,notblank,max=128"`
}

func (r *ResetRequest) Normalize() {
	if r != nil {
		r.Model = NormalizeModel(r.Model)
	}
}

func (r *ResetRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}
