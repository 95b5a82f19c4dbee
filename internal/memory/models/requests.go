package models

import (
	"strings"

	dErrors "folio/pkg/domain-errors"
	"folio/pkg/validation"
)

// MaxSessionIDLength bounds session identifiers accepted by the admin API.
const MaxSessionIDLength = 128

// CreateSessionRequest opens a session. A blank ID generates one.
type CreateSessionRequest struct {
	SessionID   string `json:"session_id" validate:"max=128"`
	UserAddress string `json:"user_address" validate:"max=128"`
}

func (r *CreateSessionRequest) Normalize() {
	if r != nil {
		r.SessionID = strings.TrimSpace(r.SessionID)
		r.UserAddress = strings.TrimSpace(r.UserAddress)
	}
}

func (r *CreateSessionRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}

// AddMessageRequest appends a message to a session.
type AddMessageRequest struct {
	Role          string         `json:"role" validate:"required,oneof=human assistant system"`
	Content       string         `json:"content" validate:"required"`
	Agent         string         `json:"agent,omitempty" validate:"max=64"`
	Metadata      map[string]any `json:"metadata,omitempty"`
	ContextWindow int            `json:"context_window" validate:"gte=0"`
}

func (r *AddMessageRequest) Normalize() {
	if r != nil {
		r.Role = strings.ToLower(strings.TrimSpace(r.Role))
		r.Agent = strings.TrimSpace(r.Agent)
	}
}

func (r *AddMessageRequest) Validate() error {
	if r == nil {
		return dErrors.New(dErrors.CodeBadRequest, "request is required")
	}
	return validation.Validate(r)
}

// ToMessage builds the domain message. Summary markers cannot be injected
// from outside.
func (r *AddMessageRequest) ToMessage() Message {
	meta := make(map[string]any, len(r.Metadata)+1)
	for k, v := range r.Metadata {
		if k == MetaIsSummary || k == MetaSummarizedAt {
			continue
		}
		meta[k] = v
	}
	if r.Agent != "" {
		meta[MetaAgent] = r.Agent
	}
	return Message{Role: Role(r.Role), Content: r.Content, Metadata: meta}
}
