// Package llm defines the completion contract shared by provider drivers and
// the services that call them.
//
// A completion is an opaque remote call. Provider failures are normalized to
// an ErrorKind so callers can react to rate limits and outages without
// knowing which vendor produced them.
package llm

import (
	"context"
	"errors"
	"fmt"
	"time"

	dErrors "folio/pkg/domain-errors"
)

// Role is the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

type Message struct {
	Role    Role
	Content string
}

// Request is one completion call. Prompt, when set, is sent as the final user
// message after Messages.
type Request struct {
	Model        string
	SystemPrompt string
	Messages     []Message
	Prompt       string
	Temperature  float64
	MaxTokens    int
}

// Conversation flattens the request into provider messages.
func (r *Request) Conversation() []Message {
	out := make([]Message, 0, len(r.Messages)+2)
	if r.SystemPrompt != "" {
		out = append(out, Message{Role: RoleSystem, Content: r.SystemPrompt})
	}
	out = append(out, r.Messages...)
	if r.Prompt != "" {
		out = append(out, Message{Role: RoleUser, Content: r.Prompt})
	}
	return out
}

type Usage struct {
	PromptTokens     int
	CompletionTokens int
}

type Response struct {
	Content string
	Model   string
	Usage   Usage
}

// Completer performs a completion.
type Completer interface {
	Complete(ctx context.Context, req *Request) (*Response, error)
}

// CompleterFunc adapts a function to Completer.
type CompleterFunc func(ctx context.Context, req *Request) (*Response, error)

func (f CompleterFunc) Complete(ctx context.Context, req *Request) (*Response, error) {
	return f(ctx, req)
}

// Unconfigured stands in when no provider is configured. Every call fails
// with KindUnavailable, so callers degrade the same way as during an outage.
func Unconfigured() Completer {
	return CompleterFunc(func(context.Context, *Request) (*Response, error) {
		return nil, &Error{Provider: "none", Kind: KindUnavailable, Message: "no llm provider configured"}
	})
}

// ErrorKind is the provider-independent failure category.
type ErrorKind string

const (
	KindRateLimited ErrorKind = "rate_limited"
	KindAuth        ErrorKind = "auth"
	KindUnavailable ErrorKind = "unavailable"
	KindBadRequest  ErrorKind = "bad_request"
	KindTimeout     ErrorKind = "timeout"
	KindUnknown     ErrorKind = "unknown"
)

// Error is returned by drivers when the provider rejects a call.
type Error struct {
	Provider   string
	Kind       ErrorKind
	StatusCode int
	Message    string
	// RetryAfter is the provider's hint, zero when absent.
	RetryAfter time.Duration
	Err        error
}

func (e *Error) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("llm/%s: HTTP %d: %s: %s", e.Provider, e.StatusCode, e.Kind, e.Message)
	}
	return fmt.Sprintf("llm/%s: %s: %s", e.Provider, e.Kind, e.Message)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindForStatus classifies an HTTP status code.
func KindForStatus(status int) ErrorKind {
	switch {
	case status == 429:
		return KindRateLimited
	case status == 401 || status == 403:
		return KindAuth
	case status == 408:
		return KindTimeout
	case status >= 500:
		return KindUnavailable
	case status >= 400:
		return KindBadRequest
	}
	return KindUnknown
}

// KindOf classifies any error. Nil yields the empty kind.
func KindOf(err error) ErrorKind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindUnknown
}

// RetryAfterOf returns the provider's retry hint carried by err, or zero.
func RetryAfterOf(err error) time.Duration {
	var e *Error
	if errors.As(err, &e) {
		return e.RetryAfter
	}
	return 0
}

// ToDomain translates a provider failure into a domain error for callers
// that surface it over the admin API.
func ToDomain(err error) error {
	if err == nil {
		return nil
	}
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	switch KindOf(err) {
	case KindRateLimited:
		return &dErrors.Error{Code: dErrors.CodeRateLimited, Message: "provider rate limited, please retry shortly", Err: err, RetryAfter: RetryAfterOf(err)}
	case KindUnavailable:
		return dErrors.Wrap(err, dErrors.CodeUnavailable, "provider unavailable")
	case KindTimeout:
		return dErrors.Wrap(err, dErrors.CodeTimeout, "provider timed out")
	case KindBadRequest:
		return dErrors.Wrap(err, dErrors.CodeBadRequest, "provider rejected the request")
	default:
		return dErrors.Wrap(err, dErrors.CodeInternal, "completion failed")
	}
}
