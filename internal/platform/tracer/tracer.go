// Package tracer wraps span creation behind a small interface. Services take
// a Tracer; serve wires OTelTracer, tests use Recorder, and Noop is the
// default when nothing is injected.
package tracer

import (
	"context"
	"time"
)

// Span is one unit of traced work. End is called once, with the error the
// work finished with (nil on success).
type Span interface {
	End(err error)
	SetAttributes(attrs ...Attribute)
	AddEvent(name string, attrs ...Attribute)
}

// Tracer starts spans and must be safe for concurrent use. The returned
// context parents any span started from it.
type Tracer interface {
	Start(ctx context.Context, name string, attrs ...Attribute) (context.Context, Span)
}

type Attribute struct {
	Key   string
	Value any
}

func String(key, value string) Attribute          { return Attribute{key, value} }
func Bool(key string, value bool) Attribute       { return Attribute{key, value} }
func Int(key string, value int) Attribute         { return Attribute{key, value} }
func Float64(key string, value float64) Attribute { return Attribute{key, value} }

// Duration records value in whole milliseconds.
func Duration(key string, value time.Duration) Attribute {
	return Attribute{key, value.Milliseconds()}
}

// Noop discards everything.
var Noop Tracer = noop{}

type noop struct{}

func (noop) Start(ctx context.Context, _ string, _ ...Attribute) (context.Context, Span) {
	return ctx, noop{}
}

func (noop) End(error)                     {}
func (noop) SetAttributes(...Attribute)    {}
func (noop) AddEvent(string, ...Attribute) {}

// Span names.
const (
	SpanMemorySummarize = "memory.summarize"
	SpanLLMComplete     = "llm.complete"
)

// Attribute keys.
const (
	AttrSessionID          = "session.id"
	AttrMessagesSummarized = "memory.messages_summarized"
	AttrTokensBefore       = "memory.tokens_before"
	AttrTokensAfter        = "memory.tokens_after"
	AttrModel              = "llm.model"
	AttrPromptTokens       = "llm.prompt_tokens"
	AttrCompletionTokens   = "llm.completion_tokens"
	AttrErrorKind          = "llm.error_kind"
)

// Event names.
const (
	EventSummaryMerged       = "memory.summary_merged"
	EventCapacityUnavailable = "ratelimit.capacity_unavailable"
)
