package models

import (
	"slices"
	"sync"
	"sync/atomic"
	"time"
)

// Role identifies who authored a message.
type Role string

const (
	RoleHuman     Role = "human"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

func (r Role) IsValid() bool {
	return r == RoleHuman || r == RoleAssistant || r == RoleSystem
}

// Metadata keys with defined meaning.
const (
	MetaAgent        = "agent"
	MetaIsSummary    = "is_summary"
	MetaSummarizedAt = "summarized_at"
)

// SummaryPrefix starts the content of every summary message.
const SummaryPrefix = "[Conversation Summary]\n"

type Message struct {
	Role      Role
	Content   string
	Metadata  map[string]any
	CreatedAt time.Time
}

// IsSummary reports whether the message is a rolling summary.
func (m Message) IsSummary() bool {
	if m.Role != RoleSystem {
		return false
	}
	v, ok := m.Metadata[MetaIsSummary].(bool)
	return ok && v
}

// Agent returns the assistant name carried in metadata, or "AI".
func (m Message) Agent() string {
	if name, ok := m.Metadata[MetaAgent].(string); ok && name != "" {
		return name
	}
	return "AI"
}

// Session is one conversation. Fields other than ID, UserAddress and
// CreatedAt are guarded by the session lock; last activity is atomic so the
// idle sweep can read it without waiting on a summarization.
type Session struct {
	ID          string
	UserAddress string
	CreatedAt   time.Time

	Messages           []Message
	Summary            string
	TotalTokens        int
	SummarizationCount int

	mu           sync.Mutex
	lastActivity atomic.Int64
}

// NewSession creates an empty session active at now.
func NewSession(id, userAddress string, now time.Time) *Session {
	s := &Session{ID: id, UserAddress: userAddress, CreatedAt: now}
	s.Touch(now)
	return s
}

func (s *Session) Lock()   { s.mu.Lock() }
func (s *Session) Unlock() { s.mu.Unlock() }

// Touch records activity at now.
func (s *Session) Touch(now time.Time) {
	s.lastActivity.Store(now.UnixNano())
}

func (s *Session) LastActivity() time.Time {
	return time.Unix(0, s.lastActivity.Load()).UTC()
}

// HasSummary must be called with the session lock held.
func (s *Session) HasSummary() bool {
	return s.Summary != ""
}

// CopyMessages must be called with the session lock held.
func (s *Session) CopyMessages() []Message {
	return slices.Clone(s.Messages)
}

// SessionMetrics is the monitoring view of a session.
type SessionMetrics struct {
	SessionID          string
	UserAddress        string
	MessageCount       int
	TotalTokens        int
	SummarizationCount int
	HasSummary         bool
	CreatedAt          time.Time
	LastActivity       time.Time
	DurationMinutes    float64
}

// Metrics must be called with the session lock held.
func (s *Session) Metrics() *SessionMetrics {
	last := s.LastActivity()
	return &SessionMetrics{
		SessionID:          s.ID,
		UserAddress:        s.UserAddress,
		MessageCount:       len(s.Messages),
		TotalTokens:        s.TotalTokens,
		SummarizationCount: s.SummarizationCount,
		HasSummary:         s.HasSummary(),
		CreatedAt:          s.CreatedAt,
		LastActivity:       last,
		DurationMinutes:    last.Sub(s.CreatedAt).Minutes(),
	}
}
