// Package service keeps per-session conversation history within a model's
// context budget.
//
// Every appended message is costed with the token counter. When a session
// crosses its share of the context window the older messages are folded into
// a rolling summary produced by an LLM, and only the most recent messages are
// kept verbatim. Summarization failures never surface to the caller: the
// session simply stays as it was and the next append tries again.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"folio/internal/llm"
	"folio/internal/memory/config"
	"folio/internal/memory/models"
	"folio/internal/platform/tracer"
	"folio/internal/sentinel"
	"folio/internal/tokens"
	dErrors "folio/pkg/domain-errors"
)

// messageOverhead is added to every message's content tokens for role and
// framing.
const messageOverhead = 10

// errSummaryTooLong rejects a summary that would not shrink the session.
var errSummaryTooLong = errors.New("summary does not reduce session tokens")

const (
	summarizerSystemPrompt = "You are a conversation summarizer. Create concise summaries that preserve key information."
	mergePromptFormat      = "Combine these summaries into one concise summary under %d tokens:\n\n%s"
)

// SessionStore holds sessions. Implementations must be safe for concurrent use.
type SessionStore interface {
	GetOrCreate(ctx context.Context, id, userAddress string, now time.Time) (*models.Session, bool, error)
	Get(ctx context.Context, id string) (*models.Session, error)
	Delete(ctx context.Context, id string) (bool, error)
	List(ctx context.Context) ([]*models.Session, error)
	DeleteIdle(ctx context.Context, cutoff time.Time) ([]string, error)
	Len() int
}

// MetricsSink receives fire-and-forget memory telemetry.
type MetricsSink interface {
	ObserveSummarization(messages, tokensBefore, tokensAfter int, took time.Duration)
	IncrementSummarizationFailure()
	SetActiveSessions(n int)
	AddExpiredSessions(n int)
	IncrementMessages(role string)
}

type Service struct {
	store     SessionStore
	completer llm.Completer
	counter   tokens.Counter
	config    *config.Config
	logger    *slog.Logger
	metrics   MetricsSink
	tracer    tracer.Tracer
	now       func() time.Time
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		if logger != nil {
			s.logger = logger
		}
	}
}

func WithConfig(cfg *config.Config) Option {
	return func(s *Service) {
		if cfg != nil {
			s.config = cfg
		}
	}
}

// WithCounter sets the token counter. Defaults to the character estimator.
func WithCounter(counter tokens.Counter) Option {
	return func(s *Service) {
		if counter != nil {
			s.counter = counter
		}
	}
}

func WithMetrics(sink MetricsSink) Option {
	return func(s *Service) {
		s.metrics = sink
	}
}

func WithTracer(t tracer.Tracer) Option {
	return func(s *Service) {
		if t != nil {
			s.tracer = t
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// New creates the memory service. The completer produces summaries.
func New(store SessionStore, completer llm.Completer, opts ...Option) (*Service, error) {
	if store == nil {
		return nil, errors.New("session store is required")
	}
	if completer == nil {
		return nil, errors.New("completer is required")
	}
	s := &Service{
		store:     store,
		completer: completer,
		counter:   tokens.NewEstimator(),
		config:    config.DefaultConfig(),
		logger:    slog.Default(),
		tracer:    tracer.Noop,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	if err := s.config.Validate(); err != nil {
		return nil, err
	}
	return s, nil
}

// GetOrCreate returns the session for id, creating it when absent. Repeated
// calls return the same session and refresh its activity time.
func (s *Service) GetOrCreate(ctx context.Context, sessionID, userAddress string) (*models.Session, error) {
	sessionID, err := validateSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	now := s.now()
	session, created, err := s.store.GetOrCreate(ctx, sessionID, userAddress, now)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	if created {
		s.logger.InfoContext(ctx, "memory_session_created",
			"session_id", sessionID,
			"user_address", userAddress,
		)
		s.emit(func(m MetricsSink) { m.SetActiveSessions(s.store.Len()) })
		return session, nil
	}
	session.Touch(now)
	return session, nil
}

// AddMessage appends msg to the session, creating the session when needed,
// and summarizes when the session exceeds its share of contextWindow.
// A non-positive contextWindow means config.DefaultContextWindow.
//
// Returns true only when a summarization ran and succeeded.
func (s *Service) AddMessage(ctx context.Context, sessionID string, msg models.Message, contextWindow int) (bool, error) {
	if !msg.Role.IsValid() {
		return false, dErrors.New(dErrors.CodeInvalidInput, fmt.Sprintf("invalid message role %q", msg.Role))
	}
	session, err := s.GetOrCreate(ctx, sessionID, "")
	if err != nil {
		return false, err
	}

	now := s.now()
	if msg.CreatedAt.IsZero() {
		msg.CreatedAt = now
	}

	session.Lock()
	defer session.Unlock()

	session.Messages = append(session.Messages, msg)
	session.TotalTokens += s.messageTokens(msg)
	session.Touch(now)
	s.emit(func(m MetricsSink) { m.IncrementMessages(string(msg.Role)) })

	if session.TotalTokens <= s.config.Threshold(contextWindow) {
		return false, nil
	}
	return s.summarize(ctx, session), nil
}

// summarize folds all but the newest messages into the rolling summary.
// Callers must hold the session lock.
func (s *Service) summarize(ctx context.Context, session *models.Session) bool {
	keep := s.config.PreserveRecentMessages
	if len(session.Messages) <= keep {
		return false
	}
	split := len(session.Messages) - keep
	older := session.Messages[:split]
	recent := slices.Clone(session.Messages[split:])
	tokensBefore := session.TotalTokens
	start := s.now()

	ctx, span := s.tracer.Start(ctx, tracer.SpanMemorySummarize,
		tracer.String(tracer.AttrSessionID, session.ID),
		tracer.Int(tracer.AttrMessagesSummarized, len(older)),
		tracer.Int(tracer.AttrTokensBefore, tokensBefore),
	)
	var err error
	defer func() { span.End(err) }()

	summary, err := s.complete(ctx, s.config.RenderPrompt(transcript(older)))
	if err != nil {
		s.summarizationFailed(ctx, session, err)
		return false
	}

	if session.HasSummary() {
		combined := "Previous Summary:\n" + session.Summary + "\n\nAdditional Summary:\n" + summary
		summary = combined
		if s.counter.Count(combined) > s.config.MaxSummaryTokens {
			summary, err = s.complete(ctx, fmt.Sprintf(mergePromptFormat, s.config.MaxSummaryTokens, combined))
			if err != nil {
				s.summarizationFailed(ctx, session, err)
				return false
			}
		}
		span.AddEvent(tracer.EventSummaryMerged)
	}

	now := s.now()
	summaryMsg := models.Message{
		Role:    models.RoleSystem,
		Content: models.SummaryPrefix + summary,
		Metadata: map[string]any{
			models.MetaIsSummary:    true,
			models.MetaSummarizedAt: now,
		},
		CreatedAt: now,
	}
	compacted := append([]models.Message{summaryMsg}, recent...)
	tokensAfter := s.totalTokens(compacted)
	if tokensAfter >= tokensBefore {
		err = fmt.Errorf("%w: %d tokens after, %d before", errSummaryTooLong, tokensAfter, tokensBefore)
		s.summarizationFailed(ctx, session, err)
		return false
	}
	session.Messages = compacted
	session.Summary = summary
	session.TotalTokens = tokensAfter
	session.SummarizationCount++

	took := now.Sub(start)
	span.SetAttributes(tracer.Int(tracer.AttrTokensAfter, session.TotalTokens))
	s.emit(func(m MetricsSink) {
		m.ObserveSummarization(len(older), tokensBefore, session.TotalTokens, took)
	})
	s.logger.InfoContext(ctx, "memory_summarization_complete",
		"session_id", session.ID,
		"messages_summarized", len(older),
		"tokens_before", tokensBefore,
		"tokens_after", session.TotalTokens,
		"summarization_count", session.SummarizationCount,
		"duration_ms", took.Milliseconds(),
	)
	return true
}

func (s *Service) complete(ctx context.Context, prompt string) (string, error) {
	resp, err := s.completer.Complete(ctx, &llm.Request{
		Model:        s.config.SummarizationModel,
		SystemPrompt: summarizerSystemPrompt,
		Prompt:       prompt,
		Temperature:  s.config.SummarizationTemperature,
		MaxTokens:    s.config.MaxSummaryTokens,
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(resp.Content), nil
}

func (s *Service) summarizationFailed(ctx context.Context, session *models.Session, err error) {
	s.emit(func(m MetricsSink) { m.IncrementSummarizationFailure() })
	s.logger.ErrorContext(ctx, "memory_summarization_failed",
		"session_id", session.ID,
		"error", err,
		"error_kind", llm.KindOf(err),
		"message_count", len(session.Messages),
		"total_tokens", session.TotalTokens,
	)
}

// GetContext returns the newest messages that fit in maxTokens, oldest
// first. The walk stops at the first message that does not fit, so the
// result is always a contiguous suffix. maxTokens <= 0 returns the whole
// history. Unknown sessions yield an empty slice.
func (s *Service) GetContext(ctx context.Context, sessionID string, maxTokens int) ([]models.Message, error) {
	sessionID, err := validateSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return []models.Message{}, nil
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}

	session.Lock()
	defer session.Unlock()

	if maxTokens <= 0 {
		return session.CopyMessages(), nil
	}
	used := 0
	start := len(session.Messages)
	for i := len(session.Messages) - 1; i >= 0; i-- {
		cost := s.messageTokens(session.Messages[i])
		if used+cost > maxTokens {
			break
		}
		used += cost
		start = i
	}
	return slices.Clone(session.Messages[start:]), nil
}

// Clear removes the session. Clearing an unknown session is not an error.
func (s *Service) Clear(ctx context.Context, sessionID string) error {
	sessionID, err := validateSessionID(sessionID)
	if err != nil {
		return err
	}
	existed, err := s.store.Delete(ctx, sessionID)
	if err != nil {
		return dErrors.Wrap(err, dErrors.CodeInternal, "failed to clear session")
	}
	if existed {
		s.logger.InfoContext(ctx, "memory_session_cleared", "session_id", sessionID)
		s.emit(func(m MetricsSink) { m.SetActiveSessions(s.store.Len()) })
	}
	return nil
}

// ExpireIdle removes sessions idle for longer than the session timeout and
// returns how many were removed.
func (s *Service) ExpireIdle(ctx context.Context) (int, error) {
	cutoff := s.now().Add(-s.config.SessionTimeout)
	removed, err := s.store.DeleteIdle(ctx, cutoff)
	if err != nil {
		return 0, dErrors.Wrap(err, dErrors.CodeInternal, "failed to expire sessions")
	}
	if len(removed) > 0 {
		s.logger.InfoContext(ctx, "memory_sessions_expired",
			"count", len(removed),
			"session_ids", removed,
		)
	}
	s.emit(func(m MetricsSink) {
		m.AddExpiredSessions(len(removed))
		m.SetActiveSessions(s.store.Len())
	})
	return len(removed), nil
}

// Metrics reports the monitoring view of one session.
func (s *Service) Metrics(ctx context.Context, sessionID string) (*models.SessionMetrics, error) {
	sessionID, err := validateSessionID(sessionID)
	if err != nil {
		return nil, err
	}
	session, err := s.store.Get(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.Wrap(err, dErrors.CodeNotFound, "session not found")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load session")
	}
	session.Lock()
	defer session.Unlock()
	return session.Metrics(), nil
}

// List reports every session, most recently active first.
func (s *Service) List(ctx context.Context) ([]*models.SessionMetrics, error) {
	sessions, err := s.store.List(ctx)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to list sessions")
	}
	out := make([]*models.SessionMetrics, 0, len(sessions))
	for _, session := range sessions {
		session.Lock()
		out = append(out, session.Metrics())
		session.Unlock()
	}
	slices.SortFunc(out, func(a, b *models.SessionMetrics) int {
		if c := b.LastActivity.Compare(a.LastActivity); c != 0 {
			return c
		}
		return strings.Compare(a.SessionID, b.SessionID)
	})
	return out, nil
}

func (s *Service) messageTokens(msg models.Message) int {
	return s.counter.Count(msg.Content) + messageOverhead
}

func (s *Service) totalTokens(messages []models.Message) int {
	total := 0
	for _, msg := range messages {
		total += s.messageTokens(msg)
	}
	return total
}

func (s *Service) emit(fn func(MetricsSink)) {
	if s.metrics == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			s.logger.Warn("memory_metrics_failed", "panic", r)
		}
	}()
	fn(s.metrics)
}

// transcript renders messages for the summarization prompt. Earlier
// summaries are skipped; they are merged separately.
func transcript(messages []models.Message) string {
	lines := make([]string, 0, len(messages))
	for _, msg := range messages {
		switch {
		case msg.IsSummary():
			continue
		case msg.Role == models.RoleHuman:
			lines = append(lines, "User: "+msg.Content)
		case msg.Role == models.RoleAssistant:
			lines = append(lines, msg.Agent()+": "+msg.Content)
		case msg.Role == models.RoleSystem:
			lines = append(lines, "System: "+msg.Content)
		}
	}
	return strings.Join(lines, "\n\n")
}

func validateSessionID(id string) (string, error) {
	id = strings.TrimSpace(id)
	if id == "" {
		return "", dErrors.New(dErrors.CodeInvalidInput, "session id is required")
	}
	if len(id) > models.MaxSessionIDLength {
		return "", dErrors.New(dErrors.CodeInvalidInput, "session id is too long")
	}
	return id, nil
}
