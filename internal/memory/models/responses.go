package models

import "time"

type SessionMetricsResponse struct {
	SessionID          string    `json:"session_id"`
	UserAddress        string    `json:"user_address,omitempty"`
	MessageCount       int       `json:"message_count"`
	TotalTokens        int       `json:"total_tokens"`
	SummarizationCount int       `json:"summarization_count"`
	HasSummary         bool      `json:"has_summary"`
	CreatedAt          time.Time `json:"created_at"`
	LastActivity       time.Time `json:"last_activity"`
	DurationMinutes    float64   `json:"duration_minutes"`
}

type MessageResponse struct {
	Role      Role           `json:"role"`
	Content   string         `json:"content"`
	Metadata  map[string]any `json:"metadata,omitempty"`
	CreatedAt time.Time      `json:"created_at"`
}

type AddMessageResponse struct {
	Summarized bool                   `json:"summarized"`
	Session    SessionMetricsResponse `json:"session"`
}

type ContextResponse struct {
	SessionID string            `json:"session_id"`
	Messages  []MessageResponse `json:"messages"`
}

func NewSessionMetricsResponse(m *SessionMetrics) SessionMetricsResponse {
	return SessionMetricsResponse{
		SessionID:          m.SessionID,
		UserAddress:        m.UserAddress,
		MessageCount:       m.MessageCount,
		TotalTokens:        m.TotalTokens,
		SummarizationCount: m.SummarizationCount,
		HasSummary:         m.HasSummary,
		CreatedAt:          m.CreatedAt,
		LastActivity:       m.LastActivity,
		DurationMinutes:    m.DurationMinutes,
	}
}

func NewMessageResponses(messages []Message) []MessageResponse {
	out := make([]MessageResponse, 0, len(messages))
	for _, m := range messages {
		out = append(out, MessageResponse{
			Role:      m.Role,
			Content:   m.Content,
			Metadata:  m.Metadata,
			CreatedAt: m.CreatedAt,
		})
	}
	return out
}
