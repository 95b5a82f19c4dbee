package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"folio/internal/memory/models"
	dErrors "folio/pkg/domain-errors"
	"folio/pkg/platform/httputil"
	request "folio/pkg/platform/middleware/request"
)

type Service interface {
	GetOrCreate(ctx context.Context, sessionID, userAddress string) (*models.Session, error)
	AddMessage(ctx context.Context, sessionID string, msg models.Message, contextWindow int) (bool, error)
	GetContext(ctx context.Context, sessionID string, maxTokens int) ([]models.Message, error)
	Clear(ctx context.Context, sessionID string) error
	Metrics(ctx context.Context, sessionID string) (*models.SessionMetrics, error)
	List(ctx context.Context) ([]*models.SessionMetrics, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	return &Handler{
		service: service,
		logger:  logger,
	}
}

func (h *Handler) RegisterAdmin(r chi.Router) {
	r.Route("/admin/sessions", func(r chi.Router) {
		r.Get("/", h.HandleList)
		r.Post("/", h.HandleCreate)
		r.Get("/{id}", h.HandleMetrics)
		r.Delete("/{id}", h.HandleClear)
		r.Get("/{id}/context", h.HandleContext)
		r.Post("/{id}/messages", h.HandleAddMessage)
	})
}

// HandleList implements GET /admin/sessions.
// Output: session metrics, most recently active first.
func (h *Handler) HandleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	list, err := h.service.List(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list sessions",
			"error", err,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	out := make([]models.SessionMetricsResponse, 0, len(list))
	for _, m := range list {
		out = append(out, models.NewSessionMetricsResponse(m))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleCreate implements POST /admin/sessions.
//
// Input: { "session_id": "optional", "user_address": "0x..." }
// Output: 201 with the session metrics. A missing session_id is generated.
func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.Decode[models.CreateSessionRequest](w, r, h.logger)
	if !ok {
		return
	}
	if req.SessionID == "" {
		req.SessionID = uuid.NewString()
	}

	if _, err := h.service.GetOrCreate(ctx, req.SessionID, req.UserAddress); err != nil {
		h.logger.ErrorContext(ctx, "failed to create session",
			"error", err,
			"session_id", req.SessionID,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	m, err := h.service.Metrics(ctx, req.SessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusCreated, models.NewSessionMetricsResponse(m))
}

// HandleMetrics implements GET /admin/sessions/{id}.
func (h *Handler) HandleMetrics(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	m, err := h.service.Metrics(ctx, sessionID)
	if err != nil {
		if !dErrors.HasCode(err, dErrors.CodeNotFound) {
			h.logger.ErrorContext(ctx, "failed to get session metrics",
				"error", err,
				"session_id", sessionID,
				"request_id", request.GetRequestID(ctx),
			)
		}
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewSessionMetricsResponse(m))
}

// HandleClear implements DELETE /admin/sessions/{id}.
// Output: 204 No Content, also for unknown sessions.
func (h *Handler) HandleClear(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	if err := h.service.Clear(ctx, sessionID); err != nil {
		h.logger.ErrorContext(ctx, "failed to clear session",
			"error", err,
			"session_id", sessionID,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleContext implements GET /admin/sessions/{id}/context[?max_tokens=N].
// Without max_tokens the full history is returned.
func (h *Handler) HandleContext(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	sessionID := chi.URLParam(r, "id")

	maxTokens := 0
	if raw := r.URL.Query().Get("max_tokens"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeValidation, "max_tokens must be a non-negative integer"))
			return
		}
		maxTokens = n
	}

	msgs, err := h.service.GetContext(ctx, sessionID, maxTokens)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to get session context",
			"error", err,
			"session_id", sessionID,
			"request_id", request.GetRequestID(ctx),
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.ContextResponse{
		SessionID: sessionID,
		Messages:  models.NewMessageResponses(msgs),
	})
}

// HandleAddMessage implements POST /admin/sessions/{id}/messages.
//
// Input: { "role": "human", "content": "...", "agent": "SwapAgent", "context_window": 128000 }
// Output: { "summarized": false, "session": {...} }
func (h *Handler) HandleAddMessage(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)
	sessionID := chi.URLParam(r, "id")

	req, ok := httputil.Decode[models.AddMessageRequest](w, r, h.logger)
	if !ok {
		return
	}

	summarized, err := h.service.AddMessage(ctx, sessionID, req.ToMessage(), req.ContextWindow)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to add message",
			"error", err,
			"session_id", sessionID,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	m, err := h.service.Metrics(ctx, sessionID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.AddMessageResponse{
		Summarized: summarized,
		Session:    models.NewSessionMetricsResponse(m),
	})
}
