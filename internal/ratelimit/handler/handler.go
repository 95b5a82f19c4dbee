package handler

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"folio/internal/ratelimit/models"
	"folio/pkg/platform/httputil"
	request "folio/pkg/platform/middleware/request"
)

type Service interface {
	Check(ctx context.Context, model string, tokens int) ([]models.Status, error)
	Status(ctx context.Context, model string) (*models.ModelReport, error)
	StatusAll(ctx context.Context) ([]*models.ModelReport, error)
	SetLimits(model string, limits models.Limits) error
	ReportError(ctx context.Context, model string, retryAfter time.Duration, kind models.LimitKind) error
	Reset(model string) error
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
	r.Get("/admin/rate-limit/status", h.HandleStatus)
	r.Post("/admin/rate-limit/check", h.HandleCheck)
	r.Put("/admin/rate-limit/limits", h.HandleSetLimits)
	r.Post("/admin/rate-limit/report-error", h.HandleReportError)
	r.Post("/admin/rate-limit/reset", h.HandleReset)
}

// HandleStatus implements GET /admin/rate-limit/status[?model=...].
// Model names contain slashes, so the model travels as a query parameter.
//
// Output: one report when model is given, otherwise every known model.
func (h *Handler) HandleStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	if model := models.NormalizeModel(r.URL.Query().Get("model")); model != "" {
		report, err := h.service.Status(ctx, model)
		if err != nil {
			h.logger.ErrorContext(ctx, "failed to get rate limit status",
				"error", err,
				"model", model,
				"request_id", requestID,
			)
			httputil.WriteError(w, err)
			return
		}
		httputil.WriteJSON(w, http.StatusOK, models.NewModelReportResponse(report))
		return
	}

	reports, err := h.service.StatusAll(ctx)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to list rate limit status",
			"error", err,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	out := make([]models.ModelReportResponse, 0, len(reports))
	for _, report := range reports {
		out = append(out, models.NewModelReportResponse(report))
	}
	httputil.WriteJSON(w, http.StatusOK, out)
}

// HandleCheck implements POST /admin/rate-limit/check.
//
// Input: { "model": "openai/gpt-4o", "tokens": 1200 }
// Output: { "model": "...", "allowed": true, "statuses": [...] }
func (h *Handler) HandleCheck(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.Decode[models.CheckRequest](w, r, h.logger)
	if !ok {
		return
	}

	statuses, err := h.service.Check(ctx, req.Model, req.Tokens)
	if err != nil {
		h.logger.ErrorContext(ctx, "failed to check rate limit",
			"error", err,
			"model", req.Model,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, &models.CheckResponse{
		Model:    req.Model,
		Allowed:  len(models.Exceeded(statuses)) == 0,
		Statuses: models.NewStatusResponses(statuses),
	})
}

// HandleSetLimits implements PUT /admin/rate-limit/limits.
//
// Input: { "model": "openai/gpt-4o", "limits": { "requests_per_minute": 100 } }
// Output: the model's report after the change.
func (h *Handler) HandleSetLimits(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.Decode[models.SetLimitsRequest](w, r, h.logger)
	if !ok {
		return
	}
	limits, err := req.ToLimits()
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	if err := h.service.SetLimits(req.Model, limits); err != nil {
		h.logger.ErrorContext(ctx, "failed to set rate limits",
			"error", err,
			"model", req.Model,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "rate limits updated",
		"model", req.Model,
		"request_id", requestID,
	)

	report, err := h.service.Status(ctx, req.Model)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, models.NewModelReportResponse(report))
}

// HandleReportError implements POST /admin/rate-limit/report-error.
// Opens a provider backoff window by hand, e.g. after an incident.
//
// Input: { "model": "...", "retry_after_seconds": 30, "limit_kind": "requests_per_minute" }
// Output: 204 No Content
func (h *Handler) HandleReportError(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.Decode[models.ReportErrorRequest](w, r, h.logger)
	if !ok {
		return
	}

	retryAfter := time.Duration(req.RetryAfterSeconds) * time.Second
	if err := h.service.ReportError(ctx, req.Model, retryAfter, models.LimitKind(req.LimitKind)); err != nil {
		h.logger.ErrorContext(ctx, "failed to report provider error",
			"error", err,
			"model", req.Model,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleReset implements POST /admin/rate-limit/reset.
//
// Input: { "model": "openai/gpt-4o" }
// Output: 204 No Content
func (h *Handler) HandleReset(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := request.GetRequestID(ctx)

	req, ok := httputil.Decode[models.ResetRequest](w, r, h.logger)
	if !ok {
		return
	}

	if err := h.service.Reset(req.Model); err != nil {
		h.logger.ErrorContext(ctx, "failed to reset rate limit",
			"error", err,
			"model", req.Model,
			"request_id", requestID,
		)
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "rate limit reset",
		"model", req.Model,
		"request_id", requestID,
	)
	w.WriteHeader(http.StatusNoContent)
}
