package handler

//go:generate mockgen -source=handler.go -destination=mocks/handler_mock.go -package=mocks Service

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"folio/internal/ratelimit/handler/mocks"
	"folio/internal/ratelimit/models"
	dErrors "folio/pkg/domain-errors"
)

type HandlerSuite struct {
	suite.Suite
	router      http.Handler
	ctrl        *gomock.Controller
	mockService *mocks.MockService
}

func (s *HandlerSuite) SetupTest() {
	s.ctrl = gomock.NewController(s.T())
	s.mockService = mocks.NewMockService(s.ctrl)
	logger := slog.New(slog.NewTextHandler(&bytes.Buffer{}, nil))
	h := New(s.mockService, logger)

	r := chi.NewRouter()
	h.RegisterAdmin(r)
	s.router = r
}

func (s *HandlerSuite) TearDownTest() {
	s.ctrl.Finish()
}

func TestHandlerSuite(t *testing.T) {
	suite.Run(t, new(HandlerSuite))
}

func (s *HandlerSuite) do(method, target, body string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, target, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

var backoffUntil = time.Date(2025, time.March, 1, 12, 0, 30, 0, time.UTC)

func sampleReport(model string) *models.ModelReport {
	return &models.ModelReport{
		Model: model,
		Statuses: []models.Status{{
			Kind:       models.KindRequestsPerMinute,
			Limit:      60,
			Used:       60,
			Exceeded:   true,
			RetryAfter: 30 * time.Second,
			ResetAt:    backoffUntil,
		}},
		ConsecutiveFailures: 1,
		InBackoff:           true,
		BackoffUntil:        backoffUntil,
	}
}

func (s *HandlerSuite) TestStatusForOneModel() {
	s.mockService.EXPECT().Status(gomock.Any(), "openai/gpt-4o").Return(sampleReport("openai/gpt-4o"), nil)

	rec := s.do(http.MethodGet, "/admin/rate-limit/status?model=openai/gpt-4o", "")

	s.Require().Equal(http.StatusOK, rec.Code)
	var resp models.ModelReportResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Equal("openai/gpt-4o", resp.Model)
	s.True(resp.InBackoff)
	s.Require().NotNil(resp.BackoffUntil)
	s.True(backoffUntil.Equal(*resp.BackoffUntil))
	s.Require().Len(resp.Limits, 1)
	s.Equal(30.0, resp.Limits[0].RetryAfterSeconds)
}

func (s *HandlerSuite) TestStatusForAllModels() {
	s.mockService.EXPECT().StatusAll(gomock.Any()).Return([]*models.ModelReport{
		sampleReport("a/model"),
		{Model: "b/model"},
	}, nil)

	rec := s.do(http.MethodGet, "/admin/rate-limit/status", "")

	s.Require().Equal(http.StatusOK, rec.Code)
	var resp []models.ModelReportResponse
	s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
	s.Require().Len(resp, 2)
	s.Equal("b/model", resp[1].Model)
	s.Nil(resp[1].BackoffUntil)
}

func (s *HandlerSuite) TestStatusPropagatesDomainErrors() {
	s.mockService.EXPECT().Status(gomock.Any(), "x").
		Return(nil, dErrors.New(dErrors.CodeInvalidInput, "no rate limits configured for model x"))

	rec := s.do(http.MethodGet, "/admin/rate-limit/status?model=x", "")

	assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
}

func (s *HandlerSuite) TestCheck() {
	s.Run("reports allowed false when any status is exceeded", func() {
		s.mockService.EXPECT().Check(gomock.Any(), "openai/gpt-4o", 1200).
			Return(sampleReport("openai/gpt-4o").Statuses, nil)

		rec := s.do(http.MethodPost, "/admin/rate-limit/check", `{"model":" openai/gpt-4o ","tokens":1200}`)

		s.Require().Equal(http.StatusOK, rec.Code)
		var resp models.CheckResponse
		s.Require().NoError(json.Unmarshal(rec.Body.Bytes(), &resp))
		s.False(resp.Allowed)
		s.Equal("openai/gpt-4o", resp.Model)
	})

	s.Run("rejects negative tokens before calling the service", func() {
		rec := s.do(http.MethodPost, "/admin/rate-limit/check", `{"model":"openai/gpt-4o","tokens":-1}`)
		assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
	})

	s.Run("rejects invalid JSON", func() {
		rec := s.do(http.MethodPost, "/admin/rate-limit/check", "not valid json")
		assert.Equal(s.T(), http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestSetLimits() {
	s.Run("applies parsed limits and returns the new report", func() {
		s.mockService.EXPECT().SetLimits("custom/model", models.Limits{
			models.KindRequestsPerMinute:  10,
			models.KindConcurrentRequests: 2,
		}).Return(nil)
		s.mockService.EXPECT().Status(gomock.Any(), "custom/model").Return(&models.ModelReport{Model: "custom/model"}, nil)

		rec := s.do(http.MethodPut, "/admin/rate-limit/limits",
			`{"model":"custom/model","limits":{"requests_per_minute":10,"concurrent_requests":2}}`)

		s.Equal(http.StatusOK, rec.Code)
	})

	s.Run("rejects malformed limits", func() {
		rec := s.do(http.MethodPut, "/admin/rate-limit/limits",
			`{"model":"custom/model","limits":{"requests_per_minute":0}}`)
		s.Equal(http.StatusBadRequest, rec.Code)

		rec = s.do(http.MethodPut, "/admin/rate-limit/limits",
			`{"model":"custom/model","limits":{"requests_per_fortnight":3}}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestReportError() {
	s.mockService.EXPECT().
		ReportError(gomock.Any(), "openai/gpt-4o", 30*time.Second, models.KindTokensPerMinute).
		Return(nil)

	rec := s.do(http.MethodPost, "/admin/rate-limit/report-error",
		`{"model":"openai/gpt-4o","retry_after_seconds":30,"limit_kind":"tokens_per_minute"}`)

	s.Equal(http.StatusNoContent, rec.Code)
}

func (s *HandlerSuite) TestReset() {
	s.Run("resets the model", func() {
		s.mockService.EXPECT().Reset("openai/gpt-4o").Return(nil)
		rec := s.do(http.MethodPost, "/admin/rate-limit/reset", `{"model":"openai/gpt-4o"}`)
		s.Equal(http.StatusNoContent, rec.Code)
	})

	s.Run("requires a model", func() {
		rec := s.do(http.MethodPost, "/admin/rate-limit/reset", `{}`)
		s.Equal(http.StatusBadRequest, rec.Code)
	})

	s.Run("rejects invalid JSON", func() {
		rec := s.do(http.MethodPost, "/admin/rate-limit/reset", "not valid json")
		s.Equal(http.StatusBadRequest, rec.Code)
	})
}

func (s *HandlerSuite) TestRateLimitedErrorsCarryRetryAfter() {
	s.mockService.EXPECT().Check(gomock.Any(), "m", 0).
		Return(nil, dErrors.NewRateLimited("please retry shortly", 1500*time.Millisecond))

	rec := s.do(http.MethodPost, "/admin/rate-limit/check", `{"model":"m"}`)

	s.Equal(http.StatusTooManyRequests, rec.Code)
	s.Equal("2", rec.Header().Get("Retry-After"))
}
