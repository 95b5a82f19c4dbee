// Package httputil writes JSON responses and maps domain errors onto them.
package httputil

import (
	"encoding/json"
	"errors"
	"math"
	"net/http"
	"strconv"

	dErrors "folio/pkg/domain-errors"
)

// ErrorBody is the JSON shape of every error response.
type ErrorBody struct {
	Error       string `json:"error"`
	Description string `json:"error_description,omitempty"`
}

type wireError struct {
	status int
	code   string
}

var wireErrors = map[dErrors.Code]wireError{
	dErrors.CodeNotFound:     {http.StatusNotFound, "not_found"},
	dErrors.CodeBadRequest:   {http.StatusBadRequest, "bad_request"},
	dErrors.CodeInvalidInput: {http.StatusBadRequest, "bad_request"},
	dErrors.CodeValidation:   {http.StatusBadRequest, "validation_error"},
	dErrors.CodeConflict:     {http.StatusConflict, "conflict"},
	dErrors.CodeRateLimited:  {http.StatusTooManyRequests, "rate_limited"},
	dErrors.CodeUnavailable:  {http.StatusServiceUnavailable, "provider_unavailable"},
	dErrors.CodeTimeout:      {http.StatusGatewayTimeout, "provider_timeout"},
}

var internalError = wireError{http.StatusInternalServerError, "internal_error"}

func lookup(code dErrors.Code) wireError {
	if we, ok := wireErrors[code]; ok {
		return we
	}
	return internalError
}

func WriteJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

// WriteError renders err as an ErrorBody. Errors without a domain code are
// reported as internal with no description. A rate limited error with a
// retry hint also sets Retry-After, rounded up to whole seconds.
func WriteError(w http.ResponseWriter, err error) {
	var domainErr *dErrors.Error
	if !errors.As(err, &domainErr) {
		WriteJSON(w, internalError.status, ErrorBody{Error: internalError.code})
		return
	}
	we := lookup(domainErr.Code)
	if domainErr.Code == dErrors.CodeRateLimited && domainErr.RetryAfter > 0 {
		w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(domainErr.RetryAfter.Seconds()))))
	}
	WriteJSON(w, we.status, ErrorBody{Error: we.code, Description: domainErr.Message})
}
