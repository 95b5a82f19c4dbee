package httputil

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"

	dErrors "folio/pkg/domain-errors"
	"folio/pkg/requestcontext"
)

// MaxBodySize caps admin request bodies.
const MaxBodySize = 64 * 1024

// Request bodies may implement either hook; Normalize always runs first.
type (
	Normalizer interface{ Normalize() }
	Validator  interface{ Validate() error }
)

// Decode reads a JSON body into a new T, normalizes and validates it. On any
// failure the error response is already written and ok is false.
//
//	req, ok := httputil.Decode[models.SetLimitsRequest](w, r, h.logger)
//	if !ok {
//		return
//	}
func Decode[T any](w http.ResponseWriter, r *http.Request, logger *slog.Logger) (req *T, ok bool) {
	ctx := r.Context()
	req = new(T)
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, MaxBodySize)).Decode(req); err != nil {
		logger.WarnContext(ctx, "undecodable request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		WriteError(w, dErrors.New(dErrors.CodeBadRequest, bodyProblem(err)))
		return nil, false
	}
	if err := Prepare(req); err != nil {
		logger.WarnContext(ctx, "rejected request body",
			"error", err,
			"request_id", requestcontext.RequestID(ctx),
		)
		WriteError(w, asValidation(err))
		return nil, false
	}
	return req, true
}

// Prepare runs the Normalize and Validate hooks v implements.
func Prepare(v any) error {
	if n, ok := v.(Normalizer); ok {
		n.Normalize()
	}
	if c, ok := v.(Validator); ok {
		return c.Validate()
	}
	return nil
}

func bodyProblem(err error) string {
	var tooLarge *http.MaxBytesError
	switch {
	case errors.Is(err, io.EOF):
		return "request body is required"
	case errors.As(err, &tooLarge):
		return "request body too large"
	}
	return "invalid request body"
}

// asValidation keeps domain codes and files everything else as a
// validation failure.
func asValidation(err error) error {
	var domainErr *dErrors.Error
	if errors.As(err, &domainErr) {
		return err
	}
	return dErrors.New(dErrors.CodeValidation, err.Error())
}
