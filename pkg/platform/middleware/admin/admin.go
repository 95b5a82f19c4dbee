// Package admin guards the operator API with a shared token.
package admin

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"

	"folio/pkg/platform/httputil"
	request "folio/pkg/platform/middleware/request"
)

// HeaderToken carries the admin token when no bearer Authorization is sent.
const HeaderToken = "X-Admin-Token"

// RequireToken rejects requests without the expected token with 401.
// An empty expected token disables the check.
func RequireToken(expected string, logger *slog.Logger) func(http.Handler) http.Handler {
	if expected == "" {
		return func(next http.Handler) http.Handler { return next }
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if subtle.ConstantTimeCompare([]byte(presentedToken(r)), []byte(expected)) != 1 {
				ctx := r.Context()
				logger.WarnContext(ctx, "admin token mismatch",
					"path", r.URL.Path,
					"request_id", request.GetRequestID(ctx),
				)
				w.Header().Set("WWW-Authenticate", "Bearer")
				httputil.WriteJSON(w, http.StatusUnauthorized, httputil.ErrorBody{
					Error:       "unauthorized",
					Description: "admin token required",
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

func presentedToken(r *http.Request) string {
	if auth := r.Header.Get("Authorization"); auth != "" {
		if token, ok := strings.CutPrefix(auth, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.Header.Get(HeaderToken)
}
