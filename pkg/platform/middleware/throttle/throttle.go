// Package throttle caps the request rate of operator endpoints with a token bucket.
package throttle

import (
	"net/http"
	"time"

	"golang.org/x/time/rate"

	dErrors "folio/pkg/domain-errors"
	"folio/pkg/platform/httputil"
)

// Limit returns middleware admitting at most rps requests per second with the
// given burst. Rejected requests get 429 with a Retry-After hint.
// A non-positive rps disables throttling.
func Limit(rps float64, burst int) func(http.Handler) http.Handler {
	if rps <= 0 {
		return func(next http.Handler) http.Handler { return next }
	}
	if burst < 1 {
		burst = 1
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reservation := limiter.Reserve()
			if delay := reservation.Delay(); delay > 0 {
				reservation.Cancel()
				httputil.WriteError(w, dErrors.NewRateLimited("admin api rate limit exceeded", max(delay, time.Second)))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
