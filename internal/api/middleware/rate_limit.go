package middleware

import (
	"fmt"
	"net/http"
	"time"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
	"github.com/dxcp/dxcp/internal/limiter"
)

// RateLimitMiddleware enforces a sliding-window rate limit via
// internal/limiter, keyed by the resolved principal's subject (falling
// back to the client IP when no principal is present). Unlike an in-process
// golang.org/x/time/rate map, the counters here are Store-backed and
// shared across replicas.
func RateLimitMiddleware(lim *limiter.Limiter, window time.Duration, max int) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			clientID := getClientID(r)

			allowed, err := lim.AllowRate(r.Context(), clientID, window, max)
			if err != nil {
				apierrors.WriteError(w, apierrors.InternalError("rate limit check failed").WithRequestID(GetRequestID(r.Context())))
				return
			}
			if !allowed {
				w.Header().Set(RateLimitLimitHeader, fmt.Sprintf("%d", max))
				w.Header().Set(RateLimitRemainingHeader, "0")
				w.Header().Set(RateLimitResetHeader, fmt.Sprintf("%d", time.Now().Add(window).Unix()))
				w.Header().Set("Retry-After", fmt.Sprintf("%d", int(window.Seconds())))
				apierrors.WriteError(w, apierrors.RateLimited().WithRequestID(GetRequestID(r.Context())))
				return
			}

			w.Header().Set(RateLimitLimitHeader, fmt.Sprintf("%d", max))
			next.ServeHTTP(w, r)
		})
	}
}

// getClientID extracts the rate-limit/idempotency scoping key for a
// request: the authenticated principal's subject when present, else the
// client IP (priority X-Forwarded-For > X-Real-IP > RemoteAddr).
func getClientID(r *http.Request) string {
	if principal, ok := GetPrincipal(r.Context()); ok && principal.Subject != "" {
		return principal.Subject
	}

	ip := r.Header.Get("X-Forwarded-For")
	if ip == "" {
		ip = r.Header.Get("X-Real-IP")
	}
	if ip == "" {
		ip = r.RemoteAddr
	}
	return ip
}
