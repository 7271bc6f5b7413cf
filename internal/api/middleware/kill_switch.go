package middleware

import (
	"net/http"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
)

// KillSwitchMiddleware refuses every mutating request with
// MUTATIONS_DISABLED while the live kill switch is set.
// isEnabled is polled fresh on every request rather than captured once,
// since the switch is admin-toggled without a process restart.
func KillSwitchMiddleware(isEnabled func() bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isEnabled() {
				apierrors.WriteError(w, apierrors.MutationsDisabled().WithRequestID(GetRequestID(r.Context())))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
