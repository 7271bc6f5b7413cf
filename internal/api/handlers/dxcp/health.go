package dxcp

import (
	"net/http"
	"time"

	"github.com/dxcp/dxcp/internal/api/middleware"
)

// Health reports liveness. It carries no auth requirement and never
// touches the store, so it stays cheap enough to be hit by an
// orchestrator's liveness probe at a tight interval.
func Health(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"status": "ok",
			"time":   d.Clock.Now().UTC().Format(time.RFC3339),
		})
	}
}

// Whoami echoes the resolved Principal for diagnostics — useful for a
// caller to confirm which roles a token actually carries before
// attempting a mutation.
func Whoami(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, ok := middleware.GetPrincipal(r.Context())
		if !ok {
			writeJSON(w, r, http.StatusOK, map[string]interface{}{"authenticated": false})
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"authenticated": true,
			"subject":       principal.Subject,
			"email":         principal.Email,
			"issuer":        principal.Issuer,
			"audience":      principal.Audience,
			"roles":         principal.Roles,
		})
	}
}

// ConfigSanity exports the boolean readiness flags and sanitized static
// config, plus the live kill-switch/publisher-count snapshot.
func ConfigSanity(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp, err := d.ConfigSvc.GetSanity(r.Context(), d.Reload.Current())
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, resp)
	}
}
