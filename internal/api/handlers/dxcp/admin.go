package dxcp

import (
	"net/http"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
	"github.com/dxcp/dxcp/internal/api/middleware"
	"github.com/dxcp/dxcp/internal/domain"
)

// GetCIPublishers implements GET /admin/system/ci-publishers.
func GetCIPublishers(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, r, http.StatusOK, map[string]interface{}{
			"ciPublishers": d.Reload.Current().CIPublishers,
		})
	}
}

type ciPublishersRequest struct {
	CIPublishers []domain.CIPublisher `json:"ciPublishers"`
}

// PutCIPublishers implements PUT /admin/system/ci-publishers: replaces
// the CI publisher allowlist wholesale, matching how ReloadCoordinator
// already treats LiveSettings as a single atomically-replaced snapshot.
func PutCIPublishers(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.GetPrincipal(r.Context())
		requestID := middleware.GetRequestID(r.Context())

		var req ciPublishersRequest
		if err := decodeJSON(r, &req); err != nil {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "malformed request body").WithRequestID(requestID))
			return
		}

		live := d.Reload.Current()
		live.CIPublishers = req.CIPublishers
		if err := d.Reload.Put(r.Context(), live, d.Clock.Now()); err != nil {
			writeDomainError(w, r, err)
			return
		}

		_ = d.Audit.Record(r.Context(), domain.AuditEvent{
			Actor:      principal.Subject,
			Role:       firstRole(principal),
			TargetType: "ciPublishers",
			TargetID:   "system",
			Outcome:    "accepted",
			Summary:    "ci publisher allowlist replaced",
		})

		writeJSON(w, r, http.StatusOK, map[string]interface{}{"ciPublishers": live.CIPublishers})
	}
}

type mutationsDisabledRequest struct {
	Disabled bool `json:"disabled"`
}

// PutMutationsDisabled implements PUT /admin/system/mutations-disabled:
// the kill switch KillSwitchMiddleware reads on every mutating request.
func PutMutationsDisabled(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.GetPrincipal(r.Context())
		requestID := middleware.GetRequestID(r.Context())

		var req mutationsDisabledRequest
		if err := decodeJSON(r, &req); err != nil {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "malformed request body").WithRequestID(requestID))
			return
		}

		live := d.Reload.Current()
		live.KillSwitch = req.Disabled
		if err := d.Reload.Put(r.Context(), live, d.Clock.Now()); err != nil {
			writeDomainError(w, r, err)
			return
		}

		_ = d.Audit.Record(r.Context(), domain.AuditEvent{
			Actor:      principal.Subject,
			Role:       firstRole(principal),
			TargetType: "killSwitch",
			TargetID:   "system",
			Outcome:    "accepted",
			Summary:    "mutations-disabled set",
		})

		writeJSON(w, r, http.StatusOK, map[string]interface{}{"disabled": live.KillSwitch})
	}
}

// ListAudit implements GET /admin/system/audit: a
// read path over the append-only log UpsertRecipe/UpsertDeliveryGroup/
// RegisterBuild/SubmitDeployment/RollbackDeployment/PutCIPublishers/
// PutMutationsDisabled all write to.
func ListAudit(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		events, cursor, err := d.Audit.List(r.Context(), q.Get("cursor"), pageLimit(q))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]interface{}{"items": events, "nextCursor": cursor})
	}
}
