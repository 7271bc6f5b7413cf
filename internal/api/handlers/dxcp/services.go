package dxcp

import (
	"net/http"

	"github.com/gorilla/mux"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
	"github.com/dxcp/dxcp/internal/api/middleware"
	"github.com/dxcp/dxcp/internal/domain"
)

// ListServices implements the supplemented GET /services: the
// allowlist a delivery group's membership and a deployment's
// SERVICE_NOT_ALLOWLISTED check both depend on, exposed directly
// rather than only reachable indirectly through a group.
func ListServices(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		services, cursor, err := d.Services.List(r.Context(), q.Get("cursor"), pageLimit(q))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]interface{}{"items": services, "nextCursor": cursor})
	}
}

// GetService implements GET /services/{name}.
func GetService(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		svc, err := d.Services.Get(r.Context(), mux.Vars(r)["name"])
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, svc)
	}
}

type serviceRequest struct {
	Name string `json:"name"`
	Kind string `json:"kind"`
}

// UpsertService implements POST/PUT /services: admin-only allowlist
// maintenance. DeliveryGroupID is never accepted here — a service joins
// a group only through UpsertDeliveryGroup, which owns that invariant.
func UpsertService(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.GetPrincipal(r.Context())
		requestID := middleware.GetRequestID(r.Context())

		var req serviceRequest
		if err := decodeJSON(r, &req); err != nil {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "malformed request body").WithRequestID(requestID))
			return
		}
		if name := mux.Vars(r)["name"]; name != "" {
			req.Name = name
		}
		if req.Name == "" {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "name is required").WithRequestID(requestID))
			return
		}

		existing, _ := d.Services.Get(r.Context(), req.Name)
		deliveryGroupID := ""
		if existing != nil {
			deliveryGroupID = existing.DeliveryGroupID
		}

		svc, err := d.Services.Upsert(r.Context(), domain.Service{
			Name:            req.Name,
			Kind:            req.Kind,
			DeliveryGroupID: deliveryGroupID,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		_ = d.Audit.Record(r.Context(), domain.AuditEvent{
			Actor:      principal.Subject,
			Role:       firstRole(principal),
			TargetType: "service",
			TargetID:   svc.Name,
			Outcome:    "accepted",
			Service:    svc.Name,
			Summary:    "service upserted",
		})

		writeJSON(w, r, http.StatusOK, svc)
	}
}
