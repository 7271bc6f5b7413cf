package dxcp

import (
	"net/http"

	"github.com/gorilla/mux"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
	"github.com/dxcp/dxcp/internal/api/middleware"
	"github.com/dxcp/dxcp/internal/domain"
)

// ListDeliveryGroups implements GET /delivery-groups.
func ListDeliveryGroups(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		groups, cursor, err := d.Groups.List(r.Context(), q.Get("cursor"), pageLimit(q))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]interface{}{"items": groups, "nextCursor": cursor})
	}
}

// GetDeliveryGroup implements GET /delivery-groups/{id}.
func GetDeliveryGroup(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		group, err := d.Groups.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, group)
	}
}

type deliveryGroupRequest struct {
	ID             string   `json:"id"`
	Services       []string `json:"services"`
	AllowedRecipes []string `json:"allowedRecipes"`
}

// UpsertDeliveryGroup implements POST/PUT /delivery-groups: admin-only,
// enforces "service belongs to at most one group" and
// "allowedRecipes reference existing recipes" at the DeliveryGroupRepo
// layer. additions is computed as the services newly present
// on this write relative to what's currently stored, so re-submitting
// an unchanged membership list never re-checks ownership of services
// the group already holds.
func UpsertDeliveryGroup(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.GetPrincipal(r.Context())
		requestID := middleware.GetRequestID(r.Context())

		var req deliveryGroupRequest
		if err := decodeJSON(r, &req); err != nil {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "malformed request body").WithRequestID(requestID))
			return
		}
		if id := mux.Vars(r)["id"]; id != "" {
			req.ID = id
		}
		if req.ID == "" {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "id is required").WithRequestID(requestID))
			return
		}

		existing, _ := d.Groups.Get(r.Context(), req.ID)
		additions := req.Services
		if existing != nil {
			already := make(map[string]bool, len(existing.Services))
			for _, s := range existing.Services {
				already[s] = true
			}
			additions = nil
			for _, s := range req.Services {
				if !already[s] {
					additions = append(additions, s)
				}
			}
		}

		group, err := d.Groups.Upsert(r.Context(), domain.DeliveryGroup{
			ID:             req.ID,
			Services:       req.Services,
			AllowedRecipes: req.AllowedRecipes,
		}, additions)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		_ = d.Audit.Record(r.Context(), domain.AuditEvent{
			Actor:           principal.Subject,
			Role:            firstRole(principal),
			TargetType:      "deliveryGroup",
			TargetID:        group.ID,
			Outcome:         "accepted",
			DeliveryGroupID: group.ID,
			Summary:         "delivery group upserted",
		})

		writeJSON(w, r, http.StatusOK, group)
	}
}
