package dxcp

import (
	"net/http"

	"github.com/gorilla/mux"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
	"github.com/dxcp/dxcp/internal/api/middleware"
	"github.com/dxcp/dxcp/internal/domain"
)

// ListRecipes implements GET /recipes.
func ListRecipes(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		recipes, cursor, err := d.Recipes.List(r.Context(), q.Get("cursor"), pageLimit(q))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]interface{}{"items": recipes, "nextCursor": cursor})
	}
}

// GetRecipe implements GET /recipes/{id}.
func GetRecipe(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		recipe, err := d.Recipes.Get(r.Context(), mux.Vars(r)["id"])
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, recipe)
	}
}

type recipeRequest struct {
	ID                     string                  `json:"id"`
	Status                 domain.RecipeStatus     `json:"status"`
	BehaviorSummary        string                  `json:"behaviorSummary"`
	CompatibleServiceKinds []string                `json:"compatibleServiceKinds"`
}

// UpsertRecipe implements POST/PUT /recipes (and /recipes/{id} for PUT):
// admin-only, revision bumps iff behaviorSummary changed.
func UpsertRecipe(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.GetPrincipal(r.Context())
		requestID := middleware.GetRequestID(r.Context())

		var req recipeRequest
		if err := decodeJSON(r, &req); err != nil {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "malformed request body").WithRequestID(requestID))
			return
		}
		if id := mux.Vars(r)["id"]; id != "" {
			req.ID = id
		}
		if req.ID == "" || req.BehaviorSummary == "" {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "id and behaviorSummary are required").WithRequestID(requestID))
			return
		}
		if req.Status == "" {
			req.Status = domain.RecipeActive
		}

		recipe, err := d.Recipes.Upsert(r.Context(), domain.Recipe{
			ID:                     req.ID,
			Status:                 req.Status,
			BehaviorSummary:        req.BehaviorSummary,
			CompatibleServiceKinds: req.CompatibleServiceKinds,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		_ = d.Audit.Record(r.Context(), domain.AuditEvent{
			Actor:      principal.Subject,
			Role:       firstRole(principal),
			TargetType: "recipe",
			TargetID:   recipe.ID,
			Outcome:    "accepted",
			Summary:    "recipe upserted",
		})

		writeJSON(w, r, http.StatusOK, recipe)
	}
}
