package dxcp

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"

	"github.com/gorilla/mux"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
	"github.com/dxcp/dxcp/internal/api/middleware"
	"github.com/dxcp/dxcp/internal/domain"
	"github.com/dxcp/dxcp/internal/policy"
)

// resolveDeploymentContext fetches the entities the admission pipeline
// needs to judge an intent's admissibility and packages them into a
// policy.DeploymentContext. It never performs a side effect.
func resolveDeploymentContext(r *http.Request, d *Deps, principal domain.Principal, intent domain.DeploymentIntent) (policy.DeploymentContext, error) {
	ctx := policy.DeploymentContext{Principal: principal, Intent: intent}

	svc, err := d.Services.Get(r.Context(), intent.Service)
	if err != nil {
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			return ctx, err
		}
	} else {
		ctx.Service = svc
	}

	if ctx.Service != nil && ctx.Service.DeliveryGroupID != "" {
		group, err := d.Groups.Get(r.Context(), ctx.Service.DeliveryGroupID)
		if err != nil {
			var notFound *domain.ErrNotFound
			if !errors.As(err, &notFound) {
				return ctx, err
			}
		} else {
			ctx.Group = group
		}
	}

	recipe, err := d.Recipes.Get(r.Context(), intent.RecipeID)
	if err != nil {
		var notFound *domain.ErrNotFound
		if !errors.As(err, &notFound) {
			return ctx, err
		}
	} else {
		ctx.Recipe = recipe
	}

	if ctx.Service != nil {
		exists, err := d.Builds.Exists(r.Context(), intent.Service, intent.Version)
		if err != nil {
			return ctx, err
		}
		ctx.BuildExists = exists
	}

	if ctx.Service != nil && ctx.Service.DeliveryGroupID != "" {
		running, err := d.Deployments.ConcurrentNonTerminalExists(r.Context(), ctx.Service.DeliveryGroupID, intent.Environment)
		if err != nil {
			return ctx, err
		}
		ctx.ConcurrentNonTerminalExists = running
	}

	return ctx, nil
}

// ValidateDeployment implements POST /deployments/validate: a dry run of
// the full admission pipeline. Its only side effects are the
// per-principal rate-limit counter and a separate "validate" daily
// counter (capped at DailyDeployQuota); it has no
// Idempotency-Key requirement (enforced at the router by omitting
// IdempotencyMiddleware on this route).
func ValidateDeployment(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.GetPrincipal(r.Context())

		var intent domain.DeploymentIntent
		if err := decodeJSON(r, &intent); err != nil {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "malformed request body").WithRequestID(middleware.GetRequestID(r.Context())))
			return
		}

		if v := policy.RequireRole(principal, []string{domain.RoleDeliveryOwner, domain.RolePlatformAdmin}, false, nil); v != nil {
			apierrors.WriteError(w, mapViolation(r, v))
			return
		}

		dctx, err := resolveDeploymentContext(r, d, principal, intent)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		if v := policy.CheckDeploymentIntent(dctx); v != nil {
			apierrors.WriteError(w, mapViolation(r, v))
			return
		}

		allowed, err := d.Limiter.AllowDaily(r.Context(), "validate", deploymentQuotaScope(dctx), d.Policy.DailyDeployQuota)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !allowed {
			apierrors.WriteError(w, apierrors.QuotaExceeded("daily validate quota exceeded").WithRequestID(middleware.GetRequestID(r.Context())))
			return
		}

		writeJSON(w, r, http.StatusOK, map[string]interface{}{"valid": true})
	}
}

func deploymentQuotaScope(dctx policy.DeploymentContext) string {
	if dctx.Service != nil {
		return dctx.Service.DeliveryGroupID
	}
	return dctx.Intent.Service
}

type submitDeploymentRequest struct {
	domain.DeploymentIntent
}

// SubmitDeployment implements POST /deployments: runs the full
// admission pipeline and, on success, triggers the engine and persists
// the new DeploymentRecord via DeploymentRepo.AcceptIntent.
func SubmitDeployment(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.GetPrincipal(r.Context())

		var req submitDeploymentRequest
		if err := decodeJSON(r, &req); err != nil {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "malformed request body").WithRequestID(middleware.GetRequestID(r.Context())))
			return
		}
		intent := req.DeploymentIntent

		if v := policy.RequireRole(principal, []string{domain.RoleDeliveryOwner, domain.RolePlatformAdmin}, false, nil); v != nil {
			apierrors.WriteError(w, mapViolation(r, v))
			return
		}

		dctx, err := resolveDeploymentContext(r, d, principal, intent)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if v := policy.CheckDeploymentIntent(dctx); v != nil {
			apierrors.WriteError(w, mapViolation(r, v))
			return
		}

		allowed, err := d.Limiter.AllowDaily(r.Context(), "deploy", deploymentQuotaScope(dctx), d.Policy.DailyDeployQuota)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !allowed {
			apierrors.WriteError(w, apierrors.QuotaExceeded("daily deploy quota exceeded").WithRequestID(middleware.GetRequestID(r.Context())))
			return
		}

		rec, err := d.Deployments.AcceptIntent(r.Context(), domain.AcceptIntentParams{
			Intent:                   intent,
			Principal:                principal,
			DeliveryGroupID:          dctx.Service.DeliveryGroupID,
			RecipeRevision:           dctx.Recipe.Revision,
			EffectiveBehaviorSummary: dctx.Recipe.BehaviorSummary,
			Pipeline:                 dctx.Recipe.ID,
		})
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if d.Reconciler != nil {
			d.Reconciler.Track(r.Context(), *rec)
		}

		_ = d.Audit.Record(r.Context(), domain.AuditEvent{
			Actor:           principal.Subject,
			Role:            firstRole(principal),
			TargetType:      "deployment",
			TargetID:        rec.ID,
			Outcome:         "accepted",
			DeliveryGroupID: rec.DeliveryGroupID,
			Service:         rec.Service,
			Environment:     rec.Environment,
			Summary:         "deployment intent accepted",
		})

		writeJSON(w, r, http.StatusCreated, rec)
	}
}

// ListDeployments implements GET /deployments with cursor-paginated
// service/state/environment/group filters.
func ListDeployments(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		records, cursor, err := d.Deployments.List(r.Context(), q.Get("cursor"), pageLimit(q), q.Get("service"), q.Get("state"), q.Get("environment"), q.Get("group"))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]interface{}{"items": records, "nextCursor": cursor})
	}
}

// GetDeployment implements GET /deployments/{id}.
func GetDeployment(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		rec, err := d.Deployments.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, rec)
	}
}

// ListDeploymentFailures implements GET /deployments/{id}/failures.
func ListDeploymentFailures(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		q := r.URL.Query()
		failures, cursor, err := d.Deployments.ListFailures(r.Context(), id, q.Get("cursor"), pageLimit(q))
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, map[string]interface{}{"items": failures, "nextCursor": cursor})
	}
}

// RollbackDeployment implements POST /deployments/{id}/rollback.
func RollbackDeployment(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.GetPrincipal(r.Context())
		id := mux.Vars(r)["id"]

		if v := policy.RequireRole(principal, []string{domain.RoleDeliveryOwner, domain.RolePlatformAdmin}, false, nil); v != nil {
			apierrors.WriteError(w, mapViolation(r, v))
			return
		}

		target, err := d.Deployments.Get(r.Context(), id)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}

		allowed, err := d.Limiter.AllowDaily(r.Context(), "rollback", target.DeliveryGroupID, d.Policy.DailyRollbackQuota)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !allowed {
			apierrors.WriteError(w, apierrors.QuotaExceeded("daily rollback quota exceeded").WithRequestID(middleware.GetRequestID(r.Context())))
			return
		}

		rollback, err := d.Deployments.AcceptRollback(r.Context(), *target, principal, target.RecipeID)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if d.Reconciler != nil {
			d.Reconciler.Track(r.Context(), *rollback)
		}

		_ = d.Audit.Record(r.Context(), domain.AuditEvent{
			Actor:           principal.Subject,
			Role:            firstRole(principal),
			TargetType:      "deployment",
			TargetID:        rollback.ID,
			Outcome:         "accepted",
			DeliveryGroupID: rollback.DeliveryGroupID,
			Service:         rollback.Service,
			Environment:     rollback.Environment,
			Summary:         "rollback accepted for " + target.ID,
		})

		writeJSON(w, r, http.StatusCreated, rollback)
	}
}

func firstRole(p domain.Principal) string {
	if len(p.Roles) == 0 {
		return ""
	}
	return p.Roles[0]
}

func pageLimit(q url.Values) int {
	n, err := strconv.Atoi(q.Get("limit"))
	if err != nil || n <= 0 {
		return 0
	}
	return n
}
