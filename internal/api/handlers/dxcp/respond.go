// Package dxcp implements the HTTP handlers for DXCP's deployment
// control-plane surface: deployments, builds, recipes, delivery
// groups, and the admin/system endpoints. Handlers are thin — every
// decision that must run in a fixed order lives in
// internal/policy; a handler's job is to gather the DeploymentContext
// (or equivalent) the policy check needs, run it, and translate the
// domain-layer result into the uniform error body.
package dxcp

import (
	"encoding/json"
	"net/http"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
	"github.com/dxcp/dxcp/internal/api/middleware"
	"github.com/dxcp/dxcp/internal/domain"
	"github.com/dxcp/dxcp/internal/policy"
)

func writeJSON(w http.ResponseWriter, r *http.Request, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func decodeJSON(r *http.Request, dst interface{}) error {
	defer r.Body.Close()
	return json.NewDecoder(r.Body).Decode(dst)
}

// mapViolation translates a policy.Violation into the uniform APIError.
// policy.Code and apierrors.ErrorCode are distinct types that share the
// same string values by construction, so the conversion is a plain cast.
func mapViolation(r *http.Request, v *policy.Violation) *apierrors.APIError {
	cause := domain.FailureCause(v.Cause)
	return apierrors.FromViolation(apierrors.ErrorCode(v.Code), v.Message, cause).
		WithRequestID(middleware.GetRequestID(r.Context()))
}

// writeDomainError maps the handful of domain-layer sentinel errors
// handlers see after the policy gate has already passed (not-found,
// concurrency, engine trigger failure, invalid transition) onto the
// uniform error body. Anything unrecognized is INTERNAL_ERROR.
func writeDomainError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := middleware.GetRequestID(r.Context())

	switch e := err.(type) {
	case *domain.ErrNotFound:
		apierrors.WriteError(w, apierrors.NotFound(e.Kind).WithRequestID(requestID))
	case *domain.ErrAlreadyRunning:
		apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeConcurrencyLimitReached, e.Error()).WithRequestID(requestID))
	case *domain.ErrEngineTriggerFailed:
		apierrors.WriteError(w, apierrors.EngineTriggerFailed(e.Error()).WithRequestID(requestID))
	case *domain.ErrRollbackTargetNotTerminal:
		apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, e.Error()).WithRequestID(requestID))
	case *domain.ErrInvalidTransition:
		apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, e.Error()).WithRequestID(requestID))
	case *domain.ErrServiceAlreadyGrouped:
		apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeConflict, e.Error()).WithRequestID(requestID))
	case *domain.ErrUnknownRecipeReference:
		apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, e.Error()).WithRequestID(requestID))
	default:
		apierrors.WriteError(w, apierrors.InternalError("internal error").WithRequestID(requestID))
	}
}
