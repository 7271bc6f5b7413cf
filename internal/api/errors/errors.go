// Package errors defines the uniform error body: every
// non-2xx response is {code, message, failure_cause, request_id}. The
// shape and the NewAPIError/WriteError helpers follow the same pattern
// used across this codebase's handler packages; the code set and
// status mapping are DXCP's own.
package errors

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/dxcp/dxcp/internal/domain"
)

// ErrorCode is one of the fixed set of API error codes DXCP returns.
type ErrorCode string

const (
	CodeUnauthorized             ErrorCode = "UNAUTHORIZED"
	CodeRoleForbidden            ErrorCode = "ROLE_FORBIDDEN"
	CodeMutationsDisabled        ErrorCode = "MUTATIONS_DISABLED"
	CodeRateLimited              ErrorCode = "RATE_LIMITED"
	CodeQuotaExceeded            ErrorCode = "QUOTA_EXCEEDED"
	CodeIdempotencyKeyRequired   ErrorCode = "IDMP_KEY_REQUIRED"
	CodeBuildRegistrationConflict ErrorCode = "BUILD_REGISTRATION_CONFLICT"
	CodeCIOnly                   ErrorCode = "CI_ONLY"
	CodeInvalidRequest            ErrorCode = "INVALID_REQUEST"
	CodeInvalidEnvironment        ErrorCode = "INVALID_ENVIRONMENT"
	CodeInvalidArtifact           ErrorCode = "INVALID_ARTIFACT"
	CodeInvalidVersionFormat      ErrorCode = "INVALID_VERSION_FORMAT"
	CodeServiceNotAllowlisted     ErrorCode = "SERVICE_NOT_ALLOWLISTED"
	CodeRecipeNotAllowed          ErrorCode = "RECIPE_NOT_ALLOWED"
	CodeRecipeIncompatible        ErrorCode = "RECIPE_INCOMPATIBLE"
	CodeVersionNotFound           ErrorCode = "VERSION_NOT_FOUND"
	CodeConcurrencyLimitReached   ErrorCode = "CONCURRENCY_LIMIT_REACHED"
	CodeDeploymentLocked          ErrorCode = "DEPLOYMENT_LOCKED" // alias of CodeConcurrencyLimitReached
	CodeEngineTriggerFailed       ErrorCode = "ENGINE_TRIGGER_FAILED"
	CodeTimeout                   ErrorCode = "TIMEOUT"
	CodeNotFound                  ErrorCode = "NOT_FOUND"
	CodeConflict                  ErrorCode = "CONFLICT"
	CodeInternalError             ErrorCode = "INTERNAL_ERROR"
)

// APIError is the uniform error body returned on every non-2xx response.
type APIError struct {
	Code         ErrorCode            `json:"code"`
	Message      string               `json:"message"`
	FailureCause *domain.FailureCause `json:"failure_cause,omitempty"`
	RequestID    string               `json:"request_id,omitempty"`
}

// ErrorResponse wraps APIError for JSON responses.
type ErrorResponse struct {
	Error APIError `json:"error"`
}

// NewAPIError creates a new API error with no failure cause set.
func NewAPIError(code ErrorCode, message string) *APIError {
	return &APIError{Code: code, Message: message}
}

// WithFailureCause tags the error with the POLICY_CHANGE/USER_ERROR
// distinction.
func (e *APIError) WithFailureCause(cause domain.FailureCause) *APIError {
	e.FailureCause = &cause
	return e
}

// WithRequestID stamps the request id that produced this error, so a
// caller can correlate it with server-side logs.
func (e *APIError) WithRequestID(requestID string) *APIError {
	e.RequestID = requestID
	return e
}

// StatusCode maps an ErrorCode onto its HTTP status.
func (e *APIError) StatusCode() int {
	switch e.Code {
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeRoleForbidden, CodeCIOnly, CodeMutationsDisabled:
		return http.StatusForbidden
	case CodeRateLimited:
		return http.StatusTooManyRequests
	case CodeQuotaExceeded:
		return http.StatusTooManyRequests
	case CodeIdempotencyKeyRequired, CodeInvalidRequest, CodeInvalidEnvironment,
		CodeInvalidArtifact, CodeInvalidVersionFormat, CodeServiceNotAllowlisted,
		CodeRecipeNotAllowed, CodeRecipeIncompatible, CodeVersionNotFound:
		return http.StatusBadRequest
	case CodeBuildRegistrationConflict, CodeConflict:
		return http.StatusConflict
	case CodeConcurrencyLimitReached, CodeDeploymentLocked:
		return http.StatusConflict
	case CodeNotFound:
		return http.StatusNotFound
	case CodeEngineTriggerFailed:
		return http.StatusBadGateway
	case CodeTimeout:
		return http.StatusGatewayTimeout
	case CodeInternalError:
		return http.StatusInternalServerError
	default:
		return http.StatusInternalServerError
	}
}

// Error implements the error interface.
func (e *APIError) Error() string {
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// WriteError writes an APIError as a JSON response.
func WriteError(w http.ResponseWriter, err *APIError) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(err.StatusCode())
	json.NewEncoder(w).Encode(err)
}

// FromViolation maps a policy.Violation-shaped (code, cause) pair into
// an APIError. Handlers call this rather than re-deriving the status
// mapping themselves.
func FromViolation(code ErrorCode, message string, cause domain.FailureCause) *APIError {
	err := NewAPIError(code, message)
	if cause != "" {
		err.WithFailureCause(cause)
	}
	return err
}

// Unauthorized creates an UNAUTHORIZED error.
func Unauthorized(message string) *APIError { return NewAPIError(CodeUnauthorized, message) }

// RoleForbidden creates a ROLE_FORBIDDEN error.
func RoleForbidden(message string) *APIError { return NewAPIError(CodeRoleForbidden, message) }

// MutationsDisabled creates a MUTATIONS_DISABLED error.
func MutationsDisabled() *APIError {
	return NewAPIError(CodeMutationsDisabled, "deployment mutations are currently disabled by the kill switch")
}

// RateLimited creates a RATE_LIMITED error.
func RateLimited() *APIError {
	return NewAPIError(CodeRateLimited, "rate limit exceeded, retry later")
}

// QuotaExceeded creates a QUOTA_EXCEEDED error.
func QuotaExceeded(message string) *APIError { return NewAPIError(CodeQuotaExceeded, message) }

// IdempotencyKeyRequired creates an IDMP_KEY_REQUIRED error.
func IdempotencyKeyRequired() *APIError {
	return NewAPIError(CodeIdempotencyKeyRequired, "Idempotency-Key header is required for this mutation")
}

// NotFound creates a NOT_FOUND error.
func NotFound(resource string) *APIError {
	return NewAPIError(CodeNotFound, fmt.Sprintf("%s not found", resource))
}

// InternalError creates an INTERNAL_ERROR error.
func InternalError(message string) *APIError { return NewAPIError(CodeInternalError, message) }

// EngineTriggerFailed creates an ENGINE_TRIGGER_FAILED error.
func EngineTriggerFailed(message string) *APIError {
	return NewAPIError(CodeEngineTriggerFailed, message)
}
