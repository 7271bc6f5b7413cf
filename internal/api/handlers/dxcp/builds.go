package dxcp

import (
	"net/http"

	apierrors "github.com/dxcp/dxcp/internal/api/errors"
	"github.com/dxcp/dxcp/internal/api/middleware"
	"github.com/dxcp/dxcp/internal/domain"
	"github.com/dxcp/dxcp/internal/policy"
	"github.com/dxcp/dxcp/internal/store"
)

type uploadCapabilityResponse struct {
	Bucket      string   `json:"bucket"`
	SchemeAllow []string `json:"schemeAllow"`
	MaxBytes    int64    `json:"maxBytes"`
}

// UploadCapability implements POST /builds/upload-capability: a
// read-only description of where CI should place an artifact before
// registering the build that references it.
func UploadCapability(d *Deps) http.HandlerFunc {
	const maxArtifactBytes = 200 * 1024 * 1024
	return func(w http.ResponseWriter, r *http.Request) {
		schemeAllow := d.Artifact.SchemeAllow
		if len(schemeAllow) == 0 {
			schemeAllow = []string{"s3://"}
		}
		writeJSON(w, r, http.StatusOK, uploadCapabilityResponse{
			Bucket:      d.Artifact.Bucket,
			SchemeAllow: schemeAllow,
			MaxBytes:    maxArtifactBytes,
		})
	}
}

type registerBuildRequest struct {
	Service     string `json:"service"`
	Version     string `json:"version"`
	GitSHA      string `json:"gitSha"`
	ArtifactRef string `json:"artifactRef"`
	SizeBytes   int64  `json:"sizeBytes"`
	ContentType string `json:"contentType"`
}

// RegisterBuild implements POST /builds/register: restricted to
// CI-publisher principals, and validates the artifact reference before
// the immutable Build record is written.
func RegisterBuild(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		principal, _ := middleware.GetPrincipal(r.Context())
		requestID := middleware.GetRequestID(r.Context())

		live := d.Reload.Current()
		if v := policy.RequireRole(principal, []string{domain.RoleCIPublisher}, true, live.CIPublishers); v != nil {
			apierrors.WriteError(w, mapViolation(r, v))
			return
		}

		var req registerBuildRequest
		if err := decodeJSON(r, &req); err != nil {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "malformed request body").WithRequestID(requestID))
			return
		}
		if req.Service == "" || req.Version == "" {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "service and version are required").WithRequestID(requestID))
			return
		}
		if !policy.ValidateVersion(req.Version) {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidVersionFormat, "version does not match the required format").WithRequestID(requestID))
			return
		}
		if v := policy.ValidateArtifact(req.ArtifactRef, req.SizeBytes, req.ContentType, d.Artifact.SchemeAllow); v != nil {
			apierrors.WriteError(w, mapViolation(r, v))
			return
		}

		if _, err := d.Services.Get(r.Context(), req.Service); err != nil {
			writeDomainError(w, r, err)
			return
		}

		allowed, err := d.Limiter.AllowDaily(r.Context(), "build_register", req.Service, d.Policy.DailyBuildRegisterQuota)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		if !allowed {
			apierrors.WriteError(w, apierrors.QuotaExceeded("daily build registration quota exceeded").WithRequestID(requestID))
			return
		}

		build, err := d.Builds.Register(r.Context(), domain.Build{
			Service:     req.Service,
			Version:     req.Version,
			GitSHA:      req.GitSHA,
			ArtifactRef: req.ArtifactRef,
			PublisherID: principal.Subject,
		})
		if err != nil {
			if store.IsConflict(err) {
				apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeBuildRegistrationConflict, "a build is already registered for this service and version").WithRequestID(requestID))
				return
			}
			writeDomainError(w, r, err)
			return
		}

		_ = d.Audit.Record(r.Context(), domain.AuditEvent{
			Actor:      principal.Subject,
			Role:       firstRole(principal),
			TargetType: "build",
			TargetID:   req.Service + ":" + req.Version,
			Outcome:    "accepted",
			Service:    req.Service,
			Summary:    "build registered",
		})

		writeJSON(w, r, http.StatusCreated, build)
	}
}

// GetBuild implements GET /builds?service=&version=.
func GetBuild(d *Deps) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		service, version := q.Get("service"), q.Get("version")
		if service == "" || version == "" {
			apierrors.WriteError(w, apierrors.NewAPIError(apierrors.CodeInvalidRequest, "service and version query parameters are required").WithRequestID(middleware.GetRequestID(r.Context())))
			return
		}
		build, err := d.Builds.Get(r.Context(), service, version)
		if err != nil {
			writeDomainError(w, r, err)
			return
		}
		writeJSON(w, r, http.StatusOK, build)
	}
}
