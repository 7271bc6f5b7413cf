package api

import (
	"log/slog"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/dxcp/dxcp/internal/api/handlers/dxcp"
	"github.com/dxcp/dxcp/internal/api/middleware"
	"github.com/dxcp/dxcp/internal/config"
	"github.com/dxcp/dxcp/internal/domain"
	"github.com/dxcp/dxcp/internal/identity"
	"github.com/dxcp/dxcp/internal/idempotency"
	"github.com/dxcp/dxcp/internal/limiter"
)

// RouterConfig holds everything NewRouter needs to assemble the DXCP
// route tree and its middleware stack.
type RouterConfig struct {
	EnableCompression bool
	EnableCORS        bool
	EnableMetrics     bool

	Resolver   *identity.Resolver
	Reload     *config.ReloadCoordinator
	Limiter    *limiter.Limiter
	Idempotent *idempotency.Store
	Policy     config.PolicyConfig
	CORS       middleware.CORSConfig

	Deps *dxcp.Deps

	Logger *slog.Logger
}

// DefaultRouterConfig returns a RouterConfig with the ambient middleware
// (metrics, CORS, compression) enabled by default, so a caller has to
// opt out of a cross-cutting concern rather than opt in.
func DefaultRouterConfig(logger *slog.Logger) RouterConfig {
	return RouterConfig{
		EnableCompression: true,
		EnableCORS:        true,
		EnableMetrics:     true,
		CORS:              middleware.DefaultCORSConfig(),
		Logger:            logger,
	}
}

// NewRouter builds the DXCP API router. The middleware stack is
// applied in a fixed order on every mutating route:
//  1. RequestID, Logging, Metrics, CORS, Compression (always, ambient)
//  2. Auth — resolves the Principal every route needs
//  3. KillSwitch — mutating routes only
//  4. RateLimit — per-principal sliding window
//  5. Idempotency — mutating routes that accept a request body
//  6. Route handler, which itself runs the role/policy/quota checks
//     that need a fetched DeploymentContext.
func NewRouter(cfg RouterConfig) *mux.Router {
	router := mux.NewRouter()

	router.Use(middleware.RequestIDMiddleware)
	router.Use(middleware.LoggingMiddleware(cfg.Logger))
	if cfg.EnableMetrics {
		router.Use(middleware.MetricsMiddleware)
	}
	if cfg.EnableCORS {
		router.Use(middleware.CORSMiddleware(cfg.CORS))
	}
	if cfg.EnableCompression {
		router.Use(middleware.CompressionMiddleware)
	}

	router.HandleFunc("/health", dxcp.Health(cfg.Deps)).Methods("GET")
	if cfg.EnableMetrics {
		router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	}

	authed := router.NewRoute().Subrouter()
	authed.Use(middleware.AuthMiddleware(cfg.Resolver))

	authed.HandleFunc("/whoami", dxcp.Whoami(cfg.Deps)).Methods("GET")
	authed.HandleFunc("/config/sanity", dxcp.ConfigSanity(cfg.Deps)).Methods("GET")

	killSwitch := func() bool { return cfg.Reload.Current().KillSwitch }

	// Mutating routes: kill switch, then rate limit, then idempotency.
	mutating := authed.NewRoute().Subrouter()
	mutating.Use(middleware.KillSwitchMiddleware(killSwitch))
	mutating.Use(rateLimitByPrincipal(cfg))
	mutating.Use(middleware.IdempotencyMiddleware(cfg.Idempotent))

	mutating.HandleFunc("/deployments", dxcp.SubmitDeployment(cfg.Deps)).Methods("POST")
	mutating.HandleFunc("/deployments/{id}/rollback", dxcp.RollbackDeployment(cfg.Deps)).Methods("POST")
	mutating.HandleFunc("/builds/register", dxcp.RegisterBuild(cfg.Deps)).Methods("POST")

	// /deployments/validate is a dry run: no side effects beyond
	// counters, so it never requires an Idempotency-Key, but it still
	// respects the kill switch and rate limit.
	validate := authed.NewRoute().Subrouter()
	validate.Use(middleware.KillSwitchMiddleware(killSwitch))
	validate.Use(rateLimitByPrincipal(cfg))
	validate.HandleFunc("/deployments/validate", dxcp.ValidateDeployment(cfg.Deps)).Methods("POST")

	reads := authed.NewRoute().Subrouter()
	reads.Use(rateLimitByPrincipal(cfg))
	reads.HandleFunc("/deployments", dxcp.ListDeployments(cfg.Deps)).Methods("GET")
	reads.HandleFunc("/deployments/{id}", dxcp.GetDeployment(cfg.Deps)).Methods("GET")
	reads.HandleFunc("/deployments/{id}/failures", dxcp.ListDeploymentFailures(cfg.Deps)).Methods("GET")
	reads.HandleFunc("/builds/upload-capability", dxcp.UploadCapability(cfg.Deps)).Methods("POST")
	reads.HandleFunc("/builds", dxcp.GetBuild(cfg.Deps)).Methods("GET")

	// Admin CRUD: services, recipes, delivery groups, and system
	// settings. Reads need only an authenticated principal; writes are
	// platform-admin-gated at the router, since none of them need the
	// CI-only refinement that keeps deployments/builds checks inline in
	// their handlers.
	admin := authed.NewRoute().Subrouter()
	admin.Use(rateLimitByPrincipal(cfg))

	adminReads := admin.NewRoute().Subrouter()
	adminReads.HandleFunc("/services", dxcp.ListServices(cfg.Deps)).Methods("GET")
	adminReads.HandleFunc("/services/{name}", dxcp.GetService(cfg.Deps)).Methods("GET")
	adminReads.HandleFunc("/recipes", dxcp.ListRecipes(cfg.Deps)).Methods("GET")
	adminReads.HandleFunc("/recipes/{id}", dxcp.GetRecipe(cfg.Deps)).Methods("GET")
	adminReads.HandleFunc("/delivery-groups", dxcp.ListDeliveryGroups(cfg.Deps)).Methods("GET")
	adminReads.HandleFunc("/delivery-groups/{id}", dxcp.GetDeliveryGroup(cfg.Deps)).Methods("GET")
	adminReads.HandleFunc("/admin/system/ci-publishers", dxcp.GetCIPublishers(cfg.Deps)).Methods("GET")
	adminReads.HandleFunc("/admin/system/audit", dxcp.ListAudit(cfg.Deps)).Methods("GET")

	// Admin writes: kill switch, then rate limit, then idempotency, then
	// the platform-admin role gate.
	adminWrites := authed.NewRoute().Subrouter()
	adminWrites.Use(middleware.KillSwitchMiddleware(killSwitch))
	adminWrites.Use(rateLimitByPrincipal(cfg))
	adminWrites.Use(middleware.IdempotencyMiddleware(cfg.Idempotent))
	adminWrites.Use(middleware.RequireRole(domain.RolePlatformAdmin))
	adminWrites.HandleFunc("/services", dxcp.UpsertService(cfg.Deps)).Methods("POST", "PUT")
	adminWrites.HandleFunc("/services/{name}", dxcp.UpsertService(cfg.Deps)).Methods("PUT")
	adminWrites.HandleFunc("/recipes", dxcp.UpsertRecipe(cfg.Deps)).Methods("POST", "PUT")
	adminWrites.HandleFunc("/recipes/{id}", dxcp.UpsertRecipe(cfg.Deps)).Methods("PUT")
	adminWrites.HandleFunc("/delivery-groups", dxcp.UpsertDeliveryGroup(cfg.Deps)).Methods("POST", "PUT")
	adminWrites.HandleFunc("/delivery-groups/{id}", dxcp.UpsertDeliveryGroup(cfg.Deps)).Methods("PUT")
	adminWrites.HandleFunc("/admin/system/ci-publishers", dxcp.PutCIPublishers(cfg.Deps)).Methods("PUT")
	adminWrites.HandleFunc("/admin/system/mutations-disabled", dxcp.PutMutationsDisabled(cfg.Deps)).Methods("PUT")

	return router
}

// rateLimitByPrincipal applies the sliding-window rate limit keyed on
// the resolved Principal's subject. It's a thin RateLimitMiddleware
// wrapper configured per-route rather than globally, since different
// route classes carry different caps.
func rateLimitByPrincipal(cfg RouterConfig) func(http.Handler) http.Handler {
	return middleware.RateLimitMiddleware(cfg.Limiter, cfg.Policy.RateLimitWindow, cfg.Policy.RateLimitMax)
}
