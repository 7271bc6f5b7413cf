package dxcp

import (
	"log/slog"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/config"
	"github.com/dxcp/dxcp/internal/domain"
	"github.com/dxcp/dxcp/internal/limiter"
	"github.com/dxcp/dxcp/internal/reconciler"
)

// Deps bundles every collaborator a DXCP handler needs. It is built once
// in cmd/server/main.go and threaded into each handler constructor,
// wiring concrete repositories into handler functions at composition
// time rather than reaching for a service locator.
type Deps struct {
	Services    *domain.ServiceRepo
	Groups      *domain.DeliveryGroupRepo
	Recipes     *domain.RecipeRepo
	Builds      *domain.BuildRepo
	Deployments *domain.DeploymentRepo
	Audit       *domain.AuditLog

	Reload     *config.ReloadCoordinator
	ConfigSvc  config.Service
	Limiter    *limiter.Limiter
	Clock      clock.Clock
	Policy     config.PolicyConfig
	Artifact   config.ArtifactConfig
	Reconciler *reconciler.Manager
	Logger     *slog.Logger
}

func (d *Deps) logger() *slog.Logger {
	if d.Logger != nil {
		return d.Logger
	}
	return slog.Default()
}
