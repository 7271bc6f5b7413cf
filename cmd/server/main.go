// Package main is the composition root for the DXCP control-plane API.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dxcp/dxcp/internal/api"
	"github.com/dxcp/dxcp/internal/api/handlers/dxcp"
	"github.com/dxcp/dxcp/internal/api/middleware"
	"github.com/dxcp/dxcp/internal/bootstrap"
	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/config"
	"github.com/dxcp/dxcp/internal/domain"
	"github.com/dxcp/dxcp/internal/identity"
	"github.com/dxcp/dxcp/internal/idempotency"
	"github.com/dxcp/dxcp/internal/limiter"
	"github.com/dxcp/dxcp/internal/reconciler"
	"github.com/dxcp/dxcp/pkg/logger"
)

const (
	defaultConfigPath = ""
	serviceName       = "dxcp"
	serviceVersion    = "1.0.0"
)

func main() {
	configPath := flag.String("config", defaultConfigPath, "Path to YAML config file")
	showVersion := flag.Bool("version", false, "Show version information")
	flag.Parse()

	if *showVersion {
		fmt.Printf("%s version %s\n", serviceName, serviceVersion)
		os.Exit(0)
	}

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		slog.Error("failed to load configuration", "error", err)
		os.Exit(1)
	}

	log := logger.NewLogger(logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		Filename:   cfg.Log.Filename,
		MaxSize:    cfg.Log.MaxSize,
		MaxBackups: cfg.Log.MaxBackups,
		MaxAge:     cfg.Log.MaxAge,
		Compress:   cfg.Log.Compress,
	})
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	st, err := bootstrap.OpenStore(ctx, cfg, log)
	if err != nil {
		slog.Error("failed to open backing store", "error", err)
		os.Exit(1)
	}
	defer st.Close()

	clk := clock.Real{}
	ids := clock.UUIDGenerator{}

	resolver, err := identity.NewResolver(ctx, identity.Config{
		Issuer:       cfg.Identity.Issuer,
		Audience:     cfg.Identity.Audience,
		JWKSURL:      cfg.Identity.JWKSURL,
		RolesClaim:   cfg.Identity.RolesClaim,
		RefreshEvery: cfg.Identity.RefreshEvery,
	}, log)
	if err != nil {
		slog.Error("failed to initialize identity resolver", "error", err)
		os.Exit(1)
	}
	go resolver.RunRefresher(ctx)

	lim := limiter.New(st, clk)
	idem := idempotency.New(st, clk, cfg.Policy.IdempotencyTTL)

	services := domain.NewServiceRepo(st, clk)
	recipes := domain.NewRecipeRepo(st, clk)
	groups := domain.NewDeliveryGroupRepo(st, clk, services, recipes)
	builds := domain.NewBuildRepo(st, clk)
	audit := domain.NewAuditLog(st, clk, ids)

	adapter := bootstrap.NewEngineAdapter(cfg, log)
	deployments := domain.NewDeploymentRepo(st, clk, ids, adapter, audit)

	reload := config.NewReloadCoordinator(st, cfg.Policy.LiveSettingsPollInterval, log)
	if err := reload.Refresh(ctx); err != nil {
		slog.Warn("initial live settings refresh failed, starting with defaults", "error", err)
	}
	go reload.Run(ctx)

	recon := reconciler.New(deployments, adapter, clk, cfg.Policy.ReconcilePollInterval, cfg.Policy.ReconcileHardTimeout, log)
	if err := recon.Resume(ctx); err != nil {
		slog.Error("failed to resume in-flight deployments", "error", err)
		os.Exit(1)
	}
	defer recon.Stop()

	deps := &dxcp.Deps{
		Services:    services,
		Groups:      groups,
		Recipes:     recipes,
		Builds:      builds,
		Deployments: deployments,
		Audit:       audit,
		Reload:      reload,
		ConfigSvc:   config.NewService(cfg, time.Now()),
		Limiter:     lim,
		Clock:       clk,
		Policy:      cfg.Policy,
		Artifact:    cfg.Artifact,
		Reconciler:  recon,
		Logger:      log,
	}

	routerCfg := api.DefaultRouterConfig(log)
	routerCfg.Resolver = resolver
	routerCfg.Reload = reload
	routerCfg.Limiter = lim
	routerCfg.Idempotent = idem
	routerCfg.Policy = cfg.Policy
	routerCfg.Deps = deps
	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = corsOriginsOrDefault(cfg.CORS.Origins)
	routerCfg.CORS = corsCfg

	router := api.NewRouter(routerCfg)

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	go func() {
		slog.Info("dxcp server starting", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("http server failed", "error", err)
			os.Exit(1)
		}
	}()

	<-ctx.Done()
	slog.Info("shutting down dxcp server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		slog.Error("server forced to shutdown", "error", err)
		os.Exit(1)
	}
	slog.Info("dxcp server exited")
}

func corsOriginsOrDefault(origins []string) []string {
	if len(origins) == 0 {
		return []string{"*"}
	}
	return origins
}
