package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/dxcp/dxcp/internal/bootstrap"
	"github.com/dxcp/dxcp/internal/config"
	"github.com/dxcp/dxcp/internal/store"
)

// openDeps loads configuration and opens the backing store it points at,
// the same way cmd/server does, so dxcpctl observes and mutates exactly
// what the running server sees.
func openDeps(ctx context.Context) (*config.Config, store.Store, *slog.Logger, error) {
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelWarn}))

	cfg, err := config.LoadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	st, err := bootstrap.OpenStore(ctx, cfg, logger)
	if err != nil {
		return nil, nil, nil, err
	}
	return cfg, st, logger, nil
}
