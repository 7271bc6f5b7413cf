// Package bootstrap holds the store/engine construction logic shared by
// the dxcp server and the dxcpctl admin CLI, so both binaries open the
// same backing store from the same Config without duplicating the
// driver switch.
package bootstrap

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/config"
	"github.com/dxcp/dxcp/internal/engine"
	"github.com/dxcp/dxcp/internal/store"
	"github.com/dxcp/dxcp/internal/store/memstore"
	"github.com/dxcp/dxcp/internal/store/pgstore"
	"github.com/dxcp/dxcp/internal/store/redisstore"
)

// OpenStore selects a store.Store implementation by cfg.Database.Driver:
// "memory" for an in-process store, "redis" for the Redis-backed
// implementation, anything else (including the default "postgres") for
// pgstore.
func OpenStore(ctx context.Context, cfg *config.Config, logger *slog.Logger) (store.Store, error) {
	switch cfg.Database.Driver {
	case "memory":
		st := memstore.New(clock.Real{}, logger)
		st.RunSweeper(ctx, 0)
		return st, nil
	case "redis":
		client := redis.NewClient(&redis.Options{
			Addr:            cfg.Redis.Addr,
			Password:        cfg.Redis.Password,
			DB:              cfg.Redis.DB,
			PoolSize:        cfg.Redis.PoolSize,
			MinIdleConns:    cfg.Redis.MinIdleConns,
			DialTimeout:     cfg.Redis.DialTimeout,
			ReadTimeout:     cfg.Redis.ReadTimeout,
			WriteTimeout:    cfg.Redis.WriteTimeout,
			MaxRetries:      cfg.Redis.MaxRetries,
			MinRetryBackoff: cfg.Redis.MinRetryBackoff,
			MaxRetryBackoff: cfg.Redis.MaxRetryBackoff,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		return redisstore.New(client), nil
	default:
		return pgstore.Open(ctx, pgstore.Config{
			DSN:             cfg.GetDatabaseURL(),
			MaxConns:        int32(cfg.Database.MaxConnections),
			MinConns:        int32(cfg.Database.MinConnections),
			MaxConnLifetime: cfg.Database.MaxConnLifetime,
			MaxConnIdleTime: cfg.Database.MaxConnIdleTime,
			ConnectTimeout:  cfg.Database.ConnectTimeout,
		}, logger)
	}
}

// NewEngineAdapter selects an engine.Adapter by cfg.Engine.Endpoint:
// the literal value "memory" gets the in-process fake, anything else is
// treated as an HTTP endpoint.
func NewEngineAdapter(cfg *config.Config, logger *slog.Logger) engine.Adapter {
	if cfg.Engine.Endpoint == "memory" {
		return engine.NewMemoryAdapter()
	}
	return engine.NewHTTPAdapter(engine.HTTPConfig{
		Endpoint:    cfg.Engine.Endpoint,
		HeaderName:  cfg.Engine.HeaderName,
		HeaderValue: cfg.Engine.HeaderValue,
		Timeout:     cfg.Engine.Timeout,
	}, logger)
}
