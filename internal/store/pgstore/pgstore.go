// Package pgstore implements store.Store on top of PostgreSQL via pgx,
// the production backing store for DXCP. Conditional writes are done
// inside a single transaction using SELECT ... FOR UPDATE on the target
// row, generalizing a version-check UPSERT idiom to a version column
// instead of content-hash dedup.
package pgstore

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/dxcp/dxcp/internal/store"
)

// Config holds connection parameters for the Postgres-backed store.
type Config struct {
	DSN             string
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration
	ConnectTimeout  time.Duration
}

// Store is a Postgres-backed store.Store implementation.
type Store struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// Open connects to Postgres and verifies the pool is reachable. Schema is
// expected to already exist (applied via cmd/migrate, see migrations/).
func Open(ctx context.Context, cfg Config, logger *slog.Logger) (*Store, error) {
	if logger == nil {
		logger = slog.Default()
	}

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("pgstore: parse dsn: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolCfg.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolCfg.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolCfg.MaxConnIdleTime = cfg.MaxConnIdleTime
	}

	connectCtx := ctx
	if cfg.ConnectTimeout > 0 {
		var cancel context.CancelFunc
		connectCtx, cancel = context.WithTimeout(ctx, cfg.ConnectTimeout)
		defer cancel()
	}

	pool, err := pgxpool.NewWithConfig(connectCtx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("pgstore: connect: %w", err)
	}
	if err := pool.Ping(connectCtx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pgstore: ping: %w", err)
	}

	logger.Info("pgstore connected")
	return &Store{pool: pool, logger: logger}, nil
}

func (s *Store) Get(ctx context.Context, partition, sortKey string) (store.Item, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT value, version, expires_at FROM dxcp_kv
		WHERE partition = $1 AND sort_key = $2
		  AND (expires_at IS NULL OR expires_at > now())`,
		partition, sortKey)

	var (
		value     []byte
		version   int64
		expiresAt *time.Time
	)
	if err := row.Scan(&value, &version, &expiresAt); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return store.Item{}, store.ErrNotFound
		}
		return store.Item{}, fmt.Errorf("pgstore: get: %w", err)
	}

	item := store.Item{Partition: partition, Sort: sortKey, Value: value, Version: version}
	if expiresAt != nil {
		item.ExpiresAt = *expiresAt
	}
	return item, nil
}

func (s *Store) Put(ctx context.Context, req store.PutRequest) (int64, error) {
	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.Serializable})
	if err != nil {
		return 0, fmt.Errorf("pgstore: begin tx: %w", err)
	}
	defer tx.Rollback(ctx)

	var existingVersion int64
	var hasRow bool
	row := tx.QueryRow(ctx, `
		SELECT version FROM dxcp_kv
		WHERE partition = $1 AND sort_key = $2
		  AND (expires_at IS NULL OR expires_at > now())
		FOR UPDATE`, req.Partition, req.Sort)
	switch err := row.Scan(&existingVersion); {
	case err == nil:
		hasRow = true
	case errors.Is(err, pgx.ErrNoRows):
		hasRow = false
	default:
		return 0, fmt.Errorf("pgstore: put select: %w", err)
	}

	switch req.Condition {
	case store.MustNotExist:
		if hasRow {
			return 0, &store.ErrConflict{Partition: req.Partition, Sort: req.Sort, Reason: "already exists"}
		}
	case store.MustExistWithVersion:
		if !hasRow {
			return 0, &store.ErrConflict{Partition: req.Partition, Sort: req.Sort, Reason: "does not exist"}
		}
		if existingVersion != req.ExpectVersion {
			return 0, &store.ErrConflict{Partition: req.Partition, Sort: req.Sort, Reason: "version mismatch"}
		}
	}

	newVersion := existingVersion + 1
	var expiresAt *time.Time
	if req.TTL > 0 {
		t := time.Now().UTC().Add(req.TTL)
		expiresAt = &t
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO dxcp_kv (partition, sort_key, value, version, expires_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (partition, sort_key) DO UPDATE
		SET value = EXCLUDED.value, version = EXCLUDED.version, expires_at = EXCLUDED.expires_at`,
		req.Partition, req.Sort, req.Value, newVersion, expiresAt)
	if err != nil {
		return 0, fmt.Errorf("pgstore: put upsert: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("pgstore: commit: %w", err)
	}
	return newVersion, nil
}

func (s *Store) Delete(ctx context.Context, partition, sortKey string) error {
	_, err := s.pool.Exec(ctx, `DELETE FROM dxcp_kv WHERE partition = $1 AND sort_key = $2`, partition, sortKey)
	if err != nil {
		return fmt.Errorf("pgstore: delete: %w", err)
	}
	return nil
}

func (s *Store) ScanPrefix(ctx context.Context, partition, sortPrefix, cursor string, pageSize int) (store.Page, error) {
	if pageSize <= 0 {
		pageSize = 100
	}

	rows, err := s.pool.Query(ctx, `
		SELECT sort_key, value, version, expires_at FROM dxcp_kv
		WHERE partition = $1 AND sort_key LIKE $2 AND sort_key >= $3
		  AND (expires_at IS NULL OR expires_at > now())
		ORDER BY sort_key ASC
		LIMIT $4`,
		partition, sortPrefix+"%", cursor, pageSize+1)
	if err != nil {
		return store.Page{}, fmt.Errorf("pgstore: scan: %w", err)
	}
	defer rows.Close()

	var items []store.Item
	for rows.Next() {
		var (
			sortKey   string
			value     []byte
			version   int64
			expiresAt *time.Time
		)
		if err := rows.Scan(&sortKey, &value, &version, &expiresAt); err != nil {
			return store.Page{}, fmt.Errorf("pgstore: scan row: %w", err)
		}
		item := store.Item{Partition: partition, Sort: sortKey, Value: value, Version: version}
		if expiresAt != nil {
			item.ExpiresAt = *expiresAt
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return store.Page{}, fmt.Errorf("pgstore: scan rows: %w", err)
	}

	var next string
	if len(items) > pageSize {
		next = items[pageSize].Sort
		items = items[:pageSize]
	}

	return store.Page{Items: items, NextCursor: next}, nil
}

func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// Health pings the pool; used by /config/sanity and reconciler startup.
func (s *Store) Health(ctx context.Context) error {
	return s.pool.Ping(ctx)
}
