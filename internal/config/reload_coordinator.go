package config

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/dxcp/dxcp/internal/domain"
	"github.com/dxcp/dxcp/internal/metrics"
	"github.com/dxcp/dxcp/internal/store"
)

// LiveSettings is the small, live-mutable subset of configuration that
// admins can change without a process restart: the global kill switch
// and the CI publisher allowlist. It is stored in the backing store
// under a well-known key and polled by a single owner goroutine, the
// same atomic-pointer snapshot idiom used elsewhere but scoped to two
// fields instead of the whole config tree.
type LiveSettings struct {
	KillSwitch   bool                 `json:"killSwitch"`
	CIPublishers []domain.CIPublisher `json:"ciPublishers"`
	UpdatedAt    time.Time            `json:"updatedAt"`
}

const liveSettingsPartition = "system"
const liveSettingsSortKey = "live_settings"

// ReloadCoordinator is the single owner of LiveSettings: it polls the
// store on an interval and publishes the latest snapshot via an atomic
// pointer so concurrent request handlers never block on a lock.
type ReloadCoordinator struct {
	st       store.Store
	logger   *slog.Logger
	interval time.Duration
	current  atomic.Pointer[LiveSettings]
}

// NewReloadCoordinator creates a coordinator seeded with an empty
// LiveSettings snapshot (kill switch off, no CI publishers). Call Refresh
// once synchronously before serving traffic, then Run in the background.
func NewReloadCoordinator(st store.Store, interval time.Duration, logger *slog.Logger) *ReloadCoordinator {
	if logger == nil {
		logger = slog.Default()
	}
	if interval <= 0 {
		interval = 10 * time.Second
	}
	rc := &ReloadCoordinator{st: st, logger: logger, interval: interval}
	rc.current.Store(&LiveSettings{})
	return rc
}

// Current returns the latest published snapshot. Safe for concurrent use.
func (rc *ReloadCoordinator) Current() LiveSettings {
	return *rc.current.Load()
}

// Refresh performs one synchronous read-through-store refresh.
func (rc *ReloadCoordinator) Refresh(ctx context.Context) error {
	start := time.Now()
	defer func() { metrics.ReloadDuration.Observe(time.Since(start).Seconds()) }()

	item, err := rc.st.Get(ctx, liveSettingsPartition, liveSettingsSortKey)
	if err != nil {
		if store.IsNotFound(err) {
			metrics.ReloadTotal.WithLabelValues("success").Inc()
			return nil
		}
		metrics.ReloadTotal.WithLabelValues("error").Inc()
		return err
	}

	var settings LiveSettings
	if err := json.Unmarshal(item.Value, &settings); err != nil {
		rc.logger.Error("live settings decode failed, keeping previous snapshot", "error", err)
		metrics.ReloadTotal.WithLabelValues("error").Inc()
		return err
	}

	rc.current.Store(&settings)
	metrics.ReloadTotal.WithLabelValues("success").Inc()
	metrics.ReloadLastSuccess.SetToCurrentTime()
	metrics.KillSwitchActive.Set(boolToFloat(settings.KillSwitch))
	return nil
}

func boolToFloat(b bool) float64 {
	if b {
		return 1
	}
	return 0
}

// Run starts the polling loop until ctx is canceled. Only one goroutine
// per process should ever call Run for a given coordinator.
func (rc *ReloadCoordinator) Run(ctx context.Context) {
	ticker := time.NewTicker(rc.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := rc.Refresh(ctx); err != nil {
				rc.logger.Warn("live settings refresh failed", "error", err)
			}
		}
	}
}

// Put persists a new LiveSettings snapshot and publishes it immediately,
// so the admin mutation that wrote it observes its own effect without
// waiting for the next poll tick.
func (rc *ReloadCoordinator) Put(ctx context.Context, settings LiveSettings, now time.Time) error {
	settings.UpdatedAt = now
	value, err := json.Marshal(settings)
	if err != nil {
		return err
	}

	if _, err := rc.st.Put(ctx, store.PutRequest{
		Partition: liveSettingsPartition,
		Sort:      liveSettingsSortKey,
		Value:     value,
		Condition: store.None,
	}); err != nil {
		return err
	}

	rc.current.Store(&settings)
	return nil
}
