package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Live-settings reload metrics for ReloadCoordinator, using the same
// promauto package-level idiom as the rest of this package, scoped to
// the two fields DXCP actually reloads: kill switch and CI publisher
// allowlist.
var (
	// ReloadTotal tracks poll/refresh attempts by outcome: success, error.
	ReloadTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxcp_live_settings_reload_total",
			Help: "Total number of live settings refresh attempts by outcome",
		},
		[]string{"outcome"},
	)

	// ReloadDuration tracks store round-trip duration for a refresh.
	ReloadDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dxcp_live_settings_reload_duration_seconds",
			Help:    "Duration of live settings refresh operations",
			Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
		},
	)

	// ReloadLastSuccess tracks the last successful refresh's Unix timestamp.
	ReloadLastSuccess = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dxcp_live_settings_reload_last_success_timestamp_seconds",
			Help: "Timestamp of the last successful live settings refresh",
		},
	)

	// KillSwitchActive mirrors the current kill switch state as a gauge.
	KillSwitchActive = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dxcp_kill_switch_active",
			Help: "1 if the mutations kill switch is currently engaged, 0 otherwise",
		},
	)
)
