package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Deployment lifecycle metrics, one file per domain concept following
// the same layout as the package's other *_metrics.go files:
// package-level promauto vars labeled by the dimensions
// handlers/repos/the reconciler already have in hand.
var (
	// DeploymentsAccepted counts accepted intents/rollbacks by kind and
	// delivery group.
	DeploymentsAccepted = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxcp_deployments_accepted_total",
			Help: "Total number of accepted deployment/rollback intents",
		},
		[]string{"kind", "delivery_group_id", "environment"},
	)

	// DeploymentTransitions counts every applied state transition.
	DeploymentTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxcp_deployment_transitions_total",
			Help: "Total number of applied deployment state transitions",
		},
		[]string{"from", "to"},
	)

	// DeploymentFailures counts appended failure events by category.
	DeploymentFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "dxcp_deployment_failures_total",
			Help: "Total number of recorded deployment failure events",
		},
		[]string{"category"},
	)

	// ReconcilerTracked tracks the number of currently-tracked,
	// non-terminal deployment goroutines.
	ReconcilerTracked = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "dxcp_reconciler_tracked_deployments",
			Help: "Number of deployments currently tracked by the reconciler",
		},
	)

	// ReconcilerPollDuration tracks engine status-check latency observed
	// by the reconciler's poll loop.
	ReconcilerPollDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "dxcp_reconciler_poll_duration_seconds",
			Help:    "Duration of reconciler engine status polls",
			Buckets: prometheus.DefBuckets,
		},
	)
)
