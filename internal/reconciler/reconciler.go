// Package reconciler implements the deployment status reconciler: one
// long-lived, cooperatively-yielding task per non-terminal deployment
// that polls the engine adapter at a fixed cadence, applies the
// resulting state transition, and appends any newly observed failures.
// It's a ticker-driven background loop owned by a single manager,
// started from main and resumed from persisted state rather than
// reconstructed from request context, covering a dynamically growing
// set of in-flight deployments.
package reconciler

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/domain"
	"github.com/dxcp/dxcp/internal/engine"
	"github.com/dxcp/dxcp/internal/metrics"
)

// Manager owns one goroutine per tracked deployment. It never touches
// the concurrency sentinel directly — that's DeploymentRepo.ApplyTransition's
// job on every terminal transition.
type Manager struct {
	deployments *domain.DeploymentRepo
	adapter     engine.Adapter
	clock       clock.Clock
	logger      *slog.Logger

	pollInterval time.Duration
	hardTimeout  time.Duration

	mu       sync.Mutex
	tracking map[string]context.CancelFunc
}

// New creates a Manager. pollInterval and hardTimeout default to 5s and
// 5m respectively when zero, matching PolicyConfig's defaults.
func New(deployments *domain.DeploymentRepo, adapter engine.Adapter, clk clock.Clock, pollInterval, hardTimeout time.Duration, logger *slog.Logger) *Manager {
	if pollInterval <= 0 {
		pollInterval = 5 * time.Second
	}
	if hardTimeout <= 0 {
		hardTimeout = 5 * time.Minute
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		deployments:  deployments,
		adapter:      adapter,
		clock:        clk,
		logger:       logger,
		pollInterval: pollInterval,
		hardTimeout:  hardTimeout,
		tracking:     make(map[string]context.CancelFunc),
	}
}

// Resume scans the store for every non-terminal deployment and starts a
// tracking goroutine for each, so a process restart picks up in-flight
// deployments without an external trigger.
func (m *Manager) Resume(ctx context.Context) error {
	for _, state := range []domain.DeploymentState{domain.StatePending, domain.StateActive, domain.StateInProgress} {
		cursor := ""
		for {
			records, next, err := m.deployments.List(ctx, cursor, 200, "", string(state), "", "")
			if err != nil {
				return err
			}
			for _, rec := range records {
				m.Track(ctx, rec)
			}
			if next == "" {
				break
			}
			cursor = next
		}
	}
	return nil
}

// Track starts (or no-ops if already running) a background poll loop
// for rec. Safe to call immediately after AcceptIntent/AcceptRollback.
func (m *Manager) Track(parent context.Context, rec domain.DeploymentRecord) {
	if rec.State.Terminal() {
		return
	}

	m.mu.Lock()
	if _, exists := m.tracking[rec.ID]; exists {
		m.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.WithoutCancel(parent))
	m.tracking[rec.ID] = cancel
	metrics.ReconcilerTracked.Set(float64(len(m.tracking)))
	m.mu.Unlock()

	go func() {
		defer func() {
			m.mu.Lock()
			delete(m.tracking, rec.ID)
			metrics.ReconcilerTracked.Set(float64(len(m.tracking)))
			m.mu.Unlock()
			cancel()
		}()
		m.poll(ctx, rec)
	}()
}

// Stop cancels every tracking goroutine, for graceful shutdown.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, cancel := range m.tracking {
		cancel()
		delete(m.tracking, id)
	}
	metrics.ReconcilerTracked.Set(0)
}

func (m *Manager) poll(ctx context.Context, rec domain.DeploymentRecord) {
	deadline := rec.AcceptedAt.Add(m.hardTimeout)
	ticker := time.NewTicker(m.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		if m.clock.Now().After(deadline) {
			m.timeout(ctx, rec)
			return
		}

		current, err := m.deployments.Get(ctx, rec.ID)
		if err != nil {
			m.logger.Warn("reconciler: deployment lookup failed", "deployment_id", rec.ID, "error", err)
			continue
		}
		if current.State.Terminal() {
			return
		}

		pollStart := m.clock.Now()
		result, err := m.adapter.Status(ctx, current.ExecutionID)
		metrics.ReconcilerPollDuration.Observe(m.clock.Now().Sub(pollStart).Seconds())
		if err != nil {
			m.logger.Warn("reconciler: engine status check failed", "deployment_id", rec.ID, "error", err)
			continue
		}

		for _, f := range result.Failures {
			if _, err := m.deployments.AppendFailure(ctx, rec.ID, f); err != nil {
				m.logger.Warn("reconciler: append failure failed", "deployment_id", rec.ID, "error", err)
			}
		}

		path := transitionPath(current.State, result.State)
		terminalReached := false
		for _, step := range path {
			if _, err := m.deployments.ApplyTransition(ctx, rec.ID, step); err != nil {
				m.logger.Warn("reconciler: apply transition failed", "deployment_id", rec.ID, "from", current.State, "to", step, "error", err)
				break
			}
			current.State = step
			terminalReached = step.Terminal()
		}
		if terminalReached {
			return
		}
	}
}

func (m *Manager) timeout(ctx context.Context, rec domain.DeploymentRecord) {
	if _, err := m.deployments.AppendFailure(ctx, rec.ID, engine.Failure{
		Category:   engine.FailureTimeout,
		Summary:    "deployment exceeded the reconciler's hard timeout",
		OccurredAt: m.clock.Now(),
	}); err != nil {
		m.logger.Warn("reconciler: append timeout failure failed", "deployment_id", rec.ID, "error", err)
	}
	if _, err := m.deployments.ApplyTransition(ctx, rec.ID, domain.StateFailed); err != nil {
		m.logger.Warn("reconciler: timeout transition failed", "deployment_id", rec.ID, "error", err)
	}
}

// transitionPath maps the engine's reported state onto the ordered
// sequence of domain transitions needed to reach it from current. The
// state machine requires passing through IN_PROGRESS before any
// terminal state, so a reported SUCCEEDED/FAILED/CANCELED observed
// while current is still ACTIVE (the engine may skip reporting RUNNING
// on a fast execution) yields a two-step path rather than a single
// illegal edge.
func transitionPath(current domain.DeploymentState, reported engine.State) []domain.DeploymentState {
	var terminal domain.DeploymentState
	switch reported {
	case engine.StateRunning:
		if current == domain.StateActive {
			return []domain.DeploymentState{domain.StateInProgress}
		}
		return nil
	case engine.StateSucceeded:
		terminal = domain.StateSucceeded
	case engine.StateFailed:
		terminal = domain.StateFailed
	case engine.StateCanceled:
		terminal = domain.StateCanceled
	default:
		return nil
	}

	if current == domain.StateActive {
		return []domain.DeploymentState{domain.StateInProgress, terminal}
	}
	if current == domain.StateInProgress {
		return []domain.DeploymentState{terminal}
	}
	return nil
}
