package domain

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/engine"
	"github.com/dxcp/dxcp/internal/store/memstore"
)

func newDeploymentRepo(t *testing.T, adapter engine.Adapter) (*DeploymentRepo, *clock.Fake) {
	t.Helper()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fake, nil)
	ids := clock.NewSequentialIDs("id")
	audit := NewAuditLog(st, fake, ids)
	repo := NewDeploymentRepo(st, fake, ids, adapter, audit)
	return repo, fake
}

func baseIntent() DeploymentIntent {
	return DeploymentIntent{
		Service:     "checkout",
		Environment: "sandbox",
		Version:     "1.2.3",
		RecipeID:    "standard-rollout",
	}
}

func TestAcceptIntentTriggersAndPersistsActive(t *testing.T) {
	adapter := engine.NewMemoryAdapter()
	repo, _ := newDeploymentRepo(t, adapter)

	rec, err := repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          baseIntent(),
		Principal:       Principal{Subject: "alice"},
		DeliveryGroupID: "group-1",
		RecipeRevision:  3,
		Pipeline:        "standard-rollout",
	})
	require.NoError(t, err)
	assert.Equal(t, StateActive, rec.State)
	assert.NotEmpty(t, rec.ExecutionID)

	running, err := repo.ConcurrentNonTerminalExists(context.Background(), "group-1", "sandbox")
	require.NoError(t, err)
	assert.True(t, running)
}

func TestAcceptIntentBlockedByConcurrentDeployment(t *testing.T) {
	adapter := engine.NewMemoryAdapter()
	repo, _ := newDeploymentRepo(t, adapter)

	_, err := repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          baseIntent(),
		Principal:       Principal{Subject: "alice"},
		DeliveryGroupID: "group-1",
		Pipeline:        "standard-rollout",
	})
	require.NoError(t, err)

	_, err = repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          baseIntent(),
		Principal:       Principal{Subject: "bob"},
		DeliveryGroupID: "group-1",
		Pipeline:        "standard-rollout",
	})
	require.Error(t, err)
	var already *ErrAlreadyRunning
	assert.ErrorAs(t, err, &already)
}

func TestAcceptIntentTriggerFailureLeavesNoRecord(t *testing.T) {
	adapter := engine.NewMemoryAdapter()
	adapter.TriggerFunc = func(ctx context.Context, req engine.TriggerRequest) (string, error) {
		return "", &engine.ErrTriggerFailed{Reason: "engine unreachable"}
	}
	repo, _ := newDeploymentRepo(t, adapter)

	_, err := repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          baseIntent(),
		Principal:       Principal{Subject: "alice"},
		DeliveryGroupID: "group-1",
		Pipeline:        "standard-rollout",
	})
	require.Error(t, err)
	var triggerFailed *ErrEngineTriggerFailed
	assert.ErrorAs(t, err, &triggerFailed)

	running, err := repo.ConcurrentNonTerminalExists(context.Background(), "group-1", "sandbox")
	require.NoError(t, err)
	assert.False(t, running, "sentinel must be released when trigger fails")
}

func TestApplyTransitionToSucceededUpdatesRunningState(t *testing.T) {
	adapter := engine.NewMemoryAdapter()
	repo, _ := newDeploymentRepo(t, adapter)

	rec, err := repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          baseIntent(),
		Principal:       Principal{Subject: "alice"},
		DeliveryGroupID: "group-1",
		Pipeline:        "standard-rollout",
	})
	require.NoError(t, err)

	_, err = repo.ApplyTransition(context.Background(), rec.ID, StateInProgress)
	require.NoError(t, err)
	updated, err := repo.ApplyTransition(context.Background(), rec.ID, StateSucceeded)
	require.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, updated.Outcome)

	crs, err := repo.CurrentRunningState(context.Background(), "checkout")
	require.NoError(t, err)
	assert.Equal(t, rec.ID, crs.DeploymentID)
	assert.Equal(t, "1.2.3", crs.Version)

	running, err := repo.ConcurrentNonTerminalExists(context.Background(), "group-1", "sandbox")
	require.NoError(t, err)
	assert.False(t, running, "sentinel released on terminal transition")
}

func TestApplyTransitionRejectsInvalidEdge(t *testing.T) {
	adapter := engine.NewMemoryAdapter()
	repo, _ := newDeploymentRepo(t, adapter)

	rec, err := repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          baseIntent(),
		Principal:       Principal{Subject: "alice"},
		DeliveryGroupID: "group-1",
		Pipeline:        "standard-rollout",
	})
	require.NoError(t, err)

	_, err = repo.ApplyTransition(context.Background(), rec.ID, StateSucceeded)
	require.Error(t, err)
	var invalid *ErrInvalidTransition
	assert.ErrorAs(t, err, &invalid)
}

func TestAcceptRollbackRequiresSucceededTarget(t *testing.T) {
	adapter := engine.NewMemoryAdapter()
	repo, _ := newDeploymentRepo(t, adapter)

	target := DeploymentRecord{ID: "dep-1", DeliveryGroupID: "group-1", Environment: "sandbox", State: StateActive}
	_, err := repo.AcceptRollback(context.Background(), target, Principal{Subject: "alice"}, "standard-rollout")
	require.Error(t, err)
	var notTerminal *ErrRollbackTargetNotTerminal
	assert.ErrorAs(t, err, &notTerminal)
}

func TestAcceptRollbackSucceededMarksTargetRolledBack(t *testing.T) {
	adapter := engine.NewMemoryAdapter()
	repo, _ := newDeploymentRepo(t, adapter)

	rec, err := repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          baseIntent(),
		Principal:       Principal{Subject: "alice"},
		DeliveryGroupID: "group-1",
		Pipeline:        "standard-rollout",
	})
	require.NoError(t, err)
	_, err = repo.ApplyTransition(context.Background(), rec.ID, StateInProgress)
	require.NoError(t, err)
	succeeded, err := repo.ApplyTransition(context.Background(), rec.ID, StateSucceeded)
	require.NoError(t, err)

	rollback, err := repo.AcceptRollback(context.Background(), *succeeded, Principal{Subject: "alice"}, "standard-rollout")
	require.NoError(t, err)
	assert.Equal(t, KindRollback, rollback.Kind)
	assert.Equal(t, succeeded.ID, rollback.RollbackOf)

	_, err = repo.ApplyTransition(context.Background(), rollback.ID, StateInProgress)
	require.NoError(t, err)
	_, err = repo.ApplyTransition(context.Background(), rollback.ID, StateSucceeded)
	require.NoError(t, err)

	target, err := repo.Get(context.Background(), succeeded.ID)
	require.NoError(t, err)
	assert.Equal(t, OutcomeRolledBack, target.Outcome)
}

func TestAppendFailureAssignsSequence(t *testing.T) {
	adapter := engine.NewMemoryAdapter()
	repo, _ := newDeploymentRepo(t, adapter)

	rec, err := repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          baseIntent(),
		Principal:       Principal{Subject: "alice"},
		DeliveryGroupID: "group-1",
		Pipeline:        "standard-rollout",
	})
	require.NoError(t, err)

	first, err := repo.AppendFailure(context.Background(), rec.ID, engine.Failure{Category: engine.FailureInfrastructure, Summary: "node lost"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.Seq)

	second, err := repo.AppendFailure(context.Background(), rec.ID, engine.Failure{Category: engine.FailureApp, Summary: "panic"})
	require.NoError(t, err)
	assert.Equal(t, 2, second.Seq)

	failures, _, err := repo.ListFailures(context.Background(), rec.ID, "", 10)
	require.NoError(t, err)
	require.Len(t, failures, 2)
	assert.Equal(t, "node lost", failures[0].Summary)
}

func TestListFiltersByServiceAndState(t *testing.T) {
	adapter := engine.NewMemoryAdapter()
	repo, _ := newDeploymentRepo(t, adapter)

	_, err := repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          baseIntent(),
		Principal:       Principal{Subject: "alice"},
		DeliveryGroupID: "group-1",
		Pipeline:        "standard-rollout",
	})
	require.NoError(t, err)

	other := baseIntent()
	other.Service = "billing"
	_, err = repo.AcceptIntent(context.Background(), AcceptIntentParams{
		Intent:          other,
		Principal:       Principal{Subject: "alice"},
		DeliveryGroupID: "group-2",
		Pipeline:        "standard-rollout",
	})
	require.NoError(t, err)

	results, _, err := repo.List(context.Background(), "", 10, "checkout", "", "", "")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "checkout", results[0].Service)
}
