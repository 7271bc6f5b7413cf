package engine

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMemoryAdapterTriggerThenStatus(t *testing.T) {
	m := NewMemoryAdapter()
	id, err := m.Trigger(context.Background(), TriggerRequest{Kind: "DEPLOY", Application: "checkout", Pipeline: "standard"})
	require.NoError(t, err)
	require.NotEmpty(t, id)

	result, err := m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateQueued, result.State)

	m.SetSucceeded(id)
	result, err = m.Status(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, StateSucceeded, result.State)
}

func TestMemoryAdapterStatusUnknownExecution(t *testing.T) {
	m := NewMemoryAdapter()
	_, err := m.Status(context.Background(), "missing")
	assert.Error(t, err)
}

func TestMemoryAdapterSetFailedCategorized(t *testing.T) {
	m := NewMemoryAdapter()
	id, err := m.Trigger(context.Background(), TriggerRequest{Kind: "DEPLOY"})
	require.NoError(t, err)

	m.SetFailed(id, FailureArtifact, "checksum mismatch")
	failures, err := m.Failures(context.Background(), id)
	require.NoError(t, err)
	require.Len(t, failures, 1)
	assert.Equal(t, FailureArtifact, failures[0].Category)
}

func TestNormalizeCategoryUnknownFallsBack(t *testing.T) {
	assert.Equal(t, FailureUnknown, normalizeCategory("something-engine-specific"))
	assert.Equal(t, FailurePolicy, normalizeCategory("policy"))
	assert.Equal(t, FailureTimeout, normalizeCategory("TIMEOUT"))
}

func TestNormalizeFailuresEmpty(t *testing.T) {
	assert.Nil(t, normalizeFailures(nil))
}

func TestActionHintNeverEmpty(t *testing.T) {
	for _, cat := range []FailureCategory{
		FailureValidation, FailurePolicy, FailureArtifact, FailureInfrastructure,
		FailureConfig, FailureApp, FailureTimeout, FailureRollback, FailureUnknown,
	} {
		assert.NotEmpty(t, actionHintFor(cat))
	}
}

func TestErrTriggerFailedMessage(t *testing.T) {
	err := &ErrTriggerFailed{Reason: "status 500"}
	assert.Contains(t, err.Error(), "status 500")
}
