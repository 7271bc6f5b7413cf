package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestValidTransitions(t *testing.T) {
	cases := []struct {
		from, to DeploymentState
		ok       bool
	}{
		{StatePending, StateActive, true},
		{StateActive, StateInProgress, true},
		{StateInProgress, StateSucceeded, true},
		{StateInProgress, StateFailed, true},
		{StateInProgress, StateCanceled, true},
		{StatePending, StateRolledBack, true},
		{StateActive, StateRolledBack, true},
		{StateInProgress, StateRolledBack, true},
		{StatePending, StateSucceeded, false},
		{StateSucceeded, StateFailed, false},
		{StateFailed, StateRolledBack, false},
	}
	for _, c := range cases {
		assert.Equal(t, c.ok, CanTransition(c.from, c.to), "%s -> %s", c.from, c.to)
	}
}

func TestTransitionOutcome(t *testing.T) {
	outcome, err := Transition(StateInProgress, StateSucceeded)
	assert.NoError(t, err)
	assert.Equal(t, OutcomeSucceeded, outcome)

	_, err = Transition(StateSucceeded, StateFailed)
	assert.Error(t, err)
}

func TestTerminal(t *testing.T) {
	for _, s := range []DeploymentState{StateSucceeded, StateFailed, StateCanceled, StateRolledBack} {
		assert.True(t, s.Terminal())
	}
	for _, s := range []DeploymentState{StatePending, StateActive, StateInProgress} {
		assert.False(t, s.Terminal())
	}
}

func TestCIPublisherMatches(t *testing.T) {
	pub := CIPublisher{Issuer: "https://issuer", AZP: "ci-client"}
	p := Principal{Issuer: "https://issuer", AuthorizedParty: "ci-client", Subject: "svc-account"}
	assert.True(t, pub.Matches(p))

	other := Principal{Issuer: "https://other", AuthorizedParty: "ci-client"}
	assert.False(t, pub.Matches(other))
}
