package idempotency

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store/memstore"
)

func newTestStore() (*Store, *clock.Fake) {
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fake, nil)
	return New(st, fake, 24*time.Hour), fake
}

func TestBeginFirstRequestIsNotReplay(t *testing.T) {
	s, _ := newTestStore()
	fp := Fingerprint("POST", "/deployments", []byte(`{"a":1}`))

	rec, replay, err := s.Begin(context.Background(), "alice", "key-1", fp)
	require.NoError(t, err)
	assert.False(t, replay)
	assert.Equal(t, "pending", rec.Status)
}

func TestBeginInFlightSecondCallerBlocked(t *testing.T) {
	s, _ := newTestStore()
	fp := Fingerprint("POST", "/deployments", []byte(`{"a":1}`))
	ctx := context.Background()

	_, _, err := s.Begin(ctx, "alice", "key-1", fp)
	require.NoError(t, err)

	_, _, err = s.Begin(ctx, "alice", "key-1", fp)
	require.Error(t, err)
	var inFlight *ErrInFlight
	assert.ErrorAs(t, err, &inFlight)
}

func TestCompleteThenReplayReturnsCachedResponse(t *testing.T) {
	s, _ := newTestStore()
	fp := Fingerprint("POST", "/deployments", []byte(`{"a":1}`))
	ctx := context.Background()

	_, _, err := s.Begin(ctx, "alice", "key-1", fp)
	require.NoError(t, err)

	body := json.RawMessage(`{"id":"dep-1"}`)
	require.NoError(t, s.Complete(ctx, "alice", "key-1", 201, body, map[string]string{"Location": "/deployments/dep-1"}))

	rec, replay, err := s.Begin(ctx, "alice", "key-1", fp)
	require.NoError(t, err)
	assert.True(t, replay)
	assert.Equal(t, 201, rec.ResponseCode)
	assert.JSONEq(t, string(body), string(rec.ResponseBody))
}

func TestBeginConflictOnMismatchedFingerprint(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	fp1 := Fingerprint("POST", "/deployments", []byte(`{"a":1}`))
	fp2 := Fingerprint("POST", "/deployments", []byte(`{"a":2}`))

	_, _, err := s.Begin(ctx, "alice", "key-1", fp1)
	require.NoError(t, err)

	_, _, err = s.Begin(ctx, "alice", "key-1", fp2)
	require.Error(t, err)
	var conflict *ErrConflict
	assert.ErrorAs(t, err, &conflict)
}

func TestScopedPerPrincipal(t *testing.T) {
	s, _ := newTestStore()
	ctx := context.Background()
	fp := Fingerprint("POST", "/deployments", []byte(`{"a":1}`))

	_, replayAlice, err := s.Begin(ctx, "alice", "key-1", fp)
	require.NoError(t, err)
	assert.False(t, replayAlice)

	_, replayBob, err := s.Begin(ctx, "bob", "key-1", fp)
	require.NoError(t, err)
	assert.False(t, replayBob, "same key under a different principal is a distinct record")
}
