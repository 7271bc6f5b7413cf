package config

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/domain"
	"github.com/dxcp/dxcp/internal/store/memstore"
)

func TestReloadCoordinatorRefreshesFromStore(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fake, nil)

	rc := NewReloadCoordinator(st, time.Hour, nil)
	assert.False(t, rc.Current().KillSwitch)

	err := rc.Put(ctx, LiveSettings{
		KillSwitch:   true,
		CIPublishers: []domain.CIPublisher{{ID: "ci-1", Issuer: "https://ci"}},
	}, fake.Now())
	require.NoError(t, err)

	assert.True(t, rc.Current().KillSwitch)
	require.Len(t, rc.Current().CIPublishers, 1)

	rc2 := NewReloadCoordinator(st, time.Hour, nil)
	require.NoError(t, rc2.Refresh(ctx))
	assert.True(t, rc2.Current().KillSwitch)
}

func TestReloadCoordinatorRefreshNoopWhenUnset(t *testing.T) {
	ctx := context.Background()
	st := memstore.New(clock.Real{}, nil)
	rc := NewReloadCoordinator(st, time.Hour, nil)
	require.NoError(t, rc.Refresh(ctx))
	assert.False(t, rc.Current().KillSwitch)
}
