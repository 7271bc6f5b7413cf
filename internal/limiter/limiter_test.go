package limiter

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store/memstore"
)

func TestAllowRateBlocksAfterMax(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fake, nil)
	l := New(st, fake)

	for i := 0; i < 3; i++ {
		ok, err := l.AllowRate(ctx, "alice", time.Minute, 3)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should be allowed", i)
	}

	ok, err := l.AllowRate(ctx, "alice", time.Minute, 3)
	require.NoError(t, err)
	assert.False(t, ok, "4th request should be rate limited")
}

func TestAllowRateWindowSlides(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fake, nil)
	l := New(st, fake)

	for i := 0; i < 5; i++ {
		ok, err := l.AllowRate(ctx, "bob", time.Minute, 5)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, _ := l.AllowRate(ctx, "bob", time.Minute, 5)
	assert.False(t, ok)

	fake.Advance(2 * time.Minute)
	ok, err := l.AllowRate(ctx, "bob", time.Minute, 5)
	require.NoError(t, err)
	assert.True(t, ok, "fresh window should allow requests again")
}

func TestAllowDailyQuotaPerScope(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	st := memstore.New(fake, nil)
	l := New(st, fake)

	for i := 0; i < 2; i++ {
		ok, err := l.AllowDaily(ctx, "deploy", "group-a", 2)
		require.NoError(t, err)
		assert.True(t, ok)
	}
	ok, err := l.AllowDaily(ctx, "deploy", "group-a", 2)
	require.NoError(t, err)
	assert.False(t, ok)

	ok, err = l.AllowDaily(ctx, "deploy", "group-b", 2)
	require.NoError(t, err)
	assert.True(t, ok, "different scope has its own quota")
}

func TestAllowDailyResetsNextDay(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 1, 1, 23, 0, 0, 0, time.UTC))
	st := memstore.New(fake, nil)
	l := New(st, fake)

	ok, err := l.AllowDaily(ctx, "deploy", "group-a", 1)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, _ = l.AllowDaily(ctx, "deploy", "group-a", 1)
	assert.False(t, ok)

	fake.Advance(2 * time.Hour)
	ok, err = l.AllowDaily(ctx, "deploy", "group-a", 1)
	require.NoError(t, err)
	assert.True(t, ok)
}
