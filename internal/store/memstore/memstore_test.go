package memstore

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxcp/dxcp/internal/clock"
	"github.com/dxcp/dxcp/internal/store"
)

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Real{}, nil)

	v, err := s.Put(ctx, store.PutRequest{Partition: "svc", Sort: "foo", Value: []byte("bar"), Condition: store.MustNotExist})
	require.NoError(t, err)
	assert.Equal(t, int64(1), v)

	item, err := s.Get(ctx, "svc", "foo")
	require.NoError(t, err)
	assert.Equal(t, []byte("bar"), item.Value)
	assert.Equal(t, int64(1), item.Version)
}

func TestMustNotExistConflict(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Real{}, nil)

	_, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("a"), Condition: store.MustNotExist})
	require.NoError(t, err)

	_, err = s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("b"), Condition: store.MustNotExist})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))
}

func TestMustExistWithVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Real{}, nil)

	v, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("a"), Condition: store.MustNotExist})
	require.NoError(t, err)

	_, err = s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("b"), Condition: store.MustExistWithVersion, ExpectVersion: v + 1})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))

	_, err = s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("b"), Condition: store.MustExistWithVersion, ExpectVersion: v})
	require.NoError(t, err)
}

func TestGetNotFound(t *testing.T) {
	s := New(clock.Real{}, nil)
	_, err := s.Get(context.Background(), "p", "missing")
	assert.True(t, store.IsNotFound(err))
}

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(fake, nil)

	_, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("a"), Condition: store.MustNotExist, TTL: time.Minute})
	require.NoError(t, err)

	_, err = s.Get(ctx, "p", "s")
	require.NoError(t, err)

	fake.Advance(2 * time.Minute)
	_, err = s.Get(ctx, "p", "s")
	assert.True(t, store.IsNotFound(err))
}

func TestScanPrefixPagination(t *testing.T) {
	ctx := context.Background()
	s := New(clock.Real{}, nil)

	for _, k := range []string{"a1", "a2", "a3", "b1"} {
		_, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: k, Value: []byte(k), Condition: store.None})
		require.NoError(t, err)
	}

	page, err := s.ScanPrefix(ctx, "p", "a", "", 2)
	require.NoError(t, err)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "a1", page.Items[0].Sort)
	assert.Equal(t, "a2", page.Items[1].Sort)
	require.NotEmpty(t, page.NextCursor)

	page2, err := s.ScanPrefix(ctx, "p", "a", page.NextCursor, 2)
	require.NoError(t, err)
	require.Len(t, page2.Items, 1)
	assert.Equal(t, "a3", page2.Items[0].Sort)
	assert.Empty(t, page2.NextCursor)
}

func TestSweepRemovesExpired(t *testing.T) {
	ctx := context.Background()
	fake := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	s := New(fake, nil)

	_, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("a"), TTL: time.Second})
	require.NoError(t, err)

	fake.Advance(5 * time.Second)
	assert.Equal(t, 1, s.Sweep())
	assert.Equal(t, 0, s.Sweep())
}
