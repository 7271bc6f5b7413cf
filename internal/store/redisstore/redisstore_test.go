package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dxcp/dxcp/internal/store"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return New(client)
}

func TestPutGetRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

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
	s := newTestStore(t)

	_, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("a"), Condition: store.MustNotExist})
	require.NoError(t, err)

	_, err = s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("b"), Condition: store.MustNotExist})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))
}

func TestMustExistWithVersionConflict(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	v, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("a"), Condition: store.MustNotExist})
	require.NoError(t, err)

	_, err = s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("b"), Condition: store.MustExistWithVersion, ExpectVersion: v + 1})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))

	_, err = s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("b"), Condition: store.MustExistWithVersion, ExpectVersion: v})
	require.NoError(t, err)
}

func TestMustExistWithVersionMissingRow(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: "missing", Value: []byte("a"), Condition: store.MustExistWithVersion, ExpectVersion: 1})
	require.Error(t, err)
	assert.True(t, store.IsConflict(err))
}

func TestGetNotFound(t *testing.T) {
	s := newTestStore(t)
	_, err := s.Get(context.Background(), "p", "missing")
	assert.True(t, store.IsNotFound(err))
}

func TestDeleteRemovesField(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("a"), Condition: store.MustNotExist})
	require.NoError(t, err)

	require.NoError(t, s.Delete(ctx, "p", "s"))

	_, err = s.Get(ctx, "p", "s")
	assert.True(t, store.IsNotFound(err))
}

func TestScanPrefixPagination(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

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

func TestTTLExpiry(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t)

	_, err := s.Put(ctx, store.PutRequest{Partition: "p", Sort: "s", Value: []byte("a"), Condition: store.MustNotExist, TTL: time.Millisecond})
	require.NoError(t, err)

	time.Sleep(5 * time.Millisecond)

	_, err = s.Get(ctx, "p", "s")
	assert.True(t, store.IsNotFound(err))
}
