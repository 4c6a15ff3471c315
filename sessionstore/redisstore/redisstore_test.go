package redisstore

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/wgs4/mmcp/sessionstore"
	"github.com/wgs4/mmcp/sessionstore/storetest"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })

	store, err := New(Config{Client: client, KeyPrefix: "mmcp:test:"})
	require.NoError(t, err)
	return store
}

func TestRedisstore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) sessionstore.Store {
		return newTestStore(t)
	})
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(Config{})
	require.Error(t, err)
}

func TestReap_PrunesOrphanedIndexEntry(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.client.SAdd(ctx, store.indexKey(), "ghost").Err())

	ids, err := store.List(ctx)
	require.NoError(t, err)
	require.Contains(t, ids, "ghost")

	require.NoError(t, store.Reap(ctx, time.Now(), time.Hour, time.Minute))

	ids, err = store.List(ctx)
	require.NoError(t, err)
	require.NotContains(t, ids, "ghost")
}
