// Package storetest is a conformance test suite shared by every
// sessionstore.Store backend, so filestore and redisstore are held to
// exactly the same contract.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/wgs4/mmcp/sessionstore"
)

// Factory creates a fresh, empty Store instance for a single test.
type Factory func(t *testing.T) sessionstore.Store

// Run executes the complete Store conformance suite against factory.
func Run(t *testing.T, factory Factory) {
	t.Run("Create_DuplicateFails", func(t *testing.T) { testCreateDuplicateFails(t, factory) })
	t.Run("Read_Miss", func(t *testing.T) { testReadMiss(t, factory) })
	t.Run("RoundTrip", func(t *testing.T) { testRoundTrip(t, factory) })
	t.Run("Update_UnknownSession", func(t *testing.T) { testUpdateUnknown(t, factory) })
	t.Run("Update_ReturnsPriorStatus", func(t *testing.T) { testUpdateReturnsPrior(t, factory) })
	t.Run("Update_SetsClosedAt", func(t *testing.T) { testUpdateSetsClosedAt(t, factory) })
	t.Run("List_IncludesClosed", func(t *testing.T) { testListIncludesClosed(t, factory) })
	t.Run("Reap_DeletesDoublyExpired", func(t *testing.T) { testReapDeletesDoublyExpired(t, factory) })
	t.Run("Reap_DeletesExpiredInitializing", func(t *testing.T) { testReapDeletesExpiredInitializing(t, factory) })
	t.Run("Reap_ClosesExpiredOpen", func(t *testing.T) { testReapClosesExpiredOpen(t, factory) })
	t.Run("Reap_Idempotent", func(t *testing.T) { testReapIdempotent(t, factory) })
}

func newRecord(id string) sessionstore.Record {
	return sessionstore.Record{
		SessionID:       id,
		Status:          sessionstore.StatusInitializing,
		OpenedAt:        time.Now().Unix(),
		ClientInfo:      map[string]any{"name": "test", "version": "1"},
		ProtocolVersion: "2025-06-18",
	}
}

func testCreateDuplicateFails(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	rec := newRecord("dup-1")

	require.NoError(t, store.Create(ctx, rec))
	err := store.Create(ctx, rec)
	assert.ErrorIs(t, err, sessionstore.ErrExists)
}

func testReadMiss(t *testing.T, factory Factory) {
	store := factory(t)
	_, ok, err := store.Read(context.Background(), "does-not-exist")
	require.NoError(t, err)
	assert.False(t, ok)
}

func testRoundTrip(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	rec := newRecord("roundtrip-1")

	require.NoError(t, store.Create(ctx, rec))

	got, ok, err := store.Read(ctx, rec.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, rec.SessionID, got.SessionID)
	assert.Equal(t, rec.Status, got.Status)
	assert.Equal(t, rec.OpenedAt, got.OpenedAt)
	assert.Equal(t, rec.ProtocolVersion, got.ProtocolVersion)
	assert.Equal(t, rec.ClientInfo["name"], got.ClientInfo["name"])
}

func testUpdateUnknown(t *testing.T, factory Factory) {
	store := factory(t)
	_, ok, err := store.Update(context.Background(), "nope", sessionstore.StatusOpen)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testUpdateReturnsPrior(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	rec := newRecord("update-1")
	require.NoError(t, store.Create(ctx, rec))

	prior, ok, err := store.Update(ctx, rec.SessionID, sessionstore.StatusOpen)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sessionstore.StatusInitializing, prior)

	got, ok, err := store.Read(ctx, rec.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sessionstore.StatusOpen, got.Status)
}

func testUpdateSetsClosedAt(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	rec := newRecord("update-2")
	require.NoError(t, store.Create(ctx, rec))

	_, _, err := store.Update(ctx, rec.SessionID, sessionstore.StatusClosed)
	require.NoError(t, err)

	got, ok, err := store.Read(ctx, rec.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sessionstore.StatusClosed, got.Status)
	assert.NotZero(t, got.ClosedAt)
}

func testListIncludesClosed(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	a, b := newRecord("list-a"), newRecord("list-b")
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))
	_, _, err := store.Update(ctx, b.SessionID, sessionstore.StatusClosed)
	require.NoError(t, err)

	ids, err := store.List(ctx)
	require.NoError(t, err)
	assert.Contains(t, ids, a.SessionID)
	assert.Contains(t, ids, b.SessionID)
}

func testReapDeletesDoublyExpired(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	maxUptime := time.Hour
	initTimeout := time.Minute

	rec := newRecord("reap-delete")
	now := time.Now()
	rec.OpenedAt = now.Add(-3 * maxUptime).Unix()
	require.NoError(t, store.Create(ctx, rec))

	require.NoError(t, store.Reap(ctx, now, maxUptime, initTimeout))

	_, ok, err := store.Read(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testReapDeletesExpiredInitializing(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	maxUptime := time.Hour
	initTimeout := time.Minute

	rec := newRecord("reap-init-delete")
	now := time.Now()
	rec.OpenedAt = now.Add(-2 * initTimeout).Unix()
	require.NoError(t, store.Create(ctx, rec))

	require.NoError(t, store.Reap(ctx, now, maxUptime, initTimeout))

	_, ok, err := store.Read(ctx, rec.SessionID)
	require.NoError(t, err)
	assert.False(t, ok)
}

func testReapClosesExpiredOpen(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	maxUptime := time.Hour
	initTimeout := time.Minute

	rec := newRecord("reap-close")
	now := time.Now()
	rec.OpenedAt = now.Add(-2 * maxUptime / 3 * 2).Unix() // older than maxUptime, younger than 2*maxUptime
	rec.OpenedAt = now.Add(-90 * time.Minute).Unix()
	rec.Status = sessionstore.StatusOpen
	require.NoError(t, store.Create(ctx, rec))

	require.NoError(t, store.Reap(ctx, now, maxUptime, initTimeout))

	got, ok, err := store.Read(ctx, rec.SessionID)
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, sessionstore.StatusClosed, got.Status)
	assert.NotZero(t, got.ClosedAt)
}

func testReapIdempotent(t *testing.T, factory Factory) {
	store := factory(t)
	ctx := context.Background()
	maxUptime := time.Hour
	initTimeout := time.Minute

	rec := newRecord("reap-idempotent")
	now := time.Now()
	rec.OpenedAt = now.Add(-90 * time.Minute).Unix()
	rec.Status = sessionstore.StatusOpen
	require.NoError(t, store.Create(ctx, rec))

	require.NoError(t, store.Reap(ctx, now, maxUptime, initTimeout))
	first, ok, err := store.Read(ctx, rec.SessionID)
	require.NoError(t, err)
	require.True(t, ok)

	require.NoError(t, store.Reap(ctx, now, maxUptime, initTimeout))
	second, ok, err := store.Read(ctx, rec.SessionID)
	require.NoError(t, err)
	require.True(t, ok)

	assert.Equal(t, first, second)
}
