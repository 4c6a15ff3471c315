package filestore

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/wgs4/mmcp/sessionstore"
	"github.com/wgs4/mmcp/sessionstore/storetest"
)

func TestFilestore_Conformance(t *testing.T) {
	storetest.Run(t, func(t *testing.T) sessionstore.Store {
		dir := t.TempDir()
		store, err := New(dir)
		require.NoError(t, err)
		return store
	})
}

func TestNew_CreatesDirectory(t *testing.T) {
	dir := t.TempDir() + "/nested/sessions"
	store, err := New(dir)
	require.NoError(t, err)
	require.NotNil(t, store)

	ids, err := store.List(context.Background())
	require.NoError(t, err)
	require.Empty(t, ids)
}

func TestRead_MalformedFileIsMiss(t *testing.T) {
	dir := t.TempDir()
	store, err := New(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(store.recordPath("broken"), []byte("not json"), 0o600))

	_, ok, err := store.Read(context.Background(), "broken")
	require.NoError(t, err)
	require.False(t, ok)
}
