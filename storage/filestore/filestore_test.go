package filestore

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataScienceBioLab/squirrel/errors"
)

func newStore(t *testing.T) *Store {
	t.Helper()
	store, err := New(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestNew(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "nested", "root")
	store, err := New(dir)
	require.NoError(t, err)
	assert.Equal(t, dir, store.Root())
	assert.DirExists(t, dir)

	_, err = New("")
	assert.ErrorIs(t, err, errors.ErrInvalidConfig)
}

func TestPutGetRoundTrip(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	data := []byte(`{"name":"session"}`)
	require.NoError(t, store.Put(ctx, "session.json", data))

	got, err := store.Get(ctx, "session.json")
	require.NoError(t, err)
	assert.Equal(t, data, got)
}

func TestPut_Overwrites(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v1")))
	require.NoError(t, store.Put(ctx, "k", []byte("v2")))

	got, err := store.Get(ctx, "k")
	require.NoError(t, err)
	assert.Equal(t, []byte("v2"), got)
}

func TestPut_HierarchicalKeys(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "states/draft.json", []byte("a")))
	require.NoError(t, store.Put(ctx, "states/published.json", []byte("b")))

	got, err := store.Get(ctx, "states/draft.json")
	require.NoError(t, err)
	assert.Equal(t, []byte("a"), got)
}

func TestPut_LeavesNoTempFiles(t *testing.T) {
	store := newStore(t)
	require.NoError(t, store.Put(context.Background(), "k", []byte("v")))

	entries, err := os.ReadDir(store.Root())
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "k", entries[0].Name())
}

func TestGet_Missing(t *testing.T) {
	store := newStore(t)
	_, err := store.Get(context.Background(), "absent")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)
}

func TestDelete(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "k", []byte("v")))
	require.NoError(t, store.Delete(ctx, "k"))

	_, err := store.Get(ctx, "k")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	// Idempotent
	assert.NoError(t, store.Delete(ctx, "k"))
}

func TestList(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "states/b.json", []byte("b")))
	require.NoError(t, store.Put(ctx, "states/a.json", []byte("a")))
	require.NoError(t, store.Put(ctx, "points/p.json", []byte("p")))

	keys, err := store.List(ctx, "states/")
	require.NoError(t, err)
	assert.Equal(t, []string{"states/a.json", "states/b.json"}, keys)

	all, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Len(t, all, 3)

	none, err := store.List(ctx, "missing/")
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestList_IgnoresInFlightTempFiles(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "states/a.json", []byte("a")))

	// A crashed or concurrent Put leaves its temp file behind; it
	// must never surface as a key.
	tmp := filepath.Join(store.Root(), "states", tmpPrefix+"12345")
	require.NoError(t, os.WriteFile(tmp, []byte("partial"), 0o600))

	keys, err := store.List(ctx, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"states/a.json"}, keys)
}

func TestKeyValidation(t *testing.T) {
	store := newStore(t)
	ctx := context.Background()

	tests := []string{"", "../escape", "/absolute"}
	for _, key := range tests {
		t.Run(key, func(t *testing.T) {
			assert.ErrorIs(t, store.Put(ctx, key, []byte("v")), errors.ErrInvalidConfig)
		})
	}
}

func TestContextCancellation(t *testing.T) {
	store := newStore(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.Error(t, store.Put(ctx, "k", []byte("v")))
	_, err := store.Get(ctx, "k")
	assert.Error(t, err)
	assert.Error(t, store.Delete(ctx, "k"))
	_, err = store.List(ctx, "")
	assert.Error(t, err)
}
