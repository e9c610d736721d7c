//go:build integration

package natsstore

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DataScienceBioLab/squirrel/errors"
)

// connect dials the NATS server named by NATS_URL, skipping the test
// when the environment does not provide one.
func connect(t *testing.T) *nats.Conn {
	t.Helper()
	url := os.Getenv("NATS_URL")
	if url == "" {
		t.Skip("NATS_URL not set, skipping JetStream integration test")
	}
	nc, err := nats.Connect(url)
	require.NoError(t, err)
	t.Cleanup(nc.Close)
	return nc
}

func newIntegrationStore(t *testing.T) *Store {
	t.Helper()
	nc := connect(t)
	cfg := DefaultConfig()
	cfg.Bucket = "squirrel-state-test"
	cfg.Timeout = 10 * time.Second

	store, err := New(context.Background(), nc, cfg)
	require.NoError(t, err)
	return store
}

func TestStore_RoundTrip(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	data := []byte(`{"name":"session","version":1}`)
	require.NoError(t, store.Put(ctx, "session.json", data))

	got, err := store.Get(ctx, "session.json")
	require.NoError(t, err)
	assert.Equal(t, data, got)

	require.NoError(t, store.Delete(ctx, "session.json"))
	_, err = store.Get(ctx, "session.json")
	assert.ErrorIs(t, err, errors.ErrKeyNotFound)

	// Idempotent delete
	assert.NoError(t, store.Delete(ctx, "session.json"))
}

func TestStore_List(t *testing.T) {
	store := newIntegrationStore(t)
	ctx := context.Background()

	require.NoError(t, store.Put(ctx, "states/a.json", []byte("a")))
	require.NoError(t, store.Put(ctx, "states/b.json", []byte("b")))
	require.NoError(t, store.Put(ctx, "other/c.json", []byte("c")))
	t.Cleanup(func() {
		_ = store.Delete(ctx, "states/a.json")
		_ = store.Delete(ctx, "states/b.json")
		_ = store.Delete(ctx, "other/c.json")
	})

	keys, err := store.List(ctx, "states/")
	require.NoError(t, err)
	assert.Equal(t, []string{"states/a.json", "states/b.json"}, keys)
}
