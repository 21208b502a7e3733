package envelope

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thresh-vault/signer/internal/kms"
	"go.uber.org/zap"
)

func newTestProvider(t *testing.T) kms.Provider {
	t.Helper()
	dir := t.TempDir()
	keyFile := dir + "/master.hex"
	require.NoError(t, writeRandomHexKey(keyFile))
	p, err := kms.NewLocalProviderFromFile(keyFile, zap.NewNop())
	require.NoError(t, err)
	return p
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	dir := t.TempDir()
	store, err := NewFileStore(dir, newTestProvider(t), zap.NewNop())
	require.NoError(t, err)
	return store
}

func TestStoreFetchRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	payload := make([]byte, 4096)
	for i := range payload {
		payload[i] = byte(i % 251)
	}

	require.NoError(t, store.Store(ctx, "signers/a/server", payload))

	got, err := store.Fetch(ctx, "signers/a/server")
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestFetchFailsOnMovedPath(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	require.NoError(t, store.Store(ctx, "signers/a/server", []byte("share bytes")))

	// Simulate copying the envelope row to a different path by fetching
	// the underlying record and writing it back under a new path.
	rec, err := store.backend.get(ctx, "signers/a/server")
	require.NoError(t, err)
	require.NoError(t, store.backend.put(ctx, "signers/b/server", rec))

	_, err = store.Fetch(ctx, "signers/b/server")
	require.ErrorIs(t, err, ErrAuthFailed)
}

func TestFetchMissingPath(t *testing.T) {
	ctx := context.Background()
	store := newTestStore(t)

	_, err := store.Fetch(ctx, "does/not/exist")
	require.ErrorIs(t, err, ErrNotFound)
}

func writeRandomHexKey(path string) error {
	key := make([]byte, 32)
	if _, err := rand.Read(key); err != nil {
		return err
	}
	return os.WriteFile(path, []byte(hex.EncodeToString(key)), 0o600)
}
