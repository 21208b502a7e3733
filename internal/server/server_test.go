//go:build !tss
// +build !tss

package server

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"os"
	"testing"

	"github.com/stretchr/testify/require"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/thresh-vault/signer/internal/audit"
	"github.com/thresh-vault/signer/internal/dkg"
	"github.com/thresh-vault/signer/internal/envelope"
	"github.com/thresh-vault/signer/internal/kms"
	"github.com/thresh-vault/signer/internal/signing"
	"go.uber.org/zap"
)

func newTestHealthServer(t *testing.T) *HealthServer {
	t.Helper()

	dir := t.TempDir()
	keyFile := dir + "/master.hex"
	masterKey := make([]byte, 32)
	_, err := rand.Read(masterKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyFile, []byte(hex.EncodeToString(masterKey)), 0600))

	provider, err := kms.NewLocalProviderFromFile(keyFile, zap.NewNop())
	require.NoError(t, err)

	shareStore, err := envelope.NewFileStore(dir+"/shares", provider, zap.NewNop())
	require.NoError(t, err)

	auditStore := audit.NewInMemoryStore()
	dkgCo := dkg.NewCoordinator(dkg.NewSimScheme(zap.NewNop()), zap.NewNop())
	signingCo := signing.NewCoordinator(signing.NewSimScheme(zap.NewNop()), zap.NewNop())

	h := NewHealthServer(shareStore, auditStore, dkgCo, signingCo, zap.NewNop())
	t.Cleanup(h.Close)
	return h
}

func TestHealthCheckServing(t *testing.T) {
	h := newTestHealthServer(t)

	resp, err := h.Check(context.Background(), &healthpb.HealthCheckRequest{})
	require.NoError(t, err)
	require.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
