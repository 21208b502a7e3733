//go:build !tss
// +build !tss

package signing

import (
	"encoding/hex"
	"encoding/json"
	"testing"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestShare(t *testing.T) (share []byte, compressedPub []byte) {
	t.Helper()
	priv, err := crypto.GenerateKey()
	require.NoError(t, err)

	dBytes := make([]byte, 32)
	priv.D.FillBytes(dBytes)
	b, err := json.Marshal(simShare{PrivateKeyD: hex.EncodeToString(dBytes)})
	require.NoError(t, err)

	return b, crypto.CompressPubkey(&priv.PublicKey)
}

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := NewCoordinator(NewSimScheme(zap.NewNop()), zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

func runSigningToCompletion(t *testing.T, c *Coordinator, session *Session) *Signature {
	t.Helper()
	var sig *Signature
	for round := 2; round <= simRoundsPerSigning+1; round++ {
		_, s, finished, err := c.Round(session.SessionID, round, nil)
		require.NoError(t, err)
		if finished {
			sig = s
			break
		}
	}
	return sig
}

func TestSigningHappyPath(t *testing.T) {
	c := newTestCoordinator(t)
	share, pub := newTestShare(t)
	digest := [32]byte{1, 2, 3, 4, 5}

	session, round1, err := c.Init("signer-1", 0, 1, 2, share, pub, digest[:])
	require.NoError(t, err)
	require.NotNil(t, session)
	require.NotEmpty(t, round1)

	sig := runSigningToCompletion(t, c, session)
	require.NotNil(t, sig)
	require.Len(t, sig.R, 32)
	require.Len(t, sig.S, 32)
	require.True(t, sig.V == 27 || sig.V == 28)
	require.Len(t, sig.Full, 65)

	recSig := append(append([]byte{}, sig.Full[:64]...), sig.V-27)
	recovered, err := crypto.Ecrecover(digest[:], recSig)
	require.NoError(t, err)
	recoveredPub, err := crypto.UnmarshalPubkey(recovered)
	require.NoError(t, err)
	require.Equal(t, pub, crypto.CompressPubkey(recoveredPub))
}

func TestRoundOutOfOrderFails(t *testing.T) {
	c := newTestCoordinator(t)
	share, pub := newTestShare(t)
	digest := [32]byte{9}
	session, _, err := c.Init("signer-1", 0, 1, 2, share, pub, digest[:])
	require.NoError(t, err)

	_, _, _, err = c.Round(session.SessionID, 9, nil)
	require.ErrorIs(t, err, ErrInvalidRound)
}

func TestUnknownSessionFails(t *testing.T) {
	c := newTestCoordinator(t)
	_, _, _, err := c.Round("does-not-exist", 2, nil)
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestInitRejectsShortDigest(t *testing.T) {
	c := newTestCoordinator(t)
	share, pub := newTestShare(t)
	_, _, err := c.Init("signer-1", 0, 1, 2, share, pub, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrDigestLength)
}
