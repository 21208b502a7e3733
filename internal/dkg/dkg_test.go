//go:build !tss
// +build !tss

package dkg

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/thresh-vault/signer/internal/wiremsg"
	"go.uber.org/zap"
)

func newTestCoordinator(t *testing.T) *Coordinator {
	t.Helper()
	c := NewCoordinator(NewSimScheme(zap.NewNop()), zap.NewNop())
	t.Cleanup(c.Close)
	return c
}

func runToCompletion(t *testing.T, c *Coordinator, session *Session, round1 []wiremsg.Frame) *Result {
	t.Helper()
	incoming := round1
	for round := 2; round <= simRoundsPerDKG; round++ {
		out, res, finished, err := c.Round(session.SessionID, round, incoming)
		require.NoError(t, err)
		if finished {
			return res
		}
		incoming = out
	}
	t.Fatal("dkg did not finish within simRoundsPerDKG rounds")
	return nil
}

func TestDKGHappyPath(t *testing.T) {
	c := newTestCoordinator(t)

	session, round1, err := c.Init("signer-1", 0, 2, 3)
	require.NoError(t, err)
	require.NotNil(t, session)
	require.NotEmpty(t, round1)

	result := runToCompletion(t, c, session, round1)

	require.NotNil(t, result)
	require.Len(t, result.PublicKey, 33)
	require.True(t, result.PublicKey[0] == 0x02 || result.PublicKey[0] == 0x03)
	require.True(t, strings.HasPrefix(result.EthereumAddress, "0x"))
	require.Len(t, result.EthereumAddress, 42)
}

func TestRoundOutOfOrderFails(t *testing.T) {
	c := newTestCoordinator(t)
	session, _, err := c.Init("signer-1", 0, 2, 3)
	require.NoError(t, err)

	_, _, _, err = c.Round(session.SessionID, 5, nil)
	require.ErrorIs(t, err, ErrInvalidRound)
}

func TestUnknownSessionFails(t *testing.T) {
	c := newTestCoordinator(t)
	_, _, _, err := c.Round("does-not-exist", 2, nil)
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestAbortDropsSession(t *testing.T) {
	c := newTestCoordinator(t)
	session, _, err := c.Init("signer-1", 0, 2, 3)
	require.NoError(t, err)

	c.Abort(session.SessionID)
	_, err = c.Get(session.SessionID)
	require.ErrorIs(t, err, ErrUnknownSession)
}

func TestDeriveAddressMatchesResult(t *testing.T) {
	c := newTestCoordinator(t)
	session, round1, err := c.Init("signer-1", 0, 2, 3)
	require.NoError(t, err)

	result := runToCompletion(t, c, session, round1)
	require.NotNil(t, result)

	address, err := DeriveAddress(result.PublicKey)
	require.NoError(t, err)
	require.Equal(t, result.EthereumAddress, address)
}
