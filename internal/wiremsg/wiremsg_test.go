package wiremsg

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	f := Frame{FromID: 1, HasTo: true, ToID: 2, Payload: []byte("hello mpc")}
	encoded := Encode(f)
	decoded, err := Decode(encoded)
	require.NoError(t, err)
	require.Equal(t, f.FromID, decoded.FromID)
	require.Equal(t, f.ToID, decoded.ToID)
	require.Equal(t, f.Payload, decoded.Payload)
	require.False(t, decoded.IsBroadcast)
}

func TestBroadcastFrame(t *testing.T) {
	f := Frame{FromID: 0, HasTo: false, Payload: []byte("broadcast")}
	decoded, err := Decode(Encode(f))
	require.NoError(t, err)
	require.True(t, decoded.IsBroadcast)
}

func TestDecodeRefusesOversizedPayloadLen(t *testing.T) {
	buf := Encode(Frame{FromID: 1, HasTo: true, ToID: 2, Payload: []byte("ok")})
	buf = buf[:len(buf)-1] // truncate payload, leaving payload_len stale
	_, err := Decode(buf)
	require.ErrorIs(t, err, ErrPayloadTooLarge)
}

func TestDecodeRefusesShortHeader(t *testing.T) {
	_, err := Decode([]byte{1, 2})
	require.ErrorIs(t, err, ErrFrameTooShort)
}

func TestCloneIsIndependentCopy(t *testing.T) {
	original := Frame{FromID: 1, Payload: []byte{1, 2, 3}}
	cloned := Clone(original)
	cloned.Payload[0] = 99
	require.Equal(t, byte(1), original.Payload[0])
}
