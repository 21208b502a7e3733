//go:build !tss
// +build !tss

package signing

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/thresh-vault/signer/internal/wiremsg"
	"go.uber.org/zap"
)

const simRoundsPerSigning = 2

// simScheme is a same-process simulation of the signing protocol,
// consuming the share format produced by dkg's simScheme.
type simScheme struct {
	logger *zap.Logger
}

// NewSimScheme returns the in-process simulation Scheme.
func NewSimScheme(logger *zap.Logger) Scheme {
	return &simScheme{logger: logger}
}

func (s *simScheme) RoundsPerSigning() int      { return simRoundsPerSigning }
func (s *simScheme) SupportsPresignature() bool { return false }

type simShare struct {
	PrivateKeyD string `json:"private_key_d_hex"`
}

func (s *simScheme) StartRound1(session *Session) ([]wiremsg.Frame, error) {
	priv, err := parseSimShare(session.ShareBytes)
	if err != nil {
		return nil, err
	}
	session.SchemeState = priv

	frame := wiremsg.Frame{FromID: uint8(session.PartyIndex), IsBroadcast: true, Payload: []byte("sim-sign-ack")}
	return []wiremsg.Frame{frame}, nil
}

func (s *simScheme) AdvanceRound(session *Session, round int, incoming []wiremsg.Frame) ([]wiremsg.Frame, *RawSignature, error) {
	priv, ok := session.SchemeState.(*ecdsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("signing sim: missing parsed share")
	}
	if round < simRoundsPerSigning {
		return []wiremsg.Frame{{FromID: uint8(session.PartyIndex), IsBroadcast: true, Payload: []byte("sim-sign-ack")}}, nil, nil
	}

	sig, err := crypto.Sign(session.MessageDigest, priv)
	if err != nil {
		return nil, nil, fmt.Errorf("signing sim: sign: %w", err)
	}
	// sig is 65 bytes: r || s || recovery-bit. The recovery bit is
	// discarded here; the coordinator resolves it independently.
	raw := &RawSignature{R: append([]byte(nil), sig[0:32]...), S: append([]byte(nil), sig[32:64]...)}
	return nil, raw, nil
}

func parseSimShare(shareBytes []byte) (*ecdsa.PrivateKey, error) {
	var share simShare
	if err := json.Unmarshal(shareBytes, &share); err != nil {
		return nil, fmt.Errorf("signing sim: deserialize share: %w", err)
	}
	if share.PrivateKeyD == "" {
		return nil, fmt.Errorf("signing sim: share missing private key")
	}
	dBytes, err := hex.DecodeString(share.PrivateKeyD)
	if err != nil {
		return nil, fmt.Errorf("signing sim: decode private key: %w", err)
	}
	priv, err := crypto.ToECDSA(dBytes)
	if err != nil {
		return nil, fmt.Errorf("signing sim: reconstruct private key: %w", err)
	}
	return priv, nil
}
