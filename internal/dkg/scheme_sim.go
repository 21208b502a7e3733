//go:build !tss
// +build !tss

package dkg

import (
	"crypto/ecdsa"
	"encoding/hex"
	"encoding/json"
	"fmt"

	"github.com/ethereum/go-ethereum/crypto"
	"github.com/thresh-vault/signer/internal/ethaddr"
	"github.com/thresh-vault/signer/internal/wiremsg"
	"go.uber.org/zap"
)

const simRoundsPerDKG = 3

// simScheme is a same-process simulation of the DKG protocol for tests and
// environments without the full MPC library linked in. It still operates
// over secp256k1 and derives addresses with Keccak-256, so it produces
// output indistinguishable in shape from the tss-backed scheme.
type simScheme struct {
	logger *zap.Logger
}

// NewSimScheme returns the in-process simulation Scheme.
func NewSimScheme(logger *zap.Logger) Scheme {
	return &simScheme{logger: logger}
}

func (s *simScheme) RoundsPerDKG() int          { return simRoundsPerDKG }
func (s *simScheme) SupportsPresignature() bool { return false }

type simSaveData struct {
	PrivateKeyD string `json:"private_key_d_hex"`
}

func (s *simScheme) StartRound1(session *Session) ([]wiremsg.Frame, error) {
	priv, err := crypto.GenerateKey()
	if err != nil {
		return nil, fmt.Errorf("dkg sim: generate key: %w", err)
	}
	session.SchemeState = priv

	payload := make([]byte, 32)
	priv.D.FillBytes(payload)
	frame := wiremsg.Frame{FromID: uint8(session.PartyIndex), HasTo: false, IsBroadcast: true, Payload: payload}
	return []wiremsg.Frame{frame}, nil
}

func (s *simScheme) AdvanceRound(session *Session, round int, incoming []wiremsg.Frame) ([]wiremsg.Frame, *Result, error) {
	priv, ok := session.SchemeState.(*ecdsa.PrivateKey)
	if !ok {
		return nil, nil, fmt.Errorf("dkg sim: missing generated key")
	}
	if round < simRoundsPerDKG {
		return []wiremsg.Frame{{FromID: uint8(session.PartyIndex), IsBroadcast: true, Payload: []byte("sim-ack")}}, nil, nil
	}

	compressed := crypto.CompressPubkey(&priv.PublicKey)
	address, err := ethaddr.FromCompressedPubkey(compressed)
	if err != nil {
		return nil, nil, err
	}

	dBytes := make([]byte, 32)
	priv.D.FillBytes(dBytes)
	saveData := simSaveData{PrivateKeyD: hex.EncodeToString(dBytes)}
	saveBytes, err := json.Marshal(saveData)
	if err != nil {
		return nil, nil, err
	}

	return nil, &Result{
		PublicKey:       compressed,
		EthereumAddress: address,
		Shares: []Share{{
			PartyIndex:      session.PartyIndex,
			ShareBytes:      saveBytes,
			PublicKey:       compressed,
			EthereumAddress: address,
			Threshold:       session.Threshold,
			TotalParties:    session.TotalParties,
		}},
	}, nil
}
