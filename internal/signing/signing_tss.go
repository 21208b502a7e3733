//go:build tss
// +build tss

package signing

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/bnb-chain/tss-lib/v2/common"
	"github.com/bnb-chain/tss-lib/v2/ecdsa/keygen"
	tsssigning "github.com/bnb-chain/tss-lib/v2/ecdsa/signing"
	"github.com/bnb-chain/tss-lib/v2/tss"
	"github.com/thresh-vault/signer/internal/wiremsg"
	"go.uber.org/zap"
)

const tssRoundsPerSigning = 9

// tssScheme backs the signing coordinator with the real bnb-chain/tss-lib
// DKLs23-family signing protocol over secp256k1.
type tssScheme struct {
	logger *zap.Logger
}

// NewTSSScheme returns the tss-lib-backed Scheme.
func NewTSSScheme(logger *zap.Logger) Scheme {
	return &tssScheme{logger: logger}
}

func (s *tssScheme) RoundsPerSigning() int      { return tssRoundsPerSigning }
func (s *tssScheme) SupportsPresignature() bool { return false }

type tssSignState struct {
	party    tss.Party
	outCh    chan tss.Message
	endCh    chan common.SignatureData
	errCh    chan *tss.Error
	partyIDs tss.SortedPartyIDs
}

func (s *tssScheme) StartRound1(session *Session) ([]wiremsg.Frame, error) {
	var saveData keygen.LocalPartySaveData
	if err := json.Unmarshal(session.ShareBytes, &saveData); err != nil {
		return nil, fmt.Errorf("signing: deserialize share: %w", err)
	}

	partyIDs := make([]*tss.PartyID, session.TotalParties)
	for i := 0; i < session.TotalParties; i++ {
		partyIDs[i] = tss.NewPartyID(fmt.Sprintf("party-%d", i), fmt.Sprintf("Party %d", i), big.NewInt(int64(i+1)))
	}
	sorted := tss.SortPartyIDs(partyIDs)
	thisPartyID := sorted[session.PartyIndex]

	signingPartyIDs := sorted[:session.Threshold+1]
	ctx := tss.NewPeerContext(signingPartyIDs)
	params := tss.NewParameters(tss.S256(), ctx, thisPartyID, len(signingPartyIDs), session.Threshold)

	outCh := make(chan tss.Message, 100)
	endCh := make(chan common.SignatureData, 1)
	errCh := make(chan *tss.Error, 1)

	digest := new(big.Int).SetBytes(session.MessageDigest)
	party := tsssigning.NewLocalParty(digest, params, saveData, outCh, endCh)

	state := &tssSignState{party: party, outCh: outCh, endCh: endCh, errCh: errCh, partyIDs: sorted}
	session.SchemeState = state

	go func() {
		if err := party.Start(); err != nil {
			s.logger.Error("tss signing party failed to start", zap.Error(err))
			errCh <- &tss.Error{Cause: err}
		}
	}()

	return collectOutgoingSign(state, session.PartyIndex)
}

func (s *tssScheme) AdvanceRound(session *Session, round int, incoming []wiremsg.Frame) ([]wiremsg.Frame, *RawSignature, error) {
	state, ok := session.SchemeState.(*tssSignState)
	if !ok {
		return nil, nil, fmt.Errorf("signing: session has no tss state")
	}

	for _, frame := range incoming {
		msg, err := tss.ParseWireMessage(frame.Payload, state.partyIDs[frame.FromID], true)
		if err != nil {
			s.logger.Warn("tss signing: failed to parse wire message", zap.Error(err))
			continue
		}
		if _, err := state.party.Update(msg); err != nil {
			s.logger.Warn("tss signing: party update failed", zap.Error(err))
		}
	}

	select {
	case sigData := <-state.endCh:
		return nil, &RawSignature{R: padTo32(sigData.R), S: padTo32(sigData.S)}, nil
	case tssErr := <-state.errCh:
		return nil, nil, tssErr
	case <-time.After(100 * time.Millisecond):
		outgoing, err := collectOutgoingSign(state, session.PartyIndex)
		return outgoing, nil, err
	}
}

func collectOutgoingSign(state *tssSignState, fromPartyIndex int) ([]wiremsg.Frame, error) {
	var frames []wiremsg.Frame
	timeout := time.After(100 * time.Millisecond)
	for {
		select {
		case msg := <-state.outCh:
			wireBytes, routing, err := msg.WireBytes()
			if err != nil {
				continue
			}
			frame := wiremsg.Frame{FromID: uint8(fromPartyIndex), Payload: wireBytes}
			if routing.IsBroadcast || routing.To == nil {
				frame.HasTo = false
				frame.IsBroadcast = true
			} else {
				for idx, pid := range state.partyIDs {
					if pid.Id == routing.To[0].Id {
						frame.HasTo = true
						frame.ToID = uint8(idx)
						break
					}
				}
			}
			frames = append(frames, frame)
		case <-timeout:
			return frames, nil
		}
	}
}
