//go:build tss
// +build tss

package dkg

import (
	"encoding/json"
	"fmt"
	"math/big"
	"time"

	"github.com/bnb-chain/tss-lib/v2/ecdsa/keygen"
	"github.com/bnb-chain/tss-lib/v2/tss"
	"github.com/thresh-vault/signer/internal/ethaddr"
	"github.com/thresh-vault/signer/internal/wiremsg"
	"go.uber.org/zap"
)

func tssMarshalSaveData(saveData keygen.LocalPartySaveData) ([]byte, error) {
	b, err := json.Marshal(saveData)
	if err != nil {
		return nil, fmt.Errorf("dkg: marshal save data: %w", err)
	}
	return b, nil
}

const tssRoundsPerDKG = 5

// tssScheme backs the DKG coordinator with the real bnb-chain/tss-lib
// DKLs23-family keygen protocol over secp256k1.
type tssScheme struct {
	logger *zap.Logger
}

// NewTSSScheme returns the tss-lib-backed Scheme.
func NewTSSScheme(logger *zap.Logger) Scheme {
	return &tssScheme{logger: logger}
}

func (s *tssScheme) RoundsPerDKG() int          { return tssRoundsPerDKG }
func (s *tssScheme) SupportsPresignature() bool { return false }

type tssState struct {
	party    tss.Party
	outCh    chan tss.Message
	endCh    chan keygen.LocalPartySaveData
	errCh    chan *tss.Error
	params   *tss.Parameters
	partyIDs tss.SortedPartyIDs
}

func (s *tssScheme) StartRound1(session *Session) ([]wiremsg.Frame, error) {
	partyIDs := make([]*tss.PartyID, session.TotalParties)
	for i := 0; i < session.TotalParties; i++ {
		partyIDs[i] = tss.NewPartyID(fmt.Sprintf("party-%d", i), fmt.Sprintf("Party %d", i), big.NewInt(int64(i)))
	}
	sorted := tss.SortPartyIDs(partyIDs)
	thisPartyID := sorted[session.PartyIndex]

	ctx := tss.NewPeerContext(sorted)
	params := tss.NewParameters(tss.S256(), ctx, thisPartyID, session.TotalParties, session.Threshold)

	outCh := make(chan tss.Message, 100)
	endCh := make(chan keygen.LocalPartySaveData, 1)
	errCh := make(chan *tss.Error, 1)

	party := keygen.NewLocalParty(params, outCh, endCh)
	state := &tssState{party: party, outCh: outCh, endCh: endCh, errCh: errCh, params: params, partyIDs: sorted}
	session.SchemeState = state

	go func() {
		if err := party.Start(); err != nil {
			s.logger.Error("tss dkg party failed to start", zap.Error(err))
			errCh <- &tss.Error{Cause: err}
		}
	}()

	return collectOutgoing(state, session.PartyIndex)
}

func (s *tssScheme) AdvanceRound(session *Session, round int, incoming []wiremsg.Frame) ([]wiremsg.Frame, *Result, error) {
	state, ok := session.SchemeState.(*tssState)
	if !ok {
		return nil, nil, fmt.Errorf("dkg: session has no tss state")
	}

	for _, frame := range incoming {
		wireBytes := frame.Payload
		msg, err := tss.ParseWireMessage(wireBytes, state.partyIDs[frame.FromID], true)
		if err != nil {
			s.logger.Warn("tss dkg: failed to parse wire message", zap.Error(err))
			continue
		}
		go func(m tss.ParsedMessage) {
			if _, err := state.party.Update(m); err != nil {
				s.logger.Warn("tss dkg: party update failed", zap.Error(err))
			}
		}(msg)
	}

	select {
	case saveData := <-state.endCh:
		result, err := buildResult(saveData)
		return nil, result, err
	case tssErr := <-state.errCh:
		return nil, nil, tssErr
	case <-time.After(100 * time.Millisecond):
		outgoing, err := collectOutgoing(state, session.PartyIndex)
		return outgoing, nil, err
	}
}

func collectOutgoing(state *tssState, fromPartyIndex int) ([]wiremsg.Frame, error) {
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

func buildResult(saveData keygen.LocalPartySaveData) (*Result, error) {
	if saveData.ECDSAPub == nil {
		return nil, fmt.Errorf("dkg: missing public key in save data")
	}
	pub, err := saveData.ECDSAPub.ToECDSAPubKey()
	if err != nil {
		return nil, fmt.Errorf("dkg: convert public key: %w", err)
	}
	xy := make([]byte, 64)
	pub.X.FillBytes(xy[:32])
	pub.Y.FillBytes(xy[32:])
	compressed, err := ethaddr.Compress(xy)
	if err != nil {
		return nil, err
	}
	address, err := ethaddr.FromUncompressedXY(xy)
	if err != nil {
		return nil, err
	}
	saveDataBytes, err := tssMarshalSaveData(saveData)
	if err != nil {
		return nil, err
	}
	return &Result{
		PublicKey:       compressed,
		EthereumAddress: address,
		Shares: []Share{{
			ShareBytes:      saveDataBytes,
			PublicKey:       compressed,
			EthereumAddress: address,
		}},
	}, nil
}
