package signing

import (
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
)

// TxKind selects the transaction envelope TxDigest builds.
type TxKind int

const (
	// TxKindDynamicFee builds an EIP-1559 types.DynamicFeeTx, signed with
	// types.NewLondonSigner. This is the default for TxRequest's
	// zero value.
	TxKindDynamicFee TxKind = iota
	// TxKindLegacy builds a pre-EIP-1559 types.LegacyTx using GasPrice
	// instead of the fee-cap/tip-cap pair, signed with
	// types.NewEIP155Signer when ChainID is set (replay-protected) or
	// types.HomesteadSigner when it is nil.
	TxKindLegacy
)

// TxRequest describes a transaction to be digested and, eventually,
// signed by a Coordinator session. Kind selects between the EIP-1559
// and legacy envelopes; GasPrice is used only for TxKindLegacy and
// GasFeeCap/GasTipCap only for TxKindDynamicFee.
type TxRequest struct {
	Kind      TxKind
	ChainID   *big.Int
	Nonce     uint64
	To        *common.Address // nil for contract creation
	Value     *big.Int
	Gas       uint64
	GasPrice  *big.Int // TxKindLegacy only
	GasFeeCap *big.Int // TxKindDynamicFee only
	GasTipCap *big.Int // TxKindDynamicFee only
	Data      []byte
}

// TxDigest builds the unsigned transaction and returns its signing
// digest (RLP-encoded then Keccak-256 hashed by the signer, per
// go-ethereum's own signing scheme for the selected envelope) together
// with the transaction and signer needed to reassemble a signed
// transaction once the coordinator produces a Signature.
func TxDigest(req TxRequest) (digest [32]byte, tx *types.Transaction, signer types.Signer) {
	switch req.Kind {
	case TxKindLegacy:
		txdata := &types.LegacyTx{
			Nonce:    req.Nonce,
			To:       req.To,
			Value:    req.Value,
			Gas:      req.Gas,
			GasPrice: req.GasPrice,
			Data:     req.Data,
		}
		tx = types.NewTx(txdata)
		if req.ChainID != nil {
			signer = types.NewEIP155Signer(req.ChainID)
		} else {
			signer = types.HomesteadSigner{}
		}
	default:
		txdata := &types.DynamicFeeTx{
			ChainID:   req.ChainID,
			Nonce:     req.Nonce,
			To:        req.To,
			Value:     req.Value,
			Gas:       req.Gas,
			GasFeeCap: req.GasFeeCap,
			GasTipCap: req.GasTipCap,
			Data:      req.Data,
		}
		tx = types.NewTx(txdata)
		signer = types.NewLondonSigner(req.ChainID)
	}
	digest = signer.Hash(tx)
	return digest, tx, signer
}

// ApplySignature reassembles a signed transaction from the unsigned tx,
// its signer, and a recovery-complete Signature produced by Coordinator.
func ApplySignature(tx *types.Transaction, signer types.Signer, sig *Signature) (*types.Transaction, error) {
	rsv := make([]byte, 65)
	copy(rsv[0:32], sig.R)
	copy(rsv[32:64], sig.S)
	rsv[64] = sig.V - 27
	return tx.WithSignature(signer, rsv)
}

// MessageDigest is the identity path for plain message signing: the
// caller computes its own 32-byte digest (e.g. a pre-hashed payload or
// an EIP-191 personal-sign hash) and passes it directly to
// Coordinator.Init without going through TxDigest.
func MessageDigest(precomputed [32]byte) []byte {
	out := make([]byte, 32)
	copy(out, precomputed[:])
	return out
}
