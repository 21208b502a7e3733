// Package ethaddr derives Ethereum addresses from secp256k1 public keys.
// It is the single free function shared by the DKG, viewing, and signing
// paths, per the "address derivation is shared" design note.
package ethaddr

import (
	"errors"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrInvalidPublicKey is returned when the input is not a valid compressed
// secp256k1 point.
var ErrInvalidPublicKey = errors.New("ethaddr: invalid compressed public key")

// FromCompressedPubkey decompresses a 33-byte secp256k1 public key
// (0x02/0x03 prefix), hashes the 64-byte uncompressed (x||y) coordinates
// with Keccak-256, takes the last 20 bytes, and returns the EIP-55
// checksummed address.
func FromCompressedPubkey(compressed []byte) (string, error) {
	if len(compressed) != 33 {
		return "", ErrInvalidPublicKey
	}
	pub, err := crypto.DecompressPubkey(compressed)
	if err != nil {
		return "", ErrInvalidPublicKey
	}
	addr := crypto.PubkeyToAddress(*pub)
	return addr.Hex(), nil
}

// FromUncompressedXY derives an address directly from the 64-byte (x||y)
// coordinate pair, used by callers that already hold decompressed
// coordinates (e.g. an MPC library's raw save data).
func FromUncompressedXY(xy []byte) (string, error) {
	if len(xy) != 64 {
		return "", ErrInvalidPublicKey
	}
	hash := crypto.Keccak256(xy)
	return common.BytesToAddress(hash[12:]).Hex(), nil
}

// Compress returns the 33-byte compressed form of an uncompressed (x||y)
// public key, with the standard 0x02/0x03 parity prefix.
func Compress(xy []byte) ([]byte, error) {
	if len(xy) != 64 {
		return nil, ErrInvalidPublicKey
	}
	full := make([]byte, 65)
	full[0] = 0x04
	copy(full[1:], xy)
	pub, err := crypto.UnmarshalPubkey(full)
	if err != nil {
		return nil, ErrInvalidPublicKey
	}
	return crypto.CompressPubkey(pub), nil
}
