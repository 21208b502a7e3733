// Package kms abstracts generation and unwrapping of data-encryption keys
// (DEKs) behind a master key the caller never sees directly.
package kms

import (
	"context"
	"errors"
)

// ErrUnknownKeyID is returned by UnwrapDEK when key_id does not correspond
// to any key this provider knows how to unwrap.
var ErrUnknownKeyID = errors.New("kms: unknown key id")

// ErrDestroyed is returned by any operation performed after Destroy.
var ErrDestroyed = errors.New("kms: provider destroyed")

// DEK is a freshly generated data-encryption key: the caller receives both
// the plaintext key (which it must wipe after use) and its wrapped form
// (opaque ciphertext, safe to persist).
type DEK struct {
	Plaintext []byte // 32 bytes; caller must zero-wipe after use
	Wrapped   []byte // opaque, safe to persist
	KeyID     string
}

// Provider produces and unwraps data-encryption keys under a master key it
// exclusively owns.
type Provider interface {
	// GenerateDEK produces a fresh 32-byte DEK via a CSPRNG and wraps it
	// under the master key.
	GenerateDEK(ctx context.Context) (DEK, error)

	// UnwrapDEK recovers the plaintext DEK from its wrapped form. It MUST
	// fail if the wrap is tampered or key_id is unknown.
	UnwrapDEK(ctx context.Context, wrapped []byte, keyID string) ([]byte, error)

	// HealthCheck reports whether the master key is currently available.
	HealthCheck(ctx context.Context) bool

	// Destroy zero-wipes master key material. Subsequent calls to any
	// method MUST fail with ErrDestroyed.
	Destroy() error
}
