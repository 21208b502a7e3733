// Package envelope implements the KMS-mediated, path-bound at-rest
// encryption layer for MPC shares.
package envelope

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"errors"
	"fmt"
	"time"

	"github.com/thresh-vault/signer/internal/kms"
	"go.uber.org/zap"
)

const (
	nonceSize      = 12
	currentVersion = 1
	algorithmName  = "aes-256-gcm"
)

// ErrNotFound is returned by Fetch when no record exists at path. Delete
// of a missing path succeeds.
var ErrNotFound = errors.New("envelope: not found")

// ErrAuthFailed is returned when AES-GCM authentication fails — either the
// ciphertext was tampered or the envelope was moved to another path than
// the one it was stored under.
var ErrAuthFailed = errors.New("envelope: authentication failed")

// Record is the persisted envelope layout, one row per storage path.
type Record struct {
	Version    int
	KeyID      string
	WrappedDEK []byte
	IV         []byte
	Ciphertext []byte
	AuthTag    []byte
	Algorithm  string
	AADPath    string
}

// backend is the minimal persistence contract a concrete store must
// satisfy; Store implements the shared crypto logic on top of it.
type backend interface {
	put(ctx context.Context, path string, rec Record) error
	get(ctx context.Context, path string) (Record, error)
	del(ctx context.Context, path string) error
	ping(ctx context.Context) bool
}

// Store is the envelope share store: store/fetch/delete/health_check,
// AAD bound to the storage path.
type Store struct {
	kms     kms.Provider
	backend backend
	logger  *zap.Logger
}

func newStore(provider kms.Provider, b backend, logger *zap.Logger) *Store {
	return &Store{kms: provider, backend: b, logger: logger}
}

// Store encrypts shareBytes under a freshly generated DEK and persists the
// envelope keyed by path, with AAD bound to path.
func (s *Store) Store(ctx context.Context, path string, shareBytes []byte) error {
	dek, err := s.kms.GenerateDEK(ctx)
	if err != nil {
		return fmt.Errorf("envelope: generate dek: %w", err)
	}
	defer wipe(dek.Plaintext)

	iv := make([]byte, nonceSize)
	if _, err := rand.Read(iv); err != nil {
		return fmt.Errorf("envelope: iv: %w", err)
	}

	block, err := aes.NewCipher(dek.Plaintext)
	if err != nil {
		return fmt.Errorf("envelope: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return fmt.Errorf("envelope: gcm: %w", err)
	}

	sealed := gcm.Seal(nil, iv, shareBytes, []byte(path))
	ciphertext, authTag := splitSealed(sealed, gcm.Overhead())

	rec := Record{
		Version:    currentVersion,
		KeyID:      dek.KeyID,
		WrappedDEK: dek.Wrapped,
		IV:         iv,
		Ciphertext: ciphertext,
		AuthTag:    authTag,
		Algorithm:  algorithmName,
		AADPath:    path,
	}
	return withRetry(ctx, func() error { return s.backend.put(ctx, path, rec) })
}

// Fetch decrypts the record stored at path, using path as AAD. It fails
// closed if the row is missing, the DEK cannot be unwrapped, or
// authentication fails (including when the envelope was moved from
// another path).
func (s *Store) Fetch(ctx context.Context, path string) ([]byte, error) {
	var rec Record
	err := withRetry(ctx, func() error {
		var gerr error
		rec, gerr = s.backend.get(ctx, path)
		return gerr
	})
	if err != nil {
		return nil, err
	}

	dekPlain, err := s.kms.UnwrapDEK(ctx, rec.WrappedDEK, rec.KeyID)
	if err != nil {
		return nil, fmt.Errorf("envelope: unwrap dek: %w", err)
	}
	defer wipe(dekPlain)

	block, err := aes.NewCipher(dekPlain)
	if err != nil {
		return nil, fmt.Errorf("envelope: cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("envelope: gcm: %w", err)
	}

	sealed := append(append([]byte{}, rec.Ciphertext...), rec.AuthTag...)
	// AAD is re-derived from the query path, never read from the
	// envelope — this is what makes path-binding enforceable.
	plaintext, err := gcm.Open(nil, rec.IV, sealed, []byte(path))
	if err != nil {
		return nil, ErrAuthFailed
	}
	return plaintext, nil
}

// Delete removes the record at path.
func (s *Store) Delete(ctx context.Context, path string) error {
	return withRetry(ctx, func() error { return s.backend.del(ctx, path) })
}

// HealthCheck reports whether both the KMS provider and the backing store
// are reachable.
func (s *Store) HealthCheck(ctx context.Context) bool {
	return s.kms.HealthCheck(ctx) && s.backend.ping(ctx)
}

func splitSealed(sealed []byte, tagLen int) (ciphertext, tag []byte) {
	n := len(sealed) - tagLen
	return sealed[:n], sealed[n:]
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}

// withRetry retries fn at most once, with a 100ms back-off. ErrNotFound
// and ErrAuthFailed are returned without a retry; any other error is
// treated as transient, since the backends here only surface
// connection-level failures as errors.
func withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || errors.Is(err, ErrNotFound) || errors.Is(err, ErrAuthFailed) {
		return err
	}
	select {
	case <-time.After(100 * time.Millisecond):
	case <-ctx.Done():
		return ctx.Err()
	}
	return fn()
}
