package kms

import (
	"context"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/thresh-vault/signer/internal/secret"
	"go.uber.org/zap"
	"golang.org/x/crypto/pbkdf2"
)

const (
	masterKeySize    = 32
	gcmNonceSize     = 12
	pbkdf2Iterations = 100000
	cacheTTL         = 5 * time.Minute
	janitorInterval  = 1 * time.Minute
)

// LocalProvider is a file-master KMS variant for development and
// single-node deployments: the master key is 32 raw bytes, loaded once from
// a hex-encoded file, sealed at rest in a memguard-backed secret.Enclave and
// only opened momentarily to wrap/unwrap a DEK with AES-256-GCM.
type LocalProvider struct {
	logger *zap.Logger

	mu        sync.RWMutex
	masterKey *secret.Enclave // nil after Destroy

	cacheMu     sync.Mutex
	cache       map[string]cachedDEK
	janitorStop chan struct{}
	janitorWG   sync.WaitGroup
}

type cachedDEK struct {
	plaintext []byte
	expiresAt time.Time
}

// NewLocalProviderFromFile loads a 32-byte hex-encoded master key from
// path, matching spec.md's "master key is 32 raw bytes loaded from a file
// as hex".
func NewLocalProviderFromFile(path string, logger *zap.Logger) (*LocalProvider, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("kms: read master key file: %w", err)
	}
	key, err := hex.DecodeString(strings.TrimSpace(string(raw)))
	if err != nil {
		return nil, fmt.Errorf("kms: master key file is not valid hex: %w", err)
	}
	if len(key) != masterKeySize {
		return nil, fmt.Errorf("kms: master key must be %d bytes, got %d", masterKeySize, len(key))
	}
	return newLocalProvider(key, logger), nil
}

// NewLocalProviderFromPassphrase derives a 32-byte master key from a
// passphrase and a random salt via PBKDF2-HMAC-SHA256, for deployments that
// prefer a human-memorable secret over a raw key file.
func NewLocalProviderFromPassphrase(passphrase string, salt []byte, logger *zap.Logger) *LocalProvider {
	key := pbkdf2.Key([]byte(passphrase), salt, pbkdf2Iterations, masterKeySize, sha256.New)
	return newLocalProvider(key, logger)
}

func newLocalProvider(masterKey []byte, logger *zap.Logger) *LocalProvider {
	p := &LocalProvider{
		logger:      logger,
		masterKey:   secret.Seal(masterKey),
		cache:       make(map[string]cachedDEK),
		janitorStop: make(chan struct{}),
	}
	wipe(masterKey)
	p.startJanitor()
	return p
}

// startJanitor evicts expired cache entries, zero-wiping plaintext on
// eviction, mirroring the local-KMS cache-with-janitor shape.
func (p *LocalProvider) startJanitor() {
	p.janitorWG.Add(1)
	go func() {
		defer p.janitorWG.Done()
		ticker := time.NewTicker(janitorInterval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				now := time.Now()
				p.cacheMu.Lock()
				for k, v := range p.cache {
					if now.After(v.expiresAt) {
						wipe(v.plaintext)
						delete(p.cache, k)
					}
				}
				p.cacheMu.Unlock()
			case <-p.janitorStop:
				return
			}
		}
	}()
}

func (p *LocalProvider) GenerateDEK(ctx context.Context) (DEK, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.masterKey == nil {
		return DEK{}, ErrDestroyed
	}

	plaintext := make([]byte, masterKeySize)
	if _, err := rand.Read(plaintext); err != nil {
		return DEK{}, fmt.Errorf("kms: generate dek: %w", err)
	}

	wrapped, err := p.wrap(plaintext)
	if err != nil {
		wipe(plaintext)
		return DEK{}, err
	}

	keyID := uuid.NewString()
	out := DEK{Plaintext: plaintext, Wrapped: wrapped, KeyID: keyID}
	p.cacheSet(keyID, plaintext)
	return out, nil
}

func (p *LocalProvider) UnwrapDEK(ctx context.Context, wrapped []byte, keyID string) ([]byte, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.masterKey == nil {
		return nil, ErrDestroyed
	}
	if cached, ok := p.cacheGet(keyID); ok {
		return cached, nil
	}
	plaintext, err := p.unwrap(wrapped)
	if err != nil {
		return nil, err
	}
	p.cacheSet(keyID, plaintext)
	out := make([]byte, len(plaintext))
	copy(out, plaintext)
	return out, nil
}

func (p *LocalProvider) wrap(plaintext []byte) ([]byte, error) {
	var out []byte
	err := p.masterKey.WithOpen(func(key []byte) error {
		block, err := aes.NewCipher(key)
		if err != nil {
			return fmt.Errorf("kms: new cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return fmt.Errorf("kms: new gcm: %w", err)
		}
		iv := make([]byte, gcmNonceSize)
		if _, err := rand.Read(iv); err != nil {
			return fmt.Errorf("kms: iv: %w", err)
		}
		sealed := gcm.Seal(nil, iv, plaintext, nil)
		out = append(iv, sealed...)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *LocalProvider) unwrap(wrapped []byte) ([]byte, error) {
	if len(wrapped) < gcmNonceSize {
		return nil, fmt.Errorf("kms: wrapped dek too short")
	}
	iv, ct := wrapped[:gcmNonceSize], wrapped[gcmNonceSize:]

	var out []byte
	err := p.masterKey.WithOpen(func(key []byte) error {
		block, err := aes.NewCipher(key)
		if err != nil {
			return fmt.Errorf("kms: new cipher: %w", err)
		}
		gcm, err := cipher.NewGCM(block)
		if err != nil {
			return fmt.Errorf("kms: new gcm: %w", err)
		}
		plaintext, err := gcm.Open(nil, iv, ct, nil)
		if err != nil {
			return fmt.Errorf("kms: unwrap: authentication failed: %w", err)
		}
		out = plaintext
		return nil
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func (p *LocalProvider) cacheSet(keyID string, plaintext []byte) {
	cp := make([]byte, len(plaintext))
	copy(cp, plaintext)
	p.cacheMu.Lock()
	p.cache[keyID] = cachedDEK{plaintext: cp, expiresAt: time.Now().Add(cacheTTL)}
	p.cacheMu.Unlock()
}

func (p *LocalProvider) cacheGet(keyID string) ([]byte, bool) {
	p.cacheMu.Lock()
	defer p.cacheMu.Unlock()
	entry, ok := p.cache[keyID]
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	out := make([]byte, len(entry.plaintext))
	copy(out, entry.plaintext)
	return out, true
}

func (p *LocalProvider) HealthCheck(ctx context.Context) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.masterKey != nil
}

// Destroy drops the reference to the sealed master-key enclave and
// zero-wipes all cached plaintext DEKs; the enclave's own memory is not
// wiped here. Subsequent operations fail with ErrDestroyed.
func (p *LocalProvider) Destroy() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.masterKey == nil {
		return nil // idempotent
	}
	close(p.janitorStop)
	p.janitorWG.Wait()

	p.cacheMu.Lock()
	for k, v := range p.cache {
		wipe(v.plaintext)
		delete(p.cache, k)
	}
	p.cacheMu.Unlock()

	p.masterKey = nil
	return nil
}

func wipe(b []byte) {
	for i := range b {
		b[i] = 0
	}
}
