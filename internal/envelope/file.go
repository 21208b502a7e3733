package envelope

import (
	"context"
	"encoding/json"
	"net/url"
	"os"
	"path/filepath"
	"sync"

	"github.com/thresh-vault/signer/internal/kms"
	"go.uber.org/zap"
)

// NewFileStore creates a dev/test envelope store that persists one JSON
// file per path under dir, mirroring the teacher's FileStorage shape.
func NewFileStore(dir string, provider kms.Provider, logger *zap.Logger) (*Store, error) {
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, err
	}
	return newStore(provider, &fileBackend{dir: dir}, logger), nil
}

type fileBackend struct {
	mu  sync.Mutex
	dir string
}

type fileRecord struct {
	Version    int    `json:"version"`
	KeyID      string `json:"keyId"`
	WrappedDEK []byte `json:"wrappedDek"`
	IV         []byte `json:"iv"`
	Ciphertext []byte `json:"ciphertext"`
	AuthTag    []byte `json:"authTag"`
	Algorithm  string `json:"algorithm"`
}

func (b *fileBackend) pathFor(path string) string {
	return filepath.Join(b.dir, url.PathEscape(path)+".json")
}

func (b *fileBackend) put(ctx context.Context, path string, rec Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	fr := fileRecord{
		Version: rec.Version, KeyID: rec.KeyID, WrappedDEK: rec.WrappedDEK,
		IV: rec.IV, Ciphertext: rec.Ciphertext, AuthTag: rec.AuthTag, Algorithm: rec.Algorithm,
	}
	data, err := json.Marshal(fr)
	if err != nil {
		return err
	}
	return os.WriteFile(b.pathFor(path), data, 0o600)
}

func (b *fileBackend) get(ctx context.Context, path string) (Record, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	data, err := os.ReadFile(b.pathFor(path))
	if os.IsNotExist(err) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, err
	}
	var fr fileRecord
	if err := json.Unmarshal(data, &fr); err != nil {
		return Record{}, err
	}
	return Record{
		Version: fr.Version, KeyID: fr.KeyID, WrappedDEK: fr.WrappedDEK,
		IV: fr.IV, Ciphertext: fr.Ciphertext, AuthTag: fr.AuthTag,
		Algorithm: fr.Algorithm, AADPath: path,
	}, nil
}

func (b *fileBackend) del(ctx context.Context, path string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	err := os.Remove(b.pathFor(path))
	if os.IsNotExist(err) {
		return nil
	}
	return err
}

func (b *fileBackend) ping(ctx context.Context) bool {
	info, err := os.Stat(b.dir)
	return err == nil && info.IsDir()
}
