package envelope

import (
	"context"
	"database/sql"
	"fmt"

	_ "github.com/lib/pq"
	"github.com/thresh-vault/signer/internal/kms"
	"go.uber.org/zap"
)

// NewPostgresStore opens a Postgres-backed envelope store, creating the
// backing table if it does not already exist, adapted from the teacher's
// mpc_bank_shares table pattern.
func NewPostgresStore(ctx context.Context, dsn string, provider kms.Provider, logger *zap.Logger) (*Store, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("envelope: open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("envelope: ping postgres: %w", err)
	}
	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("envelope: create table: %w", err)
	}
	return newStore(provider, &postgresBackend{db: db, logger: logger}, logger), nil
}

const createTableSQL = `
CREATE TABLE IF NOT EXISTS share_envelopes (
	path        TEXT PRIMARY KEY,
	version     INT NOT NULL,
	key_id      TEXT NOT NULL,
	wrapped_dek BYTEA NOT NULL,
	iv          BYTEA NOT NULL,
	ciphertext  BYTEA NOT NULL,
	auth_tag    BYTEA NOT NULL,
	algorithm   TEXT NOT NULL,
	created_at  TIMESTAMPTZ NOT NULL DEFAULT now()
)`

type postgresBackend struct {
	db     *sql.DB
	logger *zap.Logger
}

func (b *postgresBackend) put(ctx context.Context, path string, rec Record) error {
	_, err := b.db.ExecContext(ctx, `
		INSERT INTO share_envelopes (path, version, key_id, wrapped_dek, iv, ciphertext, auth_tag, algorithm)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (path) DO UPDATE SET
			version = EXCLUDED.version,
			key_id = EXCLUDED.key_id,
			wrapped_dek = EXCLUDED.wrapped_dek,
			iv = EXCLUDED.iv,
			ciphertext = EXCLUDED.ciphertext,
			auth_tag = EXCLUDED.auth_tag,
			algorithm = EXCLUDED.algorithm,
			created_at = now()
	`, path, rec.Version, rec.KeyID, rec.WrappedDEK, rec.IV, rec.Ciphertext, rec.AuthTag, rec.Algorithm)
	if err != nil {
		return fmt.Errorf("envelope: insert: %w", err)
	}
	return nil
}

func (b *postgresBackend) get(ctx context.Context, path string) (Record, error) {
	var rec Record
	err := b.db.QueryRowContext(ctx, `
		SELECT version, key_id, wrapped_dek, iv, ciphertext, auth_tag, algorithm
		FROM share_envelopes WHERE path = $1
	`, path).Scan(&rec.Version, &rec.KeyID, &rec.WrappedDEK, &rec.IV, &rec.Ciphertext, &rec.AuthTag, &rec.Algorithm)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("envelope: select: %w", err)
	}
	rec.AADPath = path
	return rec, nil
}

func (b *postgresBackend) del(ctx context.Context, path string) error {
	_, err := b.db.ExecContext(ctx, `DELETE FROM share_envelopes WHERE path = $1`, path)
	if err != nil {
		return fmt.Errorf("envelope: delete: %w", err)
	}
	return nil
}

func (b *postgresBackend) ping(ctx context.Context) bool {
	return b.db.PingContext(ctx) == nil
}

// Close releases the underlying database connection pool.
func (b *postgresBackend) Close() error {
	return b.db.Close()
}
