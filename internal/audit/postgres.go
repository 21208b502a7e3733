package audit

import (
	"context"
	"database/sql"
	"fmt"
	"math/big"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"
)

const createTableSQL = `
CREATE TABLE IF NOT EXISTS signing_requests (
	id                VARCHAR(64) PRIMARY KEY,
	signer_id         VARCHAR(128) NOT NULL,
	signer_address    VARCHAR(64) NOT NULL,
	to_address        VARCHAR(64) NOT NULL,
	value_wei         VARCHAR(96) NOT NULL,
	chain_id          BIGINT NOT NULL,
	function_selector VARCHAR(16) NOT NULL DEFAULT '',
	caller_ip         VARCHAR(64) NOT NULL DEFAULT '',
	status            VARCHAR(16) NOT NULL,
	violations        TEXT NOT NULL DEFAULT '',
	failure_kind      VARCHAR(64) NOT NULL DEFAULT '',
	tx_hash           VARCHAR(128) NOT NULL DEFAULT '',
	created_at        TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW(),
	updated_at        TIMESTAMP WITH TIME ZONE NOT NULL DEFAULT NOW()
);
CREATE INDEX IF NOT EXISTS signing_requests_signer_created_idx
	ON signing_requests (signer_id, created_at);
`

// PostgresStore is the Postgres-backed audit Store, adapted from the
// teacher's share-storage upsert-on-conflict pattern but keyed on
// request ID and never deleting rows.
type PostgresStore struct {
	db     *sql.DB
	logger *zap.Logger
}

// NewPostgresStore opens dsn and ensures the signing_requests table exists.
func NewPostgresStore(ctx context.Context, dsn string, logger *zap.Logger) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("audit: open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		return nil, fmt.Errorf("audit: ping database: %w", err)
	}

	if _, err := db.ExecContext(ctx, createTableSQL); err != nil {
		return nil, fmt.Errorf("audit: create table: %w", err)
	}

	return &PostgresStore{db: db, logger: logger}, nil
}

func (s *PostgresStore) Insert(ctx context.Context, r Record) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO signing_requests
			(id, signer_id, signer_address, to_address, value_wei, chain_id, function_selector, caller_ip, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $10)
	`, r.ID, r.SignerID, r.SignerAddress, r.ToAddress, r.ValueWei, r.ChainID, r.FunctionSelector, r.CallerIP, string(r.Status), r.CreatedAt)
	if err != nil {
		return fmt.Errorf("audit: insert record: %w", err)
	}
	return nil
}

func (s *PostgresStore) UpdateStatus(ctx context.Context, id string, status Status, violations []string, failureKind, txHash string) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE signing_requests
		SET status = $2, violations = $3, failure_kind = $4, tx_hash = $5, updated_at = NOW()
		WHERE id = $1
	`, id, string(status), strings.Join(violations, "; "), failureKind, txHash)
	if err != nil {
		return fmt.Errorf("audit: update status: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("audit: update status rows affected: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	var r Record
	var status, violations string
	err := s.db.QueryRowContext(ctx, `
		SELECT id, signer_id, signer_address, to_address, value_wei, chain_id, function_selector,
		       caller_ip, status, violations, failure_kind, tx_hash, created_at, updated_at
		FROM signing_requests WHERE id = $1
	`, id).Scan(&r.ID, &r.SignerID, &r.SignerAddress, &r.ToAddress, &r.ValueWei, &r.ChainID,
		&r.FunctionSelector, &r.CallerIP, &status, &violations, &r.FailureKind, &r.TxHash, &r.CreatedAt, &r.UpdatedAt)
	if err == sql.ErrNoRows {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("audit: get record: %w", err)
	}
	r.Status = Status(status)
	if violations != "" {
		r.Violations = strings.Split(violations, "; ")
	}
	return r, nil
}

func (s *PostgresStore) RollingSpend(ctx context.Context, signerID string, since time.Time) (string, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT value_wei FROM signing_requests
		WHERE signer_id = $1 AND status = 'completed' AND created_at >= $2
	`, signerID, since)
	if err != nil {
		return "0", fmt.Errorf("audit: rolling spend query: %w", err)
	}
	defer rows.Close()

	sum := new(big.Int)
	for rows.Next() {
		var weiStr string
		if err := rows.Scan(&weiStr); err != nil {
			return "0", fmt.Errorf("audit: rolling spend scan: %w", err)
		}
		wei, ok := new(big.Int).SetString(weiStr, 10)
		if !ok {
			s.logger.Warn("audit: unparsable stored wei value, skipping", zap.String("value", weiStr))
			continue
		}
		sum.Add(sum, wei)
	}
	return sum.String(), nil
}

func (s *PostgresStore) RequestCount(ctx context.Context, signerID string, since time.Time) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx, `
		SELECT COUNT(*) FROM signing_requests WHERE signer_id = $1 AND created_at >= $2
	`, signerID, since).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("audit: request count: %w", err)
	}
	return count, nil
}

func (s *PostgresStore) HealthCheck(ctx context.Context) bool {
	pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	return s.db.PingContext(pingCtx) == nil
}

// Close closes the underlying database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
