// Package audit persists the terminal outcome of every signing request:
// one row per request ID, written once at request start and updated
// in place as the request moves through its lifecycle, per the Signing
// Request entity's linearizability requirement.
package audit

import (
	"context"
	"errors"
	"time"
)

// Status is a Signing Request's terminal or in-flight disposition.
type Status string

const (
	StatusPending   Status = "pending"
	StatusCompleted Status = "completed"
	StatusBlocked   Status = "blocked"
	StatusFailed    Status = "failed"
)

// ErrNotFound is returned when a record does not exist for the given ID.
var ErrNotFound = errors.New("audit: record not found")

// Record is one Signing Request's audit trail entry.
type Record struct {
	ID               string
	SignerID         string
	SignerAddress    string
	ToAddress        string
	ValueWei         string
	ChainID          uint64
	FunctionSelector string
	CallerIP         string
	Status           Status
	Violations       []string // rule-violation descriptions, set only when Status == blocked
	FailureKind      string   // short error kind, set only when Status == failed
	TxHash           string   // set only when Status == completed and a tx digest was signed
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// Store is the audit trail's persistence seam.
type Store interface {
	// Insert writes a new pending record. The caller assigns ID (a
	// uuid) before signing begins, so a record exists even if the
	// process crashes mid-request.
	Insert(ctx context.Context, r Record) error
	// UpdateStatus advances a record to a terminal (or pending) status.
	// This is the only mutation path: records are never deleted, and a
	// second UpdateStatus on an already-terminal record is an error
	// one layer up (the orchestrator itself enforces single-terminal-
	// transition by driving it directly from request handling).
	UpdateStatus(ctx context.Context, id string, status Status, violations []string, failureKind, txHash string) error
	// Get fetches one record by ID.
	Get(ctx context.Context, id string) (Record, error)
	// RollingSpend sums ValueWei for signerID's completed requests
	// since since, used by policyctx.AggregateReader to populate daily
	// and monthly rolling spend.
	RollingSpend(ctx context.Context, signerID string, since time.Time) (weiSum string, err error)
	// RequestCount counts requests (any status) for signerID since
	// since, used for rate-limit and request-count criteria.
	RequestCount(ctx context.Context, signerID string, since time.Time) (int, error)
	HealthCheck(ctx context.Context) bool
}
