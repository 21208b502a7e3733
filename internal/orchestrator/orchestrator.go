// Package orchestrator ties the rules engine, policy context assembler,
// envelope store, and signing coordinator together into the single
// per-request flow a signer-facing caller drives: authenticate, resolve
// the signer, assemble the policy snapshot, evaluate rules, and on
// accept run a signing session, recording the outcome at every exit.
package orchestrator

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/thresh-vault/signer/internal/audit"
	"github.com/thresh-vault/signer/internal/envelope"
	"github.com/thresh-vault/signer/internal/policyctx"
	"github.com/thresh-vault/signer/internal/rules"
	"github.com/thresh-vault/signer/internal/secret"
	"github.com/thresh-vault/signer/internal/signing"
	"go.uber.org/zap"
)

// Errors surfaced directly by RequestSigning, independent of whatever
// audit.Record.FailureKind gets recorded.
var (
	ErrUnauthorized  = errors.New("orchestrator: credential verification failed")
	ErrUnknownSigner = errors.New("orchestrator: unknown signer")
	ErrRejected      = errors.New("orchestrator: rejected by policy rules")
)

// SignerRecord is the orchestrator's view of a provisioned signer: the
// DKG result plus the policy document bound to it.
type SignerRecord struct {
	SignerID         string
	EthereumAddress  string
	PublicKey        []byte // 33-byte compressed
	SharePath        string // envelope storage path for this signer's share
	Threshold        int
	TotalParties     int
	PartyIndex       int
	PolicyDocumentID string
	CreatedAt        time.Time
	LastUsedAt       time.Time
}

// SignerStore resolves a signer ID to its provisioned record and tracks
// last-used time.
type SignerStore interface {
	Get(ctx context.Context, signerID string) (SignerRecord, error)
	UpdateLastUsed(ctx context.Context, signerID string) error
}

// PolicyDocumentStore resolves a policy document by ID.
type PolicyDocumentStore interface {
	Get(ctx context.Context, documentID string) (rules.Document, error)
}

// CredentialVerifier is the external auth collaborator's seam: core
// logic here only depends on this interface, never on a concrete
// SIWE/passkey/API-key implementation.
type CredentialVerifier interface {
	Verify(ctx context.Context, signerID, credential string) error
}

// SignRequest is one caller-submitted signing request.
type SignRequest struct {
	SignerID   string
	Credential string
	CallerIP   string
	Tx         signing.TxRequest
}

// SignResult is the terminal, successful outcome of RequestSigning.
type SignResult struct {
	RequestID string
	Signature *signing.Signature
	RawTxHex  string
	TxHash    string
}

// Orchestrator is the per-request control flow.
type Orchestrator struct {
	signers    SignerStore
	policies   PolicyDocumentStore
	creds      CredentialVerifier
	rulesEng   *rules.Engine
	assembler  *policyctx.Assembler
	shares     *envelope.Store
	signingCo  *signing.Coordinator
	auditStore audit.Store
	logger     *zap.Logger
}

// New builds an Orchestrator from its collaborators.
func New(
	signers SignerStore,
	policies PolicyDocumentStore,
	creds CredentialVerifier,
	rulesEng *rules.Engine,
	assembler *policyctx.Assembler,
	shares *envelope.Store,
	signingCo *signing.Coordinator,
	auditStore audit.Store,
	logger *zap.Logger,
) *Orchestrator {
	return &Orchestrator{
		signers:    signers,
		policies:   policies,
		creds:      creds,
		rulesEng:   rulesEng,
		assembler:  assembler,
		shares:     shares,
		signingCo:  signingCo,
		auditStore: auditStore,
		logger:     logger,
	}
}

// RequestSigning drives one request end to end: authenticate, resolve
// signer, assemble policy context, evaluate rules, sign on accept.
func (o *Orchestrator) RequestSigning(ctx context.Context, req SignRequest) (*SignResult, error) {
	requestID := uuid.NewString()

	signerRecord, err := o.signers.Get(ctx, req.SignerID)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrUnknownSigner, req.SignerID)
	}

	toAddress := ""
	if req.Tx.To != nil {
		toAddress = req.Tx.To.Hex()
	}
	valueWei := "0"
	if req.Tx.Value != nil {
		valueWei = req.Tx.Value.String()
	}

	record := audit.Record{
		ID:            requestID,
		SignerID:      req.SignerID,
		SignerAddress: signerRecord.EthereumAddress,
		ToAddress:     toAddress,
		ValueWei:      valueWei,
		ChainID:       chainIDUint64(req.Tx.ChainID),
		CallerIP:      req.CallerIP,
		Status:        audit.StatusPending,
		CreatedAt:     time.Now(),
	}
	if req.Tx.Data != nil {
		if sel := functionSelector(req.Tx.Data); sel != "" {
			record.FunctionSelector = sel
		}
	}
	if err := o.auditStore.Insert(ctx, record); err != nil {
		return nil, fmt.Errorf("orchestrator: record request: %w", err)
	}

	result, failureKind, blockErr := o.runRequest(ctx, requestID, req, signerRecord)
	switch {
	case blockErr != nil:
		var rejected *rejectedError
		if errors.As(blockErr, &rejected) {
			_ = o.auditStore.UpdateStatus(ctx, requestID, audit.StatusBlocked, rejected.violations, "", "")
			return nil, fmt.Errorf("%w: %s", ErrRejected, rejected.Error())
		}
		_ = o.auditStore.UpdateStatus(ctx, requestID, audit.StatusFailed, nil, failureKind, "")
		return nil, blockErr
	default:
		_ = o.auditStore.UpdateStatus(ctx, requestID, audit.StatusCompleted, nil, "", result.TxHash)
		_ = o.signers.UpdateLastUsed(ctx, req.SignerID)
		return result, nil
	}
}

type rejectedError struct {
	violations []string
}

func (e *rejectedError) Error() string {
	if len(e.violations) == 0 {
		return "default deny"
	}
	return e.violations[0]
}

func (o *Orchestrator) runRequest(ctx context.Context, requestID string, req SignRequest, signerRecord SignerRecord) (*SignResult, string, error) {
	if err := o.creds.Verify(ctx, req.SignerID, req.Credential); err != nil {
		return nil, "unauthorized", fmt.Errorf("%w: %v", ErrUnauthorized, err)
	}

	doc, err := o.policies.Get(ctx, signerRecord.PolicyDocumentID)
	if err != nil {
		return nil, "policy_lookup_failed", fmt.Errorf("orchestrator: load policy document: %w", err)
	}

	valueWei := "0"
	if req.Tx.Value != nil {
		valueWei = req.Tx.Value.String()
	}

	policyInput := policyctx.RequestInput{
		SignerID:      req.SignerID,
		SignerAddress: signerRecord.EthereumAddress,
		ValueWei:      valueWei,
		Data:          req.Tx.Data,
		CallerIP:      req.CallerIP,
	}
	if req.Tx.To != nil {
		policyInput.ToAddress = req.Tx.To.Hex()
	}
	if req.Tx.ChainID != nil {
		policyInput.ChainID = req.Tx.ChainID.String()
	}

	policyCtx, err := o.assembler.Assemble(ctx, policyInput)
	if err != nil {
		return nil, "policy_context_failed", fmt.Errorf("orchestrator: assemble policy context: %w", err)
	}

	verdict := o.rulesEng.Evaluate(&doc, policyCtx)
	if !verdict.Allowed {
		descriptions := make([]string, 0, len(verdict.Violations))
		for _, v := range verdict.Violations {
			descriptions = append(descriptions, v.Description)
		}
		return nil, "", &rejectedError{violations: descriptions}
	}

	sig, rawTxHex, txHash, err := o.sign(ctx, signerRecord, req.Tx)
	if err != nil {
		return nil, "signing_failed", err
	}

	_ = requestID
	return &SignResult{RequestID: requestID, Signature: sig, RawTxHex: rawTxHex, TxHash: txHash}, "", nil
}

// sign fetches the signer's share, runs the signing session to
// completion, and wipes the share from memory on every exit path.
func (o *Orchestrator) sign(ctx context.Context, signerRecord SignerRecord, txReq signing.TxRequest) (*signing.Signature, string, string, error) {
	shareBytes, err := o.shares.Fetch(ctx, signerRecord.SharePath)
	if err != nil {
		return nil, "", "", fmt.Errorf("orchestrator: fetch share: %w", err)
	}
	share := secret.New(shareBytes)
	defer share.Wipe()
	for i := range shareBytes {
		shareBytes[i] = 0
	}

	digest, tx, signer := signing.TxDigest(txReq)

	var sig *signing.Signature
	err = secret.WithOpen(share.Bytes(), func(raw []byte) error {
		session, _, initErr := o.signingCo.Init(signerRecord.SignerID, signerRecord.PartyIndex, signerRecord.Threshold, signerRecord.TotalParties, raw, signerRecord.PublicKey, digest[:])
		if initErr != nil {
			return initErr
		}
		for round := 2; ; round++ {
			_, result, finished, roundErr := o.signingCo.Round(session.SessionID, round, nil)
			if roundErr != nil {
				return roundErr
			}
			if finished {
				sig = result
				return nil
			}
		}
	})
	if err != nil {
		return nil, "", "", fmt.Errorf("orchestrator: signing session: %w", err)
	}

	signedTx, err := signing.ApplySignature(tx, signer, sig)
	if err != nil {
		return nil, "", "", fmt.Errorf("orchestrator: apply signature: %w", err)
	}

	rawTx, err := signedTx.MarshalBinary()
	if err != nil {
		return nil, "", "", fmt.Errorf("orchestrator: encode signed tx: %w", err)
	}
	return sig, "0x" + hex.EncodeToString(rawTx), signedTx.Hash().Hex(), nil
}

func chainIDUint64(chainID *big.Int) uint64 {
	if chainID == nil {
		return 0
	}
	return chainID.Uint64()
}

func functionSelector(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return "0x" + hex.EncodeToString(data[:4])
}
