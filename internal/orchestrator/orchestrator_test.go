//go:build !tss
// +build !tss

package orchestrator

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"math/big"
	"os"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	gethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/require"
	"github.com/thresh-vault/signer/internal/audit"
	"github.com/thresh-vault/signer/internal/envelope"
	"github.com/thresh-vault/signer/internal/kms"
	"github.com/thresh-vault/signer/internal/policyctx"
	"github.com/thresh-vault/signer/internal/rules"
	"github.com/thresh-vault/signer/internal/signing"
	"go.uber.org/zap"
)

type stubSignerStore struct {
	record SignerRecord
}

func (s *stubSignerStore) Get(ctx context.Context, signerID string) (SignerRecord, error) {
	if signerID != s.record.SignerID {
		return SignerRecord{}, errNoSuchSigner
	}
	return s.record, nil
}

var errNoSuchSigner = errors.New("stub: no such signer")

func (s *stubSignerStore) UpdateLastUsed(ctx context.Context, signerID string) error { return nil }

type stubPolicyStore struct {
	doc rules.Document
}

func (s *stubPolicyStore) Get(ctx context.Context, documentID string) (rules.Document, error) {
	return s.doc, nil
}

type stubCredentialVerifier struct {
	expected string
}

func (s *stubCredentialVerifier) Verify(ctx context.Context, signerID, credential string) error {
	if credential != s.expected {
		return ErrUnauthorized
	}
	return nil
}

func acceptAllDocument() rules.Document {
	return rules.Document{
		ID: "doc-1",
		Rules: []rules.Rule{
			{
				Action:      rules.ActionAccept,
				Description: "accept everything",
				Enabled:     rules.Enable(true),
				Criteria:    []rules.Criterion{{Type: "evmNetwork", Config: map[string]any{"operator": "in", "chainIds": []string{"1"}}}},
			},
		},
	}
}

func rejectToAddressDocument(blocked string) rules.Document {
	return rules.Document{
		ID: "doc-2",
		Rules: []rules.Rule{
			{
				Action:      rules.ActionReject,
				Description: "blocked destination",
				Enabled:     rules.Enable(true),
				Criteria:    []rules.Criterion{{Type: "evmAddress", Config: map[string]any{"operator": "in", "addresses": []string{blocked}}}},
			},
		},
	}
}

func newTestEnvironment(t *testing.T, doc rules.Document) (*Orchestrator, SignerRecord, *audit.InMemoryStore) {
	t.Helper()

	priv, err := gethcrypto.GenerateKey()
	require.NoError(t, err)
	compressed := gethcrypto.CompressPubkey(&priv.PublicKey)
	address := gethcrypto.PubkeyToAddress(priv.PublicKey).Hex()

	dBytes := make([]byte, 32)
	priv.D.FillBytes(dBytes)
	shareJSON, err := json.Marshal(map[string]string{"private_key_d_hex": hex.EncodeToString(dBytes)})
	require.NoError(t, err)

	dir := t.TempDir()
	keyFile := dir + "/master.hex"
	masterKey := make([]byte, 32)
	_, err = rand.Read(masterKey)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(keyFile, []byte(hex.EncodeToString(masterKey)), 0600))

	provider, err := kms.NewLocalProviderFromFile(keyFile, zap.NewNop())
	require.NoError(t, err)

	shareStore, err := envelope.NewFileStore(dir+"/shares", provider, zap.NewNop())
	require.NoError(t, err)

	sharePath := "signer-1/share"
	require.NoError(t, shareStore.Store(context.Background(), sharePath, shareJSON))

	signerRecord := SignerRecord{
		SignerID:         "signer-1",
		EthereumAddress:  address,
		PublicKey:        compressed,
		SharePath:        sharePath,
		Threshold:        1,
		TotalParties:     2,
		PartyIndex:       0,
		PolicyDocumentID: doc.ID,
	}

	auditStore := audit.NewInMemoryStore()
	assembler := policyctx.NewAssembler(audit.NewAggregateReader(auditStore))
	signingCo := signing.NewCoordinator(signing.NewSimScheme(zap.NewNop()), zap.NewNop())
	t.Cleanup(signingCo.Close)

	o := New(
		&stubSignerStore{record: signerRecord},
		&stubPolicyStore{doc: doc},
		&stubCredentialVerifier{expected: "correct-credential"},
		rules.NewEngine(),
		assembler,
		shareStore,
		signingCo,
		auditStore,
		zap.NewNop(),
	)

	return o, signerRecord, auditStore
}

func sampleTx(to common.Address) signing.TxRequest {
	return signing.TxRequest{
		ChainID:   big.NewInt(1),
		Nonce:     0,
		To:        &to,
		Value:     big.NewInt(1000),
		Gas:       21000,
		GasFeeCap: big.NewInt(1_000_000_000),
		GasTipCap: big.NewInt(1_000_000_000),
	}
}

func TestRequestSigningAcceptedRecordsCompleted(t *testing.T) {
	o, _, auditStore := newTestEnvironment(t, acceptAllDocument())
	ctx := context.Background()

	result, err := o.RequestSigning(ctx, SignRequest{
		SignerID:   "signer-1",
		Credential: "correct-credential",
		CallerIP:   "127.0.0.1",
		Tx:         sampleTx(common.HexToAddress("0x00000000000000000000000000000000000001")),
	})
	require.NoError(t, err)
	require.NotNil(t, result.Signature)
	require.NotEmpty(t, result.TxHash)

	record, err := auditStore.Get(ctx, result.RequestID)
	require.NoError(t, err)
	require.Equal(t, audit.StatusCompleted, record.Status)
}

func TestRequestSigningRejectedRecordsBlocked(t *testing.T) {
	blocked := common.HexToAddress("0x00000000000000000000000000000000000002")
	o, _, auditStore := newTestEnvironment(t, rejectToAddressDocument(blocked.Hex()))
	ctx := context.Background()

	_, err := o.RequestSigning(ctx, SignRequest{
		SignerID:   "signer-1",
		Credential: "correct-credential",
		CallerIP:   "127.0.0.1",
		Tx:         sampleTx(blocked),
	})
	require.ErrorIs(t, err, ErrRejected)

	var record audit.Record
	found := false
	for _, id := range auditStore.AllIDs() {
		r, err := auditStore.Get(ctx, id)
		require.NoError(t, err)
		if r.ToAddress == blocked.Hex() {
			record = r
			found = true
		}
	}
	require.True(t, found)
	require.Equal(t, audit.StatusBlocked, record.Status)
	require.NotEmpty(t, record.Violations)
}

func TestRequestSigningBadCredentialRecordsFailed(t *testing.T) {
	o, _, auditStore := newTestEnvironment(t, acceptAllDocument())
	ctx := context.Background()

	_, err := o.RequestSigning(ctx, SignRequest{
		SignerID:   "signer-1",
		Credential: "wrong-credential",
		CallerIP:   "127.0.0.1",
		Tx:         sampleTx(common.HexToAddress("0x00000000000000000000000000000000000001")),
	})
	require.ErrorIs(t, err, ErrUnauthorized)

	ids := auditStore.AllIDs()
	require.Len(t, ids, 1)
	record, err := auditStore.Get(ctx, ids[0])
	require.NoError(t, err)
	require.Equal(t, audit.StatusFailed, record.Status)
}

func TestUnknownSignerFails(t *testing.T) {
	o, _, _ := newTestEnvironment(t, acceptAllDocument())
	ctx := context.Background()

	_, err := o.RequestSigning(ctx, SignRequest{
		SignerID:   "does-not-exist",
		Credential: "correct-credential",
		Tx:         sampleTx(common.HexToAddress("0x00000000000000000000000000000000000001")),
	})
	require.ErrorIs(t, err, ErrUnknownSigner)
}
