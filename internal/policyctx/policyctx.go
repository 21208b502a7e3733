// Package policyctx assembles the per-request policy evaluation context.
// The rules engine's verdict never depends on a clock or any other ambient
// state — everything it needs arrives as a Context value built here.
package policyctx

import (
	"context"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/thresh-vault/signer/internal/rules"
)

// Aggregates is a read-only snapshot of rolling spend and request-rate
// state for one signer, as of the moment it was read.
type Aggregates struct {
	RollingDailySpendWei   string
	RollingMonthlySpendWei string
	RequestCountLastHour   int
	RequestCountToday      int
}

// AggregateReader is implemented by whatever persistence layer tracks
// rolling spend and request counts (typically backed by internal/audit).
// Modeling it as an interface lets tests substitute deterministic values
// instead of exercising real storage.
type AggregateReader interface {
	ReadAggregates(ctx context.Context, signerID string) (Aggregates, error)
}

// RequestInput is the raw per-request data the assembler turns into a
// rules.Context.
type RequestInput struct {
	SignerID      string
	SignerAddress string
	ToAddress     string // empty for contract deployment
	ValueWei      string
	Data          []byte // calldata, used to extract the function selector
	ChainID       string
	CallerIP      string
}

// Assembler builds a rules.Context for one request.
type Assembler struct {
	aggregates AggregateReader
	now        func() time.Time
}

// NewAssembler constructs an Assembler backed by the given aggregate
// reader. now defaults to time.Now; tests may override it via WithClock.
func NewAssembler(aggregates AggregateReader) *Assembler {
	return &Assembler{aggregates: aggregates, now: time.Now}
}

// WithClock overrides the assembler's time source, for deterministic
// tests.
func (a *Assembler) WithClock(now func() time.Time) *Assembler {
	a.now = now
	return a
}

// Assemble reads rolling aggregates for the signer and combines them with
// the request input and the current UTC hour into a rules.Context.
func (a *Assembler) Assemble(ctx context.Context, in RequestInput) (rules.Context, error) {
	agg, err := a.aggregates.ReadAggregates(ctx, in.SignerID)
	if err != nil {
		return rules.Context{}, fmt.Errorf("policyctx: read aggregates: %w", err)
	}

	now := a.now().UTC()

	return rules.Context{
		SignerAddress:          in.SignerAddress,
		ToAddress:              in.ToAddress,
		ValueWei:               in.ValueWei,
		FunctionSelector:       extractSelector(in.Data),
		ChainID:                in.ChainID,
		RollingDailySpendWei:   agg.RollingDailySpendWei,
		RollingMonthlySpendWei: agg.RollingMonthlySpendWei,
		RequestCountLastHour:   agg.RequestCountLastHour,
		RequestCountToday:      agg.RequestCountToday,
		CurrentHourUTC:         now.Hour(),
		CallerIP:               in.CallerIP,
		Timestamp:              now,
	}, nil
}

// extractSelector returns the 4-byte hex function selector when data
// carries at least 4 bytes, or "" for a plain-transfer/no-calldata
// request.
func extractSelector(data []byte) string {
	if len(data) < 4 {
		return ""
	}
	return "0x" + hex.EncodeToString(data[:4])
}
