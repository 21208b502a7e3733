package policyctx

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type stubReader struct {
	agg Aggregates
	err error
}

func (s stubReader) ReadAggregates(ctx context.Context, signerID string) (Aggregates, error) {
	return s.agg, s.err
}

func TestAssembleDerivesHourAndSelector(t *testing.T) {
	reader := stubReader{agg: Aggregates{
		RollingDailySpendWei:   "100",
		RollingMonthlySpendWei: "200",
		RequestCountLastHour:   3,
		RequestCountToday:      9,
	}}
	assembler := NewAssembler(reader).WithClock(func() time.Time {
		return time.Date(2026, 7, 30, 14, 5, 0, 0, time.UTC)
	})

	ctx, err := assembler.Assemble(context.Background(), RequestInput{
		SignerID:      "signer-1",
		SignerAddress: "0xabc",
		ToAddress:     "0xdef",
		ValueWei:      "42",
		Data:          []byte{0xa9, 0x05, 0x9c, 0xbb, 0x01},
		ChainID:       "1",
		CallerIP:      "127.0.0.1",
	})
	require.NoError(t, err)
	require.Equal(t, 14, ctx.CurrentHourUTC)
	require.Equal(t, "0xa9059cbb", ctx.FunctionSelector)
	require.Equal(t, "100", ctx.RollingDailySpendWei)
	require.Equal(t, 3, ctx.RequestCountLastHour)
}

func TestAssemblePlainTransferHasNoSelector(t *testing.T) {
	reader := stubReader{}
	assembler := NewAssembler(reader)
	ctx, err := assembler.Assemble(context.Background(), RequestInput{SignerID: "s", Data: nil})
	require.NoError(t, err)
	require.Equal(t, "", ctx.FunctionSelector)
}
