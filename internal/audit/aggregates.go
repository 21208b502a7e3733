package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/thresh-vault/signer/internal/policyctx"
)

// AggregateReader adapts a Store into policyctx.AggregateReader, computing
// rolling daily/monthly spend and hourly/daily request counts from the
// audit trail.
type AggregateReader struct {
	store Store
}

// NewAggregateReader wraps store as a policyctx.AggregateReader.
func NewAggregateReader(store Store) *AggregateReader {
	return &AggregateReader{store: store}
}

func (a *AggregateReader) ReadAggregates(ctx context.Context, signerID string) (policyctx.Aggregates, error) {
	now := time.Now().UTC()

	dailySpend, err := a.store.RollingSpend(ctx, signerID, now.Add(-24*time.Hour))
	if err != nil {
		return policyctx.Aggregates{}, fmt.Errorf("audit: read daily spend: %w", err)
	}
	monthlySpend, err := a.store.RollingSpend(ctx, signerID, now.Add(-30*24*time.Hour))
	if err != nil {
		return policyctx.Aggregates{}, fmt.Errorf("audit: read monthly spend: %w", err)
	}
	lastHour, err := a.store.RequestCount(ctx, signerID, now.Add(-1*time.Hour))
	if err != nil {
		return policyctx.Aggregates{}, fmt.Errorf("audit: read hourly request count: %w", err)
	}
	today, err := a.store.RequestCount(ctx, signerID, time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC))
	if err != nil {
		return policyctx.Aggregates{}, fmt.Errorf("audit: read daily request count: %w", err)
	}

	return policyctx.Aggregates{
		RollingDailySpendWei:   dailySpend,
		RollingMonthlySpendWei: monthlySpend,
		RequestCountLastHour:  lastHour,
		RequestCountToday:      today,
	}, nil
}
