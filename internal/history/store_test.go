package history

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "history.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func sampleResult(runID string, ts time.Time) domain.RebalanceResult {
	fees := decimal.NewFromFloat(1.5)
	valueUSD := decimal.NewFromFloat(9500)
	return domain.RebalanceResult{
		RunID:     runID,
		Timestamp: ts,
		Status:    domain.StatusSuccess,
		Message:   "rebalanced 2 assets",
		DryRun:    false,
		Trades: []domain.ExecutedTrade{
			{
				Trade: domain.Trade{
					Pair:         "BTCUSDT",
					Asset:        "BTC",
					Side:         domain.Sell,
					Quantity:     decimal.NewFromFloat(0.36),
					EstValueBase: decimal.NewFromFloat(18000),
					Reason:       "target 60% vs current 78.9%",
				},
				OrderID: "42",
			},
		},
		Errors:       nil,
		TotalFeesUSD: &fees,
		Projected: map[string]domain.ProjectedBalance{
			"ETH": {
				Quantity:    decimal.NewFromFloat(14.25),
				ValueInBase: decimal.NewFromFloat(28500),
				ValueUSD:    &valueUSD,
			},
		},
	}
}

func TestAppendAndLatest(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Append(sampleResult("run-1", now)))

	latest, err := s.Latest()
	require.NoError(t, err)
	require.NotNil(t, latest)
	assert.Equal(t, "run-1", latest.RunID)
	assert.Equal(t, domain.StatusSuccess, latest.Status)
	require.Len(t, latest.Trades, 1)
	assert.Equal(t, "BTC", latest.Trades[0].Asset)
	assert.True(t, latest.Trades[0].Quantity.Equal(decimal.NewFromFloat(0.36)))
	require.NotNil(t, latest.TotalFeesUSD)
	assert.True(t, latest.TotalFeesUSD.Equal(decimal.NewFromFloat(1.5)))
	assert.True(t, latest.Timestamp.Equal(now))
}

func TestList_NewestFirst(t *testing.T) {
	s := openTestStore(t)
	base := time.Now().UTC().Truncate(time.Second)

	require.NoError(t, s.Append(sampleResult("run-1", base.Add(-2*time.Hour))))
	require.NoError(t, s.Append(sampleResult("run-2", base.Add(-1*time.Hour))))
	require.NoError(t, s.Append(sampleResult("run-3", base)))

	rows, err := s.List(10)
	require.NoError(t, err)
	require.Len(t, rows, 3)
	assert.Equal(t, "run-3", rows[0].RunID)
	assert.Equal(t, "run-2", rows[1].RunID)
	assert.Equal(t, "run-1", rows[2].RunID)
}

func TestList_DefaultLimit(t *testing.T) {
	s := openTestStore(t)
	rows, err := s.List(0)
	require.NoError(t, err)
	assert.Empty(t, rows)
}

func TestAggregate_ProjectsTotalsAndPerAsset(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC().Truncate(time.Second)
	require.NoError(t, s.Append(sampleResult("run-1", now)))

	series, err := s.Aggregate()
	require.NoError(t, err)
	require.Len(t, series.Points, 1)

	point := series.Points[0]
	require.NotNil(t, point.TotalValueUSD)
	assert.InDelta(t, 9500, *point.TotalValueUSD, 0.01)

	eth, ok := point.PerAsset["ETH"]
	require.True(t, ok)
	assert.InDelta(t, 14.25, eth.Quantity, 0.0001)
	require.NotNil(t, eth.ValueUSD)
	assert.InDelta(t, 9500, *eth.ValueUSD, 0.01)
}

func TestAppend_DuplicateRunIDFails(t *testing.T) {
	s := openTestStore(t)
	now := time.Now().UTC()
	require.NoError(t, s.Append(sampleResult("dup", now)))
	err := s.Append(sampleResult("dup", now))
	require.Error(t, err)
}
