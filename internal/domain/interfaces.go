package domain

import "context"

// ExchangeClient is the capability surface the engine's collaborators need
// from a spot exchange. Implementations are expected to be safe for use
// from a single cycle at a time; the executor never shares one instance
// across concurrent cycles (the single-flight lock already prevents that).
type ExchangeClient interface {
	Balances(ctx context.Context) (Balances, error)
	AllPrices(ctx context.Context) (Prices, error)
	ExchangeInfo(ctx context.Context, symbols []string) (map[string]ExchangeRule, error)
	TestAccount(ctx context.Context) error
	CreateOrder(ctx context.Context, pair string, side Side, quantity string, test bool) (string, error)
}

// RankingClient is the capability surface needed from a market-ranking
// provider: an eligibility set of the top-N symbols.
type RankingClient interface {
	TopSymbols(ctx context.Context, limit int, convert string) (EligibleSet, error)
}

// HistoryStore persists and queries rebalance cycle results.
type HistoryStore interface {
	Append(result RebalanceResult) error
	Latest() (*RebalanceResult, error)
	List(limit int) ([]RebalanceResult, error)
	Aggregate() (TimeSeries, error)
}

// TimeSeries is the aggregated view over all persisted cycles.
type TimeSeries struct {
	Points []TimeSeriesPoint
}

// TimeSeriesPoint is one cycle's contribution to the time-series view.
type TimeSeriesPoint struct {
	Timestamp        string // RFC3339 UTC with Z suffix
	TotalValueUSD     *float64
	PerAsset          map[string]AssetSeriesEntry
}

// AssetSeriesEntry is one asset's projected figures for a single cycle.
type AssetSeriesEntry struct {
	ValueUSD    *float64
	ValueInBase float64
	Quantity    float64
}
