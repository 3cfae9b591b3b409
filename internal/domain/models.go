// Package domain holds the shared types the engine, executor, scheduler,
// and clients pass between each other. It owns no state of its own.
package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// Side is the direction of a proposed or executed trade.
type Side string

const (
	Buy  Side = "BUY"
	Sell Side = "SELL"
)

// RunStatus is the terminal (or dry-run) state of one rebalance cycle.
type RunStatus string

const (
	StatusDryRun         RunStatus = "DRY_RUN"
	StatusSuccess        RunStatus = "SUCCESS"
	StatusPartialSuccess RunStatus = "PARTIAL_SUCCESS"
	StatusFailed         RunStatus = "FAILED"
)

// Balances maps an asset symbol to its free quantity. Zero balances may be
// omitted by callers.
type Balances map[string]decimal.Decimal

// Clone returns a shallow copy safe to mutate independently.
func (b Balances) Clone() Balances {
	out := make(Balances, len(b))
	for k, v := range b {
		out[k] = v
	}
	return out
}

// Prices maps a concatenated pair symbol (FROM+TO) to its last price. Only
// one direction of a given pair is guaranteed to be present.
type Prices map[string]decimal.Decimal

// Allocations maps an asset symbol to its target weight in [0,100].
type Allocations map[string]decimal.Decimal

// EligibleSet is the set of symbols considered tradable this cycle.
type EligibleSet map[string]struct{}

// NewEligibleSet builds an EligibleSet from a slice of symbols.
func NewEligibleSet(symbols ...string) EligibleSet {
	set := make(EligibleSet, len(symbols))
	for _, s := range symbols {
		set[s] = struct{}{}
	}
	return set
}

// Contains reports whether symbol is in the eligible set.
func (e EligibleSet) Contains(symbol string) bool {
	_, ok := e[symbol]
	return ok
}

// ExchangeRule captures the trading-rule fields the engine needs for a pair.
// Additional exchange filter kinds may exist upstream; they're ignored here.
type ExchangeRule struct {
	StepSize    decimal.Decimal
	MinNotional decimal.Decimal
}

// Trade is one proposed market order produced by the engine.
type Trade struct {
	Pair          string
	Asset         string
	Side          Side
	Quantity      decimal.Decimal
	EstValueBase  decimal.Decimal
	EstValueUSD   *decimal.Decimal
	FeeCostUSD    decimal.Decimal
	Reason        string
}

// ExecutedTrade pairs a proposed Trade with its execution outcome.
type ExecutedTrade struct {
	Trade
	OrderID string
	Error   string
}

// ProjectedBalance is the engine's pure post-trade simulation for one asset.
type ProjectedBalance struct {
	Quantity    decimal.Decimal
	ValueInBase decimal.Decimal
	ValueUSD    *decimal.Decimal
}

// RebalanceResult is the full outcome of one cycle, persisted verbatim to
// the history store.
type RebalanceResult struct {
	RunID              string
	Timestamp          time.Time
	Status             RunStatus
	Message            string
	DryRun             bool
	Trades             []ExecutedTrade
	Errors             []string
	TotalFeesUSD       *decimal.Decimal
	Projected          map[string]ProjectedBalance
	TotalValueBeforeUSD *decimal.Decimal
	TotalValueAfterUSD  *decimal.Decimal
}
