// Package engine implements the pure rebalance allocation algorithm: given
// balances, prices, exchange rules, target weights, and an eligibility set,
// it produces the minimal trade list that brings holdings back to target.
//
// Plan never performs I/O and never suspends; it is safe to call from any
// goroutine and is deterministic for identical inputs.
package engine

import (
	"fmt"
	"sort"
	"strings"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/pricing"
	"github.com/aristath/rebalancer/internal/quantity"
	"github.com/shopspring/decimal"
)

var hundred = decimal.NewFromInt(100)

// Input bundles everything Plan needs. It is pure data; nothing here is
// mutated by Plan.
type Input struct {
	Balances          domain.Balances
	Prices            domain.Prices
	ExchangeRules     map[string]domain.ExchangeRule // keyed by pair (asset+base)
	TargetAllocations domain.Allocations
	Eligible          domain.EligibleSet
	BasePair          string
	MinTradeValueUSD  decimal.Decimal
	TradeFeePct       decimal.Decimal
}

// Output is Plan's pure result.
type Output struct {
	Trades              []domain.Trade
	TotalFeesUSD        *decimal.Decimal
	Projected           map[string]domain.ProjectedBalance
	TotalEligibleValue  decimal.Decimal
	TotalPortfolioValue decimal.Decimal
}

// Plan computes the proposed trade list for one rebalance cycle.
func Plan(in Input) (Output, error) {
	base := strings.ToUpper(in.BasePair)
	if base == "" {
		return Output{}, fmt.Errorf("engine: base pair is required")
	}

	candidates := candidateSet(in, base)

	type valuation struct {
		asset     string
		valueBase decimal.Decimal
	}
	valuations := make(map[string]decimal.Decimal, len(candidates))
	totalEligible := decimal.Zero

	baseQty := in.Balances[base]

	for _, asset := range candidates {
		if asset == base {
			continue
		}
		qty := in.Balances[asset]
		rate, ok := pricing.AssetBaseValue(in.Prices, asset, base)
		if !ok {
			continue
		}
		value := qty.Mul(rate)
		valuations[asset] = value
		totalEligible = totalEligible.Add(value)
	}

	if totalEligible.Sign() == 0 {
		return Output{
			Trades:             nil,
			TotalFeesUSD:       zeroPtr(),
			Projected:          projectNoTrades(in, base),
			TotalEligibleValue: decimal.Zero,
		}, nil
	}

	totalPortfolio := totalEligible.Add(baseQty)
	baseUSDRate, haveBaseUSD := pricing.BaseToUSD(in.Prices, base)

	var trades []domain.Trade
	totalFeesUSD := decimal.Zero
	anyFeeResolved := false

	for _, asset := range candidates {
		if asset == base {
			continue
		}
		valueBase, known := valuations[asset]
		if !known {
			continue
		}

		currentPct := valueBase.Div(totalEligible).Mul(hundred)
		targetPct, hasTarget := in.TargetAllocations[asset]
		if !hasTarget {
			targetPct = decimal.Zero
		}
		deltaPct := targetPct.Sub(currentPct)
		deltaBase := deltaPct.Div(hundred).Mul(totalEligible)

		absDeltaBase := deltaBase.Abs()
		var thresholdValue decimal.Decimal
		if haveBaseUSD {
			thresholdValue = absDeltaBase.Mul(baseUSDRate)
		} else {
			thresholdValue = absDeltaBase
		}
		if thresholdValue.LessThan(in.MinTradeValueUSD) {
			continue
		}

		pair := asset + base
		rule, ok := in.ExchangeRules[pair]
		if !ok {
			continue
		}
		price, ok := pricing.AssetBaseValue(in.Prices, asset, base)
		if !ok {
			continue
		}

		rawQty := absDeltaBase.Div(price)
		qty, err := quantity.AdjustToStep(rawQty, rule.StepSize)
		if err != nil {
			return Output{}, fmt.Errorf("engine: invalid step size for %s: %w", pair, err)
		}
		if qty.Sign() <= 0 {
			continue
		}
		finalValueBase := qty.Mul(price)
		if finalValueBase.LessThan(rule.MinNotional) {
			continue
		}

		side := domain.Sell
		if deltaBase.Sign() > 0 {
			side = domain.Buy
		}

		var valueUSDPtr *decimal.Decimal
		valueUSD := finalValueBase
		if haveBaseUSD {
			valueUSD = finalValueBase.Mul(baseUSDRate)
			v := valueUSD
			valueUSDPtr = &v
		}
		feeCostUSD := valueUSD.Mul(in.TradeFeePct).Div(hundred)
		if haveBaseUSD {
			totalFeesUSD = totalFeesUSD.Add(feeCostUSD)
			anyFeeResolved = true
		}

		reason := fmt.Sprintf(
			"target %s%% vs current %s%% (delta %s%%)",
			targetPct.StringFixed(2), currentPct.StringFixed(2), deltaPct.StringFixed(2),
		)

		trades = append(trades, domain.Trade{
			Pair:         pair,
			Asset:        asset,
			Side:         side,
			Quantity:     qty,
			EstValueBase: finalValueBase,
			EstValueUSD:  valueUSDPtr,
			FeeCostUSD:   feeCostUSD,
			Reason:       reason,
		})
	}

	projected := project(in, base, trades)

	out := Output{
		Trades:              trades,
		Projected:           projected,
		TotalEligibleValue:  totalEligible,
		TotalPortfolioValue: totalPortfolio,
	}
	if anyFeeResolved {
		out.TotalFeesUSD = &totalFeesUSD
	}
	return out, nil
}

// candidateSet returns (held ∪ targeted) ∩ eligible, plus the base pair,
// sorted lexically so iteration order (and therefore trade order) is
// deterministic regardless of Go's randomized map iteration.
func candidateSet(in Input, base string) []string {
	seen := make(map[string]struct{})
	for asset := range in.Balances {
		asset = strings.ToUpper(asset)
		if asset == base {
			continue
		}
		if in.Eligible == nil || in.Eligible.Contains(asset) {
			seen[asset] = struct{}{}
		}
	}
	for asset := range in.TargetAllocations {
		asset = strings.ToUpper(asset)
		if asset == base {
			continue
		}
		if in.Eligible == nil || in.Eligible.Contains(asset) {
			seen[asset] = struct{}{}
		}
	}

	out := make([]string, 0, len(seen)+1)
	for asset := range seen {
		out = append(out, asset)
	}
	sort.Strings(out)
	out = append(out, base)
	return out
}

func zeroPtr() *decimal.Decimal {
	z := decimal.Zero
	return &z
}

// projectNoTrades returns the projection for a cycle with an empty plan:
// balances are unchanged, valued at current prices where possible.
func projectNoTrades(in Input, base string) map[string]domain.ProjectedBalance {
	return project(in, base, nil)
}

// project simulates applying trades, in order, to a copy of the input
// balances, per spec step 5. It never mutates in.Balances.
func project(in Input, base string, trades []domain.Trade) map[string]domain.ProjectedBalance {
	bal := in.Balances.Clone()
	if _, ok := bal[base]; !ok {
		bal[base] = decimal.Zero
	}

	feePct := in.TradeFeePct

	for _, t := range trades {
		switch t.Side {
		case domain.Buy:
			received := t.Quantity.Mul(decimal.NewFromInt(1).Sub(feePct.Div(hundred)))
			bal[t.Asset] = bal[t.Asset].Add(received)
			bal[base] = bal[base].Sub(t.EstValueBase)
		case domain.Sell:
			bal[t.Asset] = bal[t.Asset].Sub(t.Quantity)
			received := t.EstValueBase.Mul(decimal.NewFromInt(1).Sub(feePct.Div(hundred)))
			bal[base] = bal[base].Add(received)
		}
	}

	baseUSDRate, haveBaseUSD := pricing.BaseToUSD(in.Prices, base)

	out := make(map[string]domain.ProjectedBalance, len(bal))
	for asset, qty := range bal {
		if asset == base {
			entry := domain.ProjectedBalance{Quantity: qty, ValueInBase: qty}
			if haveBaseUSD {
				v := qty.Mul(baseUSDRate)
				entry.ValueUSD = &v
			}
			out[asset] = entry
			continue
		}
		rate, ok := pricing.AssetBaseValue(in.Prices, asset, base)
		if !ok {
			out[asset] = domain.ProjectedBalance{Quantity: qty}
			continue
		}
		valueBase := qty.Mul(rate)
		entry := domain.ProjectedBalance{Quantity: qty, ValueInBase: valueBase}
		if usdRate, ok := pricing.AssetUSDValue(in.Prices, asset, base); ok {
			v := qty.Mul(usdRate)
			entry.ValueUSD = &v
		}
		out[asset] = entry
	}
	return out
}
