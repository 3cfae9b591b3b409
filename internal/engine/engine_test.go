package engine

import (
	"testing"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

func baseInput() Input {
	return Input{
		Balances: domain.Balances{
			"BTC":  dec("1.5"),
			"ETH":  dec("10"),
			"USDT": dec("5000"),
		},
		Prices: domain.Prices{
			"BTCUSDT": dec("50000"),
			"ETHUSDT": dec("2000"),
		},
		ExchangeRules: map[string]domain.ExchangeRule{
			"BTCUSDT": {StepSize: dec("0.0001"), MinNotional: dec("10")},
			"ETHUSDT": {StepSize: dec("0.0001"), MinNotional: dec("10")},
			"BNBUSDT": {StepSize: dec("0.01"), MinNotional: dec("10")},
		},
		TargetAllocations: domain.Allocations{
			"BTC":  dec("60"),
			"ETH":  dec("30"),
			"USDT": dec("10"),
		},
		Eligible:         domain.NewEligibleSet("BTC", "ETH", "USDT", "BNB"),
		BasePair:         "USDT",
		MinTradeValueUSD: dec("10"),
		TradeFeePct:      dec("0.1"),
	}
}

func tradeFor(out Output, asset string) *domain.Trade {
	for i := range out.Trades {
		if out.Trades[i].Asset == asset {
			return &out.Trades[i]
		}
	}
	return nil
}

// Scenario 1: overweight BTC, underweight ETH.
func TestPlan_OverweightUnderweight(t *testing.T) {
	out, err := Plan(baseInput())
	require.NoError(t, err)
	require.Len(t, out.Trades, 2)

	btc := tradeFor(out, "BTC")
	eth := tradeFor(out, "ETH")
	require.NotNil(t, btc)
	require.NotNil(t, eth)

	assert.Equal(t, domain.Sell, btc.Side)
	assert.Equal(t, domain.Buy, eth.Side)

	// Eligible value = 75000 (BTC) + 20000 (ETH) = 95000.
	// SELL BTC: delta% = 60 - 78.947... ≈ -18.947% -> delta_base ≈ -18000.
	assert.True(t, btc.EstValueBase.Sub(dec("18000")).Abs().LessThan(dec("50")),
		"btc value ~18000, got %s", btc.EstValueBase)
	assert.True(t, btc.Quantity.Sub(dec("0.36")).Abs().LessThan(dec("0.001")),
		"btc qty ~0.36, got %s", btc.Quantity)

	assert.True(t, eth.EstValueBase.Sub(dec("8500")).Abs().LessThan(dec("50")),
		"eth value ~8500, got %s", eth.EstValueBase)
	assert.True(t, eth.Quantity.Sub(dec("4.25")).Abs().LessThan(dec("0.01")),
		"eth qty ~4.25, got %s", eth.Quantity)
}

// Scenario 2: below threshold.
func TestPlan_BelowThreshold(t *testing.T) {
	in := baseInput()
	in.TargetAllocations = domain.Allocations{
		"BTC": dec("78.9"),
		"ETH": dec("21.1"),
	}
	in.MinTradeValueUSD = dec("100")

	out, err := Plan(in)
	require.NoError(t, err)
	assert.Empty(t, out.Trades)
}

// Scenario 3: below min notional filters the BTC sell.
func TestPlan_BelowMinNotional(t *testing.T) {
	in := baseInput()
	rule := in.ExchangeRules["BTCUSDT"]
	rule.MinNotional = dec("20000")
	in.ExchangeRules["BTCUSDT"] = rule

	out, err := Plan(in)
	require.NoError(t, err)
	require.Len(t, out.Trades, 1)
	assert.Equal(t, "ETH", out.Trades[0].Asset)
}

// Scenario 4: asset outside the eligibility set is neither bought nor sold.
func TestPlan_NotEligible(t *testing.T) {
	in := baseInput()
	in.Eligible = domain.NewEligibleSet("ETH", "USDT")

	out, err := Plan(in)
	require.NoError(t, err)
	require.Len(t, out.Trades, 1)
	assert.Equal(t, "ETH", out.Trades[0].Asset)
}

// Scenario 5: new asset buy.
func TestPlan_NewAssetBuy(t *testing.T) {
	in := Input{
		Balances: domain.Balances{
			"BTC":  dec("1.5"),
			"ETH":  dec("10"),
			"USDT": dec("15000"),
		},
		Prices: domain.Prices{
			"BTCUSDT": dec("50000"),
			"ETHUSDT": dec("2000"),
			"BNBUSDT": dec("300"),
		},
		ExchangeRules: map[string]domain.ExchangeRule{
			"BTCUSDT": {StepSize: dec("0.0001"), MinNotional: dec("10")},
			"ETHUSDT": {StepSize: dec("0.0001"), MinNotional: dec("10")},
			"BNBUSDT": {StepSize: dec("0.01"), MinNotional: dec("10")},
		},
		TargetAllocations: domain.Allocations{
			"BTC": dec("70"),
			"ETH": dec("20"),
			"BNB": dec("10"),
		},
		Eligible:         domain.NewEligibleSet("BTC", "ETH", "USDT", "BNB"),
		BasePair:         "USDT",
		MinTradeValueUSD: dec("10"),
		TradeFeePct:      dec("0.1"),
	}

	out, err := Plan(in)
	require.NoError(t, err)
	bnb := tradeFor(out, "BNB")
	require.NotNil(t, bnb)
	assert.Equal(t, domain.Buy, bnb.Side)

	wantValue := out.TotalEligibleValue.Mul(dec("0.10"))
	assert.True(t, bnb.EstValueBase.Sub(wantValue).Abs().LessThan(dec("20")),
		"bnb value should be ~10%% of eligible value, got %s want ~%s", bnb.EstValueBase, wantValue)
}

func TestPlan_EmptyEligibleValueReturnsEmptyPlan(t *testing.T) {
	in := Input{
		Balances:          domain.Balances{"USDT": dec("100")},
		Prices:            domain.Prices{},
		ExchangeRules:     map[string]domain.ExchangeRule{},
		TargetAllocations: domain.Allocations{"BTC": dec("100")},
		Eligible:          domain.NewEligibleSet("BTC"),
		BasePair:          "USDT",
		MinTradeValueUSD:  dec("10"),
		TradeFeePct:       dec("0.1"),
	}
	out, err := Plan(in)
	require.NoError(t, err)
	assert.Empty(t, out.Trades)
}

func TestPlan_Deterministic(t *testing.T) {
	in := baseInput()
	first, err := Plan(in)
	require.NoError(t, err)
	second, err := Plan(in)
	require.NoError(t, err)
	require.Equal(t, len(first.Trades), len(second.Trades))
	for i := range first.Trades {
		assert.Equal(t, first.Trades[i].Asset, second.Trades[i].Asset)
		assert.True(t, first.Trades[i].Quantity.Equal(second.Trades[i].Quantity))
	}
}

func TestPlan_EveryTradeRespectsStepAndNotional(t *testing.T) {
	out, err := Plan(baseInput())
	require.NoError(t, err)
	for _, tr := range out.Trades {
		rule := baseInput().ExchangeRules[tr.Pair]
		remainder := tr.Quantity.Mod(rule.StepSize)
		assert.True(t, remainder.IsZero(), "quantity %s not a multiple of step %s", tr.Quantity, rule.StepSize)
		assert.True(t, tr.EstValueBase.GreaterThanOrEqual(rule.MinNotional))
	}
}

func TestPlan_InvalidStepSizeIsAnError(t *testing.T) {
	in := baseInput()
	rule := in.ExchangeRules["BTCUSDT"]
	rule.StepSize = dec("0")
	in.ExchangeRules["BTCUSDT"] = rule

	_, err := Plan(in)
	require.Error(t, err)
}
