// Package pricing converts between assets, the configured base pair, and
// USD using a ticker map that may only quote one direction of a pair.
package pricing

import (
	"strings"

	"github.com/shopspring/decimal"
)

// StableCoins are treated as pegged 1:1 to USD.
var StableCoins = []string{"USDT", "BUSD", "USDC", "TUSD"}

// pairKey builds the FROM||TO ticker map key used throughout the system.
func pairKey(from, to string) string {
	return strings.ToUpper(from) + strings.ToUpper(to)
}

func isStableCoin(asset string) bool {
	asset = strings.ToUpper(asset)
	for _, s := range StableCoins {
		if asset == s {
			return true
		}
	}
	return false
}

// Rate returns the price to convert one unit of from into to, or false if
// neither direction of the pair is quoted. A zero price is treated as
// missing, matching illiquid/placeholder tickers some feeds emit.
func Rate(prices map[string]decimal.Decimal, from, to string) (decimal.Decimal, bool) {
	from, to = strings.ToUpper(from), strings.ToUpper(to)
	if from == to {
		return decimal.NewFromInt(1), true
	}
	if p, ok := prices[pairKey(from, to)]; ok && p.Sign() > 0 {
		return p, true
	}
	if p, ok := prices[pairKey(to, from)]; ok && p.Sign() > 0 {
		return decimal.NewFromInt(1).Div(p), true
	}
	return decimal.Zero, false
}

// BaseToUSD returns the rate to convert one unit of base into USD.
func BaseToUSD(prices map[string]decimal.Decimal, base string) (decimal.Decimal, bool) {
	if isStableCoin(base) {
		return decimal.NewFromInt(1), true
	}
	for _, stable := range StableCoins {
		if r, ok := Rate(prices, base, stable); ok {
			return r, true
		}
	}
	return Rate(prices, base, "USD")
}

// AssetBaseValue returns the rate to convert one unit of asset into base.
func AssetBaseValue(prices map[string]decimal.Decimal, asset, base string) (decimal.Decimal, bool) {
	return Rate(prices, asset, base)
}

// AssetUSDValue prefers a direct stable-coin/USD quote for asset; otherwise
// composes asset->base->USD. Returns false if either required leg is
// missing.
func AssetUSDValue(prices map[string]decimal.Decimal, asset, base string) (decimal.Decimal, bool) {
	for _, stable := range StableCoins {
		if r, ok := Rate(prices, asset, stable); ok {
			return r, true
		}
	}
	if r, ok := Rate(prices, asset, "USD"); ok {
		return r, true
	}

	baseRate, ok := AssetBaseValue(prices, asset, base)
	if !ok {
		return decimal.Zero, false
	}
	usdRate, ok := BaseToUSD(prices, base)
	if !ok {
		return decimal.Zero, false
	}
	return baseRate.Mul(usdRate), true
}
