package pricing

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func dec(s string) decimal.Decimal {
	v, _ := decimal.NewFromString(s)
	return v
}

func TestRate(t *testing.T) {
	prices := map[string]decimal.Decimal{
		"BTCUSDT": dec("50000"),
		"ZEROUSD": dec("0"),
	}

	r, ok := Rate(prices, "BTC", "BTC")
	assert.True(t, ok)
	assert.True(t, r.Equal(dec("1")))

	r, ok = Rate(prices, "BTC", "USDT")
	assert.True(t, ok)
	assert.True(t, r.Equal(dec("50000")))

	r, ok = Rate(prices, "USDT", "BTC")
	assert.True(t, ok)
	assert.True(t, r.Equal(dec("1").Div(dec("50000"))))

	_, ok = Rate(prices, "ETH", "USDT")
	assert.False(t, ok)

	// Zero price is treated as missing.
	_, ok = Rate(prices, "ZERO", "USD")
	assert.False(t, ok)
}

func TestBaseToUSD(t *testing.T) {
	r, ok := BaseToUSD(nil, "USDT")
	assert.True(t, ok)
	assert.True(t, r.Equal(dec("1")))

	prices := map[string]decimal.Decimal{"EURUSD": dec("1.1")}
	r, ok = BaseToUSD(prices, "EUR")
	assert.True(t, ok)
	assert.True(t, r.Equal(dec("1.1")))

	_, ok = BaseToUSD(nil, "EUR")
	assert.False(t, ok)
}

func TestAssetUSDValue_PrefersDirectStableQuote(t *testing.T) {
	prices := map[string]decimal.Decimal{
		"ETHUSDT": dec("2000"),
		"ETHBTC":  dec("0.05"),
		"BTCUSDT": dec("50000"),
	}
	v, ok := AssetUSDValue(prices, "ETH", "BTC")
	assert.True(t, ok)
	// Direct ETHUSDT quote wins over the composed ETHBTC*BTCUSDT path.
	assert.True(t, v.Equal(dec("2000")))
}

func TestAssetUSDValue_ComposesThroughBase(t *testing.T) {
	prices := map[string]decimal.Decimal{
		"BNBBTC":  dec("0.005"),
		"BTCUSDT": dec("50000"),
	}
	v, ok := AssetUSDValue(prices, "BNB", "BTC")
	assert.True(t, ok)
	assert.True(t, v.Equal(dec("0.005").Mul(dec("50000"))))
}

func TestAssetUSDValue_MissingLeg(t *testing.T) {
	_, ok := AssetUSDValue(map[string]decimal.Decimal{}, "BNB", "BTC")
	assert.False(t, ok)
}
