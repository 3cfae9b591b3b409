// Package exchange is a signed REST client for a Binance-shaped spot
// exchange: account balances, all tickers, per-symbol trading rules, and
// market order placement. Grounded on other_examples' binance_broker.go
// (HMAC-SHA256 query signing) and the teacher-adjacent Tradernet SDK client
// (timestamp + signature headers, single-purpose retrying HTTP client).
package exchange

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/retry"
	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"
)

// ErrInvalidCredentials is returned when the exchange reports one of the
// invalid-credential error codes (-2014, -2015, -1022). Retrying would not
// help, so the retry policy treats it as terminal.
var ErrInvalidCredentials = errors.New("exchange: invalid credentials")

var invalidCredentialCodes = map[int]struct{}{
	-2014: {},
	-2015: {},
	-1022: {},
}

// apiError is the exchange's verbatim {code, msg} error body.
type apiError struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
}

func (e *apiError) Error() string {
	return fmt.Sprintf("exchange api error %d: %s", e.Code, e.Msg)
}

// Client is a signed REST client for the exchange's spot trading API.
type Client struct {
	apiKey     string
	apiSecret  string
	baseURL    string
	recvWindow int64
	httpClient *http.Client
	log        zerolog.Logger

	mu    sync.Mutex
	rules map[string]domain.ExchangeRule // cached after first successful ExchangeInfo call
}

// Config configures a new Client.
type Config struct {
	APIKey     string
	APISecret  string
	BaseURL    string // default https://api.binance.com
	RecvWindow int64  // ms, default 5000
	Timeout    time.Duration
}

// New creates a new exchange client.
func New(cfg Config, log zerolog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://api.binance.com"
	}
	recvWindow := cfg.RecvWindow
	if recvWindow == 0 {
		recvWindow = 5000
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		apiSecret:  cfg.APISecret,
		baseURL:    strings.TrimRight(base, "/"),
		recvWindow: recvWindow,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "exchange-client").Logger(),
	}
}

func (c *Client) sign(values url.Values) string {
	mac := hmac.New(sha256.New, []byte(c.apiSecret))
	_, _ = io.WriteString(mac, values.Encode())
	return hex.EncodeToString(mac.Sum(nil))
}

// signedParams appends timestamp, recvWindow, and signature. It must be
// recomputed on every attempt — a retry must never reuse a stale timestamp.
func (c *Client) signedParams(extra url.Values) url.Values {
	v := url.Values{}
	for k, vals := range extra {
		v[k] = vals
	}
	v.Set("timestamp", strconv.FormatInt(time.Now().UnixMilli(), 10))
	v.Set("recvWindow", strconv.FormatInt(c.recvWindow, 10))
	v.Set("signature", c.sign(v))
	return v
}

func isRetryable(err error) bool {
	var ae *apiError
	if errors.As(err, &ae) {
		return false
	}
	return !errors.Is(err, ErrInvalidCredentials)
}

func (c *Client) doSigned(ctx context.Context, method, path string, params url.Values) ([]byte, error) {
	var body []byte
	err := retry.Do(ctx, retry.Default, isRetryable, func() error {
		signed := c.signedParams(params)
		req, err := c.buildSignedRequest(ctx, method, path, signed)
		if err != nil {
			return err
		}
		b, err := c.execute(req)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	return body, err
}

func (c *Client) buildSignedRequest(ctx context.Context, method, path string, params url.Values) (*http.Request, error) {
	if method == http.MethodGet {
		u := fmt.Sprintf("%s%s?%s", c.baseURL, path, params.Encode())
		return http.NewRequestWithContext(ctx, method, u, nil)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, strings.NewReader(params.Encode()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return req, nil
}

func (c *Client) execute(req *http.Request) ([]byte, error) {
	req.Header.Set("X-MBX-APIKEY", c.apiKey)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("exchange: request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("exchange: reading response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		var ae apiError
		if jsonErr := json.Unmarshal(body, &ae); jsonErr == nil && ae.Code != 0 {
			if _, invalid := invalidCredentialCodes[ae.Code]; invalid {
				return nil, fmt.Errorf("%w: %s", ErrInvalidCredentials, ae.Msg)
			}
			return nil, &ae
		}
		return nil, fmt.Errorf("exchange: http %d: %s", resp.StatusCode, string(body))
	}
	return body, nil
}

// Balances returns non-zero free balances for the account.
func (c *Client) Balances(ctx context.Context) (domain.Balances, error) {
	body, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	if err != nil {
		return nil, err
	}

	var account struct {
		Balances []struct {
			Asset string `json:"asset"`
			Free  string `json:"free"`
		} `json:"balances"`
	}
	if err := json.Unmarshal(body, &account); err != nil {
		return nil, fmt.Errorf("exchange: parsing account balances: %w", err)
	}

	out := make(domain.Balances)
	for _, b := range account.Balances {
		free, err := decimal.NewFromString(b.Free)
		if err != nil {
			continue
		}
		if free.Sign() <= 0 {
			continue
		}
		out[strings.ToUpper(b.Asset)] = free
	}
	return out, nil
}

// AllPrices returns the last price for every pair the exchange quotes.
func (c *Client) AllPrices(ctx context.Context) (domain.Prices, error) {
	var body []byte
	err := retry.Do(ctx, retry.Default, isRetryable, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/v3/ticker/price", nil)
		if err != nil {
			return err
		}
		b, err := c.execute(req)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	var tickers []struct {
		Symbol string `json:"symbol"`
		Price  string `json:"price"`
	}
	if err := json.Unmarshal(body, &tickers); err != nil {
		return nil, fmt.Errorf("exchange: parsing tickers: %w", err)
	}

	out := make(domain.Prices, len(tickers))
	for _, t := range tickers {
		p, err := decimal.NewFromString(t.Price)
		if err != nil {
			continue
		}
		out[strings.ToUpper(t.Symbol)] = p
	}
	return out, nil
}

// ExchangeInfo returns trading rules (step size, min notional) per symbol.
// Results are cached for the lifetime of the client after the first
// successful call (spec §9 leaves cache scope to the implementer; tests
// must construct a fresh client per cycle if cache reuse is undesired).
// When symbols is non-empty, the request encodes them as a literal,
// non-percent-encoded `symbols=["A","B"]` query parameter.
func (c *Client) ExchangeInfo(ctx context.Context, symbols []string) (map[string]domain.ExchangeRule, error) {
	c.mu.Lock()
	if c.rules != nil {
		cached := c.rules
		c.mu.Unlock()
		return cached, nil
	}
	c.mu.Unlock()

	u := c.baseURL + "/api/v3/exchangeInfo"
	if len(symbols) > 0 {
		quoted := make([]string, len(symbols))
		for i, s := range symbols {
			quoted[i] = `"` + s + `"`
		}
		u = fmt.Sprintf("%s?symbols=[%s]", u, strings.Join(quoted, ","))
	}

	var body []byte
	err := retry.Do(ctx, retry.Default, isRetryable, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		b, err := c.execute(req)
		if err != nil {
			return err
		}
		body = b
		return nil
	})
	if err != nil {
		return nil, err
	}

	var info struct {
		Symbols []struct {
			Symbol  string `json:"symbol"`
			Filters []struct {
				FilterType  string `json:"filterType"`
				StepSize    string `json:"stepSize"`
				MinNotional string `json:"minNotional"`
			} `json:"filters"`
		} `json:"symbols"`
	}
	if err := json.Unmarshal(body, &info); err != nil {
		return nil, fmt.Errorf("exchange: parsing exchange info: %w", err)
	}

	rules := make(map[string]domain.ExchangeRule, len(info.Symbols))
	for _, s := range info.Symbols {
		var rule domain.ExchangeRule
		for _, f := range s.Filters {
			switch f.FilterType {
			case "LOT_SIZE":
				if step, err := decimal.NewFromString(f.StepSize); err == nil {
					rule.StepSize = step
				}
			case "MIN_NOTIONAL", "NOTIONAL":
				if mn, err := decimal.NewFromString(f.MinNotional); err == nil {
					rule.MinNotional = mn
				}
			}
		}
		rules[strings.ToUpper(s.Symbol)] = rule
	}

	c.mu.Lock()
	c.rules = rules
	c.mu.Unlock()
	return rules, nil
}

// TestAccount validates credentials without side effects.
func (c *Client) TestAccount(ctx context.Context) error {
	_, err := c.doSigned(ctx, http.MethodGet, "/api/v3/account", url.Values{})
	return err
}

// CreateOrder places a market order, or validates it against /order/test
// when test is true.
func (c *Client) CreateOrder(ctx context.Context, pair string, side domain.Side, quantity string, test bool) (string, error) {
	path := "/api/v3/order"
	if test {
		path = "/api/v3/order/test"
	}

	params := url.Values{
		"symbol":   {strings.ToUpper(pair)},
		"side":     {string(side)},
		"type":     {"MARKET"},
		"quantity": {quantity},
	}

	body, err := c.doSigned(ctx, http.MethodPost, path, params)
	if err != nil {
		return "", err
	}
	if test {
		return "", nil
	}

	var resp struct {
		OrderID int64 `json:"orderId"`
	}
	if err := json.Unmarshal(body, &resp); err != nil {
		return "", fmt.Errorf("exchange: parsing order response: %w", err)
	}
	return strconv.FormatInt(resp.OrderID, 10), nil
}
