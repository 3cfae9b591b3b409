// Package ranking fetches the set of assets eligible for rebalancing from a
// CoinMarketCap-shaped ranking API: the top N assets by market cap rank,
// converted against a reference currency. Shares the retry policy used by
// internal/clients/exchange.
package ranking

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/aristath/rebalancer/internal/domain"
	"github.com/aristath/rebalancer/internal/retry"
	"github.com/rs/zerolog"
)

// ErrInvalidCredentials is returned for ranking API status codes 1001/1002.
var ErrInvalidCredentials = errors.New("ranking: invalid credentials")

var invalidCredentialCodes = map[int]struct{}{
	1001: {},
	1002: {},
}

type statusError struct {
	Code    int    `json:"error_code"`
	Message string `json:"error_message"`
}

func (e *statusError) Error() string {
	return fmt.Sprintf("ranking api error %d: %s", e.Code, e.Message)
}

// Client queries a CoinMarketCap-style top-listings endpoint.
type Client struct {
	apiKey     string
	baseURL    string
	httpClient *http.Client
	log        zerolog.Logger
}

// Config configures a new Client.
type Config struct {
	APIKey  string
	BaseURL string // default https://pro-api.coinmarketcap.com
	Timeout time.Duration
}

// New creates a new ranking client.
func New(cfg Config, log zerolog.Logger) *Client {
	base := cfg.BaseURL
	if base == "" {
		base = "https://pro-api.coinmarketcap.com"
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		apiKey:     cfg.APIKey,
		baseURL:    strings.TrimRight(base, "/"),
		httpClient: &http.Client{Timeout: timeout},
		log:        log.With().Str("component", "ranking-client").Logger(),
	}
}

func isRetryable(err error) bool {
	var se *statusError
	if errors.As(err, &se) {
		return false
	}
	return !errors.Is(err, ErrInvalidCredentials)
}

// TopSymbols returns the top `limit` assets by market cap rank, priced
// against convert (e.g. "USD").
func (c *Client) TopSymbols(ctx context.Context, limit int, convert string) (domain.EligibleSet, error) {
	if limit <= 0 {
		return domain.NewEligibleSet(), nil
	}

	params := url.Values{
		"start":   {"1"},
		"limit":   {strconv.Itoa(limit)},
		"convert": {convert},
	}
	u := fmt.Sprintf("%s/v1/cryptocurrency/listings/latest?%s", c.baseURL, params.Encode())

	var body []byte
	err := retry.Do(ctx, retry.Default, isRetryable, func() error {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
		if err != nil {
			return err
		}
		req.Header.Set("X-CMC_PRO_API_KEY", c.apiKey)
		req.Header.Set("Accept", "application/json")

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return fmt.Errorf("ranking: request failed: %w", err)
		}
		defer resp.Body.Close()

		b, err := io.ReadAll(resp.Body)
		if err != nil {
			return fmt.Errorf("ranking: reading response: %w", err)
		}
		body = b

		var envelope struct {
			Status struct {
				ErrorCode    int    `json:"error_code"`
				ErrorMessage string `json:"error_message"`
			} `json:"status"`
		}
		if jsonErr := json.Unmarshal(body, &envelope); jsonErr == nil && envelope.Status.ErrorCode != 0 {
			if _, invalid := invalidCredentialCodes[envelope.Status.ErrorCode]; invalid {
				return fmt.Errorf("%w: %s", ErrInvalidCredentials, envelope.Status.ErrorMessage)
			}
			return &statusError{Code: envelope.Status.ErrorCode, Message: envelope.Status.ErrorMessage}
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("ranking: http %d: %s", resp.StatusCode, string(body))
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	var envelope struct {
		Data []struct {
			Symbol string `json:"symbol"`
		} `json:"data"`
	}
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil, fmt.Errorf("ranking: parsing listings: %w", err)
	}

	symbols := make([]string, 0, len(envelope.Data))
	for _, d := range envelope.Data {
		symbols = append(symbols, strings.ToUpper(d.Symbol))
	}
	return domain.NewEligibleSet(symbols...), nil
}
