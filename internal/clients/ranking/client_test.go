package ranking

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTopSymbols(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "k", r.Header.Get("X-CMC_PRO_API_KEY"))
		assert.Equal(t, "50", r.URL.Query().Get("limit"))
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"error_code": 0},
			"data": []map[string]string{
				{"symbol": "BTC"}, {"symbol": "eth"},
			},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "k", BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	set, err := c.TopSymbols(context.Background(), 50, "USD")
	require.NoError(t, err)
	assert.True(t, set.Contains("BTC"))
	assert.True(t, set.Contains("ETH"))
}

func TestTopSymbols_InvalidCredentials(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status": map[string]any{"error_code": 1002, "error_message": "bad key"},
		})
	}))
	defer srv.Close()

	c := New(Config{APIKey: "bad", BaseURL: srv.URL, Timeout: time.Second}, zerolog.Nop())
	_, err := c.TopSymbols(context.Background(), 10, "USD")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestTopSymbols_ZeroLimitReturnsEmptySet(t *testing.T) {
	c := New(Config{APIKey: "k"}, zerolog.Nop())
	set, err := c.TopSymbols(context.Background(), 0, "USD")
	require.NoError(t, err)
	assert.False(t, set.Contains("BTC"))
}
