package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type stubProvider struct {
	name   string
	amount float64
	err    error
}

func (s stubProvider) Name() string { return s.name }

func (s stubProvider) Spend(ctx context.Context) (Spend, error) {
	if s.err != nil {
		return Spend{}, s.err
	}
	return Spend{Provider: s.name, AmountUSD: s.amount}, nil
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, nil))
}

func TestFetchAllBestEffort(t *testing.T) {
	providers := []Provider{
		stubProvider{name: "openai", amount: 12.5},
		stubProvider{name: "anthropic", err: errors.New("anthropic: unexpected status 500")},
		stubProvider{name: "openrouter", amount: 3.25},
	}

	results := FetchAll(context.Background(), providers, testLogger())

	require.Len(t, results, 3)
	// Sorted by provider name; the failed provider reports its error
	// instead of failing the batch.
	assert.Equal(t, "anthropic", results[0].Provider)
	assert.Contains(t, results[0].Error, "status 500")
	assert.Equal(t, Spend{Provider: "openai", AmountUSD: 12.5}, results[1])
	assert.Equal(t, Spend{Provider: "openrouter", AmountUSD: 3.25}, results[2])
}

func TestFetchAllEmpty(t *testing.T) {
	results := FetchAll(context.Background(), nil, testLogger())
	assert.Empty(t, results)
}

func TestNewProviderUnknownKind(t *testing.T) {
	_, err := NewProvider(ProviderConfig{Name: "x", Kind: "stripe"})
	assert.Error(t, err)
}

func TestOpenAIProvider(t *testing.T) {
	var auth string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		auth = r.Header.Get("Authorization")
		fmt.Fprint(w, `{"total_usage": 1234.5}`)
	}))
	defer server.Close()

	p, err := NewProvider(ProviderConfig{Name: "openai", Kind: "openai", BaseURL: server.URL, APIKey: "sk-test"})
	require.NoError(t, err)

	spend, err := p.Spend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "Bearer sk-test", auth)
	assert.InDelta(t, 12.345, spend.AmountUSD, 0.0001, "cents converted to dollars")
}

func TestAnthropicProvider(t *testing.T) {
	var key string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key = r.Header.Get("x-api-key")
		fmt.Fprint(w, `{"data":[{"amount_usd": 10.0},{"amount_usd": 2.5}]}`)
	}))
	defer server.Close()

	p, err := NewProvider(ProviderConfig{Name: "anthropic", Kind: "anthropic", BaseURL: server.URL, APIKey: "key-1"})
	require.NoError(t, err)

	spend, err := p.Spend(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "key-1", key)
	assert.InDelta(t, 12.5, spend.AmountUSD, 0.0001)
}

func TestOpenRouterProvider(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"data":{"total_credits": 50, "total_usage": 7.75}}`)
	}))
	defer server.Close()

	p, err := NewProvider(ProviderConfig{Name: "openrouter", Kind: "openrouter", BaseURL: server.URL})
	require.NoError(t, err)

	spend, err := p.Spend(context.Background())
	require.NoError(t, err)
	assert.InDelta(t, 7.75, spend.AmountUSD, 0.0001)
}

func TestProviderErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no access", http.StatusForbidden)
	}))
	defer server.Close()

	p, err := NewProvider(ProviderConfig{Name: "openai", Kind: "openai", BaseURL: server.URL})
	require.NoError(t, err)

	_, err = p.Spend(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "403")
}
