// Package billing fetches month-to-date spend from the configured
// provider billing APIs. Unlike the historic aggregation, this surface is
// best-effort: a provider that fails reports an error entry instead of
// failing the whole response.
package billing

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"sort"
	"sync"
	"time"
)

// DefaultTimeout bounds each provider request.
const DefaultTimeout = 10 * time.Second

// Spend is one provider's month-to-date total. Error is set (and
// AmountUSD zero) when the provider could not be queried.
type Spend struct {
	Provider  string  `json:"provider"`
	AmountUSD float64 `json:"amountUsd"`
	Error     string  `json:"error,omitempty"`
}

// Provider fetches spend from one billing API.
type Provider interface {
	Name() string
	Spend(ctx context.Context) (Spend, error)
}

// ProviderConfig is one [[billing.providers]] entry.
type ProviderConfig struct {
	Name    string `toml:"name"`
	Kind    string `toml:"kind"`
	BaseURL string `toml:"base_url"`
	APIKey  string `toml:"api_key"`
}

// NewProvider builds a Provider from config. Supported kinds: anthropic,
// openai, openrouter.
func NewProvider(cfg ProviderConfig) (Provider, error) {
	switch cfg.Kind {
	case "anthropic", "openai", "openrouter":
		return &httpProvider{
			name:    cfg.Name,
			kind:    cfg.Kind,
			baseURL: cfg.BaseURL,
			apiKey:  cfg.APIKey,
			http:    &http.Client{Timeout: DefaultTimeout},
		}, nil
	default:
		return nil, fmt.Errorf("unknown billing provider kind: %q", cfg.Kind)
	}
}

// FetchAll queries every provider concurrently and returns one entry per
// provider, failures included, sorted by provider name.
func FetchAll(ctx context.Context, providers []Provider, logger *slog.Logger) []Spend {
	results := make([]Spend, len(providers))
	var wg sync.WaitGroup
	for i, p := range providers {
		wg.Add(1)
		go func(i int, p Provider) {
			defer wg.Done()
			spend, err := p.Spend(ctx)
			if err != nil {
				logger.Warn("billing fetch failed", "provider", p.Name(), "error", err)
				results[i] = Spend{Provider: p.Name(), Error: err.Error()}
				return
			}
			results[i] = spend
		}(i, p)
	}
	wg.Wait()

	sort.Slice(results, func(i, j int) bool {
		return results[i].Provider < results[j].Provider
	})
	return results
}

type httpProvider struct {
	name    string
	kind    string
	baseURL string
	apiKey  string
	http    *http.Client
}

func (p *httpProvider) Name() string { return p.name }

func (p *httpProvider) Spend(ctx context.Context) (Spend, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.baseURL+spendPath(p.kind), nil)
	if err != nil {
		return Spend{}, err
	}
	switch p.kind {
	case "anthropic":
		req.Header.Set("x-api-key", p.apiKey)
	default:
		req.Header.Set("Authorization", "Bearer "+p.apiKey)
	}

	resp, err := p.http.Do(req)
	if err != nil {
		return Spend{}, fmt.Errorf("%s: %w", p.name, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return Spend{}, fmt.Errorf("%s: unexpected status %d: %s", p.name, resp.StatusCode, body)
	}

	amount, err := parseSpend(p.kind, resp.Body)
	if err != nil {
		return Spend{}, fmt.Errorf("%s: %w", p.name, err)
	}
	return Spend{Provider: p.name, AmountUSD: amount}, nil
}

func spendPath(kind string) string {
	switch kind {
	case "anthropic":
		return "/v1/organizations/cost_report"
	case "openai":
		return "/v1/dashboard/billing/usage"
	case "openrouter":
		return "/api/v1/credits"
	default:
		return "/"
	}
}

func parseSpend(kind string, body io.Reader) (float64, error) {
	switch kind {
	case "anthropic":
		var payload struct {
			Data []struct {
				AmountUSD float64 `json:"amount_usd"`
			} `json:"data"`
		}
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return 0, fmt.Errorf("decode cost report: %w", err)
		}
		total := 0.0
		for _, d := range payload.Data {
			total += d.AmountUSD
		}
		return total, nil
	case "openai":
		var payload struct {
			TotalUsage float64 `json:"total_usage"` // cents
		}
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return 0, fmt.Errorf("decode usage: %w", err)
		}
		return payload.TotalUsage / 100, nil
	case "openrouter":
		var payload struct {
			Data struct {
				TotalUsage float64 `json:"total_usage"`
			} `json:"data"`
		}
		if err := json.NewDecoder(body).Decode(&payload); err != nil {
			return 0, fmt.Errorf("decode credits: %w", err)
		}
		return payload.Data.TotalUsage, nil
	}
	return 0, fmt.Errorf("unknown provider kind: %q", kind)
}
