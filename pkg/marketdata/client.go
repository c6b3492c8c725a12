package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

// Client fetches the current USD price of one asset. Calls are bounded by
// the configured timeout and fail with UpstreamUnavailable on any non-success
// outcome. Retry policy lives in the quote cache, not here.
type Client interface {
	FetchPrice(ctx context.Context, symbol string) (models.PriceQuote, error)
}

// Resolver maps an asset symbol to the upstream feed identifier (CoinGecko
// id). Wired to the active registry snapshot so reloads take effect without
// rebuilding the client.
type Resolver func(symbol string) (string, bool)

const sourceCoinGecko = "coingecko"

// CoinGeckoConfig describes the price upstream.
type CoinGeckoConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
}

// CoinGecko talks to the CoinGecko simple-price API.
type CoinGecko struct {
	baseURL string
	apiKey  string
	resolve Resolver
	client  *http.Client
}

// NewCoinGecko constructs the client with pooled connections.
func NewCoinGecko(cfg CoinGeckoConfig, resolve Resolver) *CoinGecko {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CoinGecko{
		baseURL: cfg.BaseURL,
		apiKey:  cfg.APIKey,
		resolve: resolve,
		client: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
	}
}

// FetchPrice requests the USD price for one symbol.
func (c *CoinGecko) FetchPrice(ctx context.Context, symbol string) (models.PriceQuote, error) {
	metrics.QuoteFetchCounter.WithLabelValues(sourceCoinGecko, "price").Inc()
	start := time.Now()
	defer func() {
		metrics.QuoteFetchLatency.WithLabelValues(sourceCoinGecko).Observe(time.Since(start).Seconds())
	}()

	id, ok := c.resolve(symbol)
	if !ok {
		metrics.QuoteFetchErrors.WithLabelValues(sourceCoinGecko, "price").Inc()
		return models.PriceQuote{}, routerr.New(routerr.KindDataUnavailable,
			fmt.Sprintf("no price feed id for symbol %q", symbol))
	}

	q := url.Values{}
	q.Set("ids", id)
	q.Set("vs_currencies", "usd")
	endpoint := c.baseURL + "/simple/price?" + q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		metrics.QuoteFetchErrors.WithLabelValues(sourceCoinGecko, "price").Inc()
		return models.PriceQuote{}, routerr.UpstreamUnavailable(sourceCoinGecko, err)
	}
	if c.apiKey != "" {
		req.Header.Set("x-cg-pro-api-key", c.apiKey)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		metrics.QuoteFetchErrors.WithLabelValues(sourceCoinGecko, "price").Inc()
		return models.PriceQuote{}, routerr.UpstreamUnavailable(sourceCoinGecko, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		metrics.QuoteFetchErrors.WithLabelValues(sourceCoinGecko, "price").Inc()
		return models.PriceQuote{}, routerr.UpstreamUnavailable(sourceCoinGecko,
			fmt.Errorf("status %d", resp.StatusCode))
	}

	// {"usd-coin": {"usd": 0.9998}}
	var decoded map[string]map[string]float64
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		metrics.QuoteFetchErrors.WithLabelValues(sourceCoinGecko, "price").Inc()
		return models.PriceQuote{}, routerr.UpstreamUnavailable(sourceCoinGecko, err)
	}

	usd, ok := decoded[id]["usd"]
	if !ok || usd <= 0 {
		metrics.QuoteFetchErrors.WithLabelValues(sourceCoinGecko, "price").Inc()
		return models.PriceQuote{}, routerr.UpstreamUnavailable(sourceCoinGecko,
			fmt.Errorf("no usd price for %q in response", id))
	}

	return models.PriceQuote{
		Symbol:    symbol,
		USDPrice:  usd,
		Timestamp: time.Now().UTC(),
		Source:    sourceCoinGecko,
	}, nil
}
