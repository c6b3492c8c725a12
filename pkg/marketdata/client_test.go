package marketdata

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mangoweb/nexus-router/pkg/routerr"
)

func resolver(ids map[string]string) Resolver {
	return func(symbol string) (string, bool) {
		id, ok := ids[symbol]
		return id, ok
	}
}

func TestFetchPrice_Success(t *testing.T) {
	var gotPath, gotQuery, gotKey string
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotQuery = r.URL.RawQuery
		gotKey = r.Header.Get("x-cg-pro-api-key")
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"usd-coin":{"usd":0.9998}}`))
	}))
	defer upstream.Close()

	c := NewCoinGecko(CoinGeckoConfig{
		BaseURL: upstream.URL,
		APIKey:  "test-key",
		Timeout: time.Second,
	}, resolver(map[string]string{"USDC": "usd-coin"}))

	quote, err := c.FetchPrice(context.Background(), "USDC")
	if err != nil {
		t.Fatalf("FetchPrice: %v", err)
	}
	if quote.USDPrice != 0.9998 {
		t.Errorf("USDPrice = %v; want 0.9998", quote.USDPrice)
	}
	if quote.Symbol != "USDC" || quote.Source != "coingecko" {
		t.Errorf("quote = %+v", quote)
	}
	if gotPath != "/simple/price" {
		t.Errorf("path = %q", gotPath)
	}
	if gotQuery != "ids=usd-coin&vs_currencies=usd" {
		t.Errorf("query = %q", gotQuery)
	}
	if gotKey != "test-key" {
		t.Errorf("api key header = %q", gotKey)
	}
}

func TestFetchPrice_UnknownSymbolIsDataUnavailable(t *testing.T) {
	c := NewCoinGecko(CoinGeckoConfig{BaseURL: "http://unused"}, resolver(nil))

	_, err := c.FetchPrice(context.Background(), "DOGE")
	if !errors.Is(err, routerr.ErrDataUnavailable) {
		t.Fatalf("err = %v; want DATA_UNAVAILABLE", err)
	}
}

func TestFetchPrice_UpstreamStatus(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTooManyRequests)
	}))
	defer upstream.Close()

	c := NewCoinGecko(CoinGeckoConfig{BaseURL: upstream.URL},
		resolver(map[string]string{"ETH": "ethereum"}))

	_, err := c.FetchPrice(context.Background(), "ETH")
	if !errors.Is(err, routerr.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v; want UPSTREAM_UNAVAILABLE", err)
	}
}

func TestFetchPrice_MissingIDInResponse(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{}`))
	}))
	defer upstream.Close()

	c := NewCoinGecko(CoinGeckoConfig{BaseURL: upstream.URL},
		resolver(map[string]string{"ETH": "ethereum"}))

	_, err := c.FetchPrice(context.Background(), "ETH")
	if !errors.Is(err, routerr.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v; want UPSTREAM_UNAVAILABLE", err)
	}
}
