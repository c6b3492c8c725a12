package gasoracle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/registry"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

func httpResolver(chains ...models.ChainID) EndpointResolver {
	known := make(map[models.ChainID]bool, len(chains))
	for _, c := range chains {
		known[c] = true
	}
	return func(chain models.ChainID) (registry.Endpoint, bool) {
		if !known[chain] {
			return registry.Endpoint{}, false
		}
		return registry.Endpoint{Oracle: "http"}, true
	}
}

func TestFetchGas_HTTPOracle(t *testing.T) {
	asOf := time.Now().Add(-2 * time.Second).UnixMilli()
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/gas/polygon" {
			t.Errorf("path = %q", r.URL.Path)
		}
		fmt.Fprintf(w, `{"gas_price_native": 3.2e-8, "as_of_ms": %d}`, asOf)
	}))
	defer upstream.Close()

	o := New(Config{HTTPBaseURL: upstream.URL, Timeout: time.Second}, httpResolver("polygon"))
	defer o.Close()

	quote, err := o.FetchGas(context.Background(), "polygon")
	if err != nil {
		t.Fatalf("FetchGas: %v", err)
	}
	if quote.NativePrice != 3.2e-8 {
		t.Errorf("NativePrice = %v; want 3.2e-8", quote.NativePrice)
	}
	if quote.Chain != "polygon" || quote.Source != "gas-oracle" {
		t.Errorf("quote = %+v", quote)
	}
	if got := quote.Timestamp.UnixMilli(); got != asOf {
		t.Errorf("Timestamp = %d; want %d", got, asOf)
	}
}

func TestFetchGas_UnknownChain(t *testing.T) {
	o := New(Config{HTTPBaseURL: "http://unused"}, httpResolver())
	defer o.Close()

	_, err := o.FetchGas(context.Background(), "solana")
	if !errors.Is(err, routerr.ErrDataUnavailable) {
		t.Fatalf("err = %v; want DATA_UNAVAILABLE", err)
	}
}

func TestFetchGas_HTTPOracleUnconfigured(t *testing.T) {
	o := New(Config{}, httpResolver("polygon"))
	defer o.Close()

	_, err := o.FetchGas(context.Background(), "polygon")
	if !errors.Is(err, routerr.ErrDataUnavailable) {
		t.Fatalf("err = %v; want DATA_UNAVAILABLE", err)
	}
}

func TestFetchGas_UpstreamFailure(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer upstream.Close()

	o := New(Config{HTTPBaseURL: upstream.URL}, httpResolver("polygon"))
	defer o.Close()

	_, err := o.FetchGas(context.Background(), "polygon")
	if !errors.Is(err, routerr.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v; want UPSTREAM_UNAVAILABLE", err)
	}
}

func TestFetchGas_RejectsNonPositivePrice(t *testing.T) {
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"gas_price_native": 0}`))
	}))
	defer upstream.Close()

	o := New(Config{HTTPBaseURL: upstream.URL}, httpResolver("polygon"))
	defer o.Close()

	_, err := o.FetchGas(context.Background(), "polygon")
	if !errors.Is(err, routerr.ErrUpstreamUnavailable) {
		t.Fatalf("err = %v; want UPSTREAM_UNAVAILABLE", err)
	}
}

func TestFetchGas_AnnotatesCongestion(t *testing.T) {
	price := 1.0e-8
	upstream := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, `{"gas_price_native": %g}`, price)
	}))
	defer upstream.Close()

	o := New(Config{HTTPBaseURL: upstream.URL, WindowSize: 8}, httpResolver("polygon"))
	defer o.Close()

	// Flat prices carry no signal.
	for i := 0; i < 3; i++ {
		quote, err := o.FetchGas(context.Background(), "polygon")
		if err != nil {
			t.Fatalf("FetchGas: %v", err)
		}
		if quote.Congestion != 0 {
			t.Errorf("flat history congestion = %v; want 0", quote.Congestion)
		}
	}

	// A spike scores above the window mean.
	price = 5.0e-8
	quote, err := o.FetchGas(context.Background(), "polygon")
	if err != nil {
		t.Fatalf("FetchGas: %v", err)
	}
	if quote.Congestion <= 0 {
		t.Errorf("spike congestion = %v; want > 0", quote.Congestion)
	}
}
