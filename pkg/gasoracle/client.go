package gasoracle

import (
	"context"
	"encoding/json"
	"fmt"
	"math/big"
	"net/http"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/registry"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

// Client fetches the current gas price for one chain. Same contract as the
// market data client: bounded timeout, UpstreamUnavailable on failure, no
// retries here.
type Client interface {
	FetchGas(ctx context.Context, chain models.ChainID) (models.GasQuote, error)
}

// EndpointResolver maps a chain to its upstream wiring, backed by the active
// registry snapshot.
type EndpointResolver func(chain models.ChainID) (registry.Endpoint, bool)

var weiPerNative = new(big.Float).SetFloat64(1e18)

// Oracle dispatches per chain to an EVM JSON-RPC node or an HTTP gas oracle
// and annotates every quote with the congestion signal.
type Oracle struct {
	resolve    EndpointResolver
	timeout    time.Duration
	httpBase   string
	httpClient *http.Client
	congestion *CongestionTracker

	mu    sync.Mutex
	conns map[string]*ethclient.Client // keyed by RPC URL, dialed lazily
}

// Config describes the oracle upstreams.
type Config struct {
	HTTPBaseURL string // base of the JSON gas oracle used by non-EVM chains
	Timeout     time.Duration
	WindowSize  int
}

// New constructs the oracle.
func New(cfg Config, resolve EndpointResolver) *Oracle {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &Oracle{
		resolve:  resolve,
		timeout:  timeout,
		httpBase: cfg.HTTPBaseURL,
		httpClient: &http.Client{
			Timeout: timeout,
			Transport: &http.Transport{
				MaxIdleConns:        10,
				MaxIdleConnsPerHost: 5,
				IdleConnTimeout:     30 * time.Second,
			},
		},
		congestion: NewCongestionTracker(cfg.WindowSize),
		conns:      make(map[string]*ethclient.Client),
	}
}

// FetchGas requests the current gas price for one chain.
func (o *Oracle) FetchGas(ctx context.Context, chain models.ChainID) (models.GasQuote, error) {
	ep, ok := o.resolve(chain)
	if !ok {
		return models.GasQuote{}, routerr.New(routerr.KindDataUnavailable,
			fmt.Sprintf("no gas endpoint for chain %q", chain))
	}

	ctx, cancel := context.WithTimeout(ctx, o.timeout)
	defer cancel()

	var (
		quote models.GasQuote
		err   error
	)
	start := time.Now()
	switch ep.Oracle {
	case "evm":
		metrics.QuoteFetchCounter.WithLabelValues("evm-rpc", "gas").Inc()
		quote, err = o.fetchEVM(ctx, chain, ep.RPCURL)
		metrics.QuoteFetchLatency.WithLabelValues("evm-rpc").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.QuoteFetchErrors.WithLabelValues("evm-rpc", "gas").Inc()
		}
	default:
		metrics.QuoteFetchCounter.WithLabelValues("gas-oracle", "gas").Inc()
		quote, err = o.fetchHTTP(ctx, chain)
		metrics.QuoteFetchLatency.WithLabelValues("gas-oracle").Observe(time.Since(start).Seconds())
		if err != nil {
			metrics.QuoteFetchErrors.WithLabelValues("gas-oracle", "gas").Inc()
		}
	}
	if err != nil {
		return models.GasQuote{}, err
	}

	quote.Congestion = o.congestion.Observe(chain, quote.NativePrice)
	return quote, nil
}

// fetchEVM asks the chain's own node via eth_gasPrice.
func (o *Oracle) fetchEVM(ctx context.Context, chain models.ChainID, rpcURL string) (models.GasQuote, error) {
	conn, err := o.conn(ctx, rpcURL)
	if err != nil {
		return models.GasQuote{}, routerr.UpstreamUnavailable("evm-rpc", err)
	}

	wei, err := conn.SuggestGasPrice(ctx)
	if err != nil {
		// Drop the cached conn so the next call re-dials.
		o.dropConn(rpcURL)
		return models.GasQuote{}, routerr.UpstreamUnavailable("evm-rpc", err)
	}

	// wei per gas -> native token units per gas
	native, _ := new(big.Float).Quo(new(big.Float).SetInt(wei), weiPerNative).Float64()
	if native <= 0 {
		return models.GasQuote{}, routerr.UpstreamUnavailable("evm-rpc",
			fmt.Errorf("non-positive gas price %s", wei))
	}

	return models.GasQuote{
		Chain:       chain,
		NativePrice: native,
		Timestamp:   time.Now().UTC(),
		Source:      "evm-rpc",
	}, nil
}

// fetchHTTP asks the JSON gas oracle: GET {base}/gas/{chain}.
func (o *Oracle) fetchHTTP(ctx context.Context, chain models.ChainID) (models.GasQuote, error) {
	if o.httpBase == "" {
		return models.GasQuote{}, routerr.New(routerr.KindDataUnavailable,
			fmt.Sprintf("chain %q needs the HTTP gas oracle but GAS_ORACLE_URL is unset", chain))
	}

	endpoint := fmt.Sprintf("%s/gas/%s", o.httpBase, chain)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return models.GasQuote{}, routerr.UpstreamUnavailable("gas-oracle", err)
	}

	resp, err := o.httpClient.Do(req)
	if err != nil {
		return models.GasQuote{}, routerr.UpstreamUnavailable("gas-oracle", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return models.GasQuote{}, routerr.UpstreamUnavailable("gas-oracle",
			fmt.Errorf("status %d", resp.StatusCode))
	}

	var decoded struct {
		GasPriceNative float64 `json:"gas_price_native"`
		AsOfMs         int64   `json:"as_of_ms"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return models.GasQuote{}, routerr.UpstreamUnavailable("gas-oracle", err)
	}
	if decoded.GasPriceNative <= 0 {
		return models.GasQuote{}, routerr.UpstreamUnavailable("gas-oracle",
			fmt.Errorf("non-positive gas price %v", decoded.GasPriceNative))
	}

	ts := time.UnixMilli(decoded.AsOfMs).UTC()
	if decoded.AsOfMs == 0 || ts.After(time.Now()) {
		ts = time.Now().UTC()
	}

	return models.GasQuote{
		Chain:       chain,
		NativePrice: decoded.GasPriceNative,
		Timestamp:   ts,
		Source:      "gas-oracle",
	}, nil
}

func (o *Oracle) conn(ctx context.Context, rpcURL string) (*ethclient.Client, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.conns[rpcURL]; ok {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, rpcURL)
	if err != nil {
		return nil, err
	}
	o.conns[rpcURL] = c
	return c, nil
}

func (o *Oracle) dropConn(rpcURL string) {
	o.mu.Lock()
	if c, ok := o.conns[rpcURL]; ok {
		c.Close()
		delete(o.conns, rpcURL)
	}
	o.mu.Unlock()
}

// Close releases all dialed RPC connections.
func (o *Oracle) Close() {
	o.mu.Lock()
	for url, c := range o.conns {
		c.Close()
		delete(o.conns, url)
	}
	o.mu.Unlock()
}
