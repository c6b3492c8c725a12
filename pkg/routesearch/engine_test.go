package routesearch

import (
	"context"
	"errors"
	"reflect"
	"testing"
	"time"

	"github.com/mangoweb/nexus-router/pkg/costmodel"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/quotecache"
	"github.com/mangoweb/nexus-router/pkg/routegraph"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

type fakePrices map[string]float64

func (f fakePrices) FetchPrice(_ context.Context, symbol string) (models.PriceQuote, error) {
	p, ok := f[symbol]
	if !ok {
		return models.PriceQuote{}, routerr.New(routerr.KindUpstreamUnavailable, "no price for "+symbol)
	}
	return models.PriceQuote{Symbol: symbol, USDPrice: p, Timestamp: time.Now(), Source: "test"}, nil
}

type fakeGas map[models.ChainID]float64

func (f fakeGas) FetchGas(_ context.Context, chain models.ChainID) (models.GasQuote, error) {
	n, ok := f[chain]
	if !ok {
		return models.GasQuote{}, routerr.New(routerr.KindUpstreamUnavailable, "no gas for "+string(chain))
	}
	return models.GasQuote{Chain: chain, NativePrice: n, Timestamp: time.Now(), Source: "test"}, nil
}

func newEngine(t *testing.T, prices fakePrices, gas fakeGas, opts Options) *Engine {
	t.Helper()
	cache := quotecache.New(prices, gas, quotecache.Options{
		PriceStaleAfter: time.Minute,
		GasStaleAfter:   time.Minute,
		Expiry:          5 * time.Minute,
	}, nil)
	model := costmodel.New(cache, 0.003, 0.001)
	return New(model, cache, opts)
}

func chain(id models.ChainID, native string, block time.Duration) models.Chain {
	return models.Chain{ID: id, DisplayName: string(id), NativeToken: native, BlockTime: block}
}

func asset(id models.ChainID, sym string) models.Asset {
	return models.Asset{Chain: id, Symbol: sym, Decimals: 6}
}

func bridge(from, to models.ChainID, sym string, feePct float64) models.Action {
	return models.Action{
		Kind:     models.ActionBridge,
		From:     models.Node{Chain: from, Asset: sym},
		To:       models.Node{Chain: to, Asset: sym},
		GasLimit: 100_000,
		FeePct:   feePct,
	}
}

// threeChainGraph wires a direct alpha->beta bridge against a two-hop detour
// through gamma. Fees make the detour cheaper; block times make the direct
// bridge faster.
func threeChainGraph(t *testing.T) *routegraph.Graph {
	t.Helper()
	g, err := routegraph.Build(
		[]models.Chain{
			chain("alpha", "ETH", 12*time.Second),
			chain("beta", "MATIC", 2*time.Second),
			chain("gamma", "AVAX", 3*time.Second),
		},
		[]models.Asset{
			asset("alpha", "USDC"),
			asset("beta", "USDC"),
			asset("gamma", "USDC"),
			asset("gamma", "ORPH"),
		},
		[]models.Action{
			bridge("alpha", "beta", "USDC", 0.01),
			bridge("alpha", "gamma", "USDC", 0.002),
			bridge("gamma", "beta", "USDC", 0.002),
		},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	return g
}

func threeChainEngine(t *testing.T, opts Options) *Engine {
	t.Helper()
	return newEngine(t,
		fakePrices{"ETH": 2000, "MATIC": 1, "AVAX": 20},
		fakeGas{"alpha": 5e-9, "beta": 100e-9, "gamma": 25e-9},
		opts,
	)
}

func request(pref models.Preference) models.RouteRequest {
	return models.RouteRequest{
		SourceID:    "alpha",
		SourceAsset: "USDC",
		DestID:      "beta",
		DestAsset:   "USDC",
		AmountUSD:   1000,
		Preference:  pref,
	}
}

func TestFindRoutes_CheapestTakesDetour(t *testing.T) {
	e := threeChainEngine(t, Options{MaxHops: 4, MaxAlternates: 3, PrefetchConcurrency: 4})
	g := threeChainGraph(t)

	res, err := e.FindRoutes(context.Background(), g, request(models.PreferCheapest))
	if err != nil {
		t.Fatalf("FindRoutes: %v", err)
	}

	want := []string{"alpha", "gamma", "beta"}
	if got := res.Best.ChainSequence(); !reflect.DeepEqual(got, want) {
		t.Fatalf("chain sequence = %v; want %v", got, want)
	}
	if !res.Best.Contiguous() {
		t.Error("best route is not contiguous")
	}
	// Detour fees: 0.2% twice on $1000, plus well under a dollar of gas.
	if res.Best.TotalCostUSD < 4 || res.Best.TotalCostUSD > 6 {
		t.Errorf("TotalCostUSD = %v; want about $4-6", res.Best.TotalCostUSD)
	}

	var sum float64
	for _, s := range res.Best.Steps {
		sum += s.CostUSD
	}
	if diff := res.Best.TotalCostUSD - sum; diff > 1e-9 || diff < -1e-9 {
		t.Errorf("TotalCostUSD %v != step sum %v", res.Best.TotalCostUSD, sum)
	}
}

func TestFindRoutes_FastestTakesDirectBridge(t *testing.T) {
	e := threeChainEngine(t, Options{MaxHops: 4, MaxAlternates: 3, PrefetchConcurrency: 4})
	g := threeChainGraph(t)

	res, err := e.FindRoutes(context.Background(), g, request(models.PreferFastest))
	if err != nil {
		t.Fatalf("FindRoutes: %v", err)
	}

	want := []string{"alpha", "beta"}
	if got := res.Best.ChainSequence(); !reflect.DeepEqual(got, want) {
		t.Fatalf("chain sequence = %v; want %v", got, want)
	}
	if res.Best.TotalLatency != 14*time.Second {
		t.Errorf("TotalLatency = %v; want 14s", res.Best.TotalLatency)
	}
}

func TestFindRoutes_AlternateHasDistinctFirstAction(t *testing.T) {
	e := threeChainEngine(t, Options{MaxHops: 4, MaxAlternates: 3, PrefetchConcurrency: 4})
	g := threeChainGraph(t)

	res, err := e.FindRoutes(context.Background(), g, request(models.PreferCheapest))
	if err != nil {
		t.Fatalf("FindRoutes: %v", err)
	}
	if len(res.Alternates) != 1 {
		t.Fatalf("alternates = %d; want 1", len(res.Alternates))
	}
	alt := res.Alternates[0]
	if got, want := alt.ChainSequence(), []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("alternate sequence = %v; want %v", got, want)
	}
	if firstEdgeKey(alt) == firstEdgeKey(res.Best) {
		t.Error("alternate shares the best route's first action")
	}
	if alt.TotalCostUSD < res.Best.TotalCostUSD {
		t.Errorf("alternate cost %v beats best %v", alt.TotalCostUSD, res.Best.TotalCostUSD)
	}
}

func TestFindRoutes_OutageExcludesEdgesNotSearch(t *testing.T) {
	// gamma's gas oracle is down, so both detour legs are unpriceable. The
	// direct bridge must still win instead of the whole search failing.
	e := newEngine(t,
		fakePrices{"ETH": 2000, "MATIC": 1, "AVAX": 20},
		fakeGas{"alpha": 5e-9, "beta": 100e-9},
		Options{MaxHops: 4, MaxAlternates: 3, PrefetchConcurrency: 4},
	)
	g := threeChainGraph(t)

	res, err := e.FindRoutes(context.Background(), g, request(models.PreferCheapest))
	if err != nil {
		t.Fatalf("FindRoutes: %v", err)
	}
	if got, want := res.Best.ChainSequence(), []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("chain sequence = %v; want %v", got, want)
	}
	if len(res.Alternates) != 0 {
		t.Errorf("alternates = %d; want none with the detour down", len(res.Alternates))
	}
}

func TestFindRoutes_HopLimitPrunesDetour(t *testing.T) {
	e := threeChainEngine(t, Options{MaxHops: 1, MaxAlternates: 3, PrefetchConcurrency: 4})
	g := threeChainGraph(t)

	res, err := e.FindRoutes(context.Background(), g, request(models.PreferCheapest))
	if err != nil {
		t.Fatalf("FindRoutes: %v", err)
	}
	if got, want := res.Best.ChainSequence(), []string{"alpha", "beta"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("chain sequence = %v; want %v", got, want)
	}
}

// TestFindRoutes_HopBudgetDoesNotShadowShorterArrival covers the case where
// the cheapest way into an intermediate chain spends the whole hop budget.
// That arrival must not claim the node outright: the pricier one-hop arrival
// still has budget left and is the only way to reach the destination.
func TestFindRoutes_HopBudgetDoesNotShadowShorterArrival(t *testing.T) {
	g, err := routegraph.Build(
		[]models.Chain{
			chain("alpha", "ETH", 5*time.Second),
			chain("cheap", "ETH", 5*time.Second),
			chain("mid", "ETH", 5*time.Second),
			chain("omega", "ETH", 5*time.Second),
		},
		[]models.Asset{
			asset("alpha", "USDC"),
			asset("cheap", "USDC"),
			asset("mid", "USDC"),
			asset("omega", "USDC"),
		},
		[]models.Action{
			// Two-hop way into mid: $0.10 fee per leg plus gas, well under the
			// $10 fee on the direct bridge.
			bridge("alpha", "cheap", "USDC", 0.0001),
			bridge("cheap", "mid", "USDC", 0.0001),
			bridge("alpha", "mid", "USDC", 0.01),
			bridge("mid", "omega", "USDC", 0.0001),
		},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	e := newEngine(t,
		fakePrices{"ETH": 2000},
		fakeGas{"alpha": 5e-9, "cheap": 5e-9, "mid": 5e-9, "omega": 5e-9},
		Options{MaxHops: 2, MaxAlternates: 0, PrefetchConcurrency: 4},
	)

	req := models.RouteRequest{
		SourceID: "alpha", SourceAsset: "USDC",
		DestID: "omega", DestAsset: "USDC",
		AmountUSD: 1000,
	}
	res, err := e.FindRoutes(context.Background(), g, req)
	if err != nil {
		t.Fatalf("FindRoutes: %v", err)
	}
	if got, want := res.Best.ChainSequence(), []string{"alpha", "mid", "omega"}; !reflect.DeepEqual(got, want) {
		t.Fatalf("chain sequence = %v; want %v", got, want)
	}
}

func TestFindRoutes_SourceEqualsDest(t *testing.T) {
	e := threeChainEngine(t, Options{MaxHops: 4, MaxAlternates: 3, PrefetchConcurrency: 4})
	g := threeChainGraph(t)

	req := models.RouteRequest{
		SourceID: "alpha", SourceAsset: "USDC",
		DestID: "alpha", DestAsset: "USDC",
		AmountUSD: 1000,
	}
	res, err := e.FindRoutes(context.Background(), g, req)
	if err != nil {
		t.Fatalf("FindRoutes: %v", err)
	}
	if len(res.Best.Steps) != 0 || res.Best.TotalCostUSD != 0 || res.Best.TotalLatency != 0 {
		t.Errorf("identity route = %+v; want empty zero-cost route", res.Best)
	}
}

func TestFindRoutes_NoRoute(t *testing.T) {
	e := threeChainEngine(t, Options{MaxHops: 4, MaxAlternates: 3, PrefetchConcurrency: 4})
	g := threeChainGraph(t)

	req := models.RouteRequest{
		SourceID: "alpha", SourceAsset: "USDC",
		DestID: "gamma", DestAsset: "ORPH",
		AmountUSD: 1000,
	}
	_, err := e.FindRoutes(context.Background(), g, req)
	if !errors.Is(err, routerr.ErrNoRouteFound) {
		t.Fatalf("err = %v; want NoRouteFound", err)
	}
}

func TestFindRoutes_UnknownEndpoint(t *testing.T) {
	e := threeChainEngine(t, Options{MaxHops: 4, MaxAlternates: 3, PrefetchConcurrency: 4})
	g := threeChainGraph(t)

	req := models.RouteRequest{
		SourceID: "alpha", SourceAsset: "USDC",
		DestID: "atlantis", DestAsset: "USDC",
		AmountUSD: 1000,
	}
	_, err := e.FindRoutes(context.Background(), g, req)
	if routerr.KindOf(err) != routerr.KindInvalidRequest {
		t.Fatalf("kind = %v; want INVALID_REQUEST", routerr.KindOf(err))
	}
}

func TestFindRoutes_CanceledContext(t *testing.T) {
	e := threeChainEngine(t, Options{MaxHops: 4, MaxAlternates: 3, PrefetchConcurrency: 4})
	g := threeChainGraph(t)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := e.FindRoutes(ctx, g, request(models.PreferCheapest))
	if !errors.Is(err, routerr.ErrTimeout) {
		t.Fatalf("err = %v; want Timeout", err)
	}
}

// TestFindRoutes_TieBreakIsLexicographic pits two structurally identical
// detours against each other; only the middle chain's name differs. The
// search must settle the tie on the chain sequence, not map order.
func TestFindRoutes_TieBreakIsLexicographic(t *testing.T) {
	g, err := routegraph.Build(
		[]models.Chain{
			chain("alpha", "ETH", 5*time.Second),
			chain("mid1", "ETH", 5*time.Second),
			chain("mid2", "ETH", 5*time.Second),
			chain("omega", "ETH", 5*time.Second),
		},
		[]models.Asset{
			asset("alpha", "USDC"),
			asset("mid1", "USDC"),
			asset("mid2", "USDC"),
			asset("omega", "USDC"),
		},
		[]models.Action{
			bridge("alpha", "mid1", "USDC", 0.002),
			bridge("alpha", "mid2", "USDC", 0.002),
			bridge("mid1", "omega", "USDC", 0.002),
			bridge("mid2", "omega", "USDC", 0.002),
		},
	)
	if err != nil {
		t.Fatalf("Build: %v", err)
	}

	e := newEngine(t,
		fakePrices{"ETH": 2000},
		fakeGas{"alpha": 5e-9, "mid1": 5e-9, "mid2": 5e-9, "omega": 5e-9},
		Options{MaxHops: 4, MaxAlternates: 0, PrefetchConcurrency: 4},
	)

	req := models.RouteRequest{
		SourceID: "alpha", SourceAsset: "USDC",
		DestID: "omega", DestAsset: "USDC",
		AmountUSD: 1000,
	}
	want := []string{"alpha", "mid1", "omega"}
	for i := 0; i < 10; i++ {
		res, err := e.FindRoutes(context.Background(), g, req)
		if err != nil {
			t.Fatalf("FindRoutes: %v", err)
		}
		if got := res.Best.ChainSequence(); !reflect.DeepEqual(got, want) {
			t.Fatalf("run %d: chain sequence = %v; want %v", i, got, want)
		}
	}
}
