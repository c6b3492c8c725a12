package quotecache

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

type countingPrices struct {
	mu    sync.Mutex
	calls int32
	price float64
	err   error
	block chan struct{} // when set, FetchPrice waits on it
}

func (f *countingPrices) FetchPrice(ctx context.Context, symbol string) (models.PriceQuote, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.block != nil {
		select {
		case <-f.block:
		case <-ctx.Done():
			return models.PriceQuote{}, ctx.Err()
		}
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return models.PriceQuote{}, f.err
	}
	return models.PriceQuote{Symbol: symbol, USDPrice: f.price, Timestamp: time.Now(), Source: "test"}, nil
}

func (f *countingPrices) setErr(err error) {
	f.mu.Lock()
	f.err = err
	f.mu.Unlock()
}

type noGas struct{}

func (noGas) FetchGas(context.Context, models.ChainID) (models.GasQuote, error) {
	return models.GasQuote{}, errors.New("not wired in this test")
}

func defaultOptions() Options {
	return Options{
		PriceStaleAfter: time.Minute,
		GasStaleAfter:   30 * time.Second,
		Expiry:          5 * time.Minute,
	}
}

func TestPrice_FreshHitSkipsUpstream(t *testing.T) {
	prices := &countingPrices{price: 2500}
	c := New(prices, noGas{}, defaultOptions(), nil)

	if _, _, err := c.Price(context.Background(), "ETH"); err != nil {
		t.Fatalf("first Price: %v", err)
	}
	if _, _, err := c.Price(context.Background(), "ETH"); err != nil {
		t.Fatalf("second Price: %v", err)
	}
	if n := atomic.LoadInt32(&prices.calls); n != 1 {
		t.Errorf("upstream calls = %d; want 1", n)
	}
}

func TestPrice_ConcurrentCallersShareOneFetch(t *testing.T) {
	prices := &countingPrices{price: 2500, block: make(chan struct{})}
	c := New(prices, noGas{}, defaultOptions(), nil)

	const callers = 8
	var wg sync.WaitGroup
	errs := make([]error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			_, _, errs[i] = c.Price(context.Background(), "ETH")
		}(i)
	}

	// Let every caller reach the in-flight fetch before releasing it.
	time.Sleep(50 * time.Millisecond)
	close(prices.block)
	wg.Wait()

	for i, err := range errs {
		if err != nil {
			t.Errorf("caller %d: %v", i, err)
		}
	}
	if n := atomic.LoadInt32(&prices.calls); n != 1 {
		t.Errorf("upstream calls = %d; want 1 shared fetch", n)
	}
}

func TestPrice_StaleFallbackWithinCeiling(t *testing.T) {
	prices := &countingPrices{price: 2500}
	c := New(prices, noGas{}, defaultOptions(), nil)

	if _, _, err := c.Price(context.Background(), "ETH"); err != nil {
		t.Fatalf("seed Price: %v", err)
	}

	// Two minutes later the quote is stale but inside the expiry ceiling,
	// and the upstream is now failing.
	c.now = func() time.Time { return time.Now().Add(2 * time.Minute) }
	prices.setErr(errors.New("upstream down"))

	q, stale, err := c.Price(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if !stale {
		t.Error("stale = false; want true after refresh failure")
	}
	if q.USDPrice != 2500 {
		t.Errorf("USDPrice = %v; want the cached 2500", q.USDPrice)
	}
}

func TestPrice_ExpiredQuoteIsNeverServed(t *testing.T) {
	prices := &countingPrices{price: 2500}
	c := New(prices, noGas{}, defaultOptions(), nil)

	if _, _, err := c.Price(context.Background(), "ETH"); err != nil {
		t.Fatalf("seed Price: %v", err)
	}

	c.now = func() time.Time { return time.Now().Add(10 * time.Minute) }
	prices.setErr(errors.New("upstream down"))

	_, _, err := c.Price(context.Background(), "ETH")
	if !errors.Is(err, routerr.ErrDataUnavailable) {
		t.Fatalf("err = %v; want DataUnavailable past the expiry ceiling", err)
	}
}

func TestPrice_CallerDeadlineDoesNotKillSharedRefresh(t *testing.T) {
	prices := &countingPrices{price: 2500, block: make(chan struct{})}
	c := New(prices, noGas{}, defaultOptions(), nil)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if _, _, err := c.Price(ctx, "ETH"); err == nil {
		t.Fatal("expected deadline error for the abandoning caller")
	}

	// Release the fetch; the detached refresh should still populate the cache.
	close(prices.block)

	deadline := time.After(time.Second)
	for {
		q, stale, err := c.Price(context.Background(), "ETH")
		if err == nil && !stale && q.USDPrice == 2500 {
			break
		}
		select {
		case <-deadline:
			t.Fatalf("cache never populated by detached refresh (last: %v %v %v)", q, stale, err)
		case <-time.After(10 * time.Millisecond):
		}
	}
}

func TestStorePrice_OlderTickDoesNotOverwrite(t *testing.T) {
	c := New(&countingPrices{}, noGas{}, defaultOptions(), nil)

	now := time.Now()
	c.StorePrice(models.PriceQuote{Symbol: "ETH", USDPrice: 2600, Timestamp: now, Source: "ws"})
	c.StorePrice(models.PriceQuote{Symbol: "ETH", USDPrice: 2400, Timestamp: now.Add(-time.Second), Source: "ws"})

	q, _, err := c.Price(context.Background(), "ETH")
	if err != nil {
		t.Fatalf("Price: %v", err)
	}
	if q.USDPrice != 2600 {
		t.Errorf("USDPrice = %v; want 2600 from the newer tick", q.USDPrice)
	}
}
