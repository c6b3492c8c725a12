package quotecache

import (
	"context"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mangoweb/nexus-router/pkg/gasoracle"
	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/marketdata"
	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/routerr"
	"go.uber.org/zap"
)

// PriceKey builds the cache key for an asset's USD price. Prices are keyed
// by symbol, not (chain, symbol): ETH on mainnet and ETH on optimism share
// one quote.
func PriceKey(symbol string) string { return "price:" + symbol }

// GasKey builds the cache key for a chain's gas price.
func GasKey(chain models.ChainID) string { return "gas:" + string(chain) }

// Options are the cache lifecycle thresholds. A quote older than its
// StaleAfter triggers a refresh; a quote older than Expiry is never served,
// even as a fallback.
type Options struct {
	PriceStaleAfter time.Duration
	GasStaleAfter   time.Duration
	Expiry          time.Duration
}

type entry struct {
	price *models.PriceQuote
	gas   *models.GasQuote
}

func (e entry) timestamp() time.Time {
	if e.price != nil {
		return e.price.Timestamp
	}
	return e.gas.Timestamp
}

// Cache is the process-wide quote store in front of the market data and gas
// oracle clients. Entries are superseded, never mutated. The per-key
// singleflight group is the only cross-request synchronization: concurrent
// callers of a refreshing key share one upstream call, and no global lock
// guards the whole cache.
type Cache struct {
	prices marketdata.Client
	gas    gasoracle.Client
	opts   Options
	mirror *Mirror // nil when no redis is configured

	mu      sync.RWMutex
	entries map[string]entry
	group   singleflight.Group

	now func() time.Time
}

// New constructs the cache. mirror may be nil.
func New(prices marketdata.Client, gas gasoracle.Client, opts Options, mirror *Mirror) *Cache {
	return &Cache{
		prices:  prices,
		gas:     gas,
		opts:    opts,
		mirror:  mirror,
		entries: make(map[string]entry),
		now:     time.Now,
	}
}

// Price returns the freshest USD price quote for a symbol. The returned bool
// marks a quote served stale after a refresh failure (still within the
// expiry ceiling).
func (c *Cache) Price(ctx context.Context, symbol string) (models.PriceQuote, bool, error) {
	e, stale, err := c.get(ctx, PriceKey(symbol), "price", c.opts.PriceStaleAfter, func(refreshCtx context.Context) (entry, error) {
		q, err := c.prices.FetchPrice(refreshCtx, symbol)
		if err != nil {
			return entry{}, err
		}
		return entry{price: &q}, nil
	})
	if err != nil {
		return models.PriceQuote{}, false, err
	}
	return *e.price, stale, nil
}

// Gas returns the freshest gas quote for a chain.
func (c *Cache) Gas(ctx context.Context, chain models.ChainID) (models.GasQuote, bool, error) {
	e, stale, err := c.get(ctx, GasKey(chain), "gas", c.opts.GasStaleAfter, func(refreshCtx context.Context) (entry, error) {
		q, err := c.gas.FetchGas(refreshCtx, chain)
		if err != nil {
			return entry{}, err
		}
		return entry{gas: &q}, nil
	})
	if err != nil {
		return models.GasQuote{}, false, err
	}
	return *e.gas, stale, nil
}

// StorePrice accepts an unsolicited quote from the streaming feed. Older
// ticks never overwrite newer ones.
func (c *Cache) StorePrice(q models.PriceQuote) {
	key := PriceKey(q.Symbol)
	c.mu.Lock()
	if cur, ok := c.entries[key]; ok && cur.timestamp().After(q.Timestamp) {
		c.mu.Unlock()
		return
	}
	c.entries[key] = entry{price: &q}
	c.mu.Unlock()
	if c.mirror != nil {
		c.mirror.PublishPrice(q)
	}
}

// get implements the shared read-through path: fresh hit, singleflight
// refresh on miss or staleness, stale fallback within the expiry ceiling.
func (c *Cache) get(ctx context.Context, key, kind string, staleAfter time.Duration,
	refresh func(context.Context) (entry, error)) (entry, bool, error) {

	c.mu.RLock()
	cur, ok := c.entries[key]
	c.mu.RUnlock()

	now := c.now()
	if ok {
		age := now.Sub(cur.timestamp())
		if age <= staleAfter {
			metrics.CacheHits.WithLabelValues(kind).Inc()
			return cur, false, nil
		}
	}
	metrics.CacheMisses.WithLabelValues(kind).Inc()

	fresh, err := c.refreshKey(ctx, key, refresh)
	if err == nil {
		return fresh, false, nil
	}
	if ctx.Err() != nil {
		// The caller's deadline elapsed while waiting; the shared refresh
		// keeps running and its result stays valid for later requests.
		return entry{}, false, ctx.Err()
	}

	// Refresh failed: fall back to the last known value if it is still
	// inside the hard ceiling.
	if ok {
		age := now.Sub(cur.timestamp())
		if age <= c.opts.Expiry {
			metrics.CacheStaleServed.WithLabelValues(kind).Inc()
			logger.Log.Warn("serving stale quote after refresh failure",
				zap.String("key", key),
				zap.Duration("age", age),
				zap.Error(err))
			return cur, true, nil
		}
		metrics.CacheExpired.WithLabelValues(kind).Inc()
	}

	return entry{}, false, routerr.Wrap(routerr.KindDataUnavailable, err,
		fmt.Sprintf("no usable quote for %s", key))
}

// refreshKey funnels all refreshes for one key through singleflight and
// detaches the upstream call from the individual caller's cancellation, so
// one abandoned request cannot kill a refresh other callers are waiting on.
// The clients bound their own upstream timeout.
func (c *Cache) refreshKey(ctx context.Context, key string, refresh func(context.Context) (entry, error)) (entry, error) {
	ch := c.group.DoChan(key, func() (interface{}, error) {
		e, err := refresh(context.WithoutCancel(ctx))
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[key] = e
		c.mu.Unlock()
		if c.mirror != nil {
			if e.price != nil {
				c.mirror.PublishPrice(*e.price)
			} else if e.gas != nil {
				c.mirror.PublishGas(*e.gas)
			}
		}
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return entry{}, res.Err
		}
		if res.Shared {
			metrics.SingleflightShared.Inc()
		}
		return res.Val.(entry), nil
	case <-ctx.Done():
		return entry{}, ctx.Err()
	}
}
