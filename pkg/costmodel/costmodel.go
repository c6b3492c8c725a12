package costmodel

import (
	"context"
	"fmt"
	"time"

	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/quotecache"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

// ChainLookup resolves chain reference data; *routegraph.Graph satisfies it.
type ChainLookup interface {
	Chain(models.ChainID) (models.Chain, bool)
}

// Breakdown is the USD cost of one action, split for explanation.
type Breakdown struct {
	GasUSD   float64
	FeeUSD   float64
	TotalUSD float64
}

// Model converts raw gas and price quotes into USD edge costs. It holds no
// quote state of its own; every evaluation reads through the cache so costs
// always reflect quotes inside the staleness bound.
type Model struct {
	cache        *quotecache.Cache
	swapFeePct   float64
	bridgeFeePct float64
}

// New constructs the model with the configured default fee fractions.
func New(cache *quotecache.Cache, swapFeePct, bridgeFeePct float64) *Model {
	return &Model{cache: cache, swapFeePct: swapFeePct, bridgeFeePct: bridgeFeePct}
}

// Cost prices one action for the given transacted USD amount. It fails with
// DataUnavailable when any required quote cannot be obtained rather than
// substituting a default price.
func (m *Model) Cost(ctx context.Context, chains ChainLookup, action models.Action, amountUSD float64) (Breakdown, error) {
	var b Breakdown

	switch action.Kind {
	case models.ActionSwap:
		gas, err := m.gasCostUSD(ctx, chains, action.From.Chain, action.GasLimit)
		if err != nil {
			return b, err
		}
		b.GasUSD = gas
		b.FeeUSD = m.feePct(action, m.swapFeePct) * amountUSD

	case models.ActionBridge:
		origin, err := m.gasCostUSD(ctx, chains, action.From.Chain, action.GasLimit)
		if err != nil {
			return b, err
		}
		dest, err := m.gasCostUSD(ctx, chains, action.To.Chain, action.GasLimit)
		if err != nil {
			return b, err
		}
		b.GasUSD = origin + dest
		b.FeeUSD = m.feePct(action, m.bridgeFeePct) * amountUSD

	case models.ActionTransfer:
		gas, err := m.gasCostUSD(ctx, chains, action.From.Chain, action.GasLimit)
		if err != nil {
			return b, err
		}
		b.GasUSD = gas

	default:
		return b, routerr.New(routerr.KindConfiguration,
			fmt.Sprintf("cannot cost unknown action kind %q", action.Kind))
	}

	b.TotalUSD = b.GasUSD + b.FeeUSD
	return b, nil
}

// gasCostUSD prices gasLimit units of gas on one chain. Conversion to USD
// always goes through the chain's native gas token quote, never the
// transacted asset.
func (m *Model) gasCostUSD(ctx context.Context, chains ChainLookup, chainID models.ChainID, gasLimit uint64) (float64, error) {
	chain, ok := chains.Chain(chainID)
	if !ok {
		return 0, routerr.New(routerr.KindDataUnavailable,
			fmt.Sprintf("unknown chain %q", chainID))
	}

	gasQuote, _, err := m.cache.Gas(ctx, chainID)
	if err != nil {
		return 0, err
	}
	nativePrice, _, err := m.cache.Price(ctx, chain.NativeToken)
	if err != nil {
		return 0, err
	}

	nativeUnits := float64(gasLimit) * gasQuote.NativePrice
	return nativeUnits * nativePrice.USDPrice, nil
}

func (m *Model) feePct(action models.Action, fallback float64) float64 {
	if action.FeePct > 0 {
		return action.FeePct
	}
	return fallback
}

// Latency estimates the wall-clock delay of one action from block-time
// expectations: the origin chain's block time, plus the destination's for a
// bridge.
func Latency(chains ChainLookup, action models.Action) time.Duration {
	var total time.Duration
	if c, ok := chains.Chain(action.From.Chain); ok {
		total += c.BlockTime
	}
	if action.Kind == models.ActionBridge {
		if c, ok := chains.Chain(action.To.Chain); ok {
			total += c.BlockTime
		}
	}
	return total
}
