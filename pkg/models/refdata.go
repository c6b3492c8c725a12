package models

import (
	"fmt"
	"time"

	"github.com/mangoweb/nexus-router/pkg/validation"
)

// ChainID identifies a supported blockchain network, e.g. "ethereum".
type ChainID string

// Chain is immutable reference data for one network, loaded at startup.
type Chain struct {
	ID          ChainID       `json:"id" yaml:"id" validate:"required,chainid"`
	DisplayName string        `json:"display_name" yaml:"display_name" validate:"required"`
	NativeToken string        `json:"native_token" yaml:"native_token" validate:"required,assetsym"`
	BlockTime   time.Duration `json:"avg_block_time" yaml:"avg_block_time" validate:"required"`
	NetworkID   int64         `json:"network_id,omitempty" yaml:"network_id"`
	ExplorerURL string        `json:"explorer_url,omitempty" yaml:"explorer_url"`
}

// Validate validates the Chain struct
func (c Chain) Validate() error {
	if errs := validation.ValidateStruct(c); len(errs) > 0 {
		return errs
	}
	return nil
}

// Asset is immutable, chain-scoped reference data for one token.
type Asset struct {
	Chain       ChainID `json:"chain" yaml:"chain" validate:"required,chainid"`
	Symbol      string  `json:"symbol" yaml:"symbol" validate:"required,assetsym"`
	Decimals    int     `json:"decimals" yaml:"decimals" validate:"gte=0,lte=36"`
	CoinGeckoID string  `json:"coingecko_id,omitempty" yaml:"coingecko_id"`
}

// Validate validates the Asset struct
func (a Asset) Validate() error {
	if errs := validation.ValidateStruct(a); len(errs) > 0 {
		return errs
	}
	return nil
}

// Node is a (chain, asset) pair, one vertex of the route graph.
type Node struct {
	Chain ChainID `json:"chain"`
	Asset string  `json:"asset"`
}

func (n Node) String() string {
	return string(n.Chain) + "/" + n.Asset
}

// ActionKind is the closed set of edge types. The set is fixed by protocol
// semantics, not extensible at runtime.
type ActionKind string

const (
	// ActionSwap exchanges one asset for another on the same chain.
	ActionSwap ActionKind = "swap"
	// ActionBridge moves an asset's value across chains.
	ActionBridge ActionKind = "bridge"
	// ActionTransfer moves the same asset on the same chain to another owner.
	ActionTransfer ActionKind = "transfer"
)

// Action is one typed edge of the route graph. Defined once from static
// protocol metadata and never mutated; only its resolved cost is
// time-varying, via (chain, asset) quote lookups at query time.
type Action struct {
	Kind     ActionKind `json:"kind" yaml:"kind" validate:"required"`
	From     Node       `json:"from" yaml:"from"`
	To       Node       `json:"to" yaml:"to"`
	GasLimit uint64     `json:"gas_limit" yaml:"gas_limit" validate:"required,gt=0"`
	// FeePct overrides the configured default fee percentage for swap and
	// bridge actions when non-zero. Expressed as a fraction, e.g. 0.003.
	FeePct   float64 `json:"fee_pct,omitempty" yaml:"fee_pct" validate:"gte=0,lt=1"`
	Protocol string  `json:"protocol,omitempty" yaml:"protocol"`
}

// Validate checks the per-kind shape constraints in addition to field tags.
func (a Action) Validate() error {
	if errs := validation.ValidateStruct(a); len(errs) > 0 {
		return errs
	}
	switch a.Kind {
	case ActionSwap:
		if a.From.Chain != a.To.Chain {
			return fmt.Errorf("swap %s -> %s crosses chains", a.From, a.To)
		}
		if a.From.Asset == a.To.Asset {
			return fmt.Errorf("swap %s -> %s does not change asset", a.From, a.To)
		}
	case ActionBridge:
		if a.From.Chain == a.To.Chain {
			return fmt.Errorf("bridge %s -> %s stays on one chain", a.From, a.To)
		}
	case ActionTransfer:
		if a.From.Chain != a.To.Chain || a.From.Asset != a.To.Asset {
			return fmt.Errorf("transfer %s -> %s must keep chain and asset", a.From, a.To)
		}
	default:
		return fmt.Errorf("unknown action kind %q", a.Kind)
	}
	return nil
}

// Key uniquely identifies the edge between a node pair. Duplicate actions
// between the same pair are rejected at registry load.
func (a Action) Key() string {
	return a.From.String() + "->" + a.To.String()
}
