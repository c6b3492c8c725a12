package registry

import (
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/routegraph"
	"github.com/mangoweb/nexus-router/pkg/routerr"
	"github.com/mangoweb/nexus-router/pkg/validation"
	"go.uber.org/zap"
)

// Endpoint is per-chain upstream wiring: where to ask for gas prices.
type Endpoint struct {
	RPCURL string // EVM JSON-RPC endpoint; ${VAR} expanded from environment
	Oracle string // "evm" or "http"
}

// Snapshot is one immutable, validated view of the registry. In-flight
// searches hold the snapshot they started with; Reload swaps the pointer for
// new requests only.
type Snapshot struct {
	Graph     *routegraph.Graph
	Endpoints map[models.ChainID]Endpoint
	// PriceIDs maps asset symbols to external price-feed identifiers
	// (CoinGecko ids), covering native gas tokens and registered assets.
	PriceIDs map[string]string
	LoadedAt time.Time
}

// Handle owns the active snapshot and the file it came from.
type Handle struct {
	path string
	cur  atomic.Pointer[Snapshot]
}

// Open loads and validates the registry file. Errors here are fatal: a
// process must not start on a malformed registry.
func Open(path string) (*Handle, error) {
	snap, err := load(path)
	if err != nil {
		return nil, err
	}
	h := &Handle{path: path}
	h.cur.Store(snap)
	metrics.RegistryActions.Set(float64(snap.Graph.ActionCount()))
	return h, nil
}

// Current returns the active snapshot. Callers keep it for the lifetime of
// one request and never re-fetch mid-search.
func (h *Handle) Current() *Snapshot {
	return h.cur.Load()
}

// Reload re-reads the registry file and atomically swaps the snapshot. A
// malformed file leaves the active snapshot untouched.
func (h *Handle) Reload() error {
	snap, err := load(h.path)
	if err != nil {
		metrics.RegistryReloads.WithLabelValues("error").Inc()
		return err
	}
	h.cur.Store(snap)
	metrics.RegistryReloads.WithLabelValues("success").Inc()
	metrics.RegistryActions.Set(float64(snap.Graph.ActionCount()))
	logger.Log.Info("registry reloaded",
		zap.Int("chains", len(snap.Graph.Chains())),
		zap.Int("actions", snap.Graph.ActionCount()))
	return nil
}

// File-format types. Durations are strings ("13s", "2200ms") so the YAML
// stays human-editable.
type fileFormat struct {
	Chains  []chainSpec  `yaml:"chains"`
	Assets  []assetSpec  `yaml:"assets"`
	Actions []actionSpec `yaml:"actions"`
}

type chainSpec struct {
	ID           string `yaml:"id"`
	DisplayName  string `yaml:"display_name"`
	NativeToken  string `yaml:"native_token"`
	AvgBlockTime string `yaml:"avg_block_time"`
	NetworkID    int64  `yaml:"network_id"`
	ExplorerURL  string `yaml:"explorer_url"`
	RPCURL       string `yaml:"rpc_url"`
	GasOracle    string `yaml:"gas_oracle"` // "evm" (default when rpc_url set) or "http"
	CoinGeckoID  string `yaml:"coingecko_id"`
}

type assetSpec struct {
	Chain       string `yaml:"chain"`
	Symbol      string `yaml:"symbol"`
	Decimals    int    `yaml:"decimals"`
	CoinGeckoID string `yaml:"coingecko_id"`
}

type actionSpec struct {
	Kind     string   `yaml:"kind"`
	From     nodeSpec `yaml:"from"`
	To       nodeSpec `yaml:"to"`
	GasLimit uint64   `yaml:"gas_limit"`
	FeePct   float64  `yaml:"fee_pct"`
	Protocol string   `yaml:"protocol"`
}

type nodeSpec struct {
	Chain string `yaml:"chain"`
	Asset string `yaml:"asset"`
}

func load(path string) (*Snapshot, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, routerr.Wrap(routerr.KindConfiguration, err, "read registry file")
	}

	var ff fileFormat
	if err := yaml.Unmarshal(raw, &ff); err != nil {
		return nil, routerr.Wrap(routerr.KindConfiguration, err, "parse registry file")
	}
	if len(ff.Chains) == 0 {
		return nil, routerr.New(routerr.KindConfiguration, "registry defines no chains")
	}

	chains := make([]models.Chain, 0, len(ff.Chains))
	endpoints := make(map[models.ChainID]Endpoint, len(ff.Chains))
	priceIDs := make(map[string]string)

	for _, cs := range ff.Chains {
		blockTime, err := time.ParseDuration(cs.AvgBlockTime)
		if err != nil {
			return nil, routerr.Wrap(routerr.KindConfiguration, err,
				fmt.Sprintf("chain %q avg_block_time", cs.ID))
		}
		chains = append(chains, models.Chain{
			ID:          models.ChainID(cs.ID),
			DisplayName: validation.SanitizeString(cs.DisplayName),
			NativeToken: cs.NativeToken,
			BlockTime:   blockTime,
			NetworkID:   cs.NetworkID,
			ExplorerURL: cs.ExplorerURL,
		})

		oracle := cs.GasOracle
		if oracle == "" {
			if cs.RPCURL != "" {
				oracle = "evm"
			} else {
				oracle = "http"
			}
		}
		if oracle != "evm" && oracle != "http" {
			return nil, routerr.New(routerr.KindConfiguration,
				fmt.Sprintf("chain %q gas_oracle must be \"evm\" or \"http\"", cs.ID))
		}
		if oracle == "evm" && cs.RPCURL == "" {
			return nil, routerr.New(routerr.KindConfiguration,
				fmt.Sprintf("chain %q uses the evm oracle but has no rpc_url", cs.ID))
		}
		endpoints[models.ChainID(cs.ID)] = Endpoint{
			RPCURL: os.ExpandEnv(cs.RPCURL),
			Oracle: oracle,
		}

		if cs.CoinGeckoID != "" {
			priceIDs[cs.NativeToken] = cs.CoinGeckoID
		}
	}

	assets := make([]models.Asset, 0, len(ff.Assets))
	for _, as := range ff.Assets {
		assets = append(assets, models.Asset{
			Chain:       models.ChainID(as.Chain),
			Symbol:      as.Symbol,
			Decimals:    as.Decimals,
			CoinGeckoID: as.CoinGeckoID,
		})
		if as.CoinGeckoID != "" {
			priceIDs[as.Symbol] = as.CoinGeckoID
		}
	}

	actions := make([]models.Action, 0, len(ff.Actions))
	for _, as := range ff.Actions {
		actions = append(actions, models.Action{
			Kind:     models.ActionKind(as.Kind),
			From:     models.Node{Chain: models.ChainID(as.From.Chain), Asset: as.From.Asset},
			To:       models.Node{Chain: models.ChainID(as.To.Chain), Asset: as.To.Asset},
			GasLimit: as.GasLimit,
			FeePct:   as.FeePct,
			Protocol: validation.SanitizeString(as.Protocol),
		})
	}

	graph, err := routegraph.Build(chains, assets, actions)
	if err != nil {
		return nil, err
	}

	// Every chain's native token needs a price id, or its gas cost can never
	// be converted to USD.
	for _, c := range chains {
		if _, ok := priceIDs[c.NativeToken]; !ok {
			return nil, routerr.New(routerr.KindConfiguration,
				fmt.Sprintf("no price feed id for native token %q of chain %q", c.NativeToken, c.ID))
		}
	}

	return &Snapshot{
		Graph:     graph,
		Endpoints: endpoints,
		PriceIDs:  priceIDs,
		LoadedAt:  time.Now(),
	}, nil
}
