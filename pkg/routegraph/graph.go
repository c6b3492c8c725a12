package routegraph

import (
	"fmt"
	"sort"

	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

// Edge pairs an action with its destination node, as returned by Neighbors.
type Edge struct {
	Action models.Action
	To     models.Node
}

// Graph is the static route topology: nodes are (chain, asset) pairs, edges
// are actions. Immutable after Build, so it is shared across concurrent
// searches with no locking. Live costs are resolved per query, never stored
// here.
type Graph struct {
	chains map[models.ChainID]models.Chain
	assets map[models.Node]models.Asset
	edges  map[models.Node][]Edge
	nEdges int
}

// Build validates the reference data and assembles the graph. Any dangling
// reference or duplicate definition is a configuration error: fail fast at
// startup, not at query time.
func Build(chains []models.Chain, assets []models.Asset, actions []models.Action) (*Graph, error) {
	g := &Graph{
		chains: make(map[models.ChainID]models.Chain, len(chains)),
		assets: make(map[models.Node]models.Asset, len(assets)),
		edges:  make(map[models.Node][]Edge),
	}

	for _, c := range chains {
		if err := c.Validate(); err != nil {
			return nil, routerr.Wrap(routerr.KindConfiguration, err, fmt.Sprintf("chain %q", c.ID))
		}
		if _, dup := g.chains[c.ID]; dup {
			return nil, routerr.New(routerr.KindConfiguration, fmt.Sprintf("duplicate chain %q", c.ID))
		}
		g.chains[c.ID] = c
	}

	for _, a := range assets {
		if err := a.Validate(); err != nil {
			return nil, routerr.Wrap(routerr.KindConfiguration, err, fmt.Sprintf("asset %s/%s", a.Chain, a.Symbol))
		}
		if _, ok := g.chains[a.Chain]; !ok {
			return nil, routerr.New(routerr.KindConfiguration,
				fmt.Sprintf("asset %s references unknown chain %q", a.Symbol, a.Chain))
		}
		node := models.Node{Chain: a.Chain, Asset: a.Symbol}
		if _, dup := g.assets[node]; dup {
			return nil, routerr.New(routerr.KindConfiguration, fmt.Sprintf("duplicate asset %s", node))
		}
		g.assets[node] = a
	}

	seen := make(map[string]bool, len(actions))
	for _, act := range actions {
		if err := act.Validate(); err != nil {
			return nil, routerr.Wrap(routerr.KindConfiguration, err, "invalid action")
		}
		if _, ok := g.assets[act.From]; !ok {
			return nil, routerr.New(routerr.KindConfiguration,
				fmt.Sprintf("action %s references unknown node %s", act.Key(), act.From))
		}
		if _, ok := g.assets[act.To]; !ok {
			return nil, routerr.New(routerr.KindConfiguration,
				fmt.Sprintf("action %s references unknown node %s", act.Key(), act.To))
		}
		if seen[act.Key()] {
			return nil, routerr.New(routerr.KindConfiguration,
				fmt.Sprintf("duplicate action between %s and %s", act.From, act.To))
		}
		seen[act.Key()] = true
		g.edges[act.From] = append(g.edges[act.From], Edge{Action: act, To: act.To})
		g.nEdges++
	}

	// Neighbor order is part of the determinism contract: ties in the search
	// must not depend on map iteration order.
	for node := range g.edges {
		es := g.edges[node]
		sort.Slice(es, func(i, j int) bool { return es[i].To.String() < es[j].To.String() })
	}

	return g, nil
}

// Neighbors returns the outgoing edges of a node. The returned slice is
// shared and must not be mutated.
func (g *Graph) Neighbors(n models.Node) []Edge {
	return g.edges[n]
}

// HasNode reports whether the (chain, asset) pair exists in the registry.
func (g *Graph) HasNode(n models.Node) bool {
	_, ok := g.assets[n]
	return ok
}

// Chain looks up chain reference data.
func (g *Graph) Chain(id models.ChainID) (models.Chain, bool) {
	c, ok := g.chains[id]
	return c, ok
}

// Asset looks up asset reference data for a node.
func (g *Graph) Asset(n models.Node) (models.Asset, bool) {
	a, ok := g.assets[n]
	return a, ok
}

// Chains returns all chains sorted by ID.
func (g *Graph) Chains() []models.Chain {
	out := make([]models.Chain, 0, len(g.chains))
	for _, c := range g.chains {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Assets returns all assets sorted by node.
func (g *Graph) Assets() []models.Asset {
	out := make([]models.Asset, 0, len(g.assets))
	for _, a := range g.assets {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool {
		ni := models.Node{Chain: out[i].Chain, Asset: out[i].Symbol}
		nj := models.Node{Chain: out[j].Chain, Asset: out[j].Symbol}
		return ni.String() < nj.String()
	})
	return out
}

// ActionCount returns the number of edges in the graph.
func (g *Graph) ActionCount() int {
	return g.nEdges
}

// ReachableChains walks the topology breadth-first from a node, ignoring
// costs, and reports every chain touchable within maxHops. The search engine
// prefetches native-token quotes for exactly this set.
func (g *Graph) ReachableChains(from models.Node, maxHops int) []models.ChainID {
	type depthNode struct {
		node  models.Node
		depth int
	}
	seen := map[models.Node]bool{from: true}
	chains := map[models.ChainID]bool{from.Chain: true}
	queue := []depthNode{{node: from}}

	for len(queue) > 0 {
		cur := queue[0]
		queue = queue[1:]
		if cur.depth >= maxHops {
			continue
		}
		for _, e := range g.edges[cur.node] {
			chains[e.To.Chain] = true
			if !seen[e.To] {
				seen[e.To] = true
				queue = append(queue, depthNode{node: e.To, depth: cur.depth + 1})
			}
		}
	}

	out := make([]models.ChainID, 0, len(chains))
	for id := range chains {
		out = append(out, id)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}
