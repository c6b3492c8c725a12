package routesearch

import (
	"container/heap"
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/mangoweb/nexus-router/pkg/costmodel"
	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/routegraph"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

// edgeEval memoizes one action's evaluation for the lifetime of a request, so
// the best search and its alternate re-runs price each edge at most once and
// all of them see identical numbers.
type edgeEval struct {
	cost     costmodel.Breakdown
	latency  time.Duration
	excluded bool
}

// search is the per-request state shared between the best-route run and the
// alternate runs.
type search struct {
	graph      *routegraph.Graph
	model      *costmodel.Model
	amountUSD  float64
	preference models.Preference
	maxHops    int

	costs    map[string]edgeEval
	expanded int
}

// state is one frontier entry in the priority queue.
type state struct {
	node    models.Node
	steps   []models.RouteStep
	costUSD float64
	latency time.Duration
	hops    int
	// seqKey is the chain sequence walked so far, used as the final
	// deterministic tie-break.
	seqKey string
}

func (s *search) objective(costUSD float64, latency time.Duration) (primary, secondary float64) {
	if s.preference == models.PreferFastest {
		return latency.Seconds(), costUSD
	}
	return costUSD, latency.Seconds()
}

type frontier struct {
	items []*state
	s     *search
}

func (f *frontier) Len() int { return len(f.items) }

func (f *frontier) Less(i, j int) bool {
	a, b := f.items[i], f.items[j]
	ap, as := f.s.objective(a.costUSD, a.latency)
	bp, bs := f.s.objective(b.costUSD, b.latency)
	if ap != bp {
		return ap < bp
	}
	if as != bs {
		return as < bs
	}
	return a.seqKey < b.seqKey
}

func (f *frontier) Swap(i, j int)      { f.items[i], f.items[j] = f.items[j], f.items[i] }
func (f *frontier) Push(x interface{}) { f.items = append(f.items, x.(*state)) }
func (f *frontier) Pop() interface{} {
	old := f.items
	n := len(old)
	item := old[n-1]
	old[n-1] = nil
	f.items = old[:n-1]
	return item
}

// run executes one uniform-cost search from source to dest. Edges whose key
// appears in forbidden are skipped, which is how alternate routes are forced
// onto a different opening action. Edge costs come from the live cost model;
// an edge with no usable quote is excluded for the rest of the request
// instead of failing the whole search.
func (s *search) run(ctx context.Context, source, dest models.Node, forbidden map[string]bool) (models.Route, error) {
	f := &frontier{s: s}
	heap.Init(f)
	heap.Push(f, &state{node: source, seqKey: string(source.Chain)})

	// settled records the fewest hops at which a node has been expanded.
	// Pruning on the node alone would be wrong under a hop ceiling: a cheap
	// many-hop arrival can claim a node it has no budget left to expand,
	// shadowing a pricier short arrival that still reaches the destination.
	// A state is dominated only by an earlier one with no more hops.
	settled := make(map[models.Node]int)

	for f.Len() > 0 {
		if err := ctx.Err(); err != nil {
			return models.Route{}, routerr.Wrap(routerr.KindTimeout, err, "search deadline exceeded")
		}

		cur := heap.Pop(f).(*state)
		if h, ok := settled[cur.node]; ok && h <= cur.hops {
			continue
		}
		settled[cur.node] = cur.hops

		if cur.node == dest {
			return models.Route{
				Steps:        cur.steps,
				TotalCostUSD: cur.costUSD,
				TotalLatency: cur.latency,
			}, nil
		}
		if cur.hops >= s.maxHops {
			continue
		}

		for _, edge := range s.graph.Neighbors(cur.node) {
			if h, ok := settled[edge.To]; ok && h <= cur.hops+1 {
				continue
			}
			if forbidden[edge.Action.Key()] {
				continue
			}
			ev, err := s.evalEdge(ctx, edge.Action)
			if err != nil {
				return models.Route{}, err
			}
			if ev.excluded {
				continue
			}

			steps := make([]models.RouteStep, len(cur.steps), len(cur.steps)+1)
			copy(steps, cur.steps)
			steps = append(steps, models.RouteStep{
				Action:  edge.Action,
				CostUSD: ev.cost.TotalUSD,
				Latency: ev.latency,
			})
			heap.Push(f, &state{
				node:    edge.To,
				steps:   steps,
				costUSD: cur.costUSD + ev.cost.TotalUSD,
				latency: cur.latency + ev.latency,
				hops:    cur.hops + 1,
				seqKey:  cur.seqKey + ">" + string(edge.To.Chain),
			})
		}
	}

	return models.Route{}, routerr.New(routerr.KindNoRouteFound,
		fmt.Sprintf("no route from %s to %s within %d hops", source, dest, s.maxHops))
}

// evalEdge prices one action, memoized per request. A DataUnavailable result
// excludes the edge; a caller deadline aborts the search.
func (s *search) evalEdge(ctx context.Context, action models.Action) (edgeEval, error) {
	key := action.Key()
	if ev, ok := s.costs[key]; ok {
		return ev, nil
	}
	s.expanded++

	cost, err := s.model.Cost(ctx, s.graph, action, s.amountUSD)
	if err != nil {
		if ctx.Err() != nil {
			return edgeEval{}, routerr.Wrap(routerr.KindTimeout, err, "search deadline exceeded")
		}
		if errors.Is(err, routerr.ErrDataUnavailable) {
			metrics.SearchEdgesExcluded.Inc()
			logger.Log.Warn("edge excluded, no usable quote",
				zap.String("action", key), zap.Error(err))
			ev := edgeEval{excluded: true}
			s.costs[key] = ev
			return ev, nil
		}
		return edgeEval{}, err
	}

	ev := edgeEval{cost: cost, latency: costmodel.Latency(s.graph, action)}
	s.costs[key] = ev
	return ev, nil
}
