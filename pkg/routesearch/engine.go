package routesearch

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/mangoweb/nexus-router/pkg/costmodel"
	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/quotecache"
	"github.com/mangoweb/nexus-router/pkg/routegraph"
	"github.com/mangoweb/nexus-router/pkg/routerr"
)

// Options bound one search: hop ceiling, how many alternates to surface, and
// the prefetch pool width.
type Options struct {
	MaxHops             int
	MaxAlternates       int
	PrefetchConcurrency int
}

// Result is the outcome of one optimization: the winning route plus up to
// MaxAlternates viable alternatives, each with a distinct first action.
type Result struct {
	Best       models.Route
	Alternates []models.Route
}

// Engine runs cost-optimal route searches over a static graph with live
// per-query costs. It is stateless across requests; all cross-request reuse
// happens in the quote cache underneath.
type Engine struct {
	model *costmodel.Model
	cache *quotecache.Cache
	opts  Options
}

// New constructs the engine.
func New(model *costmodel.Model, cache *quotecache.Cache, opts Options) *Engine {
	return &Engine{model: model, cache: cache, opts: opts}
}

// FindRoutes resolves the best route for a request and its alternates.
// The caller is expected to have validated the request shape already; this
// method still rejects endpoints the graph does not know.
func (e *Engine) FindRoutes(ctx context.Context, g *routegraph.Graph, req models.RouteRequest) (Result, error) {
	start := time.Now()
	res, err := e.findRoutes(ctx, g, req)
	metrics.SearchLatency.Observe(time.Since(start).Seconds())
	metrics.SearchCounter.WithLabelValues(searchState(err)).Inc()
	return res, err
}

func (e *Engine) findRoutes(ctx context.Context, g *routegraph.Graph, req models.RouteRequest) (Result, error) {
	source, dest := req.Source(), req.Dest()
	if !g.HasNode(source) {
		return Result{}, routerr.New(routerr.KindInvalidRequest,
			fmt.Sprintf("unknown source %s", source))
	}
	if !g.HasNode(dest) {
		return Result{}, routerr.New(routerr.KindInvalidRequest,
			fmt.Sprintf("unknown destination %s", dest))
	}

	// Already holding the requested asset on the requested chain: the empty
	// route wins at zero cost, no quotes needed.
	if source == dest {
		return Result{Best: models.Route{}}, nil
	}

	e.prefetch(ctx, g, source)

	s := &search{
		graph:      g,
		model:      e.model,
		amountUSD:  req.AmountUSD,
		preference: req.Preference,
		maxHops:    e.opts.MaxHops,
		costs:      make(map[string]edgeEval),
	}

	best, err := s.run(ctx, source, dest, nil)
	if err != nil {
		metrics.SearchEdgesExpanded.Observe(float64(s.expanded))
		return Result{}, err
	}

	result := Result{Best: best}
	forbidden := make(map[string]bool)
	seen := map[string]bool{routeSignature(best): true}
	forbidden[firstEdgeKey(best)] = true

	for len(result.Alternates) < e.opts.MaxAlternates {
		alt, err := s.run(ctx, source, dest, forbidden)
		if err != nil {
			if errors.Is(err, routerr.ErrNoRouteFound) {
				break
			}
			// A deadline mid-alternates does not invalidate the best route
			// already found; return what we have.
			logger.Log.Debug("alternate search aborted", zap.Error(err))
			break
		}
		forbidden[firstEdgeKey(alt)] = true
		if sig := routeSignature(alt); !seen[sig] {
			seen[sig] = true
			result.Alternates = append(result.Alternates, alt)
		}
	}

	metrics.SearchEdgesExpanded.Observe(float64(s.expanded))
	return result, nil
}

// prefetch warms gas and native-token price quotes for every chain reachable
// from the source within the hop ceiling, so the first search rarely blocks on
// a cold upstream. Strictly best effort: failures here resurface, if at all,
// when the edge is actually costed.
func (e *Engine) prefetch(ctx context.Context, g *routegraph.Graph, source models.Node) {
	chains := g.ReachableChains(source, e.opts.MaxHops)

	grp, gctx := errgroup.WithContext(ctx)
	grp.SetLimit(e.opts.PrefetchConcurrency)
	for _, id := range chains {
		chain, ok := g.Chain(id)
		if !ok {
			continue
		}
		grp.Go(func() error {
			if _, _, err := e.cache.Gas(gctx, chain.ID); err != nil {
				logger.Log.Debug("gas prefetch failed", zap.String("chain", string(chain.ID)), zap.Error(err))
			}
			return nil
		})
		grp.Go(func() error {
			if _, _, err := e.cache.Price(gctx, chain.NativeToken); err != nil {
				logger.Log.Debug("price prefetch failed", zap.String("symbol", chain.NativeToken), zap.Error(err))
			}
			return nil
		})
	}
	_ = grp.Wait()
}

func searchState(err error) string {
	switch {
	case err == nil:
		return "ok"
	case errors.Is(err, routerr.ErrNoRouteFound):
		return "no_route"
	case errors.Is(err, routerr.ErrTimeout):
		return "timeout"
	case routerr.KindOf(err) == routerr.KindInvalidRequest:
		return "invalid"
	default:
		return "error"
	}
}

func firstEdgeKey(r models.Route) string {
	if len(r.Steps) == 0 {
		return ""
	}
	return r.Steps[0].Action.Key()
}

func routeSignature(r models.Route) string {
	keys := make([]string, len(r.Steps))
	for i, s := range r.Steps {
		keys[i] = s.Action.Key()
	}
	return strings.Join(keys, "|")
}
