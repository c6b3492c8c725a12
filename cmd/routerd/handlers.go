package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mangoweb/nexus-router/pkg/config"
	"github.com/mangoweb/nexus-router/pkg/explain"
	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/quotecache"
	"github.com/mangoweb/nexus-router/pkg/redisclient"
	"github.com/mangoweb/nexus-router/pkg/registry"
	"github.com/mangoweb/nexus-router/pkg/routerr"
	"github.com/mangoweb/nexus-router/pkg/routesearch"
)

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Data    interface{} `json:"data,omitempty"`
	Error   *ErrorBody  `json:"error,omitempty"`
}

// ErrorBody carries the machine-readable error category next to the message.
type ErrorBody struct {
	Code    routerr.Kind `json:"code"`
	Message string       `json:"message"`
}

// RouteResponse is the payload of a successful optimization.
type RouteResponse struct {
	RequestID   string            `json:"request_id"`
	Preference  models.Preference `json:"preference"`
	Route       models.Route      `json:"route"`
	Alternates  []models.Route    `json:"alternates,omitempty"`
	Facts       models.FactSet    `json:"facts"`
	Explanation string            `json:"explanation,omitempty"`
}

// ChainInfo is one entry of the chain listing.
type ChainInfo struct {
	ID          models.ChainID `json:"id"`
	DisplayName string         `json:"display_name"`
	NativeToken string         `json:"native_token"`
	BlockTimeMs int64          `json:"avg_block_time_ms"`
	ExplorerURL string         `json:"explorer_url,omitempty"`
	Assets      []string       `json:"assets"`
}

// ChainMetrics is the live quote view for one chain.
type ChainMetrics struct {
	Chain          models.ChainID `json:"chain"`
	GasPriceNative float64        `json:"gas_price_native"`
	GasSource      string         `json:"gas_source"`
	GasStale       bool           `json:"gas_stale"`
	Congestion     float64        `json:"congestion_zscore"`
	NativeToken    string         `json:"native_token"`
	NativeUSD      float64        `json:"native_usd"`
	PriceStale     bool           `json:"price_stale"`
	AsOfMs         int64          `json:"as_of_ms"`
}

// Server bundles the engine and its collaborators behind the HTTP handlers.
type Server struct {
	cfg       *config.Config
	reg       *registry.Handle
	engine    *routesearch.Engine
	cache     *quotecache.Cache
	explainer *explain.Generator
	redis     *redisclient.Client // nil when no mirror is configured
}

// writeJSON writes a JSON response with proper headers
func (s *Server) writeJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Log.Error("JSON encoding error", zap.Error(err))
	}
}

// writeError writes an error response
func (s *Server) writeError(w http.ResponseWriter, status int, code routerr.Kind, message string) {
	s.writeJSON(w, status, Response{
		Success: false,
		Error:   &ErrorBody{Code: code, Message: message},
	})
}

// writeEngineError maps an engine error onto the HTTP surface.
func (s *Server) writeEngineError(w http.ResponseWriter, err error) {
	kind := routerr.KindOf(err)
	status := http.StatusServiceUnavailable
	switch kind {
	case routerr.KindInvalidRequest:
		status = http.StatusBadRequest
	case routerr.KindNoRouteFound:
		status = http.StatusNotFound
	case routerr.KindTimeout:
		status = http.StatusGatewayTimeout
	case routerr.KindConfiguration:
		status = http.StatusInternalServerError
	}
	s.writeError(w, status, kind, err.Error())
}

// routeHandler runs one optimization: validate, search, build facts, narrate,
// publish the decision, respond.
func (s *Server) routeHandler(w http.ResponseWriter, r *http.Request) {
	var req models.RouteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.writeError(w, http.StatusBadRequest, routerr.KindInvalidRequest, "invalid JSON payload")
		return
	}
	if err := req.Validate(); err != nil {
		s.writeError(w, http.StatusBadRequest, routerr.KindInvalidRequest, err.Error())
		return
	}
	if req.Preference == "" {
		req.Preference = models.PreferCheapest
	}

	requestID := uuid.NewString()
	timeout := s.cfg.RequestTimeout
	if req.DeadlineMs > 0 {
		if d := time.Duration(req.DeadlineMs) * time.Millisecond; d < timeout {
			timeout = d
		}
	}
	ctx, cancel := context.WithTimeout(r.Context(), timeout)
	defer cancel()

	snap := s.reg.Current()
	result, err := s.engine.FindRoutes(ctx, snap.Graph, req)
	if err != nil {
		logger.Log.Warn("route search failed",
			zap.String("request_id", requestID),
			zap.String("source", req.Source().String()),
			zap.String("dest", req.Dest().String()),
			zap.Error(err))
		s.writeEngineError(w, err)
		return
	}

	facts := explain.BuildFacts(req, result.Best, result.Alternates)

	resp := RouteResponse{
		RequestID:  requestID,
		Preference: req.Preference,
		Route:      result.Best,
		Alternates: result.Alternates,
		Facts:      facts,
	}

	if s.explainer.Enabled() {
		ectx, ecancel := context.WithTimeout(r.Context(), s.cfg.ExplainTimeout)
		text, eerr := s.explainer.Explain(ectx, facts)
		ecancel()
		if eerr != nil {
			// The decision stands without prose.
			logger.Log.Warn("explanation unavailable",
				zap.String("request_id", requestID), zap.Error(eerr))
		} else {
			resp.Explanation = text
		}
	}

	s.publishDecision(models.RouteDecision{
		RequestID: requestID,
		Request:   req,
		Chosen:    result.Best,
		Facts:     facts,
		DecidedAt: time.Now().UnixMilli(),
	})

	logger.Log.Info("route decided",
		zap.String("request_id", requestID),
		zap.String("source", req.Source().String()),
		zap.String("dest", req.Dest().String()),
		zap.Float64("total_cost_usd", result.Best.TotalCostUSD),
		zap.Int("steps", len(result.Best.Steps)),
		zap.Int("alternates", len(result.Alternates)))

	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: resp})
}

// publishDecision pushes the decision onto the feed for the archiver and the
// dashboard. Advisory: a publish failure never fails the request.
func (s *Server) publishDecision(d models.RouteDecision) {
	if s.redis == nil {
		return
	}
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		payload, err := d.ToJSON()
		if err != nil {
			logger.Log.Warn("decision encode failed", zap.String("request_id", d.RequestID), zap.Error(err))
			return
		}
		if err := s.redis.Publish(ctx, redisclient.DecisionChannel, payload); err != nil {
			logger.Log.Warn("decision publish failed", zap.String("request_id", d.RequestID), zap.Error(err))
		}
	}()
}

// chainsHandler lists the registered chains and their assets.
func (s *Server) chainsHandler(w http.ResponseWriter, r *http.Request) {
	snap := s.reg.Current()

	assetsByChain := make(map[models.ChainID][]string)
	for _, a := range snap.Graph.Assets() {
		assetsByChain[a.Chain] = append(assetsByChain[a.Chain], a.Symbol)
	}

	var out []ChainInfo
	for _, c := range snap.Graph.Chains() {
		out = append(out, ChainInfo{
			ID:          c.ID,
			DisplayName: c.DisplayName,
			NativeToken: c.NativeToken,
			BlockTimeMs: c.BlockTime.Milliseconds(),
			ExplorerURL: c.ExplorerURL,
			Assets:      assetsByChain[c.ID],
		})
	}

	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: out})
}

// chainMetricsHandler reports the live gas and native-price view of one chain.
func (s *Server) chainMetricsHandler(w http.ResponseWriter, r *http.Request) {
	id := models.ChainID(mux.Vars(r)["chain"])
	snap := s.reg.Current()

	chain, ok := snap.Graph.Chain(id)
	if !ok {
		s.writeError(w, http.StatusNotFound, routerr.KindInvalidRequest, "unknown chain")
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), s.cfg.UpstreamTimeout)
	defer cancel()

	gas, gasStale, err := s.cache.Gas(ctx, chain.ID)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}
	price, priceStale, err := s.cache.Price(ctx, chain.NativeToken)
	if err != nil {
		s.writeEngineError(w, err)
		return
	}

	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: ChainMetrics{
		Chain:          chain.ID,
		GasPriceNative: gas.NativePrice,
		GasSource:      gas.Source,
		GasStale:       gasStale,
		Congestion:     gas.Congestion,
		NativeToken:    chain.NativeToken,
		NativeUSD:      price.USDPrice,
		PriceStale:     priceStale,
		AsOfMs:         gas.Timestamp.UnixMilli(),
	}})
}

// reloadHandler swaps in a fresh registry snapshot. In-flight searches keep
// the snapshot they started with.
func (s *Server) reloadHandler(w http.ResponseWriter, r *http.Request) {
	if err := s.reg.Reload(); err != nil {
		logger.Log.Error("registry reload failed", zap.Error(err))
		s.writeError(w, http.StatusUnprocessableEntity, routerr.KindConfiguration, err.Error())
		return
	}
	snap := s.reg.Current()
	s.writeJSON(w, http.StatusOK, Response{Success: true, Data: map[string]interface{}{
		"chains":    len(snap.Graph.Chains()),
		"actions":   snap.Graph.ActionCount(),
		"loaded_at": snap.LoadedAt.UnixMilli(),
	}})
}

// healthHandler returns liveness; the process is healthy as long as it can
// serve its static state.
func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	s.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data: map[string]interface{}{
			"status":    "healthy",
			"timestamp": time.Now().Unix(),
		},
	})
}

// readyHandler checks the collaborators that requests depend on.
func (s *Server) readyHandler(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	if s.redis != nil {
		if err := s.redis.Ping(ctx); err != nil && !errors.Is(err, redisclient.ErrCircuitBreakerOpen) {
			s.writeError(w, http.StatusServiceUnavailable, routerr.KindUpstreamUnavailable, "redis not ready")
			return
		}
	}
	if s.reg.Current() == nil {
		s.writeError(w, http.StatusServiceUnavailable, routerr.KindConfiguration, "registry not loaded")
		return
	}

	s.writeJSON(w, http.StatusOK, Response{
		Success: true,
		Data:    map[string]interface{}{"status": "ready"},
	})
}
