package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/mangoweb/nexus-router/pkg/config"
	"github.com/mangoweb/nexus-router/pkg/costmodel"
	"github.com/mangoweb/nexus-router/pkg/explain"
	"github.com/mangoweb/nexus-router/pkg/gasoracle"
	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/marketdata"
	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/quotecache"
	"github.com/mangoweb/nexus-router/pkg/redisclient"
	"github.com/mangoweb/nexus-router/pkg/registry"
	"github.com/mangoweb/nexus-router/pkg/routesearch"
)

func main() {
	// Initialize logger
	if err := logger.Init(); err != nil {
		panic("logger init: " + err.Error())
	}
	defer logger.Log.Sync()
	log := logger.Log

	log.Info("starting nexus-router")

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load configuration", zap.Error(err))
	}

	// Load the chain/asset/action registry
	reg, err := registry.Open(cfg.RegistryPath)
	if err != nil {
		log.Fatal("failed to load registry", zap.Error(err), zap.String("path", cfg.RegistryPath))
	}
	snap := reg.Current()
	log.Info("registry loaded",
		zap.Int("chains", len(snap.Graph.Chains())),
		zap.Int("actions", snap.Graph.ActionCount()))

	// Optional Redis mirror and decision feed
	var (
		rdb    *redisclient.Client
		mirror *quotecache.Mirror
	)
	if cfg.RedisURL != "" {
		rdb, err = redisclient.New(cfg.RedisURL)
		if err != nil {
			log.Fatal("failed to connect to Redis", zap.Error(err))
		}
		defer rdb.Close()
		mirror = quotecache.NewMirror(rdb)
	}

	// Upstream clients resolve against the active snapshot so registry
	// reloads take effect without rebuilding them.
	prices := marketdata.NewCoinGecko(marketdata.CoinGeckoConfig{
		BaseURL: cfg.PriceAPIBaseURL,
		APIKey:  cfg.PriceAPIKey,
		Timeout: cfg.UpstreamTimeout,
	}, func(symbol string) (string, bool) {
		id, ok := reg.Current().PriceIDs[symbol]
		return id, ok
	})

	oracle := gasoracle.New(gasoracle.Config{
		HTTPBaseURL: cfg.GasOracleBaseURL,
		Timeout:     cfg.UpstreamTimeout,
		WindowSize:  cfg.CongestionWindowSize,
	}, func(chain models.ChainID) (registry.Endpoint, bool) {
		ep, ok := reg.Current().Endpoints[chain]
		return ep, ok
	})
	defer oracle.Close()

	cache := quotecache.New(prices, oracle, quotecache.Options{
		PriceStaleAfter: cfg.PriceStaleAfter,
		GasStaleAfter:   cfg.GasStaleAfter,
		Expiry:          cfg.QuoteExpiry,
	}, mirror)

	model := costmodel.New(cache, cfg.SwapFeePct, cfg.BridgeFeePct)
	engine := routesearch.New(model, cache, routesearch.Options{
		MaxHops:             cfg.MaxHops,
		MaxAlternates:       cfg.MaxAlternates,
		PrefetchConcurrency: cfg.RefreshConcurrency,
	})

	explainer := explain.NewGenerator(explain.Config{
		BaseURL: cfg.ExplainAPIBaseURL,
		APIKey:  cfg.ExplainAPIKey,
		Model:   cfg.ExplainModel,
		Timeout: cfg.ExplainTimeout,
	})
	if !explainer.Enabled() {
		log.Info("explanation service disabled, responses carry facts only")
	}

	// Optional streaming price feed
	streamCtx, stopStream := context.WithCancel(context.Background())
	defer stopStream()
	if cfg.PriceFeedWSURL != "" {
		go marketdata.StreamPrices(streamCtx, cfg.PriceFeedWSURL, cache)
	}

	srv := &Server{
		cfg:       cfg,
		reg:       reg,
		engine:    engine,
		cache:     cache,
		explainer: explainer,
		redis:     rdb,
	}

	// Create router
	router := mux.NewRouter()

	// Add middleware
	router.Use(loggingMiddleware)
	router.Use(corsMiddleware)
	router.Use(metricsMiddleware)

	router.HandleFunc("/health", srv.healthHandler).Methods("GET")
	router.HandleFunc("/ready", srv.readyHandler).Methods("GET")

	apiRouter := router.PathPrefix("/api/v1").Subrouter()
	apiRouter.HandleFunc("/route", srv.routeHandler).Methods("POST")
	apiRouter.HandleFunc("/chains", srv.chainsHandler).Methods("GET")
	apiRouter.HandleFunc("/chain_metrics/{chain}", srv.chainMetricsHandler).Methods("GET")
	apiRouter.HandleFunc("/reload", srv.reloadHandler).Methods("POST")

	// Create HTTP server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.HTTPPort),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	// Metrics server on its own port
	metricsMux := http.NewServeMux()
	metricsMux.Handle("/metrics", metrics.Handler())
	metricsServer := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.MetricsPort),
		Handler: metricsMux,
	}

	// Start servers in goroutines
	go func() {
		log.Info("starting HTTP server", zap.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("failed to start server", zap.Error(err))
		}
	}()
	go func() {
		log.Info("starting metrics server", zap.String("addr", metricsServer.Addr))
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	// SIGHUP reloads the registry; SIGINT/SIGTERM shut down
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)
	for sig := range sigs {
		if sig == syscall.SIGHUP {
			log.Info("SIGHUP received, reloading registry")
			if err := reg.Reload(); err != nil {
				log.Error("registry reload failed, keeping active snapshot", zap.Error(err))
			}
			continue
		}
		break
	}

	log.Info("shutting down server...")
	stopStream()

	// Graceful shutdown
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
	}
	if err := metricsServer.Shutdown(ctx); err != nil {
		log.Error("metrics server forced to shutdown", zap.Error(err))
	}

	log.Info("server exited")
}

// Middleware functions
func loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		logger.Log.Info("HTTP request",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.String("remote_addr", r.RemoteAddr),
			zap.Duration("duration", time.Since(start)))
	})
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// statusRecorder captures the response code for the metrics middleware.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(code int) {
	r.status = code
	r.ResponseWriter.WriteHeader(code)
}

func metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		duration := time.Since(start).Seconds()

		status := fmt.Sprintf("%d", rec.status)
		metrics.APIRequestDuration.WithLabelValues(r.Method, r.URL.Path, status).Observe(duration)
		metrics.APIRequestTotal.WithLabelValues(r.Method, r.URL.Path, status).Inc()
	})
}
