package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/mangoweb/nexus-router/pkg/config"
	"github.com/mangoweb/nexus-router/pkg/database"
	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
	"github.com/mangoweb/nexus-router/pkg/quotecache"
	"github.com/mangoweb/nexus-router/pkg/redisclient"
)

// The archiver tails the decision and quote feeds and writes them to
// Postgres. It is the only process that touches the database on the write
// path; the engine itself stays stateless.
func main() {
	cfg, err := config.Load()
	if err != nil {
		panic("config error: " + err.Error())
	}

	if err := logger.Init(); err != nil {
		panic("logger init: " + err.Error())
	}
	defer logger.Log.Sync()

	if cfg.RedisURL == "" {
		logger.Log.Fatal("archiver requires REDIS_URL")
	}

	rdb, err := redisclient.New(cfg.RedisURL)
	if err != nil {
		logger.Log.Fatal("failed to connect to Redis", zap.Error(err))
	}
	defer rdb.Close()

	dbConfig := database.NewConfig()
	db, err := database.New(dbConfig)
	if err != nil {
		logger.Log.Fatal("failed to connect to database", zap.Error(err))
	}
	defer db.Close()

	migrateCtx, cancelMigrate := context.WithTimeout(context.Background(), 30*time.Second)
	if err := db.RunMigrations(migrateCtx); err != nil {
		cancelMigrate()
		logger.Log.Fatal("failed to run database migrations", zap.Error(err))
	}
	cancelMigrate()

	decisions := database.NewDecisionRepository(db)
	history := database.NewQuoteHistoryRepository(db)

	// Metrics server
	go func() {
		mux := http.NewServeMux()
		mux.Handle("/metrics", metrics.Handler())
		addr := fmt.Sprintf(":%d", cfg.MetricsPort)
		logger.Log.Info("starting metrics server", zap.String("addr", addr))
		if err := http.ListenAndServe(addr, mux); err != nil {
			logger.Log.Error("metrics server stopped", zap.Error(err))
		}
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	logger.Log.Info("archiver started")

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		consumeDecisions(ctx, rdb, decisions)
	}()
	go func() {
		defer wg.Done()
		consumeQuotes(ctx, rdb, history)
	}()
	go func() {
		defer wg.Done()
		watchDatabase(ctx, db)
	}()
	wg.Wait()

	logger.Log.Info("archiver shutting down")
}

// watchDatabase pings the archive periodically so a dead database shows up
// in metrics even while the feeds are quiet.
func watchDatabase(ctx context.Context, db *database.DB) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			if err := db.HealthCheck(checkCtx); err != nil {
				logger.Log.Warn("database health check failed", zap.Error(err))
			}
			cancel()
		}
	}
}

// consumeDecisions tails the route decision feed.
func consumeDecisions(ctx context.Context, rdb *redisclient.Client, repo database.DecisionRepository) {
	pubsub := rdb.Subscribe(ctx, redisclient.DecisionChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			start := time.Now()
			decision, err := models.RouteDecisionFromJSON(msg.Payload)
			if err != nil {
				logger.Log.Warn("dropping malformed decision", zap.Error(err))
				metrics.ArchivalErrorCounter.Inc()
				continue
			}
			if err := archiveDecision(ctx, repo, &decision); err != nil {
				logger.Log.Error("failed to archive decision",
					zap.String("request_id", decision.RequestID), zap.Error(err))
				metrics.ArchivalErrorCounter.Inc()
				continue
			}
			metrics.ArchivalSuccessCounter.Inc()
			metrics.ArchivalLatency.Observe(time.Since(start).Seconds())
		}
	}
}

func archiveDecision(ctx context.Context, repo database.DecisionRepository, d *models.RouteDecision) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	return repo.SaveDecision(ctx, d)
}

// consumeQuotes tails the quote mirror feed into the audit trail.
func consumeQuotes(ctx context.Context, rdb *redisclient.Client, repo database.QuoteHistoryRepository) {
	pubsub := rdb.Subscribe(ctx, quotecache.PubSubChannel)
	defer pubsub.Close()

	ch := pubsub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			event, err := models.QuoteEventFromJSON(msg.Payload)
			if err != nil {
				logger.Log.Warn("dropping malformed quote event", zap.Error(err))
				metrics.ArchivalErrorCounter.Inc()
				continue
			}
			if err := archiveQuote(ctx, repo, event); err != nil {
				logger.Log.Error("failed to archive quote",
					zap.String("key", event.Key), zap.Error(err))
				metrics.ArchivalErrorCounter.Inc()
				continue
			}
			metrics.ArchivalSuccessCounter.Inc()
		}
	}
}

func archiveQuote(ctx context.Context, repo database.QuoteHistoryRepository, event models.QuoteEvent) error {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	switch {
	case event.Price != nil:
		return repo.SavePriceQuote(ctx, event.Price)
	case event.Gas != nil:
		return repo.SaveGasQuote(ctx, event.Gas)
	default:
		return fmt.Errorf("quote event %q carries neither price nor gas", event.Key)
	}
}
