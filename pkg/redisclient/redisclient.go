package redisclient

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/go-redis/redis/v8"
	"go.uber.org/zap"

	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/metrics"
)

var (
	ErrCircuitBreakerOpen = errors.New("circuit breaker is open")
)

// DecisionChannel carries one JSON RouteDecision per completed optimization.
const DecisionChannel = "routes:events"

// Client wraps the redis connection used for the quote mirror and the
// decision feed. Mirror traffic is advisory: every operation here has a tight
// per-attempt timeout and a circuit breaker so a sick redis can never slow a
// route search down.
type Client struct {
	rdb *redis.Client
	// Circuit breaker state
	failureCount int64
	lastFailure  int64
	state        int32 // 0: closed, 1: open, 2: half-open
}

// New constructs a Client with sensible defaults & retry logic
func New(redisURL string) (*Client, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, err
	}
	opt.PoolSize = 20
	opt.MinIdleConns = 5
	opt.MaxRetries = 3
	opt.DialTimeout = 5 * time.Second
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second
	opt.IdleTimeout = 5 * time.Minute
	return &Client{rdb: redis.NewClient(opt)}, nil
}

// withMetrics wraps operations with metrics collection
func (c *Client) withMetrics(operation string, fn func() error) error {
	start := time.Now()
	err := fn()
	duration := time.Since(start).Seconds()

	metrics.RedisOperationDuration.WithLabelValues(operation, getStatus(err)).Observe(duration)
	if err != nil {
		metrics.RedisErrors.WithLabelValues(operation).Inc()
	}

	return err
}

// getStatus returns "success" or "error" for metrics
func getStatus(err error) string {
	if err != nil {
		return "error"
	}
	return "success"
}

// checkCircuitBreaker checks if circuit breaker should be opened/closed
func (c *Client) checkCircuitBreaker(err error) {
	if err != nil {
		atomic.AddInt64(&c.failureCount, 1)
		atomic.StoreInt64(&c.lastFailure, time.Now().Unix())

		// Open circuit breaker after 5 consecutive failures
		if atomic.LoadInt64(&c.failureCount) >= 5 {
			if atomic.CompareAndSwapInt32(&c.state, 0, 1) {
				logger.Log.Warn("circuit breaker opened", zap.String("operation", "redis"))
			}
		}
	} else {
		atomic.StoreInt64(&c.failureCount, 0)
		atomic.CompareAndSwapInt32(&c.state, 1, 2) // open -> half-open
	}
}

// HSet sets a hash with retry
func (c *Client) HSet(ctx context.Context, key string, values map[string]interface{}) error {
	return c.withMetrics("hset", func() error {
		if atomic.LoadInt32(&c.state) == 1 {
			return ErrCircuitBreakerOpen
		}

		op := func() error {
			// 100ms timeout per attempt
			ctx, cancel := context.WithTimeout(ctx, 100*time.Millisecond)
			defer cancel()
			err := c.rdb.HSet(ctx, key, values).Err()
			c.checkCircuitBreaker(err)
			return err
		}
		// exponential backoff: max 3 retries
		return backoff.Retry(op, backoff.WithMaxRetries(backoff.NewExponentialBackOff(), 3))
	})
}

// Publish wraps rdb.Publish with a short timeout
func (c *Client) Publish(ctx context.Context, channel string, msg interface{}) error {
	return c.withMetrics("publish", func() error {
		if atomic.LoadInt32(&c.state) == 1 {
			return ErrCircuitBreakerOpen
		}

		ctx, cancel := context.WithTimeout(ctx, 50*time.Millisecond)
		defer cancel()
		err := c.rdb.Publish(ctx, channel, msg).Err()
		c.checkCircuitBreaker(err)
		return err
	})
}

// HGetAll retrieves all fields from a hash
func (c *Client) HGetAll(ctx context.Context, key string) *redis.StringStringMapCmd {
	return c.rdb.HGetAll(ctx, key)
}

// Subscribe creates a pub/sub subscription
func (c *Client) Subscribe(ctx context.Context, channels ...string) *redis.PubSub {
	return c.rdb.Subscribe(ctx, channels...)
}

// Ping checks connectivity for health endpoints
func (c *Client) Ping(ctx context.Context) error {
	return c.rdb.Ping(ctx).Err()
}

// Close closes the underlying connection pool
func (c *Client) Close() error {
	return c.rdb.Close()
}

// Client returns the underlying Redis client for direct access
func (c *Client) Client() *redis.Client {
	return c.rdb
}
