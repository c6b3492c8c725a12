package config

import (
	"flag"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Config carries everything the router binaries read from the environment.
// Tunables (staleness thresholds, hop limits, fee percentages) are
// configuration-with-defaults, not hard-coded constants.
type Config struct {
	RegistryPath string
	RedisURL     string // optional; empty disables the quote mirror
	HTTPPort     int
	MetricsPort  int

	// Upstream endpoints
	PriceAPIBaseURL  string
	PriceAPIKey      string
	PriceFeedWSURL   string // optional streaming price feed
	GasOracleBaseURL string // HTTP oracle for non-EVM chains
	UpstreamTimeout  time.Duration

	// Quote cache lifecycle
	PriceStaleAfter time.Duration
	GasStaleAfter   time.Duration
	QuoteExpiry     time.Duration // hard ceiling; beyond it quotes are unusable

	// Search tunables
	MaxHops            int
	MaxAlternates      int
	RefreshConcurrency int
	RequestTimeout     time.Duration

	// Fee model
	SwapFeePct   float64
	BridgeFeePct float64

	// Congestion tracking
	CongestionWindowSize int

	// Explanation service
	ExplainAPIBaseURL string
	ExplainAPIKey     string
	ExplainModel      string
	ExplainTimeout    time.Duration
}

// Load reads environment variables and application flags (via a local
// FlagSet), strips out any -test.* flags, and validates required fields.
func Load() (*Config, error) {
	// Fresh FlagSet so we don't collide with `go test` flags
	fs := flag.NewFlagSet("config", flag.ContinueOnError)

	var registryPath, redisURL string
	var httpPort, metricsPort int
	fs.StringVar(&registryPath, "registry", getEnvOrDefault("REGISTRY_PATH", "config/registry.yaml"), "chain/asset/action registry file")
	fs.StringVar(&redisURL, "redis", os.Getenv("REDIS_URL"), "Redis connection URL (optional quote mirror)")
	fs.IntVar(&httpPort, "port", 8080, "HTTP listen port")
	fs.IntVar(&metricsPort, "metrics-port", 8082, "Metrics server port")

	// Filter out any -test.* args before parsing
	var appArgs []string
	for _, arg := range os.Args[1:] {
		if strings.HasPrefix(arg, "-test.") {
			continue
		}
		appArgs = append(appArgs, arg)
	}
	if err := fs.Parse(appArgs); err != nil {
		return nil, err
	}

	cfg := &Config{
		RegistryPath: registryPath,
		RedisURL:     redisURL,
		HTTPPort:     httpPort,
		MetricsPort:  metricsPort,

		PriceAPIBaseURL:  getEnvOrDefault("PRICE_API_URL", "https://api.coingecko.com/api/v3"),
		PriceAPIKey:      os.Getenv("PRICE_API_KEY"),
		PriceFeedWSURL:   os.Getenv("PRICE_FEED_WS_URL"),
		GasOracleBaseURL: os.Getenv("GAS_ORACLE_URL"),
		UpstreamTimeout:  getDurationEnvOrDefault("UPSTREAM_TIMEOUT", 5*time.Second),

		PriceStaleAfter: getDurationEnvOrDefault("PRICE_STALE_AFTER", 60*time.Second),
		GasStaleAfter:   getDurationEnvOrDefault("GAS_STALE_AFTER", 30*time.Second),
		QuoteExpiry:     getDurationEnvOrDefault("QUOTE_EXPIRY", 5*time.Minute),

		MaxHops:            getIntEnvOrDefault("MAX_HOPS", 4),
		MaxAlternates:      getIntEnvOrDefault("MAX_ALTERNATES", 3),
		RefreshConcurrency: getIntEnvOrDefault("REFRESH_CONCURRENCY", 8),
		RequestTimeout:     getDurationEnvOrDefault("REQUEST_TIMEOUT", 10*time.Second),

		SwapFeePct:   getFloatEnvOrDefault("SWAP_FEE_PCT", 0.003),
		BridgeFeePct: getFloatEnvOrDefault("BRIDGE_FEE_PCT", 0.001),

		CongestionWindowSize: getIntEnvOrDefault("CONGESTION_WINDOW_SIZE", 20),

		ExplainAPIBaseURL: os.Getenv("EXPLAIN_API_URL"),
		ExplainAPIKey:     os.Getenv("EXPLAIN_API_KEY"),
		ExplainModel:      getEnvOrDefault("EXPLAIN_MODEL", "gemini-2.0-flash"),
		ExplainTimeout:    getDurationEnvOrDefault("EXPLAIN_TIMEOUT", 8*time.Second),
	}

	// PORT env var overrides flag/default if set
	if portEnv := os.Getenv("PORT"); portEnv != "" {
		portVal, err := strconv.Atoi(portEnv)
		if err != nil {
			return nil, fmt.Errorf("invalid PORT env var: %v", err)
		}
		cfg.HTTPPort = portVal
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) validate() error {
	if c.RegistryPath == "" {
		return fmt.Errorf("missing required config: REGISTRY_PATH or -registry")
	}
	if c.QuoteExpiry < c.PriceStaleAfter || c.QuoteExpiry < c.GasStaleAfter {
		return fmt.Errorf("QUOTE_EXPIRY (%s) must not be below the staleness thresholds", c.QuoteExpiry)
	}
	if c.MaxHops < 1 {
		return fmt.Errorf("MAX_HOPS must be at least 1")
	}
	if c.MaxAlternates < 0 {
		return fmt.Errorf("MAX_ALTERNATES must not be negative")
	}
	if c.RefreshConcurrency < 1 {
		return fmt.Errorf("REFRESH_CONCURRENCY must be at least 1")
	}
	if c.SwapFeePct < 0 || c.SwapFeePct >= 1 || c.BridgeFeePct < 0 || c.BridgeFeePct >= 1 {
		return fmt.Errorf("fee percentages must be fractions in [0, 1)")
	}
	return nil
}

// getEnvOrDefault returns environment variable value or default
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getIntEnvOrDefault returns environment variable as int or default
func getIntEnvOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if n, err := strconv.Atoi(value); err == nil {
			return n
		}
	}
	return defaultValue
}

// getFloatEnvOrDefault returns environment variable as float or default
func getFloatEnvOrDefault(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getDurationEnvOrDefault returns environment variable as duration or default
func getDurationEnvOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}
