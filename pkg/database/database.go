package database

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"strconv"
	"time"

	_ "github.com/lib/pq"
	"go.uber.org/zap"

	"github.com/mangoweb/nexus-router/pkg/logger"
	"github.com/mangoweb/nexus-router/pkg/metrics"
)

// DB is the pooled postgres handle behind the decision archive. Only the
// archiver opens one; the routing engine itself never touches the database.
type DB struct {
	*sql.DB
	config *Config
}

// Config holds the connection and pool settings.
type Config struct {
	Host            string
	Port            int
	User            string
	Password        string
	Database        string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	ConnMaxIdleTime time.Duration
}

// NewConfig reads the DB_* environment variables, with defaults suitable for
// a local postgres.
func NewConfig() *Config {
	return &Config{
		Host:            getEnvOrDefault("DB_HOST", "localhost"),
		Port:            getEnvIntOrDefault("DB_PORT", 5432),
		User:            getEnvOrDefault("DB_USER", "postgres"),
		Password:        getEnvOrDefault("DB_PASSWORD", ""),
		Database:        getEnvOrDefault("DB_NAME", "nexus_router"),
		SSLMode:         getEnvOrDefault("DB_SSLMODE", "disable"),
		MaxOpenConns:    getEnvIntOrDefault("DB_MAX_OPEN_CONNS", 25),
		MaxIdleConns:    getEnvIntOrDefault("DB_MAX_IDLE_CONNS", 5),
		ConnMaxLifetime: getEnvDurationOrDefault("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		ConnMaxIdleTime: getEnvDurationOrDefault("DB_CONN_MAX_IDLE_TIME", 5*time.Minute),
	}
}

// New opens the pool and verifies connectivity before handing it out.
func New(config *Config) (*DB, error) {
	dsn := fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		config.Host, config.Port, config.User, config.Password, config.Database, config.SSLMode)

	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	db.SetMaxOpenConns(config.MaxOpenConns)
	db.SetMaxIdleConns(config.MaxIdleConns)
	db.SetConnMaxLifetime(config.ConnMaxLifetime)
	db.SetConnMaxIdleTime(config.ConnMaxIdleTime)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Log.Info("database connected",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("database", config.Database))

	return &DB{DB: db, config: config}, nil
}

// Close releases the pool.
func (db *DB) Close() error {
	logger.Log.Info("closing database connection")
	return db.DB.Close()
}

// HealthCheck pings the database and records the outcome. The archiver runs
// this periodically so a dead archive surfaces in metrics even when no
// decisions are flowing.
func (db *DB) HealthCheck(ctx context.Context) error {
	start := time.Now()
	err := db.PingContext(ctx)
	metrics.DatabaseHealthCheckDuration.Observe(time.Since(start).Seconds())

	if err != nil {
		metrics.DatabaseHealthCheckErrors.Inc()
		return fmt.Errorf("database health check failed: %w", err)
	}
	metrics.DatabaseHealthCheckSuccess.Inc()
	return nil
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

func getEnvDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}
