package database

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/mangoweb/nexus-router/pkg/logger"
)

// Migration is one forward-only schema step. The archiver applies pending
// migrations at startup; there is no rollback path, a bad migration means a
// new forward migration.
type Migration struct {
	Version     int
	Description string
	UpSQL       string
}

// Migrations holds the schema history, ordered by version.
var Migrations = []Migration{
	{
		Version:     1,
		Description: "Create initial schema",
		UpSQL: `
			CREATE TABLE IF NOT EXISTS route_decisions (
				id BIGSERIAL PRIMARY KEY,
				request_id VARCHAR(64) UNIQUE NOT NULL,
				source_chain VARCHAR(32) NOT NULL,
				source_asset VARCHAR(12) NOT NULL,
				dest_chain VARCHAR(32) NOT NULL,
				dest_asset VARCHAR(12) NOT NULL,
				amount_usd DECIMAL(20,8) NOT NULL CHECK (amount_usd > 0),
				preference VARCHAR(16) NOT NULL DEFAULT 'cheapest',
				total_cost_usd DECIMAL(20,8) NOT NULL CHECK (total_cost_usd >= 0),
				total_latency_ms BIGINT NOT NULL CHECK (total_latency_ms >= 0),
				step_count INTEGER NOT NULL CHECK (step_count >= 0),
				chain_sequence TEXT NOT NULL DEFAULT '',
				facts JSONB NOT NULL,
				decided_at BIGINT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_route_decisions_pair ON route_decisions(source_chain, dest_chain);
			CREATE INDEX IF NOT EXISTS idx_route_decisions_decided_at ON route_decisions(decided_at DESC);
			CREATE INDEX IF NOT EXISTS idx_route_decisions_preference ON route_decisions(preference);

			CREATE TABLE IF NOT EXISTS quote_history (
				id BIGSERIAL PRIMARY KEY,
				kind VARCHAR(8) NOT NULL CHECK (kind IN ('price', 'gas')),
				quote_key VARCHAR(64) NOT NULL,
				value DECIMAL(30,18) NOT NULL CHECK (value >= 0),
				source VARCHAR(100) NOT NULL,
				quoted_at BIGINT NOT NULL,
				created_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
			);

			CREATE INDEX IF NOT EXISTS idx_quote_history_key ON quote_history(quote_key);
			CREATE INDEX IF NOT EXISTS idx_quote_history_quoted_at ON quote_history(quoted_at DESC);
			CREATE INDEX IF NOT EXISTS idx_quote_history_key_quoted_at ON quote_history(quote_key, quoted_at DESC);

			CREATE OR REPLACE VIEW latest_quote_history AS
			SELECT DISTINCT ON (quote_key)
				quote_key,
				kind,
				value,
				source,
				quoted_at,
				created_at
			FROM quote_history
			ORDER BY quote_key, quoted_at DESC;
		`,
	},
	{
		Version:     2,
		Description: "Add decision pair statistics view",
		UpSQL: `
			CREATE OR REPLACE VIEW route_pair_stats AS
			SELECT
				source_chain,
				dest_chain,
				preference,
				COUNT(*) AS decisions,
				AVG(total_cost_usd) AS avg_cost_usd,
				AVG(total_latency_ms) AS avg_latency_ms,
				AVG(step_count) AS avg_steps,
				MAX(decided_at) AS last_decided_at
			FROM route_decisions
			GROUP BY source_chain, dest_chain, preference;
		`,
	},
}

// RunMigrations applies every migration not yet recorded in the migrations
// table, in version order, each inside its own transaction.
func (db *DB) RunMigrations(ctx context.Context) error {
	logger.Log.Info("starting database migrations")

	if err := db.createMigrationsTable(ctx); err != nil {
		return fmt.Errorf("failed to create migrations table: %w", err)
	}

	applied, err := db.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("failed to get applied migrations: %w", err)
	}

	for _, migration := range Migrations {
		if applied[migration.Version] {
			logger.Log.Debug("migration already applied", zap.Int("version", migration.Version))
			continue
		}

		logger.Log.Info("applying migration",
			zap.Int("version", migration.Version),
			zap.String("description", migration.Description))

		if err := db.applyMigration(ctx, migration); err != nil {
			return fmt.Errorf("failed to apply migration %d: %w", migration.Version, err)
		}
	}

	logger.Log.Info("database migrations completed")
	return nil
}

func (db *DB) createMigrationsTable(ctx context.Context) error {
	query := `
		CREATE TABLE IF NOT EXISTS migrations (
			version INTEGER PRIMARY KEY,
			description TEXT NOT NULL,
			applied_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
		);
	`
	_, err := db.ExecContext(ctx, query)
	return err
}

func (db *DB) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := db.QueryContext(ctx, `SELECT version FROM migrations ORDER BY version`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// applyMigration runs one migration's SQL and records it, atomically.
func (db *DB) applyMigration(ctx context.Context, migration Migration) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, migration.UpSQL); err != nil {
		return fmt.Errorf("failed to execute migration SQL: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`INSERT INTO migrations (version, description) VALUES ($1, $2)`,
		migration.Version, migration.Description); err != nil {
		return fmt.Errorf("failed to record migration: %w", err)
	}
	return tx.Commit()
}
