package database

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/mangoweb/nexus-router/pkg/metrics"
	"github.com/mangoweb/nexus-router/pkg/models"
)

// DecisionRepository defines the interface for route decision persistence
type DecisionRepository interface {
	SaveDecision(ctx context.Context, decision *models.RouteDecision) error
	GetDecision(ctx context.Context, requestID string) (*models.RouteDecision, error)
	GetDecisionsByPair(ctx context.Context, source, dest models.ChainID, limit int) ([]*models.RouteDecision, error)
	GetDecisionsByTimeRange(ctx context.Context, start, end int64) ([]*models.RouteDecision, error)
	GetPairStats(ctx context.Context, source, dest models.ChainID) (*PairStats, error)
}

// QuoteHistoryRepository defines the interface for the quote audit trail
type QuoteHistoryRepository interface {
	SavePriceQuote(ctx context.Context, q *models.PriceQuote) error
	SaveGasQuote(ctx context.Context, q *models.GasQuote) error
	GetHistory(ctx context.Context, quoteKey string, limit int) ([]*HistoryRow, error)
	GetHistoryByTimeRange(ctx context.Context, quoteKey string, start, end int64) ([]*HistoryRow, error)
}

// PairStats aggregates decisions for one (source, dest) chain pair
type PairStats struct {
	SourceChain   models.ChainID `json:"source_chain"`
	DestChain     models.ChainID `json:"dest_chain"`
	Decisions     int64          `json:"decisions"`
	AvgCostUSD    float64        `json:"avg_cost_usd"`
	AvgLatencyMs  float64        `json:"avg_latency_ms"`
	AvgSteps      float64        `json:"avg_steps"`
	LastDecidedAt int64          `json:"last_decided_at"`
}

// HistoryRow is one archived quote observation
type HistoryRow struct {
	Kind     string  `json:"kind"`
	QuoteKey string  `json:"quote_key"`
	Value    float64 `json:"value"`
	Source   string  `json:"source"`
	QuotedAt int64   `json:"quoted_at"`
}

// decisionRepository implements DecisionRepository
type decisionRepository struct {
	db *DB
}

// NewDecisionRepository creates a new decision repository
func NewDecisionRepository(db *DB) DecisionRepository {
	return &decisionRepository{db: db}
}

// SaveDecision saves a route decision to the database
func (r *decisionRepository) SaveDecision(ctx context.Context, decision *models.RouteDecision) error {
	start := time.Now()
	defer func() {
		metrics.DatabaseOperationDuration.WithLabelValues("save_decision", "success").Observe(time.Since(start).Seconds())
	}()

	if decision.RequestID == "" {
		metrics.DatabaseOperationDuration.WithLabelValues("save_decision", "validation_error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("decision validation failed: missing request_id")
	}
	if err := decision.Request.Validate(); err != nil {
		metrics.DatabaseOperationDuration.WithLabelValues("save_decision", "validation_error").Observe(time.Since(start).Seconds())
		return fmt.Errorf("decision validation failed: %w", err)
	}

	facts, err := json.Marshal(decision.Facts)
	if err != nil {
		return fmt.Errorf("failed to encode facts: %w", err)
	}

	query := `
		INSERT INTO route_decisions (
			request_id, source_chain, source_asset, dest_chain, dest_asset,
			amount_usd, preference, total_cost_usd, total_latency_ms,
			step_count, chain_sequence, facts, decided_at
		)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (request_id) DO NOTHING
	`

	pref := decision.Request.Preference
	if pref == "" {
		pref = models.PreferCheapest
	}

	_, err = r.db.ExecContext(ctx, query,
		decision.RequestID,
		decision.Request.SourceID, decision.Request.SourceAsset,
		decision.Request.DestID, decision.Request.DestAsset,
		decision.Request.AmountUSD, pref,
		decision.Chosen.TotalCostUSD, decision.Chosen.TotalLatency.Milliseconds(),
		len(decision.Chosen.Steps), strings.Join(decision.Chosen.ChainSequence(), ">"),
		facts, decision.DecidedAt,
	)
	if err != nil {
		metrics.DatabaseOperationDuration.WithLabelValues("save_decision", "error").Observe(time.Since(start).Seconds())
		metrics.DatabaseErrors.WithLabelValues("save_decision").Inc()
		return fmt.Errorf("failed to save decision: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("save_decision", "success").Inc()
	return nil
}

// GetDecision retrieves one decision by request id
func (r *decisionRepository) GetDecision(ctx context.Context, requestID string) (*models.RouteDecision, error) {
	start := time.Now()
	defer func() {
		metrics.DatabaseOperationDuration.WithLabelValues("get_decision", "success").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT request_id, source_chain, source_asset, dest_chain, dest_asset,
			amount_usd, preference, facts, decided_at
		FROM route_decisions
		WHERE request_id = $1
	`

	var d models.RouteDecision
	var facts []byte
	err := r.db.QueryRowContext(ctx, query, requestID).Scan(
		&d.RequestID,
		&d.Request.SourceID, &d.Request.SourceAsset,
		&d.Request.DestID, &d.Request.DestAsset,
		&d.Request.AmountUSD, &d.Request.Preference,
		&facts, &d.DecidedAt,
	)
	if err != nil {
		metrics.DatabaseOperationDuration.WithLabelValues("get_decision", "error").Observe(time.Since(start).Seconds())
		metrics.DatabaseErrors.WithLabelValues("get_decision").Inc()
		return nil, fmt.Errorf("failed to get decision: %w", err)
	}
	if err := json.Unmarshal(facts, &d.Facts); err != nil {
		return nil, fmt.Errorf("failed to decode facts: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("get_decision", "success").Inc()
	return &d, nil
}

// GetDecisionsByPair retrieves recent decisions for a chain pair
func (r *decisionRepository) GetDecisionsByPair(ctx context.Context, source, dest models.ChainID, limit int) ([]*models.RouteDecision, error) {
	start := time.Now()
	defer func() {
		metrics.DatabaseOperationDuration.WithLabelValues("get_decisions_by_pair", "success").Observe(time.Since(start).Seconds())
	}()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT request_id, source_chain, source_asset, dest_chain, dest_asset,
			amount_usd, preference, facts, decided_at
		FROM route_decisions
		WHERE source_chain = $1 AND dest_chain = $2
		ORDER BY decided_at DESC
		LIMIT $3
	`

	rows, err := r.db.QueryContext(ctx, query, source, dest, limit)
	if err != nil {
		metrics.DatabaseOperationDuration.WithLabelValues("get_decisions_by_pair", "error").Observe(time.Since(start).Seconds())
		metrics.DatabaseErrors.WithLabelValues("get_decisions_by_pair").Inc()
		return nil, fmt.Errorf("failed to get decisions by pair: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisions(rows)
	if err != nil {
		return nil, err
	}

	metrics.DatabaseOperations.WithLabelValues("get_decisions_by_pair", "success").Inc()
	return decisions, nil
}

// GetDecisionsByTimeRange retrieves decisions within a time range
func (r *decisionRepository) GetDecisionsByTimeRange(ctx context.Context, start, end int64) ([]*models.RouteDecision, error) {
	startTime := time.Now()
	defer func() {
		metrics.DatabaseOperationDuration.WithLabelValues("get_decisions_by_time_range", "success").Observe(time.Since(startTime).Seconds())
	}()

	query := `
		SELECT request_id, source_chain, source_asset, dest_chain, dest_asset,
			amount_usd, preference, facts, decided_at
		FROM route_decisions
		WHERE decided_at BETWEEN $1 AND $2
		ORDER BY decided_at DESC
	`

	rows, err := r.db.QueryContext(ctx, query, start, end)
	if err != nil {
		metrics.DatabaseOperationDuration.WithLabelValues("get_decisions_by_time_range", "error").Observe(time.Since(startTime).Seconds())
		metrics.DatabaseErrors.WithLabelValues("get_decisions_by_time_range").Inc()
		return nil, fmt.Errorf("failed to get decisions by time range: %w", err)
	}
	defer rows.Close()

	decisions, err := scanDecisions(rows)
	if err != nil {
		return nil, err
	}

	metrics.DatabaseOperations.WithLabelValues("get_decisions_by_time_range", "success").Inc()
	return decisions, nil
}

// GetPairStats retrieves aggregate statistics for one chain pair
func (r *decisionRepository) GetPairStats(ctx context.Context, source, dest models.ChainID) (*PairStats, error) {
	start := time.Now()
	defer func() {
		metrics.DatabaseOperationDuration.WithLabelValues("get_pair_stats", "success").Observe(time.Since(start).Seconds())
	}()

	query := `
		SELECT
			COUNT(*) AS decisions,
			COALESCE(AVG(total_cost_usd), 0),
			COALESCE(AVG(total_latency_ms), 0),
			COALESCE(AVG(step_count), 0),
			COALESCE(MAX(decided_at), 0)
		FROM route_decisions
		WHERE source_chain = $1 AND dest_chain = $2
	`

	stats := PairStats{SourceChain: source, DestChain: dest}
	err := r.db.QueryRowContext(ctx, query, source, dest).Scan(
		&stats.Decisions,
		&stats.AvgCostUSD,
		&stats.AvgLatencyMs,
		&stats.AvgSteps,
		&stats.LastDecidedAt,
	)
	if err != nil {
		metrics.DatabaseOperationDuration.WithLabelValues("get_pair_stats", "error").Observe(time.Since(start).Seconds())
		metrics.DatabaseErrors.WithLabelValues("get_pair_stats").Inc()
		return nil, fmt.Errorf("failed to get pair stats: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("get_pair_stats", "success").Inc()
	return &stats, nil
}

type decisionRows interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

func scanDecisions(rows decisionRows) ([]*models.RouteDecision, error) {
	var decisions []*models.RouteDecision
	for rows.Next() {
		var d models.RouteDecision
		var facts []byte
		if err := rows.Scan(
			&d.RequestID,
			&d.Request.SourceID, &d.Request.SourceAsset,
			&d.Request.DestID, &d.Request.DestAsset,
			&d.Request.AmountUSD, &d.Request.Preference,
			&facts, &d.DecidedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan decision: %w", err)
		}
		if err := json.Unmarshal(facts, &d.Facts); err != nil {
			return nil, fmt.Errorf("failed to decode facts: %w", err)
		}
		decisions = append(decisions, &d)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating decisions: %w", err)
	}
	return decisions, nil
}

// quoteHistoryRepository implements QuoteHistoryRepository
type quoteHistoryRepository struct {
	db *DB
}

// NewQuoteHistoryRepository creates a new quote history repository
func NewQuoteHistoryRepository(db *DB) QuoteHistoryRepository {
	return &quoteHistoryRepository{db: db}
}

// SavePriceQuote archives one price observation
func (r *quoteHistoryRepository) SavePriceQuote(ctx context.Context, q *models.PriceQuote) error {
	return r.save(ctx, "price", "price:"+q.Symbol, q.USDPrice, q.Source, q.Timestamp.UnixMilli())
}

// SaveGasQuote archives one gas observation
func (r *quoteHistoryRepository) SaveGasQuote(ctx context.Context, q *models.GasQuote) error {
	return r.save(ctx, "gas", "gas:"+string(q.Chain), q.NativePrice, q.Source, q.Timestamp.UnixMilli())
}

func (r *quoteHistoryRepository) save(ctx context.Context, kind, key string, value float64, source string, quotedAt int64) error {
	start := time.Now()
	defer func() {
		metrics.DatabaseOperationDuration.WithLabelValues("save_quote_history", "success").Observe(time.Since(start).Seconds())
	}()

	query := `
		INSERT INTO quote_history (kind, quote_key, value, source, quoted_at)
		VALUES ($1, $2, $3, $4, $5)
	`

	_, err := r.db.ExecContext(ctx, query, kind, key, value, source, quotedAt)
	if err != nil {
		metrics.DatabaseOperationDuration.WithLabelValues("save_quote_history", "error").Observe(time.Since(start).Seconds())
		metrics.DatabaseErrors.WithLabelValues("save_quote_history").Inc()
		return fmt.Errorf("failed to save quote history: %w", err)
	}

	metrics.DatabaseOperations.WithLabelValues("save_quote_history", "success").Inc()
	return nil
}

// GetHistory retrieves recent observations for one quote key
func (r *quoteHistoryRepository) GetHistory(ctx context.Context, quoteKey string, limit int) ([]*HistoryRow, error) {
	start := time.Now()
	defer func() {
		metrics.DatabaseOperationDuration.WithLabelValues("get_quote_history", "success").Observe(time.Since(start).Seconds())
	}()

	if limit <= 0 || limit > 1000 {
		limit = 100
	}

	query := `
		SELECT kind, quote_key, value, source, quoted_at
		FROM quote_history
		WHERE quote_key = $1
		ORDER BY quoted_at DESC
		LIMIT $2
	`

	rows, err := r.db.QueryContext(ctx, query, quoteKey, limit)
	if err != nil {
		metrics.DatabaseOperationDuration.WithLabelValues("get_quote_history", "error").Observe(time.Since(start).Seconds())
		metrics.DatabaseErrors.WithLabelValues("get_quote_history").Inc()
		return nil, fmt.Errorf("failed to get quote history: %w", err)
	}
	defer rows.Close()

	history, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}

	metrics.DatabaseOperations.WithLabelValues("get_quote_history", "success").Inc()
	return history, nil
}

// GetHistoryByTimeRange retrieves observations within a time range
func (r *quoteHistoryRepository) GetHistoryByTimeRange(ctx context.Context, quoteKey string, start, end int64) ([]*HistoryRow, error) {
	startTime := time.Now()
	defer func() {
		metrics.DatabaseOperationDuration.WithLabelValues("get_quote_history_by_time_range", "success").Observe(time.Since(startTime).Seconds())
	}()

	query := `
		SELECT kind, quote_key, value, source, quoted_at
		FROM quote_history
		WHERE quote_key = $1 AND quoted_at BETWEEN $2 AND $3
		ORDER BY quoted_at ASC
	`

	rows, err := r.db.QueryContext(ctx, query, quoteKey, start, end)
	if err != nil {
		metrics.DatabaseOperationDuration.WithLabelValues("get_quote_history_by_time_range", "error").Observe(time.Since(startTime).Seconds())
		metrics.DatabaseErrors.WithLabelValues("get_quote_history_by_time_range").Inc()
		return nil, fmt.Errorf("failed to get quote history by time range: %w", err)
	}
	defer rows.Close()

	history, err := scanHistory(rows)
	if err != nil {
		return nil, err
	}

	metrics.DatabaseOperations.WithLabelValues("get_quote_history_by_time_range", "success").Inc()
	return history, nil
}

func scanHistory(rows decisionRows) ([]*HistoryRow, error) {
	var history []*HistoryRow
	for rows.Next() {
		var h HistoryRow
		if err := rows.Scan(&h.Kind, &h.QuoteKey, &h.Value, &h.Source, &h.QuotedAt); err != nil {
			return nil, fmt.Errorf("failed to scan quote history: %w", err)
		}
		history = append(history, &h)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating quote history: %w", err)
	}
	return history, nil
}
