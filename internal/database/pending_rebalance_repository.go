package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrPendingRebalanceNotFound is returned when no accumulator row exists
// for a given (exchange, base, quote, direction).
var ErrPendingRebalanceNotFound = errors.New("pending rebalance not found")

// ErrStaleVersion is returned by Save when another writer updated the row
// first — an optimistic-concurrency guard because background rebalance
// tasks may race on the same row.
var ErrStaleVersion = errors.New("pending rebalance version is stale")

// PendingRebalanceRepository persists the C8 accumulator rows.
type PendingRebalanceRepository struct {
	db *pgxpool.Pool
}

func NewPendingRebalanceRepository(db *DB) *PendingRebalanceRepository {
	return &PendingRebalanceRepository{db: db.pool}
}

const pendingSelectCols = `
	id, exchange, base_asset, quote_asset, direction,
	pending_qty, pending_quote_value, min_qty_threshold, min_notional_threshold,
	transaction_count, transaction_ids, total_executed_qty, execution_count,
	version, updated_at`

func (r *PendingRebalanceRepository) scan(row pgx.Row) (*PendingRebalance, error) {
	var p PendingRebalance
	err := row.Scan(
		&p.ID, &p.Exchange, &p.BaseAsset, &p.QuoteAsset, &p.Direction,
		&p.PendingQty, &p.PendingQuoteValue, &p.MinQtyThreshold, &p.MinNotionalThreshold,
		&p.TransactionCount, &p.TransactionIDs, &p.TotalExecutedQty, &p.ExecutionCount,
		&p.Version, &p.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	return &p, nil
}

// GetOrCreate loads the accumulator row for (exchange, base, quote,
// direction), creating a zeroed one if it doesn't exist yet.
func (r *PendingRebalanceRepository) GetOrCreate(ctx context.Context, exchange, base, quote string, direction PendingRebalanceDirection) (*PendingRebalance, error) {
	query := `SELECT` + pendingSelectCols + ` FROM pending_rebalances
		WHERE exchange = $1 AND base_asset = $2 AND quote_asset = $3 AND direction = $4`
	p, err := r.scan(r.db.QueryRow(ctx, query, exchange, base, quote, direction))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to load pending rebalance: %w", err)
	}

	p = &PendingRebalance{
		ID:         uuid.NewString(),
		Exchange:   exchange,
		BaseAsset:  base,
		QuoteAsset: quote,
		Direction:  direction,
	}
	insert := `INSERT INTO pending_rebalances (
		id, exchange, base_asset, quote_asset, direction,
		pending_qty, pending_quote_value, min_qty_threshold, min_notional_threshold,
		transaction_count, transaction_ids, total_executed_qty, execution_count, version
	) VALUES ($1,$2,$3,$4,$5,0,0,0,0,0,'{}',0,0,1)
	ON CONFLICT (exchange, base_asset, quote_asset, direction) DO NOTHING`
	if _, err := r.db.Exec(ctx, insert, p.ID, p.Exchange, p.BaseAsset, p.QuoteAsset, p.Direction); err != nil {
		return nil, fmt.Errorf("failed to create pending rebalance: %w", err)
	}

	// Re-read: another goroutine may have won the insert race.
	p, err = r.scan(r.db.QueryRow(ctx, query, exchange, base, quote, direction))
	if err != nil {
		return nil, fmt.Errorf("failed to reload pending rebalance after insert: %w", err)
	}
	return p, nil
}

// Save writes back an updated accumulator with optimistic concurrency:
// the WHERE clause pins the previous version, and a zero rows-affected
// result means someone else updated it first.
func (r *PendingRebalanceRepository) Save(ctx context.Context, p *PendingRebalance) error {
	query := `UPDATE pending_rebalances SET
		pending_qty = $1, pending_quote_value = $2,
		min_qty_threshold = $3, min_notional_threshold = $4,
		transaction_count = $5, transaction_ids = $6,
		total_executed_qty = $7, execution_count = $8,
		version = version + 1, updated_at = now()
	WHERE id = $9 AND version = $10`

	tag, err := r.db.Exec(ctx, query,
		p.PendingQty, p.PendingQuoteValue,
		p.MinQtyThreshold, p.MinNotionalThreshold,
		p.TransactionCount, p.TransactionIDs,
		p.TotalExecutedQty, p.ExecutionCount,
		p.ID, p.Version,
	)
	if err != nil {
		return fmt.Errorf("failed to save pending rebalance %s: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrStaleVersion
	}
	p.Version++
	return nil
}

// RecordResult persists the outcome of an executed trade.
func (r *PendingRebalanceRepository) RecordResult(ctx context.Context, res *RebalanceResult) error {
	if res.ID == "" {
		res.ID = uuid.NewString()
	}
	query := `INSERT INTO rebalance_results (
		id, pending_id, exchange, base_asset, quote_asset, direction,
		filled_qty, quote_received, avg_price, fee, group_ids, executed_at
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12)`
	_, err := r.db.Exec(ctx, query,
		res.ID, res.PendingID, res.Exchange, res.BaseAsset, res.QuoteAsset, res.Direction,
		res.FilledQty, res.QuoteReceived, res.AvgPrice, res.Fee, res.GroupIDs, res.ExecutedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record rebalance result: %w", err)
	}
	return nil
}
