package database

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// RateRepository persists the `rates` time series: timestamp + currency-pair
// + rate, used to reconstruct historical conv snapshots for reporting
// without re-marking already-posted ledger entries.
type RateRepository struct {
	db *pgxpool.Pool
}

func NewRateRepository(db *DB) *RateRepository {
	return &RateRepository{db: db.pool}
}

// Record appends one rate sample. Rates are never updated, only appended.
func (r *RateRepository) Record(ctx context.Context, s RateSample) error {
	query := `INSERT INTO rates (timestamp, pair, rate) VALUES ($1, $2, $3)`
	if _, err := r.db.Exec(ctx, query, s.Timestamp, s.Pair, s.Rate); err != nil {
		return fmt.Errorf("failed to record rate sample %s: %w", s.Pair, err)
	}
	return nil
}

// LatestBefore returns the most recent sample for a pair at or before t.
func (r *RateRepository) LatestBefore(ctx context.Context, pair string, t string) (*RateSample, error) {
	query := `SELECT timestamp, pair, rate FROM rates WHERE pair = $1 AND timestamp <= $2 ORDER BY timestamp DESC LIMIT 1`
	var s RateSample
	err := r.db.QueryRow(ctx, query, pair, t).Scan(&s.Timestamp, &s.Pair, &s.Rate)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load rate sample for %s: %w", pair, err)
	}
	return &s, nil
}
