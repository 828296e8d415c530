package database

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrErrorCodeNotFound is returned when a code has never been seen before.
var ErrErrorCodeNotFound = errors.New("error code not found")

// ErrorCodeRepository backs the §7 error-code deduplication pipeline.
type ErrorCodeRepository struct {
	db *pgxpool.Pool
}

func NewErrorCodeRepository(db *DB) *ErrorCodeRepository {
	return &ErrorCodeRepository{db: db.pool}
}

const errorCodeCols = `code, machine_id, message, start_time, last_log_time, re_alert_interval_seconds, active, cleared_at`

func (r *ErrorCodeRepository) scan(row pgx.Row) (*ErrorCode, error) {
	var e ErrorCode
	err := row.Scan(&e.Code, &e.MachineID, &e.Message, &e.StartTime, &e.LastLogTime, &e.ReAlertInterval, &e.Active, &e.ClearedAt)
	if err != nil {
		return nil, err
	}
	return &e, nil
}

// Get retrieves an error code's state on a given machine.
func (r *ErrorCodeRepository) Get(ctx context.Context, code, machineID string) (*ErrorCode, error) {
	query := `SELECT ` + errorCodeCols + ` FROM error_codes WHERE code = $1 AND machine_id = $2`
	e, err := r.scan(r.db.QueryRow(ctx, query, code, machineID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrErrorCodeNotFound
		}
		return nil, fmt.Errorf("failed to get error code %s/%s: %w", code, machineID, err)
	}
	return e, nil
}

// Upsert creates the error code on first occurrence or refreshes
// last_log_time on a repeat; re-activates it if it had been cleared. The
// caller (the logging pipeline) is responsible for suppressing repeats that
// fall inside ReAlertInterval before calling this.
func (r *ErrorCodeRepository) Upsert(ctx context.Context, code, machineID, message string, reAlertInterval time.Duration) error {
	now := time.Now().UTC()
	query := `INSERT INTO error_codes (code, machine_id, message, start_time, last_log_time, re_alert_interval_seconds, active, cleared_at)
		VALUES ($1, $2, $3, $4, $4, $5, true, NULL)
		ON CONFLICT (code, machine_id) DO UPDATE SET
			message = EXCLUDED.message,
			last_log_time = EXCLUDED.last_log_time,
			re_alert_interval_seconds = EXCLUDED.re_alert_interval_seconds,
			active = true,
			cleared_at = NULL`
	_, err := r.db.Exec(ctx, query, code, machineID, message, now, int64(reAlertInterval.Seconds()))
	if err != nil {
		return fmt.Errorf("failed to upsert error code %s/%s: %w", code, machineID, err)
	}
	return nil
}

// ShouldAlert implements the §7 dedup filter: the first occurrence of a
// code always alerts, as does any occurrence after the code reappears
// following a Clear; a repeat while still active only alerts once
// reAlertInterval has elapsed since the last one. The occurrence is
// recorded either way so the suppressed-repeat history survives a restart.
func (r *ErrorCodeRepository) ShouldAlert(ctx context.Context, code, machineID, message string, reAlertInterval time.Duration) (bool, error) {
	existing, err := r.Get(ctx, code, machineID)
	if err != nil && !errors.Is(err, ErrErrorCodeNotFound) {
		return false, err
	}

	alert := true
	if existing != nil && existing.Active {
		alert = time.Since(existing.LastLogTime) >= reAlertInterval
	}

	if err := r.Upsert(ctx, code, machineID, message, reAlertInterval); err != nil {
		return false, err
	}
	return alert, nil
}

// Clear marks an error code inactive, recording when it cleared.
func (r *ErrorCodeRepository) Clear(ctx context.Context, code, machineID string) error {
	query := `UPDATE error_codes SET active = false, cleared_at = now() WHERE code = $1 AND machine_id = $2`
	tag, err := r.db.Exec(ctx, query, code, machineID)
	if err != nil {
		return fmt.Errorf("failed to clear error code %s/%s: %w", code, machineID, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrErrorCodeNotFound
	}
	return nil
}
