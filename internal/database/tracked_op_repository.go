package database

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	// ErrTrackedOpNotFound is returned when a group id has no journal row.
	ErrTrackedOpNotFound = errors.New("tracked op not found")
	// ErrDuplicateTrackedOp is returned on a replay of the same (group_id, source_kind).
	ErrDuplicateTrackedOp = errors.New("tracked op already ingested for this group id and source kind")
)

// TrackedOpRepository persists the C1 event journal.
type TrackedOpRepository struct {
	db *pgxpool.Pool
}

func NewTrackedOpRepository(db *DB) *TrackedOpRepository {
	return &TrackedOpRepository{db: db.pool}
}

// Create inserts a new journal row. Returns ErrDuplicateTrackedOp if
// (group_id, source_kind) already exists — the idempotency rule from spec
// §4.1: a duplicate replay of the same source event is a no-op.
func (r *TrackedOpRepository) Create(ctx context.Context, row *TrackedOpRow) error {
	query := `INSERT INTO tracked_ops (
		group_id, short_id, source_kind, source_timestamp, ingested_timestamp,
		state, payload, parent_group_id, process_time_ms, last_error
	) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`

	_, err := r.db.Exec(ctx, query,
		row.GroupID, row.ShortID, row.SourceKind, row.SourceTimestamp, row.IngestedTimestamp,
		row.State, row.Payload, row.ParentGroupID, row.ProcessTimeMS, row.LastError,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateTrackedOp
		}
		return fmt.Errorf("failed to create tracked op %s: %w", row.GroupID, err)
	}
	return nil
}

// GetByGroupID retrieves a journal row by its group id.
func (r *TrackedOpRepository) GetByGroupID(ctx context.Context, groupID string) (*TrackedOpRow, error) {
	query := `SELECT
		group_id, short_id, source_kind, source_timestamp, ingested_timestamp,
		state, payload, parent_group_id, process_time_ms, last_error
	FROM tracked_ops WHERE group_id = $1`

	var row TrackedOpRow
	err := r.db.QueryRow(ctx, query, groupID).Scan(
		&row.GroupID, &row.ShortID, &row.SourceKind, &row.SourceTimestamp, &row.IngestedTimestamp,
		&row.State, &row.Payload, &row.ParentGroupID, &row.ProcessTimeMS, &row.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrTrackedOpNotFound
		}
		return nil, fmt.Errorf("failed to get tracked op %s: %w", groupID, err)
	}
	return &row, nil
}

// ListIngestedBySourceTimestamp returns ops in Ingested state ordered by
// source_timestamp ascending, the read path for C4's single-consumer loop.
func (r *TrackedOpRepository) ListIngestedBySourceTimestamp(ctx context.Context, limit int) ([]*TrackedOpRow, error) {
	query := `SELECT
		group_id, short_id, source_kind, source_timestamp, ingested_timestamp,
		state, payload, parent_group_id, process_time_ms, last_error
	FROM tracked_ops WHERE state = 'ingested' ORDER BY source_timestamp ASC LIMIT $1`

	rows, err := r.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list ingested tracked ops: %w", err)
	}
	defer rows.Close()

	var out []*TrackedOpRow
	for rows.Next() {
		var row TrackedOpRow
		if err := rows.Scan(
			&row.GroupID, &row.ShortID, &row.SourceKind, &row.SourceTimestamp, &row.IngestedTimestamp,
			&row.State, &row.Payload, &row.ParentGroupID, &row.ProcessTimeMS, &row.LastError,
		); err != nil {
			return nil, fmt.Errorf("failed to scan tracked op row: %w", err)
		}
		out = append(out, &row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}
	return out, nil
}

// UpdateState transitions a journal row's state and records process_time_ms
// or last_error via COALESCE so unrelated fields are left untouched.
func (r *TrackedOpRepository) UpdateState(ctx context.Context, groupID string, state string, processTimeMS *int64, lastError *string) error {
	query := `UPDATE tracked_ops
		SET state = $2,
			process_time_ms = COALESCE($3, process_time_ms),
			last_error = COALESCE($4, last_error)
		WHERE group_id = $1`

	commandTag, err := r.db.Exec(ctx, query, groupID, state, processTimeMS, lastError)
	if err != nil {
		return fmt.Errorf("failed to update tracked op %s: %w", groupID, err)
	}
	if commandTag.RowsAffected() == 0 {
		return ErrTrackedOpNotFound
	}
	return nil
}

// HighestSourceTimestampForKind returns the resume point a watcher should
// continue from for a given source kind (e.g. the latest ingested Hive
// block's timestamp), used to rebuild the persisted-height cursor on
// restart; there is no separate resume-cursor table.
func (r *TrackedOpRepository) HighestSourceTimestampForKind(ctx context.Context, kind string) (bool, TrackedOpRow, error) {
	query := `SELECT
		group_id, short_id, source_kind, source_timestamp, ingested_timestamp,
		state, payload, parent_group_id, process_time_ms, last_error
	FROM tracked_ops WHERE source_kind = $1 ORDER BY source_timestamp DESC LIMIT 1`

	var row TrackedOpRow
	err := r.db.QueryRow(ctx, query, kind).Scan(
		&row.GroupID, &row.ShortID, &row.SourceKind, &row.SourceTimestamp, &row.IngestedTimestamp,
		&row.State, &row.Payload, &row.ParentGroupID, &row.ProcessTimeMS, &row.LastError,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, TrackedOpRow{}, nil
		}
		return false, TrackedOpRow{}, fmt.Errorf("failed to find resume point for %s: %w", kind, err)
	}
	return true, row, nil
}
