package database

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrDuplicateLedgerEntry is returned when (group_id, ledger_type) already
// exists — the C6 `post` uniqueness guard.
var ErrDuplicateLedgerEntry = errors.New("duplicate ledger entry for group id and ledger type")

// LedgerRepository is the append-only journal backing C6.
type LedgerRepository struct {
	db *pgxpool.Pool
}

func NewLedgerRepository(db *DB) *LedgerRepository {
	return &LedgerRepository{db: db.pool}
}

// accountRow is the flattened column payload persisted for an Account tuple.
type accountRow struct {
	Type string `json:"account_type"`
	Name string `json:"name"`
	Sub  string `json:"sub"`
}

// Post inserts a single LedgerEntry atomically. It never mutates existing
// rows — the ledger is append-only. Returns ErrDuplicateLedgerEntry when the
// (group_id, ledger_type) slot is already occupied.
func (r *LedgerRepository) Post(ctx context.Context, e *LedgerEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	convBlob, err := json.Marshal(e.Conv)
	if err != nil {
		return fmt.Errorf("failed to marshal conv snapshot: %w", err)
	}

	query := `INSERT INTO ledger (
		id, group_id, ledger_type, timestamp, description,
		debit_account_type, debit_name, debit_sub,
		credit_account_type, credit_name, credit_sub,
		amount, unit, conv, notes
	) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15)`

	_, err = r.db.Exec(ctx, query,
		e.ID, e.GroupID, e.LedgerType, e.Timestamp, e.Description,
		e.Debit.AccountType, e.Debit.Name, e.Debit.Sub,
		e.Credit.AccountType, e.Credit.Name, e.Credit.Sub,
		e.Amount, e.Unit, convBlob, e.Notes,
	)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrDuplicateLedgerEntry
		}
		return fmt.Errorf("failed to post ledger entry %s/%s: %w", e.GroupID, e.LedgerType, err)
	}
	return nil
}

// ExistsForGroupAndType is the idempotency check a C5 handler uses to no-op
// when the entries it would write already exist.
func (r *LedgerRepository) ExistsForGroupAndType(ctx context.Context, groupID string, ledgerType LedgerType) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM ledger WHERE group_id = $1 AND ledger_type = $2)`
	var exists bool
	if err := r.db.QueryRow(ctx, query, groupID, ledgerType).Scan(&exists); err != nil {
		return false, fmt.Errorf("failed to check ledger entry existence: %w", err)
	}
	return exists, nil
}

func (r *LedgerRepository) scanEntry(row pgx.Row) (*LedgerEntry, error) {
	var e LedgerEntry
	var convBlob []byte
	err := row.Scan(
		&e.ID, &e.GroupID, &e.LedgerType, &e.Timestamp, &e.Description,
		&e.Debit.AccountType, &e.Debit.Name, &e.Debit.Sub,
		&e.Credit.AccountType, &e.Credit.Name, &e.Credit.Sub,
		&e.Amount, &e.Unit, &convBlob, &e.Notes,
	)
	if err != nil {
		return nil, err
	}
	if len(convBlob) > 0 {
		if err := json.Unmarshal(convBlob, &e.Conv); err != nil {
			return nil, fmt.Errorf("failed to unmarshal conv snapshot: %w", err)
		}
	}
	return &e, nil
}

const ledgerSelectCols = `
	id, group_id, ledger_type, timestamp, description,
	debit_account_type, debit_name, debit_sub,
	credit_account_type, credit_name, credit_sub,
	amount, unit, conv, notes`

// ListByGroupID returns every entry posted under one group id (used for
// refund/reversal logic and audit).
func (r *LedgerRepository) ListByGroupID(ctx context.Context, groupID string) ([]*LedgerEntry, error) {
	query := `SELECT` + ledgerSelectCols + ` FROM ledger WHERE group_id = $1 ORDER BY timestamp ASC`
	rows, err := r.db.Query(ctx, query, groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to list ledger entries for %s: %w", groupID, err)
	}
	defer rows.Close()

	var out []*LedgerEntry
	for rows.Next() {
		e, err := r.scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan ledger row: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

// AccountTotals is the per-unit signed sum for one account, as of an
// optional point in time and lookback window.
type AccountTotals struct {
	Unit   Unit
	Amount int64 // signed: credits to the account are positive, debits negative
}

// SumByAccount aggregates signed per-unit totals for an account tuple.
// asOf, when non-nil, limits the sum to entries at or before that time
// (truncated to the minute by the caller before use as a cache key).
// sinceAge, when non-nil, additionally excludes entries older than it.
func (r *LedgerRepository) SumByAccount(ctx context.Context, acct Account, asOf *string, sinceAge *string) ([]AccountTotals, error) {
	query := `
		SELECT unit, SUM(
			CASE
				WHEN credit_account_type = $1 AND credit_name = $2 AND credit_sub = $3 THEN amount
				ELSE 0
			END
			-
			CASE
				WHEN debit_account_type = $1 AND debit_name = $2 AND debit_sub = $3 THEN amount
				ELSE 0
			END
		) AS net
		FROM ledger
		WHERE (credit_account_type = $1 AND credit_name = $2 AND credit_sub = $3)
		   OR (debit_account_type = $1 AND debit_name = $2 AND debit_sub = $3)`
	args := []any{acct.AccountType, acct.Name, acct.Sub}
	if asOf != nil {
		query += fmt.Sprintf(" AND timestamp <= $%d", len(args)+1)
		args = append(args, *asOf)
	}
	if sinceAge != nil {
		query += fmt.Sprintf(" AND timestamp >= $%d", len(args)+1)
		args = append(args, *sinceAge)
	}
	query += " GROUP BY unit"

	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to sum account %s/%s/%s: %w", acct.AccountType, acct.Name, acct.Sub, err)
	}
	defer rows.Close()

	var out []AccountTotals
	for rows.Next() {
		var t AccountTotals
		if err := rows.Scan(&t.Unit, &t.Amount); err != nil {
			return nil, fmt.Errorf("failed to scan account total: %w", err)
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

// ListAccounts enumerates every distinct account tuple referenced as either
// a debit or a credit side.
func (r *LedgerRepository) ListAccounts(ctx context.Context) ([]Account, error) {
	query := `
		SELECT DISTINCT account_type, name, sub FROM (
			SELECT debit_account_type AS account_type, debit_name AS name, debit_sub AS sub FROM ledger
			UNION
			SELECT credit_account_type, credit_name, credit_sub FROM ledger
		) accounts
		ORDER BY account_type, name, sub`

	rows, err := r.db.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to list accounts: %w", err)
	}
	defer rows.Close()

	var out []Account
	for rows.Next() {
		var a Account
		if err := rows.Scan(&a.AccountType, &a.Name, &a.Sub); err != nil {
			return nil, fmt.Errorf("failed to scan account: %w", err)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}
