package ledger

import (
	"context"
	"fmt"

	"github.com/hiveln-bridge/bridge/internal/database"
)

// Invalidator is implemented by internal/ledgercache — kept as a narrow
// interface here so ledger doesn't import its own cache layer back.
type Invalidator interface {
	Invalidate(account database.Account)
}

// Ledger is C6: post/balance/list_accounts over the durable journal.
type Ledger struct {
	repo        *database.LedgerRepository
	invalidator Invalidator
}

func New(repo *database.LedgerRepository, invalidator Invalidator) *Ledger {
	return &Ledger{repo: repo, invalidator: invalidator}
}

// WithInvalidator wires the balance cache after construction, the same
// builder pattern internal/ledgercache.Cache uses for its optional
// InFlightSource: the cache's Reader is the ledger itself, so the two
// can't be constructed in one step without an import cycle.
func (l *Ledger) WithInvalidator(invalidator Invalidator) *Ledger {
	l.invalidator = invalidator
	return l
}

// Post validates and writes a single entry, then invalidates the balance
// cache for both sides of the entry. Returns database.ErrDuplicateLedgerEntry
// unmodified when (group_id, ledger_type) already exists — C4's handlers
// treat that as their idempotency no-op signal, not a failure.
func (l *Ledger) Post(ctx context.Context, e *Entry) error {
	if err := Validate(e); err != nil {
		return err
	}
	if err := l.repo.Post(ctx, e); err != nil {
		return err
	}
	if l.invalidator != nil {
		l.invalidator.Invalidate(e.Debit)
		l.invalidator.Invalidate(e.Credit)
	}
	return nil
}

// PostAll posts a batch of entries that belong to the same logical flow
// (e.g. F1's deposit + conversion + fee + contra quartet). Entries already
// posted for their (group_id, ledger_type) are skipped rather than failing
// the whole batch, so a handler retried after a partial failure converges
// instead of erroring forever.
func (l *Ledger) PostAll(ctx context.Context, entries []*Entry) error {
	for _, e := range entries {
		if err := l.Post(ctx, e); err != nil {
			if err == database.ErrDuplicateLedgerEntry {
				continue
			}
			return fmt.Errorf("ledger: posting %s for group %s: %w", e.LedgerType, e.GroupID, err)
		}
	}
	return nil
}

// AccountDetails is the per-unit balance breakdown for one account.
type AccountDetails struct {
	Account   database.Account
	PerUnit   map[database.Unit]int64
}

// Balance computes an account's signed per-unit totals, optionally bounded
// by asOf (truncated to the minute by the caller before it is used as a
// cache key upstream) and a lookback window.
func (l *Ledger) Balance(ctx context.Context, account database.Account, asOf, sinceAge *string) (*AccountDetails, error) {
	totals, err := l.repo.SumByAccount(ctx, account, asOf, sinceAge)
	if err != nil {
		return nil, fmt.Errorf("ledger: balance for %s/%s/%s: %w", account.AccountType, account.Name, account.Sub, err)
	}
	details := &AccountDetails{Account: account, PerUnit: map[database.Unit]int64{}}
	for _, t := range totals {
		details.PerUnit[t.Unit] = t.Amount
	}
	return details, nil
}

// ListAccounts enumerates every (account_type, name, sub) tuple ever posted to.
func (l *Ledger) ListAccounts(ctx context.Context) ([]database.Account, error) {
	return l.repo.ListAccounts(ctx)
}

// ExistsForGroupAndType is the idempotency check a C5 handler calls before
// doing any work: if the entries it would write already exist, it no-ops.
func (l *Ledger) ExistsForGroupAndType(ctx context.Context, groupID string, ledgerType database.LedgerType) (bool, error) {
	return l.repo.ExistsForGroupAndType(ctx, groupID, ledgerType)
}

// ListByGroupID returns every entry posted under a group id, used by
// refund/reversal logic and the admin audit view.
func (l *Ledger) ListByGroupID(ctx context.Context, groupID string) ([]*Entry, error) {
	return l.repo.ListByGroupID(ctx, groupID)
}
