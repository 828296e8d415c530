// Package ledger implements C6: the double-entry posting API, balance
// queries, and account enumeration, wrapping database.LedgerRepository with
// validation and cache-invalidation.
package ledger

import (
	"fmt"

	"github.com/hiveln-bridge/bridge/internal/database"
)

// Entry is the caller-facing shape of one double-entry posting — a thin
// alias of database.LedgerEntry so callers outside internal/database don't
// need to import it directly for every post() call site.
type Entry = database.LedgerEntry

// Account re-exports database.Account for the same reason.
type Account = database.Account

// NewEntry builds a validated Entry ready for Post. Timestamp and ID are
// left for the repository to fill.
func NewEntry(groupID string, ledgerType database.LedgerType, debit, credit database.Account,
	amount int64, unit database.Unit, conv database.RateSnapshot, description string) (*Entry, error) {
	e := &Entry{
		GroupID:     groupID,
		LedgerType:  ledgerType,
		Debit:       debit,
		Credit:      credit,
		Amount:      amount,
		Unit:        unit,
		Conv:        conv,
		Description: description,
	}
	if err := Validate(e); err != nil {
		return nil, err
	}
	return e, nil
}

// Validate enforces post()'s invariants: a valid account tuple on each
// side, a known unit, and a strictly positive amount. The ledger never
// posts a zero-value or negative entry — reversals are separate entries
// with debit/credit swapped, not negated amounts.
func Validate(e *Entry) error {
	if e.GroupID == "" {
		return fmt.Errorf("ledger: entry missing group id")
	}
	if e.LedgerType == "" {
		return fmt.Errorf("ledger: entry missing ledger type")
	}
	if err := validateAccount(e.Debit); err != nil {
		return fmt.Errorf("ledger: debit account: %w", err)
	}
	if err := validateAccount(e.Credit); err != nil {
		return fmt.Errorf("ledger: credit account: %w", err)
	}
	if e.Amount <= 0 {
		return fmt.Errorf("ledger: amount must be positive, got %d", e.Amount)
	}
	switch e.Unit {
	case database.UnitHIVE, database.UnitHBD, database.UnitMSATS:
	default:
		return fmt.Errorf("ledger: unknown unit %q", e.Unit)
	}
	return nil
}

func validateAccount(a database.Account) error {
	if a.Name == "" {
		return fmt.Errorf("account name is required")
	}
	switch a.AccountType {
	case database.Asset, database.Liability, database.Equity, database.Revenue, database.Expense:
	default:
		return fmt.Errorf("unknown account type %q", a.AccountType)
	}
	return nil
}
