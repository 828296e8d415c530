//go:build integration

package ledger

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeInvalidator struct {
	invalidated []database.Account
}

func (f *fakeInvalidator) Invalidate(a database.Account) {
	f.invalidated = append(f.invalidated, a)
}

func TestLedger_PostInvalidatesBothSidesAndSumsBalance(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	inv := &fakeInvalidator{}
	l := New(database.NewLedgerRepository(db), inv)
	ctx := context.Background()

	treasury := database.Account{AccountType: database.Asset, Name: "LN Holdings", Sub: "node"}
	user := database.Account{AccountType: database.Liability, Name: "User Balance", Sub: "bob"}

	e, err := NewEntry(uuid.NewString(), database.DepositLN, treasury, user,
		21_000_000, database.UnitMSATS, database.RateSnapshot{}, "inbound LN deposit")
	require.NoError(t, err)

	require.NoError(t, l.Post(ctx, e))
	assert.Len(t, inv.invalidated, 2)

	details, err := l.Balance(ctx, user, nil, nil)
	require.NoError(t, err)
	assert.Equal(t, int64(21_000_000), details.PerUnit[database.UnitMSATS])
}

func TestLedger_PostAllSkipsAlreadyPostedEntries(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	l := New(database.NewLedgerRepository(db), nil)
	ctx := context.Background()
	groupID := uuid.NewString()

	treasury := database.Account{AccountType: database.Asset, Name: "LN Holdings", Sub: "node"}
	user := database.Account{AccountType: database.Liability, Name: "User Balance", Sub: "carol"}

	e, err := NewEntry(groupID, database.ConvHiveToSats, treasury, user,
		500, database.UnitMSATS, database.RateSnapshot{}, "conversion leg")
	require.NoError(t, err)

	require.NoError(t, l.PostAll(ctx, []*Entry{e, e}))

	entries, err := l.ListByGroupID(ctx, groupID)
	require.NoError(t, err)
	assert.Len(t, entries, 1)
}

func TestLedger_ListAccountsIncludesPostedTuples(t *testing.T) {
	db := database.SetupTestDB(t)
	defer db.Close()
	defer database.CleanupTestDB(t, db)

	l := New(database.NewLedgerRepository(db), nil)
	ctx := context.Background()

	treasury := database.Account{AccountType: database.Asset, Name: "LN Holdings", Sub: "node"}
	user := database.Account{AccountType: database.Liability, Name: "User Balance", Sub: "dana"}

	e, err := NewEntry(uuid.NewString(), database.WithdrawLN, user, treasury,
		1_200, database.UnitMSATS, database.RateSnapshot{}, "withdrawal")
	require.NoError(t, err)
	require.NoError(t, l.Post(ctx, e))

	accounts, err := l.ListAccounts(ctx)
	require.NoError(t, err)
	assert.Contains(t, accounts, user)
	assert.Contains(t, accounts, treasury)
}
