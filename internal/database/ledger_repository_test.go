//go:build integration

package database

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func entryFixture(groupID string, lt LedgerType, amount int64) *LedgerEntry {
	return &LedgerEntry{
		GroupID:     groupID,
		LedgerType:  lt,
		Timestamp:   time.Now().UTC(),
		Description: "test entry",
		Debit:       Account{AccountType: Liability, Name: "User Balance", Sub: "alice"},
		Credit:      Account{AccountType: Asset, Name: "LN Holdings", Sub: "node"},
		Amount:      amount,
		Unit:        UnitMSATS,
	}
}

func TestLedgerRepository_PostAndListByGroupID(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewLedgerRepository(db)
	ctx := context.Background()
	groupID := uuid.NewString()

	require.NoError(t, repo.Post(ctx, entryFixture(groupID, ConvHiveToSats, 4_500_000)))

	entries, err := repo.ListByGroupID(ctx, groupID)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, int64(4_500_000), entries[0].Amount)
}

func TestLedgerRepository_DuplicateEntryRejected(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewLedgerRepository(db)
	ctx := context.Background()
	groupID := uuid.NewString()

	require.NoError(t, repo.Post(ctx, entryFixture(groupID, FeeConversion, 100)))
	err := repo.Post(ctx, entryFixture(groupID, FeeConversion, 100))
	assert.ErrorIs(t, err, ErrDuplicateLedgerEntry)
}

func TestLedgerRepository_ExistsForGroupAndType(t *testing.T) {
	db := SetupTestDB(t)
	defer db.Close()
	defer CleanupTestDB(t, db)

	repo := NewLedgerRepository(db)
	ctx := context.Background()
	groupID := uuid.NewString()

	exists, err := repo.ExistsForGroupAndType(ctx, groupID, ConvContra)
	require.NoError(t, err)
	assert.False(t, exists)

	require.NoError(t, repo.Post(ctx, entryFixture(groupID, ConvContra, 50)))

	exists, err = repo.ExistsForGroupAndType(ctx, groupID, ConvContra)
	require.NoError(t, err)
	assert.True(t, exists)
}
