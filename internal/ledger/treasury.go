package ledger

import (
	"context"
	"fmt"
	"time"

	"github.com/hiveln-bridge/bridge/internal/btcaddr"
	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/lnd"
	"github.com/hiveln-bridge/bridge/pkg/cache"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

const (
	treasurySnapshotCacheKey = "treasury:snapshot:msats"
	treasurySnapshotCacheTTL = 10 * time.Second
	treasuryLockKey          = "treasury:lock"
	treasuryLockTTL          = 30 * time.Second
)

// LNBalanceSource is the narrow slice of *lnd.Client a TreasurySnapshot
// needs, kept as an interface so tests can supply a fake without a live
// node connection.
type LNBalanceSource interface {
	GetChannelBalance(ctx context.Context) (*lnd.ChannelBalance, error)
	GetWalletBalance(ctx context.Context) (*lnd.WalletBalance, error)
}

// TreasurySnapshot is the admin UI's view of bridge solvency: total BTC
// holdings (Lightning channel liquidity plus the on-chain hot wallet)
// against the sum of every open liability account in the ledger.
type TreasurySnapshot struct {
	ChannelLocalSats int64
	OnChainSats      int64
	TotalSats        int64
	LiabilitySats    int64
	AvailableSats    int64
}

// Treasury computes TreasurySnapshot against the ledger's full set of
// liability accounts and caches it for treasurySnapshotCacheTTL (10s).
type Treasury struct {
	ledger *Ledger
	ln     LNBalanceSource
}

func NewTreasury(ledger *Ledger, ln LNBalanceSource) *Treasury {
	return &Treasury{ledger: ledger, ln: ln}
}

// Snapshot returns the cached TreasurySnapshot, recomputing from LND and
// the ledger once the cache entry has expired.
func (t *Treasury) Snapshot(ctx context.Context) (TreasurySnapshot, error) {
	if cached, err := cache.Get(ctx, treasurySnapshotCacheKey); err == nil && cached != "" {
		if snap, ok := decodeSnapshot(cached); ok {
			return snap, nil
		}
	}

	snap, err := t.computeSnapshot(ctx)
	if err != nil {
		return TreasurySnapshot{}, err
	}

	if err := cache.Set(ctx, treasurySnapshotCacheKey, encodeSnapshot(snap), treasurySnapshotCacheTTL); err != nil {
		logger.Warn("treasury: failed to cache snapshot", zap.Error(err))
	}
	return snap, nil
}

func (t *Treasury) computeSnapshot(ctx context.Context) (TreasurySnapshot, error) {
	channelBal, err := t.ln.GetChannelBalance(ctx)
	if err != nil {
		return TreasurySnapshot{}, fmt.Errorf("treasury: channel balance: %w", err)
	}
	walletBal, err := t.ln.GetWalletBalance(ctx)
	if err != nil {
		return TreasurySnapshot{}, fmt.Errorf("treasury: wallet balance: %w", err)
	}

	liabilitySats, err := t.sumLiabilities(ctx)
	if err != nil {
		return TreasurySnapshot{}, err
	}

	total := channelBal.LocalSats + walletBal.ConfirmedSats
	snap := TreasurySnapshot{
		ChannelLocalSats: channelBal.LocalSats,
		OnChainSats:      walletBal.ConfirmedSats,
		TotalSats:        total,
		LiabilitySats:    liabilitySats,
		AvailableSats:    total - liabilitySats,
	}
	if snap.AvailableSats < 0 {
		logger.Error("treasury: oversold, available balance is negative",
			zap.String("total", btcaddr.FormatSats(total)), zap.String("liability", btcaddr.FormatSats(liabilitySats)),
			logger.ErrorCode("treasury_oversold"), logger.Notify())
	}
	return snap, nil
}

// sumLiabilities totals every Liability account's msats balance across the
// whole chart of accounts, converted to sats for the snapshot.
func (t *Treasury) sumLiabilities(ctx context.Context) (int64, error) {
	accounts, err := t.ledger.ListAccounts(ctx)
	if err != nil {
		return 0, fmt.Errorf("treasury: listing accounts: %w", err)
	}

	var totalMsats int64
	for _, acct := range accounts {
		if acct.AccountType != database.Liability {
			continue
		}
		details, err := t.ledger.Balance(ctx, acct, nil, nil)
		if err != nil {
			return 0, fmt.Errorf("treasury: balance for %s/%s: %w", acct.Name, acct.Sub, err)
		}
		totalMsats += details.PerUnit[database.UnitMSATS]
	}
	return totalMsats / 1000, nil
}

// InvalidateCache forces the next Snapshot call to recompute rather than
// serve a stale cached value. Nothing in this repository calls it; without
// it a cached snapshot lives for treasurySnapshotCacheTTL.
func (t *Treasury) InvalidateCache(ctx context.Context) {
	if _, err := cache.Delete(ctx, treasurySnapshotCacheKey); err != nil {
		logger.Warn("treasury: failed to invalidate cache", zap.Error(err))
	}
}

// AcquireLock and ReleaseLock back internal/rebalance.TreasuryLocker: the
// rebalancer holds this around a batched trade execution and its ledger
// posting so a concurrent treasury snapshot read can't race the write. The
// lock is a SetNX key in pkg/cache that expires after treasuryLockTTL.
func (t *Treasury) AcquireLock(ctx context.Context) (bool, error) {
	acquired, err := cache.SetNX(ctx, treasuryLockKey, "locked", treasuryLockTTL)
	if err != nil {
		return false, fmt.Errorf("treasury: acquiring lock: %w", err)
	}
	return acquired, nil
}

func (t *Treasury) ReleaseLock(ctx context.Context) {
	if _, err := cache.Delete(ctx, treasuryLockKey); err != nil {
		logger.Warn("treasury: failed to release lock", zap.Error(err))
	}
}

func encodeSnapshot(s TreasurySnapshot) string {
	return fmt.Sprintf("%d,%d,%d,%d,%d", s.ChannelLocalSats, s.OnChainSats, s.TotalSats, s.LiabilitySats, s.AvailableSats)
}

func decodeSnapshot(raw string) (TreasurySnapshot, bool) {
	var a, b, c, d, e int64
	n, err := fmt.Sscanf(raw, "%d,%d,%d,%d,%d", &a, &b, &c, &d, &e)
	if err != nil || n != 5 {
		return TreasurySnapshot{}, false
	}
	return TreasurySnapshot{
		ChannelLocalSats: a,
		OnChainSats:      b,
		TotalSats:        c,
		LiabilitySats:    d,
		AvailableSats:    e,
	}, true
}
