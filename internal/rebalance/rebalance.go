// Package rebalance implements C8: it decouples a conversion's
// business-level quantity from the operational reality that exchanges
// reject trades below a minimum lot size or notional value, by pooling
// sub-minimum conversions per (exchange, base, quote, direction) until the
// pool crosses both thresholds, then executing one batched trade.
package rebalance

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/exchange"
	"github.com/hiveln-bridge/bridge/internal/ledger"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

// Ledger is the subset of *ledger.Ledger the rebalancer needs to post its
// exc_conv/exc_fee pair, narrowed the same way internal/convert.Ledger is so
// tests can supply a fake without a database.
type Ledger interface {
	PostAll(ctx context.Context, entries []*ledger.Entry) error
}

// TreasuryLocker is the distributed-lock subset of *ledger.Treasury.
// Acquiring it around a trade execution keeps a concurrent treasury
// snapshot read from racing the ledger writes that execute produces.
type TreasuryLocker interface {
	AcquireLock(ctx context.Context) (bool, error)
	ReleaseLock(ctx context.Context)
}

func exchangeInventoryAccount(asset string) database.Account {
	return database.Account{AccountType: database.Asset, Name: "Exchange Inventory", Sub: asset}
}

var exchangeFeesAccount = database.Account{AccountType: database.Expense, Name: "Exchange Fees"}

// assetUnit maps a trading-pair asset symbol onto the ledger's fixed unit
// set. HIVE and HBD keep their on-chain unit; everything else (BTC, and any
// future quote asset) is treated as Lightning-denominated, the only other
// unit the ledger understands.
func assetUnit(asset string) database.Unit {
	switch asset {
	case "HIVE":
		return database.UnitHIVE
	case "HBD":
		return database.UnitHBD
	default:
		return database.UnitMSATS
	}
}

// toSmallestUnit converts a float quantity denominated in asset's natural
// unit into the integer smallest-unit amount a ledger entry requires:
// milli-HIVE/HBD, matching internal/convert's own on-chain scale, or
// millisatoshis for anything Lightning-denominated.
func toSmallestUnit(qty float64, unit database.Unit) int64 {
	if unit == database.UnitHIVE || unit == database.UnitHBD {
		return int64(math.Round(qty * 1000))
	}
	return int64(math.Round(qty * 1e11))
}

// ThresholdSource supplies an exchange's current minimum order size and
// minimum notional value for a trading pair, refreshed on every
// contribution per spec. Real venues publish these per symbol; no pack
// exchange client does, so the default below serves fixed configured
// values rather than a live per-call lookup.
type ThresholdSource interface {
	Thresholds(ctx context.Context, base, quote string) (minQty, minNotional float64, err error)
}

// StaticThresholds is the default ThresholdSource.
type StaticThresholds struct {
	MinQty      float64
	MinNotional float64
}

func (s StaticThresholds) Thresholds(context.Context, string, string) (float64, float64, error) {
	return s.MinQty, s.MinNotional, nil
}

// maxSaveRetries bounds the optimistic-concurrency retry loop; the pending
// rows are small and contention is rare (one conversion handler and the
// rebalancer's own netting step), so a handful of retries is generous.
const maxSaveRetries = 5

// Rebalancer is C8.
type Rebalancer struct {
	repo         *database.PendingRebalanceRepository
	thresholds   ThresholdSource
	trader       exchange.TradeAdapter
	exchangeName string
	ledger       Ledger
	lock         TreasuryLocker
}

func New(repo *database.PendingRebalanceRepository, thresholds ThresholdSource, trader exchange.TradeAdapter, exchangeName string, ldg Ledger) *Rebalancer {
	return &Rebalancer{repo: repo, thresholds: thresholds, trader: trader, exchangeName: exchangeName, ledger: ldg}
}

// WithTreasuryLock wires a distributed lock around execute's trade-and-post
// critical section. Optional: a Rebalancer with no lock still executes
// trades, just without the extra guard against a concurrent treasury read.
func (r *Rebalancer) WithTreasuryLock(lock TreasuryLocker) *Rebalancer {
	r.lock = lock
	return r
}

// Contribute implements convert.Rebalancer: every in-scope F1/F2
// conversion feeds its quantity (F1 the gross deposit, F2 the settled
// amount net of fee) and estimated quote value into the
// accumulator for its (base, quote, direction). On an optimistic-
// concurrency conflict with another contributor, the whole read-modify-
// write is retried against the freshly reloaded row rather than patched
// in place, since the computed deltas are only valid against the row they
// were computed from.
func (r *Rebalancer) Contribute(ctx context.Context, base, quote string, direction database.PendingRebalanceDirection, qty, quoteValue float64, groupID string) error {
	var lastErr error
	for attempt := 0; attempt < maxSaveRetries; attempt++ {
		err := r.contributeOnce(ctx, base, quote, direction, qty, quoteValue, groupID)
		if err == nil {
			return nil
		}
		if !errors.Is(err, database.ErrStaleVersion) {
			return err
		}
		lastErr = err
		logger.Warn("rebalance: optimistic concurrency conflict, retrying",
			zap.String("base", base), zap.String("quote", quote), zap.Int("attempt", attempt))
	}
	return fmt.Errorf("rebalance: exceeded retry budget contributing to %s/%s: %w", base, quote, lastErr)
}

func (r *Rebalancer) contributeOnce(ctx context.Context, base, quote string, direction database.PendingRebalanceDirection, qty, quoteValue float64, groupID string) error {
	pool, err := r.repo.GetOrCreate(ctx, r.exchangeName, base, quote, direction)
	if err != nil {
		return fmt.Errorf("rebalance: loading pool: %w", err)
	}

	minQty, minNotional, err := r.thresholds.Thresholds(ctx, base, quote)
	if err != nil {
		logger.Warn("rebalance: threshold refresh failed, proceeding with cached thresholds", zap.Error(err))
	} else {
		pool.MinQtyThreshold = minQty
		pool.MinNotionalThreshold = minNotional
	}

	pool.PendingQty += qty
	pool.PendingQuoteValue += quoteValue
	pool.TransactionCount++
	pool.TransactionIDs = append(pool.TransactionIDs, groupID)

	if err := r.netOpposing(ctx, pool); err != nil {
		logger.Warn("rebalance: netting against opposing pool failed, proceeding gross", zap.Error(err))
	}

	if pool.PendingQty >= pool.MinQtyThreshold && pool.PendingQuoteValue >= pool.MinNotionalThreshold {
		return r.execute(ctx, pool)
	}
	return r.repo.Save(ctx, pool)
}

// netOpposing cancels pool's exposure against any accumulated opposite-
// direction pool for the same (exchange, base, quote): if both a sell and
// a buy pool exist, only the residual after netting needs to trade.
func (r *Rebalancer) netOpposing(ctx context.Context, pool *database.PendingRebalance) error {
	opposite, err := r.repo.GetOrCreate(ctx, r.exchangeName, pool.BaseAsset, pool.QuoteAsset, oppositeDirection(pool.Direction))
	if err != nil {
		return err
	}
	if pool.PendingQty <= 0 || opposite.PendingQty <= 0 {
		return nil
	}

	pool.PendingQty, pool.PendingQuoteValue, opposite.PendingQty, opposite.PendingQuoteValue =
		netPools(pool.PendingQty, pool.PendingQuoteValue, opposite.PendingQty, opposite.PendingQuoteValue)

	return r.repo.Save(ctx, opposite)
}

// netPools cancels the smaller side's quantity out of both pools, scaling
// each pool's quote-value estimate down by the same fraction its quantity
// shrank by. Only the residual on the larger side still needs to trade.
func netPools(poolQty, poolValue, oppQty, oppValue float64) (newPoolQty, newPoolValue, newOppQty, newOppValue float64) {
	netQty := math.Min(poolQty, oppQty)
	newPoolQty = poolQty - netQty
	newPoolValue = poolValue * (newPoolQty / poolQty)
	newOppQty = oppQty - netQty
	newOppValue = oppValue * (newOppQty / oppQty)
	return newPoolQty, newPoolValue, newOppQty, newOppValue
}

// applyFill reduces a pool's pending quantity/value by a (possibly
// partial) fill, scaling the remaining quote-value estimate down by the
// same fraction the quantity shrank by, and carrying any unfilled
// remainder forward rather than zeroing it outright.
func applyFill(pendingQty, pendingQuoteValue, filledQty float64) (remainderQty, remainderQuoteValue float64) {
	remainderQty = math.Max(pendingQty-filledQty, 0)
	if pendingQty <= 0 {
		return remainderQty, 0
	}
	return remainderQty, pendingQuoteValue * (remainderQty / pendingQty)
}

func oppositeDirection(d database.PendingRebalanceDirection) database.PendingRebalanceDirection {
	if d == database.SellBaseForQuote {
		return database.BuyBaseWithQuote
	}
	return database.SellBaseForQuote
}

// execute submits the pooled quantity as a single trade. A failed trade is
// never surfaced as an error to the conversion path that triggered it —
// the pool is preserved unexecuted so the next contribution naturally
// absorbs the lost attempt.
func (r *Rebalancer) execute(ctx context.Context, pool *database.PendingRebalance) error {
	if r.lock != nil {
		acquired, err := r.lock.AcquireLock(ctx)
		if err != nil {
			logger.Warn("rebalance: treasury lock acquisition failed, proceeding without it", zap.Error(err))
		} else if !acquired {
			logger.Warn("rebalance: treasury lock held by another process, deferring trade")
			return r.repo.Save(ctx, pool)
		} else {
			defer r.lock.ReleaseLock(ctx)
		}
	}

	tradeCtx, cancel := context.WithTimeout(ctx, exchange.TradeTimeout)
	defer cancel()

	fill, err := r.trader.Execute(tradeCtx, pool.BaseAsset, pool.QuoteAsset, pool.Direction, pool.PendingQty)
	if err != nil {
		logger.Warn("rebalance: trade execution failed, pool preserved for next contribution",
			zap.String("base", pool.BaseAsset), zap.String("quote", pool.QuoteAsset), zap.Error(err))
		return r.repo.Save(ctx, pool)
	}

	if err := r.postTradeEntries(ctx, pool, fill); err != nil {
		logger.Error("rebalance: trade executed but ledger posting failed, inventory moved without a matching entry",
			zap.String("base", pool.BaseAsset), zap.String("quote", pool.QuoteAsset), zap.Error(err),
			logger.ErrorCode("rebalance_ledger_post_failed"), logger.Notify())
	}

	executedIDs := pool.TransactionIDs
	pool.PendingQty, pool.PendingQuoteValue = applyFill(pool.PendingQty, pool.PendingQuoteValue, fill.FilledQty)
	pool.TotalExecutedQty += fill.FilledQty
	pool.ExecutionCount++
	pool.TransactionCount = 0
	pool.TransactionIDs = nil

	if err := r.repo.Save(ctx, pool); err != nil {
		return fmt.Errorf("rebalance: saving pool after execution: %w", err)
	}

	result := &database.RebalanceResult{
		PendingID:     pool.ID,
		Exchange:      r.exchangeName,
		BaseAsset:     pool.BaseAsset,
		QuoteAsset:    pool.QuoteAsset,
		Direction:     pool.Direction,
		FilledQty:     fill.FilledQty,
		QuoteReceived: fill.QuoteReceived,
		AvgPrice:      fill.AvgPrice,
		Fee:           fill.Fee,
		GroupIDs:      executedIDs,
		ExecutedAt:    time.Now().UTC(),
	}
	if err := r.repo.RecordResult(ctx, result); err != nil {
		logger.Error("rebalance: failed to record trade result, trade already settled",
			zap.Error(err), logger.ErrorCode("rebalance_result_record_failed"), logger.Notify())
	}

	logger.Info("rebalance: executed batched trade",
		zap.String("base", pool.BaseAsset), zap.String("quote", pool.QuoteAsset),
		zap.String("direction", pool.Direction.String()), zap.Float64("filled_qty", fill.FilledQty),
		zap.Float64("quote_received", fill.QuoteReceived))

	return nil
}

// postTradeEntries posts the exc_conv/exc_fee pair for one trade execution.
// The group id is freshly generated per call rather than reused from
// pool.ID or pool.TransactionIDs: pool.ID is stable across the pool's whole
// lifetime, and PostAll silently drops a (group_id, ledger_type) it has
// already seen, so reusing a long-lived id here would mean only the first
// of many executions against a recurring pool ever got its entries posted.
//
// The conv/quote leg is always denominated in the quote asset's unit: the
// trade adapter itself only ever reports a quote-denominated fill value,
// regardless of trade direction, so that's the only amount available to
// post in either direction.
func (r *Rebalancer) postTradeEntries(ctx context.Context, pool *database.PendingRebalance, fill exchange.Fill) error {
	groupID := "rebalance:" + uuid.NewString()
	quoteUnit := assetUnit(pool.QuoteAsset)

	base := exchangeInventoryAccount(pool.BaseAsset)
	quote := exchangeInventoryAccount(pool.QuoteAsset)
	debit, credit := base, quote
	if pool.Direction == database.BuyBaseWithQuote {
		debit, credit = quote, base
	}

	// No live multi-asset rate feed is reachable from the rebalancer, so
	// the conv snapshot is left zero-valued; fill.AvgPrice alone doesn't
	// populate all four RateSnapshot fields.
	var conv database.RateSnapshot

	grossAmount := toSmallestUnit(fill.QuoteReceived+fill.Fee, quoteUnit)
	if grossAmount <= 0 {
		return nil
	}
	convEntry, err := ledger.NewEntry(groupID, database.ExcConv, debit, credit, grossAmount, quoteUnit, conv, "exchange trade executed")
	if err != nil {
		return fmt.Errorf("rebalance: building exc_conv entry: %w", err)
	}
	entries := []*ledger.Entry{convEntry}

	if feeAmount := toSmallestUnit(fill.Fee, quoteUnit); feeAmount > 0 {
		feeEntry, err := ledger.NewEntry(groupID, database.ExcFee, exchangeFeesAccount, credit, feeAmount, quoteUnit, conv, "exchange trade fee")
		if err != nil {
			return fmt.Errorf("rebalance: building exc_fee entry: %w", err)
		}
		entries = append(entries, feeEntry)
	}

	return r.ledger.PostAll(ctx, entries)
}
