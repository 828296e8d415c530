package convert

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/hiveapi"
	"github.com/hiveln-bridge/bridge/internal/ledger"
	"github.com/hiveln-bridge/bridge/internal/lnwatcher"
	"github.com/hiveln-bridge/bridge/internal/ops"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

const (
	signallingCustomID = "v4vapp_bridge_signal"
	invoiceMemoPrefix  = "v4vapp"
)

func treasuryAccount(serverSub string) database.Account {
	return database.Account{AccountType: database.Asset, Name: "Treasury Hive", Sub: serverSub}
}

func userAccount(name string) database.Account {
	return database.Account{AccountType: database.Liability, Name: "User Balance", Sub: name}
}

func lnHoldingsAccount(nodeSub string) database.Account {
	return database.Account{AccountType: database.Asset, Name: "LN Holdings", Sub: nodeSub}
}

var conversionFeesAccount = database.Account{AccountType: database.Revenue, Name: "Conversion Fees"}
var externalLNPaymentsAccount = database.Account{AccountType: database.Asset, Name: "External LN Payments"}
var lnRoutingFeesAccount = database.Account{AccountType: database.Expense, Name: "LN Routing Fees"}

// handleHiveTransfer dispatches an inbound Hive transfer to F4's balance-
// adjustment backdoor or, failing that, F1's deposit-to-Lightning flow. The
// backdoor is for manual reconciliation only — it still runs behind the
// bad-actor filter, so a blacklisted sender can't use a known memo marker
// to bypass it.
func (e *Engine) handleHiveTransfer(ctx context.Context, op *ops.TrackedOp, hiveOp hiveapi.Operation, policy *PolicyConfig) Outcome {
	if policy.IsBlacklisted(hiveOp.From) {
		return skipped(fmt.Sprintf("sender %s is blacklisted", hiveOp.From))
	}
	if !policy.IsWhitelisted(hiveOp.From) {
		return skipped(fmt.Sprintf("sender %s is not whitelisted", hiveOp.From))
	}

	if policy.IsBalanceAdjustment(hiveOp.From, hiveOp.Memo) {
		logger.Info("balance adjustment backdoor triggered",
			zap.String("group_id", op.GroupID), zap.String("from", hiveOp.From), zap.String("memo", hiveOp.Memo),
			logger.Notify())
		return processed("balance adjustment backdoor, no ledger entry posted")
	}
	return e.handleF1Deposit(ctx, op, hiveOp, policy)
}

// handleF1Deposit implements F1: on-chain deposit to outbound Lightning
// (Sell direction). The bad-actor checks run in handleHiveTransfer, ahead
// of both this and the F4 backdoor; the gateway-enabled check runs here,
// so it does not apply to the F4 backdoor.
func (e *Engine) handleF1Deposit(ctx context.Context, op *ops.TrackedOp, hiveOp hiveapi.Operation, policy *PolicyConfig) Outcome {
	if !policy.HiveToLNEnabled {
		return skipped("hive-to-ln gateway disabled")
	}

	exists, err := e.Ledger.ExistsForGroupAndType(ctx, op.GroupID, database.DepositHive)
	if err != nil {
		return failed(fmt.Errorf("convert: checking existing deposit entry: %w", err))
	}
	if exists {
		return processed("deposit already posted for this group id")
	}

	grossUnits, unit, err := parseHiveAmount(hiveOp.Amount)
	if err != nil {
		return failed(fmt.Errorf("convert: parsing transfer amount %q: %w", hiveOp.Amount, err))
	}

	rates, err := e.Rates.Snapshot(ctx)
	if err != nil {
		return failed(fmt.Errorf("convert: fetching rate snapshot: %w", err))
	}
	satsPerUnit := rates.Hive
	if unit == database.UnitHBD {
		satsPerUnit = rates.HBD
	}
	grossMsats := HiveMilliToMsats(grossUnits, satsPerUnit)
	feeMsats := ConvFeeMsats(grossMsats, policy)

	if !policy.WithinInvoiceLimits((grossMsats - feeMsats) / 1000) {
		return skipped("deposit amount outside configured invoice limits")
	}

	intent := ParseMemoIntent(hiveOp.Memo)
	if intent.Kind == IntentUnknown {
		return skipped("memo did not match any recognized deposit instruction")
	}

	treasury := treasuryAccount(e.ServerHiveAccount)
	user := userAccount(hiveOp.From)
	lnHoldings := lnHoldingsAccount(e.NodeSub)

	entries := []*ledger.Entry{
		mustEntry(op.GroupID, database.DepositHive, treasury, user, grossUnits, unit, rates, "customer deposit"),
		mustEntry(op.GroupID, database.ConvHiveToSats, user, lnHoldings, grossMsats, database.UnitMSATS, rates, "conversion to sats"),
	}
	if feeMsats > 0 {
		entries = append(entries, mustEntry(op.GroupID, database.FeeConversion, user, conversionFeesAccount, feeMsats, database.UnitMSATS, rates, "conversion fee"))
	}
	entries = append(entries, mustEntry(op.GroupID, database.ConvContra, user, treasury, grossUnits, unit, rates, "conversion contra"))
	if err := e.Ledger.PostAll(ctx, entries); err != nil {
		return failed(fmt.Errorf("convert: posting F1 deposit entries: %w", err))
	}

	e.contributeRebalance(ctx, database.SellBaseForQuote, grossUnits, unit, op.GroupID)

	if intent.Kind == IntentInternalSats || intent.Kind == IntentInternalHBD {
		return processed("deposit converted to internal sats balance")
	}

	netSats := (grossMsats - feeMsats) / 1000
	bolt11 := intent.Bolt11
	if intent.Kind == IntentLightningAddress {
		resolved, err := e.Resolver.ResolveLightningAddress(ctx, intent.Address, netSats*1000)
		if err != nil {
			return e.refundF1(ctx, op, hiveOp, grossUnits, unit, grossMsats, feeMsats, rates,
				fmt.Errorf("resolving lightning address %s: %w", intent.Address, err))
		}
		bolt11 = resolved
	}

	result, err := e.LN.PayInvoice(ctx, bolt11, policy.MaxLNRoutingFeeMsats/1000)
	if err != nil {
		return e.refundF1(ctx, op, hiveOp, grossUnits, unit, grossMsats, feeMsats, rates, err)
	}

	paidMsats := (netSats - result.FeeSats) * 1000
	if paidMsats < 0 {
		paidMsats = 0
	}
	payoutEntries := []*ledger.Entry{
		mustEntry(op.GroupID, database.WithdrawLN, lnHoldings, externalLNPaymentsAccount, netSats*1000, database.UnitMSATS, rates, "LN payout"),
	}
	if result.FeeSats > 0 {
		payoutEntries = append(payoutEntries, mustEntry(op.GroupID, database.FeeLNRouting, lnRoutingFeesAccount, lnHoldings, result.FeeSats*1000, database.UnitMSATS, rates, "LN routing fee"))
	}
	if err := e.Ledger.PostAll(ctx, payoutEntries); err != nil {
		return failed(fmt.Errorf("convert: posting F1 payout entries: %w", err))
	}

	return processed(fmt.Sprintf("paid LN invoice, %d sats net of routing fee", paidMsats/1000))
}

// refundF1 reverses the economic effect of an F1 deposit when the outbound
// LN payment permanently fails, and returns the on-chain value to the
// sender via a new on-chain transfer keyed to the same group id.
func (e *Engine) refundF1(ctx context.Context, op *ops.TrackedOp, hiveOp hiveapi.Operation,
	grossUnits int64, unit database.Unit, grossMsats, feeMsats int64, rates database.RateSnapshot, cause error) Outcome {

	treasury := treasuryAccount(e.ServerHiveAccount)
	user := userAccount(hiveOp.From)
	lnHoldings := lnHoldingsAccount(e.NodeSub)

	refundEntries := []*ledger.Entry{
		mustEntry(op.GroupID, database.ReclassifyHive, treasury, user, grossUnits, unit, rates, "F1 refund: reverse deposit"),
		mustEntry(op.GroupID, database.ReclassifySats, lnHoldings, user, grossMsats, database.UnitMSATS, rates, "F1 refund: reverse conversion and fee (fee reversed as part of gross)"),
	}
	if err := e.Ledger.PostAll(ctx, refundEntries); err != nil {
		logger.Error("failed to post F1 refund entries", zap.String("group_id", op.GroupID), zap.Error(err),
			logger.ErrorCode("f1_refund_post_failed"), logger.Notify())
		return failed(fmt.Errorf("convert: LN payment failed (%v) and refund posting also failed: %w", cause, err))
	}

	if _, err := e.Hive.SendTransfer(ctx, e.ServerHiveAccount, hiveOp.From, hiveOp.Amount, "refund: "+cause.Error()); err != nil {
		logger.Error("failed to send on-chain refund", zap.String("group_id", op.GroupID), zap.Error(err),
			logger.ErrorCode("f1_refund_onchain_failed"), logger.Notify())
		return failed(fmt.Errorf("convert: LN payment failed and on-chain refund send also failed: %w", err))
	}

	return refunded(fmt.Sprintf("LN payment failed (%v), refunded on-chain", cause))
}

// transferMessage is the decoded payload of a Hive custom_json carrying an
// F3 internal-transfer instruction.
type transferMessage struct {
	From        string `json:"from"`
	To          string `json:"to"`
	AmountMsats int64  `json:"amount_msats"`
	Memo        string `json:"memo"`
}

// handleInternalTransfer implements F3: a direct balance move between two
// user accounts, authenticated by the Hive custom_json's posting authority.
func (e *Engine) handleInternalTransfer(ctx context.Context, op *ops.TrackedOp, hiveOp hiveapi.Operation, policy *PolicyConfig) Outcome {
	var msg transferMessage
	if err := json.Unmarshal([]byte(hiveOp.JSON), &msg); err != nil {
		return failed(fmt.Errorf("convert: decoding internal transfer message: %w", err))
	}

	if msg.From == "" || !strings.EqualFold(msg.From, hiveOp.RequiredAuth) {
		return skipped("transfer message sender does not match signing authority")
	}
	if msg.To == "" {
		e.signalTransferFailure(ctx, msg.From, op.GroupID, "Unknown recipient")
		return skipped("unknown recipient")
	}
	if msg.AmountMsats <= 0 {
		return skipped("non-positive transfer amount")
	}

	exists, err := e.Ledger.ExistsForGroupAndType(ctx, op.GroupID, database.InternalTransfer)
	if err != nil {
		return failed(fmt.Errorf("convert: checking existing transfer entry: %w", err))
	}
	if exists {
		return processed("transfer already posted for this group id")
	}

	from := userAccount(msg.From)
	details, err := e.Ledger.Balance(ctx, from, nil, nil)
	if err != nil {
		return failed(fmt.Errorf("convert: reading sender balance: %w", err))
	}
	if details.PerUnit[database.UnitMSATS] < msg.AmountMsats {
		e.signalTransferFailure(ctx, msg.From, op.GroupID, "Insufficient Keepsats balance")
		return skipped("insufficient balance")
	}

	entry, err := ledger.NewEntry(op.GroupID, database.InternalTransfer, from, userAccount(msg.To),
		msg.AmountMsats, database.UnitMSATS, database.RateSnapshot{}, msg.Memo)
	if err != nil {
		return failed(fmt.Errorf("convert: building internal transfer entry: %w", err))
	}
	if err := e.Ledger.Post(ctx, entry); err != nil {
		return failed(fmt.Errorf("convert: posting internal transfer entry: %w", err))
	}

	return processed("internal transfer posted")
}

// signalTransferFailure emits the outbound custom-message F3 uses to notify
// a sender their transfer could not be completed, linked back to the
// originating group id.
func (e *Engine) signalTransferFailure(ctx context.Context, sender, parentGroupID, reason string) {
	payload, _ := json.Marshal(map[string]string{"parent_group_id": parentGroupID, "memo": reason})
	if _, err := e.Hive.SendCustomMessage(ctx, sender, signallingCustomID, payload); err != nil {
		logger.Warn("failed to send transfer-failure signal", zap.String("sender", sender), zap.Error(err))
	}
}

// handleLNSettlement implements F2: an inbound Lightning invoice settling
// credits the beneficiary, taking the conversion fee from their balance
// before any further value is consumed — the ordering fix for the bug
// where a direct LN-to-Hive payout once took the fee twice.
func (e *Engine) handleLNSettlement(ctx context.Context, op *ops.TrackedOp, payload lnwatcher.InvoicePayload, policy *PolicyConfig) Outcome {
	if payload.State != "SETTLED" {
		return skipped("invoice not settled")
	}
	if !policy.LNToHiveEnabled {
		return skipped("ln-to-hive gateway disabled")
	}

	beneficiary, wantsOnChain, ok := ParseInvoiceBeneficiary(payload.Memo, invoiceMemoPrefix)
	if !ok {
		return skipped("could not resolve beneficiary from invoice memo")
	}

	exists, err := e.Ledger.ExistsForGroupAndType(ctx, op.GroupID, database.DepositLN)
	if err != nil {
		return failed(fmt.Errorf("convert: checking existing LN receipt entry: %w", err))
	}
	if exists {
		return processed("LN receipt already posted for this group id")
	}

	rates, err := e.Rates.Snapshot(ctx)
	if err != nil {
		return failed(fmt.Errorf("convert: fetching rate snapshot: %w", err))
	}

	grossMsats := payload.ValueSat * 1000
	feeMsats := ConvFeeMsats(grossMsats, policy)

	user := userAccount(beneficiary)
	lnHoldings := lnHoldingsAccount(e.NodeSub)

	entries := []*ledger.Entry{
		mustEntry(op.GroupID, database.DepositLN, externalLNPaymentsAccount, lnHoldings, grossMsats, database.UnitMSATS, rates, "LN receipt"),
		mustEntry(op.GroupID, database.ConvSatsToHive, lnHoldings, user, grossMsats, database.UnitMSATS, rates, "credit user"),
	}
	if feeMsats > 0 {
		entries = append(entries, mustEntry(op.GroupID, database.FeeConversion, user, conversionFeesAccount, feeMsats, database.UnitMSATS, rates, "conversion fee"))
	}
	if err := e.Ledger.PostAll(ctx, entries); err != nil {
		return failed(fmt.Errorf("convert: posting F2 receipt entries: %w", err))
	}

	netMsats := grossMsats - feeMsats
	e.contributeRebalance(ctx, database.BuyBaseWithQuote, netMsats, database.UnitMSATS, op.GroupID)

	if !wantsOnChain {
		return processed("LN settlement credited to internal sats balance")
	}

	satsPerUnit := rates.Hive
	unit := database.UnitHIVE
	hiveEquiv := MsatsToHiveMilli(netMsats, satsPerUnit)

	withdrawEntries := []*ledger.Entry{
		mustEntry(op.GroupID, database.ConvContra, user, lnHoldings, netMsats, database.UnitMSATS, rates, "reclassify sats balance before on-chain payout"),
		mustEntry(op.GroupID, database.WithdrawHive, user, treasuryAccount(e.ServerHiveAccount), hiveEquiv, unit, rates, "on-chain payout"),
	}
	if err := e.Ledger.PostAll(ctx, withdrawEntries); err != nil {
		return failed(fmt.Errorf("convert: posting F2 withdrawal entries: %w", err))
	}

	amountStr := formatHiveAmount(hiveEquiv, unit)
	if _, err := e.Hive.SendTransfer(ctx, e.ServerHiveAccount, beneficiary, amountStr, "LN settlement payout"); err != nil {
		logger.Error("on-chain payout send failed after ledger entries were posted", zap.String("group_id", op.GroupID), zap.Error(err), logger.Notify())
		return failed(fmt.Errorf("convert: sending on-chain payout: %w", err))
	}

	return processed(fmt.Sprintf("settled %d msats, paid out %s on-chain", netMsats, amountStr))
}

func (e *Engine) contributeRebalance(ctx context.Context, direction database.PendingRebalanceDirection, amount int64, unit database.Unit, groupID string) {
	if e.Rebalancer == nil {
		return
	}
	qty := float64(amount) / 1000
	if err := e.Rebalancer.Contribute(ctx, "HIVE", "BTC", direction, qty, 0, groupID); err != nil {
		logger.Warn("rebalance contribution failed, will be absorbed by a future conversion",
			zap.String("group_id", groupID), zap.Error(err))
	}
}

func mustEntry(groupID string, lt database.LedgerType, debit, credit database.Account, amount int64, unit database.Unit, rates database.RateSnapshot, description string) *ledger.Entry {
	e, err := ledger.NewEntry(groupID, lt, debit, credit, amount, unit, rates, description)
	if err != nil {
		// Only reachable if a caller passes a malformed account or zero
		// amount, both programmer errors within this package.
		panic(err)
	}
	return e
}

// parseHiveAmount parses a chain-native fixed-point amount string like
// "25.000 HIVE" into its smallest-unit integer (milli-HIVE) and unit.
func parseHiveAmount(s string) (int64, database.Unit, error) {
	fields := strings.Fields(s)
	if len(fields) != 2 {
		return 0, "", fmt.Errorf("expected \"<amount> <UNIT>\", got %q", s)
	}
	var unit database.Unit
	switch strings.ToUpper(fields[1]) {
	case "HIVE":
		unit = database.UnitHIVE
	case "HBD":
		unit = database.UnitHBD
	default:
		return 0, "", fmt.Errorf("unrecognized currency %q", fields[1])
	}

	whole, frac, ok := strings.Cut(fields[0], ".")
	if !ok {
		frac = "000"
	}
	for len(frac) < 3 {
		frac += "0"
	}
	frac = frac[:3]

	wholeVal, err := strconv.ParseInt(whole, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid integer part %q: %w", whole, err)
	}
	fracVal, err := strconv.ParseInt(frac, 10, 64)
	if err != nil {
		return 0, "", fmt.Errorf("invalid fractional part %q: %w", frac, err)
	}

	return wholeVal*1000 + fracVal, unit, nil
}

// formatHiveAmount is the inverse of parseHiveAmount, producing the chain-
// native fixed-point string an outbound transfer's amount field expects.
func formatHiveAmount(milli int64, unit database.Unit) string {
	return fmt.Sprintf("%d.%03d %s", milli/1000, milli%1000, unit)
}
