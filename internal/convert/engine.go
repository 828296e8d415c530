package convert

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/hiveapi"
	"github.com/hiveln-bridge/bridge/internal/hivewatcher"
	"github.com/hiveln-bridge/bridge/internal/ledger"
	"github.com/hiveln-bridge/bridge/internal/lnd"
	"github.com/hiveln-bridge/bridge/internal/lnwatcher"
	"github.com/hiveln-bridge/bridge/internal/ops"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

// Ledger is the subset of *ledger.Ledger the engine depends on, narrowed so
// tests can supply a fake without a database.
type Ledger interface {
	Post(ctx context.Context, e *ledger.Entry) error
	PostAll(ctx context.Context, entries []*ledger.Entry) error
	ExistsForGroupAndType(ctx context.Context, groupID string, ledgerType database.LedgerType) (bool, error)
	Balance(ctx context.Context, account database.Account, asOf, sinceAge *string) (*ledger.AccountDetails, error)
}

// HiveSender is the subset of hiveapi.Client the engine uses to emit
// outbound on-chain side effects (refunds, signalling messages).
type HiveSender interface {
	SendTransfer(ctx context.Context, from, to, amount, memo string) (string, error)
	SendCustomMessage(ctx context.Context, account, customID string, payload []byte) (string, error)
}

// LightningSender is the subset of lnd.Client the engine uses for F1's
// outbound payment and F2's inbound-settlement bookkeeping.
type LightningSender interface {
	PayInvoice(ctx context.Context, bolt11 string, maxFeeSats int64) (*lnd.PaymentResult, error)
	DecodeInvoice(ctx context.Context, bolt11 string) (*lnd.Invoice, error)
	SendOnChain(ctx context.Context, address string, amountSats int64, targetConf int32) (*lnd.OnChainResult, error)
}

// InvoiceResolver turns a lightning-address (`user@host`) into a payable
// BOLT-11 invoice via LNURL-pay, satisfied by internal/lnaddress.
type InvoiceResolver interface {
	ResolveLightningAddress(ctx context.Context, address string, amountMsats int64) (bolt11 string, err error)
}

// Rebalancer is C8's contribution entrypoint: every F1/F2 conversion feeds
// a quantity into the pending-rebalance accumulator (F1 the gross deposit,
// F2 the settled amount net of the conversion fee).
type Rebalancer interface {
	Contribute(ctx context.Context, base, quote string, direction database.PendingRebalanceDirection,
		qty, quoteValue float64, groupID string) error
}

// RateSource supplies the cross-currency rate snapshot frozen onto every
// ledger entry posted by a conversion.
type RateSource interface {
	Snapshot(ctx context.Context) (database.RateSnapshot, error)
}

// PolicyProvider returns the currently active, already-validated policy,
// which the provider may swap in atomically (see AtomicPolicy).
type PolicyProvider interface {
	Policy() *PolicyConfig
}

// Engine dispatches a routed TrackedOp to exactly one of F1-F4 based on its
// SourceKind and payload discrimination, per C4's contract.
type Engine struct {
	Ledger     Ledger
	Hive       HiveSender
	LN         LightningSender
	Resolver   InvoiceResolver
	Rebalancer Rebalancer
	Rates      RateSource
	Policy     PolicyProvider

	ServerHiveAccount string // the bridge's own Hive account (deposit destination)
	NodeSub           string // display-sub for "Asset: LN Holdings / <node>"
}

// Handle routes a single TrackedOp to its flow handler. It is a pure
// function of the op plus the current ledger state: handlers detect and
// no-op when the entries they would write already exist for the same
// group id and ledger type, so redelivery after a crash converges rather
// than double-posting.
func (e *Engine) Handle(ctx context.Context, op *ops.TrackedOp) Outcome {
	policy := e.Policy.Policy()

	switch op.SourceKind {
	case ops.HiveTransfer:
		payload, err := hivewatcher.UnmarshalPayload(op.Payload)
		if err != nil {
			return failed(fmt.Errorf("convert: decode hive transfer payload: %w", err))
		}
		return e.handleHiveTransfer(ctx, op, payload.Operation, policy)

	case ops.HiveCustomMessage:
		payload, err := hivewatcher.UnmarshalPayload(op.Payload)
		if err != nil {
			return failed(fmt.Errorf("convert: decode hive custom message payload: %w", err))
		}
		return e.handleInternalTransfer(ctx, op, payload.Operation, policy)

	case ops.LNInvoice:
		var payload lnwatcher.InvoicePayload
		if err := json.Unmarshal(op.Payload, &payload); err != nil {
			return failed(fmt.Errorf("convert: decode invoice payload: %w", err))
		}
		return e.handleLNSettlement(ctx, op, payload, policy)

	case ops.HiveWitnessReward, ops.HiveLimitOrder, ops.LNPayment, ops.LNForward:
		// Observed for accounting/audit purposes only; no conversion flow
		// consumes these directly.
		logger.Info("no conversion handler for source kind, marking processed",
			zap.String("source_kind", op.SourceKind.String()), zap.String("group_id", op.GroupID))
		return processed("informational event, no conversion required")

	default:
		return skipped(fmt.Sprintf("unrecognized source kind %q", op.SourceKind))
	}
}
