package database

import (
	"time"

	"github.com/hiveln-bridge/bridge/internal/ops"
)

// LedgerType is the exhaustive enum of ledger entry kinds.
type LedgerType string

const (
	DepositHive       LedgerType = "deposit_hive"
	DepositLN         LedgerType = "deposit_ln"
	WithdrawHive      LedgerType = "withdraw_hive"
	WithdrawLN        LedgerType = "withdraw_ln"
	ConvHiveToSats    LedgerType = "conv_hive_to_sats"
	ConvSatsToHive    LedgerType = "conv_sats_to_hive"
	ConvContra        LedgerType = "conv_contra"
	InternalTransfer  LedgerType = "internal_transfer"
	FeeConversion     LedgerType = "fee_conversion"
	FeeLNRouting      LedgerType = "fee_ln_routing"
	FeeExpense        LedgerType = "fee_expense"
	ExcConv           LedgerType = "exc_conv"
	ExcFee            LedgerType = "exc_fee"
	OwnerLoan         LedgerType = "owner_loan"
	ReclassifySats    LedgerType = "reclassify_sats"
	ReclassifyHive    LedgerType = "reclassify_hive"
	BalanceAdjustment LedgerType = "balance_adjustment_noop"
)

func (t LedgerType) String() string { return string(t) }

// AccountType is one of the five basic account classes.
type AccountType string

const (
	Asset     AccountType = "asset"
	Liability AccountType = "liability"
	Equity    AccountType = "equity"
	Revenue   AccountType = "revenue"
	Expense   AccountType = "expense"
)

func (t AccountType) String() string { return string(t) }

// Account is the (account_type, name, sub) tuple a LedgerEntry debits/credits.
type Account struct {
	AccountType AccountType `json:"account_type" db:"account_type"`
	Name        string      `json:"name" db:"name"`
	Sub         string      `json:"sub" db:"sub"`
}

// Unit is the smallest-unit currency a LedgerEntry.Amount is denominated in.
type Unit string

const (
	UnitHIVE  Unit = "HIVE"
	UnitHBD   Unit = "HBD"
	UnitMSATS Unit = "MSATS"
)

func (u Unit) String() string { return string(u) }

// RateSnapshot freezes cross-currency rates at the moment a LedgerEntry is
// posted. The snapshot is never re-marked after posting.
type RateSnapshot struct {
	Hive  float64 `json:"hive"`
	HBD   float64 `json:"hbd"`
	Msats float64 `json:"msats"`
	USD   float64 `json:"usd"`
}

// TrackedOpRow is the durable row backing an ops.TrackedOp.
type TrackedOpRow struct {
	GroupID           string         `db:"group_id"`
	ShortID           string         `db:"short_id"`
	SourceKind        ops.SourceKind `db:"source_kind"`
	SourceTimestamp   time.Time      `db:"source_timestamp"`
	IngestedTimestamp time.Time      `db:"ingested_timestamp"`
	State             ops.State      `db:"state"`
	Payload           []byte         `db:"payload"`
	ParentGroupID     *string        `db:"parent_group_id"`
	ProcessTimeMS     *int64         `db:"process_time_ms"`
	LastError         *string        `db:"last_error"`
}

// ToTrackedOp converts the durable row back into the domain TrackedOp.
func (r *TrackedOpRow) ToTrackedOp() *ops.TrackedOp {
	op := &ops.TrackedOp{
		GroupID:           r.GroupID,
		ShortID:           r.ShortID,
		SourceKind:        r.SourceKind,
		SourceTimestamp:   r.SourceTimestamp,
		IngestedTimestamp: r.IngestedTimestamp,
		State:             r.State,
		Payload:           r.Payload,
		ParentGroupID:     r.ParentGroupID,
		LastError:         r.LastError,
	}
	if r.ProcessTimeMS != nil {
		d := time.Duration(*r.ProcessTimeMS) * time.Millisecond
		op.ProcessTime = &d
	}
	return op
}

// TrackedOpRowFrom builds a durable row from the domain TrackedOp.
func TrackedOpRowFrom(op *ops.TrackedOp) *TrackedOpRow {
	row := &TrackedOpRow{
		GroupID:           op.GroupID,
		ShortID:           op.ShortID,
		SourceKind:        op.SourceKind,
		SourceTimestamp:   op.SourceTimestamp,
		IngestedTimestamp: op.IngestedTimestamp,
		State:             op.State,
		Payload:           op.Payload,
		ParentGroupID:     op.ParentGroupID,
		LastError:         op.LastError,
	}
	if op.ProcessTime != nil {
		ms := op.ProcessTime.Milliseconds()
		row.ProcessTimeMS = &ms
	}
	return row
}

// LedgerEntry is one balanced double-entry row.
type LedgerEntry struct {
	ID         string       `db:"id"`
	GroupID    string       `db:"group_id"`
	LedgerType LedgerType   `db:"ledger_type"`
	Timestamp  time.Time    `db:"timestamp"`
	Description string      `db:"description"`
	Debit      Account      `db:"-"`
	Credit     Account      `db:"-"`
	Amount     int64        `db:"amount"`
	Unit       Unit         `db:"unit"`
	Conv       RateSnapshot `db:"-"`
	Notes      string       `db:"notes"`
}

// PendingRebalanceDirection is the side of the exchange trade a pool of
// conversions accumulates toward.
type PendingRebalanceDirection string

const (
	SellBaseForQuote PendingRebalanceDirection = "sell_base_for_quote"
	BuyBaseWithQuote PendingRebalanceDirection = "buy_base_with_quote"
)

func (d PendingRebalanceDirection) String() string { return string(d) }

// PendingRebalance is the per-(base, quote, direction, exchange) accumulator
// C8 batches sub-minimum trades into.
type PendingRebalance struct {
	ID                   string                    `db:"id"`
	Exchange             string                    `db:"exchange"`
	BaseAsset            string                    `db:"base_asset"`
	QuoteAsset           string                    `db:"quote_asset"`
	Direction            PendingRebalanceDirection `db:"direction"`
	PendingQty           float64                   `db:"pending_qty"`
	PendingQuoteValue    float64                   `db:"pending_quote_value"`
	MinQtyThreshold      float64                   `db:"min_qty_threshold"`
	MinNotionalThreshold float64                   `db:"min_notional_threshold"`
	TransactionCount     int                       `db:"transaction_count"`
	TransactionIDs       []string                  `db:"transaction_ids"`
	TotalExecutedQty     float64                   `db:"total_executed_qty"`
	ExecutionCount       int                       `db:"execution_count"`
	Version              int64                     `db:"version"` // optimistic concurrency token
	UpdatedAt            time.Time                 `db:"updated_at"`
}

// RebalanceResult records the outcome of an executed exchange trade.
type RebalanceResult struct {
	ID              string    `db:"id"`
	PendingID       string    `db:"pending_id"`
	Exchange        string    `db:"exchange"`
	BaseAsset       string    `db:"base_asset"`
	QuoteAsset      string    `db:"quote_asset"`
	Direction       PendingRebalanceDirection `db:"direction"`
	FilledQty       float64   `db:"filled_qty"`
	QuoteReceived   float64   `db:"quote_received"`
	AvgPrice        float64   `db:"avg_price"`
	Fee             float64   `db:"fee"`
	GroupIDs        []string  `db:"group_ids"`
	ExecutedAt      time.Time `db:"executed_at"`
}

// ErrorCode deduplicates recurring error events.
type ErrorCode struct {
	Code            string     `db:"code"`
	MachineID       string     `db:"machine_id"`
	Message         string     `db:"message"`
	StartTime       time.Time  `db:"start_time"`
	LastLogTime     time.Time  `db:"last_log_time"`
	ReAlertInterval int64      `db:"re_alert_interval_seconds"`
	Active          bool       `db:"active"`
	ClearedAt       *time.Time `db:"cleared_at"`
}

// RateSample is one point in the `rates` time series.
type RateSample struct {
	Timestamp time.Time `db:"timestamp"`
	Pair      string    `db:"pair"` // e.g. "HIVE_USD", "BTC_USD"
	Rate      float64   `db:"rate"`
}
