package hiveapi

import "time"

// OpType discriminates the handful of Hive operation shapes the watcher
// cares about. The chain carries dozens of operation types; everything
// outside this set is ignored at the block-decode boundary.
type OpType string

const (
	OpTransfer      OpType = "transfer"
	OpCustomJSON    OpType = "custom_json"
	OpWitnessReward OpType = "producer_reward"
	OpFillOrder     OpType = "fill_order"
)

// Operation is a single decoded operation within a block's transaction list,
// trimmed to the fields C2's filter needs.
type Operation struct {
	Type OpType

	// transfer
	From   string
	To     string
	Amount string // e.g. "1.000 HIVE" or "2.500 HBD", chain-native fixed-point string
	Memo   string

	// custom_json
	CustomID     string
	RequiredAuth string // first required_posting_auth, the effective sender
	JSON         string // raw JSON payload string

	// producer_reward
	Witness      string
	RewardAmount string // VESTS, converted to a display value by the caller if needed

	// fill_order
	OpenOwner   string
	OpenPays    string
	CurrentPays string

	// TrxID is the index of the operation's parent transaction within its
	// block, as a decimal string; together with the block height and OpIndex
	// (the operation's index within that transaction) it gives a stable
	// natural key for ops.DerivedGroupID when the bridge did not originate
	// the event.
	TrxID   string
	OpIndex int
}

// Block is a decoded Hive block, trimmed to what the watcher filters on.
type Block struct {
	Height     uint64
	Timestamp  time.Time
	Operations []Operation
}
