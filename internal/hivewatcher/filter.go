package hivewatcher

import (
	"encoding/json"
	"strconv"
	"strings"

	"github.com/hiveln-bridge/bridge/internal/hiveapi"
	"github.com/hiveln-bridge/bridge/internal/ops"
)

// EventPayload is the opaque payload stored on every TrackedOp the Hive
// watcher emits. BlockHeight lets a restart rebuild its resume cursor from
// the journal alone, without a dedicated cursor table.
type EventPayload struct {
	BlockHeight uint64          `json:"block_height"`
	Operation   hiveapi.Operation `json:"operation"`
}

func (p EventPayload) marshal() []byte {
	b, err := json.Marshal(p)
	if err != nil {
		// Operation is a plain struct of strings/ints; marshal cannot fail.
		panic(err)
	}
	return b
}

func unmarshalPayload(raw []byte, into *EventPayload) error {
	return json.Unmarshal(raw, into)
}

// UnmarshalPayload decodes a TrackedOp's opaque payload back into an
// EventPayload, for consumers outside this package (the conversion engine)
// that need the original Hive operation a TrackedOp was derived from.
func UnmarshalPayload(raw []byte) (EventPayload, error) {
	var p EventPayload
	err := unmarshalPayload(raw, &p)
	return p, err
}

// interestSet is the config-derived filter state: accounts, custom-message
// ids, and the watched witness.
type interestSet struct {
	accounts   map[string]bool
	customIDs  map[string]bool
	witness    string
}

func newInterestSet(accounts, customIDs []string, witness string) interestSet {
	s := interestSet{accounts: map[string]bool{}, customIDs: map[string]bool{}, witness: witness}
	for _, a := range accounts {
		s.accounts[strings.ToLower(a)] = true
	}
	for _, id := range customIDs {
		s.customIDs[id] = true
	}
	return s
}

// match applies the four interest predicates: (a) sender/receiver in the
// interesting set, (b) tracked custom-message id, (c) witness-reward to the
// watched witness, (d) any market-order fill.
func (s interestSet) match(op hiveapi.Operation) (ops.SourceKind, bool) {
	switch op.Type {
	case hiveapi.OpTransfer:
		if s.accounts[strings.ToLower(op.From)] || s.accounts[strings.ToLower(op.To)] {
			return ops.HiveTransfer, true
		}
	case hiveapi.OpCustomJSON:
		if s.customIDs[op.CustomID] {
			return ops.HiveCustomMessage, true
		}
	case hiveapi.OpWitnessReward:
		if s.witness != "" && strings.EqualFold(op.Witness, s.witness) {
			return ops.HiveWitnessReward, true
		}
	case hiveapi.OpFillOrder:
		return ops.HiveLimitOrder, true
	}
	return "", false
}

// naturalKey returns the parts used to derive a deterministic group id for
// an inbound event the bridge did not originate: the watcher has no prior
// group id to attach to a third-party-initiated operation, so the id must
// be a pure function of the operation's own identity to stay idempotent
// across restarts and re-scans of the same block.
func naturalKey(height uint64, op hiveapi.Operation) []string {
	return []string{"hive", op.TrxID, strconv.FormatUint(height, 10), strconv.Itoa(op.OpIndex)}
}
