// Package ops defines the canonical event envelope (C1) that both watchers
// emit into and that the router/conversion engine advance through their
// processing states.
package ops

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SourceKind identifies which upstream produced a TrackedOp and the shape of
// its payload.
type SourceKind string

const (
	HiveTransfer      SourceKind = "hive_transfer"
	HiveCustomMessage SourceKind = "hive_custom_message"
	HiveWitnessReward SourceKind = "hive_witness_reward"
	HiveLimitOrder    SourceKind = "hive_limit_order"
	LNInvoice         SourceKind = "ln_invoice"
	LNPayment         SourceKind = "ln_payment"
	LNForward         SourceKind = "ln_forward"
)

func (k SourceKind) String() string { return string(k) }

// State is the processing state of a TrackedOp. Transitions are monotonic:
// Ingested -> Routed -> (Processed | Failed | Skipped).
type State string

const (
	Ingested  State = "ingested"
	Routed    State = "routed"
	Processed State = "processed"
	Failed    State = "failed"
	Skipped   State = "skipped"
)

func (s State) String() string { return string(s) }

// allowedTransitions enumerates every legal (from, to) state edge.
var allowedTransitions = map[State]map[State]bool{
	Ingested: {Routed: true},
	Routed:   {Processed: true, Failed: true, Skipped: true},
}

// ErrInvalidTransition is returned when a state change would violate the
// monotonic lifecycle (Ingested -> Routed -> terminal).
var ErrInvalidTransition = errors.New("ops: invalid state transition")

// CanTransition reports whether moving from `from` to `to` is legal.
func CanTransition(from, to State) bool {
	next, ok := allowedTransitions[from]
	return ok && next[to]
}

// TrackedOp is the normalized envelope for any event entering the system
// from either the Hive watcher (C2) or the Lightning watcher (C3).
type TrackedOp struct {
	GroupID           string
	ShortID           string
	SourceKind        SourceKind
	SourceTimestamp   time.Time
	IngestedTimestamp time.Time
	State             State
	Payload           []byte // opaque, shape depends on SourceKind
	ParentGroupID     *string
	ProcessTime       *time.Duration
	LastError         *string
}

// NewGroupID allocates a fresh group id for an op the bridge itself
// originates (e.g. an outbound payment it is about to send). The id is
// embedded in the outgoing memo/custom-message envelope so a reply event
// arriving back through C2/C3 can reattach to the same chain.
func NewGroupID() string {
	return uuid.NewString()
}

// DerivedGroupID deterministically derives a group id from a source event's
// natural identifier, for purely inbound events the bridge cannot pre-seed a
// group id for (third-party-initiated Hive operations, LN invoices the node
// itself created without bridge bookkeeping attached).
func DerivedGroupID(parts ...string) string {
	h := sha256.New()
	for _, p := range parts {
		h.Write([]byte(p))
		h.Write([]byte{0})
	}
	sum := h.Sum(nil)
	// Format as a UUID-shaped string so group ids remain uniform regardless
	// of origin; this is not a real UUID (no version/variant bits set).
	hexSum := hex.EncodeToString(sum[:16])
	return fmt.Sprintf("%s-%s-%s-%s-%s", hexSum[0:8], hexSum[8:12], hexSum[12:16], hexSum[16:20], hexSum[20:32])
}

// ShortID returns a human-readable prefix of a group id, used in logs and
// outbound memos where the full UUID would be noisy.
func ShortID(groupID string) string {
	if len(groupID) < 8 {
		return groupID
	}
	return groupID[:8]
}

// New constructs an Ingested TrackedOp with the current time as both
// source and ingested timestamp when sourceTimestamp is zero.
func New(groupID string, kind SourceKind, sourceTimestamp time.Time, payload []byte) *TrackedOp {
	now := time.Now().UTC()
	if sourceTimestamp.IsZero() {
		sourceTimestamp = now
	}
	return &TrackedOp{
		GroupID:           groupID,
		ShortID:           ShortID(groupID),
		SourceKind:        kind,
		SourceTimestamp:   sourceTimestamp,
		IngestedTimestamp: now,
		State:             Ingested,
		Payload:           payload,
	}
}

// Advance moves the op to `to`, returning ErrInvalidTransition if the edge
// is not allowed. Processed/Failed/Skipped are terminal: once set, payload
// must not be mutated by callers.
func (t *TrackedOp) Advance(to State) error {
	if !CanTransition(t.State, to) {
		return fmt.Errorf("%w: %s -> %s (group_id=%s)", ErrInvalidTransition, t.State, to, t.GroupID)
	}
	t.State = to
	return nil
}

// MarkProcessed sets the terminal Processed state and records how long the
// handler took.
func (t *TrackedOp) MarkProcessed(elapsed time.Duration) error {
	if err := t.Advance(Processed); err != nil {
		return err
	}
	t.ProcessTime = &elapsed
	return nil
}

// MarkFailed sets the terminal Failed state with a preserved error message.
func (t *TrackedOp) MarkFailed(cause error) error {
	if err := t.Advance(Failed); err != nil {
		return err
	}
	msg := cause.Error()
	t.LastError = &msg
	return nil
}

// MarkSkipped sets the terminal Skipped state with a human-readable reason.
func (t *TrackedOp) MarkSkipped(reason string) error {
	if err := t.Advance(Skipped); err != nil {
		return err
	}
	t.LastError = &reason
	return nil
}
