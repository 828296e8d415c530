package convert

// OutcomeKind is the terminal disposition a C5 handler reports back to the
// router, which maps it onto ops.State.
type OutcomeKind string

const (
	Processed OutcomeKind = "processed"
	Refunded  OutcomeKind = "refunded"
	Skipped   OutcomeKind = "skipped"
	Failed    OutcomeKind = "failed"
)

// Outcome is what every flow handler returns: the router inspects Kind to
// decide the TrackedOp's next state, and Reason/Err to populate last_error.
type Outcome struct {
	Kind   OutcomeKind
	Reason string
	Err    error
}

func processed(reason string) Outcome { return Outcome{Kind: Processed, Reason: reason} }
func refunded(reason string) Outcome  { return Outcome{Kind: Refunded, Reason: reason} }
func skipped(reason string) Outcome   { return Outcome{Kind: Skipped, Reason: reason} }
func failed(err error) Outcome        { return Outcome{Kind: Failed, Err: err, Reason: err.Error()} }
