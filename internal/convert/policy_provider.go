package convert

import "sync/atomic"

// AtomicPolicy is the PolicyProvider every bridge process wires into its
// Engine. cmd/bridge parses the policy blob once at startup; a replacement
// policy swapped in with Store is picked up by every in-flight Handle call
// on its next Policy() read without a lock. Nothing in this repository
// calls Store after startup, so the policy is not reloaded from the chain.
type AtomicPolicy struct {
	cfg atomic.Pointer[PolicyConfig]
}

// NewAtomicPolicy seeds the provider with an initial policy. Passing nil
// is valid only for tests; production wiring always has at least a
// conservative default parsed via ParsePolicyBlob.
func NewAtomicPolicy(initial *PolicyConfig) *AtomicPolicy {
	p := &AtomicPolicy{}
	p.cfg.Store(initial)
	return p
}

func (p *AtomicPolicy) Policy() *PolicyConfig {
	return p.cfg.Load()
}

func (p *AtomicPolicy) Store(cfg *PolicyConfig) {
	p.cfg.Store(cfg)
}
