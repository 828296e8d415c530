package convert

import "strings"

// MemoIntentKind discriminates what a Hive transfer's memo is asking F1 to
// do with the converted value.
type MemoIntentKind string

const (
	IntentBolt11           MemoIntentKind = "bolt11"
	IntentLightningAddress MemoIntentKind = "lightning_address"
	IntentInternalSats     MemoIntentKind = "internal_sats"
	IntentInternalHBD      MemoIntentKind = "internal_hbd"
	IntentUnknown          MemoIntentKind = "unknown"
)

// MemoIntent is the parsed outcome of scanning a deposit memo for one of
// F1's three recognized instructions.
type MemoIntent struct {
	Kind    MemoIntentKind
	Bolt11  string
	Address string
}

var bolt11Prefixes = []string{"lnbc", "lntb", "lnbcrt"}

// ParseMemoIntent classifies a deposit transfer memo into one of F1's three
// recognized instructions: a BOLT-11 invoice, a lightning-address, or a
// `#sats`/`#HBD` internal-credit flag. Recognition order matters — a
// BOLT-11 string takes priority over the flags because it cannot also be
// mistaken for an address or tag.
func ParseMemoIntent(memo string) MemoIntent {
	trimmed := strings.TrimSpace(memo)
	lower := strings.ToLower(trimmed)

	for _, prefix := range bolt11Prefixes {
		if strings.HasPrefix(lower, prefix+"1") {
			return MemoIntent{Kind: IntentBolt11, Bolt11: trimmed}
		}
	}

	if addr, ok := extractLightningAddress(trimmed); ok {
		return MemoIntent{Kind: IntentLightningAddress, Address: addr}
	}

	switch {
	case strings.Contains(lower, "#sats"):
		return MemoIntent{Kind: IntentInternalSats}
	case strings.Contains(lower, "#hbd"):
		return MemoIntent{Kind: IntentInternalHBD}
	}

	return MemoIntent{Kind: IntentUnknown}
}

const invoiceOnchainSuffix = "onchain"

// ParseInvoiceBeneficiary decodes an invoice memo of the form
// "<prefix>:<hive_account>[:onchain]" that the bridge stamps on every
// invoice it issues for a beneficiary, so a later settlement can recover
// who to credit and whether they asked for on-chain delivery instead of
// holding the sats internally.
func ParseInvoiceBeneficiary(memo, prefix string) (account string, wantsOnChain bool, ok bool) {
	parts := strings.Split(strings.TrimSpace(memo), ":")
	if len(parts) < 2 || parts[0] != prefix || parts[1] == "" {
		return "", false, false
	}
	wantsOnChain = len(parts) >= 3 && parts[2] == invoiceOnchainSuffix
	return parts[1], wantsOnChain, true
}

// extractLightningAddress finds a single bare `user@host` token in memo,
// rejecting anything with whitespace around the `@` (which is far more
// likely prose than an address).
func extractLightningAddress(memo string) (string, bool) {
	fields := strings.Fields(memo)
	for _, f := range fields {
		at := strings.IndexByte(f, '@')
		if at <= 0 || at == len(f)-1 {
			continue
		}
		host := f[at+1:]
		if strings.Contains(host, ".") && !strings.Contains(host, "@") {
			return f, true
		}
	}
	return "", false
}
