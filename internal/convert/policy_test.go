package convert

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicyBlob_DefaultsConservative(t *testing.T) {
	cfg, err := ParsePolicyBlob([]byte(`{}`))
	require.NoError(t, err)
	assert.False(t, cfg.HiveToLNEnabled)
	assert.False(t, cfg.LNToHiveEnabled)
	assert.Equal(t, defaultBalanceAdjustmentMarker, cfg.BalanceAdjustmentMarker)
}

func TestParsePolicyBlob_RejectsInvertedInvoiceLimits(t *testing.T) {
	_, err := ParsePolicyBlob([]byte(`{"min_invoice_sats": 1000, "max_invoice_sats": 100}`))
	assert.Error(t, err)
}

func TestParsePolicyBlob_RejectsNegativeFeePercent(t *testing.T) {
	_, err := ParsePolicyBlob([]byte(`{"conv_fee_percent": -1}`))
	assert.Error(t, err)
}

func TestParsePolicyBlob_RejectsMalformedJSON(t *testing.T) {
	_, err := ParsePolicyBlob([]byte(`not json`))
	assert.Error(t, err)
}

func TestParsePolicyBlob_HonorsExplicitValues(t *testing.T) {
	cfg, err := ParsePolicyBlob([]byte(`{
		"hive_to_ln_enabled": true,
		"blacklist": ["bad-actor"],
		"whitelist": ["good-actor"],
		"min_invoice_sats": 1000,
		"max_invoice_sats": 5000000,
		"balance_adjustment_account": "bridge-ops",
		"balance_adjustment_marker": "adj"
	}`))
	require.NoError(t, err)
	assert.True(t, cfg.HiveToLNEnabled)
	assert.Equal(t, "bridge-ops", cfg.BalanceAdjustmentAccount)
	assert.Equal(t, "adj", cfg.BalanceAdjustmentMarker)
}

func TestIsBlacklisted_CaseInsensitive(t *testing.T) {
	cfg := &PolicyConfig{Blacklist: []string{"Bad-Actor"}}
	assert.True(t, cfg.IsBlacklisted("bad-actor"))
	assert.False(t, cfg.IsBlacklisted("good-actor"))
}

func TestIsWhitelisted_EmptyMeansUnrestricted(t *testing.T) {
	cfg := &PolicyConfig{}
	assert.True(t, cfg.IsWhitelisted("anyone"))
}

func TestIsWhitelisted_NonEmptyRestricts(t *testing.T) {
	cfg := &PolicyConfig{Whitelist: []string{"good-actor"}}
	assert.True(t, cfg.IsWhitelisted("good-actor"))
	assert.False(t, cfg.IsWhitelisted("someone-else"))
}

func TestWithinInvoiceLimits(t *testing.T) {
	cfg := &PolicyConfig{MinInvoiceSats: 100, MaxInvoiceSats: 1000}
	assert.False(t, cfg.WithinInvoiceLimits(50))
	assert.True(t, cfg.WithinInvoiceLimits(500))
	assert.False(t, cfg.WithinInvoiceLimits(5000))
}

func TestWithinInvoiceLimits_ZeroMaxUnbounded(t *testing.T) {
	cfg := &PolicyConfig{MinInvoiceSats: 100}
	assert.True(t, cfg.WithinInvoiceLimits(1_000_000))
}

func TestIsBalanceAdjustment_RequiresExactAccountAndMarker(t *testing.T) {
	cfg := &PolicyConfig{BalanceAdjustmentAccount: "bridge-ops", BalanceAdjustmentMarker: "Balance adjustment"}
	assert.True(t, cfg.IsBalanceAdjustment("bridge-ops", "manual Balance adjustment for support ticket #42"))
	assert.False(t, cfg.IsBalanceAdjustment("someone-else", "Balance adjustment"))
	assert.False(t, cfg.IsBalanceAdjustment("bridge-ops", "balance adjustment"))
	assert.False(t, cfg.IsBalanceAdjustment("bridge-ops", "unrelated memo"))
}

func TestIsBalanceAdjustment_UnconfiguredAccountNeverMatches(t *testing.T) {
	cfg := &PolicyConfig{BalanceAdjustmentMarker: "Balance adjustment"}
	assert.False(t, cfg.IsBalanceAdjustment("", "Balance adjustment"))
}
