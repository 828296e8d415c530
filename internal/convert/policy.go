// Package convert implements C5, the conversion engine: the four business
// flows that turn an ingested TrackedOp on one side of the bridge into a
// ledger posting and, where applicable, an outbound action on the other
// side.
package convert

import (
	"encoding/json"
	"fmt"
	"strings"
)

// RateLimitRule caps the total sats a single Hive account may move through
// the bridge within a rolling period.
type RateLimitRule struct {
	PeriodHours int   `json:"period_hours"`
	MaxSats     int64 `json:"max_sats"`
}

// PolicyConfig is the typed, validated form of the live operator-
// configurable policy blob. The engine never consumes the raw blob
// directly — ParsePolicyBlob is the one place loosely typed chain data
// crosses into a typed record.
type PolicyConfig struct {
	HiveToLNEnabled bool
	LNToHiveEnabled bool

	Blacklist []string
	Whitelist []string

	HiveReturnFeeSats     int64
	ConvFeePercent        float64
	ConvFeeSats           int64
	StreamingFeePercent   float64
	MinInvoiceSats        int64
	MaxInvoiceSats        int64
	MaxLNRoutingFeeMsats  int64

	RateLimits []RateLimitRule

	BalanceAdjustmentAccount string
	BalanceAdjustmentMarker  string
}

// policyBlob is the wire shape of the chain-sourced configuration blob,
// loosely typed because field presence and even types vary by deployment.
type policyBlob struct {
	HiveToLNEnabled       *bool           `json:"hive_to_ln_enabled"`
	LNToHiveEnabled       *bool           `json:"ln_to_hive_enabled"`
	Blacklist             []string        `json:"blacklist"`
	Whitelist             []string        `json:"whitelist"`
	HiveReturnFee         *int64          `json:"hive_return_fee"`
	ConvFeePercent        *float64        `json:"conv_fee_percent"`
	ConvFeeSats           *int64          `json:"conv_fee_sats"`
	StreamingFeePercent   *float64        `json:"streaming_fee_percent"`
	MinInvoiceSats        *int64          `json:"min_invoice_sats"`
	MaxInvoiceSats        *int64          `json:"max_invoice_sats"`
	MaxLNRoutingFeeMsats  *int64          `json:"max_ln_routing_fee_msats"`
	RateLimits            []RateLimitRule `json:"rate_limits"`
	BalanceAdjustAccount  string          `json:"balance_adjustment_account"`
	BalanceAdjustMarker   string          `json:"balance_adjustment_marker"`
}

const defaultBalanceAdjustmentMarker = "Balance adjustment"

// ParsePolicyBlob validates a loosely typed chain-sourced JSON blob into a
// PolicyConfig. Unknown or absent fields fall back to conservative
// defaults (gateways closed, zero limits) rather than zero-valuing into an
// accidentally permissive policy.
func ParsePolicyBlob(raw []byte) (*PolicyConfig, error) {
	var blob policyBlob
	if err := json.Unmarshal(raw, &blob); err != nil {
		return nil, fmt.Errorf("convert: invalid policy blob: %w", err)
	}

	cfg := &PolicyConfig{
		BalanceAdjustmentMarker: defaultBalanceAdjustmentMarker,
	}
	if blob.HiveToLNEnabled != nil {
		cfg.HiveToLNEnabled = *blob.HiveToLNEnabled
	}
	if blob.LNToHiveEnabled != nil {
		cfg.LNToHiveEnabled = *blob.LNToHiveEnabled
	}
	cfg.Blacklist = blob.Blacklist
	cfg.Whitelist = blob.Whitelist
	if blob.HiveReturnFee != nil {
		cfg.HiveReturnFeeSats = *blob.HiveReturnFee
	}
	if blob.ConvFeePercent != nil {
		cfg.ConvFeePercent = *blob.ConvFeePercent
	}
	if blob.ConvFeeSats != nil {
		cfg.ConvFeeSats = *blob.ConvFeeSats
	}
	if blob.StreamingFeePercent != nil {
		cfg.StreamingFeePercent = *blob.StreamingFeePercent
	}
	if blob.MinInvoiceSats != nil {
		cfg.MinInvoiceSats = *blob.MinInvoiceSats
	}
	if blob.MaxInvoiceSats != nil {
		cfg.MaxInvoiceSats = *blob.MaxInvoiceSats
	}
	if blob.MaxLNRoutingFeeMsats != nil {
		cfg.MaxLNRoutingFeeMsats = *blob.MaxLNRoutingFeeMsats
	}
	cfg.RateLimits = blob.RateLimits
	if blob.BalanceAdjustAccount != "" {
		cfg.BalanceAdjustmentAccount = blob.BalanceAdjustAccount
	}
	if blob.BalanceAdjustMarker != "" {
		cfg.BalanceAdjustmentMarker = blob.BalanceAdjustMarker
	}

	if cfg.MaxInvoiceSats > 0 && cfg.MinInvoiceSats > cfg.MaxInvoiceSats {
		return nil, fmt.Errorf("convert: policy min_invoice_sats (%d) exceeds max_invoice_sats (%d)",
			cfg.MinInvoiceSats, cfg.MaxInvoiceSats)
	}
	if cfg.ConvFeePercent < 0 || cfg.StreamingFeePercent < 0 {
		return nil, fmt.Errorf("convert: policy fee percentages must not be negative")
	}

	return cfg, nil
}

// IsBlacklisted reports whether a Hive account is explicitly denied, case-
// insensitively.
func (p *PolicyConfig) IsBlacklisted(account string) bool {
	return containsFold(p.Blacklist, account)
}

// IsWhitelisted reports whether the whitelist is empty (no restriction) or
// contains the account.
func (p *PolicyConfig) IsWhitelisted(account string) bool {
	if len(p.Whitelist) == 0 {
		return true
	}
	return containsFold(p.Whitelist, account)
}

// WithinInvoiceLimits reports whether amountSats lies within the
// configured [min, max] invoice range. A zero max means unbounded.
func (p *PolicyConfig) WithinInvoiceLimits(amountSats int64) bool {
	if amountSats < p.MinInvoiceSats {
		return false
	}
	if p.MaxInvoiceSats > 0 && amountSats > p.MaxInvoiceSats {
		return false
	}
	return true
}

// IsBalanceAdjustment reports whether a transfer matches the balance-
// adjustment backdoor: sent from the configured operator account with a
// memo carrying the exact (case-sensitive) marker substring, per the
// documented open question — no fuzzy matching.
func (p *PolicyConfig) IsBalanceAdjustment(from, memo string) bool {
	if p.BalanceAdjustmentAccount == "" || from != p.BalanceAdjustmentAccount {
		return false
	}
	return strings.Contains(memo, p.BalanceAdjustmentMarker)
}

func containsFold(list []string, needle string) bool {
	for _, item := range list {
		if strings.EqualFold(item, needle) {
			return true
		}
	}
	return false
}
