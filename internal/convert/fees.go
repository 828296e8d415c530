package convert

import "math"

// ConvFeeMsats computes the conversion fee in millisats for a gross millisat
// amount: percent-of-gross plus a fixed sats component, both operator-
// configurable.
func ConvFeeMsats(grossMsats int64, cfg *PolicyConfig) int64 {
	pct := int64(math.Round(float64(grossMsats) * cfg.ConvFeePercent / 100))
	return pct + cfg.ConvFeeSats*1000
}

// StreamingFeeMsats computes the fee millisats charged against a streaming-
// payment amount, kept distinct from ConvFeeMsats so a future differential
// streaming rate doesn't entangle the two call sites.
func StreamingFeeMsats(amountMsats int64, cfg *PolicyConfig) int64 {
	return int64(math.Round(float64(amountMsats) * cfg.StreamingFeePercent / 100))
}

// HiveMilliToMsats converts an amount denominated in milli-HIVE/HBD (the
// ledger's smallest unit, 0.001 of the display unit) to millisats at
// satsPerUnit (sats per one whole HIVE or HBD).
func HiveMilliToMsats(amountMilli int64, satsPerUnit float64) int64 {
	return int64(math.Round(float64(amountMilli) * satsPerUnit))
}

// MsatsToHiveMilli is the inverse of HiveMilliToMsats.
func MsatsToHiveMilli(amountMsats int64, satsPerUnit float64) int64 {
	if satsPerUnit == 0 {
		return 0
	}
	return int64(math.Round(float64(amountMsats) / satsPerUnit))
}
