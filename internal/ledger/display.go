package ledger

import (
	"fmt"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/hiveln-bridge/bridge/internal/database"
)

// DisplaySats formats a millisat amount as a human-readable BTC string at
// the display boundary only — internal accounting always stays in integer
// msats, never float BTC.
func DisplaySats(msats int64) string {
	return btcutil.Amount(msats / 1000).String()
}

// DisplayAmount formats a ledger amount for the unit it's denominated in:
// msats render as BTC via btcutil, HIVE/HBD render as a fixed-point string
// matching the chain's own three-decimal convention.
func DisplayAmount(amount int64, unit database.Unit) string {
	switch unit {
	case database.UnitMSATS:
		return DisplaySats(amount)
	case database.UnitHIVE:
		return fmt.Sprintf("%.3f HIVE", float64(amount)/1000)
	case database.UnitHBD:
		return fmt.Sprintf("%.3f HBD", float64(amount)/1000)
	default:
		return fmt.Sprintf("%d %s", amount, unit)
	}
}
