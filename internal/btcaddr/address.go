// Package btcaddr formats and validates the Bitcoin-side values the bridge
// only ever describes, never custodies directly: the cold-storage address
// the exchange rebalancer sweeps proceeds to, and human-readable BTC amounts
// in logs and notifications. Actual LN balances are owned by internal/lnd;
// Hive balances by internal/hiveapi.
package btcaddr

import (
	"errors"

	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/chaincfg"
)

func networkParams(network string) (*chaincfg.Params, error) {
	switch network {
	case "mainnet":
		return &chaincfg.MainNetParams, nil
	case "testnet":
		return &chaincfg.TestNet3Params, nil
	default:
		return nil, errors.New("btcaddr: network must be \"mainnet\" or \"testnet\"")
	}
}

// ValidateAddress reports whether address decodes as a well-formed Bitcoin
// address for network. A decode failure or network mismatch both report
// false with a nil error; only an unrecognized network argument is an error.
func ValidateAddress(address, network string) (bool, error) {
	params, err := networkParams(network)
	if err != nil {
		return false, err
	}

	addr, err := btcutil.DecodeAddress(address, params)
	if err != nil {
		return false, nil
	}
	return addr.IsForNet(params), nil
}

// FormatSats renders a satoshi amount as a fixed-point BTC string, the form
// used in logs and notifications wherever a sat figure is surfaced to a
// human operator.
func FormatSats(sats int64) string {
	return btcutil.Amount(sats).String()
}
