package ledger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEncodeDecodeSnapshot_RoundTrips(t *testing.T) {
	snap := TreasurySnapshot{
		ChannelLocalSats: 100000,
		OnChainSats:      50000,
		TotalSats:        150000,
		LiabilitySats:    120000,
		AvailableSats:    30000,
	}

	decoded, ok := decodeSnapshot(encodeSnapshot(snap))

	assert.True(t, ok)
	assert.Equal(t, snap, decoded)
}

func TestDecodeSnapshot_RejectsMalformedInput(t *testing.T) {
	_, ok := decodeSnapshot("not-a-snapshot")
	assert.False(t, ok)
}

func TestDecodeSnapshot_RejectsPartialInput(t *testing.T) {
	_, ok := decodeSnapshot("1,2,3")
	assert.False(t, ok)
}
