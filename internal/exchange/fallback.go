package exchange

import (
	"context"
	"fmt"

	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

// FallbackProvider tries each configured PriceProvider in order, returning
// the first one that succeeds. Used by the rebalancer's rate-lookup path so
// a single provider outage never blocks a threshold check.
type FallbackProvider struct {
	providers []PriceProvider
	names     []string
}

// NewFallbackProvider builds a chain, preferring an OTC/primary feed first
// and falling back through the rest in the order given — the same
// coinbase-then-coingecko-then-bitstamp order the teacher's NewProvider
// already enumerates.
func NewFallbackProvider(names []string, providers []PriceProvider) *FallbackProvider {
	return &FallbackProvider{providers: providers, names: names}
}

func (f *FallbackProvider) GetPrice(ctx context.Context, fiatCurrency string) (float64, error) {
	var lastErr error
	for i, p := range f.providers {
		price, err := p.GetPrice(ctx, fiatCurrency)
		if err == nil {
			return price, nil
		}
		name := "provider"
		if i < len(f.names) {
			name = f.names[i]
		}
		logger.Warn("exchange: price provider failed, falling back",
			zap.String("provider", name), zap.Error(err))
		lastErr = err
	}
	return 0, fmt.Errorf("exchange: all price providers exhausted: %w", lastErr)
}
