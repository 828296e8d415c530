// Package rates implements the RateSource the conversion engine freezes
// onto every ledger entry it posts: a short-TTL cache in front of the
// durable `rates` time series, refreshed from whatever upstream quote feed
// is wired in.
package rates

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

// Pair names recorded into the `rates` time series.
const (
	PairHiveMsats = "HIVE_MSATS"
	PairHBDMsats  = "HBD_MSATS"
	PairMsatsUSD  = "MSATS_USD"
	PairBTCUSD    = "BTC_USD"
)

// ProdCacheTTL and DevCacheTTL bound how long a quote is served from cache
// before the next Snapshot call refreshes it: 10s in production, the same
// as internal/ledger's treasury snapshot cache, extended to 120s in dev mode to avoid hammering upstream quote sources
// while iterating locally.
const (
	ProdCacheTTL = 10 * time.Second
	DevCacheTTL  = 120 * time.Second
)

// QuoteSource supplies the current upstream cross-currency quotes. No
// external HIVE/HBD price feed exists in this pack, so production wiring
// supplies its own QuoteSource (e.g. an internal market-price oracle); this
// is the seam, not an invented integration.
type QuoteSource interface {
	CurrentQuotes(ctx context.Context) (hiveMsats, hbdMsats, msatsUSD, btcUSD float64, err error)
}

// Source is the RateSource convert.Engine depends on.
type Source struct {
	repo  *database.RateRepository
	quote QuoteSource
	ttl   time.Duration

	mu       sync.Mutex
	cached   database.RateSnapshot
	cachedAt time.Time
}

func New(repo *database.RateRepository, quote QuoteSource, ttl time.Duration) *Source {
	return &Source{repo: repo, quote: quote, ttl: ttl}
}

// cacheValid is split out as a pure function so the TTL decision is
// unit-testable without a live repository.
func cacheValid(cachedAt time.Time, ttl time.Duration, now time.Time) bool {
	return !cachedAt.IsZero() && now.Sub(cachedAt) < ttl
}

// Snapshot returns the currently cached rates, refreshing from the
// QuoteSource once the TTL has elapsed. A refresh failure falls back to
// the last persisted sample per currency pair rather than failing the
// conversion that requested the snapshot.
func (s *Source) Snapshot(ctx context.Context) (database.RateSnapshot, error) {
	s.mu.Lock()
	if cacheValid(s.cachedAt, s.ttl, time.Now()) {
		snap := s.cached
		s.mu.Unlock()
		return snap, nil
	}
	s.mu.Unlock()

	hiveMsats, hbdMsats, msatsUSD, btcUSD, err := s.quote.CurrentQuotes(ctx)
	if err != nil {
		logger.Warn("rates: quote refresh failed, falling back to last persisted sample", zap.Error(err))
		return s.fallbackFromHistory(ctx)
	}

	snap := database.RateSnapshot{Hive: hiveMsats, HBD: hbdMsats, Msats: msatsUSD, USD: btcUSD}
	s.persist(ctx, snap)

	s.mu.Lock()
	s.cached, s.cachedAt = snap, time.Now()
	s.mu.Unlock()

	return snap, nil
}

func (s *Source) persist(ctx context.Context, snap database.RateSnapshot) {
	now := time.Now().UTC()
	samples := []database.RateSample{
		{Timestamp: now, Pair: PairHiveMsats, Rate: snap.Hive},
		{Timestamp: now, Pair: PairHBDMsats, Rate: snap.HBD},
		{Timestamp: now, Pair: PairMsatsUSD, Rate: snap.Msats},
		{Timestamp: now, Pair: PairBTCUSD, Rate: snap.USD},
	}
	for _, sample := range samples {
		if err := s.repo.Record(ctx, sample); err != nil {
			logger.Warn("rates: failed to persist rate sample", zap.String("pair", sample.Pair), zap.Error(err))
		}
	}
}

func (s *Source) fallbackFromHistory(ctx context.Context) (database.RateSnapshot, error) {
	now := time.Now().UTC().Format(time.RFC3339Nano)
	var snap database.RateSnapshot
	var firstErr error

	load := func(pair string, into *float64) {
		sample, err := s.repo.LatestBefore(ctx, pair, now)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			return
		}
		if sample != nil {
			*into = sample.Rate
		}
	}
	load(PairHiveMsats, &snap.Hive)
	load(PairHBDMsats, &snap.HBD)
	load(PairMsatsUSD, &snap.Msats)
	load(PairBTCUSD, &snap.USD)

	if firstErr != nil {
		return database.RateSnapshot{}, fmt.Errorf("rates: quote source unavailable and history lookup failed: %w", firstErr)
	}
	return snap, nil
}
