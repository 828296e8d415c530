// Package ledgercache implements C7: a generation-counter-invalidated
// balance cache fronting the ledger's read path, so a hot account (the
// treasury, a busy user) doesn't hit Postgres on every balance check.
package ledgercache

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/hiveln-bridge/bridge/internal/database"
	"github.com/hiveln-bridge/bridge/internal/ledger"
	"github.com/hiveln-bridge/bridge/pkg/cache"
	"github.com/hiveln-bridge/bridge/pkg/logger"
	"go.uber.org/zap"
)

const (
	generationKey = "ledger:__generation__"

	liveTTL       = 60 * time.Second
	historicalTTL = 300 * time.Second
)

// Reader is the subset of *internal/ledger.Ledger the cache fronts.
type Reader interface {
	Balance(ctx context.Context, account database.Account, asOf, sinceAge *string) (*ledger.AccountDetails, error)
}

// InFlightSource estimates value currently routed but not yet posted to
// the ledger for an account, in millisatoshis. Optional: a nil source
// reports zero, so CachedBalance.InProgressMsats degrades to a known zero
// rather than a fabricated estimate.
type InFlightSource interface {
	InProgressMsats(ctx context.Context, account database.Account) (int64, error)
}

// CachedBalance is the snapshot a Balance call returns: the journal
// position as of the last cache write (or a fresh read on miss) plus an
// always-freshly-computed in-flight component that is never itself cached.
type CachedBalance struct {
	*ledger.AccountDetails
	InProgressMsats int64
}

// Cache is C7.
type Cache struct {
	reader   Reader
	inFlight InFlightSource
}

func New(reader Reader) *Cache {
	return &Cache{reader: reader}
}

// WithInFlightSource wires the optional in-flight estimator.
func (c *Cache) WithInFlightSource(src InFlightSource) *Cache {
	c.inFlight = src
	return c
}

// Invalidate bumps the single global generation counter. internal/ledger
// calls this after every successful Post. Old keys are never scanned or
// deleted: they embed the generation at write time, so a bump just makes
// them unreachable; they expire on their own TTL.
func (c *Cache) Invalidate(_ database.Account) {
	if _, err := cache.Incr(context.Background(), generationKey); err != nil {
		logger.Warn("ledgercache: failed to bump generation counter", zap.Error(err))
	}
}

// Balance returns account's balance, preferring a cached snapshot under
// the current generation and falling back to (and then populating) a
// direct ledger read on a miss. Any cache-store failure along the way
// degrades to a direct ledger read: cache failures are warnings, never
// errors, per the component's stated failure mode.
func (c *Cache) Balance(ctx context.Context, account database.Account, asOf, sinceAge *string) (*CachedBalance, error) {
	details, err := c.balanceDetails(ctx, account, asOf, sinceAge)
	if err != nil {
		return nil, err
	}

	var inProgress int64
	if c.inFlight != nil {
		inProgress, err = c.inFlight.InProgressMsats(ctx, account)
		if err != nil {
			logger.Warn("ledgercache: failed to compute in-progress amount", zap.Error(err))
			inProgress = 0
		}
	}

	return &CachedBalance{AccountDetails: details, InProgressMsats: inProgress}, nil
}

func (c *Cache) balanceDetails(ctx context.Context, account database.Account, asOf, sinceAge *string) (*ledger.AccountDetails, error) {
	gen, err := c.generation(ctx)
	if err != nil {
		logger.Warn("ledgercache: generation read failed, falling back to direct ledger read", zap.Error(err))
		return c.reader.Balance(ctx, account, asOf, sinceAge)
	}

	key := cacheKey(gen, account, asOf, sinceAge)
	if raw, err := cache.Get(ctx, key); err != nil {
		logger.Warn("ledgercache: cache read failed, falling back to direct ledger read", zap.Error(err))
	} else if raw != "" {
		var details ledger.AccountDetails
		if err := json.Unmarshal([]byte(raw), &details); err == nil {
			return &details, nil
		}
	}

	details, err := c.reader.Balance(ctx, account, asOf, sinceAge)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(details); err != nil {
		logger.Warn("ledgercache: failed to marshal balance snapshot", zap.Error(err))
	} else {
		ttl := liveTTL
		if asOf != nil {
			ttl = historicalTTL
		}
		if err := cache.Set(ctx, key, raw, ttl); err != nil {
			logger.Warn("ledgercache: failed to store balance snapshot", zap.Error(err))
		}
	}

	return details, nil
}

func (c *Cache) generation(ctx context.Context) (int64, error) {
	raw, err := cache.Get(ctx, generationKey)
	if err != nil {
		return 0, err
	}
	if raw == "" {
		return 0, nil
	}
	return strconv.ParseInt(raw, 10, 64)
}

// cacheKey builds `ledger:bal:v{gen}:{hash(account,as_of_minute,age)}`.
// as_of is expected pre-truncated to the minute by the caller before it
// reaches here; sinceAge is passed through as-is.
func cacheKey(gen int64, account database.Account, asOf, sinceAge *string) string {
	h := sha256.New()
	fmt.Fprintf(h, "%s|%s|%s", account.AccountType, account.Name, account.Sub)
	if asOf != nil {
		fmt.Fprintf(h, "|asof:%s", *asOf)
	}
	if sinceAge != nil {
		fmt.Fprintf(h, "|age:%s", *sinceAge)
	}
	return fmt.Sprintf("ledger:bal:v%d:%s", gen, hex.EncodeToString(h.Sum(nil)))
}
