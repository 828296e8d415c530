// Package backoff wraps cenkalti/backoff/v4 into the capped
// exponential-backoff-and-retry shape the watchers (C2, C3) and the
// notification dispatcher (C9) all need for their reconnect/retry loops.
package backoff

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// Config tunes the capped exponential backoff curve.
type Config struct {
	InitialInterval time.Duration
	MaxInterval     time.Duration
	Multiplier      float64
}

// DefaultConfig matches the watcher reconnect cadence: start at 1s, double
// up to a 2-minute ceiling, retry forever (MaxElapsedTime=0).
func DefaultConfig() Config {
	return Config{
		InitialInterval: time.Second,
		MaxInterval:     2 * time.Minute,
		Multiplier:      2,
	}
}

func (c Config) newExponentialBackOff() *backoff.ExponentialBackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = c.InitialInterval
	b.MaxInterval = c.MaxInterval
	b.Multiplier = c.Multiplier
	b.MaxElapsedTime = 0 // retry indefinitely, caller controls shutdown via ctx
	return b
}

// Retry runs op until it succeeds, ctx is cancelled, or maxAttempts is hit
// (0 = unlimited). It's the reconnect-loop primitive shared by the Hive
// watcher, each Lightning watcher stream, and the notification dispatcher's
// per-message send.
func Retry(ctx context.Context, cfg Config, maxAttempts int, op func() error) error {
	b := backoff.WithContext(cfg.newExponentialBackOff(), ctx)
	attempt := 0
	wrapped := func() error {
		attempt++
		err := op()
		if err != nil && maxAttempts > 0 && attempt >= maxAttempts {
			return backoff.Permanent(err)
		}
		return err
	}
	return backoff.Retry(wrapped, b)
}

// NextDelay exposes a single backoff step for callers that need to drive
// their own loop (the Hive watcher's catch-up-vs-stream mode switch checks
// elapsed lag between attempts rather than retrying a single call).
func NextDelay(cfg Config, attempt int) time.Duration {
	b := cfg.newExponentialBackOff()
	var d time.Duration
	for i := 0; i <= attempt; i++ {
		d = b.NextBackOff()
	}
	return d
}
