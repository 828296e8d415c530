package backoff

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRetry_SucceedsAfterTransientFailures(t *testing.T) {
	cfg := Config{InitialInterval: 1, MaxInterval: 2, Multiplier: 1}
	attempts := 0

	err := Retry(context.Background(), cfg, 0, func() error {
		attempts++
		if attempts < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, attempts)
}

func TestRetry_StopsAtMaxAttempts(t *testing.T) {
	cfg := Config{InitialInterval: 1, MaxInterval: 2, Multiplier: 1}
	attempts := 0

	err := Retry(context.Background(), cfg, 2, func() error {
		attempts++
		return errors.New("always fails")
	})

	assert.Error(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetry_RespectsContextCancellation(t *testing.T) {
	cfg := Config{InitialInterval: 1, MaxInterval: 2, Multiplier: 1}
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := Retry(ctx, cfg, 0, func() error {
		return errors.New("never succeeds")
	})

	assert.Error(t, err)
}
