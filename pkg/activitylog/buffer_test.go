package activitylog

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

func newTestBuffer(t *testing.T) *Buffer {
	return NewBuffer(Config{RedisAddr: "127.0.0.1:1", Key: "test"}, zerolog.Nop())
}

func TestPushNeverReturnsErrorWhenRedisIsUnreachable(t *testing.T) {
	b := newTestBuffer(t)

	err := b.Push(context.Background(), Entry{Provider: "openai-pool", Status: 200})
	assert.NoError(t, err)

	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	assert.Len(t, b.pending, 1)
}

func TestPushTripsCircuitAfterThreshold(t *testing.T) {
	b := newTestBuffer(t)
	ctx := context.Background()

	for i := 0; i < 10; i++ {
		require.NoError(t, b.Push(ctx, Entry{Status: 500}))
	}

	b.breaker.mu.Lock()
	state := b.breaker.state
	b.breaker.mu.Unlock()
	assert.Equal(t, stateOpen, state)

	b.pendingMu.Lock()
	defer b.pendingMu.Unlock()
	assert.Len(t, b.pending, 10)
}

func TestCircuitBreakerRecoversAfterCooldown(t *testing.T) {
	cb := newCircuitBreaker(1, 10*time.Millisecond)

	err := cb.execute(func() error { return errBoom })
	assert.Error(t, err)

	err = cb.execute(func() error { return errBoom })
	assert.Equal(t, errCircuitOpen, err)

	time.Sleep(20 * time.Millisecond)

	err = cb.execute(func() error { return nil })
	assert.NoError(t, err)

	cb.mu.Lock()
	defer cb.mu.Unlock()
	assert.Equal(t, stateClosed, cb.state)
}

func TestRetryWithBackoffStopsOnSuccess(t *testing.T) {
	attempts := 0
	err := retryWithBackoff(context.Background(), backoffConfig{MaxRetries: 3, BaseDelay: time.Millisecond, MaxDelay: 10 * time.Millisecond}, func(ctx context.Context) error {
		attempts++
		if attempts < 2 {
			return errBoom
		}
		return nil
	})

	assert.NoError(t, err)
	assert.Equal(t, 2, attempts)
}

func TestRetryWithBackoffRespectsContextCancellation(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := retryWithBackoff(ctx, backoffConfig{MaxRetries: 5, BaseDelay: time.Millisecond, MaxDelay: time.Millisecond}, func(ctx context.Context) error {
		return errBoom
	})

	assert.ErrorIs(t, err, context.Canceled)
}
