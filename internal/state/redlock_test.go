package state

import (
	"testing"
	"time"

	"mmexec/internal/core"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRedlockAcquireAndRelease(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	lock := NewRedlock(NewMemoryKV(clock), clock)

	token, ok := lock.Acquire("execution_loop", 60_000)
	require.True(t, ok)
	// 16 random bytes, hex encoded
	assert.Len(t, token, 32)

	// Held resources cannot be re-acquired
	_, ok = lock.Acquire("execution_loop", 60_000)
	assert.False(t, ok)

	// Wrong token cannot release
	assert.False(t, lock.Release("execution_loop", "not-the-token"))
	assert.True(t, lock.Release("execution_loop", token))

	// Released resources are free again
	token2, ok := lock.Acquire("execution_loop", 60_000)
	require.True(t, ok)
	assert.NotEqual(t, token, token2)
}

func TestRedlockExpiry(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	lock := NewRedlock(NewMemoryKV(clock), clock)

	token, ok := lock.Acquire("execution_loop", 1000)
	require.True(t, ok)

	clock.Advance(1500 * time.Millisecond)

	// The expired lock is gone: release fails, acquire succeeds
	assert.False(t, lock.Release("execution_loop", token))
	_, ok = lock.Acquire("execution_loop", 1000)
	assert.True(t, ok)
}

func TestRedlockRefresh(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	lock := NewRedlock(NewMemoryKV(clock), clock)

	token, ok := lock.Acquire("execution_loop", 1000)
	require.True(t, ok)

	clock.Advance(800 * time.Millisecond)
	assert.True(t, lock.Refresh("execution_loop", token, 1000))

	// Past the original expiry but inside the refreshed lease
	clock.Advance(700 * time.Millisecond)
	_, ok = lock.Acquire("execution_loop", 1000)
	assert.False(t, ok)

	// Refresh with the wrong token does not extend
	assert.False(t, lock.Refresh("execution_loop", "bogus", 1000))

	clock.Advance(400 * time.Millisecond)
	_, ok = lock.Acquire("execution_loop", 1000)
	assert.True(t, ok)
}

func TestRedlockIndependentResources(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	lock := NewRedlock(NewMemoryKV(clock), clock)

	_, ok := lock.Acquire("resource_a", 1000)
	require.True(t, ok)
	_, ok = lock.Acquire("resource_b", 1000)
	assert.True(t, ok)
}
