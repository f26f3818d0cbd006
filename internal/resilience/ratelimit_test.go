package resilience

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAcquirePacesBeyondBurst(t *testing.T) {
	rl := NewRateLimiter(BucketConfig{CapacityPerS: 5, Burst: 5}, nil)

	start := time.Now()
	waits := make([]float64, 10)
	for i := 0; i < 10; i++ {
		waits[i] = rl.Acquire("place_order", 1)
	}
	elapsed := time.Since(start)

	// Five tokens over capacity at 5/s: about one second of pacing
	assert.GreaterOrEqual(t, elapsed, 900*time.Millisecond)

	for i := 0; i < 5; i++ {
		assert.Less(t, waits[i], 50.0, "burst acquire %d should not wait", i)
	}
	for i := 5; i < 10; i++ {
		assert.Greater(t, waits[i], 0.0, "acquire %d should report its wait", i)
	}
}

func TestTryAcquireNeverBlocks(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(BucketConfig{CapacityPerS: 2, Burst: 2}, nil)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.TryAcquire("positions", 1))
	assert.True(t, rl.TryAcquire("positions", 1))
	assert.False(t, rl.TryAcquire("positions", 1))
	assert.Equal(t, 0.0, rl.Tokens("positions"))

	// Half a second refills one token at 2/s
	now = now.Add(500 * time.Millisecond)
	assert.True(t, rl.TryAcquire("positions", 1))
	assert.False(t, rl.TryAcquire("positions", 1))
}

func TestTokensClampAtBurst(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(BucketConfig{CapacityPerS: 10, Burst: 3}, nil)
	rl.now = func() time.Time { return now }

	require.True(t, rl.TryAcquire("filters", 1))

	// A long idle period refills to burst, never beyond
	now = now.Add(time.Hour)
	assert.Equal(t, 3.0, rl.Tokens("filters"))
}

func TestPerEndpointOverrides(t *testing.T) {
	now := time.Unix(1700000000, 0)
	rl := NewRateLimiter(
		BucketConfig{CapacityPerS: 10, Burst: 10},
		map[string]BucketConfig{"cancel_order": {CapacityPerS: 1, Burst: 1}},
	)
	rl.now = func() time.Time { return now }

	assert.True(t, rl.TryAcquire("cancel_order", 1))
	assert.False(t, rl.TryAcquire("cancel_order", 1))

	// Other endpoints still use the global bucket
	for i := 0; i < 10; i++ {
		assert.True(t, rl.TryAcquire("place_order", 1))
	}
	assert.False(t, rl.TryAcquire("place_order", 1))
}
