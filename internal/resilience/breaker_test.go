package resilience

import (
	"errors"
	"testing"
	"time"

	"mmexec/internal/core"
	apperrors "mmexec/pkg/errors"
	"mmexec/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errRateLimited = errors.New("HTTP 429 too many requests")

func newTestBreaker(clock core.Clock) *Breaker {
	return NewBreaker("place_order", BreakerConfig{
		FailThreshold: 3,
		Window:        30 * time.Second,
		Cooldown:      200 * time.Millisecond,
		MinDwell:      100 * time.Millisecond,
		ProbeCount:    1,
	}, clock, logging.GetGlobalLogger())
}

func TestBreakerTripsAtThreshold(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	b := newTestBreaker(clock)

	for i := 0; i < 2; i++ {
		require.NoError(t, b.AllowRequest(false))
		b.RecordResult(errRateLimited)
		assert.Equal(t, BreakerClosed, b.State())
	}

	require.NoError(t, b.AllowRequest(false))
	b.RecordResult(errRateLimited)
	assert.Equal(t, BreakerOpen, b.State())

	// Further calls are rejected without reaching the adapter
	err := b.AllowRequest(false)
	assert.ErrorIs(t, err, apperrors.ErrBreakerOpen)
}

func TestBreakerProbeAfterCooldown(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordResult(errRateLimited)
	}
	require.Equal(t, BreakerOpen, b.State())

	// Before cooldown: still rejected
	clock.Advance(100 * time.Millisecond)
	assert.ErrorIs(t, b.AllowRequest(false), apperrors.ErrBreakerOpen)

	// After cooldown: one probe is admitted, a second is not
	clock.Advance(200 * time.Millisecond)
	require.NoError(t, b.AllowRequest(false))
	assert.Equal(t, BreakerHalfOpen, b.State())
	assert.ErrorIs(t, b.AllowRequest(false), apperrors.ErrBreakerOpen)

	// Probe success closes and clears the window
	b.RecordResult(nil)
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestBreakerProbeFailureReopens(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordResult(errRateLimited)
	}
	clock.Advance(300 * time.Millisecond)
	require.NoError(t, b.AllowRequest(false))
	require.Equal(t, BreakerHalfOpen, b.State())

	b.RecordResult(errors.New("HTTP 503 service unavailable"))
	assert.Equal(t, BreakerOpen, b.State())
	// Reopening preserves the failure window
	assert.Greater(t, b.FailureCount(), 0)
}

func TestBreakerIgnoresNonTransientErrors(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	b := newTestBreaker(clock)

	for i := 0; i < 10; i++ {
		b.RecordResult(errors.New("HTTP 400 bad request"))
	}
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 0, b.FailureCount())
}

func TestBreakerWindowEviction(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	b := NewBreaker("place_order", BreakerConfig{
		FailThreshold: 3,
		Window:        time.Second,
		Cooldown:      200 * time.Millisecond,
		MinDwell:      100 * time.Millisecond,
		ProbeCount:    1,
	}, clock, logging.GetGlobalLogger())

	b.RecordResult(errRateLimited)
	b.RecordResult(errRateLimited)
	assert.Equal(t, 2, b.FailureCount())

	// The old failures age out of the window
	clock.Advance(2 * time.Second)
	b.RecordResult(errRateLimited)
	assert.Equal(t, BreakerClosed, b.State())
	assert.Equal(t, 1, b.FailureCount())
}

func TestBreakerAllowlistBypassesOpenState(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	b := newTestBreaker(clock)

	for i := 0; i < 3; i++ {
		b.RecordResult(errRateLimited)
	}
	require.Equal(t, BreakerOpen, b.State())

	assert.NoError(t, b.AllowRequest(true))
	assert.ErrorIs(t, b.AllowRequest(false), apperrors.ErrBreakerOpen)
}

func TestBreakerMultipleProbeSuccessesRequired(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	b := NewBreaker("place_order", BreakerConfig{
		FailThreshold: 3,
		Window:        30 * time.Second,
		Cooldown:      200 * time.Millisecond,
		MinDwell:      100 * time.Millisecond,
		ProbeCount:    2,
	}, clock, logging.GetGlobalLogger())

	for i := 0; i < 3; i++ {
		b.RecordResult(errRateLimited)
	}
	clock.Advance(300 * time.Millisecond)

	require.NoError(t, b.AllowRequest(false))
	b.RecordResult(nil)
	assert.Equal(t, BreakerHalfOpen, b.State())

	require.NoError(t, b.AllowRequest(false))
	b.RecordResult(nil)
	assert.Equal(t, BreakerClosed, b.State())
}

func TestBreakerSetIsPerEndpoint(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	set := NewBreakerSet(BreakerConfig{
		FailThreshold: 1,
		Window:        30 * time.Second,
		Cooldown:      time.Second,
		MinDwell:      100 * time.Millisecond,
		ProbeCount:    1,
	}, clock, logging.GetGlobalLogger())

	set.Get("place_order").RecordResult(errRateLimited)

	states := set.States()
	assert.Equal(t, BreakerOpen, states["place_order"])
	assert.Equal(t, BreakerClosed, set.Get("positions").State())
}
