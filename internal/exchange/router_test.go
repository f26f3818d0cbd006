package exchange

import (
	"context"
	"errors"
	"testing"
	"time"

	"mmexec/internal/core"
	"mmexec/internal/resilience"
	apperrors "mmexec/pkg/errors"
	"mmexec/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// flakyExchange fails placements until the fuse burns out
type flakyExchange struct {
	*Fake
	failures  int
	calls     int
	failError error
}

func (f *flakyExchange) PlaceLimitOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.PlaceOrderResponse, error) {
	f.calls++
	if f.calls <= f.failures {
		return nil, f.failError
	}
	return f.Fake.PlaceLimitOrder(ctx, req)
}

func newTestRouter(inner core.IExchange, clock core.Clock) *Router {
	logger := logging.GetGlobalLogger()
	limiter := resilience.NewRateLimiter(resilience.BucketConfig{CapacityPerS: 1000, Burst: 1000}, nil)
	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{
		FailThreshold: 3,
		Window:        30 * time.Second,
		Cooldown:      200 * time.Millisecond,
		MinDwell:      100 * time.Millisecond,
		ProbeCount:    1,
	}, clock, logger)
	return NewRouter(inner, limiter, breakers, 1000, logger)
}

func TestRouterPassesThroughOnSuccess(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	fake := NewFake(DefaultFakeConfig, clock, logging.GetGlobalLogger())
	router := newTestRouter(fake, clock)

	resp, err := router.PlaceLimitOrder(context.Background(), placeReq("CLI00000001"))
	require.NoError(t, err)
	assert.Equal(t, core.PlaceOrderAccepted, resp.Status)
	assert.Equal(t, "fake", router.GetName())
	assert.Empty(t, router.RecentErrors())
}

func TestRouterRetriesTransientFailures(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	inner := &flakyExchange{
		Fake:      NewFake(DefaultFakeConfig, clock, logging.GetGlobalLogger()),
		failures:  2,
		failError: errors.New("HTTP 503 service unavailable"),
	}
	router := newTestRouter(inner, clock)

	// Two failures burn the retry budget, the third attempt lands
	resp, err := router.PlaceLimitOrder(context.Background(), placeReq("CLI00000001"))
	require.NoError(t, err)
	assert.Equal(t, core.PlaceOrderAccepted, resp.Status)
	assert.Equal(t, 3, inner.calls)
}

func TestRouterDoesNotRetryRejections(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	inner := &flakyExchange{
		Fake:      NewFake(DefaultFakeConfig, clock, logging.GetGlobalLogger()),
		failures:  100,
		failError: errors.New("HTTP 400 bad request"),
	}
	router := newTestRouter(inner, clock)

	_, err := router.PlaceLimitOrder(context.Background(), placeReq("CLI00000001"))
	require.Error(t, err)
	assert.Equal(t, 1, inner.calls)
	assert.NotEmpty(t, router.RecentErrors())
}

func TestRouterBreakerBlocksAndRecovers(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	inner := &flakyExchange{
		Fake:      NewFake(DefaultFakeConfig, clock, logging.GetGlobalLogger()),
		failures:  3,
		failError: errors.New("HTTP 429 too many requests"),
	}
	router := newTestRouter(inner, clock)

	// One placement exhausts its three attempts and trips the breaker
	_, err := router.PlaceLimitOrder(context.Background(), placeReq("CLI00000001"))
	require.Error(t, err)
	require.Equal(t, 3, inner.calls)

	// The next call is rejected before the adapter sees it
	_, err = router.PlaceLimitOrder(context.Background(), placeReq("CLI00000002"))
	assert.ErrorIs(t, err, apperrors.ErrBreakerOpen)
	assert.Equal(t, 3, inner.calls)

	// After cooldown the probe goes through and closes the breaker
	clock.Advance(300 * time.Millisecond)
	resp, err := router.PlaceLimitOrder(context.Background(), placeReq("CLI00000003"))
	require.NoError(t, err)
	assert.Equal(t, core.PlaceOrderAccepted, resp.Status)

	resp, err = router.PlaceLimitOrder(context.Background(), placeReq("CLI00000004"))
	require.NoError(t, err)
	assert.Equal(t, core.PlaceOrderAccepted, resp.Status)
}

func TestRouterHealthCheckBypassesBreaker(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	inner := &flakyExchange{
		Fake:      NewFake(DefaultFakeConfig, clock, logging.GetGlobalLogger()),
		failures:  3,
		failError: errors.New("HTTP 429 too many requests"),
	}
	router := newTestRouter(inner, clock)

	_, _ = router.PlaceLimitOrder(context.Background(), placeReq("CLI00000001"))
	assert.NoError(t, router.CheckHealth(context.Background()))
}

func TestErrorCode(t *testing.T) {
	assert.Equal(t, "HTTP 429", errorCode(errors.New("HTTP 429 too many requests")))
	assert.Equal(t, "HTTP 503", errorCode(errors.New("server said HTTP 503 today")))
	assert.Equal(t, "transport", errorCode(errors.New("connection reset by peer")))
	assert.Equal(t, "error", errorCode(errors.New("something else")))
}
