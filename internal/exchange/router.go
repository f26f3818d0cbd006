package exchange

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"time"

	"mmexec/internal/core"
	"mmexec/internal/resilience"
	apperrors "mmexec/pkg/errors"
	"mmexec/pkg/telemetry"

	"github.com/failsafe-go/failsafe-go"
	"github.com/failsafe-go/failsafe-go/retrypolicy"
	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"
)

// Logical endpoint names shared by the breaker, limiter, and metrics
const (
	EndpointPlaceOrder = "place_order"
	EndpointCancel     = "cancel_order"
	EndpointOpenOrders = "open_orders"
	EndpointPositions  = "positions"
	EndpointFilters    = "filters"
)

const recentErrorCap = 32

// Router fronts an adapter with the full resilience stack: token-bucket
// pacing per endpoint, a coarse global pacer, one circuit breaker per
// endpoint, and retry with backoff on placement. It satisfies
// core.IExchange so callers cannot tell it from a bare adapter.
type Router struct {
	inner    core.IExchange
	limiter  *resilience.RateLimiter
	breakers *resilience.BreakerSet
	// pacer smooths the aggregate call rate across all endpoints
	pacer    *rate.Limiter
	pipeline failsafe.Executor[*core.PlaceOrderResponse]
	logger   core.ILogger

	mu           sync.Mutex
	recentErrors []string
}

// NewRouter wires the resilience stack around inner
func NewRouter(
	inner core.IExchange,
	limiter *resilience.RateLimiter,
	breakers *resilience.BreakerSet,
	globalRatePerS float64,
	logger core.ILogger,
) *Router {
	retryPolicy := retrypolicy.NewBuilder[*core.PlaceOrderResponse]().
		HandleIf(func(resp *core.PlaceOrderResponse, err error) bool {
			return err != nil && apperrors.IsTransient(err)
		}).
		WithBackoff(100*time.Millisecond, 2*time.Second).
		WithMaxRetries(2).
		Build()

	if globalRatePerS <= 0 {
		globalRatePerS = 50
	}

	return &Router{
		inner:    inner,
		limiter:  limiter,
		breakers: breakers,
		pacer:    rate.NewLimiter(rate.Limit(globalRatePerS), int(globalRatePerS)),
		pipeline: failsafe.With[*core.PlaceOrderResponse](retryPolicy),
		logger:   logger.WithField("component", "exchange_router"),
	}
}

func (r *Router) GetName() string { return r.inner.GetName() }

// CheckHealth is allowlisted: it must reach the adapter even when the
// breaker is open, since it is how recovery gets observed.
func (r *Router) CheckHealth(ctx context.Context) error {
	return r.inner.CheckHealth(ctx)
}

// noteError keeps a bounded log of recent failures for readiness probes
func (r *Router) noteError(endpoint string, err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	entry := fmt.Sprintf("%s: %v", endpoint, err)
	r.recentErrors = append(r.recentErrors, entry)
	if len(r.recentErrors) > recentErrorCap {
		r.recentErrors = r.recentErrors[len(r.recentErrors)-recentErrorCap:]
	}
}

// RecentErrors returns a copy of the rolling failure log
func (r *Router) RecentErrors() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.recentErrors))
	copy(out, r.recentErrors)
	return out
}

// errorCode extracts the metric label for a failure
func errorCode(err error) string {
	msg := err.Error()
	if i := strings.Index(msg, "HTTP "); i >= 0 && len(msg) >= i+8 {
		return strings.TrimSpace(msg[i : i+8])
	}
	if apperrors.IsTransient(err) {
		return "transport"
	}
	return "error"
}

// guard runs the pre-call stack for an endpoint and returns the breaker
// to report the result to.
func (r *Router) guard(ctx context.Context, endpoint string) (*resilience.Breaker, error) {
	r.limiter.Acquire(endpoint, 1)
	if err := r.pacer.Wait(ctx); err != nil {
		return nil, err
	}
	breaker := r.breakers.Get(endpoint)
	if err := breaker.AllowRequest(false); err != nil {
		telemetry.GetGlobalMetrics().IncAPIFailure(endpoint, "breaker_open")
		return nil, err
	}
	return breaker, nil
}

func (r *Router) PlaceLimitOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.PlaceOrderResponse, error) {
	breaker, err := r.guard(ctx, EndpointPlaceOrder)
	if err != nil {
		return nil, err
	}

	start := time.Now()
	attempts := 0
	resp, err := r.pipeline.GetWithExecution(func(exec failsafe.Execution[*core.PlaceOrderResponse]) (*core.PlaceOrderResponse, error) {
		attempts++
		resp, callErr := r.inner.PlaceLimitOrder(ctx, req)
		breaker.RecordResult(callErr)
		return resp, callErr
	})

	latencyMs := float64(time.Since(start)) / float64(time.Millisecond)
	metrics := telemetry.GetGlobalMetrics()
	metrics.ObserveOrderLatencyMs(latencyMs, req.Symbol)
	metrics.ObserveRetryCount(float64(attempts-1), EndpointPlaceOrder)

	if err != nil {
		r.noteError(EndpointPlaceOrder, err)
		metrics.IncAPIFailure(EndpointPlaceOrder, errorCode(err))
		return nil, err
	}
	return resp, nil
}

func (r *Router) CancelOrder(ctx context.Context, clientOrderID, symbol string) (*core.PlaceOrderResponse, error) {
	breaker, err := r.guard(ctx, EndpointCancel)
	if err != nil {
		return nil, err
	}
	resp, err := r.inner.CancelOrder(ctx, clientOrderID, symbol)
	breaker.RecordResult(err)
	if err != nil {
		r.noteError(EndpointCancel, err)
		telemetry.GetGlobalMetrics().IncAPIFailure(EndpointCancel, errorCode(err))
		return nil, err
	}
	return resp, nil
}

func (r *Router) GetOpenOrders(ctx context.Context, symbol string) ([]*core.ExchangeOpenOrder, error) {
	breaker, err := r.guard(ctx, EndpointOpenOrders)
	if err != nil {
		return nil, err
	}
	orders, err := r.inner.GetOpenOrders(ctx, symbol)
	breaker.RecordResult(err)
	if err != nil {
		r.noteError(EndpointOpenOrders, err)
		telemetry.GetGlobalMetrics().IncAPIFailure(EndpointOpenOrders, errorCode(err))
		return nil, err
	}
	return orders, nil
}

func (r *Router) GetPositions(ctx context.Context) (map[string]decimal.Decimal, error) {
	breaker, err := r.guard(ctx, EndpointPositions)
	if err != nil {
		return nil, err
	}
	positions, err := r.inner.GetPositions(ctx)
	breaker.RecordResult(err)
	if err != nil {
		r.noteError(EndpointPositions, err)
		telemetry.GetGlobalMetrics().IncAPIFailure(EndpointPositions, errorCode(err))
		return nil, err
	}
	return positions, nil
}

// NextFill is local and unguarded: pulling the fill queue involves no
// remote call.
func (r *Router) NextFill() (*core.FillEvent, bool) {
	return r.inner.NextFill()
}

func (r *Router) GetSymbolFilters(ctx context.Context, symbol string) (*core.SymbolFilters, error) {
	breaker, err := r.guard(ctx, EndpointFilters)
	if err != nil {
		return nil, err
	}
	filters, err := r.inner.GetSymbolFilters(ctx, symbol)
	breaker.RecordResult(err)
	if err != nil {
		r.noteError(EndpointFilters, err)
		telemetry.GetGlobalMetrics().IncAPIFailure(EndpointFilters, errorCode(err))
		return nil, err
	}
	return filters, nil
}

func (r *Router) GetCurrentTimeMs() int64 {
	return r.inner.GetCurrentTimeMs()
}
