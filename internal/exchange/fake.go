package exchange

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"mmexec/internal/core"

	"github.com/shopspring/decimal"
)

// FakeConfig tunes the deterministic fake
type FakeConfig struct {
	// FillRate is the probability an accepted order fills immediately
	FillRate float64
	// RejectRate is the probability a placement is rejected
	RejectRate float64
	// LatencyMs is the simulated round-trip per call
	LatencyMs int
	// Seed drives the internal RNG; fixed seed means fixed behavior
	Seed int64
}

// DefaultFakeConfig fills everything, rejects nothing, zero latency
var DefaultFakeConfig = FakeConfig{FillRate: 1.0, RejectRate: 0.0, LatencyMs: 0, Seed: 42}

// Fake is the deterministic in-process exchange. With a fixed seed and
// a frozen clock, identical call sequences produce identical fills.
type Fake struct {
	mu      sync.Mutex
	cfg     FakeConfig
	rng     *rand.Rand
	clock   core.Clock
	logger  core.ILogger
	nextID  int64
	open    map[string]*core.ExchangeOpenOrder
	fills   []*core.FillEvent
	posns   map[string]decimal.Decimal
	filters map[string]core.SymbolFilters
}

// NewFake creates a fake exchange
func NewFake(cfg FakeConfig, clock core.Clock, logger core.ILogger) *Fake {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	return &Fake{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(cfg.Seed)),
		clock:   clock,
		logger:  logger.WithField("component", "fake_exchange"),
		nextID:  1,
		open:    make(map[string]*core.ExchangeOpenOrder),
		posns:   make(map[string]decimal.Decimal),
		filters: make(map[string]core.SymbolFilters),
	}
}

// SetFilters overrides the filters served for a symbol
func (f *Fake) SetFilters(symbol string, filters core.SymbolFilters) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.filters[symbol] = filters
}

// SetPosition pins a remote position, for reconciliation tests
func (f *Fake) SetPosition(symbol string, qty decimal.Decimal) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.posns[symbol] = qty
}

// InjectOpenOrder adds a remote-side open order, for reconciliation tests
func (f *Fake) InjectOpenOrder(order *core.ExchangeOpenOrder) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.open[order.ClientOrderID] = order
}

func (f *Fake) GetName() string { return "fake" }

func (f *Fake) CheckHealth(ctx context.Context) error { return nil }

func (f *Fake) simulateLatency() {
	if f.cfg.LatencyMs > 0 {
		time.Sleep(time.Duration(f.cfg.LatencyMs) * time.Millisecond)
	}
}

func (f *Fake) PlaceLimitOrder(ctx context.Context, req *core.PlaceOrderRequest) (*core.PlaceOrderResponse, error) {
	f.simulateLatency()

	f.mu.Lock()
	defer f.mu.Unlock()

	if f.cfg.RejectRate > 0 && f.rng.Float64() < f.cfg.RejectRate {
		return &core.PlaceOrderResponse{
			Status:  core.PlaceOrderRejected,
			Message: "simulated reject",
		}, nil
	}

	exchangeID := fmt.Sprintf("FAKE-%06d", f.nextID)
	f.nextID++

	filled := f.cfg.FillRate >= 1.0 || (f.cfg.FillRate > 0 && f.rng.Float64() < f.cfg.FillRate)
	if filled {
		f.fills = append(f.fills, &core.FillEvent{
			Symbol:      req.Symbol,
			Side:        req.Side,
			Qty:         req.Qty,
			Price:       req.Price,
			FillID:      fmt.Sprintf("FILL-%06d", f.nextID),
			OrderID:     req.ClientOrderID,
			IsMaker:     true,
			TimestampMs: f.clock.NowMs(),
		})
		f.posns[req.Symbol] = f.posns[req.Symbol].Add(req.Qty.Mul(req.Side.Sign()))
	} else {
		f.open[req.ClientOrderID] = &core.ExchangeOpenOrder{
			ClientOrderID:   req.ClientOrderID,
			ExchangeOrderID: exchangeID,
			Symbol:          req.Symbol,
			Side:            req.Side,
			Qty:             req.Qty,
			Price:           req.Price,
		}
	}

	return &core.PlaceOrderResponse{
		Status:          core.PlaceOrderAccepted,
		ExchangeOrderID: exchangeID,
	}, nil
}

func (f *Fake) CancelOrder(ctx context.Context, clientOrderID, symbol string) (*core.PlaceOrderResponse, error) {
	f.simulateLatency()

	f.mu.Lock()
	defer f.mu.Unlock()

	order, ok := f.open[clientOrderID]
	if !ok {
		return &core.PlaceOrderResponse{
			Status:  core.PlaceOrderRejected,
			Message: "unknown order",
		}, nil
	}
	delete(f.open, clientOrderID)
	return &core.PlaceOrderResponse{
		Status:          core.PlaceOrderAccepted,
		ExchangeOrderID: order.ExchangeOrderID,
	}, nil
}

func (f *Fake) GetOpenOrders(ctx context.Context, symbol string) ([]*core.ExchangeOpenOrder, error) {
	f.simulateLatency()

	f.mu.Lock()
	defer f.mu.Unlock()

	var out []*core.ExchangeOpenOrder
	for _, o := range f.open {
		if symbol == "" || o.Symbol == symbol {
			cp := *o
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (f *Fake) GetPositions(ctx context.Context) (map[string]decimal.Decimal, error) {
	f.simulateLatency()

	f.mu.Lock()
	defer f.mu.Unlock()

	out := make(map[string]decimal.Decimal, len(f.posns))
	for sym, qty := range f.posns {
		out[sym] = qty
	}
	return out, nil
}

func (f *Fake) NextFill() (*core.FillEvent, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if len(f.fills) == 0 {
		return nil, false
	}
	fill := f.fills[0]
	f.fills = f.fills[1:]
	return fill, true
}

func (f *Fake) GetSymbolFilters(ctx context.Context, symbol string) (*core.SymbolFilters, error) {
	f.simulateLatency()

	f.mu.Lock()
	defer f.mu.Unlock()

	if filters, ok := f.filters[symbol]; ok {
		return &filters, nil
	}
	filters := core.DefaultFilters(symbol)
	return &filters, nil
}

func (f *Fake) GetCurrentTimeMs() int64 {
	return f.clock.NowMs()
}
