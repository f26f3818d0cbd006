package core

import (
	"context"

	"github.com/shopspring/decimal"
)

// ILogger is the structured logging contract used across components
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}

// IExchange is the narrow adapter contract the core relies on. Two
// implementations ship with the module: a deterministic fake for tests
// and a dry-run adapter that signs requests but never sends them.
type IExchange interface {
	GetName() string
	CheckHealth(ctx context.Context) error

	PlaceLimitOrder(ctx context.Context, req *PlaceOrderRequest) (*PlaceOrderResponse, error)
	CancelOrder(ctx context.Context, clientOrderID, symbol string) (*PlaceOrderResponse, error)
	GetOpenOrders(ctx context.Context, symbol string) ([]*ExchangeOpenOrder, error)
	GetPositions(ctx context.Context) (map[string]decimal.Decimal, error)

	// NextFill is pull-style fill streaming: it returns the next pending
	// fill or (nil, false) when none is available.
	NextFill() (*FillEvent, bool)

	GetSymbolFilters(ctx context.Context, symbol string) (*SymbolFilters, error)
	GetCurrentTimeMs() int64
}

// IHealthMonitor aggregates readiness probes
type IHealthMonitor interface {
	Register(component string, check func() error)
	GetStatus() map[string]string
	IsHealthy() bool
}
