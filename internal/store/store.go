// Package store implements the order lifecycle store: an in-memory
// implementation for tests and shadow runs, and a durable implementation
// over the KV layer with an append-only journal. Every mutation is
// idempotent under a caller-supplied key.
package store

import (
	"fmt"
	"time"

	"mmexec/internal/core"

	"github.com/shopspring/decimal"
)

// IdemCacheTTL is how long cached mutation results are retained
const IdemCacheTTL = 24 * time.Hour

// ClientOrderIDFormat mints dense ids: CLI00000001, CLI00000002, ...
const ClientOrderIDFormat = "CLI%08d"

// MutationResult is the outcome of a mutating store operation
type MutationResult struct {
	Success      bool        `json:"success"`
	Order        *core.Order `json:"order,omitempty"`
	WasDuplicate bool        `json:"was_duplicate"`
	Message      string      `json:"message,omitempty"`
	Count        int         `json:"count,omitempty"`
}

// OrderStore is the contract shared by the memory and durable stores
type OrderStore interface {
	// PlaceOrder creates a PENDING order and mints its client order id
	PlaceOrder(symbol string, side core.Side, qty, price decimal.Decimal, idemKey string, tsMs int64) MutationResult

	// UpdateOrderState applies the lifecycle event that produces the
	// target state. exchangeOrderID and message may be empty.
	UpdateOrderState(clientOrderID string, target core.OrderState, idemKey string, tsMs int64, exchangeOrderID, message string) MutationResult

	// UpdateFill applies one fill: filled qty accumulates and the
	// average fill price is recomputed as a volume-weighted mean.
	UpdateFill(clientOrderID string, fillQty, fillPrice decimal.Decimal, idemKey string, tsMs int64) MutationResult

	// CancelAllOpen moves every OPEN / PARTIALLY_FILLED order to
	// CANCELED and reports the count.
	CancelAllOpen(idemKey string, tsMs int64) MutationResult

	GetOrder(clientOrderID string) (*core.Order, bool)
	GetOpenOrders() []*core.Order
	GetOrdersBySymbol(symbol string) []*core.Order
	CountByState() map[core.OrderState]int

	// PeekNextID returns the id the next PlaceOrder will mint, without
	// consuming it. Callers use it to build placement idempotency keys.
	PeekNextID() string

	// AllOrders returns every order keyed by client id, for snapshots
	AllOrders() map[string]*core.Order
}

// cachedResult is the serialized form kept in the idempotency cache
type cachedResult struct {
	Success       bool   `json:"success"`
	ClientOrderID string `json:"client_order_id,omitempty"`
	Message       string `json:"message,omitempty"`
	Count         int    `json:"count,omitempty"`
}

func toCached(r MutationResult) cachedResult {
	c := cachedResult{Success: r.Success, Message: r.Message, Count: r.Count}
	if r.Order != nil {
		c.ClientOrderID = r.Order.ClientOrderID
	}
	return c
}

// applyFill folds one fill into an order, updating filled qty, the
// volume-weighted average price, and the lifecycle state.
func applyFill(o *core.Order, fillQty, fillPrice decimal.Decimal, tsMs int64) error {
	newFilled := o.FilledQty.Add(fillQty)
	if newFilled.GreaterThan(o.Qty) {
		return fmt.Errorf("fill qty %s exceeds order qty %s", newFilled, o.Qty)
	}

	event := core.EventPartialFill
	if newFilled.Equal(o.Qty) {
		event = core.EventFullFill
	}
	next, ok := core.NextState(o.State, event)
	if !ok {
		return fmt.Errorf("%s + %s not admitted from %s", o.ClientOrderID, event, o.State)
	}

	// VWAP over all fills
	prevNotional := o.AvgFillPrice.Mul(o.FilledQty)
	o.AvgFillPrice = prevNotional.Add(fillPrice.Mul(fillQty)).Div(newFilled)
	o.FilledQty = newFilled
	o.State = next
	o.UpdatedAtMs = tsMs
	o.Events = append(o.Events, core.OrderEvent{
		Type:        event,
		TimestampMs: tsMs,
		Qty:         fillQty,
		Price:       fillPrice,
	})
	return nil
}
