// Package core defines the shared types and interfaces for the execution core
package core

import (
	"github.com/shopspring/decimal"
)

// Side is an order side
type Side string

const (
	SideBuy  Side = "BUY"
	SideSell Side = "SELL"
)

// Sign returns +1 for BUY and -1 for SELL
func (s Side) Sign() decimal.Decimal {
	if s == SideSell {
		return decimal.NewFromInt(-1)
	}
	return decimal.NewFromInt(1)
}

// Quote is a top-of-book snapshot for a symbol
type Quote struct {
	Symbol      string          `json:"symbol"`
	BestBid     decimal.Decimal `json:"best_bid"`
	BestAsk     decimal.Decimal `json:"best_ask"`
	TimestampMs int64           `json:"timestamp_ms"`
}

// Mid returns the quote midpoint
func (q Quote) Mid() decimal.Decimal {
	return q.BestBid.Add(q.BestAsk).Div(decimal.NewFromInt(2))
}

// FillEvent is a single execution reported by the exchange
type FillEvent struct {
	Symbol      string          `json:"symbol"`
	Side        Side            `json:"side"`
	Qty         decimal.Decimal `json:"qty"`
	Price       decimal.Decimal `json:"price"`
	FillID      string          `json:"fill_id"`
	OrderID     string          `json:"order_id,omitempty"`
	IsMaker     bool            `json:"is_maker"`
	TimestampMs int64           `json:"timestamp_ms"`
}

// SignedQty returns the fill quantity signed by side
func (f FillEvent) SignedQty() decimal.Decimal {
	return f.Qty.Mul(f.Side.Sign())
}

// Notional returns qty * price
func (f FillEvent) Notional() decimal.Decimal {
	return f.Qty.Mul(f.Price)
}

// FilterSource records where symbol filters came from
type FilterSource string

const (
	FilterSourceCached  FilterSource = "cached"
	FilterSourceFetched FilterSource = "fetched"
	FilterSourceStale   FilterSource = "stale"
	FilterSourceDefault FilterSource = "default"
)

// SymbolFilters holds exchange quantization rules for a symbol
type SymbolFilters struct {
	Symbol         string          `json:"symbol"`
	TickSize       decimal.Decimal `json:"tick_size"`
	StepSize       decimal.Decimal `json:"step_size"`
	MinQty         decimal.Decimal `json:"min_qty"`
	PricePrecision int             `json:"price_precision"`
	QtyPrecision   int             `json:"qty_precision"`
}

// DefaultFilters is the fallback used when the exchange cannot be asked
func DefaultFilters(symbol string) SymbolFilters {
	return SymbolFilters{
		Symbol:         symbol,
		TickSize:       decimal.RequireFromString("0.01"),
		StepSize:       decimal.RequireFromString("0.001"),
		MinQty:         decimal.RequireFromString("0.001"),
		PricePrecision: 2,
		QtyPrecision:   3,
	}
}

// FeeSchedule holds fee rates in basis points
type FeeSchedule struct {
	MakerBps       decimal.Decimal `json:"maker_bps"`
	TakerBps       decimal.Decimal `json:"taker_bps"`
	MakerRebateBps decimal.Decimal `json:"maker_rebate_bps"`
}

// FeeProfile maps symbol -> schedule; the "*" key is the wildcard fallback
type FeeProfile map[string]FeeSchedule

// Lookup resolves the schedule for a symbol, consulting the wildcard entry
// when the symbol has no dedicated schedule. ok is false when neither matches.
func (p FeeProfile) Lookup(symbol string) (FeeSchedule, bool) {
	if s, ok := p[symbol]; ok {
		return s, true
	}
	if s, ok := p["*"]; ok {
		return s, true
	}
	return FeeSchedule{}, false
}

// Position is the per-symbol net position derived from fills
type Position struct {
	Symbol        string          `json:"symbol"`
	Qty           decimal.Decimal `json:"qty"`
	AvgEntryPrice decimal.Decimal `json:"avg_entry_price"`
	RealizedPnL   decimal.Decimal `json:"realized_pnl"`
	UnrealizedPnL decimal.Decimal `json:"unrealized_pnl"`
	GrossBought   decimal.Decimal `json:"gross_bought"`
	GrossSold     decimal.Decimal `json:"gross_sold"`
}

// PlaceOrderRequest is the adapter-level order submission
type PlaceOrderRequest struct {
	ClientOrderID string          `json:"client_order_id"`
	Symbol        string          `json:"symbol"`
	Side          Side            `json:"side"`
	Qty           decimal.Decimal `json:"qty"`
	Price         decimal.Decimal `json:"price"`
	PostOnly      bool            `json:"post_only"`
}

// PlaceOrderStatus is the adapter-level ack status
type PlaceOrderStatus string

const (
	PlaceOrderAccepted PlaceOrderStatus = "ACCEPTED"
	PlaceOrderRejected PlaceOrderStatus = "REJECTED"
)

// PlaceOrderResponse is the adapter's answer to a placement
type PlaceOrderResponse struct {
	Status          PlaceOrderStatus `json:"status"`
	ExchangeOrderID string           `json:"exchange_order_id,omitempty"`
	Message         string           `json:"message,omitempty"`
}

// ExchangeOpenOrder is the adapter's view of an open order
type ExchangeOpenOrder struct {
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Qty             decimal.Decimal `json:"qty"`
	Price           decimal.Decimal `json:"price"`
}
