package core

import (
	"github.com/shopspring/decimal"
)

// OrderState is a lifecycle state of an order
type OrderState string

const (
	OrderPending         OrderState = "PENDING"
	OrderOpen            OrderState = "OPEN"
	OrderPartiallyFilled OrderState = "PARTIALLY_FILLED"
	OrderFilled          OrderState = "FILLED"
	OrderCanceled        OrderState = "CANCELED"
	OrderRejected        OrderState = "REJECTED"
)

// IsTerminal reports whether the state admits no further transitions
func (s OrderState) IsTerminal() bool {
	switch s {
	case OrderFilled, OrderCanceled, OrderRejected:
		return true
	}
	return false
}

// IsOpen reports whether the order belongs in the open-order index
func (s OrderState) IsOpen() bool {
	return s == OrderOpen || s == OrderPartiallyFilled
}

// OrderEventType labels an entry in an order's event history
type OrderEventType string

const (
	EventCreated     OrderEventType = "CREATED"
	EventOrderAck    OrderEventType = "ORDER_ACK"
	EventOrderReject OrderEventType = "ORDER_REJECT"
	EventPartialFill OrderEventType = "PARTIAL_FILL"
	EventFullFill    OrderEventType = "FULL_FILL"
	EventCancelAck   OrderEventType = "CANCEL_ACK"
)

// transitions is the lifecycle table: state + event -> next state.
// Terminal states have no entries.
var transitions = map[OrderState]map[OrderEventType]OrderState{
	OrderPending: {
		EventOrderAck:    OrderOpen,
		EventOrderReject: OrderRejected,
	},
	OrderOpen: {
		EventPartialFill: OrderPartiallyFilled,
		EventFullFill:    OrderFilled,
		EventCancelAck:   OrderCanceled,
	},
	OrderPartiallyFilled: {
		EventPartialFill: OrderPartiallyFilled,
		EventFullFill:    OrderFilled,
		EventCancelAck:   OrderCanceled,
	},
}

// NextState resolves the transition table. ok is false for any
// state/event pair the lifecycle does not admit.
func NextState(from OrderState, event OrderEventType) (OrderState, bool) {
	row, ok := transitions[from]
	if !ok {
		return from, false
	}
	next, ok := row[event]
	return next, ok
}

// EventForState maps a target state to the event that produces it from an
// open order. Used by bulk operations that are expressed in target states.
func EventForState(target OrderState) (OrderEventType, bool) {
	switch target {
	case OrderOpen:
		return EventOrderAck, true
	case OrderRejected:
		return EventOrderReject, true
	case OrderFilled:
		return EventFullFill, true
	case OrderPartiallyFilled:
		return EventPartialFill, true
	case OrderCanceled:
		return EventCancelAck, true
	}
	return "", false
}

// OrderEvent is one append-only history entry
type OrderEvent struct {
	Type        OrderEventType  `json:"type"`
	TimestampMs int64           `json:"timestamp_ms"`
	Qty         decimal.Decimal `json:"qty,omitempty"`
	Price       decimal.Decimal `json:"price,omitempty"`
	Reason      string          `json:"reason,omitempty"`
	Metadata    map[string]string `json:"metadata,omitempty"`
}

// Order is the store-owned order record
type Order struct {
	ClientOrderID   string          `json:"client_order_id"`
	ExchangeOrderID string          `json:"exchange_order_id,omitempty"`
	Symbol          string          `json:"symbol"`
	Side            Side            `json:"side"`
	Qty             decimal.Decimal `json:"qty"`
	Price           decimal.Decimal `json:"price"`
	State           OrderState      `json:"state"`
	FilledQty       decimal.Decimal `json:"filled_qty"`
	AvgFillPrice    decimal.Decimal `json:"avg_fill_price"`
	CreatedAtMs     int64           `json:"created_at_ms"`
	UpdatedAtMs     int64           `json:"updated_at_ms"`
	Message         string          `json:"message,omitempty"`
	Events          []OrderEvent    `json:"events"`
}

// Clone returns a deep copy so callers cannot mutate store state
func (o *Order) Clone() *Order {
	cp := *o
	cp.Events = make([]OrderEvent, len(o.Events))
	copy(cp.Events, o.Events)
	return &cp
}
