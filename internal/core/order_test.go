package core

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
)

func TestNextState(t *testing.T) {
	tests := []struct {
		name    string
		from    OrderState
		event   OrderEventType
		want    OrderState
		allowed bool
	}{
		{"pending ack opens", OrderPending, EventOrderAck, OrderOpen, true},
		{"pending reject rejects", OrderPending, EventOrderReject, OrderRejected, true},
		{"open partial fill", OrderOpen, EventPartialFill, OrderPartiallyFilled, true},
		{"open full fill", OrderOpen, EventFullFill, OrderFilled, true},
		{"open cancel", OrderOpen, EventCancelAck, OrderCanceled, true},
		{"partial stays partial", OrderPartiallyFilled, EventPartialFill, OrderPartiallyFilled, true},
		{"partial completes", OrderPartiallyFilled, EventFullFill, OrderFilled, true},
		{"partial cancels", OrderPartiallyFilled, EventCancelAck, OrderCanceled, true},
		{"pending cannot fill", OrderPending, EventFullFill, OrderPending, false},
		{"pending cannot cancel", OrderPending, EventCancelAck, OrderPending, false},
		{"open cannot ack again", OrderOpen, EventOrderAck, OrderOpen, false},
		{"filled is terminal", OrderFilled, EventCancelAck, OrderFilled, false},
		{"canceled is terminal", OrderCanceled, EventOrderAck, OrderCanceled, false},
		{"rejected is terminal", OrderRejected, EventOrderAck, OrderRejected, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			next, ok := NextState(tt.from, tt.event)
			assert.Equal(t, tt.allowed, ok)
			if tt.allowed {
				assert.Equal(t, tt.want, next)
			}
		})
	}
}

func TestTerminalStatesAdmitNoEvents(t *testing.T) {
	events := []OrderEventType{
		EventOrderAck, EventOrderReject, EventPartialFill, EventFullFill, EventCancelAck,
	}
	for _, state := range []OrderState{OrderFilled, OrderCanceled, OrderRejected} {
		assert.True(t, state.IsTerminal())
		for _, event := range events {
			_, ok := NextState(state, event)
			assert.False(t, ok, "terminal state %s admitted %s", state, event)
		}
	}
}

func TestOrderStateClassification(t *testing.T) {
	assert.True(t, OrderOpen.IsOpen())
	assert.True(t, OrderPartiallyFilled.IsOpen())
	assert.False(t, OrderPending.IsOpen())
	assert.False(t, OrderFilled.IsOpen())
	assert.False(t, OrderPending.IsTerminal())
	assert.False(t, OrderOpen.IsTerminal())
}

func TestEventForState(t *testing.T) {
	event, ok := EventForState(OrderCanceled)
	assert.True(t, ok)
	assert.Equal(t, EventCancelAck, event)

	_, ok = EventForState(OrderPending)
	assert.False(t, ok)
}

func TestOrderCloneIsIndependent(t *testing.T) {
	order := &Order{
		ClientOrderID: "CLI00000001",
		Symbol:        "BTCUSDT",
		State:         OrderOpen,
		Events: []OrderEvent{
			{Type: EventCreated, TimestampMs: 1},
		},
	}
	clone := order.Clone()
	clone.State = OrderCanceled
	clone.Events = append(clone.Events, OrderEvent{Type: EventCancelAck, TimestampMs: 2})

	assert.Equal(t, OrderOpen, order.State)
	assert.Len(t, order.Events, 1)
}

func TestSideSign(t *testing.T) {
	assert.True(t, SideBuy.Sign().Equal(decimal.NewFromInt(1)))
	assert.True(t, SideSell.Sign().Equal(decimal.NewFromInt(-1)))
}

func TestQuoteMid(t *testing.T) {
	q := Quote{
		BestBid: decimal.RequireFromString("49990"),
		BestAsk: decimal.RequireFromString("50010"),
	}
	assert.True(t, q.Mid().Equal(decimal.NewFromInt(50000)))
}

func TestFillEventSignedQty(t *testing.T) {
	fill := FillEvent{Side: SideSell, Qty: decimal.RequireFromString("0.5"), Price: decimal.NewFromInt(100)}
	assert.True(t, fill.SignedQty().Equal(decimal.RequireFromString("-0.5")))
	assert.True(t, fill.Notional().Equal(decimal.NewFromInt(50)))
}

func TestFeeProfileLookup(t *testing.T) {
	profile := FeeProfile{
		"ETHUSDT": {MakerBps: decimal.NewFromInt(2)},
		"*":       {MakerBps: decimal.NewFromInt(1)},
	}

	s, ok := profile.Lookup("ETHUSDT")
	assert.True(t, ok)
	assert.True(t, s.MakerBps.Equal(decimal.NewFromInt(2)))

	s, ok = profile.Lookup("BTCUSDT")
	assert.True(t, ok)
	assert.True(t, s.MakerBps.Equal(decimal.NewFromInt(1)))

	_, ok = FeeProfile{}.Lookup("BTCUSDT")
	assert.False(t, ok)
}
