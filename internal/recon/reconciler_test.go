package recon

import (
	"context"
	"testing"
	"time"

	"mmexec/internal/core"
	"mmexec/internal/exchange"
	"mmexec/internal/store"
	"mmexec/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func testSchedule() core.FeeSchedule {
	return core.FeeSchedule{
		MakerBps:       dec("1"),
		TakerBps:       dec("5"),
		MakerRebateBps: dec("0.5"),
	}
}

func TestReconcilerDetectsDivergence(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	logger := logging.GetGlobalLogger()

	// Local truth: one open order the exchange never saw
	orderStore := store.NewMemoryStore(clock)
	placed := orderStore.PlaceOrder("BTCUSDT", core.SideBuy, dec("0.01"), dec("50000"), "k1", clock.NowMs())
	require.True(t, placed.Success)
	orderStore.UpdateOrderState(placed.Order.ClientOrderID, core.OrderOpen, "ack1", clock.NowMs(), "EX-1", "")

	// Remote truth: a different open order and a larger position
	fake := exchange.NewFake(exchange.DefaultFakeConfig, clock, logger)
	fake.InjectOpenOrder(&core.ExchangeOpenOrder{
		ClientOrderID:   "remote_only_1",
		ExchangeOrderID: "EX-9",
		Symbol:          "BTCUSDT",
		Side:            core.SideBuy,
		Qty:             dec("0.5"),
		Price:           dec("49000"),
	})
	fake.SetPosition("BTCUSDT", dec("0.5"))

	schedule := testSchedule()
	r := NewReconciler(fake, orderStore, clock, []string{"BTCUSDT"}, nil, &schedule, nil, logger)

	localFills := []core.FillEvent{
		{Symbol: "BTCUSDT", Side: core.SideBuy, Qty: dec("0.01"), Price: dec("50000"), IsMaker: true},
	}
	report := r.Run(context.Background(), localFills)

	assert.Equal(t, []string{placed.Order.ClientOrderID}, report.OrdersLocalOnly)
	assert.Equal(t, []string{"remote_only_1"}, report.OrdersRemoteOnly)

	delta, ok := report.PositionDeltas["BTCUSDT"]
	require.True(t, ok)
	assert.True(t, delta.Local.Equal(dec("0.01")))
	assert.True(t, delta.Remote.Equal(dec("0.5")))
	assert.True(t, delta.Delta.Equal(dec("0.49")))

	assert.Equal(t, 3, report.DivergenceCount)
	require.NotNil(t, report.Fees)
}

func TestReconcilerConvergedStateIsClean(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	logger := logging.GetGlobalLogger()

	orderStore := store.NewMemoryStore(clock)
	fake := exchange.NewFake(exchange.DefaultFakeConfig, clock, logger)
	fake.SetPosition("BTCUSDT", dec("0.01"))

	schedule := testSchedule()
	r := NewReconciler(fake, orderStore, clock, []string{"BTCUSDT"}, nil, &schedule, nil, logger)

	localFills := []core.FillEvent{
		{Symbol: "BTCUSDT", Side: core.SideBuy, Qty: dec("0.01"), Price: dec("50000"), IsMaker: true},
	}
	report := r.Run(context.Background(), localFills)

	assert.Empty(t, report.OrdersLocalOnly)
	assert.Empty(t, report.OrdersRemoteOnly)
	assert.Empty(t, report.PositionDeltas)
	assert.Equal(t, 0, report.DivergenceCount)
}

func TestReconcilerNetsBuysAndSells(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	logger := logging.GetGlobalLogger()

	orderStore := store.NewMemoryStore(clock)
	fake := exchange.NewFake(exchange.DefaultFakeConfig, clock, logger)

	r := NewReconciler(fake, orderStore, clock, []string{"ETHUSDT"}, nil, nil, nil, logger)

	// +0.3 - 0.1 nets to +0.2 against a flat remote book
	localFills := []core.FillEvent{
		{Symbol: "ETHUSDT", Side: core.SideBuy, Qty: dec("0.3"), Price: dec("3000"), IsMaker: true},
		{Symbol: "ETHUSDT", Side: core.SideSell, Qty: dec("0.1"), Price: dec("3010"), IsMaker: true},
	}
	report := r.Run(context.Background(), localFills)

	delta, ok := report.PositionDeltas["ETHUSDT"]
	require.True(t, ok)
	assert.True(t, delta.Local.Equal(dec("0.2")))
	assert.True(t, delta.Delta.Equal(dec("-0.2")))
	assert.Equal(t, 1, report.DivergenceCount)

	// No schedule, no profile: fees are omitted
	assert.Nil(t, report.Fees)
}
