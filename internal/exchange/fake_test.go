package exchange

import (
	"context"
	"testing"
	"time"

	"mmexec/internal/core"
	"mmexec/pkg/logging"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dec(s string) decimal.Decimal {
	return decimal.RequireFromString(s)
}

func placeReq(cid string) *core.PlaceOrderRequest {
	return &core.PlaceOrderRequest{
		ClientOrderID: cid,
		Symbol:        "BTCUSDT",
		Side:          core.SideBuy,
		Qty:           dec("0.01"),
		Price:         dec("50000"),
		PostOnly:      true,
	}
}

func TestFakeFillsImmediatelyAtFullFillRate(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	fake := NewFake(DefaultFakeConfig, clock, logging.GetGlobalLogger())

	resp, err := fake.PlaceLimitOrder(context.Background(), placeReq("CLI00000001"))
	require.NoError(t, err)
	assert.Equal(t, core.PlaceOrderAccepted, resp.Status)
	assert.Equal(t, "FAKE-000001", resp.ExchangeOrderID)

	fill, ok := fake.NextFill()
	require.True(t, ok)
	assert.Equal(t, "CLI00000001", fill.OrderID)
	assert.True(t, fill.IsMaker)
	assert.True(t, fill.Qty.Equal(dec("0.01")))

	_, ok = fake.NextFill()
	assert.False(t, ok)

	// The filled order is not resting
	open, err := fake.GetOpenOrders(context.Background(), "")
	require.NoError(t, err)
	assert.Empty(t, open)

	positions, err := fake.GetPositions(context.Background())
	require.NoError(t, err)
	assert.True(t, positions["BTCUSDT"].Equal(dec("0.01")))
}

func TestFakeRestsOrdersAtZeroFillRate(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	cfg := FakeConfig{FillRate: 0, RejectRate: 0, Seed: 42}
	fake := NewFake(cfg, clock, logging.GetGlobalLogger())

	_, err := fake.PlaceLimitOrder(context.Background(), placeReq("CLI00000001"))
	require.NoError(t, err)

	_, ok := fake.NextFill()
	assert.False(t, ok)

	open, err := fake.GetOpenOrders(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	require.Len(t, open, 1)
	assert.Equal(t, "CLI00000001", open[0].ClientOrderID)

	// Cancel removes it; a second cancel reports unknown
	resp, err := fake.CancelOrder(context.Background(), "CLI00000001", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, core.PlaceOrderAccepted, resp.Status)

	resp, err = fake.CancelOrder(context.Background(), "CLI00000001", "BTCUSDT")
	require.NoError(t, err)
	assert.Equal(t, core.PlaceOrderRejected, resp.Status)
}

func TestFakeRejectSequenceIsSeedDeterministic(t *testing.T) {
	run := func() []core.PlaceOrderStatus {
		clock := core.NewManualClock(time.Unix(1700000000, 0))
		fake := NewFake(FakeConfig{FillRate: 1, RejectRate: 0.5, Seed: 7}, clock, logging.GetGlobalLogger())
		var out []core.PlaceOrderStatus
		for i := 0; i < 20; i++ {
			resp, err := fake.PlaceLimitOrder(context.Background(), placeReq("CLI00000001"))
			require.NoError(t, err)
			out = append(out, resp.Status)
		}
		return out
	}

	first := run()
	second := run()
	assert.Equal(t, first, second)

	// With a 0.5 reject rate both outcomes show up in 20 draws
	assert.Contains(t, first, core.PlaceOrderAccepted)
	assert.Contains(t, first, core.PlaceOrderRejected)
}

func TestFakeServesConfiguredFilters(t *testing.T) {
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	fake := NewFake(DefaultFakeConfig, clock, logging.GetGlobalLogger())

	filters, err := fake.GetSymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, filters.TickSize.Equal(dec("0.01")))

	custom := core.DefaultFilters("BTCUSDT")
	custom.TickSize = dec("0.5")
	fake.SetFilters("BTCUSDT", custom)

	filters, err = fake.GetSymbolFilters(context.Background(), "BTCUSDT")
	require.NoError(t, err)
	assert.True(t, filters.TickSize.Equal(dec("0.5")))
}
