package store

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"mmexec/internal/core"
	"mmexec/internal/state"
	"mmexec/pkg/logging"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newDurable(t *testing.T, dir string, clock core.Clock) (*DurableStore, state.KV) {
	t.Helper()
	kv := state.NewMemoryKV(clock)
	s, err := NewDurableStore(kv, dir, clock, logging.GetGlobalLogger())
	require.NoError(t, err)
	return s, kv
}

func TestDurableStoreJournalsEveryMutation(t *testing.T) {
	dir := t.TempDir()
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	s, _ := newDurable(t, dir, clock)
	defer s.Close()
	ts := clock.NowMs()

	r := s.PlaceOrder("BTCUSDT", core.SideBuy, dec("0.01"), dec("50000"), "k1", ts)
	require.True(t, r.Success)
	s.UpdateOrderState(r.Order.ClientOrderID, core.OrderOpen, "ack1", ts, "EX-1", "")

	data, err := os.ReadFile(filepath.Join(dir, state.JournalFileName))
	require.NoError(t, err)
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	assert.Len(t, lines, 2)
	assert.Contains(t, lines[0], `"state":"PENDING"`)
	assert.Contains(t, lines[1], `"state":"OPEN"`)
}

func TestDurableStoreDuplicatePlacement(t *testing.T) {
	dir := t.TempDir()
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	s, _ := newDurable(t, dir, clock)
	defer s.Close()

	key := "place:CLI00000001:BTCUSDT:v1"
	r1 := s.PlaceOrder("BTCUSDT", core.SideBuy, dec("0.01"), dec("50000"), key, clock.NowMs())
	require.True(t, r1.Success)

	r2 := s.PlaceOrder("BTCUSDT", core.SideBuy, dec("0.01"), dec("50000"), key, clock.NowMs())
	assert.True(t, r2.WasDuplicate)
	assert.Equal(t, "CLI00000001", r2.Order.ClientOrderID)
	assert.Len(t, s.AllOrders(), 1)

	// The duplicate did not touch the journal
	data, err := os.ReadFile(filepath.Join(dir, state.JournalFileName))
	require.NoError(t, err)
	assert.Equal(t, 1, strings.Count(string(data), "\n"))
}

func TestDurableStoreRestartRecovery(t *testing.T) {
	dir := t.TempDir()
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	ts := clock.NowMs()

	// First process: three placements, two acked open. Five journal lines.
	s1, _ := newDurable(t, dir, clock)
	for i, sym := range []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"} {
		r := s1.PlaceOrder(sym, core.SideBuy, dec("0.01"), dec("100"), "k"+string(rune('1'+i)), ts)
		require.True(t, r.Success)
	}
	s1.UpdateOrderState("CLI00000001", core.OrderOpen, "ack1", ts, "EX-1", "")
	s1.UpdateOrderState("CLI00000002", core.OrderOpen, "ack2", ts, "EX-2", "")
	require.NoError(t, s1.Close())

	// Second process: empty KV, same directory
	s2, _ := newDurable(t, dir, clock)
	defer s2.Close()

	summary, err := s2.RecoverFromSnapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, 5, summary.TotalOrdersRecovered)
	assert.Equal(t, 2, summary.OpenOrdersCount)
	assert.Equal(t, "CLI00000004", summary.NextClientOrderID)

	// Recovered state is live: indexes and the id counter both work
	open := s2.GetOpenOrders()
	require.Len(t, open, 2)
	assert.Equal(t, "CLI00000001", open[0].ClientOrderID)
	assert.Equal(t, core.OrderOpen, open[0].State)

	pending, ok := s2.GetOrder("CLI00000003")
	require.True(t, ok)
	assert.Equal(t, core.OrderPending, pending.State)

	r := s2.PlaceOrder("BTCUSDT", core.SideSell, dec("0.01"), dec("100"), "k4", ts)
	require.True(t, r.Success)
	assert.Equal(t, "CLI00000004", r.Order.ClientOrderID)
}

func TestDurableStoreRecoveryEmptyDir(t *testing.T) {
	dir := t.TempDir()
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	s, _ := newDurable(t, dir, clock)
	defer s.Close()

	// Replaying the store's own (empty) journal is a no-op
	summary, err := s.RecoverFromSnapshot(dir)
	require.NoError(t, err)
	assert.Equal(t, 0, summary.TotalOrdersRecovered)
	assert.Equal(t, 0, summary.OpenOrdersCount)
	assert.Equal(t, "CLI00000001", summary.NextClientOrderID)
}

func TestDurableStoreCancelAllOpen(t *testing.T) {
	dir := t.TempDir()
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	s, _ := newDurable(t, dir, clock)
	defer s.Close()
	ts := clock.NowMs()

	for i := 0; i < 2; i++ {
		r := s.PlaceOrder("BTCUSDT", core.SideBuy, dec("0.01"), dec("50000"), "k"+string(rune('1'+i)), ts)
		s.UpdateOrderState(r.Order.ClientOrderID, core.OrderOpen, "ack"+string(rune('1'+i)), ts, "", "")
	}

	r := s.CancelAllOpen("cancel_all:freeze_20231114T221320.000Z", ts)
	require.True(t, r.Success)
	assert.Equal(t, 2, r.Count)
	assert.Empty(t, s.GetOpenOrders())

	// Each cancel was journaled: 2 places + 2 acks + 2 cancels
	data, err := os.ReadFile(filepath.Join(dir, state.JournalFileName))
	require.NoError(t, err)
	assert.Equal(t, 6, strings.Count(string(data), "\n"))
}

func TestDurableStoreCountByState(t *testing.T) {
	dir := t.TempDir()
	clock := core.NewManualClock(time.Unix(1700000000, 0))
	s, _ := newDurable(t, dir, clock)
	defer s.Close()
	ts := clock.NowMs()

	r1 := s.PlaceOrder("BTCUSDT", core.SideBuy, dec("0.01"), dec("50000"), "k1", ts)
	s.PlaceOrder("ETHUSDT", core.SideBuy, dec("0.1"), dec("3000"), "k2", ts)
	s.UpdateOrderState(r1.Order.ClientOrderID, core.OrderOpen, "ack1", ts, "", "")

	counts := s.CountByState()
	assert.Equal(t, 1, counts[core.OrderOpen])
	assert.Equal(t, 1, counts[core.OrderPending])
}
