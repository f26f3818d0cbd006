// Package risk provides pre-trade limit checks, position tracking from
// fills, and the edge-based auto-freeze.
package risk

import (
	"fmt"
	"sync"

	"mmexec/internal/core"
	apperrors "mmexec/pkg/errors"
	"mmexec/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// MarkPriceResolver supplies the mark price used for notional math
type MarkPriceResolver func(symbol string) decimal.Decimal

// Limits are the hard ceilings enforced before every placement
type Limits struct {
	MaxInventoryUSDPerSymbol decimal.Decimal
	MaxTotalNotionalUSD      decimal.Decimal
	EdgeFreezeThresholdBps   decimal.Decimal
}

// CheckResult is the outcome of a pre-trade check
type CheckResult struct {
	Allowed bool
	Reason  string
}

// Monitor tracks per-symbol positions and enforces the limits. Freeze
// is sticky: once set, only Reset clears it.
type Monitor struct {
	mu     sync.RWMutex
	limits Limits
	marks  MarkPriceResolver
	logger core.ILogger

	positions map[string]*core.Position
	frozen    bool

	// Counters survive Reset: they describe the run, not the state.
	blocksTotal  int64
	freezesTotal int64

	lastFreezeReason string
	lastFreezeSymbol string
}

// NewMonitor creates a risk monitor with the given limits
func NewMonitor(limits Limits, marks MarkPriceResolver, logger core.ILogger) *Monitor {
	return &Monitor{
		limits:    limits,
		marks:     marks,
		logger:    logger.WithField("component", "risk_monitor"),
		positions: make(map[string]*core.Position),
	}
}

// SetMarkResolver swaps the mark-price source (used by shadow runs that
// derive marks from synthetic quotes).
func (m *Monitor) SetMarkResolver(marks MarkPriceResolver) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marks = marks
}

func (m *Monitor) markPrice(symbol string, fallback decimal.Decimal) decimal.Decimal {
	if m.marks != nil {
		if p := m.marks(symbol); p.Sign() > 0 {
			return p
		}
	}
	return fallback
}

// CheckBeforeOrder runs the pre-trade gate: frozen flag, per-symbol
// inventory ceiling on the hypothetical resulting position, then the
// total-notional ceiling across all symbols at mark prices.
func (m *Monitor) CheckBeforeOrder(symbol string, side core.Side, qty, price decimal.Decimal) CheckResult {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.frozen {
		m.blocksTotal++
		telemetry.GetGlobalMetrics().IncOrdersBlocked(symbol, "frozen")
		return CheckResult{Allowed: false, Reason: fmt.Sprintf("frozen: %s", m.lastFreezeReason)}
	}

	mark := m.markPrice(symbol, price)
	current := decimal.Zero
	if pos, ok := m.positions[symbol]; ok {
		current = pos.Qty
	}
	hypothetical := current.Add(qty.Mul(side.Sign()))
	symbolNotional := hypothetical.Abs().Mul(mark)

	if m.limits.MaxInventoryUSDPerSymbol.Sign() > 0 &&
		symbolNotional.GreaterThan(m.limits.MaxInventoryUSDPerSymbol) {
		m.blocksTotal++
		telemetry.GetGlobalMetrics().IncOrdersBlocked(symbol, "max_inventory")
		return CheckResult{
			Allowed: false,
			Reason: fmt.Sprintf("max_inventory: %s notional %s exceeds %s",
				symbol, symbolNotional, m.limits.MaxInventoryUSDPerSymbol),
		}
	}

	total := symbolNotional
	for sym, pos := range m.positions {
		if sym == symbol {
			continue
		}
		total = total.Add(pos.Qty.Abs().Mul(m.markPrice(sym, pos.AvgEntryPrice)))
	}

	if m.limits.MaxTotalNotionalUSD.Sign() > 0 &&
		total.GreaterThan(m.limits.MaxTotalNotionalUSD) {
		m.blocksTotal++
		telemetry.GetGlobalMetrics().IncOrdersBlocked(symbol, "max_total_notional")
		return CheckResult{
			Allowed: false,
			Reason: fmt.Sprintf("max_total_notional: total %s exceeds %s",
				total, m.limits.MaxTotalNotionalUSD),
		}
	}

	if m.limits.MaxTotalNotionalUSD.Sign() > 0 {
		ratio, _ := total.Div(m.limits.MaxTotalNotionalUSD).Float64()
		telemetry.GetGlobalMetrics().SetRiskRatio(ratio)
	}
	return CheckResult{Allowed: true}
}

// OnEdgeUpdate records the symbol's net edge. Dropping below the
// threshold freezes exactly once; repeats while frozen are no-ops.
// Returns true on the not-frozen -> frozen transition.
func (m *Monitor) OnEdgeUpdate(symbol string, netBps decimal.Decimal) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	bps, _ := netBps.Float64()
	telemetry.GetGlobalMetrics().SetEdgeBps(symbol, bps)

	if netBps.GreaterThanOrEqual(m.limits.EdgeFreezeThresholdBps) {
		return false
	}
	if m.frozen {
		return false
	}

	m.frozen = true
	m.freezesTotal++
	m.lastFreezeSymbol = symbol
	m.lastFreezeReason = fmt.Sprintf("edge %s bps below threshold %s bps on %s",
		netBps, m.limits.EdgeFreezeThresholdBps, symbol)
	telemetry.GetGlobalMetrics().IncFreezeEvents(symbol)
	m.logger.Warn("Risk freeze triggered",
		"symbol", symbol,
		"net_bps", netBps,
		"threshold_bps", m.limits.EdgeFreezeThresholdBps)
	return true
}

// ApplyFill folds an execution into the per-symbol position, updating
// the volume-weighted entry, realized PnL on reductions, and gross
// bought/sold notionals.
func (m *Monitor) ApplyFill(fill core.FillEvent) {
	m.mu.Lock()
	defer m.mu.Unlock()

	pos, ok := m.positions[fill.Symbol]
	if !ok {
		pos = &core.Position{Symbol: fill.Symbol}
		m.positions[fill.Symbol] = pos
	}

	signed := fill.SignedQty()
	notional := fill.Notional()
	if fill.Side == core.SideBuy {
		pos.GrossBought = pos.GrossBought.Add(notional)
	} else {
		pos.GrossSold = pos.GrossSold.Add(notional)
	}

	oldQty := pos.Qty
	newQty := oldQty.Add(signed)

	switch {
	case oldQty.Sign() == 0 || oldQty.Sign() == signed.Sign():
		// Opening or adding: VWAP the entry
		oldNotional := pos.AvgEntryPrice.Mul(oldQty.Abs())
		totalQty := oldQty.Abs().Add(fill.Qty)
		if totalQty.Sign() > 0 {
			pos.AvgEntryPrice = oldNotional.Add(notional).Div(totalQty)
		}
	case newQty.Sign() == 0 || newQty.Sign() == oldQty.Sign():
		// Reducing: realize PnL on the closed quantity
		closed := fill.Qty
		if closed.GreaterThan(oldQty.Abs()) {
			closed = oldQty.Abs()
		}
		pnl := fill.Price.Sub(pos.AvgEntryPrice).Mul(closed)
		if oldQty.Sign() < 0 {
			pnl = pnl.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		if newQty.Sign() == 0 {
			pos.AvgEntryPrice = decimal.Zero
		}
	default:
		// Flip: realize against the whole old position, re-open at fill price
		pnl := fill.Price.Sub(pos.AvgEntryPrice).Mul(oldQty.Abs())
		if oldQty.Sign() < 0 {
			pnl = pnl.Neg()
		}
		pos.RealizedPnL = pos.RealizedPnL.Add(pnl)
		pos.AvgEntryPrice = fill.Price
	}
	pos.Qty = newQty
}

// MarkToMarket recomputes unrealized PnL for a symbol at mark
func (m *Monitor) MarkToMarket(symbol string, mark decimal.Decimal) {
	m.mu.Lock()
	defer m.mu.Unlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return
	}
	pos.UnrealizedPnL = mark.Sub(pos.AvgEntryPrice).Mul(pos.Qty)
}

// Reset clears positions and the frozen flag; counters are preserved
func (m *Monitor) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.positions = make(map[string]*core.Position)
	m.frozen = false
	m.lastFreezeReason = ""
	m.lastFreezeSymbol = ""
}

// IsFrozen reports the sticky freeze flag
func (m *Monitor) IsFrozen() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.frozen
}

// Position returns a copy of the tracked position for symbol
func (m *Monitor) Position(symbol string) (core.Position, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	pos, ok := m.positions[symbol]
	if !ok {
		return core.Position{}, false
	}
	return *pos, true
}

// Positions returns copies of all tracked positions keyed by symbol
func (m *Monitor) Positions() map[string]core.Position {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make(map[string]core.Position, len(m.positions))
	for sym, pos := range m.positions {
		out[sym] = *pos
	}
	return out
}

// Stats is the snapshot used by reports
type Stats struct {
	Frozen           bool   `json:"frozen"`
	BlocksTotal      int64  `json:"blocks_total"`
	FreezesTotal     int64  `json:"freeze_events"`
	LastFreezeReason string `json:"last_freeze_reason,omitempty"`
	LastFreezeSymbol string `json:"last_freeze_symbol,omitempty"`
}

// Snapshot returns the monitor's counters and flags
func (m *Monitor) Snapshot() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Stats{
		Frozen:           m.frozen,
		BlocksTotal:      m.blocksTotal,
		FreezesTotal:     m.freezesTotal,
		LastFreezeReason: m.lastFreezeReason,
		LastFreezeSymbol: m.lastFreezeSymbol,
	}
}

// BlockError wraps a check result into the standard blocked error
func BlockError(r CheckResult) error {
	return fmt.Errorf("%w: %s", apperrors.ErrRiskBlocked, r.Reason)
}
