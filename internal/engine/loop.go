// Package engine implements the execution loop: quote evaluation, the
// maker-only placement path, fill ingestion, edge-triggered freeze with
// idempotent cancel-all, and periodic reconciliation.
package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"mmexec/internal/core"
	"mmexec/internal/policy"
	"mmexec/internal/recon"
	"mmexec/internal/risk"
	"mmexec/internal/state"
	"mmexec/internal/store"
	"mmexec/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// Params configures one run of the loop
type Params struct {
	Symbols           []string        `json:"symbols"`
	Iterations        int             `json:"iterations"`
	MakerOnly         bool            `json:"maker_only"`
	PostOnlyOffsetBps decimal.Decimal `json:"post_only_offset_bps"`
	MinQtyPad         decimal.Decimal `json:"min_qty_pad"`
	HalfSpreadBps     decimal.Decimal `json:"half_spread_bps"`
	OrderQty          decimal.Decimal `json:"order_qty"`
	ReconInterval     time.Duration   `json:"-"`
	ReconIntervalS    float64         `json:"recon_interval_s"`
	DurableState      bool            `json:"durable_state"`
}

// DefaultParams is the shadow-demo tuning
func DefaultParams() Params {
	return Params{
		Symbols:           []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
		Iterations:        10,
		MakerOnly:         true,
		PostOnlyOffsetBps: decimal.RequireFromString("1"),
		MinQtyPad:         decimal.RequireFromString("1.0"),
		HalfSpreadBps:     decimal.RequireFromString("5"),
		OrderQty:          decimal.RequireFromString("0.01"),
		ReconInterval:     30 * time.Second,
		ReconIntervalS:    30,
	}
}

// counters are the loop's execution tallies
type counters struct {
	OrdersPlaced        int64 `json:"orders_placed"`
	OrdersFilled        int64 `json:"orders_filled"`
	OrdersRejected      int64 `json:"orders_rejected"`
	OrdersCanceled      int64 `json:"orders_canceled"`
	OrdersBlocked       int64 `json:"orders_blocked"`
	PostOnlyAdjustments int64 `json:"post_only_adjustments"`
}

// Loop is the single-flight execution orchestrator. Handlers are
// invoked serially by the caller; internal locking only protects the
// read paths used by reports and probes.
type Loop struct {
	mu       sync.Mutex
	exchange core.IExchange
	store    store.OrderStore
	risk     *risk.Monitor
	filters  *policy.FilterCache
	recon    *recon.Reconciler
	snapshot *state.SnapshotWriter
	clock    core.Clock
	logger   core.ILogger
	params   Params

	counters   counters
	fillLog    []core.FillEvent
	marks      map[string]decimal.Decimal
	lastRecon  *recon.Report
	lastReconMs int64
}

// NewLoop wires the execution loop. snapshot may be nil when the run is
// not durable; recon may be nil to disable reconciliation.
func NewLoop(
	exchange core.IExchange,
	orderStore store.OrderStore,
	riskMonitor *risk.Monitor,
	filterCache *policy.FilterCache,
	reconciler *recon.Reconciler,
	snapshotWriter *state.SnapshotWriter,
	clock core.Clock,
	logger core.ILogger,
	params Params,
) *Loop {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	telemetry.GetGlobalMetrics().SetMakerOnlyEnabled(params.MakerOnly)
	return &Loop{
		exchange: exchange,
		store:    orderStore,
		risk:     riskMonitor,
		filters:  filterCache,
		recon:    reconciler,
		snapshot: snapshotWriter,
		clock:    clock,
		logger:   logger.WithField("component", "execution_loop"),
		params:   params,
		marks:    make(map[string]decimal.Decimal),
	}
}

// MarkPrice resolves the latest observed mid for a symbol. Wired into
// the risk monitor as its mark resolver.
func (l *Loop) MarkPrice(symbol string) decimal.Decimal {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.marks[symbol]
}

// OnQuote evaluates a quote: when not frozen, derives a symmetric
// buy/sell pair around the midpoint offset by the half-spread and runs
// the placement path for each side that passes the risk gate.
func (l *Loop) OnQuote(ctx context.Context, quote core.Quote) {
	if l.risk.IsFrozen() {
		return
	}

	mid := quote.Mid()
	l.mu.Lock()
	l.marks[quote.Symbol] = mid
	l.mu.Unlock()
	l.risk.MarkToMarket(quote.Symbol, mid)

	half := mid.Mul(l.params.HalfSpreadBps).Div(decimal.NewFromInt(10000))
	buyRef := mid.Sub(half)
	sellRef := mid.Add(half)

	for _, leg := range []struct {
		side core.Side
		ref  decimal.Decimal
	}{
		{core.SideBuy, buyRef},
		{core.SideSell, sellRef},
	} {
		check := l.risk.CheckBeforeOrder(quote.Symbol, leg.side, l.params.OrderQty, leg.ref)
		if !check.Allowed {
			l.mu.Lock()
			l.counters.OrdersBlocked++
			l.mu.Unlock()
			l.logger.Debug("Placement blocked by risk",
				"symbol", quote.Symbol, "side", leg.side, "reason", check.Reason)
			continue
		}
		l.place(ctx, quote, leg.side, l.params.OrderQty, leg.ref)
	}
}

// place is the placement path: policy transforms, idempotent store
// write, exchange call, and the resulting state transition.
func (l *Loop) place(ctx context.Context, quote core.Quote, side core.Side, qty, refPrice decimal.Decimal) {
	price := refPrice
	metrics := telemetry.GetGlobalMetrics()

	if l.params.MakerOnly {
		filters, source := l.filters.Get(ctx, quote.Symbol)
		l.logger.Debug("Symbol filters resolved", "symbol", quote.Symbol, "source", source)

		rounded := policy.RoundQty(qty, filters.StepSize)
		if !rounded.Equal(qty) {
			metrics.IncPostOnlyAdjust(quote.Symbol, "qty_step")
			l.addAdjustment()
		}
		qty = rounded

		minQty := filters.MinQty.Mul(l.params.MinQtyPad)
		if !policy.CheckMinQty(qty, minQty) {
			l.block(quote.Symbol, side, "min_qty",
				fmt.Sprintf("qty %s below min %s", qty, minQty))
			return
		}

		price = policy.PostOnlyPrice(side, refPrice, l.params.PostOnlyOffsetBps, filters.TickSize)
		if !price.Equal(refPrice) {
			metrics.IncPostOnlyAdjust(quote.Symbol, "post_only_price")
			l.addAdjustment()
		}

		if policy.CrossesMarket(side, price, quote.BestBid, quote.BestAsk) {
			l.block(quote.Symbol, side, "cross_price",
				fmt.Sprintf("price %s crosses book bid=%s ask=%s", price, quote.BestBid, quote.BestAsk))
			return
		}
	}

	tsMs := l.clock.NowMs()
	cid := l.store.PeekNextID()
	placeKey := fmt.Sprintf("place:%s:%s:v1", cid, quote.Symbol)

	result := l.store.PlaceOrder(quote.Symbol, side, qty, price, placeKey, tsMs)
	if !result.Success {
		l.logger.Error("Store rejected placement", "symbol", quote.Symbol, "message", result.Message)
		return
	}
	if result.WasDuplicate {
		l.logger.Info("Duplicate placement suppressed",
			"client_order_id", result.Order.ClientOrderID, "idem_key", placeKey)
		return
	}
	order := result.Order

	resp, err := l.exchange.PlaceLimitOrder(ctx, &core.PlaceOrderRequest{
		ClientOrderID: order.ClientOrderID,
		Symbol:        quote.Symbol,
		Side:          side,
		Qty:           qty,
		Price:         price,
		PostOnly:      l.params.MakerOnly,
	})

	if err != nil || resp.Status != core.PlaceOrderAccepted {
		message := ""
		if err != nil {
			// Transport failures count as rejection locally; the router
			// already exhausted its retry budget.
			message = err.Error()
		} else {
			message = resp.Message
		}
		rejectKey := fmt.Sprintf("state:%s:rejected:v1", order.ClientOrderID)
		l.store.UpdateOrderState(order.ClientOrderID, core.OrderRejected, rejectKey, l.clock.NowMs(), "", message)
		l.mu.Lock()
		l.counters.OrdersRejected++
		l.mu.Unlock()
		metrics.IncOrdersRejected(quote.Symbol)
		l.logger.Warn("Order rejected",
			"client_order_id", order.ClientOrderID, "symbol", quote.Symbol, "message", message)
		return
	}

	openKey := fmt.Sprintf("state:%s:open:v1", order.ClientOrderID)
	l.store.UpdateOrderState(order.ClientOrderID, core.OrderOpen, openKey, l.clock.NowMs(), resp.ExchangeOrderID, "")
	l.mu.Lock()
	l.counters.OrdersPlaced++
	l.mu.Unlock()
	metrics.IncOrdersPlaced(quote.Symbol)
	l.logger.Info("Order placed",
		"client_order_id", order.ClientOrderID,
		"symbol", quote.Symbol,
		"side", side,
		"qty", qty,
		"price", price,
		"exchange_order_id", resp.ExchangeOrderID)
}

func (l *Loop) block(symbol string, side core.Side, reason, detail string) {
	l.mu.Lock()
	l.counters.OrdersBlocked++
	l.mu.Unlock()
	telemetry.GetGlobalMetrics().IncOrdersBlocked(symbol, reason)
	l.logger.Info("Placement blocked by policy",
		"symbol", symbol, "side", side, "reason", reason, "detail", detail)
}

func (l *Loop) addAdjustment() {
	l.mu.Lock()
	l.counters.PostOnlyAdjustments++
	l.mu.Unlock()
}

// OnFill drains pending fills from the adapter, updating positions and
// order state for each.
func (l *Loop) OnFill(ctx context.Context) int {
	metrics := telemetry.GetGlobalMetrics()
	drained := 0
	for {
		fill, ok := l.exchange.NextFill()
		if !ok {
			return drained
		}
		drained++

		l.risk.ApplyFill(*fill)
		l.mu.Lock()
		l.fillLog = append(l.fillLog, *fill)
		l.mu.Unlock()

		nowMs := l.clock.NowMs()
		if fill.TimestampMs > 0 && nowMs >= fill.TimestampMs {
			metrics.ObserveFillLatencyMs(float64(nowMs-fill.TimestampMs), fill.Symbol)
		}

		if fill.OrderID == "" {
			l.logger.Warn("Fill without order id", "fill_id", fill.FillID, "symbol", fill.Symbol)
			continue
		}

		fillKey := fmt.Sprintf("fill:%s:v1", fill.FillID)
		result := l.store.UpdateFill(fill.OrderID, fill.Qty, fill.Price, fillKey, nowMs)
		if !result.Success {
			l.logger.Warn("Fill not applied",
				"client_order_id", fill.OrderID, "fill_id", fill.FillID, "message", result.Message)
			continue
		}
		if result.Order != nil && result.Order.State == core.OrderFilled {
			l.mu.Lock()
			l.counters.OrdersFilled++
			l.mu.Unlock()
			metrics.IncOrdersFilled(fill.Symbol)
		}
	}
}

// OnEdgeUpdate feeds the risk monitor. On the not-frozen -> frozen
// transition it runs cancel-all under a freeze-scoped idempotency key.
func (l *Loop) OnEdgeUpdate(ctx context.Context, symbol string, netBps decimal.Decimal) {
	if !l.risk.OnEdgeUpdate(symbol, netBps) {
		return
	}

	// One freeze, one key: a retried freeze replays as a duplicate.
	freezeTs := l.clock.Now().UTC().Format("20060102T150405.000Z")
	cancelKey := fmt.Sprintf("cancel_all:freeze_%s", freezeTs)

	openBefore := l.store.GetOpenOrders()
	result := l.store.CancelAllOpen(cancelKey, l.clock.NowMs())
	if result.Success && !result.WasDuplicate {
		l.mu.Lock()
		l.counters.OrdersCanceled += int64(result.Count)
		l.mu.Unlock()
		for _, o := range openBefore {
			telemetry.GetGlobalMetrics().IncOrdersCanceled(o.Symbol)
		}
	}

	// Remote cancels are best-effort: local truth already says CANCELED.
	for _, o := range openBefore {
		if _, err := l.exchange.CancelOrder(ctx, o.ClientOrderID, o.Symbol); err != nil {
			l.logger.Warn("Best-effort remote cancel failed",
				"client_order_id", o.ClientOrderID, "error", err)
		}
	}

	l.logger.Warn("Freeze cancel-all complete",
		"canceled", result.Count, "idem_key", cancelKey)
}

// maybeRecon runs reconciliation when the configured interval elapsed
func (l *Loop) maybeRecon(ctx context.Context, force bool) {
	if l.recon == nil {
		return
	}
	nowMs := l.clock.NowMs()
	l.mu.Lock()
	due := force || l.lastReconMs == 0 ||
		nowMs-l.lastReconMs >= l.params.ReconInterval.Milliseconds()
	fills := make([]core.FillEvent, len(l.fillLog))
	copy(fills, l.fillLog)
	l.mu.Unlock()
	if !due {
		return
	}

	report := l.recon.Run(ctx, fills)
	l.mu.Lock()
	l.lastRecon = report
	l.lastReconMs = nowMs
	l.mu.Unlock()
}

// RecoverFromRestart replays the durable store's journal and returns
// the recovery summary. No-op (nil, nil) for non-durable stores.
func (l *Loop) RecoverFromRestart(snapshotDir string) (*store.RecoverySummary, error) {
	durable, ok := l.store.(*store.DurableStore)
	if !ok {
		return nil, nil
	}
	return durable.RecoverFromSnapshot(snapshotDir)
}

// RunShadow drives iterations of synthetic quotes through the loop and
// returns the canonical report. Deterministic: same params, same seed
// clock, same bytes.
func (l *Loop) RunShadow(ctx context.Context) (map[string]interface{}, error) {
	start := l.clock.NowMs()

	for i := 0; i < l.params.Iterations; i++ {
		for _, symbol := range l.params.Symbols {
			quote := syntheticQuote(symbol, i)
			l.OnQuote(ctx, quote)
			l.OnFill(ctx)
		}
		l.maybeRecon(ctx, false)
	}

	// Closing pass: drain stragglers, reconcile once more
	l.OnFill(ctx)
	l.maybeRecon(ctx, true)

	if l.snapshot != nil {
		l.snapshot.Write(l.clock.NowMs(), l.store.AllOrders())
	}

	elapsed := l.clock.NowMs() - start
	return l.BuildReport(elapsed), nil
}

// syntheticQuote produces the deterministic shadow feed: a fixed base
// price per symbol with a small ramp per iteration and a 10 bps spread.
func syntheticQuote(symbol string, iteration int) core.Quote {
	base := basePrice(symbol)
	drift := base.Mul(decimal.NewFromInt(int64(iteration))).Div(decimal.NewFromInt(100000))
	mid := base.Add(drift)
	halfSpread := mid.Mul(decimal.RequireFromString("0.0005"))
	return core.Quote{
		Symbol:  symbol,
		BestBid: mid.Sub(halfSpread),
		BestAsk: mid.Add(halfSpread),
	}
}

func basePrice(symbol string) decimal.Decimal {
	switch symbol {
	case "BTCUSDT":
		return decimal.NewFromInt(50000)
	case "ETHUSDT":
		return decimal.NewFromInt(3000)
	case "SOLUSDT":
		return decimal.NewFromInt(150)
	}
	return decimal.NewFromInt(100)
}
