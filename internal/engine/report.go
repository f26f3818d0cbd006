package engine

import (
	"mmexec/pkg/jsonutil"
)

// BuildReport assembles the canonical run report. Keys sort at the
// serialization boundary; values here only need to be stable.
func (l *Loop) BuildReport(elapsedMs int64) map[string]interface{} {
	l.mu.Lock()
	execution := l.counters
	lastRecon := l.lastRecon
	fills := len(l.fillLog)
	params := l.params
	l.mu.Unlock()

	orders := make(map[string]int)
	for state, n := range l.store.CountByState() {
		orders[string(state)] = n
	}

	positions := make(map[string]interface{})
	for symbol, pos := range l.risk.Positions() {
		positions[symbol] = map[string]interface{}{
			"qty":             pos.Qty,
			"avg_entry_price": pos.AvgEntryPrice,
			"realized_pnl":    pos.RealizedPnL,
			"unrealized_pnl":  pos.UnrealizedPnL,
			"gross_bought":    pos.GrossBought,
			"gross_sold":      pos.GrossSold,
		}
	}

	riskStats := l.risk.Snapshot()

	openOrders := l.store.GetOpenOrders()
	openIDs := make([]string, 0, len(openOrders))
	for _, o := range openOrders {
		openIDs = append(openIDs, o.ClientOrderID)
	}

	divergences := 0
	if lastRecon != nil {
		divergences = lastRecon.DivergenceCount
	}

	report := map[string]interface{}{
		"execution": execution,
		"orders":    orders,
		"positions": positions,
		"risk":      riskStats,
		"runtime": map[string]interface{}{
			"exchange":   l.exchange.GetName(),
			"elapsed_ms": elapsedMs,
			"iterations": params.Iterations,
		},
		"state": map[string]interface{}{
			"open_orders_count":    len(openIDs),
			"open_orders":          openIDs,
			"next_client_order_id": l.store.PeekNextID(),
			"durable":              params.DurableState,
		},
		"summary": map[string]interface{}{
			"fills_total":   fills,
			"symbols":       params.Symbols,
			"frozen":        riskStats.Frozen,
			"blocked_total": execution.OrdersBlocked,
			"divergences":   divergences,
		},
		"timestamp_ms": l.clock.NowMs(),
		"params":       params,
	}
	if lastRecon != nil {
		report["recon"] = lastRecon
	}
	return report
}

// RenderReport serializes a report to its canonical single-line form
func RenderReport(report map[string]interface{}) (string, error) {
	return jsonutil.MarshalCanonicalString(report)
}
