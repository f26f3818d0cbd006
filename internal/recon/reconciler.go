package recon

import (
	"context"
	"sort"
	"sync"

	"mmexec/internal/core"
	"mmexec/internal/store"
	"mmexec/pkg/concurrency"
	"mmexec/pkg/telemetry"

	"github.com/shopspring/decimal"
)

// PositionDelta is one symbol's local-vs-remote comparison
type PositionDelta struct {
	Local  decimal.Decimal `json:"local"`
	Remote decimal.Decimal `json:"remote"`
	Delta  decimal.Decimal `json:"delta"`
}

// Report is the canonical reconciliation output
type Report struct {
	TimestampMs      int64                    `json:"timestamp_ms"`
	OrdersLocalOnly  []string                 `json:"orders_local_only"`
	OrdersRemoteOnly []string                 `json:"orders_remote_only"`
	PositionDeltas   map[string]PositionDelta `json:"position_deltas"`
	Fees             *FeesReport              `json:"fees_report,omitempty"`
	DivergenceCount  int                      `json:"divergence_count"`
}

// Reconciler compares the local store against exchange truth. The two
// remote fetches run concurrently on the worker pool.
type Reconciler struct {
	exchange core.IExchange
	store    store.OrderStore
	clock    core.Clock
	symbols  []string
	profile  core.FeeProfile
	schedule *core.FeeSchedule
	pool     *concurrency.WorkerPool
	logger   core.ILogger
}

// NewReconciler wires a reconciler. profile and schedule may be nil;
// the fees report is omitted when both are.
func NewReconciler(
	exchange core.IExchange,
	orderStore store.OrderStore,
	clock core.Clock,
	symbols []string,
	profile core.FeeProfile,
	schedule *core.FeeSchedule,
	pool *concurrency.WorkerPool,
	logger core.ILogger,
) *Reconciler {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	return &Reconciler{
		exchange: exchange,
		store:    orderStore,
		clock:    clock,
		symbols:  symbols,
		profile:  profile,
		schedule: schedule,
		pool:     pool,
		logger:   logger.WithField("component", "reconciler"),
	}
}

// Run performs one reconciliation pass. localFills is the run's fill
// log; local positions are derived from it, never from the exchange.
func (r *Reconciler) Run(ctx context.Context, localFills []core.FillEvent) *Report {
	var (
		remoteOrders    []*core.ExchangeOpenOrder
		remotePositions map[string]decimal.Decimal
		ordersErr       error
		positionsErr    error
		wg              sync.WaitGroup
	)

	wg.Add(2)
	fetchOrders := func() {
		defer wg.Done()
		remoteOrders, ordersErr = r.exchange.GetOpenOrders(ctx, "")
	}
	fetchPositions := func() {
		defer wg.Done()
		remotePositions, positionsErr = r.exchange.GetPositions(ctx)
	}
	if r.pool != nil {
		_ = r.pool.Submit(fetchOrders)
		_ = r.pool.Submit(fetchPositions)
	} else {
		go fetchOrders()
		go fetchPositions()
	}
	wg.Wait()

	if ordersErr != nil {
		r.logger.Warn("Remote open-order fetch failed", "error", ordersErr)
	}
	if positionsErr != nil {
		r.logger.Warn("Remote position fetch failed", "error", positionsErr)
	}

	report := &Report{
		TimestampMs:      r.clock.NowMs(),
		OrdersLocalOnly:  []string{},
		OrdersRemoteOnly: []string{},
		PositionDeltas:   make(map[string]PositionDelta),
	}

	// Order presence: compare by client order id only
	remoteIDs := make(map[string]struct{}, len(remoteOrders))
	for _, o := range remoteOrders {
		remoteIDs[o.ClientOrderID] = struct{}{}
	}
	localIDs := make(map[string]struct{})
	for _, o := range r.store.GetOpenOrders() {
		localIDs[o.ClientOrderID] = struct{}{}
		if _, ok := remoteIDs[o.ClientOrderID]; !ok {
			report.OrdersLocalOnly = append(report.OrdersLocalOnly, o.ClientOrderID)
		}
	}
	for _, o := range remoteOrders {
		if _, ok := localIDs[o.ClientOrderID]; !ok {
			report.OrdersRemoteOnly = append(report.OrdersRemoteOnly, o.ClientOrderID)
		}
	}
	sort.Strings(report.OrdersLocalOnly)
	sort.Strings(report.OrdersRemoteOnly)

	// Positions: local truth is the sum of signed fill quantities
	localPositions := make(map[string]decimal.Decimal)
	for _, fill := range localFills {
		localPositions[fill.Symbol] = localPositions[fill.Symbol].Add(fill.SignedQty())
	}
	for _, sym := range r.compareSymbols(localPositions, remotePositions) {
		local := localPositions[sym]
		remote := remotePositions[sym]
		if local.Equal(remote) {
			continue
		}
		report.PositionDeltas[sym] = PositionDelta{
			Local:  local,
			Remote: remote,
			Delta:  remote.Sub(local),
		}
	}

	if r.schedule != nil || r.profile != nil {
		var global core.FeeSchedule
		if r.schedule != nil {
			global = *r.schedule
		}
		fees := ComputeFees(localFills, r.profile, global)
		report.Fees = &fees
		ratio, _ := fees.MakerTakerRatio.Float64()
		netBps, _ := fees.NetBps.Float64()
		telemetry.GetGlobalMetrics().SetMakerTakerRatio(ratio)
		telemetry.GetGlobalMetrics().SetNetBps(netBps)
	}

	report.DivergenceCount = len(report.OrdersLocalOnly) +
		len(report.OrdersRemoteOnly) +
		len(report.PositionDeltas)

	metrics := telemetry.GetGlobalMetrics()
	for range report.OrdersLocalOnly {
		metrics.IncReconDivergence("orders_local_only")
	}
	for range report.OrdersRemoteOnly {
		metrics.IncReconDivergence("orders_remote_only")
	}
	for range report.PositionDeltas {
		metrics.IncReconDivergence("position_delta")
	}

	if report.DivergenceCount > 0 {
		r.logger.Warn("Reconciliation divergence",
			"local_only", len(report.OrdersLocalOnly),
			"remote_only", len(report.OrdersRemoteOnly),
			"position_deltas", len(report.PositionDeltas))
	}
	return report
}

// compareSymbols is the sorted union of configured, local, and remote symbols
func (r *Reconciler) compareSymbols(local, remote map[string]decimal.Decimal) []string {
	seen := make(map[string]struct{})
	for _, s := range r.symbols {
		seen[s] = struct{}{}
	}
	for s := range local {
		seen[s] = struct{}{}
	}
	for s := range remote {
		seen[s] = struct{}{}
	}
	out := make([]string, 0, len(seen))
	for s := range seen {
		out = append(out, s)
	}
	sort.Strings(out)
	return out
}
