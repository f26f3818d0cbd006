package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricOrdersPlacedTotal    = "mm_orders_placed_total"
	MetricOrdersFilledTotal    = "mm_orders_filled_total"
	MetricOrdersRejectedTotal  = "mm_orders_rejected_total"
	MetricOrdersCanceledTotal  = "mm_orders_canceled_total"
	MetricOrdersBlockedTotal   = "mm_orders_blocked_total"
	MetricFreezeEventsTotal    = "mm_freeze_events_total"
	MetricPostOnlyAdjustTotal  = "mm_post_only_adjustments_total"
	MetricReconDivergenceTotal = "mm_recon_divergences_total"
	MetricFilterSourceTotal    = "mm_symbol_filter_source_total"
	MetricAPIFailuresTotal     = "mm_api_failures_total"
	MetricRateLimitHitsTotal   = "mm_rate_limit_hits_total"

	MetricEdgeBps          = "mm_edge_bps"
	MetricRiskRatio        = "mm_risk_ratio"
	MetricMakerTakerRatio  = "mm_maker_taker_ratio"
	MetricNetBps           = "mm_net_bps"
	MetricCircuitState     = "mm_circuit_state"
	MetricMakerOnlyEnabled = "mm_maker_only_enabled"
	MetricLiveEnable       = "mm_live_enable"

	MetricOrderLatencyMs  = "mm_order_latency_ms"
	MetricFillLatencyMs   = "mm_fill_latency_ms"
	MetricRetryCount      = "mm_retry_count"
	MetricRateLimitWaitMs = "mm_rate_limit_wait_ms"
)

// MetricsHolder holds initialized instruments plus the state behind the
// observable gauges.
type MetricsHolder struct {
	OrdersPlacedTotal    metric.Int64Counter
	OrdersFilledTotal    metric.Int64Counter
	OrdersRejectedTotal  metric.Int64Counter
	OrdersCanceledTotal  metric.Int64Counter
	OrdersBlockedTotal   metric.Int64Counter
	FreezeEventsTotal    metric.Int64Counter
	PostOnlyAdjustTotal  metric.Int64Counter
	ReconDivergenceTotal metric.Int64Counter
	FilterSourceTotal    metric.Int64Counter
	APIFailuresTotal     metric.Int64Counter
	RateLimitHitsTotal   metric.Int64Counter

	EdgeBps          metric.Float64ObservableGauge
	RiskRatio        metric.Float64ObservableGauge
	MakerTakerRatio  metric.Float64ObservableGauge
	NetBps           metric.Float64ObservableGauge
	CircuitState     metric.Int64ObservableGauge
	MakerOnlyEnabled metric.Int64ObservableGauge
	LiveEnable       metric.Int64ObservableGauge

	OrderLatencyMs  metric.Float64Histogram
	FillLatencyMs   metric.Float64Histogram
	RetryCount      metric.Float64Histogram
	RateLimitWaitMs metric.Float64Histogram

	mu              sync.RWMutex
	edgeBpsMap      map[string]float64
	circuitStateMap map[string]int64
	riskRatio       float64
	makerTaker      float64
	netBps          float64
	makerOnly       int64
	liveEnable      int64

	initialized bool
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder. Before
// InitMetrics runs, the update helpers only record observable state.
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			edgeBpsMap:      make(map[string]float64),
			circuitStateMap: make(map[string]int64),
		}
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	counters := []struct {
		dst  *metric.Int64Counter
		name string
		desc string
	}{
		{&m.OrdersPlacedTotal, MetricOrdersPlacedTotal, "Total orders placed"},
		{&m.OrdersFilledTotal, MetricOrdersFilledTotal, "Total orders fully filled"},
		{&m.OrdersRejectedTotal, MetricOrdersRejectedTotal, "Total orders rejected"},
		{&m.OrdersCanceledTotal, MetricOrdersCanceledTotal, "Total orders canceled"},
		{&m.OrdersBlockedTotal, MetricOrdersBlockedTotal, "Total placements blocked pre-trade"},
		{&m.FreezeEventsTotal, MetricFreezeEventsTotal, "Total risk freeze events"},
		{&m.PostOnlyAdjustTotal, MetricPostOnlyAdjustTotal, "Total post-only price/qty adjustments"},
		{&m.ReconDivergenceTotal, MetricReconDivergenceTotal, "Total reconciliation divergences by type"},
		{&m.FilterSourceTotal, MetricFilterSourceTotal, "Symbol filter lookups by source"},
		{&m.APIFailuresTotal, MetricAPIFailuresTotal, "Exchange API failures by endpoint and code"},
		{&m.RateLimitHitsTotal, MetricRateLimitHitsTotal, "Rate limiter waits by endpoint"},
	}
	for _, c := range counters {
		*c.dst, err = meter.Int64Counter(c.name, metric.WithDescription(c.desc))
		if err != nil {
			return err
		}
	}

	m.OrderLatencyMs, err = meter.Float64Histogram(MetricOrderLatencyMs,
		metric.WithDescription("Order placement wall-time latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	m.FillLatencyMs, err = meter.Float64Histogram(MetricFillLatencyMs,
		metric.WithDescription("Fill ingestion latency"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}
	m.RetryCount, err = meter.Float64Histogram(MetricRetryCount,
		metric.WithDescription("Retry attempts per placement"))
	if err != nil {
		return err
	}
	m.RateLimitWaitMs, err = meter.Float64Histogram(MetricRateLimitWaitMs,
		metric.WithDescription("Rate limiter wait time"), metric.WithUnit("ms"))
	if err != nil {
		return err
	}

	m.EdgeBps, err = meter.Float64ObservableGauge(MetricEdgeBps,
		metric.WithDescription("Latest net edge by symbol"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for sym, val := range m.edgeBpsMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("symbol", sym)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.CircuitState, err = meter.Int64ObservableGauge(MetricCircuitState,
		metric.WithDescription("Circuit breaker state by endpoint (0=closed,1=open,2=half_open)"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for ep, val := range m.circuitStateMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("endpoint", ep)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	scalars := []struct {
		dst  *metric.Float64ObservableGauge
		name string
		desc string
		src  *float64
	}{
		{&m.RiskRatio, MetricRiskRatio, "Total notional over configured ceiling", &m.riskRatio},
		{&m.MakerTakerRatio, MetricMakerTakerRatio, "Maker/taker notional ratio", &m.makerTaker},
		{&m.NetBps, MetricNetBps, "Net fee cost in bps of gross", &m.netBps},
	}
	for _, g := range scalars {
		src := g.src
		*g.dst, err = meter.Float64ObservableGauge(g.name, metric.WithDescription(g.desc),
			metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
				m.mu.RLock()
				defer m.mu.RUnlock()
				obs.Observe(*src)
				return nil
			}))
		if err != nil {
			return err
		}
	}

	flags := []struct {
		dst  *metric.Int64ObservableGauge
		name string
		desc string
		src  *int64
	}{
		{&m.MakerOnlyEnabled, MetricMakerOnlyEnabled, "Maker-only policy enabled", &m.makerOnly},
		{&m.LiveEnable, MetricLiveEnable, "Live trading consent present", &m.liveEnable},
	}
	for _, g := range flags {
		src := g.src
		*g.dst, err = meter.Int64ObservableGauge(g.name, metric.WithDescription(g.desc),
			metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
				m.mu.RLock()
				defer m.mu.RUnlock()
				obs.Observe(*src)
				return nil
			}))
		if err != nil {
			return err
		}
	}

	m.mu.Lock()
	m.initialized = true
	m.mu.Unlock()
	return nil
}

func (m *MetricsHolder) ready() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.initialized
}

// Counter helpers. Each is a no-op until InitMetrics has run, so unit
// tests do not need a meter provider.

func (m *MetricsHolder) addCounter(c metric.Int64Counter, attrs ...attribute.KeyValue) {
	if !m.ready() || c == nil {
		return
	}
	c.Add(context.Background(), 1, metric.WithAttributes(attrs...))
}

func (m *MetricsHolder) IncOrdersPlaced(symbol string) {
	m.addCounter(m.OrdersPlacedTotal, attribute.String("symbol", symbol))
}

func (m *MetricsHolder) IncOrdersFilled(symbol string) {
	m.addCounter(m.OrdersFilledTotal, attribute.String("symbol", symbol))
}

func (m *MetricsHolder) IncOrdersRejected(symbol string) {
	m.addCounter(m.OrdersRejectedTotal, attribute.String("symbol", symbol))
}

func (m *MetricsHolder) IncOrdersCanceled(symbol string) {
	m.addCounter(m.OrdersCanceledTotal, attribute.String("symbol", symbol))
}

func (m *MetricsHolder) IncOrdersBlocked(symbol, reason string) {
	m.addCounter(m.OrdersBlockedTotal, attribute.String("symbol", symbol), attribute.String("reason", reason))
}

func (m *MetricsHolder) IncFreezeEvents(symbol string) {
	m.addCounter(m.FreezeEventsTotal, attribute.String("symbol", symbol))
}

func (m *MetricsHolder) IncPostOnlyAdjust(symbol, kind string) {
	m.addCounter(m.PostOnlyAdjustTotal, attribute.String("symbol", symbol), attribute.String("kind", kind))
}

func (m *MetricsHolder) IncReconDivergence(divType string) {
	m.addCounter(m.ReconDivergenceTotal, attribute.String("type", divType))
}

func (m *MetricsHolder) IncFilterSource(source string) {
	m.addCounter(m.FilterSourceTotal, attribute.String("source", source))
}

func (m *MetricsHolder) IncAPIFailure(endpoint, code string) {
	m.addCounter(m.APIFailuresTotal, attribute.String("endpoint", endpoint), attribute.String("code", code))
}

func (m *MetricsHolder) IncRateLimitHit(endpoint string) {
	m.addCounter(m.RateLimitHitsTotal, attribute.String("endpoint", endpoint))
}

// Histogram helpers

func (m *MetricsHolder) ObserveOrderLatencyMs(v float64, symbol string) {
	if !m.ready() || m.OrderLatencyMs == nil {
		return
	}
	m.OrderLatencyMs.Record(context.Background(), v, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) ObserveFillLatencyMs(v float64, symbol string) {
	if !m.ready() || m.FillLatencyMs == nil {
		return
	}
	m.FillLatencyMs.Record(context.Background(), v, metric.WithAttributes(attribute.String("symbol", symbol)))
}

func (m *MetricsHolder) ObserveRetryCount(v float64, endpoint string) {
	if !m.ready() || m.RetryCount == nil {
		return
	}
	m.RetryCount.Record(context.Background(), v, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

func (m *MetricsHolder) ObserveRateLimitWaitMs(v float64, endpoint string) {
	if !m.ready() || m.RateLimitWaitMs == nil {
		return
	}
	m.RateLimitWaitMs.Record(context.Background(), v, metric.WithAttributes(attribute.String("endpoint", endpoint)))
}

// Observable gauge state helpers

func (m *MetricsHolder) SetEdgeBps(symbol string, bps float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.edgeBpsMap[symbol] = bps
}

func (m *MetricsHolder) SetCircuitState(endpoint string, state int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.circuitStateMap[endpoint] = state
}

func (m *MetricsHolder) SetRiskRatio(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.riskRatio = v
}

func (m *MetricsHolder) SetMakerTakerRatio(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.makerTaker = v
}

func (m *MetricsHolder) SetNetBps(v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.netBps = v
}

func (m *MetricsHolder) SetMakerOnlyEnabled(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.makerOnly = 0
	if enabled {
		m.makerOnly = 1
	}
}

func (m *MetricsHolder) SetLiveEnable(enabled bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.liveEnable = 0
	if enabled {
		m.liveEnable = 1
	}
}
