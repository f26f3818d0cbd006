package policy

import (
	"context"
	"sync"
	"time"

	"mmexec/internal/core"
	"mmexec/pkg/retry"
	"mmexec/pkg/telemetry"
)

// DefaultFilterTTL is how long fetched symbol filters stay fresh
const DefaultFilterTTL = 600 * time.Second

type filterEntry struct {
	filters     core.SymbolFilters
	fetchedAtMs int64
}

// FilterCache caches symbol filters with a TTL. On fetch failure a
// stale entry is served when one exists; otherwise exchange defaults.
// Every lookup records its source.
type FilterCache struct {
	mu       sync.Mutex
	entries  map[string]filterEntry
	exchange core.IExchange
	clock    core.Clock
	ttl      time.Duration
	policy   retry.Policy
	logger   core.ILogger
}

// NewFilterCache creates a cache over the exchange's filter endpoint
func NewFilterCache(exchange core.IExchange, clock core.Clock, ttl time.Duration, logger core.ILogger) *FilterCache {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	if ttl <= 0 {
		ttl = DefaultFilterTTL
	}
	return &FilterCache{
		entries:  make(map[string]filterEntry),
		exchange: exchange,
		clock:    clock,
		ttl:      ttl,
		policy:   retry.DefaultPolicy,
		logger:   logger.WithField("component", "filter_cache"),
	}
}

// Get returns the filters for symbol plus where they came from
func (c *FilterCache) Get(ctx context.Context, symbol string) (core.SymbolFilters, core.FilterSource) {
	c.mu.Lock()
	defer c.mu.Unlock()

	nowMs := c.clock.NowMs()
	entry, cached := c.entries[symbol]
	if cached && nowMs-entry.fetchedAtMs < c.ttl.Milliseconds() {
		telemetry.GetGlobalMetrics().IncFilterSource(string(core.FilterSourceCached))
		return entry.filters, core.FilterSourceCached
	}

	filters, err := c.fetch(ctx, symbol)
	if err == nil {
		c.entries[symbol] = filterEntry{filters: filters, fetchedAtMs: nowMs}
		telemetry.GetGlobalMetrics().IncFilterSource(string(core.FilterSourceFetched))
		return filters, core.FilterSourceFetched
	}

	if cached {
		c.logger.Warn("Filter fetch failed, serving stale entry", "symbol", symbol, "error", err)
		telemetry.GetGlobalMetrics().IncFilterSource(string(core.FilterSourceStale))
		return entry.filters, core.FilterSourceStale
	}

	c.logger.Warn("Filter fetch failed, using defaults", "symbol", symbol, "error", err)
	telemetry.GetGlobalMetrics().IncFilterSource(string(core.FilterSourceDefault))
	return core.DefaultFilters(symbol), core.FilterSourceDefault
}

func (c *FilterCache) fetch(ctx context.Context, symbol string) (core.SymbolFilters, error) {
	var filters core.SymbolFilters
	err := retry.Do(ctx, c.policy, func(err error) bool {
		return true // filter fetches are read-only, always safe to retry
	}, func() error {
		f, err := c.exchange.GetSymbolFilters(ctx, symbol)
		if err != nil {
			return err
		}
		filters = *f
		return nil
	})
	return filters, err
}

// Warmup pre-populates the cache for a symbol list
func (c *FilterCache) Warmup(ctx context.Context, symbols []string) {
	for _, sym := range symbols {
		_, source := c.Get(ctx, sym)
		c.logger.Debug("Filter warmup", "symbol", sym, "source", source)
	}
}
