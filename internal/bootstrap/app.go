// Package bootstrap assembles the execution core from configuration and
// owns the process lifecycle.
package bootstrap

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"mmexec/internal/config"
	"mmexec/internal/core"
	"mmexec/internal/engine"
	"mmexec/internal/exchange"
	"mmexec/internal/infrastructure/health"
	"mmexec/internal/policy"
	"mmexec/internal/recon"
	"mmexec/internal/resilience"
	"mmexec/internal/risk"
	"mmexec/internal/state"
	"mmexec/internal/store"
	"mmexec/pkg/concurrency"
	"mmexec/pkg/logging"
	"mmexec/pkg/telemetry"

	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"
)

// runLockResource names the Redlock lease taken by durable runs so two
// processes never share a snapshot directory.
const runLockResource = "execution_loop"

// App holds the assembled execution core
type App struct {
	Cfg    *config.Config
	Logger core.ILogger
	Loop   *engine.Loop
	Health *health.Manager

	clock     core.Clock
	telemetry *telemetry.Telemetry
	obsServer *health.Server
	pool      *concurrency.WorkerPool
	kv        state.KV
	durable   *store.DurableStore
	lock      *state.Redlock
	lockToken string
	router    *exchange.Router
	riskRef   *risk.Monitor
}

// NewApp bootstraps all dependencies from cfg. The kill-switch is
// checked before anything with side effects is constructed.
func NewApp(cfg *config.Config) (*App, error) {
	if err := exchange.AuthorizeLive(cfg.App.Network, cfg.App.Testnet); err != nil {
		return nil, err
	}

	logger, err := logging.NewZapLogger(cfg.App.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("logger: %w", err)
	}
	logging.SetGlobalLogger(logger)

	tel, err := telemetry.Setup("mmexec")
	if err != nil {
		return nil, fmt.Errorf("telemetry: %w", err)
	}
	telemetry.GetGlobalMetrics().SetLiveEnable(os.Getenv(exchange.LiveEnableEnv) == "1")

	clock := core.NewSystemClock()

	app := &App{
		Cfg:       cfg,
		Logger:    logger,
		Health:    health.NewManager(logger),
		clock:     clock,
		telemetry: tel,
	}

	if err := app.buildStateLayer(); err != nil {
		return nil, err
	}
	if err := app.buildExecution(); err != nil {
		return nil, err
	}
	app.registerProbes()

	if cfg.Obs.Enabled {
		app.obsServer = health.NewServer(cfg.Obs.Host, cfg.Obs.Port, app.Health, true, logger)
	}
	return app, nil
}

// buildStateLayer wires the KV backend, the order store, and for
// durable runs the Redlock lease over the snapshot directory.
func (a *App) buildStateLayer() error {
	cfg := a.Cfg
	if !cfg.State.Durable {
		return nil
	}

	switch cfg.State.Backend {
	case "sqlite":
		dbPath := filepath.Join(cfg.State.StateDir, "state.db")
		if err := os.MkdirAll(cfg.State.StateDir, 0o755); err != nil {
			return fmt.Errorf("state dir: %w", err)
		}
		kv, err := state.NewSQLiteKV(dbPath, a.clock)
		if err != nil {
			return fmt.Errorf("sqlite kv: %w", err)
		}
		a.kv = kv
	default:
		a.kv = state.NewMemoryKV(a.clock)
	}

	a.lock = state.NewRedlock(a.kv, a.clock)
	token, ok := a.lock.Acquire(runLockResource, (5 * time.Minute).Milliseconds())
	if !ok {
		return fmt.Errorf("state dir %s is locked by another process", cfg.State.StateDir)
	}
	a.lockToken = token

	durable, err := store.NewDurableStore(a.kv, cfg.State.StateDir, a.clock, a.Logger)
	if err != nil {
		return fmt.Errorf("durable store: %w", err)
	}
	a.durable = durable
	return nil
}

func (a *App) buildExecution() error {
	cfg := a.Cfg

	var adapter core.IExchange
	switch {
	case cfg.App.Mode == "dryrun":
		adapter = exchange.NewDryRun(cfg.App.APIKey, cfg.App.APISecret, a.clock, a.Logger)
	default:
		adapter = exchange.NewFake(exchange.FakeConfig{
			FillRate:   cfg.Fake.FillRate,
			RejectRate: cfg.Fake.RejectRate,
			LatencyMs:  cfg.Fake.LatencyMs,
			Seed:       cfg.Fake.Seed,
		}, a.clock, a.Logger)
	}

	limiterOverrides := make(map[string]resilience.BucketConfig, len(cfg.Resilience.Overrides))
	for endpoint, o := range cfg.Resilience.Overrides {
		limiterOverrides[endpoint] = resilience.BucketConfig{CapacityPerS: o.CapacityPerS, Burst: o.Burst}
	}
	limiter := resilience.NewRateLimiter(resilience.BucketConfig{
		CapacityPerS: cfg.Resilience.CapacityPerS,
		Burst:        cfg.Resilience.Burst,
	}, limiterOverrides)

	breakers := resilience.NewBreakerSet(resilience.BreakerConfig{
		FailThreshold: cfg.Resilience.FailThreshold,
		Window:        secondsToDuration(cfg.Resilience.WindowSeconds),
		Cooldown:      secondsToDuration(cfg.Resilience.CooldownSeconds),
		MinDwell:      secondsToDuration(cfg.Resilience.MinDwellSeconds),
		ProbeCount:    cfg.Resilience.ProbeCount,
	}, a.clock, a.Logger)

	a.router = exchange.NewRouter(adapter, limiter, breakers, cfg.Resilience.GlobalRatePerS, a.Logger)

	var orderStore store.OrderStore
	if a.durable != nil {
		orderStore = a.durable
	} else {
		orderStore = store.NewMemoryStore(a.clock)
	}

	riskMonitor := risk.NewMonitor(risk.Limits{
		MaxInventoryUSDPerSymbol: decimal.NewFromFloat(cfg.Risk.MaxInventoryUSDPerSymbol),
		MaxTotalNotionalUSD:      decimal.NewFromFloat(cfg.Risk.MaxTotalNotionalUSD),
		EdgeFreezeThresholdBps:   decimal.NewFromFloat(cfg.Risk.EdgeFreezeThresholdBps),
	}, nil, a.Logger)

	filterTTL := time.Duration(cfg.Trading.FilterTTLSeconds) * time.Second
	filterCache := policy.NewFilterCache(a.router, a.clock, filterTTL, a.Logger)

	a.pool = concurrency.NewWorkerPool(concurrency.PoolConfig{
		Name:       "recon",
		MaxWorkers: 4,
	}, a.Logger)

	schedule := core.FeeSchedule{
		MakerBps:       decimal.NewFromFloat(cfg.Fees.MakerBps),
		TakerBps:       decimal.NewFromFloat(cfg.Fees.TakerBps),
		MakerRebateBps: decimal.NewFromFloat(cfg.Fees.MakerRebateBps),
	}
	var snapshotWriter *state.SnapshotWriter
	if cfg.State.Durable {
		snapshotWriter = state.NewSnapshotWriter(cfg.State.StateDir, a.Logger)
	}

	params := engine.Params{
		Symbols:           cfg.Trading.Symbols,
		Iterations:        cfg.Trading.Iterations,
		MakerOnly:         cfg.Trading.MakerOnly,
		PostOnlyOffsetBps: decimal.NewFromFloat(cfg.Trading.PostOnlyOffsetBps),
		MinQtyPad:         decimal.NewFromFloat(cfg.Trading.MinQtyPad),
		HalfSpreadBps:     decimal.NewFromFloat(cfg.Trading.HalfSpreadBps),
		OrderQty:          decimal.NewFromFloat(cfg.Trading.OrderQty),
		ReconInterval:     secondsToDuration(cfg.Recon.IntervalSeconds),
		ReconIntervalS:    cfg.Recon.IntervalSeconds,
		DurableState:      cfg.State.Durable,
	}

	reconciler := recon.NewReconciler(
		a.router, orderStore, a.clock, cfg.Trading.Symbols, nil, &schedule, a.pool, a.Logger)

	a.Loop = engine.NewLoop(a.router, orderStore, riskMonitor, filterCache, reconciler, snapshotWriter, a.clock, a.Logger, params)
	riskMonitor.SetMarkResolver(a.Loop.MarkPrice)

	a.riskRef = riskMonitor
	return nil
}

// registerProbes wires the three readiness probes: state, risk, exchange
func (a *App) registerProbes() {
	a.Health.Register("state", func() error {
		if a.Cfg.State.Durable && a.kv == nil {
			return fmt.Errorf("durable state not initialized")
		}
		return nil
	})
	a.Health.Register("risk", func() error {
		if a.riskRef != nil && a.riskRef.IsFrozen() {
			return fmt.Errorf("risk monitor frozen")
		}
		return nil
	})
	a.Health.Register("exchange", func() error {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		return a.router.CheckHealth(ctx)
	})
}

// RunShadow executes the shadow demo end to end and returns the
// canonical report line.
func (a *App) RunShadow() (string, error) {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if a.obsServer != nil {
		a.obsServer.Start()
	}

	if a.Cfg.State.Recover && a.durable != nil {
		summary, err := a.Loop.RecoverFromRestart(a.Cfg.State.StateDir)
		if err != nil {
			return "", fmt.Errorf("recovery: %w", err)
		}
		if summary != nil {
			a.Logger.Info("Recovered from snapshot",
				"orders", summary.TotalOrdersRecovered,
				"open", summary.OpenOrdersCount,
				"next_id", summary.NextClientOrderID)
		}
	}

	if a.Cfg.Trading.WarmupFilters {
		a.warmupFilters(ctx)
	}

	g, ctx := errgroup.WithContext(ctx)
	var report map[string]interface{}
	g.Go(func() error {
		var err error
		report, err = a.Loop.RunShadow(ctx)
		return err
	})
	if err := g.Wait(); err != nil {
		return "", err
	}

	return engine.RenderReport(report)
}

func (a *App) warmupFilters(ctx context.Context) {
	for _, symbol := range a.Cfg.Trading.Symbols {
		if _, err := a.router.GetSymbolFilters(ctx, symbol); err != nil {
			a.Logger.Warn("Filter warmup failed", "symbol", symbol, "error", err)
		}
	}
}

// Close releases everything in reverse construction order
func (a *App) Close() {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if a.obsServer != nil {
		_ = a.obsServer.Stop(ctx)
	}
	if a.pool != nil {
		a.pool.Stop()
	}
	if a.durable != nil {
		_ = a.durable.Close()
	}
	if a.lock != nil && a.lockToken != "" {
		a.lock.Release(runLockResource, a.lockToken)
	}
	if a.kv != nil {
		_ = a.kv.Close()
	}
	if a.telemetry != nil {
		_ = a.telemetry.Shutdown(ctx)
	}
}

func secondsToDuration(s float64) time.Duration {
	return time.Duration(s * float64(time.Second))
}
