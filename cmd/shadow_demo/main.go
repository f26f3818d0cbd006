// shadow_demo drives the execution core through a deterministic shadow
// run and prints the canonical JSON report on stdout. Logs go to stderr.
package main

import (
	"flag"
	"fmt"
	"os"
	"strings"

	"mmexec/internal/bootstrap"
	"mmexec/internal/config"
	"mmexec/pkg/logging"
)

var (
	configFile = flag.String("config", "", "Path to configuration file")

	shadowFlag = flag.Bool("shadow", false, "Required gate: acknowledge this is a shadow run")

	exchangeFlag = flag.String("exchange", "fake", "Exchange adapter (fake, bybit)")
	modeFlag     = flag.String("mode", "shadow", "Run mode (shadow, dryrun)")
	networkFlag  = flag.Bool("network", false, "Enable real network calls")
	testnetFlag  = flag.Bool("testnet", false, "Target the exchange testnet")
	liveFlag     = flag.Bool("live", false, "Alias for --network without --testnet; requires MM_LIVE_ENABLE=1")
	apiEnvFlag   = flag.String("api-env", "dev", "Secret environment (dev, shadow, soak, prod)")

	makerOnlyFlag   = flag.Bool("maker-only", true, "Enforce the maker-only policy")
	noMakerOnlyFlag = flag.Bool("no-maker-only", false, "Disable the maker-only policy")
	offsetBpsFlag   = flag.Float64("post-only-offset-bps", 1, "Post-only price offset in bps")
	minQtyPadFlag   = flag.Float64("min-qty-pad", 1.0, "Multiplier over the exchange min qty")

	symbolsFlag      = flag.String("symbols", "BTCUSDT,ETHUSDT,SOLUSDT", "Comma-separated symbol list")
	symbolFilterFlag = flag.String("symbol-filter", "", "Restrict the run to one symbol")
	iterationsFlag   = flag.Int("iterations", 10, "Synthetic quote iterations")

	maxInvFlag        = flag.Float64("max-inv", 10000, "Max inventory USD per symbol")
	maxTotalFlag      = flag.Float64("max-total", 25000, "Max total notional USD")
	edgeThresholdFlag = flag.Float64("edge-threshold", 200, "Edge freeze threshold in bps")

	fillRateFlag   = flag.Float64("fill-rate", 1.0, "Fake exchange fill probability")
	rejectRateFlag = flag.Float64("reject-rate", 0.0, "Fake exchange reject probability")
	latencyMsFlag  = flag.Int("latency-ms", 0, "Fake exchange simulated latency")

	durableStateFlag = flag.Bool("durable-state", false, "Persist orders through the KV journal")
	stateDirFlag     = flag.String("state-dir", "./state", "Snapshot directory for durable state")
	recoverFlag      = flag.Bool("recover", false, "Replay the journal before running")

	reconIntervalFlag = flag.Float64("recon-interval-s", 30, "Reconciliation interval in seconds")

	feeMakerFlag   = flag.Float64("fee-maker-bps", 1, "Maker fee in bps")
	feeTakerFlag   = flag.Float64("fee-taker-bps", 5, "Taker fee in bps")
	rebateMakerFlag = flag.Float64("rebate-maker-bps", 0.5, "Maker rebate in bps")

	warmupFiltersFlag = flag.Bool("warmup-filters", false, "Prefetch symbol filters before the run")

	obsFlag     = flag.Bool("obs", false, "Serve /health, /ready, /metrics")
	obsHostFlag = flag.String("obs-host", "127.0.0.1", "Observability server host")
	obsPortFlag = flag.Int("obs-port", 9464, "Observability server port")
)

func main() {
	flag.Parse()
	logger := logging.GetGlobalLogger()

	if !*shadowFlag {
		fmt.Fprintln(os.Stderr, "refusing to run without --shadow")
		os.Exit(1)
	}

	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		logger.Error("Configuration failed", "error", err)
		os.Exit(1)
	}
	applyFlags(cfg)

	if err := cfg.Validate(); err != nil {
		logger.Error("Configuration invalid", "error", err)
		os.Exit(1)
	}

	app, err := bootstrap.NewApp(cfg)
	if err != nil {
		logger.Error("Bootstrap failed", "error", err)
		os.Exit(1)
	}
	defer app.Close()

	report, err := app.RunShadow()
	if err != nil {
		app.Logger.Error("Run failed", "error", err)
		os.Exit(1)
	}

	// The report is the process's only stdout output
	fmt.Print(report)
}

// applyFlags overlays command-line flags onto the loaded configuration
func applyFlags(cfg *config.Config) {
	cfg.App.Exchange = *exchangeFlag
	cfg.App.Mode = *modeFlag
	cfg.App.Network = *networkFlag || *liveFlag
	cfg.App.Testnet = *testnetFlag
	cfg.App.APIEnv = *apiEnvFlag

	cfg.Trading.MakerOnly = *makerOnlyFlag && !*noMakerOnlyFlag
	cfg.Trading.PostOnlyOffsetBps = *offsetBpsFlag
	cfg.Trading.MinQtyPad = *minQtyPadFlag
	cfg.Trading.Iterations = *iterationsFlag
	cfg.Trading.WarmupFilters = *warmupFiltersFlag

	symbols := splitSymbols(*symbolsFlag)
	if *symbolFilterFlag != "" {
		symbols = filterSymbols(symbols, *symbolFilterFlag)
	}
	cfg.Trading.Symbols = symbols

	cfg.Risk.MaxInventoryUSDPerSymbol = *maxInvFlag
	cfg.Risk.MaxTotalNotionalUSD = *maxTotalFlag
	cfg.Risk.EdgeFreezeThresholdBps = *edgeThresholdFlag

	cfg.Fake.FillRate = *fillRateFlag
	cfg.Fake.RejectRate = *rejectRateFlag
	cfg.Fake.LatencyMs = *latencyMsFlag

	cfg.State.Durable = *durableStateFlag
	cfg.State.StateDir = *stateDirFlag
	cfg.State.Recover = *recoverFlag

	cfg.Recon.IntervalSeconds = *reconIntervalFlag

	cfg.Fees.MakerBps = *feeMakerFlag
	cfg.Fees.TakerBps = *feeTakerFlag
	cfg.Fees.MakerRebateBps = *rebateMakerFlag

	cfg.Obs.Enabled = *obsFlag
	cfg.Obs.Host = *obsHostFlag
	cfg.Obs.Port = *obsPortFlag
}

func splitSymbols(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

func filterSymbols(symbols []string, keep string) []string {
	for _, s := range symbols {
		if s == keep {
			return []string{s}
		}
	}
	return []string{keep}
}
