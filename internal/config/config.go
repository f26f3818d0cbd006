// Package config handles configuration management with validation
package config

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"mmexec/pkg/logging"

	"gopkg.in/yaml.v3"
)

// Config is the complete configuration structure
type Config struct {
	App        AppConfig        `yaml:"app"`
	Trading    TradingConfig    `yaml:"trading"`
	Risk       RiskConfig       `yaml:"risk"`
	Resilience ResilienceConfig `yaml:"resilience"`
	Fees       FeesConfig       `yaml:"fees"`
	State      StateConfig      `yaml:"state"`
	Recon      ReconConfig      `yaml:"recon"`
	Fake       FakeConfig       `yaml:"fake"`
	Obs        ObsConfig        `yaml:"obs"`
}

// AppConfig contains application-level settings
type AppConfig struct {
	LogLevel  string `yaml:"log_level"`
	Exchange  string `yaml:"exchange"` // fake | bybit
	Mode      string `yaml:"mode"`     // shadow | dryrun
	Network   bool   `yaml:"network"`
	Testnet   bool   `yaml:"testnet"`
	APIEnv    string `yaml:"api_env"` // dev | shadow | soak | prod
	APIKey    string `yaml:"api_key"`
	APISecret string `yaml:"api_secret"`
}

// TradingConfig contains the execution-loop parameters
type TradingConfig struct {
	Symbols           []string `yaml:"symbols"`
	Iterations        int      `yaml:"iterations"`
	MakerOnly         bool     `yaml:"maker_only"`
	PostOnlyOffsetBps float64  `yaml:"post_only_offset_bps"`
	MinQtyPad         float64  `yaml:"min_qty_pad"`
	HalfSpreadBps     float64  `yaml:"half_spread_bps"`
	OrderQty          float64  `yaml:"order_qty"`
	WarmupFilters     bool     `yaml:"warmup_filters"`
	FilterTTLSeconds  int      `yaml:"filter_ttl_seconds"`
}

// RiskConfig contains the pre-trade limits
type RiskConfig struct {
	MaxInventoryUSDPerSymbol float64 `yaml:"max_inventory_usd_per_symbol"`
	MaxTotalNotionalUSD      float64 `yaml:"max_total_notional_usd"`
	EdgeFreezeThresholdBps   float64 `yaml:"edge_freeze_threshold_bps"`
}

// ResilienceConfig tunes the breaker and the rate limiter
type ResilienceConfig struct {
	FailThreshold   int     `yaml:"fail_threshold"`
	WindowSeconds   float64 `yaml:"window_seconds"`
	CooldownSeconds float64 `yaml:"cooldown_seconds"`
	MinDwellSeconds float64 `yaml:"min_dwell_seconds"`
	ProbeCount      int     `yaml:"probe_count"`

	CapacityPerS float64                      `yaml:"capacity_per_s"`
	Burst        float64                      `yaml:"burst"`
	Overrides    map[string]RateLimitOverride `yaml:"overrides"`

	GlobalRatePerS float64 `yaml:"global_rate_per_s"`
}

// RateLimitOverride is a per-endpoint bucket override
type RateLimitOverride struct {
	CapacityPerS float64 `yaml:"capacity_per_s"`
	Burst        float64 `yaml:"burst"`
}

// FeesConfig contains the global fee schedule in bps
type FeesConfig struct {
	MakerBps       float64 `yaml:"maker_bps"`
	TakerBps       float64 `yaml:"taker_bps"`
	MakerRebateBps float64 `yaml:"maker_rebate_bps"`
}

// StateConfig controls durability
type StateConfig struct {
	Durable  bool   `yaml:"durable"`
	StateDir string `yaml:"state_dir"`
	Backend  string `yaml:"backend"` // memory | sqlite
	Recover  bool   `yaml:"recover"`
}

// ReconConfig controls reconciliation cadence
type ReconConfig struct {
	IntervalSeconds float64 `yaml:"interval_seconds"`
}

// FakeConfig tunes the fake exchange
type FakeConfig struct {
	FillRate   float64 `yaml:"fill_rate"`
	RejectRate float64 `yaml:"reject_rate"`
	LatencyMs  int     `yaml:"latency_ms"`
	Seed       int64   `yaml:"seed"`
}

// ObsConfig controls the health/metrics HTTP server
type ObsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Host    string `yaml:"host"`
	Port    int    `yaml:"port"`
}

// ValidationError represents a configuration validation error
type ValidationError struct {
	Field   string
	Value   interface{}
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error for field '%s' (value: %v): %s", e.Field, e.Value, e.Message)
}

// DefaultConfig returns the shadow-run defaults
func DefaultConfig() *Config {
	return &Config{
		App: AppConfig{
			LogLevel: "INFO",
			Exchange: "fake",
			Mode:     "shadow",
			APIEnv:   "dev",
		},
		Trading: TradingConfig{
			Symbols:           []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"},
			Iterations:        10,
			MakerOnly:         true,
			PostOnlyOffsetBps: 1,
			MinQtyPad:         1.0,
			HalfSpreadBps:     5,
			OrderQty:          0.01,
			FilterTTLSeconds:  600,
		},
		Risk: RiskConfig{
			MaxInventoryUSDPerSymbol: 10000,
			MaxTotalNotionalUSD:      25000,
			EdgeFreezeThresholdBps:   200,
		},
		Resilience: ResilienceConfig{
			FailThreshold:   5,
			WindowSeconds:   30,
			CooldownSeconds: 10,
			MinDwellSeconds: 2,
			ProbeCount:      2,
			CapacityPerS:    10,
			Burst:           10,
			GlobalRatePerS:  50,
		},
		Fees: FeesConfig{
			MakerBps:       1,
			TakerBps:       5,
			MakerRebateBps: 0.5,
		},
		State: StateConfig{
			StateDir: "./state",
			Backend:  "memory",
		},
		Recon: ReconConfig{
			IntervalSeconds: 30,
		},
		Fake: FakeConfig{
			FillRate:   1.0,
			RejectRate: 0.0,
			Seed:       42,
		},
		Obs: ObsConfig{
			Host: "127.0.0.1",
			Port: 9464,
		},
	}
}

var envVarPattern = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnvVars substitutes ${VAR} references with environment values
func expandEnvVars(content string) string {
	return envVarPattern.ReplaceAllStringFunc(content, func(match string) string {
		name := match[2 : len(match)-1]
		if value, ok := os.LookupEnv(name); ok {
			return value
		}
		return match
	})
}

// LoadConfig loads configuration from a YAML file with environment
// variable expansion, merged over the defaults.
func LoadConfig(filename string) (*Config, error) {
	config := DefaultConfig()
	if filename == "" {
		return config, nil
	}

	data, err := os.ReadFile(filename)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	expandedData := expandEnvVars(string(data))
	if err := yaml.Unmarshal([]byte(expandedData), config); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	var errors []string

	validLevels := []string{"DEBUG", "INFO", "WARN", "ERROR", "FATAL"}
	if !contains(validLevels, strings.ToUpper(c.App.LogLevel)) {
		errors = append(errors, ValidationError{
			Field: "app.log_level", Value: c.App.LogLevel,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validLevels, ", ")),
		}.Error())
	}

	validExchanges := []string{"fake", "bybit"}
	if !contains(validExchanges, c.App.Exchange) {
		errors = append(errors, ValidationError{
			Field: "app.exchange", Value: c.App.Exchange,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validExchanges, ", ")),
		}.Error())
	}

	validModes := []string{"shadow", "dryrun"}
	if !contains(validModes, c.App.Mode) {
		errors = append(errors, ValidationError{
			Field: "app.mode", Value: c.App.Mode,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validModes, ", ")),
		}.Error())
	}

	validAPIEnvs := []string{"dev", "shadow", "soak", "prod"}
	if !contains(validAPIEnvs, c.App.APIEnv) {
		errors = append(errors, ValidationError{
			Field: "app.api_env", Value: c.App.APIEnv,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validAPIEnvs, ", ")),
		}.Error())
	}

	if len(c.Trading.Symbols) == 0 {
		errors = append(errors, ValidationError{
			Field: "trading.symbols", Message: "at least one symbol is required",
		}.Error())
	}
	if c.Trading.Iterations < 0 {
		errors = append(errors, ValidationError{
			Field: "trading.iterations", Value: c.Trading.Iterations,
			Message: "must be non-negative",
		}.Error())
	}
	if c.Trading.OrderQty <= 0 {
		errors = append(errors, ValidationError{
			Field: "trading.order_qty", Value: c.Trading.OrderQty,
			Message: "must be positive",
		}.Error())
	}
	if c.Trading.MinQtyPad < 1 {
		errors = append(errors, ValidationError{
			Field: "trading.min_qty_pad", Value: c.Trading.MinQtyPad,
			Message: "must be >= 1",
		}.Error())
	}

	if c.Risk.EdgeFreezeThresholdBps < 0 {
		errors = append(errors, ValidationError{
			Field: "risk.edge_freeze_threshold_bps", Value: c.Risk.EdgeFreezeThresholdBps,
			Message: "must be non-negative",
		}.Error())
	}

	if c.Resilience.FailThreshold < 1 {
		errors = append(errors, ValidationError{
			Field: "resilience.fail_threshold", Value: c.Resilience.FailThreshold,
			Message: "must be >= 1",
		}.Error())
	}
	if c.Resilience.CapacityPerS <= 0 {
		errors = append(errors, ValidationError{
			Field: "resilience.capacity_per_s", Value: c.Resilience.CapacityPerS,
			Message: "must be positive",
		}.Error())
	}
	if c.Resilience.Burst <= 0 {
		errors = append(errors, ValidationError{
			Field: "resilience.burst", Value: c.Resilience.Burst,
			Message: "must be positive",
		}.Error())
	}

	if c.Fake.FillRate < 0 || c.Fake.FillRate > 1 {
		errors = append(errors, ValidationError{
			Field: "fake.fill_rate", Value: c.Fake.FillRate,
			Message: "must be in [0, 1]",
		}.Error())
	}
	if c.Fake.RejectRate < 0 || c.Fake.RejectRate > 1 {
		errors = append(errors, ValidationError{
			Field: "fake.reject_rate", Value: c.Fake.RejectRate,
			Message: "must be in [0, 1]",
		}.Error())
	}

	validBackends := []string{"memory", "sqlite"}
	if !contains(validBackends, c.State.Backend) {
		errors = append(errors, ValidationError{
			Field: "state.backend", Value: c.State.Backend,
			Message: fmt.Sprintf("must be one of: %s", strings.Join(validBackends, ", ")),
		}.Error())
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed:\n%s", strings.Join(errors, "\n"))
	}
	return nil
}

// String renders the config with secrets masked
func (c *Config) String() string {
	masked := *c
	masked.App.APIKey = logging.MaskSecret(c.App.APIKey)
	masked.App.APISecret = logging.MaskSecret(c.App.APISecret)
	data, err := yaml.Marshal(&masked)
	if err != nil {
		return fmt.Sprintf("config (marshal error: %v)", err)
	}
	return string(data)
}

func contains(list []string, v string) bool {
	for _, item := range list {
		if item == v {
			return true
		}
	}
	return false
}
