package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultConfigValidates(t *testing.T) {
	cfg := DefaultConfig()
	assert.NoError(t, cfg.Validate())
	assert.Equal(t, "fake", cfg.App.Exchange)
	assert.Equal(t, "shadow", cfg.App.Mode)
	assert.Equal(t, "memory", cfg.State.Backend)
	assert.Equal(t, []string{"BTCUSDT", "ETHUSDT", "SOLUSDT"}, cfg.Trading.Symbols)
}

func TestValidateRejectsBadValues(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Config)
		field  string
	}{
		{"bad log level", func(c *Config) { c.App.LogLevel = "TRACE" }, "app.log_level"},
		{"bad exchange", func(c *Config) { c.App.Exchange = "binance" }, "app.exchange"},
		{"bad mode", func(c *Config) { c.App.Mode = "live" }, "app.mode"},
		{"bad api env", func(c *Config) { c.App.APIEnv = "staging" }, "app.api_env"},
		{"no symbols", func(c *Config) { c.Trading.Symbols = nil }, "trading.symbols"},
		{"negative iterations", func(c *Config) { c.Trading.Iterations = -1 }, "trading.iterations"},
		{"zero order qty", func(c *Config) { c.Trading.OrderQty = 0 }, "trading.order_qty"},
		{"pad below one", func(c *Config) { c.Trading.MinQtyPad = 0.5 }, "trading.min_qty_pad"},
		{"negative edge threshold", func(c *Config) { c.Risk.EdgeFreezeThresholdBps = -1 }, "risk.edge_freeze_threshold_bps"},
		{"zero fail threshold", func(c *Config) { c.Resilience.FailThreshold = 0 }, "resilience.fail_threshold"},
		{"fill rate above one", func(c *Config) { c.Fake.FillRate = 1.5 }, "fake.fill_rate"},
		{"bad backend", func(c *Config) { c.State.Backend = "redis" }, "state.backend"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.field)
		})
	}
}

func TestValidateCollectsAllErrors(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.Mode = "live"
	cfg.State.Backend = "redis"

	err := cfg.Validate()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.mode")
	assert.Contains(t, err.Error(), "state.backend")
}

func TestLoadConfigEmptyPathReturnsDefaults(t *testing.T) {
	cfg, err := LoadConfig("")
	require.NoError(t, err)
	assert.Equal(t, DefaultConfig(), cfg)
}

func TestLoadConfigMergesOverDefaults(t *testing.T) {
	content := `
app:
  log_level: DEBUG
trading:
  iterations: 3
  symbols: ["BTCUSDT"]
state:
  backend: sqlite
  durable: true
`
	path := writeTempConfig(t, content)

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "DEBUG", cfg.App.LogLevel)
	assert.Equal(t, 3, cfg.Trading.Iterations)
	assert.Equal(t, []string{"BTCUSDT"}, cfg.Trading.Symbols)
	assert.Equal(t, "sqlite", cfg.State.Backend)
	assert.True(t, cfg.State.Durable)
	// Untouched sections keep their defaults
	assert.Equal(t, "fake", cfg.App.Exchange)
	assert.Equal(t, 1.0, cfg.Fake.FillRate)
}

func TestLoadConfigRejectsInvalidFile(t *testing.T) {
	path := writeTempConfig(t, "app:\n  mode: live\n")
	_, err := LoadConfig(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "app.mode")
}

func TestLoadConfigMissingFile(t *testing.T) {
	_, err := LoadConfig(filepath.Join(t.TempDir(), "nope.yaml"))
	assert.Error(t, err)
}

func TestExpandEnvVars(t *testing.T) {
	t.Setenv("TEST_MM_API_KEY", "key-from-env")
	os.Unsetenv("TEST_MM_MISSING")

	content := "api_key: ${TEST_MM_API_KEY}\napi_secret: ${TEST_MM_MISSING}\n"
	expanded := expandEnvVars(content)
	assert.Contains(t, expanded, "api_key: key-from-env")
	// Unset references stay literal rather than collapsing to empty
	assert.Contains(t, expanded, "api_secret: ${TEST_MM_MISSING}")
}

func TestStringMasksSecrets(t *testing.T) {
	cfg := DefaultConfig()
	cfg.App.APIKey = "super-secret-key"
	cfg.App.APISecret = "super-secret-value"

	rendered := cfg.String()
	assert.NotContains(t, rendered, "super-secret-key")
	assert.NotContains(t, rendered, "super-secret-value")
	assert.Contains(t, rendered, "sup")
}

func writeTempConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}
