// Package exchange provides the exchange adapters: a deterministic fake
// for tests and shadow runs, a dry-run adapter that signs but never
// sends, and the resilient router that fronts whichever adapter is
// active.
package exchange

import (
	"fmt"
	"os"

	apperrors "mmexec/pkg/errors"
)

const (
	// LiveEnableEnv is the dual-consent toggle for live trading
	LiveEnableEnv = "MM_LIVE_ENABLE"

	// ExchangeEnvVar selects the secret environment mapping
	ExchangeEnvVar = "EXCHANGE_ENV"
)

// SecretEnvFor maps the exchange environment to the secrets namespace
func SecretEnvFor(exchangeEnv string) (string, error) {
	switch exchangeEnv {
	case "shadow", "":
		return "dev", nil
	case "testnet":
		return "testnet", nil
	case "live":
		return "prod", nil
	}
	return "", fmt.Errorf("unknown %s value %q", ExchangeEnvVar, exchangeEnv)
}

// AuthorizeLive enforces the kill-switch: a networked, non-testnet run
// starts only when MM_LIVE_ENABLE=1. Shadow and testnet bypass.
func AuthorizeLive(network, testnet bool) error {
	if !network || testnet {
		return nil
	}
	if os.Getenv(LiveEnableEnv) != "1" {
		return apperrors.ErrLiveModeNotEnabled
	}
	return nil
}
