// Package apperrors defines the standardized error kinds of the
// execution core and the transport-failure classifier shared by the
// circuit breaker and retry policies.
package apperrors

import (
	"context"
	"errors"
	"net"
	"os"
	"strings"
)

var (
	// Validation / lifecycle
	ErrValidation        = errors.New("validation error")
	ErrInvalidTransition = errors.New("invalid_transition")
	ErrStateNotFound     = errors.New("order not found")

	// Pre-trade blocks (not failures)
	ErrRiskBlocked   = errors.New("risk blocked")
	ErrPolicyBlocked = errors.New("policy blocked")

	// Exchange / transport
	ErrExchangeReject = errors.New("order rejected")
	ErrBreakerOpen    = errors.New("circuit breaker open")
	ErrRateLimited    = errors.New("rate limit exceeded")

	// Fatal startup
	ErrLiveModeNotEnabled = errors.New("live mode not enabled: set MM_LIVE_ENABLE=1 to authorize live trading")
)

// transientMarkers are substrings of transport-level failures. HTTP 429
// and 5xx are spelled out the way adapter errors render them.
var transientMarkers = []string{
	"HTTP 429",
	"HTTP 500",
	"HTTP 502",
	"HTTP 503",
	"HTTP 504",
	"timeout",
	"timed out",
	"connection reset",
	"connection refused",
	"broken pipe",
	"EOF",
}

// nonTransientMarkers veto classification even when a transient marker
// also matches (e.g. a 4xx body mentioning "timeout").
var nonTransientMarkers = []string{
	"HTTP 400",
	"HTTP 401",
	"HTTP 403",
	"HTTP 404",
}

// IsTransient reports whether an error counts as a transport failure:
// HTTP 429, 5xx, timeouts, connection reset/refused. Validation errors
// and non-429 4xx do not count.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrValidation) || errors.Is(err, ErrPolicyBlocked) || errors.Is(err, ErrRiskBlocked) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, os.ErrDeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}

	msg := err.Error()
	for _, marker := range nonTransientMarkers {
		if strings.Contains(msg, marker) {
			return false
		}
	}
	for _, marker := range transientMarkers {
		if strings.Contains(msg, marker) {
			return true
		}
	}
	return false
}

// IsBlocked reports whether the error is a pre-trade block rather than a
// failure; blocks are counted and logged but never retried.
func IsBlocked(err error) bool {
	return errors.Is(err, ErrRiskBlocked) || errors.Is(err, ErrPolicyBlocked)
}
