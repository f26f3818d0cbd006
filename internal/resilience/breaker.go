// Package resilience guards exchange calls with a per-endpoint circuit
// breaker and a token-bucket rate limiter.
package resilience

import (
	"sync"
	"time"

	"mmexec/internal/core"
	apperrors "mmexec/pkg/errors"
	"mmexec/pkg/telemetry"
)

// BreakerState is a circuit breaker state
type BreakerState string

const (
	BreakerClosed   BreakerState = "CLOSED"
	BreakerOpen     BreakerState = "OPEN"
	BreakerHalfOpen BreakerState = "HALF_OPEN"
)

// gaugeValue maps states to the circuit_state gauge encoding
func (s BreakerState) gaugeValue() int64 {
	switch s {
	case BreakerOpen:
		return 1
	case BreakerHalfOpen:
		return 2
	}
	return 0
}

// BreakerConfig tunes a single endpoint's breaker
type BreakerConfig struct {
	FailThreshold int
	Window        time.Duration
	Cooldown      time.Duration
	MinDwell      time.Duration
	ProbeCount    int
}

// DefaultBreakerConfig matches production tuning for exchange REST calls
var DefaultBreakerConfig = BreakerConfig{
	FailThreshold: 5,
	Window:        30 * time.Second,
	Cooldown:      10 * time.Second,
	MinDwell:      2 * time.Second,
	ProbeCount:    2,
}

// Breaker is a sliding-window circuit breaker for one endpoint. All
// time arithmetic goes through the injected clock so transitions are
// testable; the system clock's monotonic reading makes production safe
// against wall-clock jumps.
type Breaker struct {
	mu       sync.Mutex
	cfg      BreakerConfig
	clock    core.Clock
	endpoint string
	logger   core.ILogger

	state          BreakerState
	stateSince     time.Time
	failures       []time.Time
	probeSuccesses int
	probesInFlight int
}

// NewBreaker creates a CLOSED breaker for endpoint
func NewBreaker(endpoint string, cfg BreakerConfig, clock core.Clock, logger core.ILogger) *Breaker {
	if clock == nil {
		clock = core.NewSystemClock()
	}
	b := &Breaker{
		cfg:        cfg,
		clock:      clock,
		endpoint:   endpoint,
		logger:     logger.WithField("component", "circuit_breaker").WithField("endpoint", endpoint),
		state:      BreakerClosed,
		stateSince: clock.Now(),
	}
	telemetry.GetGlobalMetrics().SetCircuitState(endpoint, BreakerClosed.gaugeValue())
	return b
}

// evict drops failure timestamps older than the window. Caller holds the lock.
func (b *Breaker) evict(now time.Time) {
	cutoff := now.Add(-b.cfg.Window)
	i := 0
	for ; i < len(b.failures); i++ {
		if b.failures[i].After(cutoff) {
			break
		}
	}
	if i > 0 {
		b.failures = b.failures[i:]
	}
}

// transition moves the state machine. Forced transitions bypass the
// anti-flapping dwell; entering CLOSED clears the failure window.
func (b *Breaker) transition(to BreakerState, forced bool) bool {
	now := b.clock.Now()
	if !forced && now.Sub(b.stateSince) < b.cfg.MinDwell {
		return false
	}
	from := b.state
	b.state = to
	b.stateSince = now
	b.probeSuccesses = 0
	b.probesInFlight = 0
	if to == BreakerClosed {
		b.failures = nil
	}
	telemetry.GetGlobalMetrics().SetCircuitState(b.endpoint, to.gaugeValue())
	b.logger.Info("Circuit breaker transition", "from", from, "to", to, "forced", forced)
	return true
}

// AllowRequest decides whether a call may proceed. Allowlisted calls
// always pass. In OPEN, elapsed cooldown (plus dwell) admits a probe
// via HALF_OPEN; HALF_OPEN admits at most ProbeCount in-flight probes.
func (b *Breaker) AllowRequest(isAllowlist bool) error {
	if isAllowlist {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case BreakerClosed:
		return nil
	case BreakerOpen:
		if b.clock.Now().Sub(b.stateSince) >= b.cfg.Cooldown && b.transition(BreakerHalfOpen, false) {
			b.probesInFlight = 1
			return nil
		}
		return apperrors.ErrBreakerOpen
	default: // HALF_OPEN
		if b.probesInFlight >= b.cfg.ProbeCount {
			return apperrors.ErrBreakerOpen
		}
		b.probesInFlight++
		return nil
	}
}

// RecordResult classifies err and feeds the state machine. Only
// transport-level failures count; rejections and validation errors are
// the caller's business.
func (b *Breaker) RecordResult(err error) {
	if err == nil {
		b.recordSuccess()
		return
	}
	if !apperrors.IsTransient(err) {
		b.mu.Lock()
		if b.state == BreakerHalfOpen && b.probesInFlight > 0 {
			b.probesInFlight--
		}
		b.mu.Unlock()
		return
	}
	b.recordFailure()
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != BreakerHalfOpen {
		return
	}
	if b.probesInFlight > 0 {
		b.probesInFlight--
	}
	b.probeSuccesses++
	if b.probeSuccesses >= b.cfg.ProbeCount {
		b.transition(BreakerClosed, true)
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.clock.Now()
	switch b.state {
	case BreakerHalfOpen:
		// A single probe failure reopens; the window is preserved so a
		// flapping endpoint does not get a clean slate.
		b.failures = append(b.failures, now)
		b.transition(BreakerOpen, true)
	case BreakerClosed:
		b.failures = append(b.failures, now)
		b.evict(now)
		if len(b.failures) >= b.cfg.FailThreshold {
			b.transition(BreakerOpen, true)
		}
	default: // OPEN: nothing to do, calls are already blocked
		b.failures = append(b.failures, now)
		b.evict(now)
	}
}

// State returns the current state
func (b *Breaker) State() BreakerState {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the live failure count within the window
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.evict(b.clock.Now())
	return len(b.failures)
}

// BreakerSet manages one breaker per logical endpoint
type BreakerSet struct {
	mu       sync.Mutex
	breakers map[string]*Breaker
	cfg      BreakerConfig
	clock    core.Clock
	logger   core.ILogger
}

// NewBreakerSet creates a set sharing one config across endpoints
func NewBreakerSet(cfg BreakerConfig, clock core.Clock, logger core.ILogger) *BreakerSet {
	return &BreakerSet{
		breakers: make(map[string]*Breaker),
		cfg:      cfg,
		clock:    clock,
		logger:   logger,
	}
}

// Get returns (creating on first use) the endpoint's breaker
func (s *BreakerSet) Get(endpoint string) *Breaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	b, ok := s.breakers[endpoint]
	if !ok {
		b = NewBreaker(endpoint, s.cfg, s.clock, s.logger)
		s.breakers[endpoint] = b
	}
	return b
}

// States returns a snapshot of every endpoint's state
func (s *BreakerSet) States() map[string]BreakerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]BreakerState, len(s.breakers))
	for ep, b := range s.breakers {
		out[ep] = b.State()
	}
	return out
}
