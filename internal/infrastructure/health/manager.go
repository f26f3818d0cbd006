// Package health aggregates readiness probes and serves the HTTP
// observability surface.
package health

import (
	"sync"

	"mmexec/internal/core"
)

// Manager implements core.IHealthMonitor over named check functions
type Manager struct {
	mu     sync.RWMutex
	checks map[string]func() error
	logger core.ILogger
}

// NewManager creates an empty health manager
func NewManager(logger core.ILogger) *Manager {
	return &Manager{
		checks: make(map[string]func() error),
		logger: logger.WithField("component", "health"),
	}
}

// Register adds or replaces a named readiness probe
func (m *Manager) Register(component string, check func() error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.checks[component] = check
}

// GetStatus runs every probe and reports "ok" or the error string
func (m *Manager) GetStatus() map[string]string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	status := make(map[string]string, len(m.checks))
	for name, check := range m.checks {
		if err := check(); err != nil {
			status[name] = err.Error()
		} else {
			status[name] = "ok"
		}
	}
	return status
}

// IsHealthy reports whether every probe passes
func (m *Manager) IsHealthy() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()

	for name, check := range m.checks {
		if err := check(); err != nil {
			m.logger.Warn("Readiness probe failing", "probe", name, "error", err)
			return false
		}
	}
	return true
}
