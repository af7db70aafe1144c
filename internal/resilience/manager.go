// Package resilience coordinates the cache, circuit breaker, and health
// checker into a single degradation policy: when the backing store goes
// unhealthy the cache is switched to cache-only mode, and when the store
// recovers the switch is reversed.
package resilience

import (
	"context"
	"sync"
	"time"

	"github.com/animeta/animeta/internal/cache"
	"github.com/animeta/animeta/internal/circuit"
	"github.com/animeta/animeta/internal/health"
	"github.com/animeta/animeta/pkg/errors"
	"github.com/animeta/animeta/pkg/logging"
)

// Config represents resilience manager configuration.
type Config struct {
	// RecoveryCheckInterval rate-limits forced recovery probes and paces
	// the background recovery loop.
	RecoveryCheckInterval time.Duration `yaml:"recovery_check_interval"`
}

// DefaultConfig returns the default resilience configuration.
func DefaultConfig() Config {
	return Config{RecoveryCheckInterval: time.Minute}
}

// SystemStatus aggregates the state of every resilience participant into
// one diagnostic snapshot.
type SystemStatus struct {
	Degraded        bool                        `json:"degraded"`
	CacheOnlyMode   bool                        `json:"cache_only_mode"`
	CacheOnlyReason string                      `json:"cache_only_reason,omitempty"`
	DegradeCount    uint64                      `json:"degrade_count"`
	RecoverCount    uint64                      `json:"recover_count"`
	Health          health.Stats                `json:"health"`
	Breakers        map[string]circuit.Snapshot `json:"breakers"`
	Cache           cache.Stats                 `json:"cache"`
	LastDegradedAt  time.Time                   `json:"last_degraded_at,omitempty"`
	LastRecoveredAt time.Time                   `json:"last_recovered_at,omitempty"`
}

// Manager owns the degrade/recover policy. It never flips cache-only
// mode it did not engage itself, so an operator-forced cache-only mode
// survives a store recovery.
type Manager struct {
	mu     sync.Mutex
	config Config

	cache    *cache.Cache
	checker  *health.Checker
	breakers *circuit.Manager
	logger   *logging.Logger

	engaged         bool // cache-only mode engaged by this manager
	degradeCount    uint64
	recoverCount    uint64
	lastDegradedAt  time.Time
	lastRecoveredAt time.Time
	lastForcedCheck time.Time

	started bool
	stopped bool
	stopCh  chan struct{}
	done    chan struct{}
}

// NewManager wires the participants together. Initialize must be called
// before the policy takes effect.
func NewManager(c *cache.Cache, checker *health.Checker, breakers *circuit.Manager, config Config, logger *logging.Logger) *Manager {
	if config.RecoveryCheckInterval <= 0 {
		config.RecoveryCheckInterval = time.Minute
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Manager{
		config:   config,
		cache:    c,
		checker:  checker,
		breakers: breakers,
		logger:   logger.WithComponent("resilience"),
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Initialize registers the health status callback and starts the
// background recovery loop. Calling it twice is an error.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return errors.New(errors.CodeAlreadyStarted, "resilience manager already initialized")
	}
	m.started = true
	m.mu.Unlock()

	m.checker.OnStatusChange(m.onHealthChange)
	go m.recoveryLoop()

	m.logger.Info("resilience manager initialized")
	return nil
}

// Shutdown stops the recovery loop and the health checker this manager
// subscribed to, and releases any cache-only engagement it owns. Safe
// to call more than once and before Initialize.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	if m.stopped {
		m.mu.Unlock()
		return
	}
	m.stopped = true
	started := m.started
	close(m.stopCh)
	m.mu.Unlock()

	if started {
		<-m.done
		m.checker.Stop()
	}
	m.releaseIfEngaged("shutdown")
	m.logger.Info("resilience manager stopped")
}

// onHealthChange is the health checker callback. Transitions into
// UNHEALTHY engage cache-only mode; transitions into HEALTHY while this
// manager holds the engagement release it.
func (m *Manager) onHealthChange(old, new health.Status) {
	m.logger.Info("backing store health changed", logging.Fields{
		"from": string(old),
		"to":   string(new),
	})

	switch new {
	case health.StatusUnhealthy:
		m.engage("backing store unhealthy")
	case health.StatusHealthy:
		m.releaseIfEngaged("backing store recovered")
	}
}

// engage switches the cache to cache-only mode, recording that this
// manager owns the engagement.
func (m *Manager) engage(reason string) {
	m.mu.Lock()
	if m.engaged {
		m.mu.Unlock()
		return
	}
	m.engaged = true
	m.degradeCount++
	m.lastDegradedAt = time.Now()
	m.mu.Unlock()

	m.cache.EnableCacheOnlyMode(reason)
	m.logger.Warn("degraded to cache-only operation", logging.Fields{"reason": reason})
}

// releaseIfEngaged reverses an engagement made by this manager. A
// cache-only mode enabled by anyone else is left alone.
func (m *Manager) releaseIfEngaged(reason string) {
	m.mu.Lock()
	if !m.engaged {
		m.mu.Unlock()
		return
	}
	m.engaged = false
	m.recoverCount++
	m.lastRecoveredAt = time.Now()
	m.mu.Unlock()

	m.cache.DisableCacheOnlyMode()
	if m.breakers != nil {
		m.breakers.ResetAll()
	}
	m.logger.Info("recovered to full operation", logging.Fields{"reason": reason})
}

// ForceRecoveryCheck triggers an immediate health probe, rate-limited to
// one per RecoveryCheckInterval. It returns true when a probe was
// actually attempted.
func (m *Manager) ForceRecoveryCheck(ctx context.Context) bool {
	return m.tryRecoveryCheck(ctx)
}

// tryRecoveryCheck performs one rate-limited health check. The
// background recovery loop and ForceRecoveryCheck share this gate, so
// the store sees at most one extra check per RecoveryCheckInterval on
// top of the checker's own cadence.
func (m *Manager) tryRecoveryCheck(ctx context.Context) bool {
	m.mu.Lock()
	now := time.Now()
	if now.Sub(m.lastForcedCheck) < m.config.RecoveryCheckInterval {
		m.mu.Unlock()
		return false
	}
	m.lastForcedCheck = now
	m.mu.Unlock()

	status := m.checker.CheckNow(ctx)
	m.logger.Debug("recovery check", logging.Fields{"status": string(status)})
	return true
}

// IsDegraded reports whether this manager currently holds a cache-only
// engagement.
func (m *Manager) IsDegraded() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.engaged
}

// Status aggregates the current state of all participants.
func (m *Manager) Status() SystemStatus {
	m.mu.Lock()
	engaged := m.engaged
	degrades := m.degradeCount
	recovers := m.recoverCount
	degradedAt := m.lastDegradedAt
	recoveredAt := m.lastRecoveredAt
	m.mu.Unlock()

	status := SystemStatus{
		Degraded:        engaged,
		CacheOnlyMode:   m.cache.IsCacheOnlyMode(),
		CacheOnlyReason: m.cache.CacheOnlyReason(),
		DegradeCount:    degrades,
		RecoverCount:    recovers,
		Health:          m.checker.Stats(),
		Cache:           m.cache.Stats(),
		LastDegradedAt:  degradedAt,
		LastRecoveredAt: recoveredAt,
	}
	if m.breakers != nil {
		status.Breakers = m.breakers.Snapshots()
	}
	return status
}

// recoveryLoop nudges the health checker while degraded so recovery does
// not have to wait for organic traffic. The regular probe cadence is
// still the checker's own; this loop only adds pressure during an
// outage.
func (m *Manager) recoveryLoop() {
	defer close(m.done)

	ticker := time.NewTicker(m.config.RecoveryCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			if m.IsDegraded() {
				ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				m.tryRecoveryCheck(ctx)
				cancel()
			}
		}
	}
}
