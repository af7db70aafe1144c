// Package health implements the background prober that watches the
// backing store and reports status transitions with hysteresis.
package health

import (
	"context"
	"sync"
	"time"

	"github.com/animeta/animeta/internal/storage"
	"github.com/animeta/animeta/pkg/errors"
	"github.com/animeta/animeta/pkg/logging"
)

// Status is the reported health of the backing store.
type Status string

const (
	StatusHealthy   Status = "healthy"
	StatusUnhealthy Status = "unhealthy"
	StatusUnknown   Status = "unknown"
)

// Config represents health checker configuration.
type Config struct {
	// Interval between background probes.
	Interval time.Duration `yaml:"interval"`

	// ProbeTimeout bounds each probe independently of the interval so a
	// hung probe never blocks the next scheduled one.
	ProbeTimeout time.Duration `yaml:"probe_timeout"`

	// FailureThreshold is the consecutive failures required to flip to
	// UNHEALTHY.
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryThreshold is the consecutive successes required to flip to
	// HEALTHY.
	RecoveryThreshold int `yaml:"recovery_threshold"`
}

// DefaultConfig returns the default checker configuration.
func DefaultConfig() Config {
	return Config{
		Interval:          30 * time.Second,
		ProbeTimeout:      5 * time.Second,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
	}
}

// Stats tracks cumulative checker statistics.
type Stats struct {
	Status               Status    `json:"status"`
	TotalChecks          uint64    `json:"total_checks"`
	SuccessfulChecks     uint64    `json:"successful_checks"`
	FailedChecks         uint64    `json:"failed_checks"`
	ConsecutiveSuccesses int       `json:"consecutive_successes"`
	ConsecutiveFailures  int       `json:"consecutive_failures"`
	LastCheck            time.Time `json:"last_check"`
	LastSuccess          time.Time `json:"last_success"`
	LastFailure          time.Time `json:"last_failure"`
	LastError            string    `json:"last_error,omitempty"`
}

// StatusCallback is invoked on status transitions with the old and new
// status. Panics are recovered and logged, never propagated.
type StatusCallback func(old, new Status)

// Checker periodically probes the backing store. Status transitions use
// hysteresis so an isolated failed or successful probe never flips the
// reported status, except from the initial UNKNOWN which resolves on the
// first outcome.
type Checker struct {
	mu        sync.Mutex
	config    Config
	store     storage.Store
	logger    *logging.Logger
	status    Status
	stats     Stats
	callbacks []StatusCallback
	stopCh    chan struct{}
	done      chan struct{}
	started   bool
}

// NewChecker creates a checker probing store.
func NewChecker(store storage.Store, config Config, logger *logging.Logger) *Checker {
	if config.Interval <= 0 {
		config.Interval = 30 * time.Second
	}
	if config.ProbeTimeout <= 0 {
		config.ProbeTimeout = 5 * time.Second
	}
	if config.FailureThreshold <= 0 {
		config.FailureThreshold = 3
	}
	if config.RecoveryThreshold <= 0 {
		config.RecoveryThreshold = 2
	}
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Checker{
		config: config,
		store:  store,
		logger: logger.WithComponent("health"),
		status: StatusUnknown,
		stats:  Stats{Status: StatusUnknown},
	}
}

// OnStatusChange registers a callback for status transitions.
func (c *Checker) OnStatusChange(cb StatusCallback) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.callbacks = append(c.callbacks, cb)
}

// Start launches the background probe loop.
func (c *Checker) Start() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.started {
		return errors.New(errors.CodeAlreadyStarted, "health checker already started").
			WithComponent("health")
	}
	c.started = true
	c.stopCh = make(chan struct{})
	c.done = make(chan struct{})

	go c.loop(c.stopCh, c.done)
	c.logger.Info("health checker started", logging.Fields{
		"interval":      c.config.Interval.String(),
		"probe_timeout": c.config.ProbeTimeout.String(),
	})
	return nil
}

// Stop halts the background loop and waits for it to exit. Safe to call
// more than once.
func (c *Checker) Stop() {
	c.mu.Lock()
	if !c.started {
		c.mu.Unlock()
		return
	}
	c.started = false
	close(c.stopCh)
	done := c.done
	c.mu.Unlock()

	<-done
	c.logger.Info("health checker stopped")
}

func (c *Checker) loop(stopCh <-chan struct{}, done chan<- struct{}) {
	defer close(done)

	ticker := time.NewTicker(c.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			c.CheckNow(context.Background())
		}
	}
}

// CheckNow performs one synchronous probe, updates state, and returns
// the resulting status. Callers can force a check without waiting for
// the next scheduled tick.
func (c *Checker) CheckNow(ctx context.Context) Status {
	probeCtx, cancel := context.WithTimeout(ctx, c.config.ProbeTimeout)
	err := c.store.Ping(probeCtx)
	cancel()

	return c.recordOutcome(err)
}

// recordOutcome applies hysteresis and fires callbacks on transitions.
func (c *Checker) recordOutcome(err error) Status {
	c.mu.Lock()

	now := time.Now()
	c.stats.TotalChecks++
	c.stats.LastCheck = now

	old := c.status
	if err == nil {
		c.stats.SuccessfulChecks++
		c.stats.LastSuccess = now
		c.stats.ConsecutiveFailures = 0
		c.stats.ConsecutiveSuccesses++
		c.stats.LastError = ""

		if old == StatusUnknown || c.stats.ConsecutiveSuccesses >= c.config.RecoveryThreshold {
			c.status = StatusHealthy
		}
	} else {
		c.stats.FailedChecks++
		c.stats.LastFailure = now
		c.stats.ConsecutiveSuccesses = 0
		c.stats.ConsecutiveFailures++
		c.stats.LastError = err.Error()

		if old == StatusUnknown || c.stats.ConsecutiveFailures >= c.config.FailureThreshold {
			c.status = StatusUnhealthy
		}
	}

	newStatus := c.status
	c.stats.Status = newStatus
	var callbacks []StatusCallback
	if newStatus != old {
		callbacks = make([]StatusCallback, len(c.callbacks))
		copy(callbacks, c.callbacks)
	}
	c.mu.Unlock()

	if newStatus != old {
		c.logger.Warn("health status changed", logging.Fields{
			"old": string(old),
			"new": string(newStatus),
		})
		for _, cb := range callbacks {
			c.invoke(cb, old, newStatus)
		}
	}
	return newStatus
}

// invoke runs one callback, recovering panics so observers never break
// the probe path.
func (c *Checker) invoke(cb StatusCallback, old, new Status) {
	defer func() {
		if r := recover(); r != nil {
			c.logger.Error("health status callback panicked", logging.Fields{
				"panic": r,
			})
		}
	}()
	cb(old, new)
}

// Status returns the current reported status.
func (c *Checker) Status() Status {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// Stats returns a snapshot of cumulative statistics.
func (c *Checker) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
