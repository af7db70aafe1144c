// Package animeta assembles the resilient metadata cache: a bounded
// in-memory LRU+TTL cache backed by a local SQLite store, guarded by a
// circuit breaker and a health checker, with automatic degradation to
// cache-only operation when the store misbehaves.
package animeta

import (
	"context"
	"os"
	"strings"
	"time"

	"github.com/animeta/animeta/internal/cache"
	"github.com/animeta/animeta/internal/circuit"
	"github.com/animeta/animeta/internal/compress"
	"github.com/animeta/animeta/internal/config"
	"github.com/animeta/animeta/internal/health"
	"github.com/animeta/animeta/internal/metrics"
	"github.com/animeta/animeta/internal/resilience"
	"github.com/animeta/animeta/internal/storage"
	"github.com/animeta/animeta/pkg/logging"
	"github.com/animeta/animeta/pkg/retry"
	"github.com/animeta/animeta/pkg/types"
)

// System is the fully wired metadata cache. Construct one with Open and
// release it with Close.
type System struct {
	config *config.Configuration
	logger *logging.Logger

	store      *storage.SQLiteStore
	breakers   *circuit.Manager
	cache      *cache.Cache
	checker    *health.Checker
	resilience *resilience.Manager
	collector  *metrics.Collector

	logFile *os.File
}

// Open wires every subsystem from the configuration and starts the
// background loops (health probes, expiry sweep, recovery checks,
// metrics endpoint). A nil configuration uses defaults.
func Open(cfg *config.Configuration) (*System, error) {
	if cfg == nil {
		cfg = config.NewDefault()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	s := &System{config: cfg}

	logger, logFile, err := buildLogger(cfg.Logging)
	if err != nil {
		return nil, err
	}
	s.logger = logger
	s.logFile = logFile

	collector, err := metrics.NewCollector(cfg.Metrics)
	if err != nil {
		s.closePartial()
		return nil, err
	}
	s.collector = collector

	store, err := storage.OpenSQLite(storage.SQLiteConfig{Path: cfg.Storage.Path}, logger)
	if err != nil {
		s.closePartial()
		return nil, err
	}
	s.store = store

	retried := storage.WithRetry(store, retry.New(cfg.Retry))

	breakerConfig := cfg.Breaker
	breakerConfig.OnStateChange = func(name string, from, to circuit.State) {
		logger.WithComponent("circuit").Warn("breaker state changed", logging.Fields{
			"breaker": name,
			"from":    from.String(),
			"to":      to.String(),
		})
		collector.SetBreakerState(name, int(to))
	}
	s.breakers = circuit.NewManager(breakerConfig)
	breaker := s.breakers.Get("metadata-store")

	codec := compress.NewCodec(cfg.Compression)

	s.cache = cache.New(cfg.Cache, cache.Options{
		Store:    retried,
		Breaker:  breaker,
		Codec:    codec,
		Logger:   logger,
		Recorder: collector,
	})

	s.checker = health.NewChecker(retried, cfg.Health, logger)
	s.checker.OnStatusChange(func(old, new health.Status) {
		switch new {
		case health.StatusHealthy:
			collector.SetHealthStatus(1)
		case health.StatusUnhealthy:
			collector.SetHealthStatus(0)
		default:
			collector.SetHealthStatus(-1)
		}
	})

	s.resilience = resilience.NewManager(s.cache, s.checker, s.breakers, cfg.Resilience, logger)

	if err := s.checker.Start(); err != nil {
		s.closePartial()
		return nil, err
	}
	if err := s.resilience.Initialize(); err != nil {
		s.closePartial()
		return nil, err
	}
	if err := collector.Start(); err != nil {
		s.closePartial()
		return nil, err
	}

	logger.Info("metadata cache system started", logging.Fields{
		"db_path":     cfg.Storage.Path,
		"max_entries": cfg.Cache.MaxEntries,
	})
	return s, nil
}

// Get returns the metadata cached under key, reading through to the
// store on a miss.
func (s *System) Get(ctx context.Context, key string) (types.Metadata, bool, error) {
	return s.cache.Get(ctx, key)
}

// Put stores metadata under key with an optional per-entry TTL (0 uses
// the configured default).
func (s *System) Put(ctx context.Context, key string, value types.Metadata, ttl time.Duration) error {
	return s.cache.Put(ctx, key, value, ttl)
}

// Delete removes key from cache and store.
func (s *System) Delete(ctx context.Context, key string) (bool, error) {
	return s.cache.Delete(ctx, key)
}

// InvalidatePattern removes all cached keys matching a glob pattern.
func (s *System) InvalidatePattern(pattern string) (int, error) {
	return s.cache.InvalidatePattern(pattern)
}

// Cache exposes the cache engine for direct control (clear, stats,
// cache-only mode).
func (s *System) Cache() *cache.Cache { return s.cache }

// Health exposes the backing-store health checker.
func (s *System) Health() *health.Checker { return s.checker }

// Resilience exposes the degradation policy manager.
func (s *System) Resilience() *resilience.Manager { return s.resilience }

// Status aggregates the state of all subsystems.
func (s *System) Status() resilience.SystemStatus {
	status := s.resilience.Status()
	s.collector.SetDegraded(status.Degraded)
	return status
}

// Close shuts the subsystems down in reverse dependency order. Safe to
// call more than once.
func (s *System) Close() error {
	s.resilience.Shutdown()
	s.checker.Stop()
	s.cache.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.collector.Stop(ctx); err != nil {
		s.logger.Warn("metrics shutdown failed", logging.Fields{"error": err.Error()})
	}

	err := s.store.Close()
	if s.logFile != nil {
		s.logFile.Close()
		s.logFile = nil
	}
	return err
}

// closePartial releases whatever Open managed to construct before
// failing.
func (s *System) closePartial() {
	if s.cache != nil {
		s.cache.Close()
	}
	if s.checker != nil {
		s.checker.Stop()
	}
	if s.resilience != nil {
		s.resilience.Shutdown()
	}
	if s.store != nil {
		s.store.Close()
	}
	if s.logFile != nil {
		s.logFile.Close()
	}
}

func buildLogger(cfg config.LoggingConfig) (*logging.Logger, *os.File, error) {
	logConfig := logging.Config{Level: logging.ParseLevel(cfg.Level), Output: os.Stdout}
	if strings.EqualFold(cfg.Format, "json") {
		logConfig.Format = logging.FormatJSON
	} else {
		logConfig.Format = logging.FormatText
	}

	var file *os.File
	if cfg.File != "" {
		f, err := os.OpenFile(cfg.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0640)
		if err != nil {
			return nil, nil, err
		}
		file = f
		logConfig.Output = file
	}

	return logging.New(logConfig), file, nil
}
