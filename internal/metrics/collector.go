// Package metrics exposes cache, circuit breaker, and health telemetry
// over a Prometheus endpoint.
package metrics

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Config represents metrics configuration.
type Config struct {
	Enabled   bool   `yaml:"enabled"`
	Port      int    `yaml:"port"`
	Path      string `yaml:"path"`
	Namespace string `yaml:"namespace"`
}

// DefaultConfig returns the default metrics configuration.
func DefaultConfig() Config {
	return Config{
		Enabled:   true,
		Port:      9091,
		Path:      "/metrics",
		Namespace: "animeta",
	}
}

// Collector implements the cache engine's Recorder interface and carries
// the breaker/health gauges updated by the assembly layer. A disabled
// collector is a no-op on every method.
type Collector struct {
	config   Config
	registry *prometheus.Registry

	cacheEvents   *prometheus.CounterVec
	cacheEntries  prometheus.Gauge
	cacheMemory   prometheus.Gauge
	storeDuration *prometheus.HistogramVec
	storeErrors   *prometheus.CounterVec
	breakerState  *prometheus.GaugeVec
	healthStatus  prometheus.Gauge
	degraded      prometheus.Gauge

	server *http.Server
}

// NewCollector creates a collector and registers its metrics on a fresh
// registry.
func NewCollector(config Config) (*Collector, error) {
	if config.Path == "" {
		config.Path = "/metrics"
	}
	if config.Namespace == "" {
		config.Namespace = "animeta"
	}
	if !config.Enabled {
		return &Collector{config: config}, nil
	}

	c := &Collector{
		config:   config,
		registry: prometheus.NewRegistry(),
	}

	c.cacheEvents = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: "cache",
		Name:      "events_total",
		Help:      "Cache events by type (hit, miss, eviction, expiration).",
	}, []string{"event"})

	c.cacheEntries = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: "cache",
		Name:      "entries",
		Help:      "Number of live cache entries.",
	})

	c.cacheMemory = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: "cache",
		Name:      "memory_bytes",
		Help:      "Estimated memory footprint of cached entries.",
	})

	c.storeDuration = prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: config.Namespace,
		Subsystem: "store",
		Name:      "operation_duration_seconds",
		Help:      "Backing store operation latency.",
		Buckets:   prometheus.DefBuckets,
	}, []string{"operation"})

	c.storeErrors = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: config.Namespace,
		Subsystem: "store",
		Name:      "operation_errors_total",
		Help:      "Backing store operation failures.",
	}, []string{"operation"})

	c.breakerState = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: "circuit",
		Name:      "breaker_state",
		Help:      "Circuit breaker state (0=closed, 1=open, 2=half-open).",
	}, []string{"name"})

	c.healthStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Subsystem: "health",
		Name:      "store_healthy",
		Help:      "Backing store health (1=healthy, 0=unhealthy, -1=unknown).",
	})

	c.degraded = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: config.Namespace,
		Name:      "degraded",
		Help:      "Whether the system is running in cache-only mode.",
	})

	collectors := []prometheus.Collector{
		c.cacheEvents, c.cacheEntries, c.cacheMemory,
		c.storeDuration, c.storeErrors,
		c.breakerState, c.healthStatus, c.degraded,
	}
	for _, collector := range collectors {
		if err := c.registry.Register(collector); err != nil {
			return nil, fmt.Errorf("failed to register metrics: %w", err)
		}
	}

	return c, nil
}

// Start serves the metrics endpoint in the background.
func (c *Collector) Start() error {
	if !c.config.Enabled {
		return nil
	}

	mux := http.NewServeMux()
	mux.Handle(c.config.Path, promhttp.HandlerFor(c.registry, promhttp.HandlerOpts{
		EnableOpenMetrics: true,
	}))

	c.server = &http.Server{
		Addr:              fmt.Sprintf(":%d", c.config.Port),
		Handler:           mux,
		ReadHeaderTimeout: 30 * time.Second,
		ReadTimeout:       60 * time.Second,
		WriteTimeout:      60 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	go func() {
		if err := c.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			fmt.Printf("metrics server error: %v\n", err)
		}
	}()
	return nil
}

// Stop shuts the metrics endpoint down.
func (c *Collector) Stop(ctx context.Context) error {
	if c.server == nil {
		return nil
	}
	return c.server.Shutdown(ctx)
}

// Registry exposes the underlying registry for tests.
func (c *Collector) Registry() *prometheus.Registry {
	return c.registry
}

// CacheHit implements cache.Recorder.
func (c *Collector) CacheHit() {
	if c.registry == nil {
		return
	}
	c.cacheEvents.WithLabelValues("hit").Inc()
}

// CacheMiss implements cache.Recorder.
func (c *Collector) CacheMiss() {
	if c.registry == nil {
		return
	}
	c.cacheEvents.WithLabelValues("miss").Inc()
}

// CacheEviction implements cache.Recorder.
func (c *Collector) CacheEviction() {
	if c.registry == nil {
		return
	}
	c.cacheEvents.WithLabelValues("eviction").Inc()
}

// CacheExpiration implements cache.Recorder.
func (c *Collector) CacheExpiration() {
	if c.registry == nil {
		return
	}
	c.cacheEvents.WithLabelValues("expiration").Inc()
}

// CacheSize implements cache.Recorder.
func (c *Collector) CacheSize(entries int, memoryBytes int64) {
	if c.registry == nil {
		return
	}
	c.cacheEntries.Set(float64(entries))
	c.cacheMemory.Set(float64(memoryBytes))
}

// StoreOperation implements cache.Recorder.
func (c *Collector) StoreOperation(op string, duration time.Duration, err error) {
	if c.registry == nil {
		return
	}
	c.storeDuration.WithLabelValues(op).Observe(duration.Seconds())
	if err != nil {
		c.storeErrors.WithLabelValues(op).Inc()
	}
}

// SetBreakerState records a breaker state transition. The value follows
// circuit.State numbering: 0=closed, 1=open, 2=half-open.
func (c *Collector) SetBreakerState(name string, state int) {
	if c.registry == nil {
		return
	}
	c.breakerState.WithLabelValues(name).Set(float64(state))
}

// SetHealthStatus records the probed store health.
func (c *Collector) SetHealthStatus(healthy float64) {
	if c.registry == nil {
		return
	}
	c.healthStatus.Set(healthy)
}

// SetDegraded records whether cache-only mode is engaged.
func (c *Collector) SetDegraded(degraded bool) {
	if c.registry == nil {
		return
	}
	if degraded {
		c.degraded.Set(1)
	} else {
		c.degraded.Set(0)
	}
}
