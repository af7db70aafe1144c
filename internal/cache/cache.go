// Package cache implements the bounded, thread-safe metadata cache with
// LRU+TTL eviction, transparent compression of large entries, and
// read-through/write-through against the backing store.
package cache

import (
	"container/list"
	"context"
	"path"
	"sync"
	"time"

	"github.com/animeta/animeta/internal/circuit"
	"github.com/animeta/animeta/internal/compress"
	"github.com/animeta/animeta/internal/storage"
	"github.com/animeta/animeta/pkg/errors"
	"github.com/animeta/animeta/pkg/logging"
	"github.com/animeta/animeta/pkg/types"
)

// Recorder receives cache events for metrics export. A nil Recorder
// disables recording.
type Recorder interface {
	CacheHit()
	CacheMiss()
	CacheEviction()
	CacheExpiration()
	CacheSize(entries int, memoryBytes int64)
	StoreOperation(op string, duration time.Duration, err error)
}

// Config represents cache engine configuration.
type Config struct {
	// MaxEntries caps the number of entries; 0 means unbounded.
	MaxEntries int `yaml:"max_entries"`

	// MaxMemoryBytes caps the aggregate estimated footprint; 0 means
	// unbounded.
	MaxMemoryBytes int64 `yaml:"max_memory_bytes"`

	// DefaultTTL applies to entries without a per-entry override; 0
	// means entries never expire.
	DefaultTTL time.Duration `yaml:"default_ttl"`

	// CleanupInterval paces both the background sweep and the
	// opportunistic sweep piggybacked on Put.
	CleanupInterval time.Duration `yaml:"cleanup_interval"`
}

// DefaultConfig returns the default cache configuration.
func DefaultConfig() Config {
	return Config{
		MaxEntries:      10000,
		MaxMemoryBytes:  256 * 1024 * 1024,
		DefaultTTL:      24 * time.Hour,
		CleanupInterval: time.Minute,
	}
}

// entry is one cached value. Large values are retained in their
// compressed envelope; small ones keep the decoded metadata. Exactly one
// of value/envelope is set.
type entry struct {
	key            string
	value          types.Metadata
	envelope       *compress.Envelope
	createdAt      time.Time
	lastAccessedAt time.Time
	accessCount    uint64
	sizeBytes      int64
	ttl            time.Duration // 0 means use the cache default
	element        *list.Element
}

// Cache is the resilient metadata cache engine. All mutable state is
// guarded by a single mutex; backing-store I/O happens outside it so
// foreground traffic on other keys is never stalled by a slow store.
type Cache struct {
	mu        sync.Mutex
	config    Config
	items     map[string]*entry
	evictList *list.List // front = most recently used
	expiry    ttlHeap
	stats     Stats

	cacheOnly       bool
	cacheOnlyReason string

	lastCleanup time.Time

	store    storage.Store
	breaker  *circuit.Breaker
	codec    *compress.Codec
	logger   *logging.Logger
	recorder Recorder

	stopCh chan struct{}
	done   chan struct{}
	closed bool
}

// Options carries the cache's collaborators. Store may be nil for a
// purely in-memory cache; Breaker may be nil to call the store directly.
type Options struct {
	Store    storage.Store
	Breaker  *circuit.Breaker
	Codec    *compress.Codec
	Logger   *logging.Logger
	Recorder Recorder
}

// New creates a cache engine and starts its background expiry sweep.
func New(config Config, opts Options) *Cache {
	if config.CleanupInterval <= 0 {
		config.CleanupInterval = time.Minute
	}
	if opts.Codec == nil {
		opts.Codec = compress.NewCodec(compress.DefaultConfig())
	}
	if opts.Logger == nil {
		opts.Logger = logging.NewNop()
	}

	c := &Cache{
		config:      config,
		items:       make(map[string]*entry),
		evictList:   list.New(),
		lastCleanup: time.Now(),
		store:       opts.Store,
		breaker:     opts.Breaker,
		codec:       opts.Codec,
		logger:      opts.Logger.WithComponent("cache"),
		recorder:    opts.Recorder,
		stopCh:      make(chan struct{}),
		done:        make(chan struct{}),
	}

	go c.sweepLoop()
	return c
}

// Close stops the background sweep. Safe to call more than once.
func (c *Cache) Close() {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return
	}
	c.closed = true
	close(c.stopCh)
	done := c.done
	c.mu.Unlock()
	<-done
}

// Get returns the cached value for key. A live hit promotes the entry to
// most-recently-used and decompresses transparently. On a miss (absent
// or expired) the cache read-throughs to the backing store unless
// cache-only mode is engaged; store failures degrade to a miss, never an
// error. The returned boolean reports presence; the error is non-nil
// only for invalid keys.
func (c *Cache) Get(ctx context.Context, key string) (types.Metadata, bool, error) {
	if err := validateKey(key); err != nil {
		return nil, false, err
	}

	value, found, cacheOnly := c.lookup(key)
	if found {
		return value, true, nil
	}
	if cacheOnly || c.store == nil {
		return nil, false, nil
	}

	// Read-through. The miss is already counted; a populated entry will
	// serve the next lookup as a hit.
	payload, found, err := c.storeLoad(ctx, key)
	if err != nil {
		c.mu.Lock()
		c.stats.ReadThroughFailures++
		c.mu.Unlock()
		if !errors.IsCircuitOpen(err) {
			c.logger.Warn("read-through failed", logging.Fields{"key": key, "error": err.Error()})
		}
		return nil, false, nil
	}
	if !found {
		return nil, false, nil
	}

	loaded, err := c.codec.DecodeMetadata(payload)
	if err != nil {
		c.logger.Error("read-through payload undecodable", logging.Fields{"key": key, "error": err.Error()})
		return nil, false, nil
	}

	if err := c.storeLocal(key, loaded, 0); err != nil {
		c.logger.Warn("read-through populate failed", logging.Fields{"key": key, "error": err.Error()})
	}
	return loaded, true, nil
}

// lookup performs the in-memory half of Get under the lock. It returns
// the decoded value on a live hit and the cache-only snapshot taken
// atomically with the lookup decision.
func (c *Cache) lookup(key string) (types.Metadata, bool, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.TotalRequests++
	now := time.Now()

	e, ok := c.items[key]
	if ok && c.isExpired(e, now) {
		c.removeEntry(e)
		c.stats.Expirations++
		c.stats.TTLMisses++
		if c.recorder != nil {
			c.recorder.CacheExpiration()
		}
		ok = false
	}
	if !ok {
		c.stats.Misses++
		if c.recorder != nil {
			c.recorder.CacheMiss()
		}
		return nil, false, c.cacheOnly
	}

	value, err := c.decodeEntry(e)
	if err != nil {
		// Corrupt retained payload: drop it and degrade to a miss.
		c.logger.Error("cached entry undecodable", logging.Fields{"key": key, "error": err.Error()})
		c.removeEntry(e)
		c.stats.Misses++
		if c.recorder != nil {
			c.recorder.CacheMiss()
		}
		return nil, false, c.cacheOnly
	}

	e.lastAccessedAt = now
	e.accessCount++
	c.evictList.MoveToFront(e.element)

	c.stats.Hits++
	if c.effectiveTTL(e) > 0 {
		c.stats.TTLHits++
	}
	if c.recorder != nil {
		c.recorder.CacheHit()
	}
	return value, true, c.cacheOnly
}

// Put validates and stores a value. Unless cache-only mode is engaged it
// writes through to the backing store first; a write-through failure is
// recorded but the local write still proceeds, since the store write can
// be retried independently while a missing cache entry cannot.
func (c *Cache) Put(ctx context.Context, key string, value types.Metadata, ttl time.Duration) error {
	if err := validateKey(key); err != nil {
		return err
	}
	if err := validateValue(value); err != nil {
		return err
	}

	cacheOnly := c.IsCacheOnlyMode()
	if !cacheOnly && c.store != nil {
		env, err := c.codec.EncodeMetadata(value)
		if err != nil {
			return err
		}
		blob, err := c.codec.MarshalEnvelope(env)
		if err != nil {
			return err
		}
		if err := c.storeSave(ctx, key, blob); err != nil {
			c.mu.Lock()
			c.stats.WriteThroughFailures++
			c.mu.Unlock()
			if !errors.IsCircuitOpen(err) {
				c.logger.Warn("write-through failed", logging.Fields{"key": key, "error": err.Error()})
			}
		}
	}

	return c.storeLocal(key, value, ttl)
}

// storeLocal inserts or overwrites the in-memory entry, applying the
// compression policy, enforcing both capacity caps, and scheduling TTL
// expiry.
func (c *Cache) storeLocal(key string, value types.Metadata, ttl time.Duration) error {
	env, err := c.codec.EncodeMetadata(value)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()

	if old, ok := c.items[key]; ok {
		c.stats.MemoryBytes -= old.sizeBytes
		c.evictList.Remove(old.element)
		delete(c.items, key)
	}

	e := &entry{
		key:            key,
		createdAt:      now,
		lastAccessedAt: now,
		ttl:            ttl,
	}
	if env.Compressed {
		e.envelope = env
		e.sizeBytes = int64(len(env.Data)) + 64
	} else {
		e.value = value.Clone()
		e.sizeBytes = value.EstimateSize()
	}

	e.element = c.evictList.PushFront(e)
	c.items[key] = e
	c.stats.MemoryBytes += e.sizeBytes
	c.stats.Entries = len(c.items)

	if eff := c.effectiveTTL(e); eff > 0 {
		c.expiry.push(key, e.createdAt.Add(eff))
	}

	c.enforceCapacity()

	if now.Sub(c.lastCleanup) >= c.config.CleanupInterval {
		c.sweepExpired(now)
		c.lastCleanup = now
	}

	if c.recorder != nil {
		c.recorder.CacheSize(len(c.items), c.stats.MemoryBytes)
	}
	return nil
}

// Delete removes key from the backing store (best effort) and from the
// local map. It reports whether the key was present locally.
func (c *Cache) Delete(ctx context.Context, key string) (bool, error) {
	if err := validateKey(key); err != nil {
		return false, err
	}

	if !c.IsCacheOnlyMode() && c.store != nil {
		if err := c.storeDelete(ctx, key); err != nil && !errors.IsCircuitOpen(err) {
			c.logger.Warn("backing-store delete failed", logging.Fields{"key": key, "error": err.Error()})
		}
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.items[key]
	if !ok {
		return false, nil
	}
	c.removeEntry(e)
	return true, nil
}

// Clear drops all entries and resets memory accounting. The backing
// store is untouched.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*entry)
	c.evictList.Init()
	c.expiry = nil
	c.stats.Entries = 0
	c.stats.MemoryBytes = 0
	if c.recorder != nil {
		c.recorder.CacheSize(0, 0)
	}
}

// InvalidatePattern removes all keys matching a glob-style pattern and
// returns the number removed.
func (c *Cache) InvalidatePattern(pattern string) (int, error) {
	if _, err := path.Match(pattern, ""); err != nil {
		return 0, errors.Newf(errors.CodeInvalidKey, "invalid glob pattern %q", pattern).WithCause(err)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var matched []*entry
	for key, e := range c.items {
		if ok, _ := path.Match(pattern, key); ok {
			matched = append(matched, e)
		}
	}
	for _, e := range matched {
		c.removeEntry(e)
	}
	return len(matched), nil
}

// EnableCacheOnlyMode makes get/put/delete skip all backing-store
// interaction entirely. The resilience manager uses this to shed
// backing-store load during an outage.
func (c *Cache) EnableCacheOnlyMode(reason string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.cacheOnly = true
	c.cacheOnlyReason = reason
	c.logger.Warn("cache-only mode enabled", logging.Fields{"reason": reason})
}

// DisableCacheOnlyMode restores backing-store interaction.
func (c *Cache) DisableCacheOnlyMode() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.cacheOnly {
		c.logger.Info("cache-only mode disabled")
	}
	c.cacheOnly = false
	c.cacheOnlyReason = ""
}

// IsCacheOnlyMode reports whether cache-only mode is engaged.
func (c *Cache) IsCacheOnlyMode() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheOnly
}

// CacheOnlyReason returns the reason recorded when the mode was engaged.
func (c *Cache) CacheOnlyReason() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.cacheOnlyReason
}

// Stats returns a snapshot of the running counters.
func (c *Cache) Stats() Stats {
	c.mu.Lock()
	defer c.mu.Unlock()
	stats := c.stats
	stats.Entries = len(c.items)
	return stats
}

// ResetStats zeroes the counters while preserving size accounting.
func (c *Cache) ResetStats() {
	c.mu.Lock()
	defer c.mu.Unlock()
	memory := c.stats.MemoryBytes
	c.stats = Stats{Entries: len(c.items), MemoryBytes: memory}
}

// CleanupExpired removes all currently-due entries and returns the
// number removed.
func (c *Cache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sweepExpired(time.Now())
}

// Len returns the number of live entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Keys returns a snapshot of all cached keys. Diagnostic use only.
func (c *Cache) Keys() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	keys := make([]string, 0, len(c.items))
	for key := range c.items {
		keys = append(keys, key)
	}
	return keys
}

// Internal helpers. All assume the lock is held unless noted.

func (c *Cache) effectiveTTL(e *entry) time.Duration {
	if e.ttl > 0 {
		return e.ttl
	}
	return c.config.DefaultTTL
}

// isExpired is a query against clock time; the expiry decision is never
// cached.
func (c *Cache) isExpired(e *entry, now time.Time) bool {
	eff := c.effectiveTTL(e)
	if eff <= 0 {
		return false
	}
	return now.Sub(e.createdAt) > eff
}

func (c *Cache) decodeEntry(e *entry) (types.Metadata, error) {
	if e.envelope != nil {
		return c.codec.DecodeEnvelope(e.envelope)
	}
	return e.value.Clone(), nil
}

func (c *Cache) removeEntry(e *entry) {
	if e.element != nil {
		c.evictList.Remove(e.element)
	}
	delete(c.items, e.key)
	c.stats.MemoryBytes -= e.sizeBytes
	c.stats.Entries = len(c.items)
}

// enforceCapacity evicts from the least-recently-used end until both the
// entry-count and memory caps hold.
func (c *Cache) enforceCapacity() {
	for c.config.MaxEntries > 0 && len(c.items) > c.config.MaxEntries {
		if !c.evictOldest() {
			return
		}
	}
	for c.config.MaxMemoryBytes > 0 && c.stats.MemoryBytes > c.config.MaxMemoryBytes {
		if !c.evictOldest() {
			return
		}
	}
}

func (c *Cache) evictOldest() bool {
	element := c.evictList.Back()
	if element == nil {
		return false
	}
	e := element.Value.(*entry)
	c.removeEntry(e)
	c.stats.Evictions++
	if c.recorder != nil {
		c.recorder.CacheEviction()
	}
	return true
}

// sweepExpired pops due heap items, re-validating each against the
// authoritative map before evicting: an item whose scheduled expiry no
// longer matches the live entry is stale (the entry was overwritten) and
// is discarded without touching the entry.
func (c *Cache) sweepExpired(now time.Time) int {
	removed := 0
	for {
		item, ok := c.expiry.peek()
		if !ok || item.expiresAt.After(now) {
			break
		}
		item = c.expiry.pop()

		e, exists := c.items[item.key]
		if !exists {
			continue
		}
		eff := c.effectiveTTL(e)
		if eff <= 0 || !e.createdAt.Add(eff).Equal(item.expiresAt) {
			continue // stale heap item
		}
		c.removeEntry(e)
		c.stats.Expirations++
		removed++
		if c.recorder != nil {
			c.recorder.CacheExpiration()
		}
	}
	return removed
}

func (c *Cache) sweepLoop() {
	defer close(c.done)

	ticker := time.NewTicker(c.config.CleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.stopCh:
			return
		case <-ticker.C:
			c.mu.Lock()
			c.sweepExpired(time.Now())
			c.lastCleanup = time.Now()
			c.mu.Unlock()
		}
	}
}

// Backing-store calls, routed through the circuit breaker when one is
// configured. These run outside the cache lock.

func (c *Cache) storeLoad(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	var found bool
	start := time.Now()
	err := c.execute(ctx, func(ctx context.Context) error {
		var err error
		payload, found, err = c.store.Load(ctx, key)
		return err
	})
	c.recordStoreOp("load", start, err)
	return payload, found, err
}

func (c *Cache) storeSave(ctx context.Context, key string, blob []byte) error {
	start := time.Now()
	err := c.execute(ctx, func(ctx context.Context) error {
		return c.store.Save(ctx, key, blob)
	})
	c.recordStoreOp("save", start, err)
	return err
}

func (c *Cache) storeDelete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.execute(ctx, func(ctx context.Context) error {
		return c.store.Delete(ctx, key)
	})
	c.recordStoreOp("delete", start, err)
	return err
}

func (c *Cache) execute(ctx context.Context, fn func(context.Context) error) error {
	if c.breaker == nil {
		return fn(ctx)
	}
	return c.breaker.Execute(ctx, fn)
}

func (c *Cache) recordStoreOp(op string, start time.Time, err error) {
	if c.recorder != nil {
		c.recorder.StoreOperation(op, time.Since(start), err)
	}
}
