// Package storage defines the backing-store boundary used by the cache
// engine for read-through and write-through, and provides the SQLite
// implementation used by the organizer.
package storage

import (
	"context"

	"github.com/animeta/animeta/pkg/retry"
)

// Store is the opaque key-value persistence boundary. "Not found" is a
// result, not an error, so callers can distinguish an absent key from an
// unavailable store by type rather than by inspecting error contents.
type Store interface {
	// Load fetches the payload for key. The boolean reports presence.
	Load(ctx context.Context, key string) ([]byte, bool, error)

	// Save persists the payload for key, overwriting any existing value.
	Save(ctx context.Context, key string, payload []byte) error

	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error

	// Ping is a cheap liveness probe.
	Ping(ctx context.Context) error
}

// retryingStore decorates a Store with transient-failure retries. It is
// the explicit replacement for decorator-style retry wrapping: retries
// apply only to errors the retryer classifies as transient.
type retryingStore struct {
	inner   Store
	retryer *retry.Retryer
}

// WithRetry wraps store so transient failures are retried with backoff.
func WithRetry(store Store, retryer *retry.Retryer) Store {
	if retryer == nil {
		return store
	}
	return &retryingStore{inner: store, retryer: retryer}
}

func (r *retryingStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	var payload []byte
	var found bool
	err := r.retryer.Do(ctx, func(ctx context.Context) error {
		var err error
		payload, found, err = r.inner.Load(ctx, key)
		return err
	})
	return payload, found, err
}

func (r *retryingStore) Save(ctx context.Context, key string, payload []byte) error {
	return r.retryer.Do(ctx, func(ctx context.Context) error {
		return r.inner.Save(ctx, key, payload)
	})
}

func (r *retryingStore) Delete(ctx context.Context, key string) error {
	return r.retryer.Do(ctx, func(ctx context.Context) error {
		return r.inner.Delete(ctx, key)
	})
}

func (r *retryingStore) Ping(ctx context.Context) error {
	// Probes are not retried: the health checker owns its own cadence
	// and a failed probe should count as exactly one failure.
	return r.inner.Ping(ctx)
}
