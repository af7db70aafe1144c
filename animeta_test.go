package animeta

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/animeta/animeta/internal/config"
	"github.com/animeta/animeta/internal/health"
	"github.com/animeta/animeta/pkg/types"
)

func openTestSystem(t *testing.T) *System {
	t.Helper()

	cfg := config.NewDefault()
	cfg.Storage.Path = filepath.Join(t.TempDir(), "meta.db")
	cfg.Metrics.Enabled = false
	cfg.Health.Interval = time.Hour
	cfg.Cache.CleanupInterval = time.Hour

	sys, err := Open(cfg)
	require.NoError(t, err)
	t.Cleanup(func() { _ = sys.Close() })
	return sys
}

func TestSystemPutGet(t *testing.T) {
	t.Parallel()

	sys := openTestSystem(t)
	ctx := context.Background()

	remote := &types.RemoteMetadata{ID: 1, Title: "Cowboy Bebop", Episodes: 26}
	require.NoError(t, sys.Put(ctx, "remote:1", remote, 0))

	got, found, err := sys.Get(ctx, "remote:1")
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "Cowboy Bebop", got.(*types.RemoteMetadata).Title)
}

func TestSystemPersistsAcrossReopen(t *testing.T) {
	t.Parallel()

	dbPath := filepath.Join(t.TempDir(), "meta.db")
	cfg := config.NewDefault()
	cfg.Storage.Path = dbPath
	cfg.Metrics.Enabled = false
	cfg.Health.Interval = time.Hour

	sys, err := Open(cfg)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, sys.Put(ctx, "parsed:akira", &types.ParsedInfo{Title: "Akira", Year: 1988}, 0))
	require.NoError(t, sys.Close())

	sys2, err := Open(cfg)
	require.NoError(t, err)
	defer func() { _ = sys2.Close() }()

	got, found, err := sys2.Get(ctx, "parsed:akira")
	require.NoError(t, err)
	require.True(t, found, "write-through data must survive a restart")
	assert.Equal(t, 1988, got.(*types.ParsedInfo).Year)
}

func TestSystemDeleteAndInvalidate(t *testing.T) {
	t.Parallel()

	sys := openTestSystem(t)
	ctx := context.Background()

	require.NoError(t, sys.Put(ctx, "anime:1", &types.ParsedInfo{Title: "a"}, 0))
	require.NoError(t, sys.Put(ctx, "anime:2", &types.ParsedInfo{Title: "b"}, 0))

	removed, err := sys.Delete(ctx, "anime:1")
	require.NoError(t, err)
	assert.True(t, removed)

	n, err := sys.InvalidatePattern("anime:*")
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSystemStatus(t *testing.T) {
	t.Parallel()

	sys := openTestSystem(t)
	sys.Health().CheckNow(context.Background())

	status := sys.Status()
	assert.False(t, status.Degraded)
	assert.Equal(t, health.StatusHealthy, status.Health.Status)
	assert.Contains(t, status.Breakers, "metadata-store")
}

func TestOpenRejectsInvalidConfig(t *testing.T) {
	t.Parallel()

	cfg := config.NewDefault()
	cfg.Breaker.FailMax = 0

	_, err := Open(cfg)
	require.Error(t, err)
}

func TestCloseIsIdempotent(t *testing.T) {
	t.Parallel()

	sys := openTestSystem(t)
	require.NoError(t, sys.Close())
	assert.NotPanics(t, func() { _ = sys.Close() })
}
