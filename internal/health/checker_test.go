package health

import (
	"context"
	stderrors "errors"
	"sync"
	"testing"
	"time"

	"github.com/animeta/animeta/pkg/errors"
)

// flakyStore is a Store whose probe outcome is switchable from a test.
type flakyStore struct {
	mu      sync.Mutex
	failing bool
	pings   int
}

func (s *flakyStore) setFailing(failing bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = failing
}

func (s *flakyStore) Ping(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pings++
	if s.failing {
		return errors.New(errors.CodeConnectionFailed, "store down")
	}
	return nil
}

func (s *flakyStore) Load(ctx context.Context, key string) ([]byte, bool, error) {
	return nil, false, nil
}
func (s *flakyStore) Save(ctx context.Context, key string, payload []byte) error { return nil }
func (s *flakyStore) Delete(ctx context.Context, key string) error               { return nil }

func testConfig() Config {
	return Config{
		Interval:          time.Hour, // background ticks never fire in tests
		ProbeTimeout:      time.Second,
		FailureThreshold:  3,
		RecoveryThreshold: 2,
	}
}

func TestUnknownResolvesOnFirstOutcome(t *testing.T) {
	t.Parallel()

	t.Run("first success", func(t *testing.T) {
		t.Parallel()
		c := NewChecker(&flakyStore{}, testConfig(), nil)
		if got := c.CheckNow(context.Background()); got != StatusHealthy {
			t.Errorf("status after first success = %s, want healthy", got)
		}
	})

	t.Run("first failure", func(t *testing.T) {
		t.Parallel()
		c := NewChecker(&flakyStore{failing: true}, testConfig(), nil)
		if got := c.CheckNow(context.Background()); got != StatusUnhealthy {
			t.Errorf("status after first failure = %s, want unhealthy", got)
		}
	})
}

func TestFailureHysteresis(t *testing.T) {
	t.Parallel()

	store := &flakyStore{}
	c := NewChecker(store, testConfig(), nil)
	ctx := context.Background()

	c.CheckNow(ctx) // healthy
	store.setFailing(true)

	// Two failures are below the threshold of three.
	c.CheckNow(ctx)
	c.CheckNow(ctx)
	if c.Status() != StatusHealthy {
		t.Fatal("status flipped before reaching the failure threshold")
	}

	c.CheckNow(ctx)
	if c.Status() != StatusUnhealthy {
		t.Fatal("status should flip on the third consecutive failure")
	}
}

func TestRecoveryHysteresis(t *testing.T) {
	t.Parallel()

	store := &flakyStore{failing: true}
	c := NewChecker(store, testConfig(), nil)
	ctx := context.Background()

	c.CheckNow(ctx) // unhealthy
	store.setFailing(false)

	c.CheckNow(ctx)
	if c.Status() != StatusUnhealthy {
		t.Fatal("one success must not flip the status back")
	}

	c.CheckNow(ctx)
	if c.Status() != StatusHealthy {
		t.Fatal("status should recover on the second consecutive success")
	}
}

func TestSingleFlakeDoesNotFlip(t *testing.T) {
	t.Parallel()

	store := &flakyStore{}
	c := NewChecker(store, testConfig(), nil)
	ctx := context.Background()

	c.CheckNow(ctx) // healthy
	store.setFailing(true)
	c.CheckNow(ctx)
	store.setFailing(false)
	c.CheckNow(ctx)
	store.setFailing(true)
	c.CheckNow(ctx)

	if c.Status() != StatusHealthy {
		t.Error("interleaved outcomes never reach the threshold, status must hold")
	}
}

func TestStatusCallbacks(t *testing.T) {
	t.Parallel()

	store := &flakyStore{failing: true}
	c := NewChecker(store, testConfig(), nil)

	type transition struct{ old, new Status }
	var mu sync.Mutex
	var transitions []transition
	c.OnStatusChange(func(old, new Status) {
		mu.Lock()
		defer mu.Unlock()
		transitions = append(transitions, transition{old, new})
	})
	c.OnStatusChange(func(old, new Status) { panic("observer bug") })

	ctx := context.Background()
	c.CheckNow(ctx) // unknown -> unhealthy
	store.setFailing(false)
	c.CheckNow(ctx)
	c.CheckNow(ctx) // -> healthy

	mu.Lock()
	defer mu.Unlock()
	want := []transition{
		{StatusUnknown, StatusUnhealthy},
		{StatusUnhealthy, StatusHealthy},
	}
	if len(transitions) != len(want) {
		t.Fatalf("transitions = %v, want %v", transitions, want)
	}
	for i := range want {
		if transitions[i] != want[i] {
			t.Errorf("transition %d = %v, want %v", i, transitions[i], want[i])
		}
	}
}

func TestStatsTracking(t *testing.T) {
	t.Parallel()

	store := &flakyStore{}
	c := NewChecker(store, testConfig(), nil)
	ctx := context.Background()

	c.CheckNow(ctx)
	store.setFailing(true)
	c.CheckNow(ctx)

	stats := c.Stats()
	if stats.TotalChecks != 2 {
		t.Errorf("TotalChecks = %d, want 2", stats.TotalChecks)
	}
	if stats.SuccessfulChecks != 1 || stats.FailedChecks != 1 {
		t.Errorf("checks = %d/%d, want 1/1", stats.SuccessfulChecks, stats.FailedChecks)
	}
	if stats.LastError == "" {
		t.Error("LastError should record the probe failure")
	}
	if stats.LastSuccess.IsZero() || stats.LastFailure.IsZero() {
		t.Error("timestamps should be recorded")
	}
}

func TestStartStop(t *testing.T) {
	t.Parallel()

	config := testConfig()
	config.Interval = 5 * time.Millisecond
	store := &flakyStore{}
	c := NewChecker(store, config, nil)

	if err := c.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}
	if err := c.Start(); !stderrors.Is(err, errors.New(errors.CodeAlreadyStarted, "")) {
		t.Errorf("second Start() = %v, want already-started error", err)
	}

	time.Sleep(30 * time.Millisecond)
	c.Stop()
	c.Stop() // repeated stop is safe

	store.mu.Lock()
	pings := store.pings
	store.mu.Unlock()
	if pings == 0 {
		t.Error("background loop never probed the store")
	}
}
