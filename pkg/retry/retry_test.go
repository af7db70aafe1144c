package retry

import (
	"context"
	stderrors "errors"
	"testing"
	"time"

	"github.com/animeta/animeta/pkg/errors"
)

func fastConfig() Config {
	return Config{
		MaxAttempts:  3,
		InitialDelay: time.Millisecond,
		MaxDelay:     5 * time.Millisecond,
		Multiplier:   2.0,
	}
}

func TestDoSucceedsFirstAttempt(t *testing.T) {
	t.Parallel()

	calls := 0
	err := New(fastConfig()).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestDoRetriesTransientErrors(t *testing.T) {
	t.Parallel()

	calls := 0
	err := New(fastConfig()).Do(context.Background(), func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New(errors.CodeStorageBusy, "locked")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("Do() error: %v", err)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoFailsFastOnNonTransient(t *testing.T) {
	t.Parallel()

	calls := 0
	err := New(fastConfig()).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return errors.New(errors.CodeConstraintViolation, "duplicate key")
	})
	if err == nil {
		t.Fatal("Do() should propagate the error")
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1 (no retries for caller bugs)", calls)
	}
}

func TestDoExhaustsAttempts(t *testing.T) {
	t.Parallel()

	calls := 0
	wantErr := errors.New(errors.CodeConnectionLost, "gone")
	err := New(fastConfig()).Do(context.Background(), func(ctx context.Context) error {
		calls++
		return wantErr
	})
	if !stderrors.Is(err, wantErr) {
		t.Errorf("Do() = %v, want last error %v", err, wantErr)
	}
	if calls != 3 {
		t.Errorf("calls = %d, want 3", calls)
	}
}

func TestDoHonorsContextCancellation(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	calls := 0
	err := New(fastConfig()).Do(ctx, func(ctx context.Context) error {
		calls++
		return errors.New(errors.CodeStorageBusy, "locked")
	})
	if err == nil {
		t.Fatal("Do() should fail on canceled context")
	}
	if calls != 0 {
		t.Errorf("calls = %d, want 0", calls)
	}
}

func TestOnRetryCallback(t *testing.T) {
	t.Parallel()

	var attempts []int
	config := fastConfig()
	config.OnRetry = func(attempt int, err error, delay time.Duration) {
		attempts = append(attempts, attempt)
	}

	_ = New(config).Do(context.Background(), func(ctx context.Context) error {
		return errors.New(errors.CodeOperationTimeout, "slow")
	})

	if len(attempts) != 2 {
		t.Fatalf("OnRetry called %d times, want 2", len(attempts))
	}
	if attempts[0] != 1 || attempts[1] != 2 {
		t.Errorf("OnRetry attempts = %v, want [1 2]", attempts)
	}
}

func TestDelayForBackoffAndCap(t *testing.T) {
	t.Parallel()

	r := New(Config{
		MaxAttempts:  5,
		InitialDelay: 100 * time.Millisecond,
		MaxDelay:     300 * time.Millisecond,
		Multiplier:   2.0,
	})

	if got := r.delayFor(1); got != 100*time.Millisecond {
		t.Errorf("delayFor(1) = %v, want 100ms", got)
	}
	if got := r.delayFor(2); got != 200*time.Millisecond {
		t.Errorf("delayFor(2) = %v, want 200ms", got)
	}
	if got := r.delayFor(4); got != 300*time.Millisecond {
		t.Errorf("delayFor(4) = %v, want cap 300ms", got)
	}
}

func TestNewAppliesDefaults(t *testing.T) {
	t.Parallel()

	r := New(Config{})
	if r.MaxAttempts() != 3 {
		t.Errorf("MaxAttempts = %d, want default 3", r.MaxAttempts())
	}
}
