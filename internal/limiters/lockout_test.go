package limiters

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newLockoutTest(t *testing.T, cfg LockoutConfig) (*LockoutLimiter, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis start: %v", err)
	}
	t.Cleanup(mr.Close)

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { rdb.Close() })

	return NewLockoutLimiter(rdb, cfg), mr
}

func TestLockoutThreshold(t *testing.T) {
	l, _ := newLockoutTest(t, LockoutConfig{Enabled: true, Threshold: 3, Duration: 30 * time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		locked, err := l.RecordFailure(ctx, "u-1")
		if err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
		if locked {
			t.Fatalf("locked after %d failures", i+1)
		}
	}

	locked, err := l.RecordFailure(ctx, "u-1")
	if err != nil {
		t.Fatalf("third failure: %v", err)
	}
	if !locked {
		t.Fatal("not locked at threshold")
	}

	isLocked, remaining, err := l.Locked(ctx, "u-1")
	if err != nil {
		t.Fatalf("locked check: %v", err)
	}
	if !isLocked {
		t.Fatal("lock marker missing")
	}
	if remaining <= 0 || remaining > 30*time.Minute {
		t.Fatalf("remaining = %v", remaining)
	}

	// The counter was folded into the marker.
	count, err := l.FailureCount(ctx, "u-1")
	if err != nil || count != 0 {
		t.Fatalf("count after lock = %d, %v, want 0", count, err)
	}
}

func TestLockExpires(t *testing.T) {
	l, mr := newLockoutTest(t, LockoutConfig{Enabled: true, Threshold: 1, Duration: time.Minute})
	ctx := context.Background()

	if locked, err := l.RecordFailure(ctx, "u-1"); err != nil || !locked {
		t.Fatalf("RecordFailure = %v, %v, want locked", locked, err)
	}

	mr.FastForward(2 * time.Minute)

	isLocked, _, err := l.Locked(ctx, "u-1")
	if err != nil {
		t.Fatalf("locked check: %v", err)
	}
	if isLocked {
		t.Fatal("lock survived its TTL")
	}
}

func TestFailureWindowAgesOut(t *testing.T) {
	l, mr := newLockoutTest(t, LockoutConfig{Enabled: true, Threshold: 3, Duration: time.Minute})
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := l.RecordFailure(ctx, "u-1"); err != nil {
			t.Fatalf("failure %d: %v", i+1, err)
		}
	}

	mr.FastForward(2 * time.Minute)

	// Old failures expired with the window, so this is failure one of three.
	locked, err := l.RecordFailure(ctx, "u-1")
	if err != nil {
		t.Fatalf("failure after window: %v", err)
	}
	if locked {
		t.Fatal("stale failures counted toward threshold")
	}
}

func TestResetClearsCounterAndLock(t *testing.T) {
	l, _ := newLockoutTest(t, LockoutConfig{Enabled: true, Threshold: 1, Duration: time.Minute})
	ctx := context.Background()

	if locked, err := l.RecordFailure(ctx, "u-1"); err != nil || !locked {
		t.Fatalf("RecordFailure = %v, %v, want locked", locked, err)
	}
	if err := l.Reset(ctx, "u-1"); err != nil {
		t.Fatalf("reset: %v", err)
	}

	isLocked, _, err := l.Locked(ctx, "u-1")
	if err != nil {
		t.Fatalf("locked check: %v", err)
	}
	if isLocked {
		t.Fatal("lock survived reset")
	}
}

func TestDisabledLimiterIsInert(t *testing.T) {
	l, _ := newLockoutTest(t, LockoutConfig{Enabled: false, Threshold: 1, Duration: time.Minute})
	ctx := context.Background()

	locked, err := l.RecordFailure(ctx, "u-1")
	if err != nil || locked {
		t.Fatalf("RecordFailure = %v, %v, want inert", locked, err)
	}
	isLocked, _, err := l.Locked(ctx, "u-1")
	if err != nil || isLocked {
		t.Fatalf("Locked = %v, %v, want inert", isLocked, err)
	}
}

func TestLockoutReportsBackendUnavailable(t *testing.T) {
	l, mr := newLockoutTest(t, LockoutConfig{Enabled: true, Threshold: 3, Duration: time.Minute})
	mr.Close()

	if _, err := l.RecordFailure(context.Background(), "u-1"); !errors.Is(err, ErrLockoutUnavailable) {
		t.Fatalf("err = %v, want ErrLockoutUnavailable", err)
	}
	if _, _, err := l.Locked(context.Background(), "u-1"); !errors.Is(err, ErrLockoutUnavailable) {
		t.Fatalf("err = %v, want ErrLockoutUnavailable", err)
	}
}
