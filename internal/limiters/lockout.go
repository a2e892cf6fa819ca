package limiters

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrLockoutUnavailable indicates the lockout backend is unreachable.
var ErrLockoutUnavailable = errors.New("lockout backend unavailable")

// LockoutConfig holds configuration for the automatic account lockout
// limiter. Duration bounds both the failure-counting window and the lock
// itself.
type LockoutConfig struct {
	Enabled   bool
	Threshold int
	Duration  time.Duration
}

// LockoutLimiter counts consecutive failed logins per account and places an
// explicit lock marker once the threshold is reached. The marker, not the
// counter, decides whether an account is locked, so a lock survives counter
// resets and expires exactly when its TTL does.
type LockoutLimiter struct {
	redis  redis.UniversalClient
	config LockoutConfig
}

// NewLockoutLimiter creates a new lockout limiter.
func NewLockoutLimiter(redisClient redis.UniversalClient, cfg LockoutConfig) *LockoutLimiter {
	return &LockoutLimiter{redis: redisClient, config: cfg}
}

func (l *LockoutLimiter) failureKey(accountID string) string {
	return "iglk:f:" + accountID
}

func (l *LockoutLimiter) lockKey(accountID string) string {
	return "iglk:k:" + accountID
}

// Locked reports whether the account currently carries a lock marker, and
// if so how long it remains.
func (l *LockoutLimiter) Locked(ctx context.Context, accountID string) (bool, time.Duration, error) {
	if !l.config.Enabled || accountID == "" {
		return false, 0, nil
	}

	remaining, err := l.redis.PTTL(ctx, l.lockKey(accountID)).Result()
	if err != nil {
		return false, 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	// go-redis surfaces PTTL's -2 (missing key) and -1 (no expiry) as raw
	// negative durations.
	if remaining == time.Duration(-2) {
		return false, 0, nil
	}
	if remaining < 0 {
		return true, 0, nil
	}
	return true, remaining, nil
}

// RecordFailure increments the failure counter. When the counter reaches
// the threshold it is replaced with a lock marker and true is returned.
func (l *LockoutLimiter) RecordFailure(ctx context.Context, accountID string) (bool, error) {
	if !l.config.Enabled || accountID == "" {
		return false, nil
	}

	count, err := l.redis.Incr(ctx, l.failureKey(accountID)).Result()
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}

	if count == 1 && l.config.Duration > 0 {
		// The counter window matches the lock duration, so stale failures
		// age out on their own.
		if err := l.redis.Expire(ctx, l.failureKey(accountID), l.config.Duration).Err(); err != nil {
			return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
		}
	}

	if count < int64(l.config.Threshold) {
		return false, nil
	}

	_, err = l.redis.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Set(ctx, l.lockKey(accountID), "1", l.config.Duration)
		pipe.Del(ctx, l.failureKey(accountID))
		return nil
	})
	if err != nil {
		return false, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return true, nil
}

// Reset clears both the failure counter and any lock marker, e.g. after a
// successful login or a manual unlock.
func (l *LockoutLimiter) Reset(ctx context.Context, accountID string) error {
	if !l.config.Enabled || accountID == "" {
		return nil
	}

	if err := l.redis.Del(ctx, l.failureKey(accountID), l.lockKey(accountID)).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return nil
}

// FailureCount returns the current failure counter for an account.
func (l *LockoutLimiter) FailureCount(ctx context.Context, accountID string) (int, error) {
	if !l.config.Enabled || accountID == "" {
		return 0, nil
	}

	count, err := l.redis.Get(ctx, l.failureKey(accountID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrLockoutUnavailable, err)
	}
	return int(count), nil
}
