package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRateLimited indicates the caller exhausted its window budget.
var ErrRateLimited = errors.New("rate limited")

// ErrRedisUnavailable wraps any Redis transport or command failure.
var ErrRedisUnavailable = errors.New("redis unavailable")

// Config holds rate limiter tuning parameters. Window applies to both the
// login and the per-principal request budgets.
type Config struct {
	EnableIPThrottle bool
	LoginPerWindow   int
	RequestPerWindow int
	Window           time.Duration
}

// Limiter enforces fixed-window rate limits with Redis counters: login
// attempts per identifier and per source IP, and authenticated requests per
// principal. Counters are shared across processes pointed at the same Redis.
type Limiter struct {
	redis  redis.UniversalClient
	config Config
}

// New creates a rate [Limiter] backed by the given Redis client.
func New(redisClient redis.UniversalClient, cfg Config) *Limiter {
	return &Limiter{redis: redisClient, config: cfg}
}

func loginIdentifierKey(identifier string) string {
	return "igrl:l:" + identifier
}

func loginIPKey(ip string) string {
	return "igrl:i:" + ip
}

func requestKey(principalID string) string {
	return "igrl:r:" + principalID
}

// AllowLogin counts one login attempt against the identifier and, when IP
// throttling is enabled, against the source IP. Every attempt counts, not
// just failures. Returns [ErrRateLimited] once either budget is exceeded.
func (l *Limiter) AllowLogin(ctx context.Context, identifier, ip string) error {
	count, err := l.incrementWithTTL(ctx, loginIdentifierKey(identifier), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.LoginPerWindow) {
		return ErrRateLimited
	}

	if l.config.EnableIPThrottle && ip != "" {
		count, err = l.incrementWithTTL(ctx, loginIPKey(ip), l.config.Window)
		if err != nil {
			return err
		}
		if count > int64(l.config.LoginPerWindow) {
			return ErrRateLimited
		}
	}

	return nil
}

// AllowRequest counts one authenticated request against the principal's
// global budget. Returns [ErrRateLimited] once the budget is exceeded.
func (l *Limiter) AllowRequest(ctx context.Context, principalID string) error {
	count, err := l.incrementWithTTL(ctx, requestKey(principalID), l.config.Window)
	if err != nil {
		return err
	}
	if count > int64(l.config.RequestPerWindow) {
		return ErrRateLimited
	}
	return nil
}

// ResetLogin clears the login counters for the identifier and IP.
func (l *Limiter) ResetLogin(ctx context.Context, identifier, ip string) error {
	keys := []string{loginIdentifierKey(identifier)}
	if l.config.EnableIPThrottle && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}

	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// LoginAttempts returns the attempt counter for an identifier. Missing keys
// return zero and do not reveal account existence.
func (l *Limiter) LoginAttempts(ctx context.Context, identifier string) (int, error) {
	count, err := l.redis.Get(ctx, loginIdentifierKey(identifier)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *Limiter) incrementWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	// Fixed-window semantics: set TTL only for the first hit in the window.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
		}
	}

	return count, nil
}
