package rate

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// RedisLimiter counts attempts in Redis so the budget is shared across
// nodes.
type RedisLimiter struct {
	redis  redis.UniversalClient
	config Config
}

// NewRedisLimiter creates a RedisLimiter.
func NewRedisLimiter(client redis.UniversalClient, config Config) *RedisLimiter {
	return &RedisLimiter{redis: client, config: config.withDefaults()}
}

func (l *RedisLimiter) AllowLogin(ctx context.Context, userID, ip string) error {
	if err := l.check(ctx, loginUserKey(userID), l.config.MaxLoginAttempts); err != nil {
		return err
	}
	if l.config.ThrottleByIP && ip != "" {
		return l.check(ctx, loginIPKey(ip), l.config.MaxLoginAttempts)
	}
	return nil
}

func (l *RedisLimiter) RecordLoginFailure(ctx context.Context, userID, ip string) error {
	if _, err := l.bump(ctx, loginUserKey(userID), l.config.LoginCooldown); err != nil {
		return err
	}
	if l.config.ThrottleByIP && ip != "" {
		if _, err := l.bump(ctx, loginIPKey(ip), l.config.LoginCooldown); err != nil {
			return err
		}
	}
	return nil
}

func (l *RedisLimiter) ResetLogin(ctx context.Context, userID, ip string) error {
	keys := []string{loginUserKey(userID)}
	if l.config.ThrottleByIP && ip != "" {
		keys = append(keys, loginIPKey(ip))
	}
	if err := l.redis.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	return nil
}

func (l *RedisLimiter) AllowRefresh(ctx context.Context, sessionID string) error {
	if l.config.MaxRefreshAttempts <= 0 {
		return nil
	}
	count, err := l.bump(ctx, refreshKey(sessionID), l.config.RefreshCooldown)
	if err != nil {
		return err
	}
	if count > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *RedisLimiter) LoginFailures(ctx context.Context, userID string) (int, error) {
	count, err := l.redis.Get(ctx, loginUserKey(userID)).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return 0, nil
		}
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count < 0 {
		return 0, nil
	}
	return int(count), nil
}

func (l *RedisLimiter) check(ctx context.Context, key string, max int) error {
	count, err := l.redis.Get(ctx, key).Int64()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil
		}
		return fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	if count >= int64(max) {
		return ErrRateLimited
	}
	return nil
}

func (l *RedisLimiter) bump(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := l.redis.Incr(ctx, key).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
	}
	// Fixed-window semantics: only the first hit arms the window TTL.
	if count == 1 {
		if err := l.redis.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, fmt.Errorf("%w: %v", ErrBackendUnavailable, err)
		}
	}
	return count, nil
}
