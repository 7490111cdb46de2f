package rate

import (
	"context"
	"sync"
	"time"
)

type window struct {
	count   int64
	resetAt time.Time
}

// MemoryLimiter is a single-process Limiter for deployments without Redis.
type MemoryLimiter struct {
	config Config
	clock  func() time.Time

	mu      sync.Mutex
	windows map[string]*window
}

// NewMemoryLimiter creates a MemoryLimiter.
func NewMemoryLimiter(config Config) *MemoryLimiter {
	return &MemoryLimiter{
		config:  config.withDefaults(),
		clock:   time.Now,
		windows: make(map[string]*window),
	}
}

// WithClock overrides the limiter clock. Test hook.
func (l *MemoryLimiter) WithClock(clock func() time.Time) *MemoryLimiter {
	l.clock = clock
	return l
}

func (l *MemoryLimiter) AllowLogin(_ context.Context, userID, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.peek(loginUserKey(userID)) >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}
	if l.config.ThrottleByIP && ip != "" && l.peek(loginIPKey(ip)) >= int64(l.config.MaxLoginAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *MemoryLimiter) RecordLoginFailure(_ context.Context, userID, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.bump(loginUserKey(userID), l.config.LoginCooldown)
	if l.config.ThrottleByIP && ip != "" {
		l.bump(loginIPKey(ip), l.config.LoginCooldown)
	}
	return nil
}

func (l *MemoryLimiter) ResetLogin(_ context.Context, userID, ip string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	delete(l.windows, loginUserKey(userID))
	if l.config.ThrottleByIP && ip != "" {
		delete(l.windows, loginIPKey(ip))
	}
	return nil
}

func (l *MemoryLimiter) AllowRefresh(_ context.Context, sessionID string) error {
	if l.config.MaxRefreshAttempts <= 0 {
		return nil
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.bump(refreshKey(sessionID), l.config.RefreshCooldown) > int64(l.config.MaxRefreshAttempts) {
		return ErrRateLimited
	}
	return nil
}

func (l *MemoryLimiter) LoginFailures(_ context.Context, userID string) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return int(l.peek(loginUserKey(userID))), nil
}

// peek returns the live count for the key, expiring stale windows. Caller
// holds the mutex.
func (l *MemoryLimiter) peek(key string) int64 {
	w, ok := l.windows[key]
	if !ok {
		return 0
	}
	if !l.clock().Before(w.resetAt) {
		delete(l.windows, key)
		return 0
	}
	return w.count
}

// bump increments the key's window and returns the new count. Caller holds
// the mutex.
func (l *MemoryLimiter) bump(key string, ttl time.Duration) int64 {
	now := l.clock()
	w, ok := l.windows[key]
	if !ok || !now.Before(w.resetAt) {
		w = &window{resetAt: now.Add(ttl)}
		l.windows[key] = w
	}
	w.count++
	return w.count
}
