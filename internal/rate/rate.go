// Package rate implements fixed-window throttles for login and token
// refresh attempts, with a Redis backend for multi-node deployments and an
// in-process fallback.
package rate

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrRateLimited signals that the attempt budget for the window is
	// spent.
	ErrRateLimited = errors.New("rate limit exceeded")
	// ErrBackendUnavailable wraps Redis failures.
	ErrBackendUnavailable = errors.New("rate limit backend unavailable")
)

// Config tunes the throttles. Zero values fall back to the defaults.
type Config struct {
	// MaxLoginAttempts per user (and per IP when ThrottleByIP is set)
	// within one cooldown window. Default 5.
	MaxLoginAttempts int
	// LoginCooldown is the fixed window for login counters. Default 15m.
	LoginCooldown time.Duration
	// ThrottleByIP additionally counts failures per source IP.
	ThrottleByIP bool

	// MaxRefreshAttempts per session within one refresh window. Zero
	// disables the refresh throttle.
	MaxRefreshAttempts int
	// RefreshCooldown is the fixed window for refresh counters. Default
	// 1m.
	RefreshCooldown time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxLoginAttempts <= 0 {
		c.MaxLoginAttempts = 5
	}
	if c.LoginCooldown <= 0 {
		c.LoginCooldown = 15 * time.Minute
	}
	if c.RefreshCooldown <= 0 {
		c.RefreshCooldown = time.Minute
	}
	return c
}

// Limiter throttles authentication attempts. Failed logins consume budget;
// a successful login resets it. All methods are safe for concurrent use.
type Limiter interface {
	// AllowLogin reports ErrRateLimited when the user or IP has spent
	// its login budget for the current window.
	AllowLogin(ctx context.Context, userID, ip string) error
	// RecordLoginFailure counts one failed attempt.
	RecordLoginFailure(ctx context.Context, userID, ip string) error
	// ResetLogin clears the user's (and IP's) counters after a
	// successful login.
	ResetLogin(ctx context.Context, userID, ip string) error
	// AllowRefresh counts one refresh for the session and reports
	// ErrRateLimited past the budget. A no-op when the refresh throttle
	// is disabled.
	AllowRefresh(ctx context.Context, sessionID string) error
	// LoginFailures returns the current failure count for the user.
	// Missing counters read as zero.
	LoginFailures(ctx context.Context, userID string) (int, error)
}

func loginUserKey(userID string) string  { return "rl:login:u:" + userID }
func loginIPKey(ip string) string        { return "rl:login:ip:" + ip }
func refreshKey(sessionID string) string { return "rl:refresh:" + sessionID }
