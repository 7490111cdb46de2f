package authcore

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/taxpoynt/authcore/internal/audit"
	"github.com/taxpoynt/authcore/internal/rate"
	"github.com/taxpoynt/authcore/internal/sweep"
	"github.com/taxpoynt/authcore/keyring"
	"github.com/taxpoynt/authcore/password"
	"github.com/taxpoynt/authcore/permission"
	"github.com/taxpoynt/authcore/session"
	"github.com/taxpoynt/authcore/token"
)

// Engine is the authentication facade. It owns the token lifecycle, the
// session lifecycle, and authorization decisions, and exposes them both
// as typed methods and through the uniform Handle dispatch.
//
// An Engine is safe for concurrent use.
type Engine struct {
	config   Config
	logger   *zap.Logger
	keys     *keyring.Manager
	tokens   *token.Service
	sessions *session.Service
	catalog  *permission.Catalog
	perms    *permission.Engine
	limiter  rate.Limiter
	hasher   *password.Hasher
	users    UserProvider
	audit    *audit.Dispatcher
	metrics  *Metrics
	sweeper  *sweep.Scheduler

	assignMu    sync.RWMutex
	assignments map[string][]RoleAssignment

	clock func() time.Time
}

// WithClock overrides the engine clock and propagates it to the token
// and session services. Test hook.
func (e *Engine) WithClock(clock func() time.Time) *Engine {
	e.clock = clock
	e.tokens.WithClock(clock)
	e.sessions.WithClock(clock)
	return e
}

func (e *Engine) now() time.Time {
	if e.clock != nil {
		return e.clock()
	}
	return time.Now()
}

// Tokens exposes the token service for direct use.
func (e *Engine) Tokens() *token.Service { return e.tokens }

// Sessions exposes the session service for direct use.
func (e *Engine) Sessions() *session.Service { return e.sessions }

// Permissions exposes the authorization engine for direct use.
func (e *Engine) Permissions() *permission.Engine { return e.perms }

// Catalog exposes the permission catalog for runtime changes. Any
// mutation purges the decision cache.
func (e *Engine) Catalog() *permission.Catalog { return e.catalog }

// Metrics exposes the engine's counters.
func (e *Engine) Metrics() *Metrics { return e.metrics }

// MetricsSnapshot copies every counter and histogram for exporters.
func (e *Engine) MetricsSnapshot() MetricsSnapshot { return e.metrics.Snapshot() }

// AuditDropped reports audit events discarded under dispatcher
// backpressure.
func (e *Engine) AuditDropped() uint64 { return e.audit.Dropped() }

// emit sends an audit event through the async dispatcher. The engine
// stamps the event time; callers fill the rest. A disabled dispatcher
// is nil and drops everything.
func (e *Engine) emit(ctx context.Context, event audit.Event) {
	if e.audit == nil {
		return
	}
	if event.Timestamp.IsZero() {
		event.Timestamp = e.now()
	}
	e.audit.Emit(ctx, event)
}

// registerMaintenance wires the periodic sweeps. Tasks run only after
// StartMaintenance.
func (e *Engine) registerMaintenance() {
	cfg := e.config.Maintenance.withDefaults()
	e.sweeper.Register(sweep.Task{
		Name:     "token_expiry",
		Interval: cfg.TokenSweepInterval,
		Run:      e.tokens.Sweep,
	})
	e.sweeper.Register(sweep.Task{
		Name:     "token_cache",
		Interval: cfg.CacheSweepInterval,
		Run:      e.tokens.SweepCache,
	})
	e.sweeper.Register(sweep.Task{
		Name:     "session_expiry",
		Interval: cfg.SessionSweepInterval,
		Run:      e.sessions.Sweep,
	})
	e.sweeper.Register(sweep.Task{
		Name:     "decision_cache",
		Interval: cfg.CacheSweepInterval,
		Run: func(context.Context) (int, error) {
			return e.perms.SweepCache(), nil
		},
	})
}

// StartMaintenance launches the background sweeps. They stop when ctx
// is cancelled or Close is called.
func (e *Engine) StartMaintenance(ctx context.Context) {
	e.sweeper.Start(ctx)
}

// Close stops the background sweeps and drains the audit dispatcher.
// It does not close the redis client, which the embedding platform
// owns.
func (e *Engine) Close() {
	e.sweeper.Stop()
	e.audit.Close()
}
