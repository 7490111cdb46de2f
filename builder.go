package authcore

import (
	"errors"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/taxpoynt/authcore/internal/audit"
	"github.com/taxpoynt/authcore/internal/rate"
	"github.com/taxpoynt/authcore/internal/sweep"
	"github.com/taxpoynt/authcore/keyring"
	"github.com/taxpoynt/authcore/mfa"
	"github.com/taxpoynt/authcore/password"
	"github.com/taxpoynt/authcore/permission"
	"github.com/taxpoynt/authcore/session"
	"github.com/taxpoynt/authcore/token"
)

// sessionActivityLimit caps the retained activity entries per session.
const sessionActivityLimit = 200

// Builder assembles an Engine. Configure it once during initialization,
// call Build, and discard it; a Builder cannot be reused.
type Builder struct {
	config Config
	redis  redis.UniversalClient
	logger *zap.Logger

	userProvider UserProvider
	mfaSecrets   mfa.SecretProvider
	mfaVerifier  session.MFAVerifier
	auditSink    AuditSink

	catalog     *permission.Catalog
	permissions []permission.Permission
	roles       map[string][]string
	policies    []permission.Policy

	built bool
}

// New returns a Builder seeded with the default configuration.
func New() *Builder {
	return &Builder{config: defaultConfig()}
}

// WithConfig replaces the entire configuration.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithRedis backs token, session, and rate-limit state with redis.
// Without a client the engine runs on in-memory stores, suitable for a
// single process only.
func (b *Builder) WithRedis(client redis.UniversalClient) *Builder {
	b.redis = client
	return b
}

// WithLogger sets the logger for maintenance sweeps and degraded-mode
// warnings. Defaults to a no-op logger.
func (b *Builder) WithLogger(logger *zap.Logger) *Builder {
	b.logger = logger
	return b
}

// WithUserProvider sets the credential lookup. Required.
func (b *Builder) WithUserProvider(provider UserProvider) *Builder {
	b.userProvider = provider
	return b
}

// WithMFASecrets enables TOTP verification against per-user secrets.
func (b *Builder) WithMFASecrets(secrets mfa.SecretProvider) *Builder {
	b.mfaSecrets = secrets
	return b
}

// WithMFAVerifier sets a custom MFA verifier, overriding WithMFASecrets.
func (b *Builder) WithMFAVerifier(verifier session.MFAVerifier) *Builder {
	b.mfaVerifier = verifier
	return b
}

// WithAuditSink sets the destination for audit events.
func (b *Builder) WithAuditSink(sink AuditSink) *Builder {
	b.auditSink = sink
	return b
}

// WithCatalog installs a pre-built permission catalog, overriding
// WithPermissions, WithRoles, and WithPolicies.
func (b *Builder) WithCatalog(catalog *permission.Catalog) *Builder {
	b.catalog = catalog
	return b
}

// WithPermissions registers permission definitions on the built catalog.
func (b *Builder) WithPermissions(perms ...permission.Permission) *Builder {
	b.permissions = append(b.permissions, perms...)
	return b
}

// WithRoles grants permission patterns to roles on the built catalog.
func (b *Builder) WithRoles(roles map[string][]string) *Builder {
	b.roles = roles
	return b
}

// WithPolicies adds access policies to the built catalog.
func (b *Builder) WithPolicies(policies ...permission.Policy) *Builder {
	b.policies = append(b.policies, policies...)
	return b
}

// WithMetricsEnabled toggles the metrics counters.
func (b *Builder) WithMetricsEnabled(enabled bool) *Builder {
	b.config.Metrics.Enabled = enabled
	return b
}

// Build wires the engine. It validates the configuration, constructs
// each component against the configured backend, and returns a ready
// Engine. The Builder is consumed.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}

	cfg := cloneConfig(b.config)
	if cfg.Algorithm == "" {
		cfg.Algorithm = keyring.AlgorithmEd25519
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if b.userProvider == nil {
		return nil, errors.New("user provider required")
	}

	logger := b.logger
	if logger == nil {
		logger = zap.NewNop()
	}

	keys, err := keyring.NewManager(cfg.Algorithm)
	if err != nil {
		return nil, err
	}

	var tokenStore token.Store
	var sessionStore session.Store
	var limiter rate.Limiter
	if b.redis != nil {
		tokenStore = token.NewRedisStore(b.redis, cfg.RedisKeyPrefix+":tk", cfg.Token.Retention)
		sessionStore = session.NewRedisStore(b.redis, cfg.RedisKeyPrefix+":ss", sessionActivityLimit)
		limiter = rate.NewRedisLimiter(b.redis, cfg.Rate)
	} else {
		tokenStore = token.NewMemoryStore()
		sessionStore = session.NewMemoryStore(sessionActivityLimit)
		limiter = rate.NewMemoryLimiter(cfg.Rate)
	}

	tokens := token.NewService(tokenStore, keys, cfg.Token)

	catalog := b.catalog
	if catalog == nil {
		catalog = permission.NewCatalog()
	}
	catalog.Register(b.permissions...)
	for role, patterns := range b.roles {
		catalog.GrantRole(role, patterns...)
	}
	for _, policy := range b.policies {
		catalog.AddPolicy(policy)
	}
	perms := permission.NewEngine(catalog, cfg.PermissionCacheTTL)

	verifier := b.mfaVerifier
	if verifier == nil && b.mfaSecrets != nil {
		verifier = mfa.NewTOTPVerifier(b.mfaSecrets, cfg.MFA)
	}

	cfg.Session.DisableRiskScoring = cfg.DisableRiskAssessment
	sessions := session.NewService(sessionStore, verifier, cfg.Session)

	hasher, err := password.NewHasher(cfg.Password)
	if err != nil {
		return nil, err
	}

	auditCfg := audit.Config{
		Enabled:    cfg.Audit.Enabled,
		BufferSize: cfg.Audit.BufferSize,
		DropIfFull: cfg.Audit.DropIfFull,
	}
	if auditCfg.BufferSize <= 0 {
		auditCfg.BufferSize = 256
	}

	engine := &Engine{
		config:      cfg,
		logger:      logger,
		keys:        keys,
		tokens:      tokens,
		sessions:    sessions,
		catalog:     catalog,
		perms:       perms,
		limiter:     limiter,
		hasher:      hasher,
		users:       b.userProvider,
		audit:       audit.NewDispatcher(auditCfg, b.auditSink),
		metrics:     NewMetrics(cfg.Metrics),
		sweeper:     sweep.NewScheduler(logger),
		assignments: make(map[string][]RoleAssignment),
	}
	engine.registerMaintenance()

	b.built = true
	return engine, nil
}
