package authcore

import (
	"errors"
	"fmt"
	"maps"
	"slices"
	"time"

	"github.com/taxpoynt/authcore/internal/rate"
	"github.com/taxpoynt/authcore/keyring"
	"github.com/taxpoynt/authcore/mfa"
	"github.com/taxpoynt/authcore/password"
	"github.com/taxpoynt/authcore/session"
	"github.com/taxpoynt/authcore/token"
)

// AuditConfig controls audit event emission.
type AuditConfig struct {
	// Enabled turns event emission on. Without a sink, enabled audit is
	// a no-op.
	Enabled bool
	// BufferSize is the dispatcher's event buffer. Default 256.
	BufferSize int
	// DropIfFull discards events instead of blocking when the buffer is
	// full.
	DropIfFull bool
}

// MetricsConfig controls the in-process metrics counters.
type MetricsConfig struct {
	Enabled                 bool
	EnableLatencyHistograms bool
}

// MaintenanceConfig tunes the periodic sweep intervals. Zero values fall
// back to the documented defaults.
type MaintenanceConfig struct {
	// TokenSweepInterval drives expired-token relabeling. Default 5m.
	TokenSweepInterval time.Duration
	// SessionSweepInterval drives lapsed-session removal. Default 1m.
	SessionSweepInterval time.Duration
	// CacheSweepInterval drives validation and decision cache eviction.
	// Default 1m.
	CacheSweepInterval time.Duration
}

func (c MaintenanceConfig) withDefaults() MaintenanceConfig {
	if c.TokenSweepInterval <= 0 {
		c.TokenSweepInterval = 5 * time.Minute
	}
	if c.SessionSweepInterval <= 0 {
		c.SessionSweepInterval = time.Minute
	}
	if c.CacheSweepInterval <= 0 {
		c.CacheSweepInterval = time.Minute
	}
	return c
}

// Config is the full engine configuration: one sub-config per component
// plus the facade-level knobs. defaultConfig() is a working development
// setup; production deployments override the token issuer, the signing
// algorithm, and the session policy at minimum.
type Config struct {
	// Algorithm selects the signing family for token keys.
	// Default Ed25519.
	Algorithm keyring.Algorithm

	// RedisKeyPrefix namespaces every redis key written by the engine.
	// Default "authcore".
	RedisKeyPrefix string

	// PermissionCacheTTL bounds staleness of cached authorization
	// decisions. Default 5m.
	PermissionCacheTTL time.Duration

	// DisableRiskAssessment skips session risk scoring. Sessions are
	// created with a zero risk score and never flagged high risk.
	DisableRiskAssessment bool

	Token       token.Config
	Session     session.Config
	Password    password.Config
	MFA         mfa.Config
	Rate        rate.Config
	Audit       AuditConfig
	Metrics     MetricsConfig
	Maintenance MaintenanceConfig
}

func defaultConfig() Config {
	return Config{
		Algorithm:          keyring.AlgorithmEd25519,
		RedisKeyPrefix:     "authcore",
		PermissionCacheTTL: 5 * time.Minute,
		Token: token.Config{
			Issuer: "authcore",
		},
		Password: password.DefaultConfig(),
		Metrics:  MetricsConfig{Enabled: true},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.Session.DeniedNetworks = slices.Clone(cfg.Session.DeniedNetworks)
	out.Session.BlockedUserAgents = slices.Clone(cfg.Session.BlockedUserAgents)
	out.Session.KindPolicies = maps.Clone(cfg.Session.KindPolicies)
	return out
}

// Validate rejects configurations the builder cannot wire.
func (c Config) Validate() error {
	switch c.Algorithm {
	case keyring.AlgorithmHS256, keyring.AlgorithmEd25519, "":
	default:
		return fmt.Errorf("unsupported signing algorithm %q", c.Algorithm)
	}
	if c.Token.Issuer == "" {
		return errors.New("token issuer required")
	}
	if c.Token.AccessTTL < 0 || c.Token.RefreshTTL < 0 {
		return errors.New("token TTLs must be non-negative")
	}
	if c.PermissionCacheTTL < 0 {
		return errors.New("permission cache TTL must be non-negative")
	}
	if c.Session.HighRiskThreshold < 0 || c.Session.HighRiskThreshold > 1 {
		return errors.New("high risk threshold must be within [0, 1]")
	}
	return nil
}
