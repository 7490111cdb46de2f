package authcore

import (
	"context"
	"time"

	"github.com/taxpoynt/authcore/internal/audit"
)

// User account status values as reported by the embedding platform's
// user provider.
const (
	UserStatusActive    = "active"
	UserStatusPending   = "pending"
	UserStatusSuspended = "suspended"
	UserStatusLocked    = "locked"
	UserStatusDeleted   = "deleted"
)

// UserRecord is the engine's read-only view of a platform user. The
// engine never stores user records; it looks them up per login through
// the configured UserProvider.
type UserRecord struct {
	UserID       string
	Username     string
	PasswordHash string
	TenantID     string
	Roles        []string
	Permissions  []string
	Status       string
	MFAEnabled   bool
}

// UserProvider is implemented by the embedding platform to resolve
// credentials at login time. Lookup returns (nil, nil) for unknown
// usernames; an error means the lookup itself failed.
type UserProvider interface {
	Lookup(ctx context.Context, username string) (*UserRecord, error)
}

// CredentialUpgrader is an optional UserProvider extension. When the
// provider implements it, a stored hash produced with weaker argon2
// parameters than the current configuration is transparently rehashed
// on the next successful login.
type CredentialUpgrader interface {
	UpdatePasswordHash(ctx context.Context, userID, newHash string) error
}

// Assignment scope values accepted by AssignRole. Scopes outside this
// set are rejected as validation errors.
const (
	ScopeGlobal = "global"
	ScopeTenant = "tenant"
	ScopeSI     = "si"
	ScopeApp    = "app"
	ScopeHybrid = "hybrid"
)

// RoleAssignment records one role granted to a user within a scope.
type RoleAssignment struct {
	ID         string    `json:"id"`
	UserID     string    `json:"user_id"`
	RoleID     string    `json:"role_id"`
	Scope      string    `json:"scope"`
	TenantID   string    `json:"tenant_id,omitempty"`
	AssignedBy string    `json:"assigned_by,omitempty"`
	AssignedAt time.Time `json:"assigned_at"`
	ExpiresAt  time.Time `json:"expires_at,omitzero"`
}

// Active reports whether the assignment applies at now.
func (a RoleAssignment) Active(now time.Time) bool {
	return a.ExpiresAt.IsZero() || now.Before(a.ExpiresAt)
}

// AuditEvent is one security-relevant record emitted by the engine.
type AuditEvent = audit.Event

// AuditSink receives emitted audit events.
type AuditSink = audit.Sink

// NewChannelAuditSink returns a sink that buffers events in a channel
// for consumption by the embedding platform.
func NewChannelAuditSink(buffer int) *audit.ChannelSink {
	return audit.NewChannelSink(buffer)
}
