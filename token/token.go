package token

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind classifies an issued credential.
type Kind string

const (
	// KindAccess is a short-lived bearer credential for API calls.
	KindAccess Kind = "access"
	// KindRefresh is a long-lived credential exchanged for new access tokens.
	KindRefresh Kind = "refresh"
	// KindID carries identity claims for the client.
	KindID Kind = "id"
	// KindAPIKey is a long-lived machine credential.
	KindAPIKey Kind = "api_key"
	// KindSession binds a credential to one session lifetime.
	KindSession Kind = "session"
)

// Status is the lifecycle state of a token. Transitions are one-way:
// active→expired and active→revoked only.
type Status uint8

const (
	// StatusActive is an issued, unexpired, unrevoked token.
	StatusActive Status = iota
	// StatusExpired is set lazily on validate or by the periodic sweep.
	StatusExpired
	// StatusRevoked is set by an explicit revocation.
	StatusRevoked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusRevoked:
		return "revoked"
	default:
		return "unknown"
	}
}

var (
	// ErrTokenNotFound is returned by stores for unknown jtis.
	ErrTokenNotFound = errors.New("token not found")
	// ErrStoreUnavailable wraps backend failures from redis-backed stores.
	ErrStoreUnavailable = errors.New("token store unavailable")
)

// Token is the stored record for one issued credential, keyed by jti.
type Token struct {
	JTI     string `json:"jti"`
	Subject string `json:"sub"`
	Kind    Kind   `json:"kind"`
	KeyID   string `json:"kid"`

	IssuedAt  time.Time `json:"issued_at"`
	NotBefore time.Time `json:"not_before"`
	ExpiresAt time.Time `json:"expires_at"`

	Status     Status    `json:"status"`
	UseCount   uint64    `json:"use_count"`
	LastUsedAt time.Time `json:"last_used_at,omitzero"`
	RevokedAt  time.Time `json:"revoked_at,omitzero"`
	Reason     string    `json:"reason,omitempty"`

	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`

	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	SessionID   string   `json:"session_id,omitempty"`
	Scope       string   `json:"scope,omitempty"`
}

// Expired reports whether the token's expiry has passed at now.
func (t *Token) Expired(now time.Time) bool {
	return !now.Before(t.ExpiresAt)
}

// Claims is the signed JWT claim set for an issued token.
type Claims struct {
	Kind        string   `json:"knd"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"perms,omitempty"`
	TenantID    string   `json:"tenant_id,omitempty"`
	SessionID   string   `json:"sid,omitempty"`
	Scope       string   `json:"scope,omitempty"`
	jwt.RegisteredClaims
}
