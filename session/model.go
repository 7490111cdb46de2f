package session

import (
	"errors"
	"time"
)

// Kind classifies the client connection a session represents.
type Kind string

const (
	KindWeb     Kind = "web"
	KindMobile  Kind = "mobile"
	KindAPI     Kind = "api"
	KindDesktop Kind = "desktop"
	KindService Kind = "service"
)

// Status is the lifecycle state of a session. Terminal states (expired,
// terminated) never transition further; suspended and locked are reserved
// for administrative flows.
type Status uint8

const (
	StatusActive Status = iota
	StatusExpired
	StatusTerminated
	StatusSuspended
	StatusLocked
)

func (s Status) String() string {
	switch s {
	case StatusActive:
		return "active"
	case StatusExpired:
		return "expired"
	case StatusTerminated:
		return "terminated"
	case StatusSuspended:
		return "suspended"
	case StatusLocked:
		return "locked"
	default:
		return "unknown"
	}
}

// Session flags set by the service.
const (
	// FlagMFARequired marks a session whose policy demands a second factor
	// before it is fully trusted.
	FlagMFARequired = "mfa_required"
	// FlagHighRisk marks a session whose risk score crossed the configured
	// threshold.
	FlagHighRisk = "high_risk"
)

var (
	// ErrSessionNotFound is returned by stores for unknown session ids.
	ErrSessionNotFound = errors.New("session not found")
	// ErrStoreUnavailable wraps backend failures from redis-backed stores.
	ErrStoreUnavailable = errors.New("session store unavailable")
	// ErrOriginBlocked rejects a session request from a denied IP or a
	// blocked user agent before any state is created.
	ErrOriginBlocked = errors.New("session origin blocked by security policy")
)

// Session is one authenticated device/browser/API connection for a user.
type Session struct {
	ID     string `json:"id"`
	UserID string `json:"user_id"`
	Kind   Kind   `json:"kind"`
	Status Status `json:"status"`

	CreatedAt    time.Time `json:"created_at"`
	LastActivity time.Time `json:"last_activity"`
	ExpiresAt    time.Time `json:"expires_at"`

	IdleTimeout     time.Duration `json:"idle_timeout"`
	AbsoluteTimeout time.Duration `json:"absolute_timeout"`

	IP        string `json:"ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	TenantID  string `json:"tenant_id,omitempty"`

	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`

	MFAVerified bool            `json:"mfa_verified"`
	RiskScore   float64         `json:"risk_score"`
	Flags       map[string]bool `json:"flags,omitempty"`
}

// Touch records activity at now and recomputes the expiry invariant:
// expires_at = min(last_activity + idle_timeout, created_at + absolute_timeout).
func (s *Session) Touch(now time.Time) {
	s.LastActivity = now
	idle := s.LastActivity.Add(s.IdleTimeout)
	absolute := s.CreatedAt.Add(s.AbsoluteTimeout)
	if idle.Before(absolute) {
		s.ExpiresAt = idle
	} else {
		s.ExpiresAt = absolute
	}
}

// Valid reports whether the session is active and unexpired at now.
func (s *Session) Valid(now time.Time) bool {
	return s.Status == StatusActive && now.Before(s.ExpiresAt)
}

// SetFlag adds a named flag to the session.
func (s *Session) SetFlag(flag string) {
	if s.Flags == nil {
		s.Flags = make(map[string]bool)
	}
	s.Flags[flag] = true
}

// ClearFlag removes a named flag.
func (s *Session) ClearFlag(flag string) {
	delete(s.Flags, flag)
}

// HasFlag reports whether the named flag is set.
func (s *Session) HasFlag(flag string) bool {
	return s.Flags[flag]
}

// Device is a registered client fingerprint. Sessions reference a device by
// id but do not own it; a device outlives any one session.
type Device struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	Type      string    `json:"type,omitempty"`
	Trusted   bool      `json:"trusted"`
	FirstSeen time.Time `json:"first_seen"`
	LastSeen  time.Time `json:"last_seen"`
}

// Activity is one audit entry in a session's activity log. Activity entries
// survive session termination.
type Activity struct {
	SessionID string            `json:"session_id"`
	UserID    string            `json:"user_id"`
	EventType string            `json:"event_type"`
	IP        string            `json:"ip,omitempty"`
	UserAgent string            `json:"user_agent,omitempty"`
	Timestamp time.Time         `json:"timestamp"`
	Details   map[string]string `json:"details,omitempty"`
}

// Policy bundles the timeout and MFA posture applied to new sessions.
type Policy struct {
	Name            string
	IdleTimeout     time.Duration
	AbsoluteTimeout time.Duration
	RequireMFA      bool
}
