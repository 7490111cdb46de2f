package session

import (
	"context"
	"errors"
	"net/netip"
	"strings"
	"time"

	"github.com/google/uuid"
)

// MFAVerifier checks a second-factor code for a user. Implementations must
// be safe for concurrent use.
type MFAVerifier interface {
	Verify(ctx context.Context, userID, code string) (bool, error)
}

// Config tunes session lifecycle behavior. Zero values fall back to the
// documented defaults.
type Config struct {
	// MaxConcurrent caps live sessions per user. Creating a session past
	// the cap evicts the user's oldest session. Default 5.
	MaxConcurrent int

	// DefaultPolicy applies when a create request names no policy and no
	// per-kind policy matches.
	DefaultPolicy Policy

	// KindPolicies overrides the default policy per session kind.
	KindPolicies map[Kind]Policy

	// HighRiskThreshold is the score at or above which a session is
	// flagged high risk. Default 0.8.
	HighRiskThreshold float64

	// IPChangeIncrement is added to the risk score when the observed IP
	// differs from the session's recorded IP. Default 0.3.
	IPChangeIncrement float64

	// MFADecrement is subtracted from the risk score (floored at 0) after
	// a successful MFA verification. Default 0.3.
	MFADecrement float64

	// DeniedNetworks lists IPs or CIDR prefixes refused before any state
	// is created.
	DeniedNetworks []string

	// BlockedUserAgents lists case-insensitive substrings of user agents
	// refused before any state is created.
	BlockedUserAgents []string

	// RiskWeights configures the scoring model.
	RiskWeights RiskWeights

	// DisableRiskScoring creates every session with a zero risk score
	// and skips the IP-change increment. Sessions are never flagged
	// high risk.
	DisableRiskScoring bool
}

func (c Config) withDefaults() Config {
	if c.MaxConcurrent <= 0 {
		c.MaxConcurrent = 5
	}
	if c.DefaultPolicy.IdleTimeout <= 0 {
		c.DefaultPolicy.IdleTimeout = 30 * time.Minute
	}
	if c.DefaultPolicy.AbsoluteTimeout <= 0 {
		c.DefaultPolicy.AbsoluteTimeout = 8 * time.Hour
	}
	if c.DefaultPolicy.Name == "" {
		c.DefaultPolicy.Name = "default"
	}
	if c.HighRiskThreshold <= 0 {
		c.HighRiskThreshold = 0.8
	}
	if c.IPChangeIncrement <= 0 {
		c.IPChangeIncrement = 0.3
	}
	if c.MFADecrement <= 0 {
		c.MFADecrement = 0.3
	}
	return c
}

// CreateRequest carries the inputs for a new session.
type CreateRequest struct {
	UserID      string
	Kind        Kind
	IP          string
	UserAgent   string
	DeviceID    string
	TenantID    string
	Roles       []string
	Permissions []string

	// Policy, when non-nil, overrides both the kind policy and the
	// default policy.
	Policy *Policy
}

// Service implements the session lifecycle: creation with origin checks and
// the concurrent-session cap, activity tracking with the expiry invariant,
// risk scoring, MFA state, and termination.
type Service struct {
	store    Store
	risk     *RiskEngine
	verifier MFAVerifier
	config   Config

	denied []netip.Prefix

	clock func() time.Time
}

// NewService creates a session Service on top of store. verifier may be nil
// when no MFA flow is configured; VerifyMFA then always reports false.
func NewService(store Store, verifier MFAVerifier, config Config) *Service {
	config = config.withDefaults()
	return &Service{
		store:    store,
		risk:     NewRiskEngine(config.RiskWeights),
		verifier: verifier,
		config:   config,
		denied:   parseDeniedNetworks(config.DeniedNetworks),
		clock:    time.Now,
	}
}

// WithClock overrides the service clock. Test hook.
func (s *Service) WithClock(clock func() time.Time) *Service {
	s.clock = clock
	return s
}

func parseDeniedNetworks(entries []string) []netip.Prefix {
	out := make([]netip.Prefix, 0, len(entries))
	for _, entry := range entries {
		if prefix, err := netip.ParsePrefix(entry); err == nil {
			out = append(out, prefix)
			continue
		}
		if addr, err := netip.ParseAddr(entry); err == nil {
			out = append(out, netip.PrefixFrom(addr, addr.BitLen()))
		}
	}
	return out
}

func (s *Service) originBlocked(ip, userAgent string) bool {
	if addr, err := netip.ParseAddr(ip); err == nil {
		for _, prefix := range s.denied {
			if prefix.Contains(addr) {
				return true
			}
		}
	}
	if userAgent != "" {
		lowered := strings.ToLower(userAgent)
		for _, blocked := range s.config.BlockedUserAgents {
			if blocked != "" && strings.Contains(lowered, strings.ToLower(blocked)) {
				return true
			}
		}
	}
	return false
}

func (s *Service) policyFor(req CreateRequest) Policy {
	if req.Policy != nil {
		return *req.Policy
	}
	if policy, ok := s.config.KindPolicies[req.Kind]; ok {
		return policy
	}
	return s.config.DefaultPolicy
}

// Create builds a new session for the user. Requests from denied origins
// fail with ErrOriginBlocked before any state is written. When the user is
// at the concurrent-session cap the oldest session is evicted first.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Session, error) {
	if s.originBlocked(req.IP, req.UserAgent) {
		return nil, ErrOriginBlocked
	}

	now := s.clock()

	if err := s.enforceCap(ctx, req.UserID); err != nil {
		return nil, err
	}

	device, err := s.resolveDevice(ctx, req, now)
	if err != nil {
		return nil, err
	}

	policy := s.policyFor(req)
	if policy.IdleTimeout <= 0 {
		policy.IdleTimeout = s.config.DefaultPolicy.IdleTimeout
	}
	if policy.AbsoluteTimeout <= 0 {
		policy.AbsoluteTimeout = s.config.DefaultPolicy.AbsoluteTimeout
	}

	sess := &Session{
		ID:              uuid.NewString(),
		UserID:          req.UserID,
		Kind:            req.Kind,
		Status:          StatusActive,
		CreatedAt:       now,
		IdleTimeout:     policy.IdleTimeout,
		AbsoluteTimeout: policy.AbsoluteTimeout,
		IP:              req.IP,
		UserAgent:       req.UserAgent,
		TenantID:        req.TenantID,
		Roles:           append([]string(nil), req.Roles...),
		Permissions:     append([]string(nil), req.Permissions...),
	}
	if device != nil {
		sess.DeviceID = device.ID
	}
	sess.Touch(now)

	if !s.config.DisableRiskScoring {
		sess.RiskScore = s.risk.Score(req.IP, device, req.UserAgent, now)
		if sess.RiskScore >= s.config.HighRiskThreshold {
			sess.SetFlag(FlagHighRisk)
		}
	}
	if policy.RequireMFA {
		sess.SetFlag(FlagMFARequired)
	}

	if err := s.store.Save(ctx, sess); err != nil {
		return nil, err
	}
	s.record(ctx, sess, "session_created", map[string]string{"policy": policy.Name})

	return sess, nil
}

func (s *Service) enforceCap(ctx context.Context, userID string) error {
	live, err := s.store.UserSessions(ctx, userID)
	if err != nil {
		return err
	}

	now := s.clock()
	active := live[:0]
	for _, sess := range live {
		if sess.Valid(now) {
			active = append(active, sess)
		} else {
			// Drop lapsed sessions while counting; they do not hold
			// a cap slot.
			s.expire(ctx, sess)
		}
	}

	// UserSessions returns oldest first.
	for len(active) >= s.config.MaxConcurrent {
		oldest := active[0]
		active = active[1:]
		if err := s.store.Delete(ctx, oldest.ID); err != nil {
			return err
		}
		s.record(ctx, oldest, "session_terminated", map[string]string{"reason": "concurrent_session_limit"})
	}
	return nil
}

func (s *Service) resolveDevice(ctx context.Context, req CreateRequest, now time.Time) (*Device, error) {
	if req.DeviceID == "" {
		return nil, nil
	}

	device, err := s.store.GetDevice(ctx, req.DeviceID)
	if err != nil {
		if !errors.Is(err, ErrSessionNotFound) {
			return nil, err
		}
		device = &Device{
			ID:        req.DeviceID,
			UserID:    req.UserID,
			Type:      string(req.Kind),
			FirstSeen: now,
		}
	}
	device.LastSeen = now
	if err := s.store.SaveDevice(ctx, device); err != nil {
		return nil, err
	}
	return device, nil
}

// Get returns the session by id, or (nil, nil) when it does not exist or
// has lapsed. Lapsed sessions are removed on read.
func (s *Service) Get(ctx context.Context, id string) (*Session, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return nil, nil
		}
		return nil, err
	}
	if !sess.Valid(s.clock()) {
		s.expire(ctx, sess)
		return nil, nil
	}
	return sess, nil
}

// UpdateActivity records activity on the session, extending its idle window
// under the expiry invariant. An IP different from the session's recorded
// one raises the risk score and is logged; the new IP becomes the recorded
// one. Returns false when the session does not exist or has lapsed.
func (s *Service) UpdateActivity(ctx context.Context, id, ip, userAgent string) (bool, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	now := s.clock()
	if !sess.Valid(now) {
		s.expire(ctx, sess)
		return false, nil
	}

	sess.Touch(now)

	if ip != "" && ip != sess.IP {
		previous := sess.IP
		if !s.config.DisableRiskScoring {
			sess.RiskScore = clamp01(sess.RiskScore + s.config.IPChangeIncrement)
			if sess.RiskScore >= s.config.HighRiskThreshold {
				sess.SetFlag(FlagHighRisk)
			}
		}
		sess.IP = ip
		s.record(ctx, sess, "ip_change_detected", map[string]string{"previous_ip": previous})
	}
	if userAgent != "" {
		sess.UserAgent = userAgent
	}

	if err := s.store.Update(ctx, sess); err != nil {
		return false, err
	}
	return true, nil
}

// Terminate ends the session and removes it from the live index. The
// activity log survives, recording the reason and, when given, the actor
// (user id, "system", an admin id). Returns false when no such session
// exists; terminating twice is a no-op.
func (s *Service) Terminate(ctx context.Context, id, reason, by string) (bool, error) {
	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}

	if err := s.store.Delete(ctx, id); err != nil {
		return false, err
	}
	s.record(ctx, sess, "session_terminated", terminationDetails(reason, by))
	return true, nil
}

// TerminateAllForUser ends every live session of the user except the one
// named by exceptID (empty terminates all) and reports how many were
// terminated.
func (s *Service) TerminateAllForUser(ctx context.Context, userID, exceptID, reason, by string) (int, error) {
	live, err := s.store.UserSessions(ctx, userID)
	if err != nil {
		return 0, err
	}

	count := 0
	for _, sess := range live {
		if sess.ID == exceptID {
			continue
		}
		if err := s.store.Delete(ctx, sess.ID); err != nil {
			return count, err
		}
		s.record(ctx, sess, "session_terminated", terminationDetails(reason, by))
		count++
	}
	return count, nil
}

func terminationDetails(reason, by string) map[string]string {
	details := map[string]string{"reason": reason}
	if by != "" {
		details["terminated_by"] = by
	}
	return details
}

// VerifyMFA checks the code against the configured verifier. A successful
// verification marks the session MFA-verified, clears the mfa_required
// flag, and lowers the risk score. Returns false for a wrong code, a lapsed
// session, or when no verifier is configured.
func (s *Service) VerifyMFA(ctx context.Context, id, code string) (bool, error) {
	if s.verifier == nil {
		return false, nil
	}

	sess, err := s.store.Get(ctx, id)
	if err != nil {
		if errors.Is(err, ErrSessionNotFound) {
			return false, nil
		}
		return false, err
	}
	if !sess.Valid(s.clock()) {
		s.expire(ctx, sess)
		return false, nil
	}

	ok, err := s.verifier.Verify(ctx, sess.UserID, code)
	if err != nil {
		return false, err
	}
	if !ok {
		s.record(ctx, sess, "mfa_failed", nil)
		return false, nil
	}

	sess.MFAVerified = true
	sess.ClearFlag(FlagMFARequired)
	sess.RiskScore = sess.RiskScore - s.config.MFADecrement
	if sess.RiskScore < 0 {
		sess.RiskScore = 0
	}
	if sess.RiskScore < s.config.HighRiskThreshold {
		sess.ClearFlag(FlagHighRisk)
	}

	if err := s.store.Update(ctx, sess); err != nil {
		return false, err
	}
	s.record(ctx, sess, "mfa_verified", nil)
	return true, nil
}

// Sessions lists the user's live sessions, oldest first.
func (s *Service) Sessions(ctx context.Context, userID string) ([]*Session, error) {
	live, err := s.store.UserSessions(ctx, userID)
	if err != nil {
		return nil, err
	}

	now := s.clock()
	out := live[:0]
	for _, sess := range live {
		if sess.Valid(now) {
			out = append(out, sess)
		} else {
			s.expire(ctx, sess)
		}
	}
	return out, nil
}

// ActivityLog returns up to limit recent activity entries for the session,
// oldest first. Works for terminated sessions too.
func (s *Service) ActivityLog(ctx context.Context, sessionID string, limit int) ([]Activity, error) {
	return s.store.Activities(ctx, sessionID, limit)
}

// Sweep removes lapsed sessions from the live index and reports how many
// were dropped.
func (s *Service) Sweep(ctx context.Context) (int, error) {
	all, err := s.store.All(ctx)
	if err != nil {
		return 0, err
	}

	now := s.clock()
	count := 0
	for _, sess := range all {
		if sess.Valid(now) {
			continue
		}
		s.expire(ctx, sess)
		count++
	}
	return count, nil
}

func (s *Service) expire(ctx context.Context, sess *Session) {
	if err := s.store.Delete(ctx, sess.ID); err != nil {
		return
	}
	s.record(ctx, sess, "session_expired", nil)
}

func (s *Service) record(ctx context.Context, sess *Session, event string, details map[string]string) {
	_ = s.store.AppendActivity(ctx, Activity{
		SessionID: sess.ID,
		UserID:    sess.UserID,
		EventType: event,
		IP:        sess.IP,
		UserAgent: sess.UserAgent,
		Timestamp: s.clock(),
		Details:   details,
	})
}
