package authcore

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taxpoynt/authcore/internal/audit"
	"github.com/taxpoynt/authcore/internal/rate"
	"github.com/taxpoynt/authcore/session"
	"github.com/taxpoynt/authcore/token"
)

// AuthenticateRequest carries one login attempt.
type AuthenticateRequest struct {
	Username  string
	Password  string
	IP        string
	UserAgent string
	DeviceID  string
	TenantID  string
	// MFACode, when set, is verified in the same call. Without it, an
	// MFA-required login returns MFARequired and withholds tokens.
	MFACode string
	// Kind selects the session policy. Default web.
	Kind session.Kind
}

// AuthenticateResult is a completed or MFA-pending login.
type AuthenticateResult struct {
	UserID       string    `json:"user_id"`
	SessionID    string    `json:"session_id"`
	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	ExpiresIn    int64     `json:"expires_in,omitempty"`
	ExpiresAt    time.Time `json:"expires_at,omitzero"`
	Roles        []string  `json:"roles,omitempty"`
	Permissions  []string  `json:"permissions,omitempty"`
	TenantID     string    `json:"tenant_id,omitempty"`
	// MFARequired marks an incomplete login: the session exists but no
	// tokens are issued until the second factor verifies.
	MFARequired bool    `json:"mfa_required,omitempty"`
	RiskScore   float64 `json:"risk_score"`
}

// Authenticate verifies credentials, creates a session, and issues an
// access/refresh token pair. Unknown usernames and wrong passwords both
// return ErrInvalidCredentials and count against the login budget.
//
// When the account or the session policy demands MFA and no code is
// supplied, the result carries MFARequired with a session id and no
// tokens; CompleteMFA finishes the login.
func (e *Engine) Authenticate(ctx context.Context, req AuthenticateRequest) (*AuthenticateResult, error) {
	started := e.now()
	defer func() {
		e.metrics.Observe(MetricAuthenticateLatency, e.now().Sub(started))
	}()

	if req.Username == "" || req.Password == "" {
		return nil, fmt.Errorf("%w: username and password required", ErrValidation)
	}

	if err := e.limiter.AllowLogin(ctx, req.Username, req.IP); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(MetricLoginRateLimited)
			e.emit(ctx, audit.Event{
				Operation: "authenticate",
				IP:        req.IP,
				Reason:    "rate_limited",
				Metadata:  map[string]string{"username": req.Username},
			})
			return nil, ErrLoginRateLimited
		}
		// Limiter backend down: let the login through rather than
		// locking every user out.
		e.logger.Warn("login limiter unavailable", zap.Error(err))
	}

	rec, err := e.users.Lookup(ctx, req.Username)
	if err != nil {
		return nil, fmt.Errorf("%w: user lookup: %v", ErrBackendUnavailable, err)
	}
	if rec == nil {
		return nil, e.failLogin(ctx, req, "unknown_user")
	}
	if rec.Status != "" && rec.Status != UserStatusActive {
		e.metrics.Inc(MetricLoginFailure)
		e.emit(ctx, audit.Event{
			Operation: "authenticate",
			UserID:    rec.UserID,
			IP:        req.IP,
			Reason:    "account_" + rec.Status,
		})
		return nil, ErrAccountInactive
	}

	ok, err := e.hasher.Verify(req.Password, rec.PasswordHash)
	if err != nil {
		return nil, fmt.Errorf("%w: stored credential unreadable: %v", ErrBackendUnavailable, err)
	}
	if !ok {
		return nil, e.failLogin(ctx, req, "wrong_password")
	}
	if err := e.limiter.ResetLogin(ctx, req.Username, req.IP); err != nil {
		e.logger.Warn("login limiter reset failed", zap.Error(err))
	}
	e.maybeUpgradeHash(ctx, rec, req.Password)

	tenant := req.TenantID
	if tenant == "" {
		tenant = rec.TenantID
	}
	kind := req.Kind
	if kind == "" {
		kind = session.KindWeb
	}

	sess, err := e.sessions.Create(ctx, session.CreateRequest{
		UserID:      rec.UserID,
		Kind:        kind,
		IP:          req.IP,
		UserAgent:   req.UserAgent,
		DeviceID:    req.DeviceID,
		TenantID:    tenant,
		Roles:       rec.Roles,
		Permissions: rec.Permissions,
	})
	if err != nil {
		if errors.Is(err, session.ErrOriginBlocked) {
			e.emit(ctx, audit.Event{
				Operation: "authenticate",
				UserID:    rec.UserID,
				IP:        req.IP,
				Reason:    "origin_blocked",
			})
			return nil, ErrOriginBlocked
		}
		return nil, fmt.Errorf("%w: create session: %v", ErrBackendUnavailable, err)
	}
	e.metrics.Inc(MetricSessionCreated)

	if rec.MFAEnabled || sess.HasFlag(session.FlagMFARequired) {
		if req.MFACode == "" {
			e.metrics.Inc(MetricMFARequired)
			e.emit(ctx, audit.Event{
				Operation: "authenticate",
				UserID:    rec.UserID,
				SessionID: sess.ID,
				IP:        req.IP,
				Success:   true,
				Reason:    "mfa_required",
			})
			return &AuthenticateResult{
				UserID:      rec.UserID,
				SessionID:   sess.ID,
				TenantID:    tenant,
				Roles:       rec.Roles,
				MFARequired: true,
				RiskScore:   sess.RiskScore,
			}, nil
		}
		verified, err := e.sessions.VerifyMFA(ctx, sess.ID, req.MFACode)
		if err != nil {
			return nil, fmt.Errorf("%w: mfa verification: %v", ErrBackendUnavailable, err)
		}
		if !verified {
			e.metrics.Inc(MetricMFAFailure)
			e.emit(ctx, audit.Event{
				Operation: "authenticate",
				UserID:    rec.UserID,
				SessionID: sess.ID,
				IP:        req.IP,
				Reason:    "mfa_failed",
			})
			return nil, ErrMFAFailed
		}
		e.metrics.Inc(MetricMFASuccess)
		if fresh, err := e.sessions.Get(ctx, sess.ID); err == nil && fresh != nil {
			sess = fresh
		}
	}

	result, err := e.issuePair(ctx, sess)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emit(ctx, audit.Event{
		Operation: "authenticate",
		UserID:    rec.UserID,
		TenantID:  tenant,
		SessionID: sess.ID,
		IP:        req.IP,
		Success:   true,
	})
	return result, nil
}

// CompleteMFA finishes a login held on MFARequired. On success it
// clears the MFA flag, lowers the session risk score, and issues the
// token pair withheld by Authenticate.
func (e *Engine) CompleteMFA(ctx context.Context, sessionID, code string) (*AuthenticateResult, error) {
	if sessionID == "" || code == "" {
		return nil, fmt.Errorf("%w: session id and code required", ErrValidation)
	}

	sess, err := e.sessions.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("%w: load session: %v", ErrBackendUnavailable, err)
	}
	if sess == nil {
		return nil, ErrSessionNotFound
	}

	verified, err := e.sessions.VerifyMFA(ctx, sessionID, code)
	if err != nil {
		return nil, fmt.Errorf("%w: mfa verification: %v", ErrBackendUnavailable, err)
	}
	if !verified {
		e.metrics.Inc(MetricMFAFailure)
		e.emit(ctx, audit.Event{
			Operation: "complete_mfa",
			UserID:    sess.UserID,
			SessionID: sessionID,
			Reason:    "mfa_failed",
		})
		return nil, ErrMFAFailed
	}
	e.metrics.Inc(MetricMFASuccess)

	if fresh, err := e.sessions.Get(ctx, sessionID); err == nil && fresh != nil {
		sess = fresh
	}
	result, err := e.issuePair(ctx, sess)
	if err != nil {
		return nil, err
	}
	e.metrics.Inc(MetricLoginSuccess)
	e.emit(ctx, audit.Event{
		Operation: "complete_mfa",
		UserID:    sess.UserID,
		SessionID: sessionID,
		Success:   true,
	})
	return result, nil
}

// issuePair signs an access and refresh token bound to the session.
func (e *Engine) issuePair(ctx context.Context, sess *session.Session) (*AuthenticateResult, error) {
	base := token.IssueRequest{
		Subject:     sess.UserID,
		Roles:       sess.Roles,
		Permissions: sess.Permissions,
		TenantID:    sess.TenantID,
		SessionID:   sess.ID,
		IP:          sess.IP,
		UserAgent:   sess.UserAgent,
		DeviceID:    sess.DeviceID,
	}

	access := base
	access.Kind = token.KindAccess
	accessRaw, _, err := e.tokens.Issue(ctx, access)
	if err != nil {
		return nil, fmt.Errorf("%w: issue access token: %v", ErrBackendUnavailable, err)
	}

	refresh := base
	refresh.Kind = token.KindRefresh
	refreshRaw, _, err := e.tokens.Issue(ctx, refresh)
	if err != nil {
		return nil, fmt.Errorf("%w: issue refresh token: %v", ErrBackendUnavailable, err)
	}
	e.metrics.Add(MetricTokenIssued, 2)

	ttl := e.tokens.TTLFor(token.KindAccess)
	return &AuthenticateResult{
		UserID:       sess.UserID,
		SessionID:    sess.ID,
		AccessToken:  accessRaw,
		RefreshToken: refreshRaw,
		ExpiresIn:    int64(ttl.Seconds()),
		ExpiresAt:    e.now().Add(ttl),
		Roles:        sess.Roles,
		Permissions:  sess.Permissions,
		TenantID:     sess.TenantID,
		RiskScore:    sess.RiskScore,
	}, nil
}

// maybeUpgradeHash rehashes a stale credential after a successful
// verify, when the provider supports writing hashes back. Failures are
// logged and ignored: the login already succeeded.
func (e *Engine) maybeUpgradeHash(ctx context.Context, rec *UserRecord, plaintext string) {
	up, ok := e.users.(CredentialUpgrader)
	if !ok {
		return
	}
	stale, err := e.hasher.NeedsRehash(rec.PasswordHash)
	if err != nil || !stale {
		return
	}
	newHash, err := e.hasher.Hash(plaintext)
	if err != nil {
		e.logger.Warn("credential rehash failed", zap.Error(err))
		return
	}
	if err := up.UpdatePasswordHash(ctx, rec.UserID, newHash); err != nil {
		e.logger.Warn("credential rehash write failed", zap.Error(err))
	}
}

// failLogin records one failed attempt and returns the uniform
// credential error. reason distinguishes the cases in the audit trail
// only.
func (e *Engine) failLogin(ctx context.Context, req AuthenticateRequest, reason string) error {
	if err := e.limiter.RecordLoginFailure(ctx, req.Username, req.IP); err != nil {
		e.logger.Warn("login limiter record failed", zap.Error(err))
	}
	e.metrics.Inc(MetricLoginFailure)
	e.emit(ctx, audit.Event{
		Operation: "authenticate",
		IP:        req.IP,
		Reason:    reason,
		Metadata:  map[string]string{"username": req.Username},
	})
	return ErrInvalidCredentials
}
