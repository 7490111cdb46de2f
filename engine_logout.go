package authcore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taxpoynt/authcore/internal/audit"
	"github.com/taxpoynt/authcore/token"
)

// LogoutRequest ends a login. Supply the access token, the session id,
// or both; AllSessions extends the logout to every token and session of
// the resolved user.
type LogoutRequest struct {
	Token       string
	SessionID   string
	AllSessions bool
}

// LogoutResult reports how much state the logout removed.
type LogoutResult struct {
	SessionsTerminated int `json:"sessions_terminated"`
	TokensRevoked      int `json:"tokens_revoked"`
}

// Logout revokes the presented token and terminates its session. Logout
// is idempotent: already-revoked tokens and already-gone sessions count
// zero without failing.
func (e *Engine) Logout(ctx context.Context, req LogoutRequest) (*LogoutResult, error) {
	if req.Token == "" && req.SessionID == "" {
		return nil, fmt.Errorf("%w: token or session id required", ErrValidation)
	}

	var result LogoutResult
	var userID, sessionID string

	if req.Token != "" {
		v := e.tokens.Validate(ctx, req.Token, token.ValidateOptions{ExpectedKind: token.KindAccess})
		if v.Valid {
			userID = v.Claims.Subject
			sessionID = v.Claims.SessionID
			if e.tokens.Revoke(ctx, req.Token, "logout") {
				result.TokensRevoked++
			}
		} else if req.SessionID == "" {
			return nil, fmt.Errorf("%w: %s", ErrTokenInvalid, v.Error)
		}
	}
	if req.SessionID != "" {
		sessionID = req.SessionID
	}

	if sessionID != "" && userID == "" {
		if sess, err := e.sessions.Get(ctx, sessionID); err == nil && sess != nil {
			userID = sess.UserID
		}
	}

	if req.AllSessions && userID != "" {
		result.TokensRevoked += e.tokens.RevokeSubject(ctx, userID, "logout_all")
		terminated, err := e.sessions.TerminateAllForUser(ctx, userID, "", "logout_all", userID)
		if err != nil {
			e.logger.Warn("logout-all termination incomplete", zap.Error(err))
		}
		result.SessionsTerminated += terminated
		e.metrics.Inc(MetricLogoutAll)
	} else if sessionID != "" {
		terminated, err := e.sessions.Terminate(ctx, sessionID, "logout", userID)
		if err != nil {
			e.logger.Warn("logout termination failed", zap.Error(err))
		}
		if terminated {
			result.SessionsTerminated++
		}
		e.metrics.Inc(MetricLogout)
	}

	e.metrics.Add(MetricTokenRevoked, uint64(result.TokensRevoked))
	e.metrics.Add(MetricSessionTerminated, uint64(result.SessionsTerminated))
	e.emit(ctx, audit.Event{
		Operation: "logout",
		UserID:    userID,
		SessionID: sessionID,
		Success:   true,
		Metadata: map[string]string{
			"all_sessions": fmt.Sprintf("%t", req.AllSessions),
		},
	})
	return &result, nil
}
