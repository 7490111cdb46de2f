package authcore

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	"github.com/taxpoynt/authcore/internal/audit"
	"github.com/taxpoynt/authcore/internal/rate"
	"github.com/taxpoynt/authcore/token"
)

// RefreshResult carries the access token minted from a refresh token.
// The refresh token itself stays valid until its own expiry or an
// explicit revocation.
type RefreshResult struct {
	AccessToken string `json:"access_token"`
	ExpiresIn   int64  `json:"expires_in"`
	UserID      string `json:"user_id"`
	SessionID   string `json:"session_id,omitempty"`
}

// RefreshToken exchanges a valid refresh token for a fresh access token
// carrying the same subject, roles, permissions, tenant, and session.
// Invalid, expired, and revoked refresh tokens return ErrRefreshInvalid.
func (e *Engine) RefreshToken(ctx context.Context, refreshRaw string) (*RefreshResult, error) {
	if refreshRaw == "" {
		return nil, fmt.Errorf("%w: refresh token required", ErrValidation)
	}

	// Throttle by the token itself so a stolen refresh token cannot be
	// hammered offline.
	if err := e.limiter.AllowRefresh(ctx, refreshRaw); err != nil {
		if errors.Is(err, rate.ErrRateLimited) {
			e.metrics.Inc(MetricRefreshRateLimited)
			return nil, ErrRefreshRateLimited
		}
		e.logger.Warn("refresh limiter unavailable", zap.Error(err))
	}

	signed, record, ok := e.tokens.Refresh(ctx, refreshRaw)
	if !ok {
		e.metrics.Inc(MetricRefreshFailure)
		e.emit(ctx, audit.Event{
			Operation: "refresh_token",
			Reason:    "invalid_refresh_token",
		})
		return nil, ErrRefreshInvalid
	}

	if record.SessionID != "" {
		if live, err := e.sessions.UpdateActivity(ctx, record.SessionID, "", ""); err != nil {
			e.logger.Warn("session activity update failed", zap.Error(err))
		} else if !live {
			// The session lapsed between refreshes; the minted access
			// token would fail authorization anyway, so fail here.
			e.tokens.Revoke(ctx, record.JTI, "session_expired")
			e.metrics.Inc(MetricRefreshFailure)
			e.emit(ctx, audit.Event{
				Operation: "refresh_token",
				UserID:    record.Subject,
				SessionID: record.SessionID,
				Reason:    "session_expired",
			})
			return nil, ErrRefreshInvalid
		}
	}

	e.metrics.Inc(MetricRefreshSuccess)
	e.metrics.Inc(MetricTokenIssued)
	e.emit(ctx, audit.Event{
		Operation: "refresh_token",
		UserID:    record.Subject,
		TenantID:  record.TenantID,
		SessionID: record.SessionID,
		TokenID:   record.JTI,
		Success:   true,
	})
	return &RefreshResult{
		AccessToken: signed,
		ExpiresIn:   int64(e.tokens.TTLFor(token.KindAccess).Seconds()),
		UserID:      record.Subject,
		SessionID:   record.SessionID,
	}, nil
}
