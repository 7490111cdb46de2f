package authcore

import (
	"context"
	"fmt"

	"go.uber.org/zap"

	"github.com/taxpoynt/authcore/internal/audit"
	"github.com/taxpoynt/authcore/permission"
	"github.com/taxpoynt/authcore/token"
)

// AuthorizeRequest asks whether a token's bearer may perform an action.
// Either PermissionID or the ResourceType/Action pair must be set.
type AuthorizeRequest struct {
	Token        string
	PermissionID string
	ResourceType string
	ResourceID   string
	Action       string
	IP           string

	// RequiredRoles and RequiredPermissions are extra claim checks
	// enforced during token validation, before any policy evaluation.
	RequiredRoles       []string
	RequiredPermissions []string
}

// AuthorizeResult is one authorization decision. A denial is a result,
// not an error; errors are reserved for invalid tokens and malformed
// requests.
type AuthorizeResult struct {
	Allowed     bool     `json:"authorized"`
	Reason      string   `json:"reason"`
	Policy      string   `json:"policy,omitempty"`
	UserID      string   `json:"user_id"`
	TenantID    string   `json:"tenant_id,omitempty"`
	Roles       []string `json:"roles,omitempty"`
	Permissions []string `json:"permissions,omitempty"`
	CacheHit    bool     `json:"cache_hit"`
}

// Authorize validates the access token and evaluates the requested
// permission against the bearer's roles, the active policies, the
// permission's conditions, and the resource ACL. When the token is
// bound to a session, the session must still be live and its activity
// clock is advanced.
func (e *Engine) Authorize(ctx context.Context, req AuthorizeRequest) (*AuthorizeResult, error) {
	started := e.now()
	defer func() {
		e.metrics.Observe(MetricAuthorizeLatency, e.now().Sub(started))
	}()

	if req.Token == "" {
		return nil, fmt.Errorf("%w: token required", ErrValidation)
	}
	if req.PermissionID == "" && (req.ResourceType == "" || req.Action == "") {
		return nil, fmt.Errorf("%w: permission id or resource type and action required", ErrValidation)
	}

	v := e.tokens.Validate(ctx, req.Token, token.ValidateOptions{
		ExpectedKind:        token.KindAccess,
		RequiredRoles:       req.RequiredRoles,
		RequiredPermissions: req.RequiredPermissions,
	})
	if !v.Valid {
		e.emit(ctx, audit.Event{
			Operation:    "authorize",
			PermissionID: req.PermissionID,
			IP:           req.IP,
			Reason:       v.Error,
		})
		return nil, fmt.Errorf("%w: %s", ErrTokenInvalid, v.Error)
	}
	claims := v.Claims

	if claims.SessionID != "" {
		live, err := e.sessions.UpdateActivity(ctx, claims.SessionID, req.IP, "")
		if err != nil {
			// Session backend down degrades to token-only checks.
			e.logger.Warn("session activity update failed", zap.Error(err))
		} else if !live {
			e.metrics.Inc(MetricAuthorizeDenied)
			e.emit(ctx, audit.Event{
				Operation:    "authorize",
				UserID:       claims.Subject,
				SessionID:    claims.SessionID,
				PermissionID: req.PermissionID,
				IP:           req.IP,
				Reason:       "session_expired",
			})
			return &AuthorizeResult{
				Allowed: false,
				Reason:  "session_expired",
				UserID:  claims.Subject,
			}, nil
		}
	}

	pctx := permission.Context{
		UserID:       claims.Subject,
		Roles:        claims.Roles,
		Permissions:  claims.Permissions,
		TenantID:     claims.TenantID,
		IP:           req.IP,
		ResourceType: req.ResourceType,
		ResourceID:   req.ResourceID,
		Action:       req.Action,
		At:           e.now(),
	}

	var eval permission.Evaluation
	if req.PermissionID != "" {
		eval = e.perms.Evaluate(pctx, req.PermissionID)
	} else {
		eval = e.perms.EvaluateAction(pctx)
	}

	if eval.Allowed {
		e.metrics.Inc(MetricAuthorizeAllowed)
	} else {
		e.metrics.Inc(MetricAuthorizeDenied)
	}
	e.emit(ctx, audit.Event{
		Operation:    "authorize",
		UserID:       claims.Subject,
		TenantID:     claims.TenantID,
		SessionID:    claims.SessionID,
		PermissionID: req.PermissionID,
		IP:           req.IP,
		Success:      eval.Allowed,
		Reason:       eval.Reason,
	})

	return &AuthorizeResult{
		Allowed:     eval.Allowed,
		Reason:      eval.Reason,
		Policy:      eval.Policy,
		UserID:      claims.Subject,
		TenantID:    claims.TenantID,
		Roles:       claims.Roles,
		Permissions: claims.Permissions,
		CacheHit:    eval.CacheHit,
	}, nil
}
