package authcore

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/taxpoynt/authcore/session"
)

// Result is the uniform envelope returned by Handle. Failures carry a
// category from the error taxonomy and a message; they never carry
// partial data.
type Result struct {
	Success  bool           `json:"success"`
	Data     map[string]any `json:"data,omitempty"`
	Error    string         `json:"error,omitempty"`
	Category string         `json:"category,omitempty"`
}

func failure(err error) Result {
	return Result{Success: false, Error: err.Error(), Category: categoryOf(err)}
}

func success(data map[string]any) Result {
	return Result{Success: true, Data: data}
}

// Handle dispatches one named operation with an untyped payload. It is
// the transport-facing entry point: every outcome, including malformed
// payloads and internal failures, is reported through the Result
// envelope and nothing escapes as a panic.
//
// Supported operations: authenticate, authorize, logout, refresh_token,
// assign_role.
func (e *Engine) Handle(ctx context.Context, operation string, payload map[string]any) (result Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("operation panicked",
				zap.String("operation", operation),
				zap.Any("panic", r),
			)
			result = Result{
				Success:  false,
				Error:    "internal error",
				Category: CategoryConfiguration,
			}
		}
	}()

	switch operation {
	case "authenticate":
		return e.handleAuthenticate(ctx, payload)
	case "authorize":
		return e.handleAuthorize(ctx, payload)
	case "logout":
		return e.handleLogout(ctx, payload)
	case "refresh_token":
		return e.handleRefresh(ctx, payload)
	case "assign_role":
		return e.handleAssignRole(ctx, payload)
	default:
		return failure(fmt.Errorf("%w: %q", ErrUnknownOperation, operation))
	}
}

func (e *Engine) handleAuthenticate(ctx context.Context, payload map[string]any) Result {
	req := AuthenticateRequest{
		Username:  str(payload, "username"),
		Password:  str(payload, "password"),
		IP:        str(payload, "ip_address", "ip"),
		UserAgent: str(payload, "user_agent"),
		DeviceID:  str(payload, "device_id"),
		TenantID:  str(payload, "tenant_id"),
		MFACode:   str(payload, "mfa_token", "mfa_code"),
		Kind:      session.Kind(str(payload, "session_type", "session_kind")),
	}

	res, err := e.Authenticate(ctx, req)
	if err != nil {
		return failure(err)
	}

	data := map[string]any{
		"user_id":      res.UserID,
		"session_id":   res.SessionID,
		"mfa_required": res.MFARequired,
		"risk_score":   res.RiskScore,
	}
	if res.MFARequired {
		return success(data)
	}
	data["access_token"] = res.AccessToken
	data["refresh_token"] = res.RefreshToken
	data["expires_in"] = res.ExpiresIn
	data["expires_at"] = res.ExpiresAt.Format(time.RFC3339)
	data["roles"] = res.Roles
	data["permissions"] = res.Permissions
	if res.TenantID != "" {
		data["tenant_id"] = res.TenantID
	}
	return success(data)
}

func (e *Engine) handleAuthorize(ctx context.Context, payload map[string]any) Result {
	req := AuthorizeRequest{
		Token:               str(payload, "token"),
		PermissionID:        str(payload, "permission"),
		ResourceType:        str(payload, "resource_type"),
		ResourceID:          str(payload, "resource_id"),
		Action:              str(payload, "action"),
		IP:                  str(payload, "ip_address", "ip"),
		RequiredRoles:       strSlice(payload, "required_roles"),
		RequiredPermissions: strSlice(payload, "required_permissions"),
	}

	res, err := e.Authorize(ctx, req)
	if err != nil {
		return failure(err)
	}

	data := map[string]any{
		"authorized": res.Allowed,
		"reason":     res.Reason,
		"user_id":    res.UserID,
		"cache_hit":  res.CacheHit,
	}
	if res.TenantID != "" {
		data["tenant_id"] = res.TenantID
	}
	if len(res.Roles) > 0 {
		data["roles"] = res.Roles
	}
	if len(res.Permissions) > 0 {
		data["permissions"] = res.Permissions
	}
	if res.Policy != "" {
		data["policy"] = res.Policy
	}
	return success(data)
}

func (e *Engine) handleLogout(ctx context.Context, payload map[string]any) Result {
	req := LogoutRequest{
		Token:       str(payload, "token"),
		SessionID:   str(payload, "session_id"),
		AllSessions: boolean(payload, "logout_all_sessions"),
	}

	res, err := e.Logout(ctx, req)
	if err != nil {
		return failure(err)
	}
	return success(map[string]any{
		"message":             "logged out",
		"sessions_terminated": res.SessionsTerminated,
		"tokens_revoked":      res.TokensRevoked,
	})
}

func (e *Engine) handleRefresh(ctx context.Context, payload map[string]any) Result {
	res, err := e.RefreshToken(ctx, str(payload, "refresh_token"))
	if err != nil {
		return failure(err)
	}

	data := map[string]any{
		"access_token": res.AccessToken,
		"expires_in":   res.ExpiresIn,
		"user_id":      res.UserID,
	}
	if res.SessionID != "" {
		data["session_id"] = res.SessionID
	}
	return success(data)
}

func (e *Engine) handleAssignRole(ctx context.Context, payload map[string]any) Result {
	req := AssignRoleRequest{
		UserID:     str(payload, "user_id"),
		RoleID:     str(payload, "role_id"),
		Scope:      str(payload, "scope"),
		TenantID:   str(payload, "tenant_id"),
		AssignedBy: str(payload, "assigned_by"),
	}
	if raw := str(payload, "expires_at"); raw != "" {
		at, err := time.Parse(time.RFC3339, raw)
		if err != nil {
			return failure(fmt.Errorf("%w: expires_at: %v", ErrValidation, err))
		}
		req.ExpiresAt = at
	}

	assignment, err := e.AssignRole(ctx, req)
	if err != nil {
		return failure(err)
	}

	data := map[string]any{
		"assignment_id": assignment.ID,
		"user_id":       assignment.UserID,
		"role_id":       assignment.RoleID,
		"scope":         assignment.Scope,
		"assigned_at":   assignment.AssignedAt.Format(time.RFC3339),
	}
	if !assignment.ExpiresAt.IsZero() {
		data["expires_at"] = assignment.ExpiresAt.Format(time.RFC3339)
	}
	return success(data)
}

// str reads the first present string among the given payload keys,
// tolerating absent keys and non-string values.
func str(payload map[string]any, keys ...string) string {
	for _, key := range keys {
		if v, ok := payload[key].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// strSlice reads a list of strings, accepting both []string and the
// []any that json decoding produces. Non-string elements are skipped.
func strSlice(payload map[string]any, key string) []string {
	switch v := payload[key].(type) {
	case []string:
		return v
	case []any:
		out := make([]string, 0, len(v))
		for _, item := range v {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	default:
		return nil
	}
}

// boolean reads a bool payload field, accepting the string forms "true"
// and "false" that loosely-typed transports produce.
func boolean(payload map[string]any, key string) bool {
	switch v := payload[key].(type) {
	case bool:
		return v
	case string:
		return v == "true"
	default:
		return false
	}
}
