package authcore

import (
	"context"
	"testing"
	"time"
)

func TestHandleEndToEnd(t *testing.T) {
	engine, _, _ := testEngine(t, nil)

	authed := engine.Handle(context.Background(), "authenticate", map[string]any{
		"username":     "u1",
		"password":     testPassword,
		"ip_address":   "10.0.0.5",
		"user_agent":   "Mozilla/5.0",
		"session_type": "web",
	})
	if !authed.Success {
		t.Fatalf("authenticate failed: %s (%s)", authed.Error, authed.Category)
	}
	accessToken, _ := authed.Data["access_token"].(string)
	refreshToken, _ := authed.Data["refresh_token"].(string)
	if accessToken == "" || refreshToken == "" {
		t.Fatalf("authenticate data = %v, want tokens", authed.Data)
	}
	if mfa, ok := authed.Data["mfa_required"].(bool); !ok || mfa {
		t.Errorf("mfa_required = %v, want false", authed.Data["mfa_required"])
	}
	if at, _ := authed.Data["expires_at"].(string); at == "" {
		t.Errorf("authenticate data = %v, want expires_at", authed.Data)
	}

	authz := engine.Handle(context.Background(), "authorize", map[string]any{
		"token":          accessToken,
		"permission":     "si:invoice:create",
		"required_roles": []any{"si_role"},
	})
	if !authz.Success {
		t.Fatalf("authorize failed: %s", authz.Error)
	}
	if authorized, _ := authz.Data["authorized"].(bool); !authorized {
		t.Errorf("authorize data = %v, want authorized", authz.Data)
	}
	if tenant, _ := authz.Data["tenant_id"].(string); tenant != "tenant-1" {
		t.Errorf("tenant_id = %v, want tenant-1", authz.Data["tenant_id"])
	}

	refreshed := engine.Handle(context.Background(), "refresh_token", map[string]any{
		"refresh_token": refreshToken,
	})
	if !refreshed.Success {
		t.Fatalf("refresh_token failed: %s", refreshed.Error)
	}
	if tok, _ := refreshed.Data["access_token"].(string); tok == "" {
		t.Errorf("refresh_token data = %v, want access token", refreshed.Data)
	}

	logout := engine.Handle(context.Background(), "logout", map[string]any{
		"token":               accessToken,
		"logout_all_sessions": true,
	})
	if !logout.Success {
		t.Fatalf("logout failed: %s", logout.Error)
	}
	if n, _ := logout.Data["sessions_terminated"].(int); n != 1 {
		t.Errorf("sessions_terminated = %v, want 1", logout.Data["sessions_terminated"])
	}
}

func TestHandleAuthorizeRequiredRoles(t *testing.T) {
	engine, _, _ := testEngine(t, nil)
	authed := login(t, engine)

	res := engine.Handle(context.Background(), "authorize", map[string]any{
		"token":          authed.AccessToken,
		"permission":     "si:invoice:create",
		"required_roles": []any{"platform_admin"},
	})
	if res.Success {
		t.Fatal("authorize succeeded without the required role")
	}
	if res.Category != CategoryAuthentication {
		t.Errorf("Category = %q, want %q", res.Category, CategoryAuthentication)
	}
}

func TestHandleUnknownOperation(t *testing.T) {
	engine, _, _ := testEngine(t, nil)

	res := engine.Handle(context.Background(), "frobnicate", nil)
	if res.Success {
		t.Fatal("unknown operation reported success")
	}
	if res.Category != CategoryValidation {
		t.Errorf("Category = %q, want %q", res.Category, CategoryValidation)
	}
}

func TestHandleMalformedPayloads(t *testing.T) {
	engine, _, _ := testEngine(t, nil)

	tests := []struct {
		name      string
		operation string
		payload   map[string]any
		category  string
	}{
		{"authenticate empty", "authenticate", nil, CategoryValidation},
		{"authenticate wrong types", "authenticate", map[string]any{"username": 42, "password": true}, CategoryValidation},
		{"authorize no token", "authorize", map[string]any{"permission": "si:invoice:create"}, CategoryValidation},
		{"authorize no target", "authorize", map[string]any{"token": "x"}, CategoryValidation},
		{"logout empty", "logout", map[string]any{}, CategoryValidation},
		{"refresh empty", "refresh_token", nil, CategoryValidation},
		{"refresh garbage", "refresh_token", map[string]any{"refresh_token": "zzz"}, CategoryAuthentication},
		{"assign_role bad scope", "assign_role", map[string]any{"user_id": "u1", "role_id": "r", "scope": "nope"}, CategoryValidation},
		{"assign_role bad expiry", "assign_role", map[string]any{"user_id": "u1", "role_id": "r", "scope": "global", "expires_at": "tomorrow"}, CategoryValidation},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res := engine.Handle(context.Background(), tt.operation, tt.payload)
			if res.Success {
				t.Fatalf("Handle(%s) succeeded, want failure", tt.operation)
			}
			if res.Category != tt.category {
				t.Errorf("Category = %q, want %q (error %q)", res.Category, tt.category, res.Error)
			}
			if res.Error == "" {
				t.Error("failure carries no error message")
			}
		})
	}
}

func TestHandleAssignRole(t *testing.T) {
	engine, _, now := testEngine(t, nil)

	res := engine.Handle(context.Background(), "assign_role", map[string]any{
		"user_id":     "u1",
		"role_id":     "app_role",
		"scope":       "tenant",
		"tenant_id":   "tenant-1",
		"assigned_by": "admin-1",
		"expires_at":  now.Add(time.Hour).Format(time.RFC3339),
	})
	if !res.Success {
		t.Fatalf("assign_role failed: %s (%s)", res.Error, res.Category)
	}
	if id, _ := res.Data["assignment_id"].(string); id == "" {
		t.Errorf("data = %v, want assignment_id", res.Data)
	}
}

func TestHandleInvalidCredentialsCategory(t *testing.T) {
	engine, _, _ := testEngine(t, nil)

	res := engine.Handle(context.Background(), "authenticate", map[string]any{
		"username": "u1",
		"password": "not-the-password",
	})
	if res.Success {
		t.Fatal("wrong password reported success")
	}
	if res.Category != CategoryAuthentication {
		t.Errorf("Category = %q, want %q", res.Category, CategoryAuthentication)
	}
	if len(res.Data) != 0 {
		t.Errorf("failure carries data: %v", res.Data)
	}
}
