package permission

import (
	"reflect"
	"testing"
	"time"
)

func seededCatalog(t *testing.T) *Catalog {
	t.Helper()
	catalog := NewCatalog()
	catalog.Register(
		Permission{ID: "si:invoice:create", ResourceType: "invoice", Action: "create", Scope: "si"},
		Permission{ID: "si:invoice:read", ResourceType: "invoice", Action: "read", Scope: "si"},
		Permission{ID: "si:invoice:delete", ResourceType: "invoice", Action: "delete", Scope: "si"},
		Permission{ID: "si:irn:generate", ResourceType: "irn", Action: "create", Scope: "si"},
		Permission{ID: "app:taxpayer:manage", ResourceType: "taxpayer", Action: "manage", Scope: "app"},
	)
	catalog.GrantRole("si_user", "si:invoice:create", "si:invoice:read")
	catalog.GrantRole("si_admin", "si:*")
	catalog.GrantRole("app_admin", "app:*")
	return catalog
}

func siUser(roles ...string) Context {
	return Context{
		UserID:   "user-1",
		Roles:    roles,
		TenantID: "tenant-1",
		IP:       "10.0.0.5",
		At:       time.Date(2026, 3, 10, 14, 0, 0, 0, time.UTC),
	}
}

func TestEvaluateRoleGrants(t *testing.T) {
	engine := NewEngine(seededCatalog(t), time.Minute)

	tests := []struct {
		name       string
		ctx        Context
		permission string
		want       bool
		reason     string
	}{
		{"direct role grant", siUser("si_user"), "si:invoice:create", true, ReasonGranted},
		{"role lacks grant", siUser("si_user"), "si:invoice:delete", false, ReasonRolePermissionDenied},
		{"wildcard role grant", siUser("si_admin"), "si:irn:generate", true, ReasonGranted},
		{"wildcard stays in scope", siUser("si_admin"), "app:taxpayer:manage", false, ReasonRolePermissionDenied},
		{"no roles at all", siUser(), "si:invoice:create", false, ReasonRolePermissionDenied},
		{"unregistered permission", siUser("si_admin"), "si:ghost:do", false, ReasonPermissionNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := engine.Evaluate(tt.ctx, tt.permission)
			if got.Allowed != tt.want || got.Reason != tt.reason {
				t.Errorf("Evaluate() = (%v, %q), want (%v, %q)", got.Allowed, got.Reason, tt.want, tt.reason)
			}
		})
	}
}

func TestDirectPermissionGrant(t *testing.T) {
	engine := NewEngine(seededCatalog(t), time.Minute)

	ctx := siUser()
	ctx.Permissions = []string{"si:invoice:read"}
	if got := engine.Evaluate(ctx, "si:invoice:read"); !got.Allowed {
		t.Errorf("Evaluate() = (%v, %q), want granted via direct permission", got.Allowed, got.Reason)
	}
}

func TestDenyPolicyOutranksGrant(t *testing.T) {
	catalog := seededCatalog(t)
	engine := NewEngine(catalog, time.Minute)

	ctx := siUser("si_admin")
	if got := engine.Evaluate(ctx, "si:invoice:delete"); !got.Allowed {
		t.Fatalf("precondition: admin should hold delete, got %q", got.Reason)
	}

	catalog.AddPolicy(Policy{
		Name:   "freeze-deletes",
		Effect: EffectDeny,
		Rules:  []Rule{{Pattern: "si:invoice:delete"}},
	})

	got := engine.Evaluate(ctx, "si:invoice:delete")
	if got.Allowed || got.Reason != ReasonPolicyDenied {
		t.Errorf("Evaluate() after deny policy = (%v, %q), want (false, policy_denied)", got.Allowed, got.Reason)
	}
	if got.Policy != "freeze-deletes" {
		t.Errorf("Policy = %q, want freeze-deletes", got.Policy)
	}

	// Removing the policy restores the grant; the catalog change must
	// have purged the stale deny from the cache.
	catalog.RemovePolicy("freeze-deletes")
	if got := engine.Evaluate(ctx, "si:invoice:delete"); !got.Allowed {
		t.Errorf("Evaluate() after policy removal = (%v, %q), want granted", got.Allowed, got.Reason)
	}
}

func TestDenyPolicyScopedToRoles(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.AddPolicy(Policy{
		Name:   "restrict-si-users",
		Effect: EffectDeny,
		Roles:  []string{"si_user"},
		Rules:  []Rule{{Pattern: "si:invoice:*"}},
	})
	engine := NewEngine(catalog, time.Minute)

	if got := engine.Evaluate(siUser("si_user"), "si:invoice:create"); got.Allowed {
		t.Error("deny policy scoped to si_user did not apply")
	}
	if got := engine.Evaluate(siUser("si_admin"), "si:invoice:create"); !got.Allowed {
		t.Errorf("deny policy leaked onto si_admin: %q", got.Reason)
	}
}

func TestPriorityFlipsOutcome(t *testing.T) {
	deny := Policy{
		Name:     "deny-invoicing",
		Effect:   EffectDeny,
		Priority: 10,
		Rules:    []Rule{{Pattern: "si:invoice:create"}},
	}
	allow := Policy{
		Name:     "allow-invoicing",
		Effect:   EffectAllow,
		Priority: 5,
		Rules:    []Rule{{Pattern: "si:invoice:create"}},
	}

	// Deny at higher priority wins.
	catalog := seededCatalog(t)
	catalog.AddPolicy(deny)
	catalog.AddPolicy(allow)
	got := NewEngine(catalog, time.Minute).Evaluate(siUser("si_user"), "si:invoice:create")
	if got.Allowed || got.Reason != ReasonPolicyDenied {
		t.Errorf("deny-first Evaluate() = (%v, %q), want (false, policy_denied)", got.Allowed, got.Reason)
	}

	// Swapping only the priorities shields the grant behind the allow.
	deny.Priority, allow.Priority = allow.Priority, deny.Priority
	catalog = seededCatalog(t)
	catalog.AddPolicy(deny)
	catalog.AddPolicy(allow)
	got = NewEngine(catalog, time.Minute).Evaluate(siUser("si_user"), "si:invoice:create")
	if !got.Allowed {
		t.Errorf("allow-first Evaluate() = (%v, %q), want granted", got.Allowed, got.Reason)
	}
}

func TestPolicyRuleConditionsGateApplicability(t *testing.T) {
	catalog := seededCatalog(t)
	// A conditioned allow that does not apply must not shield the
	// lower-priority deny behind it.
	catalog.AddPolicy(Policy{
		Name:     "tenant-one-exemption",
		Effect:   EffectAllow,
		Priority: 10,
		Rules: []Rule{{
			Pattern:    "si:invoice:*",
			Conditions: []Condition{{Kind: ConditionTenant, Tenants: []string{"tenant-1"}}},
		}},
	})
	catalog.AddPolicy(Policy{
		Name:     "invoice-freeze",
		Effect:   EffectDeny,
		Priority: 1,
		Rules:    []Rule{{Pattern: "si:invoice:*"}},
	})
	engine := NewEngine(catalog, time.Minute)

	if got := engine.Evaluate(siUser("si_user"), "si:invoice:create"); !got.Allowed {
		t.Errorf("exempt tenant denied: %q", got.Reason)
	}

	foreign := siUser("si_user")
	foreign.TenantID = "tenant-9"
	got := engine.Evaluate(foreign, "si:invoice:create")
	if got.Allowed || got.Reason != ReasonPolicyDenied {
		t.Errorf("Evaluate() = (%v, %q), want deny once the exemption does not apply", got.Allowed, got.Reason)
	}
}

func TestPermissionConditions(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.Register(Permission{
		ID:           "si:firs:submit",
		ResourceType: "firs_submission",
		Action:       "create",
		Conditions:   []Condition{{Kind: ConditionTenant, Tenants: []string{"tenant-1"}}},
	})
	catalog.GrantRole("si_user", "si:firs:submit")
	engine := NewEngine(catalog, time.Minute)

	if got := engine.Evaluate(siUser("si_user"), "si:firs:submit"); !got.Allowed {
		t.Errorf("matching tenant denied: %q", got.Reason)
	}

	foreign := siUser("si_user")
	foreign.TenantID = "tenant-9"
	got := engine.Evaluate(foreign, "si:firs:submit")
	if got.Allowed || got.Reason != "condition_failed_tenant" {
		t.Errorf("Evaluate() = (%v, %q), want (false, condition_failed_tenant)", got.Allowed, got.Reason)
	}
}

func TestTimeWindowConditionWithExcludedRoles(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.Register(Permission{
		ID:           "si:irn:generate",
		ResourceType: "irn",
		Action:       "create",
		Conditions: []Condition{{
			Kind:          ConditionTimeWindow,
			StartHour:     8,
			EndHour:       18,
			ExcludedRoles: []string{"si_admin"},
		}},
	})
	engine := NewEngine(catalog, time.Minute)

	night := siUser("si_admin")
	night.At = time.Date(2026, 3, 10, 2, 0, 0, 0, time.UTC)
	if got := engine.Evaluate(night, "si:irn:generate"); !got.Allowed {
		t.Errorf("excluded role blocked by window: %q", got.Reason)
	}

	// A non-excluded role with the same grant is held to the window.
	catalog.GrantRole("si_operator", "si:irn:generate")
	lateOperator := siUser("si_operator")
	lateOperator.At = night.At
	got := engine.Evaluate(lateOperator, "si:irn:generate")
	if got.Allowed || got.Reason != "condition_failed_time_window" {
		t.Errorf("Evaluate() = (%v, %q), want (false, condition_failed_time_window)", got.Allowed, got.Reason)
	}
}

func TestIPWhitelistCondition(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.Register(Permission{
		ID:           "app:taxpayer:manage",
		ResourceType: "taxpayer",
		Action:       "manage",
		Conditions:   []Condition{{Kind: ConditionIPWhitelist, Networks: []string{"10.0.0.0/8", "192.0.2.44"}}},
	})
	engine := NewEngine(catalog, time.Minute)

	if got := engine.Evaluate(siUser("app_admin"), "app:taxpayer:manage"); !got.Allowed {
		t.Errorf("whitelisted network denied: %q", got.Reason)
	}

	outside := siUser("app_admin")
	outside.IP = "203.0.113.7"
	got := engine.Evaluate(outside, "app:taxpayer:manage")
	if got.Allowed || got.Reason != "condition_failed_ip_whitelist" {
		t.Errorf("Evaluate() = (%v, %q), want (false, condition_failed_ip_whitelist)", got.Allowed, got.Reason)
	}
}

func TestResourceACLLevels(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.SetACL(ResourceACL{
		ResourceType: "invoice",
		ResourceID:   "inv-42",
		OwnerID:      "owner-7",
		UserLevels:   map[string]AccessLevel{"user-1": LevelRead},
		RoleLevels:   map[string]AccessLevel{"si_admin": LevelFull},
	})
	engine := NewEngine(catalog, time.Minute)

	read := siUser("si_user")
	read.ResourceType, read.ResourceID, read.Action = "invoice", "inv-42", "read"
	if got := engine.Evaluate(read, "si:invoice:read"); !got.Allowed {
		t.Errorf("read at READ level denied: %q", got.Reason)
	}

	// The same user holds only READ on this resource; create needs WRITE.
	create := siUser("si_user")
	create.ResourceType, create.ResourceID, create.Action = "invoice", "inv-42", "create"
	got := engine.Evaluate(create, "si:invoice:create")
	if got.Allowed || got.Reason != ReasonResourceDenied {
		t.Errorf("Evaluate() = (%v, %q), want (false, resource_permission_denied)", got.Allowed, got.Reason)
	}

	// FULL covers everything.
	admin := siUser("si_admin")
	admin.ResourceType, admin.ResourceID, admin.Action = "invoice", "inv-42", "delete"
	if got := engine.Evaluate(admin, "si:invoice:delete"); !got.Allowed {
		t.Errorf("FULL role level denied delete: %q", got.Reason)
	}
}

func TestOwnerAndPublicBypass(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.SetACL(ResourceACL{
		ResourceType: "invoice",
		ResourceID:   "inv-owned",
		OwnerID:      "user-1",
	})
	catalog.SetACL(ResourceACL{
		ResourceType: "invoice",
		ResourceID:   "inv-public",
		OwnerID:      "someone-else",
		Public:       true,
	})
	engine := NewEngine(catalog, time.Minute)

	owned := siUser("si_user")
	owned.ResourceType, owned.ResourceID, owned.Action = "invoice", "inv-owned", "create"
	if got := engine.Evaluate(owned, "si:invoice:create"); !got.Allowed {
		t.Errorf("owner bypass failed: %q", got.Reason)
	}

	public := siUser("si_user")
	public.ResourceType, public.ResourceID, public.Action = "invoice", "inv-public", "read"
	if got := engine.Evaluate(public, "si:invoice:read"); !got.Allowed {
		t.Errorf("public read bypass failed: %q", got.Reason)
	}

	// Public bypasses every access level, not just read: a non-owner with
	// no explicit level may still write.
	publicWrite := siUser("si_user")
	publicWrite.ResourceType, publicWrite.ResourceID, publicWrite.Action = "invoice", "inv-public", "create"
	if got := engine.Evaluate(publicWrite, "si:invoice:create"); !got.Allowed {
		t.Errorf("public write bypass failed: %q", got.Reason)
	}
}

func TestRoleHierarchy(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.SetRoleParents("hybrid_admin", "si_admin", "app_admin")
	engine := NewEngine(catalog, time.Minute)

	ctx := siUser("hybrid_admin")
	for _, id := range []string{"si:invoice:delete", "app:taxpayer:manage"} {
		if got := engine.Evaluate(ctx, id); !got.Allowed {
			t.Errorf("inherited grant %s denied: %q", id, got.Reason)
		}
	}

	perms := catalog.UserPermissions([]string{"hybrid_admin"}, "")
	if len(perms) != 5 {
		t.Errorf("UserPermissions() = %d ids, want all 5 registered", len(perms))
	}
}

func TestUserPermissionsResourceFilter(t *testing.T) {
	catalog := seededCatalog(t)

	got := catalog.UserPermissions([]string{"si_admin"}, "invoice")
	want := []string{"si:invoice:create", "si:invoice:delete", "si:invoice:read"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UserPermissions(si_admin, invoice) = %v, want %v", got, want)
	}

	// Ids implied through the permission hierarchy land in the result even
	// when the filter would exclude them.
	catalog.SetPermissionChildren("si:invoice:create", "si:irn:generate")
	got = catalog.UserPermissions([]string{"si_user"}, "invoice")
	want = []string{"si:invoice:create", "si:invoice:read", "si:irn:generate"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UserPermissions(si_user, invoice) with hierarchy = %v, want %v", got, want)
	}
}

func TestPermissionHierarchyExpansion(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.SetPermissionChildren("si:invoice:create", "si:irn:generate")

	got := catalog.UserPermissions([]string{"si_user"}, "")
	want := []string{"si:invoice:create", "si:invoice:read", "si:irn:generate"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("UserPermissions(si_user) = %v, want implied child included: %v", got, want)
	}
}

func TestEvaluateActionResolvesPermission(t *testing.T) {
	engine := NewEngine(seededCatalog(t), time.Minute)

	ctx := siUser("si_user")
	ctx.ResourceType, ctx.Action = "invoice", "create"
	if got := engine.EvaluateAction(ctx); !got.Allowed {
		t.Errorf("EvaluateAction() = (%v, %q), want granted via si:invoice:create", got.Allowed, got.Reason)
	}

	ctx.ResourceType, ctx.Action = "invoice", "explode"
	got := engine.EvaluateAction(ctx)
	if got.Allowed || got.Reason != ReasonPermissionNotFound {
		t.Errorf("EvaluateAction(unregistered) = (%v, %q), want (false, permission_not_found)", got.Allowed, got.Reason)
	}
}

func TestDecisionCache(t *testing.T) {
	engine := NewEngine(seededCatalog(t), time.Minute)
	ctx := siUser("si_user")

	first := engine.Evaluate(ctx, "si:invoice:create")
	if first.CacheHit {
		t.Error("first Evaluate() reported a cache hit")
	}
	second := engine.Evaluate(ctx, "si:invoice:create")
	if !second.CacheHit {
		t.Error("second Evaluate() missed the cache")
	}
	if second.Allowed != first.Allowed || second.Reason != first.Reason {
		t.Errorf("cached result (%v, %q) differs from original (%v, %q)",
			second.Allowed, second.Reason, first.Allowed, first.Reason)
	}

	// Role order must not fragment the cache.
	reordered := siUser("si_user")
	reordered.Roles = append([]string{"si_user"}, reordered.Roles...)
	if got := engine.Evaluate(ctx, "si:invoice:create"); !got.CacheHit {
		t.Error("reordered roles missed the cache")
	}

	if n := engine.InvalidateUser(ctx.UserID); n == 0 {
		t.Error("InvalidateUser() dropped nothing")
	}
	if got := engine.Evaluate(ctx, "si:invoice:create"); got.CacheHit {
		t.Error("Evaluate() hit the cache after invalidation")
	}
}

func TestUnknownPermissionIsCached(t *testing.T) {
	engine := NewEngine(seededCatalog(t), time.Minute)
	ctx := siUser("si_user")

	first := engine.Evaluate(ctx, "si:ghost:do")
	if first.Allowed || first.Reason != ReasonPermissionNotFound || first.CacheHit {
		t.Errorf("first Evaluate(unregistered) = (%v, %q, hit=%v), want fresh permission_not_found",
			first.Allowed, first.Reason, first.CacheHit)
	}
	second := engine.Evaluate(ctx, "si:ghost:do")
	if !second.CacheHit {
		t.Error("second Evaluate(unregistered) missed the cache")
	}
	if second.Allowed || second.Reason != ReasonPermissionNotFound {
		t.Errorf("cached not-found = (%v, %q), want (false, permission_not_found)",
			second.Allowed, second.Reason)
	}
}

func TestConditionsSeeInheritedRoles(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.SetRoleParents("hybrid_admin", "si_admin")
	catalog.Register(Permission{
		ID:           "si:invoice:delete",
		ResourceType: "invoice",
		Action:       "delete",
		Scope:        "si",
		Conditions:   []Condition{{Kind: ConditionRole, Roles: []string{"si_admin"}}},
	})
	engine := NewEngine(catalog, time.Minute)

	// The user holds only hybrid_admin; the role condition names si_admin,
	// which is reachable through the hierarchy.
	got := engine.Evaluate(siUser("hybrid_admin"), "si:invoice:delete")
	if !got.Allowed {
		t.Errorf("Evaluate() = (%v, %q), want role condition satisfied via parent role",
			got.Allowed, got.Reason)
	}

	catalog.GrantRole("si_user", "si:invoice:delete")
	got = engine.Evaluate(siUser("si_user"), "si:invoice:delete")
	if got.Allowed || got.Reason != "condition_failed_role" {
		t.Errorf("Evaluate() = (%v, %q), want condition_failed_role for a role outside the condition",
			got.Allowed, got.Reason)
	}
}

func TestCustomConditionHandler(t *testing.T) {
	catalog := seededCatalog(t)
	catalog.Register(Permission{
		ID:           "si:invoice:create",
		ResourceType: "invoice",
		Action:       "create",
		Scope:        "si",
		Conditions:   []Condition{{Kind: "trusted_device", Params: map[string]string{"required": "true"}}},
	})
	engine := NewEngine(catalog, time.Minute)

	// No handler registered: fail closed.
	got := engine.Evaluate(siUser("si_user"), "si:invoice:create")
	if got.Allowed || got.Reason != "condition_failed_trusted_device" {
		t.Errorf("Evaluate() = (%v, %q), want fail-closed custom condition", got.Allowed, got.Reason)
	}

	engine.RegisterConditionHandler("trusted_device", func(_ Condition, _ Context) bool { return true })
	engine.InvalidateUser("user-1")
	if got := engine.Evaluate(siUser("si_user"), "si:invoice:create"); !got.Allowed {
		t.Errorf("Evaluate() with handler = (%v, %q), want granted", got.Allowed, got.Reason)
	}
}
