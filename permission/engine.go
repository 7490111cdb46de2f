package permission

import (
	"strings"
	"sync"
	"time"

	"github.com/taxpoynt/authcore/internal/ttlcache"
)

const defaultCacheTTL = 5 * time.Minute

// Engine answers access questions against a Catalog. Evaluation runs seven
// ordered steps; the first decisive step wins:
//
//  1. consult the decision cache
//  2. resolve the permission definition
//  3. check role and direct grants against the permission id
//  4. walk policies by descending priority; the first applicable rule
//     decides (deny ends evaluation, allow shields lower-priority denies)
//  5. check the permission's own conditions
//  6. check the resource ACL, with owner and public bypasses
//  7. grant, and cache the outcome
//
// Denied outcomes are ordinary results carrying a stable reason code, never
// errors. Catalog mutations purge the cache through a change listener.
type Engine struct {
	catalog *Catalog
	cache   *ttlcache.Cache[Evaluation]

	mu       sync.RWMutex
	handlers map[ConditionKind]ConditionHandler
}

// NewEngine creates an Engine over the catalog. cacheTTL bounds how long a
// decision may be served from cache; non-positive values use the default.
func NewEngine(catalog *Catalog, cacheTTL time.Duration) *Engine {
	if cacheTTL <= 0 {
		cacheTTL = defaultCacheTTL
	}
	e := &Engine{
		catalog:  catalog,
		cache:    ttlcache.New[Evaluation](cacheTTL),
		handlers: make(map[ConditionKind]ConditionHandler),
	}
	catalog.OnChange(e.cache.Purge)
	return e
}

// RegisterConditionHandler installs an evaluator for a custom condition
// kind. Built-in kinds cannot be overridden.
func (e *Engine) RegisterConditionHandler(kind ConditionKind, handler ConditionHandler) {
	e.mu.Lock()
	e.handlers[kind] = handler
	e.mu.Unlock()
}

// Evaluate answers whether the context may exercise the permission.
// Every outcome is cached, including permission_not_found, so repeated
// evaluations of an identical context report a cache hit.
func (e *Engine) Evaluate(ctx Context, permissionID string) Evaluation {
	key := CacheKey(ctx, permissionID)
	if cached, ok := e.cache.Get(key); ok {
		cached.CacheHit = true
		return cached
	}

	var result Evaluation
	if perm, ok := e.catalog.Lookup(permissionID); ok {
		result = e.evaluate(ctx, perm, permissionID)
	} else {
		result = Evaluation{Allowed: false, Reason: ReasonPermissionNotFound}
	}
	e.cache.Set(key, result)
	return result
}

// EvaluateAction resolves the permission registered for the context's
// (resource type, action) pair and evaluates it. An unregistered pair is
// denied with permission_not_found.
func (e *Engine) EvaluateAction(ctx Context) Evaluation {
	id, ok := e.catalog.FindByResourceAction(ctx.ResourceType, ctx.Action)
	if !ok {
		return Evaluation{Allowed: false, Reason: ReasonPermissionNotFound}
	}
	return e.Evaluate(ctx, id)
}

func (e *Engine) evaluate(ctx Context, perm Permission, permissionID string) Evaluation {
	// Step 3: the permission must be reachable from a direct grant or a
	// role grant before any policy can widen or narrow it.
	granted := MatchAny(ctx.Permissions, permissionID)
	if !granted {
		granted = MatchAny(e.catalog.RolePatterns(ctx.Roles), permissionID)
	}
	if !granted {
		return Evaluation{Allowed: false, Reason: ReasonRolePermissionDenied}
	}

	ownerID := ""
	var acl *ResourceACL
	if ctx.ResourceType != "" && ctx.ResourceID != "" {
		if found, ok := e.catalog.ACL(ctx.ResourceType, ctx.ResourceID); ok {
			acl = found
			ownerID = found.OwnerID
		}
	}

	// Step 4: policies in descending priority order. The first rule
	// whose pattern matches and whose conditions hold decides the policy
	// step: deny ends evaluation, allow shields the grant from any
	// lower-priority deny. A rule with failing conditions simply does
	// not apply.
	//
	// Conditions evaluate against the hierarchy-expanded role set, same
	// as policy role scoping and ACL role levels.
	roles := e.catalog.expandRolesSnapshot(ctx.Roles)
	condCtx := ctx
	condCtx.Roles = roles
policies:
	for _, policy := range e.catalog.Policies() {
		if !policyApplies(policy, roles) {
			continue
		}
		for _, rule := range policy.Rules {
			if !Match(rule.Pattern, permissionID) {
				continue
			}
			if e.conditionsPass(rule.Conditions, condCtx, ownerID) != "" {
				continue
			}
			if policy.Effect == EffectDeny {
				return Evaluation{Allowed: false, Reason: ReasonPolicyDenied, Policy: policy.Name}
			}
			break policies
		}
	}

	// Step 5: conditions attached to the permission itself.
	if failed := e.conditionsPass(perm.Conditions, condCtx, ownerID); failed != "" {
		return Evaluation{Allowed: false, Reason: reasonConditionFailedPrefix + failed}
	}

	// Step 6: resource-level check. Ownership and the public flag bypass
	// the ACL levels entirely.
	if acl != nil {
		if !resourceAllows(acl, ctx, roles) {
			return Evaluation{Allowed: false, Reason: ReasonResourceDenied}
		}
	}

	return Evaluation{Allowed: true, Reason: ReasonGranted}
}

// conditionsPass returns "" when every condition holds, otherwise the kind
// of the first failing condition.
func (e *Engine) conditionsPass(conditions []Condition, ctx Context, ownerID string) string {
	if len(conditions) == 0 {
		return ""
	}
	e.mu.RLock()
	handlers := e.handlers
	e.mu.RUnlock()

	for _, cond := range conditions {
		if !evalCondition(cond, ctx, ownerID, handlers) {
			return string(cond.Kind)
		}
	}
	return ""
}

func policyApplies(policy Policy, roles []string) bool {
	if len(policy.Roles) == 0 {
		return true
	}
	return hasAnyRole(roles, policy.Roles)
}

func resourceAllows(acl *ResourceACL, ctx Context, roles []string) bool {
	if ctx.UserID != "" && ctx.UserID == acl.OwnerID {
		return true
	}

	if acl.Public {
		return true
	}

	required := LevelForAction(ctx.Action)
	if level, ok := acl.UserLevels[ctx.UserID]; ok && level.Covers(required) {
		return true
	}
	for _, role := range roles {
		if level, ok := acl.RoleLevels[role]; ok && level.Covers(required) {
			return true
		}
	}
	return false
}

// InvalidateUser drops every cached decision for the user. Call after the
// user's roles or direct grants change.
func (e *Engine) InvalidateUser(userID string) int {
	prefix := userID + "|"
	return e.cache.DeleteFunc(func(key string, _ Evaluation) bool {
		return strings.HasPrefix(key, prefix)
	})
}

// InvalidateResource drops every cached decision touching the resource.
func (e *Engine) InvalidateResource(resourceType, resourceID string) int {
	marker := "|" + resourceType + "|" + resourceID + "|"
	return e.cache.DeleteFunc(func(key string, _ Evaluation) bool {
		return strings.Contains(key, marker)
	})
}

// SweepCache evicts expired cache entries and reports how many were
// dropped.
func (e *Engine) SweepCache() int { return e.cache.Sweep() }

// CacheStats reports cumulative cache hits and misses.
func (e *Engine) CacheStats() (hits, misses uint64) {
	return e.cache.Hits(), e.cache.Misses()
}
