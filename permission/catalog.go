package permission

import (
	"sort"
	"strings"
	"sync"
)

// ChangeListener is notified after any catalog mutation that can change
// evaluation outcomes. The engine uses this to invalidate its cache.
type ChangeListener func()

// Catalog is the registry of permissions, role grants, the role hierarchy,
// policies, and per-resource ACLs. All methods are safe for concurrent use.
type Catalog struct {
	mu sync.RWMutex

	permissions map[string]Permission
	byResource  map[string]string // resource_type + "\x00" + action -> permission id

	rolePerms map[string][]string // role -> granted patterns
	parents   map[string][]string // role -> inherited roles
	implied   map[string][]string // permission id -> implied child permission ids

	policies []Policy

	acls map[string]*ResourceACL // resource_type + "\x00" + resource_id

	listeners []ChangeListener
}

// NewCatalog creates an empty Catalog.
func NewCatalog() *Catalog {
	return &Catalog{
		permissions: make(map[string]Permission),
		byResource:  make(map[string]string),
		rolePerms:   make(map[string][]string),
		parents:     make(map[string][]string),
		implied:     make(map[string][]string),
		acls:        make(map[string]*ResourceACL),
	}
}

// OnChange registers a listener invoked after each mutation.
func (c *Catalog) OnChange(listener ChangeListener) {
	c.mu.Lock()
	c.listeners = append(c.listeners, listener)
	c.mu.Unlock()
}

func (c *Catalog) notify() {
	c.mu.RLock()
	listeners := c.listeners
	c.mu.RUnlock()
	for _, listener := range listeners {
		listener()
	}
}

func resourceKey(resourceType, action string) string {
	return resourceType + "\x00" + action
}

// Register adds or replaces permission definitions.
func (c *Catalog) Register(perms ...Permission) {
	c.mu.Lock()
	for _, perm := range perms {
		c.permissions[perm.ID] = perm
		if perm.ResourceType != "" && perm.Action != "" {
			c.byResource[resourceKey(perm.ResourceType, perm.Action)] = perm.ID
		}
	}
	c.mu.Unlock()
	c.notify()
}

// Lookup returns the permission definition for an id.
func (c *Catalog) Lookup(id string) (Permission, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	perm, ok := c.permissions[id]
	return perm, ok
}

// FindByResourceAction resolves the permission id registered for a
// (resource type, action) pair, e.g. ("invoice", "create") -> "si:invoice:create".
func (c *Catalog) FindByResourceAction(resourceType, action string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	id, ok := c.byResource[resourceKey(resourceType, action)]
	return id, ok
}

// GrantRole attaches permission patterns to a role. Patterns may contain
// glob metacharacters.
func (c *Catalog) GrantRole(role string, patterns ...string) {
	c.mu.Lock()
	c.rolePerms[role] = append(c.rolePerms[role], patterns...)
	c.mu.Unlock()
	c.notify()
}

// RevokeRole removes a pattern from a role's grants.
func (c *Catalog) RevokeRole(role, pattern string) {
	c.mu.Lock()
	grants := c.rolePerms[role]
	for i, grant := range grants {
		if grant == pattern {
			c.rolePerms[role] = append(grants[:i], grants[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.notify()
}

// SetRoleParents declares that the role inherits every grant of the given
// parent roles, transitively. Cycles are tolerated during expansion.
func (c *Catalog) SetRoleParents(role string, parents ...string) {
	c.mu.Lock()
	c.parents[role] = append([]string(nil), parents...)
	c.mu.Unlock()
	c.notify()
}

// expandRoles returns the role set closed over the hierarchy, sorted.
func (c *Catalog) expandRoles(roles []string) []string {
	seen := make(map[string]struct{}, len(roles))
	queue := append([]string(nil), roles...)
	for len(queue) > 0 {
		role := queue[0]
		queue = queue[1:]
		if _, ok := seen[role]; ok {
			continue
		}
		seen[role] = struct{}{}
		queue = append(queue, c.parents[role]...)
	}

	out := make([]string, 0, len(seen))
	for role := range seen {
		out = append(out, role)
	}
	sort.Strings(out)
	return out
}

func (c *Catalog) expandRolesSnapshot(roles []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.expandRoles(roles)
}

// RolePatterns returns all grant patterns the roles carry, including
// inherited ones.
func (c *Catalog) RolePatterns(roles []string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var out []string
	for _, role := range c.expandRoles(roles) {
		out = append(out, c.rolePerms[role]...)
	}
	return out
}

// SetPermissionChildren declares that holding the parent permission
// implies the child permission ids, transitively. Cycles are tolerated
// during expansion.
func (c *Catalog) SetPermissionChildren(parentID string, childIDs ...string) {
	c.mu.Lock()
	c.implied[parentID] = append([]string(nil), childIDs...)
	c.mu.Unlock()
	c.notify()
}

// UserPermissions lists every registered permission id the role set covers.
// A non-empty resourceType keeps only permissions registered for that
// resource; ids implied through the permission hierarchy are then added
// regardless of the filter. Sorted. Intended for introspection, not the
// hot path.
func (c *Catalog) UserPermissions(roles []string, resourceType string) []string {
	c.mu.RLock()
	defer c.mu.RUnlock()

	var patterns []string
	for _, role := range c.expandRoles(roles) {
		patterns = append(patterns, c.rolePerms[role]...)
	}

	seen := make(map[string]struct{})
	var queue []string
	for id, perm := range c.permissions {
		if !MatchAny(patterns, id) {
			continue
		}
		if resourceType != "" && perm.ResourceType != resourceType {
			continue
		}
		seen[id] = struct{}{}
		queue = append(queue, id)
	}

	// Close over the permission hierarchy.
	for len(queue) > 0 {
		id := queue[0]
		queue = queue[1:]
		for _, child := range c.implied[id] {
			if _, ok := seen[child]; ok {
				continue
			}
			seen[child] = struct{}{}
			queue = append(queue, child)
		}
	}

	out := make([]string, 0, len(seen))
	for id := range seen {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// AddPolicy installs a policy. Policies are kept in descending priority
// order; the first rule that applies decides the policy step.
func (c *Catalog) AddPolicy(policy Policy) {
	c.mu.Lock()
	c.policies = append(c.policies, policy)
	sort.SliceStable(c.policies, func(i, j int) bool {
		return c.policies[i].Priority > c.policies[j].Priority
	})
	c.mu.Unlock()
	c.notify()
}

// RemovePolicy deletes a policy by name.
func (c *Catalog) RemovePolicy(name string) {
	c.mu.Lock()
	for i, policy := range c.policies {
		if policy.Name == name {
			c.policies = append(c.policies[:i], c.policies[i+1:]...)
			break
		}
	}
	c.mu.Unlock()
	c.notify()
}

// Policies returns a snapshot of the installed policies in evaluation
// order.
func (c *Catalog) Policies() []Policy {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return append([]Policy(nil), c.policies...)
}

// SetACL installs the access control list for one resource.
func (c *Catalog) SetACL(acl ResourceACL) {
	c.mu.Lock()
	cp := acl
	c.acls[resourceKey(acl.ResourceType, acl.ResourceID)] = &cp
	c.mu.Unlock()
	c.notify()
}

// ACL returns the resource's ACL, if one is installed.
func (c *Catalog) ACL(resourceType, resourceID string) (*ResourceACL, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	acl, ok := c.acls[resourceKey(resourceType, resourceID)]
	if !ok {
		return nil, false
	}
	cp := *acl
	return &cp, true
}

// CacheKey derives the evaluation cache key for a context. Role order does
// not affect the key.
func CacheKey(ctx Context, permissionID string) string {
	roles := append([]string(nil), ctx.Roles...)
	sort.Strings(roles)
	parts := []string{
		ctx.UserID,
		permissionID,
		strings.Join(roles, ","),
		ctx.TenantID,
		ctx.ResourceType,
		ctx.ResourceID,
		ctx.Action,
	}
	return strings.Join(parts, "|")
}
