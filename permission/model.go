package permission

import "time"

// Effect is a policy's disposition. Deny always outranks allow: one
// matching deny policy ends evaluation regardless of any grants.
type Effect string

const (
	EffectAllow Effect = "allow"
	EffectDeny  Effect = "deny"
)

// AccessLevel orders the capability tiers granted on a resource. Higher
// levels imply the lower ones, except FULL which is an explicit superset.
type AccessLevel uint8

const (
	LevelNone AccessLevel = iota
	LevelRead
	LevelWrite
	LevelDelete
	LevelAdmin
	LevelFull
)

func (l AccessLevel) String() string {
	switch l {
	case LevelNone:
		return "none"
	case LevelRead:
		return "read"
	case LevelWrite:
		return "write"
	case LevelDelete:
		return "delete"
	case LevelAdmin:
		return "admin"
	case LevelFull:
		return "full"
	default:
		return "unknown"
	}
}

// Covers reports whether the level satisfies the required level.
func (l AccessLevel) Covers(required AccessLevel) bool {
	if l == LevelFull {
		return true
	}
	return l >= required
}

// actionLevels maps an operation verb to the minimum access level a
// resource grant must carry for it.
var actionLevels = map[string]AccessLevel{
	"read":   LevelRead,
	"view":   LevelRead,
	"list":   LevelRead,
	"create": LevelWrite,
	"update": LevelWrite,
	"write":  LevelWrite,
	"delete": LevelDelete,
	"manage": LevelAdmin,
	"admin":  LevelAdmin,
}

// LevelForAction returns the minimum access level required for the action.
// Unknown actions require admin.
func LevelForAction(action string) AccessLevel {
	if level, ok := actionLevels[action]; ok {
		return level
	}
	return LevelAdmin
}

// Permission is one registered capability, identified by a colon-delimited
// id such as "si:invoice:create".
type Permission struct {
	ID           string `json:"id"`
	Name         string `json:"name,omitempty"`
	Description  string `json:"description,omitempty"`
	ResourceType string `json:"resource_type,omitempty"`
	Action       string `json:"action,omitempty"`
	Scope        string `json:"scope,omitempty"`

	// Conditions constrain the permission itself, independent of any
	// policy. All must hold or the evaluation is denied with
	// condition_failed_<kind>.
	Conditions []Condition `json:"conditions,omitempty"`
}

// ConditionKind names a built-in condition evaluator.
type ConditionKind string

const (
	ConditionRole          ConditionKind = "role"
	ConditionTenant        ConditionKind = "tenant"
	ConditionTimeWindow    ConditionKind = "time_window"
	ConditionIPWhitelist   ConditionKind = "ip_whitelist"
	ConditionResourceOwner ConditionKind = "resource_owner"
)

// Condition constrains when a policy rule applies. Exactly the fields of
// its Kind are meaningful; custom kinds are dispatched to a registered
// handler.
type Condition struct {
	Kind ConditionKind `json:"kind"`

	// ConditionRole: at least one of these roles must be held.
	Roles []string `json:"roles,omitempty"`

	// ConditionTenant: the request tenant must be one of these.
	Tenants []string `json:"tenants,omitempty"`

	// ConditionTimeWindow: the request must arrive within [StartHour,
	// EndHour) UTC, unless the caller holds an excluded role.
	StartHour     int      `json:"start_hour,omitempty"`
	EndHour       int      `json:"end_hour,omitempty"`
	ExcludedRoles []string `json:"excluded_roles,omitempty"`

	// ConditionIPWhitelist: the request IP must fall in one of these
	// addresses or CIDR prefixes.
	Networks []string `json:"networks,omitempty"`

	// Custom kinds: opaque parameters passed to the handler.
	Params map[string]string `json:"params,omitempty"`
}

// Rule is one pattern within a policy. The pattern is matched against the
// permission id with glob semantics.
type Rule struct {
	Pattern    string      `json:"pattern"`
	Conditions []Condition `json:"conditions,omitempty"`
}

// Policy is a named allow or deny rule set attached to roles. Deny policies
// take precedence over every grant.
type Policy struct {
	Name     string   `json:"name"`
	Effect   Effect   `json:"effect"`
	Roles    []string `json:"roles,omitempty"`
	Rules    []Rule   `json:"rules"`
	Priority int      `json:"priority,omitempty"`
}

// ResourceACL is a per-resource access grant.
type ResourceACL struct {
	ResourceType string                 `json:"resource_type"`
	ResourceID   string                 `json:"resource_id"`
	OwnerID      string                 `json:"owner_id,omitempty"`
	Public       bool                   `json:"public,omitempty"`
	UserLevels   map[string]AccessLevel `json:"user_levels,omitempty"`
	RoleLevels   map[string]AccessLevel `json:"role_levels,omitempty"`
}

// Context carries everything the engine needs to evaluate one access
// question.
type Context struct {
	UserID       string
	Roles        []string
	Permissions  []string
	TenantID     string
	IP           string
	ResourceType string
	ResourceID   string
	Action       string
	At           time.Time
}

// Evaluation is the outcome of one access check. Reason is a stable
// machine-readable code; Denied outcomes are ordinary results, not errors.
type Evaluation struct {
	Allowed  bool   `json:"allowed"`
	Reason   string `json:"reason"`
	Policy   string `json:"policy,omitempty"`
	CacheHit bool   `json:"cache_hit"`
}

// Stable reason codes.
const (
	ReasonGranted               = "permission_granted"
	ReasonPermissionNotFound    = "permission_not_found"
	ReasonRolePermissionDenied  = "role_permission_denied"
	ReasonPolicyDenied          = "policy_denied"
	ReasonResourceDenied        = "resource_permission_denied"
	reasonConditionFailedPrefix = "condition_failed_"
)
