package authcore

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/taxpoynt/authcore/internal/audit"
)

// AssignRoleRequest grants a role to a user within a scope.
type AssignRoleRequest struct {
	UserID     string
	RoleID     string
	Scope      string
	TenantID   string
	AssignedBy string
	// ExpiresAt, when set, bounds the assignment.
	ExpiresAt time.Time
}

// AssignRole records a role assignment and invalidates the user's
// cached authorization decisions so the new role takes effect on the
// next evaluation. The scope must be one of global, tenant, si, app, or
// hybrid; tenant scope requires a tenant id.
func (e *Engine) AssignRole(ctx context.Context, req AssignRoleRequest) (*RoleAssignment, error) {
	if req.UserID == "" || req.RoleID == "" {
		return nil, fmt.Errorf("%w: user id and role id required", ErrValidation)
	}
	switch req.Scope {
	case ScopeGlobal, ScopeSI, ScopeApp, ScopeHybrid:
	case ScopeTenant:
		if req.TenantID == "" {
			return nil, fmt.Errorf("%w: tenant scope requires a tenant id", ErrValidation)
		}
	default:
		return nil, fmt.Errorf("%w: %q", ErrInvalidScope, req.Scope)
	}
	if !req.ExpiresAt.IsZero() && !req.ExpiresAt.After(e.now()) {
		return nil, fmt.Errorf("%w: expiry must be in the future", ErrValidation)
	}

	assignment := RoleAssignment{
		ID:         uuid.NewString(),
		UserID:     req.UserID,
		RoleID:     req.RoleID,
		Scope:      req.Scope,
		TenantID:   req.TenantID,
		AssignedBy: req.AssignedBy,
		AssignedAt: e.now(),
		ExpiresAt:  req.ExpiresAt,
	}

	e.assignMu.Lock()
	e.assignments[req.UserID] = append(e.assignments[req.UserID], assignment)
	e.assignMu.Unlock()

	e.perms.InvalidateUser(req.UserID)
	e.metrics.Inc(MetricRoleAssigned)
	e.emit(ctx, audit.Event{
		Operation: "assign_role",
		UserID:    req.UserID,
		TenantID:  req.TenantID,
		Success:   true,
		Metadata: map[string]string{
			"role_id":       req.RoleID,
			"scope":         req.Scope,
			"assigned_by":   req.AssignedBy,
			"assignment_id": assignment.ID,
		},
	})
	return &assignment, nil
}

// Assignments returns the user's role assignments that are active at
// the current time, most recent first.
func (e *Engine) Assignments(userID string) []RoleAssignment {
	now := e.now()

	e.assignMu.RLock()
	defer e.assignMu.RUnlock()

	var active []RoleAssignment
	for i := len(e.assignments[userID]) - 1; i >= 0; i-- {
		if a := e.assignments[userID][i]; a.Active(now) {
			active = append(active, a)
		}
	}
	return active
}

// AssignedRoles flattens the user's active assignments into role ids,
// preserving assignment order and dropping duplicates.
func (e *Engine) AssignedRoles(userID string) []string {
	now := e.now()

	e.assignMu.RLock()
	defer e.assignMu.RUnlock()

	seen := make(map[string]bool)
	var roles []string
	for _, a := range e.assignments[userID] {
		if !a.Active(now) || seen[a.RoleID] {
			continue
		}
		seen[a.RoleID] = true
		roles = append(roles, a.RoleID)
	}
	return roles
}
