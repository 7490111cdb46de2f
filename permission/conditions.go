package permission

import (
	"net/netip"
)

// ConditionHandler evaluates a custom condition kind against the request
// context. Returning false fails the condition; an unknown kind with no
// handler also fails.
type ConditionHandler func(cond Condition, ctx Context) bool

// evalCondition checks one condition. ownerID is the owner of the target
// resource when known, resolved from its ACL.
func evalCondition(cond Condition, ctx Context, ownerID string, handlers map[ConditionKind]ConditionHandler) bool {
	switch cond.Kind {
	case ConditionRole:
		return hasAnyRole(ctx.Roles, cond.Roles)

	case ConditionTenant:
		for _, tenant := range cond.Tenants {
			if tenant == ctx.TenantID {
				return true
			}
		}
		return false

	case ConditionTimeWindow:
		// Roles excluded from the window restriction pass at any hour.
		if hasAnyRole(ctx.Roles, cond.ExcludedRoles) {
			return true
		}
		hour := ctx.At.UTC().Hour()
		if cond.StartHour <= cond.EndHour {
			return hour >= cond.StartHour && hour < cond.EndHour
		}
		// Window wraps midnight.
		return hour >= cond.StartHour || hour < cond.EndHour

	case ConditionIPWhitelist:
		addr, err := netip.ParseAddr(ctx.IP)
		if err != nil {
			return false
		}
		for _, entry := range cond.Networks {
			if prefix, perr := netip.ParsePrefix(entry); perr == nil {
				if prefix.Contains(addr) {
					return true
				}
				continue
			}
			if allowed, aerr := netip.ParseAddr(entry); aerr == nil && allowed == addr {
				return true
			}
		}
		return false

	case ConditionResourceOwner:
		return ctx.UserID != "" && ctx.UserID == ownerID

	default:
		if handler, ok := handlers[cond.Kind]; ok {
			return handler(cond, ctx)
		}
		// Fail closed on conditions nobody can evaluate.
		return false
	}
}

func hasAnyRole(held, wanted []string) bool {
	for _, want := range wanted {
		for _, have := range held {
			if have == want {
				return true
			}
		}
	}
	return false
}
