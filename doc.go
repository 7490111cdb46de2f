// Package authcore is an embeddable authentication and authorization
// engine: JWT token lifecycle with signing-key rotation, risk-scored
// sessions with dual idle/absolute expiry, and pattern-based permission
// evaluation with policies and resource ACLs.
//
// Build an engine once at startup:
//
//	engine, err := authcore.New().
//		WithRedis(client).
//		WithUserProvider(provider).
//		WithPermissions(perms...).
//		WithRoles(roles).
//		Build()
//
// Use the typed methods (Authenticate, Authorize, Logout, RefreshToken,
// AssignRole) from Go code, or the uniform Handle dispatch when the
// operation name and payload arrive over a transport. Without a redis
// client the engine runs entirely in memory, suitable for a single
// process and for tests.
package authcore
