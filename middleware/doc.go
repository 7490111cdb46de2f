// Package middleware exposes HTTP adapters over the authcore engine.
//
// [Guard] reads the Authorization header, validates the bearer token,
// and injects the claims into the request context. [RequirePermission]
// additionally authorizes one permission per route. Both translate HTTP
// semantics into engine calls and make no decisions of their own.
package middleware
