// Package token implements the platform's JWT token lifecycle: issuance,
// validation, refresh, and revocation.
//
// # State machine
//
// A token is active from issuance until it expires or is revoked. Both
// transitions are one-way: expiry is detected lazily on validate (and by
// the periodic sweep), revocation is explicit. Terminal records stay in the
// store for a retention window for audit, then the sweep drops them.
//
// # Validation cache
//
// Successful validations are cached for a short TTL keyed by a hash of the
// raw token string so hot paths skip signature verification. Revocation
// invalidates the cached entry immediately; a cached entry is additionally
// re-checked against its own expiry so a token never outlives its exp claim
// through the cache.
//
// # Storage
//
// [Store] abstracts persistence; [MemoryStore] (map + mutex) serves
// single-process deployments and tests, [RedisStore] serves scaled
// deployments. The token record and the revoked-set are kept by the same
// store so the two are mutated under one synchronization domain.
package token
