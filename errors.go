package authcore

import (
	"errors"

	"github.com/taxpoynt/authcore/internal/rate"
	"github.com/taxpoynt/authcore/session"
	"github.com/taxpoynt/authcore/token"
)

var (
	// ErrInvalidCredentials covers unknown usernames and wrong passwords.
	// Callers cannot distinguish the two cases.
	ErrInvalidCredentials = errors.New("invalid credentials")
	// ErrAccountInactive rejects logins for suspended, locked, or deleted
	// accounts.
	ErrAccountInactive = errors.New("account inactive")
	// ErrLoginRateLimited rejects logins past the failure budget for a
	// user or source IP.
	ErrLoginRateLimited = errors.New("login rate limited")
	// ErrRefreshRateLimited rejects refresh attempts past the per-token
	// budget.
	ErrRefreshRateLimited = errors.New("refresh rate limited")
	// ErrTokenInvalid covers malformed, expired, revoked, and
	// wrong-signature tokens presented to the facade.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrRefreshInvalid rejects refresh tokens that cannot be rotated.
	ErrRefreshInvalid = errors.New("invalid refresh token")
	// ErrSessionNotFound is returned when a named session does not exist
	// or has lapsed.
	ErrSessionNotFound = errors.New("session not found")
	// ErrMFAFailed rejects an MFA code that did not verify.
	ErrMFAFailed = errors.New("mfa verification failed")
	// ErrOriginBlocked rejects requests from denied networks or blocked
	// user agents.
	ErrOriginBlocked = session.ErrOriginBlocked
	// ErrInvalidScope rejects role assignments with an unknown scope.
	ErrInvalidScope = errors.New("invalid assignment scope")
	// ErrValidation covers malformed or incomplete operation payloads.
	ErrValidation = errors.New("invalid request")
	// ErrUnknownOperation is returned by Handle for operation names
	// outside the dispatch table.
	ErrUnknownOperation = errors.New("unknown operation")
	// ErrBackendUnavailable wraps storage failures surfaced to callers.
	ErrBackendUnavailable = errors.New("backend unavailable")
)

// Error categories reported in facade results. Every failure maps to
// exactly one category so callers can branch without string-matching
// messages.
const (
	CategoryAuthentication = "authentication_error"
	CategoryAuthorization  = "authorization_error"
	CategoryValidation     = "validation_error"
	CategorySecurity       = "security_error"
	CategoryConfiguration  = "configuration_error"
)

// categoryOf maps an operation error to its reported category. Unmapped
// errors are reported as configuration errors so they surface during
// integration rather than being mistaken for user mistakes.
func categoryOf(err error) string {
	switch {
	case errors.Is(err, ErrInvalidCredentials),
		errors.Is(err, ErrAccountInactive),
		errors.Is(err, ErrTokenInvalid),
		errors.Is(err, ErrRefreshInvalid),
		errors.Is(err, ErrMFAFailed),
		errors.Is(err, ErrSessionNotFound):
		return CategoryAuthentication
	case errors.Is(err, ErrLoginRateLimited),
		errors.Is(err, ErrRefreshRateLimited),
		errors.Is(err, ErrOriginBlocked),
		errors.Is(err, rate.ErrRateLimited):
		return CategorySecurity
	case errors.Is(err, ErrValidation),
		errors.Is(err, ErrInvalidScope),
		errors.Is(err, ErrUnknownOperation):
		return CategoryValidation
	case errors.Is(err, ErrBackendUnavailable),
		errors.Is(err, token.ErrStoreUnavailable),
		errors.Is(err, session.ErrStoreUnavailable),
		errors.Is(err, rate.ErrBackendUnavailable):
		return CategoryConfiguration
	default:
		return CategoryConfiguration
	}
}
