// Package session manages authenticated sessions: creation with origin
// checks and a per-user concurrent cap, activity tracking under a dual
// idle/absolute expiry window, additive risk scoring, MFA state, and
// termination with a durable activity log.
//
// A session's expiry is always the earlier of its idle deadline and its
// absolute deadline; recording activity extends the idle deadline but never
// moves a session past created_at + absolute_timeout.
package session
