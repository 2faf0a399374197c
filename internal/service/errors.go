package service

import "errors"

// Authentication-flow errors: surfaced to the client as a failed login, never
// retried (authorization codes are single-use).
var (
	ErrInvalidFlowState    = errors.New("invalid or expired login flow state")
	ErrProviderUnreachable = errors.New("identity provider unreachable")
	ErrProviderRejected    = errors.New("identity provider rejected the login")
)

// Token and session errors: surfaced as unauthenticated.
var (
	ErrInvalidToken       = errors.New("invalid refresh token")
	ErrSessionInvalid     = errors.New("session missing, expired or revoked")
	ErrTokenReuseDetected = errors.New("refresh token reuse detected")
)

// Infrastructure errors: retried at most once locally, then surfaced as a
// transient failure distinct from an authentication failure so clients know
// to retry rather than re-login.
var ErrRefreshRace = errors.New("concurrent refresh lost the rotation race")
