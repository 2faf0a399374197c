package service

import "context"

// AuthFlow is what the HTTP layer needs from the login flow.
type AuthFlow interface {
	BeginLogin(ctx context.Context, returnURL string) (string, error)
	HandleCallback(ctx context.Context, state, code, providerError string) (*LoginResult, error)
}

// TokenCoordinator is what the HTTP layer needs from the refresh and
// revocation machinery.
type TokenCoordinator interface {
	Refresh(ctx context.Context, refreshToken string) (*TokenPair, error)
	Revoke(ctx context.Context, sessionID, reason string) error
	RevokeAllForUser(ctx context.Context, subject string) (int, error)
}
