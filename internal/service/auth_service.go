package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sessiond/sessiond/internal/domain"
	"github.com/sessiond/sessiond/internal/observability"
	"github.com/sessiond/sessiond/internal/provider"
	"github.com/sessiond/sessiond/internal/repository"
	"github.com/sessiond/sessiond/internal/security"
)

// TokenPair is the structured result returned to the client after a login or
// refresh. ExpiresAt refers to the access token.
type TokenPair struct {
	AccessToken  string    `json:"accessToken"`
	RefreshToken string    `json:"refreshToken"`
	ExpiresAt    time.Time `json:"expiresAt"`
}

// LoginResult couples the minted pair with the session it is bound to.
type LoginResult struct {
	TokenPair
	Session *domain.Session
}

// AuthService drives the OAuth2 login flow: it creates pending-flow records
// when a login begins and turns provider callbacks into sessions and token
// pairs.
type AuthService struct {
	provider   provider.Provider
	sessions   repository.SessionStore
	flows      repository.FlowStore
	codec      *security.TokenCodec
	flowTTL    time.Duration
	sessionTTL time.Duration
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewAuthService(
	p provider.Provider,
	sessions repository.SessionStore,
	flows repository.FlowStore,
	codec *security.TokenCodec,
	flowTTL, sessionTTL, accessTTL, refreshTTL time.Duration,
) *AuthService {
	return &AuthService{
		provider:   p,
		sessions:   sessions,
		flows:      flows,
		codec:      codec,
		flowTTL:    flowTTL,
		sessionTTL: sessionTTL,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// BeginLogin mints state, nonce and PKCE verifier, stores the pending flow
// under its short TTL and returns the provider authorization URL.
func (s *AuthService) BeginLogin(ctx context.Context, returnURL string) (string, error) {
	state, err := security.NewStateToken()
	if err != nil {
		return "", fmt.Errorf("generate state: %w", err)
	}
	nonce, err := security.NewStateToken()
	if err != nil {
		return "", fmt.Errorf("generate nonce: %w", err)
	}
	verifier, err := security.NewStateToken()
	if err != nil {
		return "", fmt.Errorf("generate pkce verifier: %w", err)
	}
	flow := &domain.PendingFlow{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: verifier,
		ReturnURL:    returnURL,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.flows.Put(ctx, flow, s.flowTTL); err != nil {
		return "", err
	}
	return s.provider.AuthCodeURL(state, nonce, security.PKCEChallenge(verifier)), nil
}

// HandleCallback consumes the provider redirect. The pending flow is consumed
// before the code exchange, so a duplicate callback with the same state fails
// state validation instead of reusing the authorization code.
func (s *AuthService) HandleCallback(ctx context.Context, state, code, providerError string) (*LoginResult, error) {
	if providerError != "" {
		observability.RecordLoginAttempt(ctx, "rejected")
		return nil, fmt.Errorf("%w: %s", ErrProviderRejected, providerError)
	}
	if state == "" || code == "" {
		observability.RecordLoginAttempt(ctx, "invalid_flow")
		return nil, fmt.Errorf("%w: missing state or code", ErrInvalidFlowState)
	}

	flow, err := s.flows.Consume(ctx, state)
	if err != nil {
		if errors.Is(err, repository.ErrFlowNotFound) {
			observability.RecordLoginAttempt(ctx, "invalid_flow")
			return nil, fmt.Errorf("%w: unknown state", ErrInvalidFlowState)
		}
		observability.RecordLoginAttempt(ctx, "store_error")
		return nil, err
	}

	identity, err := s.provider.Exchange(ctx, code, flow.CodeVerifier)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrRejected):
			observability.RecordLoginAttempt(ctx, "rejected")
			return nil, fmt.Errorf("%w: %v", ErrProviderRejected, err)
		default:
			observability.RecordLoginAttempt(ctx, "unreachable")
			return nil, fmt.Errorf("%w: %v", ErrProviderUnreachable, err)
		}
	}
	if identity.Nonce != flow.Nonce {
		observability.RecordLoginAttempt(ctx, "invalid_flow")
		return nil, fmt.Errorf("%w: nonce mismatch", ErrInvalidFlowState)
	}

	now := time.Now().UTC()
	sess := &domain.Session{
		ID: security.NewSessionID(),
		Principal: domain.Principal{
			Subject:  identity.Subject,
			Email:    identity.Email,
			Name:     identity.Name,
			Provider: s.provider.Name(),
		},
		CreatedAt:     now,
		LastRefreshAt: now,
		LastSeenAt:    now,
		ExpiresAt:     now.Add(s.sessionTTL),
		Generation:    0,
		Revoked:       false,
	}
	if err := s.sessions.Create(ctx, sess); err != nil {
		observability.RecordLoginAttempt(ctx, "store_error")
		return nil, err
	}

	pair, err := mintPair(s.codec, sess, s.accessTTL, s.refreshTTL)
	if err != nil {
		observability.RecordLoginAttempt(ctx, "mint_error")
		return nil, err
	}
	observability.RecordLoginAttempt(ctx, "success")
	return &LoginResult{TokenPair: *pair, Session: sess}, nil
}

func mintPair(codec *security.TokenCodec, sess *domain.Session, accessTTL, refreshTTL time.Duration) (*TokenPair, error) {
	access, err := codec.MintAccess(sess.Principal.Subject, sess.ID, sess.Generation, accessTTL)
	if err != nil {
		return nil, fmt.Errorf("mint access token: %w", err)
	}
	refresh, err := codec.MintRefresh(sess.Principal.Subject, sess.ID, sess.Generation, refreshTTL)
	if err != nil {
		return nil, fmt.Errorf("mint refresh token: %w", err)
	}
	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresAt:    time.Now().UTC().Add(accessTTL),
	}, nil
}
