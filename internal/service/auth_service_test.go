package service

import (
	"context"
	"errors"
	"net/url"
	"strings"
	"testing"
	"time"

	"github.com/sessiond/sessiond/internal/domain"
	"github.com/sessiond/sessiond/internal/provider"
)

func newAuthFixture(p provider.Provider) (*AuthService, *inMemorySessionStore, *inMemoryFlowStore) {
	sessions := newInMemorySessionStore()
	flows := newInMemoryFlowStore()
	svc := NewAuthService(p, sessions, flows, testCodec(),
		10*time.Minute, 24*time.Hour, 10*time.Minute, 24*time.Hour)
	return svc, sessions, flows
}

func seedFlow(t *testing.T, flows *inMemoryFlowStore, state, nonce string) {
	t.Helper()
	err := flows.Put(context.Background(), &domain.PendingFlow{
		State:        state,
		Nonce:        nonce,
		CodeVerifier: "verifier-1",
		CreatedAt:    time.Now().UTC(),
	}, 10*time.Minute)
	if err != nil {
		t.Fatalf("seed flow: %v", err)
	}
}

func TestBeginLoginStoresFlowAndBuildsAuthURL(t *testing.T) {
	svc, _, flows := newAuthFixture(&fakeProvider{})

	authURL, err := svc.BeginLogin(context.Background(), "/app/home")
	if err != nil {
		t.Fatalf("begin login: %v", err)
	}
	parsed, err := url.Parse(authURL)
	if err != nil {
		t.Fatalf("parse auth url: %v", err)
	}
	state := parsed.Query().Get("state")
	if state == "" {
		t.Fatal("expected state in authorization URL")
	}
	if parsed.Query().Get("nonce") == "" || parsed.Query().Get("code_challenge") == "" {
		t.Fatal("expected nonce and code_challenge in authorization URL")
	}

	flow, err := flows.Consume(context.Background(), state)
	if err != nil {
		t.Fatalf("expected pending flow stored under state: %v", err)
	}
	if flow.ReturnURL != "/app/home" {
		t.Fatalf("unexpected return URL %q", flow.ReturnURL)
	}
	if flow.Nonce != parsed.Query().Get("nonce") {
		t.Fatal("stored nonce does not match nonce sent to provider")
	}
}

func TestCallbackSuccessCreatesSessionAndPair(t *testing.T) {
	p := &fakeProvider{exchangeFn: func(_ context.Context, code, verifier string) (*provider.Identity, error) {
		if code != "code-1" {
			return nil, errors.New("unexpected code")
		}
		if verifier != "verifier-1" {
			return nil, errors.New("unexpected verifier")
		}
		return &provider.Identity{Subject: "user-1", Email: "user@example.com", Name: "User One", Nonce: "nonce-1"}, nil
	}}
	svc, sessions, flows := newAuthFixture(p)
	seedFlow(t, flows, "state-1", "nonce-1")

	result, err := svc.HandleCallback(context.Background(), "state-1", "code-1", "")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	if result.Session.Principal.Subject != "user-1" {
		t.Fatalf("unexpected subject %q", result.Session.Principal.Subject)
	}
	if result.Session.Generation != 0 {
		t.Fatalf("expected fresh session at generation 0, got %d", result.Session.Generation)
	}

	stored, err := sessions.Get(context.Background(), result.Session.ID)
	if err != nil {
		t.Fatalf("expected session persisted: %v", err)
	}
	if stored.Principal.Email != "user@example.com" {
		t.Fatalf("unexpected email %q", stored.Principal.Email)
	}

	codec := testCodec()
	claims, err := codec.VerifyAccess(result.AccessToken)
	if err != nil {
		t.Fatalf("verify access token: %v", err)
	}
	if claims.SessionID != result.Session.ID || claims.Subject != "user-1" {
		t.Fatalf("unexpected access claims: sid=%s sub=%s", claims.SessionID, claims.Subject)
	}
}

func TestCallbackUnknownStateFailsWithoutSession(t *testing.T) {
	svc, sessions, _ := newAuthFixture(&fakeProvider{})

	_, err := svc.HandleCallback(context.Background(), "never-issued", "code-1", "")
	if !errors.Is(err, ErrInvalidFlowState) {
		t.Fatalf("expected ErrInvalidFlowState, got %v", err)
	}
	if len(sessions.sessions) != 0 {
		t.Fatal("expected no session created on invalid state")
	}
}

func TestCallbackStateIsSingleUse(t *testing.T) {
	p := &fakeProvider{exchangeFn: func(context.Context, string, string) (*provider.Identity, error) {
		return &provider.Identity{Subject: "user-1", Nonce: "nonce-1"}, nil
	}}
	svc, _, flows := newAuthFixture(p)
	seedFlow(t, flows, "state-1", "nonce-1")

	if _, err := svc.HandleCallback(context.Background(), "state-1", "code-1", ""); err != nil {
		t.Fatalf("first callback: %v", err)
	}
	_, err := svc.HandleCallback(context.Background(), "state-1", "code-1", "")
	if !errors.Is(err, ErrInvalidFlowState) {
		t.Fatalf("expected replayed state rejected, got %v", err)
	}
}

func TestCallbackMissingParamsFail(t *testing.T) {
	svc, _, _ := newAuthFixture(&fakeProvider{})
	for _, tc := range []struct{ state, code string }{
		{"", "code-1"},
		{"state-1", ""},
		{"", ""},
	} {
		_, err := svc.HandleCallback(context.Background(), tc.state, tc.code, "")
		if !errors.Is(err, ErrInvalidFlowState) {
			t.Fatalf("state=%q code=%q: expected ErrInvalidFlowState, got %v", tc.state, tc.code, err)
		}
	}
}

func TestCallbackProviderErrorParamFailsRejected(t *testing.T) {
	svc, _, flows := newAuthFixture(&fakeProvider{})
	seedFlow(t, flows, "state-1", "nonce-1")

	_, err := svc.HandleCallback(context.Background(), "state-1", "code-1", "access_denied")
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	// The provider reported the error before any exchange, so the flow must
	// not have been consumed by it.
	if _, err := flows.Consume(context.Background(), "state-1"); err != nil {
		t.Fatalf("expected flow untouched: %v", err)
	}
}

func TestCallbackExchangeRejected(t *testing.T) {
	p := &fakeProvider{exchangeFn: func(context.Context, string, string) (*provider.Identity, error) {
		return nil, provider.ErrRejected
	}}
	svc, sessions, flows := newAuthFixture(p)
	seedFlow(t, flows, "state-1", "nonce-1")

	_, err := svc.HandleCallback(context.Background(), "state-1", "bad-code", "")
	if !errors.Is(err, ErrProviderRejected) {
		t.Fatalf("expected ErrProviderRejected, got %v", err)
	}
	if len(sessions.sessions) != 0 {
		t.Fatal("expected no session after rejected exchange")
	}
}

func TestCallbackExchangeUnreachable(t *testing.T) {
	p := &fakeProvider{exchangeFn: func(context.Context, string, string) (*provider.Identity, error) {
		return nil, provider.ErrUnreachable
	}}
	svc, _, flows := newAuthFixture(p)
	seedFlow(t, flows, "state-1", "nonce-1")

	_, err := svc.HandleCallback(context.Background(), "state-1", "code-1", "")
	if !errors.Is(err, ErrProviderUnreachable) {
		t.Fatalf("expected ErrProviderUnreachable, got %v", err)
	}
}

func TestCallbackNonceMismatchFails(t *testing.T) {
	p := &fakeProvider{exchangeFn: func(context.Context, string, string) (*provider.Identity, error) {
		return &provider.Identity{Subject: "user-1", Nonce: "someone-elses-nonce"}, nil
	}}
	svc, sessions, flows := newAuthFixture(p)
	seedFlow(t, flows, "state-1", "nonce-1")

	_, err := svc.HandleCallback(context.Background(), "state-1", "code-1", "")
	if !errors.Is(err, ErrInvalidFlowState) {
		t.Fatalf("expected ErrInvalidFlowState on nonce mismatch, got %v", err)
	}
	if len(sessions.sessions) != 0 {
		t.Fatal("expected no session on nonce mismatch")
	}
}

func TestFullLoginThenRefreshRoundTrip(t *testing.T) {
	p := &fakeProvider{exchangeFn: func(context.Context, string, string) (*provider.Identity, error) {
		return &provider.Identity{Subject: "user-1", Email: "user@example.com", Nonce: "nonce-1"}, nil
	}}
	authSvc, sessions, flows := newAuthFixture(p)
	tokenSvc := NewTokenService(sessions, testCodec(), 10*time.Minute, 24*time.Hour)
	seedFlow(t, flows, "state-1", "nonce-1")

	login, err := authSvc.HandleCallback(context.Background(), "state-1", "code-1", "")
	if err != nil {
		t.Fatalf("callback: %v", err)
	}
	pair, err := tokenSvc.Refresh(context.Background(), login.RefreshToken)
	if err != nil {
		t.Fatalf("refresh minted pair: %v", err)
	}
	if pair.AccessToken == login.AccessToken {
		t.Fatal("expected refresh to mint a new access token")
	}
	if !strings.Contains(pair.RefreshToken, ".") {
		t.Fatal("expected a JWT refresh token")
	}
}
