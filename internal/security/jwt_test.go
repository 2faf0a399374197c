package security

import (
	"errors"
	"testing"
	"time"
)

func newTestCodec() *TokenCodec {
	return NewTokenCodec(
		"sessiond-test",
		"sessiond-test",
		"access-secret-abcdefghijklmnopqrstuvwx",
		"refresh-secret-abcdefghijklmnopqrstuvw",
	)
}

func TestAccessTokenRoundTrip(t *testing.T) {
	codec := newTestCodec()
	raw, err := codec.MintAccess("user-1", "sess-1", 3, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := codec.VerifyAccess(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.Subject != "user-1" || claims.SessionID != "sess-1" || claims.Generation != 3 {
		t.Fatalf("unexpected claims: %+v", claims)
	}
	if claims.TokenType != "access" {
		t.Fatalf("unexpected token type %q", claims.TokenType)
	}
	if claims.ID == "" {
		t.Fatal("expected a token id")
	}
}

func TestRefreshTokenRoundTrip(t *testing.T) {
	codec := newTestCodec()
	raw, err := codec.MintRefresh("user-1", "sess-1", 0, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	claims, err := codec.VerifyRefresh(raw)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	if claims.TokenType != "refresh" || claims.SessionID != "sess-1" {
		t.Fatalf("unexpected claims: %+v", claims)
	}
}

func TestVerifyRejectsWrongTokenKind(t *testing.T) {
	codec := newTestCodec()
	access, err := codec.MintAccess("user-1", "sess-1", 0, time.Hour)
	if err != nil {
		t.Fatalf("mint access: %v", err)
	}
	refresh, err := codec.MintRefresh("user-1", "sess-1", 0, time.Hour)
	if err != nil {
		t.Fatalf("mint refresh: %v", err)
	}

	// The secrets differ, so a cross-verify fails on signature before it can
	// even reach the type check.
	if _, err := codec.VerifyRefresh(access); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature verifying access as refresh, got %v", err)
	}
	if _, err := codec.VerifyAccess(refresh); !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature verifying refresh as access, got %v", err)
	}
}

func TestVerifyExpiredToken(t *testing.T) {
	codec := newTestCodec()
	raw, err := codec.MintAccess("user-1", "sess-1", 0, -time.Minute)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, err = codec.VerifyAccess(raw)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}
}

func TestVerifyExpiryBoundary(t *testing.T) {
	codec := newTestCodec()

	// Claim timestamps carry one-second precision, so two seconds on either
	// side of now lands unambiguously before and after expiry.
	justLive, err := codec.MintAccess("user-1", "sess-1", 0, 2*time.Second)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := codec.VerifyAccess(justLive); err != nil {
		t.Fatalf("token expiring in 2s must still verify, got %v", err)
	}

	justExpired, err := codec.MintAccess("user-1", "sess-1", 0, -2*time.Second)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := codec.VerifyAccess(justExpired); !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("token expired 2s ago must fail with ErrTokenExpired, got %v", err)
	}
}

func TestVerifyTamperedSignature(t *testing.T) {
	codec := newTestCodec()
	other := NewTokenCodec(
		"sessiond-test",
		"sessiond-test",
		"different-access-secret-0123456789abcdef",
		"different-refresh-secret-0123456789abcde",
	)
	raw, err := other.MintAccess("user-1", "sess-1", 0, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	_, err = codec.VerifyAccess(raw)
	if !errors.Is(err, ErrBadSignature) {
		t.Fatalf("expected ErrBadSignature, got %v", err)
	}
}

func TestVerifyMalformedToken(t *testing.T) {
	codec := newTestCodec()
	for _, raw := range []string{"", "garbage", "a.b", "a.b.c"} {
		_, err := codec.VerifyAccess(raw)
		if !errors.Is(err, ErrTokenMalformed) {
			t.Fatalf("%q: expected ErrTokenMalformed, got %v", raw, err)
		}
	}
}

func TestVerifyWrongIssuerAndAudience(t *testing.T) {
	codec := newTestCodec()
	foreign := NewTokenCodec(
		"someone-else",
		"someone-else",
		"access-secret-abcdefghijklmnopqrstuvwx",
		"refresh-secret-abcdefghijklmnopqrstuvw",
	)
	raw, err := foreign.MintAccess("user-1", "sess-1", 0, time.Hour)
	if err != nil {
		t.Fatalf("mint: %v", err)
	}
	if _, err := codec.VerifyAccess(raw); err == nil {
		t.Fatal("expected verification to fail for foreign issuer")
	}
}

func TestPKCEChallengeIsDeterministic(t *testing.T) {
	a := PKCEChallenge("verifier-1")
	b := PKCEChallenge("verifier-1")
	if a != b {
		t.Fatal("expected deterministic challenge")
	}
	if a == PKCEChallenge("verifier-2") {
		t.Fatal("expected distinct challenges for distinct verifiers")
	}
}

func TestNewStateTokenIsUnique(t *testing.T) {
	seen := map[string]bool{}
	for i := 0; i < 100; i++ {
		tok, err := NewStateToken()
		if err != nil {
			t.Fatalf("new state token: %v", err)
		}
		if seen[tok] {
			t.Fatalf("duplicate state token %q", tok)
		}
		seen[tok] = true
	}
}
