package security

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Verification failures, mapped from the underlying JWT library so callers
// never depend on it directly.
var (
	ErrTokenExpired   = errors.New("token expired")
	ErrBadSignature   = errors.New("token signature invalid")
	ErrTokenMalformed = errors.New("token malformed")
)

// Claims is the fixed claim set carried by every token this service issues.
// Keeping it closed (no map claims) keeps verification exhaustive.
type Claims struct {
	TokenType  string `json:"token_type"`
	SessionID  string `json:"sid"`
	Generation int64  `json:"gen"`
	jwt.RegisteredClaims
}

// TokenCodec signs and verifies access and refresh tokens. It is stateless:
// keys are loaded once at startup and never consulted from the session store.
// Access and refresh tokens are signed with independent secrets so one kind
// can never be replayed as the other.
type TokenCodec struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
}

func NewTokenCodec(issuer, audience, accessSecret, refreshSecret string) *TokenCodec {
	return &TokenCodec{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
	}
}

// MintAccess issues a short-lived access token bound to a session and the
// generation it was minted against.
func (c *TokenCodec) MintAccess(subject, sessionID string, generation int64, ttl time.Duration) (string, error) {
	return c.mint("access", subject, sessionID, generation, ttl, c.accessSecret)
}

// MintRefresh issues a refresh token carrying only the session id and
// generation; it is useless for API authorization.
func (c *TokenCodec) MintRefresh(subject, sessionID string, generation int64, ttl time.Duration) (string, error) {
	return c.mint("refresh", subject, sessionID, generation, ttl, c.refreshSecret)
}

func (c *TokenCodec) mint(kind, subject, sessionID string, generation int64, ttl time.Duration, secret []byte) (string, error) {
	now := time.Now()
	claims := Claims{
		TokenType:  kind,
		SessionID:  sessionID,
		Generation: generation,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    c.issuer,
			Subject:   subject,
			Audience:  []string{c.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
			NotBefore: jwt.NewNumericDate(now),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        uuid.NewString(),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (c *TokenCodec) VerifyAccess(raw string) (*Claims, error) {
	return c.verify(raw, c.accessSecret, "access")
}

func (c *TokenCodec) VerifyRefresh(raw string) (*Claims, error) {
	return c.verify(raw, c.refreshSecret, "refresh")
}

func (c *TokenCodec) verify(raw string, secret []byte, kind string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, fmt.Errorf("unexpected signing algorithm %q", token.Header["alg"])
		}
		return secret, nil
	}, jwt.WithIssuer(c.issuer), jwt.WithAudience(c.audience))
	if err != nil {
		return nil, classifyJWTError(err)
	}
	if !tok.Valid {
		return nil, ErrTokenMalformed
	}
	if claims.TokenType != kind {
		return nil, fmt.Errorf("%w: unexpected token type %q", ErrTokenMalformed, claims.TokenType)
	}
	if claims.SessionID == "" {
		return nil, fmt.Errorf("%w: missing session id", ErrTokenMalformed)
	}
	return claims, nil
}

func classifyJWTError(err error) error {
	switch {
	case errors.Is(err, jwt.ErrTokenExpired):
		return ErrTokenExpired
	case errors.Is(err, jwt.ErrTokenSignatureInvalid):
		return ErrBadSignature
	default:
		return fmt.Errorf("%w: %v", ErrTokenMalformed, err)
	}
}
