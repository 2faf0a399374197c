package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/sessiond/sessiond/internal/domain"
	"github.com/sessiond/sessiond/internal/http/response"
	"github.com/sessiond/sessiond/internal/observability"
	"github.com/sessiond/sessiond/internal/repository"
	"github.com/sessiond/sessiond/internal/security"
)

type contextKey string

const (
	ClaimsContextKey    contextKey = "claims"
	PrincipalContextKey contextKey = "principal"
)

// RequestAuthenticator verifies the bearer access token on every request.
// For endpoint classes marked sensitive it additionally re-checks session
// liveness against the shared store and refreshes the idle-timeout clock;
// everything else relies on the short access-token TTL alone.
func RequestAuthenticator(
	codec *security.TokenCodec,
	sessions repository.SessionStore,
	sensitive func(path string) bool,
	idleTimeout time.Duration,
) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			raw := security.GetCookie(r, "access_token")
			source := "cookie"
			if raw == "" {
				auth := r.Header.Get("Authorization")
				if strings.HasPrefix(strings.ToLower(auth), "bearer ") {
					raw = strings.TrimSpace(auth[7:])
					source = "bearer"
				}
			}
			if raw == "" {
				observability.RecordAccessTokenValidation(r.Context(), "missing", "none")
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
				return
			}
			claims, err := codec.VerifyAccess(raw)
			if err != nil {
				observability.RecordAccessTokenValidation(r.Context(), "invalid", source)
				response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "invalid access token", nil)
				return
			}

			principal := domain.Principal{Subject: claims.Subject}
			if sensitive != nil && sensitive(r.URL.Path) {
				p, err := checkSessionLiveness(r.Context(), sessions, claims, idleTimeout)
				if err != nil {
					if errors.Is(err, repository.ErrStoreUnavailable) {
						observability.RecordAccessTokenValidation(r.Context(), "store_error", source)
						response.Error(w, r, http.StatusServiceUnavailable, "TRANSIENT", "session store unavailable", nil)
						return
					}
					observability.RecordAccessTokenValidation(r.Context(), "session_invalid", source)
					response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "session no longer valid", nil)
					return
				}
				principal = p
			}

			observability.RecordAccessTokenValidation(r.Context(), "valid", source)
			ctx := context.WithValue(r.Context(), ClaimsContextKey, claims)
			ctx = context.WithValue(ctx, PrincipalContextKey, principal)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func checkSessionLiveness(ctx context.Context, sessions repository.SessionStore, claims *security.Claims, idleTimeout time.Duration) (domain.Principal, error) {
	sess, err := sessions.Get(ctx, claims.SessionID)
	if err != nil {
		return domain.Principal{}, err
	}
	now := time.Now().UTC()
	if !sess.Live(now) || sess.Generation != claims.Generation || sess.IdleExpired(now, idleTimeout) {
		return domain.Principal{}, repository.ErrSessionNotFound
	}
	// Sliding idle window: touching is best effort, a lost race only delays
	// the next touch.
	_, err = sessions.Mutate(ctx, claims.SessionID, func(s *domain.Session) error {
		s.LastSeenAt = now
		return nil
	})
	if err != nil && !errors.Is(err, repository.ErrConflict) && !errors.Is(err, repository.ErrSessionNotFound) {
		return domain.Principal{}, err
	}
	return sess.Principal, nil
}

func ClaimsFromContext(ctx context.Context) (*security.Claims, bool) {
	c, ok := ctx.Value(ClaimsContextKey).(*security.Claims)
	return c, ok
}

func PrincipalFromContext(ctx context.Context) (domain.Principal, bool) {
	p, ok := ctx.Value(PrincipalContextKey).(domain.Principal)
	return p, ok
}
