package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/sessiond/sessiond/internal/domain"
	"github.com/sessiond/sessiond/internal/observability"
	"github.com/sessiond/sessiond/internal/repository"
	"github.com/sessiond/sessiond/internal/security"
)

// errStaleGeneration signals a generation mismatch observed inside the
// atomic mutate, after the initial check already passed.
var errStaleGeneration = errors.New("stale generation")

// Revocation reasons persisted on the session record.
const (
	RevokeReasonLogout        = "logout"
	RevokeReasonAdmin         = "admin"
	RevokeReasonReuseDetected = "reuse_detected"
)

// TokenService is the refresh and revocation coordinator. A refresh attempt
// walks verify -> session lookup -> generation check -> atomic rotate ->
// mint; every terminal maps to exactly one error kind.
type TokenService struct {
	sessions   repository.SessionStore
	codec      *security.TokenCodec
	accessTTL  time.Duration
	refreshTTL time.Duration
}

func NewTokenService(sessions repository.SessionStore, codec *security.TokenCodec, accessTTL, refreshTTL time.Duration) *TokenService {
	return &TokenService{
		sessions:   sessions,
		codec:      codec,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
	}
}

// Refresh validates a presented refresh token, rotates the owning session's
// generation exactly once and mints a replacement pair. A stale generation is
// treated as a compromise signal: the session is revoked defensively and the
// caller gets ErrTokenReuseDetected.
func (s *TokenService) Refresh(ctx context.Context, refreshToken string) (*TokenPair, error) {
	claims, err := s.codec.VerifyRefresh(refreshToken)
	if err != nil {
		observability.RecordRefreshAttempt(ctx, "invalid_token")
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}

	sess, err := s.sessions.Get(ctx, claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			observability.RecordRefreshAttempt(ctx, "session_invalid")
			return nil, ErrSessionInvalid
		}
		observability.RecordRefreshAttempt(ctx, "store_error")
		return nil, err
	}
	now := time.Now().UTC()
	if !sess.Live(now) {
		observability.RecordRefreshAttempt(ctx, "session_invalid")
		return nil, ErrSessionInvalid
	}
	if claims.Generation != sess.Generation {
		return nil, s.reuseDetected(ctx, sess.ID)
	}

	rotated, err := s.rotate(ctx, sess.ID, claims.Generation, now)
	if err != nil {
		return nil, err
	}

	pair, err := mintPair(s.codec, rotated, s.accessTTL, s.refreshTTL)
	if err != nil {
		observability.RecordRefreshAttempt(ctx, "mint_error")
		return nil, err
	}
	observability.RecordRefreshAttempt(ctx, "success")
	return pair, nil
}

// rotate bumps the generation with a compare-and-swap, retrying a version
// conflict exactly once. If the retry reads a generation that has already
// moved on, the presented token lost to a completed rotation and is treated
// as reused.
func (s *TokenService) rotate(ctx context.Context, sessionID string, expectedGen int64, now time.Time) (*domain.Session, error) {
	for attempt := 0; attempt < 2; attempt++ {
		rotated, err := s.sessions.Mutate(ctx, sessionID, func(sess *domain.Session) error {
			if sess.Revoked {
				return ErrSessionInvalid
			}
			if sess.Generation != expectedGen {
				return errStaleGeneration
			}
			sess.Generation++
			sess.LastRefreshAt = now
			sess.LastSeenAt = now
			return nil
		})
		switch {
		case err == nil:
			return rotated, nil
		case errors.Is(err, repository.ErrConflict) && attempt == 0:
			continue
		case errors.Is(err, repository.ErrConflict):
			observability.RecordRefreshAttempt(ctx, "refresh_race")
			return nil, ErrRefreshRace
		case errors.Is(err, errStaleGeneration):
			return nil, s.reuseDetected(ctx, sessionID)
		case errors.Is(err, ErrSessionInvalid):
			observability.RecordRefreshAttempt(ctx, "session_invalid")
			return nil, ErrSessionInvalid
		case errors.Is(err, repository.ErrSessionNotFound):
			observability.RecordRefreshAttempt(ctx, "session_invalid")
			return nil, ErrSessionInvalid
		default:
			observability.RecordRefreshAttempt(ctx, "store_error")
			return nil, err
		}
	}
	observability.RecordRefreshAttempt(ctx, "refresh_race")
	return nil, ErrRefreshRace
}

func (s *TokenService) reuseDetected(ctx context.Context, sessionID string) error {
	if err := s.sessions.Revoke(ctx, sessionID, RevokeReasonReuseDetected); err != nil {
		observability.RecordRefreshAttempt(ctx, "store_error")
		return err
	}
	observability.RecordRefreshAttempt(ctx, "reuse_detected")
	return ErrTokenReuseDetected
}

// Revoke permanently invalidates a session. It is idempotent: revoking an
// already-revoked or already-expired session succeeds silently.
func (s *TokenService) Revoke(ctx context.Context, sessionID, reason string) error {
	if err := s.sessions.Revoke(ctx, sessionID, reason); err != nil {
		observability.RecordLogoutAttempt(ctx, "store_error")
		return err
	}
	observability.RecordLogoutAttempt(ctx, "success")
	return nil
}

// RevokeAllForUser revokes every known session for a principal subject.
// Used for administrative lockout.
func (s *TokenService) RevokeAllForUser(ctx context.Context, subject string) (int, error) {
	ids, err := s.sessions.ListByUser(ctx, subject)
	if err != nil {
		return 0, err
	}
	revoked := 0
	for _, id := range ids {
		if err := s.sessions.Revoke(ctx, id, RevokeReasonAdmin); err != nil {
			return revoked, err
		}
		revoked++
	}
	return revoked, nil
}
