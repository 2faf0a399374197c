package domain

import "time"

// Principal is the resolved identity of an authenticated user as reported by
// the external identity provider. It is immutable once the callback resolves it.
type Principal struct {
	Subject  string `json:"subject"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	Provider string `json:"provider"`
}

// DisplayName returns the best human-readable name for the principal.
func (p Principal) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	if p.Email != "" {
		return p.Email
	}
	return p.Subject
}

// Session is the shared, server-side record tying a Principal to a revocable
// authorization state. It lives in the session store under a store-native TTL
// that mirrors ExpiresAt; no process-local copy is ever authoritative.
type Session struct {
	ID            string    `json:"id"`
	Principal     Principal `json:"principal"`
	CreatedAt     time.Time `json:"created_at"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Generation    int64     `json:"generation"`
	Revoked       bool      `json:"revoked"`
	RevokedReason string    `json:"revoked_reason,omitempty"`

	// Version is the optimistic-concurrency counter used by the store's
	// compare-and-swap mutate. It is not part of the session's identity.
	Version int64 `json:"version"`
}

// Live reports whether the session can still authorize requests at the given
// instant: not revoked and not past its absolute expiry.
func (s *Session) Live(now time.Time) bool {
	return !s.Revoked && now.Before(s.ExpiresAt)
}

// IdleExpired reports whether the session has been untouched longer than the
// configured idle timeout. A zero timeout disables the check.
func (s *Session) IdleExpired(now time.Time, idleTimeout time.Duration) bool {
	if idleTimeout <= 0 {
		return false
	}
	last := s.LastSeenAt
	if last.IsZero() {
		last = s.CreatedAt
	}
	return now.Sub(last) > idleTimeout
}
