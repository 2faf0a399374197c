package handler

import (
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/sessiond/sessiond/internal/http/middleware"
	"github.com/sessiond/sessiond/internal/http/response"
	"github.com/sessiond/sessiond/internal/observability"
	"github.com/sessiond/sessiond/internal/repository"
	"github.com/sessiond/sessiond/internal/service"
)

// SessionHandler exposes the caller's identity and session metadata, plus the
// administrative user-wide revocation endpoint.
type SessionHandler struct {
	sessions repository.SessionStore
	tokens   service.TokenCoordinator
}

func NewSessionHandler(sessions repository.SessionStore, tokens service.TokenCoordinator) *SessionHandler {
	return &SessionHandler{sessions: sessions, tokens: tokens}
}

// Me returns the resolved Principal. Downstream business collaborators see
// exactly this shape and nothing else.
func (h *SessionHandler) Me(w http.ResponseWriter, r *http.Request) {
	principal, ok := middleware.PrincipalFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing principal", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, principal)
}

type sessionView struct {
	ID            string    `json:"id"`
	CreatedAt     time.Time `json:"created_at"`
	LastRefreshAt time.Time `json:"last_refresh_at"`
	LastSeenAt    time.Time `json:"last_seen_at"`
	ExpiresAt     time.Time `json:"expires_at"`
	Generation    int64     `json:"generation"`
}

// MySession returns metadata about the caller's own session.
func (h *SessionHandler) MySession(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	sess, err := h.sessions.Get(r.Context(), claims.SessionID)
	if err != nil {
		if errors.Is(err, repository.ErrStoreUnavailable) {
			response.Error(w, r, http.StatusServiceUnavailable, "TRANSIENT", "session store unavailable", nil)
			return
		}
		response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "session missing, expired or revoked", nil)
		return
	}
	response.JSON(w, r, http.StatusOK, sessionView{
		ID:            sess.ID,
		CreatedAt:     sess.CreatedAt,
		LastRefreshAt: sess.LastRefreshAt,
		LastSeenAt:    sess.LastSeenAt,
		ExpiresAt:     sess.ExpiresAt,
		Generation:    sess.Generation,
	})
}

// RevokeUserSessions revokes every session belonging to a principal subject.
func (h *SessionHandler) RevokeUserSessions(w http.ResponseWriter, r *http.Request) {
	subject := chi.URLParam(r, "subject")
	if subject == "" {
		response.Error(w, r, http.StatusBadRequest, "MISSING_SUBJECT", "subject required", nil)
		return
	}
	revoked, err := h.tokens.RevokeAllForUser(r.Context(), subject)
	if err != nil {
		if errors.Is(err, repository.ErrStoreUnavailable) {
			response.Error(w, r, http.StatusServiceUnavailable, "TRANSIENT", "session store unavailable", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "revocation failed", nil)
		return
	}
	observability.Audit(r, "admin.revoke_user_sessions", "subject", subject, "revoked", revoked)
	response.JSON(w, r, http.StatusOK, map[string]int{"revoked": revoked})
}
