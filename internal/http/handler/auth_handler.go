package handler

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/sessiond/sessiond/internal/http/middleware"
	"github.com/sessiond/sessiond/internal/http/response"
	"github.com/sessiond/sessiond/internal/observability"
	"github.com/sessiond/sessiond/internal/repository"
	"github.com/sessiond/sessiond/internal/service"
)

type AuthHandler struct {
	auth   service.AuthFlow
	tokens service.TokenCoordinator
}

func NewAuthHandler(auth service.AuthFlow, tokens service.TokenCoordinator) *AuthHandler {
	return &AuthHandler{auth: auth, tokens: tokens}
}

// Login starts the OAuth2 flow and redirects the browser to the provider.
func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	authURL, err := h.auth.BeginLogin(r.Context(), r.URL.Query().Get("return_to"))
	if err != nil {
		if errors.Is(err, repository.ErrStoreUnavailable) {
			response.Error(w, r, http.StatusServiceUnavailable, "TRANSIENT", "session store unavailable", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "could not start login", nil)
		return
	}
	http.Redirect(w, r, authURL, http.StatusFound)
}

// Callback consumes the provider redirect and returns the initial token pair.
func (h *AuthHandler) Callback(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := h.auth.HandleCallback(r.Context(), q.Get("state"), q.Get("code"), q.Get("error"))
	if err != nil {
		h.writeCallbackError(w, r, err)
		return
	}
	observability.Audit(r, "login.success",
		"session_id", result.Session.ID,
		"subject", result.Session.Principal.Subject,
		"provider", result.Session.Principal.Provider,
	)
	response.JSON(w, r, http.StatusOK, result.TokenPair)
}

func (h *AuthHandler) writeCallbackError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrInvalidFlowState):
		observability.Audit(r, "login.invalid_flow")
		response.Error(w, r, http.StatusBadRequest, "INVALID_FLOW_STATE", "login flow state is missing, expired or already used", nil)
	case errors.Is(err, service.ErrProviderRejected):
		observability.Audit(r, "login.rejected")
		response.Error(w, r, http.StatusUnauthorized, "LOGIN_FAILED", "identity provider rejected the login", nil)
	case errors.Is(err, service.ErrProviderUnreachable):
		response.Error(w, r, http.StatusBadGateway, "PROVIDER_UNREACHABLE", "identity provider unreachable", nil)
	case errors.Is(err, repository.ErrStoreUnavailable):
		response.Error(w, r, http.StatusServiceUnavailable, "TRANSIENT", "session store unavailable", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "login failed", nil)
	}
}

type refreshRequest struct {
	RefreshToken string `json:"refreshToken"`
}

// Refresh rotates the caller's refresh token and returns a new pair. The
// token is taken from the JSON body, falling back to the X-Refresh-Token
// header. An empty body is fine; a body that fails to parse is not.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.Body != nil {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil && !errors.Is(err, io.EOF) {
			response.Error(w, r, http.StatusBadRequest, "BAD_REQUEST", "malformed request body", nil)
			return
		}
	}
	token := req.RefreshToken
	if token == "" {
		token = r.Header.Get("X-Refresh-Token")
	}
	if token == "" {
		response.Error(w, r, http.StatusBadRequest, "MISSING_TOKEN", "refresh token required", nil)
		return
	}

	pair, err := h.tokens.Refresh(r.Context(), token)
	if err != nil {
		h.writeRefreshError(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, pair)
}

func (h *AuthHandler) writeRefreshError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, service.ErrTokenReuseDetected):
		observability.Audit(r, "refresh.reuse_detected")
		response.Error(w, r, http.StatusUnauthorized, "TOKEN_REUSE", "refresh token reuse detected, session revoked", nil)
	case errors.Is(err, service.ErrSessionInvalid):
		response.Error(w, r, http.StatusUnauthorized, "SESSION_INVALID", "session missing, expired or revoked", nil)
	case errors.Is(err, service.ErrInvalidToken):
		response.Error(w, r, http.StatusUnauthorized, "INVALID_TOKEN", "refresh token invalid", nil)
	case errors.Is(err, service.ErrRefreshRace), errors.Is(err, repository.ErrStoreUnavailable):
		// Retryable: the client should repeat the refresh, not re-login.
		response.Error(w, r, http.StatusServiceUnavailable, "TRANSIENT", "refresh temporarily unavailable, retry", nil)
	default:
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "refresh failed", nil)
	}
}

// Logout revokes the caller's session. Revoking twice is fine.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, "UNAUTHORIZED", "missing access token", nil)
		return
	}
	if err := h.tokens.Revoke(r.Context(), claims.SessionID, service.RevokeReasonLogout); err != nil {
		if errors.Is(err, repository.ErrStoreUnavailable) {
			response.Error(w, r, http.StatusServiceUnavailable, "TRANSIENT", "session store unavailable", nil)
			return
		}
		response.Error(w, r, http.StatusInternalServerError, "INTERNAL", "logout failed", nil)
		return
	}
	observability.Audit(r, "logout.success", "session_id", claims.SessionID)
	response.JSON(w, r, http.StatusOK, map[string]string{"status": "logged_out"})
}
