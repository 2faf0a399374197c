package router

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/sessiond/sessiond/internal/health"
	"github.com/sessiond/sessiond/internal/http/handler"
	"github.com/sessiond/sessiond/internal/http/middleware"
	"github.com/sessiond/sessiond/internal/http/response"
	"github.com/sessiond/sessiond/internal/repository"
	"github.com/sessiond/sessiond/internal/security"
)

type Dependencies struct {
	AuthHandler    *handler.AuthHandler
	SessionHandler *handler.SessionHandler
	TokenCodec     *security.TokenCodec
	SessionStore   repository.SessionStore
	// SensitivePath marks endpoint classes that re-check session liveness.
	SensitivePath      func(path string) bool
	SessionIdleTimeout time.Duration
	CORSOrigins        []string
	AuthRateLimitRPM   int
	APIRateLimitRPM    int
	Readiness          *health.ProbeRunner
	EnableOTelHTTP     bool
}

func New(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)
	r.Use(chimiddleware.RequestID)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))
	r.Use(middleware.NewRateLimiter(dep.APIRateLimitRPM, time.Minute).Middleware())

	authLimiter := middleware.NewRateLimiter(dep.AuthRateLimitRPM, time.Minute).Middleware()
	authenticate := middleware.RequestAuthenticator(dep.TokenCodec, dep.SessionStore, dep.SensitivePath, dep.SessionIdleTimeout)

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		if dep.Readiness == nil {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": []any{}})
			return
		}
		ready, results := dep.Readiness.Ready(r.Context())
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": results})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": results})
	})

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/auth", func(r chi.Router) {
			r.With(authLimiter).Get("/login", dep.AuthHandler.Login)
			r.With(authLimiter).Get("/callback", dep.AuthHandler.Callback)
			r.With(authLimiter).Post("/refresh", dep.AuthHandler.Refresh)
			r.With(authenticate).Post("/logout", dep.AuthHandler.Logout)
		})

		r.Group(func(r chi.Router) {
			r.Use(authenticate)
			r.Get("/me", dep.SessionHandler.Me)
			r.Get("/me/session", dep.SessionHandler.MySession)
			r.Post("/admin/users/{subject}/revoke-sessions", dep.SessionHandler.RevokeUserSessions)
		})
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
