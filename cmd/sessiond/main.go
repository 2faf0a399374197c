package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/sessiond/sessiond/internal/app"
	"github.com/sessiond/sessiond/internal/config"
	"github.com/sessiond/sessiond/internal/health"
	"github.com/sessiond/sessiond/internal/http/handler"
	"github.com/sessiond/sessiond/internal/http/router"
	"github.com/sessiond/sessiond/internal/observability"
	"github.com/sessiond/sessiond/internal/provider"
	"github.com/sessiond/sessiond/internal/repository"
	"github.com/sessiond/sessiond/internal/security"
	"github.com/sessiond/sessiond/internal/service"
)

func main() {
	root := &cobra.Command{
		Use:   "sessiond",
		Short: "OAuth2 session and token bridge service",
	}
	root.AddCommand(newServeCommand())
	if err := root.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newServeCommand() *cobra.Command {
	var envFile string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP server",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return serve(cmd.Context(), envFile)
		},
	}
	cmd.Flags().StringVar(&envFile, "env-file", ".env", "optional env file for local development")
	return cmd
}

func serve(ctx context.Context, envFile string) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := config.LoadEnvFile(envFile); err != nil {
		return err
	}
	cfg, err := config.Load(ctx)
	if err != nil {
		return err
	}

	logger, loggerProvider, err := observability.InitLogging(ctx, cfg)
	if err != nil {
		return err
	}
	runtime, err := observability.InitRuntime(ctx, cfg, logger, loggerProvider)
	if err != nil {
		return err
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := runtime.Shutdown(shutdownCtx); err != nil {
			logger.Error("observability shutdown", "error", err)
		}
	}()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
		DB:       cfg.RedisDB,
	})
	defer redisClient.Close()

	idp, err := provider.NewOIDC(ctx, provider.Config{
		Name:         cfg.OIDCProviderName,
		IssuerURL:    cfg.OIDCIssuerURL,
		ClientID:     cfg.OIDCClientID,
		ClientSecret: cfg.OIDCClientSecret,
		RedirectURL:  cfg.OIDCRedirectURL,
		Scopes:       cfg.OIDCScopes,
	})
	if err != nil {
		return err
	}

	codec := security.NewTokenCodec(cfg.JWTIssuer, cfg.JWTAudience, cfg.AccessTokenSecret, cfg.RefreshTokenSecret)
	sessionStore := repository.NewRedisSessionStore(redisClient, "session", cfg.StoreOpTimeout)
	flowStore := repository.NewRedisFlowStore(redisClient, "flow", cfg.StoreOpTimeout)

	authService := service.NewAuthService(idp, sessionStore, flowStore, codec,
		cfg.FlowTTL, cfg.SessionTTL, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)
	tokenService := service.NewTokenService(sessionStore, codec, cfg.AccessTokenTTL, cfg.RefreshTokenTTL)

	mux := router.New(router.Dependencies{
		AuthHandler:        handler.NewAuthHandler(authService, tokenService),
		SessionHandler:     handler.NewSessionHandler(sessionStore, tokenService),
		TokenCodec:         codec,
		SessionStore:       sessionStore,
		SensitivePath:      cfg.SessionCheckRequired,
		SessionIdleTimeout: cfg.SessionIdleTimeout,
		CORSOrigins:        cfg.CORSOrigins,
		AuthRateLimitRPM:   cfg.AuthRateLimitRPM,
		APIRateLimitRPM:    cfg.APIRateLimitRPM,
		Readiness:          health.NewProbeRunner(2*time.Second, health.RedisCheck(redisClient)),
		EnableOTelHTTP:     cfg.OTELTracesEnabled,
	})

	server := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	a := app.New(cfg, logger, server, runtime)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server starting", "addr", cfg.HTTPAddr, "environment", cfg.Environment)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		a.Logger.Info("http server shutting down")
		return a.Server.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
