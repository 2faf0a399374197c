package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config is the process-wide configuration, loaded once at startup and
// read-only afterwards. Signing secrets are passed explicitly to the token
// codec rather than read from ambient state.
type Config struct {
	HTTPAddr    string `env:"HTTP_ADDR" envDefault:":8080"`
	Environment string `env:"ENVIRONMENT" envDefault:"dev"`

	// Identity provider.
	OIDCProviderName string   `env:"OIDC_PROVIDER_NAME" envDefault:"cognito"`
	OIDCIssuerURL    string   `env:"OIDC_ISSUER_URL"`
	OIDCClientID     string   `env:"OIDC_CLIENT_ID"`
	OIDCClientSecret string   `env:"OIDC_CLIENT_SECRET"`
	OIDCRedirectURL  string   `env:"OIDC_REDIRECT_URL"`
	OIDCScopes       []string `env:"OIDC_SCOPES" envSeparator:","`

	// Token signing and lifetimes.
	JWTIssuer          string        `env:"JWT_ISSUER" envDefault:"sessiond"`
	JWTAudience        string        `env:"JWT_AUDIENCE" envDefault:"sessiond"`
	AccessTokenSecret  string        `env:"ACCESS_TOKEN_SECRET"`
	RefreshTokenSecret string        `env:"REFRESH_TOKEN_SECRET"`
	AccessTokenTTL     time.Duration `env:"ACCESS_TOKEN_TTL" envDefault:"10m"`
	RefreshTokenTTL    time.Duration `env:"REFRESH_TOKEN_TTL" envDefault:"336h"`

	// Session lifecycle.
	SessionTTL         time.Duration `env:"SESSION_TTL" envDefault:"336h"`
	SessionIdleTimeout time.Duration `env:"SESSION_IDLE_TIMEOUT" envDefault:"2h"`
	FlowTTL            time.Duration `env:"FLOW_TTL" envDefault:"10m"`

	// Endpoint classes that re-check session liveness on every request.
	// Everything else relies on the short access-token TTL alone.
	SessionCheckPaths []string `env:"SESSION_CHECK_PATHS" envSeparator:"," envDefault:"/api/v1/me,/api/v1/admin"`

	// Session store.
	RedisAddr      string        `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string        `env:"REDIS_PASSWORD"`
	RedisDB        int           `env:"REDIS_DB" envDefault:"0"`
	StoreOpTimeout time.Duration `env:"STORE_OP_TIMEOUT" envDefault:"3s"`

	// HTTP ambient.
	CORSOrigins      []string `env:"CORS_ORIGINS" envSeparator:","`
	AuthRateLimitRPM int      `env:"AUTH_RATE_LIMIT_RPM" envDefault:"30"`
	APIRateLimitRPM  int      `env:"API_RATE_LIMIT_RPM" envDefault:"300"`

	// Observability.
	OTELServiceName           string        `env:"OTEL_SERVICE_NAME" envDefault:"sessiond"`
	OTELExporterOTLPEndpoint  string        `env:"OTEL_EXPORTER_OTLP_ENDPOINT" envDefault:"localhost:4317"`
	OTELExporterOTLPInsecure  bool          `env:"OTEL_EXPORTER_OTLP_INSECURE" envDefault:"true"`
	OTELMetricsEnabled        bool          `env:"OTEL_METRICS_ENABLED" envDefault:"false"`
	OTELTracesEnabled         bool          `env:"OTEL_TRACES_ENABLED" envDefault:"false"`
	OTELLogsEnabled           bool          `env:"OTEL_LOGS_ENABLED" envDefault:"false"`
	OTELMetricsExportInterval time.Duration `env:"OTEL_METRICS_EXPORT_INTERVAL" envDefault:"30s"`
}

func Load(ctx context.Context) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		err = fmt.Errorf("parse config from env: %w", err)
		recordConfigValidationEvent(ctx, cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		recordConfigValidationEvent(ctx, cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(ctx, cfg.Environment, "success", "none")
	return cfg, nil
}

func (c *Config) Validate() error {
	var problems []string
	if c.OIDCIssuerURL == "" {
		problems = append(problems, "OIDC_ISSUER_URL is required")
	}
	if c.OIDCClientID == "" {
		problems = append(problems, "OIDC_CLIENT_ID is required")
	}
	if c.OIDCRedirectURL == "" {
		problems = append(problems, "OIDC_REDIRECT_URL is required")
	}
	if len(c.AccessTokenSecret) < 32 {
		problems = append(problems, "ACCESS_TOKEN_SECRET must be at least 32 bytes")
	}
	if len(c.RefreshTokenSecret) < 32 {
		problems = append(problems, "REFRESH_TOKEN_SECRET must be at least 32 bytes")
	}
	if c.AccessTokenSecret != "" && c.AccessTokenSecret == c.RefreshTokenSecret {
		problems = append(problems, "ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.AccessTokenTTL <= 0 || c.AccessTokenTTL >= c.RefreshTokenTTL {
		problems = append(problems, "ACCESS_TOKEN_TTL must be positive and shorter than REFRESH_TOKEN_TTL")
	}
	if c.SessionTTL < c.RefreshTokenTTL {
		problems = append(problems, "SESSION_TTL must be at least REFRESH_TOKEN_TTL")
	}
	if c.FlowTTL <= 0 {
		problems = append(problems, "FLOW_TTL must be positive")
	}
	if c.StoreOpTimeout <= 0 {
		problems = append(problems, "STORE_OP_TIMEOUT must be positive")
	}
	if len(problems) > 0 {
		return fmt.Errorf("%s", strings.Join(problems, "; "))
	}
	return nil
}

// SessionCheckRequired reports whether the given request path belongs to a
// sensitive endpoint class that must re-check session liveness.
func (c *Config) SessionCheckRequired(path string) bool {
	for _, prefix := range c.SessionCheckPaths {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}
