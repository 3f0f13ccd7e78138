package config

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/ilyakaznacheev/cleanenv"
	"github.com/joho/godotenv"
)

const (
	EmailTransportLog    = "log"
	EmailTransportResend = "resend"
	EmailTransportSMTP   = "smtp"
	EmailTransportAMQP   = "amqp"
)

type Config struct {
	// Application
	AppName string `env:"APP_NAME" env-default:"Storefront"`
	AppEnv  string `env:"APP_ENV" env-required:"true"` // 'development' or 'production'
	AppURL  string `env:"APP_URL" env-required:"true"` // base URL for email links
	Port    string `env:"PORT" env-default:"8090"`

	// Database (optional driver switch via ENV, default: sqlite)
	DBDriver     string `env:"DB_DRIVER" env-default:"sqlite"`
	DBConnection string `env:"DB_CONNECTION" env-default:"./data/storeauth.db?_pragma=foreign_keys(1)&_pragma=journal_mode(WAL)&_pragma=busy_timeout(5000)&_txlock=immediate"`

	// Tokens
	JWTIssuer                string        `env:"JWT_ISSUER" env-default:"storeauth"`
	AccessTokenSecret        string        `env:"ACCESS_TOKEN_SECRET" env-required:"true"`
	AccessTokenExpiry        time.Duration `env:"ACCESS_TOKEN_EXPIRY" env-default:"15m"`
	RefreshTokenSecret       string        `env:"REFRESH_TOKEN_SECRET" env-required:"true"`
	RefreshTokenExpiry       time.Duration `env:"REFRESH_TOKEN_EXPIRY" env-default:"168h"`
	TokenEmailVerifyExpiry   time.Duration `env:"TOKEN_EMAIL_VERIFY_EXPIRY" env-default:"24h"`
	TokenPasswordResetExpiry time.Duration `env:"TOKEN_PASSWORD_RESET_EXPIRY" env-default:"1h"`

	// Auth policy
	PasswordMinLength       int  `env:"PASSWORD_MIN_LENGTH" env-default:"6"`
	RequireVerifiedLogin    bool `env:"AUTH_REQUIRE_VERIFIED_LOGIN" env-default:"true"`
	ExposeVerificationToken bool `env:"AUTH_EXPOSE_VERIFICATION_TOKEN" env-default:"false"`

	// HTTP
	CookieDomain          string        `env:"COOKIE_DOMAIN"`
	CSRFEnabled           bool          `env:"CSRF_ENABLED" env-default:"true"`
	RateLimitAuthRequests int           `env:"RATE_LIMIT_AUTH_REQUESTS" env-default:"10"`
	RateLimitAuthWindow   time.Duration `env:"RATE_LIMIT_AUTH_WINDOW" env-default:"15m"`
	// Only enable behind a proxy that overwrites X-Forwarded-For / X-Real-IP.
	TrustProxyHeaders     bool          `env:"TRUST_PROXY_HEADERS" env-default:"false"`

	// Sessions
	SessionCleanupInterval time.Duration `env:"SESSION_CLEANUP_INTERVAL" env-default:"1h"`

	// Email
	EmailTransport string `env:"EMAIL_TRANSPORT" env-default:"log"` // log, resend, smtp, amqp
	EmailFrom      string `env:"EMAIL_FROM" env-default:"noreply@example.com"`
	ResendAPIKey   string `env:"RESEND_API_KEY"`
	SMTPHost       string `env:"SMTP_HOST"`
	SMTPPort       int    `env:"SMTP_PORT" env-default:"587"`
	SMTPUsername   string `env:"SMTP_USERNAME"`
	SMTPPassword   string `env:"SMTP_PASSWORD"`
	AMQPURL        string `env:"AMQP_URL"`
	AMQPQueue      string `env:"AMQP_QUEUE" env-default:"auth.emails"`

	// Observability (optional)
	SentryDSN      string `env:"SENTRY_DSN"`
	MetricsEnabled bool   `env:"METRICS_ENABLED" env-default:"true"`
}

func Load() (*Config, error) {
	// Load .env file if it exists
	err := godotenv.Load()
	if err != nil {
		slog.Info("no .env file found, using environment variables")
	}

	var cfg Config
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) validate() error {
	if c.AccessTokenSecret == "" || c.RefreshTokenSecret == "" {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must be set")
	}
	if c.AccessTokenSecret == c.RefreshTokenSecret {
		return errors.New("ACCESS_TOKEN_SECRET and REFRESH_TOKEN_SECRET must differ")
	}
	if c.AccessTokenExpiry <= 0 || c.RefreshTokenExpiry <= 0 {
		return errors.New("token expiries must be positive")
	}
	if c.PasswordMinLength < 1 || c.PasswordMinLength > 72 {
		return fmt.Errorf("PASSWORD_MIN_LENGTH must be between 1 and 72, got %d", c.PasswordMinLength)
	}

	if c.RateLimitAuthRequests < 1 || c.RateLimitAuthWindow <= 0 {
		return errors.New("RATE_LIMIT_AUTH_REQUESTS and RATE_LIMIT_AUTH_WINDOW must be positive")
	}
	if c.SessionCleanupInterval <= 0 {
		return errors.New("SESSION_CLEANUP_INTERVAL must be positive")
	}

	switch c.DBDriver {
	case "sqlite", "pgx":
	default:
		return fmt.Errorf("unsupported DB_DRIVER %q (supported: sqlite, pgx)", c.DBDriver)
	}

	switch c.EmailTransport {
	case EmailTransportLog, EmailTransportResend, EmailTransportSMTP, EmailTransportAMQP:
	default:
		return fmt.Errorf("unknown EMAIL_TRANSPORT %q (supported: log, resend, smtp, amqp)", c.EmailTransport)
	}

	// Production: validate required services
	if c.IsProduction() {
		return validateProduction(c)
	}
	return nil
}

// validateProduction ensures secrets and mail delivery are configured for production deployments.
// Development allows the log transport for easier local testing.
func validateProduction(c *Config) error {
	if len(c.AccessTokenSecret) < 32 || len(c.RefreshTokenSecret) < 32 {
		return errors.New("production deployment requires token secrets of at least 32 bytes")
	}
	if c.EmailTransport == EmailTransportLog {
		return errors.New("production deployment requires EMAIL_TRANSPORT other than log")
	}
	if c.ExposeVerificationToken {
		return errors.New("AUTH_EXPOSE_VERIFICATION_TOKEN must be false in production")
	}
	return nil
}

func (c *Config) IsDevelopment() bool {
	return c.AppEnv == "development"
}

func (c *Config) IsProduction() bool {
	return c.AppEnv == "production"
}

// Sanitized returns a copy of the config with only public/safe fields.
// Secrets and credentials are excluded, so it is safe to put in a request context.
func (c *Config) Sanitized() *Config {
	return &Config{
		AppName:                 c.AppName,
		AppEnv:                  c.AppEnv,
		AppURL:                  c.AppURL,
		Port:                    c.Port,
		JWTIssuer:               c.JWTIssuer,
		AccessTokenExpiry:       c.AccessTokenExpiry,
		RefreshTokenExpiry:      c.RefreshTokenExpiry,
		RequireVerifiedLogin:    c.RequireVerifiedLogin,
		ExposeVerificationToken: c.ExposeVerificationToken,
		CookieDomain:            c.CookieDomain,
		CSRFEnabled:             c.CSRFEnabled,
		EmailTransport:          c.EmailTransport,
		EmailFrom:               c.EmailFrom,
	}
}
