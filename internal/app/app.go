package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/templui/storeauth/internal/config"
	"github.com/templui/storeauth/internal/db"
	"github.com/templui/storeauth/internal/metrics"
	"github.com/templui/storeauth/internal/repository"
	"github.com/templui/storeauth/internal/service"
	"github.com/templui/storeauth/internal/service/mailer"
	"github.com/templui/storeauth/internal/token"
)

type App struct {
	Cfg             *config.Config
	DB              *sqlx.DB
	Codec           *token.Codec
	Sessions        *service.SessionManager
	AuthService     *service.AuthService
	UserService     *service.UserService
	EmailService    *service.EmailService
	Metrics         metrics.Recorder
	MetricsGatherer prometheus.Gatherer

	sender mailer.Sender
}

// New opens and migrates the database and wires all services.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	database, err := db.Init(ctx, cfg.DBDriver, cfg.DBConnection)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	err = db.RunMigrations(ctx, database.DB, cfg.DBDriver)
	if err != nil {
		database.Close()
		return nil, fmt.Errorf("failed to run migrations: %w", err)
	}

	a, err := Wire(cfg, database)
	if err != nil {
		database.Close()
		return nil, err
	}
	return a, nil
}

// Wire builds the services on an already migrated database.
func Wire(cfg *config.Config, database *sqlx.DB) (*App, error) {
	codec, err := token.NewCodec(token.Config{
		AccessSecret:  cfg.AccessTokenSecret,
		RefreshSecret: cfg.RefreshTokenSecret,
		AccessTTL:     cfg.AccessTokenExpiry,
		RefreshTTL:    cfg.RefreshTokenExpiry,
		Issuer:        cfg.JWTIssuer,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize token codec: %w", err)
	}

	sender, err := mailer.NewSender(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize mail transport: %w", err)
	}

	var recorder metrics.Recorder = metrics.Noop{}
	var gatherer prometheus.Gatherer
	if cfg.MetricsEnabled {
		registry := prometheus.NewRegistry()
		registry.MustRegister(
			collectors.NewGoCollector(),
			collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		)
		recorder = metrics.NewCollector(registry)
		gatherer = registry
	}

	// Repositories
	userRepository := repository.NewUserRepository(database)
	refreshTokenRepository := repository.NewRefreshTokenRepository(database)
	transactor := repository.NewTransactor(database)

	// Services
	emailService := service.NewEmailService(sender, cfg.AppURL, cfg.AppName)
	sessions := service.NewSessionManager(userRepository, refreshTokenRepository, transactor, codec, nil)
	authService := service.NewAuthService(
		userRepository,
		refreshTokenRepository,
		transactor,
		sessions,
		codec,
		emailService,
		recorder,
		service.AuthConfig{
			PasswordMinLength:    cfg.PasswordMinLength,
			RequireVerifiedLogin: cfg.RequireVerifiedLogin,
			VerificationTTL:      cfg.TokenEmailVerifyExpiry,
			ResetTTL:             cfg.TokenPasswordResetExpiry,
		},
		nil,
	)
	userService := service.NewUserService(userRepository, refreshTokenRepository, transactor, sessions, emailService, nil)

	return &App{
		Cfg:             cfg,
		DB:              database,
		Codec:           codec,
		Sessions:        sessions,
		AuthService:     authService,
		UserService:     userService,
		EmailService:    emailService,
		Metrics:         recorder,
		MetricsGatherer: gatherer,
		sender:          sender,
	}, nil
}

// PurgeExpiredSessions runs one cleanup pass.
func (a *App) PurgeExpiredSessions(ctx context.Context) (int64, error) {
	n, err := a.Sessions.PurgeExpired(ctx)
	if err != nil {
		return 0, err
	}
	a.Metrics.RecordSessionsPurged(n)
	return n, nil
}

// StartSessionCleanup purges expired sessions every interval until ctx is done.
func (a *App) StartSessionCleanup(ctx context.Context, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				if _, err := a.PurgeExpiredSessions(ctx); err != nil {
					slog.Error("session cleanup failed", "error", err)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

func (a *App) Close() error {
	if closer, ok := a.sender.(io.Closer); ok {
		if err := closer.Close(); err != nil {
			slog.Warn("failed to close mail transport", "error", err)
		}
	}
	if a.DB != nil {
		return a.DB.Close()
	}
	return nil
}
