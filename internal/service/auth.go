package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/storeauth/internal/metrics"
	"github.com/templui/storeauth/internal/model"
	"github.com/templui/storeauth/internal/repository"
	"github.com/templui/storeauth/internal/token"
	"github.com/templui/storeauth/internal/validation"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrValidation                 = errors.New("validation failed")
	ErrDuplicateEmail             = errors.New("email already registered")
	ErrDuplicateUsername          = errors.New("username already taken")
	ErrInvalidCredentials         = errors.New("invalid credentials")
	ErrAccountSuspended           = errors.New("account suspended")
	ErrEmailNotVerified           = errors.New("email not verified")
	ErrSessionExpired             = errors.New("session expired, please log in again")
	ErrInvalidVerificationToken   = errors.New("invalid or expired verification token")
	ErrInvalidOrExpiredResetToken = errors.New("invalid or expired reset token")
	ErrInvalidRoleTransition      = errors.New("role transition not allowed")
	ErrInvalidStatusTransition    = errors.New("status transition not allowed")
	ErrForbidden                  = errors.New("insufficient permissions")
	ErrUserNotFound               = errors.New("user not found")
)

func invalid(err error) error {
	return fmt.Errorf("%w: %w", ErrValidation, err)
}

type AuthConfig struct {
	PasswordMinLength    int
	RequireVerifiedLogin bool
	VerificationTTL      time.Duration
	ResetTTL             time.Duration
	// BcryptCost defaults to bcrypt.DefaultCost.
	BcryptCost int
}

type RegisterInput struct {
	Email    string
	Password string
	Username string
}

type RegisterResult struct {
	User *model.User
	// VerificationToken is the raw token that was mailed to the user.
	VerificationToken string
}

type LoginResult struct {
	User   *model.User
	Tokens *model.TokenPair
}

type AuthService struct {
	userRepository         repository.UserRepository
	refreshTokenRepository repository.RefreshTokenRepository
	transactor             repository.Transactor
	sessions               *SessionManager
	codec                  *token.Codec
	emailService           *EmailService
	metrics                metrics.Recorder
	cfg                    AuthConfig
	now                    func() time.Time

	dummyOnce sync.Once
	dummyHash []byte
}

func NewAuthService(
	userRepository repository.UserRepository,
	refreshTokenRepository repository.RefreshTokenRepository,
	transactor repository.Transactor,
	sessions *SessionManager,
	codec *token.Codec,
	emailService *EmailService,
	recorder metrics.Recorder,
	cfg AuthConfig,
	now func() time.Time,
) *AuthService {
	if recorder == nil {
		recorder = metrics.Noop{}
	}
	if now == nil {
		now = time.Now
	}
	return &AuthService{
		userRepository:         userRepository,
		refreshTokenRepository: refreshTokenRepository,
		transactor:             transactor,
		sessions:               sessions,
		codec:                  codec,
		emailService:           emailService,
		metrics:                recorder,
		cfg:                    cfg,
		now:                    now,
	}
}

// Register creates a pending_verification buyer and mails a verification link.
// No session is issued.
func (s *AuthService) Register(ctx context.Context, in RegisterInput) (*RegisterResult, error) {
	email := validation.NormalizeEmail(in.Email)
	if err := validation.ValidateEmail(email); err != nil {
		return nil, invalid(err)
	}
	if err := validation.ValidatePassword(in.Password, s.cfg.PasswordMinLength); err != nil {
		return nil, invalid(err)
	}

	_, err := s.userRepository.ByEmail(ctx, email)
	if err == nil {
		return nil, ErrDuplicateEmail
	}
	if !errors.Is(err, repository.ErrUserNotFound) {
		return nil, fmt.Errorf("failed to check email: %w", err)
	}

	username, err := s.resolveUsername(ctx, email, in.Username)
	if err != nil {
		return nil, err
	}

	passwordHash, err := s.hashPassword(in.Password)
	if err != nil {
		return nil, err
	}

	verificationToken, err := token.Random()
	if err != nil {
		return nil, fmt.Errorf("failed to generate verification token: %w", err)
	}
	verificationHash := token.Hash(verificationToken)

	now := s.now().UTC()
	user := &model.User{
		ID:                    uuid.New().String(),
		Email:                 email,
		Username:              username,
		PasswordHash:          passwordHash,
		Role:                  model.RoleBuyer,
		Status:                model.StatusPendingVerification,
		VerificationTokenHash: &verificationHash,
		VerificationSentAt:    &now,
		CreatedAt:             now,
		UpdatedAt:             now,
	}

	err = s.userRepository.Create(ctx, user)
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateEmail):
			return nil, ErrDuplicateEmail
		case errors.Is(err, repository.ErrDuplicateUsername):
			return nil, ErrDuplicateUsername
		}
		return nil, fmt.Errorf("failed to create user: %w", err)
	}

	s.metrics.RecordRegistration()
	slog.InfoContext(ctx, "user registered", "user_id", user.ID)

	err = s.emailService.SendVerificationEmail(ctx, user.Email, verificationToken, user.Username, s.cfg.VerificationTTL)
	if err != nil {
		// The user can request another link.
		slog.WarnContext(ctx, "failed to send verification email", "error", err, "user_id", user.ID)
	}

	return &RegisterResult{User: user, VerificationToken: verificationToken}, nil
}

// resolveUsername validates a requested username, or derives one from the
// email when none was given.
func (s *AuthService) resolveUsername(ctx context.Context, email, requested string) (string, error) {
	if strings.TrimSpace(requested) != "" {
		username := validation.NormalizeUsername(requested)
		if err := validation.ValidateUsername(username); err != nil {
			return "", invalid(err)
		}
		taken, err := s.usernameTaken(ctx, username)
		if err != nil {
			return "", err
		}
		if taken {
			return "", ErrDuplicateUsername
		}
		return username, nil
	}

	base := validation.UsernameFromEmail(email)
	candidate := base
	for range 5 {
		taken, err := s.usernameTaken(ctx, candidate)
		if err != nil {
			return "", err
		}
		if !taken {
			return candidate, nil
		}
		suffix, err := token.Random()
		if err != nil {
			return "", err
		}
		candidate = base + "-" + suffix[:4]
	}
	return "", ErrDuplicateUsername
}

func (s *AuthService) usernameTaken(ctx context.Context, username string) (bool, error) {
	_, err := s.userRepository.ByUsername(ctx, username)
	if errors.Is(err, repository.ErrUserNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("failed to check username: %w", err)
	}
	return true, nil
}

// Login authenticates by email (identifier contains "@") or username. Unknown
// identifiers and wrong passwords fail identically.
func (s *AuthService) Login(ctx context.Context, identifier, password string) (*LoginResult, error) {
	identifier = strings.TrimSpace(identifier)
	if identifier == "" || password == "" {
		return nil, invalid(errors.New("identifier and password are required"))
	}

	var user *model.User
	var err error
	if strings.Contains(identifier, "@") {
		user, err = s.userRepository.ByEmail(ctx, validation.NormalizeEmail(identifier))
	} else {
		user, err = s.userRepository.ByUsername(ctx, validation.NormalizeUsername(identifier))
	}
	if errors.Is(err, repository.ErrUserNotFound) {
		// Keep response time in line with the wrong-password path.
		_ = bcrypt.CompareHashAndPassword(s.dummyPasswordHash(), []byte(password))
		s.metrics.RecordLogin(metrics.ResultFailure)
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}

	if err := s.ComparePassword(password, user.PasswordHash); err != nil {
		s.metrics.RecordLogin(metrics.ResultFailure)
		return nil, ErrInvalidCredentials
	}

	if user.IsSuspended() {
		s.metrics.RecordLogin(metrics.ResultFailure)
		return nil, ErrAccountSuspended
	}
	if user.IsPendingVerification() && s.cfg.RequireVerifiedLogin {
		s.metrics.RecordLogin(metrics.ResultFailure)
		return nil, ErrEmailNotVerified
	}

	now := s.now().UTC()
	if err := s.userRepository.TouchLastLogin(ctx, user.ID, now); err != nil {
		slog.WarnContext(ctx, "failed to record last login", "error", err, "user_id", user.ID)
	} else {
		user.LastLoginAt = &now
	}

	pair, err := s.issueTokenPair(ctx, user)
	if err != nil {
		return nil, err
	}

	s.metrics.RecordLogin(metrics.ResultSuccess)
	slog.InfoContext(ctx, "user logged in", "user_id", user.ID)
	return &LoginResult{User: user, Tokens: pair}, nil
}

func (s *AuthService) issueTokenPair(ctx context.Context, user *model.User) (*model.TokenPair, error) {
	refresh, refreshExpiresAt, err := s.sessions.Issue(ctx, user.ID)
	if err != nil {
		return nil, err
	}

	access, accessExpiresAt, err := s.IssueAccessToken(user)
	if err != nil {
		return nil, err
	}

	return &model.TokenPair{
		AccessToken:      access,
		AccessExpiresAt:  accessExpiresAt,
		RefreshToken:     refresh,
		RefreshExpiresAt: refreshExpiresAt,
	}, nil
}

// IssueAccessToken signs an access token reflecting the user's current role and status.
func (s *AuthService) IssueAccessToken(user *model.User) (string, time.Time, error) {
	return s.codec.SignAccess(identityOf(user))
}

// Refresh rotates a refresh token. Reuse of a rotated token revokes every
// session of its owner.
func (s *AuthService) Refresh(ctx context.Context, rawRefresh string) (*model.TokenPair, error) {
	if rawRefresh == "" {
		return nil, ErrSessionExpired
	}

	pair, err := s.sessions.Rotate(ctx, rawRefresh)
	if err == nil {
		s.metrics.RecordRefresh(metrics.ResultSuccess)
		return pair, nil
	}

	s.metrics.RecordRefresh(metrics.ResultFailure)

	var replay *ReplayError
	if errors.As(err, &replay) {
		s.metrics.RecordRefreshReplay()
		revoked, revokeErr := s.sessions.Revoke(ctx, replay.UserID)
		if revokeErr != nil {
			slog.ErrorContext(ctx, "failed to revoke sessions after refresh token reuse", "error", revokeErr, "user_id", replay.UserID)
		} else {
			slog.WarnContext(ctx, "refresh token reuse detected, all sessions revoked", "user_id", replay.UserID, "revoked", revoked)
		}
	}

	switch {
	case errors.Is(err, ErrAccountSuspended):
		return nil, err
	case errors.Is(err, ErrSessionNotFound):
		return nil, fmt.Errorf("%w: %w", ErrSessionExpired, err)
	}
	return nil, err
}

// VerifyEmail activates the pending user holding the verification token.
func (s *AuthService) VerifyEmail(ctx context.Context, rawToken string) (*model.User, error) {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return nil, ErrInvalidVerificationToken
	}
	hash := token.Hash(rawToken)

	user, err := s.userRepository.ByVerificationTokenHash(ctx, hash)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrInvalidVerificationToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to look up verification token: %w", err)
	}

	now := s.now().UTC()
	if !user.IsPendingVerification() || user.VerificationExpired(now, s.cfg.VerificationTTL) {
		return nil, ErrInvalidVerificationToken
	}

	err = s.userRepository.MarkVerified(ctx, user.ID, hash, now)
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil, ErrInvalidVerificationToken
	}
	if err != nil {
		return nil, fmt.Errorf("failed to verify email: %w", err)
	}

	user.Status = model.StatusActive
	user.VerificationTokenHash = nil
	user.VerificationSentAt = nil
	user.EmailVerifiedAt = &now
	user.UpdatedAt = now

	slog.InfoContext(ctx, "email verified", "user_id", user.ID)
	return user, nil
}

// ResendVerification replaces the verification token of a pending user and
// mails it. Unknown and already verified addresses yield an empty token and no error.
func (s *AuthService) ResendVerification(ctx context.Context, email string) (string, error) {
	email = validation.NormalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return "", invalid(err)
	}

	user, err := s.userRepository.ByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	if !user.IsPendingVerification() {
		return "", nil
	}

	verificationToken, err := token.Random()
	if err != nil {
		return "", fmt.Errorf("failed to generate verification token: %w", err)
	}

	err = s.userRepository.SetVerificationToken(ctx, user.ID, token.Hash(verificationToken), s.now().UTC())
	if errors.Is(err, repository.ErrConditionFailed) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to store verification token: %w", err)
	}

	err = s.emailService.SendVerificationEmail(ctx, user.Email, verificationToken, user.Username, s.cfg.VerificationTTL)
	if err != nil {
		slog.WarnContext(ctx, "failed to send verification email", "error", err, "user_id", user.ID)
	}

	return verificationToken, nil
}

// ForgotPassword stores a reset token for a known user and mails it. The
// outcome looks the same to callers whether or not the address exists.
func (s *AuthService) ForgotPassword(ctx context.Context, email string) (string, error) {
	email = validation.NormalizeEmail(email)
	if err := validation.ValidateEmail(email); err != nil {
		return "", invalid(err)
	}

	user, err := s.userRepository.ByEmail(ctx, email)
	if errors.Is(err, repository.ErrUserNotFound) {
		slog.DebugContext(ctx, "password reset requested for unknown email")
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to get user: %w", err)
	}
	if user.IsSuspended() {
		return "", nil
	}

	resetToken, err := token.Random()
	if err != nil {
		return "", fmt.Errorf("failed to generate reset token: %w", err)
	}

	now := s.now().UTC()
	err = s.userRepository.SetResetToken(ctx, user.ID, token.Hash(resetToken), now.Add(s.cfg.ResetTTL), now)
	if err != nil {
		return "", fmt.Errorf("failed to store reset token: %w", err)
	}

	err = s.emailService.SendPasswordResetEmail(ctx, user.Email, resetToken, user.Username, s.cfg.ResetTTL)
	if err != nil {
		slog.WarnContext(ctx, "failed to send password reset email", "error", err, "user_id", user.ID)
	}

	return resetToken, nil
}

// ResetPassword sets a new password, clears the reset token and revokes all
// sessions of the user in one transaction.
func (s *AuthService) ResetPassword(ctx context.Context, rawToken, newPassword string) error {
	rawToken = strings.TrimSpace(rawToken)
	if rawToken == "" {
		return ErrInvalidOrExpiredResetToken
	}
	hash := token.Hash(rawToken)

	user, err := s.userRepository.ByResetTokenHash(ctx, hash)
	if errors.Is(err, repository.ErrUserNotFound) {
		return ErrInvalidOrExpiredResetToken
	}
	if err != nil {
		return fmt.Errorf("failed to look up reset token: %w", err)
	}

	now := s.now().UTC()
	if user.ResetTokenExpired(now) {
		return ErrInvalidOrExpiredResetToken
	}

	if err := validation.ValidatePassword(newPassword, s.cfg.PasswordMinLength); err != nil {
		return invalid(err)
	}

	passwordHash, err := s.hashPassword(newPassword)
	if err != nil {
		return err
	}

	var revoked int64
	err = s.transactor.WithinTx(ctx, func(tx *sqlx.Tx) error {
		err := s.userRepository.WithTx(tx).ConsumeResetToken(ctx, user.ID, hash, passwordHash, now)
		if errors.Is(err, repository.ErrConditionFailed) {
			return ErrInvalidOrExpiredResetToken
		}
		if err != nil {
			return fmt.Errorf("failed to update password: %w", err)
		}

		revoked, err = s.refreshTokenRepository.WithTx(tx).DeleteByUserID(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return err
	}

	s.metrics.RecordPasswordReset()
	slog.InfoContext(ctx, "password reset", "user_id", user.ID, "revoked_sessions", revoked)

	err = s.emailService.SendPasswordChangedEmail(ctx, user.Email, user.Username)
	if err != nil {
		slog.WarnContext(ctx, "failed to send password changed email", "error", err, "user_id", user.ID)
	}

	return nil
}

// Logout revokes the presented refresh token, or every session of the user
// when all is set. A token that is missing or already gone is not an error.
func (s *AuthService) Logout(ctx context.Context, userID, rawRefresh string, all bool) error {
	if all {
		revoked, err := s.sessions.Revoke(ctx, userID)
		if err != nil {
			return err
		}
		slog.InfoContext(ctx, "user logged out everywhere", "user_id", userID, "revoked", revoked)
		return nil
	}

	if rawRefresh == "" {
		return nil
	}

	err := s.sessions.RevokeOne(ctx, userID, rawRefresh)
	if errors.Is(err, ErrSessionNotFound) {
		slog.DebugContext(ctx, "logout with unknown refresh token", "user_id", userID)
		return nil
	}
	return err
}

func (s *AuthService) hashPassword(password string) (string, error) {
	cost := s.cfg.BcryptCost
	if cost == 0 {
		cost = bcrypt.DefaultCost
	}
	hashedBytes, err := bcrypt.GenerateFromPassword([]byte(password), cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hashedBytes), nil
}

func (s *AuthService) ComparePassword(password, hash string) error {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password))
}

func (s *AuthService) dummyPasswordHash() []byte {
	s.dummyOnce.Do(func() {
		hash, err := s.hashPassword(uuid.New().String())
		if err == nil {
			s.dummyHash = []byte(hash)
		}
	})
	return s.dummyHash
}
