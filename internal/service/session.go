package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/storeauth/internal/model"
	"github.com/templui/storeauth/internal/repository"
	"github.com/templui/storeauth/internal/token"
)

var ErrSessionNotFound = errors.New("session not found")

// ReplayError is returned by Rotate when a well-formed, correctly signed
// refresh token has no stored record. The token was already rotated or
// revoked, so whoever presents it may hold a stolen copy.
type ReplayError struct {
	UserID string
}

func (e *ReplayError) Error() string {
	return fmt.Sprintf("refresh token reuse detected for user %s", e.UserID)
}

func (e *ReplayError) Unwrap() error {
	return ErrSessionNotFound
}

type SessionManager struct {
	userRepository         repository.UserRepository
	refreshTokenRepository repository.RefreshTokenRepository
	transactor             repository.Transactor
	codec                  *token.Codec
	now                    func() time.Time
}

func NewSessionManager(
	userRepository repository.UserRepository,
	refreshTokenRepository repository.RefreshTokenRepository,
	transactor repository.Transactor,
	codec *token.Codec,
	now func() time.Time,
) *SessionManager {
	if now == nil {
		now = time.Now
	}
	return &SessionManager{
		userRepository:         userRepository,
		refreshTokenRepository: refreshTokenRepository,
		transactor:             transactor,
		codec:                  codec,
		now:                    now,
	}
}

// Issue creates a new session for userID and returns the raw refresh token.
// Only its hash is stored.
func (m *SessionManager) Issue(ctx context.Context, userID string) (string, time.Time, error) {
	return m.issue(ctx, m.refreshTokenRepository, userID)
}

func (m *SessionManager) issue(ctx context.Context, repo repository.RefreshTokenRepository, userID string) (string, time.Time, error) {
	raw, expiresAt, err := m.codec.SignRefresh(userID)
	if err != nil {
		return "", time.Time{}, err
	}

	record := &model.RefreshToken{
		ID:        uuid.New().String(),
		UserID:    userID,
		TokenHash: token.Hash(raw),
		ExpiresAt: expiresAt,
		CreatedAt: m.now().UTC(),
	}
	if err := repo.Create(ctx, record); err != nil {
		return "", time.Time{}, fmt.Errorf("failed to store session: %w", err)
	}

	return raw, expiresAt, nil
}

// Rotate exchanges a refresh token for a new access/refresh pair. The old
// record is deleted and the new one inserted in the same transaction, so of
// two concurrent calls with one token at most one succeeds.
func (m *SessionManager) Rotate(ctx context.Context, raw string) (*model.TokenPair, error) {
	claims, err := m.codec.VerifyRefresh(raw)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrSessionNotFound, err)
	}

	var pair *model.TokenPair
	err = m.transactor.WithinTx(ctx, func(tx *sqlx.Tx) error {
		refreshTokens := m.refreshTokenRepository.WithTx(tx)
		users := m.userRepository.WithTx(tx)

		record, err := refreshTokens.Consume(ctx, token.Hash(raw))
		if errors.Is(err, repository.ErrRefreshTokenNotFound) {
			return &ReplayError{UserID: claims.UserID}
		}
		if err != nil {
			return fmt.Errorf("failed to consume session: %w", err)
		}

		if record.UserID != claims.UserID || record.IsExpired(m.now()) {
			return ErrSessionNotFound
		}

		user, err := users.ByID(ctx, record.UserID)
		if errors.Is(err, repository.ErrUserNotFound) {
			return ErrSessionNotFound
		}
		if err != nil {
			return fmt.Errorf("failed to load user: %w", err)
		}
		if user.IsSuspended() {
			return ErrAccountSuspended
		}

		newRefresh, refreshExpiresAt, err := m.issue(ctx, refreshTokens, user.ID)
		if err != nil {
			return err
		}

		access, accessExpiresAt, err := m.codec.SignAccess(identityOf(user))
		if err != nil {
			return err
		}

		pair = &model.TokenPair{
			AccessToken:      access,
			AccessExpiresAt:  accessExpiresAt,
			RefreshToken:     newRefresh,
			RefreshExpiresAt: refreshExpiresAt,
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	return pair, nil
}

// Revoke deletes every session of userID.
func (m *SessionManager) Revoke(ctx context.Context, userID string) (int64, error) {
	n, err := m.refreshTokenRepository.DeleteByUserID(ctx, userID)
	if err != nil {
		return 0, fmt.Errorf("failed to revoke sessions: %w", err)
	}
	return n, nil
}

// RevokeOne deletes the session for raw if it belongs to userID.
func (m *SessionManager) RevokeOne(ctx context.Context, userID, raw string) error {
	n, err := m.refreshTokenRepository.DeleteOne(ctx, userID, token.Hash(raw))
	if err != nil {
		return fmt.Errorf("failed to revoke session: %w", err)
	}
	if n == 0 {
		return ErrSessionNotFound
	}
	return nil
}

func (m *SessionManager) ActiveSessions(ctx context.Context, userID string) (int, error) {
	return m.refreshTokenRepository.CountActive(ctx, userID, m.now().UTC())
}

// PurgeExpired deletes sessions past their expiry.
func (m *SessionManager) PurgeExpired(ctx context.Context) (int64, error) {
	n, err := m.refreshTokenRepository.DeleteExpired(ctx, m.now().UTC())
	if err != nil {
		return 0, fmt.Errorf("failed to purge expired sessions: %w", err)
	}
	if n > 0 {
		slog.InfoContext(ctx, "purged expired sessions", "count", n)
	}
	return n, nil
}

func identityOf(user *model.User) token.Identity {
	return token.Identity{
		UserID:   user.ID,
		Email:    user.Email,
		Username: user.Username,
		Role:     string(user.Role),
		Status:   string(user.Status),
	}
}
