package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/storeauth/internal/model"
	"github.com/templui/storeauth/internal/repository"
)

type ProfileResult struct {
	User           *model.User
	ActiveSessions int
}

// UserService covers account reads and role/status changes.
type UserService struct {
	userRepository         repository.UserRepository
	refreshTokenRepository repository.RefreshTokenRepository
	transactor             repository.Transactor
	sessions               *SessionManager
	emailService           *EmailService
	now                    func() time.Time
}

func NewUserService(
	userRepository repository.UserRepository,
	refreshTokenRepository repository.RefreshTokenRepository,
	transactor repository.Transactor,
	sessions *SessionManager,
	emailService *EmailService,
	now func() time.Time,
) *UserService {
	if now == nil {
		now = time.Now
	}
	return &UserService{
		userRepository:         userRepository,
		refreshTokenRepository: refreshTokenRepository,
		transactor:             transactor,
		sessions:               sessions,
		emailService:           emailService,
		now:                    now,
	}
}

func (s *UserService) ByID(ctx context.Context, id string) (*model.User, error) {
	user, err := s.userRepository.ByID(ctx, id)
	if errors.Is(err, repository.ErrUserNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get user: %w", err)
	}
	return user, nil
}

// Profile returns the user behind an access token. The user may have been
// deleted since the token was issued.
func (s *UserService) Profile(ctx context.Context, userID string) (*ProfileResult, error) {
	user, err := s.ByID(ctx, userID)
	if err != nil {
		return nil, err
	}

	active, err := s.sessions.ActiveSessions(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to count sessions: %w", err)
	}

	return &ProfileResult{User: user, ActiveSessions: active}, nil
}

// SwitchRole moves a user between buyer and seller. Admin is never a source
// or target of self-service switching.
func (s *UserService) SwitchRole(ctx context.Context, userID string, newRole model.Role) (*model.User, error) {
	if !newRole.Valid() || newRole == model.RoleAdmin {
		return nil, ErrInvalidRoleTransition
	}

	user, err := s.ByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if user.Role == model.RoleAdmin {
		return nil, ErrInvalidRoleTransition
	}
	if user.IsSuspended() {
		return nil, ErrAccountSuspended
	}
	if user.Role == newRole {
		return user, nil
	}

	now := s.now().UTC()
	err = s.userRepository.UpdateRole(ctx, user.ID, newRole, now)
	if errors.Is(err, repository.ErrConditionFailed) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update role: %w", err)
	}

	slog.InfoContext(ctx, "role switched", "user_id", user.ID, "from", user.Role, "to", newRole)
	user.Role = newRole
	user.UpdatedAt = now
	return user, nil
}

// SuspendUser suspends an active user and revokes all of their sessions.
// Access tokens already issued stay valid until they expire.
func (s *UserService) SuspendUser(ctx context.Context, actorID, userID string) (*model.User, error) {
	actor, err := s.ByID(ctx, actorID)
	if err != nil {
		return nil, err
	}
	if actor.Role != model.RoleAdmin || !actor.IsActive() {
		return nil, ErrForbidden
	}
	if actorID == userID {
		return nil, ErrInvalidStatusTransition
	}

	user, err := s.ByID(ctx, userID)
	if err != nil {
		return nil, err
	}
	if !user.IsActive() {
		return nil, ErrInvalidStatusTransition
	}

	now := s.now().UTC()
	var revoked int64
	err = s.transactor.WithinTx(ctx, func(tx *sqlx.Tx) error {
		err := s.userRepository.WithTx(tx).UpdateStatus(ctx, user.ID, model.StatusActive, model.StatusSuspended, now)
		if errors.Is(err, repository.ErrConditionFailed) {
			return ErrInvalidStatusTransition
		}
		if err != nil {
			return fmt.Errorf("failed to suspend user: %w", err)
		}

		revoked, err = s.refreshTokenRepository.WithTx(tx).DeleteByUserID(ctx, user.ID)
		if err != nil {
			return fmt.Errorf("failed to revoke sessions: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	user.Status = model.StatusSuspended
	user.UpdatedAt = now
	slog.InfoContext(ctx, "user suspended", "user_id", user.ID, "actor_id", actorID, "revoked_sessions", revoked)

	err = s.emailService.SendAccountSuspendedEmail(ctx, user.Email, user.Username)
	if err != nil {
		slog.WarnContext(ctx, "failed to send suspension email", "error", err, "user_id", user.ID)
	}

	return user, nil
}
