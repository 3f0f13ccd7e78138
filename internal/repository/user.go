package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	"github.com/templui/storeauth/internal/model"
)

var (
	ErrUserNotFound      = errors.New("user not found")
	ErrDuplicateEmail    = errors.New("email already exists")
	ErrDuplicateUsername = errors.New("username already exists")
	// ErrConditionFailed is returned by conditional updates that matched no row.
	ErrConditionFailed = errors.New("row changed concurrently or condition not met")
)

const userColumns = `id, email, username, password_hash, role, status,
	verification_token_hash, verification_sent_at, email_verified_at,
	reset_token_hash, reset_token_expires_at, last_login_at, created_at, updated_at`

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	ByID(ctx context.Context, id string) (*model.User, error)
	ByEmail(ctx context.Context, email string) (*model.User, error)
	ByUsername(ctx context.Context, username string) (*model.User, error)
	ByVerificationTokenHash(ctx context.Context, hash string) (*model.User, error)
	ByResetTokenHash(ctx context.Context, hash string) (*model.User, error)
	SetVerificationToken(ctx context.Context, id, hash string, sentAt time.Time) error
	MarkVerified(ctx context.Context, id, hash string, at time.Time) error
	SetResetToken(ctx context.Context, id, hash string, expiresAt, at time.Time) error
	ConsumeResetToken(ctx context.Context, id, hash, passwordHash string, at time.Time) error
	UpdateRole(ctx context.Context, id string, role model.Role, at time.Time) error
	UpdateStatus(ctx context.Context, id string, from, to model.Status, at time.Time) error
	TouchLastLogin(ctx context.Context, id string, at time.Time) error
	WithTx(tx *sqlx.Tx) UserRepository
}

type userRepository struct {
	db DBTX
}

func NewUserRepository(db *sqlx.DB) UserRepository {
	return &userRepository{db: db}
}

func (r *userRepository) WithTx(tx *sqlx.Tx) UserRepository {
	return &userRepository{db: tx}
}

func (r *userRepository) Create(ctx context.Context, user *model.User) error {
	query := `
		INSERT INTO users (id, email, username, password_hash, role, status,
			verification_token_hash, verification_sent_at, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.db.ExecContext(ctx, query,
		user.ID,
		user.Email,
		user.Username,
		user.PasswordHash,
		string(user.Role),
		string(user.Status),
		user.VerificationTokenHash,
		user.VerificationSentAt,
		user.CreatedAt,
		user.UpdatedAt,
	)
	if err != nil {
		// Works for both SQLite and PostgreSQL
		if constraint, ok := uniqueViolation(err); ok {
			switch {
			case strings.Contains(constraint, "username"):
				return ErrDuplicateUsername
			case strings.Contains(constraint, "email"):
				return ErrDuplicateEmail
			}
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	return nil
}

func (r *userRepository) ByID(ctx context.Context, id string) (*model.User, error) {
	return r.getBy(ctx, "id", id)
}

func (r *userRepository) ByEmail(ctx context.Context, email string) (*model.User, error) {
	return r.getBy(ctx, "email", email)
}

func (r *userRepository) ByUsername(ctx context.Context, username string) (*model.User, error) {
	return r.getBy(ctx, "username", username)
}

func (r *userRepository) ByVerificationTokenHash(ctx context.Context, hash string) (*model.User, error) {
	return r.getBy(ctx, "verification_token_hash", hash)
}

func (r *userRepository) ByResetTokenHash(ctx context.Context, hash string) (*model.User, error) {
	return r.getBy(ctx, "reset_token_hash", hash)
}

// getBy loads a single user by a unique column. column is never user input.
func (r *userRepository) getBy(ctx context.Context, column, value string) (*model.User, error) {
	user := &model.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + column + ` = $1`

	err := sqlx.GetContext(ctx, r.db, user, query, value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}

	return user, nil
}

func (r *userRepository) SetVerificationToken(ctx context.Context, id, hash string, sentAt time.Time) error {
	query := `
		UPDATE users
		SET verification_token_hash = $1, verification_sent_at = $2, updated_at = $2
		WHERE id = $3 AND status = $4
	`
	return r.execOne(ctx, query, hash, sentAt, id, string(model.StatusPendingVerification))
}

// MarkVerified atomically activates a pending user whose verification token still matches.
// Only the first of two concurrent calls succeeds, the other gets ErrConditionFailed.
func (r *userRepository) MarkVerified(ctx context.Context, id, hash string, at time.Time) error {
	query := `
		UPDATE users
		SET status = $1, verification_token_hash = NULL, verification_sent_at = NULL,
			email_verified_at = $2, updated_at = $2
		WHERE id = $3 AND verification_token_hash = $4 AND status = $5
	`
	return r.execOne(ctx, query,
		string(model.StatusActive), at, id, hash, string(model.StatusPendingVerification))
}

func (r *userRepository) SetResetToken(ctx context.Context, id, hash string, expiresAt, at time.Time) error {
	query := `
		UPDATE users
		SET reset_token_hash = $1, reset_token_expires_at = $2, updated_at = $3
		WHERE id = $4
	`
	return r.execOne(ctx, query, hash, expiresAt, at, id)
}

// ConsumeResetToken sets a new password hash and clears the reset token in one statement,
// provided the token still matches.
func (r *userRepository) ConsumeResetToken(ctx context.Context, id, hash, passwordHash string, at time.Time) error {
	query := `
		UPDATE users
		SET password_hash = $1, reset_token_hash = NULL, reset_token_expires_at = NULL, updated_at = $2
		WHERE id = $3 AND reset_token_hash = $4
	`
	return r.execOne(ctx, query, passwordHash, at, id, hash)
}

func (r *userRepository) UpdateRole(ctx context.Context, id string, role model.Role, at time.Time) error {
	query := `UPDATE users SET role = $1, updated_at = $2 WHERE id = $3`
	return r.execOne(ctx, query, string(role), at, id)
}

func (r *userRepository) UpdateStatus(ctx context.Context, id string, from, to model.Status, at time.Time) error {
	query := `UPDATE users SET status = $1, updated_at = $2 WHERE id = $3 AND status = $4`
	return r.execOne(ctx, query, string(to), at, id, string(from))
}

func (r *userRepository) TouchLastLogin(ctx context.Context, id string, at time.Time) error {
	query := `UPDATE users SET last_login_at = $1 WHERE id = $2`
	return r.execOne(ctx, query, at, id)
}

// execOne runs a statement expected to touch exactly one row.
func (r *userRepository) execOne(ctx context.Context, query string, args ...any) error {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}

	rows, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if rows == 0 {
		return ErrConditionFailed
	}

	return nil
}
