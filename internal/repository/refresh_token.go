package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/templui/storeauth/internal/model"
)

var (
	ErrRefreshTokenNotFound = errors.New("refresh token not found")
)

type RefreshTokenRepository interface {
	Create(ctx context.Context, token *model.RefreshToken) error
	Consume(ctx context.Context, tokenHash string) (*model.RefreshToken, error)
	DeleteOne(ctx context.Context, userID, tokenHash string) (int64, error)
	DeleteByUserID(ctx context.Context, userID string) (int64, error)
	DeleteExpired(ctx context.Context, now time.Time) (int64, error)
	CountActive(ctx context.Context, userID string, now time.Time) (int, error)
	WithTx(tx *sqlx.Tx) RefreshTokenRepository
}

type refreshTokenRepository struct {
	db DBTX
}

func NewRefreshTokenRepository(db *sqlx.DB) RefreshTokenRepository {
	return &refreshTokenRepository{db: db}
}

func (r *refreshTokenRepository) WithTx(tx *sqlx.Tx) RefreshTokenRepository {
	return &refreshTokenRepository{db: tx}
}

func (r *refreshTokenRepository) Create(ctx context.Context, token *model.RefreshToken) error {
	if token.ID == "" {
		token.ID = uuid.New().String()
	}
	if token.CreatedAt.IsZero() {
		token.CreatedAt = time.Now().UTC()
	}

	query := `
		INSERT INTO refresh_tokens (id, user_id, token_hash, expires_at, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.db.ExecContext(ctx, query,
		token.ID,
		token.UserID,
		token.TokenHash,
		token.ExpiresAt.UTC(),
		token.CreatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

// Consume deletes the record with the given hash and returns it.
// Of two concurrent calls with the same hash only the one whose DELETE removes
// the row gets the record, the other gets ErrRefreshTokenNotFound.
// Expiry is left to the caller.
func (r *refreshTokenRepository) Consume(ctx context.Context, tokenHash string) (*model.RefreshToken, error) {
	var t model.RefreshToken

	query := `SELECT id, user_id, token_hash, expires_at, created_at FROM refresh_tokens WHERE token_hash = $1`
	err := sqlx.GetContext(ctx, r.db, &t, query, tokenHash)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrRefreshTokenNotFound
	}
	if err != nil {
		return nil, err
	}

	deleted, err := r.exec(ctx, `DELETE FROM refresh_tokens WHERE id = $1`, t.ID)
	if err != nil {
		return nil, err
	}
	if deleted == 0 {
		return nil, ErrRefreshTokenNotFound
	}

	return &t, nil
}

func (r *refreshTokenRepository) DeleteOne(ctx context.Context, userID, tokenHash string) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1 AND token_hash = $2`
	return r.exec(ctx, query, userID, tokenHash)
}

func (r *refreshTokenRepository) DeleteByUserID(ctx context.Context, userID string) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE user_id = $1`
	return r.exec(ctx, query, userID)
}

// DeleteExpired removes sessions that can no longer be rotated.
func (r *refreshTokenRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM refresh_tokens WHERE expires_at <= $1`
	return r.exec(ctx, query, now.UTC())
}

func (r *refreshTokenRepository) CountActive(ctx context.Context, userID string, now time.Time) (int, error) {
	var count int
	query := `SELECT COUNT(*) FROM refresh_tokens WHERE user_id = $1 AND expires_at > $2`

	err := sqlx.GetContext(ctx, r.db, &count, query, userID, now.UTC())
	if err != nil {
		return 0, err
	}
	return count, nil
}

func (r *refreshTokenRepository) exec(ctx context.Context, query string, args ...any) (int64, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		return 0, err
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		return 0, err
	}

	return rowsAffected, nil
}
