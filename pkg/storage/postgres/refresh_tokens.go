package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/storage"
)

type refreshTokenRepository struct {
	q        storage.DBTX
	isUnique func(error) bool
}

// Create inserts token. A duplicate code is reported as
// storage.ErrAlreadyExists without aborting the surrounding transaction, so
// the caller can retry with a new code.
func (r *refreshTokenRepository) Create(ctx context.Context, token *auth.RefreshToken) error {
	query := `
		INSERT INTO refresh_tokens (token, user_id, expired, created_at, expiry_date)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (token) DO NOTHING
		RETURNING id
	`
	err := r.q.QueryRowContext(ctx, query,
		token.Token, token.UserID, token.Expired,
		token.CreatedAt.UTC(), token.ExpiresAt.UTC(),
	).Scan(&token.ID)
	if errors.Is(err, sql.ErrNoRows) {
		return storage.ErrAlreadyExists
	}
	if err != nil {
		if r.isUnique(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert refresh token: %w", err)
	}
	return nil
}

func (r *refreshTokenRepository) GetByToken(ctx context.Context, token string) (*auth.RefreshToken, error) {
	query := `
		SELECT id, token, user_id, expired, created_at, expiry_date
		FROM refresh_tokens
		WHERE token = $1
	`
	var t auth.RefreshToken
	err := r.q.QueryRowContext(ctx, query, token).Scan(
		&t.ID,
		&t.Token,
		&t.UserID,
		&t.Expired,
		&t.CreatedAt,
		&t.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query refresh token: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}

func (r *refreshTokenRepository) DeleteByUser(ctx context.Context, userID int64) (int64, error) {
	n, err := rowsAffected(r.q.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE user_id = $1`, userID))
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh tokens: %w", err)
	}
	return n, nil
}

func (r *refreshTokenRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := rowsAffected(r.q.ExecContext(ctx, `
		UPDATE refresh_tokens SET expired = TRUE
		WHERE expired = FALSE AND expiry_date <= $1
	`, now.UTC()))
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired refresh tokens: %w", err)
	}
	return n, nil
}

func (r *refreshTokenRepository) DeleteExpired(ctx context.Context) (int64, error) {
	n, err := rowsAffected(r.q.ExecContext(ctx,
		`DELETE FROM refresh_tokens WHERE expired = TRUE`))
	if err != nil {
		return 0, fmt.Errorf("failed to delete refresh tokens: %w", err)
	}
	return n, nil
}
