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

type accessTokenRepository struct {
	q        storage.DBTX
	isUnique func(error) bool
}

func (r *accessTokenRepository) Create(ctx context.Context, token *auth.AccessToken) error {
	query := `
		INSERT INTO access_tokens (token, user_id, expired, revoked, ip_address, user_agent, created_at, expiry_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING id
	`
	err := r.q.QueryRowContext(ctx, query,
		token.Token, token.UserID, token.Expired, token.Revoked,
		token.IPAddress, token.UserAgent,
		token.CreatedAt.UTC(), token.ExpiresAt.UTC(),
	).Scan(&token.ID)
	if err != nil {
		if r.isUnique(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert access token: %w", err)
	}
	return nil
}

func (r *accessTokenRepository) GetByToken(ctx context.Context, token string) (*auth.AccessToken, error) {
	query := `
		SELECT id, token, user_id, expired, revoked, ip_address, user_agent, created_at, expiry_date
		FROM access_tokens
		WHERE token = $1
	`
	var t auth.AccessToken
	err := r.q.QueryRowContext(ctx, query, token).Scan(
		&t.ID,
		&t.Token,
		&t.UserID,
		&t.Expired,
		&t.Revoked,
		&t.IPAddress,
		&t.UserAgent,
		&t.CreatedAt,
		&t.ExpiresAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query access token: %w", err)
	}
	t.CreatedAt = t.CreatedAt.UTC()
	t.ExpiresAt = t.ExpiresAt.UTC()
	return &t, nil
}

func (r *accessTokenRepository) RevokeAllForUser(ctx context.Context, userID int64) (int64, error) {
	n, err := rowsAffected(r.q.ExecContext(ctx, `
		UPDATE access_tokens SET expired = TRUE, revoked = TRUE
		WHERE user_id = $1 AND (expired = FALSE OR revoked = FALSE)
	`, userID))
	if err != nil {
		return 0, fmt.Errorf("failed to revoke access tokens: %w", err)
	}
	return n, nil
}

func (r *accessTokenRepository) MarkExpired(ctx context.Context, now time.Time) (int64, error) {
	n, err := rowsAffected(r.q.ExecContext(ctx, `
		UPDATE access_tokens SET expired = TRUE
		WHERE expired = FALSE AND expiry_date <= $1
	`, now.UTC()))
	if err != nil {
		return 0, fmt.Errorf("failed to mark expired access tokens: %w", err)
	}
	return n, nil
}

func (r *accessTokenRepository) DeleteExpiredOrRevoked(ctx context.Context) (int64, error) {
	n, err := rowsAffected(r.q.ExecContext(ctx,
		`DELETE FROM access_tokens WHERE expired = TRUE OR revoked = TRUE`))
	if err != nil {
		return 0, fmt.Errorf("failed to delete access tokens: %w", err)
	}
	return n, nil
}
