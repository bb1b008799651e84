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

const userColumns = `id, username, email, phone, password_hash, created_at, updated_at`

type userRepository struct {
	q        storage.DBTX
	isUnique func(error) bool
}

// Create inserts user and its roles, filling in the generated ID.
func (r *userRepository) Create(ctx context.Context, user *auth.User) error {
	query := `
		INSERT INTO users (username, email, phone, password_hash, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id
	`
	err := r.q.QueryRowContext(ctx, query,
		user.Username, user.Email, user.Phone, user.PasswordHash,
		user.CreatedAt.UTC(), user.UpdatedAt.UTC(),
	).Scan(&user.ID)
	if err != nil {
		if r.isUnique(err) {
			return storage.ErrAlreadyExists
		}
		return fmt.Errorf("failed to insert user: %w", err)
	}

	for i, role := range user.Roles {
		_, err := r.q.ExecContext(ctx,
			`INSERT INTO user_roles (user_id, role, position) VALUES ($1, $2, $3)`,
			user.ID, string(role), i,
		)
		if err != nil {
			return fmt.Errorf("failed to insert role %s: %w", role, err)
		}
	}
	return nil
}

func (r *userRepository) GetByID(ctx context.Context, id int64) (*auth.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id)
}

func (r *userRepository) GetByUsername(ctx context.Context, username string) (*auth.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE username = $1`, username)
}

func (r *userRepository) GetByEmail(ctx context.Context, email string) (*auth.User, error) {
	return r.getOne(ctx, `SELECT `+userColumns+` FROM users WHERE email = $1`, email)
}

// GetByIdentifier prefers the username match when both columns match
// different users.
func (r *userRepository) GetByIdentifier(ctx context.Context, identifier string) (*auth.User, error) {
	query := `SELECT ` + userColumns + ` FROM users
		WHERE username = $1 OR email = $2
		ORDER BY CASE WHEN username = $3 THEN 0 ELSE 1 END
		LIMIT 1`
	return r.getOne(ctx, query, identifier, identifier, identifier)
}

// UpdatePassword replaces the stored hash of userID.
func (r *userRepository) UpdatePassword(ctx context.Context, userID int64, passwordHash string, updatedAt time.Time) error {
	n, err := rowsAffected(r.q.ExecContext(ctx,
		`UPDATE users SET password_hash = $1, updated_at = $2 WHERE id = $3`,
		passwordHash, updatedAt.UTC(), userID,
	))
	if err != nil {
		return fmt.Errorf("failed to update password: %w", err)
	}
	if n == 0 {
		return storage.ErrNotFound
	}
	return nil
}

func (r *userRepository) getOne(ctx context.Context, query string, args ...any) (*auth.User, error) {
	var user auth.User
	err := r.q.QueryRowContext(ctx, query, args...).Scan(
		&user.ID,
		&user.Username,
		&user.Email,
		&user.Phone,
		&user.PasswordHash,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to query user: %w", err)
	}
	user.CreatedAt = user.CreatedAt.UTC()
	user.UpdatedAt = user.UpdatedAt.UTC()

	roles, err := r.roles(ctx, user.ID)
	if err != nil {
		return nil, err
	}
	user.Roles = roles
	return &user, nil
}

func (r *userRepository) roles(ctx context.Context, userID int64) ([]auth.Role, error) {
	rows, err := r.q.QueryContext(ctx,
		`SELECT role FROM user_roles WHERE user_id = $1 ORDER BY position`, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []auth.Role
	for rows.Next() {
		var role string
		if err := rows.Scan(&role); err != nil {
			return nil, fmt.Errorf("failed to scan role: %w", err)
		}
		roles = append(roles, auth.Role(role))
	}
	return roles, rows.Err()
}
