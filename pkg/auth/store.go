package auth

import (
	"context"
	"time"
)

// Lookups return storage.ErrNotFound when no row matches.

// UserRepository persists user credentials and roles.
type UserRepository interface {
	Create(ctx context.Context, user *User) error
	GetByID(ctx context.Context, id int64) (*User, error)
	GetByUsername(ctx context.Context, username string) (*User, error)
	GetByEmail(ctx context.Context, email string) (*User, error)
	// GetByIdentifier matches either the username or the email.
	GetByIdentifier(ctx context.Context, identifier string) (*User, error)
	UpdatePassword(ctx context.Context, userID int64, passwordHash string, updatedAt time.Time) error
}

// AccessTokenRepository persists issued access tokens. Every bulk method is a
// single conditional UPDATE or DELETE, so concurrent callers cannot lose
// updates.
type AccessTokenRepository interface {
	Create(ctx context.Context, token *AccessToken) error
	GetByToken(ctx context.Context, token string) (*AccessToken, error)
	// RevokeAllForUser flags every still-valid token of the user as
	// expired and revoked.
	RevokeAllForUser(ctx context.Context, userID int64) (int64, error)
	// MarkExpired flags tokens whose expiry is at or before now.
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteExpiredOrRevoked removes tokens flagged expired or revoked.
	DeleteExpiredOrRevoked(ctx context.Context) (int64, error)
}

// RefreshTokenRepository persists refresh tokens.
type RefreshTokenRepository interface {
	Create(ctx context.Context, token *RefreshToken) error
	GetByToken(ctx context.Context, token string) (*RefreshToken, error)
	DeleteByUser(ctx context.Context, userID int64) (int64, error)
	MarkExpired(ctx context.Context, now time.Time) (int64, error)
	// DeleteExpired removes only tokens already flagged expired.
	DeleteExpired(ctx context.Context) (int64, error)
}

// Repositories groups the repositories bound to one database handle, either
// the pool or an open transaction.
type Repositories interface {
	Users() UserRepository
	AccessTokens() AccessTokenRepository
	RefreshTokens() RefreshTokenRepository
}

// Store is the transactional entry point to persistence.
type Store interface {
	Repositories
	// WithTx runs fn inside one transaction. It commits when fn returns nil
	// and rolls back otherwise.
	WithTx(ctx context.Context, fn func(ctx context.Context, repos Repositories) error) error
}
