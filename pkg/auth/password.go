package auth

import (
	"context"
	"errors"
	"fmt"

	"golang.org/x/crypto/bcrypt"

	"github.com/mobilyecommerce/storefront/pkg/storage"
)

// PasswordHasher hashes and verifies passwords.
type PasswordHasher interface {
	Hash(password string) (string, error)
	// Matches reports whether password produces hash.
	Matches(hash, password string) bool
}

// BcryptHasher implements PasswordHasher with bcrypt.
type BcryptHasher struct {
	cost int
}

// NewBcryptHasher creates a hasher. Costs outside bcrypt's range fall back to
// bcrypt.DefaultCost.
func NewBcryptHasher(cost int) *BcryptHasher {
	if cost < bcrypt.MinCost || cost > bcrypt.MaxCost {
		cost = bcrypt.DefaultCost
	}
	return &BcryptHasher{cost: cost}
}

func (h *BcryptHasher) Hash(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), h.cost)
	if err != nil {
		return "", fmt.Errorf("failed to hash password: %w", err)
	}
	return string(hash), nil
}

func (h *BcryptHasher) Matches(hash, password string) bool {
	return bcrypt.CompareHashAndPassword([]byte(hash), []byte(password)) == nil
}

// Authenticator verifies login credentials.
type Authenticator interface {
	// Authenticate returns the user for identifier and password, or
	// ErrInvalidCredentials.
	Authenticate(ctx context.Context, identifier, password string) (*User, error)
}

// PasswordAuthenticator checks a password against the stored hash of the user
// matching identifier by username or email.
type PasswordAuthenticator struct {
	users  UserRepository
	hasher PasswordHasher
}

// NewPasswordAuthenticator creates an authenticator over users
func NewPasswordAuthenticator(users UserRepository, hasher PasswordHasher) *PasswordAuthenticator {
	return &PasswordAuthenticator{users: users, hasher: hasher}
}

func (a *PasswordAuthenticator) Authenticate(ctx context.Context, identifier, password string) (*User, error) {
	user, err := a.users.GetByIdentifier(ctx, identifier)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if !a.hasher.Matches(user.PasswordHash, password) {
		return nil, ErrInvalidCredentials
	}
	return user, nil
}
