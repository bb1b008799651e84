package postgres

import (
	"context"
	"database/sql"
	"errors"

	"github.com/lib/pq"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/storage"
)

// Store implements auth.Store on a database/sql pool.
type Store struct {
	db       *sql.DB
	isUnique func(error) bool
	repos    repositories
}

// Option customizes a Store
type Option func(*Store)

// WithUniqueViolation overrides how unique constraint violations are
// recognized, for drivers other than lib/pq.
func WithUniqueViolation(fn func(error) bool) Option {
	return func(s *Store) {
		s.isUnique = fn
	}
}

// NewStore creates a store over db
func NewStore(db *sql.DB, opts ...Option) *Store {
	s := &Store{db: db, isUnique: isUniqueViolation}
	for _, opt := range opts {
		opt(s)
	}
	s.repos = repositories{q: db, isUnique: s.isUnique}
	return s
}

// DB returns the underlying pool
func (s *Store) DB() *sql.DB {
	return s.db
}

// Ping verifies the database is reachable
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Users returns the pool-bound user repository
func (s *Store) Users() auth.UserRepository {
	return s.repos.Users()
}

// AccessTokens returns the pool-bound access token repository
func (s *Store) AccessTokens() auth.AccessTokenRepository {
	return s.repos.AccessTokens()
}

// RefreshTokens returns the pool-bound refresh token repository
func (s *Store) RefreshTokens() auth.RefreshTokenRepository {
	return s.repos.RefreshTokens()
}

// WithTx runs fn with repositories bound to a single transaction.
func (s *Store) WithTx(ctx context.Context, fn func(ctx context.Context, repos auth.Repositories) error) error {
	return storage.WithTx(ctx, s.db, nil, func(ctx context.Context, tx storage.DBTX) error {
		return fn(ctx, repositories{q: tx, isUnique: s.isUnique})
	})
}

// repositories binds the three repositories to one handle.
type repositories struct {
	q        storage.DBTX
	isUnique func(error) bool
}

func (r repositories) Users() auth.UserRepository {
	return &userRepository{q: r.q, isUnique: r.isUnique}
}

func (r repositories) AccessTokens() auth.AccessTokenRepository {
	return &accessTokenRepository{q: r.q, isUnique: r.isUnique}
}

func (r repositories) RefreshTokens() auth.RefreshTokenRepository {
	return &refreshTokenRepository{q: r.q, isUnique: r.isUnique}
}

const uniqueViolation = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == uniqueViolation
}

// rowsAffected unwraps the affected row count of a bulk statement.
func rowsAffected(result sql.Result, err error) (int64, error) {
	if err != nil {
		return 0, err
	}
	return result.RowsAffected()
}
