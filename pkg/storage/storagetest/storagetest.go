// Package storagetest provides an in-memory SQLite store for tests that need
// real transactional semantics without a PostgreSQL server.
package storagetest

import (
	"database/sql"
	"errors"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/mattn/go-sqlite3"

	"github.com/mobilyecommerce/storefront/pkg/storage/postgres"
)

const schema = `
CREATE TABLE users (
    id            INTEGER PRIMARY KEY AUTOINCREMENT,
    username      TEXT     NOT NULL UNIQUE,
    email         TEXT     NOT NULL UNIQUE,
    phone         TEXT     NOT NULL DEFAULT '',
    password_hash TEXT     NOT NULL,
    created_at    DATETIME NOT NULL,
    updated_at    DATETIME NOT NULL
);

CREATE TABLE user_roles (
    user_id  INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    role     TEXT    NOT NULL,
    position INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (user_id, role)
);

CREATE TABLE access_tokens (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    token       TEXT     NOT NULL UNIQUE,
    user_id     INTEGER  NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    expired     BOOLEAN  NOT NULL DEFAULT FALSE,
    revoked     BOOLEAN  NOT NULL DEFAULT FALSE,
    ip_address  TEXT     NOT NULL DEFAULT '',
    user_agent  TEXT     NOT NULL DEFAULT '',
    created_at  DATETIME NOT NULL,
    expiry_date DATETIME NOT NULL
);

CREATE TABLE refresh_tokens (
    id          INTEGER PRIMARY KEY AUTOINCREMENT,
    token       TEXT     NOT NULL UNIQUE,
    user_id     INTEGER  NOT NULL REFERENCES users(id) ON DELETE CASCADE,
    expired     BOOLEAN  NOT NULL DEFAULT FALSE,
    created_at  DATETIME NOT NULL,
    expiry_date DATETIME NOT NULL
);
`

var dbCounter atomic.Int64

// NewStore returns a store over a fresh in-memory database, closed when the
// test ends.
func NewStore(t testing.TB) *postgres.Store {
	t.Helper()

	db, err := Open()
	if err != nil {
		t.Fatalf("failed to open sqlite store: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	return postgres.NewStore(db, postgres.WithUniqueViolation(IsUniqueViolation))
}

// Open creates a private in-memory database with the auth schema applied.
func Open() (*sql.DB, error) {
	dsn := fmt.Sprintf("file:storefront_%d?mode=memory&cache=shared&_foreign_keys=on", dbCounter.Add(1))
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, err
	}
	// one connection keeps the database alive and serializes transactions
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to apply schema: %w", err)
	}
	return db, nil
}

// IsUniqueViolation recognizes SQLite unique constraint failures.
func IsUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	return errors.As(err, &sqliteErr) && sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
}
