package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/mobilyecommerce/storefront/pkg/storage"
)

// Open connects to PostgreSQL, configures the pool from config and verifies
// the connection. All reads go to this primary: token revocation must be
// visible to the very next validation, which a lagging replica cannot
// guarantee.
func Open(ctx context.Context, config storage.Config) (*sql.DB, error) {
	db, err := sql.Open("postgres", config.PostgresURL)
	if err != nil {
		return nil, fmt.Errorf("failed to open postgres connection: %w", err)
	}

	configurePool(db, config)

	timeout := config.PostgresTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	pingCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping postgres: %w", err)
	}
	return db, nil
}

func configurePool(db *sql.DB, config storage.Config) {
	if config.PostgresMaxConns > 0 {
		db.SetMaxOpenConns(config.PostgresMaxConns)
	}
	if config.PostgresMinConns > 0 {
		db.SetMaxIdleConns(config.PostgresMinConns)
	}
	if config.PostgresMaxLifetime > 0 {
		db.SetConnMaxLifetime(config.PostgresMaxLifetime)
	}
	if config.PostgresMaxIdleTime > 0 {
		db.SetConnMaxIdleTime(config.PostgresMaxIdleTime)
	}
}
