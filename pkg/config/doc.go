// Package config loads storefront configuration from defaults, an optional
// YAML file and environment variables, in that order of precedence.
//
// # Configuration Structure
//
// Server settings:
//
//	STOREFRONT_HOST="0.0.0.0"
//	STOREFRONT_PORT="8080"
//	STOREFRONT_HEALTH_PORT="9090"
//	STOREFRONT_READ_TIMEOUT="15s"
//	STOREFRONT_MAX_BODY_BYTES="1048576"
//
// Storage settings:
//
//	STOREFRONT_POSTGRES_URL="postgres://localhost/storefront"
//	STOREFRONT_POSTGRES_MAX_CONNS="20"
//	STOREFRONT_AUTO_MIGRATE="true"
//	STOREFRONT_REDIS_URL="redis://localhost:6379"
//
// Token settings:
//
//	STOREFRONT_JWT_SECRET="..."          # required
//	STOREFRONT_ACCESS_TOKEN_TTL="30m"
//	STOREFRONT_REFRESH_TOKEN_TTL="168h"
//	STOREFRONT_DEVICE_BINDING="none"      # none, user-agent, strict
//
// Rate limiting and cleanup:
//
//	STOREFRONT_RATE_LIMIT_BACKEND="memory" # memory, redis
//	STOREFRONT_RATE_LIMIT_AUTH_CAPACITY="3"
//	STOREFRONT_RATE_LIMIT_AUTH_WINDOW="10m"
//	STOREFRONT_CLEANUP_ACCESS_MARK="*/5 * * * *"
//
// Observability settings:
//
//	STOREFRONT_LOG_LEVEL="info"  # debug, info, warn, error
//	STOREFRONT_METRICS_ENABLED="true"
//	STOREFRONT_OTEL_ENABLED="false"
//
// # YAML File
//
// STOREFRONT_CONFIG_FILE names a YAML file whose keys mirror the struct
// tags of Config. Unknown keys are rejected. A Watcher re-reads the
// rate_limit section when the file changes so limits can be tuned
// without a restart.
//
// # Usage Example
//
//	cfg, err := config.LoadConfig()
//	if err != nil {
//		log.Fatal(err)
//	}
//	fmt.Printf("Listening on %s:%s\n", cfg.Server.Host, cfg.Server.Port)
package config
