package config

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mobilyecommerce/storefront/pkg/auth"
	"github.com/mobilyecommerce/storefront/pkg/middleware"
	"github.com/mobilyecommerce/storefront/pkg/observability"
	"github.com/mobilyecommerce/storefront/pkg/scheduler"
	"github.com/mobilyecommerce/storefront/pkg/storage"
)

// EnvConfigFile names the optional YAML file loaded before the environment
const EnvConfigFile = "STOREFRONT_CONFIG_FILE"

// Rate limiter backends
const (
	RateLimitBackendMemory = "memory"
	RateLimitBackendRedis  = "redis"
)

// Config holds all application configuration
type Config struct {
	// Server configuration
	Server ServerConfig `yaml:"server"`

	// Storage configuration
	Storage storage.Config `yaml:"storage"`

	// Token issuance and password hashing
	Auth auth.Config `yaml:"auth"`

	// Admission control
	RateLimit RateLimitConfig `yaml:"rate_limit"`

	// Token cleanup jobs
	Cleanup CleanupConfig `yaml:"cleanup"`

	// Observability configuration
	Observability ObservabilityConfig `yaml:"observability"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `yaml:"host"`
	Port            string        `yaml:"port"`
	ReadTimeout     time.Duration `yaml:"read_timeout"`
	WriteTimeout    time.Duration `yaml:"write_timeout"`
	IdleTimeout     time.Duration `yaml:"idle_timeout"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxBodyBytes    int64         `yaml:"max_body_bytes"`

	// Health/metrics server (separate port for k8s probes)
	HealthPort string `yaml:"health_port"`
}

// RateLimitConfig selects the limiter backend and its buckets
type RateLimitConfig struct {
	Backend    string `yaml:"backend"`
	MaxBuckets int    `yaml:"max_buckets"`

	middleware.RateLimitConfig `yaml:",inline"`
}

// CleanupConfig holds the token cleanup schedule
type CleanupConfig struct {
	Enabled    bool          `yaml:"enabled"`
	JobTimeout time.Duration `yaml:"job_timeout"`

	scheduler.Schedules `yaml:",inline"`
}

// ObservabilityConfig holds observability settings
type ObservabilityConfig struct {
	// Logging
	LogLevel string `yaml:"log_level"`

	// Metrics
	MetricsEnabled bool `yaml:"metrics_enabled"`

	// OpenTelemetry
	OTel observability.OTelConfig `yaml:"otel"`
}

// Level returns the parsed log level
func (o ObservabilityConfig) Level() observability.LogLevel {
	return observability.ParseLogLevel(o.LogLevel)
}

// Default returns the configuration used when nothing is set
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Host:            "0.0.0.0",
			Port:            "8080",
			ReadTimeout:     15 * time.Second,
			WriteTimeout:    15 * time.Second,
			IdleTimeout:     60 * time.Second,
			ShutdownTimeout: 30 * time.Second,
			MaxBodyBytes:    1 << 20,
			HealthPort:      "9090",
		},
		Storage: storage.DefaultConfig(),
		Auth:    auth.DefaultConfig(),
		RateLimit: RateLimitConfig{
			Backend:         RateLimitBackendMemory,
			MaxBuckets:      middleware.DefaultMaxBuckets,
			RateLimitConfig: middleware.DefaultRateLimitConfig(),
		},
		Cleanup: CleanupConfig{
			Enabled:    true,
			JobTimeout: scheduler.DefaultJobTimeout,
			Schedules:  scheduler.DefaultSchedules(),
		},
		Observability: ObservabilityConfig{
			LogLevel:       "info",
			MetricsEnabled: true,
			OTel: observability.OTelConfig{
				Endpoint:       "localhost:4317",
				ServiceName:    "storefront",
				ServiceVersion: "1.0.0",
				Insecure:       true,
				SampleRatio:    1.0,
			},
		},
	}
}

// LoadConfig loads defaults, then the YAML file named by
// STOREFRONT_CONFIG_FILE if set, then environment overrides.
func LoadConfig() (*Config, error) {
	cfg := Default()

	if path := os.Getenv(EnvConfigFile); path != "" {
		if err := loadFile(path, cfg); err != nil {
			return nil, err
		}
	}

	applyServerEnv(&cfg.Server)
	applyStorageEnv(&cfg.Storage)
	applyAuthEnv(&cfg.Auth)
	applyRateLimitEnv(&cfg.RateLimit)
	applyCleanupEnv(&cfg.Cleanup)
	applyObservabilityEnv(&cfg.Observability)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := decodeYAML(data, cfg); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

// decodeYAML overlays data onto out, rejecting unknown keys.
func decodeYAML(data []byte, out interface{}) error {
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(out); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

func applyServerEnv(cfg *ServerConfig) {
	cfg.Host = getEnv("STOREFRONT_HOST", cfg.Host)
	cfg.Port = getEnv("STOREFRONT_PORT", cfg.Port)
	cfg.ReadTimeout = getEnvDuration("STOREFRONT_READ_TIMEOUT", cfg.ReadTimeout)
	cfg.WriteTimeout = getEnvDuration("STOREFRONT_WRITE_TIMEOUT", cfg.WriteTimeout)
	cfg.IdleTimeout = getEnvDuration("STOREFRONT_IDLE_TIMEOUT", cfg.IdleTimeout)
	cfg.ShutdownTimeout = getEnvDuration("STOREFRONT_SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)
	cfg.MaxBodyBytes = getEnvInt64("STOREFRONT_MAX_BODY_BYTES", cfg.MaxBodyBytes)
	cfg.HealthPort = getEnv("STOREFRONT_HEALTH_PORT", cfg.HealthPort)
}

func applyStorageEnv(cfg *storage.Config) {
	// PostgreSQL config
	cfg.PostgresURL = getEnv("STOREFRONT_POSTGRES_URL", cfg.PostgresURL)
	if maxConns := getEnvInt("STOREFRONT_POSTGRES_MAX_CONNS", 0); maxConns > 0 {
		cfg.PostgresMaxConns = maxConns
	}
	if minConns := getEnvInt("STOREFRONT_POSTGRES_MIN_CONNS", 0); minConns > 0 {
		cfg.PostgresMinConns = minConns
	}
	if timeout := getEnvDuration("STOREFRONT_POSTGRES_TIMEOUT", 0); timeout > 0 {
		cfg.PostgresTimeout = timeout
	}
	cfg.AutoMigrate = getEnvBool("STOREFRONT_AUTO_MIGRATE", cfg.AutoMigrate)

	// Redis config
	cfg.RedisURL = getEnv("STOREFRONT_REDIS_URL", cfg.RedisURL)
	cfg.RedisPassword = getEnv("STOREFRONT_REDIS_PASSWORD", cfg.RedisPassword)
	if redisDB := getEnvInt("STOREFRONT_REDIS_DB", -1); redisDB >= 0 {
		cfg.RedisDB = redisDB
	}
	if redisMaxRetries := getEnvInt("STOREFRONT_REDIS_MAX_RETRIES", 0); redisMaxRetries > 0 {
		cfg.RedisMaxRetries = redisMaxRetries
	}
	if redisPoolSize := getEnvInt("STOREFRONT_REDIS_POOL_SIZE", 0); redisPoolSize > 0 {
		cfg.RedisPoolSize = redisPoolSize
	}
}

func applyAuthEnv(cfg *auth.Config) {
	cfg.Secret = getEnv("STOREFRONT_JWT_SECRET", cfg.Secret)
	cfg.Subject = getEnv("STOREFRONT_JWT_SUBJECT", cfg.Subject)
	cfg.AccessTokenTTL = getEnvDuration("STOREFRONT_ACCESS_TOKEN_TTL", cfg.AccessTokenTTL)
	cfg.RefreshTokenTTL = getEnvDuration("STOREFRONT_REFRESH_TOKEN_TTL", cfg.RefreshTokenTTL)
	cfg.DeviceBinding = auth.DeviceBinding(getEnv("STOREFRONT_DEVICE_BINDING", string(cfg.DeviceBinding)))
	cfg.BcryptCost = getEnvInt("STOREFRONT_BCRYPT_COST", cfg.BcryptCost)
}

func applyRateLimitEnv(cfg *RateLimitConfig) {
	cfg.Backend = strings.ToLower(getEnv("STOREFRONT_RATE_LIMIT_BACKEND", cfg.Backend))
	cfg.MaxBuckets = getEnvInt("STOREFRONT_RATE_LIMIT_MAX_BUCKETS", cfg.MaxBuckets)
	cfg.Auth.Capacity = getEnvInt("STOREFRONT_RATE_LIMIT_AUTH_CAPACITY", cfg.Auth.Capacity)
	cfg.Auth.Window = getEnvDuration("STOREFRONT_RATE_LIMIT_AUTH_WINDOW", cfg.Auth.Window)
	cfg.General.Capacity = getEnvInt("STOREFRONT_RATE_LIMIT_GENERAL_CAPACITY", cfg.General.Capacity)
	cfg.General.Window = getEnvDuration("STOREFRONT_RATE_LIMIT_GENERAL_WINDOW", cfg.General.Window)
	if paths := getEnv("STOREFRONT_RATE_LIMIT_AUTH_PATHS", ""); paths != "" {
		cfg.AuthPaths = splitList(paths)
	}
}

func applyCleanupEnv(cfg *CleanupConfig) {
	cfg.Enabled = getEnvBool("STOREFRONT_CLEANUP_ENABLED", cfg.Enabled)
	cfg.JobTimeout = getEnvDuration("STOREFRONT_CLEANUP_JOB_TIMEOUT", cfg.JobTimeout)
	cfg.AccessMark = getEnv("STOREFRONT_CLEANUP_ACCESS_MARK", cfg.AccessMark)
	cfg.AccessDelete = getEnv("STOREFRONT_CLEANUP_ACCESS_DELETE", cfg.AccessDelete)
	cfg.RefreshMark = getEnv("STOREFRONT_CLEANUP_REFRESH_MARK", cfg.RefreshMark)
	cfg.RefreshDelete = getEnv("STOREFRONT_CLEANUP_REFRESH_DELETE", cfg.RefreshDelete)
}

func applyObservabilityEnv(cfg *ObservabilityConfig) {
	cfg.LogLevel = getEnv("STOREFRONT_LOG_LEVEL", cfg.LogLevel)
	cfg.MetricsEnabled = getEnvBool("STOREFRONT_METRICS_ENABLED", cfg.MetricsEnabled)
	cfg.OTel.Enabled = getEnvBool("STOREFRONT_OTEL_ENABLED", cfg.OTel.Enabled)
	cfg.OTel.Endpoint = getEnv("STOREFRONT_OTEL_ENDPOINT", cfg.OTel.Endpoint)
	cfg.OTel.ServiceName = getEnv("STOREFRONT_OTEL_SERVICE_NAME", cfg.OTel.ServiceName)
	cfg.OTel.ServiceVersion = getEnv("STOREFRONT_OTEL_SERVICE_VERSION", cfg.OTel.ServiceVersion)
	cfg.OTel.Insecure = getEnvBool("STOREFRONT_OTEL_INSECURE", cfg.OTel.Insecure)
	cfg.OTel.SampleRatio = getEnvFloat("STOREFRONT_OTEL_SAMPLE_RATIO", cfg.OTel.SampleRatio)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	// Validate server config
	if c.Server.Port == "" {
		return fmt.Errorf("server port is required")
	}
	if c.Server.HealthPort == "" {
		return fmt.Errorf("health port is required")
	}
	if c.Server.Port == c.Server.HealthPort {
		return fmt.Errorf("server port and health port must be different")
	}

	if c.Storage.PostgresURL == "" {
		return fmt.Errorf("postgres URL is required")
	}

	if err := c.Auth.Validate(); err != nil {
		return fmt.Errorf("auth: %w", err)
	}

	switch c.RateLimit.Backend {
	case RateLimitBackendMemory:
	case RateLimitBackendRedis:
		if c.Storage.RedisURL == "" {
			return fmt.Errorf("redis URL is required for the redis rate limit backend")
		}
	default:
		return fmt.Errorf("invalid rate limit backend: %s (must be memory or redis)", c.RateLimit.Backend)
	}
	if err := c.RateLimit.RateLimitConfig.Validate(); err != nil {
		return err
	}

	if c.Cleanup.Enabled {
		if err := c.Cleanup.Schedules.Validate(); err != nil {
			return fmt.Errorf("cleanup: %w", err)
		}
	}

	// Validate OpenTelemetry config
	if c.Observability.OTel.Enabled {
		if c.Observability.OTel.Endpoint == "" {
			return fmt.Errorf("OpenTelemetry endpoint is required when OTel is enabled")
		}
		if c.Observability.OTel.ServiceName == "" {
			return fmt.Errorf("OpenTelemetry service name is required when OTel is enabled")
		}
	}

	return nil
}

// getEnv returns an environment variable value or a default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvBool returns a boolean environment variable or a default
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		return strings.ToLower(value) == "true" || value == "1"
	}
	return defaultValue
}

// getEnvInt returns an integer environment variable or a default
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvInt64 returns an int64 environment variable or a default
func getEnvInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvFloat returns a float environment variable or a default
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if f, err := strconv.ParseFloat(value, 64); err == nil {
			return f
		}
	}
	return defaultValue
}

// getEnvDuration returns a duration environment variable or a default
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(value string) []string {
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
