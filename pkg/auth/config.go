package auth

import (
	"fmt"
	"time"
)

// DeviceBinding controls whether an access token is tied to the client that
// obtained it.
type DeviceBinding string

const (
	// DeviceBindingNone accepts a valid token from any client.
	DeviceBindingNone DeviceBinding = "none"
	// DeviceBindingUserAgent requires the User-Agent recorded at issuance.
	DeviceBindingUserAgent DeviceBinding = "user-agent"
	// DeviceBindingStrict requires both the IP address and the User-Agent.
	DeviceBindingStrict DeviceBinding = "strict"
)

// Config configures token issuance and password hashing.
type Config struct {
	// Secret is the HMAC key for access tokens. Required.
	Secret          string        `yaml:"jwt_secret"`
	Subject         string        `yaml:"jwt_subject"`
	AccessTokenTTL  time.Duration `yaml:"access_token_ttl"`
	RefreshTokenTTL time.Duration `yaml:"refresh_token_ttl"`
	DeviceBinding   DeviceBinding `yaml:"device_binding"`
	BcryptCost      int           `yaml:"bcrypt_cost"`
}

// DefaultConfig returns defaults for everything except Secret.
func DefaultConfig() Config {
	return Config{
		Subject:         "storefront",
		AccessTokenTTL:  30 * time.Minute,
		RefreshTokenTTL: 7 * 24 * time.Hour,
		DeviceBinding:   DeviceBindingNone,
		BcryptCost:      10,
	}
}

// Validate checks the configuration
func (c Config) Validate() error {
	if c.Secret == "" {
		return ErrMissingSecret
	}
	if c.AccessTokenTTL <= 0 {
		return fmt.Errorf("access token TTL must be positive, got %s", c.AccessTokenTTL)
	}
	if c.RefreshTokenTTL <= 0 {
		return fmt.Errorf("refresh token TTL must be positive, got %s", c.RefreshTokenTTL)
	}
	switch c.DeviceBinding {
	case DeviceBindingNone, DeviceBindingUserAgent, DeviceBindingStrict, "":
	default:
		return fmt.Errorf("unknown device binding %q", c.DeviceBinding)
	}
	return nil
}
