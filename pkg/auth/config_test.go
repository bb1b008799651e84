package auth

import (
	"errors"
	"testing"
	"time"
)

func TestConfig_Validate(t *testing.T) {
	valid := DefaultConfig()
	valid.Secret = "secret"

	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr error
	}{
		{"defaults with secret", func(c *Config) {}, nil},
		{"missing secret", func(c *Config) { c.Secret = "" }, ErrMissingSecret},
		{"zero access ttl", func(c *Config) { c.AccessTokenTTL = 0 }, errAny},
		{"negative refresh ttl", func(c *Config) { c.RefreshTokenTTL = -time.Hour }, errAny},
		{"unknown binding", func(c *Config) { c.DeviceBinding = "fingerprint" }, errAny},
		{"strict binding", func(c *Config) { c.DeviceBinding = DeviceBindingStrict }, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := valid
			tt.mutate(&cfg)
			err := cfg.Validate()

			switch {
			case tt.wantErr == nil && err != nil:
				t.Errorf("Validate() unexpected error = %v", err)
			case tt.wantErr == errAny && err == nil:
				t.Error("Validate() expected an error")
			case tt.wantErr != nil && tt.wantErr != errAny && !errors.Is(err, tt.wantErr):
				t.Errorf("Validate() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

var errAny = errors.New("any error")
