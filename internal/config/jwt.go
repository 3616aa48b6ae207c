package config

import (
	"fmt"
	"time"
)

// JWTConfig holds configuration for admin token signing and validation.
type JWTConfig struct {
	Secret          string
	ExpirationHours int
}

// NewJWTConfig builds the token configuration from the loaded settings.
// JWT_SECRET has already been applied by ApplyEnv; a secret is required.
func NewJWTConfig(settings JWTSettings) (*JWTConfig, error) {
	config := &JWTConfig{
		Secret:          settings.Secret,
		ExpirationHours: settings.ExpirationHours,
	}
	if config.ExpirationHours == 0 {
		config.ExpirationHours = 24 // default
	}

	if err := config.normalize(); err != nil {
		return nil, err
	}
	return config, nil
}

// Expiration returns the token lifetime.
func (c *JWTConfig) Expiration() time.Duration {
	return time.Duration(c.ExpirationHours) * time.Hour
}

// normalize validates the configuration.
func (c *JWTConfig) normalize() error {
	if c.Secret == "" {
		return fmt.Errorf("%s is required but not set", EnvJWTSecret)
	}
	if len(c.Secret) < 16 {
		return fmt.Errorf("%s must be at least 16 characters", EnvJWTSecret)
	}
	if c.ExpirationHours < 1 {
		return fmt.Errorf("jwt expiration must be at least 1 hour, got: %d", c.ExpirationHours)
	}
	return nil
}
