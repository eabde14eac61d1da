package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

var structValidator = validator.New(validator.WithRequiredStructEnabled())

// Validate checks cfg against the `validate` struct tags declared
// throughout this package, then applies cross-field rules a struct tag
// alone can't express (the admin API needing a JWT secret once it's
// enabled, the coherence engine's own Validate).
func Validate(cfg *Config) error {
	if err := structValidator.Struct(cfg); err != nil {
		return fmt.Errorf("config validation failed: %w", err)
	}

	if err := cfg.Coherence.Validate(); err != nil {
		return fmt.Errorf("coherence config: %w", err)
	}

	if cfg.AdminAPI.Enabled && cfg.AdminAPI.JWT.Secret == "" {
		return fmt.Errorf("admin_api.jwt.secret is required when admin_api.enabled is true")
	}
	if cfg.AdminAPI.Enabled && len(cfg.AdminAPI.JWT.Secret) < 32 {
		return fmt.Errorf("admin_api.jwt.secret must be at least 32 characters")
	}

	return nil
}
