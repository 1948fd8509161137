// Package config holds the small helpers every dealer command uses to load
// settings from the environment and to fail fast on bad input.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// EnvPrefix is prepended to every environment variable the dealer reads.
const EnvPrefix = "DEALER_"

// ParseEnv loads configuration from environment variables. Field tags name
// the variable without the DEALER_ prefix.
func ParseEnv(target any) error {
	if err := env.ParseWithOptions(target, env.Options{Prefix: EnvPrefix}); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}
