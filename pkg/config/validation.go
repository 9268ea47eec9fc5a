package config

import (
	"fmt"

	"github.com/go-playground/validator/v10"
)

// validate is the singleton validator instance
var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Validate validates the configuration using struct tags and custom rules.
//
// Log level normalization is handled in ApplyDefaults, not here.
func Validate(cfg *Config) error {
	if err := validate.Struct(cfg); err != nil {
		return formatValidationError(err)
	}

	return validateCustomRules(cfg)
}

// validateCustomRules performs custom validation beyond struct tags.
func validateCustomRules(cfg *Config) error {
	if !cfg.Adapters.Command.Enabled {
		return fmt.Errorf("adapters: at least one adapter must be enabled")
	}

	if cfg.Metrics.Enabled && cfg.Metrics.Port == cfg.Adapters.Command.Port {
		return fmt.Errorf("metrics: port %d is already used by the command adapter", cfg.Metrics.Port)
	}

	if cfg.Market.Enabled {
		if len(cfg.Market.Symbols) == 0 {
			return fmt.Errorf("market: at least one symbol is required when the feed is enabled")
		}
		seen := make(map[string]bool, len(cfg.Market.Symbols))
		for i, s := range cfg.Market.Symbols {
			if seen[s] {
				return fmt.Errorf("market.symbols[%d]: duplicate symbol %q", i, s)
			}
			seen[s] = true
		}
	}

	if cfg.Store.Type == "s3" && len(cfg.Store.S3) == 0 {
		return fmt.Errorf("store: s3 section is required for type s3")
	}

	return nil
}

// formatValidationError converts validator errors into user-friendly messages.
func formatValidationError(err error) error {
	if validationErrs, ok := err.(validator.ValidationErrors); ok {
		// Return the first validation error with context
		if len(validationErrs) > 0 {
			e := validationErrs[0]
			return fmt.Errorf("%s: validation failed on '%s' tag (value: %v)",
				e.Namespace(), e.Tag(), e.Value())
		}
	}
	return err
}
