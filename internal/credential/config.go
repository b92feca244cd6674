// Package credential generates synthetic identities for simulated users.
package credential

import (
	"errors"
	"fmt"
)

const (
	// MinAcceptedPasswordLength is the shortest password the target service accepts.
	MinAcceptedPasswordLength = 8

	// DefaultPasswordMinLength is the default lower bound for generated passwords.
	DefaultPasswordMinLength = 8

	// DefaultPasswordMaxLength is the default upper bound for generated passwords.
	DefaultPasswordMaxLength = 100

	// DefaultMemorableRatio is the default share of memorable passwords.
	DefaultMemorableRatio = 0.5

	// MaxUsernameLength is the longest username the target service accepts.
	MaxUsernameLength = 32

	// MinUsernameLength is the shortest username the target service accepts.
	MinUsernameLength = 3
)

// Config controls password shape.
type Config struct {
	// PasswordMinLength is the inclusive lower length bound
	PasswordMinLength int `json:"passwordMinLength" yaml:"passwordMinLength"`

	// PasswordMaxLength is the inclusive upper length bound
	PasswordMaxLength int `json:"passwordMaxLength" yaml:"passwordMaxLength"`

	// MemorableRatio is the probability (0.0 to 1.0) that a password is
	// built from dictionary words instead of random characters
	MemorableRatio float64 `json:"memorableRatio" yaml:"memorableRatio"`
}

// DefaultConfig returns the default password settings.
func DefaultConfig() Config {
	return Config{
		PasswordMinLength: DefaultPasswordMinLength,
		PasswordMaxLength: DefaultPasswordMaxLength,
		MemorableRatio:    DefaultMemorableRatio,
	}
}

// ConfigError describes a contradictory or unacceptable generator setting.
type ConfigError struct {
	Field   string
	Message string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("credential config: %s: %s", e.Field, e.Message)
}

// Validate checks the configuration and returns every problem found.
// A single problem is returned as *ConfigError; several are joined.
func (c Config) Validate() error {
	var errs []error

	if c.PasswordMinLength < MinAcceptedPasswordLength {
		errs = append(errs, &ConfigError{
			Field:   "passwordMinLength",
			Message: fmt.Sprintf("must be at least %d, got %d", MinAcceptedPasswordLength, c.PasswordMinLength),
		})
	}
	if c.PasswordMaxLength < c.PasswordMinLength {
		errs = append(errs, &ConfigError{
			Field:   "passwordMaxLength",
			Message: fmt.Sprintf("must be >= passwordMinLength (%d), got %d", c.PasswordMinLength, c.PasswordMaxLength),
		})
	}
	if c.MemorableRatio < 0 || c.MemorableRatio > 1 {
		errs = append(errs, &ConfigError{
			Field:   "memorableRatio",
			Message: fmt.Sprintf("must be within [0, 1], got %g", c.MemorableRatio),
		})
	}

	switch len(errs) {
	case 0:
		return nil
	case 1:
		return errs[0]
	default:
		return errors.Join(errs...)
	}
}
