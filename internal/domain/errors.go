package domain

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrInvalidInput         = errors.New("invalid input")
	ErrUnknownEventCategory = errors.New("unknown event category")
	ErrStoreUnavailable     = errors.New("store unavailable")
	ErrConfiguration        = errors.New("invalid rule configuration")
	ErrInvalidTransition    = errors.New("invalid case status transition")
	ErrVersionConflict      = errors.New("profile version conflict")
)

// ConfigurationError rejects a single malformed rule at load time.
type ConfigurationError struct {
	RuleID string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("rule %s: %s", e.RuleID, e.Reason)
}

// Unwrap lets errors.Is match ErrConfiguration.
func (e *ConfigurationError) Unwrap() error {
	return ErrConfiguration
}

// NewConfigurationError formats a ConfigurationError for ruleID.
func NewConfigurationError(ruleID, format string, args ...any) *ConfigurationError {
	return &ConfigurationError{RuleID: ruleID, Reason: fmt.Sprintf(format, args...)}
}
