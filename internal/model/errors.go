package model

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidConfig is matched by every *ConfigError.
	ErrInvalidConfig = errors.New("invalid model config")
	// ErrInputTooLong is matched by every *InputLengthError.
	ErrInputTooLong = errors.New("input exceeds context length")
)

// ConfigError reports an invalid configuration field.
type ConfigError struct {
	Field  string
	Reason string
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("invalid model config: %s %s", e.Field, e.Reason)
}

func (e *ConfigError) Unwrap() error {
	return ErrInvalidConfig
}

func configErr(field, reason string) error {
	return &ConfigError{Field: field, Reason: reason}
}

// InputLengthError reports a forward pass over more positions than the
// positional table covers.
type InputLengthError struct {
	Length int
	Max    int
}

func (e *InputLengthError) Error() string {
	return fmt.Sprintf("sequence length %d exceeds context length %d", e.Length, e.Max)
}

func (e *InputLengthError) Unwrap() error {
	return ErrInputTooLong
}
