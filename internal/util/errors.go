package util

import (
	"errors"
	"fmt"
	"sort"
	"strings"
)

// Common sentinel errors.
var (
	ErrNotFound           = errors.New("not found")
	ErrConfigInvalid      = errors.New("invalid configuration")
	ErrCryptoGeneration   = errors.New("credential generation failed")
	ErrBindFailed         = errors.New("listener bind failed")
	ErrInvalidCredentials = errors.New("invalid certificate or key material")
	ErrUnauthorized       = errors.New("unauthorized")
)

// ConfigError represents a configuration-related error.
type ConfigError struct {
	Field   string
	Message string
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("config error at %s: %s", e.Field, e.Message)
	}
	return fmt.Sprintf("config error: %s", e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ConfigError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ConfigError)
	return ok || errors.Is(e.Cause, target)
}

// NewConfigError creates a new ConfigError.
func NewConfigError(field, message string) *ConfigError {
	return &ConfigError{Field: field, Message: message}
}

// NewConfigErrorWithCause creates a new ConfigError with a cause.
func NewConfigErrorWithCause(field, message string, cause error) *ConfigError {
	return &ConfigError{Field: field, Message: message, Cause: cause}
}

// ValidationError represents a validation failure over one or more fields.
type ValidationError struct {
	Fields  map[string]string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if len(e.Fields) == 0 {
		return fmt.Sprintf("validation error: %s", e.Message)
	}
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, k+": "+e.Fields[k])
	}
	return fmt.Sprintf("validation error: %s (%s)", e.Message, strings.Join(parts, "; "))
}

// Is checks if the error matches the target.
func (e *ValidationError) Is(target error) bool {
	if target == ErrConfigInvalid {
		return true
	}
	_, ok := target.(*ValidationError)
	return ok
}

// NewValidationError creates a new ValidationError.
func NewValidationError(message string) *ValidationError {
	return &ValidationError{Message: message, Fields: make(map[string]string)}
}

// AddField adds a field error.
func (e *ValidationError) AddField(field, message string) {
	if e.Fields == nil {
		e.Fields = make(map[string]string)
	}
	e.Fields[field] = message
}

// HasErrors reports whether any field error was recorded.
func (e *ValidationError) HasErrors() bool {
	return len(e.Fields) > 0
}

// CryptoError reports a failure to produce an API key or identity. It is
// fatal for activation.
type CryptoError struct {
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *CryptoError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("crypto error during %s: %v", e.Operation, e.Cause)
	}
	return fmt.Sprintf("crypto error during %s", e.Operation)
}

// Unwrap returns the underlying error.
func (e *CryptoError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *CryptoError) Is(target error) bool {
	if target == ErrCryptoGeneration {
		return true
	}
	_, ok := target.(*CryptoError)
	return ok
}

// NewCryptoError creates a new CryptoError.
func NewCryptoError(operation string, cause error) *CryptoError {
	return &CryptoError{Operation: operation, Cause: cause}
}

// ListenerError reports a failure to establish one listener.
type ListenerError struct {
	Listener string
	Addr     string
	Cause    error
}

// Error implements the error interface.
func (e *ListenerError) Error() string {
	return fmt.Sprintf("%s listener on %s: %v", e.Listener, e.Addr, e.Cause)
}

// Unwrap returns the underlying error.
func (e *ListenerError) Unwrap() error {
	return e.Cause
}

// Is checks if the error matches the target.
func (e *ListenerError) Is(target error) bool {
	if target == ErrBindFailed {
		return true
	}
	_, ok := target.(*ListenerError)
	return ok
}

// NewListenerError creates a new ListenerError.
func NewListenerError(listener, addr string, cause error) *ListenerError {
	return &ListenerError{Listener: listener, Addr: addr, Cause: cause}
}
