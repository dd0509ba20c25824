package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors. Wrap them with fmt.Errorf("...: %w") to add context and
// test with errors.Is.
var (
	ErrUnauthorized = errors.New("unauthorized")
	ErrNotFound     = errors.New("not found")
	ErrInvalidState = errors.New("invalid or expired oauth state")
)

// ValidationError reports bad or missing input.
type ValidationError struct {
	Code    string
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// Validation builds a ValidationError with the generic VALIDATION code.
func Validation(format string, args ...any) error {
	return &ValidationError{Code: "VALIDATION", Message: fmt.Sprintf(format, args...)}
}

// InsufficientCreditsError is returned when a metered action costs more than
// the wallet holds.
type InsufficientCreditsError struct {
	Required int64
	Balance  int64
}

func (e *InsufficientCreditsError) Error() string {
	return fmt.Sprintf("insufficient credits: required %d, balance %d", e.Required, e.Balance)
}

// ChangeLimitExceededError is returned when a connection change quota is
// exhausted.
type ChangeLimitExceededError struct {
	Provider  Provider
	Remaining int
}

func (e *ChangeLimitExceededError) Error() string {
	return fmt.Sprintf("%s connection change limit reached", e.Provider)
}

// ProviderError wraps a failure returned by an upstream API.
type ProviderError struct {
	Provider string
	Status   int
	Message  string
}

func (e *ProviderError) Error() string {
	if e.Status > 0 {
		return fmt.Sprintf("%s: upstream status %d: %s", e.Provider, e.Status, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Provider, e.Message)
}

// Rejected reports whether the upstream refused the input itself (4xx other
// than auth/rate-limit failures) rather than failing on its side.
func (e *ProviderError) Rejected() bool {
	return e.Status >= 400 && e.Status < 500 && e.Status != 401 && e.Status != 429
}

// PersistenceError marks a storage failure that must abort the calling operation.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string { return e.Op + ": " + e.Err.Error() }
func (e *PersistenceError) Unwrap() error { return e.Err }
