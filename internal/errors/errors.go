package errors

import (
	"errors"
	"fmt"
)

// Application-specific errors
var (
	ErrInvalidInput        = errors.New("invalid input")
	ErrRateLimit           = errors.New("rate limit exceeded")
	ErrQuotaExceeded       = errors.New("provider quota exceeded")
	ErrProviderUnavailable = errors.New("provider unavailable")
	ErrInvalidCoordinates  = errors.New("coordinates outside allowed area")
	ErrTimeout             = errors.New("operation timeout")
	ErrAlreadyRunning      = errors.New("already running")
)

// ValidationError represents a validation error
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("validation error on field '%s': %s", e.Field, e.Message)
}

func (e ValidationError) Unwrap() error {
	return ErrInvalidInput
}

// MultiError represents multiple errors
type MultiError struct {
	Errors []error `json:"errors"`
}

func (e MultiError) Error() string {
	if len(e.Errors) == 0 {
		return "no errors"
	}
	if len(e.Errors) == 1 {
		return e.Errors[0].Error()
	}
	return fmt.Sprintf("%s (and %d more errors)", e.Errors[0].Error(), len(e.Errors)-1)
}

// Add adds an error to the MultiError
func (e *MultiError) Add(err error) {
	if err != nil {
		e.Errors = append(e.Errors, err)
	}
}

// HasErrors returns true if there are any errors
func (e *MultiError) HasErrors() bool {
	return len(e.Errors) > 0
}

// ErrorOrNil returns nil when nothing was collected
func (e *MultiError) ErrorOrNil() error {
	if e == nil || !e.HasErrors() {
		return nil
	}
	return *e
}

// DatabaseError represents a database-related error
type DatabaseError struct {
	Operation string
	Err       error
}

func (e DatabaseError) Error() string {
	return fmt.Sprintf("database error during %s: %v", e.Operation, e.Err)
}

func (e DatabaseError) Unwrap() error {
	return e.Err
}

// ProviderError wraps a failure from an external geocoding provider
type ProviderError struct {
	Provider string
	Op       string
	Err      error
}

func (e ProviderError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Provider, e.Op, e.Err)
}

func (e ProviderError) Unwrap() error {
	return e.Err
}

// StorageError represents a failure reading or writing a persisted file
type StorageError struct {
	Op   string
	Path string
	Err  error
}

func (e StorageError) Error() string {
	return fmt.Sprintf("storage %s %s: %v", e.Op, e.Path, e.Err)
}

func (e StorageError) Unwrap() error {
	return e.Err
}

// PipelineError represents a pipeline-related error
type PipelineError struct {
	Source string
	Stage  string
	Err    error
}

func (e PipelineError) Error() string {
	return fmt.Sprintf("pipeline error in %s at stage %s: %v", e.Source, e.Stage, e.Err)
}

func (e PipelineError) Unwrap() error {
	return e.Err
}
