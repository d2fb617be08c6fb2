package errors

import (
	"errors"
	"fmt"
	"testing"
)

func TestValidationError(t *testing.T) {
	err := ValidationError{Field: "lat", Message: "must be within Ukraine"}

	expected := "validation error on field 'lat': must be within Ukraine"
	if err.Error() != expected {
		t.Errorf("Expected %s, got %s", expected, err.Error())
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("ValidationError should match ErrInvalidInput")
	}
}

func TestMultiError_Error(t *testing.T) {
	tests := []struct {
		name     string
		errors   []error
		expected string
	}{
		{name: "No errors", errors: []error{}, expected: "no errors"},
		{name: "Single error", errors: []error{errors.New("first error")}, expected: "first error"},
		{
			name:     "Multiple errors",
			errors:   []error{errors.New("first error"), errors.New("second error"), errors.New("third error")},
			expected: "first error (and 2 more errors)",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			multiErr := MultiError{Errors: tt.errors}
			if got := multiErr.Error(); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
		})
	}
}

func TestMultiError_AddAndErrorOrNil(t *testing.T) {
	multiErr := &MultiError{}
	multiErr.Add(nil)
	if multiErr.HasErrors() {
		t.Fatal("nil error should not be collected")
	}
	if multiErr.ErrorOrNil() != nil {
		t.Fatal("expected nil for empty MultiError")
	}

	err1 := errors.New("first error")
	multiErr.Add(err1)
	multiErr.Add(errors.New("second error"))
	if len(multiErr.Errors) != 2 || multiErr.Errors[0] != err1 {
		t.Fatalf("unexpected errors: %v", multiErr.Errors)
	}
	if multiErr.ErrorOrNil() == nil {
		t.Fatal("expected non-nil error")
	}
}

func TestWrappedErrors(t *testing.T) {
	base := errors.New("boom")
	tests := []struct {
		name     string
		err      error
		expected string
	}{
		{"database", DatabaseError{Operation: "query", Err: base}, "database error during query: boom"},
		{"provider", ProviderError{Provider: "photon", Op: "geocode", Err: base}, "photon geocode: boom"},
		{"storage", StorageError{Op: "save", Path: "/tmp/tracks.json", Err: base}, "storage save /tmp/tracks.json: boom"},
		{"pipeline", PipelineError{Source: "relay", Stage: "fetch", Err: base}, "pipeline error in relay at stage fetch: boom"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.err.Error() != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, tt.err.Error())
			}
			wrapped := fmt.Errorf("outer: %w", tt.err)
			if !errors.Is(wrapped, base) {
				t.Error("expected errors.Is to reach the base error")
			}
		})
	}
}

func TestProviderErrorMatchesSentinel(t *testing.T) {
	err := ProviderError{Provider: "opencage", Op: "quota", Err: ErrQuotaExceeded}
	if !errors.Is(err, ErrQuotaExceeded) {
		t.Error("expected ErrQuotaExceeded to be reachable")
	}
	var pe ProviderError
	if !errors.As(fmt.Errorf("x: %w", err), &pe) || pe.Provider != "opencage" {
		t.Errorf("errors.As failed: %+v", pe)
	}
}
