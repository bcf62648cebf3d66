package core

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestExecutionError_Error(t *testing.T) {
	err := &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "test_error",
		Message:  "test message",
	}

	if got := err.Error(); got != "test message" {
		t.Errorf("Error() = %q, want %q", got, "test message")
	}
}

func TestExecutionError_ErrorWithCause(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "test_error",
		Message:  "test message",
		Cause:    cause,
	}

	got := err.Error()
	if !strings.Contains(got, "test message") {
		t.Errorf("Error() = %q, should contain 'test message'", got)
	}
	if !strings.Contains(got, "underlying error") {
		t.Errorf("Error() = %q, should contain 'underlying error'", got)
	}
}

func TestExecutionError_Unwrap(t *testing.T) {
	cause := errors.New("underlying error")
	err := &ExecutionError{
		Message: "wrapper",
		Cause:   cause,
	}

	if got := err.Unwrap(); got != cause {
		t.Errorf("Unwrap() = %v, want %v", got, cause)
	}
}

func TestExecutionError_WithCause(t *testing.T) {
	original := ErrBootFailure
	cause := errors.New("custom cause")

	newErr := original.WithCause(cause)

	if newErr.Cause != cause {
		t.Error("WithCause() did not set cause")
	}
	if newErr.Code != original.Code {
		t.Error("WithCause() changed code")
	}
	if original.Cause != nil {
		t.Error("WithCause() modified original error")
	}
}

func TestExecutionError_WithMessage(t *testing.T) {
	original := ErrBootTimeout
	newErr := original.WithMessage("custom timeout message")

	if newErr.Message != "custom timeout message" {
		t.Errorf("Message = %q, want 'custom timeout message'", newErr.Message)
	}
	if newErr.Code != original.Code {
		t.Error("WithMessage() changed code")
	}
	if original.Message == "custom timeout message" {
		t.Error("WithMessage() modified original error")
	}
}

func TestExecutionError_WithDetails(t *testing.T) {
	original := &ExecutionError{
		Code:    "test",
		Message: "test",
		Details: map[string]interface{}{"existing": "value"},
	}

	newErr := original.WithDetails(map[string]interface{}{
		"selector": "#button",
		"timeout":  5000,
	})

	if newErr.Details["selector"] != "#button" {
		t.Error("WithDetails() did not add new details")
	}
	if newErr.Details["existing"] != "value" {
		t.Error("WithDetails() did not preserve existing details")
	}
	if _, ok := original.Details["selector"]; ok {
		t.Error("WithDetails() modified original error")
	}
}

func TestPredefinedErrors(t *testing.T) {
	tests := []struct {
		err      *ExecutionError
		category ErrorCategory
		code     string
	}{
		{ErrConnection, ErrCategoryConnection, "connection_failed"},
		{ErrDeviceDisconnected, ErrCategoryConnection, "device_disconnected"},
		{ErrBootFailure, ErrCategoryBoot, "boot_failure"},
		{ErrBootTimeout, ErrCategoryTimeout, "boot_timeout"},
		{ErrRetryExhausted, ErrCategoryBoot, "retry_exhausted"},
		{ErrSpawnFailed, ErrCategoryBoot, "spawn_failed"},
		{ErrParse, ErrCategoryParse, "parse_error"},
		{ErrOutOfRange, ErrCategoryValidation, "out_of_range"},
		{ErrUnsupportedKey, ErrCategoryValidation, "unsupported_key"},
		{ErrInvalidState, ErrCategoryValidation, "invalid_state"},
		{ErrAgentStalled, ErrCategoryParse, "agent_stalled"},
		{ErrResourceNotFound, ErrCategoryResource, "resource_not_found"},
		{ErrInvalidConfig, ErrCategoryConfig, "invalid_config"},
	}

	for _, tt := range tests {
		t.Run(tt.code, func(t *testing.T) {
			if tt.err.Category != tt.category {
				t.Errorf("Category = %s, want %s", tt.err.Category, tt.category)
			}
			if tt.err.Code != tt.code {
				t.Errorf("Code = %s, want %s", tt.err.Code, tt.code)
			}
			if tt.err.Message == "" {
				t.Error("Message should not be empty")
			}
		})
	}
}

func TestNewExecutionError(t *testing.T) {
	err := NewExecutionError(ErrCategoryResource, "custom_error", "custom message")

	if err.Category != ErrCategoryResource {
		t.Errorf("Category = %s, want %s", err.Category, ErrCategoryResource)
	}
	if err.Code != "custom_error" {
		t.Errorf("Code = %s, want 'custom_error'", err.Code)
	}
	if err.Message != "custom message" {
		t.Errorf("Message = %s, want 'custom message'", err.Message)
	}
}

func TestExecutionError_ErrorsIs(t *testing.T) {
	cause := errors.New("root cause")
	err := ErrBootTimeout.WithCause(cause)

	if !errors.Is(err, cause) {
		t.Error("errors.Is() should find the cause")
	}
}

func TestExecutionError_IsMatchesByCode(t *testing.T) {
	err := fmt.Errorf("step 3: %w", ErrParse.WithCause(errors.New("bad token")))

	if !errors.Is(err, ErrParse) {
		t.Error("errors.Is() should match a wrapped copy by code")
	}
	if errors.Is(err, ErrConnection) {
		t.Error("errors.Is() should not match a different code")
	}
}

func TestCategoryOf(t *testing.T) {
	if got := CategoryOf(errors.New("plain")); got != ErrCategoryNone {
		t.Errorf("CategoryOf(plain) = %s, want none", got)
	}
	wrapped := fmt.Errorf("boot: %w", ErrRetryExhausted)
	if got := CategoryOf(wrapped); got != ErrCategoryBoot {
		t.Errorf("CategoryOf(wrapped) = %s, want boot", got)
	}
}

func TestIsFatal(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"parse", ErrParse, false},
		{"out of range", ErrOutOfRange, false},
		{"retry exhausted", ErrRetryExhausted, true},
		{"resource", ErrResourceNotFound.WithMessage("missing script"), true},
		{"connection", fmt.Errorf("connect: %w", ErrConnection), true},
		{"plain", errors.New("boom"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := IsFatal(tt.err); got != tt.want {
				t.Errorf("IsFatal(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
