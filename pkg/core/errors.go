package core

import (
	"errors"
	"fmt"
)

// ExecutionError represents a structured error with category and details
type ExecutionError struct {
	Category ErrorCategory
	Code     string                 // Machine-readable code: boot_failure, parse_error, etc.
	Message  string                 // Human-readable message
	Details  map[string]interface{} // Additional context
	Cause    error                  // Underlying error
}

// Error implements the error interface
func (e *ExecutionError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Cause)
	}
	return e.Message
}

// Unwrap returns the underlying error for errors.Is/As support
func (e *ExecutionError) Unwrap() error {
	return e.Cause
}

// Is matches another ExecutionError by code, so wrapped copies of a
// predefined error still satisfy errors.Is against the original.
func (e *ExecutionError) Is(target error) bool {
	t, ok := target.(*ExecutionError)
	if !ok {
		return false
	}
	return t.Code != "" && t.Code == e.Code
}

// WithCause returns a copy of the error with the given cause
func (e *ExecutionError) WithCause(cause error) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  e.Details,
		Cause:    cause,
	}
}

// WithMessage returns a copy of the error with a custom message
func (e *ExecutionError) WithMessage(msg string) *ExecutionError {
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  msg,
		Details:  e.Details,
		Cause:    e.Cause,
	}
}

// WithDetails returns a copy of the error with additional details
func (e *ExecutionError) WithDetails(details map[string]interface{}) *ExecutionError {
	merged := make(map[string]interface{})
	for k, v := range e.Details {
		merged[k] = v
	}
	for k, v := range details {
		merged[k] = v
	}
	return &ExecutionError{
		Category: e.Category,
		Code:     e.Code,
		Message:  e.Message,
		Details:  merged,
		Cause:    e.Cause,
	}
}

// Predefined errors
var (
	// Device bridge errors
	ErrConnection = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "connection_failed",
		Message:  "device bridge handshake failed",
	}
	ErrDeviceDisconnected = &ExecutionError{
		Category: ErrCategoryConnection,
		Code:     "device_disconnected",
		Message:  "device connection lost",
	}

	// Emulator lifecycle errors
	ErrBootFailure = &ExecutionError{
		Category: ErrCategoryBoot,
		Code:     "boot_failure",
		Message:  "emulator failed to boot",
	}
	ErrBootTimeout = &ExecutionError{
		Category: ErrCategoryTimeout,
		Code:     "boot_timeout",
		Message:  "emulator boot exceeded hard ceiling",
	}
	ErrRetryExhausted = &ExecutionError{
		Category: ErrCategoryBoot,
		Code:     "retry_exhausted",
		Message:  "emulator start attempts exhausted",
	}
	ErrSpawnFailed = &ExecutionError{
		Category: ErrCategoryBoot,
		Code:     "spawn_failed",
		Message:  "failed to start emulator process",
	}

	// Action errors
	ErrParse = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "parse_error",
		Message:  "malformed action",
	}
	ErrOutOfRange = &ExecutionError{
		Category: ErrCategoryValidation,
		Code:     "out_of_range",
		Message:  "normalized coordinate outside [0,1]",
	}
	ErrUnsupportedKey = &ExecutionError{
		Category: ErrCategoryValidation,
		Code:     "unsupported_key",
		Message:  "unsupported key",
	}

	// Episode errors
	ErrInvalidState = &ExecutionError{
		Category: ErrCategoryValidation,
		Code:     "invalid_state",
		Message:  "operation not allowed in current state",
	}
	ErrAgentStalled = &ExecutionError{
		Category: ErrCategoryParse,
		Code:     "agent_stalled",
		Message:  "agent produced no valid action within the attempt budget",
	}

	// Resource errors
	ErrResourceNotFound = &ExecutionError{
		Category: ErrCategoryResource,
		Code:     "resource_not_found",
		Message:  "resource not found",
	}

	// Config errors
	ErrInvalidConfig = &ExecutionError{
		Category: ErrCategoryConfig,
		Code:     "invalid_config",
		Message:  "invalid configuration",
	}
)

// NewExecutionError creates a new ExecutionError with the given parameters
func NewExecutionError(category ErrorCategory, code, message string) *ExecutionError {
	return &ExecutionError{
		Category: category,
		Code:     code,
		Message:  message,
	}
}

// CategoryOf returns the category of the first ExecutionError in err's chain.
func CategoryOf(err error) ErrorCategory {
	var ee *ExecutionError
	if errors.As(err, &ee) {
		return ee.Category
	}
	return ErrCategoryNone
}

// IsFatal reports whether err must abort the current instruction.
// Parse and validation errors never are; exhausted retries, lost
// resources and broken connections are.
func IsFatal(err error) bool {
	if err == nil {
		return false
	}
	switch CategoryOf(err) {
	case ErrCategoryParse, ErrCategoryValidation:
		return false
	default:
		return true
	}
}
