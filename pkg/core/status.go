package core

// ErrorCategory classifies the type of error for better debugging and reporting
type ErrorCategory int

const (
	ErrCategoryNone       ErrorCategory = iota // No error
	ErrCategoryConnection                      // Device bridge handshake or link lost
	ErrCategoryBoot                            // Emulator failed to boot or spawn
	ErrCategoryTimeout                         // Operation exceeded a hard ceiling
	ErrCategoryParse                           // Malformed or unrecognized action
	ErrCategoryResource                        // Expected file or binary missing
	ErrCategoryValidation                      // Caller passed out-of-domain input
	ErrCategoryConfig                          // Invalid configuration
)

// String returns the string representation of ErrorCategory
func (c ErrorCategory) String() string {
	switch c {
	case ErrCategoryNone:
		return "none"
	case ErrCategoryConnection:
		return "connection"
	case ErrCategoryBoot:
		return "boot"
	case ErrCategoryTimeout:
		return "timeout"
	case ErrCategoryParse:
		return "parse"
	case ErrCategoryResource:
		return "resource"
	case ErrCategoryValidation:
		return "validation"
	case ErrCategoryConfig:
		return "config"
	default:
		return "unknown"
	}
}
