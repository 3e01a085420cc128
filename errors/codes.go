package errors

// ErrorCategory classifies errors by their nature and retry semantics.
type ErrorCategory string

// Error categories define how errors should be handled.
const (
	// CategoryTransient indicates temporary failures where retry may succeed.
	// Examples: network timeouts, temporary provider unavailability.
	CategoryTransient ErrorCategory = "transient"

	// CategoryPermanent indicates failures where retry will not help.
	// Examples: invalid input, unknown session, handler conflicts.
	CategoryPermanent ErrorCategory = "permanent"

	// CategoryResource indicates resource exhaustion or quota issues.
	// Examples: provider rate limiting, queue capacity exceeded.
	CategoryResource ErrorCategory = "resource"

	// CategoryInternal indicates unexpected errors, bugs, or system failures.
	// Examples: recovered panics, invariant violations.
	CategoryInternal ErrorCategory = "internal"
)

// String returns the string representation of the category.
func (c ErrorCategory) String() string {
	return string(c)
}

// IsRetryable returns true if errors in this category may succeed on retry.
func (c ErrorCategory) IsRetryable() bool {
	switch c {
	case CategoryTransient, CategoryResource:
		return true
	default:
		return false
	}
}

// ErrorCode identifies specific error types within categories.
type ErrorCode string

// Error codes for protocol and session failures.
const (
	// Bus errors
	ErrCodeUnknownHandler   ErrorCode = "UNKNOWN_HANDLER"   // Request names no registered handler
	ErrCodeHandlerConflict  ErrorCode = "HANDLER_CONFLICT"  // Handler name already registered
	ErrCodeTransportClosed  ErrorCode = "TRANSPORT_CLOSED"  // Transport closed before settlement
	ErrCodeHandlerExecution ErrorCode = "HANDLER_EXECUTION" // Handler returned an error

	// Session errors
	ErrCodeSessionClosed   ErrorCode = "SESSION_CLOSED"    // Operation on a closed session
	ErrCodeSessionNotFound ErrorCode = "SESSION_NOT_FOUND" // Resume of an unknown session id
	ErrCodeSendFailed      ErrorCode = "SEND_FAILED"       // Top-level send failed to complete

	// Transient errors
	ErrCodeTimeout     ErrorCode = "TIMEOUT"     // Operation timed out
	ErrCodeUnavailable ErrorCode = "UNAVAILABLE" // Service temporarily unavailable

	// Permanent errors
	ErrCodeNotFound     ErrorCode = "NOT_FOUND"     // Resource does not exist
	ErrCodeConflict     ErrorCode = "CONFLICT"      // Conflicting operation or state
	ErrCodeInvalidInput ErrorCode = "INVALID_INPUT" // Malformed or invalid input
	ErrCodeCanceled     ErrorCode = "CANCELED"      // Operation was canceled

	// Resource errors
	ErrCodeRateLimit ErrorCode = "RATE_LIMITED" // Rate limit exceeded

	// Internal errors
	ErrCodeInternal ErrorCode = "INTERNAL" // Unexpected internal error
	ErrCodePanic    ErrorCode = "PANIC"    // Recovered from panic
)

// descriptions maps error codes to default human-readable messages.
var descriptions = map[ErrorCode]string{
	ErrCodeUnknownHandler:   "no handler registered for request name",
	ErrCodeHandlerConflict:  "handler already registered for name",
	ErrCodeTransportClosed:  "transport closed",
	ErrCodeHandlerExecution: "handler execution failed",
	ErrCodeSessionClosed:    "session is closed",
	ErrCodeSessionNotFound:  "session not found",
	ErrCodeSendFailed:       "send failed",
	ErrCodeTimeout:          "operation timed out",
	ErrCodeUnavailable:      "service unavailable",
	ErrCodeNotFound:         "resource not found",
	ErrCodeConflict:         "conflicting operation or state",
	ErrCodeInvalidInput:     "invalid input",
	ErrCodeCanceled:         "operation canceled",
	ErrCodeRateLimit:        "rate limit exceeded",
	ErrCodeInternal:         "internal error",
	ErrCodePanic:            "recovered from panic",
}

// String returns the string representation of the error code.
func (c ErrorCode) String() string {
	return string(c)
}

// Description returns the default message for an error code.
func (c ErrorCode) Description() string {
	if d, ok := descriptions[c]; ok {
		return d
	}
	return "unknown error"
}

// DefaultCategory returns the default category for an error code.
func (c ErrorCode) DefaultCategory() ErrorCategory {
	switch c {
	// Transient
	case ErrCodeTimeout, ErrCodeUnavailable:
		return CategoryTransient

	// Permanent
	case ErrCodeUnknownHandler, ErrCodeHandlerConflict, ErrCodeTransportClosed,
		ErrCodeSessionClosed, ErrCodeSessionNotFound, ErrCodeSendFailed,
		ErrCodeNotFound, ErrCodeConflict, ErrCodeInvalidInput, ErrCodeCanceled:
		return CategoryPermanent

	// Resource
	case ErrCodeRateLimit:
		return CategoryResource

	// Internal
	case ErrCodeHandlerExecution, ErrCodeInternal, ErrCodePanic:
		return CategoryInternal

	default:
		return CategoryInternal
	}
}

// DefaultRetryable returns whether this error code is typically retryable.
func (c ErrorCode) DefaultRetryable() bool {
	return c.DefaultCategory().IsRetryable()
}
