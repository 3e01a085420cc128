package errors

import (
	"context"
	"errors"
	"fmt"
)

// Wrap wraps an error with additional context while preserving the error chain.
// If err is nil, Wrap returns nil.
// If err is already a structured Error, its properties are preserved.
// Otherwise a new Internal error wrapping the original is created.
func Wrap(err error, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}

	// If it's already a structured error, preserve its properties
	var protoErr *Error
	if errors.As(err, &protoErr) {
		wrapped := &Error{
			code:      protoErr.code,
			category:  protoErr.category,
			message:   message,
			cause:     err,
			metadata:  protoErr.Metadata(),
			retryable: protoErr.retryable,
			sessionID: protoErr.sessionID,
			subject:   protoErr.subject,
		}
		for _, opt := range opts {
			opt(wrapped)
		}
		return wrapped
	}

	// Check for context errors
	if errors.Is(err, context.DeadlineExceeded) {
		return New(ErrCodeTimeout, message, append(opts, WithCause(err))...)
	}
	if errors.Is(err, context.Canceled) {
		return New(ErrCodeCanceled, message, append(opts, WithCause(err))...)
	}

	// Default to internal error for unknown errors
	return New(ErrCodeInternal, message, append(opts, WithCause(err))...)
}

// Wrapf wraps an error with a formatted message.
func Wrapf(err error, format string, args ...interface{}) *Error {
	return Wrap(err, fmt.Sprintf(format, args...))
}

// WrapWithCode wraps an error with a specific error code.
func WrapWithCode(err error, code ErrorCode, message string, opts ...Option) *Error {
	if err == nil {
		return nil
	}
	opts = append(opts, WithCause(err))
	return New(code, message, opts...)
}

// AsProtocolError attempts to extract a structured error from an error chain.
// Returns nil if none is found.
func AsProtocolError(err error) ProtocolError {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr
	}
	return nil
}

// Is checks if any error in the chain has the given error code.
func Is(err error, code ErrorCode) bool {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr.code == code
	}
	return false
}

// Code returns the error code of the first structured error in the chain,
// or ErrCodeInternal for unstructured errors.
func Code(err error) ErrorCode {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr.code
	}
	return ErrCodeInternal
}

// IsCategory checks if any error in the chain has the given category.
func IsCategory(err error, category ErrorCategory) bool {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr.category == category
	}
	return false
}

// IsRetryable checks if the error is retryable.
func IsRetryable(err error) bool {
	var protoErr *Error
	if errors.As(err, &protoErr) {
		return protoErr.Retryable()
	}
	// Default to not retryable for unstructured errors
	return false
}

// IsTransient checks if the error is transient.
func IsTransient(err error) bool {
	return IsCategory(err, CategoryTransient)
}

// IsPermanent checks if the error is permanent.
func IsPermanent(err error) bool {
	return IsCategory(err, CategoryPermanent)
}
