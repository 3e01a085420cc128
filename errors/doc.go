// Package errors provides structured error handling for agentwire.
//
// # Overview
//
// All failures that can cross the session protocol boundary carry a stable
// ErrorCode and an ErrorCategory. Codes identify the specific failure
// (UNKNOWN_HANDLER, TRANSPORT_CLOSED, SESSION_NOT_FOUND, ...) while
// categories drive retry decisions (transient, permanent, resource,
// internal). Errors marshal to JSON so a failure-response frame on the bus
// preserves the full structure end to end.
//
// # Usage
//
// Create errors with a code:
//
//	err := errors.New(errors.ErrCodeSessionNotFound, "no session abc123")
//	err := errors.FromCode(errors.ErrCodeTransportClosed)
//
// Wrap external errors while preserving structure:
//
//	if err := store.Append(msg); err != nil {
//	    return errors.Wrap(err, "persisting message")
//	}
//
// Inspect errors by code or category:
//
//	if errors.Is(err, errors.ErrCodeTransportClosed) { ... }
//	if errors.IsRetryable(err) { ... }
//
// # Thread Safety
//
// Error values are immutable after construction and safe for concurrent use.
package errors
