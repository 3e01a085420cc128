package history

import (
	"errors"

	"github.com/agentwire/agentwire/protocol"
)

// Common errors.
var (
	ErrSessionNotFound = errors.New("session not found")
	ErrClosed          = errors.New("store closed")
	ErrDuplicateUUID   = errors.New("duplicate message uuid")
	ErrUnknownParent   = errors.New("parent uuid not in session")
	ErrSessionMismatch = errors.New("message session does not match")
)

// Store is the engine-side authority over persisted causal chains. The
// bridge is its sole writer; consumers see the chain only through
// session.messages.list.
type Store interface {
	// EnsureSession registers a session id, creating it if unknown.
	// Returns true if the session was created by this call.
	EnsureSession(sessionID string) (created bool, err error)

	// HasSession reports whether the session id was previously configured.
	HasSession(sessionID string) (bool, error)

	// Append adds a message to its session's chain. The message's parent,
	// when non-nil, must already be in the same session, and its uuid
	// must be new.
	Append(msg protocol.Message) error

	// List returns the session's messages in append order, empty for a
	// new session.
	List(sessionID string) ([]protocol.Message, error)

	// LastUUID returns the uuid of the most recently appended message,
	// or nil for an existing empty session.
	LastUUID(sessionID string) (*string, error)

	// Sessions returns all configured session ids.
	Sessions() ([]string, error)

	// Close releases store resources.
	Close() error
}
