package history

import (
	"sort"
	"sync"
	"sync/atomic"

	"github.com/agentwire/agentwire/protocol"
)

// MemoryStore implements Store with in-memory append-ordered chains.
// Durability of the persisted log is out of scope; this store exists to
// give the bridge its single authority over chain order within a process.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string]*sessionChain
	closed   atomic.Bool
}

type sessionChain struct {
	messages []protocol.Message
	uuids    map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string]*sessionChain),
	}
}

// EnsureSession registers a session id, creating it if unknown.
func (s *MemoryStore) EnsureSession(sessionID string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.sessions[sessionID]; ok {
		return false, nil
	}
	s.sessions[sessionID] = &sessionChain{uuids: make(map[string]struct{})}
	return true, nil
}

// HasSession reports whether the session id was previously configured.
func (s *MemoryStore) HasSession(sessionID string) (bool, error) {
	if s.closed.Load() {
		return false, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.sessions[sessionID]
	return ok, nil
}

// Append adds a message to its session's chain, enforcing the tree
// invariant: a non-nil parent must already be in the same session.
func (s *MemoryStore) Append(msg protocol.Message) error {
	if s.closed.Load() {
		return ErrClosed
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if msg.SessionID == "" {
		return ErrSessionMismatch
	}
	chain, ok := s.sessions[msg.SessionID]
	if !ok {
		return ErrSessionNotFound
	}
	if _, dup := chain.uuids[msg.UUID]; dup {
		return ErrDuplicateUUID
	}
	if msg.ParentUUID != nil {
		if _, known := chain.uuids[*msg.ParentUUID]; !known {
			return ErrUnknownParent
		}
	}

	chain.messages = append(chain.messages, msg)
	chain.uuids[msg.UUID] = struct{}{}
	return nil
}

// List returns the session's messages in append order.
func (s *MemoryStore) List(sessionID string) ([]protocol.Message, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}

	out := make([]protocol.Message, len(chain.messages))
	copy(out, chain.messages)
	return out, nil
}

// LastUUID returns the uuid of the most recently appended message.
func (s *MemoryStore) LastUUID(sessionID string) (*string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	chain, ok := s.sessions[sessionID]
	if !ok {
		return nil, ErrSessionNotFound
	}
	if len(chain.messages) == 0 {
		return nil, nil
	}
	last := chain.messages[len(chain.messages)-1].UUID
	return &last, nil
}

// Sessions returns all configured session ids, sorted for stable output.
func (s *MemoryStore) Sessions() ([]string, error) {
	if s.closed.Load() {
		return nil, ErrClosed
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	ids := make([]string, 0, len(s.sessions))
	for id := range s.sessions {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids, nil
}

// Close marks the store closed.
func (s *MemoryStore) Close() error {
	s.closed.Store(true)
	return nil
}
