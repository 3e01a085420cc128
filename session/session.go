package session

import (
	"context"
	"encoding/json"
	"sync"

	"github.com/google/uuid"

	"github.com/agentwire/agentwire/bus"
	agenterrors "github.com/agentwire/agentwire/errors"
	"github.com/agentwire/agentwire/logging"
	"github.com/agentwire/agentwire/protocol"
)

// Options configure session construction.
type Options struct {
	// Model and CWD are forwarded with each send.
	Model string
	CWD   string

	Logger *logging.Logger
}

// Session is the consumer-side façade over one bridge session. It
// tracks the causal cursor for sends and delivers the event stream as
// ordered Items.
type Session struct {
	bus *bus.Bus
	id  string
	log *logging.Logger

	model string
	cwd   string

	mu     sync.Mutex
	cursor *string
	seen   map[string]struct{}
	closed bool

	queue *queue
	subs  []*bus.Subscription
}

// Initialize creates a fresh session on the bridge reachable over b.
// The session's first received item is the system message.
func Initialize(ctx context.Context, b *bus.Bus, opts Options) (*Session, error) {
	res, err := initialize(ctx, b, "")
	if err != nil {
		return nil, err
	}
	return newSession(b, res, opts), nil
}

// Resume attaches to an existing session. It validates synchronously:
// an id the bridge never saw fails with session-not-found before any
// session object is returned. History is not replayed; the cursor picks
// up at the last persisted message.
func Resume(ctx context.Context, b *bus.Bus, sessionID string, opts Options) (*Session, error) {
	res, err := initialize(ctx, b, sessionID)
	if err != nil {
		return nil, err
	}

	raw, err := b.Request(ctx, protocol.MethodList, &protocol.ListParams{SessionID: res.SessionID})
	if err != nil {
		return nil, err
	}
	var list protocol.ListResult
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, agenterrors.Wrap(err, "invalid list result")
	}

	if !res.Resumed && len(list.Messages) == 0 {
		return nil, agenterrors.Newf(agenterrors.ErrCodeSessionNotFound,
			"session %s not found", sessionID)
	}

	s := newSession(b, res, opts)
	if n := len(list.Messages); n > 0 {
		last := list.Messages[n-1].UUID
		s.cursor = &last
		// Already-persisted messages must not re-arrive as live events.
		for _, msg := range list.Messages {
			s.seen[msg.UUID] = struct{}{}
		}
	}
	return s, nil
}

func initialize(ctx context.Context, b *bus.Bus, sessionID string) (*protocol.InitializeResult, error) {
	raw, err := b.Request(ctx, protocol.MethodInitialize, &protocol.InitializeParams{SessionID: sessionID})
	if err != nil {
		return nil, err
	}
	var res protocol.InitializeResult
	if err := json.Unmarshal(raw, &res); err != nil {
		return nil, agenterrors.Wrap(err, "invalid initialize result")
	}
	return &res, nil
}

func newSession(b *bus.Bus, res *protocol.InitializeResult, opts Options) *Session {
	log := opts.Logger
	if log == nil {
		log = logging.Default()
	}

	s := &Session{
		bus:   b,
		id:    res.SessionID,
		log:   log.WithComponent("session").WithSession(res.SessionID),
		model: opts.Model,
		cwd:   opts.CWD,
		seen:  make(map[string]struct{}),
		queue: newQueue(),
	}

	system := res.System
	s.queue.push(Item{Type: ItemSystem, System: &system})

	s.subs = append(s.subs,
		b.OnEvent(protocol.EventMessage, s.onMessage),
		b.OnEvent(protocol.EventProgress, s.onProgress),
		b.OnEvent(protocol.EventDone, s.onDone),
	)
	return s
}

// ID returns the session id.
func (s *Session) ID() string {
	return s.id
}

// Send issues one user message. The uuid is chosen here and the cursor
// advances before return, so a fast-follow Send chains off this one
// whether or not the bridge has answered yet. The request settles in
// the background; its failure surfaces as an error result item.
func (s *Session) Send(content string) (string, error) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return "", agenterrors.FromCode(agenterrors.ErrCodeSessionClosed,
			agenterrors.WithSessionID(s.id))
	}
	id := uuid.NewString()
	parent := s.cursor
	s.cursor = &id
	s.mu.Unlock()

	params := &protocol.SendParams{
		SessionID:  s.id,
		UUID:       id,
		ParentUUID: parent,
		Message:    content,
		CWD:        s.cwd,
		Model:      s.model,
	}

	go func() {
		if _, err := s.bus.Request(context.Background(), protocol.MethodSend, params); err != nil {
			s.log.Warn("send rejected", map[string]interface{}{"uuid": id, "error": err.Error()})
			s.queue.push(Item{Type: ItemResult, Result: &protocol.ResultMessage{
				SessionID: s.id,
				IsError:   true,
				Result:    err.Error(),
			}})
		}
	}()

	return id, nil
}

// Receive returns the session's item stream. Items arrive in emission
// order; the channel blocks when nothing is pending and closes when the
// session closes.
func (s *Session) Receive() <-chan Item {
	return s.queue.out
}

// Close tears down the session: subscriptions first, so nothing settles
// into the stream afterwards, then the bus and its transport. The
// receive channel ends without error. Close is idempotent, and
// subsequent Sends fail with the closed-session error.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.mu.Unlock()

	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	err := s.bus.Close()
	s.queue.close()
	return err
}

func (s *Session) onMessage(raw json.RawMessage) {
	var ev protocol.MessageEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.log.Warn("bad message event", map[string]interface{}{"error": err.Error()})
		return
	}
	if ev.SessionID != s.id {
		return
	}
	if !s.markSeen(ev.Message.UUID) {
		return
	}
	msg := ev.Message
	s.queue.push(Item{Type: ItemMessage, Message: &msg})
}

func (s *Session) onProgress(raw json.RawMessage) {
	var p protocol.AgentProgress
	if err := json.Unmarshal(raw, &p); err != nil {
		s.log.Warn("bad progress event", map[string]interface{}{"error": err.Error()})
		return
	}
	if p.SessionID != s.id {
		return
	}
	if p.Message != nil && !s.markSeen(p.Message.UUID) {
		return
	}
	s.queue.push(Item{Type: ItemProgress, Progress: &p})
}

func (s *Session) onDone(raw json.RawMessage) {
	var ev protocol.DoneEvent
	if err := json.Unmarshal(raw, &ev); err != nil {
		s.log.Warn("bad done event", map[string]interface{}{"error": err.Error()})
		return
	}
	if ev.SessionID != s.id {
		return
	}
	result := ev.Result
	s.queue.push(Item{Type: ItemResult, Result: &result})
}

// markSeen records a message uuid, reporting false on duplicates.
func (s *Session) markSeen(uuid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, dup := s.seen[uuid]; dup {
		return false
	}
	s.seen[uuid] = struct{}{}
	return true
}
