package protocol

// Request names handled by the bridge.
const (
	MethodInitialize = "session.initialize"
	MethodSend       = "session.send"
	MethodList       = "session.messages.list"
)

// Push event names emitted by the bridge.
const (
	EventMessage  = "message"
	EventDone     = "session.done"
	EventProgress = "agent.progress"
)

// InitializeParams are the params for session.initialize. An empty
// SessionID requests a fresh session; a non-empty one is adopted, resumed
// if previously known.
type InitializeParams struct {
	SessionID string `json:"sessionId,omitempty"`
}

// InitializeResult is the response to session.initialize. Resumed is true
// iff the session id was previously configured on the bridge.
type InitializeResult struct {
	SessionID string        `json:"sessionId"`
	Resumed   bool          `json:"resumed"`
	System    SystemMessage `json:"system"`
}

// SendParams are the params for session.send. UUID and ParentUUID are
// chosen by the caller so fast-follow sends can chain off the caller's
// own last issued uuid.
type SendParams struct {
	SessionID  string  `json:"sessionId"`
	UUID       string  `json:"uuid"`
	ParentUUID *string `json:"parentUuid"`
	Message    string  `json:"message"`
	CWD        string  `json:"cwd,omitempty"`
	Model      string  `json:"model,omitempty"`
}

// SendAck is the immediate response to session.send. It acknowledges
// hand-off only; the authoritative completion signal is the session.done
// event.
type SendAck struct {
	SessionID string `json:"sessionId"`
	UUID      string `json:"uuid"`
	Queued    bool   `json:"queued"` // true if a prior send is still running
}

// ListParams are the params for session.messages.list.
type ListParams struct {
	SessionID string `json:"sessionId"`
}

// ListResult carries the ordered causal chain for a session, empty if the
// session is new. Doubles as the existence check for resume.
type ListResult struct {
	Messages []Message `json:"messages"`
}

// DoneEvent is the payload of the session.done push event.
type DoneEvent struct {
	SessionID string        `json:"sessionId"`
	Result    ResultMessage `json:"result"`
}

// MessageEvent is the payload of the message push event.
type MessageEvent struct {
	SessionID string  `json:"sessionId"`
	Message   Message `json:"message"`
}
