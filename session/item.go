package session

import "github.com/agentwire/agentwire/protocol"

// Item types yielded by Receive. The discriminator is exhaustive: a
// consumer switching on Type handles every item the session can yield.
const (
	ItemSystem   = "system"
	ItemMessage  = "message"
	ItemProgress = "agent_progress"
	ItemResult   = "result"
)

// Item is one element of the session's receive stream. Type selects
// which payload field is set.
type Item struct {
	Type string `json:"type"`

	System   *protocol.SystemMessage `json:"system,omitempty"`
	Message  *protocol.Message       `json:"message,omitempty"`
	Progress *protocol.AgentProgress `json:"progress,omitempty"`
	Result   *protocol.ResultMessage `json:"result,omitempty"`
}
